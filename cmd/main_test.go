package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/voxmeter/internal/app"
	"github.com/okian/voxmeter/internal/config"
	"github.com/okian/voxmeter/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When configuration comes from the environment", func() {
			t.Setenv("VOXMETER_ADDR", "127.0.0.1:9999")
			t.Setenv("VOXMETER_STORE_BACKEND", "memory")
			t.Setenv("VOXMETER_SYNC_WORKER_COUNT", "3")

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load()
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, "127.0.0.1:9999")
				convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendMemory)
				convey.So(cfg.SyncWorkerCount, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the configuration is invalid", func() {
			t.Setenv("VOXMETER_STORE_BACKEND", "tape")

			convey.Convey("Then loading fails", func() {
				cfg, err := config.Load()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given a service built from configuration", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cfg := config.New()
		cfg.StoreBackend = config.BackendSQLite
		cfg.DataDir = t.TempDir()
		cfg.Timezone = "UTC"

		store, err := service.OpenStore(ctx, cfg, "")
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = store.Close() }()

		opts, err := service.ConfigOptions(cfg)
		convey.So(err, convey.ShouldBeNil)
		svc := service.New(append(opts, service.WithStore(store))...)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		handler := newHandler(ctx, svc)

		convey.Convey("When the routes are called", func() {
			get := func(path string) *httptest.ResponseRecorder {
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
				return w
			}

			convey.Convey("Then the API and docs are served", func() {
				convey.So(get("/v1/quota").Code, convey.ShouldEqual, http.StatusOK)
				convey.So(get("/openapi.yaml").Code, convey.ShouldEqual, http.StatusOK)
				convey.So(get("/healthz").Code, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When service metrics are refreshed", func() {
			convey.Convey("Then nothing panics", func() {
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)

				short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
				defer stop()
				convey.So(func() { startServiceMetricsUpdater(short, svc) }, convey.ShouldNotPanic)
			})
		})
	})
}
