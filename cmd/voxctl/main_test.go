package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/voxmeter/internal/app"
	"github.com/okian/voxmeter/internal/config"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

// seed records usage into a fresh sqlite store and closes it again.
func seed(t *testing.T, dataDir string, usage map[string]float64) {
	t.Helper()
	ctx := context.Background()
	cfg := config.New()
	cfg.StoreBackend = config.BackendSQLite
	cfg.DataDir = dataDir

	store, err := service.OpenStore(ctx, cfg, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	svc := service.New(service.WithStore(store))
	for key, seconds := range usage {
		ic := model.IdentityContext{Key: key, Class: model.ClassAnonymous}
		if _, err := svc.RecordCompletedUsage(ctx, ic, seconds, "upload", ""); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}
}

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVoxctl(t *testing.T) {
	Convey("Given a data directory with recorded usage", t, func() {
		t.Setenv("VOXMETER_STORE_BACKEND", "sqlite")
		dir := t.TempDir()
		seed(t, dir, map[string]float64{"guest:abc": 120, "user:42": 30})

		Convey("When listing usage", func() {
			out, err := execute("--data-dir", dir, "usage")

			Convey("Then every identity is shown in minutes", func() {
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "guest:abc")
				So(out, ShouldContainSubstring, "2.00")
				So(out, ShouldContainSubstring, "user:42")
				So(out, ShouldContainSubstring, "0.50")
			})
		})

		Convey("When showing history", func() {
			out, err := execute("--data-dir", dir, "history", "guest:abc", "--days", "7")

			Convey("Then today's upload is listed", func() {
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "upload")
				So(out, ShouldContainSubstring, "2.00")
			})
		})

		Convey("When resetting one identity", func() {
			_, err := execute("--data-dir", dir, "reset", "guest:abc")
			So(err, ShouldBeNil)

			Convey("Then only that identity disappears", func() {
				out, err := execute("--data-dir", dir, "usage")
				So(err, ShouldBeNil)
				So(out, ShouldNotContainSubstring, "guest:abc")
				So(out, ShouldContainSubstring, "user:42")
			})
		})

		Convey("When resetting everything", func() {
			_, err := execute("--data-dir", dir, "reset-all")
			So(err, ShouldNotBeNil)

			_, err = execute("--data-dir", dir, "reset-all", "--yes")
			So(err, ShouldBeNil)

			Convey("Then no usage remains", func() {
				out, err := execute("--data-dir", dir, "usage")
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "No usage recorded")
			})
		})

		Convey("When overriding a quota", func() {
			_, err := execute("--data-dir", dir, "override", "user:42", "--total", "20", "--used", "7")
			So(err, ShouldBeNil)

			Convey("Then the override and checkpoint are listed", func() {
				out, err := execute("--data-dir", dir, "usage")
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "20.00")
				So(out, ShouldContainSubstring, "7.00")
			})

			Convey("Then it can be cleared", func() {
				_, err := execute("--data-dir", dir, "override", "user:42", "--clear")
				So(err, ShouldBeNil)
				out, err := execute("--data-dir", dir, "usage")
				So(err, ShouldBeNil)
				So(out, ShouldNotContainSubstring, "20.00")
			})
		})

		Convey("When override flags conflict", func() {
			_, err := execute("--data-dir", dir, "override", "user:42")
			So(err, ShouldNotBeNil)
			_, err = execute("--data-dir", dir, "override", "user:42", "--total", "5", "--clear")
			So(err, ShouldNotBeNil)
		})

		Convey("When wiping an identity", func() {
			out, err := execute("--data-dir", dir, "wipe", "user:42")

			Convey("Then its usage is gone", func() {
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "Wiped user:42")
				out, err := execute("--data-dir", dir, "usage")
				So(err, ShouldBeNil)
				So(out, ShouldNotContainSubstring, "user:42")
			})
		})
	})

	Convey("Given a memory backend", t, func() {
		t.Setenv("VOXMETER_STORE_BACKEND", "memory")

		Convey("Then commands refuse to run", func() {
			_, err := execute("usage")
			So(err, ShouldNotBeNil)
		})
	})
}
