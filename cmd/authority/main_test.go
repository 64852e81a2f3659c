package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/domain/registry"
	"github.com/okian/voxmeter/pkg/logger"
)

func TestAuthorityHandler(t *testing.T) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		t.Fatal(err)
	}

	convey.Convey("Given the authority handler over a sqlite registry", t, func() {
		ctx := context.Background()
		store, err := repository.OpenSQLite(ctx, t.TempDir(), repository.WithFileName(registryFileName))
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = store.Close() }()
		h := newHandler(ctx, registry.New(store))

		convey.Convey("When the same account reports twice", func() {
			post := func(seconds, delta string) *httptest.ResponseRecorder {
				w := httptest.NewRecorder()
				body := `{"identity_key":"user:u1","account_key":"user:u1","consumed_seconds":` + seconds + `,"delta_seconds":` + delta + `}`
				h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/reconcile", strings.NewReader(body)))
				return w
			}
			first := post("300", "0")
			second := post("60", "60")

			convey.Convey("Then the second device's delta adds to the account", func() {
				convey.So(first.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(second.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(second.Body.String(), convey.ShouldContainSubstring, `"consumed_seconds":360`)
				convey.So(second.Body.String(), convey.ShouldContainSubstring, `"matched_by":"account"`)
			})
		})
	})
}
