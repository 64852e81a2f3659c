package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/voxmeter/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars(t)

			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, "127.0.0.1:9480")
				convey.So(cfg.AnonymousMinutes, convey.ShouldEqual, 5.0)
				convey.So(cfg.Plans["pro"], convey.ShouldEqual, 300.0)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("VOXMETER_ADDR", ":8080")
			t.Setenv("VOXMETER_TRIAL_MINUTES", "15")
			t.Setenv("VOXMETER_SYNC_QUEUE_SIZE", "64")
			t.Setenv("VOXMETER_STORE_BACKEND", "memory")

			cfg, err := config.Load()

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.TrialMinutes, convey.ShouldEqual, 15.0)
				convey.So(cfg.SyncQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendMemory)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			clearConfigEnvVars(t)
			path := writeConfigFile(t, `
addr: ":9090"
anonymous_minutes: 3
plans:
  studio: 900
authority_url: "http://authority.local"
`)
			t.Setenv("VOXMETER_CONFIG", path)
			t.Setenv("VOXMETER_ADDR", ":8181")

			cfg, err := config.Load()

			convey.Convey("Then env wins over the file and the file wins over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8181")
				convey.So(cfg.AnonymousMinutes, convey.ShouldEqual, 3.0)
				convey.So(cfg.AuthorityURL, convey.ShouldEqual, "http://authority.local")
				convey.So(cfg.TrialMinutes, convey.ShouldEqual, 10.0)
			})

			convey.Convey("Then the plan table is replaced, not merged", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Plans, convey.ShouldHaveLength, 1)
				convey.So(cfg.Plans["studio"], convey.ShouldEqual, 900.0)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			clearConfigEnvVars(t)
			t.Setenv("VOXMETER_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))

			cfg, err := config.Load()

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			clearConfigEnvVars(t)
			t.Setenv("VOXMETER_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an invalid backend", func() {
			clearConfigEnvVars(t)
			t.Setenv("VOXMETER_STORE_BACKEND", "etcd")

			cfg, err := config.Load()

			convey.Convey("Then it should return a validation error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("VOXMETER_SYNC_WORKER_COUNT", "not_a_number")

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxmeter.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearConfigEnvVars unsets every VOXMETER_ variable for the duration of the test.
func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "VOXMETER_") {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}
