package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/voxmeter/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have the documented allotments", func() {
			convey.So(cfg.AnonymousMinutes, convey.ShouldEqual, 5.0)
			convey.So(cfg.TrialMinutes, convey.ShouldEqual, 10.0)
			convey.So(cfg.PaidDefaultMinutes, convey.ShouldEqual, 60.0)
			convey.So(cfg.MaxRecordingMinutes, convey.ShouldEqual, 10.0)
			convey.So(cfg.RecordingTick(), convey.ShouldEqual, time.Second)
			convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendSQLite)
		})

		convey.Convey("Then it should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with broken invariants", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":       func(c *config.Config) { c.Addr = "" },
			"unknown backend":  func(c *config.Config) { c.StoreBackend = "redis" },
			"negative plan":    func(c *config.Config) { c.Plans["pro"] = -1 },
			"zero tick":        func(c *config.Config) { c.RecordingTickMS = 0 },
			"zero workers":     func(c *config.Config) { c.SyncWorkerCount = 0 },
			"bad timezone":     func(c *config.Config) { c.Timezone = "Mars/Olympus" },
			"no recording cap": func(c *config.Config) { c.MaxRecordingMinutes = 0 },
		}
		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			_ = name
		}
	})

	convey.Convey("Given the memory backend with no data dir", t, func() {
		cfg := config.New()
		cfg.StoreBackend = config.BackendMemory
		cfg.DataDir = ""

		convey.Convey("Then validation passes", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a named timezone", t, func() {
		cfg := config.New()
		cfg.Timezone = "UTC"
		loc, err := cfg.Location()

		convey.So(err, convey.ShouldBeNil)
		convey.So(loc.String(), convey.ShouldEqual, "UTC")
	})
}
