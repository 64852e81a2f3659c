package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithLatencyBuckets([]float64{1, 10}),
				WithDurationBuckets([]float64{30, 60}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.duplicateOperations.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_duplicate_operations_total"], ShouldBeTrue)
			})
		})

		Convey("When empty options are supplied", func() {
			manager := NewManager(
				WithNamespace(""),
				WithLatencyBuckets(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, defaultNamespace)
				So(manager.latencyBuckets, ShouldNotBeEmpty)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording admission decisions", func() {
			before := value(globalManager.admissionDecisions.WithLabelValues("trial", "truncated"))
			RecordAdmission("trial", "truncated")
			RecordAdmission("trial", "truncated")

			Convey("Then the labelled counter increases", func() {
				after := value(globalManager.admissionDecisions.WithLabelValues("trial", "truncated"))
				So(after-before, ShouldEqual, 2.0)
			})
		})

		Convey("When recording usage", func() {
			before := value(globalManager.usageRecordedSecs.WithLabelValues("paid"))
			RecordUsage("paid", 90)

			Convey("Then seconds accumulate", func() {
				after := value(globalManager.usageRecordedSecs.WithLabelValues("paid"))
				So(after-before, ShouldEqual, 90.0)
			})
		})

		Convey("When recording truncations", func() {
			before := value(globalManager.truncations.WithLabelValues("imprecise"))
			RecordTruncation(false)
			RecordTruncation(true)

			Convey("Then precision is labelled", func() {
				So(value(globalManager.truncations.WithLabelValues("imprecise"))-before, ShouldEqual, 1.0)
			})
		})

		Convey("When updating gauges", func() {
			UpdateQueueSize(7)
			UpdateRecordingsActive(2)

			Convey("Then the gauges hold the latest value", func() {
				So(value(globalManager.queueSize), ShouldEqual, 7.0)
				So(value(globalManager.recordingsActive), ShouldEqual, 2.0)
			})
		})

		Convey("When calling the remaining recorders", func() {
			So(func() {
				RecordDuplicateOperation()
				RecordProbeFailure()
				ObserveRequestedDuration(42)
				RecordIdentityResolution("preferred")
				RecordRecordingStop("quota")
				RecordReconcile("success", 12)
				ObserveReconcileDrift(3)
				RecordAuthorityMatch("exact", "low")
				UpdateQueueCapacity(100)
				RecordQueueEnqueue()
				RecordQueueDrop("full")
				UpdateWorkerCount(2)
				RecordWorkerJobLatency(4)
				RecordWorkerError()
				RecordStoreWriteLatency(1)
				RecordStoreQueryLatency(1)
				RecordHTTPRequest("/v1/quota", "GET", "200", 3)
				RecordErrorByComponent("ledger", "append")
			}, ShouldNotPanic)

			Convey("Then the registry gathers cleanly", func() {
				_, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
			})
		})
	})
}

func value(c prometheus.Metric) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	return -1
}
