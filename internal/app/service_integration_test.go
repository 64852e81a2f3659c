package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/voxmeter/internal/app"
	"github.com/okian/voxmeter/internal/domain/admission"
	"github.com/okian/voxmeter/internal/domain/model"
)

type countingCapture struct{ released atomic.Int32 }

func (c *countingCapture) Release() error {
	c.released.Add(1)
	return nil
}

func TestLiveRecording(t *testing.T) {
	Convey("Given a guest with three seconds left", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc, clock := newService(t, service.WithRecordingTick(time.Second))
		ic, err := svc.ResolveCaller(ctx, model.Principal{}, signals())
		So(err, ShouldBeNil)
		_, err = svc.RecordCompletedUsage(ctx, ic, 297, "upload", "")
		So(err, ShouldBeNil)

		capture := &countingCapture{}
		info, err := svc.StartRecording(ctx, ic, capture)
		So(err, ShouldBeNil)
		So(info.State, ShouldEqual, admission.StateRunning)
		So(info.LimitSeconds, ShouldEqual, 3.0)

		Convey("When the limit is reached", func() {
			for i := 0; i < 3; i++ {
				clock.Advance(time.Second).MustWait(ctx)
			}

			Convey("Then the recording stops itself and bills the limit once", func() {
				st, err := svc.RecordingStatus(ctx, ic, info.ID)
				So(err, ShouldBeNil)
				So(st.State, ShouldEqual, admission.StateStopped)
				So(st.StopCause, ShouldEqual, admission.CauseQuota)
				So(capture.released.Load(), ShouldEqual, int32(1))

				done, err := svc.FinishRecording(ctx, ic, info.ID)
				So(err, ShouldBeNil)
				So(done.Event, ShouldNotBeNil)
				So(done.Event.DurationSeconds, ShouldEqual, 3.0)
				So(done.Event.SourceLabel, ShouldEqual, model.RecordingLabel)
				So(capture.released.Load(), ShouldEqual, int32(1))

				q, _ := svc.RemainingQuota(ctx, ic)
				So(q.RemainingMinutes, ShouldEqual, 0.0)

				_, err = svc.RecordingStatus(ctx, ic, info.ID)
				So(err, ShouldEqual, service.ErrRecordingNotFound)
			})
		})

		Convey("When the user pauses and finishes early", func() {
			clock.Advance(time.Second).MustWait(ctx)
			paused, err := svc.PauseRecording(ctx, ic, info.ID)
			So(err, ShouldBeNil)
			So(paused.State, ShouldEqual, admission.StatePaused)
			resumed, err := svc.ResumeRecording(ctx, ic, info.ID)
			So(err, ShouldBeNil)
			So(resumed.State, ShouldEqual, admission.StateRunning)
			done, err := svc.FinishRecording(ctx, ic, info.ID)

			Convey("Then only the elapsed second is billed", func() {
				So(err, ShouldBeNil)
				So(done.StopCause, ShouldEqual, admission.CauseUser)
				So(done.Event.DurationSeconds, ShouldEqual, 1.0)
				q, _ := svc.RemainingQuota(ctx, ic)
				So(q.ConsumedMinutes, ShouldAlmostEqual, 298.0/60, 1e-9)
			})
		})

		Convey("When an upload arrives while the recording holds the last seconds", func() {
			d, q, err := svc.CheckAdmission(ctx, ic, 0.05)

			Convey("Then it is refused until the recording ends", func() {
				So(err, ShouldBeNil)
				So(d.Allowed, ShouldBeFalse)
				So(q.ReservedMinutes, ShouldEqual, 0.05)
				done, err := svc.FinishRecording(ctx, ic, info.ID)
				So(err, ShouldBeNil)
				So(done.Event, ShouldBeNil)
				d, q, err = svc.CheckAdmission(ctx, ic, 0.05)
				So(err, ShouldBeNil)
				So(d.Allowed, ShouldBeTrue)
				So(q.ReservedMinutes, ShouldEqual, 0.0)
			})
		})

		Convey("When another identity asks for the recording", func() {
			other := model.IdentityContext{Key: "guest:someone-else", Class: model.ClassAnonymous}
			_, err := svc.RecordingStatus(ctx, other, info.ID)

			Convey("Then it is not found", func() {
				So(err, ShouldEqual, service.ErrRecordingNotFound)
				_, err := svc.FinishRecording(ctx, ic, info.ID)
				So(err, ShouldBeNil)
			})
		})

		Convey("When the service stops mid-recording", func() {
			clock.Advance(time.Second).MustWait(ctx)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then the captured time is billed", func() {
				So(capture.released.Load(), ShouldEqual, int32(1))
				q, _ := svc.RemainingQuota(ctx, ic)
				So(q.ConsumedMinutes, ShouldAlmostEqual, 298.0/60, 1e-9)
			})
		})
	})

	Convey("Given a guest with no quota left", t, func() {
		ctx := context.Background()
		svc, _ := newService(t)
		ic, err := svc.ResolveCaller(ctx, model.Principal{}, signals())
		So(err, ShouldBeNil)
		_, err = svc.RecordCompletedUsage(ctx, ic, 300, "upload", "")
		So(err, ShouldBeNil)

		Convey("When a recording is requested", func() {
			capture := &countingCapture{}
			_, err := svc.StartRecording(ctx, ic, capture)

			Convey("Then it is refused and the capture released", func() {
				So(errors.Is(err, admission.ErrQuotaExhausted), ShouldBeTrue)
				So(capture.released.Load(), ShouldEqual, int32(1))
			})
		})
	})
}

func TestBackgroundSync(t *testing.T) {
	Convey("Given a started service with reconciliation enabled", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rc := newFakeReconciler()
		rc.set(model.ServerUsage{ConsumedSeconds: 60}, nil)
		svc, _ := newService(t, service.WithReconciler(rc), service.WithWorkerCount(1))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		ic, err := svc.ResolveCaller(ctx, model.Principal{}, signals())
		So(err, ShouldBeNil)

		Convey("When usage is recorded", func() {
			_, err := svc.RecordCompletedUsage(ctx, ic, 60, "upload", "sync-1")
			So(err, ShouldBeNil)

			Convey("Then a worker reports it to the authority", func() {
				var snap model.UsageSnapshot
				select {
				case snap = <-rc.reports:
				case <-ctx.Done():
				}
				So(snap.IdentityKey, ShouldEqual, ic.Key)
				So(snap.ConsumedSeconds, ShouldEqual, 60.0)
				So(snap.EventCount, ShouldEqual, 1)
			})
		})
	})
}

func TestRecordingRetention(t *testing.T) {
	Convey("Given a recording that stops on its own", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc, clock := newService(t,
			service.WithRecordingTick(time.Second),
			service.WithRecordingRetention(time.Minute),
		)
		ic, err := svc.ResolveCaller(ctx, model.Principal{}, signals())
		So(err, ShouldBeNil)
		_, err = svc.RecordCompletedUsage(ctx, ic, 298, "upload", "")
		So(err, ShouldBeNil)
		info, err := svc.StartRecording(ctx, ic, &countingCapture{})
		So(err, ShouldBeNil)
		for i := 0; i < 2; i++ {
			clock.Advance(time.Second).MustWait(ctx)
		}

		Convey("When nobody collects it", func() {
			kept, err := svc.RecordingStatus(ctx, ic, info.ID)
			So(err, ShouldBeNil)
			clock.Advance(time.Minute).MustWait(ctx)

			Convey("Then it is forgotten after the retention period", func() {
				So(kept.State, ShouldEqual, admission.StateStopped)
				So(kept.Event, ShouldNotBeNil)
				_, err := svc.RecordingStatus(ctx, ic, info.ID)
				So(err, ShouldEqual, service.ErrRecordingNotFound)
				So(svc.GetStats()["recordingsActive"], ShouldEqual, 0)
			})
		})
	})
}

func TestRestart(t *testing.T) {
	Convey("Given a service that was started and stopped", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rc := newFakeReconciler()
		rc.set(model.ServerUsage{ConsumedSeconds: 30}, nil)
		svc, _ := newService(t, service.WithReconciler(rc))
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.Stop(ctx), ShouldBeNil)

		Convey("When it is started again and usage is recorded", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()
			ic, err := svc.ResolveCaller(ctx, model.Principal{}, signals())
			So(err, ShouldBeNil)
			_, err = svc.RecordCompletedUsage(ctx, ic, 30, "upload", "restart-1")
			So(err, ShouldBeNil)

			Convey("Then the new workers still reach the authority", func() {
				var snap model.UsageSnapshot
				select {
				case snap = <-rc.reports:
				case <-ctx.Done():
				}
				So(snap.IdentityKey, ShouldEqual, ic.Key)
				So(snap.DeltaSeconds, ShouldEqual, 30.0)
				So(svc.GetStats()["started"], ShouldEqual, true)
			})
		})
	})
}
