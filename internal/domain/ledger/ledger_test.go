package ledger_test

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/domain/ledger"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newLedger(t *testing.T) (*ledger.Ledger, *quartz.Mock) {
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	l := ledger.New(repository.NewMemoryStore(),
		ledger.WithClock(clock),
		ledger.WithLocation(time.UTC),
	)
	return l, clock
}

func TestRecordAndConsume(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty ledger", t, func() {
		l, clock := newLedger(t)

		Convey("When three events of 60s, 90s and 30s are recorded", func() {
			for _, s := range []float64{60, 90, 30} {
				_, err := l.RecordUsage(ctx, "guest:a", model.ClassAnonymous, s, "upload")
				So(err, ShouldBeNil)
				clock.Advance(time.Minute)
			}

			Convey("Then consumption is exactly 180 seconds", func() {
				seconds, err := l.Consumed(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(seconds, ShouldEqual, 180.0)

				minutes, err := l.ConsumedMinutes(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(minutes, ShouldEqual, 3.0)
			})

			Convey("Then the 7 day breakdown places all of it under today", func() {
				days, err := l.DailyBreakdown(ctx, "guest:a", 7)
				So(err, ShouldBeNil)
				So(days, ShouldHaveLength, 7)
				So(days[0].Date, ShouldEqual, "2026-03-04")
				So(days[6].Date, ShouldEqual, "2026-03-10")
				So(days[6].TotalSeconds, ShouldEqual, 180.0)
				So(days[6].SourceLabels, ShouldResemble, []string{"upload"})
				for _, d := range days[:6] {
					So(d.TotalSeconds, ShouldEqual, 0.0)
					So(d.SourceLabels, ShouldBeEmpty)
				}
			})

			Convey("Then other identities are unaffected", func() {
				seconds, err := l.Consumed(ctx, "guest:b")
				So(err, ShouldBeNil)
				So(seconds, ShouldEqual, 0.0)
			})
		})

		Convey("When consumption is read after every append", func() {
			prev := 0.0
			monotonic := true
			for _, s := range []float64{0, 12.5, 0.1, 0.2, 300, 0} {
				_, err := l.RecordUsage(ctx, "guest:a", model.ClassTrial, s, "recording")
				So(err, ShouldBeNil)
				now, err := l.Consumed(ctx, "guest:a")
				So(err, ShouldBeNil)
				if now < prev {
					monotonic = false
				}
				prev = now
			}

			Convey("Then it never decreases", func() {
				So(monotonic, ShouldBeTrue)
				So(prev, ShouldEqual, 312.8)
			})
		})

		Convey("When invalid durations are recorded", func() {
			for _, s := range []float64{-1, math.NaN(), math.Inf(1)} {
				_, err := l.RecordUsage(ctx, "guest:a", model.ClassAnonymous, s, "upload")
				So(errors.Is(err, ledger.ErrInvalidDuration), ShouldBeTrue)
			}

			Convey("Then nothing is appended", func() {
				events, err := l.Events(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
			})
		})

		Convey("When the identity key is empty", func() {
			_, err := l.RecordUsage(ctx, " ", model.ClassAnonymous, 1, "upload")
			So(errors.Is(err, ledger.ErrEmptyIdentity), ShouldBeTrue)
		})

		Convey("When optional fields are attached", func() {
			ev, err := l.RecordUsage(ctx, "guest:a", model.ClassPaid, 5, "upload",
				ledger.WithOperationID("op-1"), ledger.WithBytes(2048), ledger.WithOutputChars(40))
			So(err, ShouldBeNil)

			Convey("Then the event carries them", func() {
				So(ev.ID, ShouldNotBeEmpty)
				So(ev.OperationID, ShouldEqual, "op-1")
				So(ev.Bytes, ShouldEqual, 2048)
				So(ev.OutputChars, ShouldEqual, 40)
				So(ev.OccurredAt.Equal(clock.Now()), ShouldBeTrue)
			})
		})
	})
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()

	Convey("Given local consumption of 2 minutes", t, func() {
		l, _ := newLedger(t)
		_, err := l.RecordUsage(ctx, "guest:a", model.ClassAnonymous, 120, "upload")
		So(err, ShouldBeNil)

		Convey("When the authority asserts 4 minutes", func() {
			_, err := l.Checkpoint(ctx, "guest:a", 240, model.SourceReconciliation)
			So(err, ShouldBeNil)

			Convey("Then consumption reflects 4 minutes, not 2", func() {
				minutes, err := l.ConsumedMinutes(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(minutes, ShouldEqual, 4.0)
			})

			Convey("And later usage accumulates on top of the checkpoint", func() {
				_, err := l.RecordUsage(ctx, "guest:a", model.ClassAnonymous, 30, "upload")
				So(err, ShouldBeNil)
				seconds, err := l.Consumed(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(seconds, ShouldEqual, 270.0)
			})

			Convey("And the snapshot counts only usage events", func() {
				snap, err := l.Snapshot(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(snap.ConsumedSeconds, ShouldEqual, 240.0)
				So(snap.EventCount, ShouldEqual, 1)
				So(snap.LastEventAt.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When a negative checkpoint is asserted", func() {
			_, err := l.Checkpoint(ctx, "guest:a", -5, model.SourceOverride)
			So(errors.Is(err, ledger.ErrInvalidDuration), ShouldBeTrue)
		})
	})
}

func TestRebase(t *testing.T) {
	ctx := context.Background()

	Convey("Given a snapshot taken at 120 seconds", t, func() {
		l, _ := newLedger(t)
		_, err := l.RecordUsage(ctx, "guest:a", model.ClassAnonymous, 120, "upload")
		So(err, ShouldBeNil)

		Convey("When usage lands before the authority answers 240", func() {
			_, err := l.RecordUsage(ctx, "guest:a", model.ClassAnonymous, 30, "upload")
			So(err, ShouldBeNil)
			applied, total, err := l.Rebase(ctx, "guest:a", 120, 240, model.SourceReconciliation)

			Convey("Then the in-flight usage is kept on top", func() {
				So(err, ShouldBeNil)
				So(applied, ShouldBeTrue)
				So(total, ShouldEqual, 270.0)
				seconds, err := l.Consumed(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(seconds, ShouldEqual, 270.0)
			})
		})

		Convey("When the authority agrees", func() {
			applied, total, err := l.Rebase(ctx, "guest:a", 120, 120, model.SourceReconciliation)

			Convey("Then no checkpoint is written", func() {
				So(err, ShouldBeNil)
				So(applied, ShouldBeFalse)
				So(total, ShouldEqual, 120.0)
			})
		})

		Convey("When usage races the rebase", func() {
			const writers = 20
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = l.RecordUsage(ctx, "guest:a", model.ClassAnonymous, 30, "upload")
				}()
			}
			_, _, err := l.Rebase(ctx, "guest:a", 120, 600, model.SourceReconciliation)
			wg.Wait()

			Convey("Then no event is lost whichever side of the checkpoint it lands", func() {
				So(err, ShouldBeNil)
				seconds, err := l.Consumed(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(seconds, ShouldEqual, 600.0+writers*30)
			})
		})

		Convey("When the server total is invalid", func() {
			_, _, err := l.Rebase(ctx, "guest:a", 120, math.NaN(), model.SourceReconciliation)
			So(errors.Is(err, ledger.ErrInvalidDuration), ShouldBeTrue)
		})
	})
}

func TestDailyBreakdown(t *testing.T) {
	ctx := context.Background()

	Convey("Given usage spread over several days", t, func() {
		l, clock := newLedger(t)
		_, _ = l.RecordUsage(ctx, "guest:a", model.ClassTrial, 10, "upload")
		clock.Advance(24 * time.Hour)
		_, _ = l.RecordUsage(ctx, "guest:a", model.ClassTrial, 20, "recording")
		_, _ = l.RecordUsage(ctx, "guest:a", model.ClassTrial, 5, "upload")

		Convey("When asking for a one day window", func() {
			days, err := l.DailyBreakdown(ctx, "guest:a", 1)
			So(err, ShouldBeNil)

			Convey("Then only today is returned with sorted labels", func() {
				So(days, ShouldHaveLength, 1)
				So(days[0].Date, ShouldEqual, "2026-03-11")
				So(days[0].TotalSeconds, ShouldEqual, 25.0)
				So(days[0].SourceLabels, ShouldResemble, []string{"recording", "upload"})
			})
		})

		Convey("When asking for a two day window", func() {
			days, err := l.DailyBreakdown(ctx, "guest:a", 2)
			So(err, ShouldBeNil)
			So(days[0].TotalSeconds, ShouldEqual, 10.0)
			So(days[1].TotalSeconds, ShouldEqual, 25.0)
		})

		Convey("When the window is zero", func() {
			_, err := l.DailyBreakdown(ctx, "guest:a", 0)
			So(errors.Is(err, ledger.ErrInvalidWindow), ShouldBeTrue)
		})
	})

	Convey("Given a ledger in a non-UTC location", t, func() {
		loc := time.FixedZone("UTC+9", 9*3600)
		clock := quartz.NewMock(t)
		clock.Set(time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)) // 05:00 on the 11th locally
		l := ledger.New(repository.NewMemoryStore(), ledger.WithClock(clock), ledger.WithLocation(loc))
		_, _ = l.RecordUsage(ctx, "guest:a", model.ClassTrial, 15, "upload")

		Convey("Then days follow the local calendar", func() {
			days, err := l.DailyBreakdown(ctx, "guest:a", 1)
			So(err, ShouldBeNil)
			So(days[0].Date, ShouldEqual, "2026-03-11")
			So(days[0].TotalSeconds, ShouldEqual, 15.0)
		})
	})
}

func TestClear(t *testing.T) {
	ctx := context.Background()

	Convey("Given two identities with usage", t, func() {
		l, _ := newLedger(t)
		_, _ = l.RecordUsage(ctx, "guest:a", model.ClassTrial, 10, "upload")
		_, _ = l.RecordUsage(ctx, "guest:b", model.ClassTrial, 20, "upload")

		Convey("When one identity is cleared twice", func() {
			So(l.Clear(ctx, "guest:a"), ShouldBeNil)
			So(l.Clear(ctx, "guest:a"), ShouldBeNil)

			Convey("Then only that identity is reset", func() {
				a, _ := l.Consumed(ctx, "guest:a")
				b, _ := l.Consumed(ctx, "guest:b")
				So(a, ShouldEqual, 0.0)
				So(b, ShouldEqual, 20.0)
			})
		})

		Convey("When everything is cleared", func() {
			So(l.ClearAll(ctx), ShouldBeNil)
			So(l.ClearAll(ctx), ShouldBeNil)

			Convey("Then no identities remain", func() {
				ids, err := l.Identities(ctx)
				So(err, ShouldBeNil)
				So(ids, ShouldBeEmpty)
			})
		})
	})
}
