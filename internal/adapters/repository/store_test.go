package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func usageEntry(key, id string, seconds float64) model.Entry {
	return model.Entry{Kind: model.KindUsage, Usage: &model.UsageEvent{
		ID:              id,
		OperationID:     "op-" + id,
		IdentityKey:     key,
		IdentityClass:   model.ClassTrial,
		OccurredAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		DurationSeconds: seconds,
		SourceLabel:     "upload",
		Bytes:           1024,
		OutputChars:     12,
	}}
}

func checkpointEntry(key, id string, seconds float64) model.Entry {
	return model.Entry{Kind: model.KindCheckpoint, Checkpoint: &model.Checkpoint{
		ID:              id,
		IdentityKey:     key,
		ConsumedSeconds: seconds,
		AsOf:            time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		Source:          model.SourceReconciliation,
	}}
}

func exerciseStore(t *testing.T, open func() repository.Store) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s := open()
		Reset(func() { _ = s.Close() })

		Convey("When reading a missing key", func() {
			_, err := s.Get(ctx, repository.KeyVisitorID)

			Convey("Then ErrNotFound is returned", func() {
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When a key is set, overwritten and deleted", func() {
			So(s.Set(ctx, repository.KeyVisitorID, "v1"), ShouldBeNil)
			So(s.Set(ctx, repository.KeyVisitorID, "v2"), ShouldBeNil)
			got, err := s.Get(ctx, repository.KeyVisitorID)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, "v2")

			So(s.Delete(ctx, repository.KeyVisitorID), ShouldBeNil)
			So(s.Delete(ctx, repository.KeyVisitorID), ShouldBeNil)
			_, err = s.Get(ctx, repository.KeyVisitorID)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("When entries are appended", func() {
			a, err := s.Append(ctx, usageEntry("guest:a", "01A", 60))
			So(err, ShouldBeNil)
			b, err := s.Append(ctx, checkpointEntry("guest:a", "01B", 240))
			So(err, ShouldBeNil)
			_, err = s.Append(ctx, usageEntry("guest:b", "01C", 30))
			So(err, ShouldBeNil)

			Convey("Then sequence numbers increase", func() {
				So(b.Seq, ShouldBeGreaterThan, a.Seq)
			})

			Convey("Then entries come back in order with their payloads", func() {
				entries, err := s.Entries(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].Kind, ShouldEqual, model.KindUsage)
				So(entries[0].Usage.DurationSeconds, ShouldEqual, 60.0)
				So(entries[0].Usage.OperationID, ShouldEqual, "op-01A")
				So(entries[0].Usage.IdentityClass, ShouldEqual, model.ClassTrial)
				So(entries[0].Usage.OccurredAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(entries[1].Kind, ShouldEqual, model.KindCheckpoint)
				So(entries[1].Checkpoint.ConsumedSeconds, ShouldEqual, 240.0)
				So(entries[1].Checkpoint.Source, ShouldEqual, model.SourceReconciliation)
			})

			Convey("Then identity keys are listed", func() {
				keys, err := s.IdentityKeys(ctx)
				So(err, ShouldBeNil)
				So(keys, ShouldResemble, []string{"guest:a", "guest:b"})
			})

			Convey("Then deleting one identity leaves the others", func() {
				So(s.DeleteIdentity(ctx, "guest:a"), ShouldBeNil)
				So(s.DeleteIdentity(ctx, "guest:a"), ShouldBeNil)
				entries, err := s.Entries(ctx, "guest:a")
				So(err, ShouldBeNil)
				So(entries, ShouldBeEmpty)
				entries, err = s.Entries(ctx, "guest:b")
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 1)
			})

			Convey("Then deleting all empties the log", func() {
				So(s.DeleteAll(ctx), ShouldBeNil)
				keys, err := s.IdentityKeys(ctx)
				So(err, ShouldBeNil)
				So(keys, ShouldBeEmpty)
			})
		})

		Convey("When a malformed entry is appended", func() {
			_, err := s.Append(ctx, model.Entry{Kind: model.KindUsage})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, repository.ErrInvalidEntry), ShouldBeTrue)
			})
		})

		Convey("When overrides are set and removed", func() {
			_, ok, err := s.Override(ctx, "guest:a")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			So(s.SetOverride(ctx, "guest:a", 30), ShouldBeNil)
			So(s.SetOverride(ctx, "guest:a", 45), ShouldBeNil)
			minutes, ok, err := s.Override(ctx, "guest:a")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(minutes, ShouldEqual, 45.0)

			So(s.DeleteOverride(ctx, "guest:a"), ShouldBeNil)
			_, ok, err = s.Override(ctx, "guest:a")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("When registry records are upserted", func() {
			rec := model.RegistryRecord{
				CanonicalID:     "c-1",
				VisitorID:       "v-1",
				Fingerprint:     "fp-1",
				Device:          model.DeviceSignals{UserAgent: "ua", Screen: "1920x1080"},
				ConsumedSeconds: 60,
				UpdatedAt:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			}
			So(s.PutRecord(ctx, rec), ShouldBeNil)
			rec.ConsumedSeconds = 120
			rec.LastReportID = "rep-2"
			So(s.PutRecord(ctx, rec), ShouldBeNil)

			Convey("Then the latest version is returned", func() {
				recs, err := s.Records(ctx)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				So(recs[0].ConsumedSeconds, ShouldEqual, 120.0)
				So(recs[0].LastReportID, ShouldEqual, "rep-2")
				So(recs[0].Device.Screen, ShouldEqual, "1920x1080")
				So(recs[0].AccountKey, ShouldEqual, "")
			})

			Convey("Then a record without id is rejected", func() {
				err := s.PutRecord(ctx, model.RegistryRecord{})
				So(errors.Is(err, repository.ErrInvalidEntry), ShouldBeTrue)
			})
		})
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, func() repository.Store { return repository.NewMemoryStore() })

	Convey("Given a closed memory store", t, func() {
		s := repository.NewMemoryStore()
		So(s.Close(), ShouldBeNil)

		Convey("Then operations fail with ErrClosed", func() {
			_, err := s.Entries(context.Background(), "guest:a")
			So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestSQLiteStore(t *testing.T) {
	n := 0
	exerciseStore(t, func() repository.Store {
		n++
		s, err := repository.OpenSQLite(context.Background(), t.TempDir(), repository.WithFileName(fmt.Sprintf("test-%d.db", n)))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return s
	})

	Convey("Given a data directory held by one store", t, func() {
		dir := t.TempDir()
		first, err := repository.OpenSQLite(context.Background(), dir)
		So(err, ShouldBeNil)
		Reset(func() { _ = first.Close() })

		Convey("When a second store opens the same directory", func() {
			_, err := repository.OpenSQLite(context.Background(), dir)

			Convey("Then it is refused", func() {
				So(errors.Is(err, repository.ErrLocked), ShouldBeTrue)
			})
		})

		Convey("When the first store is closed and reopened", func() {
			_, err := first.Append(context.Background(), usageEntry("guest:a", "01A", 90))
			So(err, ShouldBeNil)
			So(first.Close(), ShouldBeNil)

			second, err := repository.OpenSQLite(context.Background(), dir)
			So(err, ShouldBeNil)
			defer func() { _ = second.Close() }()

			Convey("Then the log survives", func() {
				entries, err := second.Entries(context.Background(), "guest:a")
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 1)
				So(entries[0].Usage.DurationSeconds, ShouldEqual, 90.0)
			})
		})
	})
}
