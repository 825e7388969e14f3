package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/ppiankov/sentinel/internal/model"
)

// storeFactories runs every contract test against each implementation
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := Open("sqlite", filepath.Join(t.TempDir(), "sentinel.db"), logging.Discard())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func record(id, sourceID string, firstSeen time.Time) model.ContentRecord {
	return model.ContentRecord{
		ID:          id,
		SourceID:    sourceID,
		SourceType:  model.SourceForumFeed,
		NativeID:    "n-" + id,
		Text:        "text " + id,
		ContentHash: "hash-" + id,
		Dedup:       model.DedupPending,
		Score:       model.ScoreUnscored,
		Attribution: []string{sourceID},
		FirstSeen:   firstSeen,
		UpdatedAt:   firstSeen,
	}
}

func TestStore_SourceLifecycle(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			src := model.SourceConfig{ID: "s1", Type: model.SourceForumFeed, Address: "golang", Name: "Go", Enabled: true, Interval: 15 * time.Minute}
			if err := s.SaveSource(ctx, src); err != nil {
				t.Fatalf("SaveSource: %v", err)
			}
			if err := s.UpdateCursor(ctx, "s1", "t3_abc"); err != nil {
				t.Fatalf("UpdateCursor: %v", err)
			}

			got, err := s.GetSource(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSource: %v", err)
			}
			if got.Cursor != "t3_abc" || got.Interval != 15*time.Minute || !got.Enabled {
				t.Errorf("unexpected source: %+v", got)
			}

			if _, err := s.GetSource(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if err := s.UpdateCursor(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound for cursor update, got %v", err)
			}

			// unreferenced source is deleted outright
			disabled, err := s.RemoveSource(ctx, "s1")
			if err != nil || disabled {
				t.Fatalf("RemoveSource = %v, %v; want hard delete", disabled, err)
			}
			if _, err := s.GetSource(ctx, "s1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected source gone, got %v", err)
			}
		})
	}
}

func TestStore_RemoveReferencedSourceSoftDisables(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_ = s.SaveSource(ctx, model.SourceConfig{ID: "s1", Type: model.SourceForumFeed, Address: "golang", Enabled: true, Interval: time.Minute})
			if err := s.SaveRecord(ctx, record("r1", "s1", time.Now())); err != nil {
				t.Fatalf("SaveRecord: %v", err)
			}

			disabled, err := s.RemoveSource(ctx, "s1")
			if err != nil {
				t.Fatalf("RemoveSource: %v", err)
			}
			if !disabled {
				t.Fatal("expected soft-disable for referenced source")
			}
			got, err := s.GetSource(ctx, "s1")
			if err != nil {
				t.Fatalf("source should still exist: %v", err)
			}
			if got.Enabled {
				t.Error("expected source to be disabled")
			}
		})
	}
}

func TestStore_SaveRecordIsIdempotent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			now := time.Now().UTC().Truncate(time.Second)

			rec := record("r1", "s1", now)
			for i := 0; i < 2; i++ {
				if err := s.SaveRecord(ctx, rec); err != nil {
					t.Fatalf("SaveRecord #%d: %v", i, err)
				}
			}

			rec.Dedup = model.DedupUnique
			rec.Score = model.ScoreScored
			rec.ScoreValue = 8
			rec.Attribution = append(rec.Attribution, "s2")
			rec.LastMerged = now.Add(time.Minute)
			if err := s.SaveRecord(ctx, rec); err != nil {
				t.Fatalf("SaveRecord update: %v", err)
			}

			got, err := s.GetRecord(ctx, "r1")
			if err != nil {
				t.Fatalf("GetRecord: %v", err)
			}
			if got.ScoreLabel() != "scored:8" || got.DedupLabel() != "unique" {
				t.Errorf("unexpected states: %s %s", got.DedupLabel(), got.ScoreLabel())
			}
			if diff := cmp.Diff([]string{"s1", "s2"}, got.Attribution); diff != "" {
				t.Errorf("attribution mismatch (-want +got):\n%s", diff)
			}
			if !got.LastMerged.Equal(now.Add(time.Minute)) {
				t.Errorf("LastMerged = %v", got.LastMerged)
			}

			found, ok, err := s.FindByHash(ctx, "s1", "hash-r1")
			if err != nil || !ok || found.ID != "r1" {
				t.Errorf("FindByHash = %v, %v, %v", found.ID, ok, err)
			}
			if _, ok, _ := s.FindByHash(ctx, "other", "hash-r1"); ok {
				t.Error("hash lookup must be scoped to the source")
			}
		})
	}
}

func TestStore_ListForSweep(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			old := time.Now().UTC().Add(-time.Hour)
			fresh := time.Now().UTC()

			pending := record("pending", "s1", old)
			exhausted := record("exhausted", "s1", old.Add(time.Second))
			exhausted.Dedup, exhausted.Score = model.DedupUnique, model.ScoreExhausted
			scored := record("scored", "s1", old)
			scored.Dedup, scored.Score, scored.ScoreValue = model.DedupUnique, model.ScoreScored, 6
			dup := record("dup", "s1", old)
			dup.Dedup, dup.DuplicateOf = model.DedupDuplicate, "scored"
			tooFresh := record("fresh", "s1", fresh)

			for _, r := range []model.ContentRecord{pending, exhausted, scored, dup, tooFresh} {
				if err := s.SaveRecord(ctx, r); err != nil {
					t.Fatal(err)
				}
			}

			got, err := s.ListForSweep(ctx, fresh.Add(-time.Minute), 10)
			if err != nil {
				t.Fatalf("ListForSweep: %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			if diff := cmp.Diff([]string{"pending", "exhausted"}, ids); diff != "" {
				t.Errorf("sweep mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_FeedOnlyServesScoredUnique(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			base := time.Now().UTC().Add(-time.Hour)

			high := record("high", "s1", base.Add(2*time.Minute))
			high.Dedup, high.Score, high.ScoreValue = model.DedupUnique, model.ScoreScored, 9
			low := record("low", "s1", base.Add(time.Minute))
			low.Dedup, low.Score, low.ScoreValue = model.DedupUnique, model.ScoreScored, 5
			hype := record("hype", "s1", base)
			hype.Dedup, hype.Score, hype.ScoreValue, hype.DiscardReason = model.DedupUnique, model.ScoreDiscarded, 2, model.DiscardHype
			dup := record("dup", "s1", base)
			dup.Dedup, dup.DuplicateOf = model.DedupDuplicate, "high"

			for _, r := range []model.ContentRecord{high, low, hype, dup} {
				if err := s.SaveRecord(ctx, r); err != nil {
					t.Fatal(err)
				}
			}

			got, err := s.Feed(ctx, FeedQuery{Limit: 10})
			if err != nil {
				t.Fatalf("Feed: %v", err)
			}
			var ids []string
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			if diff := cmp.Diff([]string{"high", "low"}, ids); diff != "" {
				t.Errorf("feed mismatch (-want +got):\n%s", diff)
			}

			got, err = s.Feed(ctx, FeedQuery{MinScore: 7})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0].ID != "high" {
				t.Errorf("expected only high with MinScore 7, got %d records", len(got))
			}
		})
	}
}

func TestStore_Attempts(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			at := time.Now().UTC()

			attempts := []model.ScoreAttempt{
				{ID: "a1", RecordID: "r1", Provider: "groq", Outcome: model.OutcomeTimeout, Latency: 2 * time.Second, At: at},
				{ID: "a2", RecordID: "r1", Provider: "openai", Outcome: model.OutcomeSuccess, TokensUsed: 120, At: at.Add(time.Second)},
				{ID: "a3", RecordID: "r2", Provider: "openai", Outcome: model.OutcomeSuccess, At: at},
			}
			for _, a := range attempts {
				if err := s.RecordAttempt(ctx, a); err != nil {
					t.Fatal(err)
				}
			}
			// replaying an attempt must not duplicate it
			_ = s.RecordAttempt(ctx, attempts[0])

			got, err := s.ListAttempts(ctx, "r1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 attempts, got %d", len(got))
			}
			if got[0].Provider != "groq" || got[0].Outcome != model.OutcomeTimeout {
				t.Errorf("unexpected first attempt: %+v", got[0])
			}
		})
	}
}

func TestRetry(t *testing.T) {
	origSleep := retrySleepFunc
	var slept []time.Duration
	retrySleepFunc = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	defer func() { retrySleepFunc = origSleep }()

	calls := 0
	err := Retry(context.Background(), 3, 10*time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if diff := cmp.Diff([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, slept); diff != "" {
		t.Errorf("backoff mismatch (-want +got):\n%s", diff)
	}

	boom := errors.New("boom")
	err = Retry(context.Background(), 2, time.Millisecond, func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped boom, got %v", err)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, time.Millisecond, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
