package model

import (
	"testing"
	"time"
)

func TestContentRecord_Labels(t *testing.T) {
	tests := []struct {
		name      string
		rec       ContentRecord
		wantDedup string
		wantScore string
		served    bool
	}{
		{
			name:      "pending unscored",
			rec:       ContentRecord{Dedup: DedupPending, Score: ScoreUnscored},
			wantDedup: "pending",
			wantScore: "unscored",
		},
		{
			name:      "duplicate",
			rec:       ContentRecord{Dedup: DedupDuplicate, DuplicateOf: "abc", Score: ScoreUnscored},
			wantDedup: "duplicate-of:abc",
			wantScore: "unscored",
		},
		{
			name:      "scored unique",
			rec:       ContentRecord{Dedup: DedupUnique, Score: ScoreScored, ScoreValue: 7},
			wantDedup: "unique",
			wantScore: "scored:7",
			served:    true,
		},
		{
			name:      "discarded",
			rec:       ContentRecord{Dedup: DedupUnique, Score: ScoreDiscarded, DiscardReason: DiscardHype},
			wantDedup: "unique",
			wantScore: "discard:hype",
		},
		{
			name:      "exhausted",
			rec:       ContentRecord{Dedup: DedupUnique, Score: ScoreExhausted},
			wantDedup: "unique",
			wantScore: "exhausted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.DedupLabel(); got != tt.wantDedup {
				t.Errorf("DedupLabel() = %q, want %q", got, tt.wantDedup)
			}
			if got := tt.rec.ScoreLabel(); got != tt.wantScore {
				t.Errorf("ScoreLabel() = %q, want %q", got, tt.wantScore)
			}
			if got := tt.rec.Served(); got != tt.served {
				t.Errorf("Served() = %v, want %v", got, tt.served)
			}
		})
	}
}

func TestContentRecord_NeedsScoring(t *testing.T) {
	if (ContentRecord{Dedup: DedupDuplicate, Score: ScoreUnscored}).NeedsScoring() {
		t.Error("duplicates must never be scored")
	}
	if !(ContentRecord{Dedup: DedupUnique, Score: ScoreExhausted}).NeedsScoring() {
		t.Error("exhausted unique record should be re-scored")
	}
	if (ContentRecord{Dedup: DedupUnique, Score: ScoreScored}).NeedsScoring() {
		t.Error("scored record should not be re-scored")
	}
}

func TestContentRecord_CloneAndAttribution(t *testing.T) {
	rec := ContentRecord{ID: "r1", Attribution: []string{"a"}}
	clone := rec.Clone()

	if !clone.AddAttribution("b") {
		t.Fatal("expected b to be added")
	}
	if clone.AddAttribution("a") {
		t.Error("expected a to be rejected as already present")
	}
	if len(rec.Attribution) != 1 {
		t.Errorf("clone mutated original attribution: %v", rec.Attribution)
	}
}

func TestSourceConfig_Validate(t *testing.T) {
	valid := SourceConfig{ID: "s1", Type: SourceForumFeed, Address: "golang", Interval: time.Minute}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := valid
	bad.Type = "fax"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown type")
	}

	bad = valid
	bad.Interval = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestParseSourceType(t *testing.T) {
	for in, want := range map[string]SourceType{
		"rss":              SourceSyndicationFeed,
		"reddit":           SourceForumFeed,
		"telegram":         SourceChannelFeed,
		"syndication-feed": SourceSyndicationFeed,
	} {
		got, err := ParseSourceType(in)
		if err != nil {
			t.Fatalf("ParseSourceType(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseSourceType(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseSourceType("fax"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestProviderState_String(t *testing.T) {
	until := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := ProviderState{Phase: BreakerOpen, OpenUntil: until}
	if got := s.String(); got != "open-until:2025-01-02T03:04:05Z" {
		t.Errorf("String() = %q", got)
	}
	if got := (ProviderState{Phase: BreakerHalfOpen}).String(); got != "half-open" {
		t.Errorf("String() = %q", got)
	}
}
