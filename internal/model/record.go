package model

import (
	"fmt"
	"time"
)

// DedupState tracks where a record is in duplicate resolution
type DedupState string

const (
	DedupPending   DedupState = "pending"   // embedded/queried not yet finished
	DedupUnique    DedupState = "unique"    // no neighbor above threshold
	DedupDuplicate DedupState = "duplicate" // see ContentRecord.DuplicateOf
)

// ScoreState tracks where a record is in credibility scoring
type ScoreState string

const (
	ScoreUnscored  ScoreState = "unscored"
	ScoreScored    ScoreState = "scored"
	ScoreDiscarded ScoreState = "discard"
	ScoreExhausted ScoreState = "exhausted" // every provider failed or was skipped
)

// DiscardHype is the discard reason for items scored below the acceptance threshold
const DiscardHype = "hype"

// ContentRecord is the persisted unit of curated content.
// Only the pipeline orchestrator moves a record between states.
type ContentRecord struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	SourceType  SourceType `json:"source_type"`
	NativeID    string     `json:"native_id"`
	Title       string     `json:"title,omitempty"`
	URL         string     `json:"url,omitempty"`
	Text        string     `json:"text"`
	ContentHash string     `json:"content_hash"`

	Collection   string `json:"collection,omitempty"`    // vector index collection
	EmbeddingRef string `json:"embedding_ref,omitempty"` // vector id inside Collection

	Dedup       DedupState `json:"dedup_state"`
	DuplicateOf string     `json:"duplicate_of,omitempty"`

	Score         ScoreState `json:"score_state"`
	ScoreValue    int        `json:"score,omitempty"`
	DiscardReason string     `json:"discard_reason,omitempty"`
	Rationale     string     `json:"rationale,omitempty"`
	ScoredBy      string     `json:"scored_by,omitempty"`

	Attribution []string `json:"attribution,omitempty"` // every source that published this content

	PublishedAt time.Time `json:"published_at,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastMerged  time.Time `json:"last_merged,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DedupLabel renders the dedup state as unique, pending or duplicate-of:<id>
func (r ContentRecord) DedupLabel() string {
	if r.Dedup == DedupDuplicate {
		return "duplicate-of:" + r.DuplicateOf
	}
	return string(r.Dedup)
}

// ScoreLabel renders the score state as unscored, scored:<n>, discard:<reason> or exhausted
func (r ContentRecord) ScoreLabel() string {
	switch r.Score {
	case ScoreScored:
		return fmt.Sprintf("scored:%d", r.ScoreValue)
	case ScoreDiscarded:
		return "discard:" + r.DiscardReason
	default:
		return string(r.Score)
	}
}

// Served reports whether the record belongs in the curated feed
func (r ContentRecord) Served() bool {
	return r.Dedup == DedupUnique && r.Score == ScoreScored
}

// NeedsScoring reports whether the scoring sweep should pick the record up
func (r ContentRecord) NeedsScoring() bool {
	return r.Dedup == DedupUnique && (r.Score == ScoreUnscored || r.Score == ScoreExhausted)
}

// Clone returns a copy that shares no slices with r
func (r ContentRecord) Clone() ContentRecord {
	out := r
	if r.Attribution != nil {
		out.Attribution = append([]string(nil), r.Attribution...)
	}
	return out
}

// AddAttribution records that sourceID also published this content.
// Returns false when the source was already attributed.
func (r *ContentRecord) AddAttribution(sourceID string) bool {
	for _, id := range r.Attribution {
		if id == sourceID {
			return false
		}
	}
	r.Attribution = append(r.Attribution, sourceID)
	return true
}
