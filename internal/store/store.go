// Package store persists sources, content records and the scoring audit trail.
// All writes are idempotent upserts keyed by id.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// ErrNotFound is returned when a lookup by id matches nothing
var ErrNotFound = errors.New("not found")

// SourceStore holds SourceConfig rows
type SourceStore interface {
	ListSources(ctx context.Context) ([]model.SourceConfig, error)
	GetSource(ctx context.Context, id string) (model.SourceConfig, error)
	SaveSource(ctx context.Context, src model.SourceConfig) error
	UpdateCursor(ctx context.Context, id, cursor string) error
	// RemoveSource deletes an unreferenced source, or disables it when
	// content records still point at it. Returns true when soft-disabled.
	RemoveSource(ctx context.Context, id string) (bool, error)
}

// RecordStore holds ContentRecord rows
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (model.ContentRecord, error)
	FindByHash(ctx context.Context, sourceID, hash string) (model.ContentRecord, bool, error)
	SaveRecord(ctx context.Context, rec model.ContentRecord) error
	// ListForSweep returns records first seen before olderThan that are
	// either pending dedup or unique with an unfinished score.
	ListForSweep(ctx context.Context, olderThan time.Time, limit int) ([]model.ContentRecord, error)
	Feed(ctx context.Context, q FeedQuery) ([]model.ContentRecord, error)
}

// AttemptStore is the append-only scoring audit trail
type AttemptStore interface {
	RecordAttempt(ctx context.Context, a model.ScoreAttempt) error
	ListAttempts(ctx context.Context, recordID string) ([]model.ScoreAttempt, error)
}

// Store is everything the pipeline persists
type Store interface {
	SourceStore
	RecordStore
	AttemptStore
	Close() error
}

// FeedQuery filters the curated feed. Only served records are ever returned.
type FeedQuery struct {
	SourceType model.SourceType
	MinScore   int
	Since      time.Time
	Limit      int
}
