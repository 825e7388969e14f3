package store

import (
	"encoding/json"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
	"gorm.io/datatypes"
)

type sourceRow struct {
	ID              string `gorm:"primaryKey"`
	Type            string `gorm:"index"`
	Address         string
	Name            string
	Enabled         bool
	IntervalSeconds int64
	Cursor          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (sourceRow) TableName() string { return "sources" }

type recordRow struct {
	ID            string `gorm:"primaryKey"`
	SourceID      string `gorm:"index:idx_record_source_hash,priority:1"`
	SourceType    string `gorm:"index"`
	NativeID      string
	Title         string
	URL           string
	Text          string
	ContentHash   string `gorm:"index:idx_record_source_hash,priority:2"`
	Collection    string
	EmbeddingRef  string
	DedupState    string `gorm:"index"`
	DuplicateOf   string
	ScoreState    string `gorm:"index"`
	ScoreValue    int
	DiscardReason string
	Rationale     string
	ScoredBy      string
	Attribution   datatypes.JSON
	PublishedAt   *time.Time
	FirstSeen     time.Time `gorm:"index"`
	LastMerged    *time.Time
	UpdatedAt     time.Time
}

func (recordRow) TableName() string { return "content_records" }

// recordColumns is the explicit select list for raw queries
var recordColumns = []string{
	"id", "source_id", "source_type", "native_id", "title", "url", "text", "content_hash",
	"collection", "embedding_ref", "dedup_state", "duplicate_of", "score_state", "score_value",
	"discard_reason", "rationale", "scored_by", "attribution", "published_at", "first_seen",
	"last_merged", "updated_at",
}

type attemptRow struct {
	ID         string `gorm:"primaryKey"`
	RecordID   string `gorm:"index"`
	Provider   string `gorm:"index"`
	Model      string
	Outcome    string
	LatencyMS  int64
	TokensUsed int
	Error      string
	At         time.Time
}

func (attemptRow) TableName() string { return "score_attempts" }

func toSourceRow(s model.SourceConfig) sourceRow {
	return sourceRow{
		ID:              s.ID,
		Type:            string(s.Type),
		Address:         s.Address,
		Name:            s.Name,
		Enabled:         s.Enabled,
		IntervalSeconds: int64(s.Interval / time.Second),
		Cursor:          s.Cursor,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (r sourceRow) toModel() model.SourceConfig {
	return model.SourceConfig{
		ID:        r.ID,
		Type:      model.SourceType(r.Type),
		Address:   r.Address,
		Name:      r.Name,
		Enabled:   r.Enabled,
		Interval:  time.Duration(r.IntervalSeconds) * time.Second,
		Cursor:    r.Cursor,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toRecordRow(rec model.ContentRecord) (recordRow, error) {
	attribution, err := json.Marshal(rec.Attribution)
	if err != nil {
		return recordRow{}, err
	}
	return recordRow{
		ID:            rec.ID,
		SourceID:      rec.SourceID,
		SourceType:    string(rec.SourceType),
		NativeID:      rec.NativeID,
		Title:         rec.Title,
		URL:           rec.URL,
		Text:          rec.Text,
		ContentHash:   rec.ContentHash,
		Collection:    rec.Collection,
		EmbeddingRef:  rec.EmbeddingRef,
		DedupState:    string(rec.Dedup),
		DuplicateOf:   rec.DuplicateOf,
		ScoreState:    string(rec.Score),
		ScoreValue:    rec.ScoreValue,
		DiscardReason: rec.DiscardReason,
		Rationale:     rec.Rationale,
		ScoredBy:      rec.ScoredBy,
		Attribution:   datatypes.JSON(attribution),
		PublishedAt:   optionalTime(rec.PublishedAt),
		FirstSeen:     rec.FirstSeen.UTC(),
		LastMerged:    optionalTime(rec.LastMerged),
		UpdatedAt:     rec.UpdatedAt.UTC(),
	}, nil
}

func (r recordRow) toModel() model.ContentRecord {
	var attribution []string
	if len(r.Attribution) > 0 {
		_ = json.Unmarshal(r.Attribution, &attribution)
	}
	rec := model.ContentRecord{
		ID:            r.ID,
		SourceID:      r.SourceID,
		SourceType:    model.SourceType(r.SourceType),
		NativeID:      r.NativeID,
		Title:         r.Title,
		URL:           r.URL,
		Text:          r.Text,
		ContentHash:   r.ContentHash,
		Collection:    r.Collection,
		EmbeddingRef:  r.EmbeddingRef,
		Dedup:         model.DedupState(r.DedupState),
		DuplicateOf:   r.DuplicateOf,
		Score:         model.ScoreState(r.ScoreState),
		ScoreValue:    r.ScoreValue,
		DiscardReason: r.DiscardReason,
		Rationale:     r.Rationale,
		ScoredBy:      r.ScoredBy,
		Attribution:   attribution,
		FirstSeen:     r.FirstSeen,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.PublishedAt != nil {
		rec.PublishedAt = *r.PublishedAt
	}
	if r.LastMerged != nil {
		rec.LastMerged = *r.LastMerged
	}
	return rec
}

func toAttemptRow(a model.ScoreAttempt) attemptRow {
	return attemptRow{
		ID:         a.ID,
		RecordID:   a.RecordID,
		Provider:   a.Provider,
		Model:      a.Model,
		Outcome:    string(a.Outcome),
		LatencyMS:  a.Latency.Milliseconds(),
		TokensUsed: a.TokensUsed,
		Error:      a.Error,
		At:         a.At.UTC(),
	}
}

func (r attemptRow) toModel() model.ScoreAttempt {
	return model.ScoreAttempt{
		ID:         r.ID,
		RecordID:   r.RecordID,
		Provider:   r.Provider,
		Model:      r.Model,
		Outcome:    model.AttemptOutcome(r.Outcome),
		Latency:    time.Duration(r.LatencyMS) * time.Millisecond,
		TokensUsed: r.TokensUsed,
		Error:      r.Error,
		At:         r.At,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
