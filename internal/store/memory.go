package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// MemoryStore keeps everything in maps. Used by tests and single-shot CLI runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sources  map[string]model.SourceConfig
	records  map[string]model.ContentRecord
	attempts []model.ScoreAttempt
	now      func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[string]model.SourceConfig),
		records: make(map[string]model.ContentRecord),
		now:     time.Now,
	}
}

func (m *MemoryStore) ListSources(ctx context.Context) ([]model.SourceConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.SourceConfig, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetSource(ctx context.Context, id string) (model.SourceConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sources[id]
	if !ok {
		return model.SourceConfig{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) SaveSource(ctx context.Context, src model.SourceConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if existing, ok := m.sources[src.ID]; ok {
		src.CreatedAt = existing.CreatedAt
	} else if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	m.sources[src.ID] = src
	return nil
}

func (m *MemoryStore) UpdateCursor(ctx context.Context, id, cursor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sources[id]
	if !ok {
		return ErrNotFound
	}
	s.Cursor = cursor
	s.UpdatedAt = m.now().UTC()
	m.sources[id] = s
	return nil
}

func (m *MemoryStore) RemoveSource(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sources[id]
	if !ok {
		return false, ErrNotFound
	}
	for _, r := range m.records {
		if r.SourceID == id {
			s.Enabled = false
			s.UpdatedAt = m.now().UTC()
			m.sources[id] = s
			return true, nil
		}
	}
	delete(m.sources, id)
	return false, nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, id string) (model.ContentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return model.ContentRecord{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) FindByHash(ctx context.Context, sourceID, hash string) (model.ContentRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.SourceID == sourceID && r.ContentHash == hash {
			return r.Clone(), true, nil
		}
	}
	return model.ContentRecord{}, false, nil
}

func (m *MemoryStore) SaveRecord(ctx context.Context, rec model.ContentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryStore) ListForSweep(ctx context.Context, olderThan time.Time, limit int) ([]model.ContentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ContentRecord
	for _, r := range m.records {
		if !r.FirstSeen.Before(olderThan) {
			continue
		}
		if r.Dedup == model.DedupPending || r.NeedsScoring() {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Feed(ctx context.Context, q FeedQuery) ([]model.ContentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ContentRecord
	for _, r := range m.records {
		if !r.Served() {
			continue
		}
		if q.SourceType != "" && r.SourceType != q.SourceType {
			continue
		}
		if r.ScoreValue < q.MinScore {
			continue
		}
		if !q.Since.IsZero() && r.FirstSeen.Before(q.Since) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.After(out[j].FirstSeen) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) RecordAttempt(ctx context.Context, a model.ScoreAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.attempts {
		if a.ID != "" && existing.ID == a.ID {
			return nil
		}
	}
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *MemoryStore) ListAttempts(ctx context.Context, recordID string) ([]model.ScoreAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ScoreAttempt
	for _, a := range m.attempts {
		if a.RecordID == recordID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Records returns every stored record, for tests and the CLI
func (m *MemoryStore) Records() []model.ContentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.ContentRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) Close() error { return nil }
