// Package pipeline drives content through its lifecycle: fetch, normalize,
// embed, dedup, score. It is the only writer of ContentRecord transitions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/connector"
	"github.com/ppiankov/sentinel/internal/dedup"
	"github.com/ppiankov/sentinel/internal/embed"
	"github.com/ppiankov/sentinel/internal/events"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/normalize"
	"github.com/ppiankov/sentinel/internal/scheduler"
	"github.com/ppiankov/sentinel/internal/score"
	"github.com/ppiankov/sentinel/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Deps are the collaborators of the orchestrator
type Deps struct {
	Sources    store.SourceStore
	Records    store.RecordStore
	Connectors *connector.Registry
	Normalizer *normalize.Normalizer
	Embedder   embed.Embedder
	Dedup      *dedup.Engine
	Scorer     *score.Scorer
	Events     events.Publisher
	Log        *logrus.Entry
}

// Options bounds the work of one run
type Options struct {
	ItemWorkers        int
	ScoringConcurrency int
	MaxPages           int
	SweepMinAge        time.Duration
	SweepBatch         int
	PersistAttempts    int
	PersistBackoff     time.Duration
	EmbedTimeout       time.Duration
	StoreTimeout       time.Duration
	Now                func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ItemWorkers <= 0 {
		o.ItemWorkers = 4
	}
	if o.ScoringConcurrency <= 0 {
		o.ScoringConcurrency = 2
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 5
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 100
	}
	if o.PersistAttempts <= 0 {
		o.PersistAttempts = 3
	}
	if o.PersistBackoff <= 0 {
		o.PersistBackoff = 200 * time.Millisecond
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = 20 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Stats summarizes one ingestion or sweep run
type Stats struct {
	Pages      int `json:"pages"`
	Fetched    int `json:"fetched"`
	Skipped    int `json:"skipped"`
	New        int `json:"new"`
	Unique     int `json:"unique"`
	Duplicates int `json:"duplicates"`
	Scored     int `json:"scored"`
	Discarded  int `json:"discarded"`
	Exhausted  int `json:"exhausted"`
	Deferred   int `json:"deferred"` // persisted but left for the sweep
	Failed     int `json:"failed"`   // never reached the store
}

func (s Stats) fields() logrus.Fields {
	return logrus.Fields{
		"pages":      s.Pages,
		"fetched":    s.Fetched,
		"skipped":    s.Skipped,
		"new":        s.New,
		"unique":     s.Unique,
		"duplicates": s.Duplicates,
		"scored":     s.Scored,
		"discarded":  s.Discarded,
		"exhausted":  s.Exhausted,
		"deferred":   s.Deferred,
		"failed":     s.Failed,
	}
}

type tally struct {
	mu sync.Mutex
	s  Stats
}

func (t *tally) add(fn func(s *Stats)) {
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

func (t *tally) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

const lockStripes = 64

// Orchestrator runs ingestion jobs and the scoring sweep
type Orchestrator struct {
	deps    Deps
	opts    Options
	log     *logrus.Entry
	scoring *semaphore.Weighted

	// serializes read-modify-write on a record (merge vs score apply)
	recordLocks [lockStripes]sync.Mutex
}

// New creates an orchestrator. The scoring budget is shared by every run.
func New(deps Deps, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		log:     deps.Log,
		scoring: semaphore.NewWeighted(int64(opts.ScoringConcurrency)),
	}
}

// IngestSource runs one ingestion cycle for a source. The cursor only
// moves past a page once every item of it is in the store.
func (o *Orchestrator) IngestSource(ctx context.Context, sourceID string) (Stats, error) {
	log := o.log.WithField("source_id", sourceID)

	src, err := o.deps.Sources.GetSource(ctx, sourceID)
	if err != nil {
		return Stats{}, fmt.Errorf("load source %s: %w", sourceID, err)
	}
	if !src.Enabled {
		log.Debug("Source disabled, skipping run")
		return Stats{}, nil
	}

	conn, err := o.deps.Connectors.Get(src.Type)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", scheduler.ErrDegrade, err)
	}

	t := &tally{}
	cursor := src.Cursor
	for page := 0; page < o.opts.MaxPages; page++ {
		res, err := conn.Fetch(ctx, src, cursor)
		if err != nil {
			stats := t.snapshot()
			kind := connector.KindOf(err)
			log.WithError(err).WithField("kind", kind).Warn("Fetch failed")
			if kind == connector.KindAuth {
				return stats, fmt.Errorf("%w: %w", scheduler.ErrDegrade, err)
			}
			return stats, err
		}
		t.add(func(s *Stats) {
			s.Pages++
			s.Fetched += len(res.Items)
		})

		failed := o.processItems(ctx, src, res.Items, t)
		if ctx.Err() != nil {
			return t.snapshot(), ctx.Err()
		}
		if failed > 0 {
			log.WithField("failed", failed).Warn("Items did not reach the store, cursor withheld")
			break
		}

		if res.NextCursor != "" && res.NextCursor != cursor {
			err := o.withRetry(ctx, func(ctx context.Context) error {
				return o.deps.Sources.UpdateCursor(ctx, src.ID, res.NextCursor)
			})
			if err != nil {
				return t.snapshot(), fmt.Errorf("persist cursor for %s: %w", src.ID, err)
			}
			cursor = res.NextCursor
		}
		if !res.HasMore {
			break
		}
	}

	stats := t.snapshot()
	log.WithFields(stats.fields()).Info("Ingestion run finished")
	return stats, nil
}

// processItems handles one page with bounded concurrency and returns how
// many items never reached the store
func (o *Orchestrator) processItems(ctx context.Context, src model.SourceConfig, items []model.RawItem, t *tally) int {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ItemWorkers)

	for _, raw := range items {
		g.Go(func() error {
			if err := o.ingestItem(gCtx, src, raw, t); err != nil {
				o.log.WithError(err).WithFields(logrus.Fields{
					"source_id": src.ID,
					"native_id": raw.NativeID,
				}).Warn("Item failed")
				t.add(func(s *Stats) { s.Failed++ })
			}
			return nil
		})
	}
	_ = g.Wait()
	return t.snapshot().Failed
}

// ingestItem returns an error only when the item did not reach the store
func (o *Orchestrator) ingestItem(ctx context.Context, src model.SourceConfig, raw model.RawItem, t *tally) error {
	rec, skip, err := o.deps.Normalizer.Normalize(ctx, src, raw)
	if err != nil {
		return err
	}
	if skip != normalize.SkipNone {
		t.add(func(s *Stats) { s.Skipped++ })
		return nil
	}

	if err := o.persist(ctx, rec); err != nil {
		return err
	}
	t.add(func(s *Stats) { s.New++ })

	if err := o.advance(ctx, rec, t); err != nil {
		o.log.WithError(err).WithField("record_id", rec.ID).Info("Record left for the sweep")
		t.add(func(s *Stats) { s.Deferred++ })
	}
	return nil
}

// Sweep re-drives records that stopped short of a final state. Only
// records older than the min age are picked up so live runs are not raced.
func (o *Orchestrator) Sweep(ctx context.Context) (Stats, error) {
	cutoff := o.opts.Now().Add(-o.opts.SweepMinAge)
	recs, err := o.deps.Records.ListForSweep(ctx, cutoff, o.opts.SweepBatch)
	if err != nil {
		return Stats{}, fmt.Errorf("list records for sweep: %w", err)
	}
	if len(recs) == 0 {
		return Stats{}, nil
	}

	t := &tally{}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ItemWorkers)
	for _, rec := range recs {
		g.Go(func() error {
			if err := o.advance(gCtx, rec, t); err != nil {
				t.add(func(s *Stats) { s.Deferred++ })
				o.log.WithError(err).WithField("record_id", rec.ID).Debug("Sweep could not advance record")
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := t.snapshot()
	o.log.WithFields(stats.fields()).WithField("candidates", len(recs)).Info("Sweep finished")
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, nil
}

// advance moves a persisted record as far as it can go
func (o *Orchestrator) advance(ctx context.Context, rec model.ContentRecord, t *tally) error {
	if rec.Dedup == model.DedupPending {
		next, err := o.resolveDedup(ctx, rec, t)
		if err != nil {
			return err
		}
		rec = next
	}
	if rec.Dedup != model.DedupUnique || !rec.NeedsScoring() {
		return nil
	}
	return o.score(ctx, rec, t)
}

func (o *Orchestrator) resolveDedup(ctx context.Context, rec model.ContentRecord, t *tally) (model.ContentRecord, error) {
	embedCtx, cancel := context.WithTimeout(ctx, o.opts.EmbedTimeout)
	vec, err := o.deps.Embedder.Embed(embedCtx, rec.Text)
	cancel()
	if err != nil {
		return rec, fmt.Errorf("embed %s: %w", rec.ID, err)
	}

	var resolved model.ContentRecord
	_, err = o.deps.Dedup.Resolve(ctx, rec, vec, func(ctx context.Context, d dedup.Decision) error {
		next := rec.Clone()
		next.Collection = d.Collection
		next.UpdatedAt = o.opts.Now().UTC()
		if d.Duplicate {
			next.Dedup = model.DedupDuplicate
			next.DuplicateOf = d.DuplicateOf
		} else {
			next.Dedup = model.DedupUnique
			next.EmbeddingRef = rec.ID
		}

		unlock := o.lockRecord(next.ID)
		err := o.persist(ctx, next)
		unlock()
		if err != nil {
			return err
		}

		if d.Duplicate {
			if err := o.merge(ctx, d.DuplicateOf, rec.SourceID); err != nil {
				o.log.WithError(err).WithFields(logrus.Fields{
					"record_id":    rec.ID,
					"duplicate_of": d.DuplicateOf,
				}).Warn("Failed to merge attribution into canonical record")
			}
		}
		resolved = next
		return nil
	})
	if err != nil {
		return rec, err
	}

	t.add(func(s *Stats) {
		if resolved.Dedup == model.DedupDuplicate {
			s.Duplicates++
		} else {
			s.Unique++
		}
	})
	return resolved, nil
}

// merge records that sourceID also published the canonical record
func (o *Orchestrator) merge(ctx context.Context, canonicalID, sourceID string) error {
	unlock := o.lockRecord(canonicalID)
	defer unlock()

	canonical, err := o.deps.Records.GetRecord(ctx, canonicalID)
	if err != nil {
		return err
	}
	canonical.AddAttribution(sourceID)
	now := o.opts.Now().UTC()
	canonical.LastMerged = now
	canonical.UpdatedAt = now
	return o.persist(ctx, canonical)
}

func (o *Orchestrator) score(ctx context.Context, rec model.ContentRecord, t *tally) error {
	if err := o.scoring.Acquire(ctx, 1); err != nil {
		return err
	}
	result, err := o.deps.Scorer.Score(ctx, rec)
	o.scoring.Release(1)
	if err != nil {
		return fmt.Errorf("score %s: %w", rec.ID, err)
	}

	unlock := o.lockRecord(rec.ID)
	defer unlock()

	// re-read so a merge that landed while scoring is kept
	current, err := o.deps.Records.GetRecord(ctx, rec.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("reload %s: %w", rec.ID, err)
	}
	if err != nil {
		current = rec
	}
	next := result.Apply(current)
	next.UpdatedAt = o.opts.Now().UTC()
	if err := o.persist(ctx, next); err != nil {
		return err
	}

	t.add(func(s *Stats) {
		switch next.Score {
		case model.ScoreScored:
			s.Scored++
		case model.ScoreDiscarded:
			s.Discarded++
		case model.ScoreExhausted:
			s.Exhausted++
		}
	})
	return nil
}

// persist writes rec with retry and publishes the new state
func (o *Orchestrator) persist(ctx context.Context, rec model.ContentRecord) error {
	err := o.withRetry(ctx, func(ctx context.Context) error {
		return o.deps.Records.SaveRecord(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("persist record %s: %w", rec.ID, err)
	}
	if err := o.deps.Events.PublishRecord(ctx, rec); err != nil {
		o.log.WithError(err).WithField("record_id", rec.ID).Warn("Failed to publish record event")
	}
	return nil
}

func (o *Orchestrator) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.Retry(ctx, o.opts.PersistAttempts, o.opts.PersistBackoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

func (o *Orchestrator) lockRecord(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &o.recordLocks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
