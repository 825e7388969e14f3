// Package dedup decides whether a record is new content or a near-duplicate
// of an existing unique record.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/vector"
	"github.com/sirupsen/logrus"
)

// Partition modes for collection naming
const (
	PartitionSourceType = "source_type"
	PartitionGlobal     = "global"
)

// Decision is the dedup verdict for one candidate
type Decision struct {
	Collection  string
	Duplicate   bool
	DuplicateOf string
	Similarity  float64
	FailOpen    bool // index unavailable, treated as unique
}

// CommitFunc persists the decision. It runs while the collection is locked,
// and the candidate vector is only indexed after it returns nil.
type CommitFunc func(ctx context.Context, d Decision) error

// RecordLookup resolves neighbor ids to records
type RecordLookup interface {
	GetRecord(ctx context.Context, id string) (model.ContentRecord, error)
}

// Options configures the engine
type Options struct {
	Threshold    float64 // inclusive
	Neighbors    int
	Partition    string
	IndexTimeout time.Duration
}

// Engine runs neighbor queries against the vector index
type Engine struct {
	index   vector.Index
	records RecordLookup
	opts    Options
	log     *logrus.Entry

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewEngine creates a dedup engine
func NewEngine(index vector.Index, records RecordLookup, opts Options, log *logrus.Entry) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.9
	}
	if opts.Neighbors <= 0 {
		opts.Neighbors = 5
	}
	if opts.Partition == "" {
		opts.Partition = PartitionSourceType
	}
	if opts.IndexTimeout <= 0 {
		opts.IndexTimeout = 5 * time.Second
	}
	return &Engine{
		index:   index,
		records: records,
		opts:    opts,
		log:     log,
		locks:   make(map[string]chan struct{}),
	}
}

// Collection returns the index collection for a source type
func (e *Engine) Collection(t model.SourceType) string {
	if e.opts.Partition == PartitionGlobal {
		return "content_global"
	}
	return "content_" + string(t)
}

// Resolve decides rec's dedup state from vec and commits it. The query,
// commit and index upsert form one critical section per collection, so two
// near-identical items racing each other cannot both become unique.
func (e *Engine) Resolve(ctx context.Context, rec model.ContentRecord, vec []float32, commit CommitFunc) (Decision, error) {
	unit, err := vector.Normalize(vec)
	if err != nil {
		return Decision{}, fmt.Errorf("normalize embedding for %s: %w", rec.ID, err)
	}

	collection := e.Collection(rec.SourceType)
	unlock, err := e.lock(ctx, collection)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	d := Decision{Collection: collection}

	best, ok, err := e.nearest(ctx, collection, rec, unit)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		e.log.WithError(err).WithFields(logrus.Fields{
			"record_id":  rec.ID,
			"collection": collection,
		}).Warn("Vector index query failed, treating item as unique")
		d.FailOpen = true
	} else if ok {
		d.Duplicate = true
		d.DuplicateOf = best.rec.ID
		d.Similarity = best.similarity
	}

	if err := commit(ctx, d); err != nil {
		return d, fmt.Errorf("commit dedup decision for %s: %w", rec.ID, err)
	}

	if !d.Duplicate {
		upsertCtx, cancel := context.WithTimeout(ctx, e.opts.IndexTimeout)
		err := e.index.Upsert(upsertCtx, collection, rec.ID, unit)
		cancel()
		if err != nil {
			// the record is already committed as unique; later near-copies
			// of it will be missed until it is re-indexed
			e.log.WithError(err).WithFields(logrus.Fields{
				"record_id":  rec.ID,
				"collection": collection,
			}).Error("Failed to index unique record")
		}
	}

	return d, nil
}

// maxNeighbors caps how far nearest widens a query
const maxNeighbors = 256

// nearest queries the index for the best match of rec. The index truncates
// ties by id, so while the last returned neighbor could still tie or beat
// the best match the query is repeated with twice the width.
func (e *Engine) nearest(ctx context.Context, collection string, rec model.ContentRecord, unit []float32) (candidate, bool, error) {
	k := e.opts.Neighbors
	for {
		queryCtx, cancel := context.WithTimeout(ctx, e.opts.IndexTimeout)
		neighbors, err := e.index.Query(queryCtx, collection, unit, k)
		cancel()
		if err != nil {
			return candidate{}, false, err
		}

		best, ok := e.bestNeighbor(ctx, rec, neighbors)
		if len(neighbors) < k || k >= maxNeighbors {
			return best, ok, nil
		}
		edge := neighbors[len(neighbors)-1].Similarity
		if edge < e.opts.Threshold || (ok && best.similarity > edge) {
			return best, ok, nil
		}
		k = min(2*k, maxNeighbors)
	}
}

type candidate struct {
	rec        model.ContentRecord
	similarity float64
}

// bestNeighbor keeps neighbors at or above threshold that resolve to a
// unique record other than rec, then picks the highest similarity.
// Ties go to the earliest first-seen record.
func (e *Engine) bestNeighbor(ctx context.Context, rec model.ContentRecord, neighbors []vector.Neighbor) (candidate, bool) {
	var matches []candidate
	for _, n := range neighbors {
		if n.ID == rec.ID || n.Similarity < e.opts.Threshold {
			continue
		}
		other, err := e.records.GetRecord(ctx, n.ID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				e.log.WithError(err).WithField("neighbor_id", n.ID).Debug("Ignoring unresolvable neighbor")
			}
			continue
		}
		if other.Dedup != model.DedupUnique {
			continue
		}
		matches = append(matches, candidate{rec: other, similarity: n.Similarity})
	}
	if len(matches) == 0 {
		return candidate{}, false
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
		if !a.rec.FirstSeen.Equal(b.rec.FirstSeen) {
			return a.rec.FirstSeen.Before(b.rec.FirstSeen)
		}
		return a.rec.ID < b.rec.ID
	})
	return matches[0], true
}

// lock acquires the per-collection lock, giving up when ctx ends
func (e *Engine) lock(ctx context.Context, collection string) (func(), error) {
	e.mu.Lock()
	ch, ok := e.locks[collection]
	if !ok {
		ch = make(chan struct{}, 1)
		e.locks[collection] = ch
	}
	e.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
