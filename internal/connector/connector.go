// Package connector fetches raw items from external sources. Each connector
// owns its cursor format and its upstream rate limits.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ppiankov/sentinel/internal/model"
)

// Kind classifies a fetch failure
type Kind string

const (
	KindTransient   Kind = "transient"
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
)

// Error is a classified fetch failure
type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error from source %s: %v", e.Kind, e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps a failure expected to clear by the next run
func Transient(source string, err error) error {
	return &Error{Kind: KindTransient, Source: source, Err: err}
}

// Auth wraps a failure that needs an operator (credentials, access, robots)
func Auth(source string, err error) error {
	return &Error{Kind: KindAuth, Source: source, Err: err}
}

// RateLimited wraps an upstream rate limit rejection
func RateLimited(source string, err error) error {
	return &Error{Kind: KindRateLimited, Source: source, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindTransient
}

// FetchResult is one page of items
type FetchResult struct {
	Items      []model.RawItem
	NextCursor string
	HasMore    bool
}

// Connector pulls items from one kind of source. Fetching twice with the
// same cursor returns the same items or a superset.
type Connector interface {
	Type() model.SourceType
	Fetch(ctx context.Context, src model.SourceConfig, cursor string) (FetchResult, error)
}

// Registry resolves connectors by source type
type Registry struct {
	connectors map[model.SourceType]Connector
}

// NewRegistry creates a registry holding the given connectors
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[model.SourceType]Connector)}
	for _, c := range connectors {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the connector for c.Type()
func (r *Registry) Register(c Connector) {
	r.connectors[c.Type()] = c
}

// Get returns the connector for t
func (r *Registry) Get(t model.SourceType) (Connector, error) {
	c, ok := r.connectors[t]
	if !ok {
		return nil, fmt.Errorf("no connector registered for source type %q", t)
	}
	return c, nil
}

// Types lists registered source types
func (r *Registry) Types() []model.SourceType {
	types := make([]model.SourceType, 0, len(r.connectors))
	for t := range r.connectors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
