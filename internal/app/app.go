// Package app builds the sentinel object graph from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/sentinel/internal/admin"
	"github.com/ppiankov/sentinel/internal/cache"
	"github.com/ppiankov/sentinel/internal/connector"
	"github.com/ppiankov/sentinel/internal/dedup"
	"github.com/ppiankov/sentinel/internal/embed"
	"github.com/ppiankov/sentinel/internal/events"
	"github.com/ppiankov/sentinel/internal/llm"
	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/normalize"
	"github.com/ppiankov/sentinel/internal/pipeline"
	"github.com/ppiankov/sentinel/internal/scheduler"
	"github.com/ppiankov/sentinel/internal/score"
	"github.com/ppiankov/sentinel/internal/store"
	"github.com/ppiankov/sentinel/internal/vector"
	"github.com/ppiankov/sentinel/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Job ids
const (
	SweepJobID      = "sweep"
	SyncJobID       = "sync-sources"
	ingestJobPrefix = "ingest:"
)

// IngestJobID is the scheduler id of a source's ingestion job
func IngestJobID(sourceID string) string {
	return ingestJobPrefix + sourceID
}

// App is the assembled pipeline
type App struct {
	cfg model.Config
	log *logrus.Entry

	Store        store.Store
	Breakers     *score.Breakers
	Scheduler    *scheduler.Scheduler
	Orchestrator *pipeline.Orchestrator
	Events       events.Publisher

	redis   *redis.Client
	closers []func() error
}

// OpenStore opens only the persistence layer, for commands that do not run the pipeline
func OpenStore(cfg model.Config) (store.Store, error) {
	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, logging.New("store"))
	if err != nil {
		return nil, err
	}
	return st, nil
}

// New wires every component. The caller owns Close.
func New(ctx context.Context, cfg model.Config) (*App, error) {
	a := &App{cfg: cfg, log: logging.New("app")}

	st, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	if cfg.Redis.Addr != "" {
		client, err := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}

	embedder, err := a.buildEmbedder()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Events = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		a.Events = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logging.New("events"))
		a.closers = append(a.closers, a.Events.Close)
	}

	a.Breakers = score.NewBreakers(cfg.Scoring.FailureThreshold, cfg.Scoring.Cooldown)
	scorer := score.NewScorer(a.buildChain(), a.Breakers, &attemptSink{store: st, events: a.Events, log: a.log},
		score.Options{CallTimeout: cfg.Timeouts.LLM, AcceptThreshold: cfg.Scoring.AcceptThreshold},
		logging.New("scorer"))

	engine := dedup.NewEngine(a.buildIndex(), st, dedup.Options{
		Threshold:    cfg.Dedup.Threshold,
		Neighbors:    cfg.Dedup.Neighbors,
		Partition:    cfg.Dedup.Partition,
		IndexTimeout: cfg.Timeouts.Index,
	}, logging.New("dedup"))

	a.Orchestrator = pipeline.New(pipeline.Deps{
		Sources:    st,
		Records:    st,
		Connectors: buildConnectors(cfg),
		Normalizer: normalize.New(st, cfg.Pipeline.MaxChars),
		Embedder:   embedder,
		Dedup:      engine,
		Scorer:     scorer,
		Events:     a.Events,
		Log:        logging.New("pipeline"),
	}, pipeline.Options{
		ItemWorkers:        cfg.Pipeline.ItemWorkers,
		ScoringConcurrency: cfg.Pipeline.ScoringConcurrency,
		MaxPages:           cfg.Pipeline.MaxPages,
		SweepMinAge:        cfg.Pipeline.SweepMinAge,
		SweepBatch:         cfg.Pipeline.SweepBatch,
		PersistAttempts:    cfg.Pipeline.PersistAttempts,
		PersistBackoff:     cfg.Pipeline.PersistBackoff,
		EmbedTimeout:       cfg.Timeouts.Embed,
		StoreTimeout:       cfg.Timeouts.Store,
	})

	a.Scheduler = scheduler.New(worker.NewPool(cfg.Scheduler.MaxConcurrentJobs), scheduler.Options{
		Jitter:      cfg.Scheduler.Jitter,
		MaxFailures: cfg.Scheduler.MaxFailures,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		Log:         logging.New("scheduler"),
	})
	return a, nil
}

func (a *App) buildEmbedder() (embed.Embedder, error) {
	inner, err := embed.NewEmbedder(embed.Config{
		Provider: a.cfg.Embedding.Provider,
		Model:    a.cfg.Embedding.Model,
		APIKey:   a.cfg.Embedding.APIKey,
		BaseURL:  a.cfg.Embedding.BaseURL,
		Timeout:  a.cfg.Timeouts.Embed,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	var c cache.Cache = cache.NewMemoryCache(a.cfg.Redis.CacheTTL, 10*time.Minute)
	if a.redis != nil {
		c = cache.NewLayeredCache(c, cache.NewRedisCache(a.redis, a.cfg.Redis.CacheTTL))
	}
	return embed.NewCachedEmbedder(inner, c, a.cfg.Redis.CacheTTL), nil
}

func (a *App) buildIndex() vector.Index {
	if a.redis != nil && a.cfg.Redis.Vectors {
		return vector.NewRedisIndex(a.redis, "")
	}
	return vector.NewMemoryIndex()
}

func (a *App) buildChain() []llm.Provider {
	chain, skipped := llm.BuildChain(a.cfg.Scoring.Providers, a.cfg.Timeouts.LLM, a.cfg.HTTP)
	for name, err := range skipped {
		a.log.WithError(err).WithField("provider", name).Warn("Provider left out of the scoring chain")
	}
	names := make([]string, 0, len(chain))
	for _, p := range chain {
		names = append(names, p.Name())
	}
	if len(chain) == 0 {
		a.log.Warn("No scoring provider configured, every record will be exhausted")
	} else {
		a.log.WithField("chain", strings.Join(names, " > ")).Info("Scoring chain ready")
	}
	return chain
}

func buildConnectors(cfg model.Config) *connector.Registry {
	opts := connector.Options{
		UserAgent:  cfg.HTTP.UserAgent,
		Timeout:    cfg.Timeouts.Fetch,
		HTTPProxy:  cfg.HTTP.HTTPProxy,
		HTTPSProxy: cfg.HTTP.HTTPSProxy,
		NoProxy:    cfg.HTTP.NoProxy,
		Limiter:    worker.NewLimiter(cfg.HTTP.RequestsPerSecond, cfg.HTTP.Burst),
		Log:        logging.New("connector"),
	}
	client := connector.NewHTTPClient(opts)
	if cfg.HTTP.RespectRobots {
		opts.Robots = connector.NewRobotsChecker(client, cfg.HTTP.UserAgent)
	}
	return connector.NewRegistry(
		connector.NewRSSConnector(client, opts),
		connector.NewRedditConnector(client, "", opts),
		connector.NewTelegramConnector(client, "", opts),
	)
}

// SeedSources inserts configured sources that the store does not know yet.
// Sources already in the store belong to the admin control plane and are left alone.
func (a *App) SeedSources(ctx context.Context) error {
	for _, src := range a.cfg.Sources {
		t, err := model.ParseSourceType(string(src.Type))
		if err != nil {
			return fmt.Errorf("seed source %s: %w", src.ID, err)
		}
		src.Type = t
		if err := src.Validate(); err != nil {
			return fmt.Errorf("seed source: %w", err)
		}
		_, err = a.Store.GetSource(ctx, src.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := a.Store.SaveSource(ctx, src); err != nil {
			return err
		}
		a.log.WithField("source_id", src.ID).Info("Seeded source from config")
	}
	return nil
}

// SyncSources reconciles the schedule with the source table: enabled
// sources get an ingestion job, everything else loses it
func (a *App) SyncSources(ctx context.Context) error {
	sources, err := a.Store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	wanted := make(map[string]bool, len(sources))
	for _, src := range sources {
		id := IngestJobID(src.ID)
		if !src.Enabled {
			if a.Scheduler.Unschedule(id) {
				a.log.WithField("source_id", src.ID).Info("Source disabled, ingestion unscheduled")
			}
			continue
		}
		wanted[id] = true
		sourceID := src.ID
		if err := a.Scheduler.Schedule(id, src.Interval, func(ctx context.Context) error {
			_, err := a.Orchestrator.IngestSource(ctx, sourceID)
			return err
		}); err != nil {
			a.log.WithError(err).WithField("source_id", src.ID).Warn("Cannot schedule source")
		}
	}

	for _, id := range a.Scheduler.IDs() {
		if strings.HasPrefix(id, ingestJobPrefix) && !wanted[id] {
			a.Scheduler.Unschedule(id)
		}
	}
	return nil
}

// Run seeds and schedules everything, serves the admin API and blocks until
// ctx is cancelled, then shuts down within the configured grace period.
func (a *App) Run(ctx context.Context) error {
	if err := a.SeedSources(ctx); err != nil {
		return err
	}
	if err := a.SyncSources(ctx); err != nil {
		return err
	}
	if err := a.Scheduler.Schedule(SweepJobID, a.cfg.Scheduler.SweepInterval, func(ctx context.Context) error {
		_, err := a.Orchestrator.Sweep(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := a.Scheduler.Schedule(SyncJobID, a.cfg.Scheduler.SyncInterval, a.SyncSources); err != nil {
		return err
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	a.Scheduler.Start(runCtx)

	server := admin.NewServer(a.cfg.Admin.Addr, admin.NewHandler(NewController(a), a.cfg.Admin.Token, logging.New("admin")))
	serveErr := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Admin.Addr).Info("Admin API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("Admin server forced to close")
	}
	if err := a.Scheduler.Shutdown(a.cfg.Scheduler.ShutdownGrace); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close releases connections in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// attemptSink appends to the audit trail and mirrors each attempt downstream
type attemptSink struct {
	store  store.AttemptStore
	events events.Publisher
	log    *logrus.Entry
}

func (s *attemptSink) RecordAttempt(ctx context.Context, a model.ScoreAttempt) error {
	if err := s.store.RecordAttempt(ctx, a); err != nil {
		return err
	}
	if err := s.events.PublishAttempt(ctx, a); err != nil {
		s.log.WithError(err).WithField("attempt_id", a.ID).Warn("Failed to publish attempt event")
	}
	return nil
}
