package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/sentinel/internal/admin"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/store"
	"github.com/sirupsen/logrus"
)

// Controller implements admin.Controller on top of an App
type Controller struct {
	app *App
	log *logrus.Entry
}

var _ admin.Controller = (*Controller)(nil)

// NewController creates the admin controller for a
func NewController(a *App) *Controller {
	return &Controller{app: a, log: a.log.WithField("component", "controller")}
}

func (c *Controller) ListSources(ctx context.Context) ([]model.SourceConfig, error) {
	return c.app.Store.ListSources(ctx)
}

func (c *Controller) CreateSource(ctx context.Context, src model.SourceConfig) (model.SourceConfig, error) {
	src.ID = strings.TrimSpace(src.ID)
	src.Cursor = ""
	if err := src.Validate(); err != nil {
		return model.SourceConfig{}, fmt.Errorf("%w: %w", admin.ErrInvalid, err)
	}

	_, err := c.app.Store.GetSource(ctx, src.ID)
	if err == nil {
		return model.SourceConfig{}, fmt.Errorf("%w: source %s already exists", admin.ErrInvalid, src.ID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.SourceConfig{}, err
	}

	if err := c.app.Store.SaveSource(ctx, src); err != nil {
		return model.SourceConfig{}, err
	}
	c.log.WithFields(logrus.Fields{"source_id": src.ID, "type": src.Type}).Info("Source created")
	c.resync()
	return c.app.Store.GetSource(ctx, src.ID)
}

// UpdateSource applies patch. Changing the address resets the cursor, since
// the old position means nothing to the new upstream.
func (c *Controller) UpdateSource(ctx context.Context, id string, patch admin.SourcePatch) (model.SourceConfig, error) {
	src, err := c.app.Store.GetSource(ctx, id)
	if err != nil {
		return model.SourceConfig{}, err
	}

	reconfigured := false
	if patch.Name != nil {
		src.Name = *patch.Name
	}
	if patch.Address != nil && *patch.Address != src.Address {
		src.Address = *patch.Address
		src.Cursor = ""
		reconfigured = true
	}
	if patch.Enabled != nil && *patch.Enabled != src.Enabled {
		src.Enabled = *patch.Enabled
		reconfigured = true
	}
	if patch.Interval != nil && *patch.Interval != src.Interval {
		src.Interval = *patch.Interval
		reconfigured = true
	}
	if err := src.Validate(); err != nil {
		return model.SourceConfig{}, fmt.Errorf("%w: %w", admin.ErrInvalid, err)
	}

	if err := c.app.Store.SaveSource(ctx, src); err != nil {
		return model.SourceConfig{}, err
	}
	c.log.WithField("source_id", id).Info("Source updated")
	// a degraded ingestion job gets another chance once its source changed
	if reconfigured && src.Enabled {
		if err := c.app.Scheduler.Reset(IngestJobID(id)); err != nil {
			c.log.WithError(err).WithField("source_id", id).Debug("Ingestion job not reset")
		}
	}
	c.resync()
	return c.app.Store.GetSource(ctx, id)
}

func (c *Controller) RemoveSource(ctx context.Context, id string) (bool, error) {
	disabled, err := c.app.Store.RemoveSource(ctx, id)
	if err != nil {
		return false, err
	}
	c.app.Scheduler.Unschedule(IngestJobID(id))
	c.log.WithFields(logrus.Fields{"source_id": id, "disabled_only": disabled}).Info("Source removed")
	return disabled, nil
}

// Health is degraded when any provider breaker is not closed or any job is degraded
func (c *Controller) Health(ctx context.Context) admin.Health {
	h := admin.Health{
		Status:    "ok",
		Providers: c.app.Breakers.Snapshot(),
		Jobs:      c.app.Scheduler.Status(),
	}
	for _, p := range h.Providers {
		if p.Phase != model.BreakerClosed {
			h.Status = "degraded"
		}
	}
	for _, j := range h.Jobs {
		if j.State == model.JobDegraded {
			h.Status = "degraded"
		}
	}
	return h
}

func (c *Controller) RunJob(id string) (bool, error) {
	return c.app.Scheduler.RunOnce(id)
}

// resync asks the scheduler to pick up source changes now instead of at the next sync tick
func (c *Controller) resync() {
	if _, err := c.app.Scheduler.RunOnce(SyncJobID); err != nil {
		c.log.WithError(err).Debug("Source sync not triggered")
	}
}
