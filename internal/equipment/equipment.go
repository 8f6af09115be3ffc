// Package equipment is the resilient equipment client: the REST verbs, plus
// a list that falls back to the bundled snapshot when the backend fails.
package equipment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tphummel/smartmine/internal/metrics"
	"github.com/tphummel/smartmine/internal/models"
)

// Source says where a list came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// Backend is the subset of apiclient.Client the equipment client needs.
type Backend interface {
	ListEquipment(ctx context.Context) ([]models.Equipment, error)
	CreateEquipment(ctx context.Context, e models.Equipment) (*models.Equipment, error)
	UpdateEquipment(ctx context.Context, id int64, e models.Equipment) (*models.Equipment, error)
	DeleteEquipment(ctx context.Context, id int64) error
	UpdateHours(ctx context.Context, id int64, usageHours int) (*models.Equipment, error)
}

// Snapshot loads the bundled sample data.
type Snapshot interface {
	Load(ctx context.Context) ([]models.Equipment, error)
}

// Result is a list plus its provenance.
type Result struct {
	Equipment []models.Equipment
	Source    Source
	// Cause is the live failure that triggered the fallback, nil for live data.
	Cause error
}

// Client wraps the backend with the sample-data fallback.
type Client struct {
	backend  Backend
	snapshot Snapshot
	logger   *slog.Logger
}

// NewClient returns a Client. snapshot may be nil to disable the fallback.
func NewClient(backend Backend, snapshot Snapshot, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{backend: backend, snapshot: snapshot, logger: logger}
}

// List returns the live list, or the snapshot if the live list fails. When
// both fail the error matches the live failure and the snapshot failure.
func (c *Client) List(ctx context.Context) (Result, error) {
	list, err := c.backend.ListEquipment(ctx)
	if err == nil {
		return Result{Equipment: list, Source: SourceLive}, nil
	}
	if c.snapshot == nil || ctx.Err() != nil {
		return Result{}, err
	}

	fallback, ferr := c.snapshot.Load(ctx)
	if ferr != nil {
		metrics.ObserveFallback(false)
		c.logger.ErrorContext(ctx, "equipment list failed and sample data is unavailable",
			"error", err, "sample_error", ferr)
		return Result{}, errors.Join(err, ferr)
	}
	metrics.ObserveFallback(true)
	c.logger.WarnContext(ctx, "equipment list failed, serving sample data",
		"error", err, "count", len(fallback))
	return Result{Equipment: fallback, Source: SourceFallback, Cause: err}, nil
}

// ListLive returns the live list with no fallback.
func (c *Client) ListLive(ctx context.Context) ([]models.Equipment, error) {
	return c.backend.ListEquipment(ctx)
}

// Create adds a unit and returns it with its server-assigned id.
func (c *Client) Create(ctx context.Context, e models.Equipment) (*models.Equipment, error) {
	return c.backend.CreateEquipment(ctx, e)
}

// Update replaces the unit with the given id.
func (c *Client) Update(ctx context.Context, id int64, e models.Equipment) (*models.Equipment, error) {
	return c.backend.UpdateEquipment(ctx, id, e)
}

// Delete removes the unit with the given id.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.backend.DeleteEquipment(ctx, id)
}

// UpdateHours sets a unit's usage hours.
func (c *Client) UpdateHours(ctx context.Context, id int64, usageHours int) (*models.Equipment, error) {
	return c.backend.UpdateHours(ctx, id, usageHours)
}
