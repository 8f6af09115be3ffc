// Package refresh loads the equipment collection into the store, once at
// startup and then periodically.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tphummel/smartmine/internal/equipment"
	"github.com/tphummel/smartmine/internal/health"
	"github.com/tphummel/smartmine/internal/metrics"
	"github.com/tphummel/smartmine/internal/models"
	"github.com/tphummel/smartmine/internal/store"
)

// DefaultInterval is the auto-refresh cadence.
const DefaultInterval = 30 * time.Second

// ErrSuperseded means a newer load finished first; the result was dropped.
var ErrSuperseded = errors.New("superseded by a newer load")

// Outcome is what an initial load produced.
type Outcome int

const (
	Unavailable Outcome = iota
	Live
	Fallback
)

func (o Outcome) String() string {
	switch o {
	case Live:
		return "live"
	case Fallback:
		return "fallback"
	default:
		return "unavailable"
	}
}

// Lister is the equipment client's read side.
type Lister interface {
	List(ctx context.Context) (equipment.Result, error)
	ListLive(ctx context.Context) ([]models.Equipment, error)
}

// Loader installs list results into a store, discarding stale ones.
type Loader struct {
	equipment Lister
	store     *store.Store
	logger    *slog.Logger
}

func NewLoader(eq Lister, st *store.Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{equipment: eq, store: st, logger: logger}
}

// Initial loads the collection, falling back to the bundled snapshot. When
// neither source is available the store is left as it was and the outcome
// is Unavailable.
func (l *Loader) Initial(ctx context.Context) (Outcome, error) {
	gen := l.store.Begin()
	res, err := l.equipment.List(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "cannot load equipment", "error", err)
		return Unavailable, err
	}
	outcome := Live
	if res.Source == equipment.SourceFallback {
		outcome = Fallback
	}
	if !l.store.Commit(gen, res.Equipment, res.Source) {
		return outcome, ErrSuperseded
	}
	l.warnInvalid(ctx, res.Equipment)
	return outcome, nil
}

// Refresh reloads the live collection. On failure the store keeps its
// last-known state.
func (l *Loader) Refresh(ctx context.Context) error {
	gen := l.store.Begin()
	list, err := l.equipment.ListLive(ctx)
	if err != nil {
		metrics.ObserveRefresh("error")
		l.logger.WarnContext(ctx, "equipment refresh failed, keeping last-known data", "error", err)
		return err
	}
	if !l.store.Commit(gen, list, equipment.SourceLive) {
		metrics.ObserveRefresh("stale")
		return ErrSuperseded
	}
	metrics.ObserveRefresh("accepted")
	l.warnInvalid(ctx, list)
	return nil
}

// warnInvalid logs units whose limit cannot be classified. Views show them
// as Critical.
func (l *Loader) warnInvalid(ctx context.Context, list []models.Equipment) {
	for _, e := range list {
		if _, err := health.Of(e); err != nil {
			l.logger.WarnContext(ctx, "equipment has an invalid maintenance limit",
				"id", e.ID, "code", e.Code, "maintenance_limit", e.MaintenanceLimit)
		}
	}
}

// Scheduler calls a refresh function on a fixed interval until stopped.
type Scheduler struct {
	refresh  func(ctx context.Context) error
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler returns a stopped scheduler. A non-positive interval uses
// DefaultInterval.
func NewScheduler(refresh func(ctx context.Context) error, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{refresh: refresh, interval: interval}
}

// Start begins ticking. It is a no-op if the scheduler is already running.
// The loop ends when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop ends the loop and waits for an in-progress refresh to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are logged by the refresh function.
			_ = s.refresh(ctx)
		}
	}
}
