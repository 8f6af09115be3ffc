package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tphummel/smartmine/internal/apiclient"
	"github.com/tphummel/smartmine/internal/maintenance"
	"github.com/tphummel/smartmine/internal/models"
)

// ErrBusy is returned when a submission arrives while another is in flight.
var ErrBusy = errors.New("a submission is already in progress")

// State is the submitter's lifecycle.
type State int

const (
	Idle State = iota
	Submitting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// ToastKind selects a toast's styling.
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
	ToastInfo    ToastKind = "info"
)

// Toast is a transient user notification.
type Toast struct {
	Kind    ToastKind
	Message string
	Detail  string
}

// EquipmentWriter performs equipment mutations.
type EquipmentWriter interface {
	Create(ctx context.Context, e models.Equipment) (*models.Equipment, error)
	Update(ctx context.Context, id int64, e models.Equipment) (*models.Equipment, error)
	Delete(ctx context.Context, id int64) error
}

// MaintenanceWriter appends maintenance records.
type MaintenanceWriter interface {
	Create(ctx context.Context, rec models.MaintenanceRecord) (*models.MaintenanceRecord, error)
}

// LocalRemover drops a deleted unit from the cached collection.
type LocalRemover interface {
	RemoveLocally(id int64) bool
}

// Submitter dispatches validated forms to the backend. One submission runs
// at a time.
type Submitter struct {
	Equipment   EquipmentWriter
	Maintenance MaintenanceWriter // optional; nil disables the chained record
	Store       LocalRemover      // optional
	// Refresh reloads the collection after a create or edit. Optional.
	Refresh func(ctx context.Context) error
	Logger  *slog.Logger

	mu    sync.Mutex
	state State
}

// State returns the current lifecycle state.
func (s *Submitter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settle returns a finished submitter to Idle once the caller has shown the
// outcome. It has no effect while a submission is in flight.
func (s *Submitter) Settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Succeeded || s.state == Failed {
		s.state = Idle
	}
}

func (s *Submitter) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Submitting {
		return ErrBusy
	}
	s.state = Submitting
	return nil
}

func (s *Submitter) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Failed
		return
	}
	s.state = Succeeded
}

func (s *Submitter) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Create validates in and adds the unit. When the form carries a service
// date and non-zero usage, an initial service record is added afterwards;
// its failure is logged and does not fail the create.
func (s *Submitter) Create(ctx context.Context, in Input) (toast Toast, err error) {
	if err := s.begin(); err != nil {
		return Toast{}, err
	}
	defer func() { s.finish(err) }()

	p, err := Validate(in)
	if err != nil {
		return errorToast(err.Error(), ""), err
	}

	created, err := s.Equipment.Create(ctx, p.Equipment)
	if err != nil {
		return errorToast("Failed to add equipment: "+apiclient.Message(err), ""), fmt.Errorf("add equipment: %w", err)
	}
	s.logger().InfoContext(ctx, "equipment added", "id", created.ID, "code", created.Code)

	s.refresh(ctx)
	if p.ChainsMaintenance() {
		s.addInitialService(ctx, created.ID, p)
	}

	return Toast{
		Kind:    ToastSuccess,
		Message: "Equipment added successfully!",
		Detail:  p.Equipment.Name + " has been added to the fleet.",
	}, nil
}

// Edit validates in and replaces the unit with id.
func (s *Submitter) Edit(ctx context.Context, id int64, in Input) (toast Toast, err error) {
	if err := s.begin(); err != nil {
		return Toast{}, err
	}
	defer func() { s.finish(err) }()

	p, err := Validate(in)
	if err != nil {
		return errorToast(err.Error(), ""), err
	}

	if _, err := s.Equipment.Update(ctx, id, p.Equipment); err != nil {
		return errorToast("Failed to update equipment: "+apiclient.Message(err), ""), fmt.Errorf("update equipment %d: %w", id, err)
	}
	s.logger().InfoContext(ctx, "equipment updated", "id", id)

	s.refresh(ctx)
	return Toast{
		Kind:    ToastSuccess,
		Message: "Equipment updated successfully!",
		Detail:  p.Equipment.Name + " has been updated.",
	}, nil
}

// Delete removes the unit with id and drops it from the local collection
// without refetching.
func (s *Submitter) Delete(ctx context.Context, id int64) (toast Toast, err error) {
	if err := s.begin(); err != nil {
		return Toast{}, err
	}
	defer func() { s.finish(err) }()

	if err := s.Equipment.Delete(ctx, id); err != nil {
		return errorToast("Failed to delete equipment", apiclient.Message(err)), fmt.Errorf("delete equipment %d: %w", id, err)
	}
	if s.Store != nil {
		s.Store.RemoveLocally(id)
	}
	s.logger().InfoContext(ctx, "equipment deleted", "id", id)
	return Toast{Kind: ToastSuccess, Message: "Equipment deleted successfully"}, nil
}

func (s *Submitter) refresh(ctx context.Context) {
	if s.Refresh == nil {
		return
	}
	if err := s.Refresh(ctx); err != nil {
		s.logger().WarnContext(ctx, "refresh after submit failed", "error", err)
	}
}

func (s *Submitter) addInitialService(ctx context.Context, equipmentID int64, p Payload) {
	if s.Maintenance == nil {
		return
	}
	rec := maintenance.InitialService(equipmentID, p.InitialServiceDate, p.Equipment.UsageHours)
	if _, err := s.Maintenance.Create(ctx, rec); err != nil {
		s.logger().WarnContext(ctx, "could not add initial maintenance record",
			"equipment_id", equipmentID, "error", err)
		return
	}
	s.logger().InfoContext(ctx, "initial maintenance record added", "equipment_id", equipmentID)
}

func errorToast(msg, detail string) Toast {
	return Toast{Kind: ToastError, Message: msg, Detail: detail}
}
