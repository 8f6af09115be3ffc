// Package store holds the console's last-known equipment collection and the
// filter state. It is the only shared mutable state in the core.
package store

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tphummel/smartmine/internal/derive"
	"github.com/tphummel/smartmine/internal/equipment"
	"github.com/tphummel/smartmine/internal/models"
)

// Generation tags a list request. Results from a generation older than the
// last accepted one are discarded.
type Generation uint64

// Snapshot is what observers receive after every mutation.
type Snapshot struct {
	Equipment []models.Equipment
	Filter    models.FilterState
	Source    equipment.Source
	Loaded    bool
	UpdatedAt time.Time
	Version   uint64
}

// Observer is notified after each mutation, outside the store's lock.
type Observer func(Snapshot)

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	list      []models.Equipment
	filter    models.FilterState
	source    equipment.Source
	loaded    bool
	updatedAt time.Time
	version   uint64

	issued   Generation
	accepted Generation

	nextObserver int
	observers    map[int]Observer

	now func() time.Time
}

// New returns an empty store with the default filter.
func New() *Store {
	return &Store{
		filter:    models.DefaultFilter(),
		observers: make(map[int]Observer),
		now:       time.Now,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Begin issues a generation for a list request about to start.
func (s *Store) Begin() Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Commit installs list if gen is newer than the last accepted generation
// and has not been invalidated. It reports whether the list was installed.
func (s *Store) Commit(gen Generation, list []models.Equipment, source equipment.Source) bool {
	s.mu.Lock()
	if gen <= s.accepted || gen > s.issued {
		s.mu.Unlock()
		return false
	}
	s.accepted = gen
	s.install(list, source)
	snap := s.snapshotLocked()
	obs := s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
	return true
}

// Replace installs list unconditionally and supersedes every outstanding
// generation.
func (s *Store) Replace(list []models.Equipment, source equipment.Source) {
	s.mu.Lock()
	s.issued++
	s.accepted = s.issued
	s.install(list, source)
	snap := s.snapshotLocked()
	obs := s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
}

// Invalidate abandons every outstanding generation; their results will be
// dropped when they arrive.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.accepted = s.issued
	s.mu.Unlock()
}

func (s *Store) install(list []models.Equipment, source equipment.Source) {
	s.list = slices.Clone(list)
	if s.list == nil {
		s.list = []models.Equipment{}
	}
	s.source = source
	s.loaded = true
	s.updatedAt = s.now()
	s.version++
}

// SetQuery sets the text filter. The query is matched case-insensitively.
func (s *Store) SetQuery(q string) {
	s.mu.Lock()
	q = strings.ToLower(strings.TrimSpace(q))
	if q == s.filter.Query {
		s.mu.Unlock()
		return
	}
	s.filter.Query = q
	s.version++
	snap := s.snapshotLocked()
	obs := s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
}

// SetStatusFilter sets the status filter; it must be one of
// models.ValidStatusFilters.
func (s *Store) SetStatusFilter(f models.StatusFilter) error {
	if !models.ValidStatusFilters[f] {
		return fmt.Errorf("invalid status filter %q", f)
	}
	s.mu.Lock()
	if f == s.filter.Status {
		s.mu.Unlock()
		return nil
	}
	s.filter.Status = f
	s.version++
	snap := s.snapshotLocked()
	obs := s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
	return nil
}

// Filter returns the current filter state.
func (s *Store) Filter() models.FilterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// All returns a copy of the whole collection.
func (s *Store) All() []models.Equipment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.list)
}

// View returns the collection filtered by the current filter state.
func (s *Store) View() []models.Equipment {
	s.mu.RLock()
	list, f := s.list, s.filter
	s.mu.RUnlock()
	return Apply(list, f)
}

// Apply filters list by f: the lowercased query must occur in the code,
// name, or type, and the derived status must pass the status filter.
func Apply(list []models.Equipment, f models.FilterState) []models.Equipment {
	q := strings.ToLower(f.Query)
	out := make([]models.Equipment, 0, len(list))
	for _, e := range list {
		if q != "" &&
			!strings.Contains(strings.ToLower(e.Code), q) &&
			!strings.Contains(strings.ToLower(e.Name), q) &&
			!strings.Contains(strings.ToLower(e.Type), q) {
			continue
		}
		if !f.Status.Matches(derive.Classify(e).Health.Status) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ByID returns the unit with id.
func (s *Store) ByID(id int64) (models.Equipment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.list {
		if e.ID == id {
			return e, true
		}
	}
	return models.Equipment{}, false
}

// RemoveLocally drops the unit with id after a successful delete, so no
// refetch is needed. Outstanding generations are superseded so a list
// fetched before the delete cannot restore the unit. It reports whether the
// unit was present.
func (s *Store) RemoveLocally(id int64) bool {
	s.mu.Lock()
	i := slices.IndexFunc(s.list, func(e models.Equipment) bool { return e.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.list = slices.Delete(slices.Clone(s.list), i, i+1)
	s.accepted = s.issued
	s.updatedAt = s.now()
	s.version++
	snap := s.snapshotLocked()
	obs := s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
	return true
}

// Loaded reports whether any list has been installed.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Source returns where the installed list came from.
func (s *Store) Source() equipment.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// UsingFallback reports whether the installed list is the bundled snapshot.
func (s *Store) UsingFallback() bool {
	return s.Source() == equipment.SourceFallback
}

// CountByStatus tallies the collection by derived status.
func (s *Store) CountByStatus() map[models.Status]int {
	sum := derive.Summary(s.All())
	return map[models.Status]int{
		models.StatusGood:     sum.Good,
		models.StatusWarning:  sum.Warning,
		models.StatusCritical: sum.Critical,
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Equipment: slices.Clone(s.list),
		Filter:    s.filter,
		Source:    s.source,
		Loaded:    s.loaded,
		UpdatedAt: s.updatedAt,
		Version:   s.version,
	}
}

func (s *Store) observersLocked() []Observer {
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = s.observers[id]
	}
	return out
}

func notify(obs []Observer, snap Snapshot) {
	for _, fn := range obs {
		fn(snap)
	}
}
