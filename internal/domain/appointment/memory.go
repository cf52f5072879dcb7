package appointment

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-process Repository with the same
// compare-and-swap semantics as the Postgres one. Published events are kept
// in order for inspection.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*Appointment
	events []*Event
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Appointment)}
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[a.ID]; ok {
		return ErrVersionConflict
	}
	a.Version = 1
	m.commit(a)
	return nil
}

func (m *MemoryRepository) Save(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if stored.Version != a.Version {
		return ErrVersionConflict
	}
	a.Version++
	m.commit(a)
	return nil
}

func (m *MemoryRepository) commit(a *Appointment) {
	for _, e := range a.Changes() {
		e.Version = a.Version
		m.events = append(m.events, e)
	}
	a.ClearChanges()
	m.byID[a.ID] = a.Clone()
}

func (m *MemoryRepository) ListByDoctor(_ context.Context, doctorID string) ([]*Appointment, error) {
	out := m.filter(func(a *Appointment) bool { return a.DoctorID == doctorID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID string) ([]*Appointment, error) {
	out := m.filter(func(a *Appointment) bool { return a.PatientID == patientID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) filter(keep func(*Appointment) bool) []*Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Appointment{}
	for _, a := range m.byID {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns every committed event in commit order.
func (m *MemoryRepository) Events() []*Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}
