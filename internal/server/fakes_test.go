package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/events"
	"garage/rescue/internal/schedule"
	"garage/rescue/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memoryRepo is an in-memory Repository for handler tests.
type memoryRepo struct {
	mu           sync.Mutex
	branches     []store.Branch
	pricing      []dispatch.Pricing
	appointments map[uuid.UUID]store.Appointment
	requests     []store.EmergencyRequest
	now          time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		appointments: make(map[uuid.UUID]store.Appointment),
		now:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memoryRepo) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

func (m *memoryRepo) CreateBranch(_ context.Context, p store.CreateBranchParams) (store.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.tick()
	b := store.Branch{
		ID:        uuid.New(),
		Name:      p.Name,
		Phone:     p.Phone,
		Address:   p.Address,
		Location:  p.Location,
		OpenTime:  p.OpenTime,
		CloseTime: p.CloseTime,
		IsActive:  p.IsActive,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	m.branches = append(m.branches, b)
	return b, nil
}

func (m *memoryRepo) GetBranch(_ context.Context, id uuid.UUID) (store.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.branches {
		if b.ID == id {
			return b, nil
		}
	}
	return store.Branch{}, store.ErrNotFound
}

func (m *memoryRepo) ListBranches(context.Context) ([]store.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Branch(nil), m.branches...), nil
}

func (m *memoryRepo) ListActiveBranches(context.Context) ([]store.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Branch
	for _, b := range m.branches {
		if b.IsActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryRepo) updateBranch(id uuid.UUID, fn func(*store.Branch)) (store.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.branches {
		if m.branches[i].ID == id {
			fn(&m.branches[i])
			m.branches[i].UpdatedAt = m.tick()
			return m.branches[i], nil
		}
	}
	return store.Branch{}, store.ErrNotFound
}

func (m *memoryRepo) SetBranchActive(_ context.Context, id uuid.UUID, active bool) (store.Branch, error) {
	return m.updateBranch(id, func(b *store.Branch) { b.IsActive = active })
}

func (m *memoryRepo) UpdateBranchHours(_ context.Context, id uuid.UUID, open, close schedule.TimeOfDay) (store.Branch, error) {
	return m.updateBranch(id, func(b *store.Branch) {
		b.OpenTime = open
		b.CloseTime = close
	})
}

func (m *memoryRepo) InsertPricing(_ context.Context, base, perKm decimal.Decimal, createdBy string) (dispatch.Pricing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := dispatch.Pricing{
		ID:         int64(len(m.pricing) + 1),
		BasePrice:  base,
		PricePerKm: perKm,
		CreatedBy:  createdBy,
		CreatedAt:  m.tick(),
	}
	m.pricing = append(m.pricing, p)
	return p, nil
}

func (m *memoryRepo) LatestPricing(context.Context) (*dispatch.Pricing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pricing) == 0 {
		return nil, nil
	}
	latest := m.pricing[len(m.pricing)-1]
	return &latest, nil
}

func (m *memoryRepo) ListPricingHistory(_ context.Context, limit int32) ([]dispatch.Pricing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dispatch.Pricing, 0, len(m.pricing))
	for i := len(m.pricing) - 1; i >= 0 && len(out) < int(limit); i-- {
		out = append(out, m.pricing[i])
	}
	return out, nil
}

func (m *memoryRepo) CreateAppointment(_ context.Context, p store.CreateAppointmentParams) (store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.tick()
	a := store.Appointment{
		ID:            uuid.New(),
		BranchID:      p.BranchID,
		CustomerName:  p.CustomerName,
		CustomerPhone: p.CustomerPhone,
		VehiclePlate:  p.VehiclePlate,
		Notes:         p.Notes,
		ScheduledAt:   p.ScheduledAt.In(schedule.Zone),
		Status:        store.AppointmentPending,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	m.appointments[a.ID] = a
	return a, nil
}

func (m *memoryRepo) GetAppointment(_ context.Context, id uuid.UUID) (store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return store.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memoryRepo) ListApprovedAppointmentTimes(_ context.Context, branchID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, a := range m.appointments {
		if a.BranchID == branchID && a.Status == store.AppointmentApproved &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, a.ScheduledAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memoryRepo) ApproveAppointment(_ context.Context, id uuid.UUID, window schedule.TimeWindow, capacity int) (store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.appointments[id]
	if !ok {
		return store.Appointment{}, store.ErrNotFound
	}
	switch current.Status {
	case store.AppointmentCancelled:
		return store.Appointment{}, store.ErrAppointmentCancelled
	case store.AppointmentApproved:
		return current, nil
	}
	used := 0
	for _, a := range m.appointments {
		if a.ID != id && a.BranchID == current.BranchID && a.Status == store.AppointmentApproved && window.Contains(a.ScheduledAt) {
			used++
		}
	}
	if used >= capacity {
		return store.Appointment{}, store.ErrSlotFull
	}
	current.Status = store.AppointmentApproved
	current.UpdatedAt = m.tick()
	m.appointments[id] = current
	return current, nil
}

func (m *memoryRepo) CancelAppointment(_ context.Context, id uuid.UUID) (store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.appointments[id]
	if !ok {
		return store.Appointment{}, store.ErrNotFound
	}
	current.Status = store.AppointmentCancelled
	current.UpdatedAt = m.tick()
	m.appointments[id] = current
	return current, nil
}

func (m *memoryRepo) CreateEmergencyRequest(_ context.Context, p store.CreateEmergencyRequestParams) (store.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.tick()
	r := store.EmergencyRequest{
		ID:            uuid.New(),
		BranchID:      p.BranchID,
		CustomerName:  p.CustomerName,
		CustomerPhone: p.CustomerPhone,
		Description:   p.Description,
		Location:      p.Location,
		PricingID:     p.PricingID,
		Quote:         p.Quote,
		Status:        dispatch.RequestPending,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	m.requests = append(m.requests, r)
	return r, nil
}

func (m *memoryRepo) GetEmergencyRequest(_ context.Context, id uuid.UUID) (store.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.ID == id {
			return r, nil
		}
	}
	return store.EmergencyRequest{}, store.ErrNotFound
}

func (m *memoryRepo) ListEmergencyRequests(_ context.Context, limit, offset int32) ([]store.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.EmergencyRequest, 0)
	for i := len(m.requests) - 1 - int(offset); i >= 0 && len(out) < int(limit); i-- {
		out = append(out, m.requests[i])
	}
	return out, nil
}

func (m *memoryRepo) SetEmergencyRequestStatus(_ context.Context, id uuid.UUID, from, to dispatch.RequestStatus) (store.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.requests {
		if m.requests[i].ID == id && m.requests[i].Status == from {
			m.requests[i].Status = to
			m.requests[i].UpdatedAt = m.tick()
			return m.requests[i], nil
		}
	}
	return store.EmergencyRequest{}, store.ErrNotFound
}

type publishedEvent struct {
	Type events.Type
	Key  string
}

// recordingPublisher keeps every published event in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType events.Type, key string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Key: key})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// cancelOnBranchLookup cancels one appointment right before the branch is read, which is the
// point where an approval has already checked the appointment status.
type cancelOnBranchLookup struct {
	*memoryRepo
	appointmentID uuid.UUID
}

func (c *cancelOnBranchLookup) GetBranch(ctx context.Context, id uuid.UUID) (store.Branch, error) {
	if _, err := c.memoryRepo.CancelAppointment(ctx, c.appointmentID); err != nil {
		return store.Branch{}, err
	}
	return c.memoryRepo.GetBranch(ctx, id)
}
