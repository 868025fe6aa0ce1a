package server

import (
	"context"
	"time"

	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/schedule"
	"garage/rescue/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository is the persistence surface the handlers use; *store.Store implements it.
type Repository interface {
	CreateBranch(ctx context.Context, p store.CreateBranchParams) (store.Branch, error)
	GetBranch(ctx context.Context, id uuid.UUID) (store.Branch, error)
	ListBranches(ctx context.Context) ([]store.Branch, error)
	ListActiveBranches(ctx context.Context) ([]store.Branch, error)
	SetBranchActive(ctx context.Context, id uuid.UUID, active bool) (store.Branch, error)
	UpdateBranchHours(ctx context.Context, id uuid.UUID, open, close schedule.TimeOfDay) (store.Branch, error)

	InsertPricing(ctx context.Context, basePrice, pricePerKm decimal.Decimal, createdBy string) (dispatch.Pricing, error)
	LatestPricing(ctx context.Context) (*dispatch.Pricing, error)
	ListPricingHistory(ctx context.Context, limit int32) ([]dispatch.Pricing, error)

	CreateAppointment(ctx context.Context, p store.CreateAppointmentParams) (store.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (store.Appointment, error)
	ListApprovedAppointmentTimes(ctx context.Context, branchID uuid.UUID, from, to time.Time) ([]time.Time, error)
	ApproveAppointment(ctx context.Context, id uuid.UUID, window schedule.TimeWindow, capacity int) (store.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (store.Appointment, error)

	CreateEmergencyRequest(ctx context.Context, p store.CreateEmergencyRequestParams) (store.EmergencyRequest, error)
	GetEmergencyRequest(ctx context.Context, id uuid.UUID) (store.EmergencyRequest, error)
	ListEmergencyRequests(ctx context.Context, limit, offset int32) ([]store.EmergencyRequest, error)
	SetEmergencyRequestStatus(ctx context.Context, id uuid.UUID, from, to dispatch.RequestStatus) (store.EmergencyRequest, error)
}

// ActiveBranchSource provides the active branch snapshot used for dispatch; *cache.BranchCache
// implements it.
type ActiveBranchSource interface {
	ListActiveBranches(ctx context.Context) ([]store.Branch, error)
	Invalidate(ctx context.Context)
}

var _ Repository = (*store.Store)(nil)

type passThroughBranches struct {
	repo Repository
}

func (p passThroughBranches) ListActiveBranches(ctx context.Context) ([]store.Branch, error) {
	return p.repo.ListActiveBranches(ctx)
}

func (passThroughBranches) Invalidate(context.Context) {}
