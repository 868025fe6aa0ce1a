package store

import (
	"context"
	"time"

	"garage/rescue/internal/dispatch"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// EmergencyRequest is a roadside-assistance request routed to a branch with the quote it was given.
type EmergencyRequest struct {
	ID            uuid.UUID
	BranchID      uuid.UUID
	CustomerName  string
	CustomerPhone string
	Description   string
	Location      dispatch.GeoPoint
	PricingID     int64
	Quote         dispatch.PriceQuote
	Status        dispatch.RequestStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateEmergencyRequestParams holds the fields of a new request.
type CreateEmergencyRequestParams struct {
	BranchID      uuid.UUID
	CustomerName  string
	CustomerPhone string
	Description   string
	Location      dispatch.GeoPoint
	PricingID     int64
	Quote         dispatch.PriceQuote
}

const emergencyColumns = `id, branch_id, customer_name, customer_phone, description, latitude, longitude,
       distance_km, pricing_id, base_price, price_per_km, estimated_total, status, created_at, updated_at`

func scanEmergencyRequest(row pgx.Row) (EmergencyRequest, error) {
	var r EmergencyRequest
	var base, perKm, total pgtype.Numeric
	var status string
	if err := row.Scan(&r.ID, &r.BranchID, &r.CustomerName, &r.CustomerPhone, &r.Description,
		&r.Location.Latitude, &r.Location.Longitude, &r.Quote.DistanceKm, &r.PricingID,
		&base, &perKm, &total, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return EmergencyRequest{}, err
	}
	var err error
	if r.Quote.BasePrice, err = fromNumeric(base); err != nil {
		return EmergencyRequest{}, err
	}
	if r.Quote.PricePerKm, err = fromNumeric(perKm); err != nil {
		return EmergencyRequest{}, err
	}
	if r.Quote.Total, err = fromNumeric(total); err != nil {
		return EmergencyRequest{}, err
	}
	r.Status = dispatch.RequestStatus(status)
	return r, nil
}

// CreateEmergencyRequest stores a pending request together with its quote.
func (s *Store) CreateEmergencyRequest(ctx context.Context, p CreateEmergencyRequestParams) (EmergencyRequest, error) {
	base, err := toNumeric(p.Quote.BasePrice)
	if err != nil {
		return EmergencyRequest{}, err
	}
	perKm, err := toNumeric(p.Quote.PricePerKm)
	if err != nil {
		return EmergencyRequest{}, err
	}
	total, err := toNumeric(p.Quote.Total.Round(2))
	if err != nil {
		return EmergencyRequest{}, err
	}
	return scanEmergencyRequest(s.pool.QueryRow(ctx, `
		INSERT INTO emergency_requests (branch_id, customer_name, customer_phone, description, latitude, longitude,
		                                distance_km, pricing_id, base_price, price_per_km, estimated_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+emergencyColumns,
		p.BranchID, p.CustomerName, p.CustomerPhone, p.Description, p.Location.Latitude, p.Location.Longitude,
		p.Quote.DistanceKm, p.PricingID, base, perKm, total,
	))
}

// GetEmergencyRequest loads a single request.
func (s *Store) GetEmergencyRequest(ctx context.Context, id uuid.UUID) (EmergencyRequest, error) {
	r, err := scanEmergencyRequest(s.pool.QueryRow(ctx, `SELECT `+emergencyColumns+` FROM emergency_requests WHERE id = $1`, id))
	if err != nil {
		return EmergencyRequest{}, notFound(err)
	}
	return r, nil
}

// ListEmergencyRequests pages through requests, newest first.
func (s *Store) ListEmergencyRequests(ctx context.Context, limit, offset int32) ([]EmergencyRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+emergencyColumns+`
		FROM emergency_requests
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]EmergencyRequest, 0)
	for rows.Next() {
		r, err := scanEmergencyRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// SetEmergencyRequestStatus moves a request from one status to another. The update only applies
// while the row still holds the expected from status; otherwise ErrNotFound is returned.
func (s *Store) SetEmergencyRequestStatus(ctx context.Context, id uuid.UUID, from, to dispatch.RequestStatus) (EmergencyRequest, error) {
	r, err := scanEmergencyRequest(s.pool.QueryRow(ctx, `
		UPDATE emergency_requests SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+emergencyColumns, id, string(from), string(to)))
	if err != nil {
		return EmergencyRequest{}, notFound(err)
	}
	return r, nil
}
