package store

import (
	"context"
	"fmt"
	"time"

	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/schedule"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Branch is a garage branch with its coordinates and daily opening hours.
type Branch struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	Address   string
	Location  dispatch.GeoPoint
	OpenTime  schedule.TimeOfDay
	CloseTime schedule.TimeOfDay
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DispatchLocation projects the branch onto the fields used for ranking.
func (b Branch) DispatchLocation() dispatch.BranchLocation {
	return dispatch.BranchLocation{
		ID:       b.ID,
		Name:     b.Name,
		Phone:    b.Phone,
		Address:  b.Address,
		Location: b.Location,
		IsActive: b.IsActive,
	}
}

// CreateBranchParams holds the fields of a new branch.
type CreateBranchParams struct {
	Name      string
	Phone     string
	Address   string
	Location  dispatch.GeoPoint
	OpenTime  schedule.TimeOfDay
	CloseTime schedule.TimeOfDay
	IsActive  bool
}

const branchColumns = `id, name, phone, address, latitude, longitude,
       to_char(open_time, 'HH24:MI'), to_char(close_time, 'HH24:MI'),
       is_active, created_at, updated_at`

func scanBranch(row pgx.Row) (Branch, error) {
	var b Branch
	var openRaw, closeRaw string
	if err := row.Scan(&b.ID, &b.Name, &b.Phone, &b.Address, &b.Location.Latitude, &b.Location.Longitude,
		&openRaw, &closeRaw, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Branch{}, err
	}
	var err error
	if b.OpenTime, err = schedule.ParseTimeOfDay(openRaw); err != nil {
		return Branch{}, fmt.Errorf("branch %s open time: %w", b.ID, err)
	}
	if b.CloseTime, err = schedule.ParseTimeOfDay(closeRaw); err != nil {
		return Branch{}, fmt.Errorf("branch %s close time: %w", b.ID, err)
	}
	return b, nil
}

func collectBranches(rows pgx.Rows) ([]Branch, error) {
	defer rows.Close()

	branches := make([]Branch, 0)
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// CreateBranch inserts a branch and returns the stored row.
func (s *Store) CreateBranch(ctx context.Context, p CreateBranchParams) (Branch, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO branches (name, phone, address, latitude, longitude, open_time, close_time, is_active)
		VALUES ($1, $2, $3, $4, $5, $6::time, $7::time, $8)
		RETURNING `+branchColumns,
		p.Name, p.Phone, p.Address, p.Location.Latitude, p.Location.Longitude,
		p.OpenTime.String(), p.CloseTime.String(), p.IsActive,
	)
	return scanBranch(row)
}

// GetBranch loads a single branch.
func (s *Store) GetBranch(ctx context.Context, id uuid.UUID) (Branch, error) {
	b, err := scanBranch(s.pool.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id))
	if err != nil {
		return Branch{}, notFound(err)
	}
	return b, nil
}

// ListBranches returns every branch in display order.
func (s *Store) ListBranches(ctx context.Context) ([]Branch, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+branchColumns+` FROM branches ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectBranches(rows)
}

// ListActiveBranches returns the branches that take part in dispatch, in display order.
func (s *Store) ListActiveBranches(ctx context.Context) ([]Branch, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+branchColumns+` FROM branches WHERE is_active ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectBranches(rows)
}

// SetBranchActive toggles whether the branch participates in dispatch.
func (s *Store) SetBranchActive(ctx context.Context, id uuid.UUID, active bool) (Branch, error) {
	b, err := scanBranch(s.pool.QueryRow(ctx, `
		UPDATE branches SET is_active = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+branchColumns, id, active))
	if err != nil {
		return Branch{}, notFound(err)
	}
	return b, nil
}

// UpdateBranchHours changes the daily opening hours.
func (s *Store) UpdateBranchHours(ctx context.Context, id uuid.UUID, open, close schedule.TimeOfDay) (Branch, error) {
	b, err := scanBranch(s.pool.QueryRow(ctx, `
		UPDATE branches SET open_time = $2::time, close_time = $3::time, updated_at = now()
		WHERE id = $1
		RETURNING `+branchColumns, id, open.String(), close.String()))
	if err != nil {
		return Branch{}, notFound(err)
	}
	return b, nil
}
