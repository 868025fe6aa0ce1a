package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"garage/rescue/internal/schedule"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AppointmentStatus is the booking state of a repair appointment.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentApproved  AppointmentStatus = "approved"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is a customer's booking at a branch.
type Appointment struct {
	ID            uuid.UUID
	BranchID      uuid.UUID
	CustomerName  string
	CustomerPhone string
	VehiclePlate  string
	Notes         string
	ScheduledAt   time.Time
	Status        AppointmentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateAppointmentParams holds the fields of a new pending appointment.
type CreateAppointmentParams struct {
	BranchID      uuid.UUID
	CustomerName  string
	CustomerPhone string
	VehiclePlate  string
	Notes         string
	ScheduledAt   time.Time
}

const appointmentColumns = `id, branch_id, customer_name, customer_phone, vehicle_plate, notes,
       scheduled_at, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(&a.ID, &a.BranchID, &a.CustomerName, &a.CustomerPhone, &a.VehiclePlate, &a.Notes,
		&a.ScheduledAt, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Appointment{}, err
	}
	a.Status = AppointmentStatus(status)
	a.ScheduledAt = a.ScheduledAt.In(schedule.Zone)
	return a, nil
}

// CreateAppointment stores a pending appointment.
func (s *Store) CreateAppointment(ctx context.Context, p CreateAppointmentParams) (Appointment, error) {
	return scanAppointment(s.pool.QueryRow(ctx, `
		INSERT INTO appointments (branch_id, customer_name, customer_phone, vehicle_plate, notes, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+appointmentColumns,
		p.BranchID, p.CustomerName, p.CustomerPhone, p.VehiclePlate, p.Notes, p.ScheduledAt.UTC(),
	))
}

// GetAppointment loads a single appointment.
func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (Appointment, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return Appointment{}, notFound(err)
	}
	return a, nil
}

// ListApprovedAppointmentTimes returns the scheduled times of approved appointments of a branch
// in [from, to).
func (s *Store) ListApprovedAppointmentTimes(ctx context.Context, branchID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE branch_id = $1 AND status = 'approved' AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at`,
		branchID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	times := make([]time.Time, 0)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		times = append(times, ts.In(schedule.Zone))
	}
	return times, rows.Err()
}

// CancelAppointment marks an appointment cancelled.
func (s *Store) CancelAppointment(ctx context.Context, id uuid.UUID) (Appointment, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx, `
		UPDATE appointments SET status = 'cancelled', updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns, id))
	if err != nil {
		return Appointment{}, notFound(err)
	}
	return a, nil
}

// ApproveAppointment approves an appointment unless its window already holds capacity approved
// bookings. The appointment row is locked against a concurrent cancel and the branch row is
// locked so concurrent approvals for one branch are serialised. Approving an already approved
// appointment returns it unchanged.
func (s *Store) ApproveAppointment(ctx context.Context, id uuid.UUID, window schedule.TimeWindow, capacity int) (Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Appointment{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanAppointment(tx.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Appointment{}, notFound(err)
	}
	switch current.Status {
	case AppointmentCancelled:
		return Appointment{}, ErrAppointmentCancelled
	case AppointmentApproved:
		return current, nil
	}

	if _, err := tx.Exec(ctx, `SELECT 1 FROM branches WHERE id = $1 FOR UPDATE`, current.BranchID); err != nil {
		return Appointment{}, fmt.Errorf("locking branch: %w", err)
	}

	var used int
	if err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE branch_id = $1 AND status = 'approved' AND id <> $2
		  AND scheduled_at >= $3 AND scheduled_at < $4`,
		current.BranchID, id, window.Start.UTC(), window.End.UTC(),
	).Scan(&used); err != nil {
		return Appointment{}, fmt.Errorf("counting approved appointments: %w", err)
	}
	if used >= capacity {
		return Appointment{}, ErrSlotFull
	}

	approved, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments SET status = 'approved', updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+appointmentColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, ErrAppointmentCancelled
	}
	if err != nil {
		return Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Appointment{}, fmt.Errorf("commit: %w", err)
	}
	return approved, nil
}
