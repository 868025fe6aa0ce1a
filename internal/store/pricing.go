package store

import (
	"context"
	"errors"

	"garage/rescue/internal/dispatch"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// The emergency_pricing table is append-only: this file only ever INSERTs and SELECTs.

func scanPricing(row pgx.Row) (dispatch.Pricing, error) {
	var p dispatch.Pricing
	var base, perKm pgtype.Numeric
	if err := row.Scan(&p.ID, &base, &perKm, &p.CreatedBy, &p.CreatedAt); err != nil {
		return dispatch.Pricing{}, err
	}
	var err error
	if p.BasePrice, err = fromNumeric(base); err != nil {
		return dispatch.Pricing{}, err
	}
	if p.PricePerKm, err = fromNumeric(perKm); err != nil {
		return dispatch.Pricing{}, err
	}
	return p, nil
}

// InsertPricing appends a new pricing row; previous rows stay untouched.
func (s *Store) InsertPricing(ctx context.Context, basePrice, pricePerKm decimal.Decimal, createdBy string) (dispatch.Pricing, error) {
	base, err := toNumeric(basePrice)
	if err != nil {
		return dispatch.Pricing{}, err
	}
	perKm, err := toNumeric(pricePerKm)
	if err != nil {
		return dispatch.Pricing{}, err
	}
	return scanPricing(s.pool.QueryRow(ctx, `
		INSERT INTO emergency_pricing (base_price, price_per_km, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, base_price, price_per_km, created_by, created_at`,
		base, perKm, createdBy,
	))
}

// LatestPricing returns the most recently created pricing row, or nil when none exists.
func (s *Store) LatestPricing(ctx context.Context) (*dispatch.Pricing, error) {
	p, err := scanPricing(s.pool.QueryRow(ctx, `
		SELECT id, base_price, price_per_km, created_by, created_at
		FROM emergency_pricing
		ORDER BY created_at DESC, id DESC
		LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListPricingHistory returns up to limit pricing rows, newest first.
func (s *Store) ListPricingHistory(ctx context.Context, limit int32) ([]dispatch.Pricing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, base_price, price_per_km, created_by, created_at
		FROM emergency_pricing
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]dispatch.Pricing, 0)
	for rows.Next() {
		p, err := scanPricing(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, p)
	}
	return history, rows.Err()
}
