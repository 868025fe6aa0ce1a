package dispatch

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Pricing is one row of the append-only emergency pricing history.
type Pricing struct {
	ID         int64
	BasePrice  decimal.Decimal
	PricePerKm decimal.Decimal
	CreatedBy  string
	CreatedAt  time.Time
}

// PriceQuote is the estimated cost of an emergency trip.
type PriceQuote struct {
	BasePrice  decimal.Decimal `json:"base_price"`
	PricePerKm decimal.Decimal `json:"price_per_km"`
	DistanceKm float64         `json:"distance_km"`
	Total      decimal.Decimal `json:"total"`
}

// Estimate prices a trip of distanceKm with the given pricing record, which must be the most
// recently created one. A nil pricing means none has ever been recorded.
func Estimate(distanceKm float64, pricing *Pricing) (PriceQuote, error) {
	if pricing == nil {
		return PriceQuote{}, ErrNotConfigured
	}
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return PriceQuote{}, fmt.Errorf("%w: distance must be a non-negative number, got %v", ErrInvalidArgument, distanceKm)
	}

	total := pricing.BasePrice.Add(pricing.PricePerKm.Mul(decimal.NewFromFloat(distanceKm)))

	return PriceQuote{
		BasePrice:  pricing.BasePrice,
		PricePerKm: pricing.PricePerKm,
		DistanceKm: distanceKm,
		Total:      total,
	}, nil
}

// ValidatePricing rejects negative rates before they are appended to the history.
func ValidatePricing(basePrice, pricePerKm decimal.Decimal) error {
	if basePrice.IsNegative() {
		return fmt.Errorf("%w: base price must not be negative", ErrInvalidArgument)
	}
	if pricePerKm.IsNegative() {
		return fmt.Errorf("%w: price per km must not be negative", ErrInvalidArgument)
	}
	return nil
}
