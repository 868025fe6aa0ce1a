package server

import (
	"time"

	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/schedule"

	"github.com/shopspring/decimal"
)

type HealthResponse struct {
	Status string            `json:"status"`
	Env    string            `json:"env"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

type CreateBranchRequest struct {
	Name      string   `json:"name" validate:"required,max=200"`
	Phone     string   `json:"phone" validate:"required,max=32"`
	Address   string   `json:"address" validate:"required,max=500"`
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	OpenTime  string   `json:"open_time" validate:"required"`
	CloseTime string   `json:"close_time" validate:"required"`
	IsActive  *bool    `json:"is_active"`
}

type UpdateBranchStatusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type UpdateBranchHoursRequest struct {
	OpenTime  string `json:"open_time" validate:"required"`
	CloseTime string `json:"close_time" validate:"required"`
}

type BranchResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Phone     string            `json:"phone"`
	Address   string            `json:"address"`
	Location  dispatch.GeoPoint `json:"location"`
	OpenTime  string            `json:"open_time"`
	CloseTime string            `json:"close_time"`
	IsActive  bool              `json:"is_active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type WindowsResponse struct {
	BranchID      string                `json:"branch_id"`
	Date          string                `json:"date"`
	WindowMinutes int                   `json:"window_minutes"`
	Windows       []schedule.TimeWindow `json:"windows"`
}

type AvailabilityResponse struct {
	BranchID          string                      `json:"branch_id"`
	Date              string                      `json:"date"`
	WindowMinutes     int                         `json:"window_minutes"`
	CapacityPerWindow int                         `json:"capacity_per_window"`
	Slots             []schedule.SlotAvailability `json:"slots"`
}

type CreateAppointmentRequest struct {
	CustomerName  string    `json:"customer_name" validate:"required,max=200"`
	CustomerPhone string    `json:"customer_phone" validate:"required,max=32"`
	VehiclePlate  string    `json:"vehicle_plate" validate:"required,max=32"`
	Notes         string    `json:"notes" validate:"max=2000"`
	ScheduledAt   time.Time `json:"scheduled_at" validate:"required"`
}

type UpdateAppointmentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=approved cancelled"`
}

type AppointmentResponse struct {
	ID            string               `json:"id"`
	BranchID      string               `json:"branch_id"`
	CustomerName  string               `json:"customer_name"`
	CustomerPhone string               `json:"customer_phone"`
	VehiclePlate  string               `json:"vehicle_plate"`
	Notes         string               `json:"notes,omitempty"`
	ScheduledAt   time.Time            `json:"scheduled_at"`
	Window        *schedule.TimeWindow `json:"window,omitempty"`
	Status        string               `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type CreatePricingRequest struct {
	BasePrice  *decimal.Decimal `json:"base_price" validate:"required"`
	PricePerKm *decimal.Decimal `json:"price_per_km" validate:"required"`
}

type PricingResponse struct {
	ID         int64           `json:"id"`
	BasePrice  decimal.Decimal `json:"base_price"`
	PricePerKm decimal.Decimal `json:"price_per_km"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

type NearestRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Count     int      `json:"count" validate:"gte=0,lte=50"`
}

type NearestResponse struct {
	Customer dispatch.GeoPoint             `json:"customer"`
	Branches []dispatch.NearbyBranchResult `json:"branches"`
}

type NearbyResponse struct {
	Center   dispatch.GeoPoint             `json:"center"`
	RadiusKm float64                       `json:"radius_km"`
	Branches []dispatch.NearbyBranchResult `json:"branches"`
}

type QuoteRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	BranchID  string   `json:"branch_id" validate:"omitempty,uuid"`
}

type QuoteResponse struct {
	Branch    dispatch.NearbyBranchResult `json:"branch"`
	PricingID int64                       `json:"pricing_id"`
	Quote     dispatch.PriceQuote         `json:"quote"`
}

type CreateEmergencyRequest struct {
	CustomerName  string   `json:"customer_name" validate:"required,max=200"`
	CustomerPhone string   `json:"customer_phone" validate:"required,max=32"`
	Description   string   `json:"description" validate:"max=2000"`
	Latitude      *float64 `json:"latitude" validate:"required,latitude"`
	Longitude     *float64 `json:"longitude" validate:"required,longitude"`
	BranchID      string   `json:"branch_id" validate:"omitempty,uuid"`
}

type UpdateEmergencyStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=dispatched arrived completed cancelled"`
}

type EmergencyRequestResponse struct {
	ID            string              `json:"id"`
	BranchID      string              `json:"branch_id"`
	CustomerName  string              `json:"customer_name"`
	CustomerPhone string              `json:"customer_phone"`
	Description   string              `json:"description,omitempty"`
	Location      dispatch.GeoPoint   `json:"location"`
	PricingID     int64               `json:"pricing_id"`
	Quote         dispatch.PriceQuote `json:"quote"`
	Status        string              `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
