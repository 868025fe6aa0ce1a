package server

import (
	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/schedule"
	"garage/rescue/internal/store"
)

func mapBranch(b store.Branch) BranchResponse {
	return BranchResponse{
		ID:        b.ID.String(),
		Name:      b.Name,
		Phone:     b.Phone,
		Address:   b.Address,
		Location:  b.Location,
		OpenTime:  b.OpenTime.String(),
		CloseTime: b.CloseTime.String(),
		IsActive:  b.IsActive,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func mapBranches(rows []store.Branch) []BranchResponse {
	out := make([]BranchResponse, 0, len(rows))
	for _, b := range rows {
		out = append(out, mapBranch(b))
	}
	return out
}

func mapAppointment(a store.Appointment, window *schedule.TimeWindow) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID.String(),
		BranchID:      a.BranchID.String(),
		CustomerName:  a.CustomerName,
		CustomerPhone: a.CustomerPhone,
		VehiclePlate:  a.VehiclePlate,
		Notes:         a.Notes,
		ScheduledAt:   a.ScheduledAt,
		Window:        window,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func mapPricing(p dispatch.Pricing) PricingResponse {
	return PricingResponse{
		ID:         p.ID,
		BasePrice:  p.BasePrice,
		PricePerKm: p.PricePerKm,
		CreatedBy:  p.CreatedBy,
		CreatedAt:  p.CreatedAt,
	}
}

func mapEmergencyRequest(r store.EmergencyRequest) EmergencyRequestResponse {
	return EmergencyRequestResponse{
		ID:            r.ID.String(),
		BranchID:      r.BranchID.String(),
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		Description:   r.Description,
		Location:      r.Location,
		PricingID:     r.PricingID,
		Quote:         r.Quote,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func locationFromPointers(lat, lon *float64) dispatch.GeoPoint {
	var p dispatch.GeoPoint
	if lat != nil {
		p.Latitude = *lat
	}
	if lon != nil {
		p.Longitude = *lon
	}
	return p
}
