package server

import (
	"errors"
	"net/http"
	"time"

	"garage/rescue/internal/events"
	"garage/rescue/internal/schedule"
	"garage/rescue/internal/store"
)

// handleListBranchWindows godoc
// @Title Booking windows for a day
// @Description Tiles the branch opening hours of the given date (+07:00) into booking windows.
// @Resource Appointments
// @Produce json
// @Param branchID path string true "Branch ID"
// @Param date query string true "Date as YYYY-MM-DD"
// @Success 200 {object} WindowsResponse
// @Route /v1/branches/{branchID}/windows [get]
func (s *Server) handleListBranchWindows(w http.ResponseWriter, r *http.Request) {
	branch, date, ok := s.branchAndDate(w, r)
	if !ok {
		return
	}
	windows, err := schedule.BuildWindows(date, branch.OpenTime, branch.CloseTime, s.cfg.Booking.WindowMinutes)
	if err != nil {
		s.writeDomainError(w, err, "failed to build windows")
		return
	}
	s.writeJSON(w, http.StatusOK, WindowsResponse{
		BranchID:      branch.ID.String(),
		Date:          date.Format(time.DateOnly),
		WindowMinutes: s.cfg.Booking.WindowMinutes,
		Windows:       windows,
	})
}

// handleGetBranchAvailability godoc
// @Title Slot availability for a day
// @Description Counts approved appointments per booking window of the given date.
// @Resource Appointments
// @Produce json
// @Param branchID path string true "Branch ID"
// @Param date query string true "Date as YYYY-MM-DD"
// @Success 200 {object} AvailabilityResponse
// @Route /v1/branches/{branchID}/availability [get]
func (s *Server) handleGetBranchAvailability(w http.ResponseWriter, r *http.Request) {
	branch, date, ok := s.branchAndDate(w, r)
	if !ok {
		return
	}
	windows, err := schedule.BuildWindows(date, branch.OpenTime, branch.CloseTime, s.cfg.Booking.WindowMinutes)
	if err != nil {
		s.writeDomainError(w, err, "failed to build windows")
		return
	}

	var booked []time.Time
	if len(windows) > 0 {
		booked, err = s.repo.ListApprovedAppointmentTimes(r.Context(), branch.ID, windows[0].Start, windows[len(windows)-1].End)
		if err != nil {
			s.writeDomainError(w, err, "failed to load appointments")
			return
		}
	}

	slots, err := schedule.Aggregate(booked, windows, s.cfg.Booking.CapacityPerWindow)
	if err != nil {
		s.writeDomainError(w, err, "failed to aggregate availability")
		return
	}
	s.writeJSON(w, http.StatusOK, AvailabilityResponse{
		BranchID:          branch.ID.String(),
		Date:              date.Format(time.DateOnly),
		WindowMinutes:     s.cfg.Booking.WindowMinutes,
		CapacityPerWindow: s.cfg.Booking.CapacityPerWindow,
		Slots:             slots,
	})
}

// handleCreateAppointment godoc
// @Title Book an appointment
// @Description Creates a pending appointment. scheduled_at must fall inside one of the branch windows and that window must not be full.
// @Resource Appointments
// @Accept json
// @Produce json
// @Param branchID path string true "Branch ID"
// @Param request body CreateAppointmentRequest true "Appointment payload"
// @Success 201 {object} AppointmentResponse
// @Failure 409 {object} APIError
// @Route /v1/branches/{branchID}/appointments [post]
func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	branchID, err := s.parseUUIDParam(r, "branchID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidBranchID, err.Error())
		return
	}
	var req CreateAppointmentRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}

	branch, err := s.repo.GetBranch(r.Context(), branchID)
	if err != nil {
		s.writeDomainError(w, err, "branch not found")
		return
	}
	if !branch.IsActive {
		s.writeError(w, http.StatusConflict, "branch is not accepting appointments", nil)
		return
	}

	window, found, err := s.windowFor(branch, req.ScheduledAt)
	if err != nil {
		s.writeDomainError(w, err, "failed to build windows")
		return
	}
	if !found {
		s.writeError(w, http.StatusBadRequest, "scheduled_at is outside opening hours", nil)
		return
	}

	booked, err := s.repo.ListApprovedAppointmentTimes(r.Context(), branch.ID, window.Start, window.End)
	if err != nil {
		s.writeDomainError(w, err, "failed to load appointments")
		return
	}
	if len(booked) >= s.cfg.Booking.CapacityPerWindow {
		s.writeDomainError(w, store.ErrSlotFull, "window is full")
		return
	}

	appt, err := s.repo.CreateAppointment(r.Context(), store.CreateAppointmentParams{
		BranchID:      branch.ID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		VehiclePlate:  req.VehiclePlate,
		Notes:         req.Notes,
		ScheduledAt:   req.ScheduledAt,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to create appointment")
		return
	}
	s.writeJSON(w, http.StatusCreated, mapAppointment(appt, &window))
}

// handleUpdateAppointmentStatus godoc
// @Title Approve or cancel an appointment
// @Description Approval re-checks the window capacity atomically. Cancelled appointments cannot be approved.
// @Resource Appointments
// @Accept json
// @Produce json
// @Param appointmentID path string true "Appointment ID"
// @Param request body UpdateAppointmentStatusRequest true "Status payload"
// @Success 200 {object} AppointmentResponse
// @Failure 409 {object} APIError
// @Route /v1/appointments/{appointmentID}/status [patch]
func (s *Server) handleUpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseUUIDParam(r, "appointmentID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidAppointmentID, err.Error())
		return
	}
	var req UpdateAppointmentStatusRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}

	current, err := s.repo.GetAppointment(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "appointment not found")
		return
	}

	target := store.AppointmentStatus(req.Status)
	if current.Status == target {
		s.writeJSON(w, http.StatusOK, mapAppointment(current, nil))
		return
	}
	if current.Status == store.AppointmentCancelled {
		s.writeError(w, http.StatusConflict, "appointment is cancelled", nil)
		return
	}

	if target == store.AppointmentCancelled {
		cancelled, err := s.repo.CancelAppointment(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err, "failed to cancel appointment")
			return
		}
		s.writeJSON(w, http.StatusOK, mapAppointment(cancelled, nil))
		return
	}

	branch, err := s.repo.GetBranch(r.Context(), current.BranchID)
	if err != nil {
		s.writeDomainError(w, err, "branch not found")
		return
	}
	window, found, err := s.windowFor(branch, current.ScheduledAt)
	if err != nil {
		s.writeDomainError(w, err, "failed to build windows")
		return
	}
	if !found {
		s.writeError(w, http.StatusConflict, "appointment no longer fits the branch opening hours", nil)
		return
	}

	approved, err := s.repo.ApproveAppointment(r.Context(), id, window, s.cfg.Booking.CapacityPerWindow)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSlotFull):
			s.writeError(w, http.StatusConflict, "window is full", nil)
			return
		case errors.Is(err, store.ErrAppointmentCancelled):
			s.writeError(w, http.StatusConflict, "appointment is cancelled", nil)
			return
		}
		s.writeDomainError(w, err, "failed to approve appointment")
		return
	}

	s.publish(r, events.TypeAppointmentApproved, approved.ID.String(), mapAppointment(approved, &window))
	s.writeJSON(w, http.StatusOK, mapAppointment(approved, &window))
}

// windowFor finds the booking window of branch that contains t. Overnight shifts mean t may
// belong to the previous day's hours.
func (s *Server) windowFor(branch store.Branch, t time.Time) (schedule.TimeWindow, bool, error) {
	local := t.In(schedule.Zone)
	for _, day := range []time.Time{local, local.AddDate(0, 0, -1)} {
		windows, err := schedule.BuildWindows(day, branch.OpenTime, branch.CloseTime, s.cfg.Booking.WindowMinutes)
		if err != nil {
			return schedule.TimeWindow{}, false, err
		}
		if window, ok := schedule.FindWindow(windows, t); ok {
			return window, true, nil
		}
	}
	return schedule.TimeWindow{}, false, nil
}

func (s *Server) branchAndDate(w http.ResponseWriter, r *http.Request) (store.Branch, time.Time, bool) {
	id, err := s.parseUUIDParam(r, "branchID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidBranchID, err.Error())
		return store.Branch{}, time.Time{}, false
	}
	date, err := schedule.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeDomainError(w, err, "invalid date")
		return store.Branch{}, time.Time{}, false
	}
	branch, err := s.repo.GetBranch(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "branch not found")
		return store.Branch{}, time.Time{}, false
	}
	return branch, date, true
}
