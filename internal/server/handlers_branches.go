package server

import (
	"context"
	"fmt"
	"net/http"

	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/schedule"
	"garage/rescue/internal/store"
)

// handleListBranches godoc
// @Title List branches
// @Description Returns every branch, active or not.
// @Resource Branches
// @Produce json
// @Success 200 {array} BranchResponse
// @Route /v1/branches [get]
func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListBranches(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to list branches")
		return
	}
	s.writeJSON(w, http.StatusOK, mapBranches(rows))
}

// handleCreateBranch godoc
// @Title Create branch
// @Description Registers a branch with its coordinates and opening hours.
// @Resource Branches
// @Accept json
// @Produce json
// @Param request body CreateBranchRequest true "Branch payload"
// @Success 201 {object} BranchResponse
// @Route /v1/branches [post]
func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req CreateBranchRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}

	open, closeAt, err := s.parseHours(req.OpenTime, req.CloseTime)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid opening hours", err.Error())
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	branch, err := s.repo.CreateBranch(r.Context(), store.CreateBranchParams{
		Name:      req.Name,
		Phone:     req.Phone,
		Address:   req.Address,
		Location:  locationFromPointers(req.Latitude, req.Longitude),
		OpenTime:  open,
		CloseTime: closeAt,
		IsActive:  active,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to create branch")
		return
	}
	s.branches.Invalidate(r.Context())

	s.log.Info().Str("branch_id", branch.ID.String()).Str("actor", actor(r.Context())).Msg("branch created")
	s.writeJSON(w, http.StatusCreated, mapBranch(branch))
}

// handleGetBranch godoc
// @Title Get branch
// @Description Returns a single branch.
// @Resource Branches
// @Produce json
// @Param branchID path string true "Branch ID"
// @Success 200 {object} BranchResponse
// @Route /v1/branches/{branchID} [get]
func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseUUIDParam(r, "branchID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidBranchID, err.Error())
		return
	}
	branch, err := s.repo.GetBranch(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "branch not found")
		return
	}
	s.writeJSON(w, http.StatusOK, mapBranch(branch))
}

// handleUpdateBranchStatus godoc
// @Title Activate or deactivate branch
// @Description Inactive branches are excluded from dispatch and booking.
// @Resource Branches
// @Accept json
// @Produce json
// @Param branchID path string true "Branch ID"
// @Param request body UpdateBranchStatusRequest true "Status payload"
// @Success 200 {object} BranchResponse
// @Route /v1/branches/{branchID}/status [patch]
func (s *Server) handleUpdateBranchStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseUUIDParam(r, "branchID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidBranchID, err.Error())
		return
	}
	var req UpdateBranchStatusRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}

	branch, err := s.repo.SetBranchActive(r.Context(), id, *req.IsActive)
	if err != nil {
		s.writeDomainError(w, err, "failed to update branch status")
		return
	}
	s.branches.Invalidate(r.Context())
	s.writeJSON(w, http.StatusOK, mapBranch(branch))
}

// handleUpdateBranchHours godoc
// @Title Change opening hours
// @Description Sets open and close times. A close time at or before the open time is an overnight shift.
// @Resource Branches
// @Accept json
// @Produce json
// @Param branchID path string true "Branch ID"
// @Param request body UpdateBranchHoursRequest true "Hours payload"
// @Success 200 {object} BranchResponse
// @Route /v1/branches/{branchID}/hours [patch]
func (s *Server) handleUpdateBranchHours(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseUUIDParam(r, "branchID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidBranchID, err.Error())
		return
	}
	var req UpdateBranchHoursRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}
	open, closeAt, err := s.parseHours(req.OpenTime, req.CloseTime)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid opening hours", err.Error())
		return
	}

	branch, err := s.repo.UpdateBranchHours(r.Context(), id, open, closeAt)
	if err != nil {
		s.writeDomainError(w, err, "failed to update branch hours")
		return
	}
	s.branches.Invalidate(r.Context())
	s.writeJSON(w, http.StatusOK, mapBranch(branch))
}

// handleListBranchesNearby godoc
// @Title Branches within a radius
// @Description Active branches within radius_km of a point, closest first. radius_km defaults to and is capped at the configured maximum.
// @Resource Branches
// @Produce json
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Param radius_km query number false "Search radius in km"
// @Success 200 {object} NearbyResponse
// @Route /v1/branches/nearby [get]
func (s *Server) handleListBranchesNearby(w http.ResponseWriter, r *http.Request) {
	lat, err := parseFloatQuery(r, "lat")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid lat", err.Error())
		return
	}
	lon, err := parseFloatQuery(r, "lon")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid lon", err.Error())
		return
	}

	radius := s.cfg.Dispatch.MaxRadiusKm
	if r.URL.Query().Get("radius_km") != "" {
		radius, err = parseFloatQuery(r, "radius_km")
		if err != nil || radius <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid radius_km", "must be a positive number")
			return
		}
		radius = min(radius, s.cfg.Dispatch.MaxRadiusKm)
	}

	center := dispatch.GeoPoint{Latitude: lat, Longitude: lon}
	if err := center.Validate(); err != nil {
		s.writeDomainError(w, err, "invalid coordinates")
		return
	}

	active, err := s.activeLocations(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to load branches")
		return
	}
	results, err := dispatch.NewIndex(active).WithinRadius(center, radius)
	if err != nil {
		s.writeDomainError(w, err, "invalid search")
		return
	}

	s.writeJSON(w, http.StatusOK, NearbyResponse{Center: center, RadiusKm: radius, Branches: results})
}

// parseHours parses open/close times and requires them to sit on the booking slot grid.
func (s *Server) parseHours(openRaw, closeRaw string) (schedule.TimeOfDay, schedule.TimeOfDay, error) {
	open, err := schedule.ParseTimeOfDay(openRaw)
	if err != nil {
		return 0, 0, err
	}
	closeAt, err := schedule.ParseTimeOfDay(closeRaw)
	if err != nil {
		return 0, 0, err
	}
	minutes := s.cfg.Booking.WindowMinutes
	if !schedule.AlignedToGrid(open, minutes) || !schedule.AlignedToGrid(closeAt, minutes) {
		return 0, 0, fmt.Errorf("%w: opening hours must be multiples of %d minutes", schedule.ErrInvalidArgument, minutes)
	}
	return open, closeAt, nil
}

func (s *Server) activeLocations(ctx context.Context) ([]dispatch.BranchLocation, error) {
	rows, err := s.branches.ListActiveBranches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dispatch.BranchLocation, 0, len(rows))
	for _, b := range rows {
		out = append(out, b.DispatchLocation())
	}
	return out, nil
}
