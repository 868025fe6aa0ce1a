package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/events"
	"garage/rescue/internal/store"

	"github.com/google/uuid"
)

var errBranchUnavailable = errors.New("no active branch available")

// handleFindNearest godoc
// @Title Nearest branches
// @Description Ranks active branches by great-circle distance from the customer. count defaults to the configured value.
// @Resource Emergency
// @Accept json
// @Produce json
// @Param request body NearestRequest true "Customer location"
// @Success 200 {object} NearestResponse
// @Route /v1/emergency/nearest [post]
func (s *Server) handleFindNearest(w http.ResponseWriter, r *http.Request) {
	var req NearestRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}
	customer := locationFromPointers(req.Latitude, req.Longitude)
	if err := customer.Validate(); err != nil {
		s.writeDomainError(w, err, "invalid coordinates")
		return
	}

	count := req.Count
	if count <= 0 {
		count = s.cfg.Dispatch.DefaultCount
	}

	active, err := s.activeLocations(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to load branches")
		return
	}
	s.writeJSON(w, http.StatusOK, NearestResponse{
		Customer: customer,
		Branches: dispatch.FindNearest(customer, active, count),
	})
}

// handleQuote godoc
// @Title Emergency price quote
// @Description Quotes the trip from the given branch, or from the nearest active branch, using the current pricing.
// @Resource Emergency
// @Accept json
// @Produce json
// @Param request body QuoteRequest true "Customer location"
// @Success 200 {object} QuoteResponse
// @Failure 503 {object} APIError
// @Route /v1/emergency/quote [post]
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}

	quote, err := s.quote(r.Context(), locationFromPointers(req.Latitude, req.Longitude), req.BranchID)
	if err != nil {
		s.writeDomainError(w, err, "failed to quote")
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// handleCreateEmergencyRequest godoc
// @Title Request emergency assistance
// @Description Chooses a branch, prices the trip and stores a pending request.
// @Resource Emergency
// @Accept json
// @Produce json
// @Param request body CreateEmergencyRequest true "Request payload"
// @Success 201 {object} EmergencyRequestResponse
// @Failure 503 {object} APIError
// @Route /v1/emergency/requests [post]
func (s *Server) handleCreateEmergencyRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateEmergencyRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}

	customer := locationFromPointers(req.Latitude, req.Longitude)
	quote, err := s.quote(r.Context(), customer, req.BranchID)
	if err != nil {
		s.writeDomainError(w, err, "failed to quote")
		return
	}

	created, err := s.repo.CreateEmergencyRequest(r.Context(), store.CreateEmergencyRequestParams{
		BranchID:      quote.Branch.BranchID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Description:   req.Description,
		Location:      customer,
		PricingID:     quote.PricingID,
		Quote:         quote.Quote,
	})
	if err != nil {
		s.writeDomainError(w, err, "failed to create emergency request")
		return
	}

	resp := mapEmergencyRequest(created)
	s.publish(r, events.TypeEmergencyRequested, resp.ID, resp)
	s.log.Info().
		Str("request_id", resp.ID).
		Str("branch_id", resp.BranchID).
		Float64("distance_km", created.Quote.DistanceKm).
		Str("total", created.Quote.Total.String()).
		Msg("emergency request created")
	s.writeJSON(w, http.StatusCreated, resp)
}

// handleListEmergencyRequests godoc
// @Title List emergency requests
// @Description Newest first.
// @Resource Emergency
// @Produce json
// @Param limit query int false "Max items (default 50)"
// @Param offset query int false "Offset for pagination"
// @Success 200 {array} EmergencyRequestResponse
// @Route /v1/emergency/requests [get]
func (s *Server) handleListEmergencyRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := s.paginate(r, 50)
	rows, err := s.repo.ListEmergencyRequests(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, err, "failed to list emergency requests")
		return
	}
	out := make([]EmergencyRequestResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapEmergencyRequest(row))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleGetEmergencyRequest godoc
// @Title Get emergency request
// @Description Returns a single emergency request.
// @Resource Emergency
// @Produce json
// @Param requestID path string true "Request ID"
// @Success 200 {object} EmergencyRequestResponse
// @Route /v1/emergency/requests/{requestID} [get]
func (s *Server) handleGetEmergencyRequest(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseUUIDParam(r, "requestID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidRequestID, err.Error())
		return
	}
	row, err := s.repo.GetEmergencyRequest(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "emergency request not found")
		return
	}
	s.writeJSON(w, http.StatusOK, mapEmergencyRequest(row))
}

// handleUpdateEmergencyStatus godoc
// @Title Advance emergency request
// @Description pending -> dispatched -> arrived -> completed; cancelled from any open state. Other moves return 409.
// @Resource Emergency
// @Accept json
// @Produce json
// @Param requestID path string true "Request ID"
// @Param request body UpdateEmergencyStatusRequest true "Status payload"
// @Success 200 {object} EmergencyRequestResponse
// @Failure 409 {object} APIError
// @Route /v1/emergency/requests/{requestID}/status [patch]
func (s *Server) handleUpdateEmergencyStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseUUIDParam(r, "requestID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidRequestID, err.Error())
		return
	}
	var req UpdateEmergencyStatusRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}

	current, err := s.repo.GetEmergencyRequest(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "emergency request not found")
		return
	}

	target := dispatch.RequestStatus(req.Status)
	if current.Status.Terminal() {
		s.writeError(w, http.StatusConflict, "request is already "+string(current.Status), nil)
		return
	}
	if !dispatch.CanTransition(current.Status, target) {
		s.writeError(w, http.StatusConflict, "invalid status transition",
			fmt.Sprintf("%s -> %s", current.Status, target))
		return
	}

	updated, err := s.repo.SetEmergencyRequestStatus(r.Context(), id, current.Status, target)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusConflict, "request status changed concurrently", nil)
			return
		}
		s.writeDomainError(w, err, "failed to update emergency request")
		return
	}

	resp := mapEmergencyRequest(updated)
	s.publish(r, events.TypeEmergencyStatusChanged, resp.ID, map[string]string{
		"request_id": resp.ID,
		"from":       string(current.Status),
		"to":         resp.Status,
	})
	s.writeJSON(w, http.StatusOK, resp)
}

// quote picks the serving branch and prices the trip with the latest pricing row.
func (s *Server) quote(ctx context.Context, customer dispatch.GeoPoint, branchID string) (QuoteResponse, error) {
	if err := customer.Validate(); err != nil {
		observeQuote("invalid", 0)
		return QuoteResponse{}, err
	}

	branch, err := s.chooseBranch(ctx, customer, branchID)
	if err != nil {
		observeQuote("no_branch", 0)
		return QuoteResponse{}, err
	}

	pricing, err := s.repo.LatestPricing(ctx)
	if err != nil {
		observeQuote("error", 0)
		return QuoteResponse{}, err
	}
	estimate, err := dispatch.Estimate(branch.DistanceKm, pricing)
	if err != nil {
		if errors.Is(err, dispatch.ErrNotConfigured) {
			observeQuote("not_configured", 0)
		} else {
			observeQuote("error", 0)
		}
		return QuoteResponse{}, err
	}

	observeQuote("ok", branch.DistanceKm)
	return QuoteResponse{Branch: branch, PricingID: pricing.ID, Quote: estimate}, nil
}

func (s *Server) chooseBranch(ctx context.Context, customer dispatch.GeoPoint, branchID string) (dispatch.NearbyBranchResult, error) {
	if branchID != "" {
		id, err := uuid.Parse(branchID)
		if err != nil {
			return dispatch.NearbyBranchResult{}, fmt.Errorf("%w: branch_id: %v", dispatch.ErrInvalidArgument, err)
		}
		b, err := s.repo.GetBranch(ctx, id)
		if err != nil {
			return dispatch.NearbyBranchResult{}, err
		}
		if !b.IsActive {
			return dispatch.NearbyBranchResult{}, fmt.Errorf("%w: branch %s is inactive", errBranchUnavailable, b.ID)
		}
		return dispatch.NearbyBranchResult{
			BranchID:   b.ID,
			Name:       b.Name,
			Phone:      b.Phone,
			Address:    b.Address,
			DistanceKm: dispatch.Distance(customer, b.Location),
		}, nil
	}

	locations, err := s.activeLocations(ctx)
	if err != nil {
		return dispatch.NearbyBranchResult{}, err
	}
	nearest := dispatch.FindNearest(customer, locations, 1)
	if len(nearest) == 0 {
		return dispatch.NearbyBranchResult{}, errBranchUnavailable
	}
	return nearest[0], nil
}
