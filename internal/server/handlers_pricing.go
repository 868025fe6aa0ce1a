package server

import (
	"net/http"

	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/events"
)

// handleGetPricing godoc
// @Title Current emergency pricing
// @Description Returns the most recently created pricing row. Responds 503 when none exists.
// @Resource Emergency
// @Produce json
// @Success 200 {object} PricingResponse
// @Failure 503 {object} APIError
// @Route /v1/emergency/pricing [get]
func (s *Server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	pricing, err := s.repo.LatestPricing(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to load pricing")
		return
	}
	if pricing == nil {
		s.writeDomainError(w, dispatch.ErrNotConfigured, errPricingNotConfigured)
		return
	}
	s.writeJSON(w, http.StatusOK, mapPricing(*pricing))
}

// handleListPricingHistory godoc
// @Title Emergency pricing history
// @Description Append-only pricing history, newest first.
// @Resource Emergency
// @Produce json
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {array} PricingResponse
// @Route /v1/emergency/pricing/history [get]
func (s *Server) handleListPricingHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := s.paginate(r, 50)
	rows, err := s.repo.ListPricingHistory(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err, "failed to list pricing history")
		return
	}
	out := make([]PricingResponse, 0, len(rows))
	for _, p := range rows {
		out = append(out, mapPricing(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleCreatePricing godoc
// @Title Update emergency pricing
// @Description Appends a new pricing row; earlier rows are kept as history.
// @Resource Emergency
// @Accept json
// @Produce json
// @Param request body CreatePricingRequest true "Pricing payload"
// @Success 201 {object} PricingResponse
// @Route /v1/emergency/pricing [post]
func (s *Server) handleCreatePricing(w http.ResponseWriter, r *http.Request) {
	var req CreatePricingRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, validationDetails(err))
		return
	}
	if err := dispatch.ValidatePricing(*req.BasePrice, *req.PricePerKm); err != nil {
		s.writeDomainError(w, err, "invalid pricing")
		return
	}

	pricing, err := s.repo.InsertPricing(r.Context(), *req.BasePrice, *req.PricePerKm, actor(r.Context()))
	if err != nil {
		s.writeDomainError(w, err, "failed to save pricing")
		return
	}

	resp := mapPricing(pricing)
	s.publish(r, events.TypePricingUpdated, "pricing", resp)
	s.log.Info().
		Int64("pricing_id", pricing.ID).
		Str("base_price", pricing.BasePrice.String()).
		Str("price_per_km", pricing.PricePerKm.String()).
		Str("actor", pricing.CreatedBy).
		Msg("emergency pricing updated")
	s.writeJSON(w, http.StatusCreated, resp)
}

// publish emits an event and only logs delivery failures.
func (s *Server) publish(r *http.Request, eventType events.Type, key string, data interface{}) {
	if err := s.publisher.Publish(r.Context(), eventType, key, data); err != nil {
		s.log.Warn().Err(err).Str("event_type", string(eventType)).Str("key", key).Msg("failed to publish event")
	}
}
