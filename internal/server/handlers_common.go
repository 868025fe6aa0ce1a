package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/schedule"
	"garage/rescue/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type APIError struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

const (
	errInvalidPayload       = "invalid payload"
	errInvalidBranchID      = "invalid branch id"
	errInvalidAppointmentID = "invalid appointment id"
	errInvalidRequestID     = "invalid request id"
	errPricingNotConfigured = "pricing not configured"
)

const maxPageLimit int32 = 200

func writeAPIError(w http.ResponseWriter, status int, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message, Details: details})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, details interface{}) {
	writeAPIError(w, status, message, details)
}

// writeDomainError maps sentinel errors from the domain and store packages onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidArgument), errors.Is(err, schedule.ErrInvalidArgument):
		s.writeError(w, http.StatusBadRequest, message, err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, message, err.Error())
	case errors.Is(err, dispatch.ErrNotConfigured):
		s.writeError(w, http.StatusServiceUnavailable, errPricingNotConfigured, nil)
	case errors.Is(err, store.ErrSlotFull), errors.Is(err, store.ErrAppointmentCancelled),
		errors.Is(err, errBranchUnavailable):
		s.writeError(w, http.StatusConflict, message, err.Error())
	default:
		s.log.Error().Err(err).Msg(message)
		s.writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func (s *Server) decodeAndValidate(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if err := s.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// validationDetails flattens validator errors into field -> rule pairs.
func validationDetails(err error) interface{} {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}

func (s *Server) parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	raw := chi.URLParam(r, key)
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(raw)
}

// paginate reads limit and offset from the query. Invalid values fall back to the defaults and
// limit never exceeds maxPageLimit.
func (s *Server) paginate(r *http.Request, defaultLimit int32) (limit int32, offset int32) {
	query := r.URL.Query()
	limit = defaultLimit
	offset = 0
	if l := query.Get("limit"); l != "" {
		if parsed, err := parseInt32(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if o := query.Get("offset"); o != "" {
		if parsed, err := parseInt32(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return
}

func parseInt32(value string) (int32, error) {
	if strings.TrimSpace(value) == "" {
		return 0, errors.New("empty value")
	}
	n64, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n64), nil
}

func parseFloatQuery(r *http.Request, key string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, errors.New(key + " is required")
	}
	return strconv.ParseFloat(raw, 64)
}
