package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"garage/rescue/internal/config"
	"garage/rescue/internal/dispatch"
	"garage/rescue/internal/events"
	"garage/rescue/internal/schedule"
	"garage/rescue/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hoanKiem = dispatch.GeoPoint{Latitude: 21.0285, Longitude: 105.8542}
	cauGiay  = dispatch.GeoPoint{Latitude: 21.0362, Longitude: 105.7906}
	longBien = dispatch.GeoPoint{Latitude: 21.0480, Longitude: 105.8880}
	saigon   = dispatch.GeoPoint{Latitude: 10.7769, Longitude: 106.7009}
)

type testEnv struct {
	repo    *memoryRepo
	events  *recordingPublisher
	handler http.Handler
}

func testConfig() config.Config {
	return config.Config{
		Env:      "test",
		HTTP:     config.HTTPConfig{AllowedOrigins: []string{"*"}},
		Booking:  config.BookingConfig{WindowMinutes: 30, CapacityPerWindow: 1},
		Dispatch: config.DispatchConfig{DefaultCount: 5, MaxRadiusKm: 50},
	}
}

func newTestEnv(t *testing.T, auth *AuthMiddleware) *testEnv {
	t.Helper()
	repo := newMemoryRepo()
	pub := &recordingPublisher{}
	srv := NewWithDeps(testConfig(), zerolog.Nop(), Deps{Repo: repo, Publisher: pub, Auth: auth})
	return &testEnv{repo: repo, events: pub, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addBranch(t *testing.T, name string, loc dispatch.GeoPoint, open, close string, active bool) store.Branch {
	t.Helper()
	o, err := schedule.ParseTimeOfDay(open)
	require.NoError(t, err)
	c, err := schedule.ParseTimeOfDay(close)
	require.NoError(t, err)
	b, err := e.repo.CreateBranch(context.Background(), store.CreateBranchParams{
		Name: name, Phone: "0900000000", Address: name + " street",
		Location: loc, OpenTime: o, CloseTime: c, IsActive: active,
	})
	require.NoError(t, err)
	return b
}

func (e *testEnv) addPricing(t *testing.T, base, perKm int64) {
	t.Helper()
	_, err := e.repo.InsertPricing(context.Background(), decimal.NewFromInt(base), decimal.NewFromInt(perKm), "seed")
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	srv := NewWithDeps(testConfig(), zerolog.Nop(), Deps{
		Repo: newMemoryRepo(),
		Checks: map[string]func(context.Context) error{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return assert.AnError },
		},
	})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.NotEqual(t, "ok", resp.Checks["redis"])
}

func TestFindNearestOrdersActiveBranches(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBranch(t, "Saigon", saigon, "08:00", "17:00", true)
	env.addBranch(t, "Cau Giay", cauGiay, "08:00", "17:00", true)
	env.addBranch(t, "Closed", hoanKiem, "08:00", "17:00", false)
	env.addBranch(t, "Long Bien", longBien, "08:00", "17:00", true)
	env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "17:00", true)

	rec := env.do(t, http.MethodPost, "/v1/emergency/nearest", map[string]interface{}{
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude, "count": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[NearestResponse](t, rec)
	require.Len(t, resp.Branches, 3)
	assert.Equal(t, "Hoan Kiem", resp.Branches[0].Name)
	assert.Equal(t, "Long Bien", resp.Branches[1].Name)
	assert.Equal(t, "Cau Giay", resp.Branches[2].Name)
	assert.Zero(t, resp.Branches[0].DistanceKm)

	rec = env.do(t, http.MethodPost, "/v1/emergency/nearest", map[string]interface{}{
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[NearestResponse](t, rec).Branches, 4)
}

func TestFindNearestWithoutBranchesReturnsEmptyList(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/v1/emergency/nearest", map[string]interface{}{"latitude": 0, "longitude": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(mustField(t, rec, "branches")))
}

func TestFindNearestValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := map[string]interface{}{
		"missing latitude": map[string]interface{}{"longitude": 105.8},
		"latitude range":   map[string]interface{}{"latitude": 91, "longitude": 105.8},
		"longitude range":  map[string]interface{}{"latitude": 21, "longitude": -181},
		"unknown field":    map[string]interface{}{"latitude": 21, "longitude": 105, "zoom": 3},
		"malformed":        `{"latitude":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/emergency/nearest", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestQuoteWithoutPricingIsUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "17:00", true)

	rec := env.do(t, http.MethodPost, "/v1/emergency/quote", map[string]interface{}{
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude,
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, errPricingNotConfigured, decode[APIError](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/v1/emergency/pricing", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQuoteUsesNearestBranchAndLatestPricing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "17:00", true)
	env.addBranch(t, "Cau Giay", cauGiay, "08:00", "17:00", true)
	env.addPricing(t, 10000, 1000)
	env.addPricing(t, 50000, 10000)

	rec := env.do(t, http.MethodPost, "/v1/emergency/quote", map[string]interface{}{
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[QuoteResponse](t, rec)
	assert.Equal(t, "Hoan Kiem", resp.Branch.Name)
	assert.Equal(t, int64(2), resp.PricingID)
	assert.True(t, resp.Quote.Total.Equal(decimal.NewFromInt(50000)), resp.Quote.Total.String())
}

func TestQuoteForExplicitBranch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "17:00", true)
	far := env.addBranch(t, "Cau Giay", cauGiay, "08:00", "17:00", true)
	inactive := env.addBranch(t, "Closed", longBien, "08:00", "17:00", false)
	env.addPricing(t, 50000, 10000)

	rec := env.do(t, http.MethodPost, "/v1/emergency/quote", map[string]interface{}{
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude, "branch_id": far.ID.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[QuoteResponse](t, rec)
	assert.Equal(t, far.ID, resp.Branch.BranchID)
	assert.InDelta(t, dispatch.Distance(hoanKiem, cauGiay), resp.Quote.DistanceKm, 1e-9)
	want := decimal.NewFromInt(50000).Add(decimal.NewFromInt(10000).Mul(decimal.NewFromFloat(resp.Quote.DistanceKm)))
	assert.True(t, resp.Quote.Total.Equal(want), "got %s want %s", resp.Quote.Total, want)

	rec = env.do(t, http.MethodPost, "/v1/emergency/quote", map[string]interface{}{
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude, "branch_id": inactive.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/emergency/quote", map[string]interface{}{
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude, "branch_id": uuid.NewString(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPricingHistoryIsAppendOnly(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/emergency/pricing", `{"base_price": 50000, "price_per_km": "10000.5"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/v1/emergency/pricing", `{"base_price": "60000", "price_per_km": 12000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/emergency/pricing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[PricingResponse](t, rec)
	assert.True(t, current.BasePrice.Equal(decimal.NewFromInt(60000)))
	assert.Equal(t, "anonymous", current.CreatedBy)

	rec = env.do(t, http.MethodGet, "/v1/emergency/pricing/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]PricingResponse](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].ID)
	assert.True(t, history[1].PricePerKm.Equal(decimal.RequireFromString("10000.5")))
	assert.Contains(t, env.events.types(), events.TypePricingUpdated)
}

func TestPricingRejectsNegativeAndMissing(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/v1/emergency/pricing", `{"base_price": -1, "price_per_km": 10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/emergency/pricing", `{"base_price": 10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBranchValidatesHours(t *testing.T) {
	env := newTestEnv(t, nil)
	body := map[string]interface{}{
		"name": "Dong Da", "phone": "0241234567", "address": "1 Ton Duc Thang",
		"latitude": 21.0181, "longitude": 105.8295, "open_time": "08:00", "close_time": "17:30",
	}
	rec := env.do(t, http.MethodPost, "/v1/branches", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[BranchResponse](t, rec)
	assert.True(t, created.IsActive)
	assert.Equal(t, "17:30", created.CloseTime)

	body["open_time"] = "08:15"
	rec = env.do(t, http.MethodPost, "/v1/branches", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body["open_time"] = "25:00"
	rec = env.do(t, http.MethodPost, "/v1/branches", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/branches/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/branches/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/branches/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeactivatedBranchLeavesDispatch(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "17:00", true)

	rec := env.do(t, http.MethodPatch, "/v1/branches/"+b.ID.String()+"/status", map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/emergency/nearest", map[string]interface{}{
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[NearestResponse](t, rec).Branches)
}

func TestBranchesNearby(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBranch(t, "Cau Giay", cauGiay, "08:00", "17:00", true)
	env.addBranch(t, "Long Bien", longBien, "08:00", "17:00", true)
	env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "17:00", true)
	env.addBranch(t, "Saigon", saigon, "08:00", "17:00", true)

	rec := env.do(t, http.MethodGet, "/v1/branches/nearby?lat=21.0285&lon=105.8542&radius_km=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[NearbyResponse](t, rec)
	require.Len(t, resp.Branches, 2)
	assert.Equal(t, "Hoan Kiem", resp.Branches[0].Name)
	assert.Equal(t, "Long Bien", resp.Branches[1].Name)

	rec = env.do(t, http.MethodGet, "/v1/branches/nearby?lat=21.0285&lon=105.8542&radius_km=5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[NearbyResponse](t, rec)
	assert.Equal(t, 50.0, resp.RadiusKm)
	assert.Len(t, resp.Branches, 3)

	rec = env.do(t, http.MethodGet, "/v1/branches/nearby?lat=95&lon=105", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/branches/nearby?lon=105", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/branches/nearby?lat=21&lon=105&radius_km=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBranchWindows(t *testing.T) {
	env := newTestEnv(t, nil)
	day := env.addBranch(t, "Day", hoanKiem, "08:00", "10:00", true)
	night := env.addBranch(t, "Night", hoanKiem, "22:00", "01:00", true)

	rec := env.do(t, http.MethodGet, "/v1/branches/"+day.ID.String()+"/windows?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[WindowsResponse](t, rec)
	require.Len(t, resp.Windows, 4)
	assert.True(t, resp.Windows[0].Start.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, schedule.Zone)))
	assert.True(t, resp.Windows[3].End.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, schedule.Zone)))

	rec = env.do(t, http.MethodGet, "/v1/branches/"+night.ID.String()+"/windows?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[WindowsResponse](t, rec)
	require.Len(t, resp.Windows, 6)
	assert.True(t, resp.Windows[5].End.Equal(time.Date(2026, 3, 3, 1, 0, 0, 0, schedule.Zone)))

	rec = env.do(t, http.MethodGet, "/v1/branches/"+day.ID.String()+"/windows?date=02-03-2026", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func bookAt(t *testing.T, env *testEnv, branchID uuid.UUID, at string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, http.MethodPost, "/v1/branches/"+branchID.String()+"/appointments", map[string]interface{}{
		"customer_name": "Nguyen Van A", "customer_phone": "0912345678", "vehicle_plate": "29A-12345",
		"scheduled_at": at,
	})
}

func TestBookingAndAvailability(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "10:00", true)

	rec := bookAt(t, env, b.ID, "2026-03-02T08:10:00+07:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[AppointmentResponse](t, rec)
	assert.Equal(t, string(store.AppointmentPending), first.Status)
	require.NotNil(t, first.Window)
	assert.True(t, first.Window.Start.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, schedule.Zone)))

	// Pending bookings do not consume capacity.
	rec = bookAt(t, env, b.ID, "2026-03-02T01:20:00Z")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[AppointmentResponse](t, rec)

	rec = env.do(t, http.MethodPatch, "/v1/appointments/"+first.ID+"/status", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, env.events.types(), events.TypeAppointmentApproved)

	rec = env.do(t, http.MethodGet, "/v1/branches/"+b.ID.String()+"/availability?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	avail := decode[AvailabilityResponse](t, rec)
	require.Len(t, avail.Slots, 4)
	assert.Equal(t, 1, avail.Slots[0].UsedCount)
	assert.True(t, avail.Slots[0].IsFull)
	assert.Equal(t, 0, avail.Slots[0].Remaining)
	for _, slot := range avail.Slots[1:] {
		assert.False(t, slot.IsFull)
		assert.Equal(t, 1, slot.Remaining)
	}

	rec = bookAt(t, env, b.ID, "2026-03-02T08:25:00+07:00")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPatch, "/v1/appointments/"+second.ID+"/status", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPatch, "/v1/appointments/"+first.ID+"/status", map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPatch, "/v1/appointments/"+second.ID+"/status", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPatch, "/v1/appointments/"+first.ID+"/status", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveLosesToConcurrentCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "10:00", true)
	rec := bookAt(t, env, b.ID, "2026-03-02T08:10:00+07:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	id, err := uuid.Parse(appt.ID)
	require.NoError(t, err)

	racing := &cancelOnBranchLookup{memoryRepo: env.repo, appointmentID: id}
	pub := &recordingPublisher{}
	handler := NewWithDeps(testConfig(), zerolog.Nop(), Deps{Repo: racing, Publisher: pub}).Handler()

	req := httptest.NewRequest(http.MethodPatch, "/v1/appointments/"+appt.ID+"/status",
		bytes.NewBufferString(`{"status":"approved"}`))
	req.Header.Set("Content-Type", "application/json")
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)

	assert.Equal(t, http.StatusConflict, out.Code, out.Body.String())
	assert.Equal(t, "appointment is cancelled", decode[APIError](t, out).Error)
	assert.Empty(t, pub.types())

	stored, err := env.repo.GetAppointment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.AppointmentCancelled, stored.Status)

	_, err = env.repo.ApproveAppointment(context.Background(), id, schedule.TimeWindow{
		Start: time.Date(2026, 3, 2, 8, 0, 0, 0, schedule.Zone),
		End:   time.Date(2026, 3, 2, 8, 30, 0, 0, schedule.Zone),
	}, 1)
	assert.ErrorIs(t, err, store.ErrAppointmentCancelled)
}

func TestBookingOutsideHours(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.addBranch(t, "Hoan Kiem", hoanKiem, "08:00", "10:00", true)
	closed := env.addBranch(t, "Closed", hoanKiem, "08:00", "10:00", false)

	assert.Equal(t, http.StatusBadRequest, bookAt(t, env, b.ID, "2026-03-02T10:00:00+07:00").Code)
	assert.Equal(t, http.StatusBadRequest, bookAt(t, env, b.ID, "2026-03-02T07:59:00+07:00").Code)
	assert.Equal(t, http.StatusConflict, bookAt(t, env, closed.ID, "2026-03-02T08:00:00+07:00").Code)
	assert.Equal(t, http.StatusNotFound, bookAt(t, env, uuid.New(), "2026-03-02T08:00:00+07:00").Code)
}

func TestOvernightBookingBelongsToPreviousShift(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.addBranch(t, "Night", hoanKiem, "22:00", "02:00", true)

	rec := bookAt(t, env, b.ID, "2026-03-03T01:40:00+07:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	require.NotNil(t, appt.Window)
	assert.True(t, appt.Window.Start.Equal(time.Date(2026, 3, 3, 1, 30, 0, 0, schedule.Zone)))

	rec = env.do(t, http.MethodPatch, "/v1/appointments/"+appt.ID+"/status", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/branches/"+b.ID.String()+"/availability?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decode[AvailabilityResponse](t, rec)
	require.Len(t, avail.Slots, 8)
	assert.True(t, avail.Slots[7].IsFull)
}

func TestEmergencyRequestLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBranch(t, "Long Bien", longBien, "08:00", "17:00", true)
	env.addPricing(t, 50000, 10000)

	rec := env.do(t, http.MethodPost, "/v1/emergency/requests", map[string]interface{}{
		"customer_name": "Tran B", "customer_phone": "0987654321", "description": "flat tyre",
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[EmergencyRequestResponse](t, rec)
	assert.Equal(t, string(dispatch.RequestPending), created.Status)
	assert.Greater(t, created.Quote.DistanceKm, 0.0)

	path := "/v1/emergency/requests/" + created.ID + "/status"
	steps := []struct {
		status string
		code   int
	}{
		{"completed", http.StatusConflict},
		{"dispatched", http.StatusOK},
		{"arrived", http.StatusOK},
		{"dispatched", http.StatusConflict},
		{"completed", http.StatusOK},
		{"cancelled", http.StatusConflict},
	}
	for _, step := range steps {
		rec = env.do(t, http.MethodPatch, path, map[string]string{"status": step.status})
		assert.Equal(t, step.code, rec.Code, "moving to %s: %s", step.status, rec.Body.String())
	}
	assert.Equal(t, "request is already completed", decode[APIError](t, rec).Error)

	rec = env.do(t, http.MethodPatch, path, map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/emergency/requests/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(dispatch.RequestCompleted), decode[EmergencyRequestResponse](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/v1/emergency/requests?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EmergencyRequestResponse](t, rec), 1)

	assert.Equal(t, []events.Type{
		events.TypeEmergencyRequested,
		events.TypeEmergencyStatusChanged,
		events.TypeEmergencyStatusChanged,
		events.TypeEmergencyStatusChanged,
	}, env.events.types())
}

func TestEmergencyRequestWithoutBranches(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addPricing(t, 50000, 10000)
	rec := env.do(t, http.MethodPost, "/v1/emergency/requests", map[string]interface{}{
		"customer_name": "Tran B", "customer_phone": "0987654321",
		"latitude": hoanKiem.Latitude, "longitude": hoanKiem.Longitude,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, env.events.types())
}

var testSecret = []byte("test-secret")

const testIssuer = "http://keycloak.test/realms/garage"

func testAuth() *AuthMiddleware {
	kf := func(*jwt.Token) (interface{}, error) { return testSecret, nil }
	return newAuthMiddleware(kf, nil, []string{testIssuer}, zerolog.Nop())
}

func signToken(t *testing.T, issuer string, roles ...string) string {
	t.Helper()
	claims := &UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		PreferredUsername: "manager1",
	}
	claims.RealmAccess.Roles = roles
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, testAuth())

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/branches", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/branches", nil,
		"Authorization", "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/branches", nil,
		"Authorization", signToken(t, "http://evil.test/realms/garage")).Code)

	staff := signToken(t, testIssuer, "garage-staff")
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/branches", nil, "Authorization", staff).Code)

	pricing := `{"base_price": 1, "price_per_km": 1}`
	assert.Equal(t, http.StatusForbidden,
		env.do(t, http.MethodPost, "/v1/emergency/pricing", pricing, "Authorization", staff).Code)

	manager := signToken(t, testIssuer, RoleManager)
	rec := env.do(t, http.MethodPost, "/v1/emergency/pricing", pricing, "Authorization", manager)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "manager1", decode[PricingResponse](t, rec).CreatedBy)
}

func mustField(t *testing.T, rec *httptest.ResponseRecorder, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	raw, ok := m[field]
	require.True(t, ok, "missing field %s", field)
	return raw
}
