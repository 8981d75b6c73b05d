/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/curie/internal/audit"
	"github.com/friendsincode/curie/internal/auth"
	"github.com/friendsincode/curie/internal/catalog"
	"github.com/friendsincode/curie/internal/dispatch"
	"github.com/friendsincode/curie/internal/eventbus"
	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/export"
	"github.com/friendsincode/curie/internal/ledger"
	"github.com/friendsincode/curie/internal/models"
	"github.com/friendsincode/curie/internal/orders"
	"github.com/friendsincode/curie/internal/planner"
	"github.com/friendsincode/curie/internal/reservation"
	"github.com/friendsincode/curie/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	router   chi.Router
	clock    *testClock
	bus      *eventbus.Memory
	product  *models.Product
	customer *models.Customer
	window   *models.CapacityWindow
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.Product{}, &models.Customer{}, &models.CapacityWindow{},
		&models.Reservation{}, &models.Order{}, &models.Dispatch{}, &models.AuditLog{},
	))

	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)}
	bus := eventbus.NewMemory()
	nop := zerolog.Nop()

	cat := catalog.NewService(db, nil, bus, nop)
	product := &models.Product{Code: "TEST", HalfLifeMinutes: 360, ShelfLifeMinutes: 480, SynthesisMinutes: 90, QCMinutes: 30, PackagingMinutes: 15}
	require.NoError(t, cat.CreateProduct(ctx, product))
	customer := &models.Customer{Code: "HOSP", TravelMinutes: 60}
	require.NoError(t, cat.CreateCustomer(ctx, customer))

	l := ledger.New(db, nop, ledger.WithClock(clock.Now))
	start := time.Date(2026, 6, 2, 4, 0, 0, 0, time.UTC)
	window := &models.CapacityWindow{StartTime: start, EndTime: start.Add(4 * time.Hour), CapacityMinutes: 120}
	require.NoError(t, l.CreateWindow(ctx, window))

	res := reservation.NewService(db, l, bus, nop, reservation.WithClock(clock.Now))
	p := planner.New(cat, nop, planner.WithClock(clock.Now))
	ord := orders.NewService(db, p, res, bus, nop, orders.WithClock(clock.Now))
	disp := dispatch.NewService(db, ord, cat, nop, dispatch.WithClock(clock.Now))
	store, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	exp := export.NewService(ord, l, p, store, nop)
	aud := audit.NewService(db, bus, nop)

	a := New(Deps{
		Catalog:      cat,
		Planner:      p,
		Ledger:       l,
		Reservations: res,
		Orders:       ord,
		Dispatch:     disp,
		Export:       exp,
		Audit:        aud,
		Bus:          bus,
	}, nop)
	r := chi.NewRouter()
	a.Routes(r)

	return &testServer{router: r, clock: clock, bus: bus, product: product, customer: customer, window: window}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(callerHeader, "clinic-a")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) hold(t *testing.T, minutes int) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/reservations", map[string]any{
		"window_id":         s.window.ID,
		"estimated_minutes": minutes,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	return body["reservation"].(map[string]any)["id"].(string)
}

func (s *testServer) orderBody(resID string) map[string]any {
	return map[string]any{
		"product_id":         s.product.ID,
		"customer_id":        s.customer.ID,
		"delivery_time":      time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC),
		"requested_activity": 100,
		"reservation_id":     resID,
	}
}

func TestCallerPrefersTokenClaims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(callerHeader, "spoofed")
	assert.Equal(t, "spoofed", caller(req))

	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{ClientID: "clinic-b"}))
	assert.Equal(t, "clinic-b", caller(req))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlanEndpoint(t *testing.T) {
	s := newTestServer(t)
	body := s.orderBody("")
	delete(body, "reservation_id")

	rec := s.do(t, http.MethodPost, "/api/v1/plan", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	plan := decodeBody(t, rec)
	assert.Equal(t, "145.6", plan["production_activity"])
	stages := plan["stages"].(map[string]any)
	assert.Equal(t, "2026-06-02T08:45:00Z", stages["synthesis_start"])
	assert.Equal(t, "2026-06-02T11:00:00Z", stages["dispatch"])
}

func TestPlanShelfLifeExceeded(t *testing.T) {
	s := newTestServer(t)
	body := s.orderBody("")
	delete(body, "reservation_id")
	body["target_time"] = time.Date(2026, 6, 2, 17, 0, 0, 0, time.UTC)

	rec := s.do(t, http.MethodPost, "/api/v1/plan", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	out := decodeBody(t, rec)
	assert.Equal(t, "shelf_life_exceeded", out["error"])
	assert.EqualValues(t, 15, out["over_minutes"])
}

func TestPlanRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/plan", map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decodeBody(t, rec)["error"])
}

func TestReservationHoldAndShortfall(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/reservations", map[string]any{
		"window_id":         s.window.ID,
		"estimated_minutes": 80,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assert.EqualValues(t, 900, created["expires_in_seconds"])
	r := created["reservation"].(map[string]any)
	assert.Equal(t, "TENTATIVE", r["status"])
	assert.Equal(t, "clinic-a", r["created_by"])

	rec = s.do(t, http.MethodPost, "/api/v1/reservations", map[string]any{
		"window_id":         s.window.ID,
		"estimated_minutes": 50,
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	rejected := decodeBody(t, rec)
	assert.Equal(t, "capacity_rejected", rejected["error"])
	assert.EqualValues(t, 50, rejected["requested"])
	assert.EqualValues(t, 40, rejected["available"])
	assert.EqualValues(t, 10, rejected["shortfall"])

	rec = s.do(t, http.MethodGet, "/api/v1/windows/"+s.window.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody(t, rec)
	assert.EqualValues(t, 80, snap["committed_minutes"])
	assert.EqualValues(t, 40, snap["available_minutes"])
}

func TestReservationByDoseCount(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/products", map[string]any{
		"code":               "FDG",
		"half_life_minutes":  109.77,
		"shelf_life_minutes": 600,
		"synthesis_minutes":  60,
		"qc_minutes":         30,
		"packaging_minutes":  15,
		"minutes_per_dose":   20,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	productID := decodeBody(t, rec)["id"].(string)

	rec = s.do(t, http.MethodPost, "/api/v1/reservations", map[string]any{
		"window_id":  s.window.ID,
		"product_id": productID,
		"dose_count": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	r := decodeBody(t, rec)["reservation"].(map[string]any)
	assert.EqualValues(t, 60, r["estimated_minutes"])
}

func TestConfirmExpiredReservation(t *testing.T) {
	s := newTestServer(t)
	id := s.hold(t, 30)
	s.clock.Advance(reservation.DefaultHold + time.Second)

	rec := s.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/confirm", nil)
	assert.Equal(t, http.StatusGone, rec.Code, rec.Body.String())
	assert.Equal(t, "reservation_expired", decodeBody(t, rec)["error"])
}

func TestCancelConfirmedReservationConflicts(t *testing.T) {
	s := newTestServer(t)
	id := s.hold(t, 30)

	rec := s.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody(t, rec)["error"])
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{
		"/api/v1/reservations/00000000-0000-0000-0000-000000000000",
		"/api/v1/orders/00000000-0000-0000-0000-000000000000",
		"/api/v1/windows/00000000-0000-0000-0000-000000000000",
		"/api/v1/products/00000000-0000-0000-0000-000000000000",
	} {
		rec := s.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestServer(t)
	resID := s.hold(t, 80)

	rec := s.do(t, http.MethodPost, "/api/v1/orders", s.orderBody(resID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decodeBody(t, rec)
	order := placed["order"].(map[string]any)
	orderID := order["id"].(string)
	assert.Equal(t, "pending", order["status"])

	rec = s.do(t, http.MethodGet, "/api/v1/orders?date=2026-06-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/dispatch", map[string]any{
		"batch_activity":   100,
		"calibration_time": time.Date(2026, 6, 2, 11, 0, 0, 0, time.UTC),
		"departed_at":      time.Date(2026, 6, 2, 11, 0, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dispatchID := decodeBody(t, rec)["id"].(string)

	rec = s.do(t, http.MethodPost, "/api/v1/dispatches/"+dispatchID+"/arrival", map[string]any{
		"arrived_at": time.Date(2026, 6, 2, 17, 0, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/dispatches/"+dispatchID+"/activity", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	readout := decodeBody(t, rec)
	assert.Equal(t, "100", readout["at_departure"])
	assert.Equal(t, "50", readout["at_delivery"])

	rec = s.do(t, http.MethodPost, "/api/v1/dispatches/"+dispatchID+"/arrival", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/windows/"+s.window.ID, nil)
	assert.EqualValues(t, 120, decodeBody(t, rec)["available_minutes"])
}

func TestOrdersListRequiresDate(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	s := newTestServer(t)
	resID := s.hold(t, 30)
	rec := s.do(t, http.MethodPost, "/api/v1/orders", s.orderBody(resID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/exports/2026-06-02", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeBody(t, rec)
	assert.Equal(t, "schedules/2026-06-02.json", out["key"])

	rec = s.do(t, http.MethodPost, "/api/v1/exports/June-2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseAuditFilters(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?actor=clinic-a&limit=5000&offset=10&start_time=2026-06-01T00:00:00Z&end_time=bogus", nil)
	f := parseAuditFilters(req)

	require.NotNil(t, f.Actor)
	assert.Equal(t, "clinic-a", *f.Actor)
	assert.Equal(t, 100, f.Limit, "out of range limit keeps the default")
	assert.Equal(t, 10, f.Offset)
	require.NotNil(t, f.StartTime)
	assert.Nil(t, f.EndTime)
}

func TestAuditList(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody(t, rec)
	assert.EqualValues(t, 0, out["total"])
	assert.EqualValues(t, 100, out["limit"])
}

func TestParseEventTypes(t *testing.T) {
	assert.Nil(t, parseEventTypes(""))
	assert.Equal(t,
		[]events.EventType{events.EventReservationCreated, events.EventOrderPlaced},
		parseEventTypes("reservation.created, order.placed,"),
	)
}

func TestEventsWebSocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws?types=" + string(events.EventWindowCreated)
	conn, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(ws.StatusNormalClosure, "")

	// The subscription is registered after the upgrade completes.
	received := make(chan map[string]any, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg map[string]any
		if json.Unmarshal(data, &msg) == nil {
			received <- msg
		}
	}()

	var msg map[string]any
	require.Eventually(t, func() bool {
		s.bus.Publish(events.EventWindowCreated, events.Payload{"window_id": "w-1"})
		select {
		case msg = <-received:
			return true
		default:
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, string(events.EventWindowCreated), msg["type"])
	assert.Equal(t, "w-1", msg["payload"].(map[string]any)["window_id"])
}
