// README: Handler tests for booking ownership, role checks and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	httpapi "ridebook/internal/http"
	"ridebook/internal/infra"
	"ridebook/internal/modules/booking"
	"ridebook/internal/modules/matching"
)

// tokenVerifier reads tokens of the form "role:uid".
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, raw string) (*infra.Identity, error) {
	role, uid, ok := strings.Cut(raw, ":")
	if !ok || uid == "" {
		return nil, errors.New("malformed token")
	}
	return &infra.Identity{UID: uid, Role: role}, nil
}

type testEnv struct {
	svc    *booking.Service
	router *gin.Engine
}

func newTestEnv(t *testing.T, drivers []matching.Driver, registry *memRegistry) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := booking.NewService(
		booking.NewStore(booking.NewMemoryDurable()),
		matching.NewStaticPool(drivers),
		matching.FirstSelector{},
		nil,
	)
	deps := httpapi.RouterDeps{Booking: svc, Verifier: tokenVerifier{}, Log: zap.NewNop()}
	if registry != nil {
		deps.Drivers = registry
	}
	return &testEnv{svc: svc, router: httpapi.NewRouter(deps)}
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type bookingResp struct {
	ID     string           `json:"id"`
	Status string           `json:"status"`
	Driver *matching.Driver `json:"driver"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) create(t *testing.T, rider string) bookingResp {
	t.Helper()
	w := e.do(http.MethodPost, "/api/bookings", map[string]string{
		"pickup": "A", "dropoff": "B", "date": "2025-01-01", "time": "09:00",
	}, "rider:"+rider)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	return decode[bookingResp](t, w)
}

func TestCreate_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	w := env.do(http.MethodPost, "/api/bookings", map[string]string{"pickup": "A"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	w := env.do(http.MethodPost, "/api/bookings", map[string]string{"pickup": "A", "dropoff": "B"}, "rider:r1")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields: expected 400, got %d", w.Code)
	}
	w = env.do(http.MethodPost, "/api/bookings", map[string]string{
		"pickup": "  ", "dropoff": "B", "date": "d", "time": "t",
	}, "rider:r1")
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank pickup: expected 400, got %d", w.Code)
	}
}

func TestCreateAndGet_Owner(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	b := env.create(t, "r1")
	if b.Status != "pending" || b.Driver != nil {
		t.Fatalf("unexpected created booking: %+v", b)
	}

	w := env.do(http.MethodGet, "/api/bookings/"+b.ID, nil, "rider:r1")
	if w.Code != http.StatusOK {
		t.Fatalf("owner get: expected 200, got %d", w.Code)
	}
	if got := decode[bookingResp](t, w); got.ID != b.ID {
		t.Fatalf("expected %s, got %s", b.ID, got.ID)
	}
}

func TestGet_OtherRiderForbidden(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	b := env.create(t, "r1")
	if w := env.do(http.MethodGet, "/api/bookings/"+b.ID, nil, "rider:r2"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/bookings/"+b.ID+"/cancel", nil, "rider:r2"); w.Code != http.StatusForbidden {
		t.Errorf("cancel by other rider: expected 403, got %d", w.Code)
	}
}

func TestGet_NotFound(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	if w := env.do(http.MethodGet, "/api/bookings/missing", nil, "rider:r1"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestList_ByClass(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	b1 := env.create(t, "r1")
	b2 := env.create(t, "r1")
	env.create(t, "r2")

	if w := env.do(http.MethodPost, "/api/bookings/"+b2.ID+"/cancel", map[string]string{"reason": "changed plans"}, "rider:r1"); w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}

	type listResp struct {
		Bookings []bookingResp `json:"bookings"`
	}
	active := decode[listResp](t, env.do(http.MethodGet, "/api/bookings?class=active", nil, "rider:r1"))
	if len(active.Bookings) != 1 || active.Bookings[0].ID != b1.ID {
		t.Fatalf("unexpected active list: %+v", active.Bookings)
	}
	historical := decode[listResp](t, env.do(http.MethodGet, "/api/bookings?class=historical", nil, "rider:r1"))
	if len(historical.Bookings) != 1 || historical.Bookings[0].ID != b2.ID {
		t.Fatalf("unexpected historical list: %+v", historical.Bookings)
	}

	if w := env.do(http.MethodGet, "/api/bookings?class=upcoming", nil, "rider:r1"); w.Code != http.StatusBadRequest {
		t.Errorf("unknown class: expected 400, got %d", w.Code)
	}
}

func TestAdminAssign(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	b := env.create(t, "r1")

	if w := env.do(http.MethodPost, "/api/admin/bookings/"+b.ID+"/assign", nil, "rider:r1"); w.Code != http.StatusForbidden {
		t.Fatalf("rider on admin route: expected 403, got %d", w.Code)
	}

	w := env.do(http.MethodPost, "/api/admin/bookings/"+b.ID+"/assign", nil, "admin:ops")
	if w.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	got := decode[bookingResp](t, w)
	if got.Status != "confirmed" || got.Driver == nil || got.Driver.ID != matching.DefaultDrivers[0].ID {
		t.Fatalf("unexpected assignment: %+v", got)
	}

	// a repeated trigger reports the assignment that already happened
	w = env.do(http.MethodPost, "/api/admin/bookings/"+b.ID+"/assign", nil, "admin:ops")
	if w.Code != http.StatusOK {
		t.Fatalf("second assign: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	again := decode[bookingResp](t, w)
	if again.Status != "confirmed" || again.Driver == nil || again.Driver.ID != got.Driver.ID {
		t.Fatalf("second assign changed the booking: %+v", again)
	}
	if w := env.do(http.MethodPost, "/api/bookings/"+b.ID+"/cancel", nil, "rider:r1"); w.Code != http.StatusConflict {
		t.Errorf("cancel confirmed: expected 409, got %d", w.Code)
	}
}

func TestAdminAssign_CancelledBookingConflicts(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	b := env.create(t, "r1")
	if w := env.do(http.MethodPost, "/api/bookings/"+b.ID+"/cancel", nil, "rider:r1"); w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/admin/bookings/"+b.ID+"/assign", nil, "admin:ops"); w.Code != http.StatusConflict {
		t.Errorf("assign cancelled: expected 409, got %d", w.Code)
	}
}

func TestAdminAssign_EmptyPool(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	b := env.create(t, "r1")
	if w := env.do(http.MethodPost, "/api/admin/bookings/"+b.ID+"/assign", nil, "admin:ops"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestComplete_RequiresAssignedDriver(t *testing.T) {
	env := newTestEnv(t, matching.DefaultDrivers, nil)
	b := env.create(t, "r1")
	path := "/api/bookings/" + b.ID + "/complete"

	if w := env.do(http.MethodPost, path, nil, "rider:r1"); w.Code != http.StatusForbidden {
		t.Fatalf("rider complete: expected 403, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, path, nil, "admin:ops"); w.Code != http.StatusConflict {
		t.Fatalf("complete pending: expected 409, got %d", w.Code)
	}

	env.do(http.MethodPost, "/api/admin/bookings/"+b.ID+"/assign", nil, "admin:ops")
	assigned := matching.DefaultDrivers[0].ID.String()

	if w := env.do(http.MethodPost, path, nil, "driver:someone-else"); w.Code != http.StatusForbidden {
		t.Fatalf("other driver: expected 403, got %d", w.Code)
	}
	w := env.do(http.MethodPost, path, nil, "driver:"+assigned)
	if w.Code != http.StatusOK {
		t.Fatalf("assigned driver: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if got := decode[bookingResp](t, w); got.Status != "completed" {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if w := env.do(http.MethodGet, "/health", nil, ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
