package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"gap-trading-bot/internal/cycle"
	"gap-trading-bot/internal/events"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
	"gap-trading-bot/internal/ops"
	"gap-trading-bot/internal/prediction"
	"gap-trading-bot/internal/quality"
	"gap-trading-bot/internal/session"
	"gap-trading-bot/internal/sizing"
)

type nullPredictor struct{}

func (nullPredictor) Predict(_ context.Context, in prediction.Input) (prediction.Prediction, error) {
	return prediction.Prediction{GapID: in.Gap.ID, FillProbability: 0.5, ModelVersion: "test"}, nil
}

func newTestServer(t *testing.T) (*Server, *ops.Controller) {
	t.Helper()
	controller := ops.NewController(nil, ops.Deps{
		Cycles:    cycle.NewTracker(nil),
		Sessions:  session.NewTracker(nil),
		Scorer:    quality.NewScorer(nil),
		Predictor: nullPredictor{},
		Sizer:     sizing.NewSizer(nil, zerolog.Nop()),
		Logger:    zerolog.Nop(),
	})
	if err := controller.Start(); err != nil {
		t.Fatalf("controller start: %v", err)
	}

	adminHash, err := HashPassword("admin-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	viewerHash, err := HashPassword("viewer-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	operators := []Operator{
		{Username: "admin", PasswordHash: adminHash, Role: RoleAdmin},
		{Username: "viewer", PasswordHash: viewerHash, Role: RoleViewer},
	}
	tracker := gap.NewTracker(0)
	tracker.Add([]gap.Event{{
		ID:        "gap-api-1",
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe5m,
		Direction: market.DirectionUp,
		PriceLow:  100,
		PriceHigh: 104,
		Size:      4,
		Status:    gap.StatusActive,
	}})

	srv := NewServer(nil, controller, nil, tracker, events.NewBus(), operators, "test-secret", zerolog.Nop())
	return srv, controller
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, router http.Handler, username, password string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Token
}

func TestHealthOpen(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
}

func TestHealthDegradedOnEmergency(t *testing.T) {
	srv, controller := newTestServer(t)
	if err := controller.EmergencyStop("test"); err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	w := doJSON(t, srv.Router(), http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health during emergency = %d, want 503", w.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", w.Code)
	}
}

func TestDashboardRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	if w := doJSON(t, router, http.MethodGet, "/api/v1/dashboard", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/api/v1/dashboard", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: got %d, want 401", w.Code)
	}

	token := login(t, router, "viewer", "viewer-pass")
	w := doJSON(t, router, http.MethodGet, "/api/v1/dashboard", token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: got %d, want 200", w.Code)
	}
	var snap ops.DashboardSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State != ops.StateActiveTrading {
		t.Errorf("state = %s", snap.State)
	}
}

func TestControlRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	viewerToken := login(t, router, "viewer", "viewer-pass")
	if w := doJSON(t, router, http.MethodPost, "/api/v1/control/pause", viewerToken, nil); w.Code != http.StatusForbidden {
		t.Errorf("viewer pause: got %d, want 403", w.Code)
	}
}

func TestPauseAndResume(t *testing.T) {
	srv, controller := newTestServer(t)
	router := srv.Router()
	token := login(t, router, "admin", "admin-pass")

	w := doJSON(t, router, http.MethodPost, "/api/v1/control/pause", token,
		map[string]string{"reason": "maintenance window"})
	if w.Code != http.StatusOK {
		t.Fatalf("pause: %d %s", w.Code, w.Body.String())
	}
	if controller.State() != ops.StatePaused {
		t.Errorf("state = %s, want PAUSED", controller.State())
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/control/resume", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume: %d", w.Code)
	}
	if controller.State() != ops.StateActiveTrading {
		t.Errorf("state = %s, want ACTIVE_TRADING", controller.State())
	}
}

func TestEmergencyStopEndpoint(t *testing.T) {
	srv, controller := newTestServer(t)
	router := srv.Router()
	token := login(t, router, "admin", "admin-pass")

	w := doJSON(t, router, http.MethodPost, "/api/v1/control/emergency-stop", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("emergency stop: %d", w.Code)
	}
	if controller.State() != ops.StateEmergencyStop {
		t.Errorf("state = %s", controller.State())
	}

	// Resume from emergency is not a valid transition
	w = doJSON(t, router, http.MethodPost, "/api/v1/control/resume", token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("resume after emergency: got %d, want 409", w.Code)
	}
}

func TestGapsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	token := login(t, router, "viewer", "viewer-pass")

	w := doJSON(t, router, http.MethodGet, "/api/v1/gaps", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("gaps: %d", w.Code)
	}
	var resp struct {
		Count int         `json:"count"`
		Gaps  []gap.Event `json:"gaps"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode gaps: %v", err)
	}
	if resp.Count != 1 || len(resp.Gaps) != 1 {
		t.Errorf("count = %d, gaps = %d, want 1 each", resp.Count, len(resp.Gaps))
	}
	if resp.Gaps[0].ID != "gap-api-1" {
		t.Errorf("gap id = %s", resp.Gaps[0].ID)
	}
}

func TestMaintenanceEndpoint(t *testing.T) {
	srv, controller := newTestServer(t)
	router := srv.Router()
	token := login(t, router, "admin", "admin-pass")

	w := doJSON(t, router, http.MethodPost, "/api/v1/control/maintenance", token,
		map[string]string{"reason": "rotating credentials"})
	if w.Code != http.StatusOK {
		t.Fatalf("maintenance: %d %s", w.Code, w.Body.String())
	}
	if controller.State() != ops.StateMaintenance {
		t.Errorf("state = %s, want MAINTENANCE", controller.State())
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/control/resume", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume: %d", w.Code)
	}
	if controller.State() != ops.StateActiveTrading {
		t.Errorf("state = %s, want ACTIVE_TRADING", controller.State())
	}
}

func TestFunnelEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	token := login(t, router, "viewer", "viewer-pass")

	w := doJSON(t, router, http.MethodGet, "/api/v1/funnel", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("funnel: %d", w.Code)
	}
	var funnel ops.Funnel
	if err := json.Unmarshal(w.Body.Bytes(), &funnel); err != nil {
		t.Fatalf("decode funnel: %v", err)
	}
}
