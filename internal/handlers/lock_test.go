package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/bus"
	"github.com/clinicdesk/appointment-lock/internal/coordinator"
	"github.com/clinicdesk/appointment-lock/internal/history"
	"github.com/clinicdesk/appointment-lock/internal/metrics"
	"github.com/clinicdesk/appointment-lock/internal/model"
	"github.com/clinicdesk/appointment-lock/internal/store"
)

type stubSweeper struct {
	active bool
}

func (s *stubSweeper) Active() bool {
	return s.active
}

type testEnv struct {
	router      chi.Router
	coordinator *coordinator.Coordinator
	store       *store.MemoryStore
	recorder    *history.MemoryRecorder
	bus         *bus.MemoryBus
	sweeper     *stubSweeper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	m := metrics.NewMetrics("test", map[string]string{})

	s := store.NewMemoryStore()
	rec := history.NewMemoryRecorder()
	b := bus.NewMemoryBus()
	c := coordinator.New(s, rec, b, logger, m, 5*time.Minute)
	sweeper := &stubSweeper{active: true}

	lockHandlers := NewLockHandlers(c, sweeper, logger, m)
	historyHandlers := NewHistoryHandlers(rec, 90, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/appointments/{appointmentID}", func(r chi.Router) {
			r.Get("/lock", lockHandlers.HandleStatus)
			r.Post("/lock", lockHandlers.HandleAcquire)
			r.Delete("/lock", lockHandlers.HandleRelease)
			r.Post("/lock/force", lockHandlers.HandleForceRelease)
			r.Put("/position", lockHandlers.HandlePosition)
			r.Get("/history", historyHandlers.HandleAppointmentHistory)
			r.Get("/history/stats", historyHandlers.HandleStats)
		})
		r.Get("/owners/{ownerID}/history", historyHandlers.HandleOwnerHistory)
		r.Post("/sweep", lockHandlers.HandleSweep)
		r.Get("/sweeper", lockHandlers.HandleSweeperStatus)
		r.Post("/history/purge", historyHandlers.HandlePurge)
	})

	return &testEnv{
		router:      r,
		coordinator: c,
		store:       s,
		recorder:    rec,
		bus:         b,
		sweeper:     sweeper,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) model.Result {
	t.Helper()
	var res model.Result
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return res
}

func acquire(t *testing.T, e *testEnv, appointmentID, ownerID string) {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/appointments/"+appointmentID+"/lock", map[string]any{
		"owner_id": ownerID,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("acquire status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestHandleStatus(t *testing.T) {
	e := newTestEnv(t)

	t.Run("unlocked", func(t *testing.T) {
		rr := e.do(t, "GET", "/api/v1/appointments/appt-1/lock", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		var status model.LockStatus
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if status.Locked {
			t.Error("expected unlocked")
		}
	})

	t.Run("locked", func(t *testing.T) {
		acquire(t, e, "appt-1", "dr-jones")

		rr := e.do(t, "GET", "/api/v1/appointments/appt-1/lock", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		var status model.LockStatus
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !status.Locked || status.Lock.OwnerID != "dr-jones" {
			t.Errorf("status = %+v, want locked by dr-jones", status)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		rr := e.do(t, "GET", "/api/v1/appointments/bad%20id/lock", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestHandleAcquire(t *testing.T) {
	e := newTestEnv(t)

	t.Run("acquires", func(t *testing.T) {
		rr := e.do(t, "POST", "/api/v1/appointments/appt-1/lock", map[string]any{
			"owner_id":   "dr-jones",
			"owner_info": map[string]any{"name": "Dr. Jones"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
		res := decodeResult(t, rr)
		if !res.Success || res.Lock.Version != 1 {
			t.Errorf("result = %+v, want success at version 1", res)
		}
	})

	t.Run("conflict maps to 409", func(t *testing.T) {
		rr := e.do(t, "POST", "/api/v1/appointments/appt-1/lock", map[string]any{
			"owner_id": "dr-smith",
		})
		if rr.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rr.Code)
		}
		res := decodeResult(t, rr)
		if res.Reason != model.ReasonConflict {
			t.Errorf("Reason = %q, want conflict", res.Reason)
		}
		if res.Conflict == nil || res.Conflict.ConflictingOwner != "dr-jones" {
			t.Errorf("Conflict = %+v, want conflicting owner dr-jones", res.Conflict)
		}
	})

	t.Run("stale expected version maps to 409", func(t *testing.T) {
		rr := e.do(t, "POST", "/api/v1/appointments/appt-1/lock", map[string]any{
			"owner_id":         "dr-jones",
			"expected_version": 99,
		})
		if rr.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rr.Code)
		}
		res := decodeResult(t, rr)
		if res.Reason != model.ReasonVersionConflict {
			t.Errorf("Reason = %q, want version_conflict", res.Reason)
		}
	})

	t.Run("missing owner id", func(t *testing.T) {
		rr := e.do(t, "POST", "/api/v1/appointments/appt-1/lock", map[string]any{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/appointments/appt-1/lock", bytes.NewBufferString("{"))
		rr := httptest.NewRecorder()
		e.router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestHandleRelease(t *testing.T) {
	e := newTestEnv(t)

	t.Run("not locked maps to 404", func(t *testing.T) {
		rr := e.do(t, "DELETE", "/api/v1/appointments/appt-1/lock", map[string]any{
			"owner_id": "dr-jones",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	acquire(t, e, "appt-1", "dr-jones")

	t.Run("wrong owner maps to 403", func(t *testing.T) {
		rr := e.do(t, "DELETE", "/api/v1/appointments/appt-1/lock", map[string]any{
			"owner_id": "dr-smith",
		})
		if rr.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rr.Code)
		}
	})

	t.Run("owner releases", func(t *testing.T) {
		rr := e.do(t, "DELETE", "/api/v1/appointments/appt-1/lock", map[string]any{
			"owner_id": "dr-jones",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
		res := decodeResult(t, rr)
		if !res.Success {
			t.Errorf("result = %+v, want success", res)
		}
	})
}

func TestHandleForceRelease(t *testing.T) {
	e := newTestEnv(t)

	acquire(t, e, "appt-1", "dr-jones")

	rr := e.do(t, "POST", "/api/v1/appointments/appt-1/lock/force", map[string]any{
		"admin_id":   "supervisor-1",
		"admin_info": map[string]any{"name": "Shift Supervisor"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	status, err := e.coordinator.Status(context.Background(), "appt-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Locked {
		t.Error("lock still present after force release")
	}
}

func TestHandlePosition(t *testing.T) {
	e := newTestEnv(t)

	t.Run("no lock maps to 404", func(t *testing.T) {
		rr := e.do(t, "PUT", "/api/v1/appointments/appt-1/position", map[string]any{
			"owner_id": "dr-jones",
			"position": map[string]any{"field": "notes"},
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	acquire(t, e, "appt-1", "dr-jones")

	t.Run("owner updates position", func(t *testing.T) {
		rr := e.do(t, "PUT", "/api/v1/appointments/appt-1/position", map[string]any{
			"owner_id": "dr-jones",
			"position": map[string]any{"field": "notes", "x": 10, "y": 20},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
		res := decodeResult(t, rr)
		if !res.Success || res.Lock.Version != 2 {
			t.Errorf("result = %+v, want success at version 2", res)
		}
		if res.Lock.OwnerInfo.Position == nil || res.Lock.OwnerInfo.Position.Field != "notes" {
			t.Errorf("Position = %+v, want field notes", res.Lock.OwnerInfo.Position)
		}
	})
}

func TestHandleSweep(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "POST", "/api/v1/sweep", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body struct {
		Success   bool `json:"success"`
		Reclaimed int  `json:"reclaimed"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body.Success || body.Reclaimed != 0 {
		t.Errorf("body = %+v, want success with 0 reclaimed", body)
	}
}

func TestHandleSweeperStatus(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "GET", "/api/v1/sweeper", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body.Active {
		t.Error("active = false, want true")
	}

	e.sweeper.active = false
	rr = e.do(t, "GET", "/api/v1/sweeper", nil)
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Active {
		t.Error("active = true after sweeper stopped")
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "simple", id: "appt-1", wantErr: false},
		{name: "with dots and colons", id: "clinic.7:slot_9", wantErr: false},
		{name: "empty", id: "", wantErr: true},
		{name: "whitespace", id: "appt 1", wantErr: true},
		{name: "slash", id: "../etc", wantErr: true},
		{name: "too long", id: string(make([]byte, maxIDLength+1)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateID(tt.id, "id")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
