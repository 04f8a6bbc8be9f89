package registrar

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newTestServer(t *testing.T) (*Registrar, http.Handler) {
	t.Helper()
	reg := newTestRegistrar()
	r := chi.NewRouter()
	r.Route("/api/customer-session", NewHandler(reg).Routes)
	return reg, r
}

func do(t *testing.T, h http.Handler, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, target, err)
	}
	return rec.Code, out
}

func TestHandler_Create(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"valid", `{"customerPhone":"+1 (555) 123-4567","customerName":"Ada"}`, http.StatusOK, ""},
		{"missing phone", `{"customerName":"Ada"}`, http.StatusBadRequest, MsgPhoneRequired},
		{"bad phone", `{"customerPhone":"555-1234"}`, http.StatusBadRequest, MsgPhoneInvalid},
		{"malformed", `{"customerPhone":`, http.StatusBadRequest, "Invalid JSON in request body"},
		{"trailing data", `{"customerPhone":"+1 (555) 123-4567"} garbage`, http.StatusBadRequest, "Invalid JSON in request body"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, h := newTestServer(t)
			status, body := do(t, h, http.MethodPost, "/api/customer-session", tc.body)
			if status != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", status, tc.wantStatus, body)
			}
			if tc.wantError != "" {
				if body["error"] != tc.wantError {
					t.Errorf("error = %v, want %q", body["error"], tc.wantError)
				}
				return
			}
			if body["success"] != true || body["message"] != MsgCreated {
				t.Errorf("body = %v", body)
			}
			sess := body["session"].(map[string]any)
			if sess["status"] != "active" || sess["customerName"] != "Ada" || sess["sessionId"] == "" {
				t.Errorf("session = %v", sess)
			}
		})
	}
}

func TestHandler_GetAndUpdate(t *testing.T) {
	t.Parallel()

	reg, h := newTestServer(t)
	_, created := do(t, h, http.MethodPost, "/api/customer-session", `{"customerPhone":"5551234567"}`)
	id := created["session"].(map[string]any)["sessionId"].(string)

	reg.now = func() time.Time { return fixedNow.Add(90 * time.Second) }

	status, got := do(t, h, http.MethodGet, "/api/customer-session?sessionId="+id, "")
	if status != http.StatusOK {
		t.Fatalf("GET status = %d (%v)", status, got)
	}
	sess := got["session"].(map[string]any)
	if sess["customerName"] != DefaultCustomerName {
		t.Errorf("customerName = %v", sess["customerName"])
	}

	status, upd := do(t, h, http.MethodPut, "/api/customer-session", `{"sessionId":"`+id+`"}`)
	if status != http.StatusOK {
		t.Fatalf("PUT status = %d (%v)", status, upd)
	}
	if upd["message"] != MsgUpdated {
		t.Errorf("message = %v", upd["message"])
	}
	if s := upd["session"].(map[string]any); s["status"] != "ended" || s["endTime"] == nil {
		t.Errorf("session = %v", s)
	}

	status, byPhone := do(t, h, http.MethodGet, "/api/customer-session?customerPhone=5551234567", "")
	if status != http.StatusOK {
		t.Fatalf("GET by phone status = %d", status)
	}
	s := byPhone["session"].(map[string]any)
	if s["status"] != "ended" {
		t.Errorf("status = %v, want ended", s["status"])
	}
	if s["callDuration"] != float64(90) {
		t.Errorf("callDuration = %v, want 90", s["callDuration"])
	}
}

func TestHandler_GetErrors(t *testing.T) {
	t.Parallel()

	_, h := newTestServer(t)

	status, body := do(t, h, http.MethodGet, "/api/customer-session", "")
	if status != http.StatusBadRequest || body["error"] != MsgLookupRequired {
		t.Errorf("no params: %d %v", status, body)
	}

	status, _ = do(t, h, http.MethodGet, "/api/customer-session?sessionId=missing", "")
	if status != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", status)
	}
}

func TestHandler_UpdateRequiresID(t *testing.T) {
	t.Parallel()

	_, h := newTestServer(t)
	status, body := do(t, h, http.MethodPut, "/api/customer-session", `{"status":"ended"}`)
	if status != http.StatusBadRequest || body["error"] != MsgSessionIDRequired {
		t.Errorf("got %d %v", status, body)
	}
}

func TestHandler_MalformedBodiesHaveNoSideEffects(t *testing.T) {
	t.Parallel()

	reg, h := newTestServer(t)
	status, body := do(t, h, http.MethodPost, "/api/customer-session", `{"customerPhone":"+1 (555) 123-4567"} {}`)
	if status != http.StatusBadRequest {
		t.Fatalf("POST status = %d (%v)", status, body)
	}
	if n := reg.Store().(*MemStore).Len(); n != 0 {
		t.Fatalf("store holds %d sessions after a rejected POST", n)
	}

	_, created := do(t, h, http.MethodPost, "/api/customer-session", `{"customerPhone":"+1 (555) 123-4567"}`)
	id := created["session"].(map[string]any)["sessionId"].(string)

	status, body = do(t, h, http.MethodPut, "/api/customer-session", `{"sessionId":"`+id+`","status":"ended"} trailing`)
	if status != http.StatusBadRequest || body["error"] != "Invalid JSON in request body" {
		t.Fatalf("PUT got %d %v", status, body)
	}
	_, got := do(t, h, http.MethodGet, "/api/customer-session?sessionId="+id, "")
	if s := got["session"].(map[string]any)["status"]; s != "active" {
		t.Errorf("status after rejected PUT = %v, want active", s)
	}
}
