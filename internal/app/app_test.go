package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/frontdesk/internal/app"
	"github.com/MrWong99/frontdesk/internal/config"
	"github.com/MrWong99/frontdesk/pkg/transport"
	"github.com/MrWong99/frontdesk/pkg/transport/mock"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// testConfig returns a config with signing material and no backend.
func testConfig() *config.Config {
	cfg := &config.Config{
		Transport: config.TransportConfig{
			URL:       "wss://voice.example.com",
			APIKey:    "test-key",
			APISecret: "test-secret-that-is-long-enough",
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

type stubBackend struct{}

func (stubBackend) Dashboard(context.Context) ([]types.HelpRequest, error) {
	return []types.HelpRequest{{ID: "hr-1", Question: "Do you do perms?", Status: types.HelpPending}}, nil
}

func (stubBackend) ResolveHelpRequest(_ context.Context, id string, req types.ResolveRequest) (types.HelpRequest, error) {
	return types.HelpRequest{ID: id, Status: types.HelpResolved, SupervisorResponse: req.SupervisorResponse}, nil
}

func (stubBackend) KnowledgeBase(context.Context, string, int) ([]types.KnowledgeBaseEntry, error) {
	return nil, nil
}

func (stubBackend) AddKnowledgeEntry(_ context.Context, e types.NewKnowledgeEntry) (types.KnowledgeBaseEntry, error) {
	return types.KnowledgeBaseEntry{ID: "kb-1", Question: e.Question, Answer: e.Answer}, nil
}

func (stubBackend) Analytics(context.Context) (types.Analytics, error) { return types.Analytics{}, nil }

func (stubBackend) CleanupTimeouts(context.Context) (types.CleanupResult, error) {
	return types.CleanupResult{Success: true}, nil
}

func (stubBackend) Health(context.Context) (types.BackendHealth, error) {
	return types.BackendHealth{Status: "healthy"}, nil
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *httptest.Server, *mock.Room, *mock.Transport) {
	t.Helper()
	room := &mock.Room{}
	tr := &mock.Transport{ConnectResult: room}
	opts = append([]app.Option{app.WithTransport(tr)}, opts...)

	a, err := app.New(t.Context(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return a, srv, room, tr
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func waitState(t *testing.T, base, id string, want types.ConnectionState) app.CallView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		var v app.CallView
		doJSON(t, http.MethodGet, base+"/api/calls/"+id, "", &v)
		if v.State == want {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("call %s state = %s, want %s (error %q)", id, v.State, want, v.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCalls_Lifecycle(t *testing.T) {
	t.Parallel()

	_, srv, room, tr := newTestApp(t, testConfig())

	var created app.CallView
	status := doJSON(t, http.MethodPost, srv.URL+"/api/calls", `{"customerPhone":"+1 555 123 4567","customerName":"Ada"}`, &created)
	if status != http.StatusAccepted {
		t.Fatalf("POST /api/calls status = %d", status)
	}
	if created.ID == "" {
		t.Fatal("call id is empty")
	}

	v := waitState(t, srv.URL, created.ID, types.StateConnected)
	if v.Caller.Name != "Ada" {
		t.Errorf("caller = %+v", v.Caller)
	}
	if v.Session.TransportURL != "wss://voice.example.com" {
		t.Errorf("transport url = %q", v.Session.TransportURL)
	}
	if calls := tr.Calls(); len(calls) != 1 || calls[0].Credential == "" {
		t.Errorf("connect calls = %+v", calls)
	}

	room.EmitAgentResponse(transport.AgentResponse{Text: "Thanks for calling Bella's!"})
	room.EmitUserSpeech(transport.Transcription{Text: "I need a trim"})

	var live app.CallView
	doJSON(t, http.MethodGet, srv.URL+"/api/calls/"+created.ID, "", &live)
	if len(live.Transcript) != 2 || live.Transcript[1].Speaker != types.SpeakerCustomer {
		t.Errorf("transcript = %+v", live.Transcript)
	}
	if live.Customer == nil || live.Customer.Status != types.SessionActive {
		t.Errorf("customer session = %+v", live.Customer)
	}

	var ended app.CallView
	if status := doJSON(t, http.MethodDelete, srv.URL+"/api/calls/"+created.ID, "", &ended); status != http.StatusOK {
		t.Fatalf("DELETE status = %d", status)
	}
	if ended.State != types.StateEnded {
		t.Errorf("state after DELETE = %s", ended.State)
	}
	if room.Disconnects() != 1 {
		t.Errorf("room disconnects = %d, want 1", room.Disconnects())
	}
	if len(ended.Transcript) != 2 {
		t.Errorf("transcript should survive the end, got %d entries", len(ended.Transcript))
	}

	var sess struct {
		Session types.CustomerSession `json:"session"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/api/customer-session?sessionId="+live.Customer.SessionID, "", &sess)
	if sess.Session.Status != types.SessionEnded {
		t.Errorf("registrar status = %q, want ended", sess.Session.Status)
	}

	var list []app.CallView
	doJSON(t, http.MethodGet, srv.URL+"/api/calls", "", &list)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("list = %+v", list)
	}
}

func TestCalls_RestartAfterEnd(t *testing.T) {
	t.Parallel()

	_, srv, _, tr := newTestApp(t, testConfig())

	var created app.CallView
	doJSON(t, http.MethodPost, srv.URL+"/api/calls", `{"customerPhone":"5551234567"}`, &created)
	waitState(t, srv.URL, created.ID, types.StateConnected)

	if status := doJSON(t, http.MethodPost, srv.URL+"/api/calls/"+created.ID+"/start", "", nil); status != http.StatusConflict {
		t.Errorf("start while connected status = %d, want 409", status)
	}

	doJSON(t, http.MethodDelete, srv.URL+"/api/calls/"+created.ID, "", nil)
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/calls/"+created.ID+"/start", "", nil); status != http.StatusAccepted {
		t.Fatalf("restart status = %d, want 202", status)
	}
	v := waitState(t, srv.URL, created.ID, types.StateConnected)
	if len(v.Transcript) != 0 {
		t.Errorf("restart should clear the transcript, got %+v", v.Transcript)
	}
	if n := len(tr.Calls()); n != 2 {
		t.Errorf("connect calls = %d, want 2", n)
	}
}

func TestCalls_RequestErrors(t *testing.T) {
	t.Parallel()

	_, srv, _, _ := newTestApp(t, testConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"bad phone", http.MethodPost, "/api/calls", `{"customerPhone":"12"}`, http.StatusBadRequest},
		{"missing phone", http.MethodPost, "/api/calls", `{}`, http.StatusBadRequest},
		{"malformed", http.MethodPost, "/api/calls", `{`, http.StatusBadRequest},
		{"trailing data", http.MethodPost, "/api/calls", `{"customerPhone":"5551234567"} x`, http.StatusBadRequest},
		{"unknown call", http.MethodGet, "/api/calls/nope", "", http.StatusNotFound},
		{"end unknown", http.MethodDelete, "/api/calls/nope", "", http.StatusNotFound},
		{"start unknown", http.MethodPost, "/api/calls/nope/start", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var body map[string]any
			status := doJSON(t, tc.method, srv.URL+tc.path, tc.body, &body)
			if status != tc.wantStatus {
				t.Errorf("status = %d, want %d (%v)", status, tc.wantStatus, body)
			}
			if body["error"] == "" || body["error"] == nil {
				t.Errorf("missing error message: %v", body)
			}
		})
	}
}

func TestCalls_MissingSigningMaterialFails(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Transport.APIKey = ""
	cfg.Transport.APISecret = ""
	_, srv, _, tr := newTestApp(t, cfg)

	var created app.CallView
	doJSON(t, http.MethodPost, srv.URL+"/api/calls", `{"customerPhone":"5551234567"}`, &created)
	v := waitState(t, srv.URL, created.ID, types.StateError)
	if !strings.Contains(v.Error, "configuration") {
		t.Errorf("error = %q", v.Error)
	}
	if len(tr.Calls()) != 0 {
		t.Error("transport should not be contacted without a credential")
	}

	var body map[string]string
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/token", `{}`, &body); status != http.StatusInternalServerError {
		t.Errorf("token status = %d, want 500", status)
	}
}

func TestToken_Endpoint(t *testing.T) {
	t.Parallel()

	_, srv, _, _ := newTestApp(t, testConfig())

	var grant struct {
		AccessToken string `json:"accessToken"`
		URL         string `json:"url"`
	}
	status := doJSON(t, http.MethodPost, srv.URL+"/api/token", `{"customerPhone":"5551234567"}`, &grant)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if grant.AccessToken == "" || grant.URL != "wss://voice.example.com" {
		t.Errorf("grant = %+v", grant)
	}
}

func TestRoutes_HealthEndpoints(t *testing.T) {
	t.Parallel()

	_, srv, _, _ := newTestApp(t, testConfig(), app.WithSupervisorBackend(stubBackend{}))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestRoutes_DashboardNeedsBackend(t *testing.T) {
	t.Parallel()

	_, without, _, _ := newTestApp(t, testConfig())
	if status := doJSON(t, http.MethodGet, without.URL+"/api/dashboard", "", nil); status != http.StatusNotFound {
		t.Errorf("dashboard without backend status = %d, want 404", status)
	}

	_, with, _, _ := newTestApp(t, testConfig(), app.WithSupervisorBackend(stubBackend{}))
	var reqs []types.HelpRequest
	if status := doJSON(t, http.MethodGet, with.URL+"/api/dashboard", "", &reqs); status != http.StatusOK {
		t.Fatalf("dashboard status = %d", status)
	}
	if len(reqs) != 1 || reqs[0].ID != "hr-1" {
		t.Errorf("dashboard = %+v", reqs)
	}
}

func TestRoutes_CORS(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"http://console.local"}
	_, srv, _, _ := newTestApp(t, cfg)

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodOptions, srv.URL+"/api/calls", nil)
	req.Header.Set("Origin", "http://console.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://console.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestApp(t, testConfig(), app.WithSupervisorBackend(stubBackend{}))

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Dashboard.DashboardStale = time.Second
	p := types.DefaultCallProfile()
	p.SessionConfig.Voice = "Kore"
	next.Calls.Profile = &p

	a.ApplyConfig(config.Diff(testConfig(), next))

	if got := a.Calls().Profile().SessionConfig.Voice; got != "Kore" {
		t.Errorf("profile voice = %q", got)
	}
	if got := a.Dashboard().Windows().DashboardStale; got != time.Second {
		t.Errorf("dashboard stale = %v", got)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestApp(t, testConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
