package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/frontdesk/pkg/transport"
)

// startServer starts an httptest server that upgrades every request and hands
// the connection to handler.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// writeFrame marshals f and sends it as a text frame.
func writeFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(f)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeFrame: %v (may be expected on close)", err)
	}
}

// waitForClose blocks until the client closes the connection.
func waitForClose(conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(context.Background()); err != nil {
			return
		}
	}
}

func TestConnect_SendsBearerCredential(t *testing.T) {
	t.Parallel()

	gotAuth := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		waitForClose(conn)
	})

	room, err := New().Connect(t.Context(), wsURL(srv), "tok-123")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer room.Disconnect(context.Background())

	select {
	case got := <-gotAuth:
		if got != "Bearer tok-123" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok-123")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the upgrade request")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := New().Connect(t.Context(), wsURL(srv), "bad")
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.HasPrefix(err.Error(), "ws: dial:") {
		t.Errorf("error = %q, want ws: dial prefix", err)
	}
}

func TestRoom_DispatchesFramesInOrder(t *testing.T) {
	t.Parallel()

	ready := make(chan struct{})
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-ready
		writeFrame(t, conn, Frame{Type: FrameParticipantJoined, Participant: &Participant{Identity: "agent", Name: "Bella", IsAgent: true}})
		writeFrame(t, conn, Frame{Type: FrameAgentResponse, SegmentID: "r1", Text: "Hello!"})
		writeFrame(t, conn, Frame{Type: FrameUserSpeech, Text: "Hi there"})
		writeFrame(t, conn, Frame{Type: "unknown_kind", Text: "ignored"})
		writeFrame(t, conn, Frame{Type: FrameTranscription, Participant: &Participant{Identity: "agent", IsAgent: true}, Text: "How can I help?"})
		waitForClose(conn)
	})

	room, err := New().Connect(t.Context(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer room.Disconnect(context.Background())

	events := make(chan string, 8)
	room.OnParticipantChange(func(ev transport.ParticipantEvent) {
		events <- ev.Type.String() + ":" + ev.Participant.Name
	})
	room.OnAgentResponse(func(ev transport.AgentResponse) { events <- "agent:" + ev.SegmentID + ":" + ev.Text })
	room.OnUserSpeech(func(ev transport.Transcription) { events <- "user:" + ev.Text })
	room.OnTranscription(func(ev transport.Transcription) {
		if !ev.Participant.IsAgent {
			t.Error("transcription participant lost is_agent flag")
		}
		events <- "tx:" + ev.Text
	})
	close(ready)

	want := []string{"JOIN:Bella", "agent:r1:Hello!", "user:Hi there", "tx:How can I help?"}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event %d = %q, want %q", i, got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event %d (%q)", i, w)
		}
	}
}

func TestRoom_DropNotifiesListeners(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-release
	})

	room, err := New().Connect(t.Context(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	dropped := make(chan error, 1)
	room.OnDisconnect(func(err error) { dropped <- err })
	close(release)

	select {
	case err := <-dropped:
		if err == nil {
			t.Error("drop reported nil error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnDisconnect never fired")
	}

	if err := room.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect after drop: %v", err)
	}
}

func TestRoom_DropBeforeSubscribeStillReported(t *testing.T) {
	t.Parallel()

	// The server hangs up right after the upgrade.
	srv := startServer(t, func(*websocket.Conn, *http.Request) {})

	conn, err := New().Connect(t.Context(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-conn.(*room).done:
	case <-time.After(3 * time.Second):
		t.Fatal("receive loop never noticed the hang-up")
	}

	dropped := make(chan error, 1)
	conn.OnDisconnect(func(err error) { dropped <- err })

	select {
	case err := <-dropped:
		if err == nil {
			t.Error("drop reported nil error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("late OnDisconnect listener never fired")
	}
}

func TestRoom_DisconnectIsIdempotentAndSilent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		waitForClose(conn)
	})

	room, err := New().Connect(t.Context(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	dropped := make(chan error, 1)
	room.OnDisconnect(func(err error) { dropped <- err })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := room.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := room.Disconnect(ctx); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	select {
	case err := <-dropped:
		t.Errorf("OnDisconnect fired after explicit Disconnect: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
