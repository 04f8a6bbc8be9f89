// Package ws implements [transport.Transport] over a single WebSocket
// connection to a media server's signalling endpoint.
//
// The credential is sent as a bearer token on the upgrade request. After the
// upgrade the server pushes JSON text frames, one event per frame:
//
//	{"type":"agent_response","segment_id":"r1","text":"Hi, how can I help?"}
//	{"type":"user_speech","segment_id":"u1","text":"I'd like a haircut"}
//	{"type":"transcription","participant":{"identity":"agent","is_agent":true},"text":"..."}
//	{"type":"participant_joined","participant":{"identity":"agent","name":"Bella","is_agent":true}}
//	{"type":"participant_left","participant":{"identity":"agent"}}
//
// Frames are dispatched to listeners sequentially in arrival order. Unknown
// frame types are ignored.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/frontdesk/pkg/transport"
)

// Frame types pushed by the server.
const (
	FrameAgentResponse     = "agent_response"
	FrameUserSpeech        = "user_speech"
	FrameTranscription     = "transcription"
	FrameParticipantJoined = "participant_joined"
	FrameParticipantLeft   = "participant_left"
)

// Frame is the wire representation of one server event.
type Frame struct {
	Type        string       `json:"type"`
	SegmentID   string       `json:"segment_id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
}

// Participant is the wire representation of [transport.Participant].
type Participant struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	IsAgent  bool   `json:"is_agent,omitempty"`
}

func (p *Participant) toTransport() transport.Participant {
	if p == nil {
		return transport.Participant{}
	}
	return transport.Participant{Identity: p.Identity, Name: p.Name, IsAgent: p.IsAgent}
}

// Compile-time interface assertions.
var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Room      = (*room)(nil)
)

// Option is a functional option for [New].
type Option func(*Transport)

// WithHTTPClient sets the HTTP client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

// WithReadLimit sets the maximum accepted frame size in bytes.
// Default: 64 KiB.
func WithReadLimit(n int64) Option {
	return func(t *Transport) { t.readLimit = n }
}

// Transport dials WebSocket rooms.
type Transport struct {
	httpClient *http.Client
	readLimit  int64
}

// New creates a WebSocket [Transport].
func New(opts ...Option) *Transport {
	t := &Transport{readLimit: 64 << 10}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Connect implements [transport.Transport].
func (t *Transport) Connect(ctx context.Context, url, credential string) (transport.Room, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: t.httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + credential},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	conn.SetReadLimit(t.readLimit)

	roomCtx, cancel := context.WithCancel(context.Background())
	r := &room{
		conn:   conn,
		ctx:    roomCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.receiveLoop()
	return r, nil
}

// ── room ──────────────────────────────────────────────────────────────────────

type room struct {
	conn *websocket.Conn

	agent        transport.Listeners[transport.AgentResponse]
	speech       transport.Listeners[transport.Transcription]
	transcripts  transport.Listeners[transport.Transcription]
	participants transport.Listeners[transport.ParticipantEvent]
	dropped      transport.Latch[error]

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *room) OnAgentResponse(fn func(transport.AgentResponse)) transport.Subscription {
	return r.agent.Add(fn)
}

func (r *room) OnUserSpeech(fn func(transport.Transcription)) transport.Subscription {
	return r.speech.Add(fn)
}

func (r *room) OnTranscription(fn func(transport.Transcription)) transport.Subscription {
	return r.transcripts.Add(fn)
}

func (r *room) OnParticipantChange(fn func(transport.ParticipantEvent)) transport.Subscription {
	return r.participants.Add(fn)
}

func (r *room) OnDisconnect(fn func(error)) transport.Subscription {
	return r.dropped.Add(fn)
}

// receiveLoop reads frames until the connection fails or Disconnect is
// called. A failure that was not caused by Disconnect is reported to the
// OnDisconnect listeners, including ones registered after the fact.
func (r *room) receiveLoop() {
	defer close(r.done)

	for {
		_, data, err := r.conn.Read(r.ctx)
		if err != nil {
			if r.isClosed() || r.ctx.Err() != nil {
				return
			}
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			r.cancel()
			r.dropped.Fire(fmt.Errorf("ws: connection lost: %w", err))
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Debug("ws: discarding malformed frame", "err", err)
			continue
		}
		r.dispatch(&f)
	}
}

func (r *room) dispatch(f *Frame) {
	switch f.Type {
	case FrameAgentResponse:
		r.agent.Emit(transport.AgentResponse{SegmentID: f.SegmentID, Text: f.Text})
	case FrameUserSpeech:
		r.speech.Emit(transport.Transcription{SegmentID: f.SegmentID, Text: f.Text})
	case FrameTranscription:
		r.transcripts.Emit(transport.Transcription{
			Participant: f.Participant.toTransport(),
			SegmentID:   f.SegmentID,
			Text:        f.Text,
		})
	case FrameParticipantJoined:
		r.participants.Emit(transport.ParticipantEvent{Type: transport.EventJoin, Participant: f.Participant.toTransport()})
	case FrameParticipantLeft:
		r.participants.Emit(transport.ParticipantEvent{Type: transport.EventLeave, Participant: f.Participant.toTransport()})
	default:
		slog.Debug("ws: ignoring frame", "type", f.Type)
	}
}

func (r *room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Disconnect closes the connection. Idempotent.
func (r *room) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.conn.Close(websocket.StatusNormalClosure, "call ended"); err != nil {
		slog.Debug("ws: close handshake incomplete", "err", err)
	}
	r.cancel()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws: disconnect: %w", ctx.Err())
	}
}
