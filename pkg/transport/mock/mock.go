// Package mock provides in-memory implementations of [transport.Transport]
// and [transport.Room] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	room := &mock.Room{}
//	tr := &mock.Transport{ConnectResult: room}
//	r, err := tr.Connect(ctx, "wss://voice.example", token)
//	room.EmitAgentResponse(transport.AgentResponse{Text: "Hello!"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/frontdesk/pkg/transport"
)

// ─── Room ─────────────────────────────────────────────────────────────────────

// Room is a mock implementation of [transport.Room].
type Room struct {
	mu sync.Mutex

	// DisconnectError is returned by [Room.Disconnect].
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	agent        transport.Listeners[transport.AgentResponse]
	speech       transport.Listeners[transport.Transcription]
	transcripts  transport.Listeners[transport.Transcription]
	participants transport.Listeners[transport.ParticipantEvent]
	dropped      transport.Latch[error]
}

// OnAgentResponse implements [transport.Room].
func (r *Room) OnAgentResponse(fn func(transport.AgentResponse)) transport.Subscription {
	return r.agent.Add(fn)
}

// OnUserSpeech implements [transport.Room].
func (r *Room) OnUserSpeech(fn func(transport.Transcription)) transport.Subscription {
	return r.speech.Add(fn)
}

// OnTranscription implements [transport.Room].
func (r *Room) OnTranscription(fn func(transport.Transcription)) transport.Subscription {
	return r.transcripts.Add(fn)
}

// OnParticipantChange implements [transport.Room].
func (r *Room) OnParticipantChange(fn func(transport.ParticipantEvent)) transport.Subscription {
	return r.participants.Add(fn)
}

// OnDisconnect implements [transport.Room].
func (r *Room) OnDisconnect(fn func(error)) transport.Subscription {
	return r.dropped.Add(fn)
}

// Disconnect implements [transport.Room]. Returns DisconnectError.
func (r *Room) Disconnect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountDisconnect++
	return r.DisconnectError
}

// Disconnects returns how many times Disconnect was called.
func (r *Room) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountDisconnect
}

// Listeners returns the number of live listener registrations across all
// channels.
func (r *Room) Listeners() int {
	return r.agent.Len() + r.speech.Len() + r.transcripts.Len() + r.participants.Len() + r.dropped.Len()
}

// EmitAgentResponse delivers ev to every agent-response listener.
func (r *Room) EmitAgentResponse(ev transport.AgentResponse) { r.agent.Emit(ev) }

// EmitUserSpeech delivers ev to every user-speech listener.
func (r *Room) EmitUserSpeech(ev transport.Transcription) { r.speech.Emit(ev) }

// EmitTranscription delivers ev to every transcription listener.
func (r *Room) EmitTranscription(ev transport.Transcription) { r.transcripts.Emit(ev) }

// EmitParticipant delivers ev to every participant listener.
func (r *Room) EmitParticipant(ev transport.ParticipantEvent) { r.participants.Emit(ev) }

// Drop simulates the transport losing the connection. Like a real room, the
// loss is remembered: OnDisconnect listeners added later are notified too.
func (r *Room) Drop(err error) { r.dropped.Fire(err) }

// ─── Transport ────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Transport.Connect] invocation.
type ConnectCall struct {
	URL        string
	Credential string
}

// Transport is a mock implementation of [transport.Transport].
type Transport struct {
	mu sync.Mutex

	// ConnectResult is the [transport.Room] returned by Connect.
	ConnectResult transport.Room

	// ConnectError is the error returned by Connect.
	ConnectError error

	// Gate, when non-nil, makes Connect block until it is closed. The
	// context is ignored while blocked so tests can model a connection that
	// completes after the caller gave up.
	Gate chan struct{}

	// Entered, when non-nil, receives a value once Connect was entered.
	Entered chan struct{}

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [transport.Transport]. Records the call and returns
// ConnectResult / ConnectError.
func (t *Transport) Connect(_ context.Context, url, credential string) (transport.Room, error) {
	t.mu.Lock()
	t.ConnectCalls = append(t.ConnectCalls, ConnectCall{URL: url, Credential: credential})
	gate, entered := t.Gate, t.Entered
	t.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ConnectResult, t.ConnectError
}

// Calls returns a copy of the recorded Connect invocations.
func (t *Transport) Calls() []ConnectCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConnectCall, len(t.ConnectCalls))
	copy(out, t.ConnectCalls)
	return out
}
