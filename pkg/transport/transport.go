// Package transport defines the interfaces for connecting a call to the
// real-time voice transport and consuming its event channels.
//
// The two primary abstractions are:
//
//   - [Transport]: connects to a room using a server URL and a signed
//     credential and returns a [Room].
//   - [Room]: an active connection that delivers agent responses, caller
//     speech, participant transcriptions and lifecycle events.
//
// Every listener registration returns a [Subscription]. Releasing the handle
// guarantees the listener is never invoked again, which lets consumers tie
// listener lifetime to a single connected period.
//
// This package lives under pkg/ because external code is expected to provide
// Transport implementations for other media servers.
package transport

import (
	"context"
)

// EventType classifies participant lifecycle events emitted by a [Room].
type EventType int

const (
	// EventJoin is emitted when a participant enters the room.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Participant describes a remote member of a room.
type Participant struct {
	// Identity is the transport-unique participant identity.
	Identity string

	// Name is the human-readable display name.
	Name string

	// IsAgent is true for AI agent participants.
	IsAgent bool
}

// ParticipantEvent describes a participant joining or leaving.
type ParticipantEvent struct {
	Type        EventType
	Participant Participant
}

// AgentResponse is one spoken response of the agent as reported by the
// agent's own response channel.
type AgentResponse struct {
	// SegmentID optionally identifies the response. Transports that
	// re-deliver a response reuse the same id.
	SegmentID string
	Text      string
}

// Transcription is a recognised utterance, either of the local caller or
// re-broadcast by a remote participant.
type Transcription struct {
	// Participant is the speaker. Empty for the local caller.
	Participant Participant

	// SegmentID optionally identifies the utterance.
	SegmentID string
	Text      string
}

// Subscription is a disposable listener registration.
type Subscription interface {
	// Unsubscribe releases the listener. Safe to call more than once.
	Unsubscribe()
}

// Room represents an active connection to a transport room.
//
// Listeners are invoked on an internal goroutine in the order the transport
// delivered the events; callers must not block.
//
// Implementations must be safe for concurrent use.
type Room interface {
	// OnAgentResponse registers a listener for the agent's own responses.
	OnAgentResponse(func(AgentResponse)) Subscription

	// OnUserSpeech registers a listener for recognised speech of the local
	// caller.
	OnUserSpeech(func(Transcription)) Subscription

	// OnTranscription registers a listener for transcriptions published by
	// remote participants.
	OnTranscription(func(Transcription)) Subscription

	// OnParticipantChange registers a listener for join and leave events.
	OnParticipantChange(func(ParticipantEvent)) Subscription

	// OnDisconnect registers a listener invoked once when the room is lost
	// without [Room.Disconnect] having been called. A room that was already
	// lost when the listener is registered still reports the loss, from a
	// separate goroutine.
	OnDisconnect(func(error)) Subscription

	// Disconnect tears the connection down. It is safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Disconnect(ctx context.Context) error
}

// Transport is the entry point for a voice transport provider.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Connect joins the room the credential is scoped to. ctx governs the
	// connection attempt only; once connected, the Room stays alive until
	// [Room.Disconnect] is called or the transport drops.
	Connect(ctx context.Context, url, credential string) (Room, error)
}
