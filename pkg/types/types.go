// Package types defines the shared types used across all frontdesk packages.
//
// These types form the lingua franca between the credential gateway, the
// customer session registrar, the call state machine and the transcript
// engine. Each package keeps its own domain types; only cross-cutting data
// structures live here to avoid circular imports.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConnectionState is the lifecycle state of a single call.
type ConnectionState int

const (
	// StateIdle is the initial state before any call was started.
	StateIdle ConnectionState = iota

	// StateAcquiringCredential means a credential request is in flight.
	StateAcquiringCredential

	// StateConnecting means the transport connection is being established.
	StateConnecting

	// StateConnected means media and transcript events are flowing.
	StateConnected

	// StateEnded means the call was ended by the user.
	StateEnded

	// StateError means the call failed. Only a new start leaves this state.
	StateError
)

var stateNames = [...]string{
	StateIdle:                "idle",
	StateAcquiringCredential: "acquiring_credential",
	StateConnecting:          "connecting",
	StateConnected:           "connected",
	StateEnded:               "ended",
	StateError:               "error",
}

// String returns the snake_case name of the state.
func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalJSON encodes the state as its string name.
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state from its string name.
func (s *ConnectionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range stateNames {
		if n == name {
			*s = ConnectionState(i)
			return nil
		}
	}
	return fmt.Errorf("types: unknown connection state %q", name)
}

// CanStart reports whether a new call may be started from s.
func (s ConnectionState) CanStart() bool {
	return s == StateIdle || s == StateEnded || s == StateError
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerCustomer  Speaker = "customer"
	SpeakerAssistant Speaker = "assistant"
)

// Channel identifies the transport event stream a transcript entry came from.
type Channel string

const (
	// ChannelAgentResponse carries the agent's own spoken responses.
	ChannelAgentResponse Channel = "agent_response"

	// ChannelUserSpeech carries recognised speech of the local caller.
	ChannelUserSpeech Channel = "user_speech"

	// ChannelAgentTranscription carries transcriptions re-broadcast by
	// remote agent participants.
	ChannelAgentTranscription Channel = "agent_transcription"
)

// TranscriptEntry is one line of the merged call transcript.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Channel   Channel   `json:"channel"`
}

// SessionStatus is the lifecycle status of a customer session record.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
	SessionPaused SessionStatus = "paused"
)

// IsValid reports whether s is one of the known statuses.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionActive, SessionEnded, SessionPaused:
		return true
	}
	return false
}

// CustomerSession is the business record of who is calling. It is independent
// of the transport session.
type CustomerSession struct {
	SessionID     string        `json:"sessionId"`
	CustomerPhone string        `json:"customerPhone,omitempty"`
	CustomerName  string        `json:"customerName,omitempty"`
	Status        SessionStatus `json:"status"`
	StartTime     time.Time     `json:"startTime,omitzero"`
	EndTime       *time.Time    `json:"endTime,omitempty"`
}

// CustomerInfo is the caller information entered before a call starts.
type CustomerInfo struct {
	Phone string `json:"customerPhone"`
	Name  string `json:"customerName,omitempty"`
}

// SessionConfig carries the voice model parameters for a call.
type SessionConfig struct {
	Model           string  `json:"model" yaml:"model"`
	Modalities      string  `json:"modalities" yaml:"modalities"`
	Voice           string  `json:"voice" yaml:"voice"`
	Temperature     float64 `json:"temperature" yaml:"temperature"`
	MaxOutputTokens *int    `json:"maxOutputTokens" yaml:"max_output_tokens"`
}

// CallProfile is the agent behaviour configuration handed to the credential
// gateway for every call.
type CallProfile struct {
	Instructions  string        `json:"instructions" yaml:"instructions"`
	SessionConfig SessionConfig `json:"sessionConfig" yaml:"session_config"`
}

// CallSession is the transport-side record of one call attempt. It is owned
// exclusively by the call state machine.
type CallSession struct {
	TransportURL string          `json:"transportUrl,omitempty"`
	Credential   string          `json:"-"`
	Room         string          `json:"room,omitempty"`
	State        ConnectionState `json:"state"`
	StartedAt    time.Time       `json:"startedAt,omitzero"`
	ConnectedAt  *time.Time      `json:"connectedAt,omitempty"`
	EndedAt      *time.Time      `json:"endedAt,omitempty"`
}
