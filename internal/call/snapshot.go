package call

import (
	"github.com/MrWong99/frontdesk/internal/callclock"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// Snapshot is a read-only view of a call for rendering. Callers may keep and
// modify it freely; it shares nothing with the machine.
type Snapshot struct {
	State    types.ConnectionState  `json:"state"`
	Error    string                 `json:"error,omitempty"`
	Session  types.CallSession      `json:"session"`
	Customer *types.CustomerSession `json:"customer,omitempty"`
	Seconds  int64                  `json:"seconds"`
	Duration string                 `json:"duration"`

	// AgentPresent is true while an agent participant is in the room.
	AgentPresent bool                    `json:"agentPresent"`
	Transcript   []types.TranscriptEntry `json:"transcript"`
}

// Snapshot returns the current view of the call.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		State:   m.state,
		Session: m.session,

		AgentPresent: m.agents > 0,
	}
	if m.state == types.StateError && m.lastErr != nil {
		s.Error = m.lastErr.Error()
	}
	if m.customer != nil {
		c := *m.customer
		if c.EndTime != nil {
			end := *c.EndTime
			c.EndTime = &end
		}
		s.Customer = &c
	}
	if t := m.session.ConnectedAt; t != nil {
		v := *t
		s.Session.ConnectedAt = &v
	}
	if t := m.session.EndedAt; t != nil {
		v := *t
		s.Session.EndedAt = &v
	}
	m.mu.Unlock()

	s.Seconds = m.clock.Seconds()
	s.Duration = callclock.Format(s.Seconds)
	s.Transcript = m.transcript.Snapshot()
	return s
}
