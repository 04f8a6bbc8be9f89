// Package transcript merges the independent, unordered event streams of a
// call into one ordered, de-duplicated conversation log.
//
// A connected call delivers recognised text over three channels:
//
//   - the agent's own response channel (speaker: assistant),
//   - recognised speech of the local caller (speaker: customer),
//   - transcriptions re-broadcast by remote agent participants
//     (speaker: assistant).
//
// The [Engine] subscribes to all three while a call is connected. Entries are
// appended in the order the engine observes them; the log is never re-sorted.
// Each entry is stamped when it is observed, not when it was spoken.
//
// Entry identity is channel-scoped: "<channel>:<segment>" when the transport
// supplies a segment id, otherwise "<channel>-<n>" from a per-channel counter.
// An event whose id is already in the log is discarded, so re-delivered
// segments do not duplicate lines. Two channels carrying the same sentence are
// NOT merged; each produces its own entry.
package transcript

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/pkg/transport"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// Drop reasons reported to metrics.
const (
	dropEmpty     = "empty"
	dropDuplicate = "duplicate"
	dropStale     = "stale"
	dropNonAgent  = "non_agent"
)

// Option is a functional option for [NewEngine].
type Option func(*Engine)

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records accepted and dropped events on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithOnAppend registers fn to be called after every accepted entry. It runs
// on the transport's event goroutine and must not block.
func WithOnAppend(fn func(types.TranscriptEntry)) Option {
	return func(e *Engine) { e.onAppend = fn }
}

// Engine is the consolidated transcript of one call. It is safe for
// concurrent use.
type Engine struct {
	mu       sync.Mutex
	entries  []types.TranscriptEntry
	ids      map[string]struct{}
	counters map[types.Channel]uint64
	last     time.Time

	// epoch increments on every Attach and Detach. Listener closures capture
	// the epoch they were registered under and are ignored once it moves on.
	epoch    uint64
	attached bool
	subs     []transport.Subscription

	now      func() time.Time
	metrics  *observe.Metrics
	onAppend func(types.TranscriptEntry)
}

// NewEngine creates an empty, detached Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		ids:      make(map[string]struct{}),
		counters: make(map[types.Channel]uint64),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Attach subscribes to the three transcript channels of room. Any previous
// attachment is released first.
func (e *Engine) Attach(room transport.Room) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.detachLocked()
	e.epoch++
	ep := e.epoch
	e.attached = true

	e.subs = append(e.subs,
		room.OnAgentResponse(func(ev transport.AgentResponse) {
			e.ingest(ep, types.ChannelAgentResponse, types.SpeakerAssistant, ev.SegmentID, ev.Text)
		}),
		room.OnUserSpeech(func(ev transport.Transcription) {
			e.ingest(ep, types.ChannelUserSpeech, types.SpeakerCustomer, ev.SegmentID, ev.Text)
		}),
		room.OnTranscription(func(ev transport.Transcription) {
			if !ev.Participant.IsAgent {
				e.metrics.RecordTranscriptDrop(context.Background(), string(types.ChannelAgentTranscription), dropNonAgent)
				return
			}
			e.ingest(ep, types.ChannelAgentTranscription, types.SpeakerAssistant, ev.SegmentID, ev.Text)
		}),
	)
}

// Detach releases every subscription. The log is kept as it is; events still
// in flight from the released subscriptions are discarded. Idempotent.
func (e *Engine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detachLocked()
}

func (e *Engine) detachLocked() {
	for _, s := range e.subs {
		s.Unsubscribe()
	}
	e.subs = nil
	if e.attached {
		e.epoch++
		e.attached = false
	}
}

// Attached reports whether the engine is currently subscribed to a room.
func (e *Engine) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached
}

// Reset clears the log, the seen ids and the per-channel counters. It does
// not change the attachment.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = nil
	e.ids = make(map[string]struct{})
	e.counters = make(map[types.Channel]uint64)
	e.last = time.Time{}
}

// Snapshot returns a copy of the log in append order.
func (e *Engine) Snapshot() []types.TranscriptEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.TranscriptEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Len returns the number of entries in the log.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Engine) ingest(ep uint64, ch types.Channel, speaker types.Speaker, segmentID, text string) {
	ctx := context.Background()
	text = strings.TrimSpace(text)
	if text == "" {
		e.metrics.RecordTranscriptDrop(ctx, string(ch), dropEmpty)
		return
	}

	e.mu.Lock()
	if ep != e.epoch || !e.attached {
		e.mu.Unlock()
		e.metrics.RecordTranscriptDrop(ctx, string(ch), dropStale)
		return
	}

	var id string
	if segmentID != "" {
		id = string(ch) + ":" + segmentID
	} else {
		e.counters[ch]++
		id = string(ch) + "-" + strconv.FormatUint(e.counters[ch], 10)
	}
	if _, dup := e.ids[id]; dup {
		e.mu.Unlock()
		e.metrics.RecordTranscriptDrop(ctx, string(ch), dropDuplicate)
		return
	}

	ts := e.now()
	if ts.Before(e.last) {
		ts = e.last
	}
	e.last = ts

	entry := types.TranscriptEntry{
		ID:        id,
		Speaker:   speaker,
		Text:      text,
		Timestamp: ts,
		Channel:   ch,
	}
	e.ids[id] = struct{}{}
	e.entries = append(e.entries, entry)
	onAppend := e.onAppend
	e.mu.Unlock()

	e.metrics.RecordTranscriptEntry(ctx, string(ch))
	if onAppend != nil {
		onAppend(entry)
	}
}
