// Package call implements the connection lifecycle of a single customer call.
//
// A [Machine] walks one call through
//
//	Idle → AcquiringCredential → Connecting → Connected → Ended
//
// with Error reachable from every step that talks to the outside world. Only
// one start may be in flight at a time. Every start bumps a generation
// counter; a completion that finds the generation moved on was superseded by
// End (or a later Start) and is discarded. A transport connection that
// completes after the call was ended is disconnected straight away.
//
// The machine owns the call's transcript engine and duration clock. On
// entering Connected the transcript is attached to the room and the clock is
// armed; on leaving Connected both are released again.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/frontdesk/internal/callclock"
	"github.com/MrWong99/frontdesk/internal/credential"
	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/internal/transcript"
	"github.com/MrWong99/frontdesk/pkg/transport"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// CredentialSource issues transport credentials. Implemented by
// [credential.Gateway] and the remote console client.
type CredentialSource interface {
	Mint(ctx context.Context, req credential.Request) (credential.Grant, error)
}

// SessionRegistrar records the business-level customer session of a call.
// Implemented by [registrar.Registrar] and the remote console client.
type SessionRegistrar interface {
	Create(ctx context.Context, phone, name string) (types.CustomerSession, error)
	End(ctx context.Context, sessionID string, endTime *time.Time) (types.CustomerSession, error)
}

// Transition describes one state change. Err is set when To is Error.
type Transition struct {
	From types.ConnectionState
	To   types.ConnectionState
	Err  error
}

// Config holds the dependencies of a [Machine].
type Config struct {
	// ID names the call in logs. Optional.
	ID string

	// Credentials and Transport are required.
	Credentials CredentialSource
	Transport   transport.Transport

	// Registrar is optional. When nil, or when Start is called without
	// customer info, no customer session is recorded.
	Registrar SessionRegistrar

	// Profile is sent with every credential request. The zero value selects
	// [types.DefaultCallProfile].
	Profile types.CallProfile

	// ConnectTimeout bounds the transport connect step. Zero means no bound
	// beyond the caller's context.
	ConnectTimeout time.Duration

	// Transcript and Clock are created when nil.
	Transcript *transcript.Engine
	Clock      *callclock.Clock

	Metrics *observe.Metrics

	// Observer is called synchronously on every transition while the
	// machine's lock is held. It must not call back into the Machine.
	Observer func(Transition)

	// Now overrides the time source. Defaults to time.Now.
	Now func() time.Time
}

// Machine is the state machine for one call. All methods are safe for
// concurrent use.
type Machine struct {
	id          string
	creds       CredentialSource
	registrar   SessionRegistrar
	transport   transport.Transport
	profile     types.CallProfile
	connTimeout time.Duration
	transcript  *transcript.Engine
	clock       *callclock.Clock
	metrics     *observe.Metrics
	observer    func(Transition)
	now         func() time.Time

	mu      sync.Mutex
	state   types.ConnectionState
	gen     uint64
	lastErr error
	session types.CallSession
	cancel  context.CancelFunc
	room    transport.Room
	dropSub transport.Subscription
	partSub transport.Subscription

	// agents counts agent participants currently in the room.
	agents int
	// talked is the connected time of the last call in seconds.
	talked int64

	// customer is the registrar record of the current call. open is true
	// while that record still has to be ended.
	customer *types.CustomerSession
	open     bool
}

// New validates cfg and returns an Idle machine.
func New(cfg Config) (*Machine, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("call: %w: credential source is required", types.ErrConfiguration)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("call: %w: transport is required", types.ErrConfiguration)
	}

	m := &Machine{
		id:          cfg.ID,
		creds:       cfg.Credentials,
		registrar:   cfg.Registrar,
		transport:   cfg.Transport,
		profile:     cfg.Profile,
		connTimeout: cfg.ConnectTimeout,
		transcript:  cfg.Transcript,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		observer:    cfg.Observer,
		now:         cfg.Now,
		state:       types.StateIdle,
	}
	if m.profile.SessionConfig.Model == "" && m.profile.Instructions == "" {
		m.profile = types.DefaultCallProfile()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.transcript == nil {
		m.transcript = transcript.NewEngine(transcript.WithMetrics(cfg.Metrics))
	}
	if m.clock == nil {
		m.clock = callclock.New()
	}
	m.session.State = types.StateIdle
	return m, nil
}

// Start begins a new call for info, which may be nil for an anonymous
// caller. It blocks until the call is Connected or has failed.
//
// Start is accepted from Idle, Ended and Error. In any other state it returns
// [types.ErrAlreadyConnecting] and changes nothing. If End supersedes the
// attempt while it is in flight, Start returns [types.ErrCallEnded]. Any
// other failure moves the machine to Error and is returned.
func (m *Machine) Start(ctx context.Context, info *types.CustomerInfo) (err error) {
	ctx, span := observe.StartCallSpan(ctx, m.id, "call.start")
	defer func() {
		if errors.Is(err, types.ErrCallEnded) {
			observe.EndSpan(span, nil)
			return
		}
		observe.EndSpan(span, err)
	}()
	return m.start(ctx, info)
}

func (m *Machine) start(ctx context.Context, info *types.CustomerInfo) error {
	m.mu.Lock()
	if !m.state.CanStart() {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("call: start from %s: %w", state, types.ErrAlreadyConnecting)
	}

	m.gen++
	gen := m.gen
	m.transcript.Reset()
	m.clock.Reset()
	m.talked = 0
	m.lastErr = nil

	var leftover string
	if m.open && m.customer != nil {
		leftover = m.customer.SessionID
	}
	m.customer, m.open = nil, false

	started := m.now()
	m.session = types.CallSession{StartedAt: started}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	profile := m.profile
	m.setStateLocked(types.StateAcquiringCredential, nil)
	m.mu.Unlock()
	defer cancel()

	if leftover != "" {
		m.endCustomer(context.WithoutCancel(ctx), leftover)
	}

	req := credential.Request{
		Instructions:  profile.Instructions,
		SessionConfig: profile.SessionConfig,
	}
	if info != nil {
		req.CustomerPhone = info.Phone
		req.CustomerName = info.Name
	}

	if info != nil && m.registrar != nil {
		sess, err := m.registrar.Create(ctx, info.Phone, info.Name)
		if err != nil {
			return m.fail(gen, fmt.Errorf("call: register customer: %w", err))
		}
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			m.endCustomer(context.WithoutCancel(ctx), sess.SessionID)
			return types.ErrCallEnded
		}
		m.customer, m.open = &sess, true
		m.mu.Unlock()
		req.CustomerSessionID = sess.SessionID
	}

	grant, err := m.creds.Mint(ctx, req)
	if err != nil {
		return m.fail(gen, fmt.Errorf("call: acquire credential: %w", err))
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return types.ErrCallEnded
	}
	m.session.TransportURL = grant.URL
	m.session.Credential = grant.AccessToken
	m.session.Room = grant.Room
	m.setStateLocked(types.StateConnecting, nil)
	m.mu.Unlock()

	connCtx := ctx
	if m.connTimeout > 0 {
		var connCancel context.CancelFunc
		connCtx, connCancel = context.WithTimeout(ctx, m.connTimeout)
		defer connCancel()
	}
	room, err := m.transport.Connect(connCtx, grant.URL, grant.AccessToken)
	if err != nil {
		if !errors.Is(err, types.ErrTransport) {
			err = fmt.Errorf("%w: %w", types.ErrTransport, err)
		}
		return m.fail(gen, fmt.Errorf("call: connect: %w", err))
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.log().Info("call: discarding connection completed after end")
		m.disconnect(context.WithoutCancel(ctx), room)
		return types.ErrCallEnded
	}
	m.room = room
	m.transcript.Attach(room)
	m.dropSub = room.OnDisconnect(func(err error) { m.onDrop(gen, err) })
	m.partSub = room.OnParticipantChange(func(ev transport.ParticipantEvent) { m.onParticipant(gen, ev) })
	m.clock.Arm()
	connected := m.now()
	m.session.ConnectedAt = &connected
	m.setStateLocked(types.StateConnected, nil)
	m.mu.Unlock()

	m.metrics.RecordCallSetup(ctx, connected.Sub(started))
	m.log().Info("call: connected", "room", grant.Room)
	return nil
}

// End stops the call. It always leaves the machine in Ended: an in-flight
// Start is cancelled and its eventual completion discarded, and failures to
// disconnect the transport or close the customer session are logged, not
// returned. The transcript is detached but kept. Calling End from Idle or
// Ended does nothing.
func (m *Machine) End(ctx context.Context) {
	m.mu.Lock()
	if m.state == types.StateIdle || m.state == types.StateEnded {
		m.mu.Unlock()
		return
	}

	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	room := m.releaseLocked(ctx)

	var customerID string
	if m.open && m.customer != nil {
		customerID = m.customer.SessionID
		m.open = false
	}
	ended := m.now()
	m.session.EndedAt = &ended
	m.setStateLocked(types.StateEnded, nil)
	m.mu.Unlock()

	if room != nil {
		m.disconnect(ctx, room)
	}
	if customerID != "" {
		m.endCustomer(ctx, customerID)
	}
	m.log().Info("call: ended")
}

// onDrop handles the transport going away on its own while Connected.
func (m *Machine) onDrop(gen uint64, cause error) {
	ctx := context.Background()

	m.mu.Lock()
	if gen != m.gen || m.state != types.StateConnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	room := m.releaseLocked(ctx)
	err := fmt.Errorf("call: %w: connection lost", types.ErrTransport)
	if cause != nil {
		err = fmt.Errorf("call: %w: connection lost: %w", types.ErrTransport, cause)
	}
	m.lastErr = err
	m.setStateLocked(types.StateError, err)
	m.mu.Unlock()

	m.log().Warn("call: transport dropped", "err", cause)
	if room != nil {
		m.disconnect(ctx, room)
	}
}

// onParticipant tracks agents joining and leaving the connected room.
func (m *Machine) onParticipant(gen uint64, ev transport.ParticipantEvent) {
	m.mu.Lock()
	if gen != m.gen || m.state != types.StateConnected {
		m.mu.Unlock()
		return
	}
	if ev.Participant.IsAgent {
		switch ev.Type {
		case transport.EventJoin:
			m.agents++
		case transport.EventLeave:
			if m.agents > 0 {
				m.agents--
			}
		}
	}
	m.mu.Unlock()

	m.log().Info("call: participant change",
		"event", ev.Type.String(),
		"identity", ev.Participant.Identity,
		"agent", ev.Participant.IsAgent,
	)
}

// releaseLocked detaches everything bound to the live room and returns the
// room so the caller can disconnect it without the lock held.
func (m *Machine) releaseLocked(ctx context.Context) transport.Room {
	if m.dropSub != nil {
		m.dropSub.Unsubscribe()
		m.dropSub = nil
	}
	if m.partSub != nil {
		m.partSub.Unsubscribe()
		m.partSub = nil
	}
	m.agents = 0
	m.transcript.Detach()
	if m.clock.Armed() {
		m.talked = m.clock.Seconds()
		m.metrics.RecordCallDuration(ctx, time.Duration(m.talked)*time.Second)
	}
	m.clock.Disarm()
	m.clock.Reset()
	room := m.room
	m.room = nil
	return room
}

func (m *Machine) fail(gen uint64, err error) error {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return types.ErrCallEnded
	}
	m.lastErr = err
	m.setStateLocked(types.StateError, err)
	m.mu.Unlock()

	m.log().Warn("call: start failed", "err", err)
	return err
}

func (m *Machine) setStateLocked(to types.ConnectionState, err error) {
	from := m.state
	m.state = to
	m.session.State = to
	m.metrics.RecordCallTransition(context.Background(), from.String(), to.String())
	if m.observer != nil {
		m.observer(Transition{From: from, To: to, Err: err})
	}
}

func (m *Machine) disconnect(ctx context.Context, room transport.Room) {
	if err := room.Disconnect(ctx); err != nil {
		m.log().Warn("call: transport disconnect failed", "err", err)
	}
}

func (m *Machine) endCustomer(ctx context.Context, sessionID string) {
	if m.registrar == nil {
		return
	}
	ended := m.now()
	sess, err := m.registrar.End(ctx, sessionID, &ended)
	if err != nil {
		m.log().Warn("call: end customer session failed", "session_id", sessionID, "err", err)
		return
	}
	m.mu.Lock()
	if m.customer != nil && m.customer.SessionID == sessionID {
		m.customer = &sess
	}
	m.mu.Unlock()
}

func (m *Machine) log() *slog.Logger {
	if m.id == "" {
		return slog.Default()
	}
	return slog.With("call_id", m.id)
}

// State returns the current connection state.
func (m *Machine) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the cause of the last failure, or nil unless the machine is
// in Error.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateError {
		return nil
	}
	return m.lastErr
}

// Profile returns the call profile used for credential requests.
func (m *Machine) Profile() types.CallProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// SetProfile replaces the call profile. It takes effect on the next Start.
func (m *Machine) SetProfile(p types.CallProfile) {
	m.mu.Lock()
	m.profile = p
	m.mu.Unlock()
}

// Transcript returns the machine's transcript engine.
func (m *Machine) Transcript() *transcript.Engine { return m.transcript }

// Clock returns the machine's duration clock.
func (m *Machine) Clock() *callclock.Clock { return m.clock }

// LastDuration returns how many seconds the most recent call was connected.
// Unlike the clock it is kept after End or a lost connection, until the next
// Start.
func (m *Machine) LastDuration() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.talked
}
