package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/frontdesk/internal/call"
	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/internal/registrar"
	"github.com/MrWong99/frontdesk/pkg/transport"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// pruneInterval is the longest time between retention sweeps.
const pruneInterval = time.Minute

// ErrShuttingDown is returned by [CallManager.Create] and [CallManager.Start]
// after Shutdown.
var ErrShuttingDown = errors.New("app: shutting down")

// CallView is one call as listed by the console API.
type CallView struct {
	ID        string             `json:"id"`
	Caller    types.CustomerInfo `json:"caller"`
	CreatedAt time.Time          `json:"createdAt"`
	call.Snapshot
}

// managedCall is one machine plus the bookkeeping the manager needs.
type managedCall struct {
	id        string
	info      types.CustomerInfo
	createdAt time.Time
	machine   *call.Machine

	// finished holds the UnixNano time the call last entered Ended or
	// Error, or 0 while it is live. Written from the machine's observer,
	// which runs under the machine lock, so it must not take the manager lock.
	finished atomic.Int64
}

func (mc *managedCall) view() CallView {
	return CallView{
		ID:        mc.id,
		Caller:    mc.info,
		CreatedAt: mc.createdAt,
		Snapshot:  mc.machine.Snapshot(),
	}
}

// CallManagerConfig holds the dependencies shared by every call.
type CallManagerConfig struct {
	Credentials    call.CredentialSource
	Transport      transport.Transport
	Registrar      call.SessionRegistrar
	Profile        types.CallProfile
	ConnectTimeout time.Duration
	Retention      time.Duration
	Metrics        *observe.Metrics

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// CallManager owns one [call.Machine] per console call. Starts run in the
// background; readers only ever see snapshots. Finished calls are dropped
// once they are older than the retention period.
// All exported methods are safe for concurrent use.
type CallManager struct {
	creds       call.CredentialSource
	transport   transport.Transport
	registrar   call.SessionRegistrar
	connTimeout time.Duration
	metrics     *observe.Metrics
	now         func() time.Time
	newID       func() string

	// base parents every background start. Cancelled by Shutdown.
	base       context.Context
	cancelBase context.CancelFunc
	starts     sync.WaitGroup

	mu        sync.Mutex
	calls     map[string]*managedCall
	profile   types.CallProfile
	retention time.Duration
	closed    bool
}

// NewCallManager creates a CallManager with the given dependencies.
func NewCallManager(cfg CallManagerConfig) *CallManager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	base, cancel := context.WithCancel(context.Background())
	return &CallManager{
		creds:       cfg.Credentials,
		transport:   cfg.Transport,
		registrar:   cfg.Registrar,
		connTimeout: cfg.ConnectTimeout,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		newID:       cfg.NewID,
		base:        base,
		cancelBase:  cancel,
		calls:       make(map[string]*managedCall),
		profile:     cfg.Profile,
		retention:   cfg.Retention,
	}
}

// Create registers a new call for info and starts it in the background.
// The phone number is validated synchronously so that obviously bad input
// is rejected before a call exists.
func (cm *CallManager) Create(info types.CustomerInfo) (CallView, error) {
	if err := registrar.ValidatePhone(info.Phone); err != nil {
		return CallView{}, err
	}

	mc := &managedCall{
		id:        cm.newID(),
		info:      info,
		createdAt: cm.now(),
	}

	cm.mu.Lock()
	profile := cm.profile
	cm.mu.Unlock()

	m, err := call.New(call.Config{
		ID:             mc.id,
		Credentials:    cm.creds,
		Transport:      cm.transport,
		Registrar:      cm.registrar,
		Profile:        profile,
		ConnectTimeout: cm.connTimeout,
		Metrics:        cm.metrics,
		Now:            cm.now,
		Observer: func(t call.Transition) {
			switch t.To {
			case types.StateEnded, types.StateError:
				mc.finished.Store(cm.now().UnixNano())
			default:
				mc.finished.Store(0)
			}
		},
	})
	if err != nil {
		return CallView{}, fmt.Errorf("app: create call: %w", err)
	}
	mc.machine = m

	// Registered and started under the closed check so Shutdown ends it.
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return CallView{}, ErrShuttingDown
	}
	cm.calls[mc.id] = mc
	cm.startLocked(mc)
	cm.mu.Unlock()

	slog.Info("call created", "call_id", mc.id)
	return mc.view(), nil
}

// Start re-runs the start sequence of an ended or failed call. It returns
// [types.ErrAlreadyConnecting] when the call is still in progress.
func (cm *CallManager) Start(id string) (CallView, error) {
	mc, err := cm.lookup(id)
	if err != nil {
		return CallView{}, err
	}
	if s := mc.machine.State(); !s.CanStart() {
		return CallView{}, fmt.Errorf("app: start call %s from %s: %w", id, s, types.ErrAlreadyConnecting)
	}
	// Keeps the call listed while the retry is in flight.
	mc.finished.Store(0)
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return CallView{}, ErrShuttingDown
	}
	cm.startLocked(mc)
	cm.mu.Unlock()
	return mc.view(), nil
}

// startLocked runs the machine's Start in the background. cm.mu must be held
// and cm.closed false.
func (cm *CallManager) startLocked(mc *managedCall) {
	cm.starts.Add(1)
	go func() {
		defer cm.starts.Done()
		info := mc.info
		if err := mc.machine.Start(cm.base, &info); err != nil {
			slog.Warn("call start failed", "call_id", mc.id, "err", err)
		}
	}()
}

// End ends the call. It never fails for a known call.
func (cm *CallManager) End(ctx context.Context, id string) (CallView, error) {
	mc, err := cm.lookup(id)
	if err != nil {
		return CallView{}, err
	}
	mc.machine.End(ctx)
	return mc.view(), nil
}

// Get returns the call with the given id.
func (cm *CallManager) Get(id string) (CallView, error) {
	mc, err := cm.lookup(id)
	if err != nil {
		return CallView{}, err
	}
	return mc.view(), nil
}

// List returns every retained call, oldest first.
func (cm *CallManager) List() []CallView {
	cm.mu.Lock()
	all := make([]*managedCall, 0, len(cm.calls))
	for _, mc := range cm.calls {
		all = append(all, mc)
	}
	cm.mu.Unlock()

	slices.SortFunc(all, func(a, b *managedCall) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	out := make([]CallView, len(all))
	for i, mc := range all {
		out[i] = mc.view()
	}
	return out
}

func (cm *CallManager) lookup(id string) (*managedCall, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	mc, ok := cm.calls[id]
	if !ok {
		return nil, fmt.Errorf("app: call %q: %w", id, types.ErrNotFound)
	}
	return mc, nil
}

// SetProfile replaces the profile used by calls created from now on.
func (cm *CallManager) SetProfile(p types.CallProfile) {
	cm.mu.Lock()
	cm.profile = p
	cm.mu.Unlock()
}

// Profile returns the profile new calls are created with.
func (cm *CallManager) Profile() types.CallProfile {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.profile
}

// SetRetention changes how long finished calls are kept.
func (cm *CallManager) SetRetention(d time.Duration) {
	cm.mu.Lock()
	cm.retention = d
	cm.mu.Unlock()
}

// Prune drops calls that finished more than the retention period ago and
// returns how many were removed.
func (cm *CallManager) Prune() int {
	cutoff := cm.now()
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cutoff = cutoff.Add(-cm.retention)

	n := 0
	for id, mc := range cm.calls {
		f := mc.finished.Load()
		if f == 0 || time.Unix(0, f).After(cutoff) {
			continue
		}
		delete(cm.calls, id)
		n++
	}
	if n > 0 {
		slog.Debug("pruned finished calls", "count", n)
	}
	return n
}

// Run prunes finished calls until ctx is cancelled.
func (cm *CallManager) Run(ctx context.Context) error {
	for {
		cm.mu.Lock()
		wait := min(max(cm.retention/2, time.Second), pruneInterval)
		cm.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
			cm.Prune()
		}
	}
}

// Shutdown ends every call and waits for in-flight starts to return. New
// calls are refused afterwards.
func (cm *CallManager) Shutdown(ctx context.Context) error {
	cm.mu.Lock()
	cm.closed = true
	all := make([]*managedCall, 0, len(cm.calls))
	for _, mc := range cm.calls {
		all = append(all, mc)
	}
	cm.mu.Unlock()

	for _, mc := range all {
		mc.machine.End(ctx)
	}
	cm.cancelBase()

	done := make(chan struct{})
	go func() {
		cm.starts.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: waiting for call starts: %w", ctx.Err())
	}
}
