// Package registrar records who is calling, independent of the transport
// session. A customer session is created when a call starts and marked ended
// when it stops; it can later be looked up by id or by phone number.
package registrar

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// DefaultCustomerName is stored when a session is created without a name.
const DefaultCustomerName = "Anonymous Customer"

// User-facing validation messages.
const (
	MsgPhoneRequired     = "Customer phone number is required"
	MsgPhoneInvalid      = "Invalid phone number format"
	MsgSessionIDRequired = "Session ID is required"
	MsgLookupRequired    = "Session ID or customer phone is required"
	MsgStatusInvalid     = "Invalid session status"
)

// phonePattern accepts an optional leading plus followed by at least ten
// digits, spaces, parentheses or dashes.
var phonePattern = regexp.MustCompile(`^\+?[\d\s()\-]{10,}$`)

// ValidatePhone checks a caller phone number. It returns a
// [*types.ValidationError] carrying the user-facing message on failure.
func ValidatePhone(phone string) error {
	if phone == "" {
		return types.NewValidationError("customerPhone", MsgPhoneRequired)
	}
	if !phonePattern.MatchString(phone) {
		return types.NewValidationError("customerPhone", MsgPhoneInvalid)
	}
	return nil
}

// Update describes a change to an existing session.
type Update struct {
	SessionID string              `json:"sessionId"`
	Status    types.SessionStatus `json:"status,omitempty"`
	EndTime   *time.Time          `json:"endTime,omitempty"`
}

// Lookup selects a session by id or, when the id is empty, by phone.
type Lookup struct {
	SessionID string
	Phone     string
}

// Option is a functional option for [New].
type Option func(*Registrar)

// WithStore sets the persistence backend. Default: a fresh [MemStore].
func WithStore(s Store) Option {
	return func(r *Registrar) { r.store = s }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registrar) { r.now = now }
}

// WithIDGenerator overrides how session ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registrar) { r.newID = fn }
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registrar) { r.metrics = m }
}

// Registrar validates caller input and maintains customer session records.
// It is safe for concurrent use when its [Store] is.
type Registrar struct {
	store   Store
	now     func() time.Time
	newID   func() string
	metrics *observe.Metrics
}

// New creates a Registrar.
func New(opts ...Option) *Registrar {
	r := &Registrar{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	if r.store == nil {
		r.store = NewMemStore()
	}
	return r
}

// Store returns the backing store.
func (r *Registrar) Store() Store { return r.store }

// Create validates the phone number and records a new active session.
func (r *Registrar) Create(ctx context.Context, phone, name string) (sess types.CustomerSession, err error) {
	defer func() { r.metrics.RecordRegistrarOp(ctx, "create", err) }()

	if err := ValidatePhone(phone); err != nil {
		return types.CustomerSession{}, err
	}
	if name == "" {
		name = DefaultCustomerName
	}
	sess = types.CustomerSession{
		SessionID:     r.newID(),
		CustomerPhone: phone,
		CustomerName:  name,
		Status:        types.SessionActive,
		StartTime:     r.now(),
	}
	if err := r.store.Create(ctx, &sess); err != nil {
		return types.CustomerSession{}, fmt.Errorf("registrar: create: %w", err)
	}
	return sess, nil
}

// End marks a session as ended. endTime defaults to now. Ending a session the
// store does not know still succeeds and returns a minimal ended record.
func (r *Registrar) End(ctx context.Context, sessionID string, endTime *time.Time) (types.CustomerSession, error) {
	return r.Update(ctx, Update{SessionID: sessionID, Status: types.SessionEnded, EndTime: endTime})
}

// Update applies u to the session. Status defaults to ended and the end time
// defaults to now.
func (r *Registrar) Update(ctx context.Context, u Update) (sess types.CustomerSession, err error) {
	defer func() { r.metrics.RecordRegistrarOp(ctx, "update", err) }()

	if u.SessionID == "" {
		return types.CustomerSession{}, types.NewValidationError("sessionId", MsgSessionIDRequired)
	}
	if u.Status == "" {
		u.Status = types.SessionEnded
	}
	if !u.Status.IsValid() {
		return types.CustomerSession{}, types.NewValidationError("status", MsgStatusInvalid)
	}
	end := r.now()
	if u.EndTime != nil {
		end = *u.EndTime
	}

	existing, err := r.store.Get(ctx, u.SessionID)
	if err != nil {
		return types.CustomerSession{}, fmt.Errorf("registrar: update: %w", err)
	}
	if existing != nil {
		sess = *existing
	} else {
		sess = types.CustomerSession{SessionID: u.SessionID}
	}
	sess.Status = u.Status
	sess.EndTime = &end

	if err := r.store.Upsert(ctx, &sess); err != nil {
		return types.CustomerSession{}, fmt.Errorf("registrar: update: %w", err)
	}
	return sess, nil
}

// Get returns the session selected by l. It returns an error wrapping
// [types.ErrNotFound] when nothing matches.
func (r *Registrar) Get(ctx context.Context, l Lookup) (sess types.CustomerSession, err error) {
	defer func() { r.metrics.RecordRegistrarOp(ctx, "get", err) }()

	var found *types.CustomerSession
	switch {
	case l.SessionID != "":
		found, err = r.store.Get(ctx, l.SessionID)
	case l.Phone != "":
		found, err = r.store.FindByPhone(ctx, l.Phone)
	default:
		return types.CustomerSession{}, types.NewValidationError("sessionId", MsgLookupRequired)
	}
	if err != nil {
		return types.CustomerSession{}, fmt.Errorf("registrar: get: %w", err)
	}
	if found == nil {
		return types.CustomerSession{}, fmt.Errorf("registrar: get: %w", types.ErrNotFound)
	}
	return *found, nil
}
