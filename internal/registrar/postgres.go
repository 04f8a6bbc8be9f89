package registrar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/frontdesk/pkg/types"
)

// Schema is the SQL DDL for the customer_sessions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS customer_sessions (
    session_id     TEXT PRIMARY KEY,
    customer_phone TEXT NOT NULL DEFAULT '',
    customer_name  TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'active',
    start_time     TIMESTAMPTZ,
    end_time       TIMESTAMPTZ,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_customer_sessions_phone ON customer_sessions(customer_phone, start_time DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("registrar: migrate: %w", err)
	}
	return nil
}

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, sess *types.CustomerSession) error {
	const query = `
		INSERT INTO customer_sessions (session_id, customer_phone, customer_name, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.Exec(ctx, query,
		sess.SessionID, sess.CustomerPhone, sess.CustomerName, string(sess.Status),
		nullTime(sess.StartTime), sess.EndTime,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("registrar: session %q already exists", sess.SessionID)
		}
		return fmt.Errorf("registrar: create: %w", err)
	}
	return nil
}

// Upsert implements [Store].
func (s *PostgresStore) Upsert(ctx context.Context, sess *types.CustomerSession) error {
	const query = `
		INSERT INTO customer_sessions (session_id, customer_phone, customer_name, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			customer_phone = EXCLUDED.customer_phone,
			customer_name  = EXCLUDED.customer_name,
			status         = EXCLUDED.status,
			start_time     = EXCLUDED.start_time,
			end_time       = EXCLUDED.end_time,
			updated_at     = now()`

	_, err := s.db.Exec(ctx, query,
		sess.SessionID, sess.CustomerPhone, sess.CustomerName, string(sess.Status),
		nullTime(sess.StartTime), sess.EndTime,
	)
	if err != nil {
		return fmt.Errorf("registrar: upsert: %w", err)
	}
	return nil
}

const selectColumns = `session_id, customer_phone, customer_name, status, start_time, end_time`

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*types.CustomerSession, error) {
	query := `SELECT ` + selectColumns + ` FROM customer_sessions WHERE session_id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, sessionID))
}

// FindByPhone implements [Store].
func (s *PostgresStore) FindByPhone(ctx context.Context, phone string) (*types.CustomerSession, error) {
	query := `SELECT ` + selectColumns + ` FROM customer_sessions
		WHERE customer_phone = $1
		ORDER BY start_time DESC NULLS LAST
		LIMIT 1`
	return s.scanOne(s.db.QueryRow(ctx, query, phone))
}

// Ping implements [Store]. It uses the pool's Ping when available and a
// trivial query otherwise.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if p, ok := s.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("registrar: ping: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanOne(row pgx.Row) (*types.CustomerSession, error) {
	var (
		sess   types.CustomerSession
		status string
		start  *time.Time
	)
	err := row.Scan(&sess.SessionID, &sess.CustomerPhone, &sess.CustomerName, &status, &start, &sess.EndTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("registrar: scan: %w", err)
	}
	sess.Status = types.SessionStatus(status)
	if start != nil {
		sess.StartTime = *start
	}
	return &sess, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
