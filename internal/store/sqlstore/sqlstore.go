// Package sqlstore implements store.Store on database/sql.
//
// Two dialects are supported: Postgres through the pgx stdlib driver and
// SQLite through modernc.org/sqlite. Every mutation is a single statement;
// increments are an atomic upsert, never a read-modify-write.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/store"
)

// Dialect identifies the SQL flavor of the backing database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders into $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg converts a time into the column representation of the dialect.
// SQLite columns are TEXT holding RFC 3339 timestamps.
func (d Dialect) timeArg(t time.Time) any {
	if d == Postgres {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// dateColumn renders a date column as YYYY-MM-DD text.
func (d Dialect) dateColumn(col string) string {
	if d == Postgres {
		return "to_char(" + col + ", 'YYYY-MM-DD')"
	}
	return col
}

// scanTime converts a scanned timestamp of either dialect into a time.Time.
func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}

// Store is a store.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to the database and verifies the connection. The schema is
// managed separately by internal.RunMigrations.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, store.Error.New("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, store.Error.New("open database: %v", err)
	}

	if dialect == SQLite {
		// A single connection serializes writers instead of surfacing SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Error.New("ping database: %v", err)
	}

	if dialect == SQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, store.Error.New("execute %s: %v", pragma, err)
			}
		}
	}

	return New(db, dialect), nil
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB returns the underlying handle, e.g. for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL flavor of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// =============================================================================
// store.UsageStore
// =============================================================================

func (s *Store) ReadCount(ctx context.Context, userID, date string) (int64, error) {
	var count int64
	err := s.queryRow(ctx, `
		SELECT op_count FROM usage_daily
		WHERE user_id = ? AND usage_date = ?`,
		userID, date,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Error.New("read count: %v", err)
	}
	return count, nil
}

func (s *Store) IncrementCount(ctx context.Context, userID, date string, delta int64) (int64, error) {
	var count int64
	err := s.queryRow(ctx, `
		INSERT INTO usage_daily (user_id, usage_date, op_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, usage_date)
		DO UPDATE SET op_count = usage_daily.op_count + excluded.op_count,
		              updated_at = excluded.updated_at
		RETURNING op_count`,
		userID, date, delta, s.dialect.timeArg(s.now()),
	).Scan(&count)
	if err != nil {
		return 0, store.Error.New("increment count: %v", err)
	}
	return count, nil
}

func (s *Store) DecrementCount(ctx context.Context, userID, date string, delta int64) (int64, error) {
	var count int64
	err := s.queryRow(ctx, `
		UPDATE usage_daily
		SET op_count = CASE WHEN op_count > ? THEN op_count - ? ELSE 0 END,
		    updated_at = ?
		WHERE user_id = ? AND usage_date = ?
		RETURNING op_count`,
		delta, delta, s.dialect.timeArg(s.now()), userID, date,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Error.New("decrement count: %v", err)
	}
	return count, nil
}

// ResetAll zeroes the user's counters. Rows are kept as history.
func (s *Store) ResetAll(ctx context.Context, userID string) error {
	_, err := s.exec(ctx, `
		UPDATE usage_daily SET op_count = 0, updated_at = ?
		WHERE user_id = ?`,
		s.dialect.timeArg(s.now()), userID,
	)
	if err != nil {
		return store.Error.New("reset usage: %v", err)
	}
	return nil
}

func (s *Store) ReadPlan(ctx context.Context, userID string) (domain.UserPlanState, error) {
	var (
		plan    string
		resetAt any
	)
	err := s.queryRow(ctx, `
		SELECT plan, quota_reset_at FROM user_plans
		WHERE user_id = ?`,
		userID,
	).Scan(&plan, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserPlanState{}, store.ErrNotFound.New("plan for user %q", userID)
	}
	if err != nil {
		return domain.UserPlanState{}, store.Error.New("read plan: %v", err)
	}

	state := domain.UserPlanState{UserID: userID, Plan: domain.Plan(plan)}
	if resetAt != nil {
		at, err := scanTime(resetAt)
		if err != nil {
			return domain.UserPlanState{}, store.Error.New("parse quota_reset_at: %v", err)
		}
		state.QuotaResetAt = &at
	}
	return state, nil
}

func (s *Store) WritePlan(ctx context.Context, userID string, plan domain.Plan) error {
	_, err := s.exec(ctx, `
		INSERT INTO user_plans (user_id, plan, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET plan = excluded.plan, updated_at = excluded.updated_at`,
		userID, string(plan), s.dialect.timeArg(s.now()),
	)
	if err != nil {
		return store.Error.New("write plan: %v", err)
	}
	return nil
}

func (s *Store) MarkReset(ctx context.Context, userID string, at time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO user_plans (user_id, plan, quota_reset_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET quota_reset_at = excluded.quota_reset_at, updated_at = excluded.updated_at`,
		userID, string(domain.PlanFree), s.dialect.timeArg(at), s.dialect.timeArg(s.now()),
	)
	if err != nil {
		return store.Error.New("mark reset: %v", err)
	}
	return nil
}

// =============================================================================
// store.NotificationMarks
// =============================================================================

func (s *Store) ClaimNotification(ctx context.Context, userID, date string, threshold domain.Threshold) (bool, error) {
	res, err := s.exec(ctx, `
		INSERT INTO quota_notifications (user_id, usage_date, threshold, sent_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, usage_date, threshold) DO NOTHING`,
		userID, date, string(threshold), s.dialect.timeArg(s.now()),
	)
	if err != nil {
		return false, store.Error.New("claim notification: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Error.New("claim notification: %v", err)
	}
	return n == 1, nil
}

func (s *Store) ReleaseNotification(ctx context.Context, userID, date string, threshold domain.Threshold) error {
	_, err := s.exec(ctx, `
		DELETE FROM quota_notifications
		WHERE user_id = ? AND usage_date = ? AND threshold = ?`,
		userID, date, string(threshold),
	)
	if err != nil {
		return store.Error.New("release notification: %v", err)
	}
	return nil
}

// =============================================================================
// store.Contacts
// =============================================================================

func (s *Store) ReadContact(ctx context.Context, userID string) (domain.Contact, error) {
	c := domain.Contact{UserID: userID}
	err := s.queryRow(ctx, `
		SELECT email, name FROM contacts
		WHERE user_id = ?`,
		userID,
	).Scan(&c.Email, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Contact{}, store.ErrNotFound.New("contact for user %q", userID)
	}
	if err != nil {
		return domain.Contact{}, store.Error.New("read contact: %v", err)
	}
	return c, nil
}

func (s *Store) WriteContact(ctx context.Context, contact domain.Contact) error {
	_, err := s.exec(ctx, `
		INSERT INTO contacts (user_id, email, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET email = excluded.email, name = excluded.name, updated_at = excluded.updated_at`,
		contact.UserID, contact.Email, contact.Name, s.dialect.timeArg(s.now()),
	)
	if err != nil {
		return store.Error.New("write contact: %v", err)
	}
	return nil
}

// =============================================================================
// store.UsageLog
// =============================================================================

func (s *Store) AppendUsageEvent(ctx context.Context, event domain.UsageEvent) error {
	_, err := s.exec(ctx, `
		INSERT INTO usage_events (user_id, tool, usage_date, occurred_at)
		VALUES (?, ?, ?, ?)`,
		event.UserID, event.Tool, event.Date, s.dialect.timeArg(event.At),
	)
	if err != nil {
		return store.Error.New("append usage event: %v", err)
	}
	return nil
}

func (s *Store) UsageEventsBefore(ctx context.Context, date string) (_ []domain.UsageEvent, err error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT user_id, tool, `+s.dialect.dateColumn("usage_date")+`, occurred_at
		FROM usage_events
		WHERE usage_date < ?
		ORDER BY id`),
		date,
	)
	if err != nil {
		return nil, store.Error.New("query usage events: %v", err)
	}
	defer func() {
		if cerr := rows.Close(); err == nil && cerr != nil {
			err = store.Error.Wrap(cerr)
		}
	}()

	var events []domain.UsageEvent
	for rows.Next() {
		var (
			e  domain.UsageEvent
			at any
		)
		if err := rows.Scan(&e.UserID, &e.Tool, &e.Date, &at); err != nil {
			return nil, store.Error.New("scan usage event: %v", err)
		}
		if e.At, err = scanTime(at); err != nil {
			return nil, store.Error.New("parse occurred_at: %v", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Error.New("iterate usage events: %v", err)
	}
	return events, nil
}

func (s *Store) PruneUsageBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM usage_events WHERE usage_date < ?`, date)
	if err != nil {
		return 0, store.Error.New("prune usage events: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Error.New("prune usage events: %v", err)
	}
	return n, nil
}

var _ store.Store = (*Store)(nil)
