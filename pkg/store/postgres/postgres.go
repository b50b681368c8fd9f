// Package postgres implements the session store on PostgreSQL. Concurrency
// control mirrors the in-memory store: Update runs inside a transaction
// holding a row lock, so read-modify-write cycles on one session serialize.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a PostgreSQL-backed session store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, runs pending migrations, and returns the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func migrate(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const sessionColumns = `id, owner, provider_call_id, destination, strategy, state,
	verdict, confidence, verdict_source, overridden, analysis_started,
	raw_events, created_at, completed_at`

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, sess *types.CallSession) error {
	raw, err := encodeRawEvents(sess.RawEvents)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_sessions (`+sessionColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sess.ID, sess.Owner, sess.ProviderCallID, sess.Destination,
		string(sess.Strategy), string(sess.State), string(sess.Verdict),
		sess.Confidence, string(sess.VerdictSource), sess.Overridden,
		sess.AnalysisStarted, raw, sess.CreatedAt, sess.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id string) (*types.CallSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByProviderCallID implements store.Store.
func (s *Store) GetByProviderCallID(ctx context.Context, providerCallID string) (*types.CallSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE provider_call_id = $1`, providerCallID)
	return scanSession(row)
}

// Update implements store.Store. The row lock taken by FOR UPDATE holds off
// concurrent updaters of the same session until the transaction ends.
func (s *Store) Update(ctx context.Context, id string, fn func(*types.CallSession) error) (*types.CallSession, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE id = $1 FOR UPDATE`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	if err := fn(sess); err != nil {
		return nil, err
	}

	raw, err := encodeRawEvents(sess.RawEvents)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE call_sessions SET
			provider_call_id = NULLIF($2, ''), state = $3, verdict = $4,
			confidence = $5, verdict_source = $6, overridden = $7,
			analysis_started = $8, raw_events = $9, completed_at = $10
		WHERE id = $1`,
		sess.ID, sess.ProviderCallID, string(sess.State), string(sess.Verdict),
		sess.Confidence, string(sess.VerdictSource), sess.Overridden,
		sess.AnalysisStarted, raw, sess.CompletedAt); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sess, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*types.CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if f.Owner != "" {
		q += ` AND owner = ` + arg(f.Owner)
	}
	if f.Strategy != "" {
		q += ` AND strategy = ` + arg(string(f.Strategy))
	}
	if f.State != "" {
		q += ` AND state = ` + arg(string(f.State))
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.CallSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.CallSession, error) {
	var (
		sess           types.CallSession
		providerCallID sql.NullString
		strategy       string
		state          string
		verdict        string
		source         sql.NullString
		raw            []byte
		completedAt    sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.Owner, &providerCallID, &sess.Destination,
		&strategy, &state, &verdict, &sess.Confidence, &source,
		&sess.Overridden, &sess.AnalysisStarted, &raw, &sess.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.ProviderCallID = providerCallID.String
	sess.Strategy = types.Strategy(strategy)
	sess.State = types.LifecycleState(state)
	sess.Verdict = types.Verdict(verdict)
	sess.VerdictSource = types.VerdictSource(source.String)
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		sess.CompletedAt = &t
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	if err := decodeRawEvents(raw, &sess.RawEvents); err != nil {
		return nil, err
	}
	return &sess, nil
}

func encodeRawEvents(events []types.RawEvent) ([]byte, error) {
	if events == nil {
		events = []types.RawEvent{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("encode raw events: %w", err)
	}
	return raw, nil
}

func decodeRawEvents(raw []byte, into *[]types.RawEvent) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode raw events: %w", err)
	}
	if len(*into) == 0 {
		*into = nil
	}
	return nil
}
