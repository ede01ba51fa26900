package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store provides Postgres-backed persistence for the ledger, offers, codes and
// access sessions.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New connects a pool, verifies it and runs migrations.
func New(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.pool.Ping(ctx))
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			phone TEXT UNIQUE NOT NULL,
			full_name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'USER',
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL REFERENCES users(id),
			recipient_id TEXT NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			payment_session_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			CHECK (sender_id <> recipient_id)
		);`,
		`CREATE INDEX IF NOT EXISTS transactions_sender_idx ON transactions (sender_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS transactions_recipient_idx ON transactions (recipient_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS payment_sessions (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			payer_id TEXT NOT NULL DEFAULT '',
			transaction_id TEXT NOT NULL DEFAULT '',
			nonce TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS payment_sessions_active_expiry_idx ON payment_sessions (expires_at) WHERE active;`,
		`CREATE TABLE IF NOT EXISTS otp_codes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			code TEXT NOT NULL,
			purpose TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			used BOOLEAN NOT NULL DEFAULT FALSE,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`ALTER TABLE otp_codes ADD COLUMN IF NOT EXISTS attempts INTEGER NOT NULL DEFAULT 0;`,
		`CREATE INDEX IF NOT EXISTS otp_codes_outstanding_idx ON otp_codes (user_id, purpose, created_at DESC) WHERE NOT used;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			token_hash TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions (expires_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// txKey is the context key under which the open pgx.Tx travels.
type txKey struct{}

// WithTx runs fn inside a database transaction carried on the context.
// Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if getTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Warn("rollback failed", zap.Error(err))
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return classify("commit transaction", tx.Commit(ctx))
}

// InTx reports whether ctx carries an open transaction.
func (s *Store) InTx(ctx context.Context) bool {
	return getTx(ctx) != nil
}

func getTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// db returns the transaction on ctx, or the pool when there is none.
func (s *Store) db(ctx context.Context) querier {
	if tx := getTx(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// classify maps driver errors onto the storage sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return storage.ErrAlreadyExists
		case "23503":
			return storage.ErrNotFound
		case "40001", "40P01":
			return fmt.Errorf("%w: %s: %v", storage.ErrTransient, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %s: %v", storage.ErrTransient, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
