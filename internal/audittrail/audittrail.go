// Package audittrail persists an optional historical record of scored
// candidates and liquidation attempts to Postgres. It supplements the
// file-based queue-of-record; the core pipeline functions identically
// with it disabled (AUDIT_DB_DSN unset).
package audittrail

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps a Postgres connection pool with the rebind-placeholder and
// transactional-helper conventions used throughout this codebase.
type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error { return db.raw.Close() }

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error   { return tx.raw.Commit() }
func (tx *Tx) Rollback() error { return tx.raw.Rollback() }

// rebindPostgresPlaceholders turns `?` placeholders into pgx's positional
// `$N` form, skipping `?` characters inside single-quoted string literals.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}
		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

// Open connects to dsn, pings it, and runs the DDL migration. Callers
// should treat a non-nil error as "audit trail unavailable" and disable
// it rather than fail the pipeline (spec §3.3: optional, never gates the
// core pipeline).
func Open(dsn string) (*Store, error) {
	raw, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("audittrail: open postgres: %w", err)
	}
	raw.SetConnMaxIdleTime(30 * time.Second)
	raw.SetMaxIdleConns(4)
	raw.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("audittrail: ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: raw}}
	if err := store.migrate(context.Background()); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS candidate_snapshots (
			id BIGSERIAL PRIMARY KEY,
			obligation_pubkey TEXT NOT NULL,
			owner_pubkey TEXT NOT NULL,
			health_ratio DOUBLE PRECISION NOT NULL,
			liquidation_eligible INTEGER NOT NULL,
			borrow_value_usd DOUBLE PRECISION NOT NULL,
			collateral_value_usd DOUBLE PRECISION NOT NULL,
			priority_score DOUBLE PRECISION NOT NULL,
			raw_json TEXT NOT NULL,
			recorded_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_candidate_snapshots_obligation_time
			ON candidate_snapshots(obligation_pubkey, recorded_at DESC);`,
		`CREATE TABLE IF NOT EXISTS liquidation_attempts (
			id BIGSERIAL PRIMARY KEY,
			plan_key TEXT NOT NULL,
			obligation_pubkey TEXT NOT NULL,
			profile_used TEXT NOT NULL,
			broadcasted INTEGER NOT NULL,
			blocked INTEGER NOT NULL,
			blocked_reason TEXT NOT NULL,
			signature TEXT NOT NULL,
			simulate_errors_json TEXT NOT NULL,
			attempted_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_liquidation_attempts_obligation_time
			ON liquidation_attempts(obligation_pubkey, attempted_at DESC);`,
	}
	for _, query := range ddl {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("audittrail: migration failed: %w", err)
		}
	}
	return nil
}

// CandidateSnapshot is one point-in-time scored-candidate record.
type CandidateSnapshot struct {
	ObligationPubkey    string
	OwnerPubkey         string
	HealthRatio         float64
	LiquidationEligible bool
	BorrowValueUsd      float64
	CollateralValueUsd  float64
	PriorityScore       float64
}

// RecordCandidateSnapshot appends one candidate snapshot row.
func (s *Store) RecordCandidateSnapshot(ctx context.Context, snap CandidateSnapshot, nowMs int64) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO candidate_snapshots (
			obligation_pubkey, owner_pubkey, health_ratio, liquidation_eligible,
			borrow_value_usd, collateral_value_usd, priority_score, raw_json, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ObligationPubkey,
		snap.OwnerPubkey,
		snap.HealthRatio,
		boolToInt(snap.LiquidationEligible),
		snap.BorrowValueUsd,
		snap.CollateralValueUsd,
		snap.PriorityScore,
		string(raw),
		nowMs,
	)
	return err
}

// LiquidationAttempt is one executor Execute() outcome.
type LiquidationAttempt struct {
	PlanKey          string
	ObligationPubkey string
	ProfileUsed      string
	Broadcasted      bool
	Blocked          bool
	BlockedReason    string
	Signature        string
	SimulateErrors   []string
}

// RecordLiquidationAttempt appends one liquidation attempt row.
func (s *Store) RecordLiquidationAttempt(ctx context.Context, attempt LiquidationAttempt, nowMs int64) error {
	errsJSON, err := json.Marshal(attempt.SimulateErrors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO liquidation_attempts (
			plan_key, obligation_pubkey, profile_used, broadcasted, blocked,
			blocked_reason, signature, simulate_errors_json, attempted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		attempt.PlanKey,
		attempt.ObligationPubkey,
		attempt.ProfileUsed,
		boolToInt(attempt.Broadcasted),
		boolToInt(attempt.Blocked),
		attempt.BlockedReason,
		attempt.Signature,
		string(errsJSON),
		nowMs,
	)
	return err
}

// RecentAttempts returns the most recent attempts for an obligation, newest
// first. No package in this module calls it; internal/apiserverx does not
// expose it.
func (s *Store) RecentAttempts(ctx context.Context, obligationPubkey string, limit int) ([]LiquidationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT plan_key, obligation_pubkey, profile_used, broadcasted, blocked, blocked_reason, signature, simulate_errors_json
		FROM liquidation_attempts
		WHERE obligation_pubkey = ?
		ORDER BY attempted_at DESC
		LIMIT ?
	`, obligationPubkey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiquidationAttempt
	for rows.Next() {
		var a LiquidationAttempt
		var broadcasted, blocked int
		var errsJSON string
		if err := rows.Scan(&a.PlanKey, &a.ObligationPubkey, &a.ProfileUsed, &broadcasted, &blocked, &a.BlockedReason, &a.Signature, &errsJSON); err != nil {
			return nil, err
		}
		a.Broadcasted = broadcasted != 0
		a.Blocked = blocked != 0
		_ = json.Unmarshal([]byte(errsJSON), &a.SimulateErrors)
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// IsNotFound reports whether err is a "no rows" condition from a
// QueryRowContext-based lookup, for callers that need to distinguish
// "nothing recorded yet" from a real database error.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
