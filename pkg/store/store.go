// Package store is the relational boundary of fifobus: the ingest role writes
// records, the analytics role reads aggregates and the publish role truncates
// the tables on shutdown.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"fifobus/pkg/records"
)

// Executor is the subset of *pgxpool.Pool the store needs.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Table names.
const (
	TableClaim    = "claim"
	TableDiagnose = "diagnose"
)

// ErrUnknownTable rejects truncation of tables the store does not own.
var ErrUnknownTable = errors.New("unknown table")

const schema = `
CREATE TABLE IF NOT EXISTS claim (
	id         BIGINT PRIMARY KEY,
	patient_id INTEGER NOT NULL,
	code       TEXT    NOT NULL,
	price      INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS diagnose (
	id         BIGINT PRIMARY KEY,
	patient_id INTEGER NOT NULL,
	icd10_code TEXT    NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Store runs fifobus queries on an Executor.
type Store struct {
	db  Executor
	log *zap.Logger
}

// New wraps db. A nil logger is replaced by a no-op logger.
func New(db Executor, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, log: logger.Named("store")}
}

// Exec runs stmt and discards the command tag.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// EnsureSchema creates the claim and diagnose tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Truncate empties the named tables in one statement. With no names both
// record tables are truncated.
func (s *Store) Truncate(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		tables = []string{TableDiagnose, TableClaim}
	}
	idents := make([]string, 0, len(tables))
	for _, t := range tables {
		if t != TableClaim && t != TableDiagnose {
			return fmt.Errorf("truncate %q: %w", t, ErrUnknownTable)
		}
		idents = append(idents, pgx.Identifier{t}.Sanitize())
	}
	if _, err := s.db.Exec(ctx, "TRUNCATE TABLE "+strings.Join(idents, ", ")); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	s.log.Info("tables truncated", zap.Strings("tables", tables))
	return nil
}

// InsertClaim stores c. It reports false when a claim with the same id
// already exists.
func (s *Store) InsertClaim(ctx context.Context, c records.Claim) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO claim (id, patient_id, code, price) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		int64(c.ID), c.PatientID, c.Code, c.Price)
	if err != nil {
		return false, fmt.Errorf("insert claim %d: %w", c.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertDiagnose stores d. It reports false when a diagnose with the same id
// already exists.
func (s *Store) InsertDiagnose(ctx context.Context, d records.Diagnose) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO diagnose (id, patient_id, icd10_code) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		int64(d.ID), d.PatientID, d.ICD10Code)
	if err != nil {
		return false, fmt.Errorf("insert diagnose %d: %w", d.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Stats aggregates the stored records.
type Stats struct {
	Claims    int64
	Diagnoses int64
	Patients  int64
	Revenue   int64
}

// ClaimStats returns counts over both tables and the summed claim price.
func (s *Store) ClaimStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
SELECT
	(SELECT count(*) FROM claim),
	(SELECT count(*) FROM diagnose),
	(SELECT count(DISTINCT patient_id) FROM claim),
	(SELECT coalesce(sum(price), 0) FROM claim)`).Scan(&st.Claims, &st.Diagnoses, &st.Patients, &st.Revenue)
	if err != nil {
		return Stats{}, fmt.Errorf("claim stats: %w", err)
	}
	return st, nil
}
