// Package store is the document store gateway: the domain's collections
// (incoming, outgoing, outgoing_processing, profils, contacts,
// configuration) are Postgres tables with a `doc JSONB` payload column,
// grounded on the teacher's own choice of pgx/pgxpool for persistence — no
// MongoDB driver exists anywhere in the retrieval pack. EnsureIndexes
// creates no table for the attachments collections.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/millegrilles/messagerie/internal/messagerie/domainerr"
)

// Querier is the minimal surface store.Store needs from a pgx connection or
// pool, so tests can substitute a gomock-generated fake.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the document store gateway.
type Store struct {
	db Querier
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// NewWithQuerier wraps an arbitrary Querier, used by tests.
func NewWithQuerier(q Querier) *Store {
	return &Store{db: q}
}

const pgUniqueViolation = "23505"

// isDuplicate reports whether err is a Postgres unique-violation error,
// the idiomatic analogue of verifier_erreur_duplication_mongo.
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Column is an extra indexed column a table declares beyond its key and
// its doc payload, supplied at Insert time so EnsureIndexes' NOT NULL
// columns (user_id, message_id, ...) are actually populated.
type Column struct {
	Name  string
	Value any
}

// GetByID loads a single document by its primary key ("id") into dest.
func (s *Store) GetByID(ctx context.Context, table, id string, dest any) error {
	return s.GetByKey(ctx, table, "id", id, dest)
}

// GetByKey loads a single document by an arbitrary key column into dest,
// for tables such as messagerie_dns_resolve_attempts whose primary key
// isn't named "id".
func (s *Store) GetByKey(ctx context.Context, table, keyColumn, key string, dest any) error {
	row := s.db.QueryRow(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE %s = $1", table, keyColumn), key)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainerr.ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	return json.Unmarshal(raw, dest)
}

// Insert writes a brand-new document keyed on "id". A unique-key collision
// is mapped to domainerr.ErrDuplicate and treated by callers as an
// idempotent replay, never a caller-visible failure. extraColumns supplies
// any other NOT NULL indexed columns the table declares (user_id,
// message_id, ...) alongside the key and doc payload.
func (s *Store) Insert(ctx context.Context, table, id string, doc any, extraColumns ...Column) error {
	return s.InsertKeyed(ctx, table, "id", id, doc, extraColumns...)
}

// InsertKeyed writes a brand-new document under an arbitrary key column,
// for tables such as messagerie_dns_resolve_attempts whose primary key
// isn't named "id".
func (s *Store) InsertKeyed(ctx context.Context, table, keyColumn, key string, doc any, extraColumns ...Column) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", table, err)
	}

	cols := []string{keyColumn}
	placeholders := []string{"$1"}
	args := []any{key}
	for _, c := range extraColumns {
		cols = append(cols, c.Name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, c.Value)
	}
	cols = append(cols, "doc")
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
	args = append(args, raw)

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err = s.db.Exec(ctx, sql, args...)
	if err != nil {
		if isDuplicate(err) {
			return domainerr.ErrDuplicate
		}
		return fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	return nil
}

// ApplyPatch applies a Patch to every row in table matching filterSQL
// (a raw WHERE-clause fragment referencing `doc`, using placeholders
// starting at $1), returning the number of rows touched.
func (s *Store) ApplyPatch(ctx context.Context, table, filterSQL string, filterArgs []any, patch *Patch) (int64, error) {
	if patch.IsEmpty() {
		return 0, nil
	}
	expr, patchArgs := patch.Build(len(filterArgs) + 1)
	sql := fmt.Sprintf("UPDATE %s SET doc = %s WHERE %s", table, expr, filterSQL)
	tag, err := s.db.Exec(ctx, sql, append(append([]any{}, filterArgs...), patchArgs...)...)
	if err != nil {
		return 0, fmt.Errorf("patch %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// Find runs filterSQL against table and calls scan with the raw doc JSON of
// every matching row, stopping at the first error scan returns.
func (s *Store) Find(ctx context.Context, table, filterSQL string, filterArgs []any, scan func(raw []byte) error) error {
	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT doc FROM %s WHERE %s", table, filterSQL), filterArgs...)
	if err != nil {
		return fmt.Errorf("find %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if err := scan(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EnsureIndexes creates every index the domain relies on, idempotently.
// Run once at boot.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS messagerie_incoming (id TEXT PRIMARY KEY, user_id TEXT NOT NULL, message_id TEXT NOT NULL, doc JSONB NOT NULL)",
		"CREATE UNIQUE INDEX IF NOT EXISTS messagerie_incoming_user_msg ON messagerie_incoming (user_id, message_id)",
		"CREATE INDEX IF NOT EXISTS messagerie_incoming_attachments_traites ON messagerie_incoming (((doc->>'attachments_traites')::boolean))",
		"CREATE TABLE IF NOT EXISTS messagerie_outgoing (id TEXT PRIMARY KEY, user_id TEXT NOT NULL, doc JSONB NOT NULL)",
		"CREATE TABLE IF NOT EXISTS messagerie_outgoing_processing (id TEXT PRIMARY KEY, message_id TEXT NOT NULL, doc JSONB NOT NULL)",
		"CREATE INDEX IF NOT EXISTS messagerie_outgoing_processing_message ON messagerie_outgoing_processing (message_id)",
		"CREATE TABLE IF NOT EXISTS messagerie_profils (id TEXT PRIMARY KEY, doc JSONB NOT NULL)",
		"CREATE TABLE IF NOT EXISTS messagerie_contacts (id TEXT PRIMARY KEY, user_id TEXT NOT NULL, doc JSONB NOT NULL)",
		"CREATE TABLE IF NOT EXISTS messagerie_configuration (id TEXT PRIMARY KEY, doc JSONB NOT NULL)",
		"CREATE TABLE IF NOT EXISTS messagerie_dns_resolve_attempts (dns TEXT PRIMARY KEY, doc JSONB NOT NULL)",
		"CREATE TABLE IF NOT EXISTS messagerie_postmaster_log (id TEXT PRIMARY KEY, doc JSONB NOT NULL)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure indexes: %w", err)
		}
	}
	return nil
}
