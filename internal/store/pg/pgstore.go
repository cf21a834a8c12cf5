package pg

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"trullo.app/internal/tracker"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

//go:embed schema.sql
var schema string

// Store implements tracker.Store on Postgres.
type Store struct {
	db *sql.DB
}

var _ tracker.Store = (*Store)(nil)

// Open connects using the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Init creates missing tables and indexes. It never alters existing ones.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError translates driver errors into tracker sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return tracker.ErrConflict
		case pgErrForeignKeyViolation:
			return tracker.ErrNotFound
		}
	}
	return err
}

// filter accumulates where-clauses with positional placeholders.
type filter struct {
	clauses []string
	args    []any
}

// add appends clause, replacing each "?" with the next placeholder bound to arg.
func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(f.args))))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " where " + strings.Join(f.clauses, " and ")
}

// page appends limit/offset for req.
func (f *filter) page(req tracker.PageRequest) (string, []any) {
	args := append([]any(nil), f.args...)
	if req.Limit <= 0 {
		return "", args
	}
	args = append(args, req.Limit, req.Offset())
	return fmt.Sprintf(" limit $%d offset $%d", len(args)-1, len(args)), args
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}

func splitIDs(raw string) []string {
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, ",")
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) count(ctx context.Context, query string, args []any) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
