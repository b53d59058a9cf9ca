package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrNotFound is returned by lookups that find no row.
var ErrNotFound = errors.New("not found")

// AccessError wraps a failure of the underlying database.
type AccessError struct {
	Op  string
	Err error
}

func (e *AccessError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *AccessError) Unwrap() error { return e.Err }

func access(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AccessError
	if errors.As(err, &ae) {
		return err
	}
	return &AccessError{Op: op, Err: err}
}

type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open connects to the database and creates the schema.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "examcore.db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/examcore?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection: SQLite allows a single writer, and every
		// connection to :memory: would otherwise see its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the backend in use.
func (s *Store) Driver() Driver { return s.driver }

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return access("ping", s.db.PingContext(ctx))
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn pairs a queryer with the placeholder style of its driver.
type conn struct {
	q      queryer
	driver Driver
}

func (s *Store) conn() conn { return conn{q: s.db, driver: s.driver} }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (c conn) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
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

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// Tx is a finalization transaction. All writes of one finalization go
// through a single Tx so they commit or roll back together.
type Tx struct {
	c conn
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
// fn must not call methods of s: with SQLite the transaction holds the
// only connection.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{c: conn{q: sqlTx, driver: s.driver}}); err != nil {
		return err
	}
	return access("commit", sqlTx.Commit())
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }
