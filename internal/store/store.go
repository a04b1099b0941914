package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"sentinel/internal/config"
	"sentinel/internal/services"
)

// Store is the shared durable store every Sentinel worker coordinates through.
// All cross-worker invariants are enforced here with conditional writes and
// unique indexes.
type Store struct {
	db     *sqlx.DB
	driver string
	dsn    string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Open connects to the store configured in cfg and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	st, err := OpenDSN(cfg.Store.Driver, cfg.StoreDSN())
	if err != nil {
		return nil, err
	}
	if cfg.Store.MaxOpenConns > 0 {
		st.db.SetMaxOpenConns(cfg.Store.MaxOpenConns)
	}
	return st, nil
}

// OpenDSN connects using an explicit driver (sqlite or postgres) and DSN. A bare
// SQLite path is expanded into a DSN with WAL, foreign keys, and a busy timeout.
func OpenDSN(driver, dsn string) (*Store, error) {
	var driverName string
	switch driver {
	case config.StoreDriverSQLite, "":
		driver = config.StoreDriverSQLite
		driverName = "sqlite"
		dsn = sqliteDSN(dsn)
	case config.StoreDriverPostgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	st := &Store{db: db, driver: driver, dsn: dsn}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return services.Wrap(services.ErrInfrastructure, "store", "ping", "database unreachable", err)
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// isTransient reports lock contention that clears on its own: SQLite busy
// errors and Postgres serialization failures or deadlocks.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == pgSerializationFailure || code == pgDeadlockDetected
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

func retryOnBusy(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(busyRetryAttempts-1,
		retry.WithCappedDuration(busyRetryMaxBackoff, retry.NewExponential(busyRetryInitialBackoff)))
	return retry.Do(ensureContext(ctx), backoff, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = s.db.Rebind(query)
	var res sql.Result
	err := retryOnBusy(ctx, func(ctx context.Context) error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	query = s.db.Rebind(query)
	return retryOnBusy(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, dest, query, args...)
	})
}

func (s *Store) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	query = s.db.Rebind(query)
	return retryOnBusy(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, dest, query, args...)
	})
}

// errRollback aborts a transaction without surfacing as a storage failure.
type errRollback struct{ err error }

func (e errRollback) Error() string { return e.err.Error() }
func (e errRollback) Unwrap() error { return e.err }

// inTx runs fn inside a transaction, retrying the whole transaction on
// transient lock contention. fn may return rollback(err) to abort with err.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	err := retryOnBusy(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	var rb errRollback
	if errors.As(err, &rb) {
		return rb.err
	}
	return err
}

func rollback(err error) error {
	return errRollback{err: err}
}

func txExec(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (sql.Result, error) {
	return tx.ExecContext(ctx, tx.Rebind(query), args...)
}

func rowsAffected(res sql.Result) (int64, error) {
	if res == nil {
		return 0, nil
	}
	return res.RowsAffected()
}

func infraError(operation string, err error) error {
	return services.Wrap(services.ErrInfrastructure, "store", operation, "", err)
}
