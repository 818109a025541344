package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper guards the sqlx calls the stores make. sql.ErrNoRows is
// a result, not a failure.
type DatabaseWrapper struct {
	db      *sqlx.DB
	cb      *Breaker
	service string
}

// NewDatabaseWrapper wraps db with a breaker configured from CB_DB_*.
func NewDatabaseWrapper(db *sqlx.DB, service string, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := New(db.DriverName(), DatabaseSettings(), logger)
	Metrics.Register(service, cb)
	return &DatabaseWrapper{db: db, cb: cb, service: service}
}

func (dw *DatabaseWrapper) run(ctx context.Context, fn func() error) error {
	var inner error
	err := dw.cb.Execute(ctx, func() error {
		inner = fn()
		if errors.Is(inner, sql.ErrNoRows) {
			return nil
		}
		return inner
	})
	Metrics.Observe(dw.service, dw.cb, err == nil)
	if err != nil {
		return err
	}
	return inner
}

// PingContext checks connectivity.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.run(ctx, func() error { return dw.db.PingContext(ctx) })
}

// ExecContext runs a statement with driver-specific bind vars.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := dw.run(ctx, func() error {
		var err error
		res, err = dw.db.ExecContext(ctx, dw.db.Rebind(query), args...)
		return err
	})
	return res, err
}

// GetContext scans a single row into dest.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.run(ctx, func() error {
		return dw.db.GetContext(ctx, dest, dw.db.Rebind(query), args...)
	})
}

// SelectContext scans all rows into dest.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.run(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, dw.db.Rebind(query), args...)
	})
}

// DriverName reports the driver the pool was opened with.
func (dw *DatabaseWrapper) DriverName() string {
	return dw.db.DriverName()
}

// Close closes the pool.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// State of the underlying breaker.
func (dw *DatabaseWrapper) State() State {
	return dw.cb.State()
}

// IsCircuitBreakerOpen reports whether calls are currently being rejected.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.State() == StateOpen
}
