package sourcedb

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrPoolClosed = errors.New("source db pool is closed")

// Pool is the subset of *sqlx.DB the manager needs.
type Pool interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	Close() error
}

// Opener builds a fresh pool. The default opener dials postgres through pgx.
type Opener func(ctx context.Context, cfg Config) (Pool, error)

// Manager owns the pool for the source replica. Every query goes through the
// retry policy: a connection-level failure closes the whole pool, waits
// RetryDelay and tries again on a new pool, up to MaxAttempts in total.
type Manager struct {
	cfg    Config
	open   Opener
	sleep  func(ctx context.Context, d time.Duration) error
	logger *logrus.Logger

	mu         sync.Mutex
	pool       Pool
	generation uint64
	closed     bool
}

type Option func(*Manager)

func WithOpener(open Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithSleep replaces the delay between attempts. Tests use it to avoid real waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg.withDefaults(),
		open:  OpenPgx,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	return m
}

// OpenPgx opens a pgx-backed sqlx pool with TCP keep-alive and a capped size.
func OpenPgx(ctx context.Context, cfg Config) (Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse source db config: %w", err)
	}
	dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: cfg.KeepAlive}
	connCfg.DialFunc = dialer.DialContext

	sqlDB := stdlib.OpenDB(*connCfg)
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxConns)

	db := sqlx.NewDb(sqlDB, "pgx")
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping source db: %w", err)
	}
	return db, nil
}

// Select runs a multi-row query into dest (a pointer to a slice).
func (m *Manager) Select(ctx context.Context, dest any, query string, args ...any) error {
	return m.withRetry(ctx, "Select", func(p Pool) error {
		return p.SelectContext(ctx, dest, query, args...)
	})
}

// Get runs a single-row query into dest.
func (m *Manager) Get(ctx context.Context, dest any, query string, args ...any) error {
	return m.withRetry(ctx, "Get", func(p Pool) error {
		return p.GetContext(ctx, dest, query, args...)
	})
}

// Generation counts pool recreations.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Close releases the pool. Later queries fail with ErrPoolClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.pool == nil {
		return nil
	}
	err := m.pool.Close()
	m.pool = nil
	return err
}

func (m *Manager) withRetry(ctx context.Context, op string, fn func(Pool) error) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		pool, gen, err := m.acquire(ctx)
		if err != nil {
			if errors.Is(err, ErrPoolClosed) || !isConnectFailure(err) {
				return err
			}
			lastErr = err
		} else {
			err = fn(pool)
			if err == nil {
				return nil
			}
			if !IsTransient(err) {
				return err
			}
			lastErr = err
			m.reset(gen)
		}

		if attempt == m.cfg.MaxAttempts {
			break
		}
		m.logger.WithFields(logrus.Fields{
			"module":   "sourcedb",
			"funcName": op,
			"attempt":  attempt,
			"delay":    m.cfg.RetryDelay.String(),
		}).Warnf("source db connection lost, recreating pool: %v", lastErr)
		if err := m.sleep(ctx, m.cfg.RetryDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("source db %s failed after %d attempts: %w", op, m.cfg.MaxAttempts, lastErr)
}

func (m *Manager) acquire(ctx context.Context) (Pool, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, m.generation, ErrPoolClosed
	}
	if m.pool != nil {
		return m.pool, m.generation, nil
	}
	p, err := m.open(ctx, m.cfg)
	if err != nil {
		return nil, m.generation, err
	}
	m.pool = p
	return p, m.generation, nil
}

// reset drops the pool seen at generation gen. A caller holding a stale
// generation leaves an already recreated pool alone.
func (m *Manager) reset(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.pool == nil {
		return
	}
	_ = m.pool.Close()
	m.pool = nil
	m.generation++
}

var transientMarkers = []string{
	"terminated",
	"terminating connection",
	"connection reset",
	"broken pipe",
	"database is closed",
	"unexpected eof",
	"server closed the connection",
	"conn closed",
}

// IsTransient reports whether err means the connection itself is gone.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isConnectFailure reports whether opening a pool failed for a reason a later
// attempt can fix. Bad config and rejected credentials are final.
func isConnectFailure(err error) bool {
	if IsTransient(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "i/o timeout")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
