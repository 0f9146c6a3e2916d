package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

// connManager owns the sqlite handle lifecycle. The connection opens on
// first use with a bounded retry schedule, and Close is idempotent so
// shutdown paths can call it without tracking whether the store was ever
// touched. All connection state lives here rather than in package-level
// variables, so tests and the runner can hold independent stores.
type connManager struct {
	cfg config.StoreConfig

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

func newConnManager(cfg config.StoreConfig) *connManager {
	if cfg.ConnectRetries < 0 {
		cfg.ConnectRetries = 0
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = 250 * time.Millisecond
	}
	return &connManager{cfg: cfg}
}

// get returns the live handle, opening it on the first call. Retries use
// doubling backoff and respect ctx cancellation between attempts.
func (m *connManager) get(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, models.NewScanError(models.ErrCodeStore, "store is closed", nil)
	}
	if m.db != nil {
		return m.db, nil
	}

	var lastErr error
	backoff := m.cfg.ConnectBackoff
	for attempt := 0; attempt <= m.cfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, models.NewScanError(models.ErrCodeStore, "store connect canceled", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		db, err := openDB(m.cfg.Path)
		if err != nil {
			lastErr = err
			continue
		}
		m.db = db
		return db, nil
	}

	return nil, models.NewScanError(models.ErrCodeStore, "store connect failed", lastErr)
}

// close releases the handle. Safe to call repeatedly and before first use.
func (m *connManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// openDB opens the sqlite file, applies the connection settings, and
// ensures the schema. SQLite supports a single writer, so the pool is
// pinned to one connection; WAL keeps readers from blocking it.
func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	// The pragma forces a real connection, so open failures surface here
	// where the retry loop can see them.
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
