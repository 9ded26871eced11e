// Package cookiejar persists per-host browser cookies so a solved challenge
// can be reused by later attempts.
package cookiejar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
)

// Jar stores cookies keyed by host.
type Jar interface {
	Save(ctx context.Context, host string, cookies []browser.Cookie) error
	Load(ctx context.Context, host string) ([]browser.Cookie, error)
}

// SQLiteJar is a Jar backed by SQLite.
type SQLiteJar struct {
	db       *sql.DB
	logger   *slog.Logger
	isMemory bool
	now      func() time.Time
}

// NewSQLiteJar opens (and migrates) the cookie database at dbPath.
// ":memory:" keeps everything in process.
func NewSQLiteJar(dbPath string, logger *slog.Logger) (*SQLiteJar, error) {
	logger = logger.With("component", "cookiejar")

	var connStr string
	isMemory := dbPath == ":memory:"
	if isMemory {
		connStr = ":memory:"
	} else {
		dir := filepath.Dir(dbPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		connStr = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer, and an in-memory database only lives as long as its connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	jar := &SQLiteJar{db: db, logger: logger, isMemory: isMemory, now: time.Now}
	if err := jar.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("cookie jar initialized", "path", dbPath, "in_memory", isMemory)
	return jar, nil
}

func (j *SQLiteJar) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cookies (
		host TEXT PRIMARY KEY,
		cookies_json TEXT NOT NULL DEFAULT '[]',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cookies_updated_at ON cookies(updated_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// Save replaces the stored cookies for host. Expired cookies are dropped.
func (j *SQLiteJar) Save(ctx context.Context, host string, cookies []browser.Cookie) error {
	now := j.now()
	live := make([]browser.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		live = append(live, c)
	}

	cookiesJSON, err := json.Marshal(live)
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	query := `
	INSERT INTO cookies (host, cookies_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(host) DO UPDATE SET
		cookies_json = excluded.cookies_json,
		updated_at = excluded.updated_at
	`
	if _, err := j.db.ExecContext(ctx, query, normalizeHost(host), string(cookiesJSON), now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}

	j.logger.Debug("cookies persisted", "host", host, "count", len(live))
	return nil
}

// Load returns the stored cookies for host, or nil if there are none.
func (j *SQLiteJar) Load(ctx context.Context, host string) ([]browser.Cookie, error) {
	var cookiesJSON string
	err := j.db.QueryRowContext(ctx,
		"SELECT cookies_json FROM cookies WHERE host = ?", normalizeHost(host),
	).Scan(&cookiesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}

	var cookies []browser.Cookie
	if err := json.Unmarshal([]byte(cookiesJSON), &cookies); err != nil {
		j.logger.Warn("failed to unmarshal cookies", "host", host, "error", err)
		return nil, nil
	}

	now := j.now()
	live := cookies[:0]
	for _, c := range cookies {
		if c.Expires.IsZero() || c.Expires.After(now) {
			live = append(live, c)
		}
	}
	return live, nil
}

// Delete removes the stored cookies for host.
func (j *SQLiteJar) Delete(ctx context.Context, host string) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM cookies WHERE host = ?", normalizeHost(host)); err != nil {
		return fmt.Errorf("failed to delete cookies: %w", err)
	}
	return nil
}

// CleanupOlderThan removes hosts whose cookies were last saved before threshold.
func (j *SQLiteJar) CleanupOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, "DELETE FROM cookies WHERE updated_at < ?", threshold.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup cookies: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		j.logger.Info("cleaned up stale cookies", "hosts", count)
		if !j.isMemory {
			if _, err := j.db.ExecContext(ctx, "VACUUM"); err != nil {
				j.logger.Warn("failed to vacuum after cleanup", "error", err)
			}
		}
	}
	return count, nil
}

// StartCleanup removes rows older than maxAge every interval until ctx is done.
func (j *SQLiteJar) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.CleanupOlderThan(ctx, j.now().Add(-maxAge)); err != nil {
				j.logger.Warn("cookie cleanup failed", "error", err)
			}
		}
	}
}

// Close checkpoints the WAL and closes the database.
func (j *SQLiteJar) Close() error {
	if !j.isMemory {
		if _, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.logger.Warn("failed to checkpoint WAL before close", "error", err)
		}
	}
	return j.db.Close()
}
