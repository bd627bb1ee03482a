package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	defaultBatchSize     = 50
	defaultProgressEvery = 10
)

// Store is the SQLite backed persistence layer. It is safe for concurrent
// use; all access goes through a single connection.
type Store struct {
	db            *sql.DB
	batchSize     int
	progressEvery int
	now           func() time.Time
}

type Option func(*Store)

// WithBatchSize overrides the number of records written per transaction
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock replaces the wall clock used for ingestion times and retention
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS fund_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		category INTEGER NOT NULL CHECK (category BETWEEN 0 AND 3),
		valuation REAL NOT NULL DEFAULT 0,
		discount_rate REAL NOT NULL DEFAULT 0,
		estimate_limit REAL NOT NULL DEFAULT 0,
		market_price REAL NOT NULL DEFAULT 0,
		price_change_pct REAL NOT NULL DEFAULT 0,
		source_updated_at INTEGER NOT NULL,
		remind_enabled INTEGER NOT NULL DEFAULT 0,
		watcher_id TEXT NOT NULL DEFAULT '',
		watch_started_at INTEGER,
		pause_state INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		net_asset_flag INTEGER NOT NULL DEFAULT 0,
		decline_count REAL,
		trade_amount REAL NOT NULL DEFAULT 0,
		total_shares REAL NOT NULL DEFAULT 0,
		share_delta REAL NOT NULL DEFAULT 0,
		ingested_at INTEGER NOT NULL,
		UNIQUE (code, source_updated_at)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_fund_data_code ON fund_data (code);`,
	`CREATE INDEX IF NOT EXISTS idx_fund_data_discount_rate ON fund_data (discount_rate);`,
	`CREATE INDEX IF NOT EXISTS idx_fund_data_source_updated_at ON fund_data (source_updated_at);`,
	`CREATE INDEX IF NOT EXISTS idx_fund_data_ingested_at ON fund_data (ingested_at);`,
	`CREATE TABLE IF NOT EXISTS alert_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		discount_rate REAL NOT NULL,
		alert_type TEXT NOT NULL,
		threshold REAL NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_alert_records_sent_at ON alert_records (sent_at);`,
	`CREATE TABLE IF NOT EXISTS metrics (
		metric_name TEXT NOT NULL,
		label_key TEXT NOT NULL DEFAULT '',
		label_value TEXT NOT NULL DEFAULT '',
		metric_value REAL NOT NULL,
		PRIMARY KEY (metric_name, label_key, label_value)
	);`,
}

// Open connects to the SQLite database at path and creates the schema.
// The parent directory of a file path is created when missing.
func Open(path string, opts ...Option) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("path", path).Info("database initialized")
	return s, nil
}

// New wraps an open database handle and creates the schema
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:            db,
		batchSize:     defaultBatchSize,
		progressEvery: defaultProgressEvery,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return s, nil
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
