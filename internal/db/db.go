package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	errors "github.com/Laisky/errors/v2"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/models"
)

const (
	configKey       = "app_config"
	legacyConfigKey = "telegram_config"
)

// ErrNotFound is returned by Get when no request has the id
var ErrNotFound = errors.New("request not found")

// DB is the SQLite request store.
type DB struct {
	conn     *sql.DB
	defaults models.AppConfig
	logger   *zap.Logger
}

// New opens (and creates if needed) the SQLite database at dbPath.
// defaults is returned by GetConfig when nothing was ever saved.
func New(dbPath string, defaults models.AppConfig, logger *zap.Logger) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// one writer; also keeps :memory: databases on a single connection
	conn.SetMaxOpenConns(1)

	db, err := Open(conn, defaults, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Open wraps an existing connection and migrates the schema.
func Open(conn *sql.DB, defaults models.AppConfig, logger *zap.Logger) (*DB, error) {
	db := &DB{conn: conn, defaults: defaults, logger: logger}
	if err := db.migrate(); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_id ON requests(id);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// List returns all requests, newest first. Read failures are logged and
// yield an empty list; undecodable rows are skipped.
func (db *DB) List(ctx context.Context) []models.BloodRequest {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT seq, payload FROM requests ORDER BY seq DESC`)
	if err != nil {
		db.logger.Error("list requests", zap.Error(err))
		return []models.BloodRequest{}
	}
	defer rows.Close()

	requests := []models.BloodRequest{}
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			db.logger.Error("scan request row", zap.Error(err))
			return []models.BloodRequest{}
		}

		var req models.BloodRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			db.logger.Warn("skip corrupt request row", zap.Int64("seq", seq), zap.Error(err))
			continue
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		db.logger.Error("iterate request rows", zap.Error(err))
		return []models.BloodRequest{}
	}

	return requests
}

// Get returns the newest stored request with the id.
func (db *DB) Get(ctx context.Context, id string) (models.BloodRequest, error) {
	var payload string
	err := db.conn.QueryRowContext(ctx,
		`SELECT payload FROM requests WHERE id = ? ORDER BY seq DESC LIMIT 1`, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return models.BloodRequest{}, ErrNotFound
	}
	if err != nil {
		return models.BloodRequest{}, errors.Wrapf(err, "get request %s", id)
	}

	var req models.BloodRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return models.BloodRequest{}, errors.Wrapf(err, "decode request %s", id)
	}
	return req, nil
}

// Save puts the request at the head of the collection. Ids are not checked
// for uniqueness.
func (db *DB) Save(ctx context.Context, req models.BloodRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	now := time.Now()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO requests (id, payload, status, source, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, string(payload), req.Status, req.Source, req.CreatedAt, now,
	)
	if err != nil {
		return errors.Wrapf(err, "insert request %s", req.ID)
	}
	return nil
}

// Update replaces the stored request with the same id. Unknown ids are
// silently ignored.
func (db *DB) Update(ctx context.Context, req models.BloodRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE requests SET payload = ?, status = ?, updated_at = ?
		 WHERE seq = (SELECT seq FROM requests WHERE id = ? ORDER BY seq DESC LIMIT 1)`,
		string(payload), req.Status, time.Now(), req.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update request %s", req.ID)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		db.logger.Debug("update for unknown request ignored", zap.String("id", req.ID))
	}
	return nil
}

// GetConfig returns the saved channel config, else a migrated legacy
// Telegram-only config, else the built-in defaults.
func (db *DB) GetConfig(ctx context.Context) models.AppConfig {
	current, err := db.setting(ctx, configKey)
	if err != nil {
		db.logger.Error("read app config", zap.Error(err))
	}
	legacy, err := db.setting(ctx, legacyConfigKey)
	if err != nil {
		db.logger.Error("read legacy config", zap.Error(err))
	}

	return resolveConfig(current, legacy, db.defaults, db.logger)
}

// SaveConfig overwrites the channel config.
func (db *DB) SaveConfig(ctx context.Context, cfg models.AppConfig) error {
	value, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		configKey, string(value), time.Now(),
	)
	if err != nil {
		return errors.Wrap(err, "save config")
	}
	return nil
}

func (db *DB) setting(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}
