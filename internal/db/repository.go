package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Repository persists warnings through database/sql. It speaks the
// common subset of MySQL and SQLite.
type Repository struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and makes sure the schema exists.
func Open(driver, dsn string) (*Repository, error) {
	switch driver {
	case DriverMySQL:
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
		dsn = "file:" + dsn + "?mode=rwc&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(100)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo, err := NewRepository(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewRepository wraps an open handle and initializes the schema.
func NewRepository(db *sql.DB, driver string) (*Repository, error) {
	repo := &Repository{db: db, driver: driver}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

const warningColumns = `
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		emotion VARCHAR(32) NOT NULL,
		intensity INT NOT NULL,
		note TEXT,
		read_at BIGINT NOT NULL,
		tier VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		support_channel VARCHAR(16) NOT NULL DEFAULT '',
		opened_at BIGINT NOT NULL,
		resolved_at BIGINT NULL,
		version BIGINT NOT NULL`

func (r *Repository) initSchema() error {
	var stmts []string
	if r.driver == DriverMySQL {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS warnings (` + warningColumns + `,
		INDEX idx_warnings_user_status (user_id, status)
	)`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS warnings (` + warningColumns + `
	)`,
			`CREATE INDEX IF NOT EXISTS idx_warnings_user_status ON warnings (user_id, status)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create warnings table: %w", err)
		}
	}
	return nil
}

// Create inserts w, assigning an id when it has none.
func (r *Repository) Create(ctx context.Context, w *core.Warning) (string, error) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Version == 0 {
		w.Version = 1
	}

	query := `INSERT INTO warnings
		(id, user_id, emotion, intensity, note, read_at, tier, status, support_channel, opened_at, resolved_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		w.ID, w.UserID, string(w.Reading.Emotion), w.Reading.Intensity, w.Reading.Note,
		w.Reading.Timestamp.UnixMilli(), w.Tier.String(), string(w.Status), string(w.Channel),
		w.OpenedAt.UnixMilli(), nullMillis(w.ResolvedAt), w.Version,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert warning: %w", err)
	}
	return w.ID, nil
}

// Update applies patch only if the stored version still matches.
func (r *Repository) Update(ctx context.Context, id string, patch core.WarningPatch) error {
	sets := []string{"version = ?"}
	args := []any{patch.ExpectedVersion + 1}
	if patch.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, string(patch.Status))
	}
	if patch.Channel != nil {
		sets = append(sets, "support_channel = ?")
		args = append(args, string(*patch.Channel))
	}
	if patch.ResolvedAt != nil {
		sets = append(sets, "resolved_at = ?")
		args = append(args, patch.ResolvedAt.UnixMilli())
	}
	args = append(args, id, patch.ExpectedVersion)

	query := `UPDATE warnings SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND version = ?`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update warning: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update warning: %w", err)
	}
	if n == 1 {
		return nil
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM warnings WHERE id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check warning: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s at version %d", core.ErrConflict, id, patch.ExpectedVersion)
}

const selectWarning = `SELECT id, user_id, emotion, intensity, note, read_at, tier, status, support_channel, opened_at, resolved_at, version FROM warnings`

func (r *Repository) Get(ctx context.Context, id string) (*core.Warning, error) {
	row := r.db.QueryRowContext(ctx, selectWarning+` WHERE id = ?`, id)
	w, err := scanWarning(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get warning: %w", err)
	}
	return w, nil
}

// ListActive returns the user's open warnings, oldest first.
func (r *Repository) ListActive(ctx context.Context, userID string) ([]*core.Warning, error) {
	rows, err := r.db.QueryContext(ctx,
		selectWarning+` WHERE user_id = ? AND status IN (?, ?) ORDER BY opened_at, id`,
		userID, string(core.StatusActive), string(core.StatusInSupport),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query warnings: %w", err)
	}
	defer rows.Close()

	var out []*core.Warning
	for rows.Next() {
		w, err := scanWarning(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan warning: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate warnings: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWarning(s scanner) (*core.Warning, error) {
	var (
		w                     core.Warning
		emotion, tier, status string
		channel               string
		note                  sql.NullString
		readAt, openedAt      int64
		resolvedAt            sql.NullInt64
	)
	if err := s.Scan(&w.ID, &w.UserID, &emotion, &w.Reading.Intensity, &note, &readAt,
		&tier, &status, &channel, &openedAt, &resolvedAt, &w.Version); err != nil {
		return nil, err
	}

	parsedTier, err := core.ParseRiskTier(tier)
	if err != nil {
		return nil, err
	}

	w.Reading.UserID = w.UserID
	w.Reading.Emotion = core.Emotion(emotion)
	w.Reading.Note = note.String
	w.Reading.Timestamp = time.UnixMilli(readAt)
	w.Tier = parsedTier
	w.Status = core.Status(status)
	w.Channel = core.Channel(channel)
	w.OpenedAt = time.UnixMilli(openedAt)
	if resolvedAt.Valid {
		t := time.UnixMilli(resolvedAt.Int64)
		w.ResolvedAt = &t
	}
	return &w, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
