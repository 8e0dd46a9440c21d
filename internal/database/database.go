// Package database records persisted alerts in the Postgres alert catalogue.
package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
)

// schema creates the catalogue table. An alert revision is identified by its superevent,
// alert type and creation time.
const schema = `
	CREATE TABLE IF NOT EXISTS alerts (
		alert_id      BIGSERIAL PRIMARY KEY,
		superevent_id TEXT NOT NULL,
		alert_type    TEXT NOT NULL,
		time_created  TIMESTAMPTZ NOT NULL,
		event_class   TEXT NOT NULL,
		directory     TEXT NOT NULL,
		area90        DOUBLE PRECISION,
		far           DOUBLE PRECISION,
		rule          TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (superevent_id, alert_type, time_created)
	)
`

// Alert is one catalogue row.
type Alert struct {
	SupereventID string
	AlertType    string
	TimeCreated  time.Time
	EventClass   string
	Directory    string
	Area90       *float64
	FAR          *float64
	Rule         string
}

// DB wraps a database connection and provides catalogue operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// EnsureSchema creates the alerts table if it does not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create alerts table")
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertAlertIdempotent inserts an alert with idempotency protection.
// Uses INSERT ... ON CONFLICT DO NOTHING RETURNING to ensure no duplicates.
// Returns the alert_id if a new row was inserted, or nil if it already existed.
func (db *DB) InsertAlertIdempotent(ctx context.Context, a Alert) (*int64, error) {
	query := `
		INSERT INTO alerts (superevent_id, alert_type, time_created, event_class, directory, area90, far, rule)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (superevent_id, alert_type, time_created) DO NOTHING
		RETURNING alert_id
	`

	var alertID int64
	err := db.conn.QueryRowContext(ctx, query,
		a.SupereventID,
		a.AlertType,
		a.TimeCreated,
		a.EventClass,
		a.Directory,
		nullFloat(a.Area90),
		nullFloat(a.FAR),
		nullString(a.Rule),
	).Scan(&alertID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Debug("Alert already catalogued, skipping",
				"superevent_id", a.SupereventID,
				"alert_type", a.AlertType,
			)
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to insert alert %s", a.SupereventID)
	}

	slog.Info("Catalogued new alert",
		"alert_id", alertID,
		"superevent_id", a.SupereventID,
		"alert_type", a.AlertType,
	)

	return &alertID, nil
}
