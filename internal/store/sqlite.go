package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ JournalStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS journal (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	day             TEXT    NOT NULL,
	ts              TEXT    NOT NULL,
	event           TEXT    NOT NULL,
	symbol          TEXT    NOT NULL,
	venue_id        TEXT    NOT NULL,
	side            TEXT    NOT NULL DEFAULT '',
	lots            INTEGER NOT NULL DEFAULT 0,
	price           REAL    NOT NULL DEFAULT 0,
	order_id        TEXT    NOT NULL DEFAULT '',
	idempotency_key TEXT    NOT NULL DEFAULT '',
	status          TEXT    NOT NULL DEFAULT '',
	reason          TEXT    NOT NULL DEFAULT '',
	metadata        TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS journal_day ON journal (day, id);
`

// SQLiteStore implements JournalStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	loc *time.Location
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// journal table and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string, loc *time.Location) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal table: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SQLiteStore{db: db, loc: loc}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts rec.
func (s *SQLiteStore) Append(ctx context.Context, rec domain.JournalRecord) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journal (day, ts, event, symbol, venue_id, side, lots, price,
			order_id, idempotency_key, status, reason, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		DayKey(rec.Timestamp, s.loc), rec.Timestamp.UTC().Format(time.RFC3339Nano),
		string(rec.Event), rec.Symbol, rec.VenueID, string(rec.Side), rec.Lots, rec.Price,
		rec.OrderID, rec.ClientKey, rec.Status, rec.Reason, meta,
	)
	if err != nil {
		return fmt.Errorf("inserting journal record: %w", err)
	}
	return nil
}

// ReadDay returns the records of day in insertion order.
func (s *SQLiteStore) ReadDay(ctx context.Context, day string) ([]domain.JournalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, event, symbol, venue_id, side, lots, price,
			order_id, idempotency_key, status, reason, metadata
		FROM journal WHERE day = ? ORDER BY id`, day)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalRecord
	for rows.Next() {
		var (
			rec         domain.JournalRecord
			ts, meta    string
			event, side string
		)
		if err := rows.Scan(&ts, &event, &rec.Symbol, &rec.VenueID, &side, &rec.Lots, &rec.Price,
			&rec.OrderID, &rec.ClientKey, &rec.Status, &rec.Reason, &meta); err != nil {
			return nil, err
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", ts, err)
		}
		if rec.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
		rec.Event, rec.Side = domain.EventKind(event), domain.Side(side)
		out = append(out, rec)
	}
	return out, rows.Err()
}
