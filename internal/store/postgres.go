package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// Compile-time interface check.
var _ JournalStore = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trade_journal (
	id              BIGSERIAL PRIMARY KEY,
	day             DATE        NOT NULL,
	ts              TIMESTAMPTZ NOT NULL,
	event           TEXT        NOT NULL,
	symbol          TEXT        NOT NULL,
	venue_id        TEXT        NOT NULL,
	side            TEXT        NOT NULL DEFAULT '',
	lots            BIGINT      NOT NULL DEFAULT 0,
	price           DOUBLE PRECISION NOT NULL DEFAULT 0,
	order_id        TEXT        NOT NULL DEFAULT '',
	idempotency_key TEXT        NOT NULL DEFAULT '',
	status          TEXT        NOT NULL DEFAULT '',
	reason          TEXT        NOT NULL DEFAULT '',
	metadata        JSONB
);
CREATE INDEX IF NOT EXISTS trade_journal_day ON trade_journal (day, id);
`

// PostgresStore implements JournalStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPostgresStore connects to dsn and creates the journal table.
func NewPostgresStore(ctx context.Context, dsn string, loc *time.Location) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating journal table: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresStore{pool: pool, loc: loc}, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Append inserts rec.
func (s *PostgresStore) Append(ctx context.Context, rec domain.JournalRecord) error {
	var meta any
	if len(rec.Metadata) > 0 {
		meta = rec.Metadata
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_journal (day, ts, event, symbol, venue_id, side, lots, price,
			order_id, idempotency_key, status, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		dayDate(rec.Timestamp.In(s.loc)), rec.Timestamp,
		string(rec.Event), rec.Symbol, rec.VenueID, string(rec.Side), rec.Lots, rec.Price,
		rec.OrderID, rec.ClientKey, rec.Status, rec.Reason, meta,
	)
	if err != nil {
		return fmt.Errorf("inserting journal record: %w", err)
	}
	return nil
}

// ReadDay returns the records of day in insertion order.
func (s *PostgresStore) ReadDay(ctx context.Context, day string) ([]domain.JournalRecord, error) {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("bad day %q: %w", day, err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ts, event, symbol, venue_id, side, lots, price,
			order_id, idempotency_key, status, reason, metadata
		FROM trade_journal WHERE day = $1 ORDER BY id`, d)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.JournalRecord, error) {
		var (
			rec         domain.JournalRecord
			event, side string
		)
		err := row.Scan(&rec.Timestamp, &event, &rec.Symbol, &rec.VenueID, &side, &rec.Lots, &rec.Price,
			&rec.OrderID, &rec.ClientKey, &rec.Status, &rec.Reason, &rec.Metadata)
		rec.Event, rec.Side = domain.EventKind(event), domain.Side(side)
		return rec, err
	})
}

// dayDate is the calendar date of t as a UTC midnight, the form pgx encodes
// into a DATE column.
func dayDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
