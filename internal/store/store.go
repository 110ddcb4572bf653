// Package store defines storage for the trade journal and the bar archive
// and provides file, SQLite, Postgres and Parquet implementations.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// JournalStore persists journal records and reads back one trading day.
type JournalStore interface {
	// Append durably stores one record.
	Append(ctx context.Context, rec domain.JournalRecord) error

	// ReadDay returns the records of day (YYYY-MM-DD in the store's
	// location) in append order.
	ReadDay(ctx context.Context, day string) ([]domain.JournalRecord, error)

	// Close releases the underlying resources.
	Close() error
}

// BarStore persists and retrieves one-minute OHLCV bars.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with archived bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// DayKey formats the trading day of t in loc. A nil loc means UTC.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
