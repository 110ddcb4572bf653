// Package journal fans trade journal records out to a durable primary
// store, best-effort mirrors and live subscribers.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/metrics"
	"github.com/AlexSDem/trade-bot/internal/store"
)

// Journal records lifecycle events. Only the primary store's errors are
// returned; mirror failures are logged and counted.
type Journal struct {
	primary store.JournalStore
	mirrors []store.JournalStore
	log     *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan domain.JournalRecord
}

// New creates a Journal writing to primary and copying to mirrors.
func New(primary store.JournalStore, log *slog.Logger, mirrors ...store.JournalStore) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{
		primary: primary,
		mirrors: mirrors,
		log:     log.With("component", "journal"),
		subs:    make(map[int]chan domain.JournalRecord),
	}
}

// Record appends rec to every sink and broadcasts it.
func (j *Journal) Record(ctx context.Context, rec domain.JournalRecord) error {
	metrics.JournalEvents.WithLabelValues(string(rec.Event)).Inc()

	var err error
	if j.primary != nil {
		if err = j.primary.Append(ctx, rec); err != nil {
			err = fmt.Errorf("journal %s %s: %w", rec.Event, rec.Symbol, err)
		}
	}
	for _, m := range j.mirrors {
		if merr := m.Append(ctx, rec); merr != nil {
			metrics.JournalMirrorErrors.Inc()
			j.log.Warn("journal mirror write failed", "event", rec.Event, "symbol", rec.Symbol, "error", merr)
		}
	}
	j.broadcast(rec)
	return err
}

// ReadDay reads a day from the primary store.
func (j *Journal) ReadDay(ctx context.Context, day string) ([]domain.JournalRecord, error) {
	if j.primary == nil {
		return nil, nil
	}
	return j.primary.ReadDay(ctx, day)
}

// Close closes every sink and all subscriber channels.
func (j *Journal) Close() error {
	var first error
	for _, s := range append([]store.JournalStore{j.primary}, j.mirrors...) {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	j.subsMu.Lock()
	for id, ch := range j.subs {
		delete(j.subs, id)
		close(ch)
	}
	j.subsMu.Unlock()
	return first
}

// Subscribe returns a channel that receives every recorded event. bufSize
// controls the channel buffer; slow consumers will have events dropped.
func (j *Journal) Subscribe(bufSize int) (int, <-chan domain.JournalRecord) {
	ch := make(chan domain.JournalRecord, bufSize)
	j.subsMu.Lock()
	id := j.nextSubID
	j.nextSubID++
	j.subs[id] = ch
	j.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (j *Journal) Unsubscribe(id int) {
	j.subsMu.Lock()
	if ch, ok := j.subs[id]; ok {
		delete(j.subs, id)
		close(ch)
	}
	j.subsMu.Unlock()
}

// broadcast sends an event to all subscribers non-blocking (drop on full).
func (j *Journal) broadcast(rec domain.JournalRecord) {
	j.subsMu.Lock()
	defer j.subsMu.Unlock()
	for _, ch := range j.subs {
		select {
		case ch <- rec:
		default:
			// Slow consumer, drop.
		}
	}
}
