package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AlexSDem/trade-bot/internal/domain"
)

// Compile-time interface check.
var _ JournalStore = (*JSONLStore)(nil)

// JSONLStore writes one JSON object per line into a file per trading day:
//
//	<Dir>/journal-<YYYY-MM-DD>.jsonl
//
// Every append is fsynced before it returns.
type JSONLStore struct {
	Dir string
	loc *time.Location

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewJSONLStore creates the journal directory and returns a store that
// assigns records to days in loc.
func NewJSONLStore(dir string, loc *time.Location) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &JSONLStore{Dir: dir, loc: loc}, nil
}

func (s *JSONLStore) path(day string) string {
	return filepath.Join(s.Dir, "journal-"+day+".jsonl")
}

// Append writes rec to the file of its day.
func (s *JSONLStore) Append(_ context.Context, rec domain.JournalRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	day := DayKey(rec.Timestamp, s.loc)
	if s.file == nil || s.day != day {
		if s.file != nil {
			_ = s.file.Close()
			s.file = nil
		}
		f, err := os.OpenFile(s.path(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		s.file, s.day = f, day
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return s.file.Sync()
}

// ReadDay returns the records of day. A missing file is an empty day. A
// torn last line from a crash mid-write is skipped.
func (s *JSONLStore) ReadDay(_ context.Context, day string) ([]domain.JournalRecord, error) {
	f, err := os.Open(s.path(day))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var (
		out     []domain.JournalRecord
		badLine int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if badLine != 0 {
			return nil, fmt.Errorf("journal %s: malformed line %d", day, badLine)
		}
		var rec domain.JournalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			badLine = n
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// Close closes the current day file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
