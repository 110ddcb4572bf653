package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/AlexSDem/trade-bot/internal/util"
)

// DaySnapshot holds the day-scoped counters.
type DaySnapshot struct {
	Day         string  `json:"day"`
	TradesToday int     `json:"trades_today"`
	Locked      bool    `json:"locked"`
	LastMetric  float64 `json:"last_metric"`
}

// DayFile persists a DaySnapshot as JSON with atomic replacement.
type DayFile struct {
	Path string
}

// Load reads the snapshot. ok is false when the file does not exist.
func (f *DayFile) Load() (snap DaySnapshot, ok bool, err error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return DaySnapshot{}, false, nil
	}
	if err != nil {
		return DaySnapshot{}, false, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return DaySnapshot{}, false, fmt.Errorf("decoding %s: %w", f.Path, err)
	}
	return snap, true, nil
}

// Save writes the snapshot.
func (f *DayFile) Save(snap DaySnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(f.Path, data, 0o644)
}

// Day returns the current day counters.
func (l *Ledger) Day() DaySnapshot { return l.day }

// RestoreDay loads the persisted counters if they belong to day. A snapshot
// from another day is ignored and the ledger starts the day fresh.
func (l *Ledger) RestoreDay(day string) error {
	l.day = DaySnapshot{Day: day}
	if l.dayFile == nil {
		return nil
	}
	snap, ok, err := l.dayFile.Load()
	if err != nil {
		return err
	}
	if ok && snap.Day == day {
		l.day = snap
		l.log.Info("restored day counters", "day", day,
			"trades_today", snap.TradesToday, "locked", snap.Locked)
		return nil
	}
	return l.persistDay()
}

// Rollover starts a new day when day differs from the current one: the
// trade counter resets and the loss lock is cleared. Position and order
// state carry over. It reports whether a rollover happened.
func (l *Ledger) Rollover(day string) bool {
	if l.day.Day == day {
		return false
	}
	prev := l.day
	l.day = DaySnapshot{Day: day}
	l.log.Info("day rollover", "from", prev.Day, "to", day,
		"trades", prev.TradesToday, "was_locked", prev.Locked)
	l.persistDayOrWarn()
	return true
}

// TradesToday returns the confirmed entry fills of the day.
func (l *Ledger) TradesToday() int { return l.day.TradesToday }

// IncTrades counts one confirmed entry fill.
func (l *Ledger) IncTrades() {
	l.day.TradesToday++
	l.persistDayOrWarn()
}

// DayLocked reports whether the loss circuit breaker has tripped today.
func (l *Ledger) DayLocked() bool { return l.day.Locked }

// LockDay trips the circuit breaker for the rest of the day.
func (l *Ledger) LockDay() {
	if l.day.Locked {
		return
	}
	l.day.Locked = true
	l.persistDayOrWarn()
}

// SetDayMetric records the latest day metric.
func (l *Ledger) SetDayMetric(v float64) {
	if l.day.LastMetric == v {
		return
	}
	l.day.LastMetric = v
	l.persistDayOrWarn()
}

func (l *Ledger) persistDay() error {
	if l.dayFile == nil {
		return nil
	}
	return l.dayFile.Save(l.day)
}

func (l *Ledger) persistDayOrWarn() {
	if err := l.persistDay(); err != nil {
		l.log.Warn("persisting day counters", "error", err)
	}
}
