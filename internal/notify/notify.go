// Package notify sends operator alerts: lock trips, flatten, day reports
// and fatal stops.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AlexSDem/trade-bot/internal/metrics"
)

// Notifier delivers a text message to the operator.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Telegram sends messages to one chat through the Bot API.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegram authenticates the bot token and returns a notifier for chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbot.APIEndpoint, &http.Client{Timeout: 15 * time.Second})
}

// NewTelegramWithEndpoint is NewTelegram against another Bot API endpoint,
// a format string taking the token and the method name.
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string, client *http.Client) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram needs both token and chat id")
	}
	b, err := tgbot.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

// Notify sends msg to the configured chat.
func (t *Telegram) Notify(_ context.Context, msg string) error {
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return fmt.Errorf("telegram send: %w", err)
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}

// Log writes notifications to a logger. It is the fallback when no chat is
// configured.
type Log struct {
	log *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log.With("component", "notify")}
}

// Notify logs msg at info level.
func (l *Log) Notify(_ context.Context, msg string) error {
	l.log.Info("notification", "message", msg)
	metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}

// Throttled drops a message when the same text was delivered less than
// Interval ago.
type Throttled struct {
	inner    Notifier
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottled wraps inner.
func NewThrottled(inner Notifier, interval time.Duration) *Throttled {
	return &Throttled{
		inner:    inner,
		interval: interval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Notify forwards msg unless it is a repeat inside the interval.
func (t *Throttled) Notify(ctx context.Context, msg string) error {
	t.mu.Lock()
	now := t.now()
	if at, ok := t.last[msg]; ok && now.Sub(at) < t.interval {
		t.mu.Unlock()
		metrics.Notifications.WithLabelValues("throttled").Inc()
		return nil
	}
	t.last[msg] = now
	t.mu.Unlock()
	return t.inner.Notify(ctx, msg)
}
