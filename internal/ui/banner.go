package ui

import (
	"sync"
	"time"
)

// Notifier surfaces user-visible messages. Pipeline code only talks to this
// interface so tests can record what the user would have seen.
type Notifier interface {
	Error(msg string)
	Persist(msg string)
}

// Banner prints errors through the logger and keeps the latest one visible
// until it auto-dismisses after the configured duration.
type Banner struct {
	log     *Logger
	display time.Duration
	now     func() time.Time

	mu         sync.Mutex
	msg        string
	expires    time.Time
	persistent bool
}

func NewBanner(log *Logger, display time.Duration) *Banner {
	return &Banner{log: log, display: display, now: time.Now}
}

func (b *Banner) Error(msg string) {
	b.set(msg, false)
}

// Persist shows msg until another message replaces it.
func (b *Banner) Persist(msg string) {
	b.set(msg, true)
}

func (b *Banner) set(msg string, persistent bool) {
	b.mu.Lock()
	b.msg = msg
	b.persistent = persistent
	b.expires = b.now().Add(b.display)
	b.mu.Unlock()

	if b.log != nil {
		b.log.Errorf("%s\n", msg)
	}
}

// Current returns the visible message, or false once it has been dismissed.
func (b *Banner) Current() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.msg == "" {
		return "", false
	}
	if !b.persistent && !b.now().Before(b.expires) {
		return "", false
	}

	return b.msg, true
}
