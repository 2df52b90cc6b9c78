// Package notify provides domain.Notifier implementations for headless use.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"colloquy/internal/domain"
)

// Terminal prints the generating notice to a writer, typically stderr, and
// keeps the cancel action so a signal handler can trigger it.
type Terminal struct {
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	cancel  func()
	shownAt time.Time
}

var _ domain.Notifier = (*Terminal)(nil)

// NewTerminal creates a notifier writing to out.
func NewTerminal(out io.Writer, logger *slog.Logger) *Terminal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminal{out: out, logger: logger}
}

// Show implements domain.Notifier.
func (t *Terminal) Show(title string, cancel func()) {
	t.mu.Lock()
	t.cancel = cancel
	t.shownAt = time.Now()
	t.mu.Unlock()
	fmt.Fprintf(t.out, "%s... (Ctrl+C to cancel)\n", title)
}

// Dismiss implements domain.Notifier.
func (t *Terminal) Dismiss() {
	t.mu.Lock()
	shown := t.shownAt
	t.cancel = nil
	t.shownAt = time.Time{}
	t.mu.Unlock()
	if !shown.IsZero() {
		t.logger.Debug("notice dismissed", "shown_for", time.Since(shown))
	}
}

// Cancel runs the cancel action of a showing notice and reports whether
// there was one.
func (t *Terminal) Cancel() bool {
	t.mu.Lock()
	fn := t.cancel
	t.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Log records notice changes at debug level.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Show implements domain.Notifier.
func (l *Log) Show(title string, _ func()) { l.logger.Debug("notice shown", "title", title) }

// Dismiss implements domain.Notifier.
func (l *Log) Dismiss() { l.logger.Debug("notice dismissed") }

// Tee fans notice changes out to several notifiers in order. Nil entries
// are skipped.
func Tee(notifiers ...domain.Notifier) domain.Notifier {
	out := make(tee, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

type tee []domain.Notifier

func (t tee) Show(title string, cancel func()) {
	for _, n := range t {
		n.Show(title, cancel)
	}
}

func (t tee) Dismiss() {
	for _, n := range t {
		n.Dismiss()
	}
}
