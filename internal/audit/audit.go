// Package audit provides the append-only trade and error logs. Trade records
// go to a per-day file, errors to a shared file; both are plain text appends
// keyed by calendar date.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink writes append-only audit records under a single directory.
type Sink struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewSink creates the log directory if needed and returns a sink over it.
func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	return &Sink{dir: dir, now: time.Now}, nil
}

// AppendTrade appends one line to today's trade log.
func (s *Sink) AppendTrade(line string) error {
	name := fmt.Sprintf("trades-%s.txt", s.now().Format("2006-01-02"))
	return s.append(name, line)
}

// AppendError appends one line to the shared error log, stamped with the
// current date and time.
func (s *Sink) AppendError(line string) error {
	stamped := fmt.Sprintf("%s | %s", line, s.now().Format("2006-01-02 at 15:04:05"))
	return s.append("errors.txt", stamped)
}

func (s *Sink) append(name, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) // #nosec G304 -- path is rooted in the configured log dir
	if err != nil {
		return fmt.Errorf("opening audit log %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("appending to audit log %s: %w", name, err)
	}
	return nil
}

// ErrorLogger is the minimal error-log surface most components depend on.
type ErrorLogger interface {
	AppendError(line string) error
}

// Ensure Sink implements ErrorLogger at compile time.
var _ ErrorLogger = (*Sink)(nil)
