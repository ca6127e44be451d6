// Package scheduler runs named periodic tasks. The registry maps task name to
// a cancellation handle behind one lock; all registration and deregistration
// goes through Scheduler methods. A task body that fails or panics is logged
// and the loop continues on its next interval - a single bad cycle never
// kills a task, and no task failure touches its siblings.
package scheduler

import (
	"context"
	"log"
	"os"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/nopeig/nopebot/internal/audit"
)

// TaskFunc is one iteration of a periodic task.
type TaskFunc func(ctx context.Context) error

type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the registry of running periodic tasks.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	base   context.Context
	logger *log.Logger
	errlog audit.ErrorLogger
	wg     sync.WaitGroup
}

// New creates a scheduler whose tasks all descend from ctx.
func New(ctx context.Context, logger *log.Logger, errlog audit.ErrorLogger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "scheduler: ", log.LstdFlags)
	}
	return &Scheduler{
		tasks:  make(map[string]*task),
		base:   ctx,
		logger: logger,
		errlog: errlog,
	}
}

// Every registers fn under name, runs it immediately, then on every interval
// tick until cancelled. Registration is idempotent per name: if a task with
// the same name is already running the call is a no-op and Every reports
// false.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) bool {
	s.mu.Lock()
	if _, exists := s.tasks[name]; exists {
		s.mu.Unlock()
		s.logger.Printf("Task %q already registered, skipping", name)
		return false
	}

	ctx, cancel := context.WithCancel(s.base)
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, t, interval, fn)
	return true
}

func (s *Scheduler) run(ctx context.Context, t *task, interval time.Duration, fn TaskFunc) {
	defer s.wg.Done()
	defer close(t.done)
	defer s.deregister(t)

	s.logger.Printf("Task %q started (interval %s)", t.name, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on start
	s.runOnce(ctx, t.name, fn)

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("Task %q stopped", t.name)
			return
		case <-ticker.C:
			s.runOnce(ctx, t.name, fn)
		}
	}
}

// runOnce executes one iteration, containing panics and logging failures.
func (s *Scheduler) runOnce(ctx context.Context, name string, fn TaskFunc) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("Task %q panicked: %v\n%s", name, r, debug.Stack())
			if s.errlog != nil {
				_ = s.errlog.AppendError(
					"task " + name + " panicked")
			}
		}
	}()

	if err := fn(ctx); err != nil {
		s.logger.Printf("Task %q iteration failed: %v", name, err)
		if s.errlog != nil {
			_ = s.errlog.AppendError("task " + name + ": " + err.Error())
		}
	}
}

func (s *Scheduler) deregister(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Guard against the name having been reused after a Cancel.
	if cur, ok := s.tasks[t.name]; ok && cur == t {
		delete(s.tasks, t.name)
	}
}

// Cancel stops the named task. It does not wait for the task's loop to
// unwind, so a task body may cancel itself. Reports whether the name was
// registered.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	return true
}

// CancelAll stops every registered task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
}

// Has reports whether a task is registered under name.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Names returns the registered task names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	return names
}

// Wait blocks until every task loop has exited. Intended for shutdown after
// the base context is cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
