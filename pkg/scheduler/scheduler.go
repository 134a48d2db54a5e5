package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one recurring piece of maintenance work.
type Task func(context.Context) error

// Scheduler runs named tasks on fixed intervals until stopped. Each task
// gets its own goroutine and ticker; a failing run is logged and the next
// tick proceeds normally.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	entries []entry
}

type entry struct {
	name     string
	interval time.Duration
	task     Task
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Every registers task to run at the given interval once Start is called.
// The first run happens after one full interval, not immediately.
func (s *Scheduler) Every(interval time.Duration, name string, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{name: name, interval: interval, task: task})
}

// Start launches all registered tasks. A second call is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.run(e)
	}
	s.started = true
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.entries)))
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(e entry) {
	defer s.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			started := time.Now()
			if err := e.task(s.ctx); err != nil {
				s.logger.Error("scheduled task failed",
					zap.String("task", e.name),
					zap.Error(err))
				continue
			}
			s.logger.Debug("scheduled task completed",
				zap.String("task", e.name),
				zap.Duration("took", time.Since(started)))
		}
	}
}
