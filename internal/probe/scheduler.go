// Package probe contains the scheduling and classification core: a
// per-pair task scheduler, the single-probe executor and the rule-based
// status classifier.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaywatch/internal/observability"
	"relaywatch/internal/store"
)

// Prober runs one probe cycle for a pair.
type Prober interface {
	Probe(ctx context.Context, providerID, modelID int64) (*store.ProbeRecord, error)
}

// Cleaner removes history past the retention window.
type Cleaner interface {
	CleanupOldData(ctx context.Context) (int64, error)
}

// SchedulerStore is the slice of storage the scheduler itself reads.
type SchedulerStore interface {
	GlobalSource
	GetEnabledPairs(ctx context.Context) ([]store.Pair, error)
	GetProvider(ctx context.Context, id int64) (*store.Provider, error)
}

// Scheduler owns one long-lived goroutine per enabled (provider, model)
// pair plus a daily retention-cleanup loop. Tasks are started and stopped
// only through Reconcile, which diffs the desired pair set against the
// running one.
type Scheduler struct {
	// RecoveryDelay is the pause after an unexpected probe failure and
	// CleanupEvery the retention sweep period. Both may be adjusted
	// before Start.
	RecoveryDelay time.Duration
	CleanupEvery  time.Duration

	store   SchedulerStore
	prober  Prober
	cleaner Cleaner
	obs     *observability.Observability

	mu     sync.Mutex
	tasks  map[store.Pair]*pairTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pairTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(st SchedulerStore, prober Prober, cleaner Cleaner, obs *observability.Observability) *Scheduler {
	return &Scheduler{
		RecoveryDelay: 10 * time.Minute,
		CleanupEvery:  24 * time.Hour,
		store:         st,
		prober:        prober,
		cleaner:       cleaner,
		obs:           obs,
		tasks:         map[store.Pair]*pairTask{},
	}
}

// Start launches the cleanup loop and one task per currently enabled pair.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.cleaner != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cleanupLoop()
		}()
	}
	if err := s.Reconcile(s.ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}
	return nil
}

// Stop cancels every running task and waits for all of them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Reconcile recomputes the enabled-pair set and diffs it against the
// running tasks: removed pairs are cancelled and awaited, new pairs are
// started. Calling it again with no configuration change is a no-op.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	pairs, err := s.store.GetEnabledPairs(ctx)
	if err != nil {
		return fmt.Errorf("list enabled pairs: %w", err)
	}
	desired := make(map[store.Pair]bool, len(pairs))
	for _, pair := range pairs {
		desired[pair] = true
	}

	s.mu.Lock()
	var stopped []*pairTask
	for pair, task := range s.tasks {
		if desired[pair] {
			continue
		}
		task.cancel()
		stopped = append(stopped, task)
		delete(s.tasks, pair)
	}
	s.mu.Unlock()

	// Await removed tasks outside the lock so their final iteration can
	// finish before a replacement for the same pair could start.
	for _, task := range stopped {
		<-task.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return nil
	}
	started := 0
	for pair := range desired {
		if _, ok := s.tasks[pair]; ok {
			continue
		}
		s.startTask(pair)
		started++
	}
	if started > 0 || len(stopped) > 0 {
		slog.Info("probe tasks reconciled",
			"running", len(s.tasks), "started", started, "stopped", len(stopped))
	}
	return nil
}

// startTask is called with s.mu held.
func (s *Scheduler) startTask(pair store.Pair) {
	ctx, cancel := context.WithCancel(s.ctx)
	task := &pairTask{cancel: cancel, done: make(chan struct{})}
	s.tasks[pair] = task
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(task.done)
		defer s.forget(pair, task)
		if s.obs != nil {
			s.obs.MarkTaskStarted(ctx)
			defer s.obs.MarkTaskStopped(ctx)
		}
		s.runTask(ctx, pair)
	}()
}

// forget removes a task's map entry once it exits. The identity check keeps
// a self-pruned task from evicting a replacement started by a concurrent
// reconcile.
func (s *Scheduler) forget(pair store.Pair, task *pairTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.tasks[pair]; ok && current == task {
		delete(s.tasks, pair)
	}
}

func (s *Scheduler) runTask(ctx context.Context, pair store.Pair) {
	for {
		rec, err := s.prober.Probe(ctx, pair.ProviderID, pair.ModelID)
		switch {
		case errors.Is(err, ErrNotRunnable):
			// The pair was disabled or unlinked. Retire instead of
			// polling; the next reconcile restarts it if it comes back.
			slog.Info("probe task retired",
				"provider_id", pair.ProviderID, "model_id", pair.ModelID)
			return
		case ctx.Err() != nil:
			return
		case err != nil:
			slog.Error("probe cycle failed",
				"provider_id", pair.ProviderID, "model_id", pair.ModelID, "error", err)
			if !sleepCtx(ctx, s.RecoveryDelay) {
				return
			}
			continue
		}
		slog.Debug("probe completed",
			"provider_id", pair.ProviderID,
			"model_id", pair.ModelID,
			"status_code", rec.StatusCode,
			"latency_ms", rec.LatencyMS)
		if !sleepCtx(ctx, s.effectiveInterval(ctx, pair.ProviderID)) {
			return
		}
	}
}

// effectiveInterval is re-read every iteration so interval edits apply
// without restarting the task.
func (s *Scheduler) effectiveInterval(ctx context.Context, providerID int64) time.Duration {
	seconds := 0
	if provider, err := s.store.GetProvider(ctx, providerID); err == nil && provider.IntervalSeconds > 0 {
		seconds = provider.IntervalSeconds
	}
	if seconds <= 0 {
		seconds = globalInt(ctx, s.store, store.GlobalCheckIntervalSeconds, defaultIntervalSeconds)
	}
	return time.Duration(seconds) * time.Second
}

// Running reports the pairs with a live task, for status introspection.
func (s *Scheduler) Running() []store.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Pair, 0, len(s.tasks))
	for pair := range s.tasks {
		out = append(out, pair)
	}
	return out
}

func (s *Scheduler) cleanupLoop() {
	ticker := time.NewTicker(s.CleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.cleaner.CleanupOldData(s.ctx)
			if err != nil {
				slog.Error("retention cleanup failed", "error", err)
				continue
			}
			slog.Info("retention cleanup completed", "deleted", deleted)
			if s.obs != nil {
				s.obs.MarkCleanup(s.ctx, deleted)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
