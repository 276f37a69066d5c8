package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/db"
)

type Options struct {
	Concurrency int
	Poll        time.Duration
	MaxAttempts int
	Backoff     time.Duration // opóźnienie = Backoff * numer próby
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Poll <= 0 {
		o.Poll = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	return o
}

// Worker pobiera zadania z tabeli tasks i wykonuje je handlerami z rejestru.
// Dostarczenie co najmniej raz: handler musi być idempotentny.
type Worker struct {
	log   zerolog.Logger
	db    *gorm.DB
	queue *Queue
	reg   *Registry
	opts  Options

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(log zerolog.Logger, gdb *gorm.DB, q *Queue, reg *Registry, opts Options) *Worker {
	return &Worker{
		log:   log.With().Str("component", "worker").Logger(),
		db:    gdb,
		queue: q,
		reg:   reg,
		opts:  opts.withDefaults(),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	// zadania przerwane przy poprzednim zamknięciu wracają do kolejki
	res := w.db.WithContext(ctx).Model(&db.Task{}).
		Where("status = ?", db.TaskRunning).
		Updates(map[string]any{"status": db.TaskPending, "run_after": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("requeue running tasks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		w.log.Warn().Int64("count", res.RowsAffected).Msg("przywrócono przerwane zadania")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	w.log.Info().Int("concurrency", w.opts.Concurrency).Strs("kinds", w.reg.Kinds()).Msg("Worker: start")
	return nil
}

// Stop czeka, aż bieżące zadania się skończą. Idempotentny.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.log.Info().Msg("Worker: stop")
}

func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) loop(ctx context.Context, n int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.Poll)
	defer ticker.Stop()

	for {
		w.drain(ctx, n)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.queue.wake:
		}
	}
}

// drain wykonuje zadania, dopóki jakieś są gotowe.
func (w *Worker) drain(ctx context.Context, n int) {
	for ctx.Err() == nil {
		ok, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error().Err(err).Int("loop", n).Msg("błąd pętli workera")
			return
		}
		if !ok {
			return
		}
	}
}

// RunOnce pobiera i wykonuje jedno gotowe zadanie. Zwraca false, gdy kolejka jest pusta.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	t, err := w.claim(ctx)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}

	runErr := w.run(ctx, t)
	// wynik zapisujemy nawet po anulowaniu kontekstu
	if err := w.finish(context.WithoutCancel(ctx), t, runErr); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Worker) claim(ctx context.Context) (*db.Task, error) {
	gdb := w.db.WithContext(ctx)
	for {
		var t db.Task
		err := gdb.Where("status = ? AND run_after <= ?", db.TaskPending, time.Now().UTC()).
			Order("id").First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select task: %w", err)
		}

		// warunkowy update: wygrywa dokładnie jeden worker
		res := gdb.Model(&db.Task{}).
			Where("id = ? AND status = ?", t.ID, db.TaskPending).
			Updates(map[string]any{
				"status":   db.TaskRunning,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim task %d: %w", t.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		t.Status = db.TaskRunning
		t.Attempts++
		return &t, nil
	}
}

func (w *Worker) run(ctx context.Context, t *db.Task) (err error) {
	h, ok := w.reg.Get(t.Kind)
	if !ok {
		return Permanent(fmt.Errorf("no handler for task kind %q", t.Kind))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", t.Kind, r)
		}
	}()

	start := time.Now()
	err = h(ctx, t)
	w.log.Debug().Uint("task", t.ID).Str("kind", t.Kind).Dur("took", time.Since(start)).Err(err).Msg("zadanie wykonane")
	return err
}

func (w *Worker) finish(ctx context.Context, t *db.Task, runErr error) error {
	l := w.log.With().Uint("task", t.ID).Str("kind", t.Kind).Int("attempt", t.Attempts).Logger()
	upd := map[string]any{}

	switch {
	case runErr == nil:
		upd["status"] = db.TaskDone
		upd["active_key"] = nil
		upd["last_error"] = ""
	case IsPermanent(runErr) || t.Attempts >= w.opts.MaxAttempts:
		upd["status"] = db.TaskError
		upd["active_key"] = nil
		upd["last_error"] = runErr.Error()
		l.Error().Err(runErr).Msg("zadanie zakończone błędem")
	default:
		upd["status"] = db.TaskPending
		upd["last_error"] = runErr.Error()
		upd["run_after"] = time.Now().UTC().Add(w.opts.Backoff * time.Duration(t.Attempts))
		l.Warn().Err(runErr).Msg("zadanie do ponowienia")
	}

	if err := w.db.WithContext(ctx).Model(&db.Task{}).Where("id = ?", t.ID).Updates(upd).Error; err != nil {
		return fmt.Errorf("finish task %d: %w", t.ID, err)
	}
	return nil
}
