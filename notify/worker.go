package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"timesheets/apperr"
	"timesheets/hours"
	"timesheets/metrics"
	"timesheets/models"
	"timesheets/storage"
)

// WorkerStore is what the worker needs from storage.
type WorkerStore interface {
	storage.OutboxStore
	GetTimesheet(ctx context.Context, id uint, withEntries bool) (models.Timesheet, error)
}

// WorkerConfig controls the outbox loop.
type WorkerConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	LeaseTTL      time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	TaskTimeout   time.Duration
	// Retention is how long done tasks are kept before they are pruned.
	Retention     time.Duration
}

func (c WorkerConfig) normalized() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// RetryDelay doubles RetryBackoff per failed attempt, capped at RetryMaxDelay.
func (c WorkerConfig) RetryDelay(attempts int) time.Duration {
	c = c.normalized()
	delay := c.RetryBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= c.RetryMaxDelay {
			return c.RetryMaxDelay
		}
	}
	if delay > c.RetryMaxDelay {
		return c.RetryMaxDelay
	}
	return delay
}

// permanentError marks a task that can never succeed.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Worker executes outbox tasks at least once. Creates are idempotent through
// the unread upsert and fulfills are deletes; an email may be sent twice if
// the process dies between sending and completing the task.
type Worker struct {
	store      WorkerStore
	dispatcher *Dispatcher
	mailer     Mailer
	cfg        WorkerConfig
	log        zerolog.Logger
	now        func() time.Time
	wake       chan struct{}
	lastPrune  time.Time
}

func NewWorker(store WorkerStore, dispatcher *Dispatcher, mailer Mailer, cfg WorkerConfig, log zerolog.Logger) *Worker {
	return &Worker{
		store:      store,
		dispatcher: dispatcher,
		mailer:     mailer,
		cfg:        cfg.normalized(),
		log:        log,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

// Wake asks the loop to poll now instead of at the next tick.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info().Dur("poll_interval", w.cfg.PollInterval).Msg("outbox worker started")
	for {
		if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("outbox poll failed")
		}
		if now := w.now(); now.Sub(w.lastPrune) >= pruneEvery {
			w.lastPrune = now
			if _, err := w.Prune(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("outbox prune failed")
			}
		}
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

const pruneEvery = 10 * time.Minute

// Prune deletes done tasks older than the retention window.
func (w *Worker) Prune(ctx context.Context) (int64, error) {
	removed, err := w.store.PruneOutbox(ctx, w.now().Add(-w.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("prune outbox: %w", err)
	}
	if removed > 0 {
		w.log.Debug().Int64("removed", removed).Msg("outbox pruned")
	}
	return removed, nil
}

// ProcessPending claims and executes due tasks until none are left. It
// returns the number of tasks attempted.
func (w *Worker) ProcessPending(ctx context.Context) (int, error) {
	processed := 0
	for {
		tasks, err := w.store.ClaimOutbox(ctx, w.now(), w.cfg.LeaseTTL, w.cfg.BatchSize)
		if err != nil {
			return processed, fmt.Errorf("claim outbox: %w", err)
		}
		for _, task := range tasks {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			w.process(ctx, task)
			processed++
		}
		if len(tasks) < w.cfg.BatchSize {
			return processed, nil
		}
	}
}

func (w *Worker) process(ctx context.Context, task models.OutboxTask) {
	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	taskCtx, span := otel.Tracer("timesheets/notify").Start(taskCtx, "outbox."+task.Kind)
	span.SetAttributes(attribute.String("outbox.id", task.ID), attribute.Int("outbox.attempts", task.Attempts))
	defer span.End()

	logger := w.log.With().Str("task_id", task.ID).Str("kind", task.Kind).Logger()
	err := w.execute(taskCtx, task)
	if err == nil {
		metrics.OutboxTasks.WithLabelValues(task.Kind, "done").Inc()
		if err := w.store.CompleteOutbox(ctx, task.ID); err != nil {
			logger.Error().Err(err).Msg("complete outbox task")
		}
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	attempts := task.Attempts + 1
	var permanent permanentError
	if errors.As(err, &permanent) || attempts >= w.cfg.MaxAttempts {
		metrics.OutboxTasks.WithLabelValues(task.Kind, "dead").Inc()
		logger.Error().Err(err).Int("attempts", attempts).Msg("outbox task moved to dead letter")
		if err := w.store.BuryOutbox(ctx, task.ID, attempts, err.Error()); err != nil {
			logger.Error().Err(err).Msg("bury outbox task")
		}
		return
	}

	delay := w.cfg.RetryDelay(attempts)
	metrics.OutboxTasks.WithLabelValues(task.Kind, "retry").Inc()
	logger.Warn().Err(err).Int("attempts", attempts).Dur("retry_in", delay).Msg("outbox task failed")
	if err := w.store.RetryOutbox(ctx, task.ID, attempts, w.now().Add(delay), err.Error()); err != nil {
		logger.Error().Err(err).Msg("reschedule outbox task")
	}
}

func decode(task models.OutboxTask, out any) error {
	if err := json.Unmarshal([]byte(task.Payload), out); err != nil {
		return permanentError{fmt.Errorf("decode %s payload: %w", task.Kind, err)}
	}
	return nil
}

// classify turns caller-side domain errors into permanent failures.
func classify(err error) error {
	if err == nil || apperr.KindOf(err) == apperr.KindInternal {
		return err
	}
	return permanentError{err}
}

func (w *Worker) execute(ctx context.Context, task models.OutboxTask) error {
	switch task.Kind {
	case KindCreate:
		var p CreatePayload
		if err := decode(task, &p); err != nil {
			return err
		}
		return w.create(ctx, p)
	case KindFulfill:
		var p FulfillPayload
		if err := decode(task, &p); err != nil {
			return err
		}
		return w.fulfill(ctx, p)
	case KindFinalApprovalEmail:
		var p FinalApprovalPayload
		if err := decode(task, &p); err != nil {
			return err
		}
		return w.sendFinalApproval(ctx, p)
	default:
		return permanentError{fmt.Errorf("unknown outbox task kind %q", task.Kind)}
	}
}

// fulfill clears the notices made obsolete by p.Action, except the types a
// later transition has made current again.
func (w *Worker) fulfill(ctx context.Context, p FulfillPayload) error {
	f, ok := fulfillments[p.Action]
	if !ok {
		return permanentError{fmt.Errorf("unknown fulfill action %q", p.Action)}
	}
	ts, err := w.store.GetTimesheet(ctx, p.ResourceID, false)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load timesheet %d: %w", p.ResourceID, err)
	default:
		f.types = notDueIn(f.types, ts.State)
	}
	_, err = w.dispatcher.remove(ctx, p.ActorID, p.ResourceID, p.Action, f)
	return classify(err)
}

func notDueIn(types []models.NotificationType, state models.TimesheetState) []models.NotificationType {
	out := make([]models.NotificationType, 0, len(types))
	for _, typ := range types {
		if due, ok := dueWhile[typ]; ok && due == state {
			continue
		}
		out = append(out, typ)
	}
	return out
}

// create records the notification unless the timesheet has already moved
// past the state it was raised for. A transition committed while the
// notification was being written is caught by the second check, whose
// fulfillment may already have run.
func (w *Worker) create(ctx context.Context, p CreatePayload) error {
	due, err := w.stillDue(ctx, p)
	if err != nil || !due {
		return err
	}
	n, err := w.dispatcher.Create(ctx, p.RecipientID, p.Type, p.ResourceID, p.Title, p.Message)
	if err != nil {
		return classify(err)
	}
	if due, err = w.stillDue(ctx, p); err != nil || due {
		return err
	}
	err = w.dispatcher.Dismiss(ctx, n.RecipientID, n.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}

func (w *Worker) stillDue(ctx context.Context, p CreatePayload) (bool, error) {
	if p.State == "" {
		return true, nil
	}
	ts, err := w.store.GetTimesheet(ctx, p.ResourceID, false)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load timesheet %d: %w", p.ResourceID, err)
	}
	if ts.State != p.State {
		metrics.OutboxTasks.WithLabelValues(KindCreate, "stale").Inc()
		w.log.Debug().
			Uint("timesheet_id", ts.ID).
			Str("type", string(p.Type)).
			Str("raised_in", string(p.State)).
			Str("state", string(ts.State)).
			Msg("stale notification dropped")
		return false, nil
	}
	return true, nil
}

func (w *Worker) sendFinalApproval(ctx context.Context, p FinalApprovalPayload) error {
	if w.mailer == nil {
		return nil
	}
	ts, err := w.store.GetTimesheet(ctx, p.TimesheetID, true)
	if errors.Is(err, storage.ErrNotFound) {
		return permanentError{fmt.Errorf("timesheet %d not found", p.TimesheetID)}
	}
	if err != nil {
		return fmt.Errorf("load timesheet %d: %w", p.TimesheetID, err)
	}
	if ts.User == nil {
		return permanentError{fmt.Errorf("timesheet %d has no owner", p.TimesheetID)}
	}
	if ts.User.Email == "" {
		w.log.Warn().Uint("timesheet_id", ts.ID).Uint("user_id", ts.User.ID).Msg("final approval email skipped: owner has no email")
		return nil
	}
	return w.mailer.SendFinalApproval(ctx, FinalApproval{
		TimesheetID:  ts.ID,
		To:           ts.User.Email,
		OwnerName:    ts.User.DisplayName(),
		Period:       ts.PeriodLabel(),
		ApproverName: p.ApproverName,
		Summary:      hours.SummarizeEntries(ts.Entries),
	})
}
