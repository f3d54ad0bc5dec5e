// Package jobs runs sync and order work asynchronously on a bounded
// worker pool. Retrying is selective: only failures classified as
// transient get another attempt, everything else fails fast.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/mirror-api/internal/audit"
	"github.com/quantdesk/mirror-api/internal/config"
	"github.com/quantdesk/mirror-api/internal/gateway"
	"github.com/quantdesk/mirror-api/internal/reconcile"
	"github.com/quantdesk/mirror-api/internal/types"
)

// ErrQueueFull is returned when the dispatcher cannot accept more work.
// Backpressure is explicit; nothing ever blocks the submitter.
var ErrQueueFull = errors.New("job queue is full")

// Job kinds.
const (
	KindAccountSync       = "ACCOUNT_SYNC"
	KindOrderPlacement    = "ORDER_PLACEMENT"
	KindOrderCancellation = "ORDER_CANCELLATION"
)

// Job states.
const (
	StateQueued    = "QUEUED"
	StateRunning   = "RUNNING"
	StateRetrying  = "RETRYING"
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
)

// Handle identifies a submitted job.
type Handle struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	AccountID string    `json:"account_id"`
	Queued    time.Time `json:"queued_at"`
}

// Status is a point-in-time view of a job's progress.
type Status struct {
	Handle
	State     string `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

type job struct {
	handle Handle
	run    func(ctx context.Context) error
}

// Dispatcher owns the queue, the workers and the retry policy.
type Dispatcher struct {
	engine *reconcile.Engine
	gw     *gateway.Gateway
	sink   *audit.Sink
	cfg    config.JobsConfig
	logger zerolog.Logger

	queue chan job
	wg    sync.WaitGroup

	mu       sync.RWMutex
	statuses map[string]*Status
}

func NewDispatcher(engine *reconcile.Engine, gw *gateway.Gateway, sink *audit.Sink, cfg config.JobsConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	cfg.Workers = workers
	cfg.QueueSize = size
	return &Dispatcher{
		engine:   engine,
		gw:       gw,
		sink:     sink,
		cfg:      cfg,
		logger:   log.With().Str("service", "jobs").Logger(),
		queue:    make(chan job, size),
		statuses: make(map[string]*Status),
	}
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled; Wait blocks until in-flight jobs finish.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info().Int("workers", d.cfg.Workers).Int("queue_size", d.cfg.QueueSize).Msg("dispatcher started")
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// SubmitAccountSync queues one sync attempt for the account.
func (d *Dispatcher) SubmitAccountSync(accountID string) (Handle, error) {
	return d.submit(KindAccountSync, accountID, func(ctx context.Context) error {
		_, err := d.engine.SyncAccount(ctx, accountID)
		return err
	})
}

// SubmitOrderPlacement queues an order placement.
func (d *Dispatcher) SubmitOrderPlacement(accountID string, req types.OrderRequest) (Handle, error) {
	return d.submit(KindOrderPlacement, accountID, func(ctx context.Context) error {
		_, err := d.gw.PlaceOrder(ctx, accountID, req)
		return err
	})
}

// SubmitOrderCancellation queues a cancellation.
func (d *Dispatcher) SubmitOrderCancellation(accountID, venueOrderID string) (Handle, error) {
	return d.submit(KindOrderCancellation, accountID, func(ctx context.Context) error {
		return d.gw.CancelOrder(ctx, accountID, venueOrderID)
	})
}

// Status returns the job's current state, or nil for an unknown id.
func (d *Dispatcher) Status(id string) *Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	status, ok := d.statuses[id]
	if !ok {
		return nil
	}
	copied := *status
	return &copied
}

func (d *Dispatcher) submit(kind, accountID string, run func(ctx context.Context) error) (Handle, error) {
	handle := Handle{
		ID:        uuid.New().String(),
		Kind:      kind,
		AccountID: accountID,
		Queued:    time.Now().UTC(),
	}
	j := job{handle: handle, run: run}

	d.mu.Lock()
	d.statuses[handle.ID] = &Status{Handle: handle, State: StateQueued}
	d.mu.Unlock()

	select {
	case d.queue <- j:
		return handle, nil
	default:
		d.mu.Lock()
		delete(d.statuses, handle.ID)
		d.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %d jobs queued", ErrQueueFull, d.cfg.QueueSize)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.runJob(ctx, j)
		}
	}
}

// runJob executes the job under the retry policy. Only transient
// failures are retried; a deterministic failure (shape error, venue
// rejection, bad credentials) burns no further attempts.
func (d *Dispatcher) runJob(ctx context.Context, j job) {
	policy := &backoff.Backoff{
		Min:    d.cfg.BackoffMin,
		Max:    d.cfg.BackoffMax,
		Jitter: true,
	}
	maxAttempts := d.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		d.setState(j.handle.ID, StateRunning, attempt, "")
		err = j.run(ctx)
		if err == nil {
			d.setState(j.handle.ID, StateSucceeded, attempt, "")
			return
		}
		if !retryable(err) || attempt == maxAttempts {
			break
		}
		delay := policy.Duration()
		d.setState(j.handle.ID, StateRetrying, attempt, err.Error())
		d.logger.Warn().Err(err).
			Str("job_id", j.handle.ID).
			Str("kind", j.handle.Kind).
			Str("account_id", j.handle.AccountID).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("transient failure, backing off")
		select {
		case <-ctx.Done():
			d.setState(j.handle.ID, StateFailed, attempt, ctx.Err().Error())
			return
		case <-time.After(delay):
		}
	}

	if attempt > maxAttempts {
		attempt = maxAttempts
	}
	d.setState(j.handle.ID, StateFailed, attempt, err.Error())
	d.logger.Error().Err(err).
		Str("job_id", j.handle.ID).
		Str("kind", j.handle.Kind).
		Str("account_id", j.handle.AccountID).
		Msg("job failed")
	// The final failure is recorded durably even when no attempt reached
	// the venue.
	d.sink.Emit(auditKind(j.handle.Kind), j.handle.AccountID, "job", j.handle.ID, audit.OutcomeFailed, map[string]interface{}{
		"kind":     j.handle.Kind,
		"attempts": attempt,
		"error":    err.Error(),
	})
}

func auditKind(jobKind string) string {
	switch jobKind {
	case KindOrderPlacement:
		return audit.KindOrderPlacement
	case KindOrderCancellation:
		return audit.KindOrderCancellation
	default:
		return audit.KindSyncAttempt
	}
}

// retryable widens the transient-failure set with the in-progress
// rejection: a sync that lost the account lock succeeds once the
// running attempt finishes.
func retryable(err error) bool {
	return types.Retryable(err) || errors.Is(err, reconcile.ErrSyncInProgress)
}

func (d *Dispatcher) setState(id, state string, attempts int, lastErr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if status, ok := d.statuses[id]; ok {
		status.State = state
		status.Attempts = attempts
		status.LastError = lastErr
	}
}
