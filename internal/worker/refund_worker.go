// Package worker drives pending refunds through the refund service on a timer.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	refundApp "github.com/cassiomorais/chainpay/internal/application/refund"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/cassiomorais/chainpay/internal/infrastructure/observability"
	"github.com/cassiomorais/chainpay/internal/lock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Queue is the part of the refund repository the worker reads from.
type Queue interface {
	ClaimPending(ctx context.Context, limit int) ([]*refund.Refund, error)
	ListPending(ctx context.Context, limit int) ([]*refund.Refund, error)
}

// Processor executes and finalizes refunds.
type Processor interface {
	ProcessRefund(ctx context.Context, id uuid.UUID) (*refund.Refund, error)
	ConfirmProcessingRefunds(ctx context.Context, limit int) (refundApp.FinalityReport, error)
}

type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	ConfirmBatchSize int
	LockKey          string
	LockTTL          time.Duration
	StaleAfter       time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.LockKey == "" {
		c.LockKey = "refund-worker:lock"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 60 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 4 * c.PollInterval
	}
	return c
}

// BatchResult summarizes one ProcessPendingRefunds call.
type BatchResult struct {
	// Skipped is set when another instance held the lock.
	Skipped   bool
	Claimed   int
	Processed int
	Failed    int
	// Deferred counts claimed refunds left PENDING because the worker was stopping.
	Deferred  int
	Finality  refundApp.FinalityReport
}

// Health is the liveness view of the worker.
type Health struct {
	Running       bool       `json:"running"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	IsStale       bool       `json:"is_stale"`
}

// RefundWorker polls for PENDING refunds. A lock keeps a single instance
// active per tick; with a distributed lock the batch is additionally
// claimed row by row with FOR UPDATE SKIP LOCKED.
type RefundWorker struct {
	cfg       Config
	queue     Queue
	txManager refundApp.TransactionManager
	processor Processor
	mutex     lock.Mutex
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	heartbeat atomic.Int64
}

// NewRefundWorker creates a worker. A nil mutex selects the single-instance
// path backed by lock.NewLocalMutex.
func NewRefundWorker(
	cfg Config,
	queue Queue,
	txManager refundApp.TransactionManager,
	processor Processor,
	mutex lock.Mutex,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *RefundWorker {
	if mutex == nil {
		mutex = lock.NewLocalMutex()
	}
	cfg = cfg.withDefaults()
	logger = observability.Component(logger, "refund-worker", map[string]any{
		"lock_key":    cfg.LockKey,
		"distributed": mutex.Distributed(),
	})
	return &RefundWorker{
		cfg:       cfg,
		queue:     queue,
		txManager: txManager,
		processor: processor,
		mutex:     mutex,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// ProcessPendingRefunds runs one tick. Lock contention is not an error: the
// result is marked Skipped and the datastore is not touched. Failures of
// individual refunds are counted, not returned.
func (w *RefundWorker) ProcessPendingRefunds(ctx context.Context) (res BatchResult, err error) {
	start := w.now()
	defer func() {
		outcome := "processed"
		switch {
		case err != nil:
			outcome = "error"
		case res.Skipped:
			outcome = "skipped"
		case res.Claimed == 0:
			outcome = "idle"
		}
		w.metrics.RecordWorkerTick(outcome, w.now().Sub(start))
		w.beat()
	}()

	lease, ok, err := w.mutex.TryLock(ctx, w.cfg.LockKey, w.cfg.LockTTL)
	if err != nil {
		return res, fmt.Errorf("acquire worker lock: %w", err)
	}
	if !ok {
		evt := w.logger.Debug().Str("lock_key", w.cfg.LockKey)
		if holder, held, herr := w.mutex.Holder(ctx, w.cfg.LockKey); herr == nil && held {
			evt = evt.Str("lock_holder", holder)
		}
		evt.Msg("another instance holds the worker lock, skipping tick")
		res.Skipped = true
		return res, nil
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			w.logger.Warn().Err(relErr).Str("lock_key", w.cfg.LockKey).Msg("failed to release worker lock")
		}
	}()

	if w.mutex.Distributed() {
		// Refunds handed to the executor are persisted only by this commit,
		// so it must survive a shutdown that cancels ctx mid-batch.
		err = w.txManager.WithTransaction(context.WithoutCancel(ctx), func(txCtx context.Context) error {
			claimed, err := w.queue.ClaimPending(txCtx, w.cfg.BatchSize)
			if err != nil {
				return fmt.Errorf("claim pending refunds: %w", err)
			}
			w.processBatch(ctx, txCtx, claimed, &res)
			return nil
		})
	} else {
		w.logger.Warn().Msg("no distributed lock store configured, processing refunds in single-instance mode")
		var pending []*refund.Refund
		pending, err = w.queue.ListPending(ctx, w.cfg.BatchSize)
		if err != nil {
			err = fmt.Errorf("list pending refunds: %w", err)
		} else {
			w.processBatch(ctx, ctx, pending, &res)
		}
	}
	if err != nil {
		return res, err
	}

	if w.cfg.ConfirmBatchSize > 0 && ctx.Err() == nil {
		report, ferr := w.processor.ConfirmProcessingRefunds(ctx, w.cfg.ConfirmBatchSize)
		res.Finality = report
		if ferr != nil {
			w.logger.Error().Err(ferr).Msg("finality sweep failed")
		}
	}

	if res.Claimed > 0 || res.Finality.Checked > 0 {
		w.logger.Info().
			Int("claimed", res.Claimed).
			Int("processed", res.Processed).
			Int("failed", res.Failed).
			Int("deferred", res.Deferred).
			Int("finality_checked", res.Finality.Checked).
			Int("finality_completed", res.Finality.Completed).
			Msg("refund batch finished")
	}
	return res, nil
}

// processBatch stops taking new items once stop is cancelled. Claimed items
// left untouched stay PENDING when the batch commits.
func (w *RefundWorker) processBatch(stop, ctx context.Context, refunds []*refund.Refund, res *BatchResult) {
	res.Claimed = len(refunds)
	for _, r := range refunds {
		if stop.Err() != nil {
			res.Deferred++
			continue
		}
		if err := w.processOne(ctx, r.ID); err != nil {
			res.Failed++
			w.metrics.RecordBatchItem("failed")
			w.logger.Error().Err(err).Str("refund_id", r.ID.String()).Msg("refund processing failed")
			continue
		}
		res.Processed++
		w.metrics.RecordBatchItem("processed")
	}
}

func (w *RefundWorker) processOne(ctx context.Context, id uuid.UUID) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic processing refund: %v\n%s", rec, debug.Stack())
		}
	}()
	_, err = w.processor.ProcessRefund(ctx, id)
	return err
}

// Start arms the polling timer. Calling Start on a running worker is a no-op.
func (w *RefundWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.startedAt = w.now()
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)

	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Bool("distributed_lock", w.mutex.Distributed()).
		Msg("refund worker started")
}

// Stop cancels the timer and waits for an in-flight tick to finish.
func (w *RefundWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info().Msg("refund worker stopped")
}

// Run starts the worker and blocks until ctx is done.
func (w *RefundWorker) Run(ctx context.Context) error {
	w.Start(ctx)
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *RefundWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick never lets an error or panic escape, so the timer keeps running.
func (w *RefundWorker) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("refund worker tick panicked")
		}
	}()
	if _, err := w.ProcessPendingRefunds(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error().Err(err).Msg("refund worker tick failed")
	}
}

func (w *RefundWorker) beat() {
	t := w.now()
	w.heartbeat.Store(t.UnixNano())
	w.metrics.SetWorkerHeartbeat(t)
}

// Health reports whether the worker is running and ticking on time. A
// running worker is stale when neither a tick nor the start happened within
// StaleAfter.
func (w *RefundWorker) Health() Health {
	w.mu.Lock()
	running, startedAt := w.running, w.startedAt
	w.mu.Unlock()

	h := Health{Running: running}
	last := startedAt
	if ns := w.heartbeat.Load(); ns != 0 {
		hb := time.Unix(0, ns).UTC()
		h.LastHeartbeat = &hb
		if hb.After(last) {
			last = hb
		}
	}
	h.IsStale = !running || w.now().Sub(last) > w.cfg.StaleAfter
	return h
}
