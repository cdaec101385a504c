// Package pipeline feeds incoming record ids to a bounded pool of workers.
// Each record is processed under a per-record lock with a timeout; transient
// failures are retried with backoff, timed-out records go back on the queue
// and everything else ends up in the dead letter sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/sage/pkg/appctx"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/processor"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var (
	// ErrDisabled is returned when the pipeline is switched off
	ErrDisabled = errors.New("pipeline disabled")

	// ErrStopped is returned when submitting to a stopped pipeline
	ErrStopped = errors.New("pipeline stopped")

	// ErrAlreadyRunning is returned when Start is called twice
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrRecordCancelled marks an attempt cut short by its timeout
	ErrRecordCancelled = errors.New("record processing cancelled")
)

// Record outcome labels
const (
	StatusLinked       = "linked"
	StatusRequeued     = "requeued"
	StatusDeadLettered = "dead_lettered"
	StatusAbandoned    = "abandoned"
)

// RecordProcessor links one record by id
type RecordProcessor interface {
	Process(ctx context.Context, recordID string) (*processor.Result, error)
}

// AckFunc is called once a record is finished with, either linked or
// dead-lettered. Records abandoned at shutdown are never acknowledged.
type AckFunc func(ctx context.Context)

// Job is one record waiting for a worker
type Job struct {
	RecordID   string
	Attempts   int
	Requeues   int
	EnqueuedAt time.Time

	ack AckFunc
}

// Pipeline is the ingestion worker pool
type Pipeline struct {
	processor RecordProcessor
	locker    Locker
	dlq       DeadLetterSink
	config    Config
	logger    ectologger.Logger

	jobs      chan *Job
	stopCh    chan struct{}
	stoppedCh chan struct{}
	cancel    context.CancelFunc
	pending   *tracker

	mu      sync.RWMutex
	running bool
	stopped bool
}

// New creates a pipeline. A nil locker defaults to an in-process keyed mutex
// and a nil sink to an in-memory one.
func New(proc RecordProcessor, locker Locker, dlq DeadLetterSink, config Config, logger ectologger.Logger) *Pipeline {
	config = config.withDefaults()
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if dlq == nil {
		dlq = NewMemoryDeadLetters()
	}

	return &Pipeline{
		processor: proc,
		locker:    locker,
		dlq:       dlq,
		config:    config,
		logger:    logger,
		jobs:      make(chan *Job, config.QueueSize),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		pending:   newTracker(),
	}
}

// Enabled reports whether the pipeline accepts work
func (p *Pipeline) Enabled() bool {
	return p.config.Enabled
}

// Start launches the workers. A disabled pipeline logs and returns without
// starting anything.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.logger.WithContext(ctx).Info("Ingestion pipeline disabled")
		return nil
	}

	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"workers":        p.config.WorkerCount,
		"queue_size":     p.config.QueueSize,
		"record_timeout": p.config.RecordTimeout.String(),
		"max_retries":    p.config.MaxRetries,
	}).Info("Starting ingestion pipeline")

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go p.worker(base, &wg, i)
	}

	go func() {
		wg.Wait()
		close(p.stoppedCh)
	}()
	return nil
}

// Stop stops accepting records and waits for in-flight records to finish.
// When ctx expires first the in-flight records are cancelled and rolled back.
// Queued records are dropped unacknowledged so their source redelivers them.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.WithContext(ctx).Info("Stopping ingestion pipeline...")

	var err error
	select {
	case <-p.stoppedCh:
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Ingestion pipeline shutdown timed out; cancelling in-flight records")
		p.cancel()
		<-p.stoppedCh
		err = ctx.Err()
	}
	p.cancel()

	dropped := 0
drain:
	for {
		select {
		case <-p.jobs:
			dropped++
			p.pending.done()
			metrics.RecordPipelineRecord(StatusAbandoned, 0)
		default:
			break drain
		}
	}
	p.logger.WithContext(ctx).WithField("dropped", dropped).Info("Ingestion pipeline stopped")
	return err
}

// Submit queues a record for linking, blocking while the queue is full
func (p *Pipeline) Submit(ctx context.Context, recordID string) error {
	return p.SubmitWithAck(ctx, recordID, nil)
}

// SubmitWithAck queues a record and calls ack once it is linked or
// dead-lettered
func (p *Pipeline) SubmitWithAck(ctx context.Context, recordID string, ack AckFunc) error {
	if !p.config.Enabled {
		return ErrDisabled
	}
	if recordID == "" {
		return mdmerror.BadRequest("record id is required")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	job := &Job{RecordID: recordID, EnqueuedAt: time.Now(), ack: ack}
	p.pending.add()
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		p.pending.done()
		return ctx.Err()
	}
}

// Flush waits until every submitted record is finished with
func (p *Pipeline) Flush(ctx context.Context) error {
	select {
	case <-p.pending.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	p.logger.WithContext(ctx).Debugf("Worker %d started", id)
	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debugf("Worker %d stopped", id)
			return
		case job := <-p.jobs:
			p.handle(ctx, job)
		}
	}
}

// handle takes one job to a terminal state or back onto the queue
func (p *Pipeline) handle(ctx context.Context, job *Job) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.handle")
	defer span.End()

	ctx = appctx.SetRequestID(ctx, uuid.New().String())
	ctx = appctx.SetRecordID(ctx, job.RecordID)
	log := p.logger.WithContext(ctx).WithFields(appctx.Fields(ctx))

	start := time.Now()
	metrics.RecordsInFlight.Inc()
	defer metrics.RecordsInFlight.Dec()

	err := p.process(ctx, job)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		p.finish(ctx, job)
		metrics.RecordPipelineRecord(StatusLinked, elapsed)

	case ctx.Err() != nil:
		log.WithError(err).Warn("Record abandoned at shutdown")
		p.pending.done()
		metrics.RecordPipelineRecord(StatusAbandoned, elapsed)

	case errors.Is(err, ErrRecordCancelled) && job.Requeues < p.config.MaxRequeues:
		job.Requeues++
		log.WithField("requeues", job.Requeues).Warn("Record timed out; requeueing")
		metrics.RecordPipelineRecord(StatusRequeued, elapsed)
		p.requeue(job)

	default:
		reason := ReasonFailed
		switch {
		case errors.Is(err, ErrRecordCancelled):
			reason = ReasonRequeueLimit
		case mdmerror.IsTransient(err):
			reason = ReasonMaxRetries
		}
		p.deadLetter(ctx, job, reason, err)
		p.finish(ctx, job)
		metrics.RecordPipelineRecord(StatusDeadLettered, elapsed)
	}
}

// process runs attempts until one succeeds, fails permanently or the
// transient retry budget is spent
func (p *Pipeline) process(ctx context.Context, job *Job) error {
	delays := newBackoff(p.config)
	for {
		err := p.attempt(ctx, job)
		if err == nil || !mdmerror.IsTransient(err) {
			return err
		}

		job.Attempts++
		if job.Attempts > p.config.MaxRetries {
			return err
		}

		delay := delays.Next()
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"record_id": job.RecordID,
			"attempt":   job.Attempts,
			"delay":     delay.String(),
		}).Warn("Transient failure; retrying record")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attempt processes the record once under its lock and timeout. Any write
// made by an attempt that errors is rolled back by the processor.
func (p *Pipeline) attempt(ctx context.Context, job *Job) error {
	recordCtx, cancel := context.WithTimeout(ctx, p.config.RecordTimeout)
	defer cancel()
	recordCtx = appctx.SetAttempt(recordCtx, job.Attempts+1)

	unlock, err := p.locker.Lock(recordCtx, job.RecordID)
	if err != nil {
		if recordCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: waiting for lock: %v", ErrRecordCancelled, recordCtx.Err())
		}
		return err
	}
	defer unlock()

	_, err = p.processor.Process(recordCtx, job.RecordID)
	if err != nil && recordCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrRecordCancelled, recordCtx.Err())
	}
	return err
}

func (p *Pipeline) requeue(job *Job) {
	go func() {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.stopped {
			p.pending.done()
			return
		}
		select {
		case p.jobs <- job:
		case <-p.stopCh:
			p.pending.done()
		}
	}()
}

func (p *Pipeline) deadLetter(ctx context.Context, job *Job, reason DeadLetterReason, cause error) {
	letter := DeadLetter{
		ID:        uuid.New().String(),
		RecordID:  job.RecordID,
		Reason:    reason,
		Error:     cause.Error(),
		Attempts:  job.Attempts,
		Requeues:  job.Requeues,
		CreatedAt: time.Now().UTC(),
		TraceID:   tracing.GetTraceID(ctx),
	}

	log := p.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"record_id": job.RecordID,
		"reason":    reason,
	})
	if err := p.dlq.Add(context.WithoutCancel(ctx), letter); err != nil {
		log.WithField("dlq_error", err.Error()).Error("Failed to dead-letter record")
		return
	}
	metrics.RecordDLQ(string(reason))
	log.Warn("Record dead-lettered")
}

func (p *Pipeline) finish(ctx context.Context, job *Job) {
	if job.ack != nil {
		job.ack(context.WithoutCancel(ctx))
	}
	p.pending.done()
}

// tracker counts unfinished jobs and signals when the count drops to zero
type tracker struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

func newTracker() *tracker {
	t := &tracker{zero: make(chan struct{})}
	close(t.zero)
	return t
}

func (t *tracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.zero = make(chan struct{})
	}
	t.n++
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.zero)
	}
}

func (t *tracker) idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.zero
}
