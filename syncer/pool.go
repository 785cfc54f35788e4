package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/libs/service"
	"github.com/gammazero/workerpool"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
)

// ErrPoolClosed is returned by Enqueue once the pool stopped accepting work.
var ErrPoolClosed = errors.New("upload pool is not accepting tasks")

// BackoffKind selects how the delay before a retry grows.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// busyRetryDelay is how long an owner's queue waits before looking at the
// owner again when a restore or wipe holds it.
const busyRetryDelay = 50 * time.Millisecond

// PoolConfig holds the worker and retry settings.
type PoolConfig struct {
	Workers        int
	MaxRetries     int
	BaseDelay      time.Duration
	Backoff        BackoffKind
	AttemptTimeout time.Duration

	// FinishedCapacity and FinishedTTL bound the record of finished task IDs
	// that keeps Enqueue idempotent.
	FinishedCapacity int
	FinishedTTL      time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:          3,
		MaxRetries:       3,
		BaseDelay:        2 * time.Second,
		Backoff:          BackoffLinear,
		AttemptTimeout:   30 * time.Second,
		FinishedCapacity: 4096,
		FinishedTTL:      time.Hour,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.Backoff == "" {
		c.Backoff = def.Backoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	if c.FinishedCapacity <= 0 {
		c.FinishedCapacity = def.FinishedCapacity
	}
	if c.FinishedTTL <= 0 {
		c.FinishedTTL = def.FinishedTTL
	}
	return c
}

// MaxAttempts is the first try plus MaxRetries.
func (c PoolConfig) MaxAttempts() int {
	return c.MaxRetries + 1
}

// Delay is the wait before retry number n (n >= 1). Both policies are
// non-decreasing in n.
func (c PoolConfig) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	if c.Backoff == BackoffExponential {
		if n > 30 {
			n = 30
		}
		return c.BaseDelay * time.Duration(1<<(n-1))
	}
	return c.BaseDelay * time.Duration(n)
}

type taskEntry struct {
	task   UploadTask
	state  TaskState
	purged bool
	ctx    context.Context
	cancel context.CancelFunc
}

// finishedTask is what the pool remembers about a task after it ends.
type finishedTask struct {
	owner string
	state TaskState
}

// ownerQueue holds an owner's pending tasks in arrival order. At most one
// worker serves it at a time.
type ownerQueue struct {
	tasks     []*taskEntry
	scheduled bool
}

// Pool uploads tasks with a fixed number of workers, retrying transient
// failures. Each owner has its own FIFO; owners take turns on the shared
// workers so a long backlog for one owner never holds more than one worker.
type Pool struct {
	service.BaseService

	cfg      PoolConfig
	client   contentstore.Client
	guard    *Guard
	state    *StateHolder
	metrics  *Metrics
	notifier *Notifier
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	mu        sync.Mutex
	tasks     map[string]*taskEntry // pending and active only
	owners    map[string]*ownerQueue
	finished  *expirable.LRU[string, finishedTask]
	accepting bool
	wp        *workerpool.WorkerPool
	runs      sync.WaitGroup // scheduled owner queue runs
	ctx       context.Context
	cancel    context.CancelFunc
}

// PoolOption customises a Pool.
type PoolOption func(*Pool)

func WithGuard(g *Guard) PoolOption             { return func(p *Pool) { p.guard = g } }
func WithStateHolder(h *StateHolder) PoolOption { return func(p *Pool) { p.state = h } }
func WithMetrics(m *Metrics) PoolOption         { return func(p *Pool) { p.metrics = m } }
func WithNotifier(n *Notifier) PoolOption       { return func(p *Pool) { p.notifier = n } }

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) PoolOption {
	return func(p *Pool) { p.sleep = fn }
}

func NewPool(cfg PoolConfig, client contentstore.Client, logger tmlog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:      cfg,
		client:   client,
		sleep:    sleepCtx,
		now:      time.Now,
		tasks:    make(map[string]*taskEntry),
		owners:   make(map[string]*ownerQueue),
		finished: expirable.NewLRU[string, finishedTask](cfg.FinishedCapacity, nil, cfg.FinishedTTL),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.guard == nil {
		p.guard = NewGuard()
	}
	if p.state == nil {
		p.state = NewStateHolder()
	}
	p.BaseService = *service.NewBaseService(logger.With("module", "upload_pool"), "UploadPool", p)
	return p
}

// OnStart implements service.Service.
func (p *Pool) OnStart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wp = workerpool.New(p.cfg.Workers)
	p.accepting = true
	p.Logger.Info("Upload pool started", "workers", p.cfg.Workers, "max_attempts", p.cfg.MaxAttempts())
	return nil
}

// OnStop implements service.Service. It stops accepting tasks and waits
// for queued and in-flight tasks to finish.
func (p *Pool) OnStop() {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()

	// owner queues resubmit themselves, so the worker pool must stay open
	// until every scheduled run is done
	p.runs.Wait()
	p.wp.StopWait()
	p.cancel()
	p.Logger.Info("Upload pool stopped")
}

// Cancel aborts in-flight attempts and fails everything still queued with
// KindCancelled. Call Stop afterwards to wait for the workers.
func (p *Pool) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() PoolConfig { return p.cfg }

// Enqueue queues a task. A task whose ID is already pending, active or
// recently succeeded or skipped is not queued again and Enqueue reports
// false.
func (p *Pool) Enqueue(task UploadTask) (bool, error) {
	if task.ID == "" || task.Owner == "" {
		return false, newError(KindValidation, "enqueue", errors.New("task id and owner are required"))
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.accepting {
		return false, ErrPoolClosed
	}
	if _, ok := p.tasks[task.ID]; ok {
		return false, nil
	}
	if prev, ok := p.finished.Peek(task.ID); ok && prev.state != TaskFailed && prev.state != TaskPurged {
		return false, nil
	}
	p.finished.Remove(task.ID)

	ctx, cancel := context.WithCancel(p.ctx)
	e := &taskEntry{task: task, state: TaskPending, ctx: ctx, cancel: cancel}
	p.tasks[task.ID] = e

	q, ok := p.owners[task.Owner]
	if !ok {
		q = &ownerQueue{}
		p.owners[task.Owner] = q
	}
	q.tasks = append(q.tasks, e)

	p.state.taskQueued()
	p.emit(e, TaskPending, 0, "", nil)
	if !q.scheduled {
		q.scheduled = true
		p.runs.Add(1)
		p.submitOwner(task.Owner)
	}
	return true, nil
}

// TaskState reports the state of a live or recently finished task.
func (p *Pool) TaskState(id string) (TaskState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.tasks[id]; ok {
		return e.state, true
	}
	if f, ok := p.finished.Peek(id); ok {
		return f.state, true
	}
	return 0, false
}

// Tracked reports how many tasks the pool holds in memory: live tasks, and
// finished ones kept for idempotency.
func (p *Pool) Tracked() (live, finished int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks), p.finished.Len()
}

// QueueLength is the number of tasks waiting to start.
func (p *Pool) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, q := range p.owners {
		for _, e := range q.tasks {
			if e.state == TaskPending {
				n++
			}
		}
	}
	return n
}

// Purge drops the owner's queued tasks, cancels the in-flight one and
// forgets finished ones. It returns the number of tasks stopped.
func (p *Pool) Purge(owner string) int {
	var dropped []*taskEntry
	stopped := 0

	p.mu.Lock()
	for _, id := range p.finished.Keys() {
		if f, ok := p.finished.Peek(id); ok && f.owner == owner {
			p.finished.Remove(id)
		}
	}
	for id, e := range p.tasks {
		if e.task.Owner != owner {
			continue
		}
		switch e.state {
		case TaskPending:
			e.state = TaskPurged
			p.retire(id, e)
			dropped = append(dropped, e)
			stopped++
		case TaskActive:
			e.purged = true
			stopped++
		}
		e.cancel()
	}
	if q, ok := p.owners[owner]; ok {
		q.tasks = nil
	}
	p.mu.Unlock()

	for _, e := range dropped {
		p.state.taskFinished(TaskPurged, false, nil)
		p.metrics.taskFinished(TaskPurged)
		p.emit(e, TaskPurged, 0, "", nil)
	}
	if stopped > 0 {
		p.Logger.Info("Purged uploads", "owner", owner, "tasks", stopped)
	}
	return stopped
}

// submitOwner hands the owner's queue to a worker. The caller has counted
// the run in p.runs.
func (p *Pool) submitOwner(owner string) {
	p.wp.Submit(func() { p.runOwner(owner) })
}

// runOwner runs the head of the owner's queue, then puts the queue back at
// the tail of the worker pool if more tasks wait. When a restore or wipe
// holds the owner, the queue is retried later without occupying a worker.
func (p *Pool) runOwner(owner string) {
	defer p.runs.Done()

	release, ok := p.guard.TryAcquire(owner)
	if !ok {
		p.runs.Add(1)
		time.AfterFunc(busyRetryDelay, func() { p.submitOwner(owner) })
		return
	}
	if e := p.nextFor(owner); e != nil {
		p.run(e)
	}
	release()

	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.owners[owner]
	if !ok {
		return
	}
	if len(q.tasks) == 0 {
		delete(p.owners, owner)
		return
	}
	p.runs.Add(1)
	p.submitOwner(owner)
}

// nextFor pops the owner's next task that has not already ended.
func (p *Pool) nextFor(owner string) *taskEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.owners[owner]
	if !ok {
		return nil
	}
	for len(q.tasks) > 0 {
		e := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		if !e.state.Terminal() {
			return e
		}
	}
	return nil
}

// retire moves a task that just ended from the live set to the finished
// record, releasing its payload. Callers hold p.mu.
func (p *Pool) retire(id string, e *taskEntry) {
	delete(p.tasks, id)
	p.finished.Add(id, finishedTask{owner: e.task.Owner, state: e.state})
	e.task.Payload = nil
}

// run performs one task on the calling worker. The caller holds the owner.
func (p *Pool) run(e *taskEntry) {
	if err := e.ctx.Err(); err != nil {
		p.finishCancelled(e, 0, err)
		return
	}

	p.mu.Lock()
	if e.state.Terminal() {
		p.mu.Unlock()
		return
	}
	e.state = TaskActive
	p.mu.Unlock()

	p.state.taskStarted()
	p.metrics.active(1)
	defer p.metrics.active(-1)
	p.emit(e, TaskActive, 0, "", nil)

	var lastErr error
	maxAttempts := p.cfg.MaxAttempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.cfg.Delay(attempt - 1)
			p.metrics.backoff(delay.Seconds())
			if err := p.sleep(e.ctx, delay); err != nil {
				p.finishCancelled(e, attempt-1, err)
				return
			}
		}

		contentID, err := p.attempt(e)
		if err == nil {
			p.metrics.attempt("ok")
			p.finish(e, TaskSucceeded, attempt, contentID, nil)
			return
		}
		if ctxErr := e.ctx.Err(); ctxErr != nil {
			p.finishCancelled(e, attempt, ctxErr)
			return
		}

		lastErr = err
		kind := KindOf(err)
		p.metrics.attempt(kind.String())

		switch kind {
		case KindTransient:
			p.Logger.Info("Upload attempt failed", "task", e.task.ID, "attempt", attempt, "max_attempts", maxAttempts, "err", err)
			continue
		case KindPrecondition:
			p.Logger.Info("Upload skipped, precondition not met", "task", e.task.ID, "err", err)
			p.finish(e, TaskSkippedPrecondition, attempt, "", newError(kind, "upload", err))
			return
		default:
			p.Logger.Error("Upload rejected", "task", e.task.ID, "kind", kind, "err", err)
			p.finish(e, TaskFailed, attempt, "", newError(kind, "upload", err))
			return
		}
	}

	p.Logger.Error("Upload failed after retries", "task", e.task.ID, "attempts", maxAttempts, "err", lastErr)
	p.finish(e, TaskFailed, maxAttempts, "", newError(KindTransient, "upload",
		fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)))
}

func (p *Pool) attempt(e *taskEntry) (string, error) {
	ctx, cancel := context.WithTimeout(e.ctx, p.cfg.AttemptTimeout)
	defer cancel()

	if e.task.Payload == nil {
		return "", newError(KindMalformedPayload, "payload", errors.New("task has no payload"))
	}
	data, err := e.task.Payload(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to build payload: %w", err)
	}
	if len(data) == 0 {
		return "", newError(KindMalformedPayload, "payload", errors.New("empty payload"))
	}
	return p.client.Upload(ctx, data, e.task.Tags)
}

func (p *Pool) finishCancelled(e *taskEntry, attempt int, err error) {
	p.finish(e, TaskFailed, attempt, "", newError(KindCancelled, "upload", err))
}

// finish records the terminal state once. A task purged while active ends
// Purged unless its upload already went through.
func (p *Pool) finish(e *taskEntry, state TaskState, attempt int, contentID string, cause *Error) {
	p.mu.Lock()
	if e.state.Terminal() {
		p.mu.Unlock()
		return
	}
	wasActive := e.state == TaskActive
	if e.purged && state != TaskSucceeded {
		state, cause = TaskPurged, nil
	}
	e.state = state
	p.retire(e.task.ID, e)
	p.mu.Unlock()
	e.cancel()

	var err error
	if cause != nil {
		err = cause
	}
	p.state.taskFinished(state, wasActive, err)
	p.metrics.taskFinished(state)
	p.emit(e, state, attempt, contentID, cause)
}

func (p *Pool) emit(e *taskEntry, state TaskState, attempt int, contentID string, cause *Error) {
	ev := Event{
		TaskID:    e.task.ID,
		Owner:     e.task.Owner,
		State:     state.String(),
		Attempt:   attempt,
		ContentID: contentID,
		At:        p.now().UTC(),
	}
	if cause != nil {
		ev.Kind = cause.Kind.String()
		ev.Error = cause.Error()
	}
	p.notifier.task(ev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
