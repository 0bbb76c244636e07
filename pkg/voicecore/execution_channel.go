package voicecore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// opLockWaiter is one pending acquisition of the execution lock. A waiter
// is resolved exactly once: release (which hands over the lock by
// closing ready) and expire (on timeout or ctx cancellation) both check
// and set done under the lock's mutex, so only the first to reach it
// takes effect.
type opLockWaiter struct {
	ready chan struct{}
	done  bool
}

// executionLock is the single real lock in the engine (spec §5): every
// other component's "concurrency" is cooperative single-goroutine
// scheduling, but ExecutionChannel genuinely serializes operation
// execution behind this async mutex, with a bounded wait so a stuck
// operation can never wedge the whole channel forever.
type executionLock struct {
	mu      sync.Mutex
	held    bool
	waiters []*opLockWaiter
}

func newExecutionLock() *executionLock {
	return &executionLock{}
}

// acquire blocks until the lock is free or timeout elapses, whichever
// comes first. It returns false on timeout.
func (l *executionLock) acquire(ctx context.Context, timeout time.Duration) bool {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return true
	}
	w := &opLockWaiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return true
	case <-timer.C:
		return l.expire(w)
	case <-ctx.Done():
		return l.expire(w)
	}
}

// expire removes w from the waiter list if it hasn't already been
// completed by a concurrent release. This is the FIFO race: release and
// timeout can both reach for the same waiter, and whichever gets there
// first under the lock wins; the loser is a no-op.
func (l *executionLock) expire(w *opLockWaiter) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.done {
		// release already handed the lock to this waiter.
		return true
	}
	for i, cand := range l.waiters {
		if cand == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
	w.done = true
	return false
}

// release hands the lock to the oldest waiter, if any, or marks it free.
func (l *executionLock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		if w.done {
			continue
		}
		w.done = true
		close(w.ready)
		return
	}
	l.held = false
}

// deferredBatch accumulates operations awaiting the deferred aggregation
// window before they are flushed onto the normal queue together. The
// aggregation timer is started once, on the batch's first op, and is
// never reset by later enqueues — a steady trickle of deferred ops
// still flushes on schedule rather than being debounced forever. The
// max-wait timer is the backstop for the case where the aggregation
// timer itself somehow never fires.
type deferredBatch struct {
	ops      []Operation
	timer    *time.Timer
	maxTimer *time.Timer
}

// ExecutionChannel is the scheduling core (C8): operations are enqueued
// at one of four priorities, executed one at a time behind the
// executionLock, with deferred operations aggregated for
// AggregationWindowMs before being flushed onto the normal queue as a
// batch.
type ExecutionChannel struct {
	mu sync.Mutex

	immediate []Operation
	normal    []Operation
	deferred  *deferredBatch
	background []Operation

	maxQueueSize      int
	lockTimeout       time.Duration
	aggregationWindow time.Duration
	maxDeferredWait   time.Duration

	lock     *executionLock
	adapters []OperationAdapter
	logger   Logger
	errs     ErrorHandler

	onResult func(Operation, ExecutionResult)

	closed bool
	closeOnce sync.Once
}

// NewExecutionChannel builds an ExecutionChannel over a set of
// OperationAdapters, tried in order for each operation's CanHandle.
func NewExecutionChannel(adapters []OperationAdapter, cfg Config, logger Logger, errs ErrorHandler) *ExecutionChannel {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ExecutionChannel{
		maxQueueSize:      cfg.MaxQueueSize,
		lockTimeout:       cfg.lockTimeout(),
		aggregationWindow: time.Duration(cfg.AggregationWindowMs) * time.Millisecond,
		maxDeferredWait:   time.Duration(cfg.MaxDeferredWaitMs) * time.Millisecond,
		lock:              newExecutionLock(),
		adapters:          adapters,
		logger:            logger,
		errs:              errs,
	}
}

// OnResult registers the callback fired with every operation's result,
// in completion order.
func (c *ExecutionChannel) OnResult(fn func(Operation, ExecutionResult)) { c.onResult = fn }

// Enqueue routes op onto the queue matching its priority. The first
// deferred operation in a batch starts a 2.5s aggregation window timer
// (capped by a MaxDeferredWaitMs backstop); later deferred enqueues join
// the same batch without resetting the timer, so a steady trickle of
// deferred ops still flushes on schedule. When the window (or the
// backstop) fires, the whole accumulated batch is flushed onto the normal
// queue. An immediate op flushes any pending deferred batch first.
// Background and normal queues that exceed MaxQueueSize are overflowed by
// flushing the oldest entry out before the new one is appended, so the
// queue never exceeds its cap and no operation is silently dropped
// without at least attempting execution.
func (c *ExecutionChannel) Enqueue(ctx context.Context, op Operation) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	switch op.Priority {
	case PriorityImmediate:
		// Immediate pre-empts the deferred batch: flush any pending
		// deferredQ before this op has a chance to run, per this
		// channel's own invariant (not just a caller-side convenience).
		c.flushDeferredForImmediateLocked()
		c.immediate = append(c.immediate, op)
	case PriorityDeferred:
		c.enqueueDeferredLocked(ctx, op)
		c.mu.Unlock()
		return
	case PriorityBackground:
		c.background = appendBounded(c.background, op, c.maxQueueSize)
	default:
		c.normal = appendBounded(c.normal, op, c.maxQueueSize)
	}
	c.mu.Unlock()

	go c.drainOne(ctx)
}

func appendBounded(queue []Operation, op Operation, cap int) []Operation {
	if len(queue) >= cap {
		queue = queue[1:]
	}
	return append(queue, op)
}

// enqueueDeferredLocked must be called with c.mu held. The aggregation
// timer is a fixed window from the first op in the batch: it is started
// once here and never reset by later enqueues, so a steady trickle of
// deferred ops still flushes on schedule. maxDeferredWait is a backstop
// started alongside it, covering the case where the aggregation timer
// itself is somehow never reached.
func (c *ExecutionChannel) enqueueDeferredLocked(ctx context.Context, op Operation) {
	if c.deferred == nil {
		c.deferred = &deferredBatch{}
	}
	if len(c.deferred.ops) >= c.maxQueueSize {
		// Overflow: flush what's accumulated so far before appending the
		// new operation, rather than dropping it outright.
		c.flushDeferredLocked(ctx)
		c.deferred = &deferredBatch{}
	}
	c.deferred.ops = append(c.deferred.ops, op)

	if c.deferred.timer == nil {
		c.deferred.timer = time.AfterFunc(c.aggregationWindow, func() {
			c.mu.Lock()
			c.flushDeferredLocked(ctx)
			c.deferred = nil
			c.mu.Unlock()
			go c.drainOne(ctx)
		})
		c.deferred.maxTimer = time.AfterFunc(c.maxDeferredWait, func() {
			c.mu.Lock()
			c.flushDeferredLocked(ctx)
			c.deferred = nil
			c.mu.Unlock()
			go c.drainOne(ctx)
		})
	}
}

// flushDeferredLocked moves the accumulated deferred batch onto the
// normal queue and stops both its timers. Caller must hold c.mu.
func (c *ExecutionChannel) flushDeferredLocked(ctx context.Context) {
	if c.deferred == nil {
		return
	}
	if c.deferred.timer != nil {
		c.deferred.timer.Stop()
	}
	if c.deferred.maxTimer != nil {
		c.deferred.maxTimer.Stop()
	}
	for _, op := range c.deferred.ops {
		c.normal = appendBounded(c.normal, op, c.maxQueueSize)
	}
	c.deferred.ops = nil
}

// FlushDeferred forces the current deferred batch onto the normal queue
// immediately, without waiting for the aggregation window — used when a
// higher-priority event (e.g. the user starting a new utterance, or an
// immediate op about to run) means the batch should no longer wait.
func (c *ExecutionChannel) FlushDeferred(ctx context.Context) {
	c.mu.Lock()
	c.flushDeferredLocked(ctx)
	c.deferred = nil
	c.mu.Unlock()
	go c.drainOne(ctx)
}

// flushDeferredForImmediateLocked is FlushDeferred's caller-held-lock
// counterpart, used from Enqueue's immediate-priority branch so the
// pre-emption documented for this channel happens even for a caller that
// never touches DualChannelProcessor. Caller must hold c.mu.
func (c *ExecutionChannel) flushDeferredForImmediateLocked() {
	if c.deferred == nil || len(c.deferred.ops) == 0 {
		return
	}
	c.flushDeferredLocked(context.Background())
	c.deferred = nil
}

// drainOne acquires the execution lock, then pops and executes operations
// one at a time, highest priority first, until every queue is empty,
// before releasing the lock. It is safe to call concurrently; only one
// drainOne call at a time ever holds the lock, and calls that find
// nothing to do after acquiring it simply release and return. Draining
// the whole backlog under one acquisition (rather than one op per call)
// is what lets a single flushed deferred batch run to completion from
// one trigger instead of needing one drainOne call per op in the batch.
func (c *ExecutionChannel) drainOne(ctx context.Context) {
	if !c.lock.acquire(ctx, c.lockTimeout) {
		if c.errs != nil {
			c.errs.Handle(NewCoreError("ExecutionChannel", ErrKindTimeout, SeverityWarning,
				fmt.Errorf("lock acquisition timed out after %s", c.lockTimeout), MsgOperationTimedOut))
		}
		return
	}
	defer c.lock.release()

	for {
		op, ok := c.popNextLocked()
		if !ok {
			return
		}

		result := c.execute(ctx, op)
		if c.onResult != nil {
			c.onResult(op, result)
		}
	}
}

func (c *ExecutionChannel) popNextLocked() (Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.immediate) > 0 {
		op := c.immediate[0]
		c.immediate = c.immediate[1:]
		return op, true
	}
	if len(c.normal) > 0 {
		op := c.normal[0]
		c.normal = c.normal[1:]
		return op, true
	}
	if len(c.background) > 0 {
		op := c.background[0]
		c.background = c.background[1:]
		return op, true
	}
	return Operation{}, false
}

func (c *ExecutionChannel) execute(ctx context.Context, op Operation) ExecutionResult {
	for _, adapter := range c.adapters {
		if adapter.CanHandle(op.Type) {
			return c.safeExecute(ctx, adapter, op)
		}
	}
	return ExecutionResult{Success: false, Error: "no adapter can handle operation type " + string(op.Type)}
}

// safeExecute recovers from a panicking adapter so one broken adapter
// can never take the whole channel down.
func (c *ExecutionChannel) safeExecute(ctx context.Context, adapter OperationAdapter, op Operation) (result ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			if c.errs != nil {
				c.errs.Handle(NewCoreError("ExecutionChannel", ErrKindExecution, SeverityError,
					fmt.Errorf("adapter panic: %v", r), MsgResponseGenerationFailed))
			}
			result = ExecutionResult{Success: false, Error: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()
	return adapter.Execute(ctx, op)
}

// QueueDepths reports the current length of each priority queue, for
// diagnostics and tests.
func (c *ExecutionChannel) QueueDepths() (immediate, normal, deferred, background int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deferredLen := 0
	if c.deferred != nil {
		deferredLen = len(c.deferred.ops)
	}
	return len(c.immediate), len(c.normal), deferredLen, len(c.background)
}

// Dispose stops accepting new operations and cancels any pending
// deferred-aggregation timer.
func (c *ExecutionChannel) Dispose() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.deferred != nil {
			if c.deferred.timer != nil {
				c.deferred.timer.Stop()
			}
			if c.deferred.maxTimer != nil {
				c.deferred.maxTimer.Stop()
			}
		}
		c.mu.Unlock()
	})
}
