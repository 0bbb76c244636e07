package voicecore

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeAdapter struct {
	mu      sync.Mutex
	handles OperationType
	calls   []Operation
	delay   time.Duration
}

func (f *fakeAdapter) CanHandle(t OperationType) bool { return t == f.handles }

func (f *fakeAdapter) Execute(ctx context.Context, op Operation) ExecutionResult {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
	return ExecutionResult{Success: true, Data: map[string]interface{}{"summary": "ok"}}
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true within timeout")
	}
}

func TestExecutionChannel_ImmediateOperationExecutesAndReportsResult(t *testing.T) {
	adapter := &fakeAdapter{handles: OpAddTransaction}
	ch := NewExecutionChannel([]OperationAdapter{adapter}, DefaultConfig(), nil, nil)
	defer ch.Dispose()

	var gotResult ExecutionResult
	var mu sync.Mutex
	ch.OnResult(func(op Operation, r ExecutionResult) {
		mu.Lock()
		gotResult = r
		mu.Unlock()
	})

	ch.Enqueue(context.Background(), Operation{Type: OpAddTransaction, Priority: PriorityImmediate})

	waitFor(t, time.Second, func() bool { return adapter.callCount() == 1 })
	mu.Lock()
	defer mu.Unlock()
	if !gotResult.Success {
		t.Fatalf("expected success result, got %+v", gotResult)
	}
}

func TestExecutionChannel_NoAdapterReturnsFailure(t *testing.T) {
	ch := NewExecutionChannel(nil, DefaultConfig(), nil, nil)
	defer ch.Dispose()

	done := make(chan ExecutionResult, 1)
	ch.OnResult(func(op Operation, r ExecutionResult) { done <- r })
	ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityImmediate})

	select {
	case r := <-done:
		if r.Success {
			t.Fatal("expected failure when no adapter handles the operation type")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestExecutionChannel_DeferredOperationsAggregateThenFlushAsBatch(t *testing.T) {
	adapter := &fakeAdapter{handles: OpQuery}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 50
	ch := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer ch.Dispose()

	ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityDeferred})
	ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityDeferred})

	_, _, deferredLen, _ := ch.QueueDepths()
	if deferredLen != 2 {
		t.Fatalf("expected both operations to sit in the deferred batch, got %d", deferredLen)
	}

	waitFor(t, time.Second, func() bool { return adapter.callCount() == 2 })
}

func TestExecutionChannel_FlushDeferredBypassesAggregationWindow(t *testing.T) {
	adapter := &fakeAdapter{handles: OpQuery}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 10000 // long enough that only an explicit flush could complete the test in time
	ch := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer ch.Dispose()

	ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityDeferred})
	ch.FlushDeferred(context.Background())

	waitFor(t, time.Second, func() bool { return adapter.callCount() == 1 })
}

func TestExecutionChannel_DeferredTimerIsNotResetBySubsequentEnqueues(t *testing.T) {
	adapter := &fakeAdapter{handles: OpQuery}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 100
	ch := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer ch.Dispose()

	ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityDeferred})
	// A steady trickle of further deferred enqueues, each well inside the
	// window but each of which would reset a (wrongly) debouncing timer.
	for i := 0; i < 3; i++ {
		time.Sleep(40 * time.Millisecond)
		ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityDeferred})
	}

	// The window was started by the first enqueue at t=0 and is 100ms; by
	// now (t>=120ms) it must already have fired regardless of the trickle.
	waitFor(t, time.Second, func() bool { return adapter.callCount() == 4 })
}

func TestExecutionChannel_MaxDeferredWaitBacksStopAnAggregationTimerThatNeverFires(t *testing.T) {
	adapter := &fakeAdapter{handles: OpQuery}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 10000
	cfg.MaxDeferredWaitMs = 50
	ch := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer ch.Dispose()

	ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityDeferred})

	waitFor(t, time.Second, func() bool { return adapter.callCount() == 1 })
}

func TestExecutionChannel_ImmediateEnqueueFlushesPendingDeferredBatchDirectly(t *testing.T) {
	adapter := &fakeAdapter{handles: OpQuery}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 10000 // long enough that only the pre-emption could flush it in time
	ch := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer ch.Dispose()

	ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityDeferred})
	_, _, deferredLen, _ := ch.QueueDepths()
	if deferredLen != 1 {
		t.Fatalf("expected the deferred op to be pending before the immediate enqueue, got %d", deferredLen)
	}

	// No DualChannelProcessor involved — a bare ExecutionChannel.Enqueue
	// call with PriorityImmediate must pre-empt the deferred batch itself.
	ch.Enqueue(context.Background(), Operation{Type: OpQuery, Priority: PriorityImmediate})

	waitFor(t, time.Second, func() bool { return adapter.callCount() == 2 })
	_, _, deferredLen, _ = ch.QueueDepths()
	if deferredLen != 0 {
		t.Fatalf("expected the deferred batch to be flushed by the immediate enqueue, got %d still pending", deferredLen)
	}
}

func TestExecutionLock_TimedOutWaiterDoesNotBlockLaterAcquire(t *testing.T) {
	l := newExecutionLock()
	if !l.acquire(context.Background(), time.Second) {
		t.Fatal("expected uncontended acquire to succeed")
	}

	// A second acquire with a short timeout should time out since the
	// lock is still held.
	ctx := context.Background()
	ok := l.acquire(ctx, 20*time.Millisecond)
	if ok {
		t.Fatal("expected acquisition to time out while lock is held")
	}

	l.release()

	// Lock should now be free for a fresh acquire.
	if !l.acquire(context.Background(), time.Second) {
		t.Fatal("expected lock to be free after release")
	}
	l.release()
}

func TestExecutionChannel_DisposeStopsAcceptingNewOperations(t *testing.T) {
	adapter := &fakeAdapter{handles: OpAddTransaction}
	ch := NewExecutionChannel([]OperationAdapter{adapter}, DefaultConfig(), nil, nil)
	ch.Dispose()

	ch.Enqueue(context.Background(), Operation{Type: OpAddTransaction, Priority: PriorityImmediate})
	time.Sleep(50 * time.Millisecond)
	if adapter.callCount() != 0 {
		t.Fatal("expected no execution after Dispose")
	}
}
