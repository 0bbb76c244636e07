package voicecore

import (
	"sync"
	"time"
)

// BufferedResult is one deferred operation's outcome waiting for the
// TimingJudge to decide it may be voiced.
type BufferedResult struct {
	OperationID string
	Priority    ResultPriority
	Result      ExecutionResult
	Status      BufferedResultStatus
	CreatedAt   time.Time
}

// ResultBuffer holds deferred/background operation results until the
// TimingJudge (C12) clears them to be spoken (C11). Pending results are
// ordered by priority; at capacity the oldest entry is evicted, and
// entries also expire after 30s. A periodic sweeper (every ResultBufferCleanupSec)
// marks anything past ResultBufferExpirationSec as expired and removes
// it; MarkNotified/Remove are the atomic mark-and-remove operations used
// once a result has actually been voiced.
type ResultBuffer struct {
	mu       sync.Mutex
	items    map[string]*BufferedResult
	order    []string // insertion order, for capacity eviction
	capacity int
	expiry   time.Duration

	sweepTimer *time.Ticker
	stopSweep  chan struct{}
	stopOnce   sync.Once

	logger Logger
}

// NewResultBuffer builds a ResultBuffer from cfg's capacity/expiry
// tunables. Callers must call Start to begin the periodic sweeper and
// Dispose to stop it.
func NewResultBuffer(cfg Config, logger Logger) *ResultBuffer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ResultBuffer{
		items:    make(map[string]*BufferedResult),
		capacity: cfg.ResultBufferMaxCapacity,
		expiry:   time.Duration(cfg.ResultBufferExpirationSec) * time.Second,
		logger:   logger,
	}
}

// Start launches the periodic expiry sweep at the given interval.
func (b *ResultBuffer) Start(cleanupInterval time.Duration) {
	b.mu.Lock()
	if b.sweepTimer != nil {
		b.mu.Unlock()
		return
	}
	b.sweepTimer = time.NewTicker(cleanupInterval)
	b.stopSweep = make(chan struct{})
	ticker := b.sweepTimer
	stop := b.stopSweep
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				b.sweepExpired()
			case <-stop:
				return
			}
		}
	}()
}

// Add inserts a new pending result, evicting the oldest entry first if
// the buffer is already at capacity.
func (b *ResultBuffer) Add(operationID string, priority ResultPriority, result ExecutionResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.items[operationID]; !exists && len(b.order) >= b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.items, oldest)
	}

	if _, exists := b.items[operationID]; !exists {
		b.order = append(b.order, operationID)
	}
	b.items[operationID] = &BufferedResult{
		OperationID: operationID,
		Priority:    priority,
		Result:      result,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
}

// Pending returns every result still awaiting notification, highest
// priority first (critical, normal, low), oldest within each tier first.
func (b *ResultBuffer) Pending() []BufferedResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	tiers := map[ResultPriority][]BufferedResult{}
	for _, id := range b.order {
		item := b.items[id]
		if item == nil || item.Status != StatusPending {
			continue
		}
		tiers[item.Priority] = append(tiers[item.Priority], *item)
	}

	var out []BufferedResult
	for _, p := range []ResultPriority{ResultCritical, ResultNormal, ResultLow} {
		out = append(out, tiers[p]...)
	}
	return out
}

// MarkNotified atomically transitions a result to notified and removes
// it from the buffer — once voiced, there is nothing further to track.
func (b *ResultBuffer) MarkNotified(operationID string) bool {
	return b.removeWithStatus(operationID, StatusNotified)
}

// MarkSuppressed atomically transitions a result to suppressed and
// removes it, for results the TimingJudge decides should never be voiced
// (e.g. superseded by a more recent query on the same topic).
func (b *ResultBuffer) MarkSuppressed(operationID string) bool {
	return b.removeWithStatus(operationID, StatusSuppressed)
}

func (b *ResultBuffer) removeWithStatus(operationID string, status BufferedResultStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	item, ok := b.items[operationID]
	if !ok || item.Status != StatusPending {
		return false
	}
	item.Status = status
	delete(b.items, operationID)
	for i, id := range b.order {
		if id == operationID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

func (b *ResultBuffer) sweepExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-b.expiry)
	remaining := b.order[:0]
	for _, id := range b.order {
		item := b.items[id]
		if item != nil && item.Status == StatusPending && item.CreatedAt.Before(cutoff) {
			item.Status = StatusExpired
			delete(b.items, id)
			continue
		}
		remaining = append(remaining, id)
	}
	b.order = remaining
}

// Len reports the number of results currently buffered (any status not
// yet removed).
func (b *ResultBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Dispose stops the periodic sweeper (if started) before clearing the
// buffer, so no sweep can run concurrently with the clear.
func (b *ResultBuffer) Dispose() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		if b.sweepTimer != nil {
			b.sweepTimer.Stop()
		}
		stop := b.stopSweep
		b.mu.Unlock()
		if stop != nil {
			close(stop)
		}
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = make(map[string]*BufferedResult)
	b.order = nil
}
