package voicecore

import (
	"context"
	"sync"
)

// QueryResultEventBus is a process-wide publish/subscribe hub keyed by
// operation id (C10's companion): a deferred query's eventual
// ExecutionResult is published here once the ExecutionChannel finishes
// it, and whoever has subscribed to that specific operation id receives
// it without the DualChannelProcessor needing to track subscriptions
// itself.
type QueryResultEventBus struct {
	mu   sync.Mutex
	subs map[string][]chan ExecutionResult
}

// NewQueryResultEventBus builds an empty bus. It must be explicitly
// initialized and torn down (Dispose) by its owner; it holds no timers
// or goroutines of its own, only channels.
func NewQueryResultEventBus() *QueryResultEventBus {
	return &QueryResultEventBus{subs: make(map[string][]chan ExecutionResult)}
}

// Subscribe registers interest in one operation id's eventual result. The
// returned channel receives exactly one value (or is closed unread if
// Dispose is called first) and should not be reused.
func (b *QueryResultEventBus) Subscribe(operationID string) <-chan ExecutionResult {
	ch := make(chan ExecutionResult, 1)
	b.mu.Lock()
	b.subs[operationID] = append(b.subs[operationID], ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers result to every subscriber of operationID and clears
// the subscription list, since each subscriber expects exactly one
// delivery.
func (b *QueryResultEventBus) Publish(operationID string, result ExecutionResult) {
	b.mu.Lock()
	chans := b.subs[operationID]
	delete(b.subs, operationID)
	b.mu.Unlock()

	for _, ch := range chans {
		ch <- result
		close(ch)
	}
}

// Dispose closes every still-pending subscription channel without a
// value, so no subscriber is left blocked forever.
func (b *QueryResultEventBus) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan ExecutionResult)
}

// DualChannelProcessor is the top of the execution/conversation split
// (C10): one user utterance's recognized operations are enqueued on the
// ExecutionChannel (flushing any pending deferred batch first, since a
// new utterance means the user has moved on), while any chat content
// recognized alongside them goes straight to the ConversationChannel.
type DualChannelProcessor struct {
	exec    *ExecutionChannel
	conv    *ConversationChannel
	bus     *QueryResultEventBus
	results *ResultBuffer
	logger  Logger
}

// NewDualChannelProcessor wires an ExecutionChannel, ConversationChannel
// and QueryResultEventBus together. It subscribes to the execution
// channel's results: an immediate/normal-priority operation is folded
// straight into the conversation channel, while a deferred/background
// one is handed to results instead (if non-nil) so the TimingJudge can
// decide when it is safe to interrupt with. Either way the result is
// published on the bus keyed by operation id (if the operation carried
// one), for anything awaiting it directly.
func NewDualChannelProcessor(exec *ExecutionChannel, conv *ConversationChannel, bus *QueryResultEventBus, results *ResultBuffer, logger Logger) *DualChannelProcessor {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	p := &DualChannelProcessor{exec: exec, conv: conv, bus: bus, results: results, logger: logger}
	exec.OnResult(func(op Operation, result ExecutionResult) {
		id, hasID := op.OperationID()
		if results != nil && (op.Priority == PriorityDeferred || op.Priority == PriorityBackground) && hasID {
			results.Add(id, resultPriorityFor(op), result)
		} else {
			conv.AddResult(result)
		}
		if hasID {
			bus.Publish(id, result)
		}
	})
	return p
}

// resultPriorityFor derives the ResultPriority the TimingJudge reasons
// about from the operation's own content, not its scheduling Priority: a
// delete is always critical (an undone deletion is the kind of thing a
// user needs to hear about promptly), as is any add/update whose amount
// exceeds 1000; everything else is normal.
func resultPriorityFor(op Operation) ResultPriority {
	if op.Type == OpDelete {
		return ResultCritical
	}
	if amount, ok := toFloat(op.Params["amount"]); ok {
		if amount < 0 {
			amount = -amount
		}
		if amount > 1000 {
			return ResultCritical
		}
	}
	return ResultNormal
}

// Process takes one utterance's recognition result and routes it: any
// operations are flushed-then-enqueued on the execution channel (so a
// previously pending deferred batch is not left stranded behind a newer
// utterance), and any chat content is added to the conversation channel.
// It returns the reply generated for the chat/clarify portion, if any —
// operation results surface later via OnResult/the event bus, not here.
func (p *DualChannelProcessor) Process(ctx context.Context, mode ConversationMode, result MultiOperationResult) string {
	if len(result.Operations) > 0 {
		p.exec.FlushDeferred(ctx)
		for _, op := range result.Operations {
			p.exec.Enqueue(ctx, op)
		}
	}

	switch result.ResultType {
	case ResultChat:
		p.conv.AddChatContent(result.ChatContent)
		return p.conv.GenerateResponse(ctx, mode)
	case ResultClarify:
		return result.ClarifyQuestion
	case ResultFailed:
		return MsgResponseGenerationFailed
	default:
		if p.conv.HasPending() {
			return p.conv.GenerateResponse(ctx, mode)
		}
		return ""
	}
}

// AwaitResult subscribes to one operation id's result via the bus, so a
// caller can learn when a deferred query has actually completed.
func (p *DualChannelProcessor) AwaitResult(operationID string) <-chan ExecutionResult {
	return p.bus.Subscribe(operationID)
}

// Dispose tears down the underlying event bus, unblocking any pending
// subscribers.
func (p *DualChannelProcessor) Dispose() {
	p.bus.Dispose()
	p.exec.Dispose()
}
