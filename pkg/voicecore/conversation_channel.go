package voicecore

import (
	"context"
	"sync"
)

// ConversationChannel accumulates the chat-mode content and executed
// operation results for one response and turns them into a single reply
// string via a FeedbackAdapter (C9). It follows a
// snapshot-then-clear-then-adapt pattern: generateResponse takes
// everything accumulated so far, clears its own state immediately (so a
// concurrent Add call during adapter execution starts the next response
// clean), and only then calls out to the adapter.
type ConversationChannel struct {
	mu sync.Mutex

	chatContent string
	results     []ExecutionResult

	adapter FeedbackAdapter
	logger  Logger
	errs    ErrorHandler
}

// NewConversationChannel builds a ConversationChannel over one
// FeedbackAdapter.
func NewConversationChannel(adapter FeedbackAdapter, logger Logger, errs ErrorHandler) *ConversationChannel {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ConversationChannel{adapter: adapter, logger: logger, errs: errs}
}

// AddChatContent appends chat-mode text recognized for the current turn.
func (c *ConversationChannel) AddChatContent(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatContent += text
}

// AddResult records one executed operation's result to be folded into
// the next generated response.
func (c *ConversationChannel) AddResult(result ExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

// GenerateResponse snapshots and clears the accumulated chat content and
// results, then asks the FeedbackAdapter to turn them into a reply. If
// the adapter fails, a generic fallback sentence is returned instead of
// propagating the error, since by this point there is no good unwind
// path left for the turn — the user still needs *some* spoken reply.
func (c *ConversationChannel) GenerateResponse(ctx context.Context, mode ConversationMode) string {
	c.mu.Lock()
	chatContent := c.chatContent
	results := c.results
	c.chatContent = ""
	c.results = nil
	c.mu.Unlock()

	if c.adapter == nil || !c.adapter.SupportsMode(mode) {
		return fallbackResponse(chatContent, results)
	}

	reply, err := c.safeGenerate(mode, results, chatContent)
	if err != nil {
		if c.errs != nil {
			c.errs.Handle(NewCoreError("ConversationChannel", ErrKindCallback, SeverityWarning, err, MsgResponseGenerationFailed))
		}
		return fallbackResponse(chatContent, results)
	}
	return reply
}

// safeGenerate recovers from a panicking adapter, in addition to the
// adapter's ordinary error return, so a broken FeedbackAdapter can never
// take the channel down.
func (c *ConversationChannel) safeGenerate(mode ConversationMode, results []ExecutionResult, chatContent string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewCoreError("ConversationChannel", ErrKindCallback, SeverityError, nil, MsgResponseGenerationFailed)
		}
	}()
	return c.adapter.GenerateFeedback(mode, results, chatContent)
}

// fallbackResponse builds a plain reply without the adapter, used both
// when no adapter is configured for the mode and when the adapter fails.
func fallbackResponse(chatContent string, results []ExecutionResult) string {
	if chatContent != "" {
		return chatContent
	}
	for _, r := range results {
		if !r.Success {
			return MsgResponseGenerationFailed
		}
	}
	if len(results) > 0 {
		return "好的，已经处理完成。"
	}
	return MsgResponseGenerationFailed
}

// HasPending reports whether there is anything accumulated that a
// GenerateResponse call would act on.
func (c *ConversationChannel) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatContent != "" || len(c.results) > 0
}
