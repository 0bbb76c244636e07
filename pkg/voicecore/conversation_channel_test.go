package voicecore

import (
	"context"
	"errors"
	"testing"
)

type fakeFeedbackAdapter struct {
	supports func(ConversationMode) bool
	generate func(ConversationMode, []ExecutionResult, string) (string, error)
	panics   bool
}

func (f *fakeFeedbackAdapter) SupportsMode(mode ConversationMode) bool {
	if f.supports != nil {
		return f.supports(mode)
	}
	return true
}

func (f *fakeFeedbackAdapter) GenerateFeedback(mode ConversationMode, results []ExecutionResult, chatContent string) (string, error) {
	if f.panics {
		panic("boom")
	}
	return f.generate(mode, results, chatContent)
}

func TestConversationChannel_GenerateResponseClearsAccumulatedState(t *testing.T) {
	adapter := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) {
		return "回复: " + chat, nil
	}}
	c := NewConversationChannel(adapter, nil, nil)
	c.AddChatContent("你好")

	if !c.HasPending() {
		t.Fatal("expected pending content before GenerateResponse")
	}
	reply := c.GenerateResponse(context.Background(), ModeChat)
	if reply != "回复: 你好" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if c.HasPending() {
		t.Fatal("expected state cleared after GenerateResponse")
	}
}

func TestConversationChannel_FallsBackWhenAdapterErrors(t *testing.T) {
	adapter := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) {
		return "", errors.New("llm unavailable")
	}}
	c := NewConversationChannel(adapter, nil, NewDefaultErrorHandler(nil))
	c.AddChatContent("今天花了多少钱")

	reply := c.GenerateResponse(context.Background(), ModeChat)
	if reply != "今天花了多少钱" {
		t.Fatalf("expected fallback to echo chat content, got %q", reply)
	}
}

func TestConversationChannel_FallsBackWhenAdapterPanics(t *testing.T) {
	adapter := &fakeFeedbackAdapter{panics: true}
	c := NewConversationChannel(adapter, nil, NewDefaultErrorHandler(nil))
	c.AddResult(ExecutionResult{Success: true})

	reply := c.GenerateResponse(context.Background(), ModeMixed)
	if reply == "" {
		t.Fatal("expected a non-empty fallback reply when the adapter panics")
	}
}

func TestConversationChannel_UnsupportedModeUsesFallback(t *testing.T) {
	adapter := &fakeFeedbackAdapter{supports: func(ConversationMode) bool { return false }}
	c := NewConversationChannel(adapter, nil, nil)
	c.AddResult(ExecutionResult{Success: true})

	reply := c.GenerateResponse(context.Background(), ModeChat)
	if reply != "好的，已经处理完成。" {
		t.Fatalf("unexpected fallback reply %q", reply)
	}
}
