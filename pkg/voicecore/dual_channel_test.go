package voicecore

import (
	"context"
	"testing"
	"time"
)

func TestDualChannelProcessor_ImmediateResultFoldsIntoConversation(t *testing.T) {
	adapter := &fakeAdapter{handles: OpAddTransaction}
	exec := NewExecutionChannel([]OperationAdapter{adapter}, DefaultConfig(), nil, nil)
	defer exec.Dispose()

	feedback := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) {
		if len(r) == 0 {
			return "", nil
		}
		return "done", nil
	}}
	conv := NewConversationChannel(feedback, nil, nil)
	bus := NewQueryResultEventBus()
	results := NewResultBuffer(DefaultConfig(), nil)
	dual := NewDualChannelProcessor(exec, conv, bus, results, nil)
	defer dual.Dispose()

	reply := dual.Process(context.Background(), ModeMixed, MultiOperationResult{
		ResultType: ResultOperation,
		Operations: []Operation{{Type: OpAddTransaction, Priority: PriorityImmediate}},
	})
	if reply != "" {
		t.Fatalf("expected no synchronous reply for a pure operation round, got %q", reply)
	}

	waitFor(t, time.Second, func() bool { return conv.HasPending() })
}

func TestDualChannelProcessor_DeferredResultGoesToBufferNotConversation(t *testing.T) {
	adapter := &fakeAdapter{handles: OpQuery}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 10
	exec := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer exec.Dispose()

	feedback := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) { return "", nil }}
	conv := NewConversationChannel(feedback, nil, nil)
	bus := NewQueryResultEventBus()
	results := NewResultBuffer(DefaultConfig(), nil)
	dual := NewDualChannelProcessor(exec, conv, bus, results, nil)
	defer dual.Dispose()

	dual.Process(context.Background(), ModeMixed, MultiOperationResult{
		ResultType: ResultOperation,
		Operations: []Operation{{Type: OpQuery, Priority: PriorityDeferred, Params: map[string]interface{}{"operationId": "q1"}}},
	})

	waitFor(t, time.Second, func() bool { return results.Len() == 1 })
	if conv.HasPending() {
		t.Fatal("expected the deferred result to bypass the conversation channel")
	}
}

func TestDualChannelProcessor_ChatContentGeneratesReplyDirectly(t *testing.T) {
	exec := NewExecutionChannel(nil, DefaultConfig(), nil, nil)
	defer exec.Dispose()

	feedback := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) {
		return "你好呀", nil
	}}
	conv := NewConversationChannel(feedback, nil, nil)
	bus := NewQueryResultEventBus()
	dual := NewDualChannelProcessor(exec, conv, bus, nil, nil)
	defer dual.Dispose()

	reply := dual.Process(context.Background(), ModeChat, MultiOperationResult{
		ResultType:  ResultChat,
		ChatContent: "你好",
	})
	if reply != "你好呀" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestDualChannelProcessor_DeleteOperationBuffersAsCriticalPriority(t *testing.T) {
	adapter := &fakeAdapter{handles: OpDelete}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 10
	exec := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer exec.Dispose()

	feedback := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) { return "", nil }}
	conv := NewConversationChannel(feedback, nil, nil)
	bus := NewQueryResultEventBus()
	results := NewResultBuffer(DefaultConfig(), nil)
	dual := NewDualChannelProcessor(exec, conv, bus, results, nil)
	defer dual.Dispose()

	dual.Process(context.Background(), ModeMixed, MultiOperationResult{
		ResultType: ResultOperation,
		Operations: []Operation{{Type: OpDelete, Priority: PriorityDeferred, Params: map[string]interface{}{"operationId": "d1"}}},
	})

	waitFor(t, time.Second, func() bool { return results.Len() == 1 })
	pending := results.Pending()
	if len(pending) != 1 || pending[0].Priority != ResultCritical {
		t.Fatalf("expected a delete operation to buffer as critical priority, got %+v", pending)
	}
}

func TestDualChannelProcessor_LargeAmountBuffersAsCriticalPriority(t *testing.T) {
	adapter := &fakeAdapter{handles: OpAddTransaction}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 10
	exec := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer exec.Dispose()

	feedback := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) { return "", nil }}
	conv := NewConversationChannel(feedback, nil, nil)
	bus := NewQueryResultEventBus()
	results := NewResultBuffer(DefaultConfig(), nil)
	dual := NewDualChannelProcessor(exec, conv, bus, results, nil)
	defer dual.Dispose()

	dual.Process(context.Background(), ModeMixed, MultiOperationResult{
		ResultType: ResultOperation,
		Operations: []Operation{{Type: OpAddTransaction, Priority: PriorityDeferred, Params: map[string]interface{}{"operationId": "a1", "amount": 5000.0, "category": "其他"}}},
	})

	waitFor(t, time.Second, func() bool { return results.Len() == 1 })
	pending := results.Pending()
	if len(pending) != 1 || pending[0].Priority != ResultCritical {
		t.Fatalf("expected a >1000 amount operation to buffer as critical priority, got %+v", pending)
	}
}

func TestDualChannelProcessor_SmallAmountBuffersAsNormalPriority(t *testing.T) {
	adapter := &fakeAdapter{handles: OpAddTransaction}
	cfg := DefaultConfig()
	cfg.AggregationWindowMs = 10
	exec := NewExecutionChannel([]OperationAdapter{adapter}, cfg, nil, nil)
	defer exec.Dispose()

	feedback := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) { return "", nil }}
	conv := NewConversationChannel(feedback, nil, nil)
	bus := NewQueryResultEventBus()
	results := NewResultBuffer(DefaultConfig(), nil)
	dual := NewDualChannelProcessor(exec, conv, bus, results, nil)
	defer dual.Dispose()

	dual.Process(context.Background(), ModeMixed, MultiOperationResult{
		ResultType: ResultOperation,
		Operations: []Operation{{Type: OpAddTransaction, Priority: PriorityDeferred, Params: map[string]interface{}{"operationId": "a2", "amount": 30.0, "category": "餐饮"}}},
	})

	waitFor(t, time.Second, func() bool { return results.Len() == 1 })
	pending := results.Pending()
	if len(pending) != 1 || pending[0].Priority != ResultNormal {
		t.Fatalf("expected a small-amount operation to buffer as normal priority, got %+v", pending)
	}
}

func TestQueryResultEventBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewQueryResultEventBus()
	ch := bus.Subscribe("op1")
	bus.Publish("op1", ExecutionResult{Success: true})

	select {
	case r := <-ch:
		if !r.Success {
			t.Fatal("expected the published result to be delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published result")
	}
}

func TestQueryResultEventBus_DisposeClosesPendingSubscriptions(t *testing.T) {
	bus := NewQueryResultEventBus()
	ch := bus.Subscribe("op1")
	bus.Dispose()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected the channel to be closed, not deliver a value")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
