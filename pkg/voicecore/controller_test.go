package voicecore

import (
	"context"
	"sync"
	"testing"
	"time"
)

type blockingTTS struct {
	mu      sync.Mutex
	release chan struct{}
	closed  bool
}

func newBlockingTTS() *blockingTTS { return &blockingTTS{release: make(chan struct{})} }

func (b *blockingTTS) Speak(ctx context.Context, text string, interrupt bool, onChunk func([]byte) error) error {
	if err := onChunk([]byte("chunk")); err != nil {
		return err
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingTTS) Stop() error           { b.doRelease(); return nil }
func (b *blockingTTS) FadeOutAndStop() error { b.doRelease(); return nil }
func (b *blockingTTS) Name() string          { return "blocking-tts" }

func (b *blockingTTS) doRelease() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.release)
	}
}

type testRig struct {
	controller *VoicePipelineController
	asr        *fakeStreamingASR
	tts        TTSProvider
	llm        *fakeLLM
	feedback   *fakeFeedbackAdapter
	cancel     context.CancelFunc
}

func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.SentenceAggregationDelayMsShort = 10
	cfg.SentenceAggregationDelayMsSilent = 10
	cfg.SentenceAggregationDelayMsSpeaking = 10
	cfg.InsuranceDelayMs = 2000
	cfg.MinSentenceLength = 1
	cfg.AggregationWindowMs = 10
	cfg.MinWordsToInterrupt = 1
	return cfg
}

func buildTestRig(t *testing.T, cfg Config, tts TTSProvider, withProactive bool) *testRig {
	t.Helper()

	asr := &fakeStreamingASR{}
	input := NewInputPipeline(asr, nil, nil, nil, nil)

	tracker := NewResponseTracker()
	queue := NewTTSQueueWorker(tts, tracker, cfg, nil, nil)
	output := NewOutputPipeline(tracker, queue, cfg, nil, nil)

	llm := &fakeLLM{}
	recognizer := NewMultiOperationRecognizer(llm, cfg, nil, nil)

	exec := NewExecutionChannel(nil, cfg, nil, nil)
	feedback := &fakeFeedbackAdapter{generate: func(m ConversationMode, r []ExecutionResult, chat string) (string, error) {
		return "回复:" + chat, nil
	}}
	conv := NewConversationChannel(feedback, nil, nil)
	bus := NewQueryResultEventBus()
	results := NewResultBuffer(cfg, nil)
	dual := NewDualChannelProcessor(exec, conv, bus, results, nil)
	judge := NewTimingJudge()

	var proactive *ProactiveConversationManager
	if withProactive {
		proactive = NewProactiveConversationManager(cfg)
	}

	controller := NewVoicePipelineController(input, output, recognizer, dual, tracker, proactive, results, judge, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go queue.Run(ctx)

	if err := controller.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	return &testRig{controller: controller, asr: asr, tts: tts, llm: llm, feedback: feedback, cancel: cancel}
}

func TestVoicePipelineController_StartEntersListening(t *testing.T) {
	cfg := fastTestConfig()
	rig := buildTestRig(t, cfg, &fakeTTS{}, false)
	defer rig.cancel()
	defer rig.controller.Stop()

	if rig.controller.State() != StateListening {
		t.Fatalf("expected StateListening after Start, got %v", rig.controller.State())
	}
}

func TestVoicePipelineController_ChatUtteranceSpeaksReplyThenReturnsToListening(t *testing.T) {
	cfg := fastTestConfig()
	tts := &fakeTTS{}
	rig := buildTestRig(t, cfg, tts, false)
	defer rig.cancel()
	defer rig.controller.Stop()

	rig.llm.result = MultiOperationResult{ResultType: ResultChat, ChatContent: "今天花销如何"}

	if err := rig.asr.emit("今天花销如何", true); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return rig.controller.State() == StateSpeaking })
	waitFor(t, 2*time.Second, func() bool { return rig.controller.State() == StateListening })
}

func TestVoicePipelineController_BargeInDuringSpeakingCancelsAndReturnsToListening(t *testing.T) {
	cfg := fastTestConfig()
	tts := newBlockingTTS()
	rig := buildTestRig(t, cfg, tts, false)
	defer rig.cancel()
	defer rig.controller.Stop()

	rig.llm.result = MultiOperationResult{ResultType: ResultChat, ChatContent: "慢慢说"}

	if err := rig.asr.emit("慢慢说", true); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return rig.controller.State() == StateSpeaking })

	rig.controller.handleBargeIn(BargeInResult{Layer: LayerAmplitude, Text: "[振幅打断]"})

	waitFor(t, 2*time.Second, func() bool { return rig.controller.State() == StateListening })
}

func TestVoicePipelineController_ProactivePromptFiresWhileListening(t *testing.T) {
	cfg := fastTestConfig()
	cfg.ProactiveSilenceTimeoutMs = 20
	cfg.MaxProactiveCount = 1
	cfg.MaxTotalSilenceMs = 10000
	tts := &fakeTTS{}
	rig := buildTestRig(t, cfg, tts, true)
	defer rig.cancel()
	defer rig.controller.Stop()

	waitFor(t, 2*time.Second, func() bool { return rig.controller.State() == StateSpeaking })
}

func TestVoicePipelineController_CheckBufferedResultsSpeaksCriticalResultImmediately(t *testing.T) {
	cfg := fastTestConfig()
	tts := &fakeTTS{}
	rig := buildTestRig(t, cfg, tts, false)
	defer rig.cancel()
	defer rig.controller.Stop()

	rig.controller.results.Add("op1", ResultCritical, ExecutionResult{Success: true, Data: map[string]interface{}{"summary": "余额不足提醒"}})

	waitFor(t, 3*time.Second, func() bool { return rig.controller.State() == StateSpeaking })
}

func TestVoicePipelineController_CheckBufferedResultsDefersWhileUserSpeaking(t *testing.T) {
	cfg := fastTestConfig()
	tts := &fakeTTS{}
	rig := buildTestRig(t, cfg, tts, false)
	defer rig.cancel()
	defer rig.controller.Stop()

	rig.controller.mu.Lock()
	rig.controller.userSpeaking = true
	rig.controller.mu.Unlock()

	rig.controller.results.Add("op1", ResultNormal, ExecutionResult{Success: true})
	rig.controller.checkBufferedResults()

	if rig.controller.State() != StateListening {
		t.Fatalf("expected the controller to stay listening (deferred), got %v", rig.controller.State())
	}
	if len(rig.controller.results.Pending()) != 1 {
		t.Fatal("expected the deferred result to remain pending, not consumed")
	}
}
