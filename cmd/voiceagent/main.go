package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/topn2024/bookkeeping-voice-core/pkg/bookkeeping"
	"github.com/topn2024/bookkeeping-voice-core/pkg/providers/aec"
	"github.com/topn2024/bookkeeping-voice-core/pkg/providers/asr"
	"github.com/topn2024/bookkeeping-voice-core/pkg/providers/llm"
	"github.com/topn2024/bookkeeping-voice-core/pkg/providers/tts"
	"github.com/topn2024/bookkeeping-voice-core/pkg/providers/vad"
	"github.com/topn2024/bookkeeping-voice-core/pkg/voicecore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using process environment")
	}

	sessionID := uuid.New().String()
	logger := voicecore.NewCharmLogger(envOr("LOG_LEVEL", "info"))
	logger.Info("starting voice session", "session_id", sessionID)

	cfg := voicecore.DefaultConfig()
	if path := os.Getenv("VOICECORE_CONFIG"); path != "" {
		loaded, err := voicecore.LoadConfigYAML(path)
		if err != nil {
			log.Fatalf("loading config %s: %v", path, err)
		}
		cfg = loaded
	}

	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	if lokutorKey == "" {
		log.Fatal("LOKUTOR_API_KEY must be set")
	}

	streamingASR, err := buildASR(cfg)
	if err != nil {
		log.Fatal(err)
	}
	intentLLM, err := buildLLM()
	if err != nil {
		log.Fatal(err)
	}

	speechVoice := envOr("LOKUTOR_VOICE", "zh-CN-female-1")
	speechTTS := tts.NewLokutorStreamingTTS(lokutorKey, speechVoice, "zh")

	rmsVAD := vad.NewRMSVADFromConfig(cfg)
	rmsVAD.SetAdaptiveMode(true)

	echoCanceller := aec.NewCorrelationAEC(cfg.SampleRate)

	errs := voicecore.NewDefaultErrorHandler(logger)

	ledger := bookkeeping.NewLedger()
	opAdapter := bookkeeping.NewOperationAdapter(ledger)
	feedbackAdapter := bookkeeping.NewFeedbackAdapter()

	tracker := voicecore.NewResponseTracker()
	echoFilter := voicecore.NewBargeInDetector(cfg)

	input := voicecore.NewInputPipeline(streamingASR, rmsVAD, echoFilter, logger, errs)

	ttsQueue := voicecore.NewTTSQueueWorker(speechTTS, tracker, cfg, logger, errs)
	output := voicecore.NewOutputPipeline(tracker, ttsQueue, cfg, echoCanceller, logger)

	recognizer := voicecore.NewMultiOperationRecognizer(intentLLM, cfg, logger, errs)
	conv := voicecore.NewConversationChannel(feedbackAdapter, logger, errs)
	exec := voicecore.NewExecutionChannel([]voicecore.OperationAdapter{opAdapter}, cfg, logger, errs)
	bus := voicecore.NewQueryResultEventBus()
	results := voicecore.NewResultBuffer(cfg, logger)
	dual := voicecore.NewDualChannelProcessor(exec, conv, bus, results, logger)
	judge := voicecore.NewTimingJudge()
	proactive := voicecore.NewProactiveConversationManager(cfg)

	controller := voicecore.NewVoicePipelineController(
		input, output, recognizer, dual, tracker, proactive, results, judge,
		cfg, logger, errs,
	)

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		ttsQueue.Run(gctx)
		return nil
	})
	results.Start(time.Duration(cfg.ResultBufferCleanupSec) * time.Second)

	if err := controller.Start(gctx); err != nil {
		log.Fatalf("starting controller: %v", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	var playbackMu sync.Mutex
	var playbackBytes []byte
	output.SetPlaybackSink(func(chunk []byte) {
		playbackMu.Lock()
		playbackBytes = append(playbackBytes, chunk...)
		playbackMu.Unlock()
	})

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			_ = controller.FeedAudioData(pInput)
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
			playbackMu.Unlock()
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("voice agent listening (session %s) — Ctrl+C to stop\n", sessionID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nshutting down...")
	device.Uninit()
	controller.Stop()
	cancel()
	_ = group.Wait()
}

func buildASR(cfg voicecore.Config) (voicecore.StreamingASRProvider, error) {
	switch envOr("ASR_PROVIDER", "groq") {
	case "deepgram":
		key := os.Getenv("DEEPGRAM_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for ASR_PROVIDER=deepgram")
		}
		return asr.NewDeepgramStreamingASR(key), nil
	case "groq":
		fallthrough
	default:
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for ASR_PROVIDER=groq")
		}
		model := envOr("GROQ_ASR_MODEL", "whisper-large-v3-turbo")
		groq := asr.NewGroqASR(key, model)
		return asr.NewBatchingStreamingASR(groq, 1800*time.Millisecond, cfg.SampleRate), nil
	}
}

func buildLLM() (voicecore.LLMIntentProvider, error) {
	switch envOr("LLM_PROVIDER", "anthropic") {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for LLM_PROVIDER=openai")
		}
		return llm.NewOpenAIIntentLLM(key, envOr("OPENAI_MODEL", "gpt-4o")), nil
	case "anthropic":
		fallthrough
	default:
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set for LLM_PROVIDER=anthropic")
		}
		return llm.NewAnthropicIntentLLM(key, envOr("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022")), nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
