package voicecore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// InputMode is the subset of VoicePipelineController state that affects
// how InputPipeline treats incoming frames: in both listening and
// speaking, frames reach ASR and VAD; in speaking, ASR text is
// additionally gated through the BargeInDetector before being surfaced.
type InputMode string

const (
	InputIdle      InputMode = "idle"
	InputListening InputMode = "listening"
	InputSpeaking  InputMode = "speaking"
)

// InputPipeline owns the mic frame stream (C5): it forwards frames to ASR
// and VAD, emits partial/final text and VAD events, and can be restarted
// atomically without losing the first frames of the next utterance.
type InputPipeline struct {
	mu     sync.Mutex
	mode   InputMode
	asr    StreamingASRProvider
	vad    VADProvider
	echo   *BargeInDetector
	logger Logger
	errs   ErrorHandler

	ctx        context.Context
	parentCtx  context.Context
	cancel     context.CancelFunc
	sttChan    chan<- []byte
	generation int

	onPartial     func(text string)
	onFinal       func(text string)
	onSpeechStart func()
	onSpeechEnd   func()
	onError       func(error)
	onBargeIn     func(BargeInResult)
	onNoiseFloor  func(rms float64)
}

// NewInputPipeline builds an InputPipeline over an ASR/VAD pair. echo may
// be nil if the caller wants layer 1/2 barge-in detection handled
// elsewhere (e.g. by the controller directly).
func NewInputPipeline(asr StreamingASRProvider, vad VADProvider, echo *BargeInDetector, logger Logger, errs ErrorHandler) *InputPipeline {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &InputPipeline{
		mode:   InputIdle,
		asr:    asr,
		vad:    vad,
		echo:   echo,
		logger: logger,
		errs:   errs,
	}
}

func (p *InputPipeline) OnPartial(fn func(string))        { p.onPartial = fn }
func (p *InputPipeline) OnFinal(fn func(string))           { p.onFinal = fn }
func (p *InputPipeline) OnSpeechStart(fn func())           { p.onSpeechStart = fn }
func (p *InputPipeline) OnSpeechEnd(fn func())             { p.onSpeechEnd = fn }
func (p *InputPipeline) OnError(fn func(error))            { p.onError = fn }
func (p *InputPipeline) OnBargeIn(fn func(BargeInResult))  { p.onBargeIn = fn }
func (p *InputPipeline) OnNoiseFloor(fn func(float64))     { p.onNoiseFloor = fn }

// SetMode updates the controller state InputPipeline gates on. Callers
// (VoicePipelineController) set this as they transition.
func (p *InputPipeline) SetMode(mode InputMode) {
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
	if p.echo != nil {
		p.echo.SetTTSPlaying(mode == InputSpeaking, "")
	}
}

// Start creates the audio controller (the internal ASR subscription and
// frame-routing state) and begins streaming. Start is synchronous: by the
// time it returns, the controller exists, so it is always safe for the
// caller to resume the external audio-capture source immediately
// afterward (the restart-ordering hazard in spec §4.5/§9).
func (p *InputPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.parentCtx = ctx
	asrCtx, cancel := context.WithCancel(ctx)
	p.ctx = asrCtx
	p.cancel = cancel
	p.generation++
	gen := p.generation

	sttChan, err := p.asr.StreamTranscribe(asrCtx, func(text string, isFinal bool) error {
		return p.handleTranscript(gen, text, isFinal)
	})
	if err != nil {
		cancel()
		p.ctx = nil
		p.cancel = nil
		return fmt.Errorf("input pipeline: starting ASR stream: %w", err)
	}

	p.sttChan = sttChan
	if p.mode == InputIdle {
		p.mode = InputListening
	}
	return nil
}

func (p *InputPipeline) handleTranscript(gen int, text string, isFinal bool) error {
	p.mu.Lock()
	stale := gen != p.generation
	mode := p.mode
	p.mu.Unlock()

	if stale {
		return nil
	}

	if mode == InputSpeaking && p.echo != nil {
		result := p.echo.EvaluateASR(text)
		if result == nil {
			return nil
		}
		if p.onBargeIn != nil {
			p.onBargeIn(*result)
		}
		return nil
	}

	if isFinal {
		if strings.TrimSpace(text) != "" && p.onFinal != nil {
			p.onFinal(text)
		}
		return nil
	}
	if strings.TrimSpace(text) != "" && p.onPartial != nil {
		p.onPartial(text)
	}
	return nil
}

// FeedAudioData routes one PCM frame to ASR and VAD per the pipeline's
// current mode, and to the amplitude barge-in layer while speaking.
func (p *InputPipeline) FeedAudioData(frame []byte) error {
	p.mu.Lock()
	mode := p.mode
	sttChan := p.sttChan
	p.mu.Unlock()

	if mode == InputIdle {
		return nil
	}

	if p.vad != nil {
		event, err := p.vad.ProcessAudioFrame(frame)
		if err != nil {
			p.emitError(err)
			return err
		}
		p.handleVADEvent(event)
	}

	if mode == InputSpeaking && p.echo != nil {
		if result := p.echo.FeedAmplitudeFrame(frame); result != nil && p.onBargeIn != nil {
			p.onBargeIn(*result)
		}
	}

	if sttChan != nil {
		select {
		case sttChan <- frame:
		default:
		}
	}
	return nil
}

func (p *InputPipeline) handleVADEvent(event *VADEvent) {
	if event == nil {
		return
	}
	if p.echo != nil && event.Type == VADSpeechStart {
		p.echo.SetVADSpeaking(true)
	}
	if p.echo != nil && event.Type == VADSpeechEnd {
		p.echo.SetVADSpeaking(false)
	}

	switch event.Type {
	case VADSpeechStart:
		if p.onSpeechStart != nil {
			p.onSpeechStart()
		}
	case VADSpeechEnd:
		if p.onSpeechEnd != nil {
			p.onSpeechEnd()
		}
	case VADNoiseFloorUpdated:
		if p.onNoiseFloor != nil {
			p.onNoiseFloor(event.NoiseRMS)
		}
	}
}

func (p *InputPipeline) emitError(err error) {
	if p.errs != nil {
		p.errs.Handle(NewCoreError("InputPipeline", ErrKindNetwork, SeverityWarning, err, MsgRecognitionFailure))
	}
	if p.onError != nil {
		p.onError(err)
	}
}

// Stop cancels the ASR subscription before closing the audio stream —
// cancelling first avoids the close await blocking on the ASR's onDone
// (spec §4.5).
func (p *InputPipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.sttChan = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Closing the audio stream is just discarding our local reference to
	// it; there is nothing further to await once ASR is cancelled.
	p.mu.Lock()
	p.ctx = nil
	p.mu.Unlock()
}

// Reset unconditionally returns the pipeline to idle, even if the audio
// stream's controller is already nil — this is what resolves the
// stop-raced-an-error deadlock described in spec §4.5.
func (p *InputPipeline) Reset() {
	p.mu.Lock()
	p.mode = InputIdle
	p.ctx = nil
	p.cancel = nil
	p.sttChan = nil
	p.generation++
	p.mu.Unlock()
	if p.vad != nil {
		p.vad.Reset()
	}
}

// Restart performs Stop(); Reset(); Start(ctx) as a single atomic-looking
// operation from the caller's perspective.
func (p *InputPipeline) Restart(ctx context.Context) error {
	p.Stop()
	p.Reset()
	return p.Start(ctx)
}

// Mode returns the pipeline's current mode.
func (p *InputPipeline) Mode() InputMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}
