package voicecore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ControllerState is the top-level state machine driving one voice
// session (C14).
type ControllerState string

const (
	StateIdle       ControllerState = "idle"
	StateListening  ControllerState = "listening"
	StateProcessing ControllerState = "processing"
	StateSpeaking   ControllerState = "speaking"
	StateStopping   ControllerState = "stopping"
)

// VoicePipelineController is the top-level assembly (C14): it owns the
// InputPipeline/OutputPipeline pair, aggregates ASR finals into complete
// utterances before handing them to the recognizer, wires barge-in
// detection through to playback cancellation, and drives the state
// machine idle -> listening -> processing -> speaking -> listening, with
// stopping as the terminal transition out.
type VoicePipelineController struct {
	mu    sync.Mutex
	state ControllerState

	input      *InputPipeline
	output     *OutputPipeline
	recognizer *MultiOperationRecognizer
	dual       *DualChannelProcessor
	tracker    *ResponseTracker
	proactive  *ProactiveConversationManager
	results    *ResultBuffer
	judge      *TimingJudge

	cfg    Config
	logger Logger
	errs   ErrorHandler

	ctx    context.Context
	cancel context.CancelFunc

	pendingText     strings.Builder
	aggregateTimer  *time.Timer
	firstFragment   time.Time
	userSpeaking    bool
	lastUserInput   string

	mode                  ConversationMode
	lastRoundWasOperation bool
	silenceSince          time.Time
}

// NewVoicePipelineController wires every component together. The
// components are constructed by the caller (so tests can substitute
// fakes for any one of them) and handed in already built.
func NewVoicePipelineController(
	input *InputPipeline,
	output *OutputPipeline,
	recognizer *MultiOperationRecognizer,
	dual *DualChannelProcessor,
	tracker *ResponseTracker,
	proactive *ProactiveConversationManager,
	results *ResultBuffer,
	judge *TimingJudge,
	cfg Config,
	logger Logger,
	errs ErrorHandler,
) *VoicePipelineController {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	c := &VoicePipelineController{
		state:      StateIdle,
		input:      input,
		output:     output,
		recognizer: recognizer,
		dual:       dual,
		tracker:    tracker,
		proactive:  proactive,
		results:    results,
		judge:      judge,
		cfg:        cfg,
		logger:     logger,
		errs:       errs,
		mode:       ModeMixed,
	}

	input.OnFinal(c.handleFinal)
	input.OnBargeIn(c.handleBargeIn)
	input.OnSpeechStart(func() {
		c.mu.Lock()
		c.userSpeaking = true
		c.mu.Unlock()
	})
	input.OnSpeechEnd(func() {
		c.mu.Lock()
		c.userSpeaking = false
		c.silenceSince = time.Now()
		c.mu.Unlock()
	})
	output.OnComplete(c.handlePlaybackComplete)

	if proactive != nil {
		proactive.OnPrompt(c.handleProactivePrompt)
	}

	return c
}

// Start brings the controller from idle to listening. Per the
// restart-ordering rule (see InputPipeline.Start), the input pipeline's
// internal controller exists by the time Start returns, so it is always
// safe for the caller to resume the external audio-capture device
// immediately afterward.
func (c *VoicePipelineController) Start(ctx context.Context) error {
	c.mu.Lock()
	sessionCtx, cancel := context.WithCancel(ctx)
	c.ctx = sessionCtx
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.input.Start(sessionCtx); err != nil {
		return err
	}
	c.input.SetMode(InputListening)
	c.setState(StateListening)

	if c.proactive != nil {
		c.proactive.ResetTimer(true)
	}

	if c.results != nil && c.judge != nil {
		go c.runResultNotifier(sessionCtx)
	}
	return nil
}

// runResultNotifier periodically asks the TimingJudge whether the
// highest-priority buffered result may be voiced yet, and speaks its
// notification when it does. It only acts while the controller is idly
// listening — mid-utterance or mid-response is never an interruption
// point a buffered query result should compete for.
func (c *VoicePipelineController) runResultNotifier(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkBufferedResults()
		}
	}
}

func (c *VoicePipelineController) checkBufferedResults() {
	if c.State() != StateListening {
		return
	}
	pending := c.results.Pending()
	if len(pending) == 0 {
		return
	}

	c.mu.Lock()
	speaking := c.userSpeaking
	lastWasOp := c.lastRoundWasOperation
	silenceSince := c.silenceSince
	userInput := c.lastUserInput
	c.mu.Unlock()

	silenceMs := int64(0)
	if !silenceSince.IsZero() {
		silenceMs = time.Since(silenceSince).Milliseconds()
	}

	verdict := c.judge.Decide(TimingContext{
		UserInput:             userInput,
		IsUserSpeaking:        speaking,
		SilenceDurationMs:     silenceMs,
		IsInChat:              c.mode == ModeChat || c.mode == ModeMixed,
		LastRoundWasOperation: lastWasOp,
		PendingResultCount:    len(pending),
		HighestPriority:       pending[0].Priority,
	})

	switch verdict {
	case VerdictDefer, VerdictSuppress:
		return
	default:
		top := pending[0]
		if !c.results.MarkNotified(top.OperationID) {
			return
		}
		c.speak(c.judge.GenerateNotification(verdict, top))
	}
}

// Stop tears the session down: it stops input, output, the proactive
// manager, and the dual-channel processor, then cancels the session
// context.
func (c *VoicePipelineController) Stop() {
	c.setState(StateStopping)

	c.input.Stop()
	c.output.Stop()
	if c.proactive != nil {
		c.proactive.Stop()
	}
	if c.results != nil {
		c.results.Dispose()
	}
	c.dual.Dispose()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.setState(StateIdle)
}

// FeedAudioData forwards one PCM frame into the input pipeline. Callers
// read frames from whatever audio device they own and call this for
// each.
func (c *VoicePipelineController) FeedAudioData(frame []byte) error {
	return c.input.FeedAudioData(frame)
}

// handleFinal aggregates ASR final fragments into a complete utterance
// before handing it to the recognizer. Each new fragment resets the
// aggregation timer at a delay chosen by whether the user is still
// speaking, and by how short the aggregated text is so far:
//
//   - user still speaking: SentenceAggregationDelayMsSpeaking (a short
//     debounce; more audio is clearly still coming).
//   - user gone silent, aggregated text shorter than MinSentenceLength:
//     SentenceAggregationDelayMsSilent (give a short fragment like "五十"
//     a real chance to be continued).
//   - user gone silent, aggregated text already a plausible sentence:
//     SentenceAggregationDelayMsShort (resolve quickly).
//
// Regardless of how often the timer is reset, InsuranceDelayMs bounds
// the total wait from the first fragment, guaranteeing the utterance is
// eventually dispatched even if ASR keeps producing finals indefinitely.
func (c *VoicePipelineController) handleFinal(text string) {
	c.mu.Lock()
	if c.pendingText.Len() == 0 {
		c.firstFragment = time.Now()
	}
	c.pendingText.WriteString(text)
	aggregated := c.pendingText.String()
	speaking := c.userSpeaking
	elapsed := time.Since(c.firstFragment)
	c.lastUserInput = aggregated
	c.mu.Unlock()

	if c.proactive != nil {
		c.proactive.ResetTimer(true)
	}

	delay := c.aggregationDelay(speaking, aggregated)
	insurance := time.Duration(c.cfg.InsuranceDelayMs) * time.Millisecond
	if elapsed+delay > insurance {
		remaining := insurance - elapsed
		if remaining < 0 {
			remaining = 0
		}
		delay = remaining
	}

	c.mu.Lock()
	if c.aggregateTimer != nil {
		c.aggregateTimer.Stop()
	}
	c.aggregateTimer = time.AfterFunc(delay, c.flushUtterance)
	c.mu.Unlock()
}

func (c *VoicePipelineController) aggregationDelay(speaking bool, aggregated string) time.Duration {
	if speaking {
		return time.Duration(c.cfg.SentenceAggregationDelayMsSpeaking) * time.Millisecond
	}
	if len([]rune(aggregated)) < c.cfg.MinSentenceLength {
		return time.Duration(c.cfg.SentenceAggregationDelayMsSilent) * time.Millisecond
	}
	return time.Duration(c.cfg.SentenceAggregationDelayMsShort) * time.Millisecond
}

// flushUtterance sends the aggregated utterance to the recognizer and on
// to the dual-channel processor, then starts a spoken response for
// whatever reply comes back.
func (c *VoicePipelineController) flushUtterance() {
	c.mu.Lock()
	utterance := c.pendingText.String()
	c.pendingText.Reset()
	sessionCtx := c.ctx
	c.mu.Unlock()

	if strings.TrimSpace(utterance) == "" || sessionCtx == nil {
		return
	}

	c.setState(StateProcessing)
	c.input.SetMode(InputIdle)

	result := c.recognizer.Recognize(sessionCtx, utterance, "", nil)
	reply := c.dual.Process(sessionCtx, c.mode, result)

	c.mu.Lock()
	c.lastRoundWasOperation = len(result.Operations) > 0
	c.mu.Unlock()

	if strings.TrimSpace(reply) == "" {
		// Nothing to say (e.g. a pure deferred query with no chat
		// content) — go straight back to listening.
		c.returnToListening()
		return
	}

	c.speak(reply)
}

// speak starts a new response and feeds the whole reply through the
// output pipeline in one shot (the reply is already a complete string,
// not a streamed LLM chunk sequence, so there is nothing to interleave
// it with).
func (c *VoicePipelineController) speak(reply string) {
	c.setState(StateSpeaking)
	c.input.SetMode(InputSpeaking)

	c.output.StartResponse()
	c.output.FeedText(reply)
	c.output.FinishText()
}

// handleBargeIn is wired to the input pipeline's barge-in callback: a
// genuine interruption fades out the current response, cancels it in
// the tracker, and immediately returns control to the user.
func (c *VoicePipelineController) handleBargeIn(result BargeInResult) {
	if c.State() != StateSpeaking {
		return
	}

	words := len([]rune(result.Text))
	if words < c.cfg.MinWordsToInterrupt && result.Layer != LayerAmplitude {
		return
	}

	c.tracker.CancelCurrent()
	c.output.FadeOutAndStop()
	c.returnToListening()
}

// handlePlaybackComplete is wired to the output pipeline's drain
// callback. It unconditionally returns the controller to listening
// regardless of whether the TTS service ever actually emitted an audio
// chunk for this response (an empty or instantly-interrupted response
// still needs the input pipeline restarted, not left waiting for a
// first-chunk event that will never come).
func (c *VoicePipelineController) handlePlaybackComplete(responseID int64) {
	c.output.ConfirmPlaybackComplete(responseID)
	c.returnToListening()
}

func (c *VoicePipelineController) returnToListening() {
	c.mu.Lock()
	sessionCtx := c.ctx
	c.mu.Unlock()
	if sessionCtx == nil {
		return
	}

	if err := c.input.Restart(sessionCtx); err != nil {
		if c.errs != nil {
			c.errs.Handle(NewCoreError("VoicePipelineController", ErrKindState, SeverityError, err, MsgRecognitionFailure))
		}
		return
	}
	c.input.SetMode(InputListening)
	c.setState(StateListening)

	c.mu.Lock()
	c.silenceSince = time.Now()
	c.mu.Unlock()

	if c.proactive != nil {
		c.proactive.ResetTimer(false)
	}
}

func (c *VoicePipelineController) handleProactivePrompt() {
	if c.State() != StateListening {
		return
	}
	c.speak("你还在吗？")
}

func (c *VoicePipelineController) setState(s ControllerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the controller's current top-level state.
func (c *VoicePipelineController) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetConversationMode changes the reply register used for subsequent
// responses.
func (c *VoicePipelineController) SetConversationMode(mode ConversationMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}
