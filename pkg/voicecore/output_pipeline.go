package voicecore

import (
	"sync"
)

// OutputPipeline drives one spoken response end to end (C6): it owns a
// SentenceBuffer and a TTSQueueWorker, stamps every sentence with the
// response id that was current when the response started, and feeds
// every TTS audio chunk to the AEC reference as it plays.
type OutputPipeline struct {
	mu sync.Mutex

	tracker *ResponseTracker
	buffer  *SentenceBuffer
	queue   *TTSQueueWorker
	aec     AECProvider
	logger  Logger

	responseID int64
	active     bool

	onComplete func(responseID int64)
	onPlayback func(chunk []byte)
}

// NewOutputPipeline wires a SentenceBuffer and TTSQueueWorker together
// under one response lifecycle. aec may be nil if no echo canceller is
// configured.
func NewOutputPipeline(tracker *ResponseTracker, queue *TTSQueueWorker, cfg Config, aec AECProvider, logger Logger) *OutputPipeline {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	p := &OutputPipeline{
		tracker: tracker,
		buffer:  NewSentenceBuffer(cfg),
		queue:   queue,
		aec:     aec,
		logger:  logger,
	}
	queue.OnAudioChunk(func(chunk []byte) {
		if p.aec != nil {
			p.aec.FeedTTSAudio(chunk)
		}
		p.mu.Lock()
		sink := p.onPlayback
		p.mu.Unlock()
		if sink != nil {
			sink(chunk)
		}
	})
	queue.OnDrain(func() {
		p.mu.Lock()
		id := p.responseID
		wasActive := p.active
		p.active = false
		p.mu.Unlock()
		if wasActive && p.onComplete != nil {
			p.onComplete(id)
		}
	})
	return p
}

// OnComplete registers the callback fired once the queue has drained all
// sentences belonging to the response that was active when it drained.
func (p *OutputPipeline) OnComplete(fn func(responseID int64)) { p.onComplete = fn }

// SetPlaybackSink registers the callback that receives every raw TTS
// audio chunk as it is produced, for a caller that actually needs to
// play it back (the AEC reference feed above is wired unconditionally;
// this is the separate, optional path out to real speakers).
func (p *OutputPipeline) SetPlaybackSink(fn func(chunk []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPlayback = fn
}

// StartResponse begins a new response: it takes a fresh response id from
// the tracker, resets the sentence buffer, and marks TTS as playing for
// AEC/barge-in purposes. It returns the new response id.
func (p *OutputPipeline) StartResponse() int64 {
	id := p.tracker.StartNewResponse()

	p.mu.Lock()
	p.responseID = id
	p.active = true
	p.mu.Unlock()

	p.buffer.Reset()
	if p.aec != nil {
		p.aec.SetTTSPlaying(true)
	}
	return id
}

// FeedText appends one streamed LLM chunk to the sentence buffer and
// enqueues every sentence extracted as a result, stamped with the
// response id the pipeline started with. Text belonging to a response
// that is no longer current is accepted (it can still be buffered) but
// its sentences are stamped with the stale id, so the queue worker will
// skip them on dequeue rather than the caller needing to check.
func (p *OutputPipeline) FeedText(text string) {
	p.mu.Lock()
	id := p.responseID
	p.mu.Unlock()

	for _, sentence := range p.buffer.AddChunk(text) {
		p.queue.Enqueue(Sentence{Text: sentence, ResponseID: id})
	}
}

// FinishText flushes any residue left in the sentence buffer as a final
// sentence once the LLM stream has ended.
func (p *OutputPipeline) FinishText() {
	p.mu.Lock()
	id := p.responseID
	p.mu.Unlock()

	if s := p.buffer.Flush(); s != "" {
		p.queue.Enqueue(Sentence{Text: s, ResponseID: id})
	}
}

// Abort discards any buffered residue and marks the current response no
// longer active, without touching the queue worker's in-flight task —
// the tracker's stale-id check is what prevents abandoned sentences from
// playing, so callers only need to cancel the tracker's current response
// (see ResponseTracker.CancelCurrent) alongside this call.
func (p *OutputPipeline) Abort() {
	p.buffer.Reset()
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

// ConfirmPlaybackComplete reports whether the given response id finished
// playback without being interrupted. Regardless of the boolean it
// returns, the pipeline's own state (active flag, AEC playing flag) is
// reset unconditionally — a response that was interrupted still needs
// the TTS-playing flag cleared so the next turn's barge-in detector
// isn't left thinking speech is still in progress.
func (p *OutputPipeline) ConfirmPlaybackComplete(responseID int64) bool {
	ok := p.tracker.ConfirmPlaybackComplete(responseID)

	p.mu.Lock()
	if responseID == p.responseID {
		p.active = false
	}
	p.mu.Unlock()

	if p.aec != nil {
		p.aec.SetTTSPlaying(false)
	}
	return ok
}

// Stop permanently shuts the underlying TTS queue worker down. This is
// session teardown, not a per-turn interrupt — use FadeOutAndStop for a
// barge-in, which must leave the worker resumable for later turns.
func (p *OutputPipeline) Stop() {
	p.queue.Shutdown()
	p.Abort()
	if p.aec != nil {
		p.aec.SetTTSPlaying(false)
	}
}

// FadeOutAndStop fades out the underlying TTS queue worker instead of
// cutting it off abruptly, for use on a graceful barge-in. The worker
// stays resumable: only its queue and in-flight sentence are cleared.
func (p *OutputPipeline) FadeOutAndStop() {
	p.queue.FadeOutAndStop()
	p.Abort()
	if p.aec != nil {
		p.aec.SetTTSPlaying(false)
	}
}

// CurrentResponseID returns the response id this pipeline is currently
// driving.
func (p *OutputPipeline) CurrentResponseID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responseID
}

// Active reports whether a response is currently in flight.
func (p *OutputPipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
