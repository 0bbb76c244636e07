package voicecore

import (
	"context"
	"sync"
	"time"
)

// WorkerState is the TTSQueueWorker's lifecycle state.
type WorkerState string

const (
	WorkerIdle    WorkerState = "idle"
	WorkerWorking WorkerState = "working"
	WorkerPaused  WorkerState = "paused"
	WorkerStopped WorkerState = "stopped"
)

type ttsTask struct {
	sentence   Sentence
	enqueuedAt time.Time
}

// TTSQueueWorker is a bounded FIFO worker (C4) feeding sentences to the
// TTS service one at a time. It drops the oldest queued task on overflow
// (cap MaxTTSQueueSize) and, on dequeue, skips any task whose response id
// is no longer current or whose age exceeds 30s — the soft-cancellation
// mechanism that lets a stale response's sentences be abandoned without
// forcibly killing anything already in flight.
type TTSQueueWorker struct {
	mu       sync.Mutex
	queue    []ttsTask
	state    WorkerState
	cap      int
	maxAge   time.Duration

	tts     TTSProvider
	tracker *ResponseTracker
	logger  Logger
	errs    ErrorHandler

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	onSentenceStarted   func(Sentence)
	onSentenceCompleted func(Sentence)
	onDrain             func()
	onAudioChunk        func([]byte)
}

// NewTTSQueueWorker builds a worker bounded to cfg.MaxTTSQueueSize tasks,
// each expiring after 30s if never played.
func NewTTSQueueWorker(tts TTSProvider, tracker *ResponseTracker, cfg Config, logger Logger, errs ErrorHandler) *TTSQueueWorker {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &TTSQueueWorker{
		state:  WorkerIdle,
		cap:    cfg.MaxTTSQueueSize,
		maxAge: 30 * time.Second,
		tts:    tts,
		tracker: tracker,
		logger: logger,
		errs:   errs,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// OnSentenceStarted registers the callback fired just before a sentence
// is spoken.
func (w *TTSQueueWorker) OnSentenceStarted(fn func(Sentence)) { w.onSentenceStarted = fn }

// OnSentenceCompleted registers the callback fired after a sentence
// finishes playing. Tasks skipped as stale or expired fire neither this
// nor the started callback.
func (w *TTSQueueWorker) OnSentenceCompleted(fn func(Sentence)) { w.onSentenceCompleted = fn }

// OnDrain registers the callback fired whenever the queue becomes empty
// with nothing in flight.
func (w *TTSQueueWorker) OnDrain(fn func()) { w.onDrain = fn }

// OnAudioChunk registers the callback fed every PCM chunk the TTS service
// emits, so the OutputPipeline can forward it to AEC as a played-audio
// reference.
func (w *TTSQueueWorker) OnAudioChunk(fn func([]byte)) { w.onAudioChunk = fn }

// Enqueue appends a sentence tagged with its response id. If the queue is
// already at capacity, the oldest task is dropped to make room.
func (w *TTSQueueWorker) Enqueue(s Sentence) {
	w.mu.Lock()
	if len(w.queue) >= w.cap {
		w.queue = w.queue[1:]
	}
	w.queue = append(w.queue, ttsTask{sentence: s, enqueuedAt: time.Now()})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drives the single logical worker loop until ctx is done or Stop is
// called. It must be started exactly once, typically in its own goroutine.
func (w *TTSQueueWorker) Run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.wake:
			w.drainQueue(ctx)
		}
	}
}

func (w *TTSQueueWorker) drainQueue(ctx context.Context) {
	for {
		w.mu.Lock()
		if w.state == WorkerStopped || w.state == WorkerPaused || len(w.queue) == 0 {
			if len(w.queue) == 0 && w.state != WorkerStopped && w.state != WorkerPaused {
				w.state = WorkerIdle
			}
			w.mu.Unlock()
			if len(w.queue) == 0 {
				w.fireDrain()
			}
			return
		}
		task := w.queue[0]
		w.queue = w.queue[1:]
		w.state = WorkerWorking
		w.mu.Unlock()

		if !w.tracker.IsCurrent(task.sentence.ResponseID) {
			continue
		}
		if time.Since(task.enqueuedAt) >= w.maxAge {
			continue
		}

		w.speak(ctx, task.sentence)
	}
}

func (w *TTSQueueWorker) speak(ctx context.Context, s Sentence) {
	if w.onSentenceStarted != nil {
		w.onSentenceStarted(s)
	}

	err := w.tts.Speak(ctx, s.Text, false, func(chunk []byte) error {
		if w.onAudioChunk != nil {
			w.onAudioChunk(chunk)
		}
		return nil
	})
	if err != nil && w.errs != nil {
		w.errs.Handle(NewCoreError("TTSQueueWorker", ErrKindExecution, SeverityWarning, err, MsgResponseGenerationFailed))
	}

	if w.onSentenceCompleted != nil {
		w.onSentenceCompleted(s)
	}
}

func (w *TTSQueueWorker) fireDrain() {
	if w.onDrain != nil {
		w.onDrain()
	}
}

// Stop clears the queue and cancels current playback, then resets the
// worker back to idle. This is a per-turn interrupt (e.g. a barge-in) —
// the Run loop keeps running so the worker can accept new sentences for
// the rest of the session. Use Shutdown to tear the worker down for good.
func (w *TTSQueueWorker) Stop() {
	w.reset(false)
}

// FadeOutAndStop is identical to Stop but requests the TTS service fade
// out instead of cutting off abruptly. It is equally resumable.
func (w *TTSQueueWorker) FadeOutAndStop() {
	w.reset(true)
}

func (w *TTSQueueWorker) reset(fade bool) {
	w.mu.Lock()
	w.queue = nil
	w.state = WorkerIdle
	w.mu.Unlock()

	var err error
	if fade {
		err = w.tts.FadeOutAndStop()
	} else {
		err = w.tts.Stop()
	}
	if err != nil && w.errs != nil {
		w.errs.Handle(NewCoreError("TTSQueueWorker", ErrKindExecution, SeverityWarning, err, ""))
	}
}

// Shutdown permanently ends the Run loop: it clears the queue, stops
// current playback, and closes stopCh so Run returns. Unlike Stop and
// FadeOutAndStop this is not resumable — it is reserved for actual
// session disposal, not a per-turn interrupt.
func (w *TTSQueueWorker) Shutdown() {
	w.mu.Lock()
	w.queue = nil
	w.state = WorkerStopped
	w.mu.Unlock()

	if err := w.tts.Stop(); err != nil && w.errs != nil {
		w.errs.Handle(NewCoreError("TTSQueueWorker", ErrKindExecution, SeverityWarning, err, ""))
	}

	w.once.Do(func() { close(w.stopCh) })
}

// State returns the worker's current lifecycle state.
func (w *TTSQueueWorker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// QueueLen returns the number of tasks currently queued (not counting one
// in flight).
func (w *TTSQueueWorker) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}
