// Package vad collects the VADProvider implementations voicecore can be
// wired against.
package vad

import (
	"time"

	"github.com/topn2024/bookkeeping-voice-core/pkg/audio"
	"github.com/topn2024/bookkeeping-voice-core/pkg/voicecore"
)

// RMSVAD is a lightweight root-mean-square voice activity detector. It
// requires minConfirmed consecutive above-threshold frames before
// declaring speech start (filters spikes and echo-onset pops), reports
// speech end after silenceLimit of continuous below-threshold frames,
// and additionally tracks a longer turn-end pause and an adaptive noise
// floor beyond what a bare RMS gate needs:
//
//   - turnEndPause: after speechEnd, a second and longer timer gives the
//     user a chance to resume the same turn (a breath, not a full stop)
//     before turnEndPauseTimeout commits to "the turn is really over".
//   - silenceTimeout: fires once if no speech at all has been detected
//     for totalSilenceWait, independent of any prior speech/pause state.
//   - adaptive mode: tracks a running noise floor from below-threshold
//     frames and, when enabled, derives the effective speech threshold
//     from it instead of the fixed configured value, so the detector
//     keeps working as ambient noise drifts.
type RMSVAD struct {
	threshold        float64
	silenceLimit     time.Duration
	turnEndPauseWait time.Duration
	totalSilenceWait time.Duration

	isSpeaking   bool
	silenceStart time.Time

	turnEndPauseActive bool
	turnEndPauseStart  time.Time
	turnEndPauseFired  bool

	lastSpeechOrStart time.Time
	silenceTimeoutFired bool

	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64

	adaptive      bool
	noiseFloor    float64
	noiseSamples  int
	noiseEmitEvery int
}

// NewRMSVAD creates an RMS-based VAD over the given base threshold and
// the short/long/total silence windows.
func NewRMSVAD(threshold float64, silenceLimit, turnEndPauseWait, totalSilenceWait time.Duration) *RMSVAD {
	return &RMSVAD{
		threshold:        threshold,
		silenceLimit:     silenceLimit,
		turnEndPauseWait: turnEndPauseWait,
		totalSilenceWait: totalSilenceWait,
		minConfirmed:     7,
		noiseEmitEvery:   50,
	}
}

// NewRMSVADFromConfig builds an RMSVAD from cfg's silence tunables,
// using a reasonable fixed RMS threshold (cfg carries amplitude
// thresholds for raw-PCM barge-in detection, not normalized RMS, so the
// VAD's own threshold is a separate constant).
func NewRMSVADFromConfig(cfg voicecore.Config) *RMSVAD {
	return NewRMSVAD(
		0.02,
		700*time.Millisecond,
		time.Duration(cfg.SentenceAggregationDelayMsSilent)*time.Millisecond,
		time.Duration(cfg.SilenceThresholdMs)*time.Millisecond,
	)
}

// SetMinConfirmed sets the number of consecutive above-threshold frames
// needed to confirm speech start.
func (v *RMSVAD) SetMinConfirmed(count int) { v.minConfirmed = count }

// SetThreshold updates the fixed RMS threshold used when adaptive mode
// is off.
func (v *RMSVAD) SetThreshold(threshold float64) { v.threshold = threshold }

// Threshold returns the currently effective threshold (adaptive or
// fixed).
func (v *RMSVAD) Threshold() float64 {
	if v.adaptive && v.noiseSamples > 0 {
		return v.noiseFloor * 3
	}
	return v.threshold
}

// LastRMS returns the RMS of the last processed frame.
func (v *RMSVAD) LastRMS() float64 { return v.lastRMS }

// IsSpeaking reports whether speech is currently detected.
func (v *RMSVAD) IsSpeaking() bool { return v.isSpeaking }

// SetAdaptiveMode toggles deriving the effective threshold from a
// running noise floor instead of the fixed configured value.
func (v *RMSVAD) SetAdaptiveMode(enabled bool) { v.adaptive = enabled }

func (v *RMSVAD) ProcessAudioFrame(frame []byte) (*voicecore.VADEvent, error) {
	rms := audio.RMS(frame)
	v.lastRMS = rms
	now := time.Now()
	threshold := v.Threshold()

	var noiseEvent *voicecore.VADEvent
	if rms <= threshold {
		if v.trackNoiseFloor(rms) {
			noiseEvent = &voicecore.VADEvent{Type: voicecore.VADNoiseFloorUpdated, Timestamp: now.UnixMilli(), NoiseRMS: v.noiseFloor}
		}
	}

	if rms > threshold {
		v.consecutiveFrames++
		v.lastSpeechOrStart = now
		v.silenceTimeoutFired = false
		v.turnEndPauseActive = false

		if !v.isSpeaking {
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				return &voicecore.VADEvent{Type: voicecore.VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			return nil, nil
		}
		v.silenceStart = time.Time{}
		return nil, nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			v.turnEndPauseActive = true
			v.turnEndPauseStart = now
			v.turnEndPauseFired = false
			return &voicecore.VADEvent{Type: voicecore.VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
		return nil, nil
	}

	if v.turnEndPauseActive && !v.turnEndPauseFired && now.Sub(v.turnEndPauseStart) >= v.turnEndPauseWait {
		v.turnEndPauseFired = true
		return &voicecore.VADEvent{Type: voicecore.VADTurnEndPauseTimeout, Timestamp: now.UnixMilli()}, nil
	}

	if v.lastSpeechOrStart.IsZero() {
		v.lastSpeechOrStart = now
	}
	if !v.silenceTimeoutFired && now.Sub(v.lastSpeechOrStart) >= v.totalSilenceWait {
		v.silenceTimeoutFired = true
		return &voicecore.VADEvent{Type: voicecore.VADSilenceTimeout, Timestamp: now.UnixMilli()}, nil
	}

	return noiseEvent, nil
}

// trackNoiseFloor updates the running noise floor estimate and reports
// whether this frame should surface a VADNoiseFloorUpdated event.
func (v *RMSVAD) trackNoiseFloor(rms float64) bool {
	v.noiseSamples++
	// Exponential moving average; converges within a couple hundred
	// frames without needing to keep a sample history.
	const alpha = 0.02
	if v.noiseSamples == 1 {
		v.noiseFloor = rms
	} else {
		v.noiseFloor = v.noiseFloor + alpha*(rms-v.noiseFloor)
	}
	return v.adaptive && v.noiseEmitEvery > 0 && v.noiseSamples%v.noiseEmitEvery == 0
}

func (v *RMSVAD) Name() string { return "rms-vad" }

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
	v.turnEndPauseActive = false
	v.turnEndPauseFired = false
	v.silenceTimeoutFired = false
	v.lastSpeechOrStart = time.Time{}
}

func (v *RMSVAD) Clone() voicecore.VADProvider {
	return &RMSVAD{
		threshold:        v.threshold,
		silenceLimit:     v.silenceLimit,
		turnEndPauseWait: v.turnEndPauseWait,
		totalSilenceWait: v.totalSilenceWait,
		minConfirmed:     v.minConfirmed,
		adaptive:         v.adaptive,
		noiseEmitEvery:   v.noiseEmitEvery,
	}
}
