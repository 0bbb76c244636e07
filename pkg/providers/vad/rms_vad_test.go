package vad

import (
	"testing"
	"time"

	"github.com/topn2024/bookkeeping-voice-core/pkg/voicecore"
)

func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		frame[i*2] = byte(amplitude)
		frame[i*2+1] = byte(amplitude >> 8)
	}
	return frame
}

func TestRMSVAD_SpeechStartFiresAfterMinConfirmedLoudFrames(t *testing.T) {
	v := NewRMSVAD(0.02, 100*time.Millisecond, 50*time.Millisecond, time.Second)
	loud := pcmFrame(20000, 160)

	var lastEvent *voicecore.VADEvent
	for i := 0; i < v.minConfirmed; i++ {
		evt, err := v.ProcessAudioFrame(loud)
		if err != nil {
			t.Fatalf("ProcessAudioFrame failed: %v", err)
		}
		if evt != nil {
			lastEvent = evt
		}
	}
	if lastEvent == nil || lastEvent.Type != voicecore.VADSpeechStart {
		t.Fatalf("expected a VADSpeechStart after %d consecutive loud frames, got %+v", v.minConfirmed, lastEvent)
	}
	if !v.IsSpeaking() {
		t.Fatal("expected IsSpeaking to be true")
	}
}

func TestRMSVAD_SpeechEndFiresAfterSilenceLimit(t *testing.T) {
	v := NewRMSVAD(0.02, 30*time.Millisecond, 20*time.Millisecond, time.Second)
	loud := pcmFrame(20000, 160)
	quiet := pcmFrame(0, 160)

	for i := 0; i < v.minConfirmed; i++ {
		v.ProcessAudioFrame(loud)
	}
	if !v.IsSpeaking() {
		t.Fatal("expected speech to be confirmed before testing speech end")
	}

	var evt *voicecore.VADEvent
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e, err := v.ProcessAudioFrame(quiet)
		if err != nil {
			t.Fatalf("ProcessAudioFrame failed: %v", err)
		}
		if e != nil && e.Type == voicecore.VADSpeechEnd {
			evt = e
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if evt == nil {
		t.Fatal("expected a VADSpeechEnd event after the silence limit elapsed")
	}
	if v.IsSpeaking() {
		t.Fatal("expected IsSpeaking to become false after speech end")
	}
}

func TestRMSVAD_AdaptiveModeDerivesThresholdFromNoiseFloor(t *testing.T) {
	v := NewRMSVAD(0.5, 100*time.Millisecond, 50*time.Millisecond, time.Second)
	v.SetAdaptiveMode(true)
	quiet := pcmFrame(300, 160)

	for i := 0; i < 5; i++ {
		v.ProcessAudioFrame(quiet)
	}
	if v.Threshold() >= 0.5 {
		t.Fatalf("expected the adaptive threshold to drop below the fixed 0.5 default, got %v", v.Threshold())
	}
}

func TestRMSVAD_ResetClearsSpeakingState(t *testing.T) {
	v := NewRMSVAD(0.02, 30*time.Millisecond, 20*time.Millisecond, time.Second)
	loud := pcmFrame(20000, 160)
	for i := 0; i < v.minConfirmed; i++ {
		v.ProcessAudioFrame(loud)
	}
	if !v.IsSpeaking() {
		t.Fatal("expected speech confirmed before Reset")
	}

	v.Reset()
	if v.IsSpeaking() {
		t.Fatal("expected IsSpeaking to be false after Reset")
	}
}

func TestRMSVAD_CloneCopiesTunablesNotRuntimeState(t *testing.T) {
	v := NewRMSVAD(0.03, 50*time.Millisecond, 20*time.Millisecond, time.Second)
	v.SetMinConfirmed(4)
	loud := pcmFrame(20000, 160)
	for i := 0; i < 4; i++ {
		v.ProcessAudioFrame(loud)
	}
	if !v.IsSpeaking() {
		t.Fatal("expected the original detector to be speaking")
	}

	cloned := v.Clone().(*RMSVAD)
	if cloned.IsSpeaking() {
		t.Fatal("expected a clone to start with no in-progress speech state")
	}
	if cloned.threshold != v.threshold || cloned.minConfirmed != v.minConfirmed {
		t.Fatal("expected the clone to carry over the tunable configuration")
	}
}
