package voicecore

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/topn2024/bookkeeping-voice-core/pkg/audio"
)

// BargeInLayer names which of the three detection layers fired.
type BargeInLayer string

const (
	LayerVADAsr    BargeInLayer = "layer1VadAsr"
	LayerEcho      BargeInLayer = "layer2Echo"
	LayerAmplitude BargeInLayer = "layer3Amplitude"
)

// BargeInResult is emitted whenever BargeInDetector confirms a genuine
// user interruption of the currently speaking TTS.
type BargeInResult struct {
	Layer      BargeInLayer
	Text       string
	Similarity float64
}

// BargeInDetector decides whether a partial/final ASR result — or a run
// of loud microphone frames — is a genuine user interruption of the
// currently speaking TTS (C3). It runs three independent layers:
//
//  1. VAD+ASR: a partial ASR result while TTS is playing is only a
//     candidate if VAD has reported speech.
//  2. Echo similarity: candidates whose text closely matches the trailing
//     window of the TTS text currently being spoken are suppressed as the
//     engine overhearing its own voice.
//  3. Amplitude: a run of loud frames during TTS playback forces a
//     barge-in regardless of ASR, handled by FeedAmplitudeFrame.
//
// The echo-similarity layer is retained as defense in depth even though a
// platform with guaranteed hardware AEC may never need it (spec §9,
// open question b) — SetEchoFilterEnabled(false) turns it off.
type BargeInDetector struct {
	ttsPlaying       bool
	currentTtsText   string
	vadSpeaking      bool
	echoEnabled      bool
	similarityThresh float64

	ampThreshold     float64
	ampFrameThresh   int
	consecutiveLoud  int
}

// NewBargeInDetector builds a detector from cfg's amplitude/similarity
// tunables, with the echo-similarity layer enabled by default.
func NewBargeInDetector(cfg Config) *BargeInDetector {
	return &BargeInDetector{
		echoEnabled:      true,
		similarityThresh: cfg.EchoSimilarityThreshold,
		ampThreshold:     cfg.BargeInAmplitudeThreshold,
		ampFrameThresh:   cfg.BargeInFrameThreshold,
	}
}

// SetEchoFilterEnabled toggles layer 2 (spec §9 open question b: safe to
// disable when the platform guarantees hardware AEC).
func (d *BargeInDetector) SetEchoFilterEnabled(enabled bool) {
	d.echoEnabled = enabled
}

// SetTTSPlaying updates playback state; currentText is the text currently
// being spoken (used by the echo-similarity layer's trailing window).
func (d *BargeInDetector) SetTTSPlaying(playing bool, currentText string) {
	d.ttsPlaying = playing
	d.currentTtsText = currentText
	if !playing {
		d.consecutiveLoud = 0
	}
}

// SetVADSpeaking records the latest VAD speaking state.
func (d *BargeInDetector) SetVADSpeaking(speaking bool) {
	d.vadSpeaking = speaking
}

// EvaluateASR runs layers 1-2 against a partial or final ASR result.
// Returns nil if this is not a genuine interruption.
func (d *BargeInDetector) EvaluateASR(text string) *BargeInResult {
	if !d.ttsPlaying {
		return nil
	}
	if !d.vadSpeaking {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if d.echoEnabled {
		sim := d.echoSimilarity(text)
		if sim > d.similarityThresh {
			return nil
		}
		return &BargeInResult{Layer: LayerVADAsr, Text: text, Similarity: sim}
	}

	return &BargeInResult{Layer: LayerVADAsr, Text: text}
}

// echoSimilarity scores text against the trailing window of the TTS text
// currently being spoken using Jaro-Winkler string similarity.
func (d *BargeInDetector) echoSimilarity(text string) float64 {
	window := trailingWindow(d.currentTtsText, len([]rune(text))*2)
	if window == "" {
		return 0
	}
	return matchr.JaroWinkler(text, window, false)
}

func trailingWindow(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) == 0 {
		return ""
	}
	if n >= len(r) {
		return s
	}
	return string(r[len(r)-n:])
}

// FeedAmplitudeFrame implements layer 3: it is called once per audio
// frame while TTS is playing. Once BargeInFrameThreshold consecutive
// frames exceed BargeInAmplitudeThreshold mean |PCM|, it forces a
// barge-in regardless of ASR/VAD state.
func (d *BargeInDetector) FeedAmplitudeFrame(frame []byte) *BargeInResult {
	if !d.ttsPlaying {
		d.consecutiveLoud = 0
		return nil
	}

	mean := audio.MeanAbsAmplitude(frame)
	if mean > d.ampThreshold {
		d.consecutiveLoud++
	} else {
		d.consecutiveLoud = 0
	}

	if d.consecutiveLoud >= d.ampFrameThresh {
		d.consecutiveLoud = 0
		return &BargeInResult{Layer: LayerAmplitude, Text: "[振幅打断]"}
	}
	return nil
}
