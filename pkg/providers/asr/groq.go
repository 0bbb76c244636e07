// Package asr collects the ASRProvider/StreamingASRProvider
// implementations voicecore can be wired against.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/topn2024/bookkeeping-voice-core/pkg/audio"
)

// GroqASR transcribes a finished audio buffer via Groq's
// OpenAI-compatible Whisper endpoint.
type GroqASR struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
	httpClient *http.Client
}

// NewGroqASR builds a GroqASR client. model defaults to
// "whisper-large-v3-turbo" if empty.
func NewGroqASR(apiKey, model string) *GroqASR {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqASR{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: 16000,
		httpClient: http.DefaultClient,
	}
}

// SetSampleRate overrides the sample rate used to frame outgoing WAV
// buffers.
func (s *GroqASR) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *GroqASR) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if sampleRate == 0 {
		sampleRate = s.sampleRate
	}
	wavData := audio.NewWavBuffer(pcm, sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return "", err
	}
	if err := writer.WriteField("language", "zh"); err != nil {
		return "", err
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("groq asr error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

func (s *GroqASR) Name() string {
	return "groq-asr"
}
