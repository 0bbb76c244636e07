package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
)

// DeepgramStreamingASR streams PCM frames to Deepgram's websocket
// listen endpoint and reports interim and final transcripts as they
// arrive, in addition to supporting one-shot Transcribe over the plain
// REST endpoint.
type DeepgramStreamingASR struct {
	apiKey     string
	restURL    string
	wsURL      string
	sampleRate int
}

// NewDeepgramStreamingASR builds a client for the given API key.
func NewDeepgramStreamingASR(apiKey string) *DeepgramStreamingASR {
	return &DeepgramStreamingASR{
		apiKey:     apiKey,
		restURL:    "https://api.deepgram.com/v1/listen",
		wsURL:      "wss://api.deepgram.com/v1/listen",
		sampleRate: 16000,
	}
}

func (s *DeepgramStreamingASR) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if sampleRate == 0 {
		sampleRate = s.sampleRate
	}
	u, err := url.Parse(s.restURL)
	if err != nil {
		return "", err
	}
	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	params.Set("language", "zh")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(pcm))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", sampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.transcript(), nil
}

func (s *DeepgramStreamingASR) Name() string { return "deepgram-asr" }

// StreamTranscribe dials Deepgram's streaming endpoint and forwards
// every frame written to the returned channel as a binary websocket
// message, reporting each interim/final result via onTranscript as it
// arrives.
func (s *DeepgramStreamingASR) StreamTranscribe(ctx context.Context, onTranscript func(text string, isFinal bool) error) (chan<- []byte, error) {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return nil, err
	}
	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	params.Set("language", "zh")
	params.Set("encoding", "linear16")
	params.Set("sample_rate", fmt.Sprintf("%d", s.sampleRate))
	u.RawQuery = params.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + s.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	frames := make(chan []byte, 64)

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		for {
			messageType, payload, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if messageType != websocket.MessageText {
				continue
			}
			var msg deepgramResponse
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			text := msg.transcript()
			if text == "" {
				continue
			}
			_ = onTranscript(text, msg.IsFinal)
		}
	}()

	return frames, nil
}

type deepgramResponse struct {
	IsFinal bool `json:"is_final"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r deepgramResponse) transcript() string {
	if len(r.Results.Channels) > 0 && len(r.Results.Channels[0].Alternatives) > 0 {
		return r.Results.Channels[0].Alternatives[0].Transcript
	}
	if len(r.Channel.Alternatives) > 0 {
		return r.Channel.Alternatives[0].Transcript
	}
	return ""
}
