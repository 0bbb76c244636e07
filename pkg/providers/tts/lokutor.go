// Package tts collects the TTSProvider implementations voicecore can be
// wired against.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// LokutorStreamingTTS streams synthesized speech over a persistent
// websocket connection to the Lokutor TTS service, supporting mid-stream
// interruption (a new Speak call with interrupt=true) and an explicit
// Stop/FadeOutAndStop pair for barge-in.
type LokutorStreamingTTS struct {
	apiKey string
	host   string
	voice  string
	lang   string

	mu       sync.Mutex
	conn     *websocket.Conn
	stopping bool
}

// NewLokutorStreamingTTS builds a client for the given voice/language
// pair. voice/lang are passed through on every synthesis request.
func NewLokutorStreamingTTS(apiKey, voice, lang string) *LokutorStreamingTTS {
	return &LokutorStreamingTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		voice:  voice,
		lang:   lang,
	}
}

func (t *LokutorStreamingTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: "wss", Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("lokutor: dial: %w", err)
	}
	t.conn = conn
	t.stopping = false
	return conn, nil
}

// Speak synthesizes text and streams each audio chunk to onChunk as it
// arrives. If interrupt is true, the server is told to cut off any
// in-flight synthesis on this connection before starting the new one.
func (t *LokutorStreamingTTS) Speak(ctx context.Context, text string, interrupt bool, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	req := map[string]interface{}{
		"text":      text,
		"voice":     t.voice,
		"lang":      t.lang,
		"speed":     1.05,
		"steps":     5,
		"version":   "versa-1.0",
		"interrupt": interrupt,
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.dropConn()
		return fmt.Errorf("lokutor: sending synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			wasStopping := t.clearStopping()
			t.dropConn()
			if wasStopping {
				return nil
			}
			return fmt.Errorf("lokutor: reading stream: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("lokutor: %s", msg)
			}
		}
	}
}

// Stop cuts off playback immediately: it tells the server to stop
// synthesizing, then closes the connection, which unblocks any Speak
// call currently blocked reading from it.
func (t *LokutorStreamingTTS) Stop() error {
	return t.stopWith(map[string]interface{}{"type": "stop"})
}

// FadeOutAndStop asks the server to fade the current audio out instead
// of cutting it off abruptly, then closes the connection the same way
// Stop does.
func (t *LokutorStreamingTTS) FadeOutAndStop() error {
	return t.stopWith(map[string]interface{}{"type": "stop", "fade_ms": 200})
}

func (t *LokutorStreamingTTS) stopWith(control map[string]interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.stopping = true
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	ctx := context.Background()
	_ = wsjson.Write(ctx, conn, control)
	conn.Close(websocket.StatusNormalClosure, "stop")

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	return nil
}

func (t *LokutorStreamingTTS) clearStopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.stopping
	t.stopping = false
	return was
}

func (t *LokutorStreamingTTS) dropConn() {
	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
}

func (t *LokutorStreamingTTS) Name() string {
	return "lokutor-streaming"
}
