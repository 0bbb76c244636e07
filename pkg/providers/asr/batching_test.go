package asr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTranscriber struct {
	mu       sync.Mutex
	received [][]byte
	text     string
	err      error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	f.mu.Lock()
	f.received = append(f.received, pcm)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeTranscriber) Name() string { return "fake-transcriber" }

func TestBatchingStreamingASR_FlushesAccumulatedFramesAsFinal(t *testing.T) {
	inner := &fakeTranscriber{text: "买菜花了二十块"}
	b := NewBatchingStreamingASR(inner, 20*time.Millisecond, 16000)

	results := make(chan string, 1)
	frames, err := b.StreamTranscribe(context.Background(), func(text string, isFinal bool) error {
		if !isFinal {
			t.Error("expected every batched result to be reported as final")
		}
		results <- text
		return nil
	})
	if err != nil {
		t.Fatalf("StreamTranscribe failed: %v", err)
	}

	frames <- []byte{1, 2, 3}
	frames <- []byte{4, 5, 6}

	select {
	case text := <-results:
		if text != "买菜花了二十块" {
			t.Fatalf("unexpected transcript %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a flushed transcript")
	}
}

func TestBatchingStreamingASR_EmptyTranscriptIsNotReported(t *testing.T) {
	inner := &fakeTranscriber{text: ""}
	b := NewBatchingStreamingASR(inner, 20*time.Millisecond, 16000)

	called := make(chan struct{}, 1)
	frames, err := b.StreamTranscribe(context.Background(), func(text string, isFinal bool) error {
		called <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamTranscribe failed: %v", err)
	}
	frames <- []byte{1}

	select {
	case <-called:
		t.Fatal("expected an empty transcript to be suppressed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBatchingStreamingASR_TranscribeErrorIsSuppressed(t *testing.T) {
	inner := &fakeTranscriber{err: errors.New("boom")}
	b := NewBatchingStreamingASR(inner, 20*time.Millisecond, 16000)

	called := make(chan struct{}, 1)
	frames, err := b.StreamTranscribe(context.Background(), func(text string, isFinal bool) error {
		called <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamTranscribe failed: %v", err)
	}
	frames <- []byte{1}

	select {
	case <-called:
		t.Fatal("expected a transcription error to be suppressed, not reported")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBatchingStreamingASR_CtxDoneFlushesRemainderThenCloses(t *testing.T) {
	inner := &fakeTranscriber{text: "结束前的残留"}
	b := NewBatchingStreamingASR(inner, time.Hour, 16000)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan string, 1)
	frames, err := b.StreamTranscribe(ctx, func(text string, isFinal bool) error {
		results <- text
		return nil
	})
	if err != nil {
		t.Fatalf("StreamTranscribe failed: %v", err)
	}

	frames <- []byte{9, 9, 9}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case text := <-results:
		if text != "结束前的残留" {
			t.Fatalf("unexpected transcript %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("expected ctx cancellation to flush the remaining buffer")
	}
}
