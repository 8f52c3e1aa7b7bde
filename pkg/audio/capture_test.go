package audio

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRecorderDeliversCaptureRateChunks(t *testing.T) {
	cfg := DefaultCaptureConfig()
	cfg.SampleRate = 48000 // browser-side rate, recorder must downsample
	src := NewMockSource(cfg, WithSineWave(440, 0.5))
	rec := NewRecorder(src)

	var mu sync.Mutex
	var chunks [][]byte
	var levels []float64
	rec.OnChunk = func(pcm []byte) {
		mu.Lock()
		chunks = append(chunks, pcm)
		mu.Unlock()
	}
	rec.OnLevel = func(level float64) {
		mu.Lock()
		levels = append(levels, level)
		mu.Unlock()
	}

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	rec.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	// 20ms at 16kHz mono is 320 samples, 640 bytes.
	if got := len(chunks[0]); got != 640 {
		t.Errorf("expected 640-byte chunks at capture rate, got %d", got)
	}
	if len(levels) == 0 || levels[len(levels)-1] != 0 {
		t.Errorf("expected final level 0 after stop, got %v", levels)
	}
}

func TestRecorderStartIdempotent(t *testing.T) {
	src := NewMockSource(DefaultCaptureConfig())
	rec := NewRecorder(src)

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Errorf("expected second Start to be a no-op, got %v", err)
	}
	if !rec.IsRecording() {
		t.Error("expected recorder to be recording")
	}

	rec.Stop()
	rec.Stop() // safe to repeat
	if rec.IsRecording() {
		t.Error("expected recorder to be stopped")
	}
}

func TestRecorderMuteSuppressesChunks(t *testing.T) {
	src := NewMockSource(DefaultCaptureConfig(), WithSineWave(440, 0.5))
	rec := NewRecorder(src)

	var mu sync.Mutex
	delivered := 0
	lastLevel := -1.0
	rec.OnChunk = func([]byte) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}
	rec.OnLevel = func(level float64) {
		mu.Lock()
		lastLevel = level
		mu.Unlock()
	}

	rec.SetMuted(true)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	rec.Stop()

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Errorf("expected no chunks while muted, got %d", delivered)
	}
	if lastLevel != 0 {
		t.Errorf("expected level 0 while muted, got %f", lastLevel)
	}
}

func TestRecorderRestart(t *testing.T) {
	src := NewMockSource(DefaultCaptureConfig(), WithSineWave(440, 0.5))
	rec := NewRecorder(src)

	var mu sync.Mutex
	count := 0
	rec.OnChunk = func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	rec.Stop()

	mu.Lock()
	afterFirst := count
	mu.Unlock()

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	rec.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count <= afterFirst {
		t.Errorf("expected chunks after restart: first=%d total=%d", afterFirst, count)
	}
}
