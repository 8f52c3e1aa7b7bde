package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sabia-ai/sabia/internal/log"
)

// Recorder pumps chunks from a capture source, normalizes them to the
// upstream rate and hands them to callbacks. It does not talk to the
// network; wiring chunks into a live session is the caller's concern.
type Recorder struct {
	source Source

	// OnChunk receives PCM16 bytes at CaptureRate. Set before Start.
	OnChunk func(pcm []byte)

	// OnLevel receives the smoothed input amplitude per chunk. Set
	// before Start.
	OnLevel func(level float64)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	muted atomic.Bool
	meter LevelMeter
}

// NewRecorder creates a recorder over the given capture source.
func NewRecorder(source Source) *Recorder {
	return &Recorder{source: source}
}

// Start begins capture and chunk delivery. Calling Start while already
// recording is a no-op.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	if err := r.source.Start(ctx); err != nil {
		return err
	}

	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.meter.Reset()

	go r.pump(r.source.Stream(), r.stopCh, r.doneCh)

	log.Debug("audio: recorder started", "backend", r.source.Name())
	return nil
}

// Stop halts capture. Safe to call when not recording.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.doneCh
	r.mu.Unlock()

	_ = r.source.Stop()
	<-done

	if r.OnLevel != nil {
		r.OnLevel(0)
	}
	log.Debug("audio: recorder stopped")
}

// IsRecording reports whether capture is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// SetMuted suppresses chunk delivery without tearing down the device.
// Level callbacks report zero while muted.
func (r *Recorder) SetMuted(muted bool) {
	r.muted.Store(muted)
}

// Muted reports the mute state.
func (r *Recorder) Muted() bool {
	return r.muted.Load()
}

func (r *Recorder) pump(stream <-chan Chunk, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			r.deliver(chunk)
		}
	}
}

func (r *Recorder) deliver(chunk Chunk) {
	samples := chunk.Samples
	if chunk.Channels == 2 {
		samples = StereoToMono(samples)
	}
	if chunk.SampleRate != CaptureRate {
		samples = Resample(samples, chunk.SampleRate, CaptureRate)
	}
	if len(samples) == 0 {
		return
	}

	if r.muted.Load() {
		if r.OnLevel != nil {
			r.OnLevel(0)
		}
		return
	}

	if r.OnLevel != nil {
		r.OnLevel(r.meter.Update(samples))
	}
	if r.OnChunk != nil {
		r.OnChunk(SamplesToBytes(samples))
	}
}
