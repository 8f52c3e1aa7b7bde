package audio

import (
	"context"
	"sync"

	"github.com/sabia-ai/sabia/internal/log"
)

// Streamer plays model voice audio gaplessly. Chunks arrive faster than
// real time while the model speaks; the streamer queues them and feeds
// the sink at playback speed. Stop discards everything buffered, which
// is how barge-in cuts the model off mid-sentence.
type Streamer struct {
	sink Sink

	// OnComplete fires when the queue drains after at least one chunk
	// was played. Set before Start.
	OnComplete func()

	// OnLevel receives the smoothed output amplitude per chunk. Set
	// before Start.
	OnLevel func(level float64)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]int16
	playing bool
	started bool
	closed  bool

	meter LevelMeter
}

// NewStreamer creates a playback streamer over the given sink.
func NewStreamer(sink Sink) *Streamer {
	s := &Streamer{sink: sink}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the playback worker. Idempotent.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.sink.Start(ctx); err != nil {
		return err
	}
	s.started = true
	go s.run(ctx)
	return nil
}

// AddPCM16 queues raw PCM16 bytes at PlaybackRate for playback.
func (s *Streamer) AddPCM16(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	samples := BytesToSamples(pcm)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, samples)
	s.playing = true
	s.cond.Signal()
	s.mu.Unlock()
}

// Stop flushes all buffered audio immediately. The sink cuts output as
// soon as its own buffer clears. Safe to call at any time.
func (s *Streamer) Stop() {
	s.mu.Lock()
	s.queue = nil
	wasPlaying := s.playing
	s.playing = false
	s.cond.Signal()
	s.mu.Unlock()

	if err := s.sink.Clear(); err != nil {
		log.Debug("audio: sink clear failed", "err", err)
	}
	s.meter.Reset()
	if s.OnLevel != nil {
		s.OnLevel(0)
	}
	if wasPlaying && s.OnComplete != nil {
		s.OnComplete()
	}
}

// IsPlaying reports whether audio is queued or being played.
func (s *Streamer) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Close stops the worker and releases the sink.
func (s *Streamer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.sink.Close()
}

func (s *Streamer) run(ctx context.Context) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			if s.playing {
				// Queue drained after playback.
				s.playing = false
				s.mu.Unlock()
				s.onDrained()
				s.mu.Lock()
				continue
			}
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if s.OnLevel != nil {
			s.OnLevel(s.meter.Update(chunk))
		}

		err := s.sink.Write(ctx, Chunk{
			Samples:    chunk,
			SampleRate: PlaybackRate,
			Channels:   1,
		})
		if err != nil {
			log.Warn("audio: sink write failed", "err", err)
		}
	}
}

func (s *Streamer) onDrained() {
	s.meter.Reset()
	if s.OnLevel != nil {
		s.OnLevel(0)
	}
	if s.OnComplete != nil {
		s.OnComplete()
	}
}
