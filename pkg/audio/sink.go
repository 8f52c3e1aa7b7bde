package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	opus "gopkg.in/hraban/opus.v2"
)

// Sink plays audio chunks to an output.
type Sink interface {
	// Start prepares the output. Idempotent while open.
	Start(ctx context.Context) error

	// Stop halts playback. Safe to call multiple times.
	Stop() error

	// Write plays one chunk, blocking at roughly real-time pace.
	Write(ctx context.Context, chunk Chunk) error

	// Clear aborts any in-progress Write and drops its remainder.
	Clear() error

	// Config returns the sink configuration.
	Config() Config

	// Name identifies the backend ("rtp", "mock").
	Name() string

	// Close releases resources.
	io.Closer
}

const (
	// Opus encoding operates at 48 kHz.
	opusRate = 48000

	// 20ms frames, 960 samples at 48 kHz.
	opusFrameSamples = 960
	opusFrameTime    = 20 * time.Millisecond

	rtpMTU         = 1200
	rtpPayloadType = 111
)

// PacketWriter delivers one serialized RTP packet to the transport.
type PacketWriter func(packet []byte) error

// RTPSink encodes chunks to Opus and packetizes them as RTP for delivery
// to the browser. Write paces output at real time so a burst of model
// audio does not flood the transport.
type RTPSink struct {
	cfg   Config
	write PacketWriter

	mu      sync.Mutex
	enc     *opus.Encoder
	pkt     rtp.Packetizer
	started bool
	closed  bool

	gen atomic.Int64 // bumped by Clear to abort in-flight writes
}

// NewRTPSink creates a sink that emits Opus RTP packets via write.
func NewRTPSink(cfg Config, ssrc uint32, write PacketWriter) (*RTPSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if write == nil {
		return nil, fmt.Errorf("audio: rtp sink needs a packet writer")
	}
	return &RTPSink{
		cfg:   cfg,
		write: write,
		pkt: rtp.NewPacketizer(rtpMTU, rtpPayloadType, ssrc,
			&codecs.OpusPayloader{}, rtp.NewRandomSequencer(), opusRate),
	}, nil
}

// Start creates the Opus encoder.
func (s *RTPSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("audio: opus encoder: %w", err)
	}
	s.enc = enc
	s.started = true
	return nil
}

// Stop halts playback without releasing the encoder.
func (s *RTPSink) Stop() error {
	s.gen.Add(1)
	return nil
}

// Write encodes the chunk into 20ms Opus frames and emits them as RTP at
// real-time pace. A concurrent Clear aborts the remainder.
func (s *RTPSink) Write(ctx context.Context, chunk Chunk) error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	enc := s.enc
	s.mu.Unlock()

	gen := s.gen.Load()

	samples := chunk.Samples
	if chunk.Channels == 2 {
		samples = StereoToMono(samples)
	}
	if chunk.SampleRate != opusRate {
		samples = Resample(samples, chunk.SampleRate, opusRate)
	}

	buf := make([]byte, 1500)
	frame := make([]int16, opusFrameSamples)

	for off := 0; off < len(samples); off += opusFrameSamples {
		if s.gen.Load() != gen {
			return nil // flushed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n := copy(frame, samples[off:])
		for i := n; i < opusFrameSamples; i++ {
			frame[i] = 0 // pad the tail frame with silence
		}

		encoded, err := enc.Encode(frame, buf)
		if err != nil {
			return fmt.Errorf("audio: opus encode: %w", err)
		}

		for _, p := range s.pkt.Packetize(buf[:encoded], opusFrameSamples) {
			raw, err := p.Marshal()
			if err != nil {
				return fmt.Errorf("audio: rtp marshal: %w", err)
			}
			if err := s.write(raw); err != nil {
				return fmt.Errorf("audio: rtp write: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opusFrameTime):
		}
	}
	return nil
}

// Clear aborts any in-flight Write immediately.
func (s *RTPSink) Clear() error {
	s.gen.Add(1)
	return nil
}

// Config returns the sink configuration.
func (s *RTPSink) Config() Config { return s.cfg }

// Name identifies the backend.
func (s *RTPSink) Name() string { return "rtp" }

// Close releases the encoder.
func (s *RTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.enc = nil
	return nil
}
