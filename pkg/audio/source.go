package audio

import (
	"context"
	"errors"
	"io"
)

// Errors reported by capture sources.
var (
	// ErrPermissionDenied means the user refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrNoDevice means no capture device is available.
	ErrNoDevice = errors.New("audio: no capture device found")

	// ErrClosed means the source has been closed and cannot restart.
	ErrClosed = errors.New("audio: source closed")
)

// Chunk is a buffer of captured audio.
type Chunk struct {
	// Samples holds PCM16 samples, interleaved if multi-channel.
	Samples []int16

	// SampleRate of this chunk in Hz.
	SampleRate int

	// Channels in this chunk.
	Channels int
}

// Bytes returns the chunk as raw PCM16 little-endian bytes.
func (c *Chunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// Duration returns the chunk length in seconds.
func (c *Chunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Source captures audio from a microphone or another input.
type Source interface {
	// Start begins capture. Idempotent while open.
	Start(ctx context.Context) error

	// Stop halts capture. Safe to call multiple times.
	Stop() error

	// Stream returns the channel chunks arrive on. The channel is
	// closed when the source stops.
	Stream() <-chan Chunk

	// Config returns the capture configuration.
	Config() Config

	// Name identifies the backend ("webrtc", "mock").
	Name() string

	// Close releases resources. The source cannot restart after Close.
	io.Closer
}
