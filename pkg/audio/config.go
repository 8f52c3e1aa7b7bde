// Package audio provides microphone capture and gapless model-voice
// playback for live sessions.
//
// Capture produces PCM16 mono at 16 kHz, the rate the live backend expects
// on its realtime input channel. Playback consumes PCM16 mono at 24 kHz,
// the rate the backend synthesizes at. Both directions expose amplitude
// levels so the UI can animate without touching raw samples.
package audio

import (
	"fmt"
	"time"
)

const (
	// CaptureRate is the sample rate sent upstream to the model.
	CaptureRate = 16000

	// PlaybackRate is the sample rate of model voice audio.
	PlaybackRate = 24000

	// CaptureMimeType labels realtime input chunks on the wire.
	CaptureMimeType = "audio/pcm;rate=16000"
)

// Config holds capture or playback parameters.
type Config struct {
	// SampleRate in Hz.
	SampleRate int `json:"sample_rate"`

	// Channels is the number of interleaved channels.
	Channels int `json:"channels"`

	// BufferDuration is the size of one audio buffer.
	BufferDuration time.Duration `json:"buffer_duration"`
}

// DefaultCaptureConfig returns the capture-side defaults.
func DefaultCaptureConfig() Config {
	return Config{
		SampleRate:     CaptureRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// DefaultPlaybackConfig returns the playback-side defaults.
func DefaultPlaybackConfig() Config {
	return Config{
		SampleRate:     PlaybackRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per channel in one buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the byte size of one buffer of int16 samples.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
