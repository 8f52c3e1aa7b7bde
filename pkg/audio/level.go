package audio

import "math"

// LevelMeter converts sample buffers into a smoothed amplitude in the
// 0.0 to 1.0 range suitable for driving UI animation.
type LevelMeter struct {
	value float64
}

// meterSmoothing is the exponential moving average weight for new
// readings. Higher values track speech onsets faster.
const meterSmoothing = 0.45

// Update feeds a buffer of samples and returns the new smoothed level.
func (m *LevelMeter) Update(samples []int16) float64 {
	// Square root of the normalized mean square gives a perceptually
	// reasonable 0..1 amplitude for speech.
	instant := math.Sqrt(RMS(samples))
	m.value += meterSmoothing * (instant - m.value)
	if m.value < 1e-4 {
		m.value = 0
	}
	return m.value
}

// Value returns the current smoothed level.
func (m *LevelMeter) Value() float64 {
	return m.value
}

// Reset zeroes the meter.
func (m *LevelMeter) Reset() {
	m.value = 0
}
