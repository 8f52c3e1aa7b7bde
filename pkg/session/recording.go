package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sabia-ai/sabia/internal/log"
	"github.com/sabia-ai/sabia/pkg/audio"
)

// RecordingState is the local recording state.
type RecordingState string

const (
	// RecordingIdle means nothing is being recorded.
	RecordingIdle RecordingState = "idle"
	// RecordingActive means microphone audio is accumulating.
	RecordingActive RecordingState = "recording"
	// RecordingProcessing means a finished take is being written out.
	RecordingProcessing RecordingState = "processing"
)

// SessionRecorder captures the user's side of a conversation to a WAV
// file on disk. Takes move idle -> recording -> processing -> idle; a
// new take cannot start while the previous one is still being written.
type SessionRecorder struct {
	dir string

	mu      sync.Mutex
	state   RecordingState
	samples []int16
	started time.Time

	// OnStateChanged observes state transitions. Set before use.
	OnStateChanged func(state RecordingState)
}

// NewSessionRecorder stores takes under dir.
func NewSessionRecorder(dir string) *SessionRecorder {
	return &SessionRecorder{dir: dir, state: RecordingIdle}
}

// State returns the current recording state.
func (r *SessionRecorder) State() RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins a take. Starting while already recording is a no-op;
// starting while the previous take is being written is an error.
func (r *SessionRecorder) Start() error {
	r.mu.Lock()
	switch r.state {
	case RecordingActive:
		r.mu.Unlock()
		return nil
	case RecordingProcessing:
		r.mu.Unlock()
		return fmt.Errorf("session: previous recording still processing")
	}
	r.state = RecordingActive
	r.samples = nil
	r.started = time.Now()
	r.mu.Unlock()

	r.notify(RecordingActive)
	return nil
}

// Append adds captured PCM16 bytes at the capture rate. Bytes arriving
// outside an active take are dropped.
func (r *SessionRecorder) Append(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecordingActive {
		return
	}
	r.samples = append(r.samples, audio.BytesToSamples(pcm)...)
}

// Stop finishes the take and writes it to disk, returning the file path.
// Stopping while idle returns an empty path and no error.
func (r *SessionRecorder) Stop() (string, error) {
	r.mu.Lock()
	if r.state != RecordingActive {
		r.mu.Unlock()
		return "", nil
	}
	r.state = RecordingProcessing
	samples := r.samples
	r.samples = nil
	started := r.started
	r.mu.Unlock()

	r.notify(RecordingProcessing)

	path, err := r.write(samples, started)

	r.mu.Lock()
	r.state = RecordingIdle
	r.mu.Unlock()
	r.notify(RecordingIdle)

	return path, err
}

func (r *SessionRecorder) write(samples []int16, started time.Time) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("session: recordings dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.wav", started.Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(r.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("session: create recording: %w", err)
	}
	defer f.Close()

	if err := writeWAV(f, samples, audio.CaptureRate); err != nil {
		_ = os.Remove(path)
		return "", err
	}

	log.Info("session: recording saved",
		"path", path,
		"duration", fmt.Sprintf("%.1fs", float64(len(samples))/float64(audio.CaptureRate)))
	return path, nil
}

// writeWAV writes mono PCM16 samples as a canonical RIFF/WAVE file.
func writeWAV(w io.Writer, samples []int16, sampleRate int) error {
	dataLen := len(samples) * 2

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(header[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(header[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(header[34:36], 16)                   // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("session: wav header: %w", err)
	}
	if _, err := w.Write(audio.SamplesToBytes(samples)); err != nil {
		return fmt.Errorf("session: wav data: %w", err)
	}
	return nil
}

func (r *SessionRecorder) notify(state RecordingState) {
	if r.OnStateChanged != nil {
		r.OnStateChanged(state)
	}
}
