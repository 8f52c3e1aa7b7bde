package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/sabia-ai/sabia/internal/log"
)

// WebRTCSource carries browser audio over a WebRTC peer connection in
// both directions. The browser sends Opus microphone audio; the source
// decodes it to PCM16 at 48 kHz and delivers chunks on Stream. A local
// opus track carries assistant speech back down; RTPSink feeds it through
// WriteRTP. Signaling (offer, answer, ICE) is driven by the web layer
// through HandleOffer and AddICECandidate.
type WebRTCSource struct {
	cfg Config

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticRTP
	streamCh chan Chunk
	closed   bool

	running atomic.Bool

	// onLocalICE forwards local candidates back to the browser.
	onLocalICE func(candidate webrtc.ICECandidateInit)
}

// maxOpusFrame holds 120ms at 48 kHz, the largest Opus frame.
const maxOpusFrame = 5760

// NewWebRTCSource creates a browser capture source.
func NewWebRTCSource(cfg Config) *WebRTCSource {
	return &WebRTCSource{
		cfg:      cfg,
		streamCh: make(chan Chunk, 16),
	}
}

// OnLocalICECandidate registers the forwarder for local ICE candidates.
// Must be set before HandleOffer.
func (w *WebRTCSource) OnLocalICECandidate(fn func(candidate webrtc.ICECandidateInit)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onLocalICE = fn
}

// HandleOffer accepts the browser's SDP offer, sets up a bidirectional
// audio transceiver and returns the answer SDP. Any prior peer
// connection is torn down first.
func (w *WebRTCSource) HandleOffer(offerSDP string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrClosed
	}
	if w.pc != nil {
		_ = w.pc.Close()
		w.pc = nil
		w.track = nil
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", fmt.Errorf("audio: peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusRate, Channels: 1},
		"audio", "sabia",
	)
	if err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("audio: local track: %w", err)
	}

	if _, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("audio: add transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		if !strings.Contains(strings.ToLower(track.Codec().MimeType), "opus") {
			log.Warn("audio: ignoring non-opus track", "codec", track.Codec().MimeType)
			return
		}
		go w.decodeLoop(track)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if w.onLocalICE != nil {
			w.onLocalICE(candidate.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("audio: peer connection state", "state", state.String())
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("audio: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("audio: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("audio: set local description: %w", err)
	}

	w.pc = pc
	w.track = track
	return answer.SDP, nil
}

// WriteRTP sends one marshaled RTP packet down the local audio track.
// Satisfies the playback sink's PacketWriter.
func (w *WebRTCSource) WriteRTP(pkt []byte) error {
	w.mu.Lock()
	track := w.track
	w.mu.Unlock()
	if track == nil {
		return ErrNoDevice
	}
	_, err := track.Write(pkt)
	return err
}

// AddICECandidate applies a remote candidate from the browser.
func (w *WebRTCSource) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pc == nil {
		return ErrNoDevice
	}
	return w.pc.AddICECandidate(candidate)
}

func (w *WebRTCSource) decodeLoop(track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(opusRate, 1)
	if err != nil {
		log.Error("audio: opus decoder", "err", err)
		return
	}

	frame := make([]int16, maxOpusFrame)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return // track closed
		}
		if !w.running.Load() {
			continue // mic not armed, drop on the floor
		}

		n, err := dec.Decode(pkt.Payload, frame)
		if err != nil {
			log.Debug("audio: opus decode failed", "err", err)
			continue
		}

		samples := make([]int16, n)
		copy(samples, frame[:n])

		select {
		case w.streamCh <- Chunk{Samples: samples, SampleRate: opusRate, Channels: 1}:
		default:
			// Consumer is behind, drop the chunk.
		}
	}
}

// Start arms chunk delivery. The peer connection itself is established
// by signaling, independent of Start.
func (w *WebRTCSource) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.pc == nil {
		return ErrNoDevice
	}
	w.running.Store(true)
	return nil
}

// Stop disarms chunk delivery without closing the peer connection.
func (w *WebRTCSource) Stop() error {
	w.running.Store(false)
	return nil
}

// Stream returns the decoded chunk channel.
func (w *WebRTCSource) Stream() <-chan Chunk {
	return w.streamCh
}

// Config returns the capture configuration.
func (w *WebRTCSource) Config() Config { return w.cfg }

// Name identifies the backend.
func (w *WebRTCSource) Name() string { return "webrtc" }

// Close tears down the peer connection.
func (w *WebRTCSource) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.running.Store(false)
	close(w.streamCh)
	w.track = nil
	if w.pc != nil {
		err := w.pc.Close()
		w.pc = nil
		return err
	}
	return nil
}
