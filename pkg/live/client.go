// Package live implements the bidirectional streaming protocol adapter for
// the Gemini Live API. It owns a single websocket connection, serializes
// outgoing control/audio/text frames and fans incoming frames out as typed
// events. It carries no conversation logic; that belongs to pkg/session.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sabia-ai/sabia/internal/log"
)

const (
	// Live API websocket endpoint.
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	handshakeTimeout = 10 * time.Second
)

// Common errors returned by the client.
var (
	ErrNotConnected  = errors.New("live: not connected")
	ErrMissingAPIKey = errors.New("live: missing API key")
	ErrMissingModel  = errors.New("live: session config has no model")
)

// Client is the transport adapter. Exactly one connection is live at a
// time; Connect while connected tears the prior connection down first.
type Client struct {
	apiKey   string
	endpoint string
	dialer   *websocket.Dialer

	wsMu sync.Mutex // serializes writes to the socket

	mu        sync.RWMutex
	ws        *websocket.Conn
	connected bool
	gen       int // bumped on every connect/disconnect; stale read loops exit silently

	open         signal[struct{}]
	closeSig     signal[struct{}]
	errSig       signal[error]
	audio        signal[[]byte]
	interrupted  signal[struct{}]
	inputTx      signal[Transcription]
	outputTx     signal[Transcription]
	content      signal[ServerContent]
	toolCall     signal[[]FunctionCall]
	turnComplete signal[struct{}]
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the websocket endpoint (used by tests).
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates a transport client for the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials the live endpoint, performs the setup handshake and starts
// the read loop. It rejects on any handshake failure without leaving a
// half-open socket behind. Conversation history from cfg.History is
// replayed right after the handshake.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig) error {
	if cfg.Model == "" {
		return ErrMissingModel
	}

	// One live connection per client.
	if c.IsConnected() {
		c.Disconnect()
	}

	url := fmt.Sprintf("%s?key=%s", c.endpoint, c.apiKey)
	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	ws, _, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("live: dial failed: %w", err)
	}

	if err := ws.WriteJSON(buildSetupFrame(cfg)); err != nil {
		_ = ws.Close()
		return fmt.Errorf("live: failed to send setup: %w", err)
	}

	if err := awaitSetupComplete(ws); err != nil {
		_ = ws.Close()
		return err
	}

	if len(cfg.History) > 0 {
		frame := clientContentFrame{ClientContent: clientContent{
			Turns:        cfg.History,
			TurnComplete: false,
		}}
		if err := ws.WriteJSON(frame); err != nil {
			_ = ws.Close()
			return fmt.Errorf("live: failed to replay history: %w", err)
		}
	}

	if ctx.Err() != nil {
		_ = ws.Close()
		return ctx.Err()
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(ws, gen)

	c.open.emit(struct{}{})
	return nil
}

func buildSetupFrame(cfg SessionConfig) setupFrame {
	setup := setupConfig{
		Model: cfg.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				SpeakingRate: cfg.SpeakingRate,
				VoiceConfig: &voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoice{VoiceName: cfg.Voice},
				},
			},
		},
		Tools:                    cfg.Tools,
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if prompt := strings.TrimSpace(cfg.SystemPrompt); prompt != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: prompt}}}
	}
	return setupFrame{Setup: setup}
}

// awaitSetupComplete reads frames until the server acknowledges the setup,
// with a deadline so a silent server cannot hang the connect call.
func awaitSetupComplete(ws *websocket.Conn) error {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("live: handshake read failed: %w", err)
	}

	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("live: malformed handshake frame: %w", err)
	}
	if frame.Error != nil {
		return fmt.Errorf("live: setup rejected: %s", formatServerError(frame.Error))
	}
	if frame.SetupComplete == nil {
		return fmt.Errorf("live: unexpected first frame before setupComplete")
	}
	return nil
}

// Disconnect tears down the connection unconditionally. It is safe to call
// at any time, including while disconnected or mid-handshake, and never
// returns an error.
func (c *Client) Disconnect() {
	c.mu.Lock()
	ws := c.ws
	wasConnected := c.connected
	c.ws = nil
	c.connected = false
	c.gen++ // invalidate the read loop
	c.mu.Unlock()

	if ws != nil {
		c.wsMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.wsMu.Unlock()
		_ = ws.Close()
	}

	if wasConnected {
		c.closeSig.emit(struct{}{})
	}
}

// IsConnected reports whether a live connection is established.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Send sends user content as a completed turn.
func (c *Client) Send(parts ...Part) error {
	return c.sendJSON(clientContentFrame{ClientContent: clientContent{
		Turns:        []Content{{Role: "user", Parts: parts}},
		TurnComplete: true,
	}})
}

// SendRealtimeInput streams encoded microphone chunks to the backend.
func (c *Client) SendRealtimeInput(chunks []MediaChunk) error {
	return c.sendJSON(realtimeInputFrame{RealtimeInput: realtimeInput{
		MediaChunks: chunks,
	}})
}

// SendToolResponse sends one combined response for a tool-call batch.
func (c *Client) SendToolResponse(responses []FunctionResponse) error {
	return c.sendJSON(toolResponseFrame{ToolResponse: toolResponse{
		FunctionResponses: responses,
	}})
}

func (c *Client) sendJSON(v any) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return ws.WriteJSON(v)
}

// stale reports whether gen belongs to a connection that has since been
// torn down.
func (c *Client) stale(gen int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gen != c.gen
}

func (c *Client) readLoop(ws *websocket.Conn, gen int) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.stale(gen) {
				return // deliberate teardown, not an error
			}
			c.mu.Lock()
			if gen == c.gen {
				c.ws = nil
				c.connected = false
				c.gen++
			}
			c.mu.Unlock()

			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.errSig.emit(fmt.Errorf("live: connection lost: %w", err))
			}
			c.closeSig.emit(struct{}{})
			return
		}

		if c.stale(gen) {
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug("live: skipping malformed frame", "err", err)
			continue
		}
		c.dispatch(&frame)
	}
}

func (c *Client) dispatch(frame *serverFrame) {
	switch {
	case frame.Error != nil:
		c.errSig.emit(errors.New("live: " + formatServerError(frame.Error)))

	case frame.ToolCall != nil:
		if len(frame.ToolCall.FunctionCalls) > 0 {
			c.toolCall.emit(frame.ToolCall.FunctionCalls)
		}

	case frame.ToolCallCancellation != nil:
		log.Debug("live: tool call cancelled by server")

	case frame.ServerContent != nil:
		c.dispatchContent(frame.ServerContent)

	case frame.GoAway != nil:
		log.Warn("live: server requested graceful shutdown")
	}
}

func (c *Client) dispatchContent(sc *serverContentFrame) {
	if sc.Interrupted {
		c.interrupted.emit(struct{}{})
		return
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.inputTx.emit(Transcription{
			Text:    sc.InputTranscription.Text,
			IsFinal: sc.InputTranscription.Finished,
		})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.outputTx.emit(Transcription{
			Text:    sc.OutputTranscription.Text,
			IsFinal: sc.OutputTranscription.Finished,
		})
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil {
				continue
			}
			if !strings.HasPrefix(part.InlineData.MimeType, "audio/pcm") {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			c.audio.emit(pcm)
		}
	}

	if sc.GroundingMetadata != nil && len(sc.GroundingMetadata.GroundingChunks) > 0 {
		c.content.emit(ServerContent{GroundingMetadata: sc.GroundingMetadata})
	}

	if sc.TurnComplete {
		c.turnComplete.emit(struct{}{})
	}
}

func formatServerError(e *serverErrorFrame) string {
	if e.Status != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}
