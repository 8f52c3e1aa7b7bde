package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sabia-ai/sabia/internal/log"
	"github.com/sabia-ai/sabia/internal/observability"
	"github.com/sabia-ai/sabia/pkg/audio"
	"github.com/sabia-ai/sabia/pkg/live"
	"github.com/sabia-ai/sabia/pkg/tools"
)

// State is the session connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// defaultToolTimeout bounds a single tool handler invocation.
const defaultToolTimeout = 30 * time.Second

// Config describes one live session.
type Config struct {
	// Model is the backend model resource name.
	Model string

	// SystemPrompt steers the agent's behavior.
	SystemPrompt string

	// Voice selects the prebuilt voice.
	Voice string

	// SpeakingRate scales speech speed; zero means backend default.
	SpeakingRate float64

	// Tools is the sanitized tool set for this session.
	Tools []live.ToolSet

	// History is replayed into the model at connect so a resumed
	// conversation keeps its context.
	History []Turn
}

// Engine drives one live conversation. It connects the transport client
// to capture and playback, folds transcription events into the turn log,
// and answers the model's tool calls.
//
// Connecting never starts the microphone; capture is armed separately so
// the user stays in control of when audio leaves the machine.
type Engine struct {
	client   *live.Client
	recorder *audio.Recorder
	streamer *audio.Streamer
	registry *tools.Registry
	metrics  *observability.Metrics
	localRec *SessionRecorder

	turns *TurnLog

	// OnState observes connection state changes. Set before Connect.
	OnState func(state State)

	// OnError observes classified session failures. Set before Connect.
	OnError func(err *Error)

	// OnInputLevel and OnOutputLevel observe microphone and voice
	// amplitude. Levels flow on their own callbacks so UI animation
	// never churns the turn feed.
	OnInputLevel  func(level float64)
	OnOutputLevel func(level float64)

	mu          sync.Mutex
	state       State
	gen         int // bumped on disconnect to void in-flight connects
	disposers   []func()
	muted       bool
	toolTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics attaches prometheus instruments.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithToolTimeout overrides the per-call tool handler timeout.
func WithToolTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.toolTimeout = d }
}

// WithLocalRecorder tees captured audio into a local session recorder.
func WithLocalRecorder(r *SessionRecorder) EngineOption {
	return func(e *Engine) { e.localRec = r }
}

// NewEngine wires an engine over its collaborators.
func NewEngine(client *live.Client, recorder *audio.Recorder, streamer *audio.Streamer, registry *tools.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		client:      client,
		recorder:    recorder,
		streamer:    streamer,
		registry:    registry,
		turns:       NewTurnLog(),
		state:       StateDisconnected,
		toolTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	recorder.OnChunk = e.sendAudioChunk
	recorder.OnLevel = func(level float64) {
		if e.OnInputLevel != nil {
			e.OnInputLevel(level)
		}
	}
	streamer.OnLevel = func(level float64) {
		if e.OnOutputLevel != nil {
			e.OnOutputLevel(level)
		}
	}

	return e
}

// Turns returns the conversation log.
func (e *Engine) Turns() *TurnLog {
	return e.turns
}

// State returns the connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Connect establishes a live session. A session already in progress is
// torn down first. The microphone is not started.
func (e *Engine) Connect(ctx context.Context, cfg Config) error {
	e.Disconnect()

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	e.setState(StateConnecting)
	e.installListeners()

	if err := e.streamer.Start(ctx); err != nil {
		e.teardown()
		return e.fail(err)
	}

	start := time.Now()
	err := e.client.Connect(ctx, live.SessionConfig{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Voice:        cfg.Voice,
		SpeakingRate: cfg.SpeakingRate,
		Tools:        cfg.Tools,
		History:      historyContents(cfg.History),
	})
	if err != nil {
		e.teardown()
		if e.metrics != nil {
			e.metrics.SessionConnects.WithLabelValues("error").Inc()
		}
		return e.fail(err)
	}

	// A disconnect that raced the handshake wins: drop the fresh
	// connection instead of resurrecting a session the user ended.
	e.mu.Lock()
	voided := gen != e.gen
	e.mu.Unlock()
	if voided {
		e.client.Disconnect()
		e.teardown()
		e.setState(StateDisconnected)
		return nil
	}

	if len(cfg.History) > 0 {
		e.turns.Replace(cfg.History)
	}

	if e.metrics != nil {
		e.metrics.SessionConnects.WithLabelValues("ok").Inc()
		e.metrics.Connected.Set(1)
		e.metrics.ObserveConnectLatency(time.Since(start))
	}
	e.setState(StateConnected)
	return nil
}

// Disconnect ends the session. Safe to call in any state.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.gen++
	if e.state == StateDisconnected {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.recorder.Stop()
	e.streamer.Stop()
	e.client.Disconnect()
	e.teardown()
	e.setState(StateDisconnected)
	if e.metrics != nil {
		e.metrics.Connected.Set(0)
	}
}

// StartMicrophone arms capture and begins streaming audio upstream.
func (e *Engine) StartMicrophone(ctx context.Context) error {
	if e.State() != StateConnected {
		return e.fail(live.ErrNotConnected)
	}
	if err := e.recorder.Start(ctx); err != nil {
		return e.fail(err)
	}
	return nil
}

// StopMicrophone halts capture.
func (e *Engine) StopMicrophone() {
	e.recorder.Stop()
}

// MicrophoneActive reports whether capture is running.
func (e *Engine) MicrophoneActive() bool {
	return e.recorder.IsRecording()
}

// SetMuted suppresses upstream audio without releasing the device.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
	e.recorder.SetMuted(muted)
}

// Muted reports the mute state.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// SendText submits a typed user message as a completed turn.
func (e *Engine) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := e.client.Send(live.Part{Text: text}); err != nil {
		return e.fail(err)
	}
	e.turns.AddUserText(text)
	if e.metrics != nil {
		e.metrics.TurnsAppended.WithLabelValues(string(RoleUser)).Inc()
	}
	return nil
}

func (e *Engine) sendAudioChunk(pcm []byte) {
	if e.localRec != nil {
		e.localRec.Append(pcm)
	}
	if e.State() != StateConnected {
		return
	}
	err := e.client.SendRealtimeInput([]live.MediaChunk{{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MimeType: audio.CaptureMimeType,
	}})
	if err != nil {
		log.Debug("session: dropping audio chunk", "err", err)
		return
	}
	if e.metrics != nil {
		e.metrics.AudioChunksIn.Inc()
	}
}

func (e *Engine) installListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposers = []func(){
		e.client.OnAudio(e.handleAudio),
		e.client.OnInterrupted(e.handleInterrupted),
		e.client.OnInputTranscription(e.turns.AppendInput),
		e.client.OnOutputTranscription(e.handleOutputTranscription),
		e.client.OnContent(e.handleContent),
		e.client.OnTurnComplete(e.turns.CompleteTurn),
		e.client.OnToolCall(e.handleToolCalls),
		e.client.OnError(e.handleTransportError),
		e.client.OnClose(e.handleClose),
	}
}

func (e *Engine) teardown() {
	e.mu.Lock()
	disposers := e.disposers
	e.disposers = nil
	e.mu.Unlock()
	for _, dispose := range disposers {
		dispose()
	}
}

func (e *Engine) handleAudio(pcm []byte) {
	e.streamer.AddPCM16(pcm)
	if e.metrics != nil {
		e.metrics.AudioChunksOut.Inc()
	}
}

// handleInterrupted flushes queued playback so the model goes quiet the
// moment the user talks over it.
func (e *Engine) handleInterrupted() {
	e.streamer.Stop()
	if e.metrics != nil {
		e.metrics.BargeIns.Inc()
	}
}

func (e *Engine) handleOutputTranscription(text string, isFinal bool) {
	e.turns.AppendOutput(text)
	if isFinal {
		e.turns.CompleteTurn()
	}
}

func (e *Engine) handleContent(content live.ServerContent) {
	if content.GroundingMetadata != nil {
		e.turns.AddGrounding(content.GroundingMetadata.GroundingChunks)
	}
}

func (e *Engine) handleToolCalls(calls []live.FunctionCall) {
	go e.dispatchToolCalls(calls)
}

// dispatchToolCalls runs a tool batch sequentially in call order and
// sends one combined response. Every call produces a payload; a handler
// failure is reported to the model, not to the user.
func (e *Engine) dispatchToolCalls(calls []live.FunctionCall) {
	responses := make([]live.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		e.turns.AddSystemTurn(toolNotice(call))

		ctx, cancel := context.WithTimeout(context.Background(), e.toolTimeout)
		payload := e.registry.Dispatch(ctx, call)
		cancel()

		if e.metrics != nil {
			outcome := "ok"
			if _, failed := payload["error"]; failed {
				outcome = "error"
			}
			e.metrics.ToolCalls.WithLabelValues(call.Name, outcome).Inc()
		}

		responses = append(responses, live.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: payload,
		})
	}

	if err := e.client.SendToolResponse(responses); err != nil {
		log.Warn("session: tool response not delivered", "err", err)
	}
}

func (e *Engine) handleTransportError(err error) {
	_ = e.fail(err)
}

func (e *Engine) handleClose() {
	e.mu.Lock()
	wasConnected := e.state == StateConnected
	e.mu.Unlock()
	if !wasConnected {
		return
	}

	e.recorder.Stop()
	e.streamer.Stop()
	e.teardown()
	e.setState(StateDisconnected)
	if e.metrics != nil {
		e.metrics.Connected.Set(0)
	}
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	if e.state == state {
		e.mu.Unlock()
		return
	}
	e.state = state
	e.mu.Unlock()

	log.Info("session: state changed", "state", string(state))
	if e.OnState != nil {
		e.OnState(state)
	}
}

// fail classifies err, reports it to the observer and returns it.
func (e *Engine) fail(err error) error {
	se := Classify(err)
	if se == nil {
		return nil
	}
	log.Error("session: error", "kind", string(se.Kind), "err", se.Err)
	if e.metrics != nil {
		e.metrics.SessionErrors.WithLabelValues(string(se.Kind)).Inc()
	}
	if e.OnError != nil {
		e.OnError(se)
	}
	return se
}

// toolNotice renders the system turn announcing a tool invocation.
func toolNotice(call live.FunctionCall) string {
	args, err := json.MarshalIndent(call.Args, "", "  ")
	if err != nil || call.Args == nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("Running tool: **%s**\n```json\n%s\n```", call.Name, args)
}

// historyContents converts saved turns into model content for replay.
// System turns stay local; they were never model dialogue.
func historyContents(turns []Turn) []live.Content {
	var contents []live.Content
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		switch t.Role {
		case RoleUser:
			contents = append(contents, live.TextContent("user", text))
		case RoleAgent:
			contents = append(contents, live.TextContent("model", text))
		}
	}
	return contents
}
