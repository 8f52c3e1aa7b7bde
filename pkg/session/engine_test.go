package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sabia-ai/sabia/pkg/audio"
	"github.com/sabia-ai/sabia/pkg/live"
	"github.com/sabia-ai/sabia/pkg/tools"
)

// testBackend is a scripted live endpoint: it acknowledges the setup
// handshake, pushes frames from the send channel and exposes frames the
// client wrote after setup on the recv channel.
type testBackend struct {
	srv  *httptest.Server
	send chan string
	recv chan []byte

	// handshakeDelay stalls the setup ack to widen race windows.
	handshakeDelay time.Duration
}

func newTestBackend(t *testing.T) *testBackend {
	b := &testBackend{
		send: make(chan string, 16),
		recv: make(chan []byte, 16),
	}
	upgrader := websocket.Upgrader{}

	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		if b.handshakeDelay > 0 {
			time.Sleep(b.handshakeDelay)
		}
		if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
			return
		}

		go func() {
			for frame := range b.send {
				if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			select {
			case b.recv <- data:
			default:
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

// slowSink paces writes so playback stays busy long enough to interrupt.
type slowSink struct {
	mu      sync.Mutex
	written int
	cleared int
}

func (s *slowSink) Start(ctx context.Context) error { return nil }
func (s *slowSink) Stop() error                     { return nil }
func (s *slowSink) Config() audio.Config            { return audio.DefaultPlaybackConfig() }
func (s *slowSink) Name() string                    { return "slow" }
func (s *slowSink) Close() error                    { return nil }

func (s *slowSink) Write(ctx context.Context, chunk audio.Chunk) error {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return nil
}

func (s *slowSink) Clear() error {
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
	return nil
}

type engineFixture struct {
	engine  *Engine
	backend *testBackend
	sink    *slowSink
}

func newEngineFixture(t *testing.T, registry *tools.Registry) *engineFixture {
	t.Helper()
	backend := newTestBackend(t)

	client, err := live.NewClient("test-key", live.WithEndpoint(backend.url()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	src := audio.NewMockSource(audio.DefaultCaptureConfig(), audio.WithSineWave(440, 0.5))
	sink := &slowSink{}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	engine := NewEngine(client, audio.NewRecorder(src), audio.NewStreamer(sink), registry)
	t.Cleanup(engine.Disconnect)

	return &engineFixture{engine: engine, backend: backend, sink: sink}
}

func (f *engineFixture) connect(t *testing.T) {
	t.Helper()
	err := f.engine.Connect(context.Background(), Config{Model: "models/test", Voice: "Orus"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func awaitCondition(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineConnectDoesNotStartMicrophone(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.connect(t)

	if f.engine.State() != StateConnected {
		t.Fatalf("expected connected, got %s", f.engine.State())
	}
	if f.engine.MicrophoneActive() {
		t.Error("expected microphone off after connect")
	}
}

func TestEngineInterruptedFlushesPlayback(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.connect(t)

	// Queue a burst of model audio, then interrupt mid-playback.
	pcm := make([]byte, 960)
	for i := 0; i < 30; i++ {
		f.engine.streamer.AddPCM16(pcm)
	}
	time.Sleep(30 * time.Millisecond)

	f.backend.send <- `{"serverContent":{"interrupted":true}}`

	awaitCondition(t, time.Second, "playback flush", func() {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return f.sink.cleared > 0
	})

	awaitCondition(t, time.Second, "playback idle", func() {
		return !f.engine.streamer.IsPlaying()
	})
	f.sink.mu.Lock()
	written := f.sink.written
	f.sink.mu.Unlock()
	if written >= 30 {
		t.Errorf("expected queued audio discarded, got %d chunks played", written)
	}
}

func TestEngineToolBatchAtomicity(t *testing.T) {
	registry := tools.NewRegistry()
	mustRegister := func(name string, h tools.Handler) {
		t.Helper()
		err := registry.Register(tools.Tool{
			Declaration: live.FunctionDeclaration{Name: name},
			Handler:     h,
		})
		if err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	mustRegister("one", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"n": 1}, nil
	})
	mustRegister("two", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		panic("handler blew up")
	})
	mustRegister("three", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"n": 3}, nil
	})

	f := newEngineFixture(t, registry)
	f.connect(t)

	f.backend.send <- `{"toolCall":{"functionCalls":[
		{"id":"a","name":"one","args":{}},
		{"id":"b","name":"two","args":{}},
		{"id":"c","name":"three","args":{}}]}}`

	var frame struct {
		ToolResponse struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Response map[string]any `json:"response"`
			} `json:"function_responses"`
		} `json:"tool_response"`
	}
	select {
	case data := <-f.backend.recv:
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode tool response: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool response")
	}

	got := frame.ToolResponse.FunctionResponses
	if len(got) != 3 {
		t.Fatalf("expected one combined response with 3 entries, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("expected responses in call order, got %+v", got)
	}
	if _, ok := got[1].Response["error"]; !ok {
		t.Errorf("expected error payload for the failing handler, got %v", got[1].Response)
	}
	if got[2].Response["n"] != float64(3) {
		t.Errorf("expected handler 3 to still run, got %v", got[2].Response)
	}

	// One system turn per call, appended before dispatch.
	system := 0
	for _, turn := range f.engine.Turns().Turns() {
		if turn.Role == RoleSystem {
			system++
		}
	}
	if system != 3 {
		t.Errorf("expected 3 system turns, got %d", system)
	}
}

func TestEngineMuteKeepsCaptureAlive(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.connect(t)

	if err := f.engine.StartMicrophone(context.Background()); err != nil {
		t.Fatalf("StartMicrophone: %v", err)
	}

	f.engine.SetMuted(true)
	if !f.engine.MicrophoneActive() {
		t.Error("expected capture to keep running while muted")
	}
	if !f.engine.Muted() {
		t.Error("expected muted state")
	}

	f.engine.SetMuted(false)
	if !f.engine.MicrophoneActive() {
		t.Error("expected capture alive after unmute without restart")
	}
}

func TestEngineDisconnectVoidsPendingConnect(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.backend.handshakeDelay = 150 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- f.engine.Connect(context.Background(), Config{Model: "models/test"})
	}()

	// Disconnect while the handshake is still in flight.
	awaitCondition(t, time.Second, "connecting state", func() {
		return f.engine.State() == StateConnecting
	})
	f.engine.Disconnect()

	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The disconnect wins: the engine settles disconnected with the
	// microphone released, and late events must not land.
	awaitCondition(t, time.Second, "disconnected state", func() {
		return f.engine.State() == StateDisconnected
	})
	if f.engine.MicrophoneActive() {
		t.Error("expected microphone released")
	}

	f.backend.send <- `{"serverContent":{"inputTranscription":{"text":"ghost","finished":true}}}`
	time.Sleep(100 * time.Millisecond)
	if got := f.engine.Turns().Len(); got != 0 {
		t.Errorf("expected no turns from a defunct connection, got %d", got)
	}
}

func TestEngineDefineWordScenario(t *testing.T) {
	registry := tools.NewRegistry()
	err := registry.Register(tools.Tool{
		Declaration: live.FunctionDeclaration{Name: "define_word"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			word, _ := args["word"].(string)
			if word != "ephemeral" {
				return nil, fmt.Errorf("unexpected word %q", word)
			}
			return map[string]any{
				"word":       word,
				"phonetic":   "/ɪˈfɛm(ə)rəl/",
				"definition": "lasting for a very short time",
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	f := newEngineFixture(t, registry)
	f.connect(t)

	if err := f.engine.SendText("define 'ephemeral'"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	<-f.backend.recv // drain the client_content frame

	f.backend.send <- `{"toolCall":{"functionCalls":[{"id":"t1","name":"define_word","args":{"word":"ephemeral"}}]}}`

	var frame struct {
		ToolResponse struct {
			FunctionResponses []struct {
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"function_responses"`
		} `json:"tool_response"`
	}
	select {
	case data := <-f.backend.recv:
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode tool response: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool response")
	}

	got := frame.ToolResponse.FunctionResponses
	if len(got) != 1 || got[0].Name != "define_word" {
		t.Fatalf("expected one define_word response, got %+v", got)
	}
	if got[0].Response["definition"] != "lasting for a very short time" {
		t.Errorf("expected definition payload, got %v", got[0].Response)
	}

	turns := f.engine.Turns().Turns()
	if len(turns) != 2 {
		t.Fatalf("expected exactly user + system turns before any reply, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleSystem {
		t.Errorf("expected [user system], got [%s %s]", turns[0].Role, turns[1].Role)
	}
	if !strings.Contains(turns[1].Text, "define_word") {
		t.Errorf("expected system turn to name the tool, got %q", turns[1].Text)
	}
}

func TestEngineTranscriptionFlow(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.connect(t)

	f.backend.send <- `{"serverContent":{"inputTranscription":{"text":"what is ","finished":false}}}`
	f.backend.send <- `{"serverContent":{"inputTranscription":{"text":"the time","finished":true}}}`
	f.backend.send <- `{"serverContent":{"outputTranscription":{"text":"it is noon"}}}`
	f.backend.send <- `{"serverContent":{"turnComplete":true}}`

	awaitCondition(t, time.Second, "two turns", func() {
		turns := f.engine.Turns().Turns()
		return len(turns) == 2 && turns[1].IsFinal
	})

	turns := f.engine.Turns().Turns()
	if turns[0].Text != "what is the time" || !turns[0].IsFinal {
		t.Errorf("expected merged final user turn, got %+v", turns[0])
	}
	if turns[1].Role != RoleAgent || turns[1].Text != "it is noon" {
		t.Errorf("expected agent turn, got %+v", turns[1])
	}
	if !turns[0].Read {
		t.Error("expected user turn marked read")
	}
}
