package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sabia-ai/sabia/pkg/audio"
	"github.com/sabia-ai/sabia/pkg/history"
	"github.com/sabia-ai/sabia/pkg/live"
	"github.com/sabia-ai/sabia/pkg/persona"
	"github.com/sabia-ai/sabia/pkg/session"
	"github.com/sabia-ai/sabia/pkg/tools"
)

type nullSink struct{}

func (nullSink) Start(context.Context) error              { return nil }
func (nullSink) Stop() error                              { return nil }
func (nullSink) Write(context.Context, audio.Chunk) error { return nil }
func (nullSink) Clear() error                             { return nil }
func (nullSink) Config() audio.Config                     { return audio.DefaultPlaybackConfig() }
func (nullSink) Name() string                             { return "null" }
func (nullSink) Close() error                             { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	personas, err := persona.NewJSONStore(filepath.Join(dir, "personas.json"))
	if err != nil {
		t.Fatalf("persona store: %v", err)
	}
	conversations, err := history.NewJSONStore(filepath.Join(dir, "conversations.json"))
	if err != nil {
		t.Fatalf("history store: %v", err)
	}

	client, err := live.NewClient("test-key")
	if err != nil {
		t.Fatalf("live client: %v", err)
	}

	engine := session.NewEngine(
		client,
		audio.NewRecorder(audio.NewMockSource(audio.DefaultCaptureConfig())),
		audio.NewStreamer(nullSink{}),
		tools.NewRegistry(),
	)

	return NewServer(":0", Deps{
		Engine:   engine,
		Personas: personas,
		History:  conversations,
		Model:    "models/test-model",
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, int(5*time.Second/time.Millisecond))
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestSessionStatusIdle(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, http.MethodGet, "/api/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status SessionStatus
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("bad status JSON: %v", err)
	}
	if status.State != string(session.StateDisconnected) {
		t.Errorf("expected disconnected, got %q", status.State)
	}
	if status.Recording != string(session.RecordingIdle) {
		t.Errorf("expected idle recording, got %q", status.Recording)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/session/send", SendRequest{Text: "hi"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for send while disconnected, got %d", resp.StatusCode)
	}
}

func TestMuteToggle(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, http.MethodPost, "/api/session/mute", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status SessionStatus
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatal(err)
	}
	if !status.Muted {
		t.Error("expected muted after toggle")
	}

	muted := false
	_, body = doJSON(t, s, http.MethodPost, "/api/session/mute", MuteRequest{Muted: &muted})
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatal(err)
	}
	if status.Muted {
		t.Error("expected unmuted after explicit clear")
	}
}

func TestPersonaEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, http.MethodGet, "/api/personas", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var personas []persona.Persona
	if err := json.Unmarshal(body, &personas); err != nil {
		t.Fatal(err)
	}
	if len(personas) == 0 {
		t.Fatal("expected seeded personas")
	}

	resp, body = doJSON(t, s, http.MethodPost, "/api/personas", persona.Persona{
		Name: "Narrator", SystemPrompt: "You narrate.", Voice: "Kore",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 saving persona, got %d: %s", resp.StatusCode, body)
	}
	var saved persona.Persona
	if err := json.Unmarshal(body, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.ID == "" {
		t.Fatal("expected assigned persona ID")
	}

	resp, _ = doJSON(t, s, http.MethodPost, "/api/personas/"+saved.ID+"/activate", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 activating, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, s, http.MethodDelete, "/api/personas/"+saved.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 deleting, got %d", resp.StatusCode)
	}

	// Built-ins refuse deletion.
	resp, _ = doJSON(t, s, http.MethodDelete, "/api/personas/"+personas[0].ID, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 deleting built-in, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, s, http.MethodPost, "/api/personas", persona.Persona{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for nameless persona, got %d", resp.StatusCode)
	}
}

func TestConversationEndpoints(t *testing.T) {
	s := newTestServer(t)

	id, err := s.deps.History.Save("", []session.Turn{
		{Role: session.RoleUser, Text: "saved question", IsFinal: true, Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := doJSON(t, s, http.MethodGet, "/api/conversations", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var list []history.Conversation
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("expected the saved conversation, got %v", list)
	}

	resp, _ = doJSON(t, s, http.MethodPost, "/api/conversations/"+id+"/pin", PinRequest{Pinned: true})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 pinning, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, s, http.MethodGet, "/api/conversations/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var conv history.Conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		t.Fatal(err)
	}
	if !conv.Pinned {
		t.Error("expected pinned conversation")
	}

	resp, _ = doJSON(t, s, http.MethodDelete, "/api/conversations/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 deleting, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, s, http.MethodGet, "/api/conversations/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRecordingNotConfigured(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/session/record/start", nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", resp.StatusCode)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.deps.Recorder = session.NewSessionRecorder(t.TempDir())

	resp, _ := doJSON(t, s, http.MethodPost, "/api/session/record/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 starting recording, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, s, http.MethodPost, "/api/session/record/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 stopping recording, got %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	// No audio was appended, so no file was written.
	if out["path"] != "" {
		t.Errorf("expected empty path for silent take, got %q", out["path"])
	}
}

func TestDriveUnconfigured(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, http.MethodGet, "/api/drive/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status map[string]bool
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatal(err)
	}
	if status["configured"] {
		t.Error("expected drive unconfigured")
	}

	resp, _ = doJSON(t, s, http.MethodGet, "/api/drive/auth", nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", resp.StatusCode)
	}
}

func TestConnectUnknownConversation(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/session/connect", ConnectRequest{ConversationID: "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conversation, got %d", resp.StatusCode)
	}
}

func TestWebRTCUnconfigured(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/webrtc/offer", OfferRequest{SDP: "v=0"})
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(body) == 0 {
		t.Error("expected metrics exposition output")
	}
}

