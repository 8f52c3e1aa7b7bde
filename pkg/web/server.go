// Package web is the HTTP boundary the browser UI talks to: REST for
// session control, personas and history, WebRTC signaling for the audio
// path, and two websocket feeds (turn log + session state on one,
// high-frequency audio levels on the other, so level ticks never force a
// transcript refresh).
package web

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/sabia-ai/sabia/internal/log"
	"github.com/sabia-ai/sabia/internal/observability"
	"github.com/sabia-ai/sabia/pkg/audio"
	"github.com/sabia-ai/sabia/pkg/drive"
	"github.com/sabia-ai/sabia/pkg/history"
	"github.com/sabia-ai/sabia/pkg/hub"
	"github.com/sabia-ai/sabia/pkg/persona"
	"github.com/sabia-ai/sabia/pkg/session"
)

// SessionStatus is the control-plane snapshot pushed on the session feed
// and returned by GET /api/session.
type SessionStatus struct {
	State          string `json:"state"`
	Muted          bool   `json:"muted"`
	MicActive      bool   `json:"micActive"`
	Recording      string `json:"recording"`
	Error          string `json:"error,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	PersonaID      string `json:"personaId,omitempty"`
}

// levelUpdate is one tick on the level feed.
type levelUpdate struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Deps are the collaborators the server exposes over HTTP. Drive and
// Recorder are optional.
type Deps struct {
	Engine   *session.Engine
	Source   *audio.WebRTCSource
	Personas persona.Store
	History  history.Store
	Recorder *session.SessionRecorder
	Drive    *drive.Client
	Model    string
}

// Server is the UI-facing HTTP server.
type Server struct {
	app  *fiber.App
	addr string
	deps Deps

	sessionHub *hub.Hub
	levelHub   *hub.Hub

	mu             sync.Mutex
	lastErr        string
	conversationID string
	personaID      string

	levelMu   sync.Mutex
	lastLevel levelUpdate
}

// NewServer builds the server and wires the engine's observer callbacks
// into the websocket feeds. Set the engine's callbacks nowhere else.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		addr:       addr,
		deps:       deps,
		sessionHub: hub.New("session"),
		levelHub:   hub.New("levels"),
	}

	s.wireEngine()

	app := fiber.New(fiber.Config{
		AppName:               "sabia",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Static("/", "./web")

	api := app.Group("/api")
	api.Get("/session", s.handleSessionStatus)
	api.Post("/session/connect", s.handleConnect)
	api.Post("/session/disconnect", s.handleDisconnect)
	api.Post("/session/mute", s.handleMute)
	api.Post("/session/clear-error", s.handleClearError)
	api.Post("/session/send", s.handleSend)
	api.Post("/session/record/start", s.handleRecordStart)
	api.Post("/session/record/stop", s.handleRecordStop)
	api.Get("/session/turns", s.handleTurns)

	api.Post("/webrtc/offer", s.handleWebRTCOffer)
	api.Post("/webrtc/ice", s.handleWebRTCICE)

	api.Get("/personas", s.handleListPersonas)
	api.Post("/personas", s.handleSavePersona)
	api.Delete("/personas/:id", s.handleDeletePersona)
	api.Post("/personas/:id/activate", s.handleActivatePersona)

	api.Get("/conversations", s.handleListConversations)
	api.Get("/conversations/:id", s.handleGetConversation)
	api.Delete("/conversations/:id", s.handleDeleteConversation)
	api.Post("/conversations/:id/pin", s.handlePinConversation)

	api.Get("/drive/status", s.handleDriveStatus)
	api.Get("/drive/auth", s.handleDriveAuth)
	api.Get("/drive/callback", s.handleDriveCallback)
	api.Post("/drive/disconnect", s.handleDriveDisconnect)

	app.Get("/metrics", adaptor.HTTPHandler(observability.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/session", websocket.New(s.handleSessionWS))
	app.Get("/ws/levels", websocket.New(s.handleLevelsWS))

	s.app = app
	return s
}

// wireEngine points the engine's observer callbacks at the feeds.
func (s *Server) wireEngine() {
	eng := s.deps.Engine

	eng.Turns().OnChange = func(turns []session.Turn) {
		s.sessionHub.BroadcastJSON(fiber.Map{"type": "turns", "turns": turns})
	}
	eng.OnState = func(state session.State) {
		if state == session.StateConnected {
			s.setError("")
		}
		s.broadcastStatus()
	}
	eng.OnError = func(err *session.Error) {
		s.setError(err.Message)
		s.broadcastStatus()
	}
	eng.OnInputLevel = func(level float64) {
		s.levelMu.Lock()
		s.lastLevel.Input = level
		update := s.lastLevel
		s.levelMu.Unlock()
		s.levelHub.BroadcastJSON(update)
	}
	eng.OnOutputLevel = func(level float64) {
		s.levelMu.Lock()
		s.lastLevel.Output = level
		update := s.lastLevel
		s.levelMu.Unlock()
		s.levelHub.BroadcastJSON(update)
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.OnStateChanged = func(session.RecordingState) {
			s.broadcastStatus()
		}
	}
	if s.deps.Source != nil {
		s.deps.Source.OnLocalICECandidate(func(candidate webrtc.ICECandidateInit) {
			s.sessionHub.BroadcastJSON(fiber.Map{"type": "ice", "candidate": candidate})
		})
	}
}

// Start runs the hubs and listens. Blocks.
func (s *Server) Start() error {
	go s.sessionHub.Run()
	go s.levelHub.Run()
	log.Info("web server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Notify broadcasts an out-of-band event on the session feed, e.g. a
// pronunciation sample the browser should play.
func (s *Server) Notify(event string, payload any) {
	s.sessionHub.BroadcastJSON(fiber.Map{"type": event, "data": payload})
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) setError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Server) status() SessionStatus {
	s.mu.Lock()
	lastErr := s.lastErr
	convID := s.conversationID
	personaID := s.personaID
	s.mu.Unlock()

	eng := s.deps.Engine
	status := SessionStatus{
		State:          string(eng.State()),
		Muted:          eng.Muted(),
		MicActive:      eng.MicrophoneActive(),
		Recording:      string(session.RecordingIdle),
		Error:          lastErr,
		ConversationID: convID,
		PersonaID:      personaID,
	}
	if s.deps.Recorder != nil {
		status.Recording = string(s.deps.Recorder.State())
	}
	return status
}

func (s *Server) broadcastStatus() {
	s.sessionHub.BroadcastJSON(fiber.Map{"type": "status", "status": s.status()})
}
