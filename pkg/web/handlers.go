package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/sabia-ai/sabia/internal/log"
	"github.com/sabia-ai/sabia/pkg/hub"
	"github.com/sabia-ai/sabia/pkg/live"
	"github.com/sabia-ai/sabia/pkg/persona"
	"github.com/sabia-ai/sabia/pkg/session"
)

func errJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleSessionStatus returns the current control-plane snapshot.
func (s *Server) handleSessionStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// ConnectRequest selects what to connect with. Both fields are optional:
// an empty persona means the active one, an empty conversation starts
// fresh.
type ConnectRequest struct {
	PersonaID      string `json:"personaId"`
	ConversationID string `json:"conversationId"`
}

// handleConnect opens a live session with the selected persona and,
// when resuming a conversation, its replayed history. The microphone is
// started only after the connection is up.
func (s *Server) handleConnect(c *fiber.Ctx) error {
	var req ConnectRequest
	_ = c.BodyParser(&req)

	var (
		p   *persona.Persona
		err error
	)
	if req.PersonaID != "" {
		p, err = s.deps.Personas.Get(req.PersonaID)
	} else {
		p, err = s.deps.Personas.Active()
	}
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}

	cfg := session.Config{
		Model:        s.deps.Model,
		SystemPrompt: p.SystemPrompt,
		Voice:        p.Voice,
		SpeakingRate: p.SpeakingRate,
		Tools:        persona.SanitizeTools(p.Tools, persona.ModeLive),
	}
	if req.ConversationID != "" {
		conv, err := s.deps.History.Load(req.ConversationID)
		if err != nil {
			return errJSON(c, fiber.StatusNotFound, err)
		}
		cfg.History = conv.Turns
	}

	if err := s.deps.Engine.Connect(c.UserContext(), cfg); err != nil {
		return errJSON(c, fiber.StatusBadGateway, err)
	}
	if err := s.deps.Engine.StartMicrophone(c.UserContext()); err != nil {
		s.deps.Engine.Disconnect()
		return errJSON(c, fiber.StatusBadGateway, err)
	}

	s.mu.Lock()
	s.conversationID = req.ConversationID
	s.personaID = p.ID
	s.mu.Unlock()

	s.broadcastStatus()
	return c.JSON(s.status())
}

// handleDisconnect saves the conversation and tears the session down.
// Disconnecting an idle session is a no-op, not an error.
func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.mu.Lock()
	convID := s.conversationID
	s.mu.Unlock()

	turns := s.deps.Engine.Turns().Turns()
	savedID, err := s.deps.History.Save(convID, turns)
	if err != nil {
		log.Warn("conversation save failed", "err", err)
	} else {
		s.mu.Lock()
		s.conversationID = savedID
		s.mu.Unlock()
	}

	s.deps.Engine.Disconnect()
	s.broadcastStatus()
	return c.JSON(s.status())
}

// MuteRequest sets mute explicitly; absent body toggles.
type MuteRequest struct {
	Muted *bool `json:"muted"`
}

func (s *Server) handleMute(c *fiber.Ctx) error {
	var req MuteRequest
	_ = c.BodyParser(&req)

	if req.Muted != nil {
		s.deps.Engine.SetMuted(*req.Muted)
	} else {
		s.deps.Engine.SetMuted(!s.deps.Engine.Muted())
	}
	s.broadcastStatus()
	return c.JSON(s.status())
}

// handleClearError dismisses the last surfaced session error.
func (s *Server) handleClearError(c *fiber.Ctx) error {
	s.setError("")
	s.broadcastStatus()
	return c.JSON(s.status())
}

// SendRequest is a typed user message.
type SendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSend(c *fiber.Ctx) error {
	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}
	if err := s.deps.Engine.SendText(req.Text); err != nil {
		if errors.Is(err, live.ErrNotConnected) {
			return errJSON(c, fiber.StatusConflict, err)
		}
		return errJSON(c, fiber.StatusBadRequest, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleRecordStart(c *fiber.Ctx) error {
	if s.deps.Recorder == nil {
		return errJSON(c, fiber.StatusNotImplemented, errors.New("recording not configured"))
	}
	if err := s.deps.Recorder.Start(); err != nil {
		return errJSON(c, fiber.StatusConflict, err)
	}
	return c.JSON(s.status())
}

func (s *Server) handleRecordStop(c *fiber.Ctx) error {
	if s.deps.Recorder == nil {
		return errJSON(c, fiber.StatusNotImplemented, errors.New("recording not configured"))
	}
	path, err := s.deps.Recorder.Stop()
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"path": path})
}

func (s *Server) handleTurns(c *fiber.Ctx) error {
	return c.JSON(s.deps.Engine.Turns().Turns())
}

// OfferRequest carries the browser's SDP offer.
type OfferRequest struct {
	SDP string `json:"sdp"`
}

func (s *Server) handleWebRTCOffer(c *fiber.Ctx) error {
	if s.deps.Source == nil {
		return errJSON(c, fiber.StatusNotImplemented, errors.New("webrtc audio not configured"))
	}
	var req OfferRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}
	answer, err := s.deps.Source.HandleOffer(req.SDP)
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"sdp": answer})
}

// ICERequest carries one remote ICE candidate.
type ICERequest struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (s *Server) handleWebRTCICE(c *fiber.Ctx) error {
	if s.deps.Source == nil {
		return errJSON(c, fiber.StatusNotImplemented, errors.New("webrtc audio not configured"))
	}
	var req ICERequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}
	if err := s.deps.Source.AddICECandidate(req.Candidate); err != nil {
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListPersonas(c *fiber.Ctx) error {
	personas, err := s.deps.Personas.List()
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(personas)
}

func (s *Server) handleSavePersona(c *fiber.Ctx) error {
	var p persona.Persona
	if err := c.BodyParser(&p); err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}
	if p.Name == "" {
		return errJSON(c, fiber.StatusBadRequest, errors.New("persona name is required"))
	}
	p.BuiltIn = false
	if err := s.deps.Personas.Save(&p); err != nil {
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(p)
}

func (s *Server) handleDeletePersona(c *fiber.Ctx) error {
	if err := s.deps.Personas.Delete(c.Params("id")); err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleActivatePersona(c *fiber.Ctx) error {
	if err := s.deps.Personas.SetActive(c.Params("id")); err != nil {
		return errJSON(c, fiber.StatusNotFound, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListConversations(c *fiber.Ctx) error {
	list, err := s.deps.History.List()
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(list)
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	conv, err := s.deps.History.Load(c.Params("id"))
	if err != nil {
		return errJSON(c, fiber.StatusNotFound, err)
	}
	return c.JSON(conv)
}

func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	if err := s.deps.History.Delete(c.Params("id")); err != nil {
		return errJSON(c, fiber.StatusNotFound, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PinRequest pins or unpins a conversation.
type PinRequest struct {
	Pinned bool `json:"pinned"`
}

func (s *Server) handlePinConversation(c *fiber.Ctx) error {
	var req PinRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}
	if err := s.deps.History.SetPinned(c.Params("id"), req.Pinned); err != nil {
		return errJSON(c, fiber.StatusNotFound, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDriveStatus(c *fiber.Ctx) error {
	if s.deps.Drive == nil {
		return c.JSON(fiber.Map{"configured": false, "connected": false})
	}
	return c.JSON(fiber.Map{"configured": true, "connected": s.deps.Drive.IsAuthenticated()})
}

func (s *Server) handleDriveAuth(c *fiber.Ctx) error {
	if s.deps.Drive == nil {
		return errJSON(c, fiber.StatusNotImplemented, errors.New("drive not configured"))
	}
	return c.JSON(fiber.Map{"url": s.deps.Drive.AuthURL("sabia")})
}

func (s *Server) handleDriveCallback(c *fiber.Ctx) error {
	if s.deps.Drive == nil {
		return errJSON(c, fiber.StatusNotImplemented, errors.New("drive not configured"))
	}
	code := c.Query("code")
	if code == "" {
		return errJSON(c, fiber.StatusBadRequest, errors.New("missing authorization code"))
	}
	if err := s.deps.Drive.HandleCallback(c.UserContext(), code); err != nil {
		return errJSON(c, fiber.StatusBadGateway, err)
	}
	return c.Redirect("/")
}

func (s *Server) handleDriveDisconnect(c *fiber.Ctx) error {
	if s.deps.Drive == nil {
		return errJSON(c, fiber.StatusNotImplemented, errors.New("drive not configured"))
	}
	if err := s.deps.Drive.Disconnect(); err != nil {
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSessionWS feeds turn-log snapshots and status updates. The
// current snapshot is written before the client joins the broadcast set
// so it never renders from a blank slate.
func (s *Server) handleSessionWS(conn *websocket.Conn) {
	_ = conn.WriteJSON(fiber.Map{"type": "status", "status": s.status()})
	_ = conn.WriteJSON(fiber.Map{"type": "turns", "turns": s.deps.Engine.Turns().Turns()})
	hub.NewClient(s.sessionHub, conn).Run()
}

// handleLevelsWS feeds audio level ticks only.
func (s *Server) handleLevelsWS(conn *websocket.Conn) {
	hub.NewClient(s.levelHub, conn).Run()
}
