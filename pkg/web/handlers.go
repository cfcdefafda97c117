package web

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-voicebox/pkg/capture"
	"github.com/teslashibe/go-voicebox/pkg/conversation"
	"github.com/teslashibe/go-voicebox/pkg/dispatch"
	"github.com/teslashibe/go-voicebox/pkg/hub"
	"github.com/teslashibe/go-voicebox/pkg/metrics"
	"github.com/teslashibe/go-voicebox/pkg/recorder"
	"github.com/teslashibe/go-voicebox/pkg/session"
)

// latencyWindow is how many finished turns /api/latency returns.
const latencyWindow = 20

// Status is the /api/status body.
type Status struct {
	Uptime   string              `json:"uptime"`
	Session  *session.Stats      `json:"session,omitempty"`
	Recorder *recorder.Stats     `json:"recorder,omitempty"`
	Capture  *capture.Stats      `json:"capture,omitempty"`
	Worker   *conversation.Stats `json:"worker,omitempty"`
	Events   *hub.Stats          `json:"events,omitempty"`
}

// Latency is the /api/latency body.
type Latency struct {
	Recent  []metrics.TurnLatency `json:"recent"`
	Average metrics.TurnLatency   `json:"average"`
}

// handleStatus returns a snapshot of every pipeline counter
func (s *Server) handleStatus(c *fiber.Ctx) error {
	st := Status{Uptime: time.Since(s.started).Round(time.Second).String()}
	src := s.cfg.Sources
	if src.Session != nil {
		v := src.Session()
		st.Session = &v
	}
	if src.Recorder != nil {
		v := src.Recorder()
		st.Recorder = &v
	}
	if src.Capture != nil {
		v := src.Capture()
		st.Capture = &v
	}
	if s.cfg.Conversation != nil {
		v := s.cfg.Conversation.Stats()
		st.Worker = &v
	}
	if s.cfg.Events != nil {
		v := s.cfg.Events.Stats()
		st.Events = &v
	}
	return c.JSON(st)
}

// handleConversation returns recent conversation
func (s *Server) handleConversation(c *fiber.Ctx) error {
	if s.cfg.Conversation == nil {
		return c.JSON([]conversation.Entry{})
	}
	return c.JSON(s.cfg.Conversation.Recent())
}

func (s *Server) handleLatency(c *fiber.Ctx) error {
	if s.cfg.Conversation == nil {
		return c.JSON(Latency{Recent: []metrics.TurnLatency{}})
	}
	tr := s.cfg.Conversation.Tracker()
	return c.JSON(Latency{Recent: tr.Recent(latencyWindow), Average: tr.Average()})
}

// handleWake stands in for the wake word detector
func (s *Server) handleWake(c *fiber.Ctx) error {
	if s.cfg.Trigger == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "manual trigger not configured")
	}
	if err := s.cfg.Trigger.TriggerWake(); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	s.logger.Info("manual wake")
	return c.JSON(fiber.Map{"triggered": "wake"})
}

// handleCommand stands in for the command matcher
func (s *Server) handleCommand(c *fiber.Ctx) error {
	if s.cfg.Trigger == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "manual trigger not configured")
	}
	id, err := c.ParamsInt("id")
	if err != nil || id < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "command id must be a non-negative integer")
	}
	s.cfg.Trigger.TriggerCommand(id)
	s.logger.Info("manual command", "id", id)
	return c.JSON(fiber.Map{"triggered": "command", "id": id})
}

// handleRestart clears the LLM context back to the system prompt
func (s *Server) handleRestart(c *fiber.Ctx) error {
	if s.cfg.Bus == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "dispatch bus not configured")
	}
	if err := s.cfg.Bus.Control.Send(dispatch.NewRestartSession()); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": dispatch.RestartSession.String()})
}
