package web

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/Zuberverse/metadj-soundscape/pkg/theme"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.deps.Status())
}

func (s *Server) handleConnect(c *fiber.Ctx) error {
	s.deps.Connect()
	return c.JSON(fiber.Map{"status": "connecting"})
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.deps.Disconnect()
	return c.JSON(fiber.Map{"status": "disconnected"})
}

func (s *Server) handleAnalysis(c *fiber.Ctx) error {
	return c.JSON(s.deps.Analysis())
}

func (s *Server) handleParameters(c *fiber.Ctx) error {
	return c.JSON(s.deps.Parameters())
}

func (s *Server) handleGetTuning(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"tuning": s.deps.Tuning(),
		"bounds": theme.TuningBounds,
	})
}

func (s *Server) handlePutTuning(c *fiber.Ctx) error {
	var t theme.Tuning
	if err := c.BodyParser(&t); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	// Clamped downstream; echo back what actually took effect.
	s.deps.SetTuning(t)
	return c.JSON(fiber.Map{"tuning": s.deps.Tuning()})
}

func (s *Server) handleThemes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"themes": s.deps.Themes()})
}

func (s *Server) handleSelectTheme(c *fiber.Ctx) error {
	if err := s.deps.SelectTheme(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "selected"})
}

func (s *Server) handleProfiles(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"profiles": s.deps.Profiles()})
}

func (s *Server) handleSelectProfile(c *fiber.Ctx) error {
	if err := s.deps.SelectProfile(c.Params("name")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "selected"})
}

// statusPushInterval is the cadence of the websocket status push.
const statusPushInterval = 250 * time.Millisecond

// statusFrame is one websocket push payload.
type statusFrame struct {
	Status     any `json:"status"`
	Analysis   any `json:"analysis"`
	Parameters any `json:"parameters"`
}

// handleStatusWS pushes status/analysis snapshots until the client
// goes away.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			frame := statusFrame{
				Status:     s.deps.Status(),
				Analysis:   s.deps.Analysis(),
				Parameters: s.deps.Parameters(),
			}
			if err := c.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
