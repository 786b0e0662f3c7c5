// Package web exposes the read-only projection of the streaming session
// to the presentation layer: connection state, analysis snapshots,
// tuning, theme and profile selection, and a websocket status push.
package web

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/Zuberverse/metadj-soundscape/pkg/analysis"
	"github.com/Zuberverse/metadj-soundscape/pkg/mapping"
	"github.com/Zuberverse/metadj-soundscape/pkg/stream"
	"github.com/Zuberverse/metadj-soundscape/pkg/theme"
)

// Deps are the collaborator hooks the server renders. The server never
// mutates session state directly; everything goes through these.
type Deps struct {
	Status     func() stream.Snapshot
	Connect    func()
	Disconnect func()

	Analysis   func() analysis.State
	Parameters func() mapping.GenerationParameters

	Tuning    func() theme.Tuning
	SetTuning func(theme.Tuning)

	Themes      func() []theme.Theme
	SelectTheme func(id string) error

	Profiles      func() []string
	SelectProfile func(name string) error
}

// Server is the local status/tuning API server.
type Server struct {
	app    *fiber.App
	addr   string
	deps   Deps
	logger *slog.Logger
}

// NewServer creates the API server on the given listen address.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		addr:   addr,
		deps:   deps,
		logger: slog.Default().With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Soundscape",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/connect", s.handleConnect)
	api.Post("/disconnect", s.handleDisconnect)
	api.Get("/analysis", s.handleAnalysis)
	api.Get("/parameters", s.handleParameters)
	api.Get("/tuning", s.handleGetTuning)
	api.Put("/tuning", s.handlePutTuning)
	api.Get("/themes", s.handleThemes)
	api.Post("/themes/:id", s.handleSelectTheme)
	api.Get("/profiles", s.handleProfiles)
	api.Post("/profiles/:name", s.handleSelectProfile)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// Start blocks serving the API.
func (s *Server) Start() error {
	s.logger.Info("status server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
