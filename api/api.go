package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/model"
	"github.com/papercomputeco/recall/pkg/persist"
)

// ErrorResponse is the uniform JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the API server for the recall system.
type Server struct {
	config Config
	saver  *persist.Saver
	memory *memory.Engine
	models *model.Engine
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The persistence, memory, and model engines are injected so they can be
// shared with CLI commands running in the same process.
func NewServer(config Config, saver *persist.Saver, mem *memory.Engine, models *model.Engine, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		saver:  saver,
		memory: mem,
		models: models,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	app.Get("/conversations", s.handleListConversations)
	app.Post("/conversations", s.handleCreateConversation)
	app.Get("/conversations/:id", s.handleGetConversation)
	app.Put("/conversations/:id", s.handleSaveConversation)
	app.Delete("/conversations/:id", s.handleDeleteConversation)
	app.Post("/conversations/:id/messages", s.handleAppendMessage)
	app.Post("/conversations/:id/extract", s.handleExtract)
	app.Post("/conversations/:id/compact", s.handleCompact)

	app.Get("/memory/facts", s.handleListFacts)
	app.Post("/memory/facts", s.handleAddFact)
	app.Get("/memory/facts/:id", s.handleGetFact)
	app.Delete("/memory/facts/:id", s.handleForgetFact)
	app.Post("/memory/facts/:id/pin", s.handlePinFact)
	app.Post("/memory/facts/:id/unpin", s.handleUnpinFact)
	app.Get("/memory/selection", s.handleSelection)
	app.Post("/memory/maintain", s.handleMaintain)

	app.Get("/model/state", s.handleModelState)
	app.Post("/model/load", s.handleModelLoad)
	app.Post("/model/unload", s.handleModelUnload)
	app.Post("/model/retry", s.handleModelRetry)
	app.Get("/model/events", s.handleModelEvents)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}
