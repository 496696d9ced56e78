package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/memory"
)

// AddFactRequest is the body for POST /memory/facts.
type AddFactRequest struct {
	Text           string `json:"text"`
	Category       string `json:"category"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleListFacts(c *fiber.Ctx) error {
	facts, err := s.memory.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list facts"})
	}

	return c.JSON(map[string]any{
		"count": len(facts),
		"facts": facts,
	})
}

func (s *Server) handleAddFact(c *fiber.Ctx) error {
	req := AddFactRequest{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	category := memory.Category(req.Category)
	if !category.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid category: " + req.Category})
	}

	fact, err := s.memory.Add(c.Context(), req.ConversationID, req.Text, category)
	if err != nil {
		s.logger.Error("failed to add fact", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to add fact"})
	}

	// Expiry and eviction run after every successful write.
	if _, err := s.memory.Maintain(c.Context()); err != nil {
		s.logger.Warn("memory maintenance failed", zap.Error(err))
	}

	return c.Status(fiber.StatusCreated).JSON(fact)
}

func (s *Server) handleGetFact(c *fiber.Ctx) error {
	fact, err := s.memory.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.As(err, &memory.NotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "fact not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get fact"})
	}

	return c.JSON(fact)
}

func (s *Server) handleForgetFact(c *fiber.Ctx) error {
	if err := s.memory.Forget(c.Context(), c.Params("id")); err != nil {
		if errors.As(err, &memory.NotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "fact not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to forget fact"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePinFact(c *fiber.Ctx) error {
	err := s.memory.Pin(c.Context(), c.Params("id"))
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusNoContent)
	case errors.As(err, &memory.NotFoundError{}):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "fact not found"})
	case errors.As(err, &memory.PinLimitError{}):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to pin fact"})
	}
}

func (s *Server) handleUnpinFact(c *fiber.Ctx) error {
	if err := s.memory.Unpin(c.Context(), c.Params("id")); err != nil {
		if errors.As(err, &memory.NotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "fact not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to unpin fact"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleSelection(c *fiber.Ctx) error {
	selection, err := s.memory.SelectForInjection(c.Context(), memory.SelectionQuery{
		ContextWindow:      c.QueryInt("context_window", s.config.ContextWindow),
		ConversationTokens: c.QueryInt("conversation_tokens"),
		UserMessage:        c.Query("user_message"),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to select facts"})
	}

	return c.JSON(selection)
}

func (s *Server) handleMaintain(c *fiber.Ctx) error {
	removed, err := s.memory.Maintain(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "maintenance failed"})
	}

	return c.JSON(map[string]any{"removed": removed})
}
