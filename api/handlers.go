package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/chat"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/persist"
	"github.com/papercomputeco/recall/pkg/storage"
)

const idempotencyHeader = "Idempotency-Key"

// CreateConversationRequest is the body for POST /conversations.
type CreateConversationRequest struct {
	Title   string `json:"title"`
	ModelID string `json:"model_id"`
}

// SaveConversationRequest is the body for PUT /conversations/:id.
type SaveConversationRequest struct {
	Conversation    chat.Conversation `json:"conversation"`
	ExpectedVersion int64             `json:"expected_version"`
}

// AppendMessageRequest is the body for POST /conversations/:id/messages.
type AppendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConflictResponse reports a version conflict to the client.
type ConflictResponse struct {
	Error    string `json:"error"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

func (s *Server) handleListConversations(c *fiber.Ctx) error {
	convs, err := s.saver.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list conversations"})
	}

	return c.JSON(map[string]any{
		"count":         len(convs),
		"conversations": convs,
	})
}

func (s *Server) handleCreateConversation(c *fiber.Ctx) error {
	req := CreateConversationRequest{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	conv := chat.NewConversation(req.Title, req.ModelID)

	result, err := s.saver.Save(c.Context(), conv, 0, saveOpts(c)...)
	if err != nil {
		return s.saveError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result.Conversation)
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}

	conv, err := s.saver.Get(c.Context(), id)
	if err != nil {
		if errors.As(err, &storage.NotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get conversation"})
	}

	return c.JSON(conv)
}

func (s *Server) handleSaveConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	req := SaveConversationRequest{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	req.Conversation.ID = id

	result, err := s.saver.Save(c.Context(), &req.Conversation, req.ExpectedVersion, saveOpts(c)...)
	if err != nil {
		return s.saveError(c, err)
	}

	return c.JSON(result.Conversation)
}

func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.saver.Delete(c.Context(), id); err != nil {
		if errors.As(err, &storage.NotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete conversation"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleAppendMessage(c *fiber.Ctx) error {
	id := c.Params("id")
	req := AppendMessageRequest{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if !chat.ValidRole(req.Role) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid role: " + req.Role})
	}

	result, err := s.saver.SaveWithRetry(c.Context(), id, func(conv *chat.Conversation) error {
		conv.Append(chat.NewMessage(id, req.Role, req.Content))
		return nil
	}, saveOpts(c)...)
	if err != nil {
		return s.saveError(c, err)
	}

	return c.JSON(result.Conversation)
}

func (s *Server) handleExtract(c *fiber.Ctx) error {
	id := c.Params("id")

	conv, err := s.saver.Get(c.Context(), id)
	if err != nil {
		if errors.As(err, &storage.NotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get conversation"})
	}

	facts, err := s.memory.Extract(c.Context(), id, conv.Messages)
	if err != nil {
		s.logger.Warn("fact extraction failed",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "fact extraction failed"})
	}

	return c.JSON(map[string]any{
		"count": len(facts),
		"facts": facts,
	})
}

func (s *Server) handleCompact(c *fiber.Ctx) error {
	id := c.Params("id")

	conv, err := s.saver.Get(c.Context(), id)
	if err != nil {
		if errors.As(err, &storage.NotFoundError{}) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get conversation"})
	}

	userMessage := ""
	if n := len(conv.Messages); n > 0 {
		userMessage = conv.Messages[n-1].Content
	}

	result, err := s.memory.Compact(c.Context(), memory.CompactionInput{
		Messages:      conv.Messages,
		ContextWindow: s.config.ContextWindow,
		UserMessage:   userMessage,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "compaction failed"})
	}

	return c.JSON(result)
}

// saveOpts extracts per-request save options from headers.
func saveOpts(c *fiber.Ctx) []persist.SaveOption {
	if key := c.Get(idempotencyHeader); key != "" {
		return []persist.SaveOption{persist.WithIdempotencyKey(key)}
	}
	return nil
}

// saveError maps persistence failures onto HTTP statuses.
func (s *Server) saveError(c *fiber.Ctx, err error) error {
	var conflict persist.ConflictError
	if errors.As(err, &conflict) {
		return c.Status(fiber.StatusConflict).JSON(ConflictResponse{
			Error:    conflict.Error(),
			Expected: conflict.Expected,
			Actual:   conflict.Actual,
		})
	}

	var exhausted persist.ExhaustedError
	if errors.As(err, &exhausted) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: exhausted.Error()})
	}

	if errors.As(err, &storage.QuotaError{}) {
		return c.Status(fiber.StatusInsufficientStorage).JSON(ErrorResponse{Error: "storage quota exceeded"})
	}

	s.logger.Error("conversation save failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to save conversation"})
}
