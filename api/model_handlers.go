package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/inference"
	"github.com/papercomputeco/recall/pkg/model"
)

// LoadModelRequest is the body for POST /model/load.
type LoadModelRequest struct {
	ModelID string `json:"model_id"`
}

func (s *Server) handleModelState(c *fiber.Ctx) error {
	return c.JSON(s.models.Snapshot())
}

func (s *Server) handleModelLoad(c *fiber.Ctx) error {
	req := LoadModelRequest{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if err := inference.ValidateModelID(req.ModelID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	if err := s.models.Load(c.Context(), req.ModelID); err != nil {
		return s.loadError(c, req.ModelID, err)
	}

	return c.JSON(s.models.Snapshot())
}

func (s *Server) handleModelUnload(c *fiber.Ctx) error {
	s.models.Unload()
	return c.JSON(s.models.Snapshot())
}

func (s *Server) handleModelRetry(c *fiber.Ctx) error {
	if err := s.models.Retry(c.Context()); err != nil {
		snap := s.models.Snapshot()
		return s.loadError(c, snap.ModelID, err)
	}

	return c.JSON(s.models.Snapshot())
}

// handleModelEvents streams lifecycle events as Server-Sent Events.
//
// Uses io.Pipe + SetBodyStream rather than SetBodyStreamWriter: pipe writes
// block until fasthttp's chunked writer consumes them, which flushes each
// event to the socket instead of buffering.
func (s *Server) handleModelEvents(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	events, cancel := s.models.Subscribe()

	pr, pw := io.Pipe()
	go s.writeModelEvents(events, cancel, pw)

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

func (s *Server) writeModelEvents(events <-chan model.Event, cancel func(), pw *io.PipeWriter) {
	defer cancel()
	defer pw.Close()

	// Open with the current state so late subscribers aren't blind until
	// the next transition.
	if err := writeSSE(pw, "state", s.models.Snapshot()); err != nil {
		return
	}

	for event := range events {
		if err := writeSSE(pw, "event", event); err != nil {
			s.logger.Debug("model event subscriber disconnected", zap.Error(err))
			return
		}
	}
}

func writeSSE(w io.Writer, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}

// loadError maps lifecycle failures onto HTTP statuses.
func (s *Server) loadError(c *fiber.Ctx, modelID string, err error) error {
	var open model.CircuitOpenError
	if errors.As(err, &open) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(open.RetryIn.Seconds())+1))
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: open.Error()})
	}

	if errors.As(err, &model.CanceledError{}) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}

	var load model.LoadError
	if errors.As(err, &load) {
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: load.Error()})
	}

	s.logger.Error("model load failed",
		zap.String("model_id", modelID),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "model load failed"})
}
