// Package inference defines the contract between the chat core and the
// token-generation backend. The backend is an external collaborator; this
// package owns only the interface, its wire types, and error classification.
package inference

import (
	"context"
	"strings"

	"github.com/papercomputeco/recall/pkg/chat"
)

// Step labels for model initialization progress events.
const (
	StepDownloading = "downloading"
	StepCompiling   = "compiling"
	StepReady       = "ready"
)

// Progress is a model initialization progress event.
type Progress struct {
	// Percentage is 0-100.
	Percentage float64 `json:"percentage"`

	// Step is one of StepDownloading, StepCompiling, StepReady.
	Step string `json:"step"`
}

// Candidate is a structured fact-extraction result entry. Candidates are
// unvalidated; the memory engine discards malformed ones.
type Candidate struct {
	Text            string  `json:"text"`
	Category        string  `json:"category"`
	Confidence      float64 `json:"confidence"`
	UpdatesPrevious bool    `json:"updates_previous"`
}

// Provider is the inference backend consumed by the memory and model engines.
// Implementations must honor context cancellation on every call.
type Provider interface {
	// ExtractFacts asks the backend for candidate facts about the user given
	// recent conversation messages. Candidates below minConfidence may be
	// filtered by the backend; the memory engine filters again regardless.
	ExtractFacts(ctx context.Context, messages []chat.Message, minConfidence float64) ([]Candidate, error)

	// InitializeModel loads the given model, reporting download/compile
	// progress through onProgress. Blocks until the model is ready or the
	// context is canceled.
	InitializeModel(ctx context.Context, modelID string, onProgress func(Progress)) error

	// Generate streams response tokens for the given messages. The returned
	// channel is closed when generation completes or the context is canceled.
	Generate(ctx context.Context, messages []chat.Message) (<-chan string, error)
}

// InvalidModelError indicates a malformed model id. Never retried.
type InvalidModelError struct {
	ModelID string
}

func (e InvalidModelError) Error() string {
	return "invalid model id: " + e.ModelID
}

// ValidateModelID rejects obviously malformed model identifiers before any
// network or disk work happens.
func ValidateModelID(modelID string) error {
	if strings.TrimSpace(modelID) == "" || strings.ContainsAny(modelID, " \t\n") {
		return InvalidModelError{ModelID: modelID}
	}
	return nil
}
