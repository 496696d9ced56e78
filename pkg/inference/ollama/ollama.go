// Package ollama implements inference.Provider against a local Ollama daemon.
//
// Extraction uses /api/chat with JSON-formatted output, generation streams
// NDJSON from /api/chat, and model initialization streams pull progress from
// /api/pull. The daemon runs out of process; this client only shuttles bytes.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/papercomputeco/recall/pkg/chat"
	"github.com/papercomputeco/recall/pkg/inference"
)

// Config holds provider settings.
type Config struct {
	// BaseURL is the Ollama daemon address (default http://localhost:11434).
	BaseURL string

	// Model is the model used for chat generation when the conversation
	// doesn't name one.
	Model string

	// ExtractModel is the model used for fact extraction. Falls back to
	// Model when empty.
	ExtractModel string

	// HTTPClient overrides the default client (mainly for tests).
	HTTPClient *http.Client
}

// Provider is an Ollama-backed inference.Provider.
type Provider struct {
	config Config
	client *http.Client
}

// New creates an Ollama provider.
func New(config Config) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	client := config.HTTPClient
	if client == nil {
		// No overall timeout: pulls and generations are long-lived streams,
		// cancellation comes from the caller's context.
		client = &http.Client{}
	}
	return &Provider{config: config, client: client}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message wireMessage `json:"message"`
	Done    bool        `json:"done"`
}

const extractionSystemPrompt = `You extract durable facts about the user from a chat transcript.
Return ONLY a JSON array. Each element: {"text": string, "category": "identity"|"preference"|"project", "confidence": number 0-1, "updates_previous": bool}.
Facts must be short standalone statements about the user. Return [] if there is nothing durable.`

// ExtractFacts asks the extraction model for candidate facts.
func (p *Provider) ExtractFacts(ctx context.Context, messages []chat.Message, minConfidence float64) ([]inference.Candidate, error) {
	model := p.config.ExtractModel
	if model == "" {
		model = p.config.Model
	}

	wire := make([]wireMessage, 0, len(messages)+1)
	wire = append(wire, wireMessage{Role: chat.RoleSystem, Content: extractionSystemPrompt})
	for _, m := range messages {
		wire = append(wire, wireMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: wire, Format: "json"})
	if err != nil {
		return nil, err
	}

	resp, err := p.post(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding extraction response: %w", err)
	}

	candidates, err := parseCandidates(out.Message.Content)
	if err != nil {
		return nil, err
	}

	// Pre-filter; the memory engine filters again with its own threshold.
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Confidence >= minConfidence {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// InitializeModel pulls the model, mapping pull statuses onto progress steps.
func (p *Provider) InitializeModel(ctx context.Context, modelID string, onProgress func(inference.Progress)) error {
	if err := inference.ValidateModelID(modelID); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{"model": modelID, "stream": true})
	if err != nil {
		return err
	}

	resp, err := p.post(ctx, "/api/pull", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event struct {
			Status    string `json:"status"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.Error != "" {
			return fmt.Errorf("pulling %s: %s", modelID, event.Error)
		}

		if onProgress != nil {
			onProgress(pullProgress(event.Status, event.Total, event.Completed))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading pull stream: %w", err)
	}

	if onProgress != nil {
		onProgress(inference.Progress{Percentage: 100, Step: inference.StepReady})
	}
	return nil
}

// Generate streams chat tokens. The channel closes when the stream ends or
// the context is canceled.
func (p *Provider) Generate(ctx context.Context, messages []chat.Message) (<-chan string, error) {
	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, wireMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{Model: p.config.Model, Messages: wire, Stream: true})
	if err != nil {
		return nil, err
	}

	resp, err := p.post(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}

	tokens := make(chan string)
	go func() {
		defer close(tokens)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			var chunk chatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				select {
				case tokens <- chunk.Message.Content:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()

	return tokens, nil
}

func (p *Provider) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(p.config.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

// pullProgress maps Ollama pull statuses onto the core's progress steps.
func pullProgress(status string, total, completed int64) inference.Progress {
	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}

	switch {
	case strings.Contains(status, "success"):
		return inference.Progress{Percentage: 100, Step: inference.StepReady}
	case strings.Contains(status, "verifying"), strings.Contains(status, "writing"),
		strings.Contains(status, "loading"):
		return inference.Progress{Percentage: pct, Step: inference.StepCompiling}
	default:
		return inference.Progress{Percentage: pct, Step: inference.StepDownloading}
	}
}

// parseCandidates extracts a JSON array from model output that may be wrapped
// in code fences or prose.
func parseCandidates(content string) ([]inference.Candidate, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in extraction response")
	}

	var candidates []inference.Candidate
	if err := json.Unmarshal([]byte(content[start:end+1]), &candidates); err != nil {
		return nil, fmt.Errorf("unmarshal candidates: %w", err)
	}
	return candidates, nil
}
