package inference

import (
	"context"
	"sync"

	"github.com/papercomputeco/recall/pkg/chat"
)

// Mock is a scriptable Provider for tests. Unset function fields make the
// corresponding call a successful no-op. Call counts are tracked so specs can
// assert a method was never invoked.
type Mock struct {
	mu sync.Mutex

	ExtractFactsFunc    func(ctx context.Context, messages []chat.Message, minConfidence float64) ([]Candidate, error)
	InitializeModelFunc func(ctx context.Context, modelID string, onProgress func(Progress)) error
	GenerateFunc        func(ctx context.Context, messages []chat.Message) (<-chan string, error)

	ExtractCalls    int
	InitializeCalls int
	GenerateCalls   int
}

func (m *Mock) ExtractFacts(ctx context.Context, messages []chat.Message, minConfidence float64) ([]Candidate, error) {
	m.mu.Lock()
	m.ExtractCalls++
	fn := m.ExtractFactsFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(ctx, messages, minConfidence)
}

func (m *Mock) InitializeModel(ctx context.Context, modelID string, onProgress func(Progress)) error {
	m.mu.Lock()
	m.InitializeCalls++
	fn := m.InitializeModelFunc
	m.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx, modelID, onProgress)
}

func (m *Mock) Generate(ctx context.Context, messages []chat.Message) (<-chan string, error) {
	m.mu.Lock()
	m.GenerateCalls++
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn == nil {
		ch := make(chan string)
		close(ch)
		return ch, nil
	}
	return fn(ctx, messages)
}

// Calls returns the current call counts under the mock's lock.
func (m *Mock) Calls() (extract, initialize, generate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExtractCalls, m.InitializeCalls, m.GenerateCalls
}
