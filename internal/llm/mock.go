package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockResponse is a canned response for the MockProvider.
type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// MockProvider is a deterministic Provider for testing.
// It returns canned responses in FIFO order and records all requests.
type MockProvider struct {
	mu        sync.Mutex
	name      string
	responses []MockResponse
	fallback  *MockResponse
	available bool
	vectors   [][]float32
	embedErr  error
	Calls     []Request
	Embeds    []string
}

// NewMockProvider creates a MockProvider named "mock" with the given canned
// responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{name: "mock", responses: responses, available: true}
}

// Named sets the provider name.
func (m *MockProvider) Named(name string) *MockProvider {
	m.name = name
	return m
}

// Always makes the provider return resp once the queue is empty.
func (m *MockProvider) Always(resp MockResponse) *MockProvider {
	m.fallback = &resp
	return m
}

// SetAvailable toggles the value reported by Available.
func (m *MockProvider) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = ok
}

// AddEmbedding queues a vector for Embed.
func (m *MockProvider) AddEmbedding(vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = append(m.vectors, vec)
}

// FailEmbeddings makes Embed return err.
func (m *MockProvider) FailEmbeddings(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedErr = err
}

func (m *MockProvider) Name() string { return m.name }

// ModelID returns "mock".
func (m *MockProvider) ModelID() string { return "mock" }

func (m *MockProvider) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Generate returns the next canned response, the Always response, or
// ErrProviderUnavailable if neither exists.
func (m *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	var resp MockResponse
	switch {
	case len(m.responses) > 0:
		resp = m.responses[0]
		m.responses = m.responses[1:]
	case m.fallback != nil:
		resp = *m.fallback
	default:
		return nil, &ErrProviderUnavailable{Err: nil}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}

	return &Response{
		Content:    resp.Content,
		Usage:      resp.Usage,
		Provider:   m.name,
		Model:      "mock",
		StopReason: "end",
	}, nil
}

// Embed returns the next queued vector.
func (m *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Embeds = append(m.Embeds, text)
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if len(m.vectors) == 0 {
		return nil, ErrEmbeddingUnsupported
	}
	vec := m.vectors[0]
	m.vectors = m.vectors[1:]
	return vec, nil
}

// AddResponse appends a canned response to the queue.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// CallCount returns the number of Generate calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
