package llm

import (
	"context"
	"strings"
	"sync"
)

// MockCall records one GenerateText invocation.
type MockCall struct {
	Prompt string
	Opts   Options
}

// MockHandler is a deterministic Handler for tests and offline runs. It
// routes by prompt substring first, then serves scripted responses in
// order (the last one is sticky).
type MockHandler struct {
	mu        sync.Mutex
	scripted  []string
	next      int
	byContain []mockRoute
	failWith  error
	calls     []MockCall
}

type mockRoute struct {
	substr   string
	response string
}

// NewMockHandler builds a mock serving the given responses in order.
func NewMockHandler(responses ...string) *MockHandler {
	return &MockHandler{scripted: responses}
}

// Respond routes prompts containing substr to a fixed response. Routes are
// checked in registration order before the scripted queue.
func (m *MockHandler) Respond(substr, response string) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byContain = append(m.byContain, mockRoute{substr: substr, response: response})
	return m
}

// FailWith makes every call return err until cleared with nil.
func (m *MockHandler) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls returns a copy of the recorded invocations.
func (m *MockHandler) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded invocations.
func (m *MockHandler) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GenerateText implements Handler.
func (m *MockHandler) GenerateText(ctx context.Context, prompt string, opts ...Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, Opts: o})

	if m.failWith != nil {
		return "", m.failWith
	}
	for _, r := range m.byContain {
		if strings.Contains(prompt, r.substr) {
			return r.response, nil
		}
	}
	if len(m.scripted) == 0 {
		return "ok", nil
	}
	resp := m.scripted[m.next]
	if m.next < len(m.scripted)-1 {
		m.next++
	}
	return resp, nil
}

// mockProvider adapts a MockHandler to the Provider interface so the
// dispatcher path is exercisable without network access.
type mockProvider struct {
	handler *MockHandler
}

// NewMockProvider wraps a MockHandler as a named provider.
func NewMockProvider(h *MockHandler) Provider {
	return &mockProvider{handler: h}
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return p.handler.GenerateText(ctx, prompt, func(o *Options) { *o = opts })
}
