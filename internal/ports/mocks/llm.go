// Package mocks provides deterministic test doubles for the capability
// ports.
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/emooreatx/cirisagent/internal/ports"
)

// Responder fills responseModel for one scripted LLM call.
type Responder func(messages []ports.Message, responseModel any) error

// RespondJSON returns a Responder that unmarshals the given JSON into the
// response model.
func RespondJSON(raw string) Responder {
	return func(_ []ports.Message, responseModel any) error {
		return json.Unmarshal([]byte(raw), responseModel)
	}
}

// RespondError returns a Responder that fails with err.
func RespondError(err error) Responder {
	return func(_ []ports.Message, _ any) error {
		return err
	}
}

// MockLLM replays a script of responders. When the script is exhausted the
// Default responder (if any) keeps answering; otherwise calls fail.
type MockLLM struct {
	mu      sync.Mutex
	script  []Responder
	Default Responder
	Calls   int
	Usage   ports.ResourceUsage
}

// NewMockLLM builds a client that replays the given responders in order.
func NewMockLLM(script ...Responder) *MockLLM {
	return &MockLLM{script: script}
}

// Enqueue appends responders to the script.
func (m *MockLLM) Enqueue(script ...Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, script...)
}

// CallStructured implements ports.LLMClient.
func (m *MockLLM) CallStructured(ctx context.Context, messages []ports.Message, responseModel any, _ ports.StructuredOptions) (ports.ResourceUsage, error) {
	if err := ctx.Err(); err != nil {
		return ports.ResourceUsage{}, err
	}

	m.mu.Lock()
	m.Calls++
	var responder Responder
	if len(m.script) > 0 {
		responder = m.script[0]
		m.script = m.script[1:]
	} else {
		responder = m.Default
	}
	usage := m.Usage
	m.mu.Unlock()

	if responder == nil {
		return ports.ResourceUsage{}, fmt.Errorf("mock llm: script exhausted after %d calls", m.Calls)
	}
	if err := responder(messages, responseModel); err != nil {
		return ports.ResourceUsage{}, err
	}
	return usage, nil
}

var _ ports.LLMClient = (*MockLLM)(nil)
