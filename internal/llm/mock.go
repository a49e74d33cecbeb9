package llm

import (
	"context"
	"fmt"
	"sync"
)

// Scripted replays a fixed sequence of responses. It is used by tests and by
// the CLI --dry-run mode, where determinism matters more than realism.
type Scripted struct {
	ModelName string
	// UsagePerCall is attached to every response so cost accounting paths
	// stay exercised under test.
	UsagePerCall TokenUsage

	mu        sync.Mutex
	responses []string
	calls     int
	// Script may be set instead of responses to pick a reply per request.
	Script func(req CompletionRequest) (string, error)
}

// NewScripted builds a scripted client that replays responses in order and
// repeats the final response once exhausted.
func NewScripted(model string, responses ...string) *Scripted {
	return &Scripted{ModelName: model, responses: responses}
}

// Complete returns the next scripted response.
func (s *Scripted) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.Script != nil {
		content, err := s.Script(req)
		if err != nil {
			return nil, err
		}
		return &CompletionResponse{Content: content, StopReason: "stop", Usage: s.UsagePerCall}, nil
	}

	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scripted client has no responses")
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return &CompletionResponse{Content: s.responses[idx], StopReason: "stop", Usage: s.UsagePerCall}, nil
}

// Model returns the scripted model name.
func (s *Scripted) Model() string {
	if s.ModelName == "" {
		return "scripted"
	}
	return s.ModelName
}

// Calls returns how many completions were served.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
