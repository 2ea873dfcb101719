// Package agenttest provides a scripted agent.Supervisor double for tests.
// It lives outside pkg/agent and is imported only from _test.go files, so
// the mock session bypass never reaches a production binary (see
// DESIGN.md Open Question 3).
package agenttest

import (
	"context"
	"sync"

	"github.com/forgelabs/buildworker/pkg/agent"
)

// Scripted is a Supervisor whose Run/Resume results are pre-programmed,
// one per call in order; the last result repeats once exhausted.
type Scripted struct {
	mu      sync.Mutex
	results []ScriptedCall
	calls   int
}

// ScriptedCall is one canned Run/Resume outcome.
type ScriptedCall struct {
	Result *agent.Result
	Err    error
}

// NewScripted builds a Scripted supervisor that returns calls in sequence.
func NewScripted(calls ...ScriptedCall) *Scripted {
	return &Scripted{results: calls}
}

func (s *Scripted) next() ScriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return ScriptedCall{Result: &agent.Result{Success: true, SessionID: "mock_session_scripted"}}
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx]
}

func (s *Scripted) Run(ctx context.Context, opts agent.RunOptions) (*agent.Result, error) {
	call := s.next()
	return call.Result, call.Err
}

func (s *Scripted) Resume(ctx context.Context, sessionID string, opts agent.RunOptions) (*agent.Result, error) {
	call := s.next()
	return call.Result, call.Err
}

// CallCount returns how many Run/Resume invocations have occurred.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ agent.Supervisor = (*Scripted)(nil)
