// Package agent supervises the external code-generation agent subprocess
//: spawn, tail its newline-delimited JSON stdout, enforce a
// wall-clock deadline with a signal-then-SIGKILL escalation, and return a
// {success, sessionId, tokens, cost, error} outcome. Session continuation
// across stages is modeled as a scoped handle: Run starts fresh,
// Resume attempts continuation by id and transparently falls back to Run
// when the agent reports the id unknown.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/forgelabs/buildworker/pkg/errs"
)

// Supervisor is the scoped AgentSession handle: run/resume both
// return a Result; resume is permitted to internally fall back to a fresh
// run when the upstream reports the session id unknown, so callers never
// need to retry for that reason alone.
type Supervisor interface {
	Run(ctx context.Context, opts RunOptions) (*Result, error)
	Resume(ctx context.Context, sessionID string, opts RunOptions) (*Result, error)
}

// RunOptions configures one supervised subprocess invocation.
type RunOptions struct {
	BinaryPath string
	Cwd string
	Prompt string
	Timeout time.Duration
	// KillGrace is how long to wait after the terminating signal before
	// SIGKILL.
	KillGrace time.Duration
}

// Result is the outcome of one Run/Resume invocation.
type Result struct {
	Success bool
	SessionID string
	Tokens int64
	CostCents int64
	TimedOut bool
	SessionNotFound bool
	Stdout string
	Stderr string
	ExitCode int
}

// ProcessSupervisor is the real os/exec-backed Supervisor wired in
// cmd/worker; the only Supervisor implementation outside test binaries
// (see DESIGN.md Open Question 3 on the mock-session bypass).
type ProcessSupervisor struct{}

// NewProcessSupervisor constructs the real supervisor.
func NewProcessSupervisor() *ProcessSupervisor { return &ProcessSupervisor{} }

// Run spawns a fresh agent session.
func (s *ProcessSupervisor) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	return s.execute(ctx, opts)
}

// Resume re-invokes the agent with a prior session id. If the agent's
// result record reports SessionNotFound, the caller's own prompt is
// unchanged and a fresh Run is issued transparently.
//
// The resume hint is passed via AGENT_RESUME_SESSION_ID in the child's
// environment, per the wire shape's agent-controlled session-id
// resumption contract: the agent decides whether the id is valid,
// the supervisor only relays it and interprets the response.
func (s *ProcessSupervisor) Resume(ctx context.Context, sessionID string, opts RunOptions) (*Result, error) {
	result, err := s.execute(ctx, opts, "AGENT_RESUME_SESSION_ID="+sessionID)
	if result != nil && result.SessionNotFound {
		slog.Warn("agent reported unknown session id, falling back to fresh session", "session_id", sessionID)
		return s.execute(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ProcessSupervisor) execute(ctx context.Context, opts RunOptions, extraEnv...string) (*Result, error) {
	if _, err := os.Stat(opts.BinaryPath); err != nil {
		return nil, errs.Wrap(errs.KindSystemConfig, "agent binary not accessible", err)
	}

	deadline := opts.Timeout
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	grace := opts.KillGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.Command(opts.BinaryPath)
	cmd.Dir = opts.Cwd
	cmd.Env = childEnv(extraEnv)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindAgentError, "failed to open agent stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindAgentError, "failed to open agent stdout", err)
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindSystemConfig, "agent binary missing", err)
		}
		if os.IsPermission(err) {
			return nil, errs.Wrap(errs.KindSystemConfig, "agent binary not executable", err)
		}
		return nil, errs.Wrap(errs.KindAgentError, "failed to start agent", err)
	}

	if _, err := io.WriteString(stdin, opts.Prompt); err != nil {
		slog.Warn("failed writing prompt to agent stdin", "error", err)
	}
	_ = stdin.Close()

	parseDone := make(chan *Result, 1)
	go func() {
		parseDone <- parseStream(stdout)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timedOut := false
	select {
	case <-runCtx.Done():
		timedOut = true
		escalate(cmd, grace)
		<-waitErr
	case err := <-waitErr:
		if err != nil && !isExitError(err) {
			return nil, errs.Wrap(errs.KindAgentError, "agent process error", err)
		}
	}

	result := <-parseDone
	result.Stderr = stderrBuf.String()
	result.TimedOut = timedOut
	result.ExitCode = exitCode(cmd)

	if timedOut {
		return result, errs.New(errs.KindAgentTimeout, fmt.Sprintf("agent exceeded %s timeout", deadline))
	}
	if result.ExitCode == 127 {
		return result, errs.New(errs.KindSystemConfig, "agent binary missing (exit 127)")
	}
	if !result.Success {
		msg := "agent reported failure"
		if result.Stderr != "" {
			msg = result.Stderr
		}
		return result, errs.New(errs.KindAgentError, msg)
	}
	return result, nil
}

// childEnv builds the subprocess environment: inherit the parent's, guarantee
// HOME is set, and append any resume hints.
func childEnv(extra []string) []string {
	env := os.Environ()
	hasHome := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "HOME=") {
			hasHome = true
			break
		}
	}
	if !hasHome {
		env = append(env, "HOME=/root")
	}
	return append(env, extra...)
}

// escalate sends a terminating signal and force-kills after grace if the
// process hasn't exited.
func escalate(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	<-timer.C
	_ = cmd.Process.Kill()
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// parseStream reads newline-delimited JSON records from the agent's stdout,
// accumulating session id, token/cost deltas, and the final result. Malformed
// lines are skipped (diagnostics live in stderr).
func parseStream(r io.Reader) *Result {
	result := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.SessionID != "" && result.SessionID == "" {
			result.SessionID = rec.SessionID
		}
		switch rec.Type {
		case recordTypeTokenDelta:
			result.Tokens += rec.Tokens
		case recordTypeCostUpdate:
			result.CostCents += rec.CostCents
		case recordTypeResult:
			if rec.Result != nil {
				result.Success = rec.Result.Success
				result.SessionNotFound = rec.Result.SessionNotFound
			}
		}
	}
	return result
}
