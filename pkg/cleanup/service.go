// Package cleanup runs the worker plane's background retention pass.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgelabs/buildworker/pkg/config"
	"github.com/forgelabs/buildworker/pkg/store"
)

// Service periodically enforces retention policies:
//   - Deletes Checkpoint rows belonging to builds that already reached a
//     terminal status, once they're older than CheckpointRetention.
//   - Reaps AgentSession rows stuck in spawning/running past
//     StaleSessionTimeout — the crash-recovery path for a worker pod that
//     died mid-attempt.
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config        *config.RetentionConfig
	checkpoints   *store.CheckpointStore
	agentSessions *store.AgentSessionStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(
	cfg *config.RetentionConfig,
	checkpoints *store.CheckpointStore,
	agentSessions *store.AgentSessionStore,
) *Service {
	return &Service{
		config:        cfg,
		checkpoints:   checkpoints,
		agentSessions: agentSessions,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started",
		"checkpoint_retention", s.config.CheckpointRetention,
		"stale_session_timeout", s.config.StaleSessionTimeout,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldCheckpoints(ctx)
	s.reapStaleAgentSessions(ctx)
}

func (s *Service) deleteOldCheckpoints(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.CheckpointRetention)
	count, err := s.checkpoints.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention: checkpoint cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: deleted old checkpoints", "count", count)
	}
}

func (s *Service) reapStaleAgentSessions(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.StaleSessionTimeout)
	count, err := s.agentSessions.ReapStale(ctx, cutoff)
	if err != nil {
		slog.Error("retention: stale agent session reap failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: reaped stale agent sessions", "count", count)
	}
}
