package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu sync.Mutex
	lastOrphanScan time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned (stale-locked) jobs.
// All pods run this independently — ReclaimOrphans is idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.detectAndRecoverOrphans(ctx)
		}
	}
}

// detectAndRecoverOrphans requeues (or fails, if attempts are exhausted) any
// job whose lock has gone stale beyond OrphanThreshold — the crashed/stuck
// worker recovery under the shared-resource policy.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) {
	n, err := p.storage.ReclaimOrphans(ctx, p.config.OrphanThreshold)
	if err != nil {
		slog.Error("orphan detection failed", "queue", p.queue, "error", err)
		return
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += n
	p.orphans.mu.Unlock()

	if n > 0 {
		slog.Warn("reclaimed orphaned jobs", "queue", p.queue, "count", n)
	}
}
