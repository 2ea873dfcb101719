// Package pipeline wires the three build stages — BuildInitiator,
// StreamWorker, MetadataWorker — and the DeployWorker interface stub onto
// QueueRuntime, driving a Project through queued → building → ai_completed
// → deployed.
package pipeline

import "github.com/google/uuid"

// newID mints a build/version identifier. The data model calls for a
// lexicographically sortable 26-char id (ULID); no ULID library is reachable
// from this module's dependency set, so ids are minted with google/uuid
// instead — see DESIGN.md's ULID substitution note. Callers must not assume
// lexicographic sort order from these ids.
func newID() string {
	return uuid.NewString()
}
