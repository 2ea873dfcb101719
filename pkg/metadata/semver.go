// Package metadata implements MetadataWorker's two self-contained concerns:
// parsing and validating the agent's recommendations record, and computing
// the next semantic version from a change-type bump.
package metadata

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/forgelabs/buildworker/pkg/models"
)

// NextSemver advances (prevMajor, prevMinor, prevPatch) by changeType. The
// very first version of a project bumps from 0.0.0, so an initial build's
// changeType of "major" yields 1.0.0.
func NextSemver(prevMajor, prevMinor, prevPatch int, changeType models.ChangeType) (major, minor, patch int, err error) {
	prev, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", prevMajor, prevMinor, prevPatch))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse previous version: %w", err)
	}

	var next semver.Version
	switch changeType {
	case models.ChangeMajor:
		next = prev.IncMajor()
	case models.ChangeMinor:
		next = prev.IncMinor()
	case models.ChangePatch:
		next = prev.IncPatch()
	default:
		return 0, 0, 0, fmt.Errorf("unrecognized change type %q", changeType)
	}

	return int(next.Major()), int(next.Minor()), int(next.Patch()), nil
}

// OrdinalDisplayName formats the sequential "vN" label assigned at creation
// time — independent of the semver triple, never overwritten once a
// promotion assigns a semantic label.
func OrdinalDisplayName(count int) string {
	return fmt.Sprintf("v%d", count)
}
