package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
)

// RecommendationItem is one suggested follow-up surfaced to the user.
type RecommendationItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Recommendations is the metadata stage's recommendations.json record.
type Recommendations struct {
	Summary string                `json:"summary"`
	Items   []RecommendationItem `json:"items"`
	Version VersionBump          `json:"version"`
}

// VersionBump is the change_type the agent reports for this build's
// recommendations record; NextSemver derives (major, minor, patch) from it.
type VersionBump struct {
	ChangeType models.ChangeType `json:"change_type"`
}

// ParseRecommendations decodes and validates raw against the recommendations
// schema. A structurally malformed or incomplete record is reported as
// errs.KindSchemaDrift — advisory, never fatal to the build.
func ParseRecommendations(raw []byte) (*Recommendations, error) {
	var rec Recommendations
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errs.Wrap(errs.KindSchemaDrift, "recommendations record is not valid JSON", err)
	}
	if err := rec.validate(); err != nil {
		return nil, errs.Wrap(errs.KindSchemaDrift, "recommendations record failed schema validation", err)
	}
	return &rec, nil
}

func (r *Recommendations) validate() error {
	if r.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	switch r.Version.ChangeType {
	case models.ChangeMajor, models.ChangeMinor, models.ChangePatch:
	default:
		return fmt.Errorf("version.change_type must be one of major, minor, patch, got %q", r.Version.ChangeType)
	}
	for i, item := range r.Items {
		if item.Title == "" {
			return fmt.Errorf("items[%d].title is required", i)
		}
	}
	return nil
}
