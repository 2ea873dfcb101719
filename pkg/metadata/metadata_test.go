package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/buildworker/pkg/errs"
	"github.com/forgelabs/buildworker/pkg/models"
)

func TestNextSemver_InitialMajorBuild(t *testing.T) {
	major, minor, patch, err := NextSemver(0, 0, 0, models.ChangeMajor)
	require.NoError(t, err)
	assert.Equal(t, 1, major)
	assert.Equal(t, 0, minor)
	assert.Equal(t, 0, patch)
}

func TestNextSemver_PatchBump(t *testing.T) {
	major, minor, patch, err := NextSemver(1, 2, 3, models.ChangePatch)
	require.NoError(t, err)
	assert.Equal(t, 1, major)
	assert.Equal(t, 2, minor)
	assert.Equal(t, 4, patch)
}

func TestNextSemver_MinorResetsPatch(t *testing.T) {
	major, minor, patch, err := NextSemver(1, 2, 3, models.ChangeMinor)
	require.NoError(t, err)
	assert.Equal(t, 1, major)
	assert.Equal(t, 3, minor)
	assert.Equal(t, 0, patch)
}

func TestNextSemver_UnrecognizedChangeType(t *testing.T) {
	_, _, _, err := NextSemver(1, 0, 0, models.ChangeType("rewrite"))
	require.Error(t, err)
}

func TestOrdinalDisplayName(t *testing.T) {
	assert.Equal(t, "v1", OrdinalDisplayName(1))
	assert.Equal(t, "v12", OrdinalDisplayName(12))
}

func TestParseRecommendations_Valid(t *testing.T) {
	raw := []byte(`{
		"summary": "Consider adding a contact form",
		"items": [{"title": "Contact form", "description": "Add a way to reach you", "category": "feature"}],
		"version": {"change_type": "minor"}
	}`)
	rec, err := ParseRecommendations(raw)
	require.NoError(t, err)
	assert.Equal(t, "Consider adding a contact form", rec.Summary)
	assert.Len(t, rec.Items, 1)
	assert.Equal(t, models.ChangeMinor, rec.Version.ChangeType)
}

func TestParseRecommendations_MalformedJSON(t *testing.T) {
	_, err := ParseRecommendations([]byte(`not json`))
	require.Error(t, err)
	var be *errs.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, errs.KindSchemaDrift, be.Kind)
	assert.False(t, be.Kind.TripsLimitController())
}

func TestParseRecommendations_MissingSummary(t *testing.T) {
	raw := []byte(`{"version": {"change_type": "patch"}}`)
	_, err := ParseRecommendations(raw)
	require.Error(t, err)
}

func TestParseRecommendations_InvalidChangeType(t *testing.T) {
	raw := []byte(`{"summary": "x", "version": {"change_type": "rewrite"}}`)
	_, err := ParseRecommendations(raw)
	require.Error(t, err)
}

func TestParseRecommendations_MissingItemTitle(t *testing.T) {
	raw := []byte(`{"summary": "x", "items": [{"description": "no title"}], "version": {"change_type": "patch"}}`)
	_, err := ParseRecommendations(raw)
	require.Error(t, err)
}
