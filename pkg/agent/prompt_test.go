package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectTemplate(t *testing.T) {
	assert.Equal(t, TemplateInitialBuild, SelectTemplate(true, 1, false))
	assert.Equal(t, TemplateBareMinimum, SelectTemplate(false, 1, false))
	assert.Equal(t, TemplateResumeWithFiles, SelectTemplate(true, 2, true))
	assert.Equal(t, TemplateSpeedMode, SelectTemplate(true, 2, false))
	assert.Equal(t, TemplateSpeedMode, SelectTemplate(false, 3, false))
}

func TestBuildPrompt_IncludesExistingFilesForResumeTemplate(t *testing.T) {
	out := BuildPrompt(TemplateResumeWithFiles, "add a login page", "", []string{"index.html", "app.js"})
	assert.Contains(t, out, "add a login page")
	assert.Contains(t, out, "index.html")
	assert.Contains(t, out, "app.js")
}

func TestBuildPrompt_OmitsFileListForOtherTemplates(t *testing.T) {
	out := BuildPrompt(TemplateSpeedMode, "add a login page", "", []string{"index.html"})
	assert.NotContains(t, out, "index.html")
}

func TestErrorContextHeader_RecognizedPattern(t *testing.T) {
	out := BuildPrompt(TemplateSpeedMode, "retry", "Error: cannot find module 'react'", nil)
	assert.True(t, strings.HasPrefix(out, "Previous attempt failed with:"))
}

func TestErrorContextHeader_UnrecognizedPatternOmitted(t *testing.T) {
	out := BuildPrompt(TemplateSpeedMode, "retry", "some opaque internal error", nil)
	assert.False(t, strings.Contains(out, "Previous attempt failed with:"))
}

func TestErrorContextHeader_Empty(t *testing.T) {
	assert.Equal(t, "", errorContextHeader(""))
}

func TestErrorContextHeader_Truncated(t *testing.T) {
	long := strings.Repeat("a", maxErrorContextLen+100) + " eacces"
	out := errorContextHeader(long)
	assert.LessOrEqual(t, len(out), len("Previous attempt failed with: ")+maxErrorContextLen)
}
