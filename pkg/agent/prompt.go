package agent

import "strings"

// Template names the four prompt templates SelectTemplate chooses between.
type Template string

const (
	TemplateInitialBuild Template = "initial-build"
	TemplateResumeWithFiles Template = "resume-with-files"
	TemplateSpeedMode Template = "speed-mode"
	TemplateBareMinimum Template = "bare-minimum"
)

// SelectTemplate resolves the template for an attempt. Attempt 1 gets
// initial-build when isInitialBuild is set and bare-minimum otherwise,
// whatever hasExistingFiles says. From attempt 2 on, hasExistingFiles=true
// gets resume-with-files and hasExistingFiles=false gets speed-mode.
func SelectTemplate(isInitialBuild bool, attempt int, hasExistingFiles bool) Template {
	if attempt <= 1 {
		if isInitialBuild {
			return TemplateInitialBuild
		}
		return TemplateBareMinimum
	}
	if hasExistingFiles {
		return TemplateResumeWithFiles
	}
	return TemplateSpeedMode
}

// promptBodies holds the fixed instructional text per template. Only the
// scaffolding differs by template; the caller's actual user prompt and any
// previous-error-context header are prepended/appended by BuildPrompt.
var promptBodies = map[Template]string{
	TemplateInitialBuild: "You are generating a brand new web application from scratch. Produce a complete, runnable project.",
	TemplateResumeWithFiles: "Continue the existing project. Files already present are listed below; extend and fix them, do not start over.",
	TemplateSpeedMode: "Retry quickly with a minimal viable change set. Prior attempt(s) ran out of time; favor a small, working result over completeness.",
	TemplateBareMinimum: "Produce the smallest possible working scaffold satisfying the request.",
}

// maxErrorContextLen bounds the "previous error context" header per the
// propagation policy ("bounded length").
const maxErrorContextLen = 500

// BuildPrompt assembles the final prompt text sent on the agent's stdin:
// an optional previous-error-context header, the template's fixed
// scaffolding, the caller's prompt, and (for resume-with-files) the list of
// pre-existing files.
func BuildPrompt(tmpl Template, userPrompt, lastError string, existingFiles []string) string {
	var b strings.Builder

	if ctx := errorContextHeader(lastError); ctx != "" {
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}

	b.WriteString(promptBodies[tmpl])
	b.WriteString("\n\n")
	b.WriteString(userPrompt)

	if tmpl == TemplateResumeWithFiles && len(existingFiles) > 0 {
		b.WriteString("\n\nFiles already present:\n")
		for _, f := range existingFiles {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// recognizedErrorPatterns are the prior-failure signatures the prompt builder
// names as worth surfacing to the next attempt's prompt.
var recognizedErrorPatterns = []string{
	"package.json",
	"cannot find module",
	"module not found",
	"eacces",
	"permission denied",
}

// errorContextHeader builds the one-line "previous error context" summary,
// only when lastError matches a recognized pattern and is
// non-empty; otherwise returns "".
func errorContextHeader(lastError string) string {
	if lastError == "" {
		return ""
	}
	lower := strings.ToLower(lastError)
	recognized := false
	for _, p := range recognizedErrorPatterns {
		if strings.Contains(lower, p) {
			recognized = true
			break
		}
	}
	if !recognized {
		return ""
	}
	truncated := lastError
	if len(truncated) > maxErrorContextLen {
		truncated = truncated[:maxErrorContextLen]
	}
	return "Previous attempt failed with: " + truncated
}
