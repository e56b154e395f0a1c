package codegen

import (
	"encoding/json"
	"fmt"
	"strings"

	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
)

const (
	analyzeSystem = `You are a senior software architect. Given a user's app request,
respond with ONLY a JSON object: {"app_name", "framework", "description",
"features": [], "plan": [{"path", "purpose", "language"}], "env_vars":
[{"key", "description"}]}. The plan lists every source file the app needs.`

	generateSystem = `You are an expert developer. Generate the complete content of
exactly one file. Respond with ONLY a JSON object: {"path", "content",
"language"}. No explanations, no markdown fences around the JSON.`

	iterateSystem = `You are an expert developer modifying an existing app. Respond
with ONLY a JSON object: {"changes": [{"action": "upsert"|"delete", "path",
"content", "language"}], "summary", "env_vars_needed": [{"key",
"description"}]}. Include content for every upsert; never for deletes.`

	fixSystem = `You are an expert developer fixing validation errors. Respond with
ONLY a JSON object: {"files": [{"path", "content", "language"}], "summary",
"remaining_issues": []}. Return the full corrected content of each file you
change.`
)

func analyzeUserPrompt(message, context string) string {
	var b strings.Builder
	if context != "" {
		fmt.Fprintf(&b, "Project context:\n%s\n\n", context)
	}
	fmt.Fprintf(&b, "User request:\n%s", message)
	return b.String()
}

func generateUserPrompt(req *model.Requirements, item model.PlanItem, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "App: %s (framework: %s)\n", req.AppName, req.NormalizedFramework())
	if len(req.Features) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(req.Features, ", "))
	}
	if context != "" {
		fmt.Fprintf(&b, "\nFiles generated so far:\n%s\n", context)
	}
	fmt.Fprintf(&b, "\nGenerate the file %q. Purpose: %s", item.Path, item.Purpose)
	if item.Language != "" {
		fmt.Fprintf(&b, " (language: %s)", item.Language)
	}
	return b.String()
}

func iterateUserPrompt(message string, files []model.ProjectFile, context string) string {
	var b strings.Builder
	if context != "" {
		fmt.Fprintf(&b, "Project context:\n%s\n\n", context)
	}
	b.WriteString("Current files:\n")
	writeFileDump(&b, files)
	fmt.Fprintf(&b, "\nChange request:\n%s", message)
	return b.String()
}

func fixUserPrompt(errs []adapter.ValidationError, affected, all []model.ProjectFile) string {
	var b strings.Builder
	b.WriteString("Validation errors:\n")
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(&b, "- %s:%d: %s\n", e.Path, e.Line, e.Message)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", e.Path, e.Message)
		}
	}
	b.WriteString("\nAffected files:\n")
	writeFileDump(&b, affected)
	if len(all) > len(affected) {
		b.WriteString("\nOther project files (for reference, do not rewrite):\n")
		for _, f := range all {
			fmt.Fprintf(&b, "- %s\n", f.Path)
		}
	}
	b.WriteString("\nFix the errors.")
	return b.String()
}

func writeFileDump(b *strings.Builder, files []model.ProjectFile) {
	for _, f := range files {
		fmt.Fprintf(b, "--- %s ---\n%s\n", f.Path, f.Content)
	}
}

// decodeJSONReply parses a model reply into out, tolerating markdown code
// fences and prose around the JSON object.
func decodeJSONReply(reply string, out interface{}) error {
	raw := extractJSON(reply)
	if raw == "" {
		return fmt.Errorf("codegen: no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("codegen: decode reply: %w", err)
	}
	return nil
}

// extractJSON returns the first top-level JSON object in s, or "".
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
