package codegen

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
)

var _ adapter.CodeValidator = (*StaticValidator)(nil)

// StaticValidator runs cheap syntactic checks over a candidate file set
// before it is committed. It catches the failure modes generation actually
// produces: truncated output, conflict markers leaking from the model, and
// malformed JSON manifests.
type StaticValidator struct{}

func NewStaticValidator() *StaticValidator { return &StaticValidator{} }

func (v *StaticValidator) Validate(ctx context.Context, files []model.ProjectFile) ([]adapter.ValidationError, error) {
	var errs []adapter.ValidationError
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		errs = append(errs, checkFile(f)...)
	}
	return errs, nil
}

func checkFile(f model.ProjectFile) []adapter.ValidationError {
	var errs []adapter.ValidationError

	if strings.TrimSpace(f.Content) == "" {
		return append(errs, adapter.ValidationError{Path: f.Path, Message: "file is empty"})
	}

	for i, line := range strings.Split(f.Content, "\n") {
		t := strings.TrimRight(line, "\r")
		if strings.HasPrefix(t, "<<<<<<<") || strings.HasPrefix(t, ">>>>>>>") || t == "=======" {
			errs = append(errs, adapter.ValidationError{
				Path: f.Path, Line: i + 1, Message: "merge conflict marker in generated output",
			})
		}
	}

	switch strings.ToLower(path.Ext(f.Path)) {
	case ".json":
		if !json.Valid([]byte(f.Content)) {
			errs = append(errs, adapter.ValidationError{Path: f.Path, Message: "invalid JSON"})
		}
	case ".js", ".jsx", ".ts", ".tsx", ".css":
		if d := braceDepth(f.Content); d != 0 {
			errs = append(errs, adapter.ValidationError{
				Path:    f.Path,
				Message: fmt.Sprintf("unbalanced braces (depth %+d), output may be truncated", d),
			})
		}
	}
	return errs
}

// braceDepth counts curly-brace nesting, skipping string literals, template
// literals and comments. A nonzero result on a full file almost always means
// the model stopped mid-file.
func braceDepth(src string) int {
	depth := 0
	i := 0
	for i < len(src) {
		c := src[i]
		switch c {
		case '"', '\'', '`':
			i = skipString(src, i)
			continue
		case '/':
			if i+1 < len(src) {
				switch src[i+1] {
				case '/':
					for i < len(src) && src[i] != '\n' {
						i++
					}
					continue
				case '*':
					end := strings.Index(src[i+2:], "*/")
					if end < 0 {
						return depth
					}
					i += end + 4
					continue
				}
			}
		case '{':
			depth++
		case '}':
			depth--
		}
		i++
	}
	return depth
}

// skipString advances past the string literal starting at i and returns the
// index just after its closing quote.
func skipString(src string, i int) int {
	quote := src[i]
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		case '\n':
			// Normal strings don't span lines; template literals do.
			if quote != '`' {
				return i + 1
			}
		}
		i++
	}
	return i
}
