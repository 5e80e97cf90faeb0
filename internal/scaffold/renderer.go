package scaffold

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Renderer is the external rendering engine collaborator: an opaque function
// from a template name and a fully-validated context to rendered text. The
// engine does not reimplement template rendering semantics.
type Renderer interface {
	Render(templateName string, context map[string]any) (string, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(templateName string, context map[string]any) (string, error)

func (f RendererFunc) Render(templateName string, context map[string]any) (string, error) {
	return f(templateName, context)
}

// BasicRenderer is a deliberately minimal stand-in so the CLI and tests work
// end to end without a full template engine: variable substitution with
// dotted lookup and the default filter, truthiness if-blocks, and for-loops
// over slices. Inheritance blocks and macros are not interpreted; production
// callers supply a real engine behind Renderer.
type BasicRenderer struct {
	source func(templateName string) (string, error)
}

// NewBasicRenderer creates a renderer that fetches template sources through
// the given lookup (typically Store.Load + Node.Source).
func NewBasicRenderer(source func(templateName string) (string, error)) *BasicRenderer {
	return &BasicRenderer{source: source}
}

var (
	exprRe    = regexp.MustCompile(`\{\{-?\s*(.*?)\s*-?\}\}`)
	ifBlockRe = regexp.MustCompile(`(?s)\{%-?\s*if\s+([A-Za-z_][A-Za-z0-9_]*)\s*-?%\}(.*?)\{%-?\s*endif\s*-?%\}`)
	forRe     = regexp.MustCompile(`(?s)\{%-?\s*for\s+([A-Za-z_][A-Za-z0-9_]*)\s+in\s+([A-Za-z_][A-Za-z0-9_.]*)\s*-?%\}(.*?)\{%-?\s*endfor\s*-?%\}`)
	stripRe   = regexp.MustCompile(`\{%-?\s*.*?\s*-?%\}\n?`)
	commentRe = regexp.MustCompile(`(?s)\{#.*?#\}\n?`)
	defaultRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\s*\|\s*default\(\s*(?:"([^"]*)"|'([^']*)')\s*\)$`)
	lookupRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

func (r *BasicRenderer) Render(templateName string, context map[string]any) (string, error) {
	source, err := r.source(templateName)
	if err != nil {
		return "", err
	}
	return r.renderText(source, context), nil
}

func (r *BasicRenderer) renderText(text string, context map[string]any) string {
	// Comments (including embedded metadata blocks) never reach the output.
	text = commentRe.ReplaceAllString(text, "")

	// Conditionals first so unset branches disappear before substitution.
	for i := 0; i < 8; i++ {
		replaced := ifBlockRe.ReplaceAllStringFunc(text, func(m string) string {
			parts := ifBlockRe.FindStringSubmatch(m)
			if truthy(lookup(context, parts[1])) {
				return parts[2]
			}
			return ""
		})
		if replaced == text {
			break
		}
		text = replaced
	}

	text = forRe.ReplaceAllStringFunc(text, func(m string) string {
		parts := forRe.FindStringSubmatch(m)
		items := asSlice(lookup(context, parts[2]))
		var sb strings.Builder
		for _, item := range items {
			scoped := make(map[string]any, len(context)+1)
			for k, v := range context {
				scoped[k] = v
			}
			scoped[parts[1]] = item
			sb.WriteString(r.renderText(parts[3], scoped))
		}
		return sb.String()
	})

	text = exprRe.ReplaceAllStringFunc(text, func(m string) string {
		expr := strings.TrimSpace(exprRe.FindStringSubmatch(m)[1])

		if dm := defaultRe.FindStringSubmatch(expr); dm != nil {
			if v := lookup(context, dm[1]); v != nil {
				return stringify(v)
			}
			if dm[2] != "" {
				return dm[2]
			}
			return dm[3]
		}
		if lookupRe.MatchString(expr) {
			if v := lookup(context, expr); v != nil {
				return stringify(v)
			}
			return ""
		}
		return "" // unsupported expression forms render empty
	})

	// Remaining structural tags (extends, import, block markers) vanish.
	return stripRe.ReplaceAllString(text, "")
}

// lookup resolves a dotted path against the context.
func lookup(context map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = context
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case float64:
		return val != 0
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map {
			return rv.Len() > 0
		}
		return true
	}
}

func asSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
