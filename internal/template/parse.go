package template

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Directive grammar. Tags are line-oriented; a tag never spans lines.
var (
	tagRe       = regexp.MustCompile(`\{%-?\s*(.*?)\s*-?%\}`)
	quotedRe    = regexp.MustCompile(`^"([^"]*)"$|^'([^']*)'$`)
	identRe     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	macroNameRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
)

const (
	sidecarOpen  = "{#---"
	sidecarClose = "---#}"
)

// parseSource derives a Node's structural facts from raw template source.
// The sidecar argument carries metadata from a co-located meta.yaml file;
// when nil, an embedded {#--- ... ---#} block is consulted instead.
func parseSource(name, path, source string, sidecar *Sidecar) (*Node, error) {
	node := &Node{
		Name:        name,
		Path:        path,
		Source:      source,
		Fingerprint: fingerprint(source),
	}

	embedded, err := extractEmbeddedSidecar(path, source)
	if err != nil {
		return nil, err
	}
	switch {
	case sidecar != nil:
		node.Meta = *sidecar
	case embedded != nil:
		node.Meta = *embedded
	}

	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		for _, m := range tagRe.FindAllStringSubmatch(line, -1) {
			if err := parseTag(node, path, lineNo, m[1]); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("read failed: %v", err)}
	}

	return node, nil
}

// parseTag records extends/import/block/macro directives. Unknown tag
// keywords (if, for, set, ...) are template language, not structure, and are
// ignored here; the introspector scans them separately.
func parseTag(node *Node, path string, line int, body string) error {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "extends":
		if len(fields) != 2 {
			return &MalformedError{Path: path, Line: line, Reason: fmt.Sprintf("extends expects one quoted target, got %q", body)}
		}
		target, ok := unquote(fields[1])
		if !ok {
			return &MalformedError{Path: path, Line: line, Reason: fmt.Sprintf("extends target must be a quoted string, got %s", fields[1])}
		}
		if target == "" {
			return &MalformedError{Path: path, Line: line, Reason: "extends target is empty"}
		}
		if node.Parent != "" {
			return &MalformedError{Path: path, Line: line, Reason: fmt.Sprintf("duplicate extends (already extends %q)", node.Parent)}
		}
		node.Parent = target

	case "import":
		// import "path" as alias
		if len(fields) != 4 || fields[2] != "as" {
			return &MalformedError{Path: path, Line: line, Reason: fmt.Sprintf("import expects %q, got %q", `import "path" as alias`, body)}
		}
		target, ok := unquote(fields[1])
		if !ok {
			return &MalformedError{Path: path, Line: line, Reason: fmt.Sprintf("import target must be a quoted string, got %s", fields[1])}
		}
		alias := fields[3]
		if !identRe.MatchString(alias) {
			return &MalformedError{Path: path, Line: line, Reason: fmt.Sprintf("import alias %q is not an identifier", alias)}
		}
		node.Imports = append(node.Imports, Import{Path: target, Alias: alias})

	case "block":
		if len(fields) < 2 || !identRe.MatchString(fields[1]) {
			return &MalformedError{Path: path, Line: line, Reason: fmt.Sprintf("block expects an identifier, got %q", body)}
		}
		node.Blocks = append(node.Blocks, fields[1])

	case "macro":
		rest := strings.TrimSpace(strings.TrimPrefix(body, "macro"))
		m := macroNameRe.FindStringSubmatch(rest)
		if m == nil {
			return &MalformedError{Path: path, Line: line, Reason: fmt.Sprintf("macro expects name(args), got %q", body)}
		}
		node.Macros = append(node.Macros, m[1])
	}

	return nil
}

// extractEmbeddedSidecar parses a {#--- yaml ---#} block at the top of the
// source. Only leading blank lines may precede it.
func extractEmbeddedSidecar(path, source string) (*Sidecar, error) {
	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inBlock := false
	openLine := 0
	lineNo := 0
	var body []string
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if !inBlock {
			if trimmed == "" {
				continue
			}
			if trimmed != sidecarOpen {
				return nil, nil // no embedded sidecar
			}
			inBlock = true
			openLine = lineNo
			continue
		}
		if trimmed == sidecarClose {
			var sc Sidecar
			if err := yaml.Unmarshal([]byte(strings.Join(body, "\n")), &sc); err != nil {
				return nil, &MalformedError{Path: path, Line: openLine, Reason: fmt.Sprintf("invalid sidecar yaml: %v", err)}
			}
			return &sc, nil
		}
		body = append(body, line)
	}
	if inBlock {
		return nil, &MalformedError{Path: path, Line: openLine, Reason: "unterminated sidecar block"}
	}
	return nil, nil
}

func unquote(s string) (string, bool) {
	m := quotedRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if m[1] != "" || strings.HasPrefix(s, `"`) {
		return m[1], true
	}
	return m[2], true
}
