package scaffold

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Header is the two-line provenance stamp at the top of every generated
// artifact: the output path, then template/version/timestamps. The field
// layout is fixed; only the comment syntax adapts to the target format.
type Header struct {
	OutputPath   string
	ArtifactType string
	Hash         string
	Created      time.Time
	Updated      time.Time // zero when never updated
}

// timeLayout is ISO-8601 UTC at minute precision.
const timeLayout = "2006-01-02T15:04Z"

// commentStyle returns the open/close comment markers for a target path's
// format.
func commentStyle(path string) (open, closing string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go", ".c", ".h", ".cpp", ".js", ".ts", ".rs", ".java", ".proto":
		return "//", ""
	case ".md", ".html", ".htm", ".xml", ".svg":
		return "<!--", "-->"
	default:
		// Script-like formats: py, sh, yaml, toml, rb, tf, Makefile...
		return "#", ""
	}
}

// Render produces the two header lines followed by a newline.
func (h *Header) Render() string {
	open, closing := commentStyle(h.OutputPath)

	updated := ""
	if !h.Updated.IsZero() {
		updated = h.Updated.UTC().Format(timeLayout)
	}
	fields := fmt.Sprintf("template=%s version=%s created=%s updated=%s",
		h.ArtifactType, h.Hash, h.Created.UTC().Format(timeLayout), updated)

	line1 := strings.TrimSpace(open + " " + h.OutputPath)
	line2 := strings.TrimSpace(open + " " + fields)
	if closing != "" {
		line1 += " " + closing
		line2 += " " + closing
	}
	return line1 + "\n" + line2 + "\n"
}

// ParseHeader re-parses a generated artifact's provenance header, the
// inverse of Render. It reads the first two lines regardless of comment
// syntax.
func ParseHeader(artifact string) (*Header, error) {
	lines := strings.SplitN(artifact, "\n", 3)
	if len(lines) < 2 {
		return nil, fmt.Errorf("artifact shorter than the two-line header")
	}

	h := &Header{OutputPath: stripComment(lines[0])}
	if h.OutputPath == "" {
		return nil, fmt.Errorf("header line 1 carries no output path")
	}

	for _, field := range strings.Fields(stripComment(lines[1])) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("header line 2 has malformed field %q", field)
		}
		switch key {
		case "template":
			h.ArtifactType = value
		case "version":
			h.Hash = value
		case "created":
			ts, err := time.Parse(timeLayout, value)
			if err != nil {
				return nil, fmt.Errorf("header created timestamp %q: %w", value, err)
			}
			h.Created = ts
		case "updated":
			if value == "" {
				continue
			}
			ts, err := time.Parse(timeLayout, value)
			if err != nil {
				return nil, fmt.Errorf("header updated timestamp %q: %w", value, err)
			}
			h.Updated = ts
		}
	}

	if h.ArtifactType == "" || h.Hash == "" {
		return nil, fmt.Errorf("header line 2 is missing template/version fields")
	}

	return h, nil
}

func stripComment(line string) string {
	line = strings.TrimSpace(line)
	for _, prefix := range []string{"<!--", "//", "#", ";"} {
		if strings.HasPrefix(line, prefix) {
			line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
			break
		}
	}
	line = strings.TrimSuffix(line, "-->")
	return strings.TrimSpace(line)
}
