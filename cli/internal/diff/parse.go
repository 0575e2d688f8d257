package diff

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	fileMarker = "\ndiff "
	hunkMarker = "\n@@"
)

// FileDiff is one file section of a diff.
type FileDiff struct {
	// Path is the b/ side path from the "diff --git" line; empty when the
	// section has no such line (e.g. text before the first marker).
	Path string
	// Head is everything before the first hunk marker.
	Head string
	// Hunks holds the hunks in reverse order of appearance: Hunks[0] is the
	// last hunk of the section. Each hunk keeps its leading newline.
	Hunks []string
}

// Parse splits raw into file sections. The text before the first file marker
// is kept as the head of the first section even when it has no marker.
// Returns ErrNotText when raw is not valid UTF-8.
func Parse(raw string) ([]FileDiff, error) {
	if !utf8.ValidString(raw) {
		return nil, fmt.Errorf("parse diff: %w", ErrNotText)
	}
	sections := splitKeep(raw, fileMarker)
	files := make([]FileDiff, 0, len(sections))
	for _, section := range sections {
		files = append(files, parseSection(section))
	}
	return files, nil
}

func parseSection(section string) FileDiff {
	pieces := splitKeep(section, hunkMarker)
	head := pieces[0]
	hunks := make([]string, 0, len(pieces)-1)
	for i := len(pieces) - 1; i >= 1; i-- {
		hunks = append(hunks, pieces[i])
	}
	return FileDiff{Path: headPath(head), Head: head, Hunks: hunks}
}

// splitKeep splits s on sep and re-prefixes sep to every piece after the
// first, so strings.Join(pieces, "") == s. It always returns at least one piece.
func splitKeep(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := 1; i < len(parts); i++ {
		parts[i] = sep + parts[i]
	}
	return parts
}

// headPath extracts the b/ path from the "diff --git a/x b/y" line of head.
func headPath(head string) string {
	line := strings.TrimLeft(head, "\n")
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if !strings.HasPrefix(line, "diff --git ") {
		return ""
	}
	parts := strings.Fields(strings.TrimPrefix(line, "diff --git "))
	if len(parts) < 2 {
		return ""
	}
	return trimDiffPath(parts[len(parts)-1])
}

func trimDiffPath(s string) string {
	if len(s) >= 2 && (s[0] == 'a' || s[0] == 'b') && s[1] == '/' {
		return s[2:]
	}
	return s
}
