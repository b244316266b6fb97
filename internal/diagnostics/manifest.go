package diagnostics

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ContextExtractor extracts manifest lines around diagnostic locations.
type ContextExtractor struct {
	// Cache of file contents to avoid re-reading manifests
	cache map[string][]string
}

// NewContextExtractor creates a new context extractor.
func NewContextExtractor() *ContextExtractor {
	return &ContextExtractor{
		cache: make(map[string][]string),
	}
}

// ExtractContext extracts lines around a specific manifest line.
func (e *ContextExtractor) ExtractContext(path string, line, contextLines int) (Context, error) {
	lines, err := e.getLines(path)
	if err != nil {
		return Context{}, err
	}

	if line < 1 || line > len(lines) {
		return Context{}, fmt.Errorf("line %d out of range [1, %d]", line, len(lines))
	}

	startLine := line - contextLines
	if startLine < 1 {
		startLine = 1
	}
	endLine := line + contextLines
	if endLine > len(lines) {
		endLine = len(lines)
	}

	window := make([]string, 0, endLine-startLine+1)
	for i := startLine; i <= endLine; i++ {
		window = append(window, lines[i-1])
	}

	return Context{
		Lines:     window,
		StartLine: startLine,
		ErrorLine: line,
	}, nil
}

// Preload seeds the cache with manifest content that is already in
// memory, so context extraction never re-reads a file the loader just
// parsed.
func (e *ContextExtractor) Preload(path string, content []byte) {
	e.cache[path] = splitLines(content)
}

func (e *ContextExtractor) getLines(path string) ([]string, error) {
	if lines, ok := e.cache[path]; ok {
		return lines, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	lines := splitLines(content)
	e.cache[path] = lines
	return lines, nil
}

func splitLines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// Context represents extracted manifest context.
type Context struct {
	Lines     []string
	StartLine int
	ErrorLine int
}

// IsEmpty returns true if the context has no lines.
func (c Context) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Format formats the context for display with line numbers. The line the
// diagnostic points at is marked in the gutter.
func (c Context) Format() string {
	if c.IsEmpty() {
		return ""
	}

	var b strings.Builder
	maxLineNum := c.StartLine + len(c.Lines) - 1
	lineNumWidth := len(strconv.Itoa(maxLineNum))

	for i, line := range c.Lines {
		lineNum := c.StartLine + i
		if lineNum == c.ErrorLine {
			fmt.Fprintf(&b, "> %*d | ", lineNumWidth, lineNum)
		} else {
			fmt.Fprintf(&b, "  %*d | ", lineNumWidth, lineNum)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return b.String()
}

// String returns a simple string representation of the context.
func (c Context) String() string {
	return strings.Join(c.Lines, "\n")
}

// GetErrorLine returns the line the diagnostic points at.
func (c Context) GetErrorLine() string {
	if c.IsEmpty() {
		return ""
	}
	idx := c.ErrorLine - c.StartLine
	if idx >= 0 && idx < len(c.Lines) {
		return c.Lines[idx]
	}
	return ""
}

var yamlLinePattern = regexp.MustCompile(`(?:^|\s)line (\d+):`)

// LineFromMessage extracts the manifest line a yaml error message points
// at. The yaml package reports locations only inside its error strings.
func LineFromMessage(message string) (int, bool) {
	m := yamlLinePattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	line, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return line, true
}
