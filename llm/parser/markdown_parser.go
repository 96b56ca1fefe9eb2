package parser

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	mdHeading = regexp.MustCompile(`(?m)^#{1,6}\s+(.*)$`)
	mdImage   = regexp.MustCompile(`!\[([^\]]*)\]\([^\)]+\)`)
	mdLink    = regexp.MustCompile(`\[([^\]]+)\]\([^\)]+\)`)
	mdFence   = regexp.MustCompile("```[\\s\\S]*?```")
	mdInline  = regexp.MustCompile("`[^`]+`")
)

// MarkdownParser handles markdown files
type MarkdownParser struct {
	// stripCodeBlocks whether to remove code blocks from content
	stripCodeBlocks bool
}

// NewMarkdownParser creates a new markdown parser
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		stripCodeBlocks: false, // Keep code blocks by default
	}
}

// Parse reads and parses markdown from the reader
func (p *MarkdownParser) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown: %w", err)
	}

	content, enc, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	doc := p.parse(content)
	doc.Metadata["encoding"] = enc
	return doc, nil
}

// parse processes the markdown content
func (p *MarkdownParser) parse(content string) *Document {
	// Extract metadata from YAML frontmatter
	metadata := extractFrontmatter(content)
	processed := removeFrontmatter(content)

	// Heading text makes the best title, so read it before cleaning.
	title := p.extractTitle(processed)
	if fm, ok := metadata["title"].(string); ok && fm != "" {
		title = fm
	}

	if p.stripCodeBlocks {
		processed = mdFence.ReplaceAllString(processed, "")
		processed = mdInline.ReplaceAllString(processed, "")
	}
	processed = cleanMarkdown(processed)

	metadata["file_size"] = len(content)
	metadata["line_count"] = countLines(content)
	metadata["has_frontmatter"] = hasFrontmatter(content)

	return &Document{
		Content:  processed,
		Title:    title,
		Metadata: metadata,
	}
}

// extractFrontmatter extracts simple key: value pairs from YAML frontmatter
func extractFrontmatter(content string) map[string]interface{} {
	metadata := make(map[string]interface{})
	if !hasFrontmatter(content) {
		return metadata
	}

	lines := strings.Split(content, "\n")
	for i := 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "---" {
			break
		}
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			value := strings.Trim(strings.TrimSpace(line[idx+1:]), `"'`)
			metadata[key] = value
		}
	}
	return metadata
}

// removeFrontmatter removes YAML frontmatter from content
func removeFrontmatter(content string) string {
	if !hasFrontmatter(content) {
		return content
	}

	lines := strings.Split(content, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[i+1:], "\n")
		}
	}
	return content
}

// hasFrontmatter checks if content has YAML frontmatter
func hasFrontmatter(content string) bool {
	lines := strings.SplitN(content, "\n", 2)
	return len(lines) == 2 && strings.TrimSpace(lines[0]) == "---"
}

// cleanMarkdown drops formatting markup but keeps the paragraph layout,
// which the splitter relies on.
func cleanMarkdown(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = mdHeading.ReplaceAllString(content, "$1")
	content = mdImage.ReplaceAllString(content, "$1")
	content = mdLink.ReplaceAllString(content, "$1")
	content = strings.ReplaceAll(content, "**", "")
	content = strings.ReplaceAll(content, "__", "")

	var out []string
	blank := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// extractTitle returns the first heading, or the first short line
func (p *MarkdownParser) extractTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line != "" && len([]rune(line)) < 100 {
			return line
		}
		break
	}
	return ""
}

// FileType returns the file type this parser handles
func (p *MarkdownParser) FileType() FileType {
	return FileTypeMD
}
