package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// FileType represents the type of document file
type FileType string

const (
	FileTypePDF     FileType = "pdf"
	FileTypeDocx    FileType = "docx"
	FileTypeMD      FileType = "md"
	FileTypeHTML    FileType = "html"
	FileTypeTXT     FileType = "txt"
	FileTypeXLSX    FileType = "xlsx"
	FileTypeXLS     FileType = "xls"
	FileTypeUnknown FileType = "unknown"
)

// ErrUnsupported is returned when no parser is registered for a file.
var ErrUnsupported = errors.New("unsupported file type")

// Document represents a parsed document with its content and metadata
type Document struct {
	Content  string
	Title    string
	Metadata map[string]interface{}
}

// Parser defines the interface for document parsers
type Parser interface {
	// Parse reads and parses a document from the reader
	Parse(ctx context.Context, r io.Reader) (*Document, error)

	// FileType returns the file type this parser handles
	FileType() FileType
}

// Registry holds all registered parsers
type Registry struct {
	parsers map[FileType]Parser
}

// NewRegistry creates a new parser registry
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[FileType]Parser),
	}
}

// Register adds a parser to the registry
func (r *Registry) Register(p Parser) {
	r.parsers[p.FileType()] = p
}

// GetParser returns a parser for the given file type
func (r *Registry) GetParser(ft FileType) (Parser, bool) {
	p, ok := r.parsers[ft]
	return p, ok
}

// GetParserForPath returns a parser for the given file path
func (r *Registry) GetParserForPath(filePath string) (Parser, bool) {
	ext := strings.TrimPrefix(filepath.Ext(filePath), ".")
	return r.GetParser(FileTypeFromExt(ext))
}

// Supported reports whether some parser handles the file's extension.
func (r *Registry) Supported(filePath string) bool {
	_, ok := r.GetParserForPath(filePath)
	return ok
}

// Parse picks the parser for name and runs it over r. The title falls back
// to the file name when the parser could not find one.
func (r *Registry) Parse(ctx context.Context, name string, rd io.Reader) (*Document, error) {
	p, ok := r.GetParserForPath(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}

	doc, err := p.Parse(ctx, rd)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]interface{})
	}
	if doc.Title == "" || doc.Title == untitled {
		doc.Title = ExtractTitle(doc.Content, name)
	}
	return doc, nil
}

// FileTypeFromExt converts a file extension to FileType
func FileTypeFromExt(ext string) FileType {
	switch strings.ToLower(ext) {
	case "pdf":
		return FileTypePDF
	case "docx":
		return FileTypeDocx
	case "md", "markdown":
		return FileTypeMD
	case "html", "htm":
		return FileTypeHTML
	case "txt":
		return FileTypeTXT
	case "xlsx":
		return FileTypeXLSX
	case "xls":
		return FileTypeXLS
	default:
		return FileTypeUnknown
	}
}

// String returns the string representation of the FileType
func (ft FileType) String() string {
	return string(ft)
}

// DefaultRegistry returns a registry with all default parsers registered
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(NewTxtParser())
	reg.Register(NewMarkdownParser())
	reg.Register(NewHTMLParser())
	reg.Register(NewPDFParser())
	reg.Register(NewDocxParser())
	reg.Register(NewSpreadsheetParser(FileTypeXLSX))
	reg.Register(NewSpreadsheetParser(FileTypeXLS))
	return reg
}

const untitled = "Untitled"

// ExtractTitle extracts a title from content (first line or heading)
func ExtractTitle(content, filePath string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return fallbackTitle(filePath)
	}

	// Try to get first non-empty line as title
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			// Remove markdown heading markers
			line = strings.TrimLeft(line, "#")
			line = strings.TrimSpace(line)
			if line != "" && len([]rune(line)) < 100 {
				return line
			}
			break
		}
	}

	return fallbackTitle(filePath)
}

func fallbackTitle(filePath string) string {
	if filePath == "" {
		return untitled
	}
	return filepath.Base(filePath)
}
