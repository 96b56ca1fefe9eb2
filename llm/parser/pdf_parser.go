package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts the plain text layer of PDF files. Scanned pages
// without a text layer come out empty.
type PDFParser struct{}

// NewPDFParser creates a new PDF parser
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Parse reads and parses PDF from the reader
func (p *PDFParser) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	pageCount := reader.NumPage()
	pages := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	content := strings.Join(pages, "\n\n")
	return &Document{
		Content: content,
		Title:   ExtractTitle(content, ""),
		Metadata: map[string]interface{}{
			"page_count": pageCount,
			"file_size":  len(data),
		},
	}, nil
}

// FileType returns the file type this parser handles
func (p *PDFParser) FileType() FileType {
	return FileTypePDF
}
