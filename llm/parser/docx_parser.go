package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// DocxParser handles Word documents (.docx). Only body text is read;
// headers, footers and comments are ignored.
type DocxParser struct{}

// NewDocxParser creates a new DOCX parser
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

// Parse reads and parses DOCX from the reader
func (p *DocxParser) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read DOCX: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open DOCX archive: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("DOCX archive has no %s", docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", docxBody, err)
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return nil, err
	}

	content := strings.Join(paragraphs, "\n")
	return &Document{
		Content: content,
		Title:   ExtractTitle(content, ""),
		Metadata: map[string]interface{}{
			"paragraph_count": len(paragraphs),
			"file_size":       len(data),
		},
	}, nil
}

// docxParagraphs walks the WordprocessingML token stream and returns the
// non-empty paragraphs in document order.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", docxBody, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br", "cr":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return paragraphs, nil
}

// FileType returns the file type this parser handles
func (p *DocxParser) FileType() FileType {
	return FileTypeDocx
}
