package parser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// TxtParser handles plain text files
type TxtParser struct{}

// NewTxtParser creates a new plain text parser
func NewTxtParser() *TxtParser {
	return &TxtParser{}
}

// Parse reads plain text, detecting its encoding
func (p *TxtParser) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}

	content, enc, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	return &Document{
		Content: content,
		Title:   ExtractTitle(content, ""),
		Metadata: map[string]interface{}{
			"file_size":  len(data),
			"line_count": countLines(content),
			"encoding":   enc,
		},
	}, nil
}

// FileType returns the file type this parser handles
func (p *TxtParser) FileType() FileType {
	return FileTypeTXT
}

// decodeText converts raw bytes to UTF-8. BOMs are honoured, valid UTF-8
// passes through, and anything else is assumed to be GB18030 since the
// knowledge bases are mostly Chinese.
func decodeText(data []byte) (string, string, error) {
	enc, name, certain := charset.DetermineEncoding(data, "text/plain")
	if !certain {
		if utf8.Valid(data) {
			return string(data), "utf-8", nil
		}
		if name == "windows-1252" {
			enc, name = simplifiedchinese.GB18030, "gb18030"
		}
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", name, fmt.Errorf("decode %s: %w", name, err)
	}
	return strings.TrimPrefix(string(out), "\ufeff"), name, nil
}

// countLines counts the number of lines in content
func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
