package parser

import (
	"context"
	"fmt"
	"io"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// HTMLParser handles HTML files. The body is converted to markdown so
// headings and list structure survive as paragraph boundaries.
type HTMLParser struct {
	domain string
}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// Parse reads and parses HTML from the reader
func (p *HTMLParser) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	// Honour <meta charset> and BOMs.
	utf8Reader, err := charset.NewReader(r, "text/html")
	if err != nil {
		return nil, fmt.Errorf("failed to detect HTML charset: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, noscript, iframe").Remove()
	tagCount := doc.Find("*").Length()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	bodyHTML, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML body: %w", err)
	}

	// Converters carry per-document state; parsers run concurrently.
	converter := md.NewConverter(p.domain, true, nil)
	markdown, err := converter.ConvertString(bodyHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}

	return &Document{
		Content: cleanMarkdown(markdown),
		Title:   title,
		Metadata: map[string]interface{}{
			"html_tag_count": tagCount,
		},
	}, nil
}

// FileType returns the file type this parser handles
func (p *HTMLParser) FileType() FileType {
	return FileTypeHTML
}
