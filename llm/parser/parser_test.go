package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestFileTypeFromExt(t *testing.T) {
	tests := map[string]FileType{
		"txt":      FileTypeTXT,
		"MD":       FileTypeMD,
		"markdown": FileTypeMD,
		"pdf":      FileTypePDF,
		"docx":     FileTypeDocx,
		"xlsx":     FileTypeXLSX,
		"xls":      FileTypeXLS,
		"htm":      FileTypeHTML,
		"doc":      FileTypeUnknown,
		"go":       FileTypeUnknown,
	}
	for ext, want := range tests {
		assert.Equal(t, want, FileTypeFromExt(ext), ext)
	}
}

func TestRegistrySupported(t *testing.T) {
	reg := DefaultRegistry()
	for _, name := range []string{"a.txt", "b.md", "c.pdf", "d.docx", "e.xlsx", "f.xls", "g.html"} {
		assert.True(t, reg.Supported(name), name)
	}
	assert.False(t, reg.Supported("main.go"))

	_, err := reg.Parse(context.Background(), "main.go", strings.NewReader("package main"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestTxtParserUTF8(t *testing.T) {
	doc, err := DefaultRegistry().Parse(context.Background(), "notes/intro.txt",
		strings.NewReader("第一行标题\n正文内容。\n"))
	require.NoError(t, err)

	assert.Equal(t, "第一行标题\n正文内容。\n", doc.Content)
	assert.Equal(t, "第一行标题", doc.Title)
	assert.Equal(t, "utf-8", doc.Metadata["encoding"])
}

func TestTxtParserGBK(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().String("你好世界，知识库。")
	require.NoError(t, err)

	doc, err := NewTxtParser().Parse(context.Background(), strings.NewReader(encoded))
	require.NoError(t, err)

	assert.Equal(t, "你好世界，知识库。", doc.Content)
	assert.Equal(t, "gb18030", doc.Metadata["encoding"])
}

func TestTxtParserStripsBOM(t *testing.T) {
	doc, err := NewTxtParser().Parse(context.Background(), strings.NewReader("\ufeffhello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Content)
}

func TestMarkdownParser(t *testing.T) {
	src := "---\ntitle: \"Install Guide\"\nauthor: ops\n---\n# Setup\n\nRun **make** and read [the docs](http://x/y).\n\n\n\n![diagram](d.png)\n"

	doc, err := NewMarkdownParser().Parse(context.Background(), strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, "Install Guide", doc.Title)
	assert.Equal(t, "ops", doc.Metadata["author"])
	assert.Equal(t, true, doc.Metadata["has_frontmatter"])
	assert.Equal(t, "Setup\n\nRun make and read the docs.\n\ndiagram", doc.Content)
}

func TestMarkdownTitleFromHeading(t *testing.T) {
	doc, err := NewMarkdownParser().Parse(context.Background(), strings.NewReader("## 部署说明\n\n步骤一"))
	require.NoError(t, err)
	assert.Equal(t, "部署说明", doc.Title)
}

func TestHTMLParser(t *testing.T) {
	src := `<html><head><title>Handbook</title><style>p{color:red}</style></head>
<body><h1>Welcome</h1><script>alert(1)</script><p>First paragraph.</p><ul><li>one</li><li>two</li></ul></body></html>`

	doc, err := NewHTMLParser().Parse(context.Background(), strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, "Handbook", doc.Title)
	assert.Contains(t, doc.Content, "Welcome")
	assert.Contains(t, doc.Content, "First paragraph.")
	assert.Contains(t, doc.Content, "one")
	assert.NotContains(t, doc.Content, "alert")
	assert.NotContains(t, doc.Content, "color:red")
}

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(body.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDocxParser(t *testing.T) {
	data := buildDocx(t, "合同条款", "", "第一条 双方约定。")

	doc, err := NewDocxParser().Parse(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, "合同条款\n第一条 双方约定。", doc.Content)
	assert.Equal(t, "合同条款", doc.Title)
	assert.Equal(t, 2, doc.Metadata["paragraph_count"])
}

func TestDocxParserRejectsGarbage(t *testing.T) {
	_, err := NewDocxParser().Parse(context.Background(), strings.NewReader("not a zip"))
	assert.Error(t, err)
}

func TestSpreadsheetParser(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "price"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "apple"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 3))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	doc, err := DefaultRegistry().Parse(context.Background(), "prices.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, "Sheet: Sheet1\nname\tprice\napple\t3", doc.Content)
	assert.Equal(t, 2, doc.Metadata["row_count"])
}

func TestPDFParserRejectsGarbage(t *testing.T) {
	_, err := NewPDFParser().Parse(context.Background(), strings.NewReader("%PDF-1.4 truncated"))
	assert.Error(t, err)
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Title", ExtractTitle("\n\n# Title\nbody", "x.md"))
	assert.Equal(t, "x.md", ExtractTitle("   ", "dir/x.md"))
	assert.Equal(t, "Untitled", ExtractTitle("", ""))
	assert.Equal(t, "y.txt", ExtractTitle(strings.Repeat("长", 120), "y.txt"))
}
