package parser

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SpreadsheetParser renders every sheet of a workbook as tab separated
// rows under a "Sheet: <name>" header. Legacy binary .xls workbooks are
// not readable by excelize and fail to parse.
type SpreadsheetParser struct {
	fileType FileType
}

// NewSpreadsheetParser creates a parser registered under ft.
func NewSpreadsheetParser(ft FileType) *SpreadsheetParser {
	return &SpreadsheetParser{fileType: ft}
}

func (p *SpreadsheetParser) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var (
		sections []string
		rowCount int
	)
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}

		var sb strings.Builder
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
			rowCount++
		}
		if sb.Len() == 0 {
			continue
		}
		sections = append(sections, "Sheet: "+sheet+"\n"+strings.TrimRight(sb.String(), "\n"))
	}

	return &Document{
		Content: strings.Join(sections, "\n\n"),
		Metadata: map[string]interface{}{
			"sheet_count": len(sheets),
			"row_count":   rowCount,
		},
	}, nil
}

func (p *SpreadsheetParser) FileType() FileType {
	return p.fileType
}
