package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var templateExample = []string{
	"jane.doe@example.com",
	"Jane",
	"Doe",
	RoleEmployee,
	"Operations",
	"Shift Lead",
	"manager@example.com",
	"2024-03-18",
}

// Template renders a blank import sheet with the expected headers and one
// example row. An empty format means xlsx.
func Template(format string) (data []byte, contentType, filename string, err error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.WriteAll([][]string{Columns, templateExample}); err != nil {
			return nil, "", "", fmt.Errorf("write csv template: %w", err)
		}
		return buf.Bytes(), contentTypeCSV, "user-import-template.csv", nil
	case FormatXLSX, "":
		data, err := xlsxTemplate()
		if err != nil {
			return nil, "", "", err
		}
		return data, contentTypeXLSX, "user-import-template.xlsx", nil
	default:
		return nil, "", "", fmt.Errorf("unsupported template format %q", format)
	}
}

func xlsxTemplate() ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Users"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, col := range Columns {
		header[i] = col
	}
	example := make([]any, len(templateExample))
	for i, v := range templateExample {
		example[i] = v
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A2", &example); err != nil {
		return nil, fmt.Errorf("write example: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(Columns))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", bold); err != nil {
		return nil, fmt.Errorf("apply header style: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 22); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
