package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var ErrEmptySheet = errors.New("worksheet is empty")

// ReadRows loads every row of the first worksheet of a .csv, .xls or .xlsx
// upload. The file extension picks the decoder; unknown extensions are read
// as xlsx.
func ReadRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv":
		return readCSV(data)
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("open xls: %w", err)
		}
		return readXLS(workbook, xlsRowLimit)
	default:
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, errors.New("no worksheet found")
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("read worksheet %q: %w", sheetName, err)
		}
		if len(rows) == 0 {
			return nil, ErrEmptySheet
		}
		return rows, nil
	}
}

// xlsRowLimit bounds how many sheet rows, blank ones included, are decoded from
// an .xls file. Parse enforces MaxRows on the data rows.
const xlsRowLimit = 100000

// xlsWorkbook is the part of *xls.WorkBook used here.
type xlsWorkbook interface {
	NumSheets() int
	ReadAllCells(max int) [][]string
}

// readXLS reads the only sheet of workbook. ReadAllCells silently stops at
// its limit, so a sheet that fills the limit is rejected rather than cut short.
func readXLS(workbook xlsWorkbook, limit int) ([][]string, error) {
	switch n := workbook.NumSheets(); {
	case n == 0:
		return nil, errors.New("no worksheet found")
	case n > 1:
		return nil, errors.New("multiple worksheets found; please upload a file with a single sheet")
	}
	rows := workbook.ReadAllCells(limit + 1)
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	if len(rows) > limit {
		return nil, fmt.Errorf("too many rows: at most %d users can be imported at once", MaxRows)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}
	return rows, nil
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func normalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	return h
}

func rowIsBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
