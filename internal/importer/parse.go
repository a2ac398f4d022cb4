// Package importer turns uploaded CSV/XLS/XLSX user sheets into validated rows
// and reports the outcome as a Result.
package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// MaxRows caps the data rows accepted from a single upload.
const MaxRows = 5000

// Columns lists the template headers in order.
var Columns = []string{
	"email",
	"first_name",
	"last_name",
	"role",
	"department",
	"job_title",
	"manager_email",
	"hire_date",
}

var requiredColumns = []string{"email", "first_name", "last_name"}

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

var allowedRoles = map[string]struct{}{
	RoleAdmin:    {},
	RoleManager:  {},
	RoleEmployee: {},
}

// Row is one data row of an import sheet. Line is the 1-based sheet row, so
// the first data row is line 2.
type Row struct {
	Line         int
	Email        string
	FirstName    string
	LastName     string
	Role         string
	Department   string
	JobTitle     string
	ManagerEmail string
	HireDate     string

	rawHireDate string
}

// ValidRole reports whether role is one of the accepted user roles.
func ValidRole(role string) bool {
	_, ok := allowedRoles[role]
	return ok
}

// Parse maps sheet rows to Rows using the header row. Missing required
// columns fail the whole sheet; per-row problems are left to Validate.
func Parse(rows [][]string) ([]Row, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}

	headerIndex := map[string]int{}
	for i, header := range rows[0] {
		key := normalizeHeader(header)
		if _, seen := headerIndex[key]; !seen {
			headerIndex[key] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := headerIndex[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}
	index := func(name string) int {
		if idx, ok := headerIndex[name]; ok {
			return idx
		}
		return -1
	}

	var out []Row
	for i, raw := range rows[1:] {
		if rowIsBlank(raw) {
			continue
		}
		if len(out) == MaxRows {
			return nil, fmt.Errorf("too many rows: at most %d users can be imported at once", MaxRows)
		}
		role := strings.ToLower(cellValue(raw, index("role")))
		if role == "" {
			role = RoleEmployee
		}
		row := Row{
			Line:         i + 2,
			Email:        strings.ToLower(cellValue(raw, index("email"))),
			FirstName:    cellValue(raw, index("first_name")),
			LastName:     cellValue(raw, index("last_name")),
			Role:         role,
			Department:   cellValue(raw, index("department")),
			JobTitle:     cellValue(raw, index("job_title")),
			ManagerEmail: strings.ToLower(cellValue(raw, index("manager_email"))),
			rawHireDate:  cellValue(raw, index("hire_date")),
		}
		if normalized, ok := NormalizeDate(row.rawHireDate); ok {
			row.HireDate = normalized
		}
		out = append(out, row)
	}
	return out, nil
}

var dateFormats = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"01/02/06",
	"1-2-2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"2006/01/02",
	"1/2/2006 15:04",
	"01/02/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// NormalizeDate accepts the date shapes spreadsheets commonly export,
// including Excel serial numbers, and returns YYYY-MM-DD.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		// Plain years and small integers are not dates.
		if serial >= 20000 && serial <= 80000 {
			if parsed, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return parsed.Format("2006-01-02"), true
			}
		}
		return "", false
	}

	for _, format := range dateFormats {
		if parsed, err := time.Parse(format, value); err == nil {
			return parsed.Format("2006-01-02"), true
		}
	}
	return "", false
}
