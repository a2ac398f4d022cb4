package importer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadRows_CSVStripsBOM(t *testing.T) {
	data := "\xef\xbb\xbfEmail,First Name,Last-Name\nA@Example.com,Ann,Lee\n"
	rows, err := ReadRows(strings.NewReader(data), "users.CSV")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	parsed, err := Parse(rows)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "a@example.com", parsed[0].Email)
	assert.Equal(t, "Ann", parsed[0].FirstName)
	assert.Equal(t, "Lee", parsed[0].LastName)
	assert.Equal(t, RoleEmployee, parsed[0].Role)
	assert.Equal(t, 2, parsed[0].Line)
}

func TestReadRows_EmptyCSV(t *testing.T) {
	_, err := ReadRows(strings.NewReader(""), "users.csv")
	assert.ErrorIs(t, err, ErrEmptySheet)
}

func TestReadRows_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"email", "first_name", "last_name", "hire_date"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"b@example.com", "Bo", "Chen", "45000"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := ReadRows(bytes.NewReader(buf.Bytes()), "users.xlsx")
	require.NoError(t, err)
	parsed, err := Parse(rows)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "2023-03-15", parsed[0].HireDate)
}

// truncatingWorkbook mimics xls.WorkBook, which returns at most max rows.
type truncatingWorkbook struct {
	sheets int
	rows   int
}

func (w truncatingWorkbook) NumSheets() int { return w.sheets }

func (w truncatingWorkbook) ReadAllCells(max int) [][]string {
	n := w.rows
	if n > max {
		n = max
	}
	out := make([][]string, n)
	for i := range out {
		out[i] = []string{"x@example.com", "X", "Y"}
	}
	return out
}

func TestReadXLS_RejectsSheetAtReadLimit(t *testing.T) {
	_, err := readXLS(truncatingWorkbook{sheets: 1, rows: 50}, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many rows")

	rows, err := readXLS(truncatingWorkbook{sheets: 1, rows: 20}, 20)
	require.NoError(t, err)
	assert.Len(t, rows, 20)
}

func TestReadXLS_SheetCount(t *testing.T) {
	_, err := readXLS(truncatingWorkbook{sheets: 0}, xlsRowLimit)
	assert.EqualError(t, err, "no worksheet found")

	_, err = readXLS(truncatingWorkbook{sheets: 2, rows: 3}, xlsRowLimit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple worksheets")

	_, err = readXLS(truncatingWorkbook{sheets: 1}, xlsRowLimit)
	assert.ErrorIs(t, err, ErrEmptySheet)
}

func TestReadRows_XLSXOverMaxRowsIsRejected(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sw, err := f.NewStreamWriter("Sheet1")
	require.NoError(t, err)
	require.NoError(t, sw.SetRow("A1", []any{"email", "first_name", "last_name"}))
	for i := 0; i <= MaxRows; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, sw.SetRow(cell, []any{"x@example.com", "X", "Y"}))
	}
	require.NoError(t, sw.Flush())
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := ReadRows(bytes.NewReader(buf.Bytes()), "users.xlsx")
	require.NoError(t, err)
	assert.Len(t, rows, MaxRows+2)

	_, err = Parse(rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many rows")
}

func TestParse_MissingRequiredColumn(t *testing.T) {
	_, err := Parse([][]string{{"email", "first_name"}, {"a@example.com", "Ann"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last_name")
}

func TestParse_SkipsBlankRowsButKeepsLineNumbers(t *testing.T) {
	rows := [][]string{
		{"email", "first_name", "last_name"},
		{"a@example.com", "Ann", "Lee"},
		{"", " ", ""},
		{"b@example.com", "Bo", "Chen"},
	}
	parsed, err := Parse(rows)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, 2, parsed[0].Line)
	assert.Equal(t, 4, parsed[1].Line)
}

func TestParse_TooManyRows(t *testing.T) {
	rows := [][]string{{"email", "first_name", "last_name"}}
	for i := 0; i <= MaxRows; i++ {
		rows = append(rows, []string{"x@example.com", "X", "Y"})
	}
	_, err := Parse(rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many rows")
}

func TestNormalizeDate(t *testing.T) {
	cases := map[string]string{
		"2024-03-18":     "2024-03-18",
		"3/18/2024":      "2024-03-18",
		"03/18/24":       "2024-03-18",
		"March 18, 2024": "2024-03-18",
		"45369":          "2024-03-18",
	}
	for in, want := range cases {
		got, ok := NormalizeDate(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "2024", "not a date", "13/45/2024"} {
		_, ok := NormalizeDate(in)
		assert.False(t, ok, in)
	}
}

func TestValidate_CollectsEveryProblemPerRow(t *testing.T) {
	rows, err := Parse([][]string{
		{"email", "first_name", "last_name", "role", "manager_email", "hire_date"},
		{"boss@example.com", "Bea", "Boss", "manager", "", "2020-01-01"},
		{"not-an-email", "", "Lee", "owner", "", "yesterday"},
		{"boss@example.com", "Dup", "Row", "", "", ""},
		{"taken@example.com", "Tia", "Taken", "", "", ""},
		{"self@example.com", "Sam", "Self", "", "self@example.com", ""},
		{"orphan@example.com", "Ola", "Orphan", "", "ghost@example.com", ""},
		{"report@example.com", "Rae", "Report", "", "boss@example.com", ""},
		{"known@example.com", "Kai", "Known", "", "existing@example.com", ""},
	})
	require.NoError(t, err)

	existing := map[string]bool{
		"taken@example.com":    true,
		"existing@example.com": true,
	}
	errs := Validate(rows, existing)

	byRow := map[int][]string{}
	for _, e := range errs {
		byRow[e.Row] = e.Errors
	}
	assert.Len(t, byRow, 5)
	assert.Equal(t, []string{
		"email is not a valid address",
		"first_name is required",
		"role must be one of admin, manager, employee",
		"hire_date is not a recognizable date",
	}, byRow[3])
	assert.Equal(t, []string{"email duplicates row 2"}, byRow[4])
	assert.Equal(t, []string{"a user with this email already exists"}, byRow[5])
	assert.Equal(t, []string{"manager_email cannot be the user's own email"}, byRow[6])
	assert.Equal(t, []string{"manager_email does not match an existing or imported user"}, byRow[7])

	for i := 1; i < len(errs); i++ {
		assert.Less(t, errs[i-1].Row, errs[i].Row)
	}
}

func TestValidate_CleanSheet(t *testing.T) {
	rows, err := Parse([][]string{
		{"email", "first_name", "last_name"},
		{"a@example.com", "Ann", "Lee"},
	})
	require.NoError(t, err)
	assert.Empty(t, Validate(rows, nil))
}

func TestOrderForCreate_ManagersFirst(t *testing.T) {
	rows := []Row{
		{Line: 2, Email: "c@example.com", ManagerEmail: "b@example.com"},
		{Line: 3, Email: "b@example.com", ManagerEmail: "a@example.com"},
		{Line: 4, Email: "a@example.com"},
		{Line: 5, Email: "d@example.com"},
	}
	ordered := OrderForCreate(rows)
	var emails []string
	for _, r := range ordered {
		emails = append(emails, r.Email)
	}
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"}, emails)
}

func TestOrderForCreate_CycleKeepsEveryRow(t *testing.T) {
	rows := []Row{
		{Line: 2, Email: "a@example.com", ManagerEmail: "b@example.com"},
		{Line: 3, Email: "b@example.com", ManagerEmail: "a@example.com"},
	}
	assert.Len(t, OrderForCreate(rows), 2)
}

func TestResultVariants(t *testing.T) {
	ok := Succeeded(3, true, nil)
	assert.True(t, ok.Success)
	assert.True(t, ok.DryRun)
	assert.Equal(t, 0, ok.Created)
	assert.NotNil(t, ok.CreatedUsers)

	failed := Failed(3, false, []RowError{{Row: 2, Errors: []string{"x"}}})
	assert.False(t, failed.Success)
	assert.Equal(t, 1, failed.FailedRows())
}

func TestTemplate(t *testing.T) {
	data, contentType, name, err := Template("csv")
	require.NoError(t, err)
	assert.Equal(t, "user-import-template.csv", name)
	assert.Contains(t, contentType, "text/csv")
	assert.True(t, strings.HasPrefix(string(data), strings.Join(Columns, ",")+"\n"))

	data, contentType, name, err = Template("")
	require.NoError(t, err)
	assert.Equal(t, "user-import-template.xlsx", name)
	assert.Equal(t, contentTypeXLSX, contentType)
	rows, err := ReadRows(bytes.NewReader(data), name)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Columns, rows[0])

	parsed, err := Parse(rows)
	require.NoError(t, err)
	assert.Empty(t, Validate(parsed, map[string]bool{"manager@example.com": true}))

	_, _, _, err = Template("pdf")
	assert.Error(t, err)
}
