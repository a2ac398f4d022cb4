package hrsuitecli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/phillip-england/hrsuite/internal/importer"
)

func newTestCLI() (*cli, *bytes.Buffer) {
	var out bytes.Buffer
	return &cli{stdout: &out, stderr: &bytes.Buffer{}, logger: zap.NewNop()}, &out
}

func TestExecute_UsageErrors(t *testing.T) {
	cases := [][]string{
		nil,
		{"bogus"},
		{"run"},
		{"run", "worker"},
		{"import"},
		{"template", "--format", "pdf"},
		{"lookup"},
		{"setup", "--tenant", "Acme"},
	}
	for _, args := range cases {
		c, _ := newTestCLI()
		err := c.execute(testContext(t), args)
		assert.ErrorIs(t, err, ErrUsage, "%v", args)
	}
}

func TestSetup_WritesEnvFile(t *testing.T) {
	c, out := newTestCLI()
	envPath := filepath.Join(t.TempDir(), ".env")

	err := c.execute(testContext(t), []string{
		"setup",
		"--tenant", "Acme",
		"--admin-email", "Admin@Example.com",
		"--admin-password", "correct horse battery",
		"--env-file", envPath,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "wrote "+envPath)

	data, err := os.ReadFile(envPath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "SEED_TENANT=")
	assert.Contains(t, text, "ADMIN_EMAIL=admin@example.com")
	assert.Contains(t, text, "TRUST_PROXY=true")

	err = c.execute(testContext(t), []string{
		"setup", "--tenant", "Acme", "--admin-email", "a@b.co", "--admin-password", "correct horse battery", "--env-file", envPath,
	})
	assert.Error(t, err, "existing file without --force")
}

func TestSetup_RejectsShortPassword(t *testing.T) {
	c, _ := newTestCLI()
	err := c.execute(testContext(t), []string{
		"setup", "--tenant", "Acme", "--admin-email", "a@b.co", "--admin-password", "short",
		"--env-file", filepath.Join(t.TempDir(), ".env"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid admin password")
}

func TestTemplate_WritesBothFormats(t *testing.T) {
	dir := t.TempDir()

	c, _ := newTestCLI()
	csvPath := filepath.Join(dir, "out", "users.csv")
	require.NoError(t, c.execute(testContext(t), []string{"template", "--format", "CSV", "--out", csvPath}))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), strings.Join(importer.Columns, ",")))

	xlsxPath := filepath.Join(dir, "users.xlsx")
	require.NoError(t, c.execute(testContext(t), []string{"template", "--out", xlsxPath}))
	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, importer.Columns, rows[0])
}

func fakeImportAPI(t *testing.T, status int, result importer.Result) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer cli-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/api/v1/users/import", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("API_BASE_URL", srv.URL)
	t.Setenv("HRSUITE_TOKEN", "cli-token")
}

func writeSheet(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("email,first_name,last_name\nwendy@example.com,Wendy,Li\n"), 0o644))
	return path
}

func TestImport_PrintsSuccessReport(t *testing.T) {
	fakeImportAPI(t, http.StatusOK, importer.Succeeded(1, false, []importer.CreatedUser{
		{Row: 2, Email: "wendy@example.com", FirstName: "Wendy", LastName: "Li", Role: "employee"},
	}))

	c, out := newTestCLI()
	require.NoError(t, c.execute(testContext(t), []string{"import", "--file", writeSheet(t)}))
	assert.Contains(t, out.String(), "Import complete")
	assert.Contains(t, out.String(), "wendy@example.com")
}

func TestImport_RejectedRowsFailTheCommand(t *testing.T) {
	fakeImportAPI(t, http.StatusUnprocessableEntity, importer.Failed(1, true, []importer.RowError{
		{Row: 2, Email: "wendy@example.com", Errors: []string{"a user with this email already exists", "last_name is required"}},
	}))

	c, out := newTestCLI()
	err := c.execute(testContext(t), []string{"import", "--file", writeSheet(t), "--dry-run", "--expand"})
	require.ErrorIs(t, err, errImportRejected)
	assert.EqualError(t, err, "import rejected: 1 of 1 row has errors")
	assert.Contains(t, out.String(), "1 of 1 row has errors.")
	assert.Contains(t, out.String(), "Import failed")
	assert.Contains(t, out.String(), "last_name is required")
}

func TestImport_NeedsCredentials(t *testing.T) {
	t.Setenv("HRSUITE_TOKEN", "")
	t.Setenv("HRSUITE_EMAIL", "")
	t.Setenv("HRSUITE_PASSWORD", "")

	c, _ := newTestCLI()
	err := c.execute(testContext(t), []string{"import", "--file", writeSheet(t)})
	assert.ErrorIs(t, err, ErrUsage)
}

func TestNewLogger_Levels(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = newLogger("")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = newLogger("loud")
	assert.Error(t, err)
}
