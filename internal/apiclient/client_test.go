package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/hrsuite/internal/combobox"
	"github.com/phillip-england/hrsuite/internal/importer"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok-123")
}

func writeBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestLogin_SendsCredentialsAndDecodesSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ada@example.com", body["email"])
		assert.Equal(t, "long-enough-pass", body["password"])

		writeBody(w, http.StatusOK, map[string]any{
			"token":  "new-token",
			"user":   map[string]any{"id": "u1", "email": "ada@example.com", "firstName": "Ada", "lastName": "Lovelace", "role": "admin"},
			"tenant": map[string]any{"id": "t1", "name": "Acme"},
		})
	})

	sess, err := c.Login(testContext(t), "ada@example.com", "long-enough-pass")
	require.NoError(t, err)
	assert.Equal(t, "new-token", sess.Token)
	assert.Equal(t, "Ada Lovelace", sess.User.FullName())
	assert.Equal(t, "Acme", sess.Tenant.Name)
}

func TestDo_SendsBearerAndForwardedFor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer other", r.Header.Get("Authorization"))
		assert.Equal(t, "203.0.113.9", r.Header.Get("X-Forwarded-For"))
		w.WriteHeader(http.StatusNoContent)
	})
	c = c.WithToken("other")
	c.ForwardedFor = "203.0.113.9"
	require.NoError(t, c.Logout(testContext(t)))
}

func TestDo_ErrorResponses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/employees/gone":
			writeBody(w, http.StatusNotFound, map[string]string{"error": "employee not found"})
		default:
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}
	})

	_, err := c.GetEmployee(testContext(t), "gone")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "employee not found", apiErr.Message)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	_, err = c.GetTimesheetPolicy(testContext(t))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestListEmployees_EncodesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "wen", q.Get("q"))
		assert.Equal(t, "Sales", q.Get("department"))
		assert.Equal(t, "all", q.Get("status"))
		assert.Equal(t, "2", q.Get("page"))
		assert.False(t, q.Has("managerId"))
		writeBody(w, http.StatusOK, map[string]any{"items": []any{}, "count": 0, "page": 2, "perPage": 25, "totalPages": 0})
	})

	page, err := c.ListEmployees(testContext(t), EmployeeQuery{Q: " wen ", Department: "Sales", Status: "all", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
}

func TestSearchFuncs_ReturnOptions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/employees":
			writeBody(w, http.StatusOK, map[string]any{"items": []map[string]any{
				{"id": "e1", "firstName": "Wendy", "lastName": "Li", "email": "wendy@example.com"},
			}})
		case "/api/v1/projects":
			writeBody(w, http.StatusOK, map[string]any{"items": []map[string]any{
				{"id": "p1", "code": "ACME", "name": "Acme rollout"},
			}})
		case "/api/v1/tasks":
			assert.Equal(t, "p1", r.URL.Query().Get("projectId"))
			writeBody(w, http.StatusOK, map[string]any{"items": []map[string]any{
				{"id": "k1", "projectId": "p1", "name": "Design"},
			}})
		default:
			http.NotFound(w, r)
		}
	})

	employees, err := c.SearchEmployees(testContext(t), "wen")
	require.NoError(t, err)
	assert.Equal(t, []combobox.Option{{ID: "e1", Name: "Wendy Li", Code: "wendy@example.com"}}, employees)

	projects, err := c.SearchProjects(testContext(t), "ac")
	require.NoError(t, err)
	assert.Equal(t, []combobox.Option{{ID: "p1", Name: "Acme rollout", Code: "ACME"}}, projects)

	tasks, err := c.SearchTasks("p1")(testContext(t), "")
	require.NoError(t, err)
	assert.Equal(t, []combobox.Option{{ID: "k1", Name: "Design"}}, tasks)
}

func TestSaveTimesheetPolicy_PostsWhenDefault(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodGet {
			writeBody(w, http.StatusOK, map[string]any{"weekStartDay": "monday", "isDefault": true})
			return
		}
		writeBody(w, http.StatusCreated, map[string]any{"weekStartDay": "sunday"})
	})

	saved, err := c.SaveTimesheetPolicy(testContext(t), TimesheetPolicy{WeekStartDay: "sunday"})
	require.NoError(t, err)
	assert.Equal(t, "sunday", saved.WeekStartDay)
	assert.Equal(t, []string{http.MethodGet, http.MethodPost}, methods)
}

func TestImportUsers_ValidationFailureIsAResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("dryRun"))
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "users.csv", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Contains(t, string(data), "email,first_name")

		writeBody(w, http.StatusUnprocessableEntity, importer.Failed(1, true, []importer.RowError{
			{Row: 2, Email: "bad", Errors: []string{"email is not a valid address"}},
		}))
	})

	result, err := c.ImportUsers(testContext(t), "users.csv", strings.NewReader("email,first_name,last_name\nbad,A,B\n"), true)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.DryRun)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Row)
}

func TestImportUsers_OtherStatusesAreErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file exceeds the 10 MiB upload limit"})
	})

	_, err := c.ImportUsers(testContext(t), "big.xlsx", strings.NewReader("x"), false)
	assert.True(t, IsStatus(err, http.StatusRequestEntityTooLarge))
}

func TestImportTemplate_UsesDispositionFilename(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="user-import-template.csv"`)
		_, _ = fmt.Fprint(w, "email,first_name\n")
	})

	data, name, ctype, err := c.ImportTemplate(testContext(t), "csv")
	require.NoError(t, err)
	assert.Equal(t, "user-import-template.csv", name)
	assert.Equal(t, "text/csv", ctype)
	assert.Equal(t, "email,first_name\n", string(data))
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("dial tcp: connection refused"), "Could not reach the server. Check your connection and try again."},
		{&Error{Status: 400, Message: "email is required"}, "Email is required."},
		{&Error{Status: 401}, "Your session has expired. Please sign in again."},
		{&Error{Status: 403, Message: "forbidden"}, "You do not have permission to do that."},
		{&Error{Status: 404}, "That record no longer exists."},
		{&Error{Status: 409, Message: "an employee with that email already exists"}, "An employee with that email already exists."},
		{&Error{Status: 409}, "That conflicts with an existing record."},
		{&Error{Status: 413}, "The file is too large. Uploads are limited to 10 MB."},
		{&Error{Status: 429}, "Too many attempts. Wait a minute and try again."},
		{&Error{Status: 500, Message: "database is locked"}, "Something went wrong on our side. Please try again."},
		{fmt.Errorf("wrapped: %w", &Error{Status: 404}), "That record no longer exists."},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, UserMessage(tc.err), fmt.Sprint(tc.err))
	}
}
