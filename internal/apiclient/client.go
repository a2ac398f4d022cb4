// Package apiclient is a typed client for the hrsuite REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/phillip-england/hrsuite/internal/combobox"
	"github.com/phillip-england/hrsuite/internal/importer"
)

const apiPrefix = "/api/v1"

// Client calls the API at BaseURL, authenticating with Token when set.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	// ForwardedFor, when set, is sent as X-Forwarded-For so the API can rate
	// limit the real caller behind a proxy.
	ForwardedFor string
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithToken returns a copy of c that authenticates as token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.Token = token
	return &clone
}

type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Employee struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Role       string  `json:"role"`
	Department string  `json:"department"`
	JobTitle   string  `json:"jobTitle"`
	ManagerID  *string `json:"managerId"`
	HireDate   string  `json:"hireDate"`
	Status     string  `json:"status"`
	HasPhoto   bool    `json:"hasPhoto"`
}

func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Employee  `json:"user"`
	Tenant    Tenant    `json:"tenant"`
}

type Page[T any] struct {
	Items      []T `json:"items"`
	Count      int `json:"count"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalPages int `json:"totalPages"`
}

type NewEmployee struct {
	Email      string  `json:"email"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Role       string  `json:"role,omitempty"`
	Department string  `json:"department,omitempty"`
	JobTitle   string  `json:"jobTitle,omitempty"`
	ManagerID  *string `json:"managerId,omitempty"`
	HireDate   string  `json:"hireDate,omitempty"`
	Password   string  `json:"password,omitempty"`
}

type EmployeeQuery struct {
	Q          string
	Department string
	ManagerID  string
	Status     string
	Page       int
	PerPage    int
}

type BenefitType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

type TimesheetPolicy struct {
	WeekStartDay           string  `json:"weekStartDay"`
	MaxHoursPerDay         float64 `json:"maxHoursPerDay"`
	MaxHoursPerWeek        float64 `json:"maxHoursPerWeek"`
	AllowWeekendEntries    bool    `json:"allowWeekendEntries"`
	RequireApproval        bool    `json:"requireApproval"`
	MaxLeaveDaysPerRequest int     `json:"maxLeaveDaysPerRequest"`
	IsDefault              bool    `json:"isDefault"`
}

type Project struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
}

type LeaveRequest struct {
	ID         string     `json:"id"`
	EmployeeID string     `json:"employeeId"`
	LeaveType  string     `json:"leaveType"`
	StartDate  string     `json:"startDate"`
	EndDate    string     `json:"endDate"`
	Days       int        `json:"days"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	DecidedAt  *time.Time `json:"decidedAt"`
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &out)
	return out, err
}

func (c *Client) Signup(ctx context.Context, tenantName, email, password, firstName, lastName string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/signup", map[string]string{
		"tenantName": tenantName,
		"email":      email,
		"password":   password,
		"firstName":  firstName,
		"lastName":   lastName,
	}, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (Employee, Tenant, error) {
	var out struct {
		User   Employee `json:"user"`
		Tenant Tenant   `json:"tenant"`
	}
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out)
	return out.User, out.Tenant, err
}

func (c *Client) ListEmployees(ctx context.Context, q EmployeeQuery) (Page[Employee], error) {
	params := url.Values{}
	setParam(params, "q", q.Q)
	setParam(params, "department", q.Department)
	setParam(params, "managerId", q.ManagerID)
	setParam(params, "status", q.Status)
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		params.Set("perPage", strconv.Itoa(q.PerPage))
	}
	var out Page[Employee]
	err := c.do(ctx, http.MethodGet, withQuery("/employees", params), nil, &out)
	return out, err
}

func (c *Client) GetEmployee(ctx context.Context, id string) (Employee, error) {
	var out Employee
	err := c.do(ctx, http.MethodGet, "/employees/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) CreateEmployee(ctx context.Context, in NewEmployee) (Employee, error) {
	var out Employee
	err := c.do(ctx, http.MethodPost, "/employees", in, &out)
	return out, err
}

// UpdateEmployee sends a partial update; only keys present in fields change.
func (c *Client) UpdateEmployee(ctx context.Context, id string, fields map[string]any) (Employee, error) {
	var out Employee
	err := c.do(ctx, http.MethodPatch, "/employees/"+url.PathEscape(id), fields, &out)
	return out, err
}

func (c *Client) DeleteEmployee(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/employees/"+url.PathEscape(id), nil, nil)
}

// SearchEmployees adapts the employee list to combobox options, with the
// email as the option code.
func (c *Client) SearchEmployees(ctx context.Context, query string) ([]combobox.Option, error) {
	page, err := c.ListEmployees(ctx, EmployeeQuery{Q: query, PerPage: 20})
	if err != nil {
		return nil, err
	}
	return lo.Map(page.Items, func(e Employee, _ int) combobox.Option {
		return combobox.Option{ID: e.ID, Name: e.FullName(), Code: e.Email}
	}), nil
}

func (c *Client) ListProjects(ctx context.Context, query string) (Page[Project], error) {
	params := url.Values{}
	setParam(params, "q", query)
	params.Set("perPage", "20")
	var out Page[Project]
	err := c.do(ctx, http.MethodGet, withQuery("/projects", params), nil, &out)
	return out, err
}

func (c *Client) SearchProjects(ctx context.Context, query string) ([]combobox.Option, error) {
	page, err := c.ListProjects(ctx, query)
	if err != nil {
		return nil, err
	}
	return lo.Map(page.Items, func(p Project, _ int) combobox.Option {
		return combobox.Option{ID: p.ID, Name: p.Name, Code: p.Code}
	}), nil
}

// SearchTasks returns a search function over the tasks of one project, or
// of every project when projectID is empty.
func (c *Client) SearchTasks(projectID string) combobox.SearchFunc {
	return func(ctx context.Context, query string) ([]combobox.Option, error) {
		params := url.Values{}
		setParam(params, "q", query)
		setParam(params, "projectId", projectID)
		params.Set("perPage", "20")
		var out Page[Task]
		if err := c.do(ctx, http.MethodGet, withQuery("/tasks", params), nil, &out); err != nil {
			return nil, err
		}
		return lo.Map(out.Items, func(t Task, _ int) combobox.Option {
			return combobox.Option{ID: t.ID, Name: t.Name}
		}), nil
	}
}

func (c *Client) ListBenefitTypes(ctx context.Context) (Page[BenefitType], error) {
	var out Page[BenefitType]
	err := c.do(ctx, http.MethodGet, "/benefit-types?perPage=100", nil, &out)
	return out, err
}

func (c *Client) CreateBenefitType(ctx context.Context, name, category, description string) (BenefitType, error) {
	var out BenefitType
	err := c.do(ctx, http.MethodPost, "/benefit-types", map[string]string{
		"name":        name,
		"category":    category,
		"description": description,
	}, &out)
	return out, err
}

func (c *Client) DeleteBenefitType(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/benefit-types/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GetTimesheetPolicy(ctx context.Context) (TimesheetPolicy, error) {
	var out TimesheetPolicy
	err := c.do(ctx, http.MethodGet, "/timesheet-policy", nil, &out)
	return out, err
}

// SaveTimesheetPolicy creates the policy when only defaults exist and
// patches it otherwise.
func (c *Client) SaveTimesheetPolicy(ctx context.Context, p TimesheetPolicy) (TimesheetPolicy, error) {
	current, err := c.GetTimesheetPolicy(ctx)
	if err != nil {
		return TimesheetPolicy{}, err
	}
	method := http.MethodPatch
	if current.IsDefault {
		method = http.MethodPost
	}
	var out TimesheetPolicy
	err = c.do(ctx, method, "/timesheet-policy", p, &out)
	return out, err
}

func (c *Client) ListLeaveRequests(ctx context.Context, status string) (Page[LeaveRequest], error) {
	params := url.Values{}
	setParam(params, "status", status)
	params.Set("perPage", "100")
	var out Page[LeaveRequest]
	err := c.do(ctx, http.MethodGet, withQuery("/leave-requests", params), nil, &out)
	return out, err
}

// DecideLeaveRequest approves (approve=true) or rejects a pending request.
func (c *Client) DecideLeaveRequest(ctx context.Context, id string, approve bool) (LeaveRequest, error) {
	action := "reject"
	if approve {
		action = "approve"
	}
	var out LeaveRequest
	err := c.do(ctx, http.MethodPost, "/leave-requests/"+url.PathEscape(id)+"/"+action, nil, &out)
	return out, err
}

// ImportUsers uploads a sheet. A validation failure is not an error: it comes
// back as a Result with Success false.
func (c *Client) ImportUsers(ctx context.Context, filename string, file io.Reader, dryRun bool) (importer.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return importer.Result{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return importer.Result{}, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return importer.Result{}, err
	}

	path := "/users/import?dryRun=" + strconv.FormatBool(dryRun)
	req, err := c.newRequest(ctx, http.MethodPost, path, &body)
	if err != nil {
		return importer.Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return importer.Result{}, fmt.Errorf("import users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return importer.Result{}, readError(resp)
	}
	var result importer.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return importer.Result{}, fmt.Errorf("decode import result: %w", err)
	}
	return result, nil
}

// ImportTemplate downloads the blank import sheet.
func (c *Client) ImportTemplate(ctx context.Context, format string) (data []byte, filename, contentType string, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, withQuery("/users/import/template", url.Values{"format": {format}}), nil)
	if err != nil {
		return nil, "", "", err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("download template: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", readError(resp)
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", fmt.Errorf("download template: %w", err)
	}
	filename = "user-import-template." + format
	if _, params, perr := mimeParams(resp.Header.Get("Content-Disposition")); perr == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return data, filename, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+apiPrefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.ForwardedFor != "" {
		req.Header.Set("X-Forwarded-For", c.ForwardedFor)
	}
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func setParam(values url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		values.Set(key, value)
	}
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// IsStatus reports whether err is an API error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}
