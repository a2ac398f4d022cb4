package clientapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/phillip-england/hrsuite/internal/apiclient"
	"github.com/phillip-england/hrsuite/internal/combobox"
	"github.com/phillip-england/hrsuite/internal/importreport"
)

const maxImportUpload = 10 << 20

type pageData struct {
	Title  string
	Active string
	User   *apiclient.Employee
	Tenant string

	Error     string
	Notice    string
	LoadError string
	RetryURL  string

	CanManage bool
	IsAdmin   bool

	Search     string
	Status     string
	Employees  []apiclient.Employee
	Page       int
	TotalPages int
	Count      int
	HasPrev    bool
	HasNext    bool
	PrevPage   int
	NextPage   int

	BenefitTypes []apiclient.BenefitType
	Categories   []string

	Policy   *apiclient.TimesheetPolicy
	Weekdays []string

	LeaveRequests []leaveView
	Statuses      []string

	Report     *importreport.Report
	DryRun     bool
	UploadName string
}

type leaveView struct {
	apiclient.LeaveRequest
	EmployeeName string
	Pending      bool
}

var (
	benefitCategories = []string{"health", "dental", "vision", "retirement", "insurance", "wellness", "other"}
	weekdays          = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}
	leaveStatuses     = []string{"pending", "approved", "rejected"}
)

func (s *server) basePage(r *http.Request, title, active string) pageData {
	q := r.URL.Query()
	data := pageData{
		Title:  title,
		Active: active,
		Error:  q.Get("error"),
		Notice: q.Get("notice"),
	}
	if v := viewerFromContext(r.Context()); v != nil {
		user := v.User
		data.User = &user
		data.Tenant = v.Tenant.Name
		data.IsAdmin = user.Role == "admin"
		data.CanManage = user.Role == "admin" || user.Role == "manager"
	}
	return data
}

func (s *server) loginRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if sessionToken(r) != "" {
			http.Redirect(w, r, "/employees", http.StatusFound)
			return
		}
		s.render(w, http.StatusOK, "login", s.basePage(r, "Sign in", ""))
	case http.MethodPost:
		s.login(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/login", "Invalid form submission.")
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		redirectWithError(w, r, "/login", "Email and password are required.")
		return
	}

	api := s.apiFor(r, "")
	sess, err := api.Login(r.Context(), email, password)
	if err != nil {
		msg := apiclient.UserMessage(err)
		if apiclient.IsStatus(err, http.StatusUnauthorized) {
			msg = "Invalid email or password."
		}
		redirectWithError(w, r, "/login", msg)
		return
	}
	s.setSessionCookie(w, sess.Token, sess.ExpiresAt)
	s.logger.Info("signed in", zap.String("user", sess.User.ID), zap.String("tenant", sess.Tenant.ID))
	http.Redirect(w, r, "/employees", http.StatusFound)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if token := sessionToken(r); token != "" {
		if err := s.apiFor(r, token).Logout(r.Context()); err != nil && !apiclient.IsStatus(err, http.StatusUnauthorized) {
			s.logger.Warn("logout failed", zap.Error(err))
		}
	}
	s.clearSessionCookie(w)
	redirectWithNotice(w, r, "/login", "Signed out.")
}

func (s *server) employeesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.employeesPage(w, r)
	case http.MethodPost:
		s.createEmployee(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) employeesPage(w http.ResponseWriter, r *http.Request) {
	v := viewerFromContext(r.Context())
	data := s.basePage(r, "Employees", "employees")
	q := r.URL.Query()
	data.Search = strings.TrimSpace(q.Get("q"))
	data.Status = q.Get("status")

	list, err := v.API.ListEmployees(r.Context(), apiclient.EmployeeQuery{
		Q:      data.Search,
		Status: data.Status,
		Page:   parsePositiveInt(q.Get("page"), 1),
	})
	if err != nil {
		s.renderLoadError(w, r, data, err)
		return
	}
	data.Employees = list.Items
	data.Page = max(list.Page, 1)
	data.TotalPages = list.TotalPages
	data.Count = list.Count
	data.HasPrev = data.Page > 1
	data.HasNext = data.Page < list.TotalPages
	data.PrevPage = max(1, data.Page-1)
	data.NextPage = data.Page + 1
	s.render(w, http.StatusOK, "employees", data)
}

func (s *server) createEmployee(w http.ResponseWriter, r *http.Request) {
	v := viewerFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/employees", "Invalid form submission.")
		return
	}
	managerID, message, err := resolveManager(r.Context(), v.API, r.FormValue("managerId"), r.FormValue("managerName"))
	if err != nil {
		s.handleActionError(w, r, "/employees", err)
		return
	}
	if message != "" {
		redirectWithError(w, r, "/employees", message)
		return
	}
	emp, err := v.API.CreateEmployee(r.Context(), apiclient.NewEmployee{
		Email:      strings.TrimSpace(r.FormValue("email")),
		FirstName:  strings.TrimSpace(r.FormValue("firstName")),
		LastName:   strings.TrimSpace(r.FormValue("lastName")),
		Role:       r.FormValue("role"),
		Department: strings.TrimSpace(r.FormValue("department")),
		JobTitle:   strings.TrimSpace(r.FormValue("jobTitle")),
		HireDate:   strings.TrimSpace(r.FormValue("hireDate")),
		ManagerID:  managerID,
	})
	if err != nil {
		s.handleActionError(w, r, "/employees", err)
		return
	}
	redirectWithNotice(w, r, "/employees", "Added "+emp.FullName()+".")
}

// resolveManager picks the manager for a new employee. The picker script
// fills id; without it the typed name must match exactly one employee by
// name or email. A non-empty message is a validation problem for the user.
func resolveManager(ctx context.Context, api *apiclient.Client, id, name string) (*string, string, error) {
	if id = strings.TrimSpace(id); id != "" {
		return &id, "", nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", nil
	}
	opts, err := api.SearchEmployees(ctx, name)
	if err != nil {
		return nil, "", err
	}
	matches := lo.Filter(opts, func(opt combobox.Option, _ int) bool {
		return strings.EqualFold(opt.Name, name) || strings.EqualFold(opt.Code, name)
	})
	if len(matches) == 0 && len(opts) == 1 {
		matches = opts
	}
	switch len(matches) {
	case 0:
		return nil, "No employee matches manager \"" + name + "\".", nil
	case 1:
		return &matches[0].ID, "", nil
	default:
		return nil, "More than one employee matches manager \"" + name + "\"; pick one from the suggestions.", nil
	}
}

// managerSearch backs the manager picker on the add employee form.
func (s *server) managerSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v := viewerFromContext(r.Context())
	opts, err := v.API.SearchEmployees(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		status := http.StatusBadGateway
		if apiclient.IsStatus(err, http.StatusUnauthorized) {
			status = http.StatusUnauthorized
		} else {
			s.logger.Warn("manager search failed", zap.Error(err))
		}
		writeJSON(w, status, map[string]string{"error": apiclient.UserMessage(err)})
		return
	}
	if opts == nil {
		opts = []combobox.Option{}
	}
	writeJSON(w, http.StatusOK, opts)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// employeeActionRoute handles /employees/{id}/delete.
func (s *server) employeeActionRoute(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/employees/")
	if len(parts) != 2 || parts[1] != "delete" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v := viewerFromContext(r.Context())
	if err := v.API.DeleteEmployee(r.Context(), parts[0]); err != nil {
		s.handleActionError(w, r, "/employees", err)
		return
	}
	redirectWithNotice(w, r, "/employees", "Employee removed.")
}

func (s *server) benefitTypesRoute(w http.ResponseWriter, r *http.Request) {
	v := viewerFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		data := s.basePage(r, "Benefit types", "benefits")
		data.Categories = benefitCategories
		list, err := v.API.ListBenefitTypes(r.Context())
		if err != nil {
			s.renderLoadError(w, r, data, err)
			return
		}
		data.BenefitTypes = list.Items
		s.render(w, http.StatusOK, "benefits", data)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			redirectWithError(w, r, "/benefit-types", "Invalid form submission.")
			return
		}
		bt, err := v.API.CreateBenefitType(r.Context(),
			strings.TrimSpace(r.FormValue("name")),
			r.FormValue("category"),
			strings.TrimSpace(r.FormValue("description")),
		)
		if err != nil {
			s.handleActionError(w, r, "/benefit-types", err)
			return
		}
		redirectWithNotice(w, r, "/benefit-types", "Added "+bt.Name+".")
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// benefitTypeActionRoute handles /benefit-types/{id}/delete.
func (s *server) benefitTypeActionRoute(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/benefit-types/")
	if len(parts) != 2 || parts[1] != "delete" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := viewerFromContext(r.Context()).API.DeleteBenefitType(r.Context(), parts[0]); err != nil {
		s.handleActionError(w, r, "/benefit-types", err)
		return
	}
	redirectWithNotice(w, r, "/benefit-types", "Benefit type removed.")
}

func (s *server) policyRoute(w http.ResponseWriter, r *http.Request) {
	v := viewerFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		data := s.basePage(r, "Timesheet policy", "policy")
		data.Weekdays = weekdays
		policy, err := v.API.GetTimesheetPolicy(r.Context())
		if err != nil {
			s.renderLoadError(w, r, data, err)
			return
		}
		data.Policy = &policy
		s.render(w, http.StatusOK, "policy", data)
	case http.MethodPost:
		policy, problem := policyFromForm(r)
		if problem != "" {
			redirectWithError(w, r, "/policy", problem)
			return
		}
		if _, err := v.API.SaveTimesheetPolicy(r.Context(), policy); err != nil {
			s.handleActionError(w, r, "/policy", err)
			return
		}
		redirectWithNotice(w, r, "/policy", "Policy saved.")
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// policyFromForm returns the submitted policy, or a message naming the first
// field that could not be read.
func policyFromForm(r *http.Request) (apiclient.TimesheetPolicy, string) {
	if err := r.ParseForm(); err != nil {
		return apiclient.TimesheetPolicy{}, "Invalid form submission."
	}
	perDay, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("maxHoursPerDay")), 64)
	if err != nil {
		return apiclient.TimesheetPolicy{}, "Max hours per day must be a number."
	}
	perWeek, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("maxHoursPerWeek")), 64)
	if err != nil {
		return apiclient.TimesheetPolicy{}, "Max hours per week must be a number."
	}
	leaveDays, err := strconv.Atoi(strings.TrimSpace(r.FormValue("maxLeaveDaysPerRequest")))
	if err != nil {
		return apiclient.TimesheetPolicy{}, "Max leave days must be a whole number."
	}
	return apiclient.TimesheetPolicy{
		WeekStartDay:           r.FormValue("weekStartDay"),
		MaxHoursPerDay:         perDay,
		MaxHoursPerWeek:        perWeek,
		AllowWeekendEntries:    r.FormValue("allowWeekendEntries") == "on",
		RequireApproval:        r.FormValue("requireApproval") == "on",
		MaxLeaveDaysPerRequest: leaveDays,
	}, ""
}

func (s *server) leavePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v := viewerFromContext(r.Context())
	data := s.basePage(r, "Leave requests", "leave")
	data.Statuses = leaveStatuses
	data.Status = r.URL.Query().Get("status")
	if data.Status == "" {
		data.Status = "pending"
	}

	requests, err := v.API.ListLeaveRequests(r.Context(), data.Status)
	if err != nil {
		s.renderLoadError(w, r, data, err)
		return
	}
	people, err := v.API.ListEmployees(r.Context(), apiclient.EmployeeQuery{Status: "all", PerPage: 100})
	if err != nil {
		s.renderLoadError(w, r, data, err)
		return
	}
	names := lo.SliceToMap(people.Items, func(e apiclient.Employee) (string, string) {
		return e.ID, e.FullName()
	})
	data.LeaveRequests = lo.Map(requests.Items, func(lr apiclient.LeaveRequest, _ int) leaveView {
		name := names[lr.EmployeeID]
		if name == "" {
			name = "Unknown employee"
		}
		return leaveView{LeaveRequest: lr, EmployeeName: name, Pending: lr.Status == "pending"}
	})
	s.render(w, http.StatusOK, "leave", data)
}

// leaveActionRoute handles /leave/{id}/approve and /leave/{id}/reject.
func (s *server) leaveActionRoute(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/leave/")
	if len(parts) != 2 || (parts[1] != "approve" && parts[1] != "reject") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	approve := parts[1] == "approve"
	lr, err := viewerFromContext(r.Context()).API.DecideLeaveRequest(r.Context(), parts[0], approve)
	if err != nil {
		s.handleActionError(w, r, "/leave", err)
		return
	}
	redirectWithNotice(w, r, "/leave", "Request "+lr.Status+".")
}

func (s *server) importRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, http.StatusOK, "import", s.basePage(r, "Import users", "import"))
	case http.MethodPost:
		s.importUpload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) importUpload(w http.ResponseWriter, r *http.Request) {
	v := viewerFromContext(r.Context())
	data := s.basePage(r, "Import users", "import")

	r.Body = http.MaxBytesReader(w, r.Body, maxImportUpload+512<<10)
	if err := r.ParseMultipartForm(maxImportUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			data.Error = "The file is too large. Uploads are limited to " + humanize.IBytes(maxImportUpload) + "."
		} else {
			data.Error = "Choose a CSV or Excel file to upload."
		}
		s.render(w, http.StatusBadRequest, "import", data)
		return
	}
	data.DryRun = r.FormValue("dryRun") == "on"

	file, header, err := r.FormFile("file")
	if err != nil {
		data.Error = "Choose a CSV or Excel file to upload."
		s.render(w, http.StatusBadRequest, "import", data)
		return
	}
	defer file.Close()
	data.UploadName = header.Filename

	result, err := v.API.ImportUsers(r.Context(), header.Filename, file, data.DryRun)
	if err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized) {
			s.clearSessionCookie(w)
			redirectWithError(w, r, "/login", apiclient.UserMessage(err))
			return
		}
		data.Error = apiclient.UserMessage(err)
		s.render(w, http.StatusOK, "import", data)
		return
	}
	report := importreport.Build(result)
	data.Report = &report
	s.logger.Info("import submitted",
		zap.String("file", header.Filename),
		zap.Bool("dry_run", data.DryRun),
		zap.Bool("success", result.Success),
		zap.Int("rows", result.TotalRows),
	)
	s.render(w, http.StatusOK, "import", data)
}

func (s *server) importTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}
	body, filename, contentType, err := viewerFromContext(r.Context()).API.ImportTemplate(r.Context(), format)
	if err != nil {
		s.handleActionError(w, r, "/import", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(body)
}
