package apiapp

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/phillip-england/hrsuite/internal/importer"
	"github.com/phillip-england/hrsuite/internal/security"
)

type createEmployeeRequest struct {
	Email      string  `json:"email"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Role       string  `json:"role"`
	Department string  `json:"department"`
	JobTitle   string  `json:"jobTitle"`
	ManagerID  *string `json:"managerId"`
	HireDate   string  `json:"hireDate"`
	Password   string  `json:"password"`
}

type updateEmployeeRequest struct {
	Email      *string `json:"email"`
	FirstName  *string `json:"firstName"`
	LastName   *string `json:"lastName"`
	Role       *string `json:"role"`
	Department *string `json:"department"`
	JobTitle   *string `json:"jobTitle"`
	ManagerID  *string `json:"managerId"`
	HireDate   *string `json:"hireDate"`
	Status     *string `json:"status"`
	Password   *string `json:"password"`
}

func (s *server) employeesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEmployees(w, r)
	case http.MethodPost:
		s.createEmployee(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) employeeByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, apiPrefix+"/employees/")
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.getEmployee(w, r, parts[0])
		case http.MethodPatch:
			s.updateEmployee(w, r, parts[0])
		case http.MethodDelete:
			s.deleteEmployee(w, r, parts[0])
		default:
			methodNotAllowed(w)
		}
	case len(parts) == 2 && parts[1] == "photo":
		switch r.Method {
		case http.MethodGet:
			s.getEmployeePhoto(w, r, parts[0])
		case http.MethodPut:
			s.uploadEmployeePhoto(w, r, parts[0])
		default:
			methodNotAllowed(w)
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *server) listEmployees(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	q := r.URL.Query()

	db := s.store.scoped(r.Context(), user.TenantID)
	if department := strings.TrimSpace(q.Get("department")); department != "" {
		db = db.Where("department = ?", department)
	}
	if managerID := strings.TrimSpace(q.Get("managerId")); managerID != "" {
		db = db.Where("manager_id = ?", managerID)
	}
	status := strings.ToLower(strings.TrimSpace(q.Get("status")))
	if status == "" {
		status = statusActive
	}
	switch status {
	case statusActive, statusInactive:
		db = db.Where("status = ?", status)
	case "all":
	default:
		writeError(w, http.StatusBadRequest, "status must be active, inactive or all")
		return
	}

	var employees []Employee
	if err := db.Order("last_name, first_name").Find(&employees).Error; err != nil {
		s.writeStoreError(w, err, "", "", "unable to load employees")
		return
	}
	employees = rankByQuery(employees, q.Get("q"), func(e Employee) string {
		return e.FullName() + " " + e.Email
	})
	writeJSON(w, http.StatusOK, paginate(employees, r))
}

func (s *server) createEmployee(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req createEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	emp := Employee{
		ID:         newID(),
		TenantID:   user.TenantID,
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName:  strings.TrimSpace(req.FirstName),
		LastName:   strings.TrimSpace(req.LastName),
		Role:       strings.ToLower(strings.TrimSpace(req.Role)),
		Department: strings.TrimSpace(req.Department),
		JobTitle:   strings.TrimSpace(req.JobTitle),
		ManagerID:  emptyToNil(trimmedPtr(req.ManagerID)),
		Status:     statusActive,
	}
	if emp.Role == "" {
		emp.Role = roleEmployee
	}
	if req.HireDate != "" {
		hire, ok := importer.NormalizeDate(req.HireDate)
		if !ok {
			writeError(w, http.StatusBadRequest, "hireDate is not a valid date")
			return
		}
		emp.HireDate = hire
	}
	if err := validateEmployee(emp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if emp.Role == roleAdmin && user.Role != roleAdmin {
		writeError(w, http.StatusForbidden, "only admins can create admins")
		return
	}
	if req.Password != "" {
		hash, err := security.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		emp.PasswordHash = hash
	}
	if status, msg := s.checkManager(r.Context(), emp); status != 0 {
		writeError(w, status, msg)
		return
	}

	if err := s.store.create(r.Context(), &emp); err != nil {
		s.writeStoreError(w, err, "", "an employee with this email already exists", "unable to create employee")
		return
	}
	s.logger.Info("employee created", zap.String("tenant", user.TenantID), zap.String("employee", emp.ID))
	writeJSON(w, http.StatusCreated, emp)
}

func (s *server) getEmployee(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var emp Employee
	if err := s.store.first(r.Context(), user.TenantID, id, &emp); err != nil {
		s.writeStoreError(w, err, "employee not found", "", "unable to load employee")
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

func (s *server) updateEmployee(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var req updateEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var emp Employee
	if err := s.store.first(r.Context(), user.TenantID, id, &emp); err != nil {
		s.writeStoreError(w, err, "employee not found", "", "unable to load employee")
		return
	}
	wasAdmin := emp.Role == roleAdmin

	if req.Email != nil {
		emp.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.FirstName != nil {
		emp.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		emp.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Role != nil {
		emp.Role = strings.ToLower(strings.TrimSpace(*req.Role))
	}
	if req.Department != nil {
		emp.Department = strings.TrimSpace(*req.Department)
	}
	if req.JobTitle != nil {
		emp.JobTitle = strings.TrimSpace(*req.JobTitle)
	}
	if req.ManagerID != nil {
		emp.ManagerID = emptyToNil(trimmedPtr(req.ManagerID))
	}
	if req.HireDate != nil {
		emp.HireDate = ""
		if strings.TrimSpace(*req.HireDate) != "" {
			hire, ok := importer.NormalizeDate(*req.HireDate)
			if !ok {
				writeError(w, http.StatusBadRequest, "hireDate is not a valid date")
				return
			}
			emp.HireDate = hire
		}
	}
	if req.Status != nil {
		emp.Status = strings.ToLower(strings.TrimSpace(*req.Status))
		if emp.Status != statusActive && emp.Status != statusInactive {
			writeError(w, http.StatusBadRequest, "status must be active or inactive")
			return
		}
	}
	if err := validateEmployee(emp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if user.Role != roleAdmin && (wasAdmin || emp.Role == roleAdmin) {
		writeError(w, http.StatusForbidden, "only admins can change admin accounts")
		return
	}
	if emp.ID == user.ID && (emp.Role != user.Role || emp.Status != statusActive) {
		writeError(w, http.StatusConflict, "you cannot change your own role or deactivate yourself")
		return
	}
	if req.Password != nil {
		hash, err := security.HashPassword(*req.Password)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		emp.PasswordHash = hash
	}
	if status, msg := s.checkManager(r.Context(), emp); status != 0 {
		writeError(w, status, msg)
		return
	}

	if err := s.store.save(r.Context(), &emp); err != nil {
		s.writeStoreError(w, err, "", "an employee with this email already exists", "unable to update employee")
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

func (s *server) deleteEmployee(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	if id == user.ID {
		writeError(w, http.StatusConflict, "you cannot delete your own account")
		return
	}
	var emp Employee
	if err := s.store.first(r.Context(), user.TenantID, id, &emp); err != nil {
		s.writeStoreError(w, err, "employee not found", "", "unable to load employee")
		return
	}
	if emp.Role == roleAdmin && user.Role != roleAdmin {
		writeError(w, http.StatusForbidden, "only admins can delete admins")
		return
	}

	err := s.store.tx(r.Context(), func(tx *gorm.DB) error {
		scoped := func() *gorm.DB { return tx.Where("tenant_id = ?", user.TenantID) }
		if err := scoped().Model(&Employee{}).Where("manager_id = ?", id).Update("manager_id", nil).Error; err != nil {
			return err
		}
		for _, model := range []any{&TimesheetEntry{}, &LeaveRequest{}, &Session{}, &EmployeePhoto{}} {
			if err := scoped().Where("employee_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return scoped().Where("id = ?", id).Delete(&Employee{}).Error
	})
	if err != nil {
		s.writeStoreError(w, err, "employee not found", "", "unable to delete employee")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkManager enforces that a manager exists in the tenant, is not the
// employee and would not create a reporting cycle.
func (s *server) checkManager(ctx context.Context, emp Employee) (int, string) {
	if emp.ManagerID == nil {
		return 0, ""
	}
	if *emp.ManagerID == emp.ID {
		return http.StatusBadRequest, "an employee cannot be their own manager"
	}

	var all []Employee
	if err := s.store.scoped(ctx, emp.TenantID).Select("id", "manager_id").Find(&all).Error; err != nil {
		s.logger.Error("load reporting chain", zap.Error(err))
		return http.StatusInternalServerError, "unable to verify manager"
	}
	managers := lo.SliceToMap(all, func(e Employee) (string, *string) { return e.ID, e.ManagerID })
	if _, ok := managers[*emp.ManagerID]; !ok {
		return http.StatusBadRequest, "manager not found"
	}
	seen := map[string]bool{emp.ID: true}
	for cursor := emp.ManagerID; cursor != nil; cursor = managers[*cursor] {
		if seen[*cursor] {
			return http.StatusBadRequest, "manager assignment would create a reporting cycle"
		}
		seen[*cursor] = true
	}
	return 0, ""
}

func validateEmployee(emp Employee) error {
	switch {
	case emp.Email == "":
		return errors.New("email is required")
	case !validEmail(emp.Email):
		return errors.New("email is not a valid address")
	case emp.FirstName == "" || emp.LastName == "":
		return errors.New("firstName and lastName are required")
	case !importer.ValidRole(emp.Role):
		return errors.New("role must be admin, manager or employee")
	}
	return nil
}

func validEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	return err == nil && strings.EqualFold(addr.Address, value)
}

func emptyToNil(value *string) *string {
	if value == nil || *value == "" {
		return nil
	}
	return value
}
