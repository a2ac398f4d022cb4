package apiapp

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"
)

type createTimesheetEntryRequest struct {
	EmployeeID string  `json:"employeeId"`
	ProjectID  string  `json:"projectId"`
	TaskID     *string `json:"taskId"`
	WorkDate   string  `json:"workDate"`
	Hours      float64 `json:"hours"`
	Notes      string  `json:"notes"`
}

// errPolicy marks a timesheet or leave request the policy rejects.
type errPolicy struct{ msg string }

func (e errPolicy) Error() string { return e.msg }

func (s *server) timesheetsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTimesheetEntries(w, r)
	case http.MethodPost:
		s.createTimesheetEntry(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) timesheetByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, apiPrefix+"/timesheets/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	user := userFromContext(r.Context())
	var entry TimesheetEntry
	if err := s.store.first(r.Context(), user.TenantID, parts[0], &entry); err != nil {
		s.writeStoreError(w, err, "timesheet entry not found", "", "unable to load timesheet entry")
		return
	}
	if entry.EmployeeID != user.ID && !canManage(user) {
		writeError(w, http.StatusForbidden, "you can only delete your own entries")
		return
	}
	if err := s.store.deleteByID(r.Context(), user.TenantID, entry.ID, &TimesheetEntry{}); err != nil {
		s.writeStoreError(w, err, "timesheet entry not found", "", "unable to delete timesheet entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listTimesheetEntries(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	q := r.URL.Query()

	employeeID := strings.TrimSpace(q.Get("employeeId"))
	if !canManage(user) {
		if employeeID != "" && employeeID != user.ID {
			writeError(w, http.StatusForbidden, "you can only view your own timesheets")
			return
		}
		employeeID = user.ID
	}

	db := s.store.scoped(r.Context(), user.TenantID)
	if employeeID != "" {
		db = db.Where("employee_id = ?", employeeID)
	}
	for param, clause := range map[string]string{"from": "work_date >= ?", "to": "work_date <= ?"} {
		if raw := strings.TrimSpace(q.Get(param)); raw != "" {
			if _, err := parseDate(raw); err != nil {
				writeError(w, http.StatusBadRequest, param+" must be YYYY-MM-DD")
				return
			}
			db = db.Where(clause, raw)
		}
	}

	var entries []TimesheetEntry
	if err := db.Order("work_date, created_at").Find(&entries).Error; err != nil {
		s.writeStoreError(w, err, "", "", "unable to load timesheet entries")
		return
	}
	total := 0.0
	for _, e := range entries {
		total += e.Hours
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"count":      len(entries),
		"totalHours": total,
	})
}

func (s *server) createTimesheetEntry(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req createTimesheetEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry := TimesheetEntry{
		ID:         newID(),
		TenantID:   user.TenantID,
		EmployeeID: strings.TrimSpace(req.EmployeeID),
		ProjectID:  strings.TrimSpace(req.ProjectID),
		TaskID:     emptyToNil(trimmedPtr(req.TaskID)),
		WorkDate:   strings.TrimSpace(req.WorkDate),
		Hours:      req.Hours,
		Notes:      strings.TrimSpace(req.Notes),
	}
	if entry.EmployeeID == "" {
		entry.EmployeeID = user.ID
	}
	if entry.EmployeeID != user.ID && !canManage(user) {
		writeError(w, http.StatusForbidden, "you can only log time for yourself")
		return
	}

	workDate, err := parseDate(entry.WorkDate)
	switch {
	case err != nil:
		writeError(w, http.StatusBadRequest, "workDate must be YYYY-MM-DD")
		return
	case entry.ProjectID == "":
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	case entry.Hours <= 0 || math.IsNaN(entry.Hours) || math.IsInf(entry.Hours, 0):
		writeError(w, http.StatusBadRequest, "hours must be greater than zero")
		return
	}

	err = s.store.tx(r.Context(), func(tx *gorm.DB) error {
		scoped := func() *gorm.DB { return tx.Where("tenant_id = ?", user.TenantID) }

		var emp Employee
		if err := scoped().Where("id = ?", entry.EmployeeID).First(&emp).Error; err != nil {
			return notFoundAs(err, "employee not found")
		}
		var project Project
		if err := scoped().Where("id = ?", entry.ProjectID).First(&project).Error; err != nil {
			return notFoundAs(err, "project not found")
		}
		if !project.Active {
			return errPolicy{"project is inactive"}
		}
		if entry.TaskID != nil {
			var task Task
			if err := scoped().Where("id = ?", *entry.TaskID).First(&task).Error; err != nil {
				return notFoundAs(err, "task not found")
			}
			if task.ProjectID != project.ID {
				return errPolicy{"task does not belong to the project"}
			}
		}

		var policy TimesheetPolicy
		if err := tx.First(&policy, "tenant_id = ?", user.TenantID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			policy = defaultPolicy(user.TenantID)
		}
		if wd := workDate.Weekday(); !policy.AllowWeekendEntries && (wd == time.Saturday || wd == time.Sunday) {
			return errPolicy{"weekend entries are not allowed by the timesheet policy"}
		}

		dayTotal, err := sumHours(scoped(), entry.EmployeeID, entry.WorkDate, entry.WorkDate)
		if err != nil {
			return err
		}
		if dayTotal+entry.Hours > policy.MaxHoursPerDay {
			return errPolicy{fmt.Sprintf("entry would exceed %g hours on %s", policy.MaxHoursPerDay, entry.WorkDate)}
		}
		weekStart, weekEnd := weekBounds(workDate, weekdayOf(policy.WeekStartDay))
		weekTotal, err := sumHours(scoped(), entry.EmployeeID, weekStart.Format(dateLayout), weekEnd.Format(dateLayout))
		if err != nil {
			return err
		}
		if weekTotal+entry.Hours > policy.MaxHoursPerWeek {
			return errPolicy{fmt.Sprintf("entry would exceed %g hours in the week of %s", policy.MaxHoursPerWeek, weekStart.Format(dateLayout))}
		}

		entry.CreatedAt = s.now()
		return tx.Create(&entry).Error
	})
	if err != nil {
		var policyErr errPolicy
		if errors.As(err, &policyErr) {
			writeError(w, http.StatusBadRequest, policyErr.msg)
			return
		}
		s.writeStoreError(w, err, "", "", "unable to save timesheet entry")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func sumHours(db *gorm.DB, employeeID, from, to string) (float64, error) {
	var total float64
	err := db.Model(&TimesheetEntry{}).
		Where("employee_id = ? AND work_date >= ? AND work_date <= ?", employeeID, from, to).
		Select("COALESCE(SUM(hours), 0)").
		Scan(&total).Error
	return total, err
}

// notFoundAs turns a missing referenced row into a 400-worthy policy error.
func notFoundAs(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errPolicy{msg}
	}
	return err
}
