package apiapp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

type timesheetPolicyRequest struct {
	WeekStartDay           *string  `json:"weekStartDay"`
	MaxHoursPerDay         *float64 `json:"maxHoursPerDay"`
	MaxHoursPerWeek        *float64 `json:"maxHoursPerWeek"`
	AllowWeekendEntries    *bool    `json:"allowWeekendEntries"`
	RequireApproval        *bool    `json:"requireApproval"`
	MaxLeaveDaysPerRequest *int     `json:"maxLeaveDaysPerRequest"`
}

func defaultPolicy(tenantID string) TimesheetPolicy {
	return TimesheetPolicy{
		TenantID:               tenantID,
		WeekStartDay:           "monday",
		MaxHoursPerDay:         12,
		MaxHoursPerWeek:        60,
		AllowWeekendEntries:    false,
		RequireApproval:        true,
		MaxLeaveDaysPerRequest: 30,
		IsDefault:              true,
	}
}

// policyFor returns the tenant's stored policy or the defaults.
func (s *server) policyFor(ctx context.Context, tenantID string) (TimesheetPolicy, error) {
	var policy TimesheetPolicy
	err := s.store.db.WithContext(ctx).First(&policy, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultPolicy(tenantID), nil
	}
	return policy, err
}

// timesheetPolicyHandler serves the tenant's single policy. DELETE resets it
// to the defaults.
func (s *server) timesheetPolicyHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		policy, err := s.policyFor(r.Context(), user.TenantID)
		if err != nil {
			s.writeStoreError(w, err, "", "", "unable to load timesheet policy")
			return
		}
		writeJSON(w, http.StatusOK, policy)
	case http.MethodPost:
		s.createTimesheetPolicy(w, r)
	case http.MethodPatch:
		s.updateTimesheetPolicy(w, r)
	case http.MethodDelete:
		err := withSQLiteRetry(func() error {
			return s.store.db.WithContext(r.Context()).Delete(&TimesheetPolicy{}, "tenant_id = ?", user.TenantID).Error
		})
		if err != nil {
			s.writeStoreError(w, err, "", "", "unable to reset timesheet policy")
			return
		}
		writeJSON(w, http.StatusOK, defaultPolicy(user.TenantID))
	default:
		methodNotAllowed(w)
	}
}

func (s *server) createTimesheetPolicy(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req timesheetPolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	policy := defaultPolicy(user.TenantID)
	applyPolicy(&policy, req)
	if msg := validatePolicy(policy); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	policy.IsDefault = false
	policy.UpdatedAt = s.now()
	if err := s.store.create(r.Context(), &policy); err != nil {
		s.writeStoreError(w, err, "", "a timesheet policy already exists; use PATCH to change it", "unable to save timesheet policy")
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

func (s *server) updateTimesheetPolicy(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req timesheetPolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	policy, err := s.policyFor(r.Context(), user.TenantID)
	if err != nil {
		s.writeStoreError(w, err, "", "", "unable to load timesheet policy")
		return
	}
	applyPolicy(&policy, req)
	if msg := validatePolicy(policy); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	policy.IsDefault = false
	policy.UpdatedAt = s.now()
	if err := s.store.save(r.Context(), &policy); err != nil {
		s.writeStoreError(w, err, "", "", "unable to save timesheet policy")
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func applyPolicy(p *TimesheetPolicy, req timesheetPolicyRequest) {
	if req.WeekStartDay != nil {
		p.WeekStartDay = strings.ToLower(strings.TrimSpace(*req.WeekStartDay))
	}
	if req.MaxHoursPerDay != nil {
		p.MaxHoursPerDay = *req.MaxHoursPerDay
	}
	if req.MaxHoursPerWeek != nil {
		p.MaxHoursPerWeek = *req.MaxHoursPerWeek
	}
	if req.AllowWeekendEntries != nil {
		p.AllowWeekendEntries = *req.AllowWeekendEntries
	}
	if req.RequireApproval != nil {
		p.RequireApproval = *req.RequireApproval
	}
	if req.MaxLeaveDaysPerRequest != nil {
		p.MaxLeaveDaysPerRequest = *req.MaxLeaveDaysPerRequest
	}
}

func validatePolicy(p TimesheetPolicy) string {
	switch {
	case weekdayOf(p.WeekStartDay) < 0:
		return "weekStartDay must be a day of the week"
	case p.MaxHoursPerDay <= 0 || p.MaxHoursPerDay > 24:
		return "maxHoursPerDay must be between 0 and 24"
	case p.MaxHoursPerWeek <= 0 || p.MaxHoursPerWeek > 168:
		return "maxHoursPerWeek must be between 0 and 168"
	case p.MaxHoursPerWeek < p.MaxHoursPerDay:
		return "maxHoursPerWeek cannot be less than maxHoursPerDay"
	case p.MaxLeaveDaysPerRequest < 1 || p.MaxLeaveDaysPerRequest > 365:
		return "maxLeaveDaysPerRequest must be between 1 and 365"
	}
	return ""
}

func weekdayOf(name string) time.Weekday {
	day, ok := weekdays[name]
	if !ok {
		return -1
	}
	return day
}

// weekBounds returns the first and last date of the policy week holding day.
func weekBounds(day time.Time, weekStart time.Weekday) (time.Time, time.Time) {
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}
