package apiapp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var leaveTypes = map[string]struct{}{
	"vacation":    {},
	"sick":        {},
	"personal":    {},
	"bereavement": {},
	"unpaid":      {},
}

type leaveRequestRequest struct {
	EmployeeID *string `json:"employeeId"`
	LeaveType  *string `json:"leaveType"`
	StartDate  *string `json:"startDate"`
	EndDate    *string `json:"endDate"`
	Reason     *string `json:"reason"`
}

func (s *server) leaveRequestsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listLeaveRequests(w, r)
	case http.MethodPost:
		s.createLeaveRequest(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) leaveRequestByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, apiPrefix+"/leave-requests/")
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.getLeaveRequest(w, r, parts[0])
		case http.MethodPatch:
			s.updateLeaveRequest(w, r, parts[0])
		case http.MethodDelete:
			s.deleteLeaveRequest(w, r, parts[0])
		default:
			methodNotAllowed(w)
		}
	case len(parts) == 2 && (parts[1] == "approve" || parts[1] == "reject"):
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		next := leaveApproved
		if parts[1] == "reject" {
			next = leaveRejected
		}
		s.decideLeaveRequest(w, r, parts[0], next)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *server) listLeaveRequests(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	q := r.URL.Query()

	db := s.store.scoped(r.Context(), user.TenantID)
	employeeID := strings.TrimSpace(q.Get("employeeId"))
	if !canManage(user) {
		if employeeID != "" && employeeID != user.ID {
			writeError(w, http.StatusForbidden, "you can only view your own leave requests")
			return
		}
		employeeID = user.ID
	}
	if employeeID != "" {
		db = db.Where("employee_id = ?", employeeID)
	}
	switch status := strings.ToLower(strings.TrimSpace(q.Get("status"))); status {
	case "":
	case leavePending, leaveApproved, leaveRejected:
		db = db.Where("status = ?", status)
	default:
		writeError(w, http.StatusBadRequest, "status must be pending, approved or rejected")
		return
	}

	var items []LeaveRequest
	if err := db.Order("start_date desc, created_at desc").Find(&items).Error; err != nil {
		s.writeStoreError(w, err, "", "", "unable to load leave requests")
		return
	}
	writeJSON(w, http.StatusOK, paginate(items, r))
}

func (s *server) getLeaveRequest(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var lr LeaveRequest
	if err := s.store.first(r.Context(), user.TenantID, id, &lr); err != nil {
		s.writeStoreError(w, err, "leave request not found", "", "unable to load leave request")
		return
	}
	if lr.EmployeeID != user.ID && !canManage(user) {
		writeError(w, http.StatusNotFound, "leave request not found")
		return
	}
	writeJSON(w, http.StatusOK, lr)
}

func (s *server) createLeaveRequest(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req leaveRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lr := LeaveRequest{ID: newID(), TenantID: user.TenantID, EmployeeID: user.ID, Status: leavePending}
	applyLeaveRequest(&lr, req)
	if lr.EmployeeID != user.ID && !canManage(user) {
		writeError(w, http.StatusForbidden, "you can only request leave for yourself")
		return
	}
	var emp Employee
	if err := s.store.first(r.Context(), user.TenantID, lr.EmployeeID, &emp); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusBadRequest, "employee not found")
			return
		}
		s.writeStoreError(w, err, "", "", "unable to load employee")
		return
	}

	policy, err := s.policyFor(r.Context(), user.TenantID)
	if err != nil {
		s.writeStoreError(w, err, "", "", "unable to load timesheet policy")
		return
	}
	if msg := validateLeaveRequest(&lr, policy); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if !policy.RequireApproval {
		now := s.now()
		lr.Status = leaveApproved
		lr.DecidedAt = &now
	}
	if err := s.store.create(r.Context(), &lr); err != nil {
		s.writeStoreError(w, err, "", "", "unable to create leave request")
		return
	}
	writeJSON(w, http.StatusCreated, lr)
}

func (s *server) updateLeaveRequest(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var req leaveRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var lr LeaveRequest
	if err := s.store.first(r.Context(), user.TenantID, id, &lr); err != nil {
		s.writeStoreError(w, err, "leave request not found", "", "unable to load leave request")
		return
	}
	if lr.EmployeeID != user.ID && !canManage(user) {
		writeError(w, http.StatusNotFound, "leave request not found")
		return
	}
	if lr.Status != leavePending {
		writeError(w, http.StatusConflict, "only pending leave requests can be changed")
		return
	}
	req.EmployeeID = nil
	applyLeaveRequest(&lr, req)

	policy, err := s.policyFor(r.Context(), user.TenantID)
	if err != nil {
		s.writeStoreError(w, err, "", "", "unable to load timesheet policy")
		return
	}
	if msg := validateLeaveRequest(&lr, policy); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.save(r.Context(), &lr); err != nil {
		s.writeStoreError(w, err, "", "", "unable to update leave request")
		return
	}
	writeJSON(w, http.StatusOK, lr)
}

func (s *server) deleteLeaveRequest(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var lr LeaveRequest
	if err := s.store.first(r.Context(), user.TenantID, id, &lr); err != nil {
		s.writeStoreError(w, err, "leave request not found", "", "unable to load leave request")
		return
	}
	if lr.EmployeeID != user.ID && !canManage(user) {
		writeError(w, http.StatusNotFound, "leave request not found")
		return
	}
	if lr.Status != leavePending && !canManage(user) {
		writeError(w, http.StatusConflict, "only pending leave requests can be withdrawn")
		return
	}
	if err := s.store.deleteByID(r.Context(), user.TenantID, id, &LeaveRequest{}); err != nil {
		s.writeStoreError(w, err, "leave request not found", "", "unable to delete leave request")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decideLeaveRequest moves a pending request to approved or rejected.
// Managers cannot decide their own requests.
func (s *server) decideLeaveRequest(w http.ResponseWriter, r *http.Request, id, next string) {
	user := userFromContext(r.Context())
	if !canManage(user) {
		writeError(w, http.StatusForbidden, "only managers and admins can decide leave requests")
		return
	}
	var lr LeaveRequest
	err := s.store.tx(r.Context(), func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND id = ?", user.TenantID, id).First(&lr).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound
			}
			return err
		}
		if lr.EmployeeID == user.ID && user.Role != roleAdmin {
			return errPolicy{"you cannot decide your own leave request"}
		}
		if lr.Status != leavePending {
			return errConflict
		}
		now := s.now()
		decidedBy := user.ID
		lr.Status = next
		lr.DecidedAt = &now
		lr.DecidedBy = &decidedBy
		return tx.Save(&lr).Error
	})
	if err != nil {
		var policyErr errPolicy
		if errors.As(err, &policyErr) {
			writeError(w, http.StatusForbidden, policyErr.msg)
			return
		}
		s.writeStoreError(w, err, "leave request not found", "leave request is already "+lr.Status, "unable to update leave request")
		return
	}
	s.logger.Info("leave request decided", zap.String("id", lr.ID), zap.String("status", lr.Status))
	writeJSON(w, http.StatusOK, lr)
}

func applyLeaveRequest(lr *LeaveRequest, req leaveRequestRequest) {
	if req.EmployeeID != nil && strings.TrimSpace(*req.EmployeeID) != "" {
		lr.EmployeeID = strings.TrimSpace(*req.EmployeeID)
	}
	if req.LeaveType != nil {
		lr.LeaveType = strings.ToLower(strings.TrimSpace(*req.LeaveType))
	}
	if req.StartDate != nil {
		lr.StartDate = strings.TrimSpace(*req.StartDate)
	}
	if req.EndDate != nil {
		lr.EndDate = strings.TrimSpace(*req.EndDate)
	}
	if req.Reason != nil {
		lr.Reason = strings.TrimSpace(*req.Reason)
	}
}

// validateLeaveRequest checks dates and type and fills Days with the
// inclusive calendar length.
func validateLeaveRequest(lr *LeaveRequest, policy TimesheetPolicy) string {
	if _, ok := leaveTypes[lr.LeaveType]; !ok {
		return "leaveType must be one of vacation, sick, personal, bereavement, unpaid"
	}
	start, err := parseDate(lr.StartDate)
	if err != nil {
		return "startDate must be YYYY-MM-DD"
	}
	end, err := parseDate(lr.EndDate)
	if err != nil {
		return "endDate must be YYYY-MM-DD"
	}
	if end.Before(start) {
		return "endDate cannot be before startDate"
	}
	lr.Days = int(end.Sub(start).Hours()/24) + 1
	if lr.Days > policy.MaxLeaveDaysPerRequest {
		return fmt.Sprintf("leave request exceeds the policy maximum of %d days", policy.MaxLeaveDaysPerRequest)
	}
	return ""
}
