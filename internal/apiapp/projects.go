package apiapp

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"gorm.io/gorm"
)

var projectCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,19}$`)

type projectRequest struct {
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

type taskRequest struct {
	ProjectID   *string `json:"projectId"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

func (s *server) projectsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listProjects(w, r)
	case http.MethodPost:
		s.createProject(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) projectByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, apiPrefix+"/projects/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	user := userFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		var p Project
		if err := s.store.first(r.Context(), user.TenantID, parts[0], &p); err != nil {
			s.writeStoreError(w, err, "project not found", "", "unable to load project")
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPatch:
		s.updateProject(w, r, parts[0])
	case http.MethodDelete:
		s.deleteProject(w, r, parts[0])
	default:
		methodNotAllowed(w)
	}
}

func (s *server) listProjects(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	db := s.store.scoped(r.Context(), user.TenantID)
	if parseBoolQueryValue(r.URL.Query().Get("activeOnly")) {
		db = db.Where("active = ?", true)
	}
	var projects []Project
	if err := db.Order("code").Find(&projects).Error; err != nil {
		s.writeStoreError(w, err, "", "", "unable to load projects")
		return
	}
	projects = rankByQuery(projects, r.URL.Query().Get("q"), func(p Project) string {
		return p.Code + " " + p.Name
	})
	writeJSON(w, http.StatusOK, paginate(projects, r))
}

func (s *server) createProject(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := Project{ID: newID(), TenantID: user.TenantID, Active: true}
	applyProject(&p, req)
	if msg := validateProject(p); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.create(r.Context(), &p); err != nil {
		s.writeStoreError(w, err, "", "a project with this code already exists", "unable to create project")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) updateProject(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p Project
	if err := s.store.first(r.Context(), user.TenantID, id, &p); err != nil {
		s.writeStoreError(w, err, "project not found", "", "unable to load project")
		return
	}
	applyProject(&p, req)
	if msg := validateProject(p); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.save(r.Context(), &p); err != nil {
		s.writeStoreError(w, err, "", "a project with this code already exists", "unable to update project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// deleteProject refuses while timesheet entries reference the project; its
// tasks go with it.
func (s *server) deleteProject(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	err := s.store.tx(r.Context(), func(tx *gorm.DB) error {
		var entries int64
		if err := tx.Model(&TimesheetEntry{}).Where("tenant_id = ? AND project_id = ?", user.TenantID, id).Count(&entries).Error; err != nil {
			return err
		}
		if entries > 0 {
			return errConflict
		}
		if err := tx.Where("tenant_id = ? AND project_id = ?", user.TenantID, id).Delete(&Task{}).Error; err != nil {
			return err
		}
		res := tx.Where("tenant_id = ? AND id = ?", user.TenantID, id).Delete(&Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNotFound
		}
		return nil
	})
	if err != nil {
		s.writeStoreError(w, err, "project not found", "project has timesheet entries; deactivate it instead", "unable to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func applyProject(p *Project, req projectRequest) {
	if req.Code != nil {
		p.Code = strings.ToUpper(strings.TrimSpace(*req.Code))
	}
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = strings.TrimSpace(*req.Description)
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
}

func validateProject(p Project) string {
	if !projectCodePattern.MatchString(p.Code) {
		return "code must be 2-20 letters, digits, dashes or underscores"
	}
	if p.Name == "" {
		return "name is required"
	}
	return ""
}

func (s *server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r)
	case http.MethodPost:
		s.createTask(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) taskByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, apiPrefix+"/tasks/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	user := userFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		var t Task
		if err := s.store.first(r.Context(), user.TenantID, parts[0], &t); err != nil {
			s.writeStoreError(w, err, "task not found", "", "unable to load task")
			return
		}
		writeJSON(w, http.StatusOK, t)
	case http.MethodPatch:
		s.updateTask(w, r, parts[0])
	case http.MethodDelete:
		var entries int64
		if err := s.store.scoped(r.Context(), user.TenantID).Model(&TimesheetEntry{}).Where("task_id = ?", parts[0]).Count(&entries).Error; err != nil {
			s.writeStoreError(w, err, "", "", "unable to delete task")
			return
		}
		if entries > 0 {
			writeError(w, http.StatusConflict, "task has timesheet entries; deactivate it instead")
			return
		}
		if err := s.store.deleteByID(r.Context(), user.TenantID, parts[0], &Task{}); err != nil {
			s.writeStoreError(w, err, "task not found", "", "unable to delete task")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) listTasks(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	db := s.store.scoped(r.Context(), user.TenantID)
	if projectID := strings.TrimSpace(r.URL.Query().Get("projectId")); projectID != "" {
		db = db.Where("project_id = ?", projectID)
	}
	if parseBoolQueryValue(r.URL.Query().Get("activeOnly")) {
		db = db.Where("active = ?", true)
	}
	var tasks []Task
	if err := db.Order("name").Find(&tasks).Error; err != nil {
		s.writeStoreError(w, err, "", "", "unable to load tasks")
		return
	}
	tasks = rankByQuery(tasks, r.URL.Query().Get("q"), func(t Task) string { return t.Name })
	writeJSON(w, http.StatusOK, paginate(tasks, r))
}

func (s *server) createTask(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t := Task{ID: newID(), TenantID: user.TenantID, Active: true}
	applyTask(&t, req)
	if !s.validTaskOrError(w, r, t) {
		return
	}
	if err := s.store.create(r.Context(), &t); err != nil {
		s.writeStoreError(w, err, "", "task already exists", "unable to create task")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *server) updateTask(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var t Task
	if err := s.store.first(r.Context(), user.TenantID, id, &t); err != nil {
		s.writeStoreError(w, err, "task not found", "", "unable to load task")
		return
	}
	applyTask(&t, req)
	if !s.validTaskOrError(w, r, t) {
		return
	}
	if err := s.store.save(r.Context(), &t); err != nil {
		s.writeStoreError(w, err, "", "task already exists", "unable to update task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) validTaskOrError(w http.ResponseWriter, r *http.Request, t Task) bool {
	if t.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return false
	}
	if t.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return false
	}
	var p Project
	if err := s.store.first(r.Context(), t.TenantID, t.ProjectID, &p); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusBadRequest, "project not found")
			return false
		}
		s.writeStoreError(w, err, "", "", "unable to load project")
		return false
	}
	return true
}

func applyTask(t *Task, req taskRequest) {
	if req.ProjectID != nil {
		t.ProjectID = strings.TrimSpace(*req.ProjectID)
	}
	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		t.Description = strings.TrimSpace(*req.Description)
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
}
