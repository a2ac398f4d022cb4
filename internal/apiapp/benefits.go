package apiapp

import (
	"net/http"
	"strings"
)

var benefitCategories = map[string]struct{}{
	"health":     {},
	"dental":     {},
	"vision":     {},
	"retirement": {},
	"insurance":  {},
	"wellness":   {},
	"other":      {},
}

type benefitTypeRequest struct {
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

func (s *server) benefitTypesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listBenefitTypes(w, r)
	case http.MethodPost:
		s.createBenefitType(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) benefitTypeByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, apiPrefix+"/benefit-types/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user := userFromContext(r.Context())
		var bt BenefitType
		if err := s.store.first(r.Context(), user.TenantID, parts[0], &bt); err != nil {
			s.writeStoreError(w, err, "benefit type not found", "", "unable to load benefit type")
			return
		}
		writeJSON(w, http.StatusOK, bt)
	case http.MethodPatch:
		s.updateBenefitType(w, r, parts[0])
	case http.MethodDelete:
		user := userFromContext(r.Context())
		if err := s.store.deleteByID(r.Context(), user.TenantID, parts[0], &BenefitType{}); err != nil {
			s.writeStoreError(w, err, "benefit type not found", "", "unable to delete benefit type")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) listBenefitTypes(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	db := s.store.scoped(r.Context(), user.TenantID)
	if category := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category"))); category != "" {
		db = db.Where("category = ?", category)
	}
	if parseBoolQueryValue(r.URL.Query().Get("activeOnly")) {
		db = db.Where("active = ?", true)
	}
	var items []BenefitType
	if err := db.Order("name").Find(&items).Error; err != nil {
		s.writeStoreError(w, err, "", "", "unable to load benefit types")
		return
	}
	items = rankByQuery(items, r.URL.Query().Get("q"), func(b BenefitType) string { return b.Name })
	writeJSON(w, http.StatusOK, paginate(items, r))
}

func (s *server) createBenefitType(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req benefitTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bt := BenefitType{ID: newID(), TenantID: user.TenantID, Category: "other", Active: true}
	applyBenefitType(&bt, req)
	if msg := validateBenefitType(bt); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.create(r.Context(), &bt); err != nil {
		s.writeStoreError(w, err, "", "a benefit type with this name already exists", "unable to create benefit type")
		return
	}
	writeJSON(w, http.StatusCreated, bt)
}

func (s *server) updateBenefitType(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var req benefitTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var bt BenefitType
	if err := s.store.first(r.Context(), user.TenantID, id, &bt); err != nil {
		s.writeStoreError(w, err, "benefit type not found", "", "unable to load benefit type")
		return
	}
	applyBenefitType(&bt, req)
	if msg := validateBenefitType(bt); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.save(r.Context(), &bt); err != nil {
		s.writeStoreError(w, err, "", "a benefit type with this name already exists", "unable to update benefit type")
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

func applyBenefitType(bt *BenefitType, req benefitTypeRequest) {
	if req.Name != nil {
		bt.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		bt.Category = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.Description != nil {
		bt.Description = strings.TrimSpace(*req.Description)
	}
	if req.Active != nil {
		bt.Active = *req.Active
	}
}

func validateBenefitType(bt BenefitType) string {
	if bt.Name == "" {
		return "name is required"
	}
	if len(bt.Name) > 120 {
		return "name must be at most 120 characters"
	}
	if _, ok := benefitCategories[bt.Category]; !ok {
		return "category must be one of health, dental, vision, retirement, insurance, wellness, other"
	}
	return ""
}
