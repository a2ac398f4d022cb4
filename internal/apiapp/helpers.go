package apiapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
	dateLayout     = "2006-01-02"
)

// page is the envelope every list endpoint returns.
type page[T any] struct {
	Items      []T `json:"items"`
	Count      int `json:"count"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalPages int `json:"totalPages"`
}

func paginate[T any](items []T, r *http.Request) page[T] {
	pageNum := parsePositiveInt(r.URL.Query().Get("page"), 1)
	perPage := parsePositiveInt(r.URL.Query().Get("perPage"), defaultPerPage)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	total := len(items)
	totalPages := 1
	if total > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	if pageNum > totalPages {
		pageNum = totalPages
	}
	start := (pageNum - 1) * perPage
	end := start + perPage
	if end > total {
		end = total
	}

	out := make([]T, 0, end-start)
	out = append(out, items[start:end]...)
	return page[T]{
		Items:      out,
		Count:      total,
		Page:       pageNum,
		PerPage:    perPage,
		TotalPages: totalPages,
	}
}

// pathParts splits the path below prefix, e.g. "/api/v1/employees/abc/photo"
// with prefix "/api/v1/employees/" gives ["abc", "photo"].
func pathParts(r *http.Request, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func parsePositiveInt(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseBoolQueryValue(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseDate(value string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(value))
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	return &v
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeStoreError maps store sentinels to statuses; anything else is a 500
// carrying fallback as its message.
func (s *server) writeStoreError(w http.ResponseWriter, err error, notFound, conflict, fallback string) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, errConflict):
		writeError(w, http.StatusConflict, conflict)
	default:
		s.logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
