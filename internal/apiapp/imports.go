package apiapp

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/phillip-england/hrsuite/internal/importer"
)

const maxImportBytes = 10 << 20

func (s *server) importUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user := userFromContext(r.Context())
	dryRun := parseBoolQueryValue(r.URL.Query().Get("dryRun"))

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes+(512<<10))
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the "+humanize.IBytes(maxImportBytes)+" upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid upload form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if header.Size > maxImportBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the "+humanize.IBytes(maxImportBytes)+" upload limit")
		return
	}

	sheet, err := importer.ReadRows(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := importer.Parse(sheet)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "the file has no user rows")
		return
	}

	var existing []Employee
	if err := s.store.scoped(r.Context(), user.TenantID).Select("id", "email").Find(&existing).Error; err != nil {
		s.writeStoreError(w, err, "", "", "unable to load employees")
		return
	}
	idsByEmail := lo.SliceToMap(existing, func(e Employee) (string, string) { return e.Email, e.ID })
	existingEmails := lo.MapValues(idsByEmail, func(string, string) bool { return true })

	if rowErrors := importer.Validate(rows, existingEmails); len(rowErrors) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, importer.Failed(len(rows), dryRun, rowErrors))
		return
	}

	ordered := importer.OrderForCreate(rows)
	created := make([]importer.CreatedUser, 0, len(ordered))
	employees := make([]Employee, 0, len(ordered))
	for _, row := range ordered {
		emp := Employee{
			ID:         newID(),
			TenantID:   user.TenantID,
			Email:      row.Email,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			Role:       row.Role,
			Department: row.Department,
			JobTitle:   row.JobTitle,
			HireDate:   row.HireDate,
			Status:     statusActive,
		}
		idsByEmail[emp.Email] = emp.ID
		employees = append(employees, emp)
	}
	for i, row := range ordered {
		if row.ManagerEmail != "" {
			managerID := idsByEmail[row.ManagerEmail]
			employees[i].ManagerID = &managerID
		}
		createdUser := importer.CreatedUser{
			Row:        row.Line,
			Email:      row.Email,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			Role:       row.Role,
			Department: row.Department,
		}
		if !dryRun {
			createdUser.ID = employees[i].ID
		}
		created = append(created, createdUser)
	}

	if !dryRun {
		err := s.store.tx(r.Context(), func(tx *gorm.DB) error {
			return tx.CreateInBatches(&employees, 200).Error
		})
		if err != nil {
			s.writeStoreError(w, translateWriteError(err), "", "one of the users was created by someone else during the import; upload again", "unable to import users")
			return
		}
		s.logger.Info("users imported",
			zap.String("tenant", user.TenantID),
			zap.Int("created", len(employees)),
			zap.String("file", header.Filename),
		)
	}

	slices.SortFunc(created, func(a, b importer.CreatedUser) int { return cmp.Compare(a.Row, b.Row) })
	writeJSON(w, http.StatusOK, importer.Succeeded(len(rows), dryRun, created))
}

func (s *server) importTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	data, contentType, filename, err := importer.Template(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
