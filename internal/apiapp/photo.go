package apiapp

import (
	"bytes"
	"errors"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	photoSize     = 256
	maxPhotoBytes = 10 << 20
)

func (s *server) getEmployeePhoto(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var photo EmployeePhoto
	err := s.store.scoped(r.Context(), user.TenantID).Where("employee_id = ?", id).First(&photo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}
	if err != nil {
		s.writeStoreError(w, err, "", "", "unable to load photo")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(photo.Data)
}

func (s *server) uploadEmployeePhoto(w http.ResponseWriter, r *http.Request, id string) {
	user := userFromContext(r.Context())
	var emp Employee
	if err := s.store.first(r.Context(), user.TenantID, id, &emp); err != nil {
		s.writeStoreError(w, err, "employee not found", "", "unable to load employee")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+(1<<20))
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "photo exceeds the 10 MB limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid upload form")
		return
	}
	file, _, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "photo file is required")
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes))
	if err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "photo file is empty")
		return
	}

	encoded, err := processPhoto(raw,
		parsePositiveInt(r.FormValue("crop_x"), 0),
		parsePositiveInt(r.FormValue("crop_y"), 0),
		parsePositiveInt(r.FormValue("crop_size"), 0),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	photo := EmployeePhoto{EmployeeID: emp.ID, TenantID: emp.TenantID, Data: encoded, UpdatedAt: s.now()}
	err = s.store.tx(r.Context(), func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&photo).Error; err != nil {
			return err
		}
		return tx.Model(&Employee{}).Where("id = ? AND tenant_id = ?", emp.ID, emp.TenantID).Update("has_photo", true).Error
	})
	if err != nil {
		s.writeStoreError(w, err, "", "", "unable to save photo")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "photo updated", "size": photoSize})
}

// processPhoto crops a square (centred unless a crop is given) and scales it
// to photoSize x photoSize PNG.
func processPhoto(raw []byte, cropX, cropY, cropSize int) ([]byte, error) {
	switch http.DetectContentType(raw) {
	case "image/png", "image/jpeg", "image/webp":
	default:
		return nil, errors.New("photo must be png, jpeg, or webp")
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		decoded, webpErr := webp.Decode(bytes.NewReader(raw))
		if webpErr != nil {
			return nil, errors.New("unable to decode photo")
		}
		img = decoded
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, errors.New("invalid image dimensions")
	}

	minDim := min(width, height)
	if cropSize <= 0 || cropSize > minDim {
		cropSize = minDim
		cropX = (width - cropSize) / 2
		cropY = (height - cropSize) / 2
	}
	cropX = max(0, min(cropX, width-cropSize))
	cropY = max(0, min(cropY, height-cropSize))

	cropRect := image.Rect(0, 0, cropSize, cropSize)
	cropped := image.NewRGBA(cropRect)
	stddraw.Draw(cropped, cropRect, img, image.Point{X: bounds.Min.X + cropX, Y: bounds.Min.Y + cropY}, stddraw.Src)

	scaled := image.NewRGBA(image.Rect(0, 0, photoSize, photoSize))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), cropped, cropped.Bounds(), xdraw.Over, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, scaled); err != nil {
		return nil, errors.New("unable to encode photo")
	}
	return out.Bytes(), nil
}
