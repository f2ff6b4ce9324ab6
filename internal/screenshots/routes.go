package screenshots

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/devices"
)

// RegisterRoutes wires screenshot routes to the router. Devices are addressed
// by their numeric id like the rest of the device surface.
func RegisterRoutes(router chi.Router, service *Service, deviceSvc *devices.Service) {
	stableID := func(r *http.Request) (string, error) {
		raw := chi.URLParam(r, "device_id")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", apperrors.NewValidationError("device_id must be an integer", nil)
		}
		record, err := deviceSvc.Get(id)
		if err != nil {
			return "", err
		}
		return record.StableDeviceID, nil
	}

	router.Method(http.MethodGet, "/v1/devices/{device_id}/screenshots", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		stable, err := stableID(r)
		if err != nil {
			return err
		}
		shots, err := service.History(stable)
		if err != nil {
			return err
		}
		formatted := make([]map[string]any, 0, len(shots))
		for i := range shots {
			formatted = append(formatted, formatScreenshot(&shots[i], false))
		}
		return api.WriteList(w, r.URL.Path, formatted, false)
	}))

	router.Method(http.MethodGet, "/v1/devices/{device_id}/screenshots/latest", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		stable, err := stableID(r)
		if err != nil {
			return err
		}
		shot, err := service.Latest(stable)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatScreenshot(shot, true))
	}))

	router.Method(http.MethodGet, "/v1/screenshots/{screenshot_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		raw := chi.URLParam(r, "screenshot_id")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperrors.NewValidationError("screenshot_id must be an integer", nil)
		}
		shot, err := service.Get(id)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatScreenshot(shot, true))
	}))
}

func formatScreenshot(shot *Screenshot, withImage bool) map[string]any {
	out := map[string]any{
		"object":           "screenshot",
		"id":               shot.ID,
		"device_stable_id": shot.DeviceStableID,
		"current_url":      shot.CurrentURL,
		"created_at":       shot.CreatedAt.UTC().Format(time.RFC3339),
	}
	if withImage {
		out["image_jpeg_base64"] = shot.ImageJPEGBase64
	}
	return out
}
