package license

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/licensekey"
)

func formatLicense(lic *License) map[string]any {
	out := map[string]any{
		"object":               "license",
		"id":                   lic.ID,
		"key_hash":             lic.KeyHash,
		"tier":                 lic.Tier,
		"max_devices":          lic.MaxDevices,
		"current_device_count": lic.CurrentDeviceCount,
		"is_active":            lic.IsActive,
		"created_at":           lic.CreatedAt.UTC().Format(time.RFC3339),
	}
	if lic.CompanyName != "" {
		out["company_name"] = lic.CompanyName
	}
	if lic.Notes != "" {
		out["notes"] = lic.Notes
	}
	if lic.ExpiresAt != nil {
		out["expires_at"] = lic.ExpiresAt.UTC().Format(licensekey.DateLayout)
	}
	if lic.GraceStartedAt != nil {
		out["grace_started_at"] = lic.GraceStartedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// RegisterRoutes wires license routes to the router. The raw key never
// appears in responses, only its hash.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/licenses/activate", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			Key   string `json:"key"`
			Notes string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		lic, err := service.Activate(body.Key, body.Notes)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusCreated, formatLicense(lic))
	}))

	router.Method(http.MethodGet, "/v1/licenses", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		licenses, err := service.List()
		if err != nil {
			return err
		}
		formatted := make([]map[string]any, 0, len(licenses))
		for i := range licenses {
			formatted = append(formatted, formatLicense(&licenses[i]))
		}
		return api.WriteList(w, "/v1/licenses", formatted, false)
	}))

	router.Method(http.MethodGet, "/v1/licenses/status", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		status, err := service.Status()
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, status)
	}))

	router.Method(http.MethodPost, "/v1/licenses/{license_id}/revoke", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := strconv.ParseInt(chi.URLParam(r, "license_id"), 10, 64)
		if err != nil {
			return apperrors.NewValidationError("license_id must be an integer", nil)
		}
		lic, err := service.Revoke(id)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatLicense(lic))
	}))
}
