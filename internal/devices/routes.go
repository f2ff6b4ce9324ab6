package devices

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
)

func parseDeviceID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "device_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError("device_id must be an integer", nil)
	}
	return id, nil
}

// RegisterRoutes wires device routes to the router. OnlineCheck lets the
// handlers report live session state without importing the hub.
func RegisterRoutes(router chi.Router, service *Service, online func(stableDeviceID string) bool) {
	formatDevice := func(record *DeviceRecord) map[string]any {
		out := map[string]any{
			"object":           "device",
			"id":               record.ID,
			"stable_device_id": record.StableDeviceID,
			"display_name":     record.DisplayName,
			"viewport_w":       record.ViewportW,
			"viewport_h":       record.ViewportH,
			"kiosk_mode":       record.KioskMode,
			"created_at":       record.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if record.AssignedPlaylistID != nil {
			out["assigned_playlist_id"] = *record.AssignedPlaylistID
		}
		if online != nil {
			out["online"] = online(record.StableDeviceID)
		}
		return out
	}

	router.Method(http.MethodGet, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		records, err := service.List()
		if err != nil {
			return err
		}
		formatted := make([]map[string]any, 0, len(records))
		for i := range records {
			formatted = append(formatted, formatDevice(&records[i]))
		}
		return api.WriteList(w, "/v1/devices", formatted, false)
	}))

	router.Method(http.MethodPost, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var input CreateDeviceInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		record, token, err := service.Create(input)
		if err != nil {
			return err
		}
		// The token appears only in this response.
		body := formatDevice(record)
		body["token"] = token
		return api.WriteResource(w, http.StatusCreated, body)
	}))

	router.Method(http.MethodGet, "/v1/devices/{device_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseDeviceID(r)
		if err != nil {
			return err
		}
		record, err := service.Get(id)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(record))
	}))

	router.Method(http.MethodPost, "/v1/devices/{device_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseDeviceID(r)
		if err != nil {
			return err
		}
		var body struct {
			DisplayName string `json:"display_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		record, err := service.Rename(id, body.DisplayName)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(record))
	}))

	router.Method(http.MethodPost, "/v1/devices/{device_id}/config", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseDeviceID(r)
		if err != nil {
			return err
		}
		var patch ConfigPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		record, err := service.UpdateConfig(id, patch)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(record))
	}))

	router.Method(http.MethodPost, "/v1/devices/{device_id}/playlist", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseDeviceID(r)
		if err != nil {
			return err
		}
		var body struct {
			PlaylistID *int64 `json:"playlist_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		record, err := service.AssignPlaylist(id, body.PlaylistID)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(record))
	}))

	router.Method(http.MethodPost, "/v1/devices/{device_id}/token", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseDeviceID(r)
		if err != nil {
			return err
		}
		record, token, err := service.RotateToken(id)
		if err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"id":               record.ID,
			"stable_device_id": record.StableDeviceID,
			"token":            token,
		})
	}))

	router.Method(http.MethodDelete, "/v1/devices/{device_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseDeviceID(r)
		if err != nil {
			return err
		}
		if err := service.Delete(id); err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
	}))
}
