package broadcast

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
)

// RegisterRoutes wires broadcast routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/broadcast/start", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			URL             string  `json:"url"`
			DurationSeconds int     `json:"duration_seconds"`
			DeviceIDs       []int64 `json:"device_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		started, err := service.StartBroadcast(body.DeviceIDs, body.URL, body.DurationSeconds)
		if err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"started": true,
			"devices": started,
		})
	}))

	router.Method(http.MethodPost, "/v1/broadcast/stop", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			DeviceIDs []int64 `json:"device_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		stopped, err := service.StopBroadcast(body.DeviceIDs)
		if err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"stopped": true,
			"devices": stopped,
		})
	}))

	router.Method(http.MethodGet, "/v1/broadcast", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		states, err := service.Active()
		if err != nil {
			return err
		}
		formatted := make([]map[string]any, 0, len(states))
		for i := range states {
			state := &states[i]
			entry := map[string]any{
				"object":           "broadcast_state",
				"device_id":        state.DeviceID,
				"broadcast_url":    state.BroadcastURL,
				"saved_item_index": state.SavedItemIndex,
				"saved_elapsed_ms": state.SavedElapsedMs,
				"started_at":       state.StartedAt.UTC().Format(time.RFC3339),
			}
			if state.SavedPlaylistID != nil {
				entry["saved_playlist_id"] = *state.SavedPlaylistID
			}
			if state.ExpiresAt != nil {
				entry["expires_at"] = state.ExpiresAt.UTC().Format(time.RFC3339)
			}
			formatted = append(formatted, entry)
		}
		return api.WriteList(w, "/v1/broadcast", formatted, false)
	}))
}
