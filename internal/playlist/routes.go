package playlist

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
)

func parseID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError(param+" must be an integer", nil)
	}
	return id, nil
}

func formatPlaylist(p *Playlist, includeItems bool) map[string]any {
	out := map[string]any{
		"object":     "playlist",
		"id":         p.ID,
		"name":       p.Name,
		"is_active":  p.IsActive,
		"created_at": p.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if includeItems {
		items := make([]map[string]any, 0, len(p.Items))
		for i := range p.Items {
			items = append(items, formatItem(&p.Items[i]))
		}
		out["items"] = items
	}
	return out
}

func formatItem(item *Item) map[string]any {
	out := map[string]any{
		"object":           "playlist_item",
		"id":               item.ID,
		"playlist_id":      item.PlaylistID,
		"url":              item.URL,
		"duration_seconds": item.DurationSeconds,
		"order_index":      item.OrderIndex,
	}
	if item.ContentID != nil {
		out["content_id"] = *item.ContentID
	}
	if item.TimeWindowStart != "" {
		out["time_window_start"] = item.TimeWindowStart
		out["time_window_end"] = item.TimeWindowEnd
	}
	if len(item.DaysOfWeek) > 0 {
		out["days_of_week"] = item.DaysOfWeek
	}
	return out
}

// RegisterRoutes wires playlist routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/playlists", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		playlists, err := service.List()
		if err != nil {
			return err
		}
		formatted := make([]map[string]any, 0, len(playlists))
		for i := range playlists {
			formatted = append(formatted, formatPlaylist(&playlists[i], false))
		}
		return api.WriteList(w, "/v1/playlists", formatted, false)
	}))

	router.Method(http.MethodPost, "/v1/playlists", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		p, err := service.Create(body.Name)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusCreated, formatPlaylist(p, false))
	}))

	router.Method(http.MethodGet, "/v1/playlists/{playlist_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseID(r, "playlist_id")
		if err != nil {
			return err
		}
		p, err := service.Get(id)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatPlaylist(p, true))
	}))

	router.Method(http.MethodPost, "/v1/playlists/{playlist_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseID(r, "playlist_id")
		if err != nil {
			return err
		}
		var body struct {
			Name     *string `json:"name"`
			IsActive *bool   `json:"is_active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		p, err := service.Update(id, body.Name, body.IsActive)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatPlaylist(p, false))
	}))

	router.Method(http.MethodDelete, "/v1/playlists/{playlist_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseID(r, "playlist_id")
		if err != nil {
			return err
		}
		if err := service.Delete(id); err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
	}))

	router.Method(http.MethodPost, "/v1/playlists/{playlist_id}/items", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseID(r, "playlist_id")
		if err != nil {
			return err
		}
		var input ItemInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		item, err := service.AddItem(id, input)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusCreated, formatItem(item))
	}))

	router.Method(http.MethodPost, "/v1/playlists/{playlist_id}/items/{item_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		playlistID, err := parseID(r, "playlist_id")
		if err != nil {
			return err
		}
		itemID, err := parseID(r, "item_id")
		if err != nil {
			return err
		}
		var input ItemInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		item, err := service.UpdateItem(playlistID, itemID, input)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatItem(item))
	}))

	router.Method(http.MethodDelete, "/v1/playlists/{playlist_id}/items/{item_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		playlistID, err := parseID(r, "playlist_id")
		if err != nil {
			return err
		}
		itemID, err := parseID(r, "item_id")
		if err != nil {
			return err
		}
		if err := service.RemoveItem(playlistID, itemID); err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{"deleted": true, "id": itemID})
	}))

	router.Method(http.MethodPost, "/v1/playlists/{playlist_id}/reorder", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := parseID(r, "playlist_id")
		if err != nil {
			return err
		}
		var body struct {
			ItemIDs []int64 `json:"item_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		items, err := service.Reorder(id, body.ItemIDs)
		if err != nil {
			return err
		}
		formatted := make([]map[string]any, 0, len(items))
		for i := range items {
			formatted = append(formatted, formatItem(&items[i]))
		}
		return api.WriteList(w, "/v1/playlists/"+strconv.FormatInt(id, 10)+"/items", formatted, false)
	}))
}
