package playlist

import (
	"time"

	"github.com/signagekit/signage-hub-go/internal/protocol"
)

// Playlist is an ordered set of URLs a device rotates through.
type Playlist struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Items     []Item    `json:"items,omitempty"`
}

// Item is one playlist entry. The optional time window is inclusive of the
// start minute and exclusive of the end minute; a start later than the end
// spans midnight. DaysOfWeek uses 0=Sunday through 6=Saturday; empty means
// every day.
type Item struct {
	ID              int64  `json:"id"`
	PlaylistID      int64  `json:"playlist_id"`
	ContentID       *int64 `json:"content_id,omitempty"`
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds"`
	OrderIndex      int    `json:"order_index"`
	TimeWindowStart string `json:"time_window_start,omitempty"`
	TimeWindowEnd   string `json:"time_window_end,omitempty"`
	DaysOfWeek      []int  `json:"days_of_week,omitempty"`
}

// ItemInput is the create/update payload for an item.
type ItemInput struct {
	ContentID       *int64 `json:"content_id"`
	URL             string `json:"url"`
	DurationSeconds *int   `json:"duration_seconds"`
	OrderIndex      *int   `json:"order_index"`
	TimeWindowStart string `json:"time_window_start"`
	TimeWindowEnd   string `json:"time_window_end"`
	DaysOfWeek      []int  `json:"days_of_week"`
}

// ToWire converts items to their websocket form.
func ToWire(items []Item) []protocol.PlaylistItem {
	wire := make([]protocol.PlaylistItem, 0, len(items))
	for _, item := range items {
		wire = append(wire, protocol.PlaylistItem{
			ID:              item.ID,
			ContentID:       item.ContentID,
			URL:             item.URL,
			DurationSeconds: item.DurationSeconds,
			OrderIndex:      item.OrderIndex,
			TimeWindowStart: item.TimeWindowStart,
			TimeWindowEnd:   item.TimeWindowEnd,
			DaysOfWeek:      item.DaysOfWeek,
		})
	}
	return wire
}
