package playlist

import (
	"errors"
	"log"
	"regexp"
	"strings"

	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
)

var timeWindowRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Service manages playlists and pushes edits to live devices.
type Service struct {
	cfg    *config.Config
	repo   *Repository
	logger *log.Logger

	// onChanged is wired by the server; it pushes the edited playlist to
	// every live device it is assigned to.
	onChanged func(playlistID int64)
}

// NewService creates a new playlist Service.
func NewService(cfg *config.Config, dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{cfg: cfg, repo: NewRepository(dbPair), logger: logger}
}

// SetChangedHook registers the callback invoked after any playlist mutation.
func (s *Service) SetChangedHook(fn func(playlistID int64)) {
	s.onChanged = fn
}

func (s *Service) notifyChanged(playlistID int64) {
	if s.onChanged != nil {
		s.onChanged(playlistID)
	}
}

// validateSchedule rejects malformed constraint fields before they reach a
// device. Windows may span midnight; equal start and end is meaningless.
func validateSchedule(windowStart, windowEnd string, days []int) error {
	if (windowStart == "") != (windowEnd == "") {
		return apperrors.NewAppError(apperrors.ErrorCodeInvalidSchedule,
			"time_window_start and time_window_end must be set together", 400, nil)
	}
	if windowStart != "" {
		if !timeWindowRe.MatchString(windowStart) || !timeWindowRe.MatchString(windowEnd) {
			return apperrors.NewAppError(apperrors.ErrorCodeInvalidSchedule,
				"time windows must be HH:MM", 400, nil)
		}
		if windowStart == windowEnd {
			return apperrors.NewAppError(apperrors.ErrorCodeInvalidSchedule,
				"time window start and end must differ", 400, nil)
		}
	}
	for _, day := range days {
		if day < 0 || day > 6 {
			return apperrors.NewAppError(apperrors.ErrorCodeInvalidSchedule,
				"days_of_week values must be 0 (Sunday) through 6 (Saturday)", 400, nil)
		}
	}
	return nil
}

// Create makes a new empty playlist.
func (s *Service) Create(name string) (*Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("name is required", nil)
	}
	p, err := s.repo.Insert(name)
	if err != nil {
		s.logger.Printf("[playlist] insert failed: %v", err)
		return nil, apperrors.NewInternalError("failed to create playlist")
	}
	s.logger.Printf("[playlist] created playlist %d (%s)", p.ID, p.Name)
	return p, nil
}

// Get returns a playlist with its items in rotation order.
func (s *Service) Get(id int64) (*Playlist, error) {
	p, err := s.repo.Get(id)
	if err != nil {
		return nil, playlistError(err)
	}
	items, err := s.repo.Items(id)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load playlist items")
	}
	p.Items = items
	return p, nil
}

// List returns all playlists without items.
func (s *Service) List() ([]Playlist, error) {
	playlists, err := s.repo.List()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list playlists")
	}
	return playlists, nil
}

// Update renames a playlist and/or flips its active flag.
func (s *Service) Update(id int64, name *string, isActive *bool) (*Playlist, error) {
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, apperrors.NewValidationError("name must not be empty", nil)
		}
		name = &trimmed
	}
	p, err := s.repo.Update(id, name, isActive)
	if err != nil {
		return nil, playlistError(err)
	}
	s.notifyChanged(id)
	return p, nil
}

// Delete removes a playlist. Devices assigned to it fall back to an empty
// rotation the next time they load content.
func (s *Service) Delete(id int64) error {
	if err := s.repo.Delete(id); err != nil {
		return playlistError(err)
	}
	s.logger.Printf("[playlist] deleted playlist %d", id)
	s.notifyChanged(id)
	return nil
}

// AddItem appends or inserts an item.
func (s *Service) AddItem(playlistID int64, input ItemInput) (*Item, error) {
	if _, err := s.repo.Get(playlistID); err != nil {
		return nil, playlistError(err)
	}
	url := strings.TrimSpace(input.URL)
	if url == "" {
		return nil, apperrors.NewValidationError("url is required", nil)
	}
	if err := validateSchedule(input.TimeWindowStart, input.TimeWindowEnd, input.DaysOfWeek); err != nil {
		return nil, err
	}

	duration := 0
	if input.DurationSeconds != nil {
		if *input.DurationSeconds < 0 {
			return nil, apperrors.NewValidationError("duration_seconds must not be negative", nil)
		}
		duration = *input.DurationSeconds
	}
	orderIndex := -1
	if input.OrderIndex != nil {
		orderIndex = *input.OrderIndex
	}

	item, err := s.repo.InsertItem(playlistID, &Item{
		ContentID:       input.ContentID,
		URL:             url,
		DurationSeconds: duration,
		OrderIndex:      orderIndex,
		TimeWindowStart: input.TimeWindowStart,
		TimeWindowEnd:   input.TimeWindowEnd,
		DaysOfWeek:      input.DaysOfWeek,
	})
	if err != nil {
		s.logger.Printf("[playlist] item insert failed: %v", err)
		return nil, apperrors.NewInternalError("failed to add playlist item")
	}
	s.notifyChanged(playlistID)
	return item, nil
}

// UpdateItem patches an existing item. Unset input fields keep their value.
func (s *Service) UpdateItem(playlistID, itemID int64, input ItemInput) (*Item, error) {
	current, err := s.repo.GetItem(itemID)
	if err != nil {
		return nil, playlistError(err)
	}
	if current.PlaylistID != playlistID {
		return nil, apperrors.NewAppError(apperrors.ErrorCodeItemNotFound, "playlist item not found", 404, nil)
	}

	next := *current
	if input.URL != "" {
		next.URL = strings.TrimSpace(input.URL)
	}
	if input.ContentID != nil {
		next.ContentID = input.ContentID
	}
	if input.DurationSeconds != nil {
		if *input.DurationSeconds < 0 {
			return nil, apperrors.NewValidationError("duration_seconds must not be negative", nil)
		}
		next.DurationSeconds = *input.DurationSeconds
	}
	if input.OrderIndex != nil {
		next.OrderIndex = *input.OrderIndex
	}
	if input.TimeWindowStart != "" || input.TimeWindowEnd != "" {
		next.TimeWindowStart = input.TimeWindowStart
		next.TimeWindowEnd = input.TimeWindowEnd
	}
	if input.DaysOfWeek != nil {
		next.DaysOfWeek = input.DaysOfWeek
	}
	if err := validateSchedule(next.TimeWindowStart, next.TimeWindowEnd, next.DaysOfWeek); err != nil {
		return nil, err
	}

	item, err := s.repo.UpdateItem(&next)
	if err != nil {
		return nil, playlistError(err)
	}
	s.notifyChanged(playlistID)
	return item, nil
}

// RemoveItem deletes an item.
func (s *Service) RemoveItem(playlistID, itemID int64) error {
	if err := s.repo.DeleteItem(playlistID, itemID); err != nil {
		return playlistError(err)
	}
	s.notifyChanged(playlistID)
	return nil
}

// Reorder rewrites the rotation order to the given item id sequence.
func (s *Service) Reorder(playlistID int64, itemIDs []int64) ([]Item, error) {
	if len(itemIDs) == 0 {
		return nil, apperrors.NewValidationError("item_ids is required", nil)
	}
	if err := s.repo.Reorder(playlistID, itemIDs); err != nil {
		return nil, playlistError(err)
	}
	items, err := s.repo.Items(playlistID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load playlist items")
	}
	s.notifyChanged(playlistID)
	return items, nil
}

// WireItems returns the websocket form of a playlist's rotation, for pushing
// content updates to devices.
func (s *Service) WireItems(playlistID int64) ([]Item, error) {
	items, err := s.repo.Items(playlistID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load playlist items")
	}
	return items, nil
}

func playlistError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodePlaylistNotFound, "playlist not found", 404, nil)
	case errors.Is(err, ErrItemNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodeItemNotFound, "playlist item not found", 404, nil)
	default:
		return apperrors.NewInternalError("playlist store failure")
	}
}
