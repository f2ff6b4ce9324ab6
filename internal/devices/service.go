package devices

import (
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
)

// Service manages device records and their connection tokens.
type Service struct {
	cfg    *config.Config
	repo   *Repository
	logger *log.Logger

	// onDeleted and onConfigChanged are wired by the server so the hub can
	// force-disconnect removed devices and push live config updates.
	onDeleted       func(stableDeviceID string)
	onConfigChanged func(record *DeviceRecord, patch ConfigPatch)
	onAssigned      func(record *DeviceRecord)
}

// NewService creates a new device Service.
func NewService(cfg *config.Config, dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:    cfg,
		repo:   NewRepository(dbPair),
		logger: logger,
	}
}

// SetDeletedHook registers the callback invoked after a device is removed.
func (s *Service) SetDeletedHook(fn func(stableDeviceID string)) {
	s.onDeleted = fn
}

// SetConfigChangedHook registers the callback invoked after a config patch.
func (s *Service) SetConfigChangedHook(fn func(record *DeviceRecord, patch ConfigPatch)) {
	s.onConfigChanged = fn
}

// SetAssignedHook registers the callback invoked after a playlist assignment.
func (s *Service) SetAssignedHook(fn func(record *DeviceRecord)) {
	s.onAssigned = fn
}

// newToken returns a 64-character hex connection token.
func newToken() string {
	a := strings.ReplaceAll(uuid.New().String(), "-", "")
	b := strings.ReplaceAll(uuid.New().String(), "-", "")
	return a + b
}

// Create registers a new device and returns the record plus its token. The
// token is returned exactly once; later reads omit it.
func (s *Service) Create(input CreateDeviceInput) (*DeviceRecord, string, error) {
	name := strings.TrimSpace(input.DisplayName)
	if name == "" {
		return nil, "", apperrors.NewValidationError("display_name is required", nil)
	}
	viewportW := input.ViewportW
	if viewportW <= 0 {
		viewportW = 1920
	}
	viewportH := input.ViewportH
	if viewportH <= 0 {
		viewportH = 1080
	}
	kiosk := true
	if input.KioskMode != nil {
		kiosk = *input.KioskMode
	}

	stableID := uuid.New().String()
	token := newToken()

	record, err := s.repo.Insert(stableID, name, token, viewportW, viewportH, kiosk)
	if err != nil {
		s.logger.Printf("[devices] insert failed: %v", err)
		return nil, "", apperrors.NewInternalError("failed to create device")
	}
	s.logger.Printf("[devices] created device %s (%s)", record.StableDeviceID, record.DisplayName)
	return record, token, nil
}

// Get retrieves a device by row id.
func (s *Service) Get(id int64) (*DeviceRecord, error) {
	record, err := s.repo.GetByID(id)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	return record, nil
}

// GetByStableID retrieves a device by stable id.
func (s *Service) GetByStableID(stableID string) (*DeviceRecord, error) {
	record, err := s.repo.GetByStableID(stableID)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	return record, nil
}

// Authenticate resolves a device from its connection token.
func (s *Service) Authenticate(token string) (*DeviceRecord, error) {
	if token == "" {
		return nil, apperrors.NewUnauthorizedError("missing device token", apperrors.ErrorCodeAuthFailed)
	}
	record, err := s.repo.FindByToken(token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewUnauthorizedError("invalid device token", apperrors.ErrorCodeAuthFailed)
		}
		return nil, apperrors.NewInternalError("failed to authenticate device")
	}
	return record, nil
}

// List returns all devices.
func (s *Service) List() ([]DeviceRecord, error) {
	records, err := s.repo.List()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list devices")
	}
	return records, nil
}

// ListByPlaylist returns devices assigned the given playlist.
func (s *Service) ListByPlaylist(playlistID int64) ([]DeviceRecord, error) {
	records, err := s.repo.ListByPlaylist(playlistID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list devices")
	}
	return records, nil
}

// Rename updates the display name.
func (s *Service) Rename(id int64, displayName string) (*DeviceRecord, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, apperrors.NewValidationError("display_name is required", nil)
	}
	record, err := s.repo.Rename(id, name)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	return record, nil
}

// UpdateConfig applies a partial config update and notifies the live session.
func (s *Service) UpdateConfig(id int64, patch ConfigPatch) (*DeviceRecord, error) {
	if patch.ViewportW != nil && *patch.ViewportW <= 0 {
		return nil, apperrors.NewValidationError("viewport_w must be positive", nil)
	}
	if patch.ViewportH != nil && *patch.ViewportH <= 0 {
		return nil, apperrors.NewValidationError("viewport_h must be positive", nil)
	}
	record, err := s.repo.UpdateConfig(id, patch)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	if s.onConfigChanged != nil {
		s.onConfigChanged(record, patch)
	}
	return record, nil
}

// AssignPlaylist sets or clears the assigned playlist and notifies the live
// session so the new rotation takes effect immediately.
func (s *Service) AssignPlaylist(id int64, playlistID *int64) (*DeviceRecord, error) {
	record, err := s.repo.AssignPlaylist(id, playlistID)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	s.logger.Printf("[devices] device %s assigned playlist %v", record.StableDeviceID, formatPlaylistID(playlistID))
	if s.onAssigned != nil {
		s.onAssigned(record)
	}
	return record, nil
}

// RotateToken invalidates the current token and returns a fresh one. The
// device's live session, if any, keeps running until it reconnects.
func (s *Service) RotateToken(id int64) (*DeviceRecord, string, error) {
	record, err := s.repo.GetByID(id)
	if err != nil {
		return nil, "", notFoundOrInternal(err)
	}
	token := newToken()
	if err := s.repo.RotateToken(id, token); err != nil {
		return nil, "", notFoundOrInternal(err)
	}
	s.logger.Printf("[devices] rotated token for device %s", record.StableDeviceID)
	return record, token, nil
}

// Delete removes a device and disconnects its live session.
func (s *Service) Delete(id int64) error {
	record, err := s.repo.GetByID(id)
	if err != nil {
		return notFoundOrInternal(err)
	}
	if err := s.repo.Delete(id); err != nil {
		return notFoundOrInternal(err)
	}
	s.logger.Printf("[devices] deleted device %s", record.StableDeviceID)
	if s.onDeleted != nil {
		s.onDeleted(record.StableDeviceID)
	}
	return nil
}

func notFoundOrInternal(err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceNotFound, "device not found", 404, nil)
	}
	return apperrors.NewInternalError("device store failure")
}

func formatPlaylistID(id *int64) any {
	if id == nil {
		return "none"
	}
	return *id
}
