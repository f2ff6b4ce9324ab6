package screenshots

import (
	"errors"
	"log"

	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
)

// DefaultKeepPerDevice bounds stored history when the config leaves it unset.
const DefaultKeepPerDevice = 20

// Service stores and serves device screen captures.
type Service struct {
	cfg           *config.Config
	logger        *log.Logger
	repo          *Repository
	keepPerDevice int
}

// NewService creates a new screenshots service.
func NewService(cfg *config.Config, dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	keep := cfg.ScreenshotKeepPerDevice
	if keep <= 0 {
		keep = DefaultKeepPerDevice
	}
	return &Service{
		cfg:           cfg,
		logger:        logger,
		repo:          NewRepository(dbPair),
		keepPerDevice: keep,
	}
}

// Store saves an uploaded screenshot, trimming the device's history to the
// configured cap. Called from the hub's telemetry path, so failures are
// logged rather than propagated to the device.
func (s *Service) Store(deviceStableID, currentURL, imageBase64 string) {
	if imageBase64 == "" {
		return
	}
	if _, err := s.repo.Insert(deviceStableID, currentURL, imageBase64, s.keepPerDevice); err != nil {
		s.logger.Printf("[screenshots] store failed for %s: %v", deviceStableID, err)
	}
}

// Latest returns the most recent screenshot for a device.
func (s *Service) Latest(deviceStableID string) (*Screenshot, error) {
	shot, err := s.repo.Latest(deviceStableID)
	if err != nil {
		return nil, s.screenshotError(err)
	}
	return shot, nil
}

// Get returns a screenshot by row id.
func (s *Service) Get(id int64) (*Screenshot, error) {
	shot, err := s.repo.GetByID(id)
	if err != nil {
		return nil, s.screenshotError(err)
	}
	return shot, nil
}

// History lists a device's stored captures, newest first, without image data.
func (s *Service) History(deviceStableID string) ([]Screenshot, error) {
	shots, err := s.repo.ListByDevice(deviceStableID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list screenshots")
	}
	return shots, nil
}

// Purge removes all stored captures for a device, used when the device is
// deleted.
func (s *Service) Purge(deviceStableID string) {
	if err := s.repo.DeleteByDevice(deviceStableID); err != nil {
		s.logger.Printf("[screenshots] purge failed for %s: %v", deviceStableID, err)
	}
}

func (s *Service) screenshotError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperrors.NewAppError(apperrors.ErrorCodeScreenshotNotFound, "screenshot not found", 404, nil)
	}
	s.logger.Printf("[screenshots] %v", err)
	return apperrors.NewInternalError("screenshot lookup failed")
}
