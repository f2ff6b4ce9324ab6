package broadcast

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/devices"
	"github.com/signagekit/signage-hub-go/internal/playlist"
	"github.com/signagekit/signage-hub-go/internal/protocol"
)

// Router is the slice of the hub the broadcast layer needs.
type Router interface {
	RouteToDevice(deviceStableID, event string, payload any) error
	PlaybackStateOf(deviceStableID string) (*protocol.PlaybackState, bool)
}

// Service manages broadcast overrides: a single URL temporarily replacing a
// device's rotation, with the interrupted position saved for restore.
type Service struct {
	cfg       *config.Config
	repo      *Repository
	devices   *devices.Service
	playlists *playlist.Service
	router    Router
	logger    *log.Logger
	now       func() time.Time

	cron *cron.Cron
}

// NewService creates a new broadcast Service.
func NewService(cfg *config.Config, dbPair DBPair, deviceSvc *devices.Service, playlistSvc *playlist.Service, router Router, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:       cfg,
		repo:      NewRepository(dbPair),
		devices:   deviceSvc,
		playlists: playlistSvc,
		router:    router,
		logger:    logger,
		now:       time.Now,
	}
}

// Start launches the expiry sweeper.
func (s *Service) Start() {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every 1m", s.sweepExpired)
	if err != nil {
		s.logger.Printf("[broadcast] sweep schedule failed: %v", err)
		return
	}
	s.cron.Start()
}

// Stop halts the expiry sweeper.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// OverrideFor returns the broadcast content a device should show instead of
// its playlist, if any. Wired as the hub's content override hook.
func (s *Service) OverrideFor(deviceStableID string) (*protocol.ContentUpdate, bool) {
	record, err := s.devices.GetByStableID(deviceStableID)
	if err != nil {
		return nil, false
	}
	state, err := s.repo.Get(record.ID)
	if err != nil {
		return nil, false
	}
	return broadcastContent(state.BroadcastURL), true
}

// broadcastContent is a single indefinite item flagged as an override.
func broadcastContent(url string) *protocol.ContentUpdate {
	return &protocol.ContentUpdate{
		Items: []protocol.PlaylistItem{
			{URL: url, DurationSeconds: 0},
		},
		Broadcast: true,
	}
}

// StartBroadcast pushes a URL to the given devices (all devices when the list
// is empty). durationSec of zero runs until explicitly stopped. Returns the
// stable ids the broadcast reached.
func (s *Service) StartBroadcast(deviceIDs []int64, url string, durationSec int) ([]string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, apperrors.NewValidationError("url is required", nil)
	}
	if durationSec < 0 {
		return nil, apperrors.NewValidationError("duration_seconds must not be negative", nil)
	}

	targets, err := s.resolveTargets(deviceIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var expiresAt *time.Time
	if durationSec > 0 {
		expiry := now.Add(time.Duration(durationSec) * time.Second)
		expiresAt = &expiry
	}

	started := make([]string, 0, len(targets))
	for i := range targets {
		record := &targets[i]
		state := &State{
			DeviceID:        record.ID,
			SavedPlaylistID: record.AssignedPlaylistID,
			BroadcastURL:    url,
			StartedAt:       now,
			ExpiresAt:       expiresAt,
		}
		state.SavedItemIndex, state.SavedElapsedMs = s.capturePosition(record)

		// A repeated start keeps the original saved position so the restore
		// returns to where the rotation was first interrupted.
		if err := s.repo.Upsert(state); err != nil {
			s.logger.Printf("[broadcast] save state for %s failed: %v", record.StableDeviceID, err)
			continue
		}
		if err := s.router.RouteToDevice(record.StableDeviceID, protocol.EventContentUpdate, broadcastContent(url)); err != nil {
			s.logger.Printf("[broadcast] push to offline device %s deferred to reconnect", record.StableDeviceID)
		}
		started = append(started, record.StableDeviceID)
	}
	s.logger.Printf("[broadcast] started %q on %d devices", url, len(started))
	return started, nil
}

// capturePosition snapshots where the device's rotation is right now, so the
// restore can resume mid-item.
func (s *Service) capturePosition(record *devices.DeviceRecord) (int, int64) {
	playback, ok := s.router.PlaybackStateOf(record.StableDeviceID)
	if !ok || playback.IsBroadcasting {
		return 0, 0
	}
	index := playback.CurrentItemIndex

	if record.AssignedPlaylistID == nil {
		return index, 0
	}
	items, err := s.playlists.WireItems(*record.AssignedPlaylistID)
	if err != nil || index < 0 || index >= len(items) {
		return index, 0
	}
	duration := items[index].DurationSeconds
	if duration <= 0 {
		duration = 15
	}
	elapsed := int64(duration)*1000 - playback.TimeRemainingMs
	if elapsed < 0 {
		elapsed = 0
	}
	return index, elapsed
}

// StopBroadcast ends the override on the given devices (all active ones when
// the list is empty) and restores their saved rotation position.
func (s *Service) StopBroadcast(deviceIDs []int64) ([]string, error) {
	var states []State
	if len(deviceIDs) == 0 {
		all, err := s.repo.List()
		if err != nil {
			return nil, apperrors.NewInternalError("failed to load broadcast state")
		}
		states = all
	} else {
		for _, id := range deviceIDs {
			state, err := s.repo.Get(id)
			if err != nil {
				if errors.Is(err, ErrNotActive) {
					return nil, apperrors.NewAppError(apperrors.ErrorCodeBroadcastNotActive, "no active broadcast for device", 404, nil)
				}
				return nil, apperrors.NewInternalError("failed to load broadcast state")
			}
			states = append(states, *state)
		}
	}

	stopped := make([]string, 0, len(states))
	for i := range states {
		stableID, err := s.restore(&states[i])
		if err != nil {
			s.logger.Printf("[broadcast] restore for device %d failed: %v", states[i].DeviceID, err)
			continue
		}
		stopped = append(stopped, stableID)
	}
	return stopped, nil
}

// restore deletes the override row and pushes the saved rotation back,
// resuming at the interrupted item and offset.
func (s *Service) restore(state *State) (string, error) {
	record, err := s.devices.Get(state.DeviceID)
	if err != nil {
		// Device deleted mid-broadcast; the row cascades away regardless.
		_ = s.repo.Delete(state.DeviceID)
		return "", err
	}
	if err := s.repo.Delete(state.DeviceID); err != nil && !errors.Is(err, ErrNotActive) {
		return "", err
	}

	update := &protocol.ContentUpdate{Items: []protocol.PlaylistItem{}}
	if state.SavedPlaylistID != nil {
		items, err := s.playlists.WireItems(*state.SavedPlaylistID)
		if err == nil {
			index := state.SavedItemIndex
			elapsed := state.SavedElapsedMs
			update = &protocol.ContentUpdate{
				PlaylistID:     *state.SavedPlaylistID,
				Items:          playlist.ToWire(items),
				StartIndex:     &index,
				StartElapsedMs: &elapsed,
			}
		}
	}

	if err := s.router.RouteToDevice(record.StableDeviceID, protocol.EventContentUpdate, update); err != nil {
		s.logger.Printf("[broadcast] restore push to offline device %s deferred to reconnect", record.StableDeviceID)
	}
	return record.StableDeviceID, nil
}

// sweepExpired restores devices whose timed broadcasts have run out.
func (s *Service) sweepExpired() {
	expired, err := s.repo.ListExpired(s.now())
	if err != nil {
		s.logger.Printf("[broadcast] expiry sweep failed: %v", err)
		return
	}
	for i := range expired {
		if stableID, err := s.restore(&expired[i]); err == nil {
			s.logger.Printf("[broadcast] expired broadcast on %s restored", stableID)
		}
	}
}

// Active lists current overrides.
func (s *Service) Active() ([]State, error) {
	states, err := s.repo.List()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load broadcast state")
	}
	return states, nil
}

func (s *Service) resolveTargets(deviceIDs []int64) ([]devices.DeviceRecord, error) {
	if len(deviceIDs) == 0 {
		return s.devices.List()
	}
	targets := make([]devices.DeviceRecord, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		record, err := s.devices.Get(id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *record)
	}
	return targets, nil
}
