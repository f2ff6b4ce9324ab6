// Package hub is the realtime session layer. It owns every live websocket,
// routes admin commands to devices, fans device telemetry out to admins, and
// relays screencast frames to subscribers.
package hub

import (
	"log"
	"sync"
	"time"

	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/devices"
	"github.com/signagekit/signage-hub-go/internal/license"
	"github.com/signagekit/signage-hub-go/internal/metrics"
	"github.com/signagekit/signage-hub-go/internal/playlist"
	"github.com/signagekit/signage-hub-go/internal/protocol"
)

// TelemetrySink receives device telemetry for persistence. The hub never
// blocks its read loop on sink errors; implementations log their own.
type TelemetrySink interface {
	RecordHealth(deviceStableID string, report protocol.HealthReport)
	RecordError(deviceStableID string, report protocol.ErrorReport)
	RecordScreenshot(deviceStableID, currentURL, imageBase64 string)
	RecordEvent(level, eventType, message, deviceStableID string)
}

// Hub tracks device and admin sessions. One session per stable device id; a
// newer connection supersedes the old one.
type Hub struct {
	cfg       *config.Config
	logger    *log.Logger
	metrics   *metrics.Metrics
	devices   *devices.Service
	licenses  *license.Service
	playlists *playlist.Service
	sink      TelemetrySink

	// overrideContent lets the broadcast layer replace a device's rotation
	// without the hub knowing broadcast semantics.
	overrideContent func(deviceStableID string) (*protocol.ContentUpdate, bool)

	mu             sync.RWMutex
	deviceSessions map[string]*deviceSession // stable device id -> session
	adminSessions  map[*adminSession]struct{}
	subscriptions  map[string]map[*adminSession]struct{} // device id -> subscribers

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Hub. sink and m may not be nil; pass real services.
func New(cfg *config.Config, deviceSvc *devices.Service, licenseSvc *license.Service, playlistSvc *playlist.Service, sink TelemetrySink, m *metrics.Metrics, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		devices:        deviceSvc,
		licenses:       licenseSvc,
		playlists:      playlistSvc,
		sink:           sink,
		deviceSessions: make(map[string]*deviceSession),
		adminSessions:  make(map[*adminSession]struct{}),
		subscriptions:  make(map[string]map[*adminSession]struct{}),
		stopCh:         make(chan struct{}),
	}
}

// SetContentOverride registers the broadcast layer's content hook.
func (h *Hub) SetContentOverride(fn func(deviceStableID string) (*protocol.ContentUpdate, bool)) {
	h.overrideContent = fn
}

// Start launches the idle session reaper.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.reapLoop()
}

// Stop closes every session and waits for background loops.
func (h *Hub) Stop() {
	close(h.stopCh)

	h.mu.Lock()
	sessions := make([]*deviceSession, 0, len(h.deviceSessions))
	for _, s := range h.deviceSessions {
		sessions = append(sessions, s)
	}
	admins := make([]*adminSession, 0, len(h.adminSessions))
	for a := range h.adminSessions {
		admins = append(admins, a)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close("server shutting down")
	}
	for _, a := range admins {
		a.close()
	}
	h.wg.Wait()
}

// idleTimeout is how long a device may go without telemetry before the hub
// declares it dead: three missed health intervals plus a grace allowance.
func (h *Hub) idleTimeout() time.Duration {
	interval := h.cfg.HealthIntervalSec
	if interval <= 0 {
		interval = 60
	}
	grace := h.cfg.IdleGraceSec
	if grace <= 0 {
		grace = 30
	}
	return time.Duration(3*interval+grace) * time.Second
}

func (h *Hub) writeTimeout() time.Duration {
	secs := h.cfg.WriteTimeoutSec
	if secs <= 0 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

func (h *Hub) reapLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-h.idleTimeout())
			h.mu.RLock()
			var stale []*deviceSession
			for _, s := range h.deviceSessions {
				if s.lastSeenTime().Before(cutoff) {
					stale = append(stale, s)
				}
			}
			h.mu.RUnlock()
			for _, s := range stale {
				h.logger.Printf("[hub] reaping idle device %s", s.deviceID)
				h.metrics.IdleReaps.Inc()
				s.close("missed heartbeats")
			}
		case <-h.stopCh:
			return
		}
	}
}

// registerDevice installs a session, superseding any existing one for the
// same device.
func (h *Hub) registerDevice(s *deviceSession) {
	h.mu.Lock()
	old := h.deviceSessions[s.deviceID]
	h.deviceSessions[s.deviceID] = s
	h.mu.Unlock()

	if old != nil {
		h.logger.Printf("[hub] device %s reconnected, superseding old session", s.deviceID)
		old.close("superseded by new connection")
	} else {
		h.metrics.DevicesOnline.Inc()
	}

	h.BroadcastToAdmins(protocol.EventAdminDeviceStatus, protocol.AdminDeviceStatus{
		DeviceID: s.deviceID,
		Online:   true,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
}

// unregisterDevice tears down a session. A superseded session finds the map
// already pointing at its replacement and releases nothing.
func (h *Hub) unregisterDevice(s *deviceSession) {
	h.mu.Lock()
	current, ok := h.deviceSessions[s.deviceID]
	if ok && current == s {
		delete(h.deviceSessions, s.deviceID)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.DevicesOnline.Dec()

	h.licenses.UnregisterDevice(s.deviceID)
	h.sink.RecordEvent("INFO", "device:disconnect", "device disconnected", s.deviceID)
	h.BroadcastToAdmins(protocol.EventAdminDeviceStatus, protocol.AdminDeviceStatus{
		DeviceID: s.deviceID,
		Online:   false,
		LastSeen: s.lastSeenTime().UTC().Format(time.RFC3339),
	})
}

func (h *Hub) registerAdmin(a *adminSession) {
	h.mu.Lock()
	h.adminSessions[a] = struct{}{}
	h.mu.Unlock()
	h.metrics.AdminsOnline.Inc()
}

func (h *Hub) unregisterAdmin(a *adminSession) {
	h.mu.Lock()
	_, ok := h.adminSessions[a]
	delete(h.adminSessions, a)
	var stopped []string
	for deviceID, subs := range h.subscriptions {
		if _, subscribed := subs[a]; subscribed {
			delete(subs, a)
			if len(subs) == 0 {
				delete(h.subscriptions, deviceID)
				stopped = append(stopped, deviceID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		h.metrics.AdminsOnline.Dec()
	}
	for _, deviceID := range stopped {
		_ = h.RouteToDevice(deviceID, protocol.EventScreencastStop, nil)
	}
}

// IsOnline reports whether a device has a live session.
func (h *Hub) IsOnline(deviceStableID string) bool {
	h.mu.RLock()
	_, ok := h.deviceSessions[deviceStableID]
	h.mu.RUnlock()
	return ok
}

// RouteToDevice queues a control message for a device.
func (h *Hub) RouteToDevice(deviceStableID, event string, payload any) error {
	h.mu.RLock()
	s, ok := h.deviceSessions[deviceStableID]
	h.mu.RUnlock()
	if !ok {
		return ErrDeviceOffline
	}

	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	s.sendControl(data)
	return nil
}

// BroadcastToAdmins queues a message for every admin session.
func (h *Hub) BroadcastToAdmins(event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Printf("[hub] encode %s failed: %v", event, err)
		return
	}

	h.mu.RLock()
	admins := make([]*adminSession, 0, len(h.adminSessions))
	for a := range h.adminSessions {
		admins = append(admins, a)
	}
	h.mu.RUnlock()

	for _, a := range admins {
		a.sendControl(data)
	}
}

// contentFor assembles the content:update a device should be showing: an
// active broadcast override when one exists, otherwise its assigned playlist.
func (h *Hub) contentFor(record *devices.DeviceRecord) (*protocol.ContentUpdate, error) {
	if h.overrideContent != nil {
		if update, ok := h.overrideContent(record.StableDeviceID); ok {
			return update, nil
		}
	}
	if record.AssignedPlaylistID == nil {
		return &protocol.ContentUpdate{Items: []protocol.PlaylistItem{}}, nil
	}
	items, err := h.playlists.WireItems(*record.AssignedPlaylistID)
	if err != nil {
		return nil, err
	}
	return &protocol.ContentUpdate{
		PlaylistID: *record.AssignedPlaylistID,
		Items:      playlist.ToWire(items),
	}, nil
}

// PushContent sends a device its current content. No-op when offline.
func (h *Hub) PushContent(deviceStableID string) error {
	record, err := h.devices.GetByStableID(deviceStableID)
	if err != nil {
		return err
	}
	update, err := h.contentFor(record)
	if err != nil {
		return err
	}
	err = h.RouteToDevice(deviceStableID, protocol.EventContentUpdate, update)
	if err == ErrDeviceOffline {
		return nil
	}
	return err
}

// PlaylistChanged pushes fresh content to every live device assigned the
// playlist. Wired as the playlist service's change hook.
func (h *Hub) PlaylistChanged(playlistID int64) {
	assigned, err := h.devices.ListByPlaylist(playlistID)
	if err != nil {
		h.logger.Printf("[hub] playlist change fanout failed: %v", err)
		return
	}
	for i := range assigned {
		if err := h.PushContent(assigned[i].StableDeviceID); err != nil {
			h.logger.Printf("[hub] push to %s failed: %v", assigned[i].StableDeviceID, err)
		}
	}
}

// DeviceConfigChanged pushes a live config:update. Wired as the device
// service's config hook.
func (h *Hub) DeviceConfigChanged(record *devices.DeviceRecord, patch devices.ConfigPatch) {
	update := protocol.ConfigUpdate{
		DisplayWidth:  patch.ViewportW,
		DisplayHeight: patch.ViewportH,
		KioskMode:     patch.KioskMode,
	}
	_ = h.RouteToDevice(record.StableDeviceID, protocol.EventConfigUpdate, update)
}

// DeviceAssigned pushes the newly assigned playlist. Wired as the device
// service's assignment hook.
func (h *Hub) DeviceAssigned(record *devices.DeviceRecord) {
	if err := h.PushContent(record.StableDeviceID); err != nil {
		h.logger.Printf("[hub] push to %s failed: %v", record.StableDeviceID, err)
	}
}

// DeviceDeleted force-disconnects a removed device. Wired as the device
// service's delete hook.
func (h *Hub) DeviceDeleted(deviceStableID string) {
	h.mu.RLock()
	s, ok := h.deviceSessions[deviceStableID]
	h.mu.RUnlock()
	if ok {
		s.close("device deleted")
	}
}

// RevalidateAll re-runs license admission for every live device and pushes
// the outcome. Devices that lose admission are disconnected. Wired as the
// license service's revoke hook and run after expiry sweeps.
func (h *Hub) RevalidateAll() {
	h.mu.RLock()
	sessions := make([]*deviceSession, 0, len(h.deviceSessions))
	for _, s := range h.deviceSessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		decision, err := h.licenses.Revalidate(s.deviceID)
		if err != nil {
			h.logger.Printf("[hub] revalidate %s failed: %v", s.deviceID, err)
			continue
		}
		status := licenseStatusPayload(s.deviceID, decision)
		_ = h.RouteToDevice(s.deviceID, protocol.EventLicenseStatus, status)
		h.BroadcastToAdmins(protocol.EventAdminLicenseStatus, status)
		if !decision.Admitted() {
			h.metrics.DevicesDenied.Inc()
			s.close("license " + decision.Reason)
		}
	}
}

func licenseStatusPayload(deviceID string, decision license.Decision) protocol.LicenseStatus {
	status := protocol.LicenseStatus{
		DeviceID: deviceID,
		Status:   decision.Status,
		Reason:   decision.Reason,
	}
	if !decision.GraceEndsAt.IsZero() {
		status.GracePeriodEndsAt = decision.GraceEndsAt.UTC().Format(time.RFC3339)
	}
	return status
}
