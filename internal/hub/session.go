package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/signagekit/signage-hub-go/internal/devices"
	"github.com/signagekit/signage-hub-go/internal/protocol"
)

// ErrDeviceOffline is returned when routing to a device with no live session.
var ErrDeviceOffline = errors.New("device is not connected")

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Screencast frames are base64 JPEG; allow generous inbound frames.
	maxMessageSize = 8 << 20
)

// session is the shared pump machinery for device and admin connections.
// Control messages must arrive; stream messages (frames) may be dropped.
type session struct {
	hub  *Hub
	conn *websocket.Conn

	control chan []byte
	stream  chan []byte
	done    chan struct{}

	closeOnce sync.Once
	lastSeen  atomic.Int64 // unix nanos

	// malformed throttles garbage frames before the hub gives up on the peer.
	malformed *rate.Limiter
}

func (h *Hub) initSession(s *session, conn *websocket.Conn) {
	controlSize := h.cfg.ControlQueueSize
	if controlSize <= 0 {
		controlSize = 32
	}
	streamSize := h.cfg.StreamQueueSize
	if streamSize <= 0 {
		streamSize = 256
	}
	s.hub = h
	s.conn = conn
	s.control = make(chan []byte, controlSize)
	s.stream = make(chan []byte, streamSize)
	s.done = make(chan struct{})
	s.malformed = rate.NewLimiter(rate.Limit(1), 5)
	s.touch()
}

func (s *session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *session) lastSeenTime() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// closeSession sends a best-effort close frame and tears the connection down.
func (s *session) closeSession(reason string) {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = s.conn.Close()
		close(s.done)
	})
}

// sendControl queues a must-deliver message. A full control queue means the
// peer stopped consuming; the session is terminated rather than blocked.
func (s *session) sendControl(data []byte) {
	select {
	case s.control <- data:
	default:
		s.hub.metrics.ControlOverflows.Inc()
		s.closeSession("control queue overflow")
	}
}

// sendStream queues a droppable message, discarding the oldest entry when the
// queue is full so the peer always converges on recent frames.
func (s *session) sendStream(data []byte) {
	for {
		select {
		case s.stream <- data:
			return
		default:
			select {
			case <-s.stream:
				s.hub.metrics.FramesDropped.Inc()
			default:
			}
		}
	}
}

// writePump drains the queues onto the wire, giving control messages strict
// priority over stream messages, and keeps the connection alive with pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(messageType int, data []byte) bool {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.writeTimeout()))
		if err := s.conn.WriteMessage(messageType, data); err != nil {
			s.closeSession("write failed")
			return false
		}
		return true
	}

	for {
		select {
		case data := <-s.control:
			if !write(websocket.TextMessage, data) {
				return
			}
		default:
		}

		select {
		case data := <-s.control:
			if !write(websocket.TextMessage, data) {
				return
			}
		case data := <-s.stream:
			if !write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readEnvelope pulls and parses one frame. The bool result is false when the
// connection is finished.
func (s *session) readEnvelope() (protocol.Envelope, bool) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, false
		}
		s.touch()

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			s.hub.metrics.MessagesDropped.Inc()
			if !s.malformed.Allow() {
				s.closeSession("too many malformed frames")
				return protocol.Envelope{}, false
			}
			continue
		}
		return env, true
	}
}

func (s *session) configureRead() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// =============================================================================
// Device sessions
// =============================================================================

type deviceSession struct {
	session
	deviceID string
	record   *devices.DeviceRecord

	// frameLimiter caps inbound screencast frames at the configured FPS.
	frameLimiter *rate.Limiter

	playbackMu sync.Mutex
	playback   *protocol.PlaybackState
}

func (h *Hub) newDeviceSession(conn *websocket.Conn, record *devices.DeviceRecord) *deviceSession {
	fps := h.cfg.ScreencastMaxFPS
	if fps <= 0 {
		fps = 15
	}
	s := &deviceSession{
		deviceID:     record.StableDeviceID,
		record:       record,
		frameLimiter: rate.NewLimiter(rate.Limit(fps), fps),
	}
	h.initSession(&s.session, conn)
	return s
}

func (s *deviceSession) close(reason string) {
	s.closeSession(reason)
}

// run services the connection until it drops, then releases hub state.
// Callers hold a wg slot for it.
func (s *deviceSession) run() {
	h := s.hub
	defer h.wg.Done()
	defer h.unregisterDevice(s)

	go s.writePump()
	s.configureRead()

	for {
		env, ok := s.readEnvelope()
		if !ok {
			s.closeSession("read loop finished")
			return
		}
		s.dispatch(env)
	}
}

func (s *deviceSession) dispatch(env protocol.Envelope) {
	h := s.hub
	switch env.Event {
	case protocol.EventDeviceRegister:
		// Identity was already established at upgrade; treat as heartbeat.

	case protocol.EventHealthReport:
		var report protocol.HealthReport
		if env.DecodePayload(&report) != nil {
			h.metrics.MessagesDropped.Inc()
			return
		}
		h.sink.RecordHealth(s.deviceID, report)

	case protocol.EventPlaybackStateUpdate:
		var state protocol.PlaybackState
		if env.DecodePayload(&state) != nil {
			h.metrics.MessagesDropped.Inc()
			return
		}
		s.playbackMu.Lock()
		s.playback = &state
		s.playbackMu.Unlock()
		h.BroadcastToAdmins(protocol.EventAdminPlaybackState, protocol.AdminPlaybackState{
			DeviceID:      s.deviceID,
			PlaybackState: state,
		})

	case protocol.EventScreenshotUpload:
		var upload protocol.ScreenshotUpload
		if env.DecodePayload(&upload) != nil || upload.Image == "" {
			h.metrics.MessagesDropped.Inc()
			return
		}
		h.sink.RecordScreenshot(s.deviceID, upload.CurrentURL, upload.Image)

	case protocol.EventScreencastFrame:
		if !s.frameLimiter.Allow() {
			h.metrics.FramesDropped.Inc()
			return
		}
		var frame protocol.ScreencastFrame
		if env.DecodePayload(&frame) != nil {
			h.metrics.MessagesDropped.Inc()
			return
		}
		h.relayFrame(s.deviceID, frame)

	case protocol.EventErrorReport:
		var report protocol.ErrorReport
		if env.DecodePayload(&report) != nil {
			h.metrics.MessagesDropped.Inc()
			return
		}
		h.sink.RecordError(s.deviceID, report)

	default:
		h.metrics.MessagesDropped.Inc()
	}
}

// PlaybackStateOf returns the last playback state a device reported.
func (h *Hub) PlaybackStateOf(deviceStableID string) (*protocol.PlaybackState, bool) {
	h.mu.RLock()
	s, ok := h.deviceSessions[deviceStableID]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.playbackMu.Lock()
	defer s.playbackMu.Unlock()
	if s.playback == nil {
		return nil, false
	}
	state := *s.playback
	return &state, true
}

// =============================================================================
// Admin sessions
// =============================================================================

type adminSession struct {
	session
	name string
}

func (h *Hub) newAdminSession(conn *websocket.Conn, name string) *adminSession {
	s := &adminSession{name: name}
	h.initSession(&s.session, conn)
	return s
}

func (a *adminSession) close() {
	a.closeSession("closing")
}

func (a *adminSession) run() {
	h := a.hub
	defer h.wg.Done()
	defer h.unregisterAdmin(a)

	go a.writePump()
	a.configureRead()

	for {
		env, ok := a.readEnvelope()
		if !ok {
			a.closeSession("read loop finished")
			return
		}
		a.dispatch(env)
	}
}

func (a *adminSession) dispatch(env protocol.Envelope) {
	h := a.hub
	switch env.Event {
	case protocol.EventAdminCommand:
		var cmd protocol.AdminCommand
		if env.DecodePayload(&cmd) != nil || cmd.DeviceID == "" {
			h.metrics.MessagesDropped.Inc()
			return
		}
		if !protocol.IsDeviceBound(cmd.Event) {
			h.logger.Printf("[hub] admin %s sent non-routable event %q", a.name, cmd.Event)
			h.metrics.MessagesDropped.Inc()
			return
		}
		var payload any
		if len(cmd.Payload) > 0 {
			payload = cmd.Payload
		}
		if err := h.RouteToDevice(cmd.DeviceID, cmd.Event, payload); err != nil {
			h.logger.Printf("[hub] route %s to %s failed: %v", cmd.Event, cmd.DeviceID, err)
		}

	case protocol.EventAdminScreencastSubscribe:
		var sub protocol.ScreencastSubscription
		if env.DecodePayload(&sub) != nil || sub.DeviceID == "" {
			h.metrics.MessagesDropped.Inc()
			return
		}
		h.subscribe(a, sub.DeviceID)

	case protocol.EventAdminScreencastUnsubscribe:
		var sub protocol.ScreencastSubscription
		if env.DecodePayload(&sub) != nil || sub.DeviceID == "" {
			h.metrics.MessagesDropped.Inc()
			return
		}
		h.unsubscribe(a, sub.DeviceID)

	default:
		h.metrics.MessagesDropped.Inc()
	}
}
