package hub

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/auth"
	"github.com/signagekit/signage-hub-go/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Devices and admin tooling connect from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes wires the websocket entry point. Authentication happens
// before upgrade: devices present their connection token, admins a JWT
// access token.
func RegisterRoutes(router chi.Router, h *Hub) {
	router.Get("/ws", h.handleWS)

	// REST bridge for one-shot admin commands, so dashboards do not need a
	// websocket just to press buttons.
	router.Method(http.MethodPost, "/v1/devices/{device_id}/commands", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := strconv.ParseInt(chi.URLParam(r, "device_id"), 10, 64)
		if err != nil {
			return apperrors.NewValidationError("device_id must be an integer", nil)
		}
		var body struct {
			Event   string              `json:"event"`
			Payload protocol.RawPayload `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if !protocol.IsDeviceBound(body.Event) {
			return apperrors.NewValidationError("event is not routable to devices", nil)
		}
		record, err := h.devices.Get(id)
		if err != nil {
			return err
		}
		var payload any
		if len(body.Payload) > 0 {
			payload = body.Payload
		}
		if err := h.RouteToDevice(record.StableDeviceID, body.Event, payload); err != nil {
			return apperrors.NewAppError(apperrors.ErrorCodeDeviceOffline, "device is not connected", 409, nil)
		}
		return api.WriteAction(w, http.StatusOK, map[string]any{"sent": true, "event": body.Event})
	}))

	// Last playback state a device reported over its session.
	router.Method(http.MethodGet, "/v1/devices/{device_id}/playback", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := strconv.ParseInt(chi.URLParam(r, "device_id"), 10, 64)
		if err != nil {
			return apperrors.NewValidationError("device_id must be an integer", nil)
		}
		record, err := h.devices.Get(id)
		if err != nil {
			return err
		}
		state, ok := h.PlaybackStateOf(record.StableDeviceID)
		if !ok {
			return apperrors.NewAppError(apperrors.ErrorCodeDeviceOffline, "device has not reported playback state", 409, nil)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "playback_state",
			"device_id": record.StableDeviceID,
			"state":     state,
		})
	}))
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	token := r.URL.Query().Get("token")

	switch role {
	case "device":
		h.handleDeviceWS(w, r, token)
	case "admin":
		h.handleAdminWS(w, r, token)
	default:
		http.Error(w, "role must be device or admin", http.StatusBadRequest)
	}
}

func (h *Hub) handleDeviceWS(w http.ResponseWriter, r *http.Request, token string) {
	record, err := h.devices.Authenticate(token)
	if err != nil {
		http.Error(w, "invalid device token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[hub] device upgrade failed: %v", err)
		return
	}

	decision, err := h.licenses.RegisterDevice(record.StableDeviceID)
	if err != nil {
		h.logger.Printf("[hub] admission check failed for %s: %v", record.StableDeviceID, err)
		_ = conn.Close()
		return
	}

	status := licenseStatusPayload(record.StableDeviceID, decision)
	statusFrame := protocol.MustEncode(protocol.EventLicenseStatus, status)
	h.BroadcastToAdmins(protocol.EventAdminLicenseStatus, status)

	if !decision.Admitted() {
		h.metrics.DevicesDenied.Inc()
		h.sink.RecordEvent("WARN", "license:denied", decision.Reason, record.StableDeviceID)
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
		_ = conn.WriteMessage(websocket.TextMessage, statusFrame)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, decision.Reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	s := h.newDeviceSession(conn, record)
	h.registerDevice(s)
	h.sink.RecordEvent("INFO", "device:connect", "device connected", s.deviceID)

	// The device gets its admission state and current content immediately,
	// before any admin command can race in.
	s.sendControl(statusFrame)
	if update, err := h.contentFor(record); err == nil {
		s.sendControl(protocol.MustEncode(protocol.EventContentUpdate, update))
	} else {
		h.logger.Printf("[hub] initial content for %s failed: %v", s.deviceID, err)
	}

	h.wg.Add(1)
	go s.run()
}

func (h *Hub) handleAdminWS(w http.ResponseWriter, r *http.Request, token string) {
	payload, err := auth.VerifyToken(*h.cfg, token)
	if err != nil || payload.Type != auth.TokenTypeAccess {
		http.Error(w, "invalid admin token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[hub] admin upgrade failed: %v", err)
		return
	}

	a := h.newAdminSession(conn, payload.Sub)
	h.registerAdmin(a)

	// Snapshot of currently online devices so the admin UI starts in sync.
	h.mu.RLock()
	statuses := make([]protocol.AdminDeviceStatus, 0, len(h.deviceSessions))
	for _, s := range h.deviceSessions {
		statuses = append(statuses, protocol.AdminDeviceStatus{
			DeviceID: s.deviceID,
			Online:   true,
			LastSeen: s.lastSeenTime().UTC().Format(time.RFC3339),
		})
	}
	h.mu.RUnlock()
	for _, status := range statuses {
		a.sendControl(protocol.MustEncode(protocol.EventAdminDeviceStatus, status))
	}

	h.wg.Add(1)
	go a.run()
}
