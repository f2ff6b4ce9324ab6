package hub

import (
	"github.com/signagekit/signage-hub-go/internal/protocol"
)

// subscribe adds an admin to a device's frame stream. The first subscriber
// starts capture on the device; later ones share the stream.
func (h *Hub) subscribe(a *adminSession, deviceStableID string) {
	h.mu.Lock()
	subs, ok := h.subscriptions[deviceStableID]
	if !ok {
		subs = make(map[*adminSession]struct{})
		h.subscriptions[deviceStableID] = subs
	}
	subs[a] = struct{}{}
	first := len(subs) == 1
	h.mu.Unlock()

	if first {
		if err := h.RouteToDevice(deviceStableID, protocol.EventScreencastStart, nil); err != nil {
			h.logger.Printf("[hub] screencast start for %s failed: %v", deviceStableID, err)
		}
	}
}

// unsubscribe removes an admin from a device's frame stream and stops capture
// when nobody is left watching.
func (h *Hub) unsubscribe(a *adminSession, deviceStableID string) {
	h.mu.Lock()
	subs, ok := h.subscriptions[deviceStableID]
	if ok {
		delete(subs, a)
		if len(subs) == 0 {
			delete(h.subscriptions, deviceStableID)
		} else {
			ok = false
		}
	}
	h.mu.Unlock()

	if ok {
		if err := h.RouteToDevice(deviceStableID, protocol.EventScreencastStop, nil); err != nil && err != ErrDeviceOffline {
			h.logger.Printf("[hub] screencast stop for %s failed: %v", deviceStableID, err)
		}
	}
}

// relayFrame fans one device frame out to its subscribers over their stream
// queues, so a slow admin only loses frames, never control messages.
func (h *Hub) relayFrame(deviceStableID string, frame protocol.ScreencastFrame) {
	h.mu.RLock()
	subs := h.subscriptions[deviceStableID]
	targets := make([]*adminSession, 0, len(subs))
	for a := range subs {
		targets = append(targets, a)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		// Nobody is watching; tell the device to stop wasting bandwidth.
		_ = h.RouteToDevice(deviceStableID, protocol.EventScreencastStop, nil)
		return
	}

	data, err := protocol.Encode(protocol.EventAdminScreencastFrame, protocol.AdminScreencastFrame{
		DeviceID: deviceStableID,
		Data:     frame.Data,
		Metadata: frame.Metadata,
	})
	if err != nil {
		h.logger.Printf("[hub] frame encode failed: %v", err)
		return
	}
	for _, a := range targets {
		a.sendStream(data)
		h.metrics.FramesRelayed.Inc()
	}
}
