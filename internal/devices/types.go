package devices

import "time"

// DeviceRecord is the persistent identity of one display device.
// StableDeviceID is immutable after creation; Token is generated once and
// only re-emitted by explicit rotation.
type DeviceRecord struct {
	ID                 int64     `json:"id"`
	StableDeviceID     string    `json:"stable_device_id"`
	DisplayName        string    `json:"display_name"`
	Token              string    `json:"-"`
	ViewportW          int       `json:"viewport_w"`
	ViewportH          int       `json:"viewport_h"`
	KioskMode          bool      `json:"kiosk_mode"`
	AssignedPlaylistID *int64    `json:"assigned_playlist_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ConfigPatch is a partial device configuration update.
type ConfigPatch struct {
	ViewportW *int  `json:"viewport_w,omitempty"`
	ViewportH *int  `json:"viewport_h,omitempty"`
	KioskMode *bool `json:"kiosk_mode,omitempty"`
}

// CreateDeviceInput contains the fields for registering a new device.
type CreateDeviceInput struct {
	DisplayName string `json:"display_name"`
	ViewportW   int    `json:"viewport_w,omitempty"`
	ViewportH   int    `json:"viewport_h,omitempty"`
	KioskMode   *bool  `json:"kiosk_mode,omitempty"`
}
