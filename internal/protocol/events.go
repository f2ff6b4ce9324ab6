// Package protocol defines the websocket wire contract between the hub, the
// display devices, and admin clients. Every message is a JSON envelope
// {event, payload}; payloads are additive and unknown fields are ignored.
package protocol

// Server -> device events.
const (
	EventContentUpdate     = "content:update"
	EventConfigUpdate      = "config:update"
	EventDisplayNavigate   = "display:navigate"
	EventDisplayRefresh    = "display:refresh"
	EventScreenshotRequest = "screenshot:request"
	EventDeviceRestart     = "device:restart"
	EventRemoteClick       = "remote:click"
	EventRemoteType        = "remote:type"
	EventRemoteKey         = "remote:key"
	EventRemoteScroll      = "remote:scroll"
	EventPlaylistPause     = "playlist:pause"
	EventPlaylistResume    = "playlist:resume"
	EventPlaylistNext      = "playlist:next"
	EventPlaylistPrevious  = "playlist:previous"
	EventScreencastStart   = "screencast:start"
	EventScreencastStop    = "screencast:stop"
	EventLicenseStatus     = "license:status"
)

// Device -> server events.
const (
	EventDeviceRegister      = "device:register"
	EventHealthReport        = "health:report"
	EventPlaybackStateUpdate = "playback:state:update"
	EventScreenshotUpload    = "screenshot:upload"
	EventScreencastFrame     = "screencast:frame"
	EventErrorReport         = "error:report"
)

// Server -> admin events.
const (
	EventAdminDeviceStatus    = "admin:device:status"
	EventAdminPlaybackState   = "admin:playback:state"
	EventAdminScreencastFrame = "admin:screencast:frame"
	EventAdminLicenseStatus   = "admin:license:status"
)

// Admin -> server events. Admin commands address a device by stable id; the
// hub strips the address and forwards the device-facing event.
const (
	EventAdminCommand               = "admin:command"
	EventAdminScreencastSubscribe   = "admin:screencast:subscribe"
	EventAdminScreencastUnsubscribe = "admin:screencast:unsubscribe"
)

// PlaylistItem is the wire form of one playlist entry.
type PlaylistItem struct {
	ID              int64  `json:"id"`
	ContentID       *int64 `json:"contentId,omitempty"`
	URL             string `json:"url"`
	DurationSeconds int    `json:"durationSeconds"`
	OrderIndex      int    `json:"orderIndex"`
	TimeWindowStart string `json:"timeWindowStart,omitempty"` // HH:MM
	TimeWindowEnd   string `json:"timeWindowEnd,omitempty"`   // HH:MM
	DaysOfWeek      []int  `json:"daysOfWeek,omitempty"`      // 0=Sunday..6=Saturday
}

// ContentUpdate replaces a device's playlist. Broadcast marks a transient
// single-item override; StartIndex/StartElapsedMs resume a restored playlist
// from a saved position.
type ContentUpdate struct {
	PlaylistID     int64          `json:"playlistId"`
	Items          []PlaylistItem `json:"items"`
	Broadcast      bool           `json:"broadcast,omitempty"`
	StartIndex     *int           `json:"startIndex,omitempty"`
	StartElapsedMs *int64         `json:"startElapsedMs,omitempty"`
}

// ConfigUpdate applies a partial device configuration.
type ConfigUpdate struct {
	DisplayWidth  *int  `json:"displayWidth,omitempty"`
	DisplayHeight *int  `json:"displayHeight,omitempty"`
	KioskMode     *bool `json:"kioskMode,omitempty"`
}

// DisplayNavigate performs a one-shot navigation without touching the playlist.
type DisplayNavigate struct {
	URL string `json:"url"`
}

// RemoteClick synthesizes a click in device-pixel coordinates.
type RemoteClick struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button,omitempty"`
}

// RemoteType focuses the optional selector and types the text.
type RemoteType struct {
	Text     string `json:"text"`
	Selector string `json:"selector,omitempty"`
}

// RemoteKey synthesizes a keypress with optional modifiers.
type RemoteKey struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers,omitempty"` // Control|Shift|Alt|Meta
}

// RemoteScroll scrolls to an absolute position.
type RemoteScroll struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PlaylistControl parameterizes playlist:next / playlist:previous.
type PlaylistControl struct {
	RespectConstraints *bool `json:"respectConstraints,omitempty"`
}

// LicenseStatus notifies a device (or admins) of its admission state.
type LicenseStatus struct {
	DeviceID          string `json:"deviceId,omitempty"`
	Status            string `json:"status"` // ok | grace | denied
	Reason            string `json:"reason,omitempty"`
	GracePeriodEndsAt string `json:"gracePeriodEndsAt,omitempty"` // RFC3339
}

// DeviceRegister confirms identity immediately after connect.
type DeviceRegister struct {
	Token string `json:"token"`
}

// HealthReport is the periodic device health sample, doubling as heartbeat.
type HealthReport struct {
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"memory"`
	Disk      float64 `json:"disk"`
	Timestamp string  `json:"timestamp"` // RFC3339
}

// PlaybackState is emitted by the rotation engine on every transition and on
// a periodic heartbeat while running.
type PlaybackState struct {
	IsPlaying        bool   `json:"isPlaying"`
	IsPaused         bool   `json:"isPaused"`
	IsBroadcasting   bool   `json:"isBroadcasting"`
	CurrentItemID    *int64 `json:"currentItemId,omitempty"`
	CurrentItemIndex int    `json:"currentItemIndex"`
	PlaylistID       int64  `json:"playlistId"`
	TotalItems       int    `json:"totalItems"`
	CurrentURL       string `json:"currentUrl,omitempty"`
	TimeRemainingMs  int64  `json:"timeRemainingMs"`
}

// ScreenshotUpload carries a JPEG capture.
type ScreenshotUpload struct {
	Image      string `json:"image"` // base64 JPEG
	CurrentURL string `json:"currentUrl,omitempty"`
}

// FrameMetadata describes one screencast frame.
type FrameMetadata struct {
	SessionID   string `json:"sessionId"`
	TimestampMs int64  `json:"timestampMs"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// ScreencastFrame is a single live frame from a device.
type ScreencastFrame struct {
	Data     string        `json:"data"` // base64 JPEG
	Metadata FrameMetadata `json:"metadata"`
}

// ErrorReport is non-fatal device telemetry.
type ErrorReport struct {
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

// AdminDeviceStatus is fanned out to admins on connect/disconnect.
type AdminDeviceStatus struct {
	DeviceID string `json:"deviceId"`
	Online   bool   `json:"online"`
	LastSeen string `json:"lastSeen"` // RFC3339
}

// AdminPlaybackState mirrors a device's playback state to admins.
type AdminPlaybackState struct {
	DeviceID string `json:"deviceId"`
	PlaybackState
}

// AdminScreencastFrame relays a device frame to a subscribed admin.
type AdminScreencastFrame struct {
	DeviceID string        `json:"deviceId"`
	Data     string        `json:"data"`
	Metadata FrameMetadata `json:"metadata"`
}

// AdminCommand wraps a device-facing event with its target device. The hub
// validates the inner event name against the server->device catalog.
type AdminCommand struct {
	DeviceID string     `json:"deviceId"`
	Event    string     `json:"event"`
	Payload  RawPayload `json:"payload,omitempty"`
}

// ScreencastSubscription targets a device stream.
type ScreencastSubscription struct {
	DeviceID string `json:"deviceId"`
}
