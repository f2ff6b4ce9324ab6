package license

import "time"

// Admission states reported to devices and admins.
const (
	StatusOK     = "ok"
	StatusGrace  = "grace"
	StatusDenied = "denied"
)

// License is a stored activation. ExpiresAt is midnight UTC of the key's
// expiry date; the key stays valid through that whole day. GraceStartedAt is
// set the first time a device is admitted past MaxDevices and never moves.
type License struct {
	ID                 int64      `json:"id"`
	Key                string     `json:"key"`
	KeyHash            string     `json:"key_hash"`
	Tier               string     `json:"tier"`
	MaxDevices         int        `json:"max_devices"`
	CurrentDeviceCount int        `json:"current_device_count"`
	CompanyName        string     `json:"company_name,omitempty"`
	IsActive           bool       `json:"is_active"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	GraceStartedAt     *time.Time `json:"grace_started_at,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Decision is the outcome of a device admission check.
type Decision struct {
	Status      string
	Reason      string
	Tier        string
	LicenseID   int64 // 0 for the implicit free tier
	GraceEndsAt time.Time
}

// Admitted reports whether the device may run (fully or under grace).
func (d Decision) Admitted() bool {
	return d.Status == StatusOK || d.Status == StatusGrace
}
