package license

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/licensekey"
)

// Service enforces device admission against activated licenses. When no
// license is active the installation runs on the implicit free tier, capped
// at cfg.FreeTierMaxDevices concurrently registered devices.
type Service struct {
	cfg    *config.Config
	repo   *Repository
	logger *log.Logger
	now    func() time.Time

	// mu serializes register/unregister so concurrent connects cannot race
	// past the device cap. registered remembers which allowance each live
	// device consumed so unregister always releases the right one.
	mu         sync.Mutex
	registered map[string]int64 // stable device id -> license id (0 = free tier)
	freeCount  int

	onRevoked func()
}

// NewService creates a new license Service.
func NewService(cfg *config.Config, dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:        cfg,
		repo:       NewRepository(dbPair),
		logger:     logger,
		now:        time.Now,
		registered: make(map[string]int64),
	}
}

// SetRevokedHook registers the callback invoked after a revocation so live
// sessions can be re-validated.
func (s *Service) SetRevokedHook(fn func()) {
	s.onRevoked = fn
}

// ResetCounts clears persisted device counts. Call once at startup; live
// sessions do not survive a restart.
func (s *Service) ResetCounts() error {
	return s.repo.ResetCounts()
}

// graceWindow is how long an over-cap license keeps admitting devices.
func (s *Service) graceWindow() time.Duration {
	days := s.cfg.LicenseGraceDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// expiryDeadline returns the instant a license stops being valid. The key is
// honored through the whole expiry day.
func expiryDeadline(lic *License) (time.Time, bool) {
	if lic.ExpiresAt == nil {
		return time.Time{}, false
	}
	return lic.ExpiresAt.Add(24 * time.Hour), true
}

// Activate validates and stores a license key. Re-activating a known key is
// idempotent and re-enables it if it was revoked.
func (s *Service) Activate(key, notes string) (*License, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.NewValidationError("key is required", nil)
	}

	payload, err := licensekey.Decode(key, s.cfg.HubSecret)
	if err != nil {
		switch {
		case errors.Is(err, licensekey.ErrInvalidSignature):
			return nil, apperrors.NewAppError(apperrors.ErrorCodeLicenseSignature, "license key signature is invalid", 400, nil)
		case errors.Is(err, licensekey.ErrUnsupportedVersion):
			return nil, apperrors.NewAppError(apperrors.ErrorCodeLicenseMalformed, "license key version is unsupported", 400, nil)
		default:
			return nil, apperrors.NewAppError(apperrors.ErrorCodeLicenseMalformed, "license key is malformed", 400, nil)
		}
	}

	var expiresAt *time.Time
	if payload.ExpiresAt != "" {
		parsed, err := time.Parse(licensekey.DateLayout, payload.ExpiresAt)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrorCodeLicenseMalformed, "license key has an invalid expiry date", 400, nil)
		}
		parsed = parsed.UTC()
		if s.now().After(parsed.Add(24 * time.Hour)) {
			return nil, apperrors.NewAppError(apperrors.ErrorCodeLicenseExpired, "license key is already expired", 400, nil)
		}
		expiresAt = &parsed
	}

	maxDevices := payload.MaxDevices
	if maxDevices <= 0 {
		maxDevices = licensekey.MaxDevicesForTier(payload.Tier, s.cfg.FreeTierMaxDevices)
	}

	if existing, err := s.repo.GetByKey(key); err == nil {
		if !existing.IsActive {
			if err := s.repo.SetActive(existing.ID, true); err != nil {
				s.logger.Printf("[license] reactivate failed: %v", err)
				return nil, apperrors.NewInternalError("failed to activate license")
			}
			existing.IsActive = true
			s.logger.Printf("[license] reactivated license %d (%s)", existing.ID, existing.Tier)
		}
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewInternalError("failed to activate license")
	}

	lic, err := s.repo.Insert(&License{
		Key:         key,
		KeyHash:     licensekey.KeyHash(key),
		Tier:        payload.Tier,
		MaxDevices:  maxDevices,
		CompanyName: payload.Company,
		IsActive:    true,
		ExpiresAt:   expiresAt,
		Notes:       notes,
	})
	if err != nil {
		s.logger.Printf("[license] insert failed: %v", err)
		return nil, apperrors.NewInternalError("failed to activate license")
	}
	s.logger.Printf("[license] activated license %d tier=%s max_devices=%d", lic.ID, lic.Tier, lic.MaxDevices)
	return lic, nil
}

// Effective returns the governing license, or nil when the installation runs
// on the implicit free tier.
func (s *Service) Effective() (*License, error) {
	lic, err := s.repo.Effective()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.NewInternalError("failed to load license")
	}
	return lic, nil
}

// RegisterDevice admits a connecting device against the effective license and
// consumes one slot on success. The decision tells the caller whether the
// device runs normally, under an over-cap grace window, or not at all.
func (s *Service) RegisterDevice(stableDeviceID string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A superseded connection re-registers; release the held slot first so
	// the device never consumes two.
	s.releaseLocked(stableDeviceID)
	return s.decideLocked(stableDeviceID, true)
}

// decideLocked evaluates admission and, when consume is set, takes a slot.
func (s *Service) decideLocked(stableDeviceID string, consume bool) (Decision, error) {
	now := s.now()

	lic, err := s.repo.Effective()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Decision{}, apperrors.NewInternalError("failed to load license")
	}

	if lic == nil {
		limit := s.cfg.FreeTierMaxDevices
		if limit <= 0 {
			limit = 3
		}
		if consume && s.freeCount >= limit {
			s.logger.Printf("[license] denied device %s: free tier limit %d reached", stableDeviceID, limit)
			return Decision{Status: StatusDenied, Reason: "device limit reached", Tier: "FREE"}, nil
		}
		if consume {
			s.freeCount++
			s.registered[stableDeviceID] = 0
		}
		return Decision{Status: StatusOK, Tier: "FREE"}, nil
	}

	// An expired key is retired outright. Enforcement falls to the next
	// active license, or the free tier, on the following connect.
	if deadline, ok := expiryDeadline(lic); ok && now.After(deadline) {
		if err := s.repo.SetActive(lic.ID, false); err != nil {
			return Decision{}, apperrors.NewInternalError("failed to deactivate license")
		}
		s.logger.Printf("[license] license %d expired, deactivated", lic.ID)
		return Decision{Status: StatusDenied, Reason: "license expired", Tier: lic.Tier, LicenseID: lic.ID}, nil
	}

	withinCap := lic.MaxDevices <= 0 || lic.CurrentDeviceCount < lic.MaxDevices
	if consume {
		ok, err := s.repo.IncrementCount(lic.ID, lic.MaxDevices)
		if err != nil {
			return Decision{}, apperrors.NewInternalError("failed to register device")
		}
		withinCap = ok
	}
	if withinCap {
		if consume {
			s.registered[stableDeviceID] = lic.ID
		}
		return Decision{Status: StatusOK, Tier: lic.Tier, LicenseID: lic.ID}, nil
	}

	// Cap reached. The next devices still run under the persisted grace
	// window; denial starts once the window elapses.
	if lic.GraceStartedAt == nil {
		if err := s.repo.MarkGraceStarted(lic.ID, now); err != nil {
			return Decision{}, apperrors.NewInternalError("failed to record grace window")
		}
		started := now
		lic.GraceStartedAt = &started
		s.logger.Printf("[license] license %d over its device limit, grace window started", lic.ID)
	}
	graceEnds := lic.GraceStartedAt.Add(s.graceWindow())
	if now.After(graceEnds) {
		s.logger.Printf("[license] denied device %s: license %d limit %d reached, grace elapsed", stableDeviceID, lic.ID, lic.MaxDevices)
		return Decision{Status: StatusDenied, Reason: "device limit reached", Tier: lic.Tier, LicenseID: lic.ID}, nil
	}
	if consume {
		if _, err := s.repo.IncrementCount(lic.ID, 0); err != nil {
			return Decision{}, apperrors.NewInternalError("failed to register device")
		}
		s.registered[stableDeviceID] = lic.ID
	}
	return Decision{Status: StatusGrace, Reason: "device limit reached", Tier: lic.Tier, LicenseID: lic.ID, GraceEndsAt: graceEnds}, nil
}

// UnregisterDevice releases the slot a device consumed at admission. Safe to
// call for devices that were never admitted.
func (s *Service) UnregisterDevice(stableDeviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(stableDeviceID)
}

func (s *Service) releaseLocked(stableDeviceID string) {
	licID, ok := s.registered[stableDeviceID]
	if !ok {
		return
	}
	delete(s.registered, stableDeviceID)

	if licID == 0 {
		if s.freeCount > 0 {
			s.freeCount--
		}
		return
	}
	if err := s.repo.DecrementCount(licID); err != nil {
		s.logger.Printf("[license] decrement failed for license %d: %v", licID, err)
	}
}

// Revalidate re-runs admission for a live device, for use after revocations
// and on periodic license sweeps. The device's held slot is released and
// re-acquired against the current effective license.
func (s *Service) Revalidate(stableDeviceID string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(stableDeviceID)
	return s.decideLocked(stableDeviceID, true)
}

// List returns all stored licenses.
func (s *Service) List() ([]License, error) {
	licenses, err := s.repo.List()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list licenses")
	}
	return licenses, nil
}

// Revoke deactivates a license and triggers live session re-validation.
func (s *Service) Revoke(id int64) (*License, error) {
	if err := s.repo.SetActive(id, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewAppError(apperrors.ErrorCodeLicenseNotFound, "license not found", 404, nil)
		}
		return nil, apperrors.NewInternalError("failed to revoke license")
	}
	lic, err := s.repo.GetByID(id)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load license")
	}
	s.logger.Printf("[license] revoked license %d", id)
	if s.onRevoked != nil {
		s.onRevoked()
	}
	return lic, nil
}

// Status summarizes the current enforcement state for the admin UI.
func (s *Service) Status() (map[string]any, error) {
	s.mu.Lock()
	registered := len(s.registered)
	s.mu.Unlock()

	lic, err := s.Effective()
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"object":             "license_status",
		"registered_devices": registered,
	}
	if lic == nil {
		limit := s.cfg.FreeTierMaxDevices
		if limit <= 0 {
			limit = 3
		}
		out["tier"] = "FREE"
		out["max_devices"] = limit
		return out, nil
	}

	out["tier"] = lic.Tier
	out["license_id"] = lic.ID
	out["max_devices"] = lic.MaxDevices
	out["company_name"] = lic.CompanyName
	if lic.ExpiresAt != nil {
		out["expires_at"] = lic.ExpiresAt.UTC().Format(licensekey.DateLayout)
	}
	if deadline, ok := expiryDeadline(lic); ok && s.now().After(deadline) {
		out["expired"] = true
	}
	if lic.GraceStartedAt != nil {
		out["grace_ends_at"] = lic.GraceStartedAt.Add(s.graceWindow()).UTC().Format(time.RFC3339)
	}
	return out, nil
}
