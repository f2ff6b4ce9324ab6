package license

import (
	"database/sql"
	"errors"
	"time"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// ErrNotFound is returned when a license row does not exist.
var ErrNotFound = errors.New("license not found")

// Repository handles database operations for licenses.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new license Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

const licenseColumns = "id, key, key_hash, tier, max_devices, current_device_count, company_name, is_active, expires_at, grace_started_at, notes, created_at"

// Insert stores a newly activated license.
func (r *Repository) Insert(lic *License) (*License, error) {
	var expiresAt, graceStartedAt any
	if lic.ExpiresAt != nil {
		expiresAt = lic.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if lic.GraceStartedAt != nil {
		graceStartedAt = lic.GraceStartedAt.UTC().Format(time.RFC3339)
	}
	result, err := r.writer.Exec(`
		INSERT INTO licenses (key, key_hash, tier, max_devices, current_device_count, company_name, is_active, expires_at, grace_started_at, notes, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
	`, lic.Key, lic.KeyHash, lic.Tier, lic.MaxDevices, lic.CompanyName, boolToInt(lic.IsActive),
		expiresAt, graceStartedAt, lic.Notes, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// GetByID retrieves a license by row id.
func (r *Repository) GetByID(id int64) (*License, error) {
	row := r.reader.QueryRow("SELECT "+licenseColumns+" FROM licenses WHERE id = ?", id)
	return scanLicense(row)
}

// GetByKey retrieves a license by its key string.
func (r *Repository) GetByKey(key string) (*License, error) {
	row := r.reader.QueryRow("SELECT "+licenseColumns+" FROM licenses WHERE key = ?", key)
	return scanLicense(row)
}

// Effective returns the active license with the largest device allowance, or
// ErrNotFound when no license is active.
func (r *Repository) Effective() (*License, error) {
	row := r.reader.QueryRow("SELECT " + licenseColumns + " FROM licenses WHERE is_active = 1 ORDER BY max_devices DESC, id ASC LIMIT 1")
	return scanLicense(row)
}

// List returns all licenses, newest first.
func (r *Repository) List() ([]License, error) {
	rows, err := r.reader.Query("SELECT " + licenseColumns + " FROM licenses ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var licenses []License
	for rows.Next() {
		lic, err := scanLicenseRows(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, *lic)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if licenses == nil {
		licenses = []License{}
	}
	return licenses, nil
}

// SetActive flips the active flag.
func (r *Repository) SetActive(id int64, active bool) error {
	result, err := r.writer.Exec("UPDATE licenses SET is_active = ? WHERE id = ?", boolToInt(active), id)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkGraceStarted records the first moment a license admitted past its cap.
// A no-op if grace already started, so the window never slides.
func (r *Repository) MarkGraceStarted(id int64, at time.Time) error {
	_, err := r.writer.Exec(
		"UPDATE licenses SET grace_started_at = ? WHERE id = ? AND grace_started_at IS NULL",
		at.UTC().Format(time.RFC3339), id)
	return err
}

// IncrementCount raises the registered-device count, guarded so the count
// never passes maxDevices. maxDevices <= 0 means unlimited. Returns false if
// the license is at capacity.
func (r *Repository) IncrementCount(id int64, maxDevices int) (bool, error) {
	var result sql.Result
	var err error
	if maxDevices > 0 {
		result, err = r.writer.Exec(
			"UPDATE licenses SET current_device_count = current_device_count + 1 WHERE id = ? AND current_device_count < ?",
			id, maxDevices)
	} else {
		result, err = r.writer.Exec(
			"UPDATE licenses SET current_device_count = current_device_count + 1 WHERE id = ?", id)
	}
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DecrementCount lowers the registered-device count, floored at zero.
func (r *Repository) DecrementCount(id int64) error {
	_, err := r.writer.Exec(
		"UPDATE licenses SET current_device_count = current_device_count - 1 WHERE id = ? AND current_device_count > 0", id)
	return err
}

// ResetCounts zeroes every license's registered-device count. Called once at
// startup since live sessions do not survive a restart.
func (r *Repository) ResetCounts() error {
	_, err := r.writer.Exec("UPDATE licenses SET current_device_count = 0")
	return err
}

func scanLicense(row *sql.Row) (*License, error) {
	var lic License
	var active int
	var company, notes sql.NullString
	var expiresAt, graceStartedAt sql.NullString
	var createdAt string

	err := row.Scan(&lic.ID, &lic.Key, &lic.KeyHash, &lic.Tier, &lic.MaxDevices, &lic.CurrentDeviceCount,
		&company, &active, &expiresAt, &graceStartedAt, &notes, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return finishLicense(&lic, active, company, notes, expiresAt, graceStartedAt, createdAt)
}

func scanLicenseRows(rows *sql.Rows) (*License, error) {
	var lic License
	var active int
	var company, notes sql.NullString
	var expiresAt, graceStartedAt sql.NullString
	var createdAt string

	err := rows.Scan(&lic.ID, &lic.Key, &lic.KeyHash, &lic.Tier, &lic.MaxDevices, &lic.CurrentDeviceCount,
		&company, &active, &expiresAt, &graceStartedAt, &notes, &createdAt)
	if err != nil {
		return nil, err
	}
	return finishLicense(&lic, active, company, notes, expiresAt, graceStartedAt, createdAt)
}

func finishLicense(lic *License, active int, company, notes, expiresAt, graceStartedAt sql.NullString, createdAt string) (*License, error) {
	lic.IsActive = active != 0
	if company.Valid {
		lic.CompanyName = company.String
	}
	if notes.Valid {
		lic.Notes = notes.String
	}
	if expiresAt.Valid && expiresAt.String != "" {
		parsed, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, err
		}
		lic.ExpiresAt = &parsed
	}
	if graceStartedAt.Valid && graceStartedAt.String != "" {
		parsed, err := time.Parse(time.RFC3339, graceStartedAt.String)
		if err != nil {
			return nil, err
		}
		lic.GraceStartedAt = &parsed
	}
	parsed, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, err
	}
	lic.CreatedAt = parsed
	return lic, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
