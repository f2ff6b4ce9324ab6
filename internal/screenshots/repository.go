package screenshots

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when no screenshot matches a lookup.
var ErrNotFound = errors.New("screenshot not found")

// Screenshot is a stored device screen capture. Images are kept inline as
// base64 JPEG, the hub never writes them to disk.
type Screenshot struct {
	ID              int64     `json:"id"`
	DeviceStableID  string    `json:"device_stable_id"`
	CurrentURL      string    `json:"current_url"`
	ImageJPEGBase64 string    `json:"image_jpeg_base64"`
	CreatedAt       time.Time `json:"created_at"`
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for screenshots.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new screenshots Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

const screenshotColumns = "id, device_stable_id, current_url, image_jpeg_base64, created_at"

// Insert stores a screenshot and trims the device's history down to keepPerDevice
// rows, oldest first. keepPerDevice <= 0 disables trimming.
func (r *Repository) Insert(deviceStableID, currentURL, imageBase64 string, keepPerDevice int) (*Screenshot, error) {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	result, err := r.writer.Exec(`
		INSERT INTO screenshots (device_stable_id, current_url, image_jpeg_base64, created_at)
		VALUES (?, ?, ?, ?)
	`, deviceStableID, currentURL, imageBase64, createdAt)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	if keepPerDevice > 0 {
		_, err = r.writer.Exec(`
			DELETE FROM screenshots
			WHERE device_stable_id = ?
			  AND id NOT IN (
			    SELECT id FROM screenshots
			    WHERE device_stable_id = ?
			    ORDER BY id DESC LIMIT ?
			  )
		`, deviceStableID, deviceStableID, keepPerDevice)
		if err != nil {
			return nil, err
		}
	}

	return r.GetByID(id)
}

// GetByID retrieves a screenshot by row id.
func (r *Repository) GetByID(id int64) (*Screenshot, error) {
	row := r.reader.QueryRow("SELECT "+screenshotColumns+" FROM screenshots WHERE id = ?", id)
	return scanScreenshot(row.Scan)
}

// Latest retrieves the most recent screenshot for a device.
func (r *Repository) Latest(deviceStableID string) (*Screenshot, error) {
	row := r.reader.QueryRow(`
		SELECT `+screenshotColumns+` FROM screenshots
		WHERE device_stable_id = ?
		ORDER BY id DESC LIMIT 1
	`, deviceStableID)
	return scanScreenshot(row.Scan)
}

// ListByDevice retrieves a device's screenshot history, newest first, without
// image payloads.
func (r *Repository) ListByDevice(deviceStableID string) ([]Screenshot, error) {
	rows, err := r.reader.Query(`
		SELECT id, device_stable_id, current_url, created_at FROM screenshots
		WHERE device_stable_id = ?
		ORDER BY id DESC
	`, deviceStableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shots := []Screenshot{}
	for rows.Next() {
		var shot Screenshot
		var currentURL sql.NullString
		var createdAt string
		if err := rows.Scan(&shot.ID, &shot.DeviceStableID, &currentURL, &createdAt); err != nil {
			return nil, err
		}
		shot.CurrentURL = currentURL.String
		parsed, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, err
		}
		shot.CreatedAt = parsed
		shots = append(shots, shot)
	}
	return shots, rows.Err()
}

// DeleteByDevice removes all screenshots for a device.
func (r *Repository) DeleteByDevice(deviceStableID string) error {
	_, err := r.writer.Exec("DELETE FROM screenshots WHERE device_stable_id = ?", deviceStableID)
	return err
}

func scanScreenshot(scan func(dest ...any) error) (*Screenshot, error) {
	var shot Screenshot
	var currentURL sql.NullString
	var createdAt string
	err := scan(&shot.ID, &shot.DeviceStableID, &currentURL, &shot.ImageJPEGBase64, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	shot.CurrentURL = currentURL.String
	parsed, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, err
	}
	shot.CreatedAt = parsed
	return &shot, nil
}
