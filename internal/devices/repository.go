package devices

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// ErrNotFound is returned when a device row does not exist.
var ErrNotFound = errors.New("device not found")

// Repository handles database operations for device records.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new device Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

const deviceColumns = "id, stable_device_id, display_name, token, viewport_w, viewport_h, kiosk_mode, assigned_playlist_id, created_at"

// Insert creates a device row and returns it with its generated id.
func (r *Repository) Insert(stableID, displayName, token string, viewportW, viewportH int, kioskMode bool) (*DeviceRecord, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.writer.Exec(`
		INSERT INTO devices (stable_device_id, display_name, token, viewport_w, viewport_h, kiosk_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, stableID, displayName, token, viewportW, viewportH, boolToInt(kioskMode), now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// GetByID retrieves a device by row id.
func (r *Repository) GetByID(id int64) (*DeviceRecord, error) {
	row := r.reader.QueryRow("SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	return scanDevice(row)
}

// GetByStableID retrieves a device by its immutable stable id.
func (r *Repository) GetByStableID(stableID string) (*DeviceRecord, error) {
	row := r.reader.QueryRow("SELECT "+deviceColumns+" FROM devices WHERE stable_device_id = ?", stableID)
	return scanDevice(row)
}

// FindByToken resolves a device from its opaque connection token.
func (r *Repository) FindByToken(token string) (*DeviceRecord, error) {
	row := r.reader.QueryRow("SELECT "+deviceColumns+" FROM devices WHERE token = ?", token)
	return scanDevice(row)
}

// List returns all devices ordered by creation.
func (r *Repository) List() ([]DeviceRecord, error) {
	rows, err := r.reader.Query("SELECT " + deviceColumns + " FROM devices ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		record, err := scanDeviceRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if records == nil {
		records = []DeviceRecord{}
	}
	return records, nil
}

// ListByPlaylist returns all devices with the given playlist assigned.
func (r *Repository) ListByPlaylist(playlistID int64) ([]DeviceRecord, error) {
	rows, err := r.reader.Query("SELECT "+deviceColumns+" FROM devices WHERE assigned_playlist_id = ? ORDER BY id ASC", playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		record, err := scanDeviceRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateConfig applies a partial configuration update.
func (r *Repository) UpdateConfig(id int64, patch ConfigPatch) (*DeviceRecord, error) {
	sets := []string{}
	args := []any{}
	if patch.ViewportW != nil {
		sets = append(sets, "viewport_w = ?")
		args = append(args, *patch.ViewportW)
	}
	if patch.ViewportH != nil {
		sets = append(sets, "viewport_h = ?")
		args = append(args, *patch.ViewportH)
	}
	if patch.KioskMode != nil {
		sets = append(sets, "kiosk_mode = ?")
		args = append(args, boolToInt(*patch.KioskMode))
	}
	if len(sets) == 0 {
		return r.GetByID(id)
	}
	args = append(args, id)

	result, err := r.writer.Exec("UPDATE devices SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(id)
}

// Rename updates the display name.
func (r *Repository) Rename(id int64, displayName string) (*DeviceRecord, error) {
	result, err := r.writer.Exec("UPDATE devices SET display_name = ? WHERE id = ?", displayName, id)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(id)
}

// AssignPlaylist sets or clears the assigned playlist.
func (r *Repository) AssignPlaylist(id int64, playlistID *int64) (*DeviceRecord, error) {
	result, err := r.writer.Exec("UPDATE devices SET assigned_playlist_id = ? WHERE id = ?", playlistID, id)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(id)
}

// RotateToken replaces the device token.
func (r *Repository) RotateToken(id int64, token string) error {
	result, err := r.writer.Exec("UPDATE devices SET token = ? WHERE id = ?", token, id)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a device row. Broadcast state cascades via foreign key.
func (r *Repository) Delete(id int64) error {
	result, err := r.writer.Exec("DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDevice(row *sql.Row) (*DeviceRecord, error) {
	var record DeviceRecord
	var kiosk int
	var playlistID sql.NullInt64
	var createdAt string

	err := row.Scan(&record.ID, &record.StableDeviceID, &record.DisplayName, &record.Token,
		&record.ViewportW, &record.ViewportH, &kiosk, &playlistID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return finishDevice(&record, kiosk, playlistID, createdAt)
}

func scanDeviceRows(rows *sql.Rows) (*DeviceRecord, error) {
	var record DeviceRecord
	var kiosk int
	var playlistID sql.NullInt64
	var createdAt string

	err := rows.Scan(&record.ID, &record.StableDeviceID, &record.DisplayName, &record.Token,
		&record.ViewportW, &record.ViewportH, &kiosk, &playlistID, &createdAt)
	if err != nil {
		return nil, err
	}
	return finishDevice(&record, kiosk, playlistID, createdAt)
}

func finishDevice(record *DeviceRecord, kiosk int, playlistID sql.NullInt64, createdAt string) (*DeviceRecord, error) {
	record.KioskMode = kiosk != 0
	if playlistID.Valid {
		record.AssignedPlaylistID = &playlistID.Int64
	}
	parsed, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		parsed, err = time.Parse("2006-01-02 15:04:05", createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
	}
	record.CreatedAt = parsed
	return record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
