package broadcast

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

// ErrNotActive is returned when a device has no broadcast override.
var ErrNotActive = errors.New("no active broadcast")

// State is one device's broadcast override plus the playback position to
// restore when it ends.
type State struct {
	DeviceID        int64      `json:"device_id"`
	SavedPlaylistID *int64     `json:"saved_playlist_id,omitempty"`
	SavedItemIndex  int        `json:"saved_item_index"`
	SavedElapsedMs  int64      `json:"saved_elapsed_ms"`
	BroadcastURL    string     `json:"broadcast_url"`
	StartedAt       time.Time  `json:"started_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// Repository handles database operations for broadcast state.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new broadcast Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

const stateColumns = "device_id, saved_playlist_id, saved_item_index, saved_elapsed_ms, broadcast_url, started_at, expires_at"

// Upsert stores or replaces a device's broadcast state.
func (r *Repository) Upsert(state *State) error {
	var expiresAt any
	if state.ExpiresAt != nil {
		expiresAt = state.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := r.writer.Exec(`
		INSERT INTO device_broadcast_state (device_id, saved_playlist_id, saved_item_index, saved_elapsed_ms, broadcast_url, started_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			broadcast_url = excluded.broadcast_url,
			started_at = excluded.started_at,
			expires_at = excluded.expires_at
	`, state.DeviceID, state.SavedPlaylistID, state.SavedItemIndex, state.SavedElapsedMs,
		state.BroadcastURL, state.StartedAt.UTC().Format(time.RFC3339), expiresAt)
	return err
}

// Get retrieves a device's broadcast state.
func (r *Repository) Get(deviceID int64) (*State, error) {
	row := r.reader.QueryRow("SELECT "+stateColumns+" FROM device_broadcast_state WHERE device_id = ?", deviceID)
	return scanState(row.Scan)
}

// Delete removes a device's broadcast state.
func (r *Repository) Delete(deviceID int64) error {
	result, err := r.writer.Exec("DELETE FROM device_broadcast_state WHERE device_id = ?", deviceID)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotActive
	}
	return nil
}

// List returns every active broadcast state.
func (r *Repository) List() ([]State, error) {
	return r.query("SELECT " + stateColumns + " FROM device_broadcast_state")
}

// ListExpired returns states whose expiry has passed.
func (r *Repository) ListExpired(now time.Time) ([]State, error) {
	return r.query(
		"SELECT "+stateColumns+" FROM device_broadcast_state WHERE expires_at IS NOT NULL AND expires_at <= ?",
		now.UTC().Format(time.RFC3339))
}

func (r *Repository) query(query string, args ...any) ([]State, error) {
	rows, err := r.reader.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		state, err := scanState(rows.Scan)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if states == nil {
		states = []State{}
	}
	return states, nil
}

func scanState(scan func(...any) error) (*State, error) {
	var state State
	var savedPlaylistID sql.NullInt64
	var startedAt string
	var expiresAt sql.NullString

	err := scan(&state.DeviceID, &savedPlaylistID, &state.SavedItemIndex, &state.SavedElapsedMs,
		&state.BroadcastURL, &startedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotActive
		}
		return nil, err
	}
	if savedPlaylistID.Valid {
		state.SavedPlaylistID = &savedPlaylistID.Int64
	}
	started, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, err
	}
	state.StartedAt = started
	if expiresAt.Valid && expiresAt.String != "" {
		parsed, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, err
		}
		state.ExpiresAt = &parsed
	}
	return &state, nil
}
