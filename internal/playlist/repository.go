package playlist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

var (
	// ErrNotFound is returned when a playlist row does not exist.
	ErrNotFound = errors.New("playlist not found")
	// ErrItemNotFound is returned when a playlist item does not exist.
	ErrItemNotFound = errors.New("playlist item not found")
)

// Repository handles database operations for playlists and their items.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new playlist Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Insert creates a playlist.
func (r *Repository) Insert(name string) (*Playlist, error) {
	now := nowISO()
	result, err := r.writer.Exec(
		"INSERT INTO playlists (name, is_active, created_at, updated_at) VALUES (?, 1, ?, ?)",
		name, now, now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}

// Get retrieves a playlist without items.
func (r *Repository) Get(id int64) (*Playlist, error) {
	row := r.reader.QueryRow("SELECT id, name, is_active, created_at, updated_at FROM playlists WHERE id = ?", id)
	return scanPlaylist(row)
}

// List returns all playlists without items.
func (r *Repository) List() ([]Playlist, error) {
	rows, err := r.reader.Query("SELECT id, name, is_active, created_at, updated_at FROM playlists ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var playlists []Playlist
	for rows.Next() {
		var p Playlist
		var active int
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := finishPlaylist(&p, active, createdAt, updatedAt); err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if playlists == nil {
		playlists = []Playlist{}
	}
	return playlists, nil
}

// Update renames a playlist and/or flips its active flag.
func (r *Repository) Update(id int64, name *string, isActive *bool) (*Playlist, error) {
	current, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	newName := current.Name
	if name != nil {
		newName = *name
	}
	newActive := current.IsActive
	if isActive != nil {
		newActive = *isActive
	}
	_, err = r.writer.Exec(
		"UPDATE playlists SET name = ?, is_active = ?, updated_at = ? WHERE id = ?",
		newName, boolToInt(newActive), nowISO(), id)
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}

// Delete removes a playlist. Items cascade; device assignments null out.
func (r *Repository) Delete(id int64) error {
	result, err := r.writer.Exec("DELETE FROM playlists WHERE id = ?", id)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// touch bumps updated_at after item mutations.
func (r *Repository) touch(playlistID int64) error {
	_, err := r.writer.Exec("UPDATE playlists SET updated_at = ? WHERE id = ?", nowISO(), playlistID)
	return err
}

const itemColumns = "id, playlist_id, content_id, url, duration_seconds, order_index, time_window_start, time_window_end, days_of_week"

// Items returns a playlist's items in rotation order.
func (r *Repository) Items(playlistID int64) ([]Item, error) {
	rows, err := r.reader.Query(
		"SELECT "+itemColumns+" FROM playlist_items WHERE playlist_id = ? ORDER BY order_index ASC, id ASC",
		playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// GetItem retrieves one item.
func (r *Repository) GetItem(itemID int64) (*Item, error) {
	row := r.reader.QueryRow("SELECT "+itemColumns+" FROM playlist_items WHERE id = ?", itemID)
	var item Item
	var contentID sql.NullInt64
	var windowStart, windowEnd, days sql.NullString
	err := row.Scan(&item.ID, &item.PlaylistID, &contentID, &item.URL, &item.DurationSeconds,
		&item.OrderIndex, &windowStart, &windowEnd, &days)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return finishItem(&item, contentID, windowStart, windowEnd, days)
}

// InsertItem appends an item. A negative orderIndex places it at the end.
func (r *Repository) InsertItem(playlistID int64, item *Item) (*Item, error) {
	orderIndex := item.OrderIndex
	if orderIndex < 0 {
		row := r.reader.QueryRow(
			"SELECT COALESCE(MAX(order_index) + 1, 0) FROM playlist_items WHERE playlist_id = ?", playlistID)
		if err := row.Scan(&orderIndex); err != nil {
			return nil, err
		}
	}
	days, err := encodeDays(item.DaysOfWeek)
	if err != nil {
		return nil, err
	}
	result, err := r.writer.Exec(`
		INSERT INTO playlist_items (playlist_id, content_id, url, duration_seconds, order_index, time_window_start, time_window_end, days_of_week)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, playlistID, item.ContentID, item.URL, item.DurationSeconds, orderIndex,
		nullIfEmpty(item.TimeWindowStart), nullIfEmpty(item.TimeWindowEnd), days)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := r.touch(playlistID); err != nil {
		return nil, err
	}
	return r.GetItem(id)
}

// UpdateItem rewrites an item in place.
func (r *Repository) UpdateItem(item *Item) (*Item, error) {
	days, err := encodeDays(item.DaysOfWeek)
	if err != nil {
		return nil, err
	}
	result, err := r.writer.Exec(`
		UPDATE playlist_items
		SET content_id = ?, url = ?, duration_seconds = ?, order_index = ?, time_window_start = ?, time_window_end = ?, days_of_week = ?
		WHERE id = ?
	`, item.ContentID, item.URL, item.DurationSeconds, item.OrderIndex,
		nullIfEmpty(item.TimeWindowStart), nullIfEmpty(item.TimeWindowEnd), days, item.ID)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, ErrItemNotFound
	}
	if err := r.touch(item.PlaylistID); err != nil {
		return nil, err
	}
	return r.GetItem(item.ID)
}

// DeleteItem removes one item.
func (r *Repository) DeleteItem(playlistID, itemID int64) error {
	result, err := r.writer.Exec("DELETE FROM playlist_items WHERE id = ? AND playlist_id = ?", itemID, playlistID)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrItemNotFound
	}
	return r.touch(playlistID)
}

// Reorder rewrites order_index to match the given item id sequence.
func (r *Repository) Reorder(playlistID int64, itemIDs []int64) error {
	tx, err := r.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for index, itemID := range itemIDs {
		result, err := tx.Exec(
			"UPDATE playlist_items SET order_index = ? WHERE id = ? AND playlist_id = ?",
			index, itemID, playlistID)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return ErrItemNotFound
		}
	}
	if _, err := tx.Exec("UPDATE playlists SET updated_at = ? WHERE id = ?", nowISO(), playlistID); err != nil {
		return err
	}
	return tx.Commit()
}

func scanPlaylist(row *sql.Row) (*Playlist, error) {
	var p Playlist
	var active int
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := finishPlaylist(&p, active, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func finishPlaylist(p *Playlist, active int, createdAt, updatedAt string) error {
	p.IsActive = active != 0
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return err
	}
	updated, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return err
	}
	p.CreatedAt = created
	p.UpdatedAt = updated
	return nil
}

func scanItem(rows *sql.Rows) (*Item, error) {
	var item Item
	var contentID sql.NullInt64
	var windowStart, windowEnd, days sql.NullString
	err := rows.Scan(&item.ID, &item.PlaylistID, &contentID, &item.URL, &item.DurationSeconds,
		&item.OrderIndex, &windowStart, &windowEnd, &days)
	if err != nil {
		return nil, err
	}
	return finishItem(&item, contentID, windowStart, windowEnd, days)
}

func finishItem(item *Item, contentID sql.NullInt64, windowStart, windowEnd, days sql.NullString) (*Item, error) {
	if contentID.Valid {
		item.ContentID = &contentID.Int64
	}
	if windowStart.Valid {
		item.TimeWindowStart = windowStart.String
	}
	if windowEnd.Valid {
		item.TimeWindowEnd = windowEnd.String
	}
	if days.Valid && days.String != "" {
		var parsed []int
		if err := json.Unmarshal([]byte(days.String), &parsed); err != nil {
			return nil, err
		}
		item.DaysOfWeek = parsed
	}
	return item, nil
}

// encodeDays stores the weekday list as a JSON array, NULL when unrestricted.
func encodeDays(days []int) (any, error) {
	if len(days) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(days)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
