package audit

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "DEBUG"
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// Well-known event types recorded by the hub.
const (
	TypeDeviceConnect    = "device:connect"
	TypeDeviceDisconnect = "device:disconnect"
	TypeDeviceError      = "device:error"
	TypeLicenseDenied    = "license:denied"
	TypeLicenseActivated = "license:activated"
	TypeBroadcastStarted = "broadcast:started"
	TypeSystemStartup    = "system:startup"
)

// AuditEvent represents a single audit event.
type AuditEvent struct {
	EventID    string         `json:"event_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      EventLevel     `json:"level"`
	Type       string         `json:"type"`
	Message    string         `json:"message"`
	DeviceID   *string        `json:"device_id,omitempty"`
	Source     *string        `json:"source,omitempty"`
	StackTrace *string        `json:"stack_trace,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// WriteEventInput contains the fields for creating a new audit event.
type WriteEventInput struct {
	Type       string         `json:"type"`
	Level      *EventLevel    `json:"level,omitempty"`
	Message    string         `json:"message"`
	DeviceID   *string        `json:"device_id,omitempty"`
	Source     *string        `json:"source,omitempty"`
	StackTrace *string        `json:"stack_trace,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventQueryFilters contains optional filters for querying events.
type EventQueryFilters struct {
	Type      *string     `json:"type,omitempty"`
	Level     *EventLevel `json:"level,omitempty"`
	DeviceID  *string     `json:"device_id,omitempty"`
	StartDate *string     `json:"start_date,omitempty"` // ISO 8601
	EndDate   *string     `json:"end_date,omitempty"`   // ISO 8601
	Limit     int         `json:"limit,omitempty"`
	Offset    int         `json:"offset,omitempty"`
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for audit events.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new audit Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

const eventColumns = "event_id, timestamp, level, type, message, device_id, source, stack_trace, payload"

// InsertEvent writes a new audit event to the database.
// Generates UUID, captures timestamp, defaults level to INFO.
func (r *Repository) InsertEvent(input WriteEventInput) (*AuditEvent, error) {
	eventID := uuid.New().String()
	timestamp := nowISO()

	level := EventLevelInfo
	if input.Level != nil {
		level = *input.Level
	}

	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	_, err = r.writer.Exec(`
		INSERT INTO audit_events (event_id, timestamp, level, type, message, device_id, source, stack_trace, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, timestamp, string(level), input.Type, input.Message,
		input.DeviceID, input.Source, input.StackTrace, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	return r.GetEvent(eventID)
}

// GetEvent retrieves a single event by ID. Returns nil, nil if not found.
func (r *Repository) GetEvent(eventID string) (*AuditEvent, error) {
	row := r.reader.QueryRow("SELECT "+eventColumns+" FROM audit_events WHERE event_id = ?", eventID)
	return r.scanEvent(row)
}

// QueryEvents retrieves events matching filters with pagination.
// Orders by timestamp DESC (newest first). Returns events and total count.
func (r *Repository) QueryEvents(filters EventQueryFilters) ([]AuditEvent, int, error) {
	whereClause, args := r.buildWhereClause(filters)

	var total int
	if err := r.reader.QueryRow("SELECT COUNT(*) FROM audit_events "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT " + eventColumns + " FROM audit_events " + whereClause +
		" ORDER BY timestamp DESC, event_id DESC LIMIT ? OFFSET ?"
	queryArgs := append(args, limit, filters.Offset)

	rows, err := r.reader.Query(query, queryArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		event, err := r.scanEventRows(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if events == nil {
		events = []AuditEvent{}
	}
	return events, total, nil
}

// PruneOldEvents deletes events older than retentionDays. Returns the number
// of rows removed.
func (r *Repository) PruneOldEvents(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	result, err := r.writer.Exec("DELETE FROM audit_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// buildWhereClause assembles the filter clause and its arguments.
func (r *Repository) buildWhereClause(filters EventQueryFilters) (string, []any) {
	var conditions []string
	var args []any

	if filters.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, *filters.Type)
	}
	if filters.Level != nil {
		conditions = append(conditions, "level = ?")
		args = append(args, string(*filters.Level))
	}
	if filters.DeviceID != nil {
		conditions = append(conditions, "device_id = ?")
		args = append(args, *filters.DeviceID)
	}
	if filters.StartDate != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filters.StartDate)
	}
	if filters.EndDate != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filters.EndDate)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *Repository) scanEvent(row *sql.Row) (*AuditEvent, error) {
	var event AuditEvent
	var timestamp, level, payload string
	var deviceID, source, stackTrace sql.NullString

	err := row.Scan(&event.EventID, &timestamp, &level, &event.Type, &event.Message,
		&deviceID, &source, &stackTrace, &payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return finishEvent(&event, timestamp, level, deviceID, source, stackTrace, payload)
}

func (r *Repository) scanEventRows(rows *sql.Rows) (*AuditEvent, error) {
	var event AuditEvent
	var timestamp, level, payload string
	var deviceID, source, stackTrace sql.NullString

	err := rows.Scan(&event.EventID, &timestamp, &level, &event.Type, &event.Message,
		&deviceID, &source, &stackTrace, &payload)
	if err != nil {
		return nil, err
	}
	return finishEvent(&event, timestamp, level, deviceID, source, stackTrace, payload)
}

func finishEvent(event *AuditEvent, timestamp, level string, deviceID, source, stackTrace sql.NullString, payload string) (*AuditEvent, error) {
	parsed, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return nil, err
	}
	event.Timestamp = parsed
	event.Level = EventLevel(level)
	if deviceID.Valid {
		event.DeviceID = &deviceID.String
	}
	if source.Valid {
		event.Source = &source.String
	}
	if stackTrace.Valid {
		event.StackTrace = &stackTrace.String
	}
	if payload == "" {
		payload = "{}"
	}
	if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
		return nil, err
	}
	return event, nil
}
