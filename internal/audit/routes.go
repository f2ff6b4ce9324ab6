package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
)

// MaxMessageLength is the maximum allowed length for audit event messages.
const MaxMessageLength = 2000

// validEventLevels defines all valid audit event levels.
var validEventLevels = map[string]EventLevel{
	"DEBUG": EventLevelDebug,
	"INFO":  EventLevelInfo,
	"WARN":  EventLevelWarn,
	"ERROR": EventLevelError,
}

// CreateEventRequest represents the request body for POST /v1/audit/events.
type CreateEventRequest struct {
	Type     string         `json:"type"`
	Level    string         `json:"level,omitempty"`
	Message  string         `json:"message"`
	DeviceID *string        `json:"device_id,omitempty"`
	Source   *string        `json:"source,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// RegisterRoutes wires audit routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/audit/events", api.Handler(queryEvents(service)))
	router.Method(http.MethodGet, "/v1/audit/events/{event_id}", api.Handler(getEvent(service)))
	router.Method(http.MethodPost, "/v1/audit/events", api.Handler(recordEvent(service)))
}

// queryEvents retrieves audit events with optional filters.
// GET /v1/audit/events
func queryEvents(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}

		events, total, hasMore, err := service.QueryEvents(filters)
		if err != nil {
			return apperrors.NewInternalError("failed to query audit events")
		}

		formatted := make([]map[string]any, 0, len(events))
		for i := range events {
			formatted = append(formatted, formatEvent(&events[i]))
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"object":      "list",
			"data":        formatted,
			"has_more":    hasMore,
			"url":         "/v1/audit/events",
			"total_count": total,
		})
	}
}

// getEvent retrieves a single audit event by ID.
// GET /v1/audit/events/{event_id}
func getEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		eventID := chi.URLParam(r, "event_id")

		event, err := service.GetEvent(eventID)
		if err != nil {
			var notFound *EventNotFoundError
			if errors.As(err, &notFound) {
				return apperrors.NewAppError(apperrors.ErrorCodeEventNotFound, "audit event not found", 404, nil)
			}
			return apperrors.NewInternalError("failed to load audit event")
		}
		return api.WriteResource(w, http.StatusOK, formatEvent(event))
	}
}

// recordEvent stores an event submitted by admin tooling.
// POST /v1/audit/events
func recordEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req CreateEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if req.Type == "" {
			return apperrors.NewValidationError("type is required", nil)
		}
		if req.Message == "" {
			return apperrors.NewValidationError("message is required", nil)
		}
		if len(req.Message) > MaxMessageLength {
			return apperrors.NewValidationError("message is too long", nil)
		}

		input := WriteEventInput{
			Type:     req.Type,
			Message:  req.Message,
			DeviceID: req.DeviceID,
			Source:   req.Source,
			Payload:  req.Payload,
		}
		if req.Level != "" {
			level, ok := validEventLevels[req.Level]
			if !ok {
				return apperrors.NewValidationError("level must be DEBUG, INFO, WARN, or ERROR", nil)
			}
			input.Level = &level
		}

		event, err := service.RecordEvent(input)
		if err != nil {
			return apperrors.NewInternalError("failed to record audit event")
		}
		return api.WriteResource(w, http.StatusCreated, formatEvent(event))
	}
}

func parseQueryFilters(r *http.Request) (EventQueryFilters, error) {
	query := r.URL.Query()
	var filters EventQueryFilters

	if value := query.Get("type"); value != "" {
		filters.Type = &value
	}
	if value := query.Get("level"); value != "" {
		level, ok := validEventLevels[value]
		if !ok {
			return filters, apperrors.NewValidationError("level must be DEBUG, INFO, WARN, or ERROR", nil)
		}
		filters.Level = &level
	}
	if value := query.Get("device_id"); value != "" {
		filters.DeviceID = &value
	}
	if value := query.Get("start_date"); value != "" {
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return filters, apperrors.NewValidationError("start_date must be RFC3339", nil)
		}
		filters.StartDate = &value
	}
	if value := query.Get("end_date"); value != "" {
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return filters, apperrors.NewValidationError("end_date must be RFC3339", nil)
		}
		filters.EndDate = &value
	}
	if value := query.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			return filters, apperrors.NewValidationError("limit must be a non-negative integer", nil)
		}
		filters.Limit = limit
	}
	if value := query.Get("offset"); value != "" {
		offset, err := strconv.Atoi(value)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("offset must be a non-negative integer", nil)
		}
		filters.Offset = offset
	}
	return filters, nil
}

func formatEvent(event *AuditEvent) map[string]any {
	out := map[string]any{
		"object":    "audit_event",
		"event_id":  event.EventID,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
		"level":     string(event.Level),
		"type":      event.Type,
		"message":   event.Message,
		"payload":   event.Payload,
	}
	if event.DeviceID != nil {
		out["device_id"] = *event.DeviceID
	}
	if event.Source != nil {
		out["source"] = *event.Source
	}
	if event.StackTrace != nil {
		out["stack_trace"] = *event.StackTrace
	}
	return out
}
