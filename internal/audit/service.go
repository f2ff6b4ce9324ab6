package audit

import (
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/protocol"
)

// Default configuration values
const (
	DefaultRetentionDays   = 30
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Service provides audit log management and doubles as the hub's telemetry
// sink for connection, license, and error events.
type Service struct {
	cfg               *config.Config
	logger            *log.Logger
	repo              *Repository
	retentionDays     int
	defaultQueryLimit int
	maxQueryLimit     int

	cron *cron.Cron

	healthy             bool
	healthMu            sync.RWMutex
	consecutiveFailures int
}

// NewService creates a new audit service.
func NewService(cfg *config.Config, dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	retentionDays := cfg.AuditRetentionDays
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Service{
		cfg:               cfg,
		logger:            logger,
		repo:              NewRepository(dbPair),
		retentionDays:     retentionDays,
		defaultQueryLimit: DefaultQueryLimit,
		maxQueryLimit:     MaxQueryLimit,
		healthy:           true,
	}
}

// RecordEvent writes a new audit event.
func (s *Service) RecordEvent(input WriteEventInput) (*AuditEvent, error) {
	if input.Level == nil {
		level := EventLevelInfo
		input.Level = &level
	}

	event, err := s.repo.InsertEvent(input)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record audit event: %w", err)
	}
	s.recordSuccess()
	return event, nil
}

// RecordSimple writes an event from flat fields, used by the hub sink path
// where no payload is available.
func (s *Service) RecordSimple(level, eventType, message, deviceStableID string) {
	eventLevel := EventLevel(level)
	input := WriteEventInput{Type: eventType, Level: &eventLevel, Message: message}
	if deviceStableID != "" {
		input.DeviceID = &deviceStableID
	}
	if _, err := s.RecordEvent(input); err != nil {
		s.logger.Printf("[audit] record failed: %v", err)
	}
}

// RecordDeviceError stores a device's error:report telemetry.
func (s *Service) RecordDeviceError(deviceStableID string, report protocol.ErrorReport) {
	level := EventLevelError
	source := "device"
	input := WriteEventInput{
		Type:     TypeDeviceError,
		Level:    &level,
		Message:  report.Message,
		DeviceID: &deviceStableID,
		Source:   &source,
	}
	if report.Context != "" {
		input.Payload = map[string]any{"context": report.Context}
	}
	if _, err := s.RecordEvent(input); err != nil {
		s.logger.Printf("[audit] record device error failed: %v", err)
	}
}

// QueryEvents retrieves events with filters and pagination. Clamps limit to
// maxQueryLimit. Returns events, total count, and a hasMore flag.
func (s *Service) QueryEvents(filters EventQueryFilters) ([]AuditEvent, int, bool, error) {
	if filters.Limit == 0 {
		filters.Limit = s.defaultQueryLimit
	}
	if filters.Limit > s.maxQueryLimit {
		filters.Limit = s.maxQueryLimit
	}

	events, total, err := s.repo.QueryEvents(filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query audit events: %w", err)
	}
	s.recordSuccess()

	hasMore := filters.Offset+len(events) < total
	return events, total, hasMore, nil
}

// GetEvent retrieves a single event by ID.
func (s *Service) GetEvent(eventID string) (*AuditEvent, error) {
	event, err := s.repo.GetEvent(eventID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	if event == nil {
		return nil, &EventNotFoundError{EventID: eventID}
	}
	s.recordSuccess()
	return event, nil
}

// StartPruneJob schedules the daily retention compactor and runs one prune
// immediately.
func (s *Service) StartPruneJob() {
	s.logger.Printf("[audit] starting prune job (retention: %d days)", s.retentionDays)

	if count, err := s.Prune(); err != nil {
		s.logger.Printf("[audit] startup prune failed: %v", err)
	} else if count > 0 {
		s.logger.Printf("[audit] pruned %d events on startup", count)
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc("@daily", func() {
		if count, err := s.Prune(); err != nil {
			s.logger.Printf("[audit] prune failed: %v", err)
		} else if count > 0 {
			s.logger.Printf("[audit] pruned %d events", count)
		}
	})
	if err != nil {
		s.logger.Printf("[audit] prune schedule failed: %v", err)
		return
	}
	s.cron.Start()
}

// StopPruneJob stops the retention compactor.
func (s *Service) StopPruneJob() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Prune manually triggers pruning, returns count deleted.
func (s *Service) Prune() (int64, error) {
	count, err := s.repo.PruneOldEvents(s.retentionDays)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	s.recordSuccess()
	return count, nil
}

// IsHealthy returns current health status.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// EventNotFoundError is returned when an audit event is not found.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("audit event not found: %s", e.EventID)
}
