package server

import (
	"sync"
	"time"

	"github.com/signagekit/signage-hub-go/internal/audit"
	"github.com/signagekit/signage-hub-go/internal/protocol"
	"github.com/signagekit/signage-hub-go/internal/screenshots"
)

// deviceHealth is the last health sample seen from a device, kept in memory
// for the system status endpoint. Health reports arrive every health interval
// and are too chatty for the audit log.
type deviceHealth struct {
	Report     protocol.HealthReport
	ReceivedAt time.Time
}

// telemetrySink fans hub telemetry out to the audit log and screenshot store.
type telemetrySink struct {
	audit       *audit.Service
	screenshots *screenshots.Service

	mu     sync.RWMutex
	health map[string]deviceHealth
}

func newTelemetrySink(auditSvc *audit.Service, screenshotSvc *screenshots.Service) *telemetrySink {
	return &telemetrySink{
		audit:       auditSvc,
		screenshots: screenshotSvc,
		health:      make(map[string]deviceHealth),
	}
}

func (t *telemetrySink) RecordHealth(deviceStableID string, report protocol.HealthReport) {
	t.mu.Lock()
	t.health[deviceStableID] = deviceHealth{Report: report, ReceivedAt: time.Now().UTC()}
	t.mu.Unlock()
}

func (t *telemetrySink) RecordError(deviceStableID string, report protocol.ErrorReport) {
	t.audit.RecordDeviceError(deviceStableID, report)
}

func (t *telemetrySink) RecordScreenshot(deviceStableID, currentURL, imageBase64 string) {
	t.screenshots.Store(deviceStableID, currentURL, imageBase64)
}

func (t *telemetrySink) RecordEvent(level, eventType, message, deviceStableID string) {
	t.audit.RecordSimple(level, eventType, message, deviceStableID)
}

// healthSnapshot returns the last sample per device.
func (t *telemetrySink) healthSnapshot() map[string]deviceHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]deviceHealth, len(t.health))
	for id, h := range t.health {
		out[id] = h
	}
	return out
}

// forget drops a deleted device's health sample.
func (t *telemetrySink) forget(deviceStableID string) {
	t.mu.Lock()
	delete(t.health, deviceStableID)
	t.mu.Unlock()
}
