package audit

import (
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/db"
	"github.com/signagekit/signage-hub-go/internal/protocol"
)

func setupTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	pair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })
	if cfg == nil {
		cfg = &config.Config{}
	}
	return NewService(cfg, pair, nil)
}

func TestRecordEvent_DefaultsAndRoundTrip(t *testing.T) {
	svc := setupTestService(t, nil)

	event, err := svc.RecordEvent(WriteEventInput{
		Type:    TypeSystemStartup,
		Message: "hub started",
	})
	require.NoError(t, err)
	require.NotEmpty(t, event.EventID)
	require.Equal(t, EventLevelInfo, event.Level)
	require.Equal(t, TypeSystemStartup, event.Type)
	require.NotNil(t, event.Payload)
	require.Empty(t, event.Payload)
	require.WithinDuration(t, time.Now().UTC(), event.Timestamp, 5*time.Second)

	fetched, err := svc.GetEvent(event.EventID)
	require.NoError(t, err)
	require.Equal(t, event.EventID, fetched.EventID)
	require.Equal(t, "hub started", fetched.Message)
}

func TestRecordSimple_AttachesDeviceID(t *testing.T) {
	svc := setupTestService(t, nil)

	svc.RecordSimple("WARN", TypeLicenseDenied, "device limit reached", "stable-1")
	svc.RecordSimple("INFO", TypeDeviceConnect, "connected", "")

	events, total, _, err := svc.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	byType := map[string]AuditEvent{}
	for _, e := range events {
		byType[e.Type] = e
	}
	denied := byType[TypeLicenseDenied]
	require.Equal(t, EventLevelWarn, denied.Level)
	require.NotNil(t, denied.DeviceID)
	require.Equal(t, "stable-1", *denied.DeviceID)
	require.Nil(t, byType[TypeDeviceConnect].DeviceID)
}

func TestRecordDeviceError_CapturesContext(t *testing.T) {
	svc := setupTestService(t, nil)

	svc.RecordDeviceError("stable-1", protocol.ErrorReport{
		Message: "renderer crashed",
		Context: "https://example.com/menu",
	})

	events, _, _, err := svc.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventLevelError, events[0].Level)
	require.Equal(t, TypeDeviceError, events[0].Type)
	require.NotNil(t, events[0].Source)
	require.Equal(t, "device", *events[0].Source)
	require.Equal(t, "https://example.com/menu", events[0].Payload["context"])
}

func TestQueryEvents_FiltersAndPagination(t *testing.T) {
	svc := setupTestService(t, nil)

	errLevel := EventLevelError
	deviceA := "stable-a"
	for i := 0; i < 5; i++ {
		_, err := svc.RecordEvent(WriteEventInput{
			Type: TypeDeviceConnect, Message: "connected", DeviceID: &deviceA,
		})
		require.NoError(t, err)
	}
	_, err := svc.RecordEvent(WriteEventInput{
		Type: TypeDeviceError, Level: &errLevel, Message: "boom",
	})
	require.NoError(t, err)

	connectType := TypeDeviceConnect
	events, total, hasMore, err := svc.QueryEvents(EventQueryFilters{Type: &connectType, Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, 5, total)
	require.True(t, hasMore)

	events, total, hasMore, err = svc.QueryEvents(EventQueryFilters{Type: &connectType, Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 5, total)
	require.False(t, hasMore)

	events, total, _, err = svc.QueryEvents(EventQueryFilters{Level: &errLevel})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "boom", events[0].Message)

	events, _, _, err = svc.QueryEvents(EventQueryFilters{DeviceID: &deviceA})
	require.NoError(t, err)
	require.Len(t, events, 5)
}

func TestQueryEvents_NewestFirst(t *testing.T) {
	svc := setupTestService(t, nil)

	first, err := svc.repo.InsertEvent(WriteEventInput{Type: "a", Message: "first"})
	require.NoError(t, err)
	// Same-second inserts fall back to event_id ordering, so backdate the first.
	_, err = svc.repo.writer.Exec("UPDATE audit_events SET timestamp = ? WHERE event_id = ?",
		time.Now().UTC().Add(-time.Minute).Format(time.RFC3339), first.EventID)
	require.NoError(t, err)
	_, err = svc.repo.InsertEvent(WriteEventInput{Type: "b", Message: "second"})
	require.NoError(t, err)

	events, _, _, err := svc.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "second", events[0].Message)
	require.Equal(t, "first", events[1].Message)
}

func TestGetEvent_NotFound(t *testing.T) {
	svc := setupTestService(t, nil)

	_, err := svc.GetEvent("missing")
	var notFound *EventNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "missing", notFound.EventID)
}

func TestPrune_RemovesOldEvents(t *testing.T) {
	svc := setupTestService(t, &config.Config{AuditRetentionDays: 7})

	old, err := svc.repo.InsertEvent(WriteEventInput{Type: "a", Message: "old"})
	require.NoError(t, err)
	_, err = svc.repo.writer.Exec("UPDATE audit_events SET timestamp = ? WHERE event_id = ?",
		time.Now().UTC().AddDate(0, 0, -10).Format(time.RFC3339), old.EventID)
	require.NoError(t, err)
	_, err = svc.repo.InsertEvent(WriteEventInput{Type: "b", Message: "fresh"})
	require.NoError(t, err)

	count, err := svc.Prune()
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	events, total, _, err := svc.QueryEvents(EventQueryFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "fresh", events[0].Message)
}

func TestQueryEvents_ClampsLimit(t *testing.T) {
	svc := setupTestService(t, nil)

	_, err := svc.RecordEvent(WriteEventInput{Type: "a", Message: "x"})
	require.NoError(t, err)

	_, _, _, err = svc.QueryEvents(EventQueryFilters{Limit: 10_000})
	require.NoError(t, err)
}
