package hub

import (
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/signagekit/signage-hub-go/internal/auth"
	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/db"
	"github.com/signagekit/signage-hub-go/internal/devices"
	"github.com/signagekit/signage-hub-go/internal/license"
	"github.com/signagekit/signage-hub-go/internal/metrics"
	"github.com/signagekit/signage-hub-go/internal/playlist"
	"github.com/signagekit/signage-hub-go/internal/protocol"
)

type fakeSink struct {
	mu          sync.Mutex
	health      []protocol.HealthReport
	errors      []protocol.ErrorReport
	screenshots []string
	events      []string
}

func (f *fakeSink) RecordHealth(deviceID string, report protocol.HealthReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = append(f.health, report)
}

func (f *fakeSink) RecordError(deviceID string, report protocol.ErrorReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, report)
}

func (f *fakeSink) RecordScreenshot(deviceID, currentURL, image string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, image)
}

func (f *fakeSink) RecordEvent(level, eventType, message, deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeSink) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type testEnv struct {
	cfg       *config.Config
	hub       *Hub
	devices   *devices.Service
	licenses  *license.Service
	playlists *playlist.Service
	sink      *fakeSink
	server    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })

	cfg := &config.Config{
		HubSecret:               "0123456789abcdef0123456789abcdef",
		JWTAccessTokenExpirySec: 3600,
		FreeTierMaxDevices:      3,
		LicenseGraceDays:        7,
		HealthIntervalSec:       60,
		IdleGraceSec:            30,
	}

	logger := log.Default()
	deviceSvc := devices.NewService(cfg, pair, logger)
	licenseSvc := license.NewService(cfg, pair, logger)
	playlistSvc := playlist.NewService(cfg, pair, logger)
	sink := &fakeSink{}

	h := New(cfg, deviceSvc, licenseSvc, playlistSvc, sink, metrics.New(), logger)
	playlistSvc.SetChangedHook(h.PlaylistChanged)
	deviceSvc.SetDeletedHook(h.DeviceDeleted)
	deviceSvc.SetConfigChangedHook(h.DeviceConfigChanged)
	deviceSvc.SetAssignedHook(h.DeviceAssigned)
	licenseSvc.SetRevokedHook(h.RevalidateAll)
	h.Start()
	t.Cleanup(h.Stop)

	router := chi.NewRouter()
	RegisterRoutes(router, h)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{
		cfg:       cfg,
		hub:       h,
		devices:   deviceSvc,
		licenses:  licenseSvc,
		playlists: playlistSvc,
		sink:      sink,
		server:    server,
	}
}

func (e *testEnv) wsURL(role, token string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?role=" + role + "&token=" + token
}

func (e *testEnv) dialDevice(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL("device", token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) dialAdmin(t *testing.T) *websocket.Conn {
	t.Helper()
	pair, err := auth.GenerateTokenPair(*e.cfg, auth.TokenPayload{Sub: "admin", Name: "admin"})
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL("admin", pair.AccessToken), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEvent reads frames until one with the wanted event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		env, err := protocol.DecodeEnvelope(data)
		require.NoError(t, err)
		if env.Event == event {
			return env
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestDeviceConnect_ReceivesLicenseAndContent(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.playlists.Create("Menu")
	require.NoError(t, err)
	duration := 20
	_, err = env.playlists.AddItem(p.ID, playlist.ItemInput{URL: "/menu", DurationSeconds: &duration})
	require.NoError(t, err)

	record, token, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)
	_, err = env.devices.AssignPlaylist(record.ID, &p.ID)
	require.NoError(t, err)

	conn := env.dialDevice(t, token)

	env2 := readEvent(t, conn, protocol.EventLicenseStatus)
	var status protocol.LicenseStatus
	require.NoError(t, env2.DecodePayload(&status))
	require.Equal(t, "ok", status.Status)

	env3 := readEvent(t, conn, protocol.EventContentUpdate)
	var update protocol.ContentUpdate
	require.NoError(t, env3.DecodePayload(&update))
	require.Equal(t, p.ID, update.PlaylistID)
	require.Len(t, update.Items, 1)
	require.Equal(t, "/menu", update.Items[0].URL)

	require.Eventually(t, func() bool {
		return env.hub.IsOnline(record.StableDeviceID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeviceConnect_InvalidToken(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("device", "bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeviceConnect_FreeTierDenied(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.FreeTierMaxDevices = 1

	_, token1, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "One"})
	require.NoError(t, err)
	_, token2, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Two"})
	require.NoError(t, err)

	conn1 := env.dialDevice(t, token1)
	readEvent(t, conn1, protocol.EventContentUpdate)

	conn2 := env.dialDevice(t, token2)
	env2 := readEvent(t, conn2, protocol.EventLicenseStatus)
	var status protocol.LicenseStatus
	require.NoError(t, env2.DecodePayload(&status))
	require.Equal(t, "denied", status.Status)
	require.Equal(t, "device limit reached", status.Reason)

	// The denied connection is closed by the hub.
	require.NoError(t, conn2.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn2.ReadMessage()
	require.Error(t, err)
}

func TestDeviceSupersede(t *testing.T) {
	env := newTestEnv(t)

	record, token, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	conn1 := env.dialDevice(t, token)
	readEvent(t, conn1, protocol.EventContentUpdate)

	conn2 := env.dialDevice(t, token)
	readEvent(t, conn2, protocol.EventContentUpdate)

	// The first connection gets closed.
	require.NoError(t, conn1.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn1.ReadMessage(); err != nil {
			break
		}
	}
	require.True(t, env.hub.IsOnline(record.StableDeviceID))
}

func TestAdminCommand_RoutesToDevice(t *testing.T) {
	env := newTestEnv(t)

	record, token, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	deviceConn := env.dialDevice(t, token)
	readEvent(t, deviceConn, protocol.EventContentUpdate)

	adminConn := env.dialAdmin(t)
	readEvent(t, adminConn, protocol.EventAdminDeviceStatus)

	send(t, adminConn, protocol.EventAdminCommand, protocol.AdminCommand{
		DeviceID: record.StableDeviceID,
		Event:    protocol.EventDisplayNavigate,
		Payload:  protocol.RawPayload(`{"url":"https://example.com"}`),
	})

	got := readEvent(t, deviceConn, protocol.EventDisplayNavigate)
	var navigate protocol.DisplayNavigate
	require.NoError(t, got.DecodePayload(&navigate))
	require.Equal(t, "https://example.com", navigate.URL)

	// Device-originated events are not routable as admin commands.
	send(t, adminConn, protocol.EventAdminCommand, protocol.AdminCommand{
		DeviceID: record.StableDeviceID,
		Event:    protocol.EventDeviceRegister,
	})
	// The command is dropped; the device session stays healthy.
	send(t, adminConn, protocol.EventAdminCommand, protocol.AdminCommand{
		DeviceID: record.StableDeviceID,
		Event:    protocol.EventDisplayRefresh,
	})
	readEvent(t, deviceConn, protocol.EventDisplayRefresh)
}

func TestTelemetry_FanOutAndSink(t *testing.T) {
	env := newTestEnv(t)

	record, token, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	deviceConn := env.dialDevice(t, token)
	readEvent(t, deviceConn, protocol.EventContentUpdate)

	adminConn := env.dialAdmin(t)
	readEvent(t, adminConn, protocol.EventAdminDeviceStatus)

	send(t, deviceConn, protocol.EventHealthReport, protocol.HealthReport{CPU: 12.5, Memory: 40, Disk: 70})
	send(t, deviceConn, protocol.EventPlaybackStateUpdate, protocol.PlaybackState{
		IsPlaying:  true,
		PlaylistID: 1,
		TotalItems: 3,
		CurrentURL: "/menu",
	})
	send(t, deviceConn, protocol.EventErrorReport, protocol.ErrorReport{Message: "render failed"})

	got := readEvent(t, adminConn, protocol.EventAdminPlaybackState)
	var state protocol.AdminPlaybackState
	require.NoError(t, got.DecodePayload(&state))
	require.Equal(t, record.StableDeviceID, state.DeviceID)
	require.True(t, state.IsPlaying)
	require.Equal(t, "/menu", state.CurrentURL)

	require.Eventually(t, func() bool {
		env.sink.mu.Lock()
		defer env.sink.mu.Unlock()
		return len(env.sink.health) == 1 && len(env.sink.errors) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mirrored, ok := env.hub.PlaybackStateOf(record.StableDeviceID)
	require.True(t, ok)
	require.Equal(t, "/menu", mirrored.CurrentURL)
}

func TestScreencast_SubscribeRelayUnsubscribe(t *testing.T) {
	env := newTestEnv(t)

	record, token, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	deviceConn := env.dialDevice(t, token)
	readEvent(t, deviceConn, protocol.EventContentUpdate)

	adminConn := env.dialAdmin(t)
	readEvent(t, adminConn, protocol.EventAdminDeviceStatus)

	send(t, adminConn, protocol.EventAdminScreencastSubscribe, protocol.ScreencastSubscription{DeviceID: record.StableDeviceID})
	readEvent(t, deviceConn, protocol.EventScreencastStart)

	send(t, deviceConn, protocol.EventScreencastFrame, protocol.ScreencastFrame{
		Data: "aGVsbG8=",
		Metadata: protocol.FrameMetadata{
			SessionID:   "cast-1",
			TimestampMs: 1234,
			Width:       1920,
			Height:      1080,
		},
	})

	got := readEvent(t, adminConn, protocol.EventAdminScreencastFrame)
	var frame protocol.AdminScreencastFrame
	require.NoError(t, got.DecodePayload(&frame))
	require.Equal(t, record.StableDeviceID, frame.DeviceID)
	require.Equal(t, "aGVsbG8=", frame.Data)
	require.Equal(t, 1920, frame.Metadata.Width)

	send(t, adminConn, protocol.EventAdminScreencastUnsubscribe, protocol.ScreencastSubscription{DeviceID: record.StableDeviceID})
	readEvent(t, deviceConn, protocol.EventScreencastStop)
}

func TestPlaylistChange_PushesToAssignedDevices(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.playlists.Create("Menu")
	require.NoError(t, err)
	record, token, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)
	_, err = env.devices.AssignPlaylist(record.ID, &p.ID)
	require.NoError(t, err)

	conn := env.dialDevice(t, token)
	readEvent(t, conn, protocol.EventContentUpdate)

	_, err = env.playlists.AddItem(p.ID, playlist.ItemInput{URL: "/new-item"})
	require.NoError(t, err)

	got := readEvent(t, conn, protocol.EventContentUpdate)
	var update protocol.ContentUpdate
	require.NoError(t, got.DecodePayload(&update))
	require.Len(t, update.Items, 1)
	require.Equal(t, "/new-item", update.Items[0].URL)
}

func TestLicenseRevoke_RevalidatesSessions(t *testing.T) {
	env := newTestEnv(t)

	_, token, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	conn := env.dialDevice(t, token)
	readEvent(t, conn, protocol.EventContentUpdate)

	// Revoking with no active license still triggers revalidation; the device
	// falls to the free tier and stays admitted.
	env.hub.RevalidateAll()
	got := readEvent(t, conn, protocol.EventLicenseStatus)
	var status protocol.LicenseStatus
	require.NoError(t, got.DecodePayload(&status))
	require.Equal(t, "ok", status.Status)
}

func TestDeviceDisconnect_NotifiesAdminsAndAudits(t *testing.T) {
	env := newTestEnv(t)

	record, token, err := env.devices.Create(devices.CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	conn := env.dialDevice(t, token)
	readEvent(t, conn, protocol.EventContentUpdate)

	adminConn := env.dialAdmin(t)
	readEvent(t, adminConn, protocol.EventAdminDeviceStatus)

	require.NoError(t, conn.Close())

	for {
		got := readEvent(t, adminConn, protocol.EventAdminDeviceStatus)
		var status protocol.AdminDeviceStatus
		require.NoError(t, got.DecodePayload(&status))
		if !status.Online {
			require.Equal(t, record.StableDeviceID, status.DeviceID)
			break
		}
	}

	require.Eventually(t, func() bool {
		for _, eventType := range env.sink.eventTypes() {
			if eventType == "device:disconnect" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
