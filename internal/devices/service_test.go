package devices

import (
	"log"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/db"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	pair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })
	cfg := &config.Config{}
	return NewService(cfg, pair, log.Default())
}

func TestCreate_DefaultsAndToken(t *testing.T) {
	svc := setupTestService(t)

	record, token, err := svc.Create(CreateDeviceInput{DisplayName: "Lobby Screen"})
	require.NoError(t, err)
	require.Len(t, token, 64)
	require.NotEmpty(t, record.StableDeviceID)
	require.Equal(t, 1920, record.ViewportW)
	require.Equal(t, 1080, record.ViewportH)
	require.True(t, record.KioskMode)
	require.Nil(t, record.AssignedPlaylistID)
}

func TestCreate_RequiresDisplayName(t *testing.T) {
	svc := setupTestService(t)

	_, _, err := svc.Create(CreateDeviceInput{DisplayName: "  "})
	require.Error(t, err)
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, 400, appErr.StatusCode)
}

func TestAuthenticate(t *testing.T) {
	svc := setupTestService(t)

	record, token, err := svc.Create(CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	found, err := svc.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, record.StableDeviceID, found.StableDeviceID)

	_, err = svc.Authenticate("bogus-token")
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, 401, appErr.StatusCode)

	_, err = svc.Authenticate("")
	appErr = apperrors.EnsureAppError(err)
	require.Equal(t, 401, appErr.StatusCode)
}

func TestRotateToken_InvalidatesOldToken(t *testing.T) {
	svc := setupTestService(t)

	record, oldToken, err := svc.Create(CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	_, newToken, err := svc.RotateToken(record.ID)
	require.NoError(t, err)
	require.NotEqual(t, oldToken, newToken)
	require.Len(t, newToken, 64)

	_, err = svc.Authenticate(oldToken)
	require.Error(t, err)

	found, err := svc.Authenticate(newToken)
	require.NoError(t, err)
	require.Equal(t, record.ID, found.ID)
}

func TestUpdateConfig_PartialPatch(t *testing.T) {
	svc := setupTestService(t)

	record, _, err := svc.Create(CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	var gotPatch *ConfigPatch
	svc.SetConfigChangedHook(func(_ *DeviceRecord, patch ConfigPatch) {
		gotPatch = &patch
	})

	w := 1280
	updated, err := svc.UpdateConfig(record.ID, ConfigPatch{ViewportW: &w})
	require.NoError(t, err)
	require.Equal(t, 1280, updated.ViewportW)
	require.Equal(t, 1080, updated.ViewportH)
	require.True(t, updated.KioskMode)
	require.NotNil(t, gotPatch)

	bad := -1
	_, err = svc.UpdateConfig(record.ID, ConfigPatch{ViewportH: &bad})
	require.Error(t, err)
}

func TestAssignPlaylist_FiresHook(t *testing.T) {
	svc := setupTestService(t)

	// Playlist rows are needed to satisfy the foreign key.
	_, err := svc.repo.writer.Exec(
		"INSERT INTO playlists (name, is_active, created_at, updated_at) VALUES ('Menu', 1, ?, ?)",
		db.NowISO(), db.NowISO())
	require.NoError(t, err)

	record, _, err := svc.Create(CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	assigned := 0
	svc.SetAssignedHook(func(_ *DeviceRecord) { assigned++ })

	playlistID := int64(1)
	updated, err := svc.AssignPlaylist(record.ID, &playlistID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedPlaylistID)
	require.Equal(t, playlistID, *updated.AssignedPlaylistID)
	require.Equal(t, 1, assigned)

	byPlaylist, err := svc.ListByPlaylist(playlistID)
	require.NoError(t, err)
	require.Len(t, byPlaylist, 1)

	cleared, err := svc.AssignPlaylist(record.ID, nil)
	require.NoError(t, err)
	require.Nil(t, cleared.AssignedPlaylistID)
	require.Equal(t, 2, assigned)
}

func TestDelete_FiresHookAndRemovesRow(t *testing.T) {
	svc := setupTestService(t)

	record, _, err := svc.Create(CreateDeviceInput{DisplayName: "Lobby"})
	require.NoError(t, err)

	var deletedStableID string
	svc.SetDeletedHook(func(stableDeviceID string) { deletedStableID = stableDeviceID })

	require.NoError(t, svc.Delete(record.ID))
	require.Equal(t, record.StableDeviceID, deletedStableID)

	_, err = svc.Get(record.ID)
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, 404, appErr.StatusCode)

	err = svc.Delete(record.ID)
	require.Error(t, err)
}

func TestList_EmptyIsNotNil(t *testing.T) {
	svc := setupTestService(t)

	records, err := svc.List()
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)
}
