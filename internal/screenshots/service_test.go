package screenshots

import (
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/db"
)

func setupTestService(t *testing.T, keep int) *Service {
	t.Helper()
	pair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })
	return NewService(&config.Config{ScreenshotKeepPerDevice: keep}, pair, nil)
}

func TestStoreAndLatest(t *testing.T) {
	svc := setupTestService(t, 0)

	svc.Store("stable-1", "https://example.com/menu", "aW1hZ2Ux")
	svc.Store("stable-1", "https://example.com/specials", "aW1hZ2Uy")

	shot, err := svc.Latest("stable-1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/specials", shot.CurrentURL)
	require.Equal(t, "aW1hZ2Uy", shot.ImageJPEGBase64)

	byID, err := svc.Get(shot.ID)
	require.NoError(t, err)
	require.Equal(t, shot.ImageJPEGBase64, byID.ImageJPEGBase64)
}

func TestStore_SkipsEmptyImage(t *testing.T) {
	svc := setupTestService(t, 0)

	svc.Store("stable-1", "/x", "")

	_, err := svc.Latest("stable-1")
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, apperrors.ErrorCodeScreenshotNotFound, appErr.Code)
	require.Equal(t, 404, appErr.StatusCode)
}

func TestStore_TrimsHistoryPerDevice(t *testing.T) {
	svc := setupTestService(t, 3)

	for i := 0; i < 5; i++ {
		svc.Store("stable-1", fmt.Sprintf("/page-%d", i), "aW1n")
	}
	svc.Store("stable-2", "/other", "aW1n")

	history, err := svc.History("stable-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "/page-4", history[0].CurrentURL)
	require.Equal(t, "/page-2", history[2].CurrentURL)

	other, err := svc.History("stable-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestPurge(t *testing.T) {
	svc := setupTestService(t, 0)

	svc.Store("stable-1", "/x", "aW1n")
	svc.Purge("stable-1")

	history, err := svc.History("stable-1")
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = svc.Latest("stable-1")
	require.Error(t, err)
}

func TestHistory_OmitsImagePayload(t *testing.T) {
	svc := setupTestService(t, 0)

	svc.Store("stable-1", "/x", "aW1n")

	history, err := svc.History("stable-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Empty(t, history[0].ImageJPEGBase64)
}
