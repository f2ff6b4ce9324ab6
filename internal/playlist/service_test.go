package playlist

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

func setupPlaylistService(t *testing.T) *Service {
	t.Helper()
	pair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })
	return NewService(&config.Config{}, pair, log.Default())
}

func intPtr(v int) *int { return &v }

func TestCreateAndGet(t *testing.T) {
	svc := setupPlaylistService(t)

	p, err := svc.Create("Lunch Menu")
	require.NoError(t, err)
	require.Equal(t, "Lunch Menu", p.Name)
	require.True(t, p.IsActive)

	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)

	_, err = svc.Create("  ")
	require.Error(t, err)

	_, err = svc.Get(999)
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, apperrors.ErrorCodePlaylistNotFound, appErr.Code)
}

func TestAddItem_OrderingAndDefaults(t *testing.T) {
	svc := setupPlaylistService(t)
	p, err := svc.Create("Menu")
	require.NoError(t, err)

	changed := 0
	svc.SetChangedHook(func(playlistID int64) {
		require.Equal(t, p.ID, playlistID)
		changed++
	})

	first, err := svc.AddItem(p.ID, ItemInput{URL: "/menu", DurationSeconds: intPtr(20)})
	require.NoError(t, err)
	require.Equal(t, 0, first.OrderIndex)
	require.Equal(t, 20, first.DurationSeconds)

	second, err := svc.AddItem(p.ID, ItemInput{URL: "/specials"})
	require.NoError(t, err)
	require.Equal(t, 1, second.OrderIndex)
	require.Equal(t, 0, second.DurationSeconds)
	require.Equal(t, 2, changed)

	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	require.Equal(t, "/menu", got.Items[0].URL)
	require.Equal(t, "/specials", got.Items[1].URL)

	_, err = svc.AddItem(p.ID, ItemInput{URL: ""})
	require.Error(t, err)

	_, err = svc.AddItem(999, ItemInput{URL: "/x"})
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, apperrors.ErrorCodePlaylistNotFound, appErr.Code)
}

func TestAddItem_ScheduleValidation(t *testing.T) {
	svc := setupPlaylistService(t)
	p, err := svc.Create("Menu")
	require.NoError(t, err)

	cases := []ItemInput{
		{URL: "/x", TimeWindowStart: "09:00"},                          // missing end
		{URL: "/x", TimeWindowStart: "9am", TimeWindowEnd: "17:00"},    // bad format
		{URL: "/x", TimeWindowStart: "25:00", TimeWindowEnd: "26:00"},  // out of range
		{URL: "/x", TimeWindowStart: "09:00", TimeWindowEnd: "09:00"},  // empty window
		{URL: "/x", DaysOfWeek: []int{0, 7}},                           // bad weekday
	}
	for _, input := range cases {
		_, err := svc.AddItem(p.ID, input)
		appErr := apperrors.EnsureAppError(err)
		require.Equal(t, apperrors.ErrorCodeInvalidSchedule, appErr.Code)
	}

	// Overnight windows are allowed.
	item, err := svc.AddItem(p.ID, ItemInput{URL: "/night", TimeWindowStart: "22:00", TimeWindowEnd: "02:00"})
	require.NoError(t, err)
	require.Equal(t, "22:00", item.TimeWindowStart)

	// Weekday constraint round-trips through storage.
	item, err = svc.AddItem(p.ID, ItemInput{URL: "/weekdays", DaysOfWeek: []int{1, 2, 3, 4, 5}})
	require.NoError(t, err)
	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5}, got.Items[1].DaysOfWeek)
	_ = item
}

func TestUpdateItem_PartialPatch(t *testing.T) {
	svc := setupPlaylistService(t)
	p, err := svc.Create("Menu")
	require.NoError(t, err)

	item, err := svc.AddItem(p.ID, ItemInput{URL: "/menu", DurationSeconds: intPtr(20), DaysOfWeek: []int{1}})
	require.NoError(t, err)

	updated, err := svc.UpdateItem(p.ID, item.ID, ItemInput{DurationSeconds: intPtr(45)})
	require.NoError(t, err)
	require.Equal(t, 45, updated.DurationSeconds)
	require.Equal(t, "/menu", updated.URL)
	require.Equal(t, []int{1}, updated.DaysOfWeek)

	other, err := svc.Create("Other")
	require.NoError(t, err)
	_, err = svc.UpdateItem(other.ID, item.ID, ItemInput{DurationSeconds: intPtr(5)})
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, apperrors.ErrorCodeItemNotFound, appErr.Code)
}

func TestReorder(t *testing.T) {
	svc := setupPlaylistService(t)
	p, err := svc.Create("Menu")
	require.NoError(t, err)

	a, err := svc.AddItem(p.ID, ItemInput{URL: "/a"})
	require.NoError(t, err)
	b, err := svc.AddItem(p.ID, ItemInput{URL: "/b"})
	require.NoError(t, err)
	c, err := svc.AddItem(p.ID, ItemInput{URL: "/c"})
	require.NoError(t, err)

	items, err := svc.Reorder(p.ID, []int64{c.ID, a.ID, b.ID})
	require.NoError(t, err)
	require.Equal(t, "/c", items[0].URL)
	require.Equal(t, "/a", items[1].URL)
	require.Equal(t, "/b", items[2].URL)

	_, err = svc.Reorder(p.ID, []int64{999})
	require.Error(t, err)

	// Failed reorder rolls back.
	items, err = svc.WireItems(p.ID)
	require.NoError(t, err)
	require.Equal(t, "/c", items[0].URL)
}

func TestRemoveItemAndDelete(t *testing.T) {
	svc := setupPlaylistService(t)
	p, err := svc.Create("Menu")
	require.NoError(t, err)

	item, err := svc.AddItem(p.ID, ItemInput{URL: "/a"})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveItem(p.ID, item.ID))
	err = svc.RemoveItem(p.ID, item.ID)
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, apperrors.ErrorCodeItemNotFound, appErr.Code)

	require.NoError(t, svc.Delete(p.ID))
	_, err = svc.Get(p.ID)
	require.Error(t, err)
}

func TestToWire(t *testing.T) {
	svc := setupPlaylistService(t)
	p, err := svc.Create("Menu")
	require.NoError(t, err)

	_, err = svc.AddItem(p.ID, ItemInput{
		URL:             "/menu",
		DurationSeconds: intPtr(30),
		TimeWindowStart: "09:00",
		TimeWindowEnd:   "17:00",
		DaysOfWeek:      []int{1, 2},
	})
	require.NoError(t, err)

	items, err := svc.WireItems(p.ID)
	require.NoError(t, err)
	wire := ToWire(items)
	require.Len(t, wire, 1)
	require.Equal(t, "/menu", wire[0].URL)
	require.Equal(t, 30, wire[0].DurationSeconds)
	require.Equal(t, "09:00", wire[0].TimeWindowStart)
	require.Equal(t, []int{1, 2}, wire[0].DaysOfWeek)
}
