package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signagekit/signage-hub-go/internal/protocol"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDisplay struct {
	mu          sync.Mutex
	navigations []string
	failURL     string
}

func (d *fakeDisplay) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failURL != "" && url == d.failURL {
		return errors.New("net::ERR_CONNECTION_REFUSED")
	}
	d.navigations = append(d.navigations, url)
	return nil
}

func (d *fakeDisplay) navigated() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

func (d *fakeDisplay) Refresh(context.Context) error                 { return nil }
func (d *fakeDisplay) CurrentURL(context.Context) (string, error)    { return "", nil }
func (d *fakeDisplay) CaptureJPEG(context.Context) (string, error)   { return "", nil }
func (d *fakeDisplay) SetViewport(context.Context, int, int) error   { return nil }
func (d *fakeDisplay) Click(context.Context, int, int, string) error { return nil }
func (d *fakeDisplay) Type(context.Context, string, string) error    { return nil }
func (d *fakeDisplay) Key(context.Context, string, []string) error   { return nil }
func (d *fakeDisplay) Scroll(context.Context, int, int) error        { return nil }
func (d *fakeDisplay) Close() error                                  { return nil }

type emitted struct {
	event   string
	payload any
}

type emitRecorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *emitRecorder) emit(event string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, emitted{event: event, payload: payload})
	r.mu.Unlock()
}

func (r *emitRecorder) byEvent(event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type engineEnv struct {
	engine   *Engine
	display  *fakeDisplay
	recorder *emitRecorder
	clock    *fakeClock
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	display := &fakeDisplay{}
	recorder := &emitRecorder{}
	// A Tuesday at noon, outside any weekend-only windows used in tests.
	clock := newFakeClock(time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC))

	engine := NewEngine(display, recorder.emit, "http://hub.local:8080", nil)
	engine.now = clock.now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &engineEnv{engine: engine, display: display, recorder: recorder, clock: clock}
}

func item(id int64, url string, durationSec int) protocol.PlaylistItem {
	return protocol.PlaylistItem{ID: id, URL: url, DurationSeconds: durationSec}
}

func TestItemValidAt(t *testing.T) {
	tuesdayNoon := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)

	require.True(t, itemValidAt(item(1, "/a", 10), tuesdayNoon))

	weekend := item(1, "/a", 10)
	weekend.DaysOfWeek = []int{0, 6}
	require.False(t, itemValidAt(weekend, tuesdayNoon))
	weekend.DaysOfWeek = []int{2}
	require.True(t, itemValidAt(weekend, tuesdayNoon))

	window := item(1, "/a", 10)
	window.TimeWindowStart = "12:00"
	window.TimeWindowEnd = "14:00"
	require.True(t, itemValidAt(window, tuesdayNoon), "start is inclusive")
	require.False(t, itemValidAt(window, tuesdayNoon.Add(2*time.Hour)), "end is exclusive")
	require.True(t, itemValidAt(window, tuesdayNoon.Add(time.Hour)))

	overnight := item(1, "/a", 10)
	overnight.TimeWindowStart = "22:00"
	overnight.TimeWindowEnd = "06:00"
	require.False(t, itemValidAt(overnight, tuesdayNoon))
	require.True(t, itemValidAt(overnight, tuesdayNoon.Add(11*time.Hour))) // 23:00
	require.True(t, itemValidAt(overnight, tuesdayNoon.Add(17*time.Hour))) // 05:00
	require.False(t, itemValidAt(overnight, tuesdayNoon.Add(18*time.Hour)))
}

func TestResolveURL(t *testing.T) {
	require.Equal(t, "https://cdn.example.com/x", resolveURL("http://hub:8080", "https://cdn.example.com/x"))
	require.Equal(t, "http://hub:8080/menu", resolveURL("http://hub:8080", "/menu"))
	require.Equal(t, "/menu", resolveURL("", "/menu"))
}

func TestLoad_PlaysFirstItem(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 7,
		Items:      []protocol.PlaylistItem{item(1, "/menu", 20), item(2, "/specials", 20)},
	})

	st := env.engine.Snapshot()
	require.True(t, st.IsPlaying)
	require.False(t, st.IsPaused)
	require.Equal(t, int64(7), st.PlaylistID)
	require.Equal(t, 0, st.CurrentItemIndex)
	require.NotNil(t, st.CurrentItemID)
	require.Equal(t, int64(1), *st.CurrentItemID)
	require.Equal(t, int64(20000), st.TimeRemainingMs)
	require.Equal(t, []string{"http://hub.local:8080/menu"}, env.display.navigated())
}

func TestLoad_PeripheralEditDoesNotRestart(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 7,
		Items:      []protocol.PlaylistItem{item(1, "/menu", 20), item(2, "/specials", 20)},
	})
	env.engine.Snapshot()

	// The playing item survives; a third item is appended.
	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 7,
		Items:      []protocol.PlaylistItem{item(3, "/promo", 10), item(1, "/menu", 20), item(2, "/specials", 20)},
	})

	st := env.engine.Snapshot()
	require.Equal(t, 1, st.CurrentItemIndex, "index follows the item into the new list")
	require.Equal(t, 3, st.TotalItems)
	require.Len(t, env.display.navigated(), 1, "no renavigation")
}

func TestLoad_RestartsWhenCurrentItemRemoved(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 7,
		Items:      []protocol.PlaylistItem{item(1, "/menu", 20), item(2, "/specials", 20)},
	})
	env.engine.Snapshot()

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 7,
		Items:      []protocol.PlaylistItem{item(3, "/promo", 10), item(2, "/specials", 20)},
	})

	st := env.engine.Snapshot()
	require.Equal(t, 0, st.CurrentItemIndex)
	require.Equal(t, []string{"http://hub.local:8080/menu", "http://hub.local:8080/promo"}, env.display.navigated())
}

func TestLoad_SingleZeroDurationItemIsPermanent(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 3,
		Items:      []protocol.PlaylistItem{item(9, "/dashboard", 0)},
	})

	st := env.engine.Snapshot()
	require.True(t, st.IsPlaying)
	require.Equal(t, int64(0), st.TimeRemainingMs)

	// An identical single item arriving again must not renavigate.
	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 3,
		Items:      []protocol.PlaylistItem{item(9, "/dashboard", 0)},
	})
	env.engine.Snapshot()
	require.Len(t, env.display.navigated(), 1)
}

func TestLoad_ZeroDurationInMultiListUsesDefault(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 3,
		Items:      []protocol.PlaylistItem{item(1, "/a", 0), item(2, "/b", 30)},
	})

	st := env.engine.Snapshot()
	require.Equal(t, int64(15000), st.TimeRemainingMs)
}

func TestPauseResume_PreservesRemaining(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 1,
		Items:      []protocol.PlaylistItem{item(1, "/a", 30), item(2, "/b", 30)},
	})
	env.engine.Snapshot()

	env.clock.advance(12 * time.Second)
	env.engine.Pause()

	st := env.engine.Snapshot()
	require.True(t, st.IsPaused)
	require.Equal(t, int64(18000), st.TimeRemainingMs)

	// Time passing while paused must not shrink the remainder.
	env.clock.advance(time.Hour)
	st = env.engine.Snapshot()
	require.Equal(t, int64(18000), st.TimeRemainingMs)

	env.engine.Resume()
	st = env.engine.Snapshot()
	require.False(t, st.IsPaused)
	require.Equal(t, int64(18000), st.TimeRemainingMs)
	require.Len(t, env.display.navigated(), 1, "resume stays on the same page")
}

func TestNextPrevious_IgnoringConstraints(t *testing.T) {
	env := newEngineEnv(t)

	weekendOnly := item(2, "/weekend", 10)
	weekendOnly.DaysOfWeek = []int{0, 6}
	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 1,
		Items:      []protocol.PlaylistItem{item(1, "/a", 10), weekendOnly, item(3, "/c", 10)},
	})
	env.engine.Snapshot()

	env.engine.Next(false)
	st := env.engine.Snapshot()
	require.Equal(t, 1, st.CurrentItemIndex, "constraints ignored, immediate neighbor")

	env.engine.Previous(false)
	st = env.engine.Snapshot()
	require.Equal(t, 0, st.CurrentItemIndex)

	env.engine.Previous(false)
	st = env.engine.Snapshot()
	require.Equal(t, 2, st.CurrentItemIndex, "previous wraps")
}

func TestNext_RespectingConstraintsSkipsInvalid(t *testing.T) {
	env := newEngineEnv(t)

	weekendOnly := item(2, "/weekend", 10)
	weekendOnly.DaysOfWeek = []int{0, 6}
	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 1,
		Items:      []protocol.PlaylistItem{item(1, "/a", 10), weekendOnly, item(3, "/c", 10)},
	})
	env.engine.Snapshot()

	env.engine.Next(true)
	st := env.engine.Snapshot()
	require.Equal(t, 2, st.CurrentItemIndex, "weekend-only item skipped on a Tuesday")
}

func TestLoad_AllItemsInvalidGoesIdle(t *testing.T) {
	env := newEngineEnv(t)

	weekendOnly := item(1, "/weekend", 10)
	weekendOnly.DaysOfWeek = []int{0, 6}
	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 1,
		Items:      []protocol.PlaylistItem{weekendOnly},
	})

	st := env.engine.Snapshot()
	require.True(t, st.IsPlaying, "idle still reports playing")
	require.Nil(t, st.CurrentItemID)
	require.Empty(t, st.CurrentURL)
	require.Empty(t, env.display.navigated())
}

func TestBroadcast_OverrideAndRestore(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 5,
		Items:      []protocol.PlaylistItem{item(1, "/a", 20), item(2, "/b", 20)},
	})
	env.engine.Snapshot()

	env.engine.Load(&protocol.ContentUpdate{
		Items:     []protocol.PlaylistItem{item(0, "https://example.com/alert", 0)},
		Broadcast: true,
	})
	st := env.engine.Snapshot()
	require.True(t, st.IsBroadcasting)
	require.Equal(t, "https://example.com/alert", st.CurrentURL)
	require.Equal(t, int64(0), st.TimeRemainingMs, "broadcast shows indefinitely")

	// Restore at item 1 with 12s already elapsed of 20s.
	startIndex := 1
	elapsed := int64(12000)
	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID:     5,
		Items:          []protocol.PlaylistItem{item(1, "/a", 20), item(2, "/b", 20)},
		StartIndex:     &startIndex,
		StartElapsedMs: &elapsed,
	})
	st = env.engine.Snapshot()
	require.False(t, st.IsBroadcasting)
	require.Equal(t, 1, st.CurrentItemIndex)
	require.Equal(t, int64(8000), st.TimeRemainingMs)
}

func TestNavigateFailure_EmitsErrorAndContinues(t *testing.T) {
	env := newEngineEnv(t)
	env.display.failURL = "http://hub.local:8080/broken"

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 1,
		Items:      []protocol.PlaylistItem{item(1, "/broken", 10), item(2, "/ok", 10)},
	})

	st := env.engine.Snapshot()
	require.True(t, st.IsPlaying, "a bad item never stops the rotation")
	require.Empty(t, st.CurrentURL)

	reports := env.recorder.byEvent(protocol.EventErrorReport)
	require.NotEmpty(t, reports)
	report, ok := reports[0].payload.(*protocol.ErrorReport)
	require.True(t, ok)
	require.Contains(t, report.Context, "/broken")

	env.engine.Next(true)
	st = env.engine.Snapshot()
	require.Equal(t, "http://hub.local:8080/ok", st.CurrentURL)
}

func TestLoad_EmptyListStops(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 1,
		Items:      []protocol.PlaylistItem{item(1, "/a", 10)},
	})
	env.engine.Snapshot()

	env.engine.Load(&protocol.ContentUpdate{PlaylistID: 0})
	st := env.engine.Snapshot()
	require.False(t, st.IsPlaying)
	require.Empty(t, st.CurrentURL)
}

func TestStateEmittedOnTransitions(t *testing.T) {
	env := newEngineEnv(t)

	env.engine.Load(&protocol.ContentUpdate{
		PlaylistID: 1,
		Items:      []protocol.PlaylistItem{item(1, "/a", 30)},
	})
	env.engine.Pause()
	env.engine.Resume()
	env.engine.Snapshot()

	states := env.recorder.byEvent(protocol.EventPlaybackStateUpdate)
	require.GreaterOrEqual(t, len(states), 3)
}
