package player

import (
	"context"
	"log"
	"net/url"
	"time"

	"github.com/signagekit/signage-hub-go/internal/protocol"
)

// Emit sends an event upstream to the hub. Implementations must not block.
type Emit func(event string, payload any)

const (
	// defaultItemDuration applies to zero-duration items in multi-item lists.
	defaultItemDuration = 15 * time.Second

	// idleRetryInterval is the re-check cadence when no item is currently
	// valid for its schedule constraints.
	idleRetryInterval = time.Minute

	// stateHeartbeat is the playback state cadence while running.
	stateHeartbeat = 5 * time.Second

	// navFailureDelay is applied before moving past an item that failed to
	// load. Bad items never stop the rotation.
	navFailureDelay = 3 * time.Second

	navigateTimeout = 30 * time.Second
)

// Engine rotates playlist items on the display. All state lives on the Run
// goroutine; the exported methods post work to it, so callers never race.
type Engine struct {
	display Display
	emit    Emit
	logger  *log.Logger
	baseURL string
	now     func() time.Time

	cmds chan func()

	onItemChanged func()

	// Loop-owned state below; only touched from Run.
	playlistID    int64
	items         []protocol.PlaylistItem
	index         int
	running       bool
	paused        bool
	idle          bool
	broadcasting  bool
	currentURL    string
	itemStartedAt time.Time
	itemDuration  time.Duration // 0 while showing a permanent item
	remaining     time.Duration // frozen time left while paused

	timer  *time.Timer
	timerC <-chan time.Time
}

// NewEngine creates a rotation engine. baseURL resolves relative item URLs.
func NewEngine(display Display, emit Emit, baseURL string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		display: display,
		emit:    emit,
		logger:  logger,
		baseURL: baseURL,
		now:     time.Now,
		cmds:    make(chan func(), 16),
	}
}

// SetItemChangedHook registers the collector's post-navigation capture
// trigger. Must be called before Run.
func (e *Engine) SetItemChangedHook(fn func()) {
	e.onItemChanged = fn
}

// Run executes the rotation loop until the context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(stateHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			e.stopTimer()
			return ctx.Err()
		case fn := <-e.cmds:
			fn()
		case <-e.timerC:
			e.timerC = nil
			e.timer = nil
			e.rotate()
		case <-heartbeat.C:
			if e.running && !e.paused {
				e.emitState()
			}
		}
	}
}

func (e *Engine) do(fn func()) {
	e.cmds <- fn
}

// Load applies a content:update.
func (e *Engine) Load(update *protocol.ContentUpdate) {
	e.do(func() { e.apply(update) })
}

// Pause freezes the current page and the rotation timer.
func (e *Engine) Pause() {
	e.do(func() { e.pause() })
}

// Resume restarts the rotation timer with the frozen remaining duration.
func (e *Engine) Resume() {
	e.do(func() { e.resume() })
}

// Next advances to the following item.
func (e *Engine) Next(respectConstraints bool) {
	e.do(func() { e.step(1, respectConstraints) })
}

// Previous steps back to the preceding item.
func (e *Engine) Previous(respectConstraints bool) {
	e.do(func() { e.step(-1, respectConstraints) })
}

// Snapshot returns the current playback state, synchronized with the loop.
func (e *Engine) Snapshot() protocol.PlaybackState {
	ch := make(chan protocol.PlaybackState, 1)
	e.do(func() { ch <- e.state() })
	return <-ch
}

// EmitState posts an immediate state emission, used right after connect.
func (e *Engine) EmitState() {
	e.do(func() { e.emitState() })
}

// ===== loading =====

func (e *Engine) apply(update *protocol.ContentUpdate) {
	if e.running && !update.Broadcast && !e.broadcasting && e.keepPlaying(update.Items) {
		// The item on screen survives the edit; swap lists without a restart.
		cur := e.items[e.index]
		e.items = update.Items
		e.playlistID = update.PlaylistID
		for i := range e.items {
			if e.items[i].ID == cur.ID {
				e.index = i
				break
			}
		}
		e.emitState()
		return
	}

	e.stopTimer()
	e.items = update.Items
	e.playlistID = update.PlaylistID
	e.broadcasting = update.Broadcast
	e.paused = false
	e.remaining = 0

	start := 0
	if update.StartIndex != nil {
		start = *update.StartIndex
	}
	var elapsed time.Duration
	if update.StartElapsedMs != nil && *update.StartElapsedMs > 0 {
		elapsed = time.Duration(*update.StartElapsedMs) * time.Millisecond
	}
	e.playFrom(start, elapsed)
}

// keepPlaying reports whether the current item survives the new list without
// a restart: either an identical single item, or the playing item is still
// present and the current configuration is not a permanent single item.
func (e *Engine) keepPlaying(newItems []protocol.PlaylistItem) bool {
	if len(e.items) == 0 || e.index >= len(e.items) || e.idle {
		return false
	}
	cur := e.items[e.index]
	if len(e.items) == 1 && len(newItems) == 1 {
		return newItems[0].ID == cur.ID && newItems[0].DurationSeconds == cur.DurationSeconds
	}
	if len(e.items) == 1 && cur.DurationSeconds == 0 {
		return false
	}
	for i := range newItems {
		if newItems[i].ID == cur.ID {
			return true
		}
	}
	return false
}

// ===== rotation =====

func (e *Engine) playFrom(start int, elapsed time.Duration) {
	if len(e.items) == 0 {
		e.running = false
		e.idle = false
		e.currentURL = ""
		e.emitState()
		return
	}
	e.running = true
	idx, ok := e.nextValid(start, 1)
	if !ok {
		e.goIdle()
		return
	}
	if idx != start {
		elapsed = 0
	}
	e.showItem(idx, elapsed)
}

// rotate handles the rotation timer firing.
func (e *Engine) rotate() {
	if !e.running || e.paused {
		return
	}
	if e.idle {
		e.playFrom(e.index, 0)
		return
	}
	e.step(1, true)
}

func (e *Engine) step(dir int, respectConstraints bool) {
	if len(e.items) == 0 {
		return
	}
	e.stopTimer()
	e.paused = false
	e.remaining = 0
	e.running = true

	from := e.wrap(e.index + dir)
	if !respectConstraints {
		e.showItem(from, 0)
		return
	}
	idx, ok := e.nextValid(from, dir)
	if !ok {
		e.goIdle()
		return
	}
	e.showItem(idx, 0)
}

func (e *Engine) goIdle() {
	e.idle = true
	e.currentURL = ""
	e.itemDuration = 0
	e.scheduleTimer(idleRetryInterval)
	e.emitState()
}

func (e *Engine) showItem(idx int, elapsed time.Duration) {
	e.idle = false
	e.index = idx
	item := e.items[idx]
	target := resolveURL(e.baseURL, item.URL)

	ctx, cancel := context.WithTimeout(context.Background(), navigateTimeout)
	err := e.display.Navigate(ctx, target)
	cancel()
	if err != nil {
		e.logger.Printf("[engine] navigate %s failed: %v", target, err)
		e.emit(protocol.EventErrorReport, &protocol.ErrorReport{
			Message: "navigation failed: " + err.Error(),
			Context: target,
		})
		e.currentURL = ""
		e.itemStartedAt = e.now()
		e.itemDuration = navFailureDelay
		e.scheduleTimer(navFailureDelay)
		e.emitState()
		return
	}

	e.currentURL = target
	e.itemStartedAt = e.now().Add(-elapsed)
	e.itemDuration = e.effectiveDuration(item)
	if e.itemDuration > 0 {
		left := e.itemDuration - elapsed
		if left < 0 {
			left = 0
		}
		e.scheduleTimer(left)
	} else {
		e.stopTimer()
	}
	if e.onItemChanged != nil {
		e.onItemChanged()
	}
	e.emitState()
}

func (e *Engine) effectiveDuration(item protocol.PlaylistItem) time.Duration {
	if item.DurationSeconds > 0 {
		return time.Duration(item.DurationSeconds) * time.Second
	}
	if len(e.items) == 1 {
		return 0
	}
	e.logger.Printf("[engine] item %d has no duration in a multi-item list, using %s", item.ID, defaultItemDuration)
	return defaultItemDuration
}

// ===== pause / resume =====

func (e *Engine) pause() {
	if !e.running || e.paused {
		return
	}
	e.paused = true
	if e.itemDuration > 0 && !e.idle {
		left := e.itemDuration - e.now().Sub(e.itemStartedAt)
		if left < 0 {
			left = 0
		}
		e.remaining = left
	} else {
		e.remaining = 0
	}
	e.stopTimer()
	e.emitState()
}

func (e *Engine) resume() {
	if !e.paused {
		return
	}
	e.paused = false
	if e.idle {
		e.playFrom(e.index, 0)
		return
	}
	if e.itemDuration > 0 {
		if e.remaining <= 0 {
			e.step(1, true)
			return
		}
		e.itemStartedAt = e.now().Add(-(e.itemDuration - e.remaining))
		e.scheduleTimer(e.remaining)
		e.remaining = 0
	}
	e.emitState()
}

// ===== schedule constraints =====

func (e *Engine) nextValid(from, dir int) (int, bool) {
	n := len(e.items)
	if n == 0 {
		return 0, false
	}
	now := e.now()
	idx := e.wrap(from)
	for i := 0; i < n; i++ {
		if itemValidAt(e.items[idx], now) {
			return idx, true
		}
		idx = e.wrap(idx + dir)
	}
	return 0, false
}

func (e *Engine) wrap(i int) int {
	n := len(e.items)
	return ((i % n) + n) % n
}

// itemValidAt checks the weekday mask and time window. Windows compare at
// minute granularity, inclusive start and exclusive end; a start later than
// the end spans midnight.
func itemValidAt(item protocol.PlaylistItem, t time.Time) bool {
	if len(item.DaysOfWeek) > 0 {
		today := int(t.Weekday())
		found := false
		for _, day := range item.DaysOfWeek {
			if day == today {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if item.TimeWindowStart == "" || item.TimeWindowEnd == "" {
		return true
	}
	cur := t.Format("15:04")
	start, end := item.TimeWindowStart, item.TimeWindowEnd
	if start < end {
		return cur >= start && cur < end
	}
	if start > end {
		return cur >= start || cur < end
	}
	return true
}

// ===== state =====

func (e *Engine) state() protocol.PlaybackState {
	st := protocol.PlaybackState{
		IsPlaying:        e.running,
		IsPaused:         e.paused,
		IsBroadcasting:   e.broadcasting,
		PlaylistID:       e.playlistID,
		TotalItems:       len(e.items),
		CurrentItemIndex: e.index,
		CurrentURL:       e.currentURL,
	}
	if e.running && !e.idle && e.index < len(e.items) {
		id := e.items[e.index].ID
		st.CurrentItemID = &id
	}
	switch {
	case e.paused:
		st.TimeRemainingMs = e.remaining.Milliseconds()
	case e.running && !e.idle && e.itemDuration > 0:
		left := e.itemDuration - e.now().Sub(e.itemStartedAt)
		if left < 0 {
			left = 0
		}
		st.TimeRemainingMs = left.Milliseconds()
	}
	return st
}

func (e *Engine) emitState() {
	st := e.state()
	e.emit(protocol.EventPlaybackStateUpdate, &st)
}

// ===== timers =====

func (e *Engine) scheduleTimer(d time.Duration) {
	e.stopTimer()
	e.timer = time.NewTimer(d)
	e.timerC = e.timer.C
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		e.timerC = nil
	}
}

// resolveURL resolves a relative item URL against the hub's base URL.
func resolveURL(base, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil || parsed.IsAbs() || base == "" {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(parsed).String()
}
