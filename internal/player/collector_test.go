package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signagekit/signage-hub-go/internal/protocol"
)

type collectorDisplay struct {
	fakeDisplay
	mu       sync.Mutex
	url      string
	captures int
}

func (d *collectorDisplay) setURL(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
}

func (d *collectorDisplay) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *collectorDisplay) CaptureJPEG(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captures++
	return "aW1hZ2U=", nil
}

func startCollector(t *testing.T, display *collectorDisplay, recorder *emitRecorder) *Collector {
	t.Helper()
	c := NewCollector(display, recorder.emit, 50*time.Millisecond, time.Hour, nil)
	c.healthDelay = 10 * time.Millisecond
	c.screenshotDelay = time.Hour
	c.settle = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCollector_EmitsHealthReports(t *testing.T) {
	display := &collectorDisplay{}
	recorder := &emitRecorder{}
	startCollector(t, display, recorder)

	waitFor(t, func() bool {
		return len(recorder.byEvent(protocol.EventHealthReport)) >= 2
	})

	report, ok := recorder.byEvent(protocol.EventHealthReport)[0].payload.(*protocol.HealthReport)
	require.True(t, ok)
	require.NotEmpty(t, report.Timestamp)
}

func TestCollector_CaptureNowUploadsScreenshot(t *testing.T) {
	display := &collectorDisplay{url: "http://hub/menu"}
	recorder := &emitRecorder{}
	c := startCollector(t, display, recorder)

	c.CaptureNow()
	waitFor(t, func() bool {
		return len(recorder.byEvent(protocol.EventScreenshotUpload)) == 1
	})

	upload, ok := recorder.byEvent(protocol.EventScreenshotUpload)[0].payload.(*protocol.ScreenshotUpload)
	require.True(t, ok)
	require.Equal(t, "aW1hZ2U=", upload.Image)
	require.Equal(t, "http://hub/menu", upload.CurrentURL)
}

func TestCollector_SkipsBlankPage(t *testing.T) {
	display := &collectorDisplay{url: "about:blank"}
	recorder := &emitRecorder{}
	c := startCollector(t, display, recorder)

	c.CaptureNow()
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, recorder.byEvent(protocol.EventScreenshotUpload))
}

func TestCollector_CapturesAfterItemSettles(t *testing.T) {
	display := &collectorDisplay{url: "http://hub/specials"}
	recorder := &emitRecorder{}
	c := startCollector(t, display, recorder)

	c.ItemChanged()
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, recorder.byEvent(protocol.EventScreenshotUpload), "waits for the page to settle")

	waitFor(t, func() bool {
		return len(recorder.byEvent(protocol.EventScreenshotUpload)) == 1
	})
}
