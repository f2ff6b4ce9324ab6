package player

import (
	"context"
	"log"
	"runtime"
	"time"

	"github.com/signagekit/signage-hub-go/internal/protocol"
)

const (
	healthStartDelay     = 10 * time.Second
	screenshotStartDelay = 5 * time.Second

	// settleDelay is how long the collector waits after an item change before
	// capturing, so the page has rendered.
	settleDelay = 3 * time.Second

	captureTimeout = 15 * time.Second
)

// SampleFunc produces one health report. The default covers process memory;
// platform builds can plug in real CPU and disk collectors.
type SampleFunc func() protocol.HealthReport

func defaultSample() protocol.HealthReport {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return protocol.HealthReport{
		Memory:    float64(m.Alloc) / (1 << 20),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Collector emits periodic health reports and screenshots. Health reports
// double as the device's heartbeat.
type Collector struct {
	display Display
	emit    Emit
	logger  *log.Logger
	sample  SampleFunc

	healthInterval     time.Duration
	screenshotInterval time.Duration
	healthDelay        time.Duration
	screenshotDelay    time.Duration
	settle             time.Duration

	itemChanged chan struct{}
	captureNow  chan struct{}
}

// NewCollector creates a collector with the configured cadences.
func NewCollector(display Display, emit Emit, healthInterval, screenshotInterval time.Duration, logger *log.Logger) *Collector {
	if logger == nil {
		logger = log.Default()
	}
	if healthInterval <= 0 {
		healthInterval = 60 * time.Second
	}
	if screenshotInterval <= 0 {
		screenshotInterval = 30 * time.Second
	}
	return &Collector{
		display:            display,
		emit:               emit,
		logger:             logger,
		sample:             defaultSample,
		healthInterval:     healthInterval,
		screenshotInterval: screenshotInterval,
		healthDelay:        healthStartDelay,
		screenshotDelay:    screenshotStartDelay,
		settle:             settleDelay,
		itemChanged:        make(chan struct{}, 1),
		captureNow:         make(chan struct{}, 1),
	}
}

// SetSampler replaces the health sampler.
func (c *Collector) SetSampler(fn SampleFunc) {
	c.sample = fn
}

// ItemChanged schedules a capture once the new page has settled.
func (c *Collector) ItemChanged() {
	select {
	case c.itemChanged <- struct{}{}:
	default:
	}
}

// CaptureNow requests an immediate capture, used for screenshot:request.
func (c *Collector) CaptureNow() {
	select {
	case c.captureNow <- struct{}{}:
	default:
	}
}

// Run drives the collection cadences until the context is canceled.
func (c *Collector) Run(ctx context.Context) error {
	health := time.NewTimer(c.healthDelay)
	shots := time.NewTimer(c.screenshotDelay)
	defer health.Stop()
	defer shots.Stop()

	var settleTimer *time.Timer
	var settleC <-chan time.Time
	defer func() {
		if settleTimer != nil {
			settleTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-health.C:
			report := c.sample()
			c.emit(protocol.EventHealthReport, &report)
			health.Reset(c.healthInterval)
		case <-shots.C:
			c.capture(ctx)
			shots.Reset(c.screenshotInterval)
		case <-c.itemChanged:
			if settleTimer != nil {
				settleTimer.Stop()
			}
			settleTimer = time.NewTimer(c.settle)
			settleC = settleTimer.C
		case <-settleC:
			settleC = nil
			c.capture(ctx)
		case <-c.captureNow:
			c.capture(ctx)
		}
	}
}

// capture uploads one screenshot, skipping blank pages.
func (c *Collector) capture(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	current, err := c.display.CurrentURL(ctx)
	if err != nil {
		c.logger.Printf("[collector] current url: %v", err)
		return
	}
	if current == "" || current == "about:blank" {
		return
	}
	image, err := c.display.CaptureJPEG(ctx)
	if err != nil {
		c.logger.Printf("[collector] capture: %v", err)
		return
	}
	c.emit(protocol.EventScreenshotUpload, &protocol.ScreenshotUpload{
		Image:      image,
		CurrentURL: current,
	})
}
