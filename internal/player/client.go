package player

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/signagekit/signage-hub-go/internal/protocol"
)

// ErrRestartRequested is returned by Run when the hub orders a device
// restart; the supervisor is expected to relaunch the process.
var ErrRestartRequested = errors.New("restart requested")

const (
	reconnectMinBackoff = time.Second
	reconnectMaxBackoff = time.Minute
	clientWriteTimeout  = 10 * time.Second
	outboundQueueSize   = 256
)

// Client keeps the hub connection alive and bridges it to the engine,
// collector, and display.
type Client struct {
	cfg       Config
	display   Display
	engine    *Engine
	collector *Collector
	logger    *log.Logger

	out     chan []byte
	casting atomic.Bool
	restart atomic.Bool

	viewportW atomic.Int64
	viewportH atomic.Int64
}

// NewClient wires the client. The engine and collector must share the same
// display and emit through this client.
func NewClient(cfg Config, display Display, engine *Engine, collector *Collector, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		cfg:       cfg,
		display:   display,
		engine:    engine,
		collector: collector,
		logger:    logger,
		out:       make(chan []byte, outboundQueueSize),
	}
	c.viewportW.Store(1920)
	c.viewportH.Store(1080)
	return c
}

// Emit queues an event for the hub. Frames are dropped when the connection
// cannot keep up; the hub treats all device telemetry as resendable.
func (c *Client) Emit(event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		c.logger.Printf("[client] encode %s: %v", event, err)
		return
	}
	select {
	case c.out <- data:
	default:
		c.logger.Printf("[client] outbound queue full, dropping %s", event)
	}
}

// Run connects to the hub and reconnects with exponential backoff until the
// context is canceled or a restart is ordered.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectMinBackoff
	for {
		start := time.Now()
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.restart.Load() {
			return ErrRestartRequested
		}
		if time.Since(start) > reconnectMaxBackoff {
			backoff = reconnectMinBackoff
		}
		c.logger.Printf("[client] connection lost (%v), reconnecting in %s", err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMaxBackoff {
			backoff = reconnectMaxBackoff
		}
	}
}

func (c *Client) wsURL() (string, error) {
	base, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", err
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/ws"
	query := url.Values{}
	query.Set("role", "device")
	query.Set("token", c.cfg.Token)
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (c *Client) runSession(ctx context.Context) error {
	target, err := c.wsURL()
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, target, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	c.logger.Printf("[client] connected to %s", c.cfg.ServerURL)

	// Confirm identity, then announce current playback so admins see fresh
	// state immediately after a reconnect.
	c.Emit(protocol.EventDeviceRegister, &protocol.DeviceRegister{Token: c.cfg.Token})
	c.engine.EmitState()

	group, sessionCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return c.readLoop(sessionCtx, conn) })
	group.Go(func() error { return c.writeLoop(sessionCtx, conn) })
	group.Go(func() error { return c.screencastLoop(sessionCtx) })
	return group.Wait()
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.logger.Printf("[client] bad frame: %v", err)
			continue
		}
		if err := c.dispatch(ctx, env); err != nil {
			return err
		}
	}
}

func (c *Client) dispatch(ctx context.Context, env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventContentUpdate:
		var update protocol.ContentUpdate
		if err := env.DecodePayload(&update); err != nil {
			c.logger.Printf("[client] %v", err)
			return nil
		}
		c.engine.Load(&update)

	case protocol.EventConfigUpdate:
		var patch protocol.ConfigUpdate
		if err := env.DecodePayload(&patch); err != nil {
			c.logger.Printf("[client] %v", err)
			return nil
		}
		c.applyConfig(ctx, patch)

	case protocol.EventDisplayNavigate:
		var nav protocol.DisplayNavigate
		if err := env.DecodePayload(&nav); err == nil && nav.URL != "" {
			c.displayOp(ctx, "navigate", func(opCtx context.Context) error {
				return c.display.Navigate(opCtx, nav.URL)
			})
		}

	case protocol.EventDisplayRefresh:
		c.displayOp(ctx, "refresh", c.display.Refresh)

	case protocol.EventScreenshotRequest:
		c.collector.CaptureNow()

	case protocol.EventDeviceRestart:
		c.logger.Printf("[client] restart ordered by hub")
		c.restart.Store(true)
		return ErrRestartRequested

	case protocol.EventRemoteClick:
		var click protocol.RemoteClick
		if err := env.DecodePayload(&click); err == nil {
			c.displayOp(ctx, "click", func(opCtx context.Context) error {
				return c.display.Click(opCtx, click.X, click.Y, click.Button)
			})
		}

	case protocol.EventRemoteType:
		var input protocol.RemoteType
		if err := env.DecodePayload(&input); err == nil {
			c.displayOp(ctx, "type", func(opCtx context.Context) error {
				return c.display.Type(opCtx, input.Text, input.Selector)
			})
		}

	case protocol.EventRemoteKey:
		var key protocol.RemoteKey
		if err := env.DecodePayload(&key); err == nil {
			c.displayOp(ctx, "key", func(opCtx context.Context) error {
				return c.display.Key(opCtx, key.Key, key.Modifiers)
			})
		}

	case protocol.EventRemoteScroll:
		var scroll protocol.RemoteScroll
		if err := env.DecodePayload(&scroll); err == nil {
			c.displayOp(ctx, "scroll", func(opCtx context.Context) error {
				return c.display.Scroll(opCtx, scroll.X, scroll.Y)
			})
		}

	case protocol.EventPlaylistPause:
		c.engine.Pause()
	case protocol.EventPlaylistResume:
		c.engine.Resume()
	case protocol.EventPlaylistNext:
		c.engine.Next(respectConstraints(env))
	case protocol.EventPlaylistPrevious:
		c.engine.Previous(respectConstraints(env))

	case protocol.EventScreencastStart:
		c.casting.Store(true)
	case protocol.EventScreencastStop:
		c.casting.Store(false)

	case protocol.EventLicenseStatus:
		var status protocol.LicenseStatus
		if err := env.DecodePayload(&status); err == nil {
			switch status.Status {
			case "denied":
				c.logger.Printf("[client] license denied: %s", status.Reason)
			case "grace":
				c.logger.Printf("[client] license in grace period until %s", status.GracePeriodEndsAt)
			}
		}

	default:
		c.logger.Printf("[client] unhandled event %s", env.Event)
	}
	return nil
}

func respectConstraints(env protocol.Envelope) bool {
	var control protocol.PlaylistControl
	if err := env.DecodePayload(&control); err != nil {
		return true
	}
	return control.RespectConstraints == nil || *control.RespectConstraints
}

func (c *Client) applyConfig(ctx context.Context, patch protocol.ConfigUpdate) {
	if patch.DisplayWidth == nil && patch.DisplayHeight == nil {
		return
	}
	width := int(c.viewportW.Load())
	height := int(c.viewportH.Load())
	if patch.DisplayWidth != nil {
		width = *patch.DisplayWidth
	}
	if patch.DisplayHeight != nil {
		height = *patch.DisplayHeight
	}
	c.viewportW.Store(int64(width))
	c.viewportH.Store(int64(height))
	c.displayOp(ctx, "viewport", func(opCtx context.Context) error {
		return c.display.SetViewport(opCtx, width, height)
	})
}

// displayOp runs a display command with a bounded deadline; failures are
// telemetry, never fatal.
func (c *Client) displayOp(ctx context.Context, name string, fn func(context.Context) error) {
	opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := fn(opCtx); err != nil {
		c.logger.Printf("[client] %s failed: %v", name, err)
		c.Emit(protocol.EventErrorReport, &protocol.ErrorReport{
			Message: name + " failed: " + err.Error(),
		})
	}
}

// screencastLoop captures frames at the configured rate while casting is
// active.
func (c *Client) screencastLoop(ctx context.Context) error {
	fps := c.cfg.ScreencastFPS
	if fps <= 0 {
		fps = 10
	}
	sessionID := uuid.NewString()
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !c.casting.Load() {
				continue
			}
			captureCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			data, err := c.display.CaptureJPEG(captureCtx)
			cancel()
			if err != nil {
				c.logger.Printf("[client] screencast capture: %v", err)
				continue
			}
			c.Emit(protocol.EventScreencastFrame, &protocol.ScreencastFrame{
				Data: data,
				Metadata: protocol.FrameMetadata{
					SessionID:   sessionID,
					TimestampMs: time.Now().UnixMilli(),
					Width:       int(c.viewportW.Load()),
					Height:      int(c.viewportH.Load()),
				},
			})
		}
	}
}
