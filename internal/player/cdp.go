package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// CDPDisplay drives a Chromium kiosk over the DevTools protocol. Commands are
// JSON-RPC over the page target's debugger websocket.
type CDPDisplay struct {
	conn   *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex
	seq     atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan cdpResponse

	done      chan struct{}
	closeOnce sync.Once
}

type cdpResponse struct {
	Result json.RawMessage
	Err    error
}

type cdpMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// NewCDPDisplay connects to the browser's first page target. debuggerURL is
// the DevTools HTTP endpoint, e.g. http://127.0.0.1:9222.
func NewCDPDisplay(ctx context.Context, debuggerURL string, logger *log.Logger) (*CDPDisplay, error) {
	if logger == nil {
		logger = log.Default()
	}
	wsURL, err := pageTargetURL(ctx, debuggerURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools: %w", err)
	}

	d := &CDPDisplay{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan cdpResponse),
		done:    make(chan struct{}),
	}
	go d.readLoop()

	if _, err := d.call(ctx, "Page.enable", nil); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// pageTargetURL lists targets via /json and returns the first page's
// debugger websocket URL.
func pageTargetURL(ctx context.Context, debuggerURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, debuggerURL+"/json", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("list devtools targets: %w", err)
	}
	defer resp.Body.Close()

	var targets []struct {
		Type                 string `json:"type"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode devtools targets: %w", err)
	}
	for _, target := range targets {
		if target.Type == "page" && target.WebSocketDebuggerURL != "" {
			return target.WebSocketDebuggerURL, nil
		}
	}
	return "", errors.New("no page target available")
}

func (d *CDPDisplay) readLoop() {
	defer d.failPending(errors.New("devtools connection closed"))
	for {
		var msg cdpMessage
		if err := d.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.ID == 0 {
			continue // unsolicited event
		}
		d.pendingMu.Lock()
		ch, ok := d.pending[msg.ID]
		delete(d.pending, msg.ID)
		d.pendingMu.Unlock()
		if !ok {
			continue
		}
		if msg.Error != nil {
			ch <- cdpResponse{Err: msg.Error}
		} else {
			ch <- cdpResponse{Result: msg.Result}
		}
	}
}

func (d *CDPDisplay) failPending(err error) {
	d.closeOnce.Do(func() { close(d.done) })
	d.pendingMu.Lock()
	for id, ch := range d.pending {
		ch <- cdpResponse{Err: err}
		delete(d.pending, id)
	}
	d.pendingMu.Unlock()
}

func (d *CDPDisplay) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := d.seq.Add(1)
	ch := make(chan cdpResponse, 1)
	d.pendingMu.Lock()
	d.pending[id] = ch
	d.pendingMu.Unlock()

	d.writeMu.Lock()
	err := d.conn.WriteJSON(cdpMessage{ID: id, Method: method, Params: params})
	d.writeMu.Unlock()
	if err != nil {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Err)
		}
		return resp.Result, nil
	case <-ctx.Done():
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-d.done:
		return nil, errors.New("devtools connection closed")
	}
}

// evaluate runs a JS expression and returns its value.
func (d *CDPDisplay) evaluate(ctx context.Context, expression string, out any) error {
	result, err := d.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	var parsed struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return err
	}
	if len(parsed.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(parsed.Result.Value, out)
}

func (d *CDPDisplay) Navigate(ctx context.Context, url string) error {
	_, err := d.call(ctx, "Page.navigate", map[string]any{"url": url})
	return err
}

func (d *CDPDisplay) Refresh(ctx context.Context) error {
	_, err := d.call(ctx, "Page.reload", nil)
	return err
}

func (d *CDPDisplay) CurrentURL(ctx context.Context) (string, error) {
	var href string
	if err := d.evaluate(ctx, "window.location.href", &href); err != nil {
		return "", err
	}
	return href, nil
}

func (d *CDPDisplay) CaptureJPEG(ctx context.Context) (string, error) {
	result, err := d.call(ctx, "Page.captureScreenshot", map[string]any{
		"format":  "jpeg",
		"quality": 70,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", err
	}
	return parsed.Data, nil
}

func (d *CDPDisplay) SetViewport(ctx context.Context, width, height int) error {
	_, err := d.call(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             width,
		"height":            height,
		"deviceScaleFactor": 1,
		"mobile":            false,
	})
	return err
}

func (d *CDPDisplay) Click(ctx context.Context, x, y int, button string) error {
	if button == "" {
		button = "left"
	}
	base := map[string]any{
		"x":          x,
		"y":          y,
		"button":     button,
		"clickCount": 1,
	}
	press := map[string]any{"type": "mousePressed"}
	release := map[string]any{"type": "mouseReleased"}
	for k, v := range base {
		press[k] = v
		release[k] = v
	}
	if _, err := d.call(ctx, "Input.dispatchMouseEvent", press); err != nil {
		return err
	}
	_, err := d.call(ctx, "Input.dispatchMouseEvent", release)
	return err
}

func (d *CDPDisplay) Type(ctx context.Context, text, selector string) error {
	if selector != "" {
		expr := "document.querySelector(" + strconv.Quote(selector) + ")?.focus()"
		if err := d.evaluate(ctx, expr, nil); err != nil {
			return err
		}
	}
	_, err := d.call(ctx, "Input.insertText", map[string]any{"text": text})
	return err
}

// keyModifierBits is the DevTools modifier bitmask.
var keyModifierBits = map[string]int{
	"Alt":     1,
	"Control": 2,
	"Meta":    4,
	"Shift":   8,
}

func (d *CDPDisplay) Key(ctx context.Context, key string, modifiers []string) error {
	bits := 0
	for _, mod := range modifiers {
		bits |= keyModifierBits[mod]
	}
	down := map[string]any{
		"type":      "rawKeyDown",
		"key":       key,
		"modifiers": bits,
	}
	up := map[string]any{
		"type":      "keyUp",
		"key":       key,
		"modifiers": bits,
	}
	if _, err := d.call(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return err
	}
	_, err := d.call(ctx, "Input.dispatchKeyEvent", up)
	return err
}

func (d *CDPDisplay) Scroll(ctx context.Context, x, y int) error {
	return d.evaluate(ctx, fmt.Sprintf("window.scrollTo(%d, %d)", x, y), nil)
}

func (d *CDPDisplay) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	return d.conn.Close()
}
