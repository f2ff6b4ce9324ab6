// Package player is the device-side client: the playlist rotation engine,
// the health and screenshot collector, and the websocket link back to the hub.
package player

import "context"

// Display abstracts the kiosk browser so the engine and collector stay
// testable. The production implementation drives a Chromium instance over the
// DevTools protocol.
type Display interface {
	// Navigate loads the URL in the display surface.
	Navigate(ctx context.Context, url string) error
	// Refresh reloads the current page.
	Refresh(ctx context.Context) error
	// CurrentURL reports the page currently shown, "" when blank.
	CurrentURL(ctx context.Context) (string, error)
	// CaptureJPEG returns a base64 JPEG of the current page.
	CaptureJPEG(ctx context.Context) (string, error)
	// SetViewport resizes the display surface.
	SetViewport(ctx context.Context, width, height int) error
	// Click synthesizes a mouse click in device pixels.
	Click(ctx context.Context, x, y int, button string) error
	// Type focuses the optional selector and types the text.
	Type(ctx context.Context, text, selector string) error
	// Key synthesizes a keypress with optional modifiers.
	Key(ctx context.Context, key string, modifiers []string) error
	// Scroll scrolls to an absolute position.
	Scroll(ctx context.Context, x, y int) error
	// Close releases the browser connection.
	Close() error
}
