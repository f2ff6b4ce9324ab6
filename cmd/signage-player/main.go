// Command signage-player runs on a display device. It drives the kiosk
// browser through DevTools, rotates the assigned playlist, and streams
// telemetry back to the hub.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signagekit/signage-hub-go/internal/player"
)

func main() {
	cfg, err := player.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	display, err := player.NewCDPDisplay(connectCtx, cfg.DebuggerURL, nil)
	cancel()
	if err != nil {
		log.Fatalf("browser connect error: %v", err)
	}
	defer display.Close()

	var client *player.Client
	emit := func(event string, payload any) { client.Emit(event, payload) }

	engine := player.NewEngine(display, emit, cfg.ServerURL, nil)
	collector := player.NewCollector(display, emit, cfg.HealthInterval, cfg.ScreenshotInterval, nil)
	engine.SetItemChangedHook(collector.ItemChanged)
	client = player.NewClient(cfg, display, engine, collector, nil)

	group, runCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return engine.Run(runCtx) })
	group.Go(func() error { return collector.Run(runCtx) })
	group.Go(func() error { return client.Run(runCtx) })

	err = group.Wait()
	switch {
	case errors.Is(err, player.ErrRestartRequested):
		// Exit nonzero so the supervisor relaunches us.
		log.Printf("restarting on hub request")
		os.Exit(1)
	case errors.Is(err, context.Canceled):
		log.Printf("shutting down")
	case err != nil:
		log.Fatalf("player error: %v", err)
	}
}
