package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vpinleaders/vpin-streamer/pkg/capture"
	"github.com/vpinleaders/vpin-streamer/pkg/pipewire"
	"github.com/vpinleaders/vpin-streamer/pkg/portal"
	"github.com/vpinleaders/vpin-streamer/pkg/stream"
)

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.API, "api", "", "Backend base URL, e.g. https://www.vpinleaders.com")
	flag.StringVar(&config.Room, "room", "", "Room code")
	flag.StringVar(&config.Player, "player", "", "Player side: p1 or p2")

	flag.IntVar(&config.FPS, "fps", 10, "Target framerate")
	flag.IntVar(&config.Quality, "quality", 65, "JPEG quality 1-100")
	flag.IntVar(&config.MaxW, "maxw", 1280, "Max output width")
	flag.IntVar(&config.MaxH, "maxh", 720, "Max output height")

	flag.StringVar(&config.Capture, "capture", CaptureAuto, "Capture backend: auto, portal or grab")
	flag.IntVar(&config.Display, "display", 0, "Display index for the grab backend")
	flag.BoolVar(&config.Verbose, "v", false, "Verbose logging")

	flag.Parse()
	return config
}

func printBanner(cfg Config, wsURL string) {
	fmt.Println("===============================================")
	fmt.Println("VPin Streamer")
	fmt.Println("===============================================")
	fmt.Printf("Room:   %s\n", cfg.Room)
	fmt.Printf("Player: %s\n", cfg.Player)
	fmt.Printf("WS URL: %s\n", wsURL)
	fmt.Println("===============================================")
}

func main() {
	cfg := parseFlags()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("module", "main")

	wsURL := stream.BuildIngestURL(cfg.API, cfg.Room, cfg.Player)
	printBanner(cfg, wsURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, cleanup, err := openSource(ctx, cfg)
	if err != nil {
		// A failed negotiation is not retried; a denied or timed-out
		// permission prompt ends the program.
		log.WithError(err).Error("screen capture setup failed")
		os.Exit(1)
	}
	defer cleanup()

	streamer := stream.New(src, stream.Config{
		URL:       wsURL,
		FPS:       cfg.FPS,
		Quality:   cfg.Quality,
		MaxWidth:  cfg.MaxW,
		MaxHeight: cfg.MaxH,
	})
	if err := streamer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("streamer stopped")
		os.Exit(1)
	}
	log.Info("shutting down")
}

// openSource picks the capture backend. Wayland sessions go through the
// portal; everywhere else a direct grab works without negotiation.
func openSource(ctx context.Context, cfg Config) (capture.Source, func(), error) {
	mode := cfg.Capture
	if mode == CaptureAuto {
		if isWaylandSession() {
			mode = CapturePortal
		} else {
			mode = CaptureGrab
		}
	}

	switch mode {
	case CapturePortal:
		return openPortalSource(ctx, cfg)
	default:
		grab, err := capture.NewDirectGrab(cfg.Display)
		if err != nil {
			return nil, nil, err
		}
		return grab, func() { grab.Close() }, nil
	}
}

func openPortalSource(ctx context.Context, cfg Config) (capture.Source, func(), error) {
	client, err := portal.Connect()
	if err != nil {
		return nil, nil, err
	}

	granted, err := client.Negotiate(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	src, err := pipewire.NewSource(granted, cfg.FPS)
	if err != nil {
		client.CloseSession(granted.SessionHandle)
		client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		src.Close()
		client.CloseSession(granted.SessionHandle)
		client.Close()
	}
	return src, cleanup, nil
}
