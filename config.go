package main

import (
	"fmt"
	"os"
	"strings"
)

// Capture mode selection for the --capture flag.
const (
	CaptureAuto   = "auto"
	CapturePortal = "portal"
	CaptureGrab   = "grab"
)

// Config holds runtime configuration
type Config struct {
	API     string
	Room    string
	Player  string
	FPS     int
	Quality int
	MaxW    int
	MaxH    int
	Capture string
	Display int
	Verbose bool
}

// Validate normalizes and checks the configuration, returning the first
// problem found. Quality is clamped rather than rejected.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API) == "" {
		return fmt.Errorf("--api is required")
	}
	c.Room = NormalizeRoomCode(c.Room)
	if !ValidateRoomCode(c.Room) {
		return fmt.Errorf("--room is required")
	}
	c.Player = strings.ToLower(strings.TrimSpace(c.Player))
	if c.Player != "p1" && c.Player != "p2" {
		return fmt.Errorf("--player must be p1 or p2")
	}
	if c.FPS < 1 {
		return fmt.Errorf("--fps must be at least 1")
	}
	if c.Quality < 1 {
		c.Quality = 1
	}
	if c.Quality > 100 {
		c.Quality = 100
	}
	if c.MaxW < 2 || c.MaxH < 2 {
		return fmt.Errorf("--maxw and --maxh must be at least 2")
	}
	switch c.Capture {
	case CaptureAuto, CapturePortal, CaptureGrab:
	default:
		return fmt.Errorf("--capture must be auto, portal or grab")
	}
	return nil
}

// isWaylandSession reports whether the process runs under a Wayland
// compositor, where the portal is the only sanctioned capture path.
func isWaylandSession() bool {
	if strings.EqualFold(os.Getenv("XDG_SESSION_TYPE"), "wayland") {
		return true
	}
	return os.Getenv("WAYLAND_DISPLAY") != ""
}
