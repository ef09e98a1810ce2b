package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		API:     "https://api.example.com",
		Room:    "abc123",
		Player:  "P1",
		FPS:     10,
		Quality: 65,
		MaxW:    1280,
		MaxH:    720,
		Capture: CaptureAuto,
	}
}

func TestConfigValidateNormalizes(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ABC123", cfg.Room)
	assert.Equal(t, "p1", cfg.Player)
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api", func(c *Config) { c.API = "  " }},
		{"missing room", func(c *Config) { c.Room = "" }},
		{"bad room chars", func(c *Config) { c.Room = "abc 123" }},
		{"bad player", func(c *Config) { c.Player = "p3" }},
		{"fps zero", func(c *Config) { c.FPS = 0 }},
		{"tiny bounds", func(c *Config) { c.MaxW = 1 }},
		{"bad capture", func(c *Config) { c.Capture = "x11grab" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigValidateClampsQuality(t *testing.T) {
	cfg := validConfig()
	cfg.Quality = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Quality)

	cfg = validConfig()
	cfg.Quality = 250
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Quality)
}

func TestNormalizeRoomCode(t *testing.T) {
	assert.Equal(t, "ABC123", NormalizeRoomCode("  abc123  "))
	assert.Equal(t, "A-B", NormalizeRoomCode("a-b"))
}

func TestValidateRoomCode(t *testing.T) {
	assert.True(t, ValidateRoomCode("ABC123"))
	assert.True(t, ValidateRoomCode("room-42"))
	assert.False(t, ValidateRoomCode(""))
	assert.False(t, ValidateRoomCode("bad code"))
	assert.False(t, ValidateRoomCode("no_underscores"))
}

func TestIsWaylandSession(t *testing.T) {
	t.Setenv("XDG_SESSION_TYPE", "wayland")
	t.Setenv("WAYLAND_DISPLAY", "")
	assert.True(t, isWaylandSession())

	t.Setenv("XDG_SESSION_TYPE", "x11")
	assert.False(t, isWaylandSession())

	t.Setenv("WAYLAND_DISPLAY", "wayland-0")
	assert.True(t, isWaylandSession())
}
