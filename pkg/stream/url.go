package stream

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildIngestURL derives the websocket ingest endpoint from an API base URL
// by rewriting the scheme: https becomes wss, http becomes ws, ws(s) passes
// through, and a bare host gets ws. Trailing slashes on the base are
// dropped.
func BuildIngestURL(apiBase, room, player string) string {
	base := strings.TrimRight(apiBase, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		// Already a websocket URL.
	default:
		base = "ws://" + base
	}
	return fmt.Sprintf("%s/ingest?room=%s&player=%s",
		base, url.QueryEscape(room), url.QueryEscape(player))
}
