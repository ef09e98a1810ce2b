// Command ingest is a development receiver for the streamer: it accepts the
// /ingest websocket, counts the JPEG frames each streamer delivers, and logs
// throughput. One streamer per (room, player) slot; a reconnecting streamer
// replaces its predecessor.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const statsInterval = 5 * time.Second

type slotKey struct {
	room   string
	player string
}

type slot struct {
	conn        *websocket.Conn
	remote      string
	connectedAt time.Time
	frames      atomic.Uint64
	bytes       atomic.Uint64
}

// Server tracks one connected streamer per (room, player) slot.
type Server struct {
	mu       sync.Mutex
	slots    map[slotKey]*slot
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewServer creates an ingest server.
func NewServer() *Server {
	return &Server{
		slots: make(map[slotKey]*slot),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // development receiver, any origin
			},
		},
		log: logrus.WithField("module", "ingest"),
	}
}

// register installs a slot, closing any streamer previously occupying it.
func (s *Server) register(key slotKey, sl *slot) {
	s.mu.Lock()
	prev := s.slots[key]
	s.slots[key] = sl
	s.mu.Unlock()
	if prev != nil {
		prev.conn.Close()
	}
}

// unregister removes the slot only if it still holds this connection.
func (s *Server) unregister(key slotKey, sl *slot) {
	s.mu.Lock()
	if s.slots[key] == sl {
		delete(s.slots, key)
	}
	s.mu.Unlock()
}

// HandleIngest upgrades /ingest?room=&player= and consumes binary frames.
func (s *Server) HandleIngest(w http.ResponseWriter, r *http.Request) {
	room := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("room")))
	player := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("player")))
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if player != "p1" && player != "p2" {
		http.Error(w, "player must be p1 or p2", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	key := slotKey{room: room, player: player}
	sl := &slot{conn: conn, remote: r.RemoteAddr, connectedAt: time.Now()}
	s.register(key, sl)

	log := s.log.WithFields(logrus.Fields{
		"room":   room,
		"player": player,
		"remote": r.RemoteAddr,
	})
	log.Info("streamer connected")

	done := make(chan struct{})
	go s.reportStats(sl, log, done)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		sl.frames.Add(1)
		sl.bytes.Add(uint64(len(data)))
	}

	close(done)
	s.unregister(key, sl)
	conn.Close()
	log.WithFields(logrus.Fields{
		"frames": sl.frames.Load(),
		"uptime": time.Since(sl.connectedAt).Round(time.Second),
	}).Info("streamer disconnected")
}

func (s *Server) reportStats(sl *slot, log *logrus.Entry, done <-chan struct{}) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	var lastFrames, lastBytes uint64
	for {
		select {
		case <-ticker.C:
			frames := sl.frames.Load()
			bytes := sl.bytes.Load()
			log.WithFields(logrus.Fields{
				"frames":    frames,
				"fps":       float64(frames-lastFrames) / statsInterval.Seconds(),
				"kbps":      float64(bytes-lastBytes) * 8 / 1000 / statsInterval.Seconds(),
				"total_mib": float64(bytes) / (1 << 20),
			}).Info("ingest stats")
			lastFrames, lastBytes = frames, bytes
		case <-done:
			return
		}
	}
}

func main() {
	port := flag.Int("port", 8080, "Listen port")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	server := NewServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", server.HandleIngest)

	addr := fmt.Sprintf(":%d", *port)
	fmt.Printf("Ingest server listening on http://localhost%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Fatal("server error")
	}
}
