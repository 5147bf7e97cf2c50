// Package tourstream broadcasts knight tour search events to websocket
// subscribers, so a running search can be watched live.
package tourstream

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	knighttour "github.com/sandeepkv93/parallelknighttour"
)

const (
	defaultQueueSize = 64
	pingInterval     = 30 * time.Second
)

// Event is the JSON frame sent to subscribers for every full board a search
// unit completes.
type Event struct {
	Unit    int       `json:"unit"`
	Closed  bool      `json:"closed"`
	StartX  int       `json:"start_x"`
	StartY  int       `json:"start_y"`
	LastX   int       `json:"last_x"`
	LastY   int       `json:"last_y"`
	Board   [][]int   `json:"board"`
	FoundAt time.Time `json:"found_at"`
}

// Server fans tour events out to connected websocket clients. It implements
// http.Handler; mount it wherever the surrounding process serves HTTP.
type Server struct {
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	queueSize int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer creates a stream server. A nil logger discards log output.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:    logger,
		queueSize: defaultQueueSize,
		clients:   make(map[*client]struct{}),
	}
}

// TourHandler returns a callback suitable for Config.OnTour. It snapshots
// the event board and publishes it; the publish path never blocks, so it is
// safe to run inside the search aggregator's critical section.
func (s *Server) TourHandler() func(knighttour.TourEvent) {
	return func(ev knighttour.TourEvent) {
		s.Publish(Event{
			Unit:    ev.Unit,
			Closed:  ev.Closed,
			StartX:  ev.Start.X,
			StartY:  ev.Start.Y,
			LastX:   ev.Last.X,
			LastY:   ev.Last.Y,
			Board:   ev.Board.Grid(),
			FoundAt: time.Now(),
		})
	}
}

// ServeHTTP upgrades the request to a websocket subscription.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, s.queueSize),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writePump(c)

	// Subscribers send nothing meaningful; reading just detects closure.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.unregister(c)
}

// Publish sends ev to every connected subscriber. Clients whose queues are
// full miss this event instead of stalling the search.
func (s *Server) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal tour event", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Debug("dropping event for slow subscriber")
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects all subscribers. Publish becomes a no-op afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}
