package infra

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ratekeeper/internal/domain"
)

const (
	streamPingInterval = 30 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// TopicSource is where the stream gets its change topics.
type TopicSource interface {
	Subscribe(buffer int, topics ...domain.Topic) (<-chan domain.Topic, func())
}

// StreamMessage is one frame pushed to stream clients.
type StreamMessage struct {
	Topic domain.Topic `json:"topic"`
	At    time.Time    `json:"at"`
}

// StreamServer pushes change topics to websocket clients. Frames carry
// only the topic; clients re-read whatever they care about.
type StreamServer struct {
	source   TopicSource
	metrics  *Metrics
	buffer   int
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewStreamServer creates a stream over source. metrics may be nil.
func NewStreamServer(source TopicSource, metrics *Metrics, buffer int) *StreamServer {
	return &StreamServer{
		source:  source,
		metrics: metrics,
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: slog.Default().With("module", "stream"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and streams topics until the client leaves.
// An optional "topics" query parameter (comma separated) filters the stream.
func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Stream upgrade failed", slog.Any("error", err))
		return
	}

	topics := parseTopics(r.URL.Query().Get("topics"))
	ch, cancel := s.source.Subscribe(s.buffer, topics...)

	s.track(conn, true)
	defer func() {
		cancel()
		s.track(conn, false)
		conn.Close()
	}()

	// Reader: keeps the pong deadline fresh and notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case topic, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(StreamMessage{Topic: topic, At: time.Now().UTC()}); err != nil {
				s.logger.Debug("Stream write failed", slog.Any("error", err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// CloseAll disconnects every client. Used on shutdown.
func (s *StreamServer) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// Clients returns the number of connected clients.
func (s *StreamServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *StreamServer) track(conn *websocket.Conn, add bool) {
	s.mu.Lock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
	s.mu.Unlock()

	if s.metrics == nil {
		return
	}
	if add {
		s.metrics.IncrementConnections()
	} else {
		s.metrics.DecrementConnections()
	}
}

func parseTopics(raw string) []domain.Topic {
	if raw == "" {
		return nil
	}
	var out []domain.Topic
	for _, part := range strings.Split(raw, ",") {
		if t := domain.Topic(strings.TrimSpace(part)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
