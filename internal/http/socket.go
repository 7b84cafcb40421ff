package httpx

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/splax/shipyard/internal/relay"
	"github.com/splax/shipyard/internal/ws"
)

// SocketServer accepts websocket viewers and maps their subscribe and unsubscribe events
// onto relay rooms.
type SocketServer struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	relay     *relay.Relay
	upgrader  websocket.Upgrader
	queueSize int
}

// NewSocketServer serves websocket sessions on "/" and "/ws".
func NewSocketServer(logger *slog.Logger, rl *relay.Relay, queueSize int) *SocketServer {
	s := &SocketServer{
		mux:    http.NewServeMux(),
		logger: logger,
		relay:  rl,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueSize: queueSize,
	}
	initMetrics()
	s.mux.HandleFunc("GET /{$}", audit(logger, "GET /", s.serveSocket))
	s.mux.HandleFunc("GET /ws", audit(logger, "GET /ws", s.serveSocket))
	return s
}

// ServeHTTP delegates to underlying mux.
func (s *SocketServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(w, req)
}

// Handler returns the server wrapped with permissive CORS.
func (s *SocketServer) Handler() http.Handler {
	return withCORS(s)
}

// serveSocket runs one session until the peer goes away, then drops it from every room.
func (s *SocketServer) serveSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, s.logger, s.queueSize)
	go client.WritePump()
	defer func() {
		s.relay.Disconnect(client)
		client.Close()
	}()

	client.ReadPump(func(evt ws.Event) {
		switch evt.Event {
		case ws.EventSubscribe:
			if err := s.relay.Join(evt.Data, client); err != nil {
				s.logger.Debug("websocket subscribe rejected", "build_id", evt.Data, "error", err)
			}
		case ws.EventUnsubscribe:
			if err := s.relay.Leave(evt.Data, client); err != nil {
				s.logger.Debug("websocket unsubscribe rejected", "build_id", evt.Data, "error", err)
			}
		default:
			s.logger.Debug("websocket event ignored", "event", evt.Event)
		}
	})
}
