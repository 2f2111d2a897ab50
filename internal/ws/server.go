// Package ws carries protocol events over websocket connections.
package ws

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabgrid/internal/config"
	"collabgrid/internal/metrics"
	"collabgrid/internal/protocol"
	"collabgrid/internal/room"
)

// Handler consumes the events of a connection. session.Coordinator
// implements it.
type Handler interface {
	Handle(m room.Member, in protocol.Inbound) error
	Disconnect(connID string)
}

// Server upgrades HTTP requests to websocket connections and pumps their
// events through a Handler.
type Server struct {
	upgrader websocket.Upgrader
	handler  Handler
	cfg      config.WSConfig
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewServer returns a Server accepting connections from the origins cfg
// allows.
func NewServer(h Handler, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.AllowedOrigin(r.Header.Get("Origin"))
			},
		},
		handler: h,
		cfg:     cfg.WS,
		log:     logger,
		metrics: m,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade the websocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn, s.cfg, s.log, s.metrics)
	s.metrics.Connections.Inc()
	defer s.metrics.Connections.Dec()
	c.log.Info("new connection", "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(s.handler)
}
