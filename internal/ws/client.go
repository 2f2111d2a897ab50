package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabgrid/internal/config"
	"collabgrid/internal/metrics"
	"collabgrid/internal/protocol"
)

const writeWait = 10 * time.Second

// Client is one websocket connection. It is a room.Member: the hub queues
// frames on send and writePump drains them.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	cfg     config.WSConfig
	log     *slog.Logger
	metrics *metrics.Metrics
}

func newClient(id string, conn *websocket.Conn, cfg config.WSConfig, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		cfg:     cfg,
		log:     logger.With("conn", id),
		metrics: m,
	}
}

func (c *Client) ID() string { return c.id }

// Deliver queues msg for writing. It reports false when the queue is full.
// A closed client discards silently; it is already on its way out of every
// room.
func (c *Client) Deliver(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close shuts the connection down. It is safe to call more than once and
// from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump decodes frames and hands them to h until the connection fails,
// then reports the disconnect. Missing pongs for PongTimeout count as a
// failure.
func (c *Client) readPump(h Handler) {
	defer func() {
		h.Disconnect(c.id)
		c.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("client connection lost", "error", err)
			} else {
				c.log.Info("client disconnected", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		in, err := protocol.DecodeInbound(frame)
		if err != nil {
			c.metrics.DroppedEvents.WithLabelValues(metrics.ReasonDecode).Inc()
			c.log.Warn("error decoding event", "error", err)
			continue
		}
		_ = h.Handle(c, in)
	}
}

// writePump writes queued frames and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("error writing message to client", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("error pinging client", "error", err)
				return
			}
		}
	}
}
