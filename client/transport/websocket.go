package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"talkx/protocol"
)

// WebSocketConfig tunes the websocket transport.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	SendBuffer       int
	ReadLimit        int64
	Header           http.Header
}

// DefaultWebSocketConfig returns the settings used by the client.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		SendBuffer:       64,
		ReadLimit:        1 << 20,
	}
}

// WebSocket dials chat servers over websocket.
type WebSocket struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewWebSocket creates a websocket transport.
func NewWebSocket(cfg WebSocketConfig, logger zerolog.Logger) *WebSocket {
	defaults := DefaultWebSocketConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaults.ReadLimit
	}
	return &WebSocket{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: logger.With().Str("component", "transport").Logger(),
	}
}

// Dial opens a websocket to endpoint (ws:// or wss://).
func (w *WebSocket) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, resp, err := w.dialer.DialContext(ctx, endpoint, w.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &wsConn{
		conn: conn,
		cfg:  w.cfg,
		send: make(chan []byte, w.cfg.SendBuffer),
		done: make(chan struct{}),
		log:  w.log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	conn.SetReadLimit(w.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait))
	})
	go c.writePump()
	return c, nil
}

type wsConn struct {
	conn *websocket.Conn
	cfg  WebSocketConfig
	send chan []byte
	done chan struct{}
	log  zerolog.Logger

	closeOnce sync.Once
}

func (c *wsConn) Read() (protocol.Frame, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return protocol.Frame{}, ErrClosed
			default:
			}
			return protocol.Frame{}, err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		frame, err := protocol.ParseFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping frame")
			continue
		}
		return frame, nil
	}
}

func (c *wsConn) Write(frame protocol.Frame) error {
	data, err := protocol.FormatFrame(frame)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteWait))
		err = c.conn.Close()
	})
	return err
}

// writePump owns all data writes and keeps the connection alive with pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.log.Debug().Err(err).Msg("write failed")
				}
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				_ = c.conn.Close()
				return
			}
		}
	}
}
