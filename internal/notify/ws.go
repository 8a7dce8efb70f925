package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// WSChannel adapts a websocket connection to Channel.
type WSChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewWSChannel(conn *websocket.Conn, writeTimeout time.Duration) *WSChannel {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WSChannel{conn: conn, writeTimeout: writeTimeout}
}

func (c *WSChannel) Send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

type ServeOptions struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Serve registers conn for userID and blocks until the connection drops or ctx ends.
// A text "ping" from the client is answered with "pong"; the server pings on its own
// schedule to detect dead peers.
func (h *Hub) Serve(ctx context.Context, userID string, conn *websocket.Conn, opts ServeOptions) error {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	ch := NewWSChannel(conn, opts.WriteTimeout)
	h.Register(userID, ch)
	h.metrics.WSConnected()
	defer func() {
		h.Unregister(userID, ch)
		h.metrics.WSDisconnected()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.pingLoop(ctx, cancel, userID, conn, opts)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ == websocket.MessageText && strings.TrimSpace(string(data)) == "ping" {
			if err := ch.Send(ctx, []byte("pong")); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) pingLoop(ctx context.Context, cancel context.CancelFunc, userID string, conn *websocket.Conn, opts ServeOptions) {
	ticker := time.NewTicker(opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timeout := opts.WriteTimeout
			if timeout <= 0 {
				timeout = defaultWriteTimeout
			}
			pctx, pcancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				h.log.Debug().Err(err).Str("user_id", userID).Msg("websocket ping failed")
				cancel()
				return
			}
		}
	}
}
