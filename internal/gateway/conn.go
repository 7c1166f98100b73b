// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/shorebound/shorebound/internal/room"
)

const (
	outboundBuffer = 64
	writeTimeout   = 5 * time.Second
)

// DisconnectMessage is the terminal frame preceding a forced close.
type DisconnectMessage struct {
	Type   string    `json:"type"`
	Code   string    `json:"code"`
	Until  time.Time `json:"until,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// wsConn adapts a websocket to room.Conn. It is created before the
// HTTP upgrade so the join protocol can run first; messages sent in
// that window queue up and drain once bind attaches the socket.
type wsConn struct {
	out  chan []byte
	quit chan struct{}

	once sync.Once
	mu   sync.Mutex
	ws   *websocket.Conn
}

func newWSConn() *wsConn {
	return &wsConn{
		out:  make(chan []byte, outboundBuffer),
		quit: make(chan struct{}),
	}
}

// Send marshals and queues one outbound message. A full queue fails
// fast so a slow client cannot stall its room.
func (c *wsConn) Send(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return oops.Code("MARSHAL_FAILED").Wrap(err)
	}
	select {
	case c.out <- b:
		return nil
	case <-c.quit:
		return oops.Code("CONN_CLOSED").Errorf("connection is closing")
	default:
		return oops.Code("SLOW_CONSUMER").Errorf("outbound queue full")
	}
}

// Close sends the typed disconnect frame and tears the socket down.
func (c *wsConn) Close(reason room.DisconnectReason) error {
	b, err := json.Marshal(DisconnectMessage{
		Type:   "disconnect",
		Code:   reason.Code,
		Until:  reason.Until,
		Reason: reason.Text,
	})
	if err == nil {
		select {
		case c.out <- b:
		default:
		}
	}
	c.shutdown()
	return nil
}

func (c *wsConn) shutdown() {
	c.once.Do(func() { close(c.quit) })
}

// bind attaches the upgraded socket and starts the write pump.
func (c *wsConn) bind(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	go c.writePump(ws)
}

func (c *wsConn) writePump(ws *websocket.Conn) {
	defer func() {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err := ws.Close(); err != nil {
			slog.Debug("websocket close failed", "error", err)
		}
	}()

	for {
		select {
		case b := <-c.out:
			if !c.write(ws, b) {
				return
			}
		case <-c.quit:
			// Drain what is already queued, the disconnect frame
			// included, then close.
			for {
				select {
				case b := <-c.out:
					if !c.write(ws, b) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *wsConn) write(ws *websocket.Conn, b []byte) bool {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		c.shutdown()
		return false
	}
	return true
}
