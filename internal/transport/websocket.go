package transport

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"CapIot.gateway/internal/models"
	"CapIot.gateway/internal/registry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from a device.
	maxMessageSize = 64 * 1024

	// Outbound queue per connection. Commands beyond this are rejected,
	// never silently dropped out of order.
	sendQueueSize = 32
)

// Gateway consumes decoded frames from device connections.
type Gateway interface {
	HandleRegister(conn registry.Conn, msg *models.RegisterMessage) error
	HandleMessage(deviceID string, msg any) error
	HandleDisconnect(deviceID, connID string)
}

// WSTransport upgrades inbound HTTP requests to device WebSocket connections
// and runs one read and one write goroutine per connection.
type WSTransport struct {
	gateway  Gateway
	upgrader websocket.Upgrader
}

// NewWSTransport creates the transport. Devices carry no Origin header worth
// checking, so cross-origin upgrades are accepted.
func NewWSTransport(gateway Gateway) *WSTransport {
	return &WSTransport{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleDeviceSocket is the HTTP handler for the device endpoint.
func (t *WSTransport) HandleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: upgrade failed: %v", err)
		return
	}

	c := newWSConn(ws)
	go c.writePump()
	go t.readPump(c)
}

// readPump is the per-connection receive loop. It exits when the peer goes
// away or the connection is closed locally (eviction, supersede, shutdown),
// and always tears the connection down on the way out.
func (t *WSTransport) readPump(c *wsConn) {
	defer func() {
		c.Close()
		if deviceID := c.deviceID; deviceID != "" {
			t.gateway.HandleDisconnect(deviceID, c.ID())
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("transport: connection %s read error: %v", c.ID(), err)
			}
			return
		}

		msg, err := models.DecodeInbound(data)
		if err != nil {
			// Malformed frames are dropped without touching lastSeen;
			// the connection stays up.
			t.reject(c, err)
			continue
		}

		if reg, ok := msg.(*models.RegisterMessage); ok {
			// A connection speaks for exactly one device id. A re-register
			// under a different id would leave the old id's registration
			// holding this connection, so its eviction would tear the new
			// identity down with it.
			if c.deviceID != "" && c.deviceID != reg.DeviceID {
				t.reject(c, models.ErrProtocol(
					"connection is already registered to another device"))
				continue
			}
			if err := t.gateway.HandleRegister(c, reg); err != nil {
				t.reject(c, err)
				continue
			}
			c.deviceID = reg.DeviceID
			continue
		}

		if c.deviceID == "" {
			t.reject(c, models.ErrProtocol("first message must be a register"))
			continue
		}

		if err := t.gateway.HandleMessage(c.deviceID, msg); err != nil {
			t.reject(c, err)
		}
	}
}

// reject echoes an error frame for a rejected message.
func (t *WSTransport) reject(c *wsConn, err error) {
	gerr, ok := err.(models.GatewayError)
	if !ok {
		gerr = models.NewGatewayError(models.ErrorCodeInternalServerError, err.Error(), nil, 500)
	}
	if sendErr := c.Send(models.NewErrorMessage(gerr)); sendErr != nil {
		log.Printf("transport: could not echo error frame on connection %s: %v", c.ID(), sendErr)
	}
}

// wsConn wraps one device WebSocket. Send enqueues frames for the single
// writer goroutine, which gives per-device FIFO delivery.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan any
	done chan struct{}
	once sync.Once

	// deviceID is set once by the read loop after a successful register and
	// read only by that same goroutine.
	deviceID string
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan any, sendQueueSize),
		done: make(chan struct{}),
	}
}

// ID identifies this connection across reconnects of the same device.
func (c *wsConn) ID() string { return c.id }

// Send enqueues one frame. It fails once the connection is closed or when
// the queue is full (a device that stopped reading).
func (c *wsConn) Send(v any) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- v:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	default:
		return errors.New("connection send queue full")
	}
}

// Close tears the connection down. Safe to call from any goroutine and more
// than once; the write pump and read pump both exit as a consequence.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

// writePump drains the send queue onto the wire. It owns all writes to the
// underlying connection and is the only goroutine that closes it.
func (c *wsConn) writePump() {
	defer c.ws.Close()
	for {
		select {
		case v := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(v); err != nil {
				log.Printf("transport: write on connection %s failed: %v", c.id, err)
				c.Close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
