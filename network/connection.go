// network/connection.go
package network

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection abstracts one duplex client link. Frames are JSON text; every
// payload self-describes its message type.
type Connection interface {
	SendJSON(v any) error
	SendText(payload []byte) error
	Ping() error
	ReadMessage() ([]byte, error)
	IsOpen() bool
	Close() error
	CloseWithReason(code int, reason string) error
	RemoteAddr() net.Addr
}

const writeTimeout = 10 * time.Second

type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	stateMu   sync.RWMutex
	closed    bool
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (c *WSConnection) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendText(payload)
}

func (c *WSConnection) SendText(payload []byte) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.markClosed()
		return err
	}
	return nil
}

func (c *WSConnection) Ping() error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
		c.markClosed()
		return err
	}
	return nil
}

func (c *WSConnection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.markClosed()
		return nil, err
	}
	return data, nil
}

func (c *WSConnection) IsOpen() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return !c.closed
}

func (c *WSConnection) Close() error {
	c.markClosed()
	return c.conn.Close()
}

// CloseWithReason sends a close frame with the given status before tearing
// the connection down, so clients see a policy rejection instead of a drop.
func (c *WSConnection) CloseWithReason(code int, reason string) error {
	c.sendMutex.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeTimeout),
	)
	c.sendMutex.Unlock()

	c.markClosed()
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *WSConnection) markClosed() {
	c.stateMu.Lock()
	c.closed = true
	c.stateMu.Unlock()
}
