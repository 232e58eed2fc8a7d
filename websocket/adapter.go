package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"statusfeed-server/domain"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrPingPending    = errors.New("ping pending")
)

// Registry is the hub surface a connection reports to.
type Registry interface {
	Accept(t domain.Transport, remoteAddr string) (string, error)
	Remove(id string, code int, reason string)
	Touch(id string)
}

type closeFrame struct {
	code   int
	reason string
}

// Conn adapts a gorilla connection to domain.Transport. Messages, pings
// and the close frame all go through a single writer goroutine, so no
// caller ever waits on the socket.
type Conn struct {
	ws      *websocket.Conn
	send    chan []byte
	ping    chan struct{}
	done    chan struct{}
	closing chan closeFrame

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		ping:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		closing: make(chan closeFrame, 1),
	}
}

func (c *Conn) Send(data []byte) error {
	if !c.IsOpen() {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ping queues a ping for the writer. A ping still waiting from the last
// call is reported as ErrPingPending.
func (c *Conn) Ping() error {
	if !c.IsOpen() {
		return websocket.ErrCloseSent
	}
	select {
	case c.ping <- struct{}{}:
		return nil
	default:
		return ErrPingPending
	}
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close releases the socket once. An abnormal code drops the socket
// without a close frame; any other code lets the writer flush what is
// queued and then send a close frame.
func (c *Conn) Close(code int, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if code == domain.CloseAbnormal {
			close(c.done)
			c.ws.Close()
			return
		}
		c.closing <- closeFrame{code: code, reason: reason}
	})
	return nil
}

// Serve registers the connection with the registry and runs its pumps.
// It returns once the connection is accepted or rejected; a rejected
// connection has already been closed by the registry.
func (c *Conn) Serve(reg Registry, handler domain.MessageHandler, remoteAddr string) (string, error) {
	go c.writePump()

	id, err := reg.Accept(c, remoteAddr)
	if err != nil {
		return "", err
	}
	go c.readPump(id, reg, handler)
	return id, nil
}

func (c *Conn) readPump(id string, reg Registry, handler domain.MessageHandler) {
	code, reason := domain.CloseNormal, "Client disconnected"
	defer func() {
		reg.Remove(id, code, reason)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		reg.Touch(id)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			} else {
				code, reason = domain.CloseAbnormal, "Connection lost"
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) && c.IsOpen() {
				slog.Error("read error", "clientId", id, "error", err)
			}
			return
		}

		handler.Handle(id, data)
	}
}

func (c *Conn) writePump() {
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.closing:
			c.flush()
			msg := websocket.FormatCloseMessage(frame.code, frame.reason)
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("write error", "error", err)
				c.abort()
				return
			}
		case <-c.ping:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("ping error", "error", err)
				c.abort()
				return
			}
		}
	}
}

// flush writes whatever is already queued. Called from writePump only.
func (c *Conn) flush() {
	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// abort marks the connection closed after a write failure; the read side
// then fails and reports the disconnect.
func (c *Conn) abort() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
}
