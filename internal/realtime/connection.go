package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 128

	maxFrameSize = 8 << 10
)

var (
	ErrConnectionClosed = errors.New("realtime: connection closed")
	ErrSlowConsumer     = errors.New("realtime: send buffer exceeded")
)

// Connection envuelve un websocket y serializa las escrituras por un canal con buffer.
// Un usuario puede tener varias conexiones vivas (pestañas, dispositivos).
type Connection struct {
	ID     string
	UserID string

	ws        *websocket.Conn
	send      chan []byte
	once      sync.Once
	close     chan struct{}
	closeCode int
}

func NewConnection(userID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		close:  make(chan struct{}),
	}
}

// Start lanza el loop de escritura. Debe llamarse una sola vez.
func (c *Connection) Start() {
	if c.ws == nil {
		return
	}
	go c.writeLoop()
}

// Send encola el payload. Un cliente lento que llena el buffer se desconecta.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.close:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrSlowConsumer
	}
}

// SendEvent codifica y encola un frame {event, data}.
func (c *Connection) SendEvent(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := encodeFrame(event, raw)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// Listen lee frames del cliente hasta que la conexión se corta. onPong se
// invoca con cada pong recibido (sirve para renovar la presencia).
func (c *Connection) Listen(onFrame func([]byte), onPong func()) error {
	if c.ws == nil {
		return ErrConnectionClosed
	}
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return nil
		}
		if messageType != websocket.TextMessage {
			continue
		}
		onFrame(payload)
	}
}

// abort cierra tras un error de escritura. 1006 no puede enviarse por el cable.
func (c *Connection) abort(reason string) {
	c.Close(websocket.CloseInternalServerErr, reason)
}

// CloseCode devuelve el código con el que el servidor cerró, 0 si sigue abierta.
func (c *Connection) CloseCode() int {
	select {
	case <-c.close:
		return c.closeCode
	default:
		return 0
	}
}

// Close termina la conexión y detiene el loop de escritura.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode = code
		close(c.close)
		if c.ws == nil {
			return
		}
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Done se cierra cuando la conexión termina.
func (c *Connection) Done() <-chan struct{} {
	return c.close
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.abort("write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.abort("ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
