package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 3 * time.Second,
}

// Timing heartbeat intervals, PingInterval must be shorter than PongWait
type Timing struct {
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
}

// DefaultTiming used by WithHeartbeat
var DefaultTiming = Timing{
	WriteWait:    10 * time.Second,
	PongWait:     30 * time.Second,
	PingInterval: 27 * time.Second,
}

// Handler processes one iteration on an open connection, returning an error closes it
type Handler func(*websocket.Conn) error

// WithHeartbeat wrap handler function with heartbeat probe
func WithHeartbeat(handler Handler) echo.HandlerFunc {
	return WithHeartbeatTiming(handler, DefaultTiming)
}

// WithHeartbeatTiming same as WithHeartbeat with custom intervals
func WithHeartbeatTiming(handler Handler, timing Timing) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// Upgrade already replied to the client
			return nil
		}

		done := make(chan struct{})
		go heartbeatRoutine(conn, timing, done)
		go processRoutine(conn, handler, done)
		return nil
	}
}

func heartbeatRoutine(conn *websocket.Conn, timing Timing, done <-chan struct{}) {
	ticker := time.NewTicker(timing.PingInterval)
	conn.SetReadDeadline(time.Now().Add(timing.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timing.PongWait))
	})
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timing.WriteWait)); err != nil {
				return
			}
		}
	}
}

func processRoutine(conn *websocket.Conn, handler Handler, done chan<- struct{}) {
	defer func() {
		close(done)
		conn.Close()
	}()
	for {
		if err := handler(conn); err != nil {
			break
		}
	}
}

// Drain reads and discards client frames, it keeps pong and close handling alive and
// returns once the peer goes away
func Drain(conn *websocket.Conn) error {
	_, _, err := conn.NextReader()
	return err
}
