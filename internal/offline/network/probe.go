package network

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Prober checks the remote service, a nil error means reachable
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

// Ping implement Prober
func (f ProberFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Poll probes right away and then every interval, feeding the result into the
// monitor until ctx is done
func (m *Monitor) Poll(ctx context.Context, prober Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := prober.Ping(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Debug("Probe failed", zap.Error(err))
		}
		m.SetOnline(err == nil)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PresenceTiming read deadline kept by WatchPresence, it must exceed the server's
// ping interval
var PresenceTiming = struct {
	PongWait  time.Duration
	WriteWait time.Duration
}{
	PongWait:  30 * time.Second,
	WriteWait: 10 * time.Second,
}

// WatchPresence holds a websocket connection to the presence endpoint at url. The
// monitor is online while the connection is open, a failed dial or read switches
// it offline and a new dial is attempted after retry. It returns once ctx is done
func (m *Monitor) WatchPresence(ctx context.Context, url string, retry time.Duration, header http.Header) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 3 * time.Second,
	}

	for {
		conn, _, err := dialer.DialContext(ctx, url, header)
		if err == nil {
			m.SetOnline(true)
			err = m.hold(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.Debug("Presence connection lost", zap.String("url", url), zap.Error(err))
		m.SetOnline(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func (m *Monitor) hold(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(PresenceTiming.WriteWait))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(PresenceTiming.PongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(PresenceTiming.PongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(PresenceTiming.WriteWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}
