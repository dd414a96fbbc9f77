package handler

import (
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/ws"
	"github.com/gorilla/websocket"
)

// HandlePresence keeps the connection open for clients watching connectivity, the
// heartbeat does the rest
func HandlePresence(conn *websocket.Conn) error {
	return ws.Drain(conn)
}
