package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn serializes writes; gorilla allows one concurrent writer
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	c := &wsConn{conn: conn}

	ctx, cancel := context.WithCancel(context.Background())
	id, eventCh := s.hub.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range eventCh {
			if err := c.writeText(ev.JSONData); err != nil {
				log.Debug("WebSocket event write failed: %v", err)
				cancel()
				return
			}
		}
	}()

	defer func() {
		cancel()
		s.hub.Unsubscribe(id)
		wg.Wait()
		conn.Close()
	}()

	log.Debug("WebSocket client connected from %s", r.RemoteAddr)
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("WebSocket read error: %v", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		// start can wait on a permission prompt; keep reading meanwhile
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			resp := s.dispatcher.Handle(ctx, req)
			if err := c.writeJSON(resp); err != nil {
				log.Debug("WebSocket response write failed: %v", err)
			}
		}(req)
	}
}
