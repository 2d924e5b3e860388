package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// ServeWebSocket pumps frames from c to ws as text messages. The socket is
// write-only from the server's perspective: inbound messages are discarded
// and only used to detect the peer going away. c is always closed on return.
func ServeWebSocket(ctx context.Context, ws *websocket.Conn, c *Conn, heartbeat time.Duration) error {
	defer c.Close()

	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return closeWebSocket(ws)
		case <-c.Done():
			return closeWebSocket(ws)
		case <-peerGone:
			return nil
		case frame := <-c.Outbox():
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
		}
	}
}

func closeWebSocket(ws *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
