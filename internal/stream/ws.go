package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentdeck/agentdeck/internal/logring"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the API is same-origin or operator-controlled; browsers enforce
	// nothing useful here beyond what the allow-list already does
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the request to a WebSocket and streams buf as JSON text
// messages, history first. The connection closes when the client goes away or
// the buffer's worker is removed and the attachment drains.
func ServeWS(w http.ResponseWriter, r *http.Request, buf *logring.Buffer, log *slog.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	defer func() { _ = conn.Close() }()

	att := Attach(buf, true)
	defer att.Detach()

	// reader goroutine: we never expect client messages, but reading is the
	// only way to notice close frames and connection drops
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case line, ok := <-att.Lines():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsLine(line)); err != nil {
				if log != nil {
					log.Debug("websocket write failed", "error", err)
				}
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

type wsPayload struct {
	At   string `json:"at"`
	Text string `json:"text"`
}

func wsLine(l logring.Line) wsPayload {
	return wsPayload{At: l.At.UTC().Format(time.RFC3339Nano), Text: l.Text}
}
