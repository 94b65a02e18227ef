package stream

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/logring"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// ServeSSE streams buf over Server-Sent Events until the client disconnects.
// Buffered history is replayed first, then live lines follow with no gap.
func ServeSSE(c *gin.Context, buf *logring.Buffer) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	att := Attach(buf, true)
	defer att.Detach()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case line, ok := <-att.Lines():
			if !ok {
				return false
			}
			c.SSEvent("log", sseLine(line))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

type ssePayload struct {
	At   string `json:"at"`
	Text string `json:"text"`
}

func sseLine(l logring.Line) ssePayload {
	return ssePayload{At: l.At.UTC().Format(time.RFC3339Nano), Text: l.Text}
}
