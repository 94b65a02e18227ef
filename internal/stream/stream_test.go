package stream

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/logring"
)

func TestAttachmentReplayThenLive(t *testing.T) {
	buf := logring.New(10)
	buf.Append("one")
	buf.Append("two")

	att := Attach(buf, true)
	defer att.Detach()
	buf.Append("three")

	var got []string
	for len(got) < 3 {
		select {
		case l := <-att.Lines():
			got = append(got, l.Text)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	require.Equal(t, []string{"one", "two", "three"}, got)
	require.Zero(t, att.Dropped())
}

func TestAttachmentWithoutReplay(t *testing.T) {
	buf := logring.New(10)
	buf.Append("history")

	att := Attach(buf, false)
	defer att.Detach()
	buf.Append("live")

	select {
	case l := <-att.Lines():
		require.Equal(t, "live", l.Text)
	case <-time.After(time.Second):
		t.Fatal("no live line delivered")
	}
}

func TestAttachmentDropsOnOverflow(t *testing.T) {
	buf := logring.New(4)
	att := Attach(buf, false)
	defer att.Detach()

	// channel cap is buf.Cap()+slack; overfill it with no consumer
	total := buf.Cap() + slack + 25
	for i := 0; i < total; i++ {
		buf.Append(fmt.Sprintf("line-%d", i))
	}
	require.Equal(t, uint64(25), att.Dropped())

	// what did arrive is still in order
	first := <-att.Lines()
	require.Equal(t, "line-0", first.Text)
}

func TestDetachClosesChannelAndIsIdempotent(t *testing.T) {
	buf := logring.New(4)
	att := Attach(buf, false)
	att.Detach()
	att.Detach()

	_, ok := <-att.Lines()
	require.False(t, ok)
	require.Zero(t, buf.SubscriberCount())

	// appends after detach must not panic on a closed channel
	buf.Append("after")
}

func TestServeSSEReplaysAndStreams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := logring.New(10)
	buf.Append("hello")
	buf.Append("world")

	r := gin.New()
	r.GET("/stream", func(c *gin.Context) { ServeSSE(c, buf) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var events []string
	deadline := time.After(3 * time.Second)
	for len(events) < 2 {
		lineCh := make(chan string, 1)
		go func() {
			if sc.Scan() {
				lineCh <- sc.Text()
			}
		}()
		select {
		case line := <-lineCh:
			if strings.HasPrefix(line, "data:") {
				events = append(events, line)
			}
		case <-deadline:
			t.Fatalf("timed out, events: %v", events)
		}
	}
	require.Contains(t, events[0], "hello")
	require.Contains(t, events[1], "world")
}

func TestServeWSReplaysAndStreams(t *testing.T) {
	buf := logring.New(10)
	buf.Append("first")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, buf, nil)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	var p wsPayload
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&p))
	require.Equal(t, "first", p.Text)

	buf.Append("second")
	require.NoError(t, conn.ReadJSON(&p))
	require.Equal(t, "second", p.Text)
}
