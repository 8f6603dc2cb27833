package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oraculo/internal/domain"
)

type chanSource struct {
	ch       chan domain.BusMessage
	patterns []string
}

func (s *chanSource) Subscribe(_ context.Context, patterns ...string) (<-chan domain.BusMessage, error) {
	s.patterns = patterns
	return s.ch, nil
}

func startHub(t *testing.T, source Source) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(source, nil)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(request{Action: "subscribe", Channels: channels}))
	var r reply
	readJSON(t, conn, &r)
	require.Equal(t, "subscribed", r.Type)
	require.Equal(t, channels, r.Channels)
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_RoutesBySubscription(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	waitClients(t, hub, 1)
	subscribe(t, conn, "market:A")

	hub.Broadcast("market:B", []byte(`{"id":"b"}`))
	hub.Broadcast("market:A", []byte(`{"id":"a"}`))

	var got map[string]string
	readJSON(t, conn, &got)
	assert.Equal(t, "a", got["id"])
}

func TestHub_Wildcard(t *testing.T) {
	hub, url := startHub(t, nil)
	all := dial(t, url)
	markets := dial(t, url)
	waitClients(t, hub, 2)
	subscribe(t, all, "*")
	subscribe(t, markets, "market:*")

	hub.Broadcast(domain.ProtocolChannel, []byte(`{"id":"p"}`))
	hub.Broadcast("market:X", []byte(`{"id":"x"}`))

	var got map[string]string
	readJSON(t, all, &got)
	assert.Equal(t, "p", got["id"])
	readJSON(t, all, &got)
	assert.Equal(t, "x", got["id"])

	readJSON(t, markets, &got)
	assert.Equal(t, "x", got["id"])
}

func TestHub_BadRequests(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var r reply
	readJSON(t, conn, &r)
	assert.Equal(t, "error", r.Type)

	require.NoError(t, conn.WriteJSON(request{Action: "listen"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "error", r.Type)
	assert.Contains(t, r.Error, "listen")
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	waitClients(t, hub, 1)
	subscribe(t, conn, "market:A", "market:B")

	require.NoError(t, conn.WriteJSON(request{Action: "unsubscribe", Channels: []string{"market:A"}}))
	var r reply
	readJSON(t, conn, &r)
	require.Equal(t, "unsubscribed", r.Type)

	hub.Broadcast("market:A", []byte(`{"id":"a"}`))
	hub.Broadcast("market:B", []byte(`{"id":"b"}`))

	var got map[string]string
	readJSON(t, conn, &got)
	assert.Equal(t, "b", got["id"])
}

func TestHub_ForwardsFromSource(t *testing.T) {
	src := &chanSource{ch: make(chan domain.BusMessage, 1)}
	hub, url := startHub(t, src)
	conn := dial(t, url)
	waitClients(t, hub, 1)
	subscribe(t, conn, "market:*")
	assert.Equal(t, BusPatterns, src.patterns)

	src.ch <- domain.BusMessage{Channel: "market:Z", Payload: []byte(`{"id":"z"}`)}

	var got map[string]string
	readJSON(t, conn, &got)
	assert.Equal(t, "z", got["id"])
}

func TestHub_Disconnect(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
}

func TestClient_ReplyAfterClose(t *testing.T) {
	c := &client{send: make(chan []byte, 1), subs: map[string]bool{}}
	c.close()
	c.close()

	assert.NotPanics(t, func() {
		c.reply(reply{Type: "subscribed"})
		c.handle(request{Action: "subscribe", Channels: []string{"markets"}})
	})
	assert.False(t, c.enqueue([]byte("x")))
}

func TestClient_ConcurrentReplyAndClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := &client{send: make(chan []byte, 4), subs: map[string]bool{}}
		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 20; k++ {
					c.reply(reply{Type: "error", Error: "invalid json"})
				}
			}()
		}
		c.close()
		wg.Wait()
	}
}

func TestHub_ShutdownWhileClientSends(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, nil)
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitClients(t, hub, 1)

	stop := make(chan struct{})
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if conn.WriteJSON(request{Action: "subscribe", Channels: []string{"markets"}}) != nil {
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}
	time.Sleep(20 * time.Millisecond)
	close(stop)
	<-sent
	assert.Equal(t, 0, hub.ClientCount())
}
