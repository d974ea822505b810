package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/launchpad"
)

func testHub(origins ...string) *Hub {
	return NewHub(zap.NewNop().Sugar(), origins)
}

func poolEvent(id string) launchpad.Event {
	return launchpad.Event{
		Op: "create_pool",
		Pool: &domain.LiquidityPool{
			ID:           id,
			BaseAsset:    "0xba5e",
			QuoteAsset:   "0x9707ee",
			BaseReserve:  decimal.NewFromInt(1000),
			QuoteReserve: decimal.NewFromInt(5000),
		},
		At: time.Now(),
	}
}

func assetEvent(addr string) launchpad.Event {
	return launchpad.Event{
		Op:    "issue",
		Asset: &domain.Asset{Address: addr, Symbol: "TEST", Supply: decimal.NewFromInt(1000)},
		At:    time.Now(),
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketStream(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?topics=pool:*"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ack := readMessage(t, conn)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, []string{"pool:*"}, ack.Topics)
	assert.Equal(t, 1, hub.Clients())

	ctx := context.Background()
	hub.Publish(ctx, assetEvent("0xa55e7"))
	hub.Publish(ctx, poolEvent("0x9001"))

	msg := readMessage(t, conn)
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, "pool:0x9001", msg.Topic)
	assert.Equal(t, "create_pool", msg.Op)

	var ev launchpad.Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	require.NotNil(t, ev.Pool)
	assert.True(t, ev.Pool.BaseReserve.Equal(decimal.NewFromInt(1000)))

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "subscribe", Topics: []string{"asset:0xa55e7"}}))
	ack = readMessage(t, conn)
	assert.Equal(t, "subscribed", ack.Type)
	assert.ElementsMatch(t, []string{"pool:*", "asset:0xa55e7"}, ack.Topics)

	hub.Publish(ctx, assetEvent("0xa55e7"))
	msg = readMessage(t, conn)
	assert.Equal(t, "asset:0xa55e7", msg.Topic)
	assert.Equal(t, "issue", msg.Op)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketOriginRejected(t *testing.T) {
	hub := testHub("http://localhost:3000")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.Clients())
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"http://localhost:3000"}, "", true},
		{"listed", []string{"http://localhost:3000"}, "http://localhost:3000", true},
		{"unlisted", []string{"http://localhost:3000"}, "http://localhost:5173", false},
		{"wildcard", []string{"*"}, "https://app.example", true},
		{"none allowed", nil, "http://localhost:3000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, testHub(tt.allowed...).checkOrigin(r))
		})
	}
}

func TestTopicMatching(t *testing.T) {
	tests := []struct {
		topics []string
		topic  string
		want   bool
	}{
		{[]string{"*"}, "pool:0x1", true},
		{[]string{"pool:0x1"}, "pool:0x1", true},
		{[]string{"pool:0x1"}, "pool:0x2", false},
		{[]string{"pool:*"}, "pool:0x2", true},
		{[]string{"pool:*"}, "asset:0x2", false},
		{[]string{"asset:*"}, "asset:0x2", true},
		{[]string{"asset:*"}, "", false},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.topics, ",")+"/"+tt.topic, func(t *testing.T) {
			c := &Client{topics: make(map[string]bool)}
			c.subscribe(tt.topics)
			assert.Equal(t, tt.want, c.isSubscribed(tt.topic))
		})
	}

	c := &Client{topics: make(map[string]bool)}
	c.subscribe([]string{"pool:*", "asset:*"})
	c.unsubscribe([]string{"pool:*"})
	assert.False(t, c.isSubscribed("pool:0x1"))
	assert.True(t, c.isSubscribed("asset:0x1"))
}

func TestParseTopics(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	assert.Equal(t, []string{"*"}, parseTopics(r))

	r = httptest.NewRequest(http.MethodGet, "/v1/stream?topics=pool:0x1,%20asset:*,,", nil)
	assert.Equal(t, []string{"pool:0x1", "asset:*"}, parseTopics(r))
}

func TestSSEStream(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?topics=pool:0x9001", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	nextEvent := func() (string, Message) {
		t.Helper()
		var event string
		for lines.Scan() {
			line := lines.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				var msg Message
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
				return event, msg
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return "", Message{}
	}

	event, msg := nextEvent()
	assert.Equal(t, "subscribed", event)
	assert.Equal(t, []string{"pool:0x9001"}, msg.Topics)
	assert.Equal(t, 1, hub.Clients())

	hub.Publish(context.Background(), poolEvent("0x9002"))
	hub.Publish(context.Background(), poolEvent("0x9001"))

	event, msg = nextEvent()
	assert.Equal(t, "update", event)
	assert.Equal(t, "pool:0x9001", msg.Topic)

	cancel()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSlowClientDropped(t *testing.T) {
	hub := testHub()
	ctx := context.Background()
	slow := hub.add(ctx, "sse", nil, []string{"*"})
	fast := hub.add(ctx, "sse", nil, []string{"asset:*"})

	for i := 0; i <= sendBuffer; i++ {
		hub.Publish(ctx, poolEvent("0x9001"))
	}
	assert.Equal(t, 1, hub.Clients())

	n := 0
	for range slow.send {
		n++
	}
	assert.Equal(t, sendBuffer, n)

	// dropping twice is harmless
	hub.remove(ctx, slow)
	hub.remove(ctx, fast)
	assert.Equal(t, 0, hub.Clients())
}

type countingRecorder struct{ connected, disconnected int }

func (c *countingRecorder) ClientConnected(context.Context, string)    { c.connected++ }
func (c *countingRecorder) ClientDisconnected(context.Context, string) { c.disconnected++ }

func TestRunClosesClientsOnShutdown(t *testing.T) {
	rec := &countingRecorder{}
	hub := NewHub(zap.NewNop().Sugar(), nil, WithMetrics(rec))
	ctx, cancel := context.WithCancel(context.Background())

	c := hub.add(ctx, "sse", nil, nil)
	hub.add(ctx, "sse", nil, nil)
	require.Equal(t, 2, hub.Clients())

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, hub.Clients())
	_, open := <-c.send
	assert.False(t, open)
	assert.Equal(t, 2, rec.connected)
	assert.Equal(t, 2, rec.disconnected)
}

func TestCleanupInactiveClients(t *testing.T) {
	hub := testHub()
	ctx := context.Background()

	sse := hub.add(ctx, "sse", nil, nil)
	ws := hub.add(ctx, "websocket", nil, nil)
	ws.conn = &websocket.Conn{}
	ws.lastActive.Store(time.Now().Add(-2 * pongWait).UnixNano())

	hub.cleanupInactiveClients(ctx, time.Now().Add(-pongWait))
	assert.Equal(t, 1, hub.Clients())
	hub.remove(ctx, sse)
}

func TestRelay(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping relay tests")
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	hub := testHub()
	channel := "lp:events:test:" + time.Now().Format("150405.000000")
	relay := NewRelay(client, channel, hub, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	c := hub.add(ctx, "sse", nil, []string{"pool:*"})
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] > 0
	}, 5*time.Second, 20*time.Millisecond)

	relay.Publish(ctx, poolEvent("0x9001"))

	select {
	case raw := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "pool:0x9001", msg.Topic)
	case <-time.After(5 * time.Second):
		t.Fatal("relayed event not delivered")
	}

	cancel()
	require.NoError(t, <-done)
}
