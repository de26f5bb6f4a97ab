package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

type recordingSink struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (s *recordingSink) Update(snap domain.Snapshot) bool {
	if snap.Validate() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return true
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func wsServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return strings.Replace(srv.URL, "http://", "ws://", 1)
}

func TestFeed_SubscribesAndPublishes(t *testing.T) {
	subscribed := make(chan subscribeMessage, 1)
	srv := wsServer(t, func(conn *websocket.Conn) {
		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribed"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"instrument":"WETH-USDC","bid":"1999.5","ask":"2000.5","timestamp":1714564800000,"source":"binance"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		time.Sleep(200 * time.Millisecond)
	})

	sink := &recordingSink{}
	feed := NewFeed(wsURL(srv), []string{"WETH-USDC"}, sink)
	feed.PingInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.Run(ctx)
	}()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub.Type)
		assert.Equal(t, []string{"WETH-USDC"}, sub.Instruments)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe received")
	}

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	snap := sink.snaps[0]
	assert.Equal(t, "WETH-USDC", snap.Instrument)
	assert.True(t, snap.Bid.Equal(decimal.RequireFromString("1999.5")))
	assert.Equal(t, "binance", snap.Source)
	assert.Equal(t, time.UnixMilli(1714564800000).UTC(), snap.Timestamp)

	accepted, dropped := feed.Stats()
	assert.EqualValues(t, 1, accepted)
	assert.EqualValues(t, 1, dropped)
}

func TestFeed_ReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		msg, _ := json.Marshal(map[string]any{
			"instrument": "WETH-USDC",
			"bid":        "2000",
			"ask":        "2001",
			"timestamp":  int64(1714564800000) + int64(n),
		})
		conn.WriteMessage(websocket.TextMessage, msg)
		// La primera conexión se corta enseguida.
		if n > 1 {
			time.Sleep(time.Second)
		}
	})

	sink := &recordingSink{}
	feed := NewFeed(wsURL(srv), []string{"WETH-USDC"}, sink)
	feed.PingInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.len() >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestFeed_StopsWhenDialKeepsFailing(t *testing.T) {
	feed := NewFeed("ws://127.0.0.1:1/ws", nil, &recordingSink{})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, feed.Run(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMessageSnapshot_DefaultsSource(t *testing.T) {
	snap := Message{Instrument: "X", Bid: decimal.NewFromInt(1), Ask: decimal.NewFromInt(2)}.Snapshot()
	assert.Equal(t, "ws", snap.Source)
	assert.True(t, snap.Timestamp.IsZero())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, baseBackoff, backoff(0))
	assert.Equal(t, 2*baseBackoff, backoff(1))
	assert.Equal(t, maxBackoff, backoff(20))
	assert.Equal(t, maxBackoff, backoff(200))
}
