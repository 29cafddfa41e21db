package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// priceServer 模拟组合流服务端：推一条成交后保持连接，
// 统计收到的Ping和升级次数。服务端只在收到Ping后回Pong。
func priceServer(t *testing.T, conns, pings *int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(conns, 1)
		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(pings, 1)
			return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
		})
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"data":{"s":"BTCUSDT","p":"50000.5"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestPriceFeedKeepsConnectionAliveAcrossReadDeadline(t *testing.T) {
	oldWait, oldPeriod := pongWait, pingPeriod
	pongWait, pingPeriod = 200*time.Millisecond, 50*time.Millisecond
	defer func() { pongWait, pingPeriod = oldWait, oldPeriod }()

	var conns, pings int32
	srv := priceServer(t, &conns, &pings)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	pf := NewPriceFeed(wsURL, []string{"BTCUSDT"}, zap.NewNop().Sugar())
	pf.Start()
	defer pf.Stop()

	require.Eventually(t, func() bool {
		_, ok := pf.Price("BTCUSDT")
		return ok
	}, time.Second, 10*time.Millisecond)

	// 连续跨过三个读超时窗口，连接必须靠心跳续命而不是重连
	time.Sleep(700 * time.Millisecond)

	price, ok := pf.Price("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 50000.5, price, 1e-9)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&pings), int32(3))
	assert.Equal(t, int32(1), atomic.LoadInt32(&conns))
}
