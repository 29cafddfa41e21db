// Package feed 提供行情 WebSocket 客户端。
// 客户端不做任何数值校验，原始数据原样透传给防火墙。
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"binance-signal-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const reconnectDelay = 5 * time.Second

// 心跳参数。服务端只在收到Ping后回Pong，收不到Pong的连接
// 会在读超时后被断开重连。测试里会把这两个值调小。
var (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait / 10 * 9
)

// startKeepalive 为一个已建立的连接启动心跳：周期性发送Ping，
// 并在收到Pong时顺延读超时。返回的函数停止心跳协程，
// 必须在连接关闭前调用。
func startKeepalive(conn *websocket.Conn, stop <-chan struct{}) func() {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-stop:
				return
			}
		}
	}()
	return func() { close(done) }
}

// TickHandler 消费一条未校验的原始行情。
type TickHandler func(tick models.RawTick)

// KlineFeed 订阅多个交易对的 1 分钟 K 线组合流。
type KlineFeed struct {
	wsBaseURL   string
	symbols     []string
	handler     TickHandler
	logger      *zap.SugaredLogger
	conn        *websocket.Conn
	stopChannel chan struct{}
	wg          sync.WaitGroup
}

// NewKlineFeed 创建一个 K 线行情客户端。
func NewKlineFeed(wsBaseURL string, symbols []string, handler TickHandler, logger *zap.SugaredLogger) *KlineFeed {
	return &KlineFeed{
		wsBaseURL:   wsBaseURL,
		symbols:     symbols,
		handler:     handler,
		logger:      logger,
		stopChannel: make(chan struct{}),
	}
}

// Start 启动连接守护循环。
func (f *KlineFeed) Start() {
	f.wg.Add(1)
	go f.connectionLoop()
}

// Stop 停止客户端并等待循环退出。
func (f *KlineFeed) Stop() {
	close(f.stopChannel)
	f.wg.Wait()
}

// streamURL 拼出组合流地址，如 /stream?streams=btcusdt@kline_1m/ethusdt@kline_1m
func (f *KlineFeed) streamURL() string {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_1m", strings.ToLower(s)))
	}
	return fmt.Sprintf("%s/stream?streams=%s", f.wsBaseURL, strings.Join(streams, "/"))
}

// connectionLoop 是一个守护循环，负责维持WebSocket的连接和重连。
func (f *KlineFeed) connectionLoop() {
	defer f.wg.Done()
	for {
		select {
		case <-f.stopChannel:
			f.logger.Info("行情连接循环已停止")
			return
		default:
			conn, _, err := websocket.DefaultDialer.Dial(f.streamURL(), nil)
			if err != nil {
				f.logger.Warnf("行情WebSocket连接失败: %v。%v后重试...", err, reconnectDelay)
				f.sleep(reconnectDelay)
				continue
			}
			f.conn = conn
			f.logger.Infow("行情WebSocket连接成功", "symbols", f.symbols)

			if err := f.readLoop(); err != nil {
				f.logger.Warnf("行情WebSocket处理时发生错误: %v", err)
			}
			f.conn.Close()
			f.logger.Info("行情WebSocket连接已断开，准备重连...")
			f.sleep(reconnectDelay)
		}
	}
}

// readLoop 为一个已建立的连接处理消息，并实现心跳机制。
func (f *KlineFeed) readLoop() error {
	stopPing := startKeepalive(f.conn, f.stopChannel)
	defer stopPing()

	for {
		select {
		case <-f.stopChannel:
			f.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := f.conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("读取消息失败: %v", err)
			}

			tick, ok := parseKlineEvent(message)
			if !ok {
				continue
			}
			f.handler(tick)
		}
	}
}

func (f *KlineFeed) sleep(d time.Duration) {
	select {
	case <-f.stopChannel:
	case <-time.After(d):
	}
}

// parseKlineEvent 从组合流消息中提取一条原始行情。
// 数值字段保持字符串不解析，解析与拒绝是防火墙的职责。
func parseKlineEvent(message []byte) (models.RawTick, bool) {
	var event struct {
		Data struct {
			Symbol string `json:"s"`
			Kline  struct {
				OpenTime int64  `json:"t"`
				Open     string `json:"o"`
				High     string `json:"h"`
				Low      string `json:"l"`
				Close    string `json:"c"`
				Volume   string `json:"v"`
			} `json:"k"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		return models.RawTick{}, false
	}
	if event.Data.Symbol == "" {
		return models.RawTick{}, false
	}
	return models.RawTick{
		Symbol:      event.Data.Symbol,
		TimestampMs: event.Data.Kline.OpenTime,
		Open:        event.Data.Kline.Open,
		High:        event.Data.Kline.High,
		Low:         event.Data.Kline.Low,
		Close:       event.Data.Kline.Close,
		Volume:      event.Data.Kline.Volume,
	}, true
}
