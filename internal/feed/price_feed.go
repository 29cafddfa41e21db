package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PriceFeed 订阅多个交易对的逐笔成交流，维护最新标记价格。
// 执行进程用它驱动止盈止损监控。
type PriceFeed struct {
	wsBaseURL   string
	symbols     []string
	logger      *zap.SugaredLogger
	mu          sync.RWMutex
	prices      map[string]float64
	stopChannel chan struct{}
	wg          sync.WaitGroup
}

// NewPriceFeed 创建一个标记价格客户端。
func NewPriceFeed(wsBaseURL string, symbols []string, logger *zap.SugaredLogger) *PriceFeed {
	return &PriceFeed{
		wsBaseURL:   wsBaseURL,
		symbols:     symbols,
		logger:      logger,
		prices:      make(map[string]float64),
		stopChannel: make(chan struct{}),
	}
}

// Start 启动连接守护循环。
func (p *PriceFeed) Start() {
	p.wg.Add(1)
	go p.connectionLoop()
}

// Stop 停止客户端。
func (p *PriceFeed) Stop() {
	close(p.stopChannel)
	p.wg.Wait()
}

// Price 返回指定交易对的最新价格。尚未收到任何成交时返回 false。
func (p *PriceFeed) Price(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	return price, ok
}

func (p *PriceFeed) streamURL() string {
	streams := make([]string, 0, len(p.symbols))
	for _, s := range p.symbols {
		streams = append(streams, fmt.Sprintf("%s@aggTrade", strings.ToLower(s)))
	}
	return fmt.Sprintf("%s/stream?streams=%s", p.wsBaseURL, strings.Join(streams, "/"))
}

func (p *PriceFeed) connectionLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChannel:
			return
		default:
			conn, _, err := websocket.DefaultDialer.Dial(p.streamURL(), nil)
			if err != nil {
				p.logger.Warnf("价格WebSocket连接失败: %v。%v后重试...", err, reconnectDelay)
				p.sleep(reconnectDelay)
				continue
			}
			p.logger.Infow("价格WebSocket连接成功", "symbols", p.symbols)

			if err := p.readLoop(conn); err != nil {
				p.logger.Warnf("价格WebSocket处理时发生错误: %v", err)
			}
			conn.Close()
			p.sleep(reconnectDelay)
		}
	}
}

func (p *PriceFeed) readLoop(conn *websocket.Conn) error {
	stopPing := startKeepalive(conn, p.stopChannel)
	defer stopPing()

	for {
		select {
		case <-p.stopChannel:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("读取消息失败: %v", err)
			}

			var event struct {
				Data struct {
					Symbol string      `json:"s"`
					Price  json.Number `json:"p"`
				} `json:"data"`
			}
			if err := json.Unmarshal(message, &event); err != nil {
				continue
			}
			price, err := event.Data.Price.Float64()
			if err != nil || event.Data.Symbol == "" {
				continue
			}

			p.mu.Lock()
			p.prices[event.Data.Symbol] = price
			p.mu.Unlock()
		}
	}
}

func (p *PriceFeed) sleep(d time.Duration) {
	select {
	case <-p.stopChannel:
	case <-time.After(d):
	}
}
