package exchange

import (
	"math"
	"strconv"
	"strings"
	"time"

	"binance-signal-bot-go/internal/models"
)

// Fill 描述一笔市价单的成交结果
type Fill struct {
	OrderID  int64
	Symbol   string
	Side     models.Side
	Price    float64
	Quantity float64
	Time     time.Time
}

// Exchange 定义了交易边界必须提供的通用方法。核心组件只输出未取整的
// 经济数量，交易所特定的步长/精度取整由这一层负责。
// 这使得执行逻辑可以在实盘和模拟盘之间轻松切换。
type Exchange interface {
	GetServerTime() (int64, error)
	GetPrice(symbol string) (float64, error)
	GetAccountEquity() (float64, error)
	// PlaceMarketOrder 开仓；数量在本层按步长取整
	PlaceMarketOrder(symbol string, side models.Side, quantity float64) (*Fill, error)
	// ClosePosition 以市价平掉指定数量的仓位，返回成交价
	ClosePosition(symbol string, side models.Side, quantity float64) (*Fill, error)
}

// AdjustToStep 按步长字符串向下取整，通过字符串推导小数位数以避免
// 浮点误差。步长为空时原样返回。
func AdjustToStep(value float64, step string) float64 {
	if step == "" {
		return value
	}
	if !strings.Contains(step, ".") {
		return math.Floor(value)
	}
	decimalPlaces := len(step) - strings.Index(step, ".") - 1
	factor := math.Pow(10, float64(decimalPlaces))
	adjusted := math.Floor(value*factor) / factor

	final, _ := strconv.ParseFloat(strconv.FormatFloat(adjusted, 'f', decimalPlaces, 64), 64)
	return final
}
