package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"binance-signal-bot-go/internal/models"

	"go.uber.org/zap"
)

// LiveExchange 实现了 Exchange 接口，用于与真实的币安合约接口交互。
type LiveExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
	stepSize   string
	timeOffset int64
}

// NewLiveExchange 创建一个新的 LiveExchange 实例，并与服务器同步时间。
func NewLiveExchange(apiKey, secretKey, baseURL, stepSize string, logger *zap.SugaredLogger) (*LiveExchange, error) {
	e := &LiveExchange{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		stepSize:   stepSize,
	}

	if err := e.syncTime(); err != nil {
		return nil, fmt.Errorf("与交易所服务器同步时间失败: %v", err)
	}

	return e, nil
}

// syncTime 与服务器同步时间，计算本地时钟偏移。
func (e *LiveExchange) syncTime() error {
	serverTime, err := e.GetServerTime()
	if err != nil {
		return err
	}
	localTime := time.Now().UnixMilli()
	e.timeOffset = serverTime - localTime
	e.logger.Infow("与交易所服务器时间同步完成", "timeOffsetMs", e.timeOffset)
	return nil
}

// doRequest 是一个通用的请求处理函数，负责签名和错误解析。
func (e *LiveExchange) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", e.baseURL, endpoint)
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		timestamp := time.Now().UnixMilli() + e.timeOffset
		queryParams.Set("timestamp", strconv.FormatInt(timestamp, 10))

		payloadToSign := queryParams.Encode()
		signature := e.sign(payloadToSign)
		encodedParams = fmt.Sprintf("%s&signature=%s", payloadToSign, signature)
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		req, err = http.NewRequest(method, finalURL, nil)
	} else {
		req, err = http.NewRequest(method, fmt.Sprintf("%s?%s", fullURL, encodedParams), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}

	req.Header.Set("X-MBX-APIKEY", e.apiKey)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %v", err)
	}

	var apiError models.Error
	if json.Unmarshal(body, &apiError) == nil && apiError.Code != 0 {
		return body, &apiError
	}

	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// sign 对请求参数进行 HMAC-SHA256 签名。
func (e *LiveExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// --- Exchange 接口实现 ---

// GetServerTime 获取交易所服务器时间（毫秒）。
func (e *LiveExchange) GetServerTime() (int64, error) {
	data, err := e.doRequest(http.MethodGet, "/fapi/v1/time", nil, false)
	if err != nil {
		return 0, err
	}
	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, err
	}
	return result.ServerTime, nil
}

// GetPrice 获取指定交易对的当前价格。
func (e *LiveExchange) GetPrice(symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return 0, err
	}

	return strconv.ParseFloat(ticker.Price, 64)
}

// GetAccountEquity 获取账户总权益（钱包余额加未实现盈亏）。
func (e *LiveExchange) GetAccountEquity() (float64, error) {
	data, err := e.doRequest(http.MethodGet, "/fapi/v2/account", nil, true)
	if err != nil {
		return 0, err
	}

	var account struct {
		TotalWalletBalance    string `json:"totalWalletBalance"`
		TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return 0, err
	}

	balance, err := strconv.ParseFloat(account.TotalWalletBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("解析钱包余额失败: %v", err)
	}
	unrealized, _ := strconv.ParseFloat(account.TotalUnrealizedProfit, 64)
	return balance + unrealized, nil
}

// PlaceMarketOrder 以市价开仓。数量在这里按交易所步长取整。
func (e *LiveExchange) PlaceMarketOrder(symbol string, side models.Side, quantity float64) (*Fill, error) {
	return e.marketOrder(symbol, side, quantity, false)
}

// ClosePosition 以市价平仓（reduceOnly），返回实际成交价。
func (e *LiveExchange) ClosePosition(symbol string, side models.Side, quantity float64) (*Fill, error) {
	return e.marketOrder(symbol, side, quantity, true)
}

func (e *LiveExchange) marketOrder(symbol string, side models.Side, quantity float64, reduceOnly bool) (*Fill, error) {
	adjusted := AdjustToStep(quantity, e.stepSize)
	if adjusted <= 0 {
		return nil, fmt.Errorf("数量 %.10f 按步长 %s 取整后为零", quantity, e.stepSize)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(adjusted, 'f', -1, 64))
	params.Set("newOrderRespType", "RESULT") // 要求返回成交均价
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	data, err := e.doRequest(http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		e.logger.Errorw("市价单请求失败", "error", err, "rawResponse", string(data))
		return nil, err
	}

	var order struct {
		OrderID     int64  `json:"orderId"`
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}

	avgPrice, err := strconv.ParseFloat(order.AvgPrice, 64)
	if err != nil || avgPrice <= 0 {
		return nil, fmt.Errorf("交易所未返回有效的成交均价: %q", order.AvgPrice)
	}
	executed, _ := strconv.ParseFloat(order.ExecutedQty, 64)

	return &Fill{
		OrderID:  order.OrderID,
		Symbol:   symbol,
		Side:     side,
		Price:    avgPrice,
		Quantity: executed,
		Time:     time.UnixMilli(order.UpdateTime),
	}, nil
}
