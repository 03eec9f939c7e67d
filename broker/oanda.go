package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"riptide/market"
)

// OandaBroker OANDA 外汇适配器（REST v20）
type OandaBroker struct {
	apiToken  string
	accountID string
	baseURL   string
	client    *http.Client
}

// NewOandaBroker 创建 OANDA 适配器 practice=true 使用模拟账户
func NewOandaBroker(apiToken, accountID string, practice bool) *OandaBroker {
	baseURL := "https://api-fxtrade.oanda.com"
	if practice {
		baseURL = "https://api-fxpractice.oanda.com"
	}
	return &OandaBroker{
		apiToken:  apiToken,
		accountID: accountID,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (o *OandaBroker) ID() string {
	return "oanda"
}

// request 发送带认证的HTTP请求
func (o *OandaBroker) request(method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, o.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OANDA请求失败 %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("OANDA返回错误 %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func (o *OandaBroker) CheckConnectivity() error {
	_, err := o.request("GET", "/v3/accounts/"+o.accountID+"/summary", nil)
	return err
}

// oandaCandle OANDA K线返回结构
type oandaCandle struct {
	Time     string `json:"time"`
	Volume   float64 `json:"volume"`
	Complete bool   `json:"complete"`
	Mid      struct {
		O string `json:"o"`
		H string `json:"h"`
		L string `json:"l"`
		C string `json:"c"`
	} `json:"mid"`
}

// timeframe -> OANDA granularity
var oandaGranularity = map[string]string{
	"1m": "M1", "5m": "M5", "15m": "M15", "30m": "M30",
	"1h": "H1", "4h": "H4", "1d": "D",
}

func (o *OandaBroker) FetchOHLCV(symbol, timeframe string, limit int) ([]market.Candle, error) {
	granularity, ok := oandaGranularity[timeframe]
	if !ok {
		return nil, fmt.Errorf("不支持的时间周期: %s", timeframe)
	}
	if limit <= 0 {
		limit = 200
	}

	path := fmt.Sprintf("/v3/instruments/%s/candles?granularity=%s&count=%d&price=M",
		symbol, granularity, limit)
	data, err := o.request("GET", path, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Candles []oandaCandle `json:"candles"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析K线失败: %w", err)
	}

	candles := make([]market.Candle, 0, len(out.Candles))
	for _, c := range out.Candles {
		ts, err := time.Parse(time.RFC3339Nano, c.Time)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(c.Mid.O, 64)
		high, _ := strconv.ParseFloat(c.Mid.H, 64)
		low, _ := strconv.ParseFloat(c.Mid.L, 64)
		closePrice, _ := strconv.ParseFloat(c.Mid.C, 64)
		candles = append(candles, market.Candle{
			Timestamp: ts.UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    c.Volume,
		})
	}
	return candles, nil
}

func (o *OandaBroker) FetchTicker(symbol string) (*Ticker, error) {
	path := "/v3/accounts/" + o.accountID + "/pricing?instruments=" + symbol
	data, err := o.request("GET", path, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Prices []struct {
			Bids []struct {
				Price string `json:"price"`
			} `json:"bids"`
			Asks []struct {
				Price string `json:"price"`
			} `json:"asks"`
		} `json:"prices"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析行情失败: %w", err)
	}
	if len(out.Prices) == 0 || len(out.Prices[0].Bids) == 0 || len(out.Prices[0].Asks) == 0 {
		return nil, fmt.Errorf("行情为空: %s", symbol)
	}

	bid, _ := strconv.ParseFloat(out.Prices[0].Bids[0].Price, 64)
	ask, _ := strconv.ParseFloat(out.Prices[0].Asks[0].Price, 64)
	return &Ticker{
		Symbol: symbol,
		Last:   (bid + ask) / 2,
		Bid:    bid,
		Ask:    ask,
	}, nil
}

func (o *OandaBroker) FetchBalance() (*Balance, error) {
	data, err := o.request("GET", "/v3/accounts/"+o.accountID+"/summary", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Account struct {
			Balance   string `json:"balance"`
			NAV       string `json:"NAV"`
			Currency  string `json:"currency"`
			MarginAvailable string `json:"marginAvailable"`
		} `json:"account"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析账户失败: %w", err)
	}

	total, _ := strconv.ParseFloat(out.Account.NAV, 64)
	avail, _ := strconv.ParseFloat(out.Account.MarginAvailable, 64)
	return &Balance{Total: total, Available: avail, Currency: out.Account.Currency}, nil
}

// signedUnits OANDA 用带符号的 units 表示方向 buy=正 sell=负
func signedUnits(side string, amount float64) string {
	units := int64(amount)
	if units == 0 {
		units = 1
	}
	if side == "sell" {
		units = -units
	}
	return strconv.FormatInt(units, 10)
}

func (o *OandaBroker) CreateLimitOrder(symbol, side string, amount, price float64) (*OrderResult, error) {
	body := map[string]interface{}{
		"order": map[string]interface{}{
			"type":        "LIMIT",
			"instrument":  symbol,
			"units":       signedUnits(side, amount),
			"price":       strconv.FormatFloat(price, 'f', 5, 64),
			"timeInForce": "GTC",
		},
	}
	data, err := o.request("POST", "/v3/accounts/"+o.accountID+"/orders", body)
	if err != nil {
		return nil, err
	}
	return o.parseOrderResponse(data, symbol, side, amount, price)
}

func (o *OandaBroker) CreateStopOrder(symbol, side string, amount, stopPrice float64) (*OrderResult, error) {
	body := map[string]interface{}{
		"order": map[string]interface{}{
			"type":        "STOP",
			"instrument":  symbol,
			"units":       signedUnits(side, amount),
			"price":       strconv.FormatFloat(stopPrice, 'f', 5, 64),
			"timeInForce": "GTC",
		},
	}
	data, err := o.request("POST", "/v3/accounts/"+o.accountID+"/orders", body)
	if err != nil {
		return nil, err
	}
	return o.parseOrderResponse(data, symbol, side, amount, stopPrice)
}

func (o *OandaBroker) parseOrderResponse(data []byte, symbol, side string, amount, price float64) (*OrderResult, error) {
	var out struct {
		OrderCreateTransaction struct {
			ID string `json:"id"`
		} `json:"orderCreateTransaction"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析下单返回失败: %w", err)
	}
	return &OrderResult{
		OrderID: out.OrderCreateTransaction.ID,
		Symbol:  symbol,
		Side:    side,
		Amount:  amount,
		Price:   price,
		Status:  "pending",
	}, nil
}

func (o *OandaBroker) CancelOrder(symbol, orderID string) error {
	_, err := o.request("PUT",
		"/v3/accounts/"+o.accountID+"/orders/"+orderID+"/cancel", nil)
	return err
}

func (o *OandaBroker) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
