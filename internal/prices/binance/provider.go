package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leafsii/eusd-engine/internal/prices"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	BinanceRestAPI = "https://api.binance.com"
	BinanceWS      = "wss://stream.binance.com:9443/ws"
)

// Provider implements prices.Provider for Binance spot
type Provider struct {
	logger  *zap.SugaredLogger
	client  *http.Client
	restURL string
	wsURL   string

	mu     sync.RWMutex
	health prices.ProviderHealth
}

type Option func(*Provider)

// WithEndpoints points the provider at other REST and websocket hosts
func WithEndpoints(restURL, wsURL string) Option {
	return func(p *Provider) {
		p.restURL = strings.TrimRight(restURL, "/")
		p.wsURL = strings.TrimRight(wsURL, "/")
	}
}

func NewProvider(logger *zap.SugaredLogger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Provider{
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Second},
		restURL: BinanceRestAPI,
		wsURL:   BinanceWS,
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string {
	return "binance"
}

func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Provider) updateHealth(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = healthy
	if healthy {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
	} else if err != nil {
		p.health.LastError = err.Error()
	}
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// LatestPrice reads the last traded price from the REST ticker
func (p *Provider) LatestPrice(ctx context.Context, symbol string) (prices.Tick, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	requestURL := fmt.Sprintf("%s/api/v3/ticker/price?%s", p.restURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Tick{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Tick{}, fmt.Errorf("failed to fetch from Binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("binance API error: %d", resp.StatusCode)
		p.updateHealth(false, err)
		return prices.Tick{}, err
	}

	var tp tickerPrice
	if err := json.NewDecoder(resp.Body).Decode(&tp); err != nil {
		p.updateHealth(false, err)
		return prices.Tick{}, fmt.Errorf("failed to decode response: %w", err)
	}
	price, err := decimal.NewFromString(tp.Price)
	if err != nil || !price.IsPositive() {
		err = fmt.Errorf("invalid ticker price %q", tp.Price)
		p.updateHealth(false, err)
		return prices.Tick{}, err
	}

	p.updateHealth(true, nil)
	p.logger.Debugw("Fetched latest price from Binance", "symbol", symbol, "price", price.String())
	return prices.Tick{Symbol: strings.ToUpper(symbol), Price: price, TsMs: time.Now().UnixMilli()}, nil
}

// SubscribeLive streams trades via WebSocket
func (p *Provider) SubscribeLive(ctx context.Context, symbol string, out chan<- prices.Tick) error {
	// stream names are lowercase
	wsURL := fmt.Sprintf("%s/%s@trade", p.wsURL, strings.ToLower(symbol))

	p.logger.Infow("Connecting to Binance WebSocket", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return fmt.Errorf("failed to connect to Binance WebSocket: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	p.updateHealth(true, nil)
	p.logger.Infow("Connected to Binance WebSocket", "symbol", symbol)

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.updateHealth(false, err)
			p.mu.Lock()
			p.health.Reconnects++
			p.mu.Unlock()
			return fmt.Errorf("websocket read error: %w", err)
		}

		tick, err := parseTrade(message)
		if err != nil {
			p.logger.Warnw("Failed to parse trade message", "error", err, "message", string(message))
			continue
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		default:
			p.logger.Debugw("Tick channel full, skipping", "symbol", symbol)
		}

		p.updateHealth(true, nil)
	}
}

// Trade is a trade message from the Binance WebSocket
type Trade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func parseTrade(message []byte) (prices.Tick, error) {
	var trade Trade
	if err := json.Unmarshal(message, &trade); err != nil {
		return prices.Tick{}, err
	}
	if trade.EventType != "trade" {
		return prices.Tick{}, fmt.Errorf("unexpected event type %q", trade.EventType)
	}
	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		return prices.Tick{}, fmt.Errorf("invalid trade price: %w", err)
	}
	if !price.IsPositive() {
		return prices.Tick{}, fmt.Errorf("non-positive trade price %s", price)
	}
	ts := trade.TradeTime
	if ts == 0 {
		ts = trade.EventTime
	}
	return prices.Tick{Symbol: trade.Symbol, Price: price, TsMs: ts}, nil
}
