package market

import (
	"context"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/cache"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
)

// Snapshot 行情与情绪
// Sentiment ∈ [-1,1]，Volatility ∈ [0,1]
type Snapshot struct {
	Price      float64   `json:"price"`
	Sentiment  float64   `json:"sentiment"`
	Volatility float64   `json:"volatility"`
	At         time.Time `json:"at"`
}

// Source 行情数据源
type Source interface {
	Snapshot(ctx context.Context, symbol, address string) (*Snapshot, error)
}

type HTTPSourceConfig struct {
	URL       string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	PriceTTL  time.Duration
}

// HTTPSource GET {url}/snapshot?symbol=&address= -> {"price","sentiment","volatility"}
type HTTPSource struct {
	client  *resty.Client
	limiter *rate.Limiter
	cache   *cache.PriceCache
}

func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(math.Max(1, cfg.RateLimit)))
	}

	ttl := cfg.PriceTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}

	return &HTTPSource{
		client:  client,
		limiter: limiter,
		cache:   cache.NewPriceCache(ttl),
	}
}

func (s *HTTPSource) Snapshot(ctx context.Context, symbol, address string) (*Snapshot, error) {
	key := address
	if key == "" {
		key = symbol
	}
	if q, ok := s.cache.Get(key); ok {
		monitor.IncCacheHit("price")
		return &Snapshot{Price: q.Price, Sentiment: q.Sentiment, Volatility: q.Volatility, At: q.At}, nil
	}
	monitor.IncCacheMiss("price")

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperr.ModelFailure(err, "market data rate limit")
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "address": address}).
		Get("/snapshot")
	if err != nil {
		return nil, apperr.ModelFailure(err, "market data request")
	}
	if resp.IsError() {
		return nil, apperr.ModelFailure(nil, "market data returned status %d", resp.StatusCode())
	}

	body := gjson.ParseBytes(resp.Body())
	if d := body.Get("data"); d.IsObject() {
		body = d
	}

	price, err := cast.ToFloat64E(body.Get("price").Value())
	if err != nil || price <= 0 {
		return nil, apperr.ModelFailure(err, "market data malformed price")
	}

	snap := &Snapshot{
		Price:      price,
		Sentiment:  clamp(cast.ToFloat64(body.Get("sentiment").Value()), -1, 1),
		Volatility: clamp(cast.ToFloat64(body.Get("volatility").Value()), 0, 1),
		At:         time.Now(),
	}
	s.cache.Set(key, cache.Quote{Price: snap.Price, Sentiment: snap.Sentiment, Volatility: snap.Volatility, At: snap.At})
	return snap, nil
}

// Stats 价格缓存统计
func (s *HTTPSource) Stats() map[string]any {
	return s.cache.Stats()
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
