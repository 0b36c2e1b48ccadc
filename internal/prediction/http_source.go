package prediction

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
)

// HTTPSource 预测模型 HTTP 服务
// POST {url} {"token","address","price","horizon"} -> {"direction","predicted_price","confidence"}
// 兼容 {"prediction": {...}} 包装与字符串数值
type HTTPSource struct {
	name    string
	weight  float64
	url     string
	client  *resty.Client
	limiter *rate.Limiter
}

type HTTPSourceConfig struct {
	Name      string
	URL       string
	APIKey    string
	Weight    float64
	RateLimit float64 // 每秒请求数，<=0 不限
	Timeout   time.Duration
}

func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	weight := cfg.Weight
	if weight <= 0 {
		weight = 1
	}

	return &HTTPSource{
		name:    cfg.Name,
		weight:  weight,
		url:     cfg.URL,
		client:  client,
		limiter: limiter,
	}
}

func (s *HTTPSource) Name() string    { return s.name }
func (s *HTTPSource) Weight() float64 { return s.weight }

func (s *HTTPSource) Predict(ctx context.Context, req Request) (*Prediction, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperr.ModelFailure(err, "%s rate limit", s.name)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"token":   req.TokenSymbol,
			"address": req.TokenAddress,
			"price":   req.CurrentPrice,
			"horizon": req.Horizon,
		}).
		Post(s.url)
	if err != nil {
		return nil, apperr.ModelFailure(err, "%s request", s.name)
	}
	if resp.IsError() {
		return nil, apperr.ModelFailure(nil, "%s returned status %d", s.name, resp.StatusCode())
	}

	body := gjson.ParseBytes(resp.Body())
	if p := body.Get("prediction"); p.IsObject() {
		body = p
	}

	price, err := cast.ToFloat64E(firstOf(body, "predicted_price", "predictedPrice", "price").Value())
	if err != nil {
		return nil, apperr.ModelFailure(err, "%s malformed predicted price", s.name)
	}
	confidence, err := cast.ToFloat64E(firstOf(body, "confidence", "probability").Value())
	if err != nil {
		return nil, apperr.ModelFailure(err, "%s malformed confidence", s.name)
	}

	p, err := normalize(&Prediction{
		Source:         s.name,
		Direction:      strings.ToLower(body.Get("direction").String()),
		PredictedPrice: price,
		Confidence:     confidence,
		Weight:         s.weight,
	}, req.CurrentPrice)
	if err != nil {
		return nil, apperr.ModelFailure(err, "%s", s.name)
	}
	return p, nil
}

func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
