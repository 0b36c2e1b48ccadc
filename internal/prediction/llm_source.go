package prediction

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
)

const llmSystemPrompt = `You are a quantitative crypto analyst. Predict the price of the token at the end of the given horizon.
Answer with a single JSON object and nothing else. Keys: direction (one of up, down, neutral), predicted_price (number), confidence (number between 0 and 1).`

const llmUserPrompt = `Token: {token} ({address})
Current price: {price}
Horizon: {horizon}`

// LLMSource 以大模型作为预测源
type LLMSource struct {
	name     string
	weight   float64
	model    model.BaseChatModel
	template prompt.ChatTemplate

	warmOnce sync.Once
	warmErr  error
}

func NewLLMSource(name string, weight float64, chatModel model.BaseChatModel) *LLMSource {
	if weight <= 0 {
		weight = 1
	}
	return &LLMSource{
		name:   name,
		weight: weight,
		model:  chatModel,
		template: prompt.FromMessages(schema.FString,
			schema.SystemMessage(llmSystemPrompt),
			schema.UserMessage(llmUserPrompt),
		),
	}
}

func (s *LLMSource) Name() string    { return s.name }
func (s *LLMSource) Weight() float64 { return s.weight }

// Warmup 校验模板可渲染，只执行一次
func (s *LLMSource) Warmup(ctx context.Context) error {
	s.warmOnce.Do(func() {
		_, s.warmErr = s.template.Format(ctx, templateVars(Request{TokenSymbol: "ETH", CurrentPrice: 1, Horizon: "short"}))
	})
	return s.warmErr
}

func templateVars(req Request) map[string]any {
	return map[string]any{
		"token":   req.TokenSymbol,
		"address": req.TokenAddress,
		"price":   cast.ToString(req.CurrentPrice),
		"horizon": req.Horizon,
	}
}

func (s *LLMSource) Predict(ctx context.Context, req Request) (*Prediction, error) {
	msgs, err := s.template.Format(ctx, templateVars(req))
	if err != nil {
		return nil, apperr.ModelFailure(err, "%s format prompt", s.name)
	}

	resp, err := s.model.Generate(ctx, msgs)
	if err != nil {
		return nil, apperr.ModelFailure(err, "%s generate", s.name)
	}

	body, err := extractJSON(resp.Content)
	if err != nil {
		return nil, apperr.ModelFailure(err, "%s malformed answer", s.name)
	}

	price, err := cast.ToFloat64E(body.Get("predicted_price").Value())
	if err != nil {
		return nil, apperr.ModelFailure(err, "%s malformed predicted price", s.name)
	}
	confidence, err := cast.ToFloat64E(body.Get("confidence").Value())
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

// extractJSON 模型可能包裹 ```json 代码块或附加说明文字
func extractJSON(content string) (gjson.Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return gjson.Result{}, errors.New("no json object in answer")
	}
	raw := content[start : end+1]
	if !gjson.Valid(raw) {
		return gjson.Result{}, errors.New("invalid json in answer")
	}
	return gjson.Parse(raw), nil
}
