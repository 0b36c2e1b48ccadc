// Package engine 决策引擎：汇总预测与行情，在策略与风险约束下给出唯一的交易决策
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/utrading/utrading-agent-hub/internal/market"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/internal/prediction"
	"github.com/utrading/utrading-agent-hub/pkg/goplus"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Config 用户在某个 Agent 下的生效配置（已收紧到订阅配置）
type Config struct {
	UserID            string
	AgentID           string
	Strategy          models.Strategy
	RiskTolerance     float64
	MaxPositionSize   decimal.Decimal
	StopLossThreshold float64
}

// Engine 决策引擎，除就绪闸门外无跨调用状态
type Engine struct {
	cfg      Config
	policy   Policy
	sources  []prediction.Source
	market   market.Source
	gatherer *prediction.Gatherer

	ready    chan struct{}
	disabled map[string]string // 初始化失败的预测源 -> 原因
}

// New 创建引擎并在后台完成一次性初始化
func New(cfg Config, sources []prediction.Source, marketSrc market.Source, gatherer *prediction.Gatherer) (*Engine, error) {
	policy, err := PolicyFor(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		policy:   policy,
		sources:  sources,
		market:   marketSrc,
		gatherer: gatherer,
		ready:    make(chan struct{}),
		disabled: make(map[string]string),
	}
	goplus.Go(e.setup)
	return e, nil
}

// setup 预热需要初始化的预测源，完成后打开闸门
func (e *Engine) setup() {
	defer close(e.ready)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, src := range e.sources {
		w, ok := src.(prediction.Warmer)
		if !ok {
			continue
		}
		if err := w.Warmup(ctx); err != nil {
			e.disabled[src.Name()] = err.Error()
			logger.Warn().Err(err).
				Str("agent_id", e.cfg.AgentID).
				Str("source", src.Name()).
				Msg("prediction source warmup failed")
		}
	}
}

// Ready 初始化完成后关闭
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Wait 等待初始化完成
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Decide 产出一个决策，任何内部失败都降级为置信度 0 的 HOLD
func (e *Engine) Decide(ctx context.Context, mc models.MarketContext) (decision *models.TradingDecision) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("user_id", e.cfg.UserID).
				Str("agent_id", e.cfg.AgentID).
				Interface("panic", r).
				Msg("decision engine panic")
			decision = e.fallback(mc, "panic", fmt.Sprintf("engine failure: %v", r))
		}
		monitor.IncDecision(string(e.cfg.Strategy), string(decision.Action))
	}()

	if err := e.Wait(ctx); err != nil {
		return e.fallback(mc, "not_ready", "engine not ready: "+err.Error())
	}

	return e.decide(ctx, mc)
}

func (e *Engine) decide(ctx context.Context, mc models.MarketContext) *models.TradingDecision {
	var trace []string

	snap, err := e.market.Snapshot(ctx, mc.TokenSymbol, mc.TokenAddress)
	if err != nil {
		trace = append(trace, "market data unavailable: "+err.Error())
		snap = &market.Snapshot{}
	}

	price := mc.CurrentPrice
	if price <= 0 {
		price = snap.Price
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return e.fallback(mc, "no_price", "no valid price for "+mc.TokenSymbol)
	}

	preds, failures := e.gather(ctx, mc, price)
	total := len(e.sources)
	if len(preds) == 0 {
		reason := "all prediction sources failed"
		if total == 0 {
			reason = "no prediction sources configured"
		}
		return e.fallback(mc, "no_predictions", reason+formatFailures(failures))
	}

	agg := aggregate(preds, price)
	confidence := agg.confidence * float64(len(preds)) / float64(total)
	signal := (1-e.policy.SentimentWeight)*agg.score + e.policy.SentimentWeight*snap.Sentiment
	risk := AssessRisk(price, agg.target, e.cfg.StopLossThreshold)

	for _, p := range preds {
		trace = append(trace, fmt.Sprintf("%s: %s target=%.6f confidence=%.4f", p.Source, p.Direction, p.PredictedPrice, p.Confidence))
	}
	if len(failures) > 0 {
		trace = append(trace, fmt.Sprintf("%d/%d sources failed%s", len(failures), total, formatFailures(failures)))
	}
	trace = append(trace, fmt.Sprintf("sentiment=%.4f volatility=%.4f signal=%.4f confidence=%.4f", snap.Sentiment, snap.Volatility, signal, confidence))

	action, why := e.propose(signal, confidence, price, agg.target, snap.Volatility, risk)
	trace = append(trace, why)

	// 高风险硬约束
	if risk.Level == RiskHigh && action != models.ActionHold {
		if e.policy.AllowHighRisk && e.cfg.RiskTolerance >= highRiskTolerance {
			trace = append(trace, fmt.Sprintf("high risk accepted by risk tolerance %.2f", e.cfg.RiskTolerance))
		} else {
			trace = append(trace, fmt.Sprintf("%s downgraded to HOLD: risk/reward %.4f <= %.1f", action, risk.RiskReward, minRiskReward))
			action = models.ActionHold
		}
	}

	var amount decimal.Decimal
	if action != models.ActionHold {
		amount = e.size(confidence, mc.UserBalance)
		if !amount.IsPositive() {
			trace = append(trace, "position size rounds to zero, holding")
			action = models.ActionHold
		}
	}

	d := e.newDecision(mc, action, confidence, strings.Join(trace, "; "),
		fmt.Sprintf("%s target=%.6f price=%.6f volatility=%.4f", risk, agg.target, price, snap.Volatility))
	if action != models.ActionHold {
		d.Amount = decimal.NewNullDecimal(amount)
	}
	return d
}

func (e *Engine) gather(ctx context.Context, mc models.MarketContext, price float64) ([]*prediction.Prediction, []prediction.Failure) {
	active := make([]prediction.Source, 0, len(e.sources))
	var failures []prediction.Failure
	for _, src := range e.sources {
		if reason, off := e.disabled[src.Name()]; off {
			failures = append(failures, prediction.Failure{Source: src.Name(), Error: "disabled: " + reason})
			continue
		}
		active = append(active, src)
	}

	preds, failed := e.gatherer.Gather(ctx, active, prediction.Request{
		TokenSymbol:  mc.TokenSymbol,
		TokenAddress: mc.TokenAddress,
		CurrentPrice: price,
		Horizon:      e.policy.Horizon,
	})
	failures = append(failures, failed...)
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Source < failures[j].Source })
	return preds, failures
}

// propose 策略给出的动作与理由
func (e *Engine) propose(signal, confidence, price, target, volatility float64, risk Risk) (models.Action, string) {
	p := e.policy
	switch {
	case confidence < p.MinConfidence:
		return models.ActionHold, fmt.Sprintf("%s: confidence %.4f below %.2f", e.cfg.Strategy, confidence, p.MinConfidence)
	case volatility > p.MaxVolatility:
		return models.ActionHold, fmt.Sprintf("%s: volatility %.4f above %.2f", e.cfg.Strategy, volatility, p.MaxVolatility)
	case p.RequireLowRisk && risk.Level != RiskAcceptable:
		return models.ActionHold, fmt.Sprintf("%s: requires acceptable risk", e.cfg.Strategy)
	case signal >= p.MinSignal && target > price:
		return models.ActionBuy, fmt.Sprintf("%s: bullish signal %.4f >= %.2f", e.cfg.Strategy, signal, p.MinSignal)
	case signal <= -p.MinSignal && target < price:
		return models.ActionSell, fmt.Sprintf("%s: bearish signal %.4f <= -%.2f", e.cfg.Strategy, signal, p.MinSignal)
	default:
		return models.ActionHold, fmt.Sprintf("%s: signal %.4f inside ±%.2f", e.cfg.Strategy, signal, p.MinSignal)
	}
}

// size 仓位 = maxPositionSize × SizeFraction × confidence，向下取整，不超过上限与用户余额
func (e *Engine) size(confidence float64, userBalance decimal.Decimal) decimal.Decimal {
	limit := e.cfg.MaxPositionSize
	amount := limit.
		Mul(decimal.NewFromFloat(e.policy.SizeFraction)).
		Mul(decimal.NewFromFloat(confidence)).
		Floor()
	if amount.GreaterThan(limit) {
		amount = limit
	}
	if userBalance.IsPositive() && amount.GreaterThan(userBalance) {
		amount = userBalance.Floor()
	}
	return amount
}

func (e *Engine) newDecision(mc models.MarketContext, action models.Action, confidence float64, reasoning, risk string) *models.TradingDecision {
	return &models.TradingDecision{
		UserID:          e.cfg.UserID,
		AgentID:         e.cfg.AgentID,
		TokenSymbol:     mc.TokenSymbol,
		TokenAddress:    mc.TokenAddress,
		Action:          action,
		Confidence:      math.Max(0, math.Min(1, confidence)),
		Reasoning:       reasoning,
		RiskAssessment:  risk,
		MarketContext:   datatypes.NewJSONType(mc),
		ExecutionStatus: models.ExecNone,
		Timestamp:       time.Now(),
	}
}

func (e *Engine) fallback(mc models.MarketContext, reason, detail string) *models.TradingDecision {
	monitor.IncDecisionFallback(reason)
	logger.Warn().
		Str("user_id", e.cfg.UserID).
		Str("agent_id", e.cfg.AgentID).
		Str("token", mc.TokenSymbol).
		Str("reason", reason).
		Msg("decision fell back to HOLD")

	d := e.newDecision(mc, models.ActionHold, 0, "fallback HOLD: "+detail, "risk=unknown")
	d.Fallback = true
	return d
}

type aggregation struct {
	target     float64 // 置信度加权目标价
	confidence float64 // 权重加权平均置信度
	score      float64 // 方向得分 ∈ [-1,1]
}

func aggregate(preds []*prediction.Prediction, price float64) aggregation {
	var sumW, sumWC, sumWCP, sumWP, sumScore float64
	for _, p := range preds {
		w := p.Weight
		if w <= 0 {
			w = 1
		}
		sumW += w
		sumWC += w * p.Confidence
		sumWCP += w * p.Confidence * p.PredictedPrice
		sumWP += w * p.PredictedPrice

		switch p.Direction {
		case prediction.DirectionUp:
			sumScore += w * p.Confidence
		case prediction.DirectionDown:
			sumScore -= w * p.Confidence
		}
	}

	agg := aggregation{target: price}
	if sumW == 0 {
		return agg
	}
	agg.confidence = sumWC / sumW
	agg.score = sumScore / sumW
	if sumWC > 0 {
		agg.target = sumWCP / sumWC
	} else {
		agg.target = sumWP / sumW
	}
	return agg
}

func formatFailures(failures []prediction.Failure) string {
	if len(failures) == 0 {
		return ""
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.Source+": "+f.Error)
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
