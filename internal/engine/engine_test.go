package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-agent-hub/internal/market"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/internal/prediction"
)

type fixedSource struct {
	name      string
	direction string
	price     float64
	conf      float64
	err       error
}

func (s *fixedSource) Name() string    { return s.name }
func (s *fixedSource) Weight() float64 { return 1 }

func (s *fixedSource) Predict(context.Context, prediction.Request) (*prediction.Prediction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &prediction.Prediction{Source: s.name, Direction: s.direction, PredictedPrice: s.price, Confidence: s.conf, Weight: 1}, nil
}

// slowWarmSource 预热阻塞直到 release 关闭
type slowWarmSource struct {
	fixedSource
	release chan struct{}
}

func (s *slowWarmSource) Warmup(ctx context.Context) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fixedMarket struct {
	snap  market.Snapshot
	err   error
	panic bool
}

func (m *fixedMarket) Snapshot(context.Context, string, string) (*market.Snapshot, error) {
	if m.panic {
		panic("market feed corrupted")
	}
	if m.err != nil {
		return nil, m.err
	}
	s := m.snap
	return &s, nil
}

func newGatherer(t *testing.T) *prediction.Gatherer {
	t.Helper()
	g, err := prediction.NewGatherer(8, time.Second)
	require.NoError(t, err)
	t.Cleanup(g.Release)
	return g
}

func newEngine(t *testing.T, cfg Config, sources []prediction.Source, m market.Source) *Engine {
	t.Helper()
	if cfg.UserID == "" {
		cfg.UserID = "u1"
		cfg.AgentID = "a1"
	}
	e, err := New(cfg, sources, m, newGatherer(t))
	require.NoError(t, err)
	return e
}

func ctxMarket(price float64) models.MarketContext {
	return models.MarketContext{
		TokenSymbol:  "ETH",
		TokenAddress: "0x49d",
		CurrentPrice: price,
		UserBalance:  decimal.Zero,
		Timestamp:    time.Unix(1700000000, 0),
	}
}

func up(name string, price, conf float64) prediction.Source {
	return &fixedSource{name: name, direction: prediction.DirectionUp, price: price, conf: conf}
}

func assertInvariant(t *testing.T, d *models.TradingDecision) {
	t.Helper()
	if d.Action == models.ActionHold {
		assert.False(t, d.Amount.Valid && !d.Amount.Decimal.IsZero(), "HOLD must not carry an amount")
	} else {
		require.True(t, d.Amount.Valid, "%s must carry an amount", d.Action)
		assert.True(t, d.Amount.Decimal.IsPositive())
	}
	assert.GreaterOrEqual(t, d.Confidence, 0.0)
	assert.LessOrEqual(t, d.Confidence, 1.0)
}

func TestDecide_AllSourcesFailFallsBackToHold(t *testing.T) {
	e := newEngine(t, Config{Strategy: models.StrategyAggressive, RiskTolerance: 1, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{
			&fixedSource{name: "a", err: errors.New("timeout")},
			&fixedSource{name: "b", err: errors.New("bad gateway")},
		},
		&fixedMarket{snap: market.Snapshot{Price: 100}})

	d := e.Decide(context.Background(), ctxMarket(100))
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Equal(t, 0.0, d.Confidence)
	assert.False(t, d.Amount.Valid)
	assert.True(t, d.Fallback)
	assert.Contains(t, d.Reasoning, "all prediction sources failed")
	assert.Contains(t, d.Reasoning, "a: timeout")
}

func TestDecide_HighRiskBuyDowngraded(t *testing.T) {
	// price 100, stopLoss 0.05 => potentialLoss 5；target 105 => riskReward 1
	e := newEngine(t, Config{Strategy: models.StrategyAggressive, RiskTolerance: 0.5, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{up("a", 105, 0.9), up("b", 105, 0.9)},
		&fixedMarket{snap: market.Snapshot{Sentiment: 0.5, Volatility: 0.2}})

	d := e.Decide(context.Background(), ctxMarket(100))
	assert.Equal(t, models.ActionHold, d.Action)
	assert.False(t, d.Amount.Valid)
	assert.Contains(t, d.Reasoning, "BUY downgraded to HOLD")
	assert.Contains(t, d.RiskAssessment, "risk=high")
	assert.InDelta(t, 0.9, d.Confidence, 1e-9)
	assertInvariant(t, d)
}

func TestDecide_HighRiskAllowedByTolerance(t *testing.T) {
	e := newEngine(t, Config{Strategy: models.StrategyAggressive, RiskTolerance: 0.8, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{up("a", 105, 0.9), up("b", 105, 0.9)},
		&fixedMarket{snap: market.Snapshot{Sentiment: 0.5, Volatility: 0.2}})

	d := e.Decide(context.Background(), ctxMarket(100))
	require.Equal(t, models.ActionBuy, d.Action)
	// 1000 × 0.8 × 0.9
	assert.True(t, d.Amount.Decimal.Equal(decimal.NewFromInt(720)), d.Amount.Decimal.String())
	assertInvariant(t, d)
}

func TestDecide_SwingBuyCappedByBalance(t *testing.T) {
	// target 120 => riskReward 4
	e := newEngine(t, Config{Strategy: models.StrategySwing, RiskTolerance: 0.5, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{up("a", 120, 0.8)},
		&fixedMarket{snap: market.Snapshot{Volatility: 0.1}})

	mc := ctxMarket(100)
	d := e.Decide(context.Background(), mc)
	require.Equal(t, models.ActionBuy, d.Action)
	assert.True(t, d.Amount.Decimal.Equal(decimal.NewFromInt(400)))
	assert.Contains(t, d.RiskAssessment, "risk=acceptable")

	mc.UserBalance = decimal.NewFromInt(300)
	d = e.Decide(context.Background(), mc)
	require.Equal(t, models.ActionBuy, d.Action)
	assert.True(t, d.Amount.Decimal.Equal(decimal.NewFromInt(300)))
}

func TestDecide_Sell(t *testing.T) {
	e := newEngine(t, Config{Strategy: models.StrategySwing, RiskTolerance: 0.5, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{&fixedSource{name: "a", direction: prediction.DirectionDown, price: 80, conf: 0.9}},
		&fixedMarket{snap: market.Snapshot{Sentiment: -0.2}})

	d := e.Decide(context.Background(), ctxMarket(100))
	assert.Equal(t, models.ActionSell, d.Action)
	assertInvariant(t, d)
}

func TestDecide_ConservativeNeedsHighConfidence(t *testing.T) {
	e := newEngine(t, Config{Strategy: models.StrategyConservative, RiskTolerance: 0.3, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{up("a", 130, 0.7)},
		&fixedMarket{})

	d := e.Decide(context.Background(), ctxMarket(100))
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Contains(t, d.Reasoning, "confidence 0.7000 below 0.75")
}

func TestDecide_PartialFailureReducesConfidence(t *testing.T) {
	e := newEngine(t, Config{Strategy: models.StrategySwing, RiskTolerance: 0.5, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{up("a", 120, 0.9), &fixedSource{name: "b", err: errors.New("down")}},
		&fixedMarket{})

	d := e.Decide(context.Background(), ctxMarket(100))
	assert.InDelta(t, 0.45, d.Confidence, 1e-9)
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Contains(t, d.Reasoning, "1/2 sources failed")
	assert.False(t, d.Fallback)
}

func TestDecide_MarketFailureStillDecides(t *testing.T) {
	e := newEngine(t, Config{Strategy: models.StrategySwing, RiskTolerance: 0.5, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{up("a", 120, 0.8)},
		&fixedMarket{err: errors.New("feed down")})

	d := e.Decide(context.Background(), ctxMarket(100))
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.Contains(t, d.Reasoning, "market data unavailable")

	// 无价格可用时降级
	d = e.Decide(context.Background(), ctxMarket(0))
	assert.Equal(t, models.ActionHold, d.Action)
	assert.True(t, d.Fallback)
}

func TestDecide_PanicBecomesHold(t *testing.T) {
	e := newEngine(t, Config{Strategy: models.StrategySwing, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{up("a", 120, 0.8)},
		&fixedMarket{panic: true})

	var d *models.TradingDecision
	require.NotPanics(t, func() { d = e.Decide(context.Background(), ctxMarket(100)) })
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Contains(t, d.Reasoning, "engine failure")
}

func TestDecide_Deterministic(t *testing.T) {
	e := newEngine(t, Config{Strategy: models.StrategyAggressive, RiskTolerance: 0.8, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{up("a", 112, 0.7), &fixedSource{name: "b", direction: prediction.DirectionNeutral, price: 101, conf: 0.6}, &fixedSource{name: "c", err: errors.New("x")}},
		&fixedMarket{snap: market.Snapshot{Sentiment: 0.3, Volatility: 0.5}})

	first := e.Decide(context.Background(), ctxMarket(100))
	second := e.Decide(context.Background(), ctxMarket(100))

	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, first.Amount, second.Amount)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Reasoning, second.Reasoning)
	assert.Equal(t, first.RiskAssessment, second.RiskAssessment)
}

func TestDecide_InvariantAcrossStrategies(t *testing.T) {
	strategies := []models.Strategy{models.StrategyConservative, models.StrategyAggressive, models.StrategySwing, models.StrategyScalping}
	targets := []float64{50, 95, 100, 104, 111, 150}
	confs := []float64{0.1, 0.55, 0.8, 1}

	for _, s := range strategies {
		for _, target := range targets {
			for _, conf := range confs {
				name := fmt.Sprintf("%s/%v/%v", s, target, conf)
				dir := prediction.DirectionUp
				if target < 100 {
					dir = prediction.DirectionDown
				}
				e := newEngine(t, Config{Strategy: s, RiskTolerance: 0.9, MaxPositionSize: decimal.NewFromInt(3), StopLossThreshold: 0.02},
					[]prediction.Source{&fixedSource{name: "m", direction: dir, price: target, conf: conf}},
					&fixedMarket{snap: market.Snapshot{Sentiment: 0.1, Volatility: 0.1}})

				d := e.Decide(context.Background(), ctxMarket(100))
				t.Run(name, func(t *testing.T) { assertInvariant(t, d) })
			}
		}
	}
}

func TestReadyGate(t *testing.T) {
	src := &slowWarmSource{fixedSource: fixedSource{name: "llm", direction: prediction.DirectionUp, price: 120, conf: 0.8}, release: make(chan struct{})}
	e := newEngine(t, Config{Strategy: models.StrategySwing, RiskTolerance: 0.5, MaxPositionSize: decimal.NewFromInt(1000), StopLossThreshold: 0.05},
		[]prediction.Source{src}, &fixedMarket{})

	select {
	case <-e.Ready():
		t.Fatal("engine ready before warmup finished")
	default:
	}

	// 初始化期间调用方超时
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	d := e.Decide(ctx, ctxMarket(100))
	cancel()
	assert.Equal(t, models.ActionHold, d.Action)
	assert.True(t, d.Fallback)

	// 初始化期间到达的调用等待完成后正常决策
	done := make(chan *models.TradingDecision)
	go func() { done <- e.Decide(context.Background(), ctxMarket(100)) }()

	time.Sleep(20 * time.Millisecond)
	close(src.release)

	select {
	case d = <-done:
		assert.Equal(t, models.ActionBuy, d.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("decide did not return after warmup")
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := New(Config{Strategy: "yolo"}, nil, &fixedMarket{}, newGatherer(t))
	assert.Error(t, err)
}
