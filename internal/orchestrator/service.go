// Package orchestrator Agent 生命周期编排：创建、运行决策、结算
package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-agent-hub/config"
	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/cache"
	"github.com/utrading/utrading-agent-hub/internal/chain"
	"github.com/utrading/utrading-agent-hub/internal/engine"
	"github.com/utrading/utrading-agent-hub/internal/events"
	"github.com/utrading/utrading-agent-hub/internal/market"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/internal/prediction"
	"github.com/utrading/utrading-agent-hub/internal/subscription"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
	"github.com/utrading/utrading-agent-hub/pkg/retrier"
)

// Chain 编排层使用的合约操作
type Chain interface {
	ContractAddress() string
	CreateAgentConfig(ctx context.Context, agentID string, cfg models.AgentConfig) (string, error)
	ReserveForTrade(ctx context.Context, user, token string, amount decimal.Decimal) (bool, error)
	ReleaseReservation(ctx context.Context, user, token string, amount decimal.Decimal) (string, error)
	SettleTrade(ctx context.Context, s chain.Settlement) (string, error)
	MarkDecisionExecuted(ctx context.Context, decisionID uint64, success bool, actualAmount decimal.Decimal) (string, error)
	GetUserBalance(ctx context.Context, user, token string) (*chain.Balance, error)
	CanAgentTrade(ctx context.Context, user, agentID string, amount decimal.Decimal) (bool, error)
	GetDailyLimitsRemaining(ctx context.Context, user, agentID string) (uint64, decimal.Decimal, error)
}

// Deps 外部依赖
type Deps struct {
	Chain    Chain
	Ledger   *subscription.Ledger
	Sources  []prediction.Source
	Market   market.Source
	Gatherer *prediction.Gatherer
	Emitter  events.Emitter
}

type Service struct {
	chain    Chain
	ledger   *subscription.Ledger
	sources  []prediction.Source
	byName   map[string]prediction.Source
	market   market.Source
	gatherer *prediction.Gatherer
	emitter  events.Emitter

	engines     *cache.TTLCache[*engine.Engine]
	inflight    *cache.InFlight
	retry       *retrier.Retrier
	stepTimeout time.Duration
}

// New engineTTL / engineMax 控制引擎缓存
func New(deps Deps, cfg config.AgentHub) (*Service, error) {
	if deps.Chain == nil || deps.Ledger == nil || deps.Market == nil || deps.Gatherer == nil {
		return nil, errors.New("orchestrator: chain, ledger, market and gatherer are required")
	}
	if deps.Emitter == nil {
		deps.Emitter = events.Nop{}
	}

	byName := make(map[string]prediction.Source, len(deps.Sources))
	for _, src := range deps.Sources {
		if _, dup := byName[src.Name()]; dup {
			return nil, errors.Errorf("duplicate prediction source %q", src.Name())
		}
		byName[src.Name()] = src
	}

	ttl := cfg.EngineCacheTTL.Duration
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	stepTimeout := cfg.SettlementStepTimeout.Duration
	if stepTimeout <= 0 {
		stepTimeout = 4 * time.Minute
	}

	s := &Service{
		chain:    deps.Chain,
		ledger:   deps.Ledger,
		sources:  deps.Sources,
		byName:   byName,
		market:   deps.Market,
		gatherer: deps.Gatherer,
		emitter:  deps.Emitter,
		inflight: cache.NewInFlight(),
		retry: retrier.New(
			retrier.WithMaxRetries(3),
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithMaxInterval(5*time.Second),
			retrier.WithRetryIf(apperr.IsRetryable),
		),
		stepTimeout: stepTimeout,
	}
	s.engines = cache.NewTTLCache[*engine.Engine]("engine", ttl, cfg.EngineCacheMax, func(key string, _ *engine.Engine) {
		monitor.IncEngineCacheEviction()
		logger.Debug().Str("key", key).Msg("decision engine evicted")
	})
	return s, nil
}

// engineFor 按 (user, agent) 复用引擎，订阅配置变化时重建
func (s *Service) engineFor(agent *models.AgentDefinition, sub *models.UserSubscription) (*engine.Engine, error) {
	ucfg := sub.UserConfig.Data()
	cfg := engine.Config{
		UserID:            sub.UserID,
		AgentID:           agent.ID,
		Strategy:          agent.Strategy,
		RiskTolerance:     ucfg.RiskTolerance,
		MaxPositionSize:   ucfg.MaxPositionSize,
		StopLossThreshold: ucfg.StopLossThreshold,
	}

	key := sub.UserID + ":" + agent.ID
	if eng, ok := s.engines.Get(key); ok && sameConfig(eng.Config(), cfg) {
		return eng, nil
	}

	eng, err := engine.New(cfg, s.sourcesFor(agent), s.market, s.gatherer)
	if err != nil {
		return nil, apperr.EngineFailure(err, "build engine for %s", key)
	}
	if !s.engines.Set(key, eng) {
		logger.Warn().Str("key", key).Int("size", s.engines.Len()).Msg("engine cache full, engine not cached")
	}
	monitor.SetEngineCacheSize(s.engines.Len())
	return eng, nil
}

func sameConfig(a, b engine.Config) bool {
	return a.Strategy == b.Strategy &&
		a.RiskTolerance == b.RiskTolerance &&
		a.StopLossThreshold == b.StopLossThreshold &&
		a.MaxPositionSize.Equal(b.MaxPositionSize)
}

// sourcesFor Agent 指定的预测源；未指定时使用全部
func (s *Service) sourcesFor(agent *models.AgentDefinition) []prediction.Source {
	names := agent.PredictionSources.Data()
	if len(names) == 0 {
		return s.sources
	}

	out := make([]prediction.Source, 0, len(names))
	for _, name := range names {
		src, ok := s.byName[name]
		if !ok {
			logger.Warn().Str("agent_id", agent.ID).Str("source", name).Msg("prediction source not configured, skipped")
			continue
		}
		out = append(out, src)
	}
	return out
}

// EngineStats 健康检查统计
func (s *Service) Stats() map[string]any {
	return s.engines.Stats()
}

// Close 释放引擎缓存
func (s *Service) Close() {
	s.engines.Flush()
	monitor.SetEngineCacheSize(0)
}
