package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/events"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// RunAgent 要求活跃订阅；决策无论是否降级都会落库
func (s *Service) RunAgent(ctx context.Context, userID, agentID string, mc models.MarketContext) (*models.TradingDecision, error) {
	if strings.TrimSpace(mc.TokenSymbol) == "" && strings.TrimSpace(mc.TokenAddress) == "" {
		return nil, apperr.Validation("marketContext requires tokenSymbol or tokenAddress")
	}
	if mc.CurrentPrice < 0 {
		return nil, apperr.Validation("currentPrice must not be negative")
	}

	sub, err := s.ledger.Active(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	agent, err := dao.Agent().Get(agentID)
	if err != nil {
		return nil, err
	}

	eng, err := s.engineFor(agent, sub)
	if err != nil {
		return nil, err
	}

	if mc.Timestamp.IsZero() {
		mc.Timestamp = time.Now()
	}
	decision := eng.Decide(ctx, mc)
	if err = dao.Decision().Create(decision); err != nil {
		return nil, err
	}

	logger.Info().
		Uint("decision_id", decision.ID).
		Str("user_id", userID).
		Str("agent_id", agentID).
		Str("token", mc.TokenSymbol).
		Str("action", string(decision.Action)).
		Float64("confidence", decision.Confidence).
		Bool("fallback", decision.Fallback).
		Msg("decision created")
	s.emitter.Emit(events.New(events.DecisionCreated, userID, agentID, decision))

	return decision, nil
}
