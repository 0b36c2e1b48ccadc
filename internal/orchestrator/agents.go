package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/chain"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// AgentDetail 单个 Agent 详情
type AgentDetail struct {
	*models.AgentDefinition
	Performance     *models.Performance `json:"performance"`
	SubscriberCount int64               `json:"subscriberCount"`
}

// newAgentID agent_<毫秒时间戳>_<8位随机>，长度满足链上短字符串限制
func newAgentID() string {
	return fmt.Sprintf("agent_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// CreateAgent 先上链，成功后再落库；链上失败不落库
func (s *Service) CreateAgent(ctx context.Context, creatorID string, cfg models.AgentConfig) (string, error) {
	if strings.TrimSpace(creatorID) == "" {
		return "", apperr.Validation("creatorId is required")
	}
	if err := s.validateAgentConfig(cfg); err != nil {
		return "", err
	}

	agentID := newAgentID()
	txHash, err := s.chain.CreateAgentConfig(ctx, agentID, cfg)
	if err != nil {
		return "", err
	}

	agent := &models.AgentDefinition{
		ID:                agentID,
		CreatorID:         creatorID,
		Name:              cfg.Name,
		Strategy:          cfg.Strategy,
		Description:       cfg.Description,
		PredictionSources: datatypes.NewJSONType(cfg.PredictionSources),
		RiskTolerance:     cfg.RiskTolerance,
		MaxPositionSize:   cfg.MaxPositionSize,
		StopLossThreshold: cfg.StopLossThreshold,
		AutomationLevel:   cfg.AutomationLevel,
		MaxTradesPerDay:   cfg.MaxTradesPerDay,
		MaxAPICostPerDay:  cfg.MaxAPICostPerDay,
		IsPublic:          true,
	}
	if err = dao.Agent().Create(agent); err != nil {
		// 链上已注册，需人工补录
		logger.Error().Err(err).
			Str("agent_id", agentID).
			Str("tx_hash", txHash).
			Msg("agent registered on chain but not persisted")
		return "", err
	}

	logger.Info().
		Str("agent_id", agentID).
		Str("creator_id", creatorID).
		Str("strategy", string(cfg.Strategy)).
		Str("tx_hash", txHash).
		Msg("agent created")
	return agentID, nil
}

func (s *Service) validateAgentConfig(cfg models.AgentConfig) error {
	var problems []string
	if strings.TrimSpace(cfg.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !cfg.Strategy.Valid() {
		problems = append(problems, fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}
	if !cfg.AutomationLevel.Valid() {
		problems = append(problems, fmt.Sprintf("unknown automationLevel %q", cfg.AutomationLevel))
	}
	if cfg.RiskTolerance < 0 || cfg.RiskTolerance > 1 {
		problems = append(problems, "riskTolerance must be within [0,1]")
	}
	if cfg.StopLossThreshold < 0 || cfg.StopLossThreshold > 1 {
		problems = append(problems, "stopLossThreshold must be within [0,1]")
	}
	if !cfg.MaxPositionSize.IsPositive() || !cfg.MaxPositionSize.Equal(cfg.MaxPositionSize.Floor()) {
		problems = append(problems, "maxPositionSize must be a positive integer")
	}
	if cfg.MaxAPICostPerDay.IsNegative() || !cfg.MaxAPICostPerDay.Equal(cfg.MaxAPICostPerDay.Floor()) {
		problems = append(problems, "maxApiCostPerDay must be a non-negative integer")
	}
	if cfg.MaxTradesPerDay < 0 {
		problems = append(problems, "maxTradesPerDay must not be negative")
	}
	for _, name := range cfg.PredictionSources {
		if _, ok := s.byName[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown prediction source %q", name))
		}
	}

	if len(problems) > 0 {
		return apperr.Validation("invalid agent config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ListAvailableAgents 分页列出公开 Agent
func (s *Service) ListAvailableAgents(ctx context.Context, q dao.ListQuery) ([]*models.AgentSummary, int64, error) {
	if q.Strategy != "" && !q.Strategy.Valid() {
		return nil, 0, apperr.Validation("unknown strategy %q", q.Strategy)
	}
	switch q.SortBy {
	case "", dao.SortNewest, dao.SortName, dao.SortSubscribers, dao.SortPerformance:
	default:
		return nil, 0, apperr.Validation("unknown sortBy %q", q.SortBy)
	}
	return dao.Agent().List(q)
}

func (s *Service) GetAgent(ctx context.Context, agentID string) (*AgentDetail, error) {
	agent, err := dao.Agent().Get(agentID)
	if err != nil {
		return nil, err
	}
	perf, err := dao.Trade().Performance(agentID, "")
	if err != nil {
		return nil, err
	}
	count, err := dao.Agent().SubscriberCount(agentID)
	if err != nil {
		return nil, err
	}
	return &AgentDetail{AgentDefinition: agent, Performance: perf, SubscriberCount: count}, nil
}

// AgentPerformance userID 为空时统计全部订阅者
func (s *Service) AgentPerformance(ctx context.Context, agentID, userID string) (*models.Performance, error) {
	if _, err := dao.Agent().Get(agentID); err != nil {
		return nil, err
	}
	return dao.Trade().Performance(agentID, userID)
}

func (s *Service) PrepareDeposit(ctx context.Context, token string, amount decimal.Decimal) (*models.PrepData, error) {
	return s.prepareTokenCall(chain.EntryDeposit, token, amount)
}

func (s *Service) PrepareWithdraw(ctx context.Context, token string, amount decimal.Decimal) (*models.PrepData, error) {
	return s.prepareTokenCall(chain.EntryWithdraw, token, amount)
}

func (s *Service) prepareTokenCall(entrypoint, token string, amount decimal.Decimal) (*models.PrepData, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be positive")
	}
	calldata, err := chain.TokenAmountCalldata(token, amount)
	if err != nil {
		return nil, apperr.Validation("encode %s: %v", entrypoint, err)
	}
	return &models.PrepData{
		ContractAddress: s.chain.ContractAddress(),
		Entrypoint:      entrypoint,
		Calldata:        calldata,
	}, nil
}
