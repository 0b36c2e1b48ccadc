package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/chain"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/events"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
	"github.com/utrading/utrading-agent-hub/pkg/retrier"
)

// ExecutionResult 结算结果
type ExecutionResult struct {
	DecisionID       uint                   `json:"decisionId"`
	Executed         bool                   `json:"executed"`
	Status           models.ExecutionStatus `json:"status"`
	ActualAmount     decimal.Decimal        `json:"actualAmount"`
	SettlementTxHash string                 `json:"settlementTxHash,omitempty"`
	MarkTxHash       string                 `json:"markTxHash,omitempty"`
	AlreadyExecuted  bool                   `json:"alreadyExecuted,omitempty"`
}

// CanTradeResult 交易前置检查
type CanTradeResult struct {
	CanTrade         bool            `json:"canTrade"`
	Reason           string          `json:"reason,omitempty"`
	Available        decimal.Decimal `json:"available"`
	TradesRemaining  uint64          `json:"tradesRemaining"`
	APICostRemaining decimal.Decimal `json:"apiCostRemaining"`
}

// settlement 一次结算的上下文
type settlement struct {
	decision *models.TradingDecision
	token    string
	amount   decimal.Decimal
	price    float64
	pnl      float64
}

// ExecuteTrade canAgentTrade → reserve → settle → mark
// settle 失败时释放预留；已执行的决策直接返回
// 发出预留交易后的步骤不随请求取消，每个链上步骤单独限时
func (s *Service) ExecuteTrade(ctx context.Context, userID, agentID string, decisionID uint, result models.TradeResult) (*ExecutionResult, error) {
	key := strconv.FormatUint(uint64(decisionID), 10)
	if !s.inflight.Acquire(key) {
		return nil, apperr.Conflict("decision %d is being executed", decisionID)
	}
	defer s.inflight.Release(key)

	d, err := dao.Decision().GetForPair(decisionID, userID, agentID)
	if err != nil {
		return nil, err
	}

	if d.Executed {
		return &ExecutionResult{
			DecisionID:       d.ID,
			Executed:         true,
			Status:           d.ExecutionStatus,
			ActualAmount:     d.ActualAmount.Decimal,
			SettlementTxHash: d.SettlementTxHash,
			AlreadyExecuted:  true,
		}, nil
	}

	st, err := s.prepareSettlement(d, result)
	if err != nil {
		return nil, err
	}

	saga := context.WithoutCancel(ctx)
	switch d.ExecutionStatus {
	case models.ExecSettled:
		// 链上已结算，仅补标记
		st.amount = d.ActualAmount.Decimal
		return s.markExecuted(saga, st, d.SettlementTxHash)
	case models.ExecReserving, models.ExecReserved:
		if err = s.reconcile(saga, st); err != nil {
			return nil, err
		}
	}

	if _, err = s.ledger.Active(ctx, userID, agentID); err != nil {
		return nil, err
	}

	can, err := s.chain.CanAgentTrade(ctx, userID, agentID, st.amount)
	if err != nil {
		return nil, s.fail(st, models.ExecFailed, "can_agent_trade: "+err.Error(), err)
	}
	if !can {
		err = apperr.ContractRejection("agent not allowed to trade", "agent %s cannot trade %s for %s", agentID, st.amount, userID)
		return nil, s.fail(st, models.ExecFailed, "agent not allowed to trade (authorization, daily limit or balance)", err)
	}

	// 先落库再发交易，进程中断后可据此核对链上预留
	if err = s.setStatus(d.ID, models.ExecReserving, map[string]any{
		"actual_amount": decimal.NewNullDecimal(st.amount),
	}); err != nil {
		return nil, err
	}

	reserved, err := s.reserve(saga, st)
	if err != nil {
		if apperr.Is(err, apperr.KindContractRejection) {
			return nil, s.fail(st, models.ExecFailed, "reserve: "+err.Error(), err)
		}
		// 交易可能已上链，保留 reserving 状态，下次执行时核对
		if uerr := dao.Decision().UpdateExecution(d.ID, map[string]any{"failure_reason": "reserve: " + err.Error()}); uerr != nil {
			logger.Error().Err(uerr).Uint("decision_id", d.ID).Msg("persist reserve failure failed")
		}
		monitor.IncSettlement("reserve_unknown")
		logger.Warn().Err(err).Uint("decision_id", d.ID).Msg("reservation outcome unknown")
		return nil, err
	}
	if !reserved {
		err = apperr.ContractRejection("insufficient available balance", "reserve %s of %s for %s", st.amount, st.token, userID)
		return nil, s.fail(st, models.ExecFailed, "insufficient available balance", err)
	}
	if err = s.setStatus(d.ID, models.ExecReserved, nil); err != nil {
		return nil, s.compensate(saga, st, errors.Wrap(err, "persist reservation"))
	}

	settleTx, err := s.settle(saga, st)
	if err != nil {
		return nil, s.compensate(saga, st, err)
	}
	if err = s.setStatus(d.ID, models.ExecSettled, map[string]any{
		"settlement_tx_hash": settleTx,
		"actual_amount":      decimal.NewNullDecimal(st.amount),
	}); err != nil {
		// 结算交易哈希由标记后的最终写入补齐
		logger.Error().Err(err).Uint("decision_id", d.ID).Str("settle_tx", settleTx).Msg("persist settlement failed")
	}

	return s.markExecuted(saga, st, settleTx)
}

func (s *Service) reserve(ctx context.Context, st *settlement) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	return s.chain.ReserveForTrade(ctx, st.decision.UserID, st.token, st.amount)
}

func (s *Service) settle(ctx context.Context, st *settlement) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	d := st.decision
	return s.chain.SettleTrade(ctx, chain.Settlement{
		DecisionID: uint64(d.ID),
		User:       d.UserID,
		AgentID:    d.AgentID,
		Token:      st.token,
		Action:     d.Action,
		Amount:     st.amount,
		Price:      st.price,
	})
}

// release 释放预留，传输错误按退避重试，每次尝试单独限时
func (s *Service) release(ctx context.Context, user, token string, amount decimal.Decimal) (string, error) {
	return retrier.DoWithData(ctx, s.retry, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
		defer cancel()
		return s.chain.ReleaseReservation(ctx, user, token, amount)
	})
}

// reconcile 上次执行停在预留阶段：链上仍持有预留则释放，然后重新执行
// 已发出结算且预留不在链上时结果未知，拒绝自动重试
func (s *Service) reconcile(ctx context.Context, st *settlement) error {
	d := st.decision
	amount := st.amount
	if d.ActualAmount.Valid && d.ActualAmount.Decimal.IsPositive() {
		amount = d.ActualAmount.Decimal
	}

	held, err := s.reservationHeld(ctx, d, st.token, amount)
	if err != nil {
		return err
	}

	switch {
	case held:
		if _, err = s.release(ctx, d.UserID, st.token, amount); err != nil {
			logger.Error().Err(err).
				Uint("decision_id", d.ID).
				Str("amount", amount.String()).
				Msg("release stale reservation failed")
			return err
		}
		monitor.IncSettlement("reconciled")
		logger.Info().
			Uint("decision_id", d.ID).
			Str("status", string(d.ExecutionStatus)).
			Str("amount", amount.String()).
			Msg("stale reservation released")
	case d.ExecutionStatus == models.ExecReserved:
		logger.Error().
			Uint("decision_id", d.ID).
			Str("user_id", d.UserID).
			Msg("reservation gone after settlement attempt, manual reconciliation required")
		return apperr.Conflict("decision %d: settlement outcome unknown, reconcile before retrying", d.ID)
	}

	return s.setStatus(d.ID, models.ExecNone, map[string]any{
		"failure_reason": "",
		"actual_amount":  nil,
	})
}

// reservationHeld 链上预留扣除同一用户其他未完成决策后仍覆盖 amount
func (s *Service) reservationHeld(ctx context.Context, d *models.TradingDecision, token string, amount decimal.Decimal) (bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	bal, err := s.chain.GetUserBalance(stepCtx, d.UserID, token)
	if err != nil {
		return false, err
	}

	others, err := dao.Decision().ListPendingByUser(d.UserID, d.ID)
	if err != nil {
		return false, err
	}
	held := bal.Reserved
	for _, o := range others {
		if t, err := chain.NormalizeAddress(o.TokenAddress); err == nil && t == token && o.ActualAmount.Valid {
			held = held.Sub(o.ActualAmount.Decimal)
		}
	}
	return held.GreaterThanOrEqual(amount), nil
}

// prepareSettlement 校验成交结果与决策一致
func (s *Service) prepareSettlement(d *models.TradingDecision, result models.TradeResult) (*settlement, error) {
	if d.Action == models.ActionHold {
		return nil, apperr.Validation("decision %d is HOLD and cannot be executed", d.ID)
	}

	token, err := chain.NormalizeAddress(d.TokenAddress)
	if err != nil {
		return nil, apperr.Validation("decision %d has no valid token address: %v", d.ID, err)
	}
	if result.TokenAddress != "" {
		reported, err := chain.NormalizeAddress(result.TokenAddress)
		if err != nil {
			return nil, apperr.Validation("invalid tokenAddress: %v", err)
		}
		if reported != token {
			return nil, apperr.Validation("tokenAddress %s does not match decision token %s", result.TokenAddress, d.TokenAddress)
		}
	}

	amount := d.Amount.Decimal
	if result.Amount.IsPositive() {
		if result.Amount.GreaterThan(amount) {
			return nil, apperr.Validation("amount %s exceeds decided amount %s", result.Amount, amount)
		}
		amount = result.Amount.Floor()
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("decision %d has no amount to execute", d.ID)
	}

	price := result.Price
	if price <= 0 {
		price = d.MarketContext.Data().CurrentPrice
	}
	if price <= 0 {
		return nil, apperr.Validation("execution price is required")
	}

	return &settlement{decision: d, token: token, amount: amount, price: price, pnl: result.PnL}, nil
}

// compensate 结算失败后释放预留
func (s *Service) compensate(ctx context.Context, st *settlement, settleErr error) error {
	d := st.decision
	if _, relErr := s.release(ctx, d.UserID, st.token, st.amount); relErr != nil {
		logger.Error().Err(relErr).
			Uint("decision_id", d.ID).
			Str("user_id", d.UserID).
			Str("token", st.token).
			Str("amount", st.amount.String()).
			Msg("release reservation failed, funds remain reserved")
		return s.fail(st, models.ExecFailed,
			fmt.Sprintf("settle: %v; release: %v", settleErr, relErr), settleErr)
	}
	return s.fail(st, models.ExecCompensated, "settle: "+settleErr.Error(), settleErr)
}

// markExecuted 标记链上决策已执行并落库
func (s *Service) markExecuted(ctx context.Context, st *settlement, settleTx string) (*ExecutionResult, error) {
	d := st.decision
	markTx, err := retrier.DoWithData(ctx, s.retry, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
		defer cancel()
		return s.chain.MarkDecisionExecuted(ctx, uint64(d.ID), true, st.amount)
	})
	if err != nil {
		// 资金已结算，保持 settled 状态等待重试
		if uerr := s.setStatus(d.ID, models.ExecSettled, map[string]any{
			"failure_reason":     "mark executed: " + err.Error(),
			"settlement_tx_hash": settleTx,
			"actual_amount":      decimal.NewNullDecimal(st.amount),
		}); uerr != nil {
			logger.Error().Err(uerr).Uint("decision_id", d.ID).Msg("persist mark failure failed")
		}
		monitor.IncSettlement("mark_failed")
		logger.Error().Err(err).Uint("decision_id", d.ID).Str("settle_tx", settleTx).Msg("mark decision executed failed")
		return nil, err
	}

	now := time.Now()
	if err = s.setStatus(d.ID, models.ExecExecuted, map[string]any{
		"executed":           true,
		"failure_reason":     "",
		"actual_amount":      decimal.NewNullDecimal(st.amount),
		"settlement_tx_hash": settleTx,
		"executed_at":        &now,
	}); err != nil {
		logger.Error().Err(err).
			Uint("decision_id", d.ID).
			Str("settle_tx", settleTx).
			Str("mark_tx", markTx).
			Msg("persist executed decision failed")
		return nil, err
	}

	s.recordTrade(st, true, settleTx, markTx, "")
	monitor.IncSettlement("executed")
	logger.Info().
		Uint("decision_id", d.ID).
		Str("user_id", d.UserID).
		Str("agent_id", d.AgentID).
		Str("action", string(d.Action)).
		Str("amount", st.amount.String()).
		Str("settle_tx", settleTx).
		Msg("trade executed")
	s.emitter.Emit(events.New(events.TradeExecuted, d.UserID, d.AgentID, map[string]any{
		"decisionId": d.ID,
		"amount":     st.amount.String(),
		"settleTx":   settleTx,
		"markTx":     markTx,
	}))

	return &ExecutionResult{
		DecisionID:       d.ID,
		Executed:         true,
		Status:           models.ExecExecuted,
		ActualAmount:     st.amount,
		SettlementTxHash: settleTx,
		MarkTxHash:       markTx,
	}, nil
}

// fail 持久化失败状态并返回 cause
func (s *Service) fail(st *settlement, status models.ExecutionStatus, reason string, cause error) error {
	d := st.decision
	if err := s.setStatus(d.ID, status, map[string]any{
		"executed":       false,
		"failure_reason": reason,
	}); err != nil {
		logger.Error().Err(err).Uint("decision_id", d.ID).Msg("persist execution failure failed")
	}

	s.recordTrade(st, false, "", "", reason)
	monitor.IncSettlement(string(status))
	logger.Warn().Err(cause).
		Uint("decision_id", d.ID).
		Str("user_id", d.UserID).
		Str("agent_id", d.AgentID).
		Str("status", string(status)).
		Msg("trade execution failed")
	s.emitter.Emit(events.New(events.TradeFailed, d.UserID, d.AgentID, map[string]any{
		"decisionId": d.ID,
		"status":     status,
		"reason":     reason,
	}))
	return cause
}

func (s *Service) setStatus(id uint, status models.ExecutionStatus, fields map[string]any) error {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["execution_status"] = status
	return dao.Decision().UpdateExecution(id, fields)
}

func (s *Service) recordTrade(st *settlement, success bool, settleTx, markTx, reason string) {
	d := st.decision
	exec := &models.TradeExecution{
		DecisionID:    d.ID,
		UserID:        d.UserID,
		AgentID:       d.AgentID,
		TokenAddress:  st.token,
		Action:        d.Action,
		Amount:        st.amount,
		Price:         st.price,
		Success:       success,
		SettleTxHash:  settleTx,
		MarkTxHash:    markTx,
		FailureReason: truncate(reason, 512),
	}
	if success {
		exec.PnL = st.pnl
	}
	if err := dao.Trade().Create(exec); err != nil {
		logger.Error().Err(err).Uint("decision_id", d.ID).Msg("record trade execution failed")
	}
}

// CanExecuteTrade 链上授权、每日额度与可用余额同时满足
func (s *Service) CanExecuteTrade(ctx context.Context, userID, agentID, token string, amount decimal.Decimal) (*CanTradeResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be positive")
	}
	if _, err := dao.Agent().Get(agentID); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Active(ctx, userID, agentID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return &CanTradeResult{Reason: "no active subscription"}, nil
		}
		return nil, err
	}

	can, err := s.chain.CanAgentTrade(ctx, userID, agentID, amount)
	if err != nil {
		return nil, err
	}
	trades, apiCost, err := s.chain.GetDailyLimitsRemaining(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	res := &CanTradeResult{CanTrade: can, TradesRemaining: trades, APICostRemaining: apiCost}

	if token != "" {
		bal, err := s.chain.GetUserBalance(ctx, userID, token)
		if err != nil {
			return nil, err
		}
		res.Available = bal.Available
		if bal.Available.LessThan(amount) {
			res.CanTrade = false
			res.Reason = "insufficient available balance"
		}
	}
	if !can && res.Reason == "" {
		res.Reason = "rejected by contract (authorization or daily limits)"
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
