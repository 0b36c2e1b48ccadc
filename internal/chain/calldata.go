package chain

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-agent-hub/internal/models"
)

// 合约入口
const (
	EntryCreateAgentConfig   = "create_agent_config"
	EntrySubscribe           = "subscribe_to_agent"
	EntryUnsubscribe         = "unsubscribe_from_agent"
	EntryReserveForTrade     = "reserve_for_trade"
	EntryReleaseReservation  = "release_reservation"
	EntryExecuteSettlement   = "execute_trade_settlement"
	EntryMarkExecuted        = "mark_decision_executed"
	EntryGetUserSubscription = "get_user_subscription"
	EntryGetUserBalance      = "get_user_balance"
	EntryCanAgentTrade       = "can_agent_trade"
	EntryGetDailyLimits      = "get_daily_limits_remaining"
	EntryDeposit             = "deposit"
	EntryWithdraw            = "withdraw"
)

// priceScale 价格以 1e8 定点数上链
var priceScale = decimal.New(1, 8)

// calldata 顺序拼装 felt，遇到第一个错误即停止
type calldata struct {
	felts []string
	err   error
}

func (c *calldata) raw(v string) *calldata {
	if c.err == nil {
		c.felts = append(c.felts, v)
	}
	return c
}

func (c *calldata) address(v string) *calldata {
	if c.err != nil {
		return c
	}
	a, err := NormalizeAddress(v)
	if err != nil {
		c.err = errors.Wrapf(err, "address %q", v)
		return c
	}
	return c.raw(a)
}

func (c *calldata) short(v string) *calldata {
	if c.err != nil {
		return c
	}
	f, err := ShortString(v)
	if err != nil {
		c.err = err
		return c
	}
	return c.raw(f)
}

func (c *calldata) u64(v uint64) *calldata {
	return c.raw(FeltFromUint64(v))
}

func (c *calldata) ratio(v float64) *calldata {
	if c.err != nil {
		return c
	}
	f, err := RatioToFelt(v)
	if err != nil {
		c.err = err
		return c
	}
	return c.raw(f)
}

func (c *calldata) u256(v decimal.Decimal) *calldata {
	if c.err != nil {
		return c
	}
	low, high, err := SplitU256(v)
	if err != nil {
		c.err = err
		return c
	}
	return c.raw(low).raw(high)
}

func (c *calldata) done() ([]string, error) {
	return c.felts, c.err
}

func AgentConfigCalldata(agentID string, cfg models.AgentConfig) ([]string, error) {
	c := &calldata{}
	return c.short(agentID).
		raw(TruncatedShortString(cfg.Name)).
		u64(cfg.Strategy.Code()).
		ratio(cfg.RiskTolerance).
		u256(cfg.MaxPositionSize).
		ratio(cfg.StopLossThreshold).
		u64(cfg.AutomationLevel.Code()).
		u64(uint64(cfg.MaxTradesPerDay)).
		u256(cfg.MaxAPICostPerDay).
		done()
}

// SubscribeCalldata subscribe_to_agent 参数，由前端钱包签名提交
func SubscribeCalldata(agentID string, cfg models.UserConfig) ([]string, error) {
	c := &calldata{}
	return c.short(agentID).
		u64(cfg.AutomationLevel.Code()).
		u64(uint64(cfg.MaxTradesPerDay)).
		u256(cfg.MaxAPICostPerDay).
		ratio(cfg.RiskTolerance).
		u256(cfg.MaxPositionSize).
		ratio(cfg.StopLossThreshold).
		done()
}

func UnsubscribeCalldata(agentID string) ([]string, error) {
	c := &calldata{}
	return c.short(agentID).done()
}

// TokenAmountCalldata deposit / withdraw 参数
func TokenAmountCalldata(token string, amount decimal.Decimal) ([]string, error) {
	c := &calldata{}
	return c.address(token).u256(amount).done()
}

func reservationCalldata(user, token string, amount decimal.Decimal) ([]string, error) {
	c := &calldata{}
	return c.address(user).address(token).u256(amount).done()
}

// Settlement 结算请求
type Settlement struct {
	DecisionID uint64
	User       string
	AgentID    string
	Token      string
	Action     models.Action
	Amount     decimal.Decimal
	Price      float64
}

func settlementCalldata(s Settlement) ([]string, error) {
	if s.Action != models.ActionBuy && s.Action != models.ActionSell {
		return nil, errors.Errorf("cannot settle %s decision", s.Action)
	}
	price := decimal.NewFromFloat(s.Price).Mul(priceScale).Round(0)
	if price.IsNegative() {
		return nil, errors.Errorf("negative price %v", s.Price)
	}

	c := &calldata{}
	return c.u64(s.DecisionID).
		address(s.User).
		short(s.AgentID).
		address(s.Token).
		raw(FeltFromBool(s.Action == models.ActionBuy)).
		u256(s.Amount).
		u256(price).
		done()
}

// executeCalldata 账户 __execute__ 的单笔调用数组
func executeCalldata(contract, entrypoint string, args []string) []string {
	out := make([]string, 0, len(args)+4)
	out = append(out, "0x1", contract, Selector(entrypoint), FeltFromUint64(uint64(len(args))))
	return append(out, args...)
}
