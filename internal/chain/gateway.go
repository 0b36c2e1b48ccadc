package chain

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-agent-hub/config"
	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Subscription 链上订阅
type Subscription struct {
	IsActive          bool
	AutomationLevel   uint64
	MaxTradesPerDay   uint64
	MaxAPICostPerDay  decimal.Decimal
	RiskTolerance     float64
	MaxPositionSize   decimal.Decimal
	StopLossThreshold float64
	SubscribedAt      time.Time
}

// Balance 链上余额，Available = Total - Reserved
type Balance struct {
	User      string
	Token     string
	Total     decimal.Decimal
	Reserved  decimal.Decimal
	Available decimal.Decimal
}

// Gateway 交易合约的唯一读写入口
// 写操作等待交易上链后返回；网关自身不重试、不去重
type Gateway struct {
	rpc          *RPCClient
	signer       Signer
	contract     string
	account      string
	maxFee       string
	pollInterval time.Duration
	waitTimeout  time.Duration

	nonceMu sync.Mutex // 同一账户的交易按 nonce 顺序提交
	chainID string
}

func NewGateway(rpcClient *RPCClient, signer Signer, cfg config.Starknet) (*Gateway, error) {
	contract, err := NormalizeAddress(cfg.ContractAddress)
	if err != nil {
		return nil, errors.Wrap(err, "contract_address")
	}
	account, err := NormalizeAddress(cfg.AccountAddress)
	if err != nil {
		return nil, errors.Wrap(err, "account_address")
	}

	g := &Gateway{
		rpc:          rpcClient,
		signer:       signer,
		contract:     contract,
		account:      account,
		maxFee:       cfg.MaxFee,
		pollInterval: cfg.TxPollInterval.Duration,
		waitTimeout:  cfg.TxWaitTimeout.Duration,
	}
	if g.pollInterval <= 0 {
		g.pollInterval = 3 * time.Second
	}
	if g.waitTimeout <= 0 {
		g.waitTimeout = 3 * time.Minute
	}
	return g, nil
}

func (g *Gateway) ContractAddress() string {
	return g.contract
}

// Ping 就绪检查
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.rpc.ChainID(ctx)
	return err
}

func resultLabel(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindUnknown:
		if err == nil {
			return "ok"
		}
		return "error"
	case apperr.KindContractRejection:
		return "rejected"
	case apperr.KindTransport:
		return "transport"
	default:
		return "error"
	}
}

// view 只读调用
func (g *Gateway) view(ctx context.Context, entrypoint string, args []string) ([]string, error) {
	start := time.Now()
	out, err := g.rpc.Call(ctx, FunctionCall{
		ContractAddress:    g.contract,
		EntryPointSelector: Selector(entrypoint),
		Calldata:           args,
	})
	monitor.ObserveContractCall(entrypoint, resultLabel(err), start)
	return out, err
}

// invoke 签名、提交并等待上链
func (g *Gateway) invoke(ctx context.Context, entrypoint string, args []string) (string, error) {
	start := time.Now()
	txHash, err := g.submit(ctx, entrypoint, args)
	if err == nil {
		err = g.waitForTx(ctx, entrypoint, txHash)
	}
	monitor.ObserveContractCall(entrypoint, resultLabel(err), start)

	if err != nil {
		logger.Warn().Err(err).
			Str("entrypoint", entrypoint).
			Str("tx_hash", txHash).
			Msg("contract invoke failed")
		return txHash, err
	}

	logger.Info().
		Str("entrypoint", entrypoint).
		Str("tx_hash", txHash).
		Dur("elapsed", time.Since(start)).
		Msg("contract invoke accepted")
	return txHash, nil
}

func (g *Gateway) submit(ctx context.Context, entrypoint string, args []string) (string, error) {
	g.nonceMu.Lock()
	defer g.nonceMu.Unlock()

	if g.chainID == "" {
		id, err := g.rpc.ChainID(ctx)
		if err != nil {
			return "", err
		}
		g.chainID = id
	}

	nonce, err := g.rpc.Nonce(ctx, g.account)
	if err != nil {
		return "", err
	}

	tx := InvokeTxn{
		Type:          "INVOKE",
		SenderAddress: g.account,
		Calldata:      executeCalldata(g.contract, entrypoint, args),
		MaxFee:        g.maxFee,
		Version:       "0x1",
		Nonce:         nonce,
	}

	tx.Signature, err = g.signer.SignInvoke(ctx, SignRequest{
		ChainID:       g.chainID,
		SenderAddress: tx.SenderAddress,
		Calldata:      tx.Calldata,
		MaxFee:        tx.MaxFee,
		Version:       tx.Version,
		Nonce:         tx.Nonce,
	})
	if err != nil {
		return "", err
	}

	return g.rpc.AddInvoke(ctx, tx)
}

// waitForTx 轮询回执直到上链；回滚返回 ContractRejection，超时返回 Transport
func (g *Gateway) waitForTx(ctx context.Context, entrypoint, txHash string) error {
	ctx, cancel := context.WithTimeout(ctx, g.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := g.rpc.Receipt(ctx, txHash)
		if err != nil {
			// 轮询期间的网络抖动不中断等待
			lastErr = err
			logger.Debug().Err(err).Str("tx_hash", txHash).Msg("poll receipt failed")
		}
		if receipt != nil {
			if receipt.ExecutionStatus == ExecutionReverted {
				return apperr.ContractRejection(receipt.RevertReason, "%s reverted", entrypoint)
			}
			if receipt.Included() && receipt.ExecutionStatus == ExecutionSucceeded {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return apperr.Transport(lastErr, "%s tx %s not included", entrypoint, txHash)
			}
			return apperr.Transport(ctx.Err(), "%s tx %s not included", entrypoint, txHash)
		case <-ticker.C:
		}
	}
}

// CreateAgentConfig Agent 已在链上注册时合约回滚
func (g *Gateway) CreateAgentConfig(ctx context.Context, agentID string, cfg models.AgentConfig) (string, error) {
	args, err := AgentConfigCalldata(agentID, cfg)
	if err != nil {
		return "", apperr.Validation("encode agent config: %v", err)
	}
	return g.invoke(ctx, EntryCreateAgentConfig, args)
}

// ReserveForTrade 先模拟执行检查可用余额，不足返回 false 且不发交易
// 交易被合约回滚同样返回 false
func (g *Gateway) ReserveForTrade(ctx context.Context, user, token string, amount decimal.Decimal) (bool, error) {
	args, err := reservationCalldata(user, token, amount)
	if err != nil {
		return false, apperr.Validation("encode reservation: %v", err)
	}

	out, err := g.view(ctx, EntryReserveForTrade, args)
	if err != nil {
		return false, err
	}
	ok, err := firstBool(out)
	if err != nil {
		return false, apperr.Transport(err, "decode %s", EntryReserveForTrade)
	}
	if !ok {
		return false, nil
	}

	// 模拟与上链之间余额可能被并发占用，回滚说明未预留成功
	if txHash, err := g.invoke(ctx, EntryReserveForTrade, args); err != nil {
		if apperr.Is(err, apperr.KindContractRejection) {
			logger.Warn().Err(err).
				Str("tx_hash", txHash).
				Str("user", user).
				Str("amount", amount.String()).
				Msg("reservation reverted after successful simulation")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *Gateway) ReleaseReservation(ctx context.Context, user, token string, amount decimal.Decimal) (string, error) {
	args, err := reservationCalldata(user, token, amount)
	if err != nil {
		return "", apperr.Validation("encode reservation: %v", err)
	}
	return g.invoke(ctx, EntryReleaseReservation, args)
}

// SettleTrade 把预留转为成交并更新余额
func (g *Gateway) SettleTrade(ctx context.Context, s Settlement) (string, error) {
	args, err := settlementCalldata(s)
	if err != nil {
		return "", apperr.Validation("encode settlement: %v", err)
	}
	return g.invoke(ctx, EntryExecuteSettlement, args)
}

func (g *Gateway) MarkDecisionExecuted(ctx context.Context, decisionID uint64, success bool, actualAmount decimal.Decimal) (string, error) {
	c := &calldata{}
	args, err := c.u64(decisionID).raw(FeltFromBool(success)).u256(actualAmount).done()
	if err != nil {
		return "", apperr.Validation("encode mark executed: %v", err)
	}
	return g.invoke(ctx, EntryMarkExecuted, args)
}

func (g *Gateway) GetUserSubscription(ctx context.Context, user, agentID string) (*Subscription, error) {
	c := &calldata{}
	args, err := c.address(user).short(agentID).done()
	if err != nil {
		return nil, apperr.Validation("encode subscription query: %v", err)
	}

	out, err := g.view(ctx, EntryGetUserSubscription, args)
	if err != nil {
		return nil, err
	}
	sub, err := decodeSubscription(out)
	if err != nil {
		return nil, apperr.Transport(err, "decode %s", EntryGetUserSubscription)
	}
	return sub, nil
}

func (g *Gateway) GetUserBalance(ctx context.Context, user, token string) (*Balance, error) {
	c := &calldata{}
	args, err := c.address(user).address(token).done()
	if err != nil {
		return nil, apperr.Validation("encode balance query: %v", err)
	}

	out, err := g.view(ctx, EntryGetUserBalance, args)
	if err != nil {
		return nil, err
	}
	if len(out) < 4 {
		return nil, apperr.Transport(nil, "decode %s: got %d felts", EntryGetUserBalance, len(out))
	}
	total, err := JoinU256(out[0], out[1])
	if err != nil {
		return nil, apperr.Transport(err, "decode total balance")
	}
	reserved, err := JoinU256(out[2], out[3])
	if err != nil {
		return nil, apperr.Transport(err, "decode reserved balance")
	}

	return &Balance{
		User:      user,
		Token:     token,
		Total:     total,
		Reserved:  reserved,
		Available: total.Sub(reserved),
	}, nil
}

// CanAgentTrade 链上综合检查授权、每日限额与可用余额
func (g *Gateway) CanAgentTrade(ctx context.Context, user, agentID string, amount decimal.Decimal) (bool, error) {
	c := &calldata{}
	args, err := c.address(user).short(agentID).u256(amount).done()
	if err != nil {
		return false, apperr.Validation("encode trade check: %v", err)
	}

	out, err := g.view(ctx, EntryCanAgentTrade, args)
	if err != nil {
		return false, err
	}
	ok, err := firstBool(out)
	if err != nil {
		return false, apperr.Transport(err, "decode %s", EntryCanAgentTrade)
	}
	return ok, nil
}

func (g *Gateway) GetDailyLimitsRemaining(ctx context.Context, user, agentID string) (uint64, decimal.Decimal, error) {
	c := &calldata{}
	args, err := c.address(user).short(agentID).done()
	if err != nil {
		return 0, decimal.Zero, apperr.Validation("encode limits query: %v", err)
	}

	out, err := g.view(ctx, EntryGetDailyLimits, args)
	if err != nil {
		return 0, decimal.Zero, err
	}
	if len(out) < 3 {
		return 0, decimal.Zero, apperr.Transport(nil, "decode %s: got %d felts", EntryGetDailyLimits, len(out))
	}
	trades, err := FeltToUint64(out[0])
	if err != nil {
		return 0, decimal.Zero, apperr.Transport(err, "decode trades remaining")
	}
	cost, err := JoinU256(out[1], out[2])
	if err != nil {
		return 0, decimal.Zero, apperr.Transport(err, "decode api cost remaining")
	}
	return trades, cost, nil
}

func firstBool(out []string) (bool, error) {
	if len(out) == 0 {
		return false, errors.New("empty result")
	}
	return FeltToBool(out[0])
}

// decodeSubscription 依次为 is_active, automation, max_trades, api_cost(u256), risk, max_position(u256), stop_loss, subscribed_at
func decodeSubscription(out []string) (*Subscription, error) {
	if len(out) < 10 {
		return nil, errors.Errorf("got %d felts, want 10", len(out))
	}

	var (
		sub Subscription
		err error
		ts  uint64
	)
	if sub.IsActive, err = FeltToBool(out[0]); err != nil {
		return nil, err
	}
	if sub.AutomationLevel, err = FeltToUint64(out[1]); err != nil {
		return nil, err
	}
	if sub.MaxTradesPerDay, err = FeltToUint64(out[2]); err != nil {
		return nil, err
	}
	if sub.MaxAPICostPerDay, err = JoinU256(out[3], out[4]); err != nil {
		return nil, err
	}
	if sub.RiskTolerance, err = FeltToRatio(out[5]); err != nil {
		return nil, err
	}
	if sub.MaxPositionSize, err = JoinU256(out[6], out[7]); err != nil {
		return nil, err
	}
	if sub.StopLossThreshold, err = FeltToRatio(out[8]); err != nil {
		return nil, err
	}
	if ts, err = FeltToUint64(out[9]); err != nil {
		return nil, err
	}
	if ts > 0 {
		sub.SubscribedAt = time.Unix(int64(ts), 0)
	}
	return &sub, nil
}
