// Package subscription 订阅的链下账本：prepare → (钱包提交) → confirm → verify
package subscription

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"

	"github.com/utrading/utrading-agent-hub/config"
	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/chain"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/events"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
	"github.com/utrading/utrading-agent-hub/pkg/retrier"
)

// Chain 账本需要的合约能力
type Chain interface {
	ContractAddress() string
	GetUserSubscription(ctx context.Context, user, agentID string) (*chain.Subscription, error)
}

// Options 核验调度参数
type Options struct {
	VerifyDelay time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func OptionsFromConfig(c config.AgentHub) Options {
	return Options{
		VerifyDelay: c.VerifyDelay.Duration,
		MaxAttempts: c.VerifyMaxAttempts,
		BackoffBase: c.VerifyBackoffBase.Duration,
		BackoffMax:  c.VerifyBackoffMax.Duration,
	}
}

var errNotOnChain = errors.New("subscription not active on chain")

type Ledger struct {
	chain   Chain
	emitter events.Emitter
	opts    Options
	retry   *retrier.Retrier
}

func NewLedger(c Chain, emitter events.Emitter, opts Options) *Ledger {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 10 * time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	return &Ledger{
		chain:   c,
		emitter: emitter,
		opts:    opts,
		retry: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithRetryIf(apperr.IsRetryable),
		),
	}
}

// PrepareSubscription 校验并编码订阅调用，不落库
func (l *Ledger) PrepareSubscription(ctx context.Context, agentID string, cfg models.UserConfig) (*models.PrepData, error) {
	agent, err := dao.Agent().Get(agentID)
	if err != nil {
		return nil, err
	}
	if err = ValidateUserConfig(agent, cfg); err != nil {
		return nil, err
	}

	calldata, err := chain.SubscribeCalldata(agentID, cfg)
	if err != nil {
		return nil, apperr.Validation("encode subscription: %v", err)
	}

	return &models.PrepData{
		ContractAddress: l.chain.ContractAddress(),
		Entrypoint:      chain.EntrySubscribe,
		Calldata:        calldata,
		AgentConfig:     agent,
	}, nil
}

// ConfirmSubscription 乐观写入活跃未核验的订阅，并登记延迟核验任务
func (l *Ledger) ConfirmSubscription(ctx context.Context, userID, agentID, txHash string, cfg models.UserConfig) (*models.UserSubscription, error) {
	if err := requireIdentity(userID, txHash); err != nil {
		return nil, err
	}
	agent, err := dao.Agent().Get(agentID)
	if err != nil {
		return nil, err
	}
	if err = ValidateUserConfig(agent, cfg); err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &models.UserSubscription{
		UserID:       userID,
		AgentID:      agentID,
		UserConfig:   datatypes.NewJSONType(cfg),
		TxHash:       txHash,
		SubscribedAt: now,
		IsActive:     true,
		VerifyState:  models.VerifyPending,
	}
	job := &models.VerificationJob{
		UserID:    userID,
		AgentID:   agentID,
		TxHash:    txHash,
		Status:    models.JobPending,
		NextRunAt: now.Add(l.opts.VerifyDelay),
	}
	if err = dao.Subscription().ConfirmWithJob(sub, job); err != nil {
		return nil, err
	}

	logger.Info().
		Str("user_id", userID).
		Str("agent_id", agentID).
		Str("tx_hash", txHash).
		Time("verify_at", job.NextRunAt).
		Msg("subscription confirmed")
	l.emitter.Emit(events.New(events.SubscriptionConfirmed, userID, agentID, map[string]any{"txHash": txHash}))

	return sub, nil
}

// VerifySubscription 立即核验，结果同步返回并结束待执行任务
func (l *Ledger) VerifySubscription(ctx context.Context, userID, agentID string) (bool, error) {
	sub, err := dao.Subscription().GetActive(userID, agentID)
	if err != nil {
		return false, err
	}
	if sub.ContractVerified {
		return true, nil
	}

	job, err := dao.VerificationJob().Open(userID, agentID)
	if err != nil {
		return false, err
	}
	if job == nil {
		// 任务已耗尽重试，手动核验仍允许
		job = &models.VerificationJob{UserID: userID, AgentID: agentID, TxHash: sub.TxHash, Attempts: sub.VerifyAttempts}
	} else {
		claimed, err := dao.VerificationJob().Claim(job.ID)
		if err != nil {
			return false, err
		}
		if !claimed {
			return false, apperr.Conflict("verification of %s/%s already in progress", userID, agentID)
		}
	}

	verified, err := l.runJob(ctx, job, true)
	if errors.Is(err, errNotOnChain) {
		return false, nil
	}
	return verified, err
}

// runJob 执行一次核验并推进任务状态；job.ID 为 0 时不维护任务表
func (l *Ledger) runJob(ctx context.Context, job *models.VerificationJob, manual bool) (bool, error) {
	attempts := job.Attempts + 1
	onChain, err := l.check(ctx, job, manual)
	if err == nil {
		return l.onVerified(job, attempts, onChain)
	}

	reason := err.Error()
	final := attempts >= l.opts.MaxAttempts || !retryableVerifyErr(err)
	if job.ID == 0 {
		// 无待执行任务时的手动核验不再调度重试
		final = true
	}

	if rerr := dao.Subscription().RecordVerifyFailure(job.UserID, job.AgentID, job.TxHash, attempts, reason, final); rerr != nil {
		return false, rerr
	}

	if job.ID != 0 {
		if final {
			err2 := dao.VerificationJob().Finish(job.ID, models.JobFailed, attempts, reason)
			if err2 != nil {
				return false, err2
			}
		} else {
			next := time.Now().Add(retrier.Backoff(l.opts.BackoffBase, l.opts.BackoffMax, attempts))
			if err2 := dao.VerificationJob().Reschedule(job.ID, attempts, next, reason); err2 != nil {
				return false, err2
			}
		}
	}

	result := "retry"
	if final {
		result = "failed"
		l.emitter.Emit(events.New(events.SubscriptionVerifyFail, job.UserID, job.AgentID, map[string]any{
			"txHash":   job.TxHash,
			"attempts": attempts,
			"error":    reason,
		}))
	}
	monitor.IncVerifyAttempt(result)
	logger.Warn().Err(err).
		Str("user_id", job.UserID).
		Str("agent_id", job.AgentID).
		Str("tx_hash", job.TxHash).
		Int("attempts", attempts).
		Bool("final", final).
		Bool("manual", manual).
		Msg("subscription verification failed")

	return false, err
}

func (l *Ledger) onVerified(job *models.VerificationJob, attempts int, onChain *models.UserConfig) (bool, error) {
	ok, err := dao.Subscription().MarkVerified(job.UserID, job.AgentID, job.TxHash, attempts, onChain)
	if err != nil {
		return false, err
	}

	status := models.JobDone
	if !ok {
		// 订阅已被重新确认或退订，该任务失效
		status = models.JobCancelled
	}
	if job.ID != 0 {
		if err = dao.VerificationJob().Finish(job.ID, status, attempts, ""); err != nil {
			return false, err
		}
	}
	if !ok {
		monitor.IncVerifyAttempt("stale")
		return false, nil
	}

	monitor.IncVerifyAttempt("verified")
	logger.Info().
		Str("user_id", job.UserID).
		Str("agent_id", job.AgentID).
		Int("attempts", attempts).
		Msg("subscription verified on chain")
	l.emitter.Emit(events.New(events.SubscriptionVerified, job.UserID, job.AgentID, map[string]any{
		"txHash":   job.TxHash,
		"attempts": attempts,
	}))
	return true, nil
}

// check 读取链上订阅，链上状态优先
func (l *Ledger) check(ctx context.Context, job *models.VerificationJob, manual bool) (*models.UserConfig, error) {
	read := func(ctx context.Context) (*chain.Subscription, error) {
		return l.chain.GetUserSubscription(ctx, job.UserID, job.AgentID)
	}

	var (
		s   *chain.Subscription
		err error
	)
	if manual {
		s, err = retrier.DoWithData(ctx, l.retry, read)
	} else {
		s, err = read(ctx)
	}
	if err != nil {
		return nil, err
	}
	if !s.IsActive {
		return nil, errNotOnChain
	}

	cfg, ok := projectConfig(s)
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

// projectConfig 链上订阅配置转为链下结构
func projectConfig(s *chain.Subscription) (models.UserConfig, bool) {
	level, ok := models.AutomationLevelFromCode(s.AutomationLevel)
	if !ok {
		return models.UserConfig{}, false
	}
	return models.UserConfig{
		AutomationLevel:   level,
		MaxTradesPerDay:   int(s.MaxTradesPerDay),
		MaxAPICostPerDay:  s.MaxAPICostPerDay,
		RiskTolerance:     s.RiskTolerance,
		MaxPositionSize:   s.MaxPositionSize,
		StopLossThreshold: s.StopLossThreshold,
	}, true
}

// retryableVerifyErr 链上尚未可见与传输错误可重试，其余为终态
func retryableVerifyErr(err error) bool {
	return errors.Is(err, errNotOnChain) || apperr.IsRetryable(err)
}

// PrepareUnsubscription 编码退订调用，要求存在活跃订阅
func (l *Ledger) PrepareUnsubscription(ctx context.Context, userID, agentID string) (*models.PrepData, error) {
	if _, err := dao.Subscription().GetActive(userID, agentID); err != nil {
		return nil, err
	}
	agent, err := dao.Agent().Get(agentID)
	if err != nil {
		return nil, err
	}

	calldata, err := chain.UnsubscribeCalldata(agentID)
	if err != nil {
		return nil, apperr.Validation("encode unsubscription: %v", err)
	}
	return &models.PrepData{
		ContractAddress: l.chain.ContractAddress(),
		Entrypoint:      chain.EntryUnsubscribe,
		Calldata:        calldata,
		AgentConfig:     agent,
	}, nil
}

// ConfirmUnsubscription 置为非活跃并取消待执行的核验任务
func (l *Ledger) ConfirmUnsubscription(ctx context.Context, userID, agentID, txHash string) error {
	if err := requireIdentity(userID, txHash); err != nil {
		return err
	}
	ok, err := dao.Subscription().Deactivate(userID, agentID, txHash, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("no active subscription for %s/%s", userID, agentID)
	}

	logger.Info().
		Str("user_id", userID).
		Str("agent_id", agentID).
		Str("tx_hash", txHash).
		Msg("subscription cancelled")
	l.emitter.Emit(events.New(events.SubscriptionCancelled, userID, agentID, map[string]any{"txHash": txHash}))
	return nil
}

// UserSubscriptions 返回用户全部订阅，已退订的记录 isActive=false
func (l *Ledger) UserSubscriptions(ctx context.Context, userID string) ([]*models.UserSubscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("userId is required")
	}
	return dao.Subscription().ListByUser(userID)
}

// Active 活跃订阅，不存在返回 NotFound
func (l *Ledger) Active(ctx context.Context, userID, agentID string) (*models.UserSubscription, error) {
	return dao.Subscription().GetActive(userID, agentID)
}

func requireIdentity(userID, txHash string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.Validation("userId is required")
	}
	if _, err := chain.ParseFelt(txHash); err != nil {
		return apperr.Validation("invalid txHash %q: %v", txHash, err)
	}
	return nil
}
