package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/chain"
	"github.com/utrading/utrading-agent-hub/internal/dal/daltest"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/events"
	"github.com/utrading/utrading-agent-hub/internal/models"
)

type fakeChain struct {
	mu    sync.Mutex
	sub   *chain.Subscription
	err   error
	calls int
}

func (f *fakeChain) ContractAddress() string { return "0x0123" }

func (f *fakeChain) GetUserSubscription(context.Context, string, string) (*chain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.sub == nil {
		return &chain.Subscription{}, nil
	}
	s := *f.sub
	return &s, nil
}

func (f *fakeChain) set(sub *chain.Subscription, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub, f.err = sub, err
}

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, evt.Name)
}

func (r *recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func setup(t *testing.T, opts Options) (*Ledger, *fakeChain, *recorder) {
	t.Helper()
	dao.InitDAO(daltest.Open(t))

	require.NoError(t, dao.Agent().Create(&models.AgentDefinition{
		ID:                "a1",
		CreatorID:         "creator",
		Name:              "momentum",
		Strategy:          models.StrategySwing,
		RiskTolerance:     0.8,
		MaxPositionSize:   decimal.NewFromInt(1000),
		StopLossThreshold: 0.1,
		AutomationLevel:   models.AutomationSemiAuto,
		MaxTradesPerDay:   10,
		MaxAPICostPerDay:  decimal.NewFromInt(100),
		IsPublic:          true,
	}))

	fc := &fakeChain{}
	rec := &recorder{}
	return NewLedger(fc, rec, opts), fc, rec
}

func userConfig() models.UserConfig {
	return models.UserConfig{
		AutomationLevel:   models.AutomationAlertOnly,
		MaxTradesPerDay:   5,
		MaxAPICostPerDay:  decimal.NewFromInt(50),
		RiskTolerance:     0.5,
		MaxPositionSize:   decimal.NewFromInt(500),
		StopLossThreshold: 0.05,
	}
}

func activeOnChain() *chain.Subscription {
	return &chain.Subscription{
		IsActive:          true,
		AutomationLevel:   1,
		MaxTradesPerDay:   5,
		MaxAPICostPerDay:  decimal.NewFromInt(50),
		RiskTolerance:     0.5,
		MaxPositionSize:   decimal.NewFromInt(500),
		StopLossThreshold: 0.05,
	}
}

func countSubscriptions(t *testing.T) int {
	t.Helper()
	list, err := dao.Subscription().ListByUser("u1")
	require.NoError(t, err)
	return len(list)
}

func TestPrepareSubscription_RejectsAboveCeiling(t *testing.T) {
	l, _, _ := setup(t, Options{})

	cases := map[string]func(c *models.UserConfig){
		"automation":  func(c *models.UserConfig) { c.AutomationLevel = models.AutomationFullAuto },
		"trades":      func(c *models.UserConfig) { c.MaxTradesPerDay = 11 },
		"apiCost":     func(c *models.UserConfig) { c.MaxAPICostPerDay = decimal.NewFromInt(101) },
		"risk":        func(c *models.UserConfig) { c.RiskTolerance = 0.81 },
		"position":    func(c *models.UserConfig) { c.MaxPositionSize = decimal.NewFromInt(1001) },
		"stopLoss":    func(c *models.UserConfig) { c.StopLossThreshold = 0.2 },
		"invalidAuto": func(c *models.UserConfig) { c.AutomationLevel = "yolo" },
		"zeroSize":    func(c *models.UserConfig) { c.MaxPositionSize = decimal.Zero },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := userConfig()
			mutate(&cfg)

			_, err := l.PrepareSubscription(context.Background(), "a1", cfg)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

			_, err = l.ConfirmSubscription(context.Background(), "u1", "a1", "0xabc", cfg)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Zero(t, countSubscriptions(t))
		})
	}
}

func TestPrepareSubscription_EncodesCall(t *testing.T) {
	l, _, _ := setup(t, Options{})

	prep, err := l.PrepareSubscription(context.Background(), "a1", userConfig())
	require.NoError(t, err)
	assert.Equal(t, "0x0123", prep.ContractAddress)
	assert.Equal(t, chain.EntrySubscribe, prep.Entrypoint)
	assert.Equal(t, "a1", prep.AgentConfig.ID)

	want, err := chain.SubscribeCalldata("a1", userConfig())
	require.NoError(t, err)
	assert.Equal(t, want, prep.Calldata)
	assert.Zero(t, countSubscriptions(t))

	_, err = l.PrepareSubscription(context.Background(), "missing", userConfig())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSubscribeThenQuery(t *testing.T) {
	l, _, rec := setup(t, Options{VerifyDelay: time.Minute})
	ctx := context.Background()

	_, err := l.PrepareSubscription(ctx, "a1", userConfig())
	require.NoError(t, err)
	_, err = l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)

	subs, err := l.UserSubscriptions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "a1", subs[0].AgentID)
	assert.True(t, subs[0].IsActive)
	assert.False(t, subs[0].ContractVerified)
	assert.Equal(t, models.VerifyPending, subs[0].VerifyState)

	job, err := dao.VerificationJob().Open("u1", "a1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, job.NextRunAt.After(time.Now().Add(50*time.Second)))
	assert.Equal(t, []string{events.SubscriptionConfirmed}, rec.Names())
}

func TestUnsubscribeClearsActiveFlag(t *testing.T) {
	l, _, rec := setup(t, Options{})
	ctx := context.Background()

	_, err := l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)

	prep, err := l.PrepareUnsubscription(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, chain.EntryUnsubscribe, prep.Entrypoint)

	require.NoError(t, l.ConfirmUnsubscription(ctx, "u1", "a1", "0xdef"))

	subs, err := l.UserSubscriptions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].IsActive)
	assert.Equal(t, "0xdef", subs[0].UnsubscribeTxHash)

	_, err = l.Active(ctx, "u1", "a1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	job, err := dao.VerificationJob().Open("u1", "a1")
	require.NoError(t, err)
	assert.Nil(t, job, "unsubscription cancels pending verification")

	err = l.ConfirmUnsubscription(ctx, "u1", "a1", "0xdef")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = l.PrepareUnsubscription(ctx, "u1", "a1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	assert.Equal(t, []string{events.SubscriptionConfirmed, events.SubscriptionCancelled}, rec.Names())
}

func TestResubscribeUpdatesInPlace(t *testing.T) {
	l, _, _ := setup(t, Options{})
	ctx := context.Background()

	_, err := l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)
	require.NoError(t, l.ConfirmUnsubscription(ctx, "u1", "a1", "0xdef"))

	cfg := userConfig()
	cfg.MaxPositionSize = decimal.NewFromInt(700)
	_, err = l.ConfirmSubscription(ctx, "u1", "a1", "0xabd", cfg)
	require.NoError(t, err)

	subs, err := l.UserSubscriptions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsActive)
	assert.Nil(t, subs[0].UnsubscribedAt)
	assert.True(t, subs[0].UserConfig.Data().MaxPositionSize.Equal(decimal.NewFromInt(700)))
}

func TestConfirmSubscription_RequiresIdentity(t *testing.T) {
	l, _, _ := setup(t, Options{})

	_, err := l.ConfirmSubscription(context.Background(), "", "a1", "0xabc", userConfig())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = l.ConfirmSubscription(context.Background(), "u1", "a1", "not-a-hash", userConfig())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestVerifier_RoundTrip(t *testing.T) {
	l, fc, rec := setup(t, Options{})
	ctx := context.Background()

	_, err := l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)

	fc.set(activeOnChain(), nil)
	v := NewVerifier(l, time.Hour)
	assert.Equal(t, 1, v.RunOnce(ctx))

	sub, err := dao.Subscription().Get("u1", "a1")
	require.NoError(t, err)
	assert.True(t, sub.IsActive)
	assert.True(t, sub.ContractVerified)
	assert.Equal(t, models.VerifyVerified, sub.VerifyState)
	assert.Equal(t, 1, sub.VerifyAttempts)

	job, err := dao.VerificationJob().Open("u1", "a1")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Contains(t, rec.Names(), events.SubscriptionVerified)

	// 无到期任务
	assert.Zero(t, v.RunOnce(ctx))
}

func TestVerifier_OnChainConfigWins(t *testing.T) {
	l, fc, _ := setup(t, Options{})
	ctx := context.Background()

	_, err := l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)

	onChain := activeOnChain()
	onChain.MaxPositionSize = decimal.NewFromInt(300)
	fc.set(onChain, nil)
	NewVerifier(l, time.Hour).RunOnce(ctx)

	sub, err := dao.Subscription().Get("u1", "a1")
	require.NoError(t, err)
	assert.True(t, sub.UserConfig.Data().MaxPositionSize.Equal(decimal.NewFromInt(300)))
}

func TestVerifier_RetriesWithBackoffThenFails(t *testing.T) {
	l, fc, rec := setup(t, Options{MaxAttempts: 2, BackoffBase: time.Minute, BackoffMax: time.Hour})
	ctx := context.Background()

	_, err := l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)

	// 链上尚不可见
	v := NewVerifier(l, time.Hour)
	assert.Equal(t, 1, v.RunOnce(ctx))

	sub, err := dao.Subscription().Get("u1", "a1")
	require.NoError(t, err)
	assert.False(t, sub.ContractVerified)
	assert.Equal(t, models.VerifyPending, sub.VerifyState)
	assert.Equal(t, 1, sub.VerifyAttempts)
	assert.Contains(t, sub.LastVerifyError, "not active on chain")

	job, err := dao.VerificationJob().Open("u1", "a1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)
	assert.True(t, job.NextRunAt.After(time.Now().Add(50*time.Second)))

	// 退避期内不执行
	assert.Zero(t, v.RunOnce(ctx))

	// 第二次也失败，达到上限
	require.NoError(t, dao.VerificationJob().Reschedule(job.ID, 1, time.Now().Add(-time.Second), ""))
	fc.set(nil, apperr.Transport(nil, "rpc down"))
	assert.Equal(t, 1, v.RunOnce(ctx))

	sub, err = dao.Subscription().Get("u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, models.VerifyFailed, sub.VerifyState)
	assert.Equal(t, 2, sub.VerifyAttempts)
	assert.True(t, sub.IsActive)

	job, err = dao.VerificationJob().Open("u1", "a1")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Contains(t, rec.Names(), events.SubscriptionVerifyFail)
}

func TestVerifier_RejectionIsFinal(t *testing.T) {
	l, fc, _ := setup(t, Options{MaxAttempts: 5})
	ctx := context.Background()

	_, err := l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)

	fc.set(nil, apperr.ContractRejection("unknown agent", "get_user_subscription reverted"))
	NewVerifier(l, time.Hour).RunOnce(ctx)

	sub, err := dao.Subscription().Get("u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, models.VerifyFailed, sub.VerifyState)
	assert.Equal(t, 1, sub.VerifyAttempts)
}

func TestVerifySubscription_Manual(t *testing.T) {
	l, fc, _ := setup(t, Options{VerifyDelay: time.Hour})
	ctx := context.Background()

	_, err := l.VerifySubscription(ctx, "u1", "a1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)

	// 链上尚不可见：返回未核验，任务继续排队
	verified, err := l.VerifySubscription(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.False(t, verified)

	job, err := dao.VerificationJob().Open("u1", "a1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobPending, job.Status)

	fc.set(activeOnChain(), nil)
	verified, err = l.VerifySubscription(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.True(t, verified)

	job, err = dao.VerificationJob().Open("u1", "a1")
	require.NoError(t, err)
	assert.Nil(t, job)

	// 已核验直接返回，不再访问链
	calls := fc.calls
	verified, err = l.VerifySubscription(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Equal(t, calls, fc.calls)
}

func TestVerifySubscription_ManualAfterExhausted(t *testing.T) {
	l, fc, _ := setup(t, Options{MaxAttempts: 1})
	ctx := context.Background()

	_, err := l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)
	NewVerifier(l, time.Hour).RunOnce(ctx)

	sub, err := dao.Subscription().Get("u1", "a1")
	require.NoError(t, err)
	require.Equal(t, models.VerifyFailed, sub.VerifyState)

	fc.set(activeOnChain(), nil)
	verified, err := l.VerifySubscription(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.True(t, verified)

	sub, err = dao.Subscription().Get("u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, models.VerifyVerified, sub.VerifyState)
	assert.Equal(t, 2, sub.VerifyAttempts)
}

func TestVerifier_StaleJobAfterUnsubscribe(t *testing.T) {
	l, fc, _ := setup(t, Options{})
	ctx := context.Background()

	_, err := l.ConfirmSubscription(ctx, "u1", "a1", "0xabc", userConfig())
	require.NoError(t, err)
	require.NoError(t, l.ConfirmUnsubscription(ctx, "u1", "a1", "0xdef"))

	fc.set(activeOnChain(), nil)
	assert.Zero(t, NewVerifier(l, time.Hour).RunOnce(ctx))

	sub, err := dao.Subscription().Get("u1", "a1")
	require.NoError(t, err)
	assert.False(t, sub.ContractVerified)
}
