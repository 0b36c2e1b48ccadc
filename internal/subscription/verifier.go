package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

const (
	verifyBatchSize = 100
	verifyTimeout   = 30 * time.Second
	// staleRunning running 超过该时长视为进程崩溃遗留
	staleRunning = 5 * time.Minute
)

// Verifier 订阅核验后台任务，任务持久化在 verification_jobs，进程重启后继续
type Verifier struct {
	ledger   *Ledger
	interval time.Duration
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func NewVerifier(ledger *Ledger, interval time.Duration) *Verifier {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Verifier{
		ledger:   ledger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start 启动扫描协程
func (v *Verifier) Start() {
	if n, err := dao.VerificationJob().ResetStale(time.Now().Add(-staleRunning)); err != nil {
		logger.Error().Err(err).Msg("reset stale verification jobs failed")
	} else if n > 0 {
		logger.Info().Int64("jobs", n).Msg("requeued stale verification jobs")
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()

		logger.Info().Dur("interval", v.interval).Msg("subscription verifier started")

		for {
			select {
			case <-ticker.C:
				v.RunOnce(context.Background())
			case <-v.done:
				logger.Info().Msg("subscription verifier stopped")
				return
			}
		}
	}()
}

// Stop 等待当前批次结束
func (v *Verifier) Stop() {
	v.once.Do(func() { close(v.done) })
	v.wg.Wait()
}

// RunOnce 处理一批到期任务，返回处理数量
func (v *Verifier) RunOnce(ctx context.Context) int {
	jobs, err := dao.VerificationJob().Due(time.Now(), verifyBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("load due verification jobs failed")
		return 0
	}

	processed := 0
	for _, job := range jobs {
		select {
		case <-v.done:
			return processed
		default:
		}

		claimed, err := dao.VerificationJob().Claim(job.ID)
		if err != nil {
			logger.Error().Err(err).Uint("job_id", job.ID).Msg("claim verification job failed")
			continue
		}
		if !claimed {
			continue
		}

		jobCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
		_, _ = v.ledger.runJob(jobCtx, job, false)
		cancel()
		processed++
	}

	if n, err := dao.VerificationJob().CountPending(); err == nil {
		monitor.SetVerifyPending(n)
	}
	return processed
}

// Stats 健康检查统计
func (v *Verifier) Stats() map[string]any {
	n, err := dao.VerificationJob().CountPending()
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"pending_jobs": n}
}
