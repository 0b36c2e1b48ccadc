package cleaner

import (
	"time"

	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Cleaner 数据清理器，定时清理历史核验任务
type Cleaner struct {
	interval  time.Duration // 清理间隔
	retention time.Duration // 已结束任务保留时长
	staleTTL  time.Duration // running 超过该时长视为中断
	done      chan struct{} // 停止信号
}

// NewCleaner 创建清理器
func NewCleaner() *Cleaner {
	return &Cleaner{
		interval:  1 * time.Hour, // 固定 1 小时
		retention: 7 * 24 * time.Hour,
		staleTTL:  5 * time.Minute,
		done:      make(chan struct{}),
	}
}

// Start 启动清理任务
func (c *Cleaner) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		logger.Info().Msg("cleaner started")

		// 启动时立即执行一次
		c.clean(time.Now())

		for {
			select {
			case <-ticker.C:
				c.clean(time.Now())
			case <-c.done:
				logger.Info().Msg("cleaner stopped")
				return
			}
		}
	}()
}

// Stop 停止清理器
func (c *Cleaner) Stop() {
	close(c.done)
}

// clean 执行清理任务
func (c *Cleaner) clean(now time.Time) {
	logger.Debug().Msg("running cleanup task")

	if err := c.cleanFinishedJobs(now); err != nil {
		logger.Error().Err(err).Msg("clean finished verification jobs failed")
	}

	if err := c.resetStaleJobs(now); err != nil {
		logger.Error().Err(err).Msg("reset stale verification jobs failed")
	}
}

// cleanFinishedJobs 清理 7 天前结束的核验任务
func (c *Cleaner) cleanFinishedJobs(now time.Time) error {
	cutoff := now.Add(-c.retention)
	deleted, err := dao.VerificationJob().DeleteFinishedBefore(cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("cleaned finished verification jobs")
	}

	return nil
}

// resetStaleJobs 进程中断遗留的 running 任务重新入队
func (c *Cleaner) resetStaleJobs(now time.Time) error {
	reset, err := dao.VerificationJob().ResetStale(now.Add(-c.staleTTL))
	if err != nil {
		return err
	}
	if reset > 0 {
		logger.Warn().Int64("reset", reset).Msg("requeued stale verification jobs")
	}
	return nil
}
