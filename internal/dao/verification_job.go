package dao

import (
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-agent-hub/internal/models"
)

type VerificationJobDAO struct {
	db *gorm.DB
}

var _verificationJob *VerificationJobDAO

func InitVerificationJobDAO(db *gorm.DB) {
	_verificationJob = &VerificationJobDAO{db: db}
}

// VerificationJob 获取 VerificationJobDAO 单例
func VerificationJob() *VerificationJobDAO {
	return _verificationJob
}

// Due 到期的待执行任务
func (d *VerificationJobDAO) Due(now time.Time, limit int) ([]*models.VerificationJob, error) {
	var jobs []*models.VerificationJob
	err := d.db.Where("status = ? AND next_run_at <= ?", models.JobPending, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, wrapErr(err, "load due verification jobs")
}

// Claim 抢占任务，多实例部署时只有一个实例能拿到
func (d *VerificationJobDAO) Claim(id uint) (bool, error) {
	res := d.db.Model(&models.VerificationJob{}).
		Where("id = ? AND status = ?", id, models.JobPending).
		Update("status", models.JobRunning)
	if res.Error != nil {
		return false, wrapErr(res.Error, "claim verification job %d", id)
	}
	return res.RowsAffected == 1, nil
}

// Reschedule 失败后放回队列
// 任务已被取消时不会被改回 pending
func (d *VerificationJobDAO) Reschedule(id uint, attempts int, next time.Time, lastErr string) error {
	err := d.db.Model(&models.VerificationJob{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.JobPending, models.JobRunning}).
		Updates(map[string]any{
			"status":      models.JobPending,
			"attempts":    attempts,
			"next_run_at": next,
			"last_error":  truncate(lastErr, 512),
		}).Error
	return wrapErr(err, "reschedule verification job %d", id)
}

// Finish 任务进入终态
func (d *VerificationJobDAO) Finish(id uint, status models.JobStatus, attempts int, lastErr string) error {
	err := d.db.Model(&models.VerificationJob{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.JobPending, models.JobRunning}).
		Updates(map[string]any{
			"status":     status,
			"attempts":   attempts,
			"last_error": truncate(lastErr, 512),
		}).Error
	return wrapErr(err, "finish verification job %d", id)
}

// Open 该订阅当前未结束的任务，没有时返回 nil
func (d *VerificationJobDAO) Open(userID, agentID string) (*models.VerificationJob, error) {
	var jobs []*models.VerificationJob
	err := d.db.Where("user_id = ? AND agent_id = ? AND status IN ?", userID, agentID,
		[]models.JobStatus{models.JobPending, models.JobRunning}).
		Order("id DESC").
		Limit(1).
		Find(&jobs).Error
	if err != nil {
		return nil, wrapErr(err, "load verification job of %s/%s", userID, agentID)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// ResetStale 把长时间停留在 running 的任务（进程崩溃遗留）放回队列
func (d *VerificationJobDAO) ResetStale(before time.Time) (int64, error) {
	res := d.db.Model(&models.VerificationJob{}).
		Where("status = ? AND updated_at < ?", models.JobRunning, before).
		Updates(map[string]any{"status": models.JobPending, "next_run_at": time.Now()})
	return res.RowsAffected, wrapErr(res.Error, "reset stale verification jobs")
}

func (d *VerificationJobDAO) CountPending() (int64, error) {
	var n int64
	err := d.db.Model(&models.VerificationJob{}).
		Where("status IN ?", []models.JobStatus{models.JobPending, models.JobRunning}).
		Count(&n).Error
	return n, wrapErr(err, "count pending verification jobs")
}

// DeleteFinishedBefore 清理已结束的历史任务
func (d *VerificationJobDAO) DeleteFinishedBefore(before time.Time) (int64, error) {
	res := d.db.Where("status IN ? AND updated_at < ?",
		[]models.JobStatus{models.JobDone, models.JobFailed, models.JobCancelled}, before).
		Delete(&models.VerificationJob{})
	return res.RowsAffected, wrapErr(res.Error, "delete finished verification jobs")
}
