package dao

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/utrading/utrading-agent-hub/internal/models"
)

type SubscriptionDAO struct {
	db *gorm.DB
}

var _subscription *SubscriptionDAO

func InitSubscriptionDAO(db *gorm.DB) {
	_subscription = &SubscriptionDAO{db: db}
}

// Subscription 获取 SubscriptionDAO 单例
func Subscription() *SubscriptionDAO {
	return _subscription
}

var upsertColumns = []string{
	"user_config", "tx_hash", "subscribed_at", "is_active",
	"contract_verified", "verify_state", "verify_attempts", "last_verify_error", "verified_at",
	"unsubscribed_at", "unsubscribe_tx_hash", "updated_at",
}

// ConfirmWithJob 在同一事务内 upsert 订阅并写入核验任务
// 同一 (user, agent) 旧的待执行任务会被取消
func (d *SubscriptionDAO) ConfirmWithJob(sub *models.UserSubscription, job *models.VerificationJob) error {
	err := d.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "agent_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(sub).Error
		if err != nil {
			return err
		}

		if err = cancelPendingJobs(tx, sub.UserID, sub.AgentID); err != nil {
			return err
		}

		return tx.Create(job).Error
	})

	return wrapErr(err, "confirm subscription %s/%s", sub.UserID, sub.AgentID)
}

func (d *SubscriptionDAO) Get(userID, agentID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := d.db.Where("user_id = ? AND agent_id = ?", userID, agentID).First(&sub).Error
	if err != nil {
		return nil, wrapErr(err, "subscription %s/%s not found", userID, agentID)
	}
	return &sub, nil
}

// GetActive 仅返回活跃订阅，不存在或已退订返回 NotFound
func (d *SubscriptionDAO) GetActive(userID, agentID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := d.db.Where("user_id = ? AND agent_id = ? AND is_active = ?", userID, agentID, true).First(&sub).Error
	if err != nil {
		return nil, wrapErr(err, "no active subscription for %s/%s", userID, agentID)
	}
	return &sub, nil
}

// ListByUser 包含已退订记录（is_active=false）
func (d *SubscriptionDAO) ListByUser(userID string) ([]*models.UserSubscription, error) {
	var list []*models.UserSubscription
	err := d.db.Where("user_id = ?", userID).
		Order("is_active DESC, subscribed_at DESC").
		Find(&list).Error
	return list, wrapErr(err, "list subscriptions of %s", userID)
}

// MarkVerified 仅当订阅仍对应该交易且处于活跃状态时生效
// onChain 非空时以链上配置覆盖链下配置
func (d *SubscriptionDAO) MarkVerified(userID, agentID, txHash string, attempts int, onChain *models.UserConfig) (bool, error) {
	now := time.Now()
	fields := map[string]any{
		"contract_verified": true,
		"verify_state":      models.VerifyVerified,
		"verify_attempts":   attempts,
		"last_verify_error": "",
		"verified_at":       &now,
	}
	if onChain != nil {
		fields["user_config"] = datatypes.NewJSONType(*onChain)
	}

	res := d.db.Model(&models.UserSubscription{}).
		Where("user_id = ? AND agent_id = ? AND tx_hash = ? AND is_active = ?", userID, agentID, txHash, true).
		Updates(fields)
	if res.Error != nil {
		return false, wrapErr(res.Error, "mark verified %s/%s", userID, agentID)
	}
	return res.RowsAffected > 0, nil
}

// RecordVerifyFailure 记录失败次数，final 时标记为核验失败
// 已退订的订阅不再更新
func (d *SubscriptionDAO) RecordVerifyFailure(userID, agentID, txHash string, attempts int, reason string, final bool) error {
	state := models.VerifyPending
	if final {
		state = models.VerifyFailed
	}
	err := d.db.Model(&models.UserSubscription{}).
		Where("user_id = ? AND agent_id = ? AND tx_hash = ? AND is_active = ?", userID, agentID, txHash, true).
		Updates(map[string]any{
			"verify_state":      state,
			"verify_attempts":   attempts,
			"last_verify_error": truncate(reason, 512),
		}).Error
	return wrapErr(err, "record verify failure %s/%s", userID, agentID)
}

// Deactivate 退订并取消待执行的核验任务，返回是否存在活跃订阅
func (d *SubscriptionDAO) Deactivate(userID, agentID, txHash string, at time.Time) (bool, error) {
	var affected int64
	err := d.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UserSubscription{}).
			Where("user_id = ? AND agent_id = ? AND is_active = ?", userID, agentID, true).
			Updates(map[string]any{
				"is_active":           false,
				"unsubscribed_at":     &at,
				"unsubscribe_tx_hash": txHash,
			})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return cancelPendingJobs(tx, userID, agentID)
	})
	if err != nil {
		return false, wrapErr(err, "deactivate subscription %s/%s", userID, agentID)
	}
	return affected > 0, nil
}

func cancelPendingJobs(tx *gorm.DB, userID, agentID string) error {
	return tx.Model(&models.VerificationJob{}).
		Where("user_id = ? AND agent_id = ? AND status IN ?", userID, agentID,
			[]models.JobStatus{models.JobPending, models.JobRunning}).
		Updates(map[string]any{"status": models.JobCancelled}).Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
