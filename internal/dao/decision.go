package dao

import (
	"gorm.io/gorm"

	"github.com/utrading/utrading-agent-hub/internal/models"
)

type DecisionDAO struct {
	db *gorm.DB
}

var _decision *DecisionDAO

func InitDecisionDAO(db *gorm.DB) {
	_decision = &DecisionDAO{db: db}
}

// Decision 获取 DecisionDAO 单例
func Decision() *DecisionDAO {
	return _decision
}

func (d *DecisionDAO) Create(decision *models.TradingDecision) error {
	return wrapErr(d.db.Create(decision).Error, "save decision for %s/%s", decision.UserID, decision.AgentID)
}

// GetForPair 决策必须属于该 (user, agent)
func (d *DecisionDAO) GetForPair(id uint, userID, agentID string) (*models.TradingDecision, error) {
	var decision models.TradingDecision
	err := d.db.Where("id = ? AND user_id = ? AND agent_id = ?", id, userID, agentID).First(&decision).Error
	if err != nil {
		return nil, wrapErr(err, "decision %d not found", id)
	}
	return &decision, nil
}

// UpdateExecution 更新结算相关字段
func (d *DecisionDAO) UpdateExecution(id uint, fields map[string]any) error {
	if v, ok := fields["failure_reason"].(string); ok {
		fields["failure_reason"] = truncate(v, 512)
	}
	err := d.db.Model(&models.TradingDecision{}).Where("id = ?", id).Updates(fields).Error
	return wrapErr(err, "update decision %d", id)
}

// ListByPair 最近的决策，按时间倒序
func (d *DecisionDAO) ListByPair(userID, agentID string, limit int) ([]*models.TradingDecision, error) {
	var list []*models.TradingDecision
	err := d.db.Where("user_id = ? AND agent_id = ?", userID, agentID).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error
	return list, wrapErr(err, "list decisions of %s/%s", userID, agentID)
}

// ListPendingByUser 处于预留阶段的其他决策，用于核对链上预留余额
func (d *DecisionDAO) ListPendingByUser(userID string, excludeID uint) ([]*models.TradingDecision, error) {
	var list []*models.TradingDecision
	err := d.db.Where("user_id = ? AND id <> ? AND execution_status IN ?", userID, excludeID,
		[]models.ExecutionStatus{models.ExecReserving, models.ExecReserved}).
		Find(&list).Error
	return list, wrapErr(err, "list pending decisions of %s", userID)
}
