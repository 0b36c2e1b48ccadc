package dao

import (
	"github.com/utrading/utrading-agent-hub/internal/models"
	"gorm.io/gorm"
)

type AgentDAO struct {
	db *gorm.DB
}

var _agent *AgentDAO

func InitAgentDAO(db *gorm.DB) {
	_agent = &AgentDAO{db: db}
}

// Agent 获取 AgentDAO 单例
func Agent() *AgentDAO {
	return _agent
}

func (d *AgentDAO) Create(agent *models.AgentDefinition) error {
	return wrapErr(d.db.Create(agent).Error, "create agent %s", agent.ID)
}

func (d *AgentDAO) Get(id string) (*models.AgentDefinition, error) {
	var agent models.AgentDefinition
	if err := d.db.Where("id = ?", id).First(&agent).Error; err != nil {
		return nil, wrapErr(err, "agent %s not found", id)
	}
	return &agent, nil
}

// 列表排序字段
const (
	SortNewest      = "newest"
	SortName        = "name"
	SortSubscribers = "subscribers"
	SortPerformance = "performance"
)

type ListQuery struct {
	Page     int
	Limit    int
	Strategy models.Strategy
	SortBy   string
}

func (q ListQuery) normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return q
}

func orderClause(sortBy string) string {
	switch sortBy {
	case SortName:
		return "a.name ASC, a.id ASC"
	case SortSubscribers:
		return "subscriber_count DESC, a.created_at DESC"
	case SortPerformance:
		return "avg_pnl DESC, a.created_at DESC"
	default:
		return "a.created_at DESC, a.id DESC"
	}
}

// List 分页列出公开 Agent，附带活跃订阅数与成交平均收益
func (d *AgentDAO) List(q ListQuery) ([]*models.AgentSummary, int64, error) {
	q = q.normalize()

	base := d.db.Table("agent_definitions AS a").Where("a.is_public = ?", true)
	if q.Strategy != "" {
		base = base.Where("a.strategy = ?", q.Strategy)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, wrapErr(err, "count agents")
	}

	var list []*models.AgentSummary
	err := base.Session(&gorm.Session{}).
		Select("a.*, COALESCE(s.cnt, 0) AS subscriber_count, COALESCE(p.avg_pnl, 0) AS avg_pnl").
		Joins("LEFT JOIN (SELECT agent_id, COUNT(*) AS cnt FROM user_subscriptions WHERE is_active = ? GROUP BY agent_id) s ON s.agent_id = a.id", true).
		Joins("LEFT JOIN (SELECT agent_id, AVG(pnl) AS avg_pnl FROM trade_executions WHERE success = ? GROUP BY agent_id) p ON p.agent_id = a.id", true).
		Order(orderClause(q.SortBy)).
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Scan(&list).Error
	if err != nil {
		return nil, 0, wrapErr(err, "list agents")
	}

	return list, total, nil
}

// SubscriberCount 活跃订阅数
func (d *AgentDAO) SubscriberCount(agentID string) (int64, error) {
	var n int64
	err := d.db.Model(&models.UserSubscription{}).
		Where("agent_id = ? AND is_active = ?", agentID, true).
		Count(&n).Error
	return n, wrapErr(err, "count subscribers of %s", agentID)
}
