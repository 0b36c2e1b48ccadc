package dao

import (
	"gorm.io/gorm"

	"github.com/utrading/utrading-agent-hub/internal/models"
)

type TradeDAO struct {
	db *gorm.DB
}

var _trade *TradeDAO

func InitTradeDAO(db *gorm.DB) {
	_trade = &TradeDAO{db: db}
}

// Trade 获取 TradeDAO 单例
func Trade() *TradeDAO {
	return _trade
}

func (d *TradeDAO) Create(exec *models.TradeExecution) error {
	return wrapErr(d.db.Create(exec).Error, "save trade execution of decision %d", exec.DecisionID)
}

// Performance 绩效汇总，userID 为空时统计该 Agent 全部用户
func (d *TradeDAO) Performance(agentID, userID string) (*models.Performance, error) {
	var perf models.Performance

	decisions := d.db.Model(&models.TradingDecision{}).Where("agent_id = ?", agentID)
	if userID != "" {
		decisions = decisions.Where("user_id = ?", userID)
	}
	var ds struct {
		Cnt     int64
		AvgConf float64
	}
	err := decisions.Select("COUNT(*) AS cnt, COALESCE(AVG(confidence), 0) AS avg_conf").Scan(&ds).Error
	if err != nil {
		return nil, wrapErr(err, "aggregate decisions of %s", agentID)
	}

	trades := d.db.Model(&models.TradeExecution{}).Where("agent_id = ? AND success = ?", agentID, true)
	if userID != "" {
		trades = trades.Where("user_id = ?", userID)
	}
	var ts struct {
		Cnt      int64
		Wins     int64
		TotalPnL float64 `gorm:"column:total_pnl"`
	}
	err = trades.Select("COUNT(*) AS cnt, COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0) AS wins, COALESCE(SUM(pnl), 0) AS total_pnl").
		Scan(&ts).Error
	if err != nil {
		return nil, wrapErr(err, "aggregate trades of %s", agentID)
	}

	perf.Decisions = ds.Cnt
	perf.AvgConfidence = ds.AvgConf
	perf.ExecutedTrades = ts.Cnt
	perf.Wins = ts.Wins
	perf.TotalPnL = ts.TotalPnL
	if ts.Cnt > 0 {
		perf.WinRate = float64(ts.Wins) / float64(ts.Cnt)
	}

	return &perf, nil
}
