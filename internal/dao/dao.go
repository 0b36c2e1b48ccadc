package dao

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
)

// InitDAO 初始化所有 DAO（应用启动时调用，测试中每个用例可重新调用）
func InitDAO(db *gorm.DB) {
	InitAgentDAO(db)
	InitSubscriptionDAO(db)
	InitDecisionDAO(db)
	InitVerificationJobDAO(db)
	InitTradeDAO(db)
}

// wrapErr 记录不存在转为 NotFound，其余数据库错误视为可重试的传输错误
func wrapErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Transport(err, format, args...)
}
