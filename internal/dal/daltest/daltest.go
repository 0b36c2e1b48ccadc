package daltest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/utrading/utrading-agent-hub/config"
	"github.com/utrading/utrading-agent-hub/internal/dal"
)

// Open 每个测试独立的内存 SQLite，已完成迁移
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := dal.Open(config.Database{
		Driver: dal.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name),
	})
	require.NoError(t, err)

	for _, model := range dal.Models() {
		require.NoError(t, conn.AutoMigrate(model))
	}

	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}
