package dal

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	proxymysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/proxy"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"

	"github.com/utrading/utrading-agent-hub/config"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type GormLogger struct{}

func (l GormLogger) Printf(f string, args ...any) {
	log.Printf(f, args...)
}

var (
	db         *gorm.DB
	dbLock     sync.RWMutex
	proxyOnce  sync.Once
	proxyError error
)

// InitDB 连接数据库并设置全局实例
func InitDB(cfg config.Database) error {
	conn, err := Open(cfg)
	if err != nil {
		return err
	}

	dbLock.Lock()
	db = conn
	dbLock.Unlock()
	return nil
}

func DB() *gorm.DB {
	dbLock.RLock()
	defer dbLock.RUnlock()
	return db
}

// registerProxyDialer 注册 SOCKS5 代理拨号器（仅 MySQL）
// DSN 中使用 dial(host:port) 作为网络类型时走代理
func registerProxyDialer(proxyAddr string) error {
	proxyOnce.Do(func() {
		dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{})
		if err != nil {
			proxyError = fmt.Errorf("create proxy dialer failed: %w", err)
			return
		}

		proxymysql.RegisterDialContext("dial", func(ctx context.Context, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, "tcp", addr)
			}
			return dialer.Dial("tcp", addr)
		})
	})

	return proxyError
}

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL, "":
		return mysql.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, errors.Errorf("unsupported database driver: %s", driver)
	}
}

// Open 按配置打开数据库连接，配置了从库时启用读写分离
func Open(cfg config.Database) (*gorm.DB, error) {
	if cfg.ProxyEnabled && (cfg.Driver == DriverMySQL || cfg.Driver == "") {
		if err := registerProxyDialer(cfg.ProxyAddr); err != nil {
			return nil, err
		}
		logger.Info().Str("proxy", cfg.ProxyAddr).Msg("mysql proxy enabled")
	}

	newLogger := gormlogger.New(
		GormLogger{}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	master, err := dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(master, &gorm.Config{
		Logger:      newLogger,
		PrepareStmt: cfg.Driver != DriverSQLite,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s failed", cfg.Driver)
	}

	maxIdleTime := time.Hour
	if cfg.ConnMaxIdleTime.Duration > 0 {
		maxIdleTime = cfg.ConnMaxIdleTime.Duration
	}

	maxLifetime := 2 * time.Hour
	if cfg.ConnMaxLifetime.Duration > 0 {
		maxLifetime = cfg.ConnMaxLifetime.Duration
	}

	// 从库
	if len(cfg.Replicas) > 0 {
		var replicas []gorm.Dialector
		for _, dsn := range cfg.Replicas {
			d, err := dialector(cfg.Driver, dsn)
			if err != nil {
				return nil, err
			}
			replicas = append(replicas, d)
		}

		plugin := dbresolver.Register(dbresolver.Config{
			Replicas:          replicas,
			Policy:            dbresolver.RandomPolicy{},
			TraceResolverMode: true,
		}).
			SetConnMaxIdleTime(maxIdleTime).
			SetConnMaxLifetime(maxLifetime).
			SetMaxIdleConns(cfg.MaxIdleConnections).
			SetMaxOpenConns(cfg.MaxOpenConnections)
		if err = conn.Use(plugin); err != nil {
			return nil, errors.Wrap(err, "register dbresolver failed")
		}
		logger.Info().Int("replicas", len(cfg.Replicas)).Msg("database replicas configured")
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB failed")
	}

	if cfg.Driver == DriverSQLite {
		// 内存库每个连接相互独立
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
		sqlDB.SetConnMaxIdleTime(maxIdleTime)
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}

	logger.Info().
		Str("driver", cfg.Driver).
		Int("max_idle", cfg.MaxIdleConnections).
		Int("max_open", cfg.MaxOpenConnections).
		Dur("max_idle_time", maxIdleTime).
		Dur("max_lifetime", maxLifetime).
		Msg("database connected")

	return conn, nil
}

// Ping 就绪检查
func Ping(ctx context.Context) error {
	conn := DB()
	if conn == nil {
		return errors.New("database not initialized")
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func CloseDB() {
	conn := DB()
	if conn == nil {
		return
	}
	sqlDB, err := conn.DB()
	if err != nil {
		logger.Error().Err(err).Msg("get sql.DB failed")
		return
	}
	if err = sqlDB.Close(); err != nil {
		logger.Error().Err(err).Msg("close database failed")
	}

	logger.Info().Msg("database closed")
}

// AutoMigrate 自动迁移数据库表结构
// 失败时记录警告日志，不中断服务启动
func AutoMigrate(conn *gorm.DB) {
	if conn == nil {
		log.Error().Msg("database not initialized, skip auto migration")
		return
	}

	for _, model := range Models() {
		if err := conn.AutoMigrate(model); err != nil {
			log.Warn().Err(err).
				Str("table", getTableName(model)).
				Msg("auto migrate failed, continuing anyway")
		} else {
			log.Debug().Str("table", getTableName(model)).Msg("auto migrate success")
		}
	}
}

func Models() []any {
	return []any{
		&models.AgentDefinition{},
		&models.UserSubscription{},
		&models.TradingDecision{},
		&models.VerificationJob{},
		&models.TradeExecution{},
	}
}

// getTableName 获取模型的表名
func getTableName(model any) string {
	if t, ok := model.(interface{ TableName() string }); ok {
		return t.TableName()
	}
	return "unknown"
}
