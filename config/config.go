package config

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Duration 支持 "10s"、"5m" 形式的 TOML 时长
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := cast.ToDurationE(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type AgentHub struct {
	HTTPAddr           string   `toml:"http_addr"`
	HealthServerAddr   string   `toml:"health_server_addr"`
	EngineCacheTTL     Duration `toml:"engine_cache_ttl"`
	EngineCacheMax     int      `toml:"engine_cache_max"`
	PredictionTimeout  Duration `toml:"prediction_timeout"`
	PredictionWorkers  int      `toml:"prediction_workers"`
	VerifyDelay        Duration `toml:"verify_delay"`
	VerifyScanInterval Duration `toml:"verify_scan_interval"`
	VerifyMaxAttempts  int      `toml:"verify_max_attempts"`
	VerifyBackoffBase  Duration `toml:"verify_backoff_base"`
	VerifyBackoffMax   Duration `toml:"verify_backoff_max"`
	EventQueueSize     int      `toml:"event_queue_size"`
	// SettlementStepTimeout 结算流程中单个链上步骤的超时，应大于 starknet.tx_wait_timeout
	SettlementStepTimeout Duration `toml:"settlement_step_timeout"`
}

type Database struct {
	Driver             string   `toml:"driver"` // mysql / postgres / sqlite
	DSN                string   `toml:"dsn"`
	Replicas           []string `toml:"replicas"`
	MaxIdleConnections int      `toml:"max_idle_connections"`
	MaxOpenConnections int      `toml:"max_open_connections"`
	ConnMaxLifetime    Duration `toml:"conn_max_lifetime"`
	ConnMaxIdleTime    Duration `toml:"conn_max_idle_time"`
	ProxyEnabled       bool     `toml:"proxy_enabled"`
	ProxyAddr          string   `toml:"proxy_addr"`
}

type Starknet struct {
	RPCURL          string   `toml:"rpc_url"`
	ContractAddress string   `toml:"contract_address"`
	AccountAddress  string   `toml:"account_address"`
	SignerURL       string   `toml:"signer_url"`
	SignerToken     string   `toml:"signer_token"`
	MaxFee          string   `toml:"max_fee"`
	TxPollInterval  Duration `toml:"tx_poll_interval"`
	TxWaitTimeout   Duration `toml:"tx_wait_timeout"`
	CallTimeout     Duration `toml:"call_timeout"`
}

// PredictionSource 预测模型配置，Kind 为 http 或 llm
type PredictionSource struct {
	Name      string  `toml:"name"`
	Kind      string  `toml:"kind"`
	URL       string  `toml:"url"`
	APIKey    string  `toml:"api_key"`
	Model     string  `toml:"model"`
	Weight    float64 `toml:"weight"`
	RateLimit float64 `toml:"rate_limit"` // 每秒请求数，0 表示不限
}

type Market struct {
	URL       string   `toml:"url"`
	APIKey    string   `toml:"api_key"`
	PriceTTL  Duration `toml:"price_ttl"`
	Timeout   Duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"`
}

type NATS struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

type Logger struct {
	Level      string `toml:"level"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
	Console    bool   `toml:"console"`
}

type Config struct {
	AgentHub    AgentHub           `toml:"agent_hub"`
	Database    Database           `toml:"database"`
	Starknet    Starknet           `toml:"starknet"`
	Predictions []PredictionSource `toml:"predictions"`
	Market      Market             `toml:"market"`
	NATS        NATS               `toml:"nats"`
	Logger      Logger             `toml:"log"`
}

// 环境变量覆盖项（敏感信息不落配置文件）
const (
	EnvDatabaseDSN  = "AGENT_HUB_DB_DSN"
	EnvSignerToken  = "AGENT_HUB_SIGNER_TOKEN"
	EnvLLMAPIKey    = "AGENT_HUB_LLM_API_KEY"
	EnvMarketAPIKey = "AGENT_HUB_MARKET_API_KEY"
)

var (
	cfg         *Config
	cfgPath     string
	cfgLock     sync.RWMutex
	lastModTime time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
)

func Default() *Config {
	return &Config{
		AgentHub: AgentHub{
			HTTPAddr:           "0.0.0.0:16900",
			HealthServerAddr:   "0.0.0.0:16901",
			EngineCacheTTL:     Duration{30 * time.Minute},
			EngineCacheMax:     5000,
			PredictionTimeout:  Duration{8 * time.Second},
			PredictionWorkers:  64,
			VerifyDelay:        Duration{10 * time.Second},
			VerifyScanInterval: Duration{5 * time.Second},
			VerifyMaxAttempts:  8,
			VerifyBackoffBase:  Duration{10 * time.Second},
			VerifyBackoffMax:   Duration{10 * time.Minute},
			EventQueueSize:     10000,

			SettlementStepTimeout: Duration{4 * time.Minute},
		},
		Database: Database{
			Driver:             "mysql",
			DSN:                "root:password@tcp(localhost:3306)/agent_hub?charset=utf8mb4&parseTime=True&loc=Local",
			MaxIdleConnections: 16,
			MaxOpenConnections: 64,
			ConnMaxLifetime:    Duration{2 * time.Hour},
			ConnMaxIdleTime:    Duration{time.Hour},
			ProxyAddr:          "127.0.0.1:7890",
		},
		Starknet: Starknet{
			RPCURL:         "http://localhost:5050/rpc",
			MaxFee:         "0x2386f26fc10000",
			TxPollInterval: Duration{3 * time.Second},
			TxWaitTimeout:  Duration{3 * time.Minute},
			CallTimeout:    Duration{15 * time.Second},
		},
		Market: Market{
			PriceTTL:  Duration{15 * time.Second},
			Timeout:   Duration{8 * time.Second},
			RateLimit: 10,
		},
		NATS: NATS{
			Enabled:  false,
			Endpoint: "nats://localhost:4222",
		},
		Logger: Logger{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 60,
			MaxAge:     7,
		},
	}
}

// Load 读取配置文件，并用环境变量覆盖敏感项
func Load(path string) error {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}
	applyEnv(c)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg = c
	cfgPath = path
	lastModTime = info.ModTime()

	return nil
}

// applyEnv 先加载 .env（不存在时忽略），再覆盖
func applyEnv(c *Config) {
	_ = godotenv.Load()

	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvSignerToken); v != "" {
		c.Starknet.SignerToken = v
	}
	if v := os.Getenv(EnvMarketAPIKey); v != "" {
		c.Market.APIKey = v
	}
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		for i := range c.Predictions {
			if c.Predictions[i].Kind == "llm" && c.Predictions[i].APIKey == "" {
				c.Predictions[i].APIKey = v
			}
		}
	}
}

func Get() *Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	return cfg
}

// Set 直接替换当前配置（测试用）
func Set(c *Config) {
	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg = c
}

// Init 初始化配置并启动定期重载（默认10秒）
func Init(path string) error {
	return InitWithInterval(path, 10*time.Second)
}

func InitWithInterval(path string, interval time.Duration) error {
	if err := Load(path); err != nil {
		return err
	}

	stopChan = make(chan struct{})
	stopOnce = sync.Once{}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reloadIfNeeded()
			case <-stopChan:
				return
			}
		}
	}()

	return nil
}

// Stop 停止配置重载
func Stop() {
	if stopChan != nil {
		stopOnce.Do(func() { close(stopChan) })
	}
}

// reloadIfNeeded 仅在文件修改时重载
// 连接类配置（数据库、RPC、NATS）只在启动时读取，重载只影响按需读取的参数
func reloadIfNeeded() {
	cfgLock.RLock()
	path := cfgPath
	lastMod := lastModTime
	cfgLock.RUnlock()

	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Err(err).Msg("config stat failed")
		return
	}

	if info.ModTime().After(lastMod) {
		if err = Load(path); err != nil {
			logger.Error().Err(err).Msg("config reload failed")
		} else {
			logger.Info().Msg("config reloaded")
		}
	}
}
