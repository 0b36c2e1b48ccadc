package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/utrading/utrading-agent-hub/config"
	"github.com/utrading/utrading-agent-hub/internal/api"
	"github.com/utrading/utrading-agent-hub/internal/chain"
	"github.com/utrading/utrading-agent-hub/internal/cleaner"
	"github.com/utrading/utrading-agent-hub/internal/dal"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/events"
	"github.com/utrading/utrading-agent-hub/internal/market"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/internal/nats"
	"github.com/utrading/utrading-agent-hub/internal/orchestrator"
	"github.com/utrading/utrading-agent-hub/internal/prediction"
	"github.com/utrading/utrading-agent-hub/internal/subscription"
	"github.com/utrading/utrading-agent-hub/pkg/goplus"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
	"github.com/utrading/utrading-agent-hub/pkg/sigproc"
)

var errNATSDisconnected = errors.New("nats disconnected")

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.Parse()

	// 加载配置
	if err := config.Init(configFile); err != nil {
		panic(err)
	}
	cfg := config.Get()

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Close()

	logger.Info().Msg("agent_hub service starting...")

	// 初始化指标
	monitor.InitMetrics()

	// 初始化数据库
	if err := dal.InitDB(cfg.Database); err != nil {
		logger.Fatal().Err(err).Msg("init database failed")
	}
	dal.AutoMigrate(dal.DB())
	dao.InitDAO(dal.DB())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 合约网关
	rpcClient, err := chain.DialRPC(ctx, cfg.Starknet.RPCURL, cfg.Starknet.CallTimeout.Duration)
	if err != nil {
		logger.Fatal().Err(err).Msg("dial starknet rpc failed")
	}
	signer := chain.NewRemoteSigner(cfg.Starknet.SignerURL, cfg.Starknet.SignerToken, cfg.Starknet.CallTimeout.Duration)
	gateway, err := chain.NewGateway(rpcClient, signer, cfg.Starknet)
	if err != nil {
		logger.Fatal().Err(err).Msg("init contract gateway failed")
	}

	// 预测源与行情
	sources, err := buildSources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init prediction sources failed")
	}
	gatherer, err := prediction.NewGatherer(cfg.AgentHub.PredictionWorkers, cfg.AgentHub.PredictionTimeout.Duration)
	if err != nil {
		logger.Fatal().Err(err).Msg("init prediction gatherer failed")
	}
	marketSource := market.NewHTTPSource(market.HTTPSourceConfig{
		URL:       cfg.Market.URL,
		APIKey:    cfg.Market.APIKey,
		Timeout:   cfg.Market.Timeout.Duration,
		RateLimit: cfg.Market.RateLimit,
		PriceTTL:  cfg.Market.PriceTTL.Duration,
	})

	// 事件：NATS 未启用时只记日志
	var (
		publisher *nats.Publisher
		handler   events.Handler = events.LogHandler{}
	)
	if cfg.NATS.Enabled {
		publisher, err = nats.NewPublisher(cfg.NATS.Endpoint)
		if err != nil {
			logger.Fatal().Err(err).Msg("init nats publisher failed")
		}
		handler = publisher
	}
	eventQueue := events.NewQueue(cfg.AgentHub.EventQueueSize, handler)
	eventQueue.Start()

	// 订阅账本与核验
	ledger := subscription.NewLedger(gateway, eventQueue, subscription.OptionsFromConfig(cfg.AgentHub))
	verifier := subscription.NewVerifier(ledger, cfg.AgentHub.VerifyScanInterval.Duration)
	verifier.Start()

	agents, err := orchestrator.New(orchestrator.Deps{
		Chain:    gateway,
		Ledger:   ledger,
		Sources:  sources,
		Market:   marketSource,
		Gatherer: gatherer,
		Emitter:  eventQueue,
	}, cfg.AgentHub)
	if err != nil {
		logger.Fatal().Err(err).Msg("init orchestrator failed")
	}

	// 创建数据清理器
	dataCleaner := cleaner.NewCleaner()
	dataCleaner.Start()

	apiServer := api.NewServer(cfg.AgentHub.HTTPAddr, agents, ledger)
	apiServer.Start()

	// 初始化健康检查服务器
	healthServer := monitor.NewHealthServer(cfg.AgentHub.HealthServerAddr)
	healthServer.AddCheck("database", dal.Ping)
	healthServer.AddCheck("starknet", gateway.Ping)
	if publisher != nil {
		healthServer.AddCheck("nats", func(context.Context) error {
			if !publisher.IsConnected() {
				return errNATSDisconnected
			}
			return nil
		})
	}
	healthServer.AddStats("engines", agents)
	healthServer.AddStats("verifier", verifier)
	healthServer.AddStats("events", eventQueue)
	healthServer.AddStats("market", marketSource)
	healthServer.Start()

	logger.Info().
		Str("api_addr", cfg.AgentHub.HTTPAddr).
		Str("health_addr", cfg.AgentHub.HealthServerAddr).
		Str("contract", gateway.ContractAddress()).
		Int("prediction_sources", len(sources)).
		Bool("nats", cfg.NATS.Enabled).
		Msg("agent_hub service started successfully")

	// 优雅关闭
	sigproc.GracefulShutdown(30*time.Second, func(sig os.Signal) {
		logger.Info().Str("signal", sig.String()).Msg("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		// 先停止对外服务
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("stop api server failed")
		}

		// 停止后台任务
		verifier.Stop()
		dataCleaner.Stop()

		agents.Close()
		gatherer.Release()

		// 排空事件队列后再断开 NATS
		eventQueue.Stop()
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Warn().Err(err).Msg("close nats publisher failed")
			}
		}

		if !goplus.WaitTimeout(5 * time.Second) {
			logger.Warn().Msg("background goroutines still running")
		}

		// 关闭健康检查服务器
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("stop health server failed")
		}

		// 关闭配置重载
		config.Stop()

		rpcClient.Close()

		// 关闭数据库
		dal.CloseDB()

		logger.Info().Msg("agent_hub service stopped")
		cancel()
	})

	<-ctx.Done()
}

func initLogger(cfg *config.Config) error {
	return logger.NewBuilder().
		SetMaxSize(cfg.Logger.MaxSize).
		SetMaxBackups(cfg.Logger.MaxBackups).
		SetMaxAge(cfg.Logger.MaxAge).
		SetLevel(cfg.Logger.Level).
		EnableCompression(cfg.Logger.Compress).
		EnableConsoleOutput(cfg.Logger.Console).
		Build()
}
