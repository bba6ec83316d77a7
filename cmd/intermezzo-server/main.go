package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/proofmint/intermezzo/internal/custody"
	"github.com/proofmint/intermezzo/internal/funding"
	"github.com/proofmint/intermezzo/internal/handler"
	"github.com/proofmint/intermezzo/internal/ledger"
	"github.com/proofmint/intermezzo/internal/model"
	"github.com/proofmint/intermezzo/internal/orchestrator"
	"github.com/proofmint/intermezzo/internal/server"
	"github.com/proofmint/intermezzo/internal/service"
	"github.com/proofmint/intermezzo/internal/service/mq"
	"github.com/proofmint/intermezzo/internal/signing"
	"github.com/proofmint/intermezzo/internal/store"
	"github.com/proofmint/intermezzo/internal/submission"
	"github.com/proofmint/intermezzo/pkg/cache"
	"github.com/proofmint/intermezzo/pkg/config"
	"github.com/proofmint/intermezzo/pkg/database"
	"github.com/proofmint/intermezzo/pkg/logger"
	"github.com/proofmint/intermezzo/pkg/utils/lock"
)

func main() {
	// 0. 初始化 Config
	config.Init()
	cfg := config.Global

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 托管服务
	gateway := newCustody(cfg.Custody)

	// 3. 账本节点
	algod := ledger.NewAlgodClient(&ledger.Config{
		BaseURL:        cfg.Ledger.AlgodURL,
		Token:          cfg.Ledger.AlgodToken,
		RateLimit:      cfg.Ledger.RateLimit,
		Timeout:        cfg.Ledger.Timeout,
		RetryAttempts:  cfg.Ledger.RetryAttempts,
		RetryDelay:     500 * time.Millisecond,
		ValidityWindow: cfg.Ledger.ValidityWindow,
	}, logger.L())
	if status, err := algod.Status(ctx); err != nil {
		logger.Warn("账本节点暂不可用，流程调用时会重试", zap.Error(err))
	} else {
		logger.Info("账本节点已连接", zap.Uint64("last_round", status.LastRound))
	}

	// 4. 连接 Redis (幂等锁 + 公钥缓存)
	rdb, err := database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger.L())
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}
	defer rdb.Close()

	// L1: Memory, L2: Redis
	pubkeyCache := cache.NewMultiLevelCache(
		cache.NewMemoryCache(time.Minute, 5*time.Minute),
		cache.NewRedisCache(rdb, ""),
		time.Minute,
		logger.L(),
	)

	// 5. 签名与提交
	router := signing.KeyRouter{
		UserPrefix:    cfg.Custody.UserKeyPrefix,
		ManagerKey:    cfg.Custody.ManagerKey,
		ManagerPrefix: cfg.Custody.ManagerKeyPrefix,
	}
	addresses := signing.NewAddressResolver(gateway, router, pubkeyCache, cfg.Custody.PubkeyCacheTTL, logger.L())
	dispatcher := signing.NewDispatcher(gateway, router, logger.L())
	pipeline := submission.NewPipeline(algod, cfg.Ledger.WaitRounds, logger.L())

	// 6. 审计记录 + Outbox 中继 (可选)
	var (
		recorder orchestrator.Recorder
		finder   handler.TransferFinder
		db       *gorm.DB
		producer mq.Producer
	)
	if cfg.DB.Enabled {
		db, err = database.ConnectPostgres(cfg.DB.DSN(), cfg.App.Env != "production", logger.L())
		if err != nil {
			logger.Fatal("数据库连接失败", zap.Error(err))
		}

		if cfg.DB.AutoMigrate {
			if err := db.AutoMigrate(model.AllModels()...); err != nil {
				logger.Fatal("数据库迁移失败", zap.Error(err))
			}
			logger.Info("数据库表结构已同步")
		}

		transferStore := store.NewTransferStore(db, cfg.Orchestrator.EventTopic)
		recorder = transferStore
		finder = transferStore

		if cfg.Redis.MQType == "kafka" {
			logger.Info("使用 Kafka 作为消息队列...")
			producer = mq.NewKafkaProducer(cfg.Kafka.Brokers, logger.L())
		} else {
			logger.Info("使用 Redis Streams 作为消息队列...")
			producer = mq.NewRedisProducer(rdb, 100000, logger.L())
		}

		relay := service.NewRelayService(transferStore, producer, logger.L())
		go relay.Start(ctx)
	} else {
		logger.Warn("数据库未启用，不记录审计流水")
	}

	// 7. 编排器
	orch := orchestrator.New(orchestrator.Deps{
		Ledger:         algod,
		Resolver:       funding.NewResolver(algod, logger.L()),
		Addresses:      addresses,
		Dispatcher:     dispatcher,
		Pipeline:       pipeline,
		Recorder:       recorder,
		Lock:           lock.NewRedisLock(rdb),
		IdempotencyTTL: cfg.Orchestrator.IdempotencyTTL,
		WaitRounds:     cfg.Ledger.WaitRounds,
		Log:            logger.L(),
	})

	// 8. HTTP + gRPC
	transfers := handler.NewTransferHandler(orch, pipeline, finder, logger.L())
	health := handler.NewHealthHandler(map[string]handler.DependencyCheck{
		"algod": func(ctx context.Context) error {
			_, err := algod.Status(ctx)
			return err
		},
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	r := server.NewHTTPRouter(transfers, health)
	grpcServer, grpcHealth := server.NewGRPCServer()

	app, err := server.New(server.Config{
		HttpPort: cfg.App.HttpPort,
		GrpcPort: cfg.App.GrpcPort,
		// 每轮约 3-4 秒，等正在轮询确认的请求结束
		ShutdownTimeout: time.Duration(cfg.Ledger.WaitRounds) * 4 * time.Second,
	}, r, grpcServer, grpcHealth)
	if err != nil {
		logger.Fatal("应用启动失败", zap.Error(err))
	}

	// 运行 (阻塞)
	if err := app.Run(ctx); err != nil {
		logger.Error("服务运行失败", zap.Error(err))
	}

	// 9. 退出后资源清理
	cancel()
	if producer != nil {
		_ = producer.Close()
	}
	if db != nil {
		logger.Info("正在关闭数据库连接...")
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	logger.Info("系统已退出")
}

func newCustody(cfg config.CustodyConfig) custody.Gateway {
	switch cfg.Backend {
	case "local":
		logger.Warn("使用本地 keystore 签名，仅限开发环境", zap.String("path", cfg.KeystorePath))
		if cfg.KeystorePassword == "" {
			logger.Fatal("加载 keystore 失败: 未提供密码 (环境变量 CUSTODY_KEYSTORE_PASSWORD)")
		}
		signer, err := custody.LoadLocalSigner(cfg.KeystorePath, cfg.KeystorePassword)
		if err != nil {
			logger.Fatal("加载 keystore 失败", zap.Error(err))
		}
		logger.Info("本地 keystore 加载成功", zap.Strings("keys", signer.Names()))
		return signer
	case "vault":
		vault, err := custody.NewVaultTransit(custody.VaultConfig{
			Address:         cfg.VaultAddr,
			Token:           cfg.VaultToken,
			Mount:           cfg.TransitMount,
			Timeout:         10 * time.Second,
			BreakerFailures: cfg.BreakerFailures,
			BreakerTimeout:  cfg.BreakerTimeout,
		}, logger.L())
		if err != nil {
			logger.Fatal("初始化 Vault 客户端失败", zap.Error(err))
		}
		return vault
	default:
		logger.Fatal("未知的托管后端", zap.String("backend", cfg.Backend))
		return nil
	}
}
