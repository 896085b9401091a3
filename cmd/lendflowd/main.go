package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"LendFlow-Chain/internal/api"
	"LendFlow-Chain/internal/asset"
	"LendFlow-Chain/internal/backend"
	"LendFlow-Chain/internal/config"
	"LendFlow-Chain/internal/defi"
	"LendFlow-Chain/internal/intent"
	"LendFlow-Chain/internal/observability/alerting"
	"LendFlow-Chain/internal/observability/metrics"
	"LendFlow-Chain/internal/web3/provider"
	"LendFlow-Chain/pkg/logger"
)

// main 是 LendFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("lendflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("LENDFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "lendflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	assets, err := asset.LoadResolver(cfg.Assets.Path)
	if err != nil {
		return err
	}

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		APIKey:     cfg.Backend.APIKey,
		Timeout:    time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		BaseDelay:  time.Duration(cfg.Engine.RetryBaseDelayMillis) * time.Millisecond,
		MaxRetries: cfg.Engine.RetryMaxAttempts,
	})
	if err != nil {
		return err
	}

	signerKey := strings.TrimSpace(os.Getenv(cfg.Web3.SignerKeyEnv))
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3, signerKey)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	recorder := defi.NewPositionRecorder(backendClient)
	engine, err := defi.NewEngine(assets, backendClient, recorder, defi.Config{
		ConfirmTimeout: time.Duration(cfg.Engine.ConfirmTimeoutSeconds) * time.Second,
		ApproveTimeout: time.Duration(cfg.Engine.ApproveTimeoutSeconds) * time.Second,
		PollInterval:   time.Duration(cfg.Engine.PollIntervalSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	dispatcher := defi.NewDispatcher(engine, chainRegistry)

	var intentStore intent.Store
	switch cfg.Storage.IntentStore.Driver {
	case "", "memory":
		intentStore = intent.NewMemoryStore()
	case "mysql":
		store, err := intent.NewMySQLStore(cfg.Storage.IntentStore.DSN)
		if err != nil {
			return err
		}
		intentStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.IntentStore.Driver)
	}
	defer func() {
		if intentStore != nil {
			_ = intentStore.Close()
		}
	}()

	var intentQueue intent.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		intentQueue = intent.NewMemoryQueue(1024)
	case "redis":
		queue, err := intent.NewRedisQueue(intent.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
		if err != nil {
			return err
		}
		intentQueue = queue
	case "rabbitmq":
		queue, err := intent.NewRabbitMQQueue(intent.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return err
		}
		intentQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if intentQueue != nil {
			if err := intentQueue.Close(); err != nil {
				log.Printf("关闭意图队列失败: %v", err)
			}
		}
	}()

	if recovered, err := intent.RecoverPending(ctx, intentStore, intentQueue); err != nil {
		log.Printf("恢复未处理意图失败 (已补投 %d 条): %v", recovered, err)
	}

	intentService := intent.NewService(intentStore, intentQueue, cfg.Engine.IntentMaxRetries)
	processor := intent.NewProcessor(dispatcher, intentStore, intentQueue, intentQueue,
		intent.WithWorkerCount(cfg.Queue.Workers),
		intent.WithProcessorLogger(logger.Named("processor")),
		intent.WithAlertDispatcher(alerting.NewFanout(&alerting.LogNotifier{})),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("意图处理器异常退出: %v", err)
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, intentService, cfg.Server.AuthTokens)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
