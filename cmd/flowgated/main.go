package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"FlowGate/internal/accounts"
	"FlowGate/internal/api"
	"FlowGate/internal/auth"
	"FlowGate/internal/bridge"
	"FlowGate/internal/config"
	"FlowGate/internal/coordinator"
	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/evm"
	"FlowGate/internal/flow"
	"FlowGate/internal/observability/alerting"
	"FlowGate/internal/observability/metrics"
	"FlowGate/internal/op"
	"FlowGate/internal/wallet"
	"FlowGate/pkg/logger"
)

// main 是 FlowGate 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("flowgated 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("FLOWGATE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "flowgate.json")
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

	signer, err := createSigner(cfg)
	if err != nil {
		return err
	}

	flowClient, err := flow.NewAccessClient(flow.Config{
		Name:      cfg.Wallet.Network,
		AccessURL: cfg.Wallet.AccessURL,
		Signer:    signer,
	})
	if err != nil {
		return err
	}

	catalog, err := bridge.LoadCatalog(cfg.Bridge.CatalogPath)
	if err != nil {
		return err
	}

	evmRegistry, err := createEVMRegistry(ctx, catalog)
	if err != nil {
		return err
	}
	defer evmRegistry.Close()

	var flowEVMClient *evm.Client
	if evmRegistry.Has(bridge.FlowEVMChain) {
		flowEVMClient, _ = evmRegistry.Client(bridge.FlowEVMChain)
	} else {
		logger.L().Warn("未配置 flow-evm RPC，COA 余额与 ERC20 转账不可用")
	}

	walletOpts := []wallet.Option{}
	if cfg.Wallet.AcquireWaitSeconds > 0 {
		walletOpts = append(walletOpts, wallet.WithAcquireWait(time.Duration(cfg.Wallet.AcquireWaitSeconds)*time.Second))
	}
	if cfg.Wallet.TxTimeoutSeconds > 0 {
		walletOpts = append(walletOpts, wallet.WithTxTimeout(time.Duration(cfg.Wallet.TxTimeoutSeconds)*time.Second))
	}
	rootWallet, err := wallet.New(ctx, flowClient, cfg.Wallet.Address, walletOpts...)
	if err != nil {
		return err
	}

	accountStore, err := createAccountStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer accountStore.Close()

	registry, err := accounts.NewRegistry(accounts.RegistryConfig{
		Client:         flowClient,
		Wallet:         rootWallet,
		EVMClient:      flowEVMClient,
		Store:          accountStore,
		RootAddress:    cfg.Wallet.Address,
		InitialFunding: parseInitialFunding(cfg.Accounts.InitialFunding),
	})
	if err != nil {
		return err
	}

	bridgeCoordinator := bridge.NewCoordinator(catalog, rootWallet, bridge.NewStaticRateProvider())

	core, err := coordinator.New(coordinator.Config{
		Client:    flowClient,
		Wallet:    rootWallet,
		Registry:  registry,
		Bridge:    bridgeCoordinator,
		EVMClient: flowEVMClient,
		Network:   cfg.Wallet.Network,
	})
	if err != nil {
		return err
	}

	operationStore, err := createOperationStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer operationStore.Close()

	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	operations := op.NewService(operationStore, queue, cfg.Operations.MaxRetries)

	executor, err := op.NewCoordinatorExecutor(core)
	if err != nil {
		return err
	}

	processor := op.NewProcessor(executor, operationStore, queue, queue,
		op.WithWorkerCount(cfg.Queue.Worker),
		op.WithAlertDispatcher(createAlertDispatcher(cfg)),
	)

	processorErr := make(chan error, 1)
	go func() {
		processorErr <- processor.Start(ctx)
	}()

	authService, err := auth.NewService(createAuthConfig(cfg))
	if err != nil {
		return err
	}

	if cfg.Server.MetricsAddress != "" {
		go serveMetrics(ctx, cfg.Server.MetricsAddress)
	}

	server := api.NewServer(cfg.Server.Address, operations, core,
		api.WithAuthService(authService),
		api.WithNetwork(cfg.Wallet.Network),
	)

	logger.L().Info("flowgated 启动完成",
		"address", cfg.Server.Address,
		"network", cfg.Wallet.Network,
		"queue", cfg.Queue.Driver,
	)

	if err := server.Start(ctx); err != nil {
		return err
	}
	select {
	case err := <-processorErr:
		return err
	default:
		return nil
	}
}

func createSigner(cfg *config.Config) (*flow.InMemorySigner, error) {
	key := strings.TrimSpace(cfg.Wallet.PrivateKey)
	if key == "" && cfg.Wallet.PrivateKeyEnv != "" {
		key = strings.TrimSpace(os.Getenv(cfg.Wallet.PrivateKeyEnv))
	}
	if key == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "未配置根账户私钥")
	}
	return flow.NewInMemorySigner(key)
}

func createEVMRegistry(ctx context.Context, catalog bridge.Catalog) (*evm.Registry, error) {
	configs := make(map[string]evm.Config, len(catalog.Chains))
	for name, chain := range catalog.Chains {
		configs[name] = evm.Config{
			RPCURL:  chain.RPCURL,
			ChainID: chain.ChainID,
			Notes:   chain.Name,
		}
	}
	return evm.NewRegistry(ctx, configs)
}

func createAccountStore(ctx context.Context, cfg *config.Config) (accounts.Store, error) {
	switch cfg.Accounts.Driver {
	case "", "memory":
		return accounts.NewMemoryStore(), nil
	case "mysql":
		return accounts.NewMySQLStore(ctx, cfg.Accounts.DSN)
	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "不支持的账户存储驱动: "+cfg.Accounts.Driver)
	}
}

func createOperationStore(ctx context.Context, cfg *config.Config) (op.Store, error) {
	switch cfg.Operations.Driver {
	case "", "memory":
		return op.NewMemoryStore(), nil
	case "mysql":
		return op.NewMySQLStore(ctx, cfg.Operations.DSN)
	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "不支持的操作存储驱动: "+cfg.Operations.Driver)
	}
}

func createQueue(cfg *config.Config) (op.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return op.NewMemoryQueue(0), nil
	case "redis":
		return op.NewRedisQueue(op.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return op.NewRabbitMQQueue(op.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "不支持的队列驱动: "+cfg.Queue.Driver)
	}
}

func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}

func createAuthConfig(cfg *config.Config) auth.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.Auth.Tokens))
	for _, token := range cfg.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:       token.Token,
			Name:        token.Name,
			Permissions: token.Permissions,
			Disabled:    token.Disabled,
		})
	}
	return auth.Config{Mode: auth.Mode(cfg.Auth.Mode), Tokens: tokens}
}

func parseInitialFunding(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.L().Warn("initial_funding 配置无法解析，按 0 处理", "value", raw)
		return 0
	}
	return value
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L().Error("metrics 服务退出", "error", err)
	}
}
