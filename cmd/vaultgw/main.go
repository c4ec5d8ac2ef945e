package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deltavault/chain"
	"deltavault/chain/permit"
	"deltavault/cmd/internal/passphrase"
	"deltavault/observability/logging"
	telemetry "deltavault/observability/otel"
	"deltavault/services/vaultgw/config"
	"deltavault/services/vaultgw/metrics"
	"deltavault/services/vaultgw/models"
	"deltavault/services/vaultgw/pools"
	"deltavault/services/vaultgw/server"
	"deltavault/services/vaultgw/setup"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultgw/config.example.yaml", "path to vaultgw configuration file (YAML or TOML)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultgw: load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Environment)
	logger := logging.Setup("vaultgw", env, logging.WithFile(cfg.Logging))
	logger.Info("vaultgw: configuration loaded", startupFields(cfg)...)

	telemetryCfg := telemetry.FromEnv("vaultgw", env)
	telemetryCfg.Attributes = map[string]string{"vault.address": cfg.Contracts.Vault}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("vaultgw: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := models.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("vaultgw: open database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("vaultgw: migrate database: %v", err)
	}
	logger.Info("vaultgw: database ready", slog.String("database_url", logging.MaskDSN(cfg.DatabaseURL)))

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 15*time.Second)
	client, err := chain.Dial(dialCtx, cfg.RPCURL)
	cancelDial()
	if err != nil {
		log.Fatalf("vaultgw: %v", err)
	}
	defer client.Close()

	contracts := server.Contracts{
		Vault:      config.Address(cfg.Contracts.Vault),
		USDC:       config.Address(cfg.Contracts.USDC),
		Operator:   config.Address(cfg.Contracts.Operator),
		Rebalancer: config.Address(cfg.Contracts.Rebalancer),
		Factory:    config.Address(cfg.Contracts.Factory),
		Periphery:  config.Address(cfg.Contracts.Periphery),
	}

	agg := metrics.NewAggregator(chain.NewVault(contracts.Vault, client),
		metrics.WithCallTimeout(cfg.Metrics.CallTimeout.Duration),
		metrics.WithLogger(logger))
	history := metrics.NewHistory(db)
	poller := metrics.NewPoller(metrics.PollerConfig{
		Aggregator: agg,
		History:    history,
		Interval:   cfg.Metrics.PollInterval.Duration,
		Retention:  cfg.Metrics.Retention.Duration,
		Logger:     logger,
	})

	var scheduler *metrics.Scheduler
	if dir := strings.TrimSpace(cfg.Export.Dir); dir != "" {
		hour, minute := cfg.Export.Schedule()
		scheduler = metrics.NewScheduler(metrics.SchedulerConfig{
			Exporter:  metrics.NewExporter(history, dir),
			RunHour:   hour,
			RunMinute: minute,
			Logger:    logger,
		})
	}

	var (
		operator *chain.Transactor
		runner   *setup.Runner
	)
	if strings.TrimSpace(cfg.Operator.KeystorePath) != "" {
		operator, err = loadOperator(client, cfg.Operator, logger)
		if err != nil {
			log.Fatalf("vaultgw: operator: %v", err)
		}
		if strings.TrimSpace(cfg.Contracts.EVC) != "" {
			runner, err = setup.NewRunner(setup.Config{
				DB:              db,
				Caller:          client,
				Executor:        operator,
				EVC:             config.Address(cfg.Contracts.EVC),
				DefaultHedger:   config.Address(cfg.Contracts.DeltaHedger),
				DefaultAmount:   cfg.Setup.DefaultAmount,
				DefaultEthPrice: cfg.Setup.DefaultEthPrice,
				Logger:          logger,
			})
			if err != nil {
				log.Fatalf("vaultgw: setup runner: %v", err)
			}
		}
	}

	srvCfg := server.Config{
		ListenAddress: cfg.ListenAddress,
		Logger:        logger,
		DB:            db,
		Backend:       client,
		Contracts:     contracts,
		Aggregator:    agg,
		Poller:        poller,
		History:       history,
		Pools:         pools.NewStore(db),
		Permits:       permit.NewBuilder(client, permit.WithTTL(cfg.Permit.TTL.Duration), permit.WithLogger(logger)),
		Setup:         runner,
		Auth:          cfg.Auth,
		CORS:          cfg.CORS,
		RateLimits:    cfg.RateLimits,
		ReceiptPoll:   cfg.Operator.ReceiptPoll.Duration,
		TxTimeout:     cfg.Operator.TxTimeout.Duration,
	}
	if operator != nil {
		srvCfg.Operator = operator
		srvCfg.ChainID = operator.ChainID()
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		log.Fatalf("vaultgw: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go poller.Run(rootCtx)
	if scheduler != nil {
		go scheduler.Start(rootCtx)
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("vaultgw: http server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadOperator(client chain.Backend, cfg config.OperatorConfig, logger *slog.Logger) (*chain.Transactor, error) {
	pass, err := passphrase.NewSource(cfg.PassphraseEnv, "operator keystore").Get()
	if err != nil {
		return nil, err
	}
	signer, err := chain.LoadKeystore(cfg.KeystorePath, pass)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	operator, err := chain.NewTransactor(ctx, client, signer,
		chain.WithGasHeadroom(cfg.GasHeadroom),
		chain.WithReceiptPoll(cfg.ReceiptPoll.Duration),
		chain.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Info("vaultgw: operator key loaded", slog.String("address", operator.Address().Hex()))
	return operator, nil
}

// startupFields lists configuration worth logging at boot. RPC URLs often
// embed provider keys, so everything goes through the redaction allowlist.
func startupFields(cfg config.Config) []any {
	return []any{
		logging.MaskField("env", cfg.Environment),
		logging.MaskField("listen", cfg.ListenAddress),
		logging.MaskField("rpc_url", cfg.RPCURL),
		logging.MaskField("vault", cfg.Contracts.Vault),
		logging.MaskField("operator", cfg.Contracts.Operator),
		logging.MaskField("jwt_secret", cfg.Auth.HMACSecret),
		logging.MaskField("keystore_path", cfg.Operator.KeystorePath),
	}
}
