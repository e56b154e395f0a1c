package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appforge/internal/config"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/infra/adapters/codegen"
	"appforge/internal/infra/adapters/compute"
	"appforge/internal/infra/adapters/edge"
	"appforge/internal/infra/adapters/sourcecontrol"
	pg "appforge/internal/infra/db/postgres"
	httpapi "appforge/internal/infra/http"
	"appforge/internal/infra/logging"
	"appforge/internal/infra/metrics"
	"appforge/internal/infra/progress"
	red "appforge/internal/infra/redis"
	"appforge/internal/infra/resilience"
	"appforge/internal/infra/security"
	"appforge/internal/infra/worker"
	"appforge/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed checks)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	modelCache := red.NewModelCache(redisClient, time.Hour)

	// ---- Encryption ----
	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	projectRepo := pg.NewProjectRepo(pool)
	fileRepo := pg.NewProjectFileRepo(pool)
	convRepo := pg.NewConversationRepo(pool)
	deployRepo := pg.NewDeploymentRepo(pool)
	mappingRepo := pg.NewDomainMappingRepo(pool)
	usageRepo := pg.NewUsageLogRepo(pool)
	secretRepo := pg.NewSecretRepo(pool)
	jobQueue := pg.NewJobRepo(pool, tm)

	// ---- Progress fan-out ----
	bus := progress.NewBroadcaster(logger)

	// ---- Resilience: one breaker per external platform ----
	computeCall := resilience.NewCaller("compute", cfg.Resilience, logger)
	edgeCall := resilience.NewCaller("edge", cfg.Resilience, logger)
	scmCall := resilience.NewCaller("sourcecontrol", cfg.Resilience, logger)
	codegenCall := resilience.NewCaller("codegen", cfg.Resilience, logger)

	// ---- Platform adapters ----
	computeAdapter, err := compute.NewClient(cfg.Compute)
	if err != nil {
		logger.Fatal().Err(err).Msg("compute adapter")
	}
	edgeAdapter, err := edge.NewClient(cfg.Edge)
	if err != nil {
		logger.Fatal().Err(err).Msg("edge adapter")
	}
	scmAdapter, err := sourcecontrol.NewGitAdapter(cfg.SourceControl)
	if err != nil {
		logger.Fatal().Err(err).Msg("source control adapter")
	}

	// ---- Code generation (Gemini -> OpenAI) ----
	var codeGen adapter.CodeGenAdapter
	switch {
	case cfg.CodeGen.GeminiKey != "":
		codeGen, err = codegen.NewGeminiAdapter(ctx, cfg.CodeGen.GeminiKey, cfg.CodeGen.GeminiURL, cfg.CodeGen.DefaultModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini adapter")
		}
		logger.Info().Str("model", cfg.CodeGen.DefaultModel).Msg("codegen provider: gemini")
	default:
		codeGen, err = codegen.NewOpenAIAdapter(cfg.CodeGen.OpenAIKey, cfg.CodeGen.OpenAIBaseURL, cfg.CodeGen.DefaultModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai adapter")
		}
		logger.Info().Str("model", cfg.CodeGen.DefaultModel).Msg("codegen provider: openai")
	}
	codeGen = codegen.WithModelCache(codeGen, modelCache)
	validator := codegen.NewStaticValidator()

	// ---- Use cases ----
	genUC := usecase.NewGenerationUseCase(
		projectRepo, fileRepo, convRepo, codeGen, validator,
		codegenCall, bus, cfg.CodeGen.MaxFixRounds, logger,
	)
	deployUC := usecase.NewDeployUseCase(
		projectRepo, deployRepo, mappingRepo, usageRepo, secretRepo, fileRepo, jobQueue,
		computeAdapter, edgeAdapter, scmAdapter, encSvc,
		computeCall, edgeCall, scmCall, bus,
		usecase.DeployConfig{
			PlatformDomain: cfg.Compute.PlatformDomain,
			RepoBranch:     cfg.SourceControl.Branch,
			PollInterval:   cfg.Compute.PollInterval,
			PollTimeout:    cfg.Compute.PollTimeout,
		},
		logger,
	)

	// ---- Workers ----
	buildPool := worker.NewPool(cfg.Worker.BuildConcurrency, logger)
	deployPool := worker.NewPool(cfg.Worker.DeployConcurrency, logger)
	buildPool.Start(ctx)
	deployPool.Start(ctx)

	buildDispatcher := worker.NewDispatcher(
		jobQueue, projectRepo, locker, bus, worker.NewBuildHandler(genUC),
		cfg.Worker.PollInterval, cfg.Worker.BuildTimeout, cfg.Worker.RetryBaseDelay,
		cfg.Worker.MaxAttempts, logger,
	)
	deployDispatcher := worker.NewDispatcher(
		jobQueue, projectRepo, locker, bus, worker.NewDeployHandler(deployUC),
		cfg.Worker.PollInterval, cfg.Worker.DeployTimeout, cfg.Worker.RetryBaseDelay,
		cfg.Worker.MaxAttempts, logger,
	)
	go buildDispatcher.Start(ctx, buildPool)
	go deployDispatcher.Start(ctx, deployPool)

	// ---- HTTP surface ----
	srv := httpapi.NewServer(cfg.HTTP, bus, projectRepo, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	cancel()
	buildPool.Stop()
	deployPool.Stop()
	logger.Info().Msg("bye")
}
