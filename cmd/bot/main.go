package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"polypaper/internal/advisor"
	polymarketclob "polypaper/internal/client/polymarket/clob"
	polymarketgamma "polypaper/internal/client/polymarket/gamma"
	"polypaper/internal/config"
	cronrunner "polypaper/internal/cron"
	"polypaper/internal/db"
	"polypaper/internal/engine"
	"polypaper/internal/handler"
	"polypaper/internal/kelly"
	"polypaper/internal/ledger"
	"polypaper/internal/logger"
	"polypaper/internal/models"
	"polypaper/internal/pool"
	gormrepository "polypaper/internal/repository/gorm"
	"polypaper/internal/resolution"
	"polypaper/internal/service"

	_ "polypaper/docs"
)

// maxChainedBatches bounds how many advisory batches one cron tick may run
// back to back when the shortlist keeps reporting more fresh markets.
const maxChainedBatches = 10

func main() {
	cfgPath := os.Getenv("PP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("PP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	initialBalance := decimal.NewFromFloat(cfg.Portfolio.InitialBalance)
	if err := seedPortfolio(context.Background(), store, initialBalance); err != nil {
		logger.Fatal("portfolio seed failed", zap.Error(err))
	}

	gammaHTTP := &http.Client{Timeout: cfg.Gamma.Timeout}
	gammaClient := polymarketgamma.NewClient(gammaHTTP, cfg.Gamma.BaseURL)
	clobHTTP := &http.Client{Timeout: cfg.ClobREST.Timeout}
	clobClient := polymarketclob.NewClient(clobHTTP, cfg.ClobREST.BaseURL)

	catalogService := &service.CatalogService{
		Config: cfg.Catalog,
		Gamma:  gammaClient,
		Logger: logger,
	}
	statsService := &service.StatsService{Repo: store, Logger: logger}
	streamService := &service.PriceStreamService{
		Config: cfg.ClobStream,
		Repo:   store,
		Logger: logger,
	}

	advisorHTTP := &http.Client{Timeout: cfg.Advisor.Timeout}
	limits := advisor.Limits{
		MinConfidence: cfg.Advisor.MinConfidence,
		MinNetEdge:    cfg.Advisor.MinNetEdge,
	}
	router := &advisor.Router{
		Providers: map[string]advisor.Provider{
			"anthropic": advisor.NewAnthropicProvider(advisorHTTP, cfg.Advisor.Anthropic, limits),
			"openai":    advisor.NewOpenAIProvider(advisorHTTP, cfg.Advisor.OpenAI, limits),
		},
		Default:        cfg.Advisor.Provider,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.Advisor.RatePerMinute/60.0), 1),
		Repo:           store,
		Logger:         logger,
		MaxImpliedEdge: cfg.Advisor.MaxImpliedEdge,
	}

	sizer := &kelly.Sizer{Config: cfg.Kelly, Logger: logger}
	orderLedger := &ledger.Ledger{
		Repo:      store,
		Clob:      clobClient,
		Logger:    logger,
		Tolerance: decimal.NewFromFloat(cfg.Portfolio.BalanceTolerance),
	}
	orchestrator := &engine.Orchestrator{
		Config:    cfg.Cycle,
		BatchSize: cfg.Advisor.BatchSize,
		PoolSize:  cfg.Pool.PoolSize,
		BucketCap: cfg.Pool.MaxPerCluster,
		Provider:  cfg.Advisor.Provider,
		Repo:      store,
		Catalog:   catalogService,
		Pool:      &pool.Builder{Config: cfg.Pool, Logger: logger},
		Router:    router,
		Sizer:     sizer,
		Ledger:    orderLedger,
		Logger:    logger,
	}
	resolver := &resolution.Engine{
		Config: cfg.Resolution,
		Repo:   store,
		Gamma:  gammaClient,
		Logger: logger,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(ginEngine)
	handler.RegisterDocs(ginEngine)
	portfolioHandler := &handler.PortfolioHandler{Repo: store, InitialBalance: initialBalance}
	portfolioHandler.Register(ginEngine)
	orderHandler := &handler.OrderHandler{Repo: store, Ledger: orderLedger}
	orderHandler.Register(ginEngine)
	activityHandler := &handler.ActivityHandler{Repo: store}
	activityHandler.Register(ginEngine)
	statsHandler := &handler.StatsHandler{Stats: statsService, Repo: store}
	statsHandler.Register(ginEngine)
	advisoryHandler := &handler.AdvisoryHandler{Repo: store}
	advisoryHandler.Register(ginEngine)
	cycleHandler := &handler.CycleHandler{Engine: orchestrator}
	cycleHandler.Register(ginEngine)

	ginEngine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: ginEngine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)

	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.Cycle, func(ctx context.Context) {
			runCycleChain(ctx, orchestrator, logger)
		})
		if err != nil {
			logger.Warn("cron register cycle failed", zap.Error(err))
		}
	}

	_, err = cronRunner.Add("@every 1h", func(ctx context.Context) {
		if err := statsService.RecordBalancePoint(ctx); err != nil {
			logger.Warn("balance snapshot failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register balance snapshot failed", zap.Error(err))
	}

	_, err = cronRunner.Add("@every 6h", func(ctx context.Context) {
		if err := statsService.PruneActivities(ctx, 0); err != nil {
			logger.Warn("activity prune failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register activity prune failed", zap.Error(err))
	}

	cronRunner.Start()
	defer cronRunner.Stop()

	go resolver.Run(ctx)
	go func() {
		if err := streamService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("price stream stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// runCycleChain runs consecutive auto batches until the shortlist is
// exhausted, the chain cap is reached, or a batch ends on anything but a
// clean completion. Only the first batch of a tick faces the throttle;
// continuations go through ContinueCycle so the stamp written by the
// previous batch cannot block the rest of the chain.
func runCycleChain(ctx context.Context, orchestrator *engine.Orchestrator, logger *zap.Logger) {
	for i := 0; i < maxChainedBatches; i++ {
		var result *engine.Result
		var err error
		if i == 0 {
			result, err = orchestrator.RunCycle(ctx, false)
		} else {
			result, err = orchestrator.ContinueCycle(ctx)
		}
		if err != nil {
			logger.Warn("cron cycle failed", zap.Error(err))
			return
		}
		logger.Info("cron cycle batch done",
			zap.Int("batch", i+1),
			zap.String("status", result.Status),
			zap.Int("analyzed", result.Analyzed),
			zap.Int("orders_placed", result.OrdersPlaced),
			zap.Bool("has_more", result.HasMoreMarkets),
		)
		if result.Status != engine.StatusCompleted || !result.HasMoreMarkets {
			return
		}
	}
}

// seedPortfolio creates the singleton portfolio row on first boot. An
// existing row is left alone; resets go through the API.
func seedPortfolio(ctx context.Context, store *gormrepository.Store, initial decimal.Decimal) error {
	portfolio, err := store.GetPortfolio(ctx)
	if err != nil {
		return err
	}
	if portfolio != nil {
		return nil
	}
	return store.SavePortfolio(ctx, &models.Portfolio{
		ID:             models.PortfolioID,
		Balance:        initial,
		InitialBalance: initial,
		TotalPnL:       decimal.Zero,
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
