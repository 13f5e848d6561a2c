package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/platewise/platewise-go/internal/api"
	"github.com/platewise/platewise-go/internal/api/handlers"
	"github.com/platewise/platewise-go/internal/cache"
	"github.com/platewise/platewise-go/internal/config"
	"github.com/platewise/platewise-go/internal/database"
	"github.com/platewise/platewise-go/internal/logging"
	"github.com/platewise/platewise-go/internal/services"
)

func main() {
	// Load .env if present; real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	cacheTTL, err := time.ParseDuration(cfg.Elasticity.CacheTTL)
	if err != nil {
		logger.Fatalf("Invalid elasticity cache TTL %q: %v", cfg.Elasticity.CacheTTL, err)
	}

	// Repositories
	observationRepo := database.NewObservationRepository(db.Pool)
	promotionRepo := database.NewPromotionRepository(db.Pool)
	elasticityRepo := database.NewElasticityRepository(db.Pool)

	estimateCache := cache.NewRedisEstimateCache(redis.Client, cacheTTL, logger)

	// Estimation services
	inference := services.NewPromotionInferenceEngine(services.PromotionInferenceConfig{
		MinHistoryDays:      cfg.Promotion.MinHistoryDays,
		MinPromotionDays:    cfg.Promotion.MinPromotionDays,
		SigmaThreshold:      cfg.Promotion.SigmaThreshold,
		ConfidenceThreshold: cfg.Promotion.ConfidenceThreshold,
	}, logger)

	regressor := services.NewInstrumentalVariableRegressor(services.IVRegressorConfig{
		MinObservations: cfg.Elasticity.MinObservations,
		MinPricePoints:  cfg.Elasticity.MinPricePoints,
		WeakInstrumentF: cfg.Elasticity.WeakInstrumentF,
	}, logger)

	priors := services.NewIndustryPriorTable()

	hierarchyCfg := services.DefaultHierarchyConfig()
	hierarchyCfg.BayesianMinObs = cfg.Elasticity.BayesianMinObs
	hierarchyCfg.BayesianMinPrices = cfg.Elasticity.BayesianMinPrices
	hierarchy := services.NewElasticityFallbackHierarchy(hierarchyCfg, regressor, priors, elasticityRepo, logger)

	estimator := services.NewBatchEstimator(services.BatchEstimatorConfig{
		Workers:                cfg.Elasticity.BatchWorkers,
		PromotionLookbackDays:  cfg.Promotion.LookbackDays,
		ElasticityLookbackDays: cfg.Elasticity.LookbackDays,
	}, observationRepo, inference, hierarchy, promotionRepo, elasticityRepo, estimateCache, logger)

	elasticityHandler := handlers.NewElasticityHandler(estimator, elasticityRepo, observationRepo, promotionRepo, estimateCache, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, db, redis, elasticityHandler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
