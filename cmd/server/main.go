package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"financing-api/internal/config"
	"financing-api/internal/handler"
	"financing-api/internal/repository"
	"financing-api/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName,
	))
	if err != nil {
		logger.Fatalf("Failed to open database connection: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	logger.Info("Initializing repositories...")
	auditRepo := repository.NewAuditRepository(db, logger)
	proposalRepo := repository.NewProposalRepository(db, auditRepo, logger)

	logger.Info("Initializing services...")
	authService := service.NewAuthService(cfg.JWTSecret, logger)
	limitClient := service.NewLimitServiceClient(cfg.LimitServiceURL, logger)
	approvalClient := service.NewApprovalServiceClient(cfg.ApprovalServiceURL, logger)
	bcbClient := service.NewBCBClient(logger)
	emailSender := service.NewEmailSender(logger)
	eligibilityGate := service.NewEligibilityGate(limitClient, approvalClient, cfg.ApprovalThreshold, logger)
	auditRecorder := service.NewAuditRecorder(auditRepo, logger)
	proposalService := service.NewProposalService(
		proposalRepo,
		eligibilityGate,
		auditRecorder,
		emailSender,
		bcbClient,
		cfg.RateMarginPercent,
		cfg.DefaultAnnualRate,
		logger,
	)
	analyticService := service.NewAnalyticService(proposalRepo, logger)

	logger.Info("Initializing API handlers...")
	proposalHandler := handler.NewProposalHandler(proposalService, logger)
	analyticsHandler := handler.NewAnalyticsHandler(analyticService, logger)

	router := mux.NewRouter()

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(handler.AuthMiddleware(authService, logger))

	proposalRouter := apiRouter.PathPrefix("/proposals").Subrouter()
	proposalHandler.RegisterRoutes(proposalRouter)

	simulationRouter := apiRouter.PathPrefix("/simulations").Subrouter()
	proposalHandler.RegisterSimulationRoutes(simulationRouter)

	analyticsRouter := apiRouter.PathPrefix("/analytics").Subrouter()
	analyticsHandler.RegisterRoutes(analyticsRouter)

	logger.Info("Configuring approval decision scheduler...")
	c := cron.New()
	_, err = c.AddFunc("@every 10m", func() {
		logger.Info("Syncing approval workflow decisions")
		if err := proposalService.SyncApprovalDecisions(context.Background()); err != nil {
			logger.WithError(err).Error("Approval decision sync failed")
		}
	})
	if err != nil {
		logger.Fatalf("Failed to configure scheduler: %v", err)
	}
	c.Start()

	server := &http.Server{
		Addr:    ":8080",
		Handler: router,
	}

	go func() {
		logger.Info("Starting server on :8080")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}
	logger.Info("Server stopped")
}
