package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/castla94/gestor-chatbot/internal/app"
	"github.com/castla94/gestor-chatbot/internal/handler"
	mid "github.com/castla94/gestor-chatbot/internal/middleware"
	"github.com/castla94/gestor-chatbot/pkg/config"
	"github.com/castla94/gestor-chatbot/pkg/logger"
	"github.com/castla94/gestor-chatbot/prometheus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration (.env is optional)
	appConfig, err := config.Load()
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	if err := logger.InitLogger(appConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting "+appConfig.ServiceName, appConfig.LogFields()...)

	// Initialize Prometheus metrics
	metrics := prometheus.InitMetrics(appConfig)
	log.Info("Prometheus metrics initialized",
		zap.String("metrics_prefix", appConfig.Metrics.Prefix))

	components := app.New(appConfig, log, metrics)

	// Initialize Echo instance
	e := echo.New()
	e.HideBanner = true

	// Cancelled on shutdown so open log streams end with their trailer
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	e.Server.BaseContext = func(net.Listener) context.Context { return baseCtx }

	// Middleware
	e.Use(middleware.Recover())
	e.Use(mid.RequestIDMiddleware)
	e.Use(mid.MetricsMiddleware(metrics))
	e.Use(logger.Middleware())

	// Routes
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", handler.HealthCheck)
	handler.NewTenantHandler(components.Manager, components.Status, components.Logs).Register(e)

	go func() {
		port := appConfig.Server.Port
		log.Info("Gestor de clientes listening", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Shutting down", zap.String("signal", sig.String()))

	cancelStreams()
	ctx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}
