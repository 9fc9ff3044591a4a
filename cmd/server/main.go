// Package main runs the classroom HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-classroom/backend/config"
	"github.com/aura-classroom/backend/internal/attendance"
	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/classroom"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/pkg/database"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/redis"
	"github.com/aura-classroom/backend/pkg/response"
	"github.com/aura-classroom/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Report links are optional: without a bucket the stored URL is returned.
	var reportLinks attendance.ReportLinker
	if cfg.AWS.ReportsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ReportsBucket:   cfg.AWS.ReportsBucket,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		reportLinks = s3Client
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	recorder := attendance.NewRecorder(jobQueue, cfg.Classroom.OutboxSize*4, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	sessionRepo := sessions.NewRepository(pool)
	sessionSvc := sessions.NewService(sessionRepo, jobQueue, logger, sessions.Options{
		DefaultCapacity: cfg.Classroom.DefaultCapacity,
		Registry: []classroom.RegistryOption{
			classroom.WithTombstones(cfg.Classroom.TombstoneSize, cfg.Classroom.TombstoneTTL),
			classroom.WithRoomOptions(
				classroom.WithLogger(logger),
				classroom.WithAttendanceSink(recorder),
				classroom.WithOutboxSize(cfg.Classroom.OutboxSize),
				classroom.WithCommandQueue(cfg.Classroom.CommandQueue),
			),
		},
	})
	sweep, err := sessionSvc.StartSweep(cfg.Classroom.SweepSchedule, time.Minute)
	if err != nil {
		logger.Fatal("sweep schedule", zap.Error(err))
	}

	iceServers := realtime.ICEServers(cfg.WebRTC.ICEUrls, cfg.WebRTC.TURNUsername, cfg.WebRTC.TURNCredential)
	hub := realtime.NewHub(logger)
	wsServer := realtime.NewServer(hub, sessionSvc, jwtService, realtime.Options{
		ICEServers:     iceServers,
		AllowedOrigins: middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins),
	}, logger)

	sessionHandler := sessions.NewHandler(sessionSvc, logger)
	attendanceHandler := attendance.NewHandler(sessionSvc, attendance.NewRepository(pool), reportLinks, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{
			"status":      "ok",
			"rooms":       sessionSvc.Registry().Len(),
			"connections": hub.Total(),
		})
	})
	router.GET("/ice-servers", realtime.ICEHandler(iceServers))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/sessions/:id/participants", sessionHandler.Participants)
		api.POST("/sessions/:id/end", middleware.RequireRole("teacher"), sessionHandler.End)
		api.GET("/sessions/:id/attendance", middleware.RequireRole("teacher"), attendanceHandler.List)
		api.GET("/sessions/:id/attendance/report", middleware.RequireRole("teacher"), attendanceHandler.Report)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", wsServer.ServeWs)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	sweep.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// rooms close their spans; sessions stay open and are reported when they really end
	if err := sessionSvc.Shutdown(shutdownCtx); err != nil {
		logger.Error("rooms shutdown", zap.Error(err))
	}
	hub.CloseAll()
	recorder.Close()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
