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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/skillport/skillport/internal/common"
	"github.com/skillport/skillport/internal/courses"
	"github.com/skillport/skillport/internal/storage"
	"github.com/skillport/skillport/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()

	setupLogging(cfg.Logging)

	log.Info().Str("env", cfg.Environment).Msg("starting skillport API")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer cache.Close()

	uploads, err := storage.FromConfig(&cfg.Storage, cfg.IsProduction())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure upload providers")
	}

	courseService := courses.NewService(db, cache, uploads)

	router := setupRouter(cfg, courseService, uploads)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func setupRouter(cfg *config.Config, courseService *courses.Service, uploads *storage.Resolver) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(corsMiddleware())
	router.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "skillport-api",
			"time":    time.Now().UTC(),
		})
	})

	// Files written by the local-disk fallback are only served in development.
	if !cfg.IsProduction() {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	api := router.Group("/api/v1")
	{
		// Public catalog
		api.GET("/courses", handleListCourses(courseService))
		api.GET("/courses/:id", handleGetCourse(courseService))

		authed := api.Group("")
		authed.Use(authMiddleware(&cfg.Auth))
		{
			authed.POST("/courses", handleCreateCourse(cfg, courseService))
			authed.POST("/courses/:id/publish", handlePublishCourse(courseService))
			authed.POST("/courses/:id/modules", handleAddModule(courseService))
			authed.POST("/modules/:id/lessons", handleAddLesson(cfg, courseService))
			authed.POST("/courses/:id/enroll", handleEnroll(courseService))
			authed.POST("/courses/:id/progress", handleRecordProgress(courseService))

			authed.GET("/notifications", handleListNotifications(courseService))
			authed.POST("/notifications/:id/read", handleMarkNotificationRead(courseService))

			authed.PUT("/profile", handleUpsertProfile(cfg, courseService))

			authed.POST("/subscriptions", handleSubscribe(courseService))
			authed.DELETE("/subscriptions", handleCancelSubscription(courseService))

			// Direct upload endpoints exposing the resolver contract
			authed.POST("/uploads", handleUpload(cfg, uploads))
			authed.POST("/uploads/directory", handleUploadDirectory(cfg, uploads))
		}
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, Accept, Origin")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
