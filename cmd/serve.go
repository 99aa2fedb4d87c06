package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/c54335/contract-delivery-tracker/handler"
	"github.com/c54335/contract-delivery-tracker/middleware"
	"github.com/c54335/contract-delivery-tracker/pkg/logger"
	"github.com/c54335/contract-delivery-tracker/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.Info("configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionHandler, err := buildSessionHandler(ctx, cfg)
	if err != nil {
		return err
	}
	router := newRouter(cfg, handler.NewAuthHandler(cfg), sessionHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: time.Duration(cfg.Mineru.TimeoutSeconds+cfg.Obligation.TimeoutSeconds+60) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited gracefully")
	return nil
}

// buildSessionHandler wires the optional collaborators that are configured
func buildSessionHandler(ctx context.Context, cfg *config.Config) (*handler.SessionHandler, error) {
	var textExtractor service.TextExtractor
	var storage *service.DocumentStorage
	if cfg.Minio.Endpoint != "" {
		var err error
		storage, err = service.NewDocumentStorage(&cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := storage.EnsureBucket(bucketCtx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket: %w", err)
		}
		if cfg.Mineru.APIURL != "" {
			textExtractor = service.NewMineruExtractor(&cfg.Mineru, storage)
		}
	}
	if textExtractor == nil {
		slog.Warn("document upload disabled: minio and mineru must both be configured")
	}

	var obligations service.ObligationExtractor
	switch strings.ToLower(cfg.Obligation.Provider) {
	case "clause":
		obligations = service.NewClauseExtractor()
	case "gemini":
		if cfg.Obligation.APIKey == "" {
			slog.Warn("obligation.api_key not set, falling back to clause matching")
			obligations = service.NewClauseExtractor()
		} else {
			obligations = service.NewGeminiObligationService(&cfg.Obligation)
		}
	default:
		return nil, fmt.Errorf("unknown obligation provider %q", cfg.Obligation.Provider)
	}

	h := handler.NewSessionHandler(
		service.NewSessionStore(&cfg.Store),
		service.NewIntake(textExtractor, obligations),
		service.NewInterpreter(&cfg.Tracker),
		cfg.Tracker.Location(),
	)
	if storage != nil {
		h.WithArchive(storage)
	}

	if cfg.Calendar.Enabled {
		srv, err := service.NewCalendarService(ctx, &cfg.Calendar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize calendar: %w", err)
		}
		h.WithCalendar(service.NewCalendarSync(srv, cfg.Calendar.CalendarID))
	}
	return h, nil
}

func newRouter(cfg *config.Config, authHandler *handler.AuthHandler, sessionHandler *handler.SessionHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.Use(cacheMiddleware())

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, time.Minute)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	api.POST("/auth/login", limiter.Middleware(), authHandler.Login)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth), limiter.Middleware())
	protected.GET("/auth/me", authHandler.GetCurrentUser)
	sessionHandler.Register(protected)

	return router
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Archive-Object, Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// cacheMiddleware disables caching of API responses
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
