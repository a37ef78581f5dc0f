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
	"go.uber.org/zap"

	"github.com/sandbridge/sandbridge/internal/common/config"
	"github.com/sandbridge/sandbridge/internal/common/logger"
	"github.com/sandbridge/sandbridge/internal/conversation"
	"github.com/sandbridge/sandbridge/internal/conversation/search"
	"github.com/sandbridge/sandbridge/internal/db"
	"github.com/sandbridge/sandbridge/internal/events/notifier"
	eventstore "github.com/sandbridge/sandbridge/internal/events/store"
	"github.com/sandbridge/sandbridge/internal/gateway/rawws"
	"github.com/sandbridge/sandbridge/internal/gateway/socketio"
	"github.com/sandbridge/sandbridge/internal/gateway/upstream"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting sandbridge...")

	// 3. Open stores. An empty database path selects the in-memory stores,
	// handy for development and throwaway runs.
	var (
		events eventstore.Store
		convs  conversation.Store
	)
	if cfg.Database.Path != "" {
		writer, err := db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			log.Fatal("Failed to open database", zap.Error(err))
		}
		reader, err := db.OpenSQLiteReader(cfg.Database.Path)
		if err != nil {
			log.Fatal("Failed to open database reader", zap.Error(err))
		}
		events, err = eventstore.NewSQLiteStore(writer, reader)
		if err != nil {
			log.Fatal("Failed to initialize event store", zap.Error(err))
		}
		convs, err = conversation.NewSQLiteStore(writer, reader)
		if err != nil {
			log.Fatal("Failed to initialize conversation store", zap.Error(err))
		}
		log.Info("Using SQLite storage", zap.String("path", cfg.Database.Path))
	} else {
		events = eventstore.NewMemoryStore()
		convs = conversation.NewMemoryStore()
		log.Info("Using in-memory storage")
	}
	defer events.Close()

	// 4. Wire the core services
	n := notifier.NewNotifier(log)
	service := conversation.NewService(convs, events, n, log)

	local := func(ctx context.Context, query string, limit int) ([]search.Result, error) {
		matches, err := service.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		results := make([]search.Result, 0, len(matches))
		for _, conv := range matches {
			results = append(results, search.Result{
				ID:        conv.ID,
				Title:     conv.Title,
				CreatedAt: conv.CreatedAt,
			})
		}
		return results, nil
	}
	searchGateway := search.NewGateway(cfg.Search.RemoteURL, cfg.Search.Cooldown(),
		cfg.Search.RequestTimeoutDuration(), local, log)

	// 5. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// 6. Register routes
	api := router.Group("/api")
	conversation.NewHandlers(service, searchGateway, log).RegisterRoutes(api)

	rawHandler := rawws.NewHandler(service, events, n, log)
	router.GET("/sockets/events/:conversationId", rawHandler.Handle)

	sioHandler := socketio.NewHandler(service, events, n, cfg.Stream, log)
	router.GET("/socket.io", sioHandler.Handle)
	router.GET("/socket.io/*any", sioHandler.Handle)

	if cfg.Upstream.URL != "" {
		proxy, err := upstream.NewProxy(cfg.Upstream.URL, cfg.Upstream.ConnectTimeoutDuration(), log)
		if err != nil {
			log.Fatal("Failed to initialize upstream proxy", zap.Error(err))
		}
		router.Any("/upstream/socket.io/*any", proxy.Handle)
		log.Info("Upstream proxy enabled", zap.String("url", cfg.Upstream.URL))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 7. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 8. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 9. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down sandbridge...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("sandbridge stopped")
}
