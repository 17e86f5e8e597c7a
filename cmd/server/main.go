// Server entrypoint for the guild quest board.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aimd54/guild-quest-board/internal/api/questboard"
	"github.com/aimd54/guild-quest-board/internal/config"
	"github.com/aimd54/guild-quest-board/internal/models"
	"github.com/aimd54/guild-quest-board/internal/notifier"
	"github.com/aimd54/guild-quest-board/internal/repository"
	"github.com/aimd54/guild-quest-board/internal/service/lifecycle"
	"github.com/aimd54/guild-quest-board/internal/service/permissions"
	"github.com/aimd54/guild-quest-board/internal/service/ratelimit"
	"github.com/aimd54/guild-quest-board/internal/service/stats"
	"github.com/aimd54/guild-quest-board/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log := logger.Get()

	log.Info().
		Int("port", cfg.Server.Port).
		Str("environment", cfg.Server.Environment).
		Msg("Starting guild quest board")

	db, err := repository.NewDB(&cfg.Database.Postgres, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	redisClient := ratelimit.NewClient(&cfg.Database.Redis)
	limiter := ratelimit.NewLimiter(redisClient, log)

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := limiter.Ping(startupCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	aggregator := stats.NewAggregator(db, log)
	if err := aggregator.ReconcileDirty(startupCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to reconcile user stats")
	}

	questRepo := repository.NewQuestRepository(db)
	progressRepo := repository.NewProgressRepository(db, aggregator)
	channelRepo := repository.NewChannelRepository(db)

	if err := seedChannelDefaults(cfg, channelRepo, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed guild channel defaults")
	}

	dispatcher := notifier.NewClient(&cfg.Notifier, log)
	manager := lifecycle.NewManager(
		questRepo,
		progressRepo,
		channelRepo,
		permissions.NewEvaluator(),
		limiter,
		dispatcher,
		&cfg.Cooldowns,
		log,
	)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	handler := questboard.NewHandler(manager, questRepo, progressRepo, aggregator, channelRepo, log)
	handler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		if err := db.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Redis client")
	}
}

// seedChannelDefaults stores the YAML channel defaults for guilds that
// have no configuration yet. Stored rows always win.
func seedChannelDefaults(cfg *config.Config, channels *repository.ChannelRepository, log *logger.Logger) error {
	defaults, err := config.LoadGuildChannelDefaults(cfg.Guilds.ChannelDefaultsFile)
	if err != nil {
		return err
	}

	for guildID, d := range defaults {
		if _, err := channels.Get(guildID); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		err := channels.Save(&models.ChannelConfig{
			GuildID:           guildID,
			ListChannelID:     d.ListChannelID,
			AcceptChannelID:   d.AcceptChannelID,
			SubmitChannelID:   d.SubmitChannelID,
			ApprovalChannelID: d.ApprovalChannelID,
			NotifyChannelID:   d.NotifyChannelID,
		})
		if err != nil {
			return err
		}
		log.Info().Int64("guild_id", guildID).Msg("Seeded guild channel defaults")
	}
	return nil
}
