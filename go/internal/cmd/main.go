package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crazyrace/crazyrace/go/internal/config"
	"github.com/crazyrace/crazyrace/go/internal/quiz"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rules, err := config.LoadGameRules(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load game rules")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := setupDatabase(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up database")
	}
	defer pool.Close()

	cacheCfg := quiz.DefaultRedisCacheConfig()
	cacheCfg.Addr = getEnv("REDIS_ADDR", cacheCfg.Addr)
	cacheCfg.Password = os.Getenv("REDIS_PASSWORD")
	cacheCfg.DB = getEnvAsInt("REDIS_DB", 0)
	cache, err := quiz.NewRedisCache(cacheCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer cache.Close()

	services := setupServices(pool, cache, rules)

	go func() {
		if err := services.Scheduler.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("scheduler exited")
		}
	}()

	server := setupServer(services)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("API server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()
	log.Info().Msg("shutdown complete")
}
