// Package main is the operational entry point for the affiliate referral
// engine: it migrates the schema, seeds the level ladder, and optionally
// runs the batch promotion sweep that external cron invokes.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"affiliate-engine/internal/config"
	"affiliate-engine/internal/engine"
	"affiliate-engine/internal/pkg/db"
	"affiliate-engine/internal/pkg/lock"
	"affiliate-engine/internal/repository"
	"affiliate-engine/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	levelRepo := repository.NewLevelRepository(dbPool.Pool)
	referralRepo := repository.NewReferralRepository(dbPool.Pool, cfg.Referral.MaxChainHops)
	promotionRepo := repository.NewPromotionRepository(dbPool.Pool)
	payoutRepo := repository.NewPayoutRepository(dbPool.Pool)

	if err := levelRepo.Seed(ctx, engine.DefaultLevels()); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed level ladder")
	}

	// Initialize services
	userLock := lock.NewUserLock()
	evaluator := service.NewEvaluationService(userRepo, levelRepo, referralRepo)
	promoter := service.NewPromotionService(userRepo, levelRepo, promotionRepo, evaluator, userLock)
	registration := service.NewRegistrationService(referralRepo, evaluator, promoter)
	commissions := service.NewCommissionService(userRepo, levelRepo, referralRepo, payoutRepo, cfg.Commission.MaxLevels)

	eng := engine.New(userRepo, levelRepo, referralRepo, registration, evaluator, promoter, commissions)

	log.Info().Msg("Affiliate engine initialized")

	if len(os.Args) > 1 && os.Args[1] == "sweep" {
		evaluated, promoted, err := eng.EvaluateAllPromotions(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Promotion sweep failed")
		}
		log.Info().
			Int("evaluated", evaluated).
			Int("promoted", promoted).
			Msg("Promotion sweep completed")
	}
}
