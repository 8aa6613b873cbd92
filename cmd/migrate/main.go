package main

import (
	"flag"
	"log"

	"quantumbulls-session/internal/config"
	"quantumbulls-session/internal/db"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if err := db.Migrate(cfg.DatabaseURL, *direction); err != nil {
		logger.Fatal("migration failed", zap.String("direction", *direction), zap.Error(err))
	}
	logger.Info("migrations applied", zap.String("direction", *direction))
}
