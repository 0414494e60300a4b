// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/config"
	"github.com/unclebandit/wacampaigns-backend/internal/db"
)

// The seeder applies the schema and then any seed files given as arguments.
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("schema applied")

	for _, file := range flag.Args() {
		if !strings.HasSuffix(file, ".sql") {
			logger.Warn("skipping non-sql file", zap.String("file", file))
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Fatal("failed to read seed file", zap.String("file", file), zap.Error(err))
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			logger.Fatal("failed to execute seed file", zap.String("file", file), zap.Error(err))
		}
		logger.Info("seeded", zap.String("file", file))
	}

	logger.Info("database seeding completed successfully")
}
