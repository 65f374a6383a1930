// Package bootstrap wires the runtime dependencies shared by the entry points.
package bootstrap

import (
	"context"
	"fmt"

	"hostelgate/internal/cache"
	"hostelgate/internal/clock"
	"hostelgate/internal/config"
	"hostelgate/internal/database"
	"hostelgate/internal/middleware"
	"hostelgate/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	SeedDemoData bool
}

// InitRuntime connects to DB and Redis and optionally seeds demo requests.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional; a nil client disables rate limiting and event fan-out.
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.SeedDemoData {
		if err := seedDemo(cfg, db); err != nil {
			return nil, nil, err
		}
	}

	return db, r, nil
}

func seedDemo(cfg *config.Config, db *gorm.DB) error {
	if cfg.IsProduction() {
		middleware.Logger.Warn("SEED_DEMO_DATA ignored in production")
		return nil
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var existing int64
	if err := db.Table("gate_requests").Count(&existing).Error; err != nil {
		return fmt.Errorf("count requests: %w", err)
	}
	if existing > 0 {
		middleware.Logger.Info("demo seed skipped, requests already present", "count", existing)
		return nil
	}

	opts := seed.DefaultOptions(clock.NewReal(loc).Now(), loc)
	opts.MaxVisits = cfg.DefaultMaxVisits
	if _, err := seed.Run(context.Background(), db, opts); err != nil {
		return fmt.Errorf("failed to seed demo data: %w", err)
	}
	return nil
}
