// Package store archives job snapshots so jobs evicted from the registry
// can still be looked up.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Mikkicon/bellflow/models"
)

// JobStore persists job snapshots keyed by job id.
type JobStore interface {
	Save(ctx context.Context, job *models.ScrapeJob) error
	Load(ctx context.Context, jobID string) (*models.ScrapeJob, bool, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend    string // "memory" or "redis"
	RedisAddr  string
	Prefix     string
	TTL        time.Duration
	MaxEntries int
}

// New builds the configured backend.
func New(cfg Config) (JobStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxEntries, cfg.TTL), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, models.NewScrapeError(models.ErrCodeConfiguration,
				"redis job store needs an address", models.ErrConfiguration)
		}
		return NewRedisStore(cfg.RedisAddr, cfg.Prefix, cfg.TTL), nil
	default:
		return nil, models.NewScrapeError(models.ErrCodeConfiguration,
			fmt.Sprintf("unknown job store backend %q", cfg.Backend), models.ErrConfiguration)
	}
}
