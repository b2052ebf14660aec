package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/persistence/memory"
	"github.com/sequentcrm/sequent/pkg/persistence/postgresql"
	"github.com/sequentcrm/sequent/pkg/persistence/redistimer"
)

// NewPersistence picks a backend from the database URL scheme. An empty
// URL falls back to the in-memory backend for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		backend, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return backend
	case "memory", "":
		return memory.NewPersistence()
	default:
		panic("Unsupported persistence provider in URL: " + databaseURL)
	}
}

// NewTimerRepository prefers a Redis sorted-set store when a Redis URL
// is configured, otherwise it uses the main backend's timer table.
func NewTimerRepository(backend persistence.Persistence, redisURL string) persistence.TimerRepository {
	if redisURL == "" {
		return backend.Timers()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse Redis URL: %w", err))
	}

	return redistimer.NewTimerRepository(redis.NewClient(opts))
}

func parseProvider(databaseURL string) string {
	if databaseURL == "" {
		return ""
	}

	parts := strings.SplitN(databaseURL, "://", 2)

	return parts[0]
}
