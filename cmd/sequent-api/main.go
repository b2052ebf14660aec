package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/cmd"
	"github.com/sequentcrm/sequent/pkg/log"
	"github.com/sequentcrm/sequent/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9080

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "sequent-api",
		Usage:                 "Manage workflows, versions, executions and migrations",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the durable timer store (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "provider-gateway-url",
				Usage:   "Base URL of the provider gateway; empty queues provider requests on the broker",
				Sources: cli.EnvVars("PROVIDER_GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			serviceID := "api-" + uuid.New().String()[:8]

			logger.InfoContext(ctx, "Initializing Sequent API", "service_id", serviceID)

			if _, err := otelhelper.NewTracer(ctx, "sequent-api"); err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			}

			eventBus, publisher := cmd.NewEventBus(command.String("event-bus"), "api", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			timers := cmd.NewTimerRepository(persistence, command.String("redis-url"))
			senders := cmd.NewSenders(command.String("provider-gateway-url"), publisher, logger)
			registry := cmd.NewRegistry(logger, persistence.Steps(), senders)

			api := NewAPI(serviceID, logger, persistence, timers, registry, eventBus)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "API server stopped", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
