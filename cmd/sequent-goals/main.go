// Package main provides the Sequent goal evaluator service: it consumes
// contact domain events and exits or resumes matching executions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/cmd"
	"github.com/sequentcrm/sequent/pkg/execution"
	"github.com/sequentcrm/sequent/pkg/goals"
	"github.com/sequentcrm/sequent/pkg/log"
	"github.com/sequentcrm/sequent/pkg/otelhelper"
	"github.com/sequentcrm/sequent/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "sequent-goals",
		EnableShellCompletion: true,
		Usage:                 "Evaluate goals and event waits against contact activity",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "service-id",
				Usage:   "Custom service ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SERVICE_ID"),
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

			serviceID := command.String("service-id")
			if serviceID == "" {
				serviceID = "goals-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("goals").With("service_id", serviceID)

			logger.InfoContext(ctx, "Initializing Sequent goal evaluator")

			if _, err := otelhelper.NewTracer(ctx, "sequent-goals"); err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			}

			eventBus, publisher := cmd.NewEventBus(command.String("event-bus"), "goals", logger)
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

			timerScheduler := scheduler.NewTimerScheduler(timers, logger)
			engine := execution.NewEngine(serviceID, persistence, registry, timerScheduler, eventBus, logger)
			evaluator := goals.NewEvaluator(persistence, engine, eventBus, logger)

			if err := evaluator.Bind(eventBus); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := eventBus.Subscribe(runCtx); err != nil {
				return err
			}

			<-runCtx.Done()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
