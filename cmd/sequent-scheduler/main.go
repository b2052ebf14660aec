// Package main provides the Sequent scheduler: the centralized poller for
// recurring enrollment schedules. Due schedules are announced on the event
// bus for the contact service to resolve into enrollments.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/cmd"
	"github.com/sequentcrm/sequent/pkg/eventbus"
	"github.com/sequentcrm/sequent/pkg/events"
	"github.com/sequentcrm/sequent/pkg/log"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "sequent-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Fire recurring enrollment schedules",
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
				serviceID = "scheduler-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("scheduler").With("service_id", serviceID)

			logger.InfoContext(ctx, "Initializing Sequent scheduler")

			eventBus, _ := cmd.NewEventBus(command.String("event-bus"), "scheduler", logger)
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

			callback := announceDue(eventBus, serviceID)
			poller := scheduler.NewSchedulePoller(persistence.Schedules(), callback, logger)

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := poller.Start(runCtx); err != nil {
				return err
			}

			<-runCtx.Done()

			return poller.Stop(context.Background())
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func announceDue(bus eventbus.EventBus, serviceID string) scheduler.ScheduleCallback {
	return func(ctx context.Context, schedule *models.EnrollmentSchedule) error {
		event := events.EnrollmentDue{
			BaseEvent: events.BaseEvent{
				ID:         bus.GenerateID(),
				Type:       events.EnrollmentDueEvent,
				Timestamp:  schedule.NextDueAt,
				WorkflowID: schedule.WorkflowID,
				WorkerID:   serviceID,
			},
			ScheduleID: schedule.ID,
			SegmentID:  schedule.SegmentID,
			DueAt:      schedule.NextDueAt,
		}

		return bus.Publish(ctx, schedule.ID, event)
	}
}
