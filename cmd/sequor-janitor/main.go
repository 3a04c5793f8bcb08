// Package main provides the stale-execution janitor daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/sequor/pkg/audit"
	"github.com/dukex/sequor/pkg/cmd"
	"github.com/dukex/sequor/pkg/compensation"
	"github.com/dukex/sequor/pkg/deployment"
	"github.com/dukex/sequor/pkg/eventlog"
	"github.com/dukex/sequor/pkg/execution"
	"github.com/dukex/sequor/pkg/graph"
	"github.com/dukex/sequor/pkg/log"
	"github.com/dukex/sequor/pkg/replay"
	"github.com/dukex/sequor/pkg/tenant"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("janitor")

	command := &cli.Command{
		Name:  "sequor-janitor",
		Usage: "Fail executions abandoned mid-flight",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, memory)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron schedule for the sweep",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("JANITOR_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "max-age",
				Usage:   "How long an execution may sit in PENDING before it is failed",
				Value:   time.Hour,
				Sources: cli.EnvVars("JANITOR_MAX_AGE"),
			},
			&cli.BoolFlag{
				Name:    "compensate",
				Usage:   "Run saga compensation on each failed execution",
				Sources: cli.EnvVars("JANITOR_COMPENSATE"),
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

			logger.InfoContext(ctx, "Initializing Sequor janitor")

			persist, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persist.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "janitor", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			eventLog := eventlog.NewLog(persist.EventRepository(), logger)
			replayer := replay.NewEngine(persist.EventRepository(), logger)
			tracker := compensation.NewTracker(eventLog, persist.EventRepository(), logger)
			tenants := tenant.NewRegistry(persist.TenantRepository(), logger)
			trail := audit.NewTrail(persist.AuditRepository(), logger)
			cache := graph.NewCache(logger, graph.CompileOptions{})
			deployments := deployment.NewService(
				persist.DefinitionRepository(), tenants, cache, trail, eventBus, logger)
			executions := execution.NewService(
				eventLog, replayer, tracker, deployments, tenants, trail, eventBus, logger)

			janitor := execution.NewJanitor(executions, persist.EventRepository(), execution.JanitorConfig{
				Schedule:   command.String("schedule"),
				MaxAge:     command.Duration("max-age"),
				Compensate: command.Bool("compensate"),
			}, logger)

			err = janitor.Start(ctx)
			if err != nil {
				return err
			}

			defer janitor.Stop()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			logger.InfoContext(ctx, "Shutting down Sequor janitor")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
