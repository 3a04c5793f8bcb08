package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/sequor/pkg/cmd"
	"github.com/dukex/sequor/pkg/graph"
	"github.com/dukex/sequor/pkg/log"
	"github.com/dukex/sequor/pkg/otelhelper"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "sequor-api",
		Usage:                 "Deploy workflows and manage execution history",
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
				Name:    "redis-url",
				Usage:   "Optional Redis URL for the shared definition cache",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.BoolFlag{
				Name:    "require-acyclic",
				Usage:   "Reject workflow definitions whose graphs contain cycles",
				Sources: cli.EnvVars("REQUIRE_ACYCLIC"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces for log appends, replay, and compensation",
				Sources: cli.EnvVars("OTEL_TRACING"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Sequor API")

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			cache := graph.NewCache(logger, graph.CompileOptions{
				RequireAcyclic: command.Bool("require-acyclic"),
			})

			if redisURL := command.String("redis-url"); redisURL != "" {
				redisOpts, err := redis.ParseURL(redisURL)
				if err != nil {
					return err
				}

				cache = cache.WithRedis(redis.NewClient(redisOpts), 24*time.Hour)
			}

			api := NewAPI(
				logger,
				persist,
				eventBus,
				cache,
			)

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "sequor-api")
				if err != nil {
					return err
				}

				api = api.WithTracer(tracer)
			}

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
