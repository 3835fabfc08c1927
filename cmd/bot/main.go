package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tinkoff-trading-bot-go/internal/config"
	"tinkoff-trading-bot-go/internal/database"
	"tinkoff-trading-bot-go/internal/ingest"
	"tinkoff-trading-bot-go/internal/logger"
	"tinkoff-trading-bot-go/internal/tinkoff"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	app := &cli.App{
		Name:  "bot",
		Usage: "Tinkoff instrument metadata and candle history downloader",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "./configs",
				Usage: "directory containing config.yml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "deploy",
				Usage: "create the database schema and seed asset types",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "reset",
						Usage: "drop all tables first; erases candles and download progress",
					},
				},
				Action: deployAction,
			},
			{
				Name:   "instruments",
				Usage:  "download instrument metadata for every asset type",
				Action: instrumentsAction,
			},
			{
				Name:   "history",
				Usage:  "download candle history year by year, resuming where the last run stopped",
				Action: historyAction,
			},
			{
				Name:   "status",
				Usage:  "serve download progress over HTTP",
				Action: statusAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// appEnv bundles the shared pieces every command needs. Their lifecycle is
// owned here, not by module-level globals.
type appEnv struct {
	cfg config.Config
	log *zap.Logger
	db  *gorm.DB
}

func setup(c *cli.Context) (*appEnv, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return nil, fmt.Errorf("could not initialize logger: %w", err)
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return nil, err
	}

	return &appEnv{cfg: cfg, log: log, db: db}, nil
}

// signalContext returns a context that is cancelled on SIGINT/SIGTERM.
// The coordinator checks it between instrument-years, so an interrupted
// download finishes the year in flight and stops cleanly.
func signalContext(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, finishing the current unit and stopping...")
		cancel()
	}()
	return ctx, cancel
}

func deployAction(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	if c.Bool("reset") {
		env.log.Warn("Resetting the database, all downloaded data will be lost")
		if err := database.Reset(env.db); err != nil {
			return err
		}
	} else if err := database.Deploy(env.db); err != nil {
		return err
	}

	env.log.Info("Database deployed")
	return nil
}

func instrumentsAction(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	ctx, cancel := signalContext(env.log)
	defer cancel()

	client := tinkoff.NewClient(&env.cfg.Tinkoff, env.log)
	coordinator := ingest.NewCoordinator(env.log, client, env.db)
	return coordinator.UpdateInstruments(ctx)
}

func historyAction(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	ctx, cancel := signalContext(env.log)
	defer cancel()

	client := tinkoff.NewClient(&env.cfg.Tinkoff, env.log)
	coordinator := ingest.NewCoordinator(env.log, client, env.db)
	if err := coordinator.DownloadHistory(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			// An interrupted run is not a failure, the next run resumes.
			return nil
		}
		return err
	}
	return nil
}

func statusAction(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	ctx, cancel := signalContext(env.log)
	defer cancel()

	server := ingest.NewStatusServer(env.db, env.log, env.cfg.Server.Port)
	server.Start()
	<-ctx.Done()
	return server.Stop(context.Background())
}
