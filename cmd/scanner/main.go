package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"StockScanner/internal/config"
	"StockScanner/internal/logging"
)

func main() {
	var (
		cfg  *config.Config
		logs io.Closer
	)

	app := &cli.App{
		Name:  "stockscan",
		Usage: "resumable Taiwan market data scanner",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/config.yaml",
				EnvVars: []string{"CONFIG_PATH"},
				Usage:   "YAML config file",
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Usage: "override log level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = config.Load(c.String("config"))
			if err != nil {
				return cli.Exit("load config: "+err.Error(), 1)
			}
			if lvl := c.String("loglevel"); lvl != "" {
				cfg.Log.Level = lvl
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit("config validation: "+err.Error(), 1)
			}
			logs = logging.Setup(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
			return nil
		},
		After: func(*cli.Context) error {
			if logs != nil {
				return logs.Close()
			}
			return nil
		},
		Commands: commands(func() *env { return newEnv(cfg) }),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.WithError(err).Fatal("stockscan failed")
	}
}
