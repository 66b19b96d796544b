package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/pysugar/go-sonar/internal/config"
	"github.com/pysugar/go-sonar/internal/logging"
	"github.com/pysugar/go-sonar/internal/version"
)

const (
	appName   = "sonar"
	envPrefix = "SONAR_"
)

var app = &cli.App{
	Name:        appName,
	Usage:       "record and inspect HTTP requests",
	Description: "sonar captures requests served by an application and exposes them through a JSON panel",
	Version:     version.String(),
	Commands: []*cli.Command{
		ServeCommand,
		PurgeCommand,
	},
	Flags: commonFlags,
}

func main() {
	ctx := context.Background()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

var commonOpts struct {
	database string
	logLevel string
	dev      bool
}

var commonFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "database",
		Aliases:     []string{"db"},
		Usage:       "SQLite database file, overrides the config file",
		Destination: &commonOpts.database,
	},
	&cli.StringFlag{
		Name:        "log-level",
		Usage:       "Minimum log level (debug, info, warn, error)",
		Destination: &commonOpts.logLevel,
	},
	&cli.BoolFlag{
		Name:        "dev",
		Usage:       "Use human readable development logs",
		Destination: &commonOpts.dev,
		EnvVars:     []string{envPrefix + "DEV"},
	},
}

func flags(fs []cli.Flag) []cli.Flag {
	fs = append(fs, commonFlags...)
	return fs
}

// setup loads the configuration, applies command line overrides and installs
// the global logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	if commonOpts.database != "" {
		cfg.Database = commonOpts.database
	}
	if commonOpts.logLevel != "" {
		cfg.LogLevel = commonOpts.logLevel
	}

	logger, err := logging.New(cfg.LogLevel, commonOpts.dev)
	if err != nil {
		return cfg, nil, err
	}
	zap.ReplaceGlobals(logger)
	if cfg.Source != "" {
		logger.Info("loaded config", zap.String("path", cfg.Source))
	}
	return cfg, logger, nil
}
