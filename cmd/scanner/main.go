package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/nearfield-scanner/cmd/scanner/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath string
	var simulate, yes bool
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
	flag.BoolVar(&simulate, "simulate", false, "Use the simulated radio and stage")
	flag.BoolVar(&yes, "yes", false, "Accept the default probe origin and confirm rotations without prompting")
	flag.Parse()

	if configPath == "" {
		logger.Error("no configuration file provided")
		os.Exit(1)
	}

	var configOptions []func(c *app.Config)
	if simulate {
		configOptions = append(configOptions, app.Simulated())
	}

	config, err := app.LoadConfig(configPath, configOptions...)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}

	logLevel.Set(config.LogLevel())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger, app.AutoConfirm(yes || simulate)); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
