// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mgit-at/clamd-scanner/clamd"
)

// exit codes of -scan
const (
	exitClean   = 0
	exitFound   = 1
	exitFailure = 2
)

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %v", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// scanFile streams path to clamd once and reports the verdict on stdout.
func scanFile(ctx context.Context, cfg *Config, logger *slog.Logger, path string) int {
	opts, err := cfg.ClamD.clientOptions(logger)
	if err != nil {
		logger.Error("invalid clamd options", slog.Any("err", err))
		return exitFailure
	}
	client, err := clamd.NewClient(cfg.ClamD.URL, opts...)
	if err != nil {
		logger.Error("invalid clamd options", slog.Any("err", err))
		return exitFailure
	}
	res, err := client.ScanFile(ctx, path)
	if err != nil {
		logger.Error("scan failed", slog.String("path", path), slog.String("code", clamd.ErrorCode(err)), slog.Any("err", err))
		return exitFailure
	}
	fmt.Printf("%s: %s\n", path, res)
	if res.IsClean() {
		return exitClean
	}
	return exitFound
}

func serve(cfg *Config, logger *slog.Logger) error {
	if cfg.ClamD.Enable {
		logger.Info("enabling clamd checker", slog.String("url", cfg.ClamD.URL))
		c, err := NewClamDChecker(cfg.ClamD.ClamDOptions, logger)
		if err != nil {
			return fmt.Errorf("failed to create clamd checker: %v", err)
		}
		if err := prometheus.Register(c); err != nil {
			return fmt.Errorf("failed to register clamd checker: %v", err)
		}
	}

	listen, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen at %q: %v", cfg.Listen, err)
	}
	defer listen.Close()
	logger.Info("listening", slog.String("addr", listen.Addr().String()))

	http.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  5 * time.Minute,
	}
	if err := srv.Serve(listen); err != nil {
		return fmt.Errorf("failed to serve: %v", err)
	}
	return nil
}

func run() (int, error) {
	var (
		flagConfig   = flag.String("config", "config.json", "configuration file")
		flagScan     = flag.String("scan", "", "scan a single file via INSTREAM and exit")
		flagLogLevel = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
		return exitFailure, fmt.Errorf("invalid number of arguments")
	}

	logger, err := newLogger(*flagLogLevel)
	if err != nil {
		return exitFailure, err
	}

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		return exitFailure, err
	}

	if *flagScan != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return scanFile(ctx, cfg, logger, *flagScan), nil
	}
	return exitFailure, serve(cfg, logger)
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}
	os.Exit(code)
}
