// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/cluster"
	"github.com/StellarFw/stellar-sub002/internal/engine"
	"github.com/StellarFw/stellar-sub002/internal/satellites"
	"github.com/StellarFw/stellar-sub002/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	envFile    string
	cluster    bool
	workers    int
	id         string
	silent     bool
}

func parseFlags(args []string) (options, error) {
	var o options
	flagSet := pflag.NewFlagSet("stellar", pflag.ContinueOnError)
	flagSet.StringVar(&o.configPath, "config", envOr("STELLAR_CONFIG", "config.yaml"), "path to the YAML configuration")
	flagSet.StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	flagSet.BoolVar(&o.cluster, "cluster", false, "run a cluster of worker processes")
	flagSet.IntVar(&o.workers, "workers", 0, "number of cluster workers (default from config)")
	flagSet.StringVar(&o.id, "id", "", "node id")
	flagSet.BoolVar(&o.silent, "silent", false, "only log errors")
	if err := flagSet.Parse(args); err != nil {
		return o, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return o, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return o, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: load %s: %v\n", opts.envFile, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if opts.silent {
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if opts.cluster {
		os.Exit(runCluster(opts, logger))
	}
	os.Exit(runNode(opts, logger))
}

// runCluster is the parent process. It never loads satellites itself.
func runCluster(opts options, logger *slog.Logger) int {
	cfg, err := config.Load(opts.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Defaults(), nil
	}
	if err != nil {
		logger.Error("failed to load config", "path", opts.configPath, "error", err)
		return 1
	}
	workers := cfg.Cluster.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}

	args := []string{"--config", opts.configPath, "--env-file", opts.envFile}
	if opts.silent {
		args = append(args, "--silent")
	}
	prefix := "worker-"
	if opts.id != "" {
		prefix = opts.id + "-"
	}
	mgr := cluster.NewManager(&cluster.ProcessSpawner{
		Args:     args,
		IDPrefix: prefix,
		Logger:   logger,
	}, cluster.Options{
		Workers:     workers,
		StopTimeout: cfg.Cluster.StopTimeout,
		Logger:      logger,
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, cluster.Signals...)
	defer signal.Stop(sigs)

	if err := mgr.Run(context.Background(), sigs); err != nil {
		logger.Error("cluster stopped with errors", "error", err)
		return 1
	}
	return 0
}

// runNode runs one engine in this process, as a standalone server or as a
// cluster worker.
func runNode(opts options, logger *slog.Logger) int {
	child, isWorker := cluster.ChildFromEnv(logger)

	exit := make(chan int, 1)
	eng := engine.New(&satellites.Config{Path: opts.configPath}, engine.Options{
		ID:     opts.id,
		Logger: logger,
		Fatal: func(err error) {
			if isWorker {
				_ = child.ReportException(err)
			}
			os.Exit(1)
		},
	})
	eng.Register(satellites.Core()...)

	report := func(s cluster.State) {
		if !isWorker {
			return
		}
		if err := child.Report(s); err != nil {
			logger.Warn("state report failed", "state", string(s), "error", err)
		}
	}

	ctx := context.Background()
	report(cluster.StateStarting)
	if err := eng.Start(ctx); err != nil {
		return 1
	}
	report(cluster.StateStarted)

	stopNode := func() {
		report(cluster.StateStopping)
		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		code := 0
		if err := eng.Stop(stopCtx); err != nil {
			logger.Error("stop failed", "error", err)
			code = 1
		}
		report(cluster.StateStopped)
		exit <- code
	}
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(stopNode) }
	restart := func() {
		report(cluster.StateRestarting)
		if err := eng.Restart(ctx); err != nil {
			logger.Error("restart failed", "error", err)
			return
		}
		report(cluster.StateStarted)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	var commands <-chan cluster.Kind
	if isWorker {
		commands = child.Commands(ctx)
	}

	for {
		select {
		case code := <-exit:
			return code
		case sig := <-sigs:
			logger.Info("signal received", "signal", sig.String())
			if sig == syscall.SIGUSR2 {
				restart()
				continue
			}
			go stop()
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			switch cmd {
			case cluster.KindStop:
				go stop()
			case cluster.KindRestart:
				restart()
			}
		}
	}
}
