package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/utilitywarehouse/bitbucket-backup/backup"
	"github.com/utilitywarehouse/bitbucket-backup/bitbucket"
	"github.com/utilitywarehouse/bitbucket-backup/internal/gitexec"
	"github.com/utilitywarehouse/bitbucket-backup/internal/retry"
	"github.com/utilitywarehouse/bitbucket-backup/repository"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("BITBUCKET_BACKUP_CONFIG"),
			Value:   "/etc/bitbucket-backup/config.yaml",
			Usage:   "Absolute path to the config file.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Sources: cli.EnvVars("METRICS_ADDR"),
			Usage:   "Listen address for the /metrics endpoint, disabled when empty.",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func main() {
	cmd := &cli.Command{
		Name:  "bitbucket-backup",
		Usage: "bitbucket-backup mirrors all repositories of a Bitbucket workspace to local bare clones.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {

			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			conf, err := parseConfigFile(c.String("config"))
			if err != nil {
				logger.Error("unable to parse config file", "err", err)
				os.Exit(1)
			}

			conf.applyDefaults()
			if err := conf.validate(); err != nil {
				logger.Error("invalid config", "err", err)
				os.Exit(1)
			}

			runLogger, closer, err := newRunLogger(conf.LogsRoot, loggerLevel)
			if err != nil {
				logger.Error("unable to set up run logger", "err", err)
				os.Exit(1)
			}
			defer closer.Close()

			if addr := c.String("metrics-addr"); addr != "" {
				repository.EnableMetrics("bitbucket_backup", prometheus.DefaultRegisterer)
				startMetricsServer(addr, runLogger)
			}

			orch, err := setupOrchestrator(conf, runLogger)
			if err != nil {
				runLogger.Error("could not set up backup", "err", err)
				os.Exit(1)
			}

			ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if conf.Interval == 0 {
				outcome, err := orch.Run(ctx)
				if err != nil {
					runLogger.Error("backup run failed", "err", err)
					os.Exit(1)
				}
				if len(outcome.Failed) > 0 {
					runLogger.Warn("backup completed with failures", "failed", outcome.Failed)
				}
				return nil
			}

			runLoop(ctx, orch, conf.Interval, runLogger)
			runLogger.Info("shutting down")

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}

func setupOrchestrator(conf *Config, log *slog.Logger) (*backup.Orchestrator, error) {
	policy := retry.Policy{
		MaxAttempts: conf.MaxAttempts,
		BaseDelay:   conf.RetryBaseDelay,
	}

	client := bitbucket.NewClient(
		conf.APIBaseURL, conf.Username, conf.AppPassword,
		policy, log.With("logger", "bitbucket"),
	)

	runner := gitexec.New(log.With("logger", "gitexec"))

	pool := repository.NewPool(repository.Config{
		Host:      conf.Host,
		Workspace: conf.Workspace,
		Root:      conf.BackupRoot,
		Auth: repository.Auth{
			Username: conf.Username,
			Password: conf.AppPassword,
		},
		GitTimeout: conf.GitTimeout,
		Retry:      policy,
	}, runner, log.With("logger", "repository"))

	return backup.New(backup.Config{
		Workspace:   conf.Workspace,
		Concurrency: conf.Concurrency,
	}, client, pool, log.With("logger", "backup"))
}

// runLoop runs a backup every interval until ctx is cancelled. A failed
// run is logged and the loop carries on, the next run may recover.
func runLoop(ctx context.Context, orch *backup.Orchestrator, interval time.Duration, log *slog.Logger) {
	log.Info("started periodic backup loop", "interval", interval)

	for {
		if outcome, err := orch.Run(ctx); err != nil {
			log.Error("backup run failed", "err", err)
		} else if len(outcome.Failed) > 0 {
			log.Warn("backup completed with failures", "failed", outcome.Failed)
		}

		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

func startMetricsServer(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", "err", err)
		}
	}()
}
