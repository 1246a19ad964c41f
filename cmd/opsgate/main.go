package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/workflowops/opsgate/internal/api"
	"github.com/workflowops/opsgate/internal/cache"
	"github.com/workflowops/opsgate/internal/config"
	"github.com/workflowops/opsgate/internal/jobs"
	"github.com/workflowops/opsgate/internal/lock"
	"github.com/workflowops/opsgate/internal/log"
	"github.com/workflowops/opsgate/internal/ratelimit"
	"github.com/workflowops/opsgate/internal/storage"
	"github.com/workflowops/opsgate/internal/vault"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("opsgate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`opsgate - Operational safeguards and analytics gateway for n8n

Usage:
  opsgate <command> [flags]

Commands:
  serve             Start the gateway service in foreground
  config check      Validate configuration and print its fingerprint
  version           Show version information
  help              Show this help message

Flags:
  --config <path>   Path to the YAML configuration file. Without it the
                    configuration is assembled from OPSGATE_* environment
                    variables.
`)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.FromEnv()
	}
	return config.Load(configPath)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || args[0] != "check" {
		fmt.Fprintln(os.Stderr, "Usage: opsgate config check [--config <path>]")
		return 1
	}

	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration OK (service %q, listen %s)\n", cfg.Service.Name, cfg.API.Listen)
	if *configPath != "" {
		hash, err := config.ComputeBlake3Hash(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to fingerprint config: %v\n", err)
			return 1
		}
		fmt.Printf("Fingerprint: %s\n", hash)
	}
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("opsgate starting", "version", version)

	lockPath := filepath.Join(filepath.Dir(cfg.Storage.Path), "opsgate.pid")
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	if *configPath != "" {
		if hash, err := config.ComputeBlake3Hash(*configPath); err == nil {
			logger.Info("configuration loaded", "path", *configPath, "fingerprint", hash)
		}
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Storage.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Storage.Path)

	v, err := vault.New(cfg.Vault.Key)
	if err != nil {
		logger.Error("invalid vault key", "error", err)
		return 1
	}

	var limiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		limiter, err = ratelimit.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log.WithComponent("ratelimit"))
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			return 1
		}
		logger.Info("rate limiter backed by redis", "addr", cfg.Redis.Addr)
	} else {
		limiter = ratelimit.NewMemory()
	}
	governor := ratelimit.NewGovernor(limiter, ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		GlobalLimit: cfg.RateLimit.GlobalLimit,
		UserLimit:   cfg.RateLimit.UserLimit,
	})
	defer governor.Close()

	instances := storage.NewInstanceStore(db)
	policies := storage.NewPolicyStore(db)
	executionCache := cache.New(storage.NewCacheStore(db))

	if cfg.Webhook.Secret == "" {
		logger.Warn("webhook signature verification disabled: no secret configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := jobs.NewScheduler(log.Get())
	sched.Register(jobs.NewHealthCheck(instances, v, cfg.Upstream.Timeout, log.Get()), cfg.Jobs.HealthInterval)
	sched.Register(jobs.NewRetention(policies, storage.NewCacheStore(db), cfg.Retention.DefaultDays, log.Get()), cfg.Jobs.RetentionInterval)
	if cfg.Jobs.WarmupEnabled {
		sched.Register(jobs.NewWarmup(instances, v, executionCache, cfg.Upstream.Timeout, log.Get()), cfg.Jobs.WarmupInterval)
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	defer sched.Stop()

	apiServer := api.New(api.Config{
		Listen:          cfg.API.Listen,
		APIKey:          cfg.API.Auth.APIKey,
		Tokens:          cfg.API.Auth.Tokens,
		CacheFreshness:  cfg.Cache.Freshness,
		UpstreamTimeout: cfg.Upstream.Timeout,
		WebhookSecret:   cfg.Webhook.Secret,
		SignatureHeader: cfg.Webhook.SignatureHeader,
	}, api.Stores{
		Instances: instances,
		Policies:  policies,
		Events:    storage.NewWebhookEventStore(db),
		Audit:     storage.NewAuditStore(db),
	}, executionCache, v, governor, log.WithComponent("api"))

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	case err := <-errCh:
		logger.Error("api server failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("opsgate stopped")
	return 0
}
