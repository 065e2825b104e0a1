package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/opentranslator/client/internal/auth"
	"github.com/opentranslator/client/internal/config"
	"github.com/opentranslator/client/internal/document"
	"github.com/opentranslator/client/internal/history"
	"github.com/opentranslator/client/internal/httpclient"
	"github.com/opentranslator/client/internal/logger"
	"github.com/opentranslator/client/internal/poller"
	"github.com/opentranslator/client/internal/snapshot"
)

const usage = `Usage: translate <command> [flags]

Commands:
  run <file>       Submit a document and poll until it finishes
  resume [id]      Reattach to a running translation (latest by default)
  serve            Run the local progress bridge (WebSocket + HTTP)
  history          List recent translations
  balance          Show the page balance
  add-pages <n>    Credit pages to the account
  buy <n>          Purchase pages (requires -email)
  health           Probe backend, identity provider and local stores

Run 'translate <command> -h' for command flags.
`

// app bundles the long-lived pieces every command shares
type app struct {
	cfg      *config.Config
	api      *httpclient.Client
	provider *auth.Provider
	docs     *document.Service
	jobs     *history.Store
	redis    *snapshot.RedisStore
	log      *logger.Logger
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.New(os.Stderr, logger.ParseLevel(cfg.LogLevel), "cli")
	logger.SetDefault(log)

	a, cleanup, err := newApp(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "translate: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	var cmdErr error
	switch os.Args[1] {
	case "run":
		cmdErr = a.cmdRun(os.Args[2:])
	case "resume":
		cmdErr = a.cmdResume(os.Args[2:])
	case "serve":
		cmdErr = a.cmdServe(os.Args[2:])
	case "history":
		cmdErr = a.cmdHistory(os.Args[2:])
	case "balance":
		cmdErr = a.cmdBalance(os.Args[2:])
	case "add-pages":
		cmdErr = a.cmdAddPages(os.Args[2:])
	case "buy":
		cmdErr = a.cmdBuy(os.Args[2:])
	case "health":
		cmdErr = a.cmdHealth(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "translate: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "translate: %v\n", cmdErr)
		os.Exit(1)
	}
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, func(), error) {
	api := httpclient.New(cfg.APIBaseURL, 30*time.Second)

	provider := auth.NewProvider(auth.ProviderConfig{
		IdentityURL:  cfg.IdentityURL,
		APIKey:       cfg.APIKey,
		Lifetime:     cfg.TokenLifetime,
		SafetyMargin: cfg.TokenSafetyMargin,
	})
	provider.Attach(api)
	provider.StartBackgroundRefresh(cfg.TokenRefreshEvery)

	// A shared Redis store is optional; without it snapshots stay local to
	// this process.
	var store document.SnapshotStore
	var redisStore *snapshot.RedisStore
	if cfg.RedisAddr != "" {
		rs, err := snapshot.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			log.Warn(context.Background(), "redis unavailable, using in-memory snapshots", map[string]any{
				"error": err.Error(),
			})
		} else {
			redisStore = rs
			store = rs
		}
	}

	docs := document.NewService(api, store, provider.ForceRefresh, document.ServiceConfig{
		SubmitTimeout:      cfg.SubmitTimeout,
		LargeSubmitTimeout: cfg.LargeSubmitTimeout,
		LargeFileThreshold: cfg.LargeFileThreshold,
		StatusTimeout:      cfg.StatusTimeout,
		ResultTimeout:      cfg.ResultTimeout,
	})

	jobs, err := history.Open(cfg.HistoryPath)
	if err != nil {
		provider.Stop()
		return nil, nil, fmt.Errorf("open history: %w", err)
	}

	a := &app{
		cfg:      cfg,
		api:      api,
		provider: provider,
		docs:     docs,
		jobs:     jobs,
		redis:    redisStore,
		log:      log,
	}
	cleanup := func() {
		provider.Stop()
		jobs.Close()
		if redisStore != nil {
			redisStore.Close()
		}
	}
	return a, cleanup, nil
}

// newPoller builds a poll loop from the app config
func (a *app) newPoller() *poller.Poller {
	backoff := a.cfg.PollBackoff()
	return poller.New(a.docs, poller.Config{
		FailureCeiling:  a.cfg.FailureCeiling,
		Backoff:         backoff,
		StallWarnAfter:  a.cfg.StallWarnAfter,
		StallStuckAfter: a.cfg.StallStuckAfter,
	})
}
