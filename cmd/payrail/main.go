package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/soundlease/payrail/internal/config"
	"github.com/soundlease/payrail/internal/identity"
	"github.com/soundlease/payrail/internal/ledger"
	"github.com/soundlease/payrail/internal/metrics"
	"github.com/soundlease/payrail/internal/notify"
	"github.com/soundlease/payrail/internal/provider"
	"github.com/soundlease/payrail/internal/provider/cardnet"
	"github.com/soundlease/payrail/internal/provider/stablecoin"
	"github.com/soundlease/payrail/internal/server"
	"github.com/soundlease/payrail/internal/settle"
	"github.com/soundlease/payrail/internal/webhook"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := pflag.Bool("verbose", false, "Enable verbose (debug) logging")
	listenFlag := pflag.String("listen", ":8080", "Address to listen on for the settlement API")
	metricsAddrFlag := pflag.String("metrics-addr", "0.0.0.0:9090", "Address to listen on for prometheus metrics (empty to disable)")
	memoryLedgerFlag := pflag.Bool("memory-ledger", false, "Use the in-memory ledger instead of postgres (dev only)")
	confirmWaitFlag := pflag.Duration("confirm-wait", 5*time.Second, "Bounded wait for synchronous stablecoin confirmation")
	pflag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := newLogger(*verboseFlag)
	slog.SetDefault(log)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Release: version}); err != nil {
			return fmt.Errorf("failed to init sentry: %w", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Ledger store
	var store ledger.Store
	if *memoryLedgerFlag {
		log.Warn("using in-memory ledger, entries will not survive restart")
		store = ledger.NewMemoryStore(clockwork.NewRealClock())
	} else {
		connStr, err := config.PostgresConnString()
		if err != nil {
			return err
		}
		pool, err := config.NewPostgresPool(ctx, connStr)
		if err != nil {
			return err
		}
		store = ledger.NewPostgresStore(pool)
		log.Info("ledger storage initialized", "backend", "postgres")
	}
	defer store.Close()

	// Transfer providers
	clients := map[identity.Rail]provider.TransferClient{
		identity.RailCardNetwork: cardnet.NewClient(cfg.CardNetworkURL, cfg.CardNetworkAPIKey, log),
		identity.RailStablecoin:  stablecoin.NewClient(cfg.StablecoinProviderURL, cfg.StablecoinAPIKey, cfg.SolanaRPCURL, log),
	}

	executor, err := settle.NewExecutor(settle.ExecutorConfig{
		Logger:      log,
		Clock:       clockwork.NewRealClock(),
		Clients:     clients,
		ConfirmWait: *confirmWaitFlag,
	})
	if err != nil {
		return err
	}

	// Failure notifications
	var notifier notify.Notifier = notify.Noop{}
	if cfg.SlackToken != "" {
		notifier = notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, log)
		log.Info("slack notifications enabled", "channel", cfg.SlackChannel)
	}

	service, err := settle.NewService(settle.ServiceConfig{
		Logger:           log,
		Ledger:           store,
		Identities:       identity.NewClient(cfg.IdentityStoreURL, cfg.IdentityStoreAPIKey, log),
		Executor:         executor,
		Notifier:         notifier,
		Policy:           cfg.Policy,
		DefaultPayeeRate: cfg.DefaultPayeeRate,
	})
	if err != nil {
		return err
	}

	webhookHandler, err := webhook.NewHandler(webhook.HandlerConfig{
		Logger:   log,
		Ledger:   store,
		Notifier: notifier,
		Secret:   cfg.WebhookSecret,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:  log,
		Service: service,
		Ledger:  store,
		Webhook: webhookHandler,
		Addr:    *listenFlag,
	})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		group.Go(func() error {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				return fmt.Errorf("failed to start prometheus metrics listener: %w", err)
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsSrv := &http.Server{Handler: mux}
			go func() {
				<-groupCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}()
			if err := metricsSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		return srv.Start(groupCtx)
	})

	err = group.Wait()
	if ctx.Err() != nil {
		log.Info("shutdown complete")
		return nil
	}
	return err
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000Z"))
			}
			return a
		},
	}))
}
