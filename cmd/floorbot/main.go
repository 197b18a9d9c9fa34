// Command floorbot replays a tick file through the configured floor
// strategy instances against a paper account.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/evdnx/gofloor/audit"
	"github.com/evdnx/gofloor/config"
	"github.com/evdnx/gofloor/dispatcher"
	"github.com/evdnx/gofloor/executor"
	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/state"
	"github.com/evdnx/gofloor/strategy"
	"github.com/evdnx/gofloor/types"
)

func main() {
	configPath := flag.String("config", "floorbot.yaml", "path to the settings file")
	flag.Parse()

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewZapLogger(settings.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, settings, log)
	stop()
	if err != nil {
		log.Error("floorbot_failed", logger.Err(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
	_ = logger.Sync(log)
}

func run(ctx context.Context, settings *config.Settings, log logger.Logger) (err error) {
	store, err := state.Open(settings.Store.Driver, settings.Store.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	sink, closeAudit, err := openAudit(settings, store, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeAudit()) }()

	registry := strategy.NewRegistry()
	if err := strategy.RegisterAll(registry); err != nil {
		return err
	}

	exec := executor.NewPaperExecutor(settings.Paper.Balance, settings.Paper.MarginRate, settings.Paper.LotUnits, log.With(logger.String("component", "paper")))
	disp := dispatcher.New(exec, settings.Ticks.QueueSize, log)
	for _, is := range settings.Instances {
		s, err := registry.New(ctx, strategy.ID(is.Type), strategy.Instance{
			ID:          is.ID,
			Account:     is.Account,
			Instruments: is.Instruments,
			Params:      is.Params,
		}, strategy.Deps{
			Positions: exec,
			Account:   exec,
			Store:     store,
			Audit:     sink,
			Log:       log,
		})
		if err != nil {
			return fmt.Errorf("instance %s: %w", is.ID, err)
		}
		if err := disp.Add(is.ID, is.Instruments, s); err != nil {
			return err
		}
	}

	srv := serveMetrics(settings.MetricsAddr, log)
	defer func() {
		if srv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := disp.Start(ctx); err != nil {
		return err
	}
	n, replayErr := replayFile(ctx, settings.Ticks.File, func(tick types.Tick) error {
		return disp.Dispatch(ctx, tick)
	})
	if errors.Is(replayErr, context.Canceled) {
		log.Info("replay_interrupted", logger.Int("ticks", n))
		replayErr = nil
	}
	err = multierr.Append(replayErr, disp.Close())
	log.Info("replay_finished",
		logger.Int("ticks", n),
		logger.Float64("balance", exec.Balance()),
		logger.Float64("equity", exec.Equity()),
	)
	return err
}

func replayFile(ctx context.Context, path string, fn func(types.Tick) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open ticks: %w", err)
	}
	defer f.Close()
	return replayTicks(ctx, f, fn)
}

// openAudit builds the audit sink chain. When the audit database is the
// sqlite state database the connection is shared.
func openAudit(settings *config.Settings, store state.Store, log logger.Logger) (audit.Sink, func() error, error) {
	sinks := audit.Multi{audit.NewLogSink(log.With(logger.String("component", "audit")))}
	var owned *audit.SQLiteSink
	if settings.Audit.SQLite {
		var (
			s   *audit.SQLiteSink
			err error
		)
		if db, ok := store.(*state.SQLiteStore); ok && settings.Audit.Path == settings.Store.Path {
			s, err = audit.NewSQLiteSink(db.DB(), log)
		} else {
			s, err = audit.OpenSQLiteSink(settings.Audit.Path, log)
			owned = s
		}
		if err != nil {
			return nil, nil, fmt.Errorf("open audit sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	async := audit.NewAsyncSink(sinks, settings.Audit.Buffer)
	closeFn := func() error {
		err := async.Close()
		if owned != nil {
			err = multierr.Append(err, owned.Close())
		}
		return err
	}
	return async, closeFn, nil
}

func serveMetrics(addr string, log logger.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics_listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics_server_failed", logger.Err(err))
		}
	}()
	return srv
}
