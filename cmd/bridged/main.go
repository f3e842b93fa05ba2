package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/action"
	"github.com/voicebridge/bridged/internal/auth"
	"github.com/voicebridge/bridged/internal/config"
	"github.com/voicebridge/bridged/internal/db"
	"github.com/voicebridge/bridged/internal/dispatch"
	"github.com/voicebridge/bridged/internal/leaf"
	"github.com/voicebridge/bridged/internal/learn"
	"github.com/voicebridge/bridged/internal/ledger"
	"github.com/voicebridge/bridged/internal/model"
	"github.com/voicebridge/bridged/internal/notes"
	"github.com/voicebridge/bridged/internal/sched"
	"github.com/voicebridge/bridged/internal/server"
	"github.com/voicebridge/bridged/internal/sysmon"
)

func main() {
	cfg := config.DefaultConfig()
	var (
		rearm = flag.Bool("rearm", false, "re-arm persisted future events on startup")
		debug = flag.Bool("debug", false, "debug logging")
	)
	flag.StringVar(&cfg.Host, "host", cfg.Host, "bind address")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "bind port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite path")
	flag.StringVar(&cfg.TokenPath, "token-file", cfg.TokenPath, "shared secret file")
	flag.StringVar(&cfg.TLSCertPath, "tls-cert", cfg.TLSCertPath, "TLS certificate path")
	flag.StringVar(&cfg.TLSKeyPath, "tls-key", cfg.TLSKeyPath, "TLS key path")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}

	if cfg.Token == "" {
		cfg.Token, err = auth.LoadOrCreateToken(cfg.TokenPath)
		if err != nil {
			fatal(err)
		}
	}
	authn := auth.New(cfg.Token, cfg.NonceTTL)
	if authn.Insecure() {
		log.Warn("running without authentication, every command will be accepted")
	}

	history := ledger.New(store, cfg.HistoryCap, log)
	learner := learn.New(store, log)
	executor := leaf.NewExecutor(cfg, history, log)
	scheduler := sched.New(store, executor, sched.SystemClock(), log)
	monitor := sysmon.New()

	registry := action.NewRegistry()
	executor.RegisterActions(registry)
	notes.New(store, history).RegisterActions(registry)
	registry.Register("system_status", monitor.Status)

	dispatcher := dispatch.New(registry, learner, log)
	registerCoreActions(registry, scheduler, history, learner, dispatcher)

	if err := scheduler.Restore(ctx, *rearm); err != nil {
		fatal(err)
	}
	defer scheduler.Shutdown()

	srv := server.New(cfg, authn, dispatcher, monitor, log)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

// registerCoreActions wires the scheduling, history, and meta actions. The
// undo handler re-enters the dispatcher, so this runs after the dispatcher
// exists.
func registerCoreActions(r *action.Registry, scheduler *sched.Scheduler, history *ledger.Ledger, learner *learn.Learner, dispatcher *dispatch.Dispatcher) {
	r.Register("set_alarm", func(ctx context.Context, inv action.Invocation) model.Result {
		return scheduler.SetAlarm(ctx, inv.Target, inv.Payload)
	})
	r.Register("set_timer", func(ctx context.Context, inv action.Invocation) model.Result {
		return scheduler.SetTimer(ctx, inv.Target, inv.Payload)
	})
	r.Register("set_reminder", func(ctx context.Context, inv action.Invocation) model.Result {
		return scheduler.SetReminder(ctx, inv.Target, inv.Payload)
	})
	r.Register("cancel_alarm", func(ctx context.Context, inv action.Invocation) model.Result {
		return scheduler.Cancel(ctx, strings.TrimSpace(inv.Target))
	})
	r.Alias("cancel_timer", "cancel_alarm")
	r.Alias("cancel_reminder", "cancel_alarm")
	r.Register("list_alarms", func(ctx context.Context, _ action.Invocation) model.Result {
		return scheduler.List()
	})
	r.Alias("list_timers", "list_alarms")
	r.Alias("list_reminders", "list_alarms")

	r.Register("history", func(ctx context.Context, inv action.Invocation) model.Result {
		limit := 20
		if n, err := strconv.Atoi(strings.TrimSpace(inv.Target)); err == nil && n > 0 {
			limit = n
		}
		entries, err := history.Recent(ctx, limit)
		if err != nil {
			return model.Errorf(fmt.Sprintf("Failed to read history: %v", err))
		}
		return model.Success(fmt.Sprintf("%d history entries", len(entries))).With("history", entries)
	})
	r.Register("undo_last", func(ctx context.Context, _ action.Invocation) model.Result {
		return history.UndoLast(ctx, dispatcher)
	})
	r.Alias("undo", "undo_last")

	r.Register("predict_next", func(ctx context.Context, _ action.Invocation) model.Result {
		return learner.Predict(ctx, 3)
	})
	r.Register("detect_routines", func(ctx context.Context, inv action.Invocation) model.Result {
		minCount := 0
		if n, err := strconv.Atoi(strings.TrimSpace(inv.Target)); err == nil {
			minCount = n
		}
		return learner.DetectRoutines(ctx, minCount)
	})

	r.Register("ping", func(ctx context.Context, _ action.Invocation) model.Result {
		return model.Success("pong")
	})
	r.Register("heartbeat", func(ctx context.Context, _ action.Invocation) model.Result {
		return model.Success("alive").With("time", time.Now().UTC().Format(time.RFC3339))
	})
	r.Register("list_actions", func(ctx context.Context, _ action.Invocation) model.Result {
		names := r.Names()
		return model.Success(fmt.Sprintf("%d actions available", len(names))).With("actions", names)
	})
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "bridged: %v\n", err)
	os.Exit(1)
}
