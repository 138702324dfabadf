package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goflags "github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"

	"planit/internal/config"
	"planit/internal/feed"
	"planit/internal/ics"
	"planit/internal/loader"
	appLog "planit/internal/log"
	"planit/internal/view"
	"planit/internal/web"
	"planit/internal/window"
)

var version = "0.1.0-dev"

const shutdownTimeout = 10 * time.Second

type options struct {
	Config  string `long:"config" description:"Path to config file" default:"/etc/planit/config.yaml"`
	Listen  string `long:"listen" description:"HTTP listen address (overrides config if set)"`
	Once    bool   `long:"once" description:"Run one refresh, log a summary and exit"`
	Debug   bool   `long:"debug" description:"Log at debug level regardless of config"`
	Version bool   `long:"version" description:"Print version and exit"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	parser := goflags.NewParser(&opts, goflags.Default)
	parser.Name = "planit"
	parser.LongDescription = "Week-view event calendar with category and genre filters."
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}
	if opts.Version {
		fmt.Printf("planit %s\n", version)
		return nil
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load config %s: %w", opts.Config, err)
	}
	cfg.ApplyEnv()
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := appLog.Init(cfg.Log.Environment, cfg.Log.Level); err != nil {
		return err
	}
	defer appLog.Sync()
	if opts.Debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	appLog.Info("planit starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"events_url", feed.RedactURL(cfg.EventsURL),
		"ics_count", len(cfg.ICS),
		"refresh", cfg.RefreshCron,
		"once", opts.Once,
	)

	ld := buildLoader(cfg)
	state := view.New(loc, window.Fallbacks{
		MinHour: cfg.Window.FallbackMinHour,
		MaxHour: cfg.Window.FallbackMaxHour,
	}, time.Now())
	srv := web.NewServer(cfg, state, ld)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refresh := func() {
		ctx, cancel := context.WithTimeout(signalCtx, 2*cfg.RequestTimeout)
		defer cancel()
		if err := srv.Refresh(ctx); err != nil {
			appLog.Error("refresh failed", err)
		}
	}

	if opts.Once {
		refresh()
		snap := state.Snapshot()
		appLog.Info("refresh summary",
			"events", snap.TotalEvents,
			"categories", len(snap.Categories)-1,
			"malformed", len(snap.Malformed),
			"min_hour", snap.Window.MinHour,
			"max_hour", snap.Window.MaxHour,
			"notice", snap.Notice,
		)
		return nil
	}

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(cfg.RefreshCron, refresh); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", cfg.RefreshCron, err)
	}
	go refresh()
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
	}()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout * 3,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLog.Info("http server listening", "addr", cfg.Listen)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			appLog.Info("http server stopped")
			return nil
		}
		return err
	case <-signalCtx.Done():
		appLog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("planit exiting")
	return nil
}

func buildLoader(cfg *config.Config) *loader.Loader {
	calendars := make([]loader.RangeSource, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		src := ics.Source{ID: c.ID, Name: c.Name, URL: c.URL}
		calendars = append(calendars, ics.NewClient(src, cfg.CacheDir, cfg.RequestTimeout))
	}

	var ld *loader.Loader
	if cfg.EventsURL != "" {
		ld = loader.New(feed.NewFetcher(cfg.EventsURL, cfg.CacheDir, cfg.RequestTimeout), calendars...)
	} else {
		ld = loader.New(nil, calendars...)
	}
	ld.Backfill = time.Duration(cfg.BackfillDays) * 24 * time.Hour
	ld.Horizon = time.Duration(cfg.HorizonDays) * 24 * time.Hour
	return ld
}
