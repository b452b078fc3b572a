// Command sensordash is a terminal dashboard for a sensor telemetry
// backend.
//
// Usage:
//
//	sensordash [flags] [live]              live cards with modal charts
//	sensordash [flags] detail [sensor] [day]  range browser
//	sensordash [flags] watch               headless poller with metrics
//	sensordash [flags] latest <sensor>     print the latest reading
//	sensordash [flags] days                list recorded days
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/luki/sensordash/internal/api"
	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/classify"
	"github.com/luki/sensordash/internal/config"
	"github.com/luki/sensordash/internal/logging"
	"github.com/luki/sensordash/internal/monitor"
	"github.com/luki/sensordash/internal/poll"
	"github.com/luki/sensordash/internal/rangeq"
	"github.com/luki/sensordash/internal/store"
	"github.com/luki/sensordash/internal/viewer"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("sensordash", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (default $"+config.EnvConfig+")")
	apiURL := fs.String("api", "", "backend base URL, overrides the config")
	noRecord := fs.Bool("no-record", false, "do not record live readings to CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if *noRecord {
		cfg.Record = false
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := fs.Arg(0)
	rest := fs.Args()
	if len(rest) > 0 {
		rest = rest[1:]
	}

	switch cmd {
	case "", "live":
		return runLive(ctx, cfg, level)
	case "detail":
		return runDetail(ctx, cfg, level, rest)
	case "watch":
		return runWatch(ctx, cfg, logging.New(os.Stderr, level))
	case "latest":
		return runLatest(ctx, cfg, rest, stdout)
	case "days":
		return runDays(cfg, stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// tuiLogger logs to a file; the terminal belongs to the UI.
func tuiLogger(cfg config.Config, level slog.Level) (*slog.Logger, func(), error) {
	logger, closer, err := logging.OpenFile(cfg.LogPath(), level)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { closer.Close() }, nil
}

func runLive(ctx context.Context, cfg config.Config, level slog.Level) error {
	logger, closeLog, err := tuiLogger(cfg, level)
	if err != nil {
		return err
	}
	defer closeLog()

	client := api.New(cfg.APIURL, cfg.HTTPTimeout, api.WithLogger(logger))
	session := poll.New(client, poll.WithLogger(logger))
	logger.Info("live dashboard starting", "session", session.ID(), "config", cfg.String())

	opts := []monitor.Option{monitor.WithLogger(logger)}
	if cfg.Record {
		ds, err := store.New(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("disk store: %w", err)
		}
		opts = append(opts, monitor.WithStore(ds))
	}
	today, err := store.LoadDay(cfg.DataDir, time.Now().Format("2006-01-02"))
	if err != nil {
		logger.Warn("cannot load today's recording", "err", err)
	} else if len(today) > 0 {
		opts = append(opts, monitor.WithHistory(today))
	}

	return ignoreCancel(monitor.Run(ctx, monitor.New(session, opts...)))
}

func runDetail(ctx context.Context, cfg config.Config, level slog.Level, args []string) error {
	logger, closeLog, err := tuiLogger(cfg, level)
	if err != nil {
		return err
	}
	defer closeLog()

	client := api.New(cfg.APIURL, cfg.HTTPTimeout, api.WithLogger(logger))
	session := rangeq.New(client, rangeq.WithLimit(cfg.RangeLimit), rangeq.WithLogger(logger))

	opts := []viewer.Option{
		viewer.WithLogger(logger),
		viewer.WithDataDir(cfg.DataDir),
		viewer.WithPageSize(cfg.PageSize),
	}
	if len(args) > 0 {
		id := catalog.ID(args[0])
		if !catalog.Known(id) {
			return fmt.Errorf("unknown sensor %q", id)
		}
		day := time.Now().Format("2006-01-02")
		if len(args) > 1 {
			day = args[1]
		}
		opts = append(opts, viewer.WithSelection(id, day))
	}

	return ignoreCancel(viewer.Run(ctx, viewer.New(session, opts...)))
}

func runLatest(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: sensordash latest <sensor>")
	}
	id := catalog.ID(args[0])
	client := api.New(cfg.APIURL, cfg.HTTPTimeout)

	r, err := client.Latest(ctx, id)
	if err != nil {
		return err
	}

	desc := catalog.Describe(id)
	v, err := r.Number()
	if err != nil {
		return &classify.InvalidReadingError{Sensor: id, Err: err}
	}
	severity := ""
	if !desc.IsBinary() {
		severity = "  " + classify.SeverityOf(desc, v).String()
	}
	_, err = fmt.Fprintf(out, "%s  %s  %s%s\n", desc.DisplayName, r.Timestamp, classify.Label(desc, v), severity)
	return err
}

func runDays(cfg config.Config, out io.Writer) error {
	days, err := store.ListDays(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("no recordings in %s: %w", cfg.DataDir, err)
	}
	for _, d := range days {
		fmt.Fprintln(out, d)
	}
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
