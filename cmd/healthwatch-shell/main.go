// Command healthwatch-shell is a host-side test client for healthwatch-bridge.
//
// It locates a bridge (by address or over mDNS), invokes
// setupHealthKitObservers once and prints every healthDataUpdated event it
// receives.
//
// Usage:
//
//	healthwatch-shell [flags]
//
// Flags:
//
//	-addr string          Bridge address; browse mDNS when empty
//	-channel string       Method channel name
//	-browse-timeout dur   How long to browse for a bridge (default 10s)
//	-timeout dur          Setup call timeout (default 30s)
//	-count int            Exit after this many events (0: run until interrupted)
//	-reconnect            Reconnect with backoff when the bridge goes away
//	-max-retries int      Give up after this many reconnect attempts (0: never)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Find a bridge on the local network and watch updates
//	healthwatch-shell
//
//	# Connect directly and exit after five updates
//	healthwatch-shell -addr 127.0.0.1:7421 -count 5
//
//	# Survive bridge restarts
//	healthwatch-shell -reconnect
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

	"github.com/healthwatch/healthwatch-go/pkg/bridge"
	"github.com/healthwatch/healthwatch-go/pkg/connection"
	"github.com/healthwatch/healthwatch-go/pkg/discovery"
	"github.com/healthwatch/healthwatch-go/pkg/version"
	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

// Shell errors.
var (
	// ErrIncompatible is returned when the discovered bridge speaks another
	// major protocol version.
	ErrIncompatible = errors.New("incompatible bridge version")

	ErrDisconnected = errors.New("bridge disconnected")
)

// Config holds the shell configuration.
type Config struct {
	Addr          string
	Channel       string
	Interface     string
	BrowseTimeout time.Duration
	Timeout       time.Duration
	Count         int
	Reconnect     bool
	MaxRetries    int
	LogLevel      string
}

// Finder locates a bridge serving a channel.
type Finder interface {
	Find(ctx context.Context, channel string) (*discovery.BridgeService, error)
}

func parseFlags(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("healthwatch-shell", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address; browse mDNS when empty")
	fs.StringVar(&cfg.Channel, "channel", bridge.ChannelName, "Method channel name")
	fs.StringVar(&cfg.Interface, "interface", "", "Network interface for mDNS browsing")
	fs.DurationVar(&cfg.BrowseTimeout, "browse-timeout", 10*time.Second, "How long to browse for a bridge")
	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Setup call timeout")
	fs.IntVar(&cfg.Count, "count", 0, "Exit after this many events (0: run until interrupted)")
	fs.BoolVar(&cfg.Reconnect, "reconnect", false, "Reconnect with backoff when the bridge goes away")
	fs.IntVar(&cfg.MaxRetries, "max-retries", 0, "Give up after this many reconnect attempts (0: never)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Count < 0 {
		return cfg, fmt.Errorf("count must not be negative: %d", cfg.Count)
	}
	if cfg.MaxRetries < 0 {
		return cfg, fmt.Errorf("max-retries must not be negative: %d", cfg.MaxRetries)
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q\n", cfg.LogLevel)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{
		Interface:     cfg.Interface,
		BrowseTimeout: cfg.BrowseTimeout,
	})
	if err := run(ctx, cfg, browser, os.Stdout, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shell failed", "error", err)
		os.Exit(1)
	}
}

// resolveAddress returns cfg.Addr, or browses for a compatible bridge.
func resolveAddress(ctx context.Context, cfg Config, finder Finder, logger *slog.Logger) (string, error) {
	if cfg.Addr != "" {
		return cfg.Addr, nil
	}
	svc, err := finder.Find(ctx, cfg.Channel)
	if err != nil {
		return "", fmt.Errorf("browse for bridge: %w", err)
	}
	if !version.CompatibleWith(svc.Version) {
		return "", fmt.Errorf("%w: %s advertises %q, want %s", ErrIncompatible, svc.Instance, svc.Version, version.Current)
	}
	logger.Info("discovered bridge", "instance", svc.Instance, "address", svc.Address(), "types", svc.Types)
	return svc.Address(), nil
}

// shell prints events across one or more sessions.
type shell struct {
	cfg      Config
	finder   Finder
	out      io.Writer
	logger   *slog.Logger
	received int
}

// run connects, requests setup and prints events until ctx ends, the bridge
// disconnects or cfg.Count events have arrived. With cfg.Reconnect a lost
// bridge is dialed again with backoff.
func run(ctx context.Context, cfg Config, finder Finder, out io.Writer, logger *slog.Logger) error {
	sh := &shell{cfg: cfg, finder: finder, out: out, logger: logger}
	if !cfg.Reconnect {
		return sh.session(ctx, func() {})
	}

	mgr := connection.NewManager(connection.Config{
		MaxAttempts: cfg.MaxRetries,
		OnStateChange: func(from, to connection.State) {
			logger.Debug("session state", "from", from.String(), "to", to.String())
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("bridge unavailable, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	})
	return mgr.Run(ctx, sh.session)
}

// session runs one connection. Errors that a retry cannot fix are marked
// permanent.
func (sh *shell) session(ctx context.Context, connected func()) error {
	addr, err := resolveAddress(ctx, sh.cfg, sh.finder, sh.logger)
	if err != nil {
		if errors.Is(err, ErrIncompatible) {
			return connection.Permanent(err)
		}
		return err
	}

	client, err := bridge.Dial(ctx, addr, bridge.ClientConfig{
		Channel: sh.cfg.Channel,
		Timeout: sh.cfg.Timeout,
		Logger:  sh.logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	events := make(chan *wire.Event, 16)
	client.OnEvent(func(ev *wire.Event) {
		select {
		case events <- ev:
		default:
			sh.logger.Warn("dropping event, printer is behind", "method", ev.Method)
		}
	})

	ok, err := client.SetupObservers(ctx)
	if err != nil {
		var statusErr *bridge.StatusError
		if errors.As(err, &statusErr) {
			return connection.Permanent(fmt.Errorf("setup observers: %w", err))
		}
		return fmt.Errorf("setup observers: %w", err)
	}
	connected()
	fmt.Fprintf(sh.out, "setupHealthKitObservers -> %t\n", ok)

	for sh.cfg.Count == 0 || sh.received < sh.cfg.Count {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.Done():
			return ErrDisconnected
		case ev := <-events:
			sh.received++
			fmt.Fprintf(sh.out, "%s %s #%d\n", time.Now().Format("15:04:05.000"), ev.Method, sh.received)
		}
	}
	return nil
}
