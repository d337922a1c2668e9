// Command healthwatch-bridge runs the native side of the health data bridge.
//
// It serves the background method channel to host shells, registers
// observers on a simulated capability source when asked, and relays every
// data update as a healthDataUpdated event.
//
// Usage:
//
//	healthwatch-bridge [flags]
//
// Flags:
//
//	-config string         YAML configuration file path
//	-listen string         Bridge listen address (default "127.0.0.1:7421")
//	-types string          Comma-separated data types to observe (default all)
//	-frequency string      Background delivery frequency (default "immediate")
//	-setup-timeout dur     Bound on waiting for enable outcomes (default none)
//	-log-level string      Log level: debug, info, warn, error (default "info")
//	-protocol-log string   Write protocol trace events to a .hwlog file
//	-metrics string        Prometheus listen address
//	-redis string          Redis address for update fan-out
//	-mdns                  Advertise the bridge over mDNS
//	-interactive           Start the simulator console
//
// Examples:
//
//	# Observe heart rate and steps, console enabled
//	healthwatch-bridge -types heartRate,steps -interactive
//
//	# Full daemon with metrics and redis fan-out
//	healthwatch-bridge -config /etc/healthwatch/bridge.yaml -metrics :9090 -redis localhost:6379
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/healthwatch/healthwatch-go/cmd/healthwatch-bridge/interactive"
	"github.com/healthwatch/healthwatch-go/pkg/bridge"
	"github.com/healthwatch/healthwatch-go/pkg/capability"
	"github.com/healthwatch/healthwatch-go/pkg/datatype"
	"github.com/healthwatch/healthwatch-go/pkg/discovery"
	"github.com/healthwatch/healthwatch-go/pkg/log"
	"github.com/healthwatch/healthwatch-go/pkg/relay"
	"github.com/healthwatch/healthwatch-go/pkg/service"
	"github.com/healthwatch/healthwatch-go/pkg/version"
)

func main() {
	cfg, showVersion, err := ParseConfig(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("healthwatch-bridge %s (protocol %s)\n", version.Software, version.Current)
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "healthwatch-bridge:", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var logOut io.Writer = os.Stderr
	var console *interactive.Console
	if cfg.Interactive {
		c, err := interactive.Open()
		if err != nil {
			return err
		}
		console = c
		// Keep log lines from tearing the prompt.
		logOut = console.Stdout()
	}
	logger := newLogger(cfg.Log, logOut)

	trace, closeTrace, err := newProtocolLogger(cfg.Log, logger)
	if err != nil {
		return err
	}
	defer closeTrace()

	types, _ := cfg.DataTypes()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(reg)

	sim, err := newSimulator(cfg.Simulator, logger)
	if err != nil {
		return err
	}

	channel := bridge.NewChannel(cfg.Channel)
	server, err := bridge.NewServer(bridge.ServerConfig{
		Address:        cfg.Listen,
		WriteTimeout:   cfg.WriteTimeout,
		Channel:        channel,
		Logger:         logger.With("component", "bridge"),
		ProtocolLogger: trace,
	})
	if err != nil {
		return err
	}

	sinks := relay.MultiSink{bridge.NewNotifier(server, cfg.Channel, logger)}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable, fan-out will retry per update", "addr", cfg.Redis.Addr, "error", err)
		}
		sinks = append(sinks, relay.NewRedisSink(client, cfg.Redis.Channel))
		logger.Info("redis fan-out enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	rel, err := relay.New(relay.Config{
		Sink:        sinks,
		Logger:      logger.With("component", "relay"),
		OnDelivered: metrics.ObserveDelivery,
	})
	if err != nil {
		return err
	}
	metrics.TrackQueue(rel.QueueDepth)

	coord, err := service.NewCoordinator(sim, rel, service.Config{
		Types:          types,
		Frequency:      cfg.DeliveryFrequency(),
		SetupTimeout:   cfg.SetupTimeout,
		Logger:         logger.With("component", "coordinator"),
		ProtocolLogger: trace,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}
	channel.Handle(bridge.MethodSetupObservers, bridge.SetupHandler(coord))

	rel.Start(ctx)
	if err := server.Start(ctx); err != nil {
		rel.Stop()
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		metricsSrv = startMetrics(cfg.Metrics.Listen, reg, logger)
	}

	advertiser := newAdvertiser(cfg.MDNS)
	if err := advertiser.Advertise(ctx, &discovery.BridgeInfo{
		Instance: cfg.MDNS.Instance,
		Port:     listenPort(server.Addr()),
		Channel:  cfg.Channel,
		Types:    types,
		Version:  version.Current,
	}); err != nil {
		logger.Warn("mDNS advertisement failed", "error", err)
	} else if cfg.MDNS.Enabled {
		logger.Info("advertising over mDNS", "instance", cfg.MDNS.Instance, "service", discovery.ServiceType)
	}

	logger.Info("healthwatch bridge started",
		"version", version.Software,
		"types", datatype.Names(types),
		"frequency", cfg.Frequency,
		"setup_timeout", cfg.SetupTimeout)

	if console != nil {
		console.Attach(sim, coord, rel, server)
		go console.Run(ctx, cancel)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	advertiser.Stop()
	if err := server.Stop(); err != nil {
		logger.Warn("bridge stop", "error", err)
	}
	coord.Close()
	rel.Stop()
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("stopped", "delivered", rel.Delivered(), "failed", rel.Failed())
	return nil
}

func newLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newProtocolLogger combines the file trace and, at debug level, a slog
// rendering of the same events. The returned logger is nil when neither is
// configured.
func newProtocolLogger(cfg LogConfig, logger *slog.Logger) (log.Logger, func(), error) {
	var fl *log.FileLogger
	closeFn := func() {}

	if cfg.Protocol != "" {
		var err error
		fl, err = log.NewFileLogger(cfg.Protocol)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open protocol log: %w", err)
		}
		closeFn = func() {
			fl.Close()
			written, dropped := fl.Stats()
			logger.Info("protocol log closed", "path", fl.Path(), "events", written, "dropped", dropped)
		}
	}

	var debug log.Logger
	if cfg.Level == "debug" {
		debug = log.NewSlogAdapter(logger)
	}

	if fl == nil {
		return log.Combine(debug), closeFn, nil
	}
	return log.Combine(fl, debug), closeFn, nil
}

// newSimulator builds the simulated platform from cfg. Unknown data type
// names in cfg.Fail are an error.
func newSimulator(cfg SimulatorConfig, logger *slog.Logger) (*capability.Simulator, error) {
	sim := capability.NewSimulator()
	sim.SetLogger(logger.With("component", "simulator"))
	sim.SetAvailable(cfg.Available)

	switch cfg.Authorization {
	case "denied":
		sim.SetAuthorization(false, nil)
	case "error":
		sim.SetAuthorization(false, errors.New("simulated authorization failure"))
	}

	for name, msg := range cfg.Fail {
		t, err := datatype.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("simulator fail: %w", err)
		}
		sim.FailEnable(t, errors.New(msg))
	}
	return sim, nil
}

func newAdvertiser(cfg MDNSConfig) discovery.Advertiser {
	if !cfg.Enabled {
		return &discovery.NoopAdvertiser{}
	}
	adv := discovery.DefaultAdvertiserConfig()
	adv.Interface = cfg.Interface
	return discovery.NewMDNSAdvertiser(adv)
}

func startMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics listening", "address", addr)
	return srv
}

func listenPort(addr net.Addr) uint16 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}
