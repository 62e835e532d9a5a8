package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"i4.energy/across/ltemodem/modem"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB2", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Duration("poll-interval", 30*time.Second, "Interval between radio status polls, 0 disables")
	flag.String("apn", "", "APN of PDP context 1, configured at startup when set")
	flag.Bool("dial", false, "Start a PPP session once registered")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(config.LogLevel)}))

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(config.ATTimeout).
		WithEscapeGuard(config.EscapeGuard).
		WithLogger(logger.With("component", "modem")).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting LTE modem daemon", "serial_port", config.SerialPort, "baud_rate", config.BaudRate)

	events := NewEventHub()
	server := &Server{
		Logger: logger.With("component", "server"),
		Modem:  m,
		Events: events,
	}
	httpServer := &http.Server{
		Addr:              config.BindAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	poller := &Poller{
		Logger:   logger.With("component", "poller"),
		Modem:    m,
		Interval: config.PollInterval,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := m.Loop(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return events.Pump(gctx, m.URC())
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := bringUp(gctx, logger, m, config); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		return poller.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to gracefully shutdown server", "error", err)
		}

		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
			logger.Error("Failed to close modem", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Daemon stopped", "error", err)
		os.Exit(1)
	}
}

// bringUp initializes the modem, waits for the SIM and the network, and
// optionally configures the APN and dials.
func bringUp(ctx context.Context, logger *slog.Logger, m *modem.Modem, config *Config) error {
	if err := m.Init(ctx); err != nil {
		return err
	}

	err := m.WaitReady(ctx, modem.PollConfig{
		Interval: 2 * time.Second,
		Timeout:  config.ReadyTimeout,
	})
	if err != nil {
		return err
	}

	if id, err := m.Identity(ctx); err != nil {
		logger.Warn("Failed to read identity", "error", err)
	} else {
		logger.Info("Modem ready", "name", id.Name, "imei", id.IMEI, "operator", id.Operator)
	}

	if config.APN != "" {
		if err := m.Configure(ctx, config.APN); err != nil {
			return err
		}
	}
	if config.Dial {
		if err := m.EnterMode(ctx, modem.DataMode); err != nil {
			return err
		}
		logger.Info("PPP session started")
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
