package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/icexin/gocraft-gridsync/client"
	"github.com/icexin/gocraft-gridsync/config"
	"github.com/icexin/gocraft-gridsync/grid"
	"github.com/icexin/gocraft-gridsync/journal"
	"github.com/icexin/gocraft-gridsync/manager"
	"github.com/icexin/gocraft-gridsync/sensor"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Scan the sensor grid and stream changes until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"GRIDSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "dotenv",
				Value: ".env",
				Usage: "dotenv file loaded before the environment is read",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.NewLoader(
		config.WithConfigFile(c.String("config")),
		config.WithDotEnv(c.String("dotenv")),
	).Load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, log)
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	sensors, closeSensors, err := buildSensors(cfg, log)
	if err != nil {
		return err
	}
	defer closeSensors()

	dialer, err := client.DialerFor(cfg.Remote.Endpoint)
	if err != nil {
		return err
	}
	sess := client.NewSession(dialer, cfg.Remote.Endpoint,
		client.WithLogger(log),
		client.WithObserver(func(msg string) { log.Info("message from server", "message", msg) }),
	)

	opts := []manager.Option{manager.WithLogger(log)}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, manager.WithRecorder(j))
	}

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		opts = append(opts, manager.WithMetrics(manager.NewMetrics(reg)))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux(reg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	m := manager.New(manager.Options{
		Size:         cfg.Grid.Size,
		ScanInterval: cfg.Grid.ScanInterval,
		ClearOnStart: cfg.Grid.ClearOnStart,
		DialTimeout:  cfg.Remote.DialTimeout,
		SendTimeout:  cfg.Remote.SendTimeout,
		Encoder: grid.Encoder{
			Dimension: cfg.Remote.Dimension,
			YOffset:   cfg.Remote.YOffset,
			Materials: grid.Materials{
				Present:  cfg.Remote.Materials.Present,
				Absent:   cfg.Remote.Materials.Absent,
				Boundary: cfg.Remote.Materials.Boundary,
			},
		},
	}, sensors, sess, opts...)

	if err := m.Start(ctx); err != nil {
		sess.Close()
		return err
	}
	log.Info("scanning", "size", cfg.Grid.Size, "interval", cfg.Grid.ScanInterval.String())
	runErr := m.Run(ctx)

	teardown, cancel := context.WithTimeout(context.Background(), cfg.Remote.TeardownTimeout)
	defer cancel()
	m.Close(teardown)
	return runErr
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func buildSensors(cfg config.Config, log *slog.Logger) (grid.Array, func(), error) {
	nop := func() {}
	switch cfg.Sensors.Source {
	case config.SourceCube:
		cc := cfg.Sensors.Cube
		return sensor.NewCube(sensor.CubeOptions{
			Center:   r3.Vec{X: cc.Center[0], Y: cc.Center[1], Z: cc.Center[2]},
			Size:     cc.Size,
			Speed:    cc.Speed,
			CellSize: cfg.Grid.CellSize,
		}), nop, nil
	case config.SourceSerial:
		sc := cfg.Sensors.Serial
		a, err := sensor.OpenSerial(sensor.PortOptions{
			Path:     sc.Port,
			BaudRate: sc.BaudRate,
			DataBits: sc.DataBits,
			StopBits: sc.StopBits,
			Parity:   sc.Parity,
		}, sc.StaleAfter, log)
		if err != nil {
			return nil, nop, err
		}
		return a, func() { a.Close() }, nil
	case config.SourceNone:
		return sensor.NewMatrix(), nop, nil
	}
	return nil, nop, fmt.Errorf("%w: unknown sensor source %q", config.ErrInvalid, cfg.Sensors.Source)
}

func newLogger(cfg config.Log, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text", "console":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}
