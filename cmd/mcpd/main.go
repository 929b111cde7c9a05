// Command mcpd runs a capability server. It speaks the protocol over an
// SSE connection pair by default, or over stdin/stdout with --stdio, and
// ships a small set of demonstration capabilities.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/modelctx/mcpserve/pkg/logging"
	"github.com/modelctx/mcpserve/pkg/observability"
	"github.com/modelctx/mcpserve/pkg/server"
	"github.com/modelctx/mcpserve/pkg/transport"
)

const (
	serverName    = "mcpd"
	serverVersion = "0.3.0"
)

func main() {
	cmd := &cli.Command{
		Name:    serverName,
		Usage:   "Run the capability server.",
		Version: serverVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Value:   ":8080",
				Usage:   "HTTP listen address for the SSE transport",
			},
			&cli.BoolFlag{
				Name:  "stdio",
				Usage: "Serve a single session over stdin/stdout instead of HTTP",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level: debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Output logs as JSON",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Value: true,
				Usage: "Expose Prometheus metrics on /metrics",
			},
			&cli.StringFlag{
				Name:  "trace-endpoint",
				Usage: "OTLP/HTTP collector endpoint (host:port); tracing is disabled when empty",
			},
			&cli.StringFlag{
				Name:  "trace-protocol",
				Value: "http",
				Usage: "OTLP transport: http or grpc",
			},
			&cli.FloatFlag{
				Name:  "trace-sample",
				Value: 1.0,
				Usage: "Trace sampling ratio between 0 and 1",
			},
			&cli.DurationFlag{
				Name:  "ping-interval",
				Value: 15 * time.Second,
				Usage: "Keepalive interval for idle SSE streams",
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)

	var metrics *observability.Metrics
	if cmd.Bool("metrics") && !cmd.Bool("stdio") {
		var err error
		metrics, err = observability.NewMetrics(observability.MetricsConfig{
			ServiceName:    serverName,
			ServiceVersion: serverVersion,
		})
		if err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
	}

	var tracer *observability.TracingProvider
	if endpoint := cmd.String("trace-endpoint"); endpoint != "" {
		var err error
		tracer, err = observability.NewTracingProvider(observability.TracingConfig{
			ServiceName:    serverName,
			ServiceVersion: serverVersion,
			Endpoint:       endpoint,
			Protocol:       cmd.String("trace-protocol"),
			Insecure:       true,
			SampleRate:     cmd.Float("trace-sample"),
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("trace provider shutdown failed", logging.ErrorField(err))
			}
		}()
	}

	srv := server.New(serverName, serverVersion, demoRegistry(),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithTracing(tracer),
		server.WithInstructions("Demonstration server. Call the echo, add or slow tools, read config://app or weather://{city}/current, or render the greet prompt."),
	)

	if cmd.Bool("stdio") {
		logger.Info("serving session over stdio")
		return srv.Serve(ctx, transport.NewStdioChannel(os.Stdin, os.Stdout))
	}

	return serveHTTP(ctx, cmd, srv, metrics, logger)
}

func serveHTTP(ctx context.Context, cmd *cli.Command, srv *server.Server, metrics *observability.Metrics, logger logging.Logger) error {
	sse := transport.NewSSEHandler(func(ch transport.Channel) {
		go func() {
			if err := srv.Serve(ctx, ch); err != nil {
				logger.Warn("session ended with error", logging.ErrorField(err))
			}
		}()
	}, transport.WithSSELogger(logger), transport.WithPingInterval(cmd.Duration("ping-interval")))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/sub", sse.ServeSubscribe)
	r.Get("/sub/{connID}", sse.ServeSubscribe)
	r.Post("/pub/{connID}", sse.ServePublish)
	if metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cmd.String("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", logging.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cmd *cli.Command) logging.Logger {
	var formatter logging.Formatter
	if cmd.Bool("log-json") {
		formatter = logging.NewJSONFormatter()
	}
	logger := logging.New(os.Stderr, formatter)
	logger.SetLevel(logging.ParseLevel(cmd.String("log-level")))
	return logger.WithFields(logging.String("component", serverName))
}
