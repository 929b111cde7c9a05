// Package server implements the protocol session: the per-connection
// state machine that routes decoded frames to capability handlers and
// owns everything written back to the client.
package server

import (
	"context"

	"github.com/modelctx/mcpserve/pkg/logging"
	"github.com/modelctx/mcpserve/pkg/observability"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/registry"
	"github.com/modelctx/mcpserve/pkg/transport"
)

// Server holds the capability catalog and shared infrastructure for all
// sessions. One Server serves any number of concurrent connections.
type Server struct {
	info     protocol.Implementation
	registry *registry.Registry
	logger   logging.Logger
	metrics  *observability.Metrics
	tracer   *observability.TracingProvider

	instructions string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracing attaches an OpenTelemetry tracing provider.
func WithTracing(tp *observability.TracingProvider) Option {
	return func(s *Server) {
		s.tracer = tp
	}
}

// WithInstructions sets the usage hint returned from the handshake.
func WithInstructions(instructions string) Option {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// New creates a server for the given implementation info and registry.
func New(name, version string, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		info:     protocol.Implementation{Name: name, Version: version},
		registry: reg,
		logger:   logging.New(nil, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the server's capability catalog.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Serve runs one session over the given channel until the peer
// disconnects or ctx is cancelled. It is safe to call concurrently with
// different channels.
func (s *Server) Serve(ctx context.Context, ch transport.Channel) error {
	sess := newSession(s, ch)

	s.metrics.SessionStarted()
	defer s.metrics.SessionEnded()

	return sess.run(ctx)
}
