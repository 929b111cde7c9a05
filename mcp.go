package mcpserve

import (
	"github.com/modelctx/mcpserve/pkg/client"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/registry"
	"github.com/modelctx/mcpserve/pkg/server"
	"github.com/modelctx/mcpserve/pkg/transport"
)

// Version is the library version.
const Version = "0.3.0"

// ProtocolVersion is the wire protocol revision spoken by this library.
const ProtocolVersion = protocol.ProtocolVersion

// These exports provide direct access to the core components.
var (
	// NewRegistry creates an empty capability registry.
	NewRegistry = registry.New

	// NewServer creates a protocol server over a registry.
	NewServer = server.New

	// NewClient creates a protocol client over a channel.
	NewClient = client.New

	// NewStdioChannel creates a newline-framed channel over a byte
	// stream pair.
	NewStdioChannel = transport.NewStdioChannel

	// DialSSE connects to a server's SSE subscribe endpoint.
	DialSSE = transport.DialSSE

	// NewSSEHandler creates the HTTP handlers for the server side of
	// the SSE connection pair.
	NewSSEHandler = transport.NewSSEHandler
)

// Server options.
var (
	WithLogger       = server.WithLogger
	WithMetrics      = server.WithMetrics
	WithTracing      = server.WithTracing
	WithInstructions = server.WithInstructions
)

// Client options.
var (
	WithClientInfo  = client.WithClientInfo
	WithClientRoots = client.WithRoots
	WithLogHandler  = client.WithLogHandler
	WithProgress    = client.WithProgress
)
