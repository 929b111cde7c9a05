// Package mcpserve implements a capability server and client for the
// Model Context Protocol. A server publishes tools, resources (direct
// and templated), and prompts; a client discovers and invokes them over
// a bidirectional message channel.
//
// This root package re-exports the most common constructors. The full
// API lives in the sub-packages:
//
//   - pkg/protocol: wire envelope, codec and protocol types
//   - pkg/registry: the capability registry and handler signatures
//   - pkg/server: session state machine and invocation engine
//   - pkg/client: the protocol client
//   - pkg/transport: SSE connection-pair and stdio channels
//   - pkg/logging: structured logging
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//   - pkg/mcperrors: protocol error taxonomy
//
// # Serving capabilities
//
// Register handlers on a registry, then serve sessions over a channel:
//
//	reg := mcpserve.NewRegistry()
//	_ = reg.RegisterTool(registry.Tool{
//	    Name: "echo",
//	    Params: []registry.ParamSpec{{Name: "text", Required: true}},
//	    Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
//	        return args["text"], nil
//	    },
//	})
//
//	srv := mcpserve.NewServer("example", "1.0.0", reg)
//	_ = srv.Serve(ctx, mcpserve.NewStdioChannel(os.Stdin, os.Stdout))
//
// # Connecting as a client
//
//	ch, err := mcpserve.DialSSE(ctx, "http://localhost:8080/sub", nil, logger)
//	if err != nil { ... }
//	c := mcpserve.NewClient(ch, mcpserve.WithClientInfo("example-client", "1.0.0"))
//	defer c.Close()
//	if _, err := c.Initialize(ctx); err != nil { ... }
//	result, err := c.CallTool(ctx, "echo", map[string]interface{}{"text": "hi"})
//
// The cmd/mcpd and cmd/mcpctl commands wrap these pieces into a runnable
// server and an admin CLI.
package mcpserve
