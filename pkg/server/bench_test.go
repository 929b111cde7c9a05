package server

import (
	"context"
	"testing"

	"github.com/modelctx/mcpserve/pkg/logging"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/registry"
)

func benchFrame(b *testing.B, id interface{}, method string, params interface{}) []byte {
	b.Helper()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		b.Fatal(err)
	}
	data, err := protocol.EncodeMessage(protocol.RequestMessage(req))
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func benchSession(b *testing.B, reg *registry.Registry) *testChannel {
	b.Helper()

	srv := New("bench", "0.0.1", reg, WithLogger(logging.Nop()))
	ch := newTestChannel()

	ctx, cancel := context.WithCancel(context.Background())
	b.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx, ch) }()

	ch.in <- benchFrame(b, 0, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "bench-client"},
	})
	<-ch.out

	notif, err := protocol.NewNotification(protocol.MethodInitialized, nil)
	if err != nil {
		b.Fatal(err)
	}
	data, err := protocol.EncodeMessage(protocol.NotificationMessage(notif))
	if err != nil {
		b.Fatal(err)
	}
	ch.in <- data

	return ch
}

func BenchmarkToolCall(b *testing.B) {
	reg := registry.New()
	if err := reg.RegisterTool(registry.Tool{
		Name:   "echo",
		Params: []registry.ParamSpec{{Name: "text", Required: true}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	}); err != nil {
		b.Fatal(err)
	}

	ch := benchSession(b, reg)
	frame := benchFrame(b, "bench", protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "echo",
		Arguments: map[string]interface{}{"text": "hello"},
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch.in <- frame
		<-ch.out
	}
}

func BenchmarkResourceReadTemplated(b *testing.B) {
	reg := registry.New()
	if err := reg.RegisterResourceTemplate(registry.ResourceTemplate{
		URITemplate: "notes://{id}",
		Name:        "note",
		Handler: func(ctx context.Context, params map[string]string) (interface{}, error) {
			return "note " + params["id"], nil
		},
	}); err != nil {
		b.Fatal(err)
	}

	ch := benchSession(b, reg)
	frame := benchFrame(b, "bench", protocol.MethodReadResource, protocol.ReadResourceParams{
		URI: "notes://alpha",
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch.in <- frame
		<-ch.out
	}
}

func BenchmarkDecodeDispatchPing(b *testing.B) {
	ch := benchSession(b, registry.New())
	frame := benchFrame(b, "bench", protocol.MethodPing, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch.in <- frame
		<-ch.out
	}
}
