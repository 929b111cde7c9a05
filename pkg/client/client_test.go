package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelctx/mcpserve/pkg/logging"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/registry"
	"github.com/modelctx/mcpserve/pkg/server"
)

// pipeEnd is one side of an in-memory duplex channel.
type pipeEnd struct {
	in  chan []byte
	out chan []byte

	closeOnce *sync.Once
	done      chan struct{}
}

func newPipe() (*pipeEnd, *pipeEnd) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	done := make(chan struct{})
	closeOnce := new(sync.Once)
	a := &pipeEnd{in: b2a, out: a2b, closeOnce: closeOnce, done: done}
	b := &pipeEnd{in: a2b, out: b2a, closeOnce: closeOnce, done: done}
	return a, b
}

func (p *pipeEnd) Send(data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return nil
	}
}

func (p *pipeEnd) Receive() <-chan []byte { return p.in }

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// startPair wires a real server to a real client and completes the
// handshake.
func startPair(t *testing.T, reg *registry.Registry, opts ...Option) *Client {
	t.Helper()

	clientEnd, serverEnd := newPipe()

	srv := server.New("pair-server", "0.0.1", reg, server.WithLogger(logging.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = srv.Serve(ctx, serverEnd)
	}()

	opts = append([]Option{WithLogger(logging.Nop()), WithClientInfo("pair-client", "0.0.1")}, opts...)
	c := New(clientEnd, opts...)
	t.Cleanup(func() { c.Close() })

	initCtx, initCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer initCancel()
	result, err := c.Initialize(initCtx)
	require.NoError(t, err)
	require.Equal(t, "pair-server", result.ServerInfo.Name)

	return c
}

func pairRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()

	require.NoError(t, reg.RegisterTool(registry.Tool{
		Name:        "echo",
		Description: "Echoes its input",
		Params:      []registry.ParamSpec{{Name: "text", Required: true}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	}))

	require.NoError(t, reg.RegisterResourceTemplate(registry.ResourceTemplate{
		URITemplate: "notes://{id}",
		Name:        "note",
		Params: []registry.ParamSpec{{
			Name: "id",
			Complete: func(ctx context.Context, partial string) ([]string, error) {
				return []string{"alpha", "beta"}, nil
			},
		}},
		Handler: func(ctx context.Context, params map[string]string) (interface{}, error) {
			return "note " + params["id"], nil
		},
	}))

	require.NoError(t, reg.RegisterPrompt(registry.Prompt{
		Name:   "summarize",
		Params: []registry.ParamSpec{{Name: "topic", Required: true}},
		Handler: func(ctx context.Context, args map[string]string) (interface{}, error) {
			return "Summarize " + args["topic"], nil
		},
	}))

	return reg
}

func TestEndToEndDiscoveryAndInvocation(t *testing.T) {
	c := startPair(t, pairRegistry(t))
	ctx := context.Background()

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Contains(t, tools[0].InputSchema.Required, "text")

	result, err := c.CallTool(ctx, "echo", map[string]interface{}{"text": "hello"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello", result.Content[0].Text)

	templates, err := c.ListResourceTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	contents, err := c.ReadResource(ctx, "notes://alpha")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "note alpha", contents[0].Text)

	prompt, err := c.GetPrompt(ctx, "summarize", map[string]string{"topic": "Go"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "Summarize Go", prompt.Messages[0].Content.Text)

	completion, err := c.Complete(ctx,
		protocol.CompleteRef{Type: "ref/resource", URI: "notes://{id}"},
		protocol.CompleteArgument{Name: "id", Value: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, completion.Values)
	assert.False(t, completion.HasMore)
}

func TestProtocolErrorSurfaces(t *testing.T) {
	c := startPair(t, pairRegistry(t))

	_, err := c.CallTool(context.Background(), "missing", nil)
	require.Error(t, err)

	protoErr, ok := err.(*protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.InvalidParams, protoErr.Code)
}

func TestResourceNotFoundSurfaces(t *testing.T) {
	c := startPair(t, pairRegistry(t))

	_, err := c.ReadResource(context.Background(), "junk://nowhere")
	require.Error(t, err)

	protoErr, ok := err.(*protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.ResourceNotFound, protoErr.Code)
}

func TestProgressCallback(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterTool(registry.Tool{
		Name: "stepper",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			cc, _ := server.ClientFromContext(ctx)
			for i := 1; i <= 3; i++ {
				total := 3.0
				if err := cc.Progress(ctx, float64(i), &total, ""); err != nil {
					return nil, err
				}
			}
			return "done", nil
		},
	}))

	c := startPair(t, reg)

	var mu sync.Mutex
	var seen []float64
	result, err := c.CallTool(context.Background(), "stepper", nil, WithProgress(func(p protocol.ProgressParams) {
		mu.Lock()
		seen = append(seen, p.Progress)
		mu.Unlock()
	}))
	require.NoError(t, err)
	assert.Equal(t, "done", result.Content[0].Text)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1, 2, 3}, seen)
}

func TestCallToolSendsExplicitProgressToken(t *testing.T) {
	clientEnd, serverEnd := newPipe()

	c := New(clientEnd, WithLogger(logging.Nop()))
	t.Cleanup(func() { c.Close() })

	var mu sync.Mutex
	var seen []protocol.ProgressParams

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "work", nil, WithProgress(func(p protocol.ProgressParams) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		}))
		errCh <- err
	}()

	var req *protocol.Request
	select {
	case frame := <-serverEnd.Receive():
		msg, err := protocol.DecodeMessage(frame)
		require.NoError(t, err)
		require.Equal(t, protocol.KindRequest, msg.Kind)
		req = msg.Request
	case <-time.After(2 * time.Second):
		t.Fatal("no request sent")
	}

	// A progress call carries its own token: tying the callback to a
	// predicted request id would break under concurrent calls.
	var params protocol.CallToolParams
	require.NoError(t, protocol.ParseParams(req.Params, &params))
	require.NotNil(t, params.Meta)
	token, ok := params.Meta.ProgressToken.(string)
	require.True(t, ok)
	require.NotEmpty(t, token)
	assert.NotEqual(t, fmt.Sprintf("%v", req.ID), token)

	notif, err := protocol.NewNotification(protocol.MethodProgress, protocol.ProgressParams{
		ProgressToken: token,
		Progress:      1,
	})
	require.NoError(t, err)
	data, err := protocol.EncodeMessage(protocol.NotificationMessage(notif))
	require.NoError(t, err)
	require.NoError(t, serverEnd.Send(data))

	resp, err := protocol.NewResponse(req.ID, protocol.CallToolResult{
		Content: []protocol.ContentBlock{protocol.TextContent("done")},
	})
	require.NoError(t, err)
	data, err = protocol.EncodeMessage(protocol.ResponseMessage(resp))
	require.NoError(t, err)
	require.NoError(t, serverEnd.Send(data))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call never returned")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, float64(1), seen[0].Progress)
}

func TestLogCallbackHonorsThreshold(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterTool(registry.Tool{
		Name: "logger",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			cc, _ := server.ClientFromContext(ctx)
			_ = cc.Log(ctx, protocol.LogDebug, "t", "too quiet")
			_ = cc.Log(ctx, protocol.LogCritical, "t", "loud")
			return "ok", nil
		},
	}))

	var mu sync.Mutex
	var got []protocol.LogMessageParams

	c := startPair(t, reg, WithLogHandler(func(p protocol.LogMessageParams) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}))

	ctx := context.Background()
	require.NoError(t, c.SetLogLevel(ctx, protocol.LogWarning))

	_, err := c.CallTool(ctx, "logger", nil)
	require.NoError(t, err)

	// The call response follows the notification, so it has arrived.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.LogCritical, got[0].Level)
	assert.Equal(t, "loud", got[0].Data)
}

func TestDeclareRootsAndServerRefetch(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterTool(registry.Tool{
		Name: "count-roots",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			cc, _ := server.ClientFromContext(ctx)
			return float64(len(cc.Roots())), nil
		},
	}))

	c := startPair(t, reg, WithRoots([]protocol.Root{{Name: "seed", URI: "file:///seed"}}))
	ctx := context.Background()

	c.DeclareRoots([]protocol.Root{
		{Name: "a", URI: "file:///a"},
		{Name: "b", URI: "file:///b"},
	})

	// Inline declaration is ordered ahead of the next request frame.
	result, err := c.CallTool(ctx, "count-roots", nil)
	require.NoError(t, err)
	assert.Equal(t, "2", result.Content[0].Text)

	// The server reports the set it now holds.
	roots, err := c.ListRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "file:///a", roots[0].URI)
}

func TestCallCancellation(t *testing.T) {
	started := make(chan struct{})

	reg := registry.New()
	require.NoError(t, reg.RegisterTool(registry.Tool{
		Name: "hang",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	c := startPair(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(ctx, "hang", nil)
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool never started")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after cancellation")
	}
}

func TestPing(t *testing.T) {
	c := startPair(t, pairRegistry(t))
	assert.NoError(t, c.Ping(context.Background()))
}
