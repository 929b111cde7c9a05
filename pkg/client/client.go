// Package client implements the protocol client: handshake, capability
// discovery and invocation over any transport channel, plus the
// client-side half of bidirectional traffic (roots serving, progress and
// log callbacks).
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/modelctx/mcpserve/pkg/logging"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/transport"
)

// ProgressFunc receives progress notifications for one request.
type ProgressFunc func(params protocol.ProgressParams)

// LogFunc receives notifications/message from the server.
type LogFunc func(params protocol.LogMessageParams)

// Client drives one protocol session from the client side.
type Client struct {
	channel transport.Channel
	logger  logging.Logger
	info    protocol.Implementation

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Response

	progressMu sync.Mutex
	progress   map[string]ProgressFunc

	onLog LogFunc

	rootsMu sync.RWMutex
	roots   []protocol.Root

	serverMu   sync.RWMutex
	serverInit *protocol.InitializeResult

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientInfo sets the implementation info sent in the handshake.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.info = protocol.Implementation{Name: name, Version: version}
	}
}

// WithLogHandler sets the callback for notifications/message.
func WithLogHandler(fn LogFunc) Option {
	return func(c *Client) {
		c.onLog = fn
	}
}

// WithRoots sets the roots declared during the handshake and served to
// roots/list requests.
func WithRoots(roots []protocol.Root) Option {
	return func(c *Client) {
		c.roots = roots
	}
}

// New creates a client over the given channel and starts its read loop.
// Call Initialize before anything else.
func New(ch transport.Channel, opts ...Option) *Client {
	c := &Client{
		channel:  ch,
		logger:   logging.New(nil, nil).WithFields(logging.String("component", "client")),
		info:     protocol.Implementation{Name: "mcpserve-client"},
		pending:  make(map[string]chan *protocol.Response),
		progress: make(map[string]ProgressFunc),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()

	return c
}

// Close tears down the channel and fails all outstanding requests.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.channel.Close()
	})
	return nil
}

// readLoop pumps inbound frames: responses are correlated to waiting
// calls, server requests are answered inline, notifications fan out to
// callbacks.
func (c *Client) readLoop() {
	for frame := range c.channel.Receive() {
		msg, err := protocol.DecodeMessage(frame)
		if err != nil {
			c.logger.Warn("malformed frame from server", logging.ErrorField(err))
			continue
		}

		switch msg.Kind {
		case protocol.KindResponse:
			c.resolve(msg.Response)
		case protocol.KindRequest:
			c.handleServerRequest(msg.Request)
		case protocol.KindNotification:
			c.handleNotification(msg.Notification)
		}
	}

	// Disconnect: unblock every waiter.
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) resolve(resp *protocol.Response) {
	key := fmt.Sprintf("%v", resp.ID)

	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown request", logging.String("id", key))
		return
	}
	ch <- resp
}

// handleServerRequest serves the small method surface a server may
// invoke on a client.
func (c *Client) handleServerRequest(req *protocol.Request) {
	switch req.Method {
	case protocol.MethodListRoots:
		c.rootsMu.RLock()
		roots := make([]protocol.Root, len(c.roots))
		copy(roots, c.roots)
		c.rootsMu.RUnlock()

		resp, err := protocol.NewResponse(req.ID, protocol.ListRootsResult{Roots: roots})
		if err != nil {
			c.logger.Error("failed to build roots response", logging.ErrorField(err))
			return
		}
		c.send(protocol.ResponseMessage(resp))

	case protocol.MethodPing:
		resp, _ := protocol.NewResponse(req.ID, struct{}{})
		c.send(protocol.ResponseMessage(resp))

	default:
		c.send(protocol.ResponseMessage(protocol.NewErrorResponse(
			req.ID, protocol.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)))
	}
}

func (c *Client) handleNotification(notif *protocol.Notification) {
	switch notif.Method {
	case protocol.MethodProgress:
		var params protocol.ProgressParams
		if err := protocol.ParseParams(notif.Params, &params); err != nil {
			c.logger.Warn("malformed progress notification", logging.ErrorField(err))
			return
		}
		key := fmt.Sprintf("%v", params.ProgressToken)

		c.progressMu.Lock()
		fn := c.progress[key]
		c.progressMu.Unlock()

		if fn != nil {
			fn(params)
		}

	case protocol.MethodLogMessage:
		if c.onLog == nil {
			return
		}
		var params protocol.LogMessageParams
		if err := protocol.ParseParams(notif.Params, &params); err != nil {
			c.logger.Warn("malformed log notification", logging.ErrorField(err))
			return
		}
		c.onLog(params)

	default:
		c.logger.Debug("ignoring notification", logging.String("method", notif.Method))
	}
}

func (c *Client) send(msg *protocol.Message) {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		c.logger.Error("failed to encode frame", logging.ErrorField(err))
		return
	}
	if err := c.channel.Send(data); err != nil {
		c.logger.Error("failed to send frame", logging.ErrorField(err))
	}
}

// call issues one request and decodes the result into out (when
// non-nil). Protocol errors come back as *protocol.Error.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	id := fmt.Sprintf("c-%d", c.nextID.Add(1))

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return err
	}

	ch := make(chan *protocol.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	cleanup := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	data, err := protocol.EncodeMessage(protocol.RequestMessage(req))
	if err != nil {
		cleanup()
		return err
	}
	if err := c.channel.Send(data); err != nil {
		cleanup()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return transport.ErrChannelClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil {
			if err := protocol.ParseParams(resp.Result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil

	case <-ctx.Done():
		cleanup()
		// Tell the server to stop working on it.
		c.notify(protocol.MethodCancelled, protocol.CancelledParams{
			RequestID: id,
			Reason:    ctx.Err().Error(),
		})
		return ctx.Err()

	case <-c.done:
		cleanup()
		return transport.ErrChannelClosed
	}
}

func (c *Client) notify(method string, params interface{}) {
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		c.logger.Error("failed to build notification", logging.ErrorField(err))
		return
	}
	c.send(protocol.NotificationMessage(notif))
}

// Initialize performs the handshake and confirms it. The returned
// result stays accessible via ServerInfo.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	c.rootsMu.RLock()
	hasRoots := len(c.roots) > 0
	c.rootsMu.RUnlock()

	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      c.info,
	}
	if hasRoots {
		params.Capabilities.Roots = &protocol.RootsCapability{ListChanged: true}
	}

	var result protocol.InitializeResult
	if err := c.call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, err
	}

	c.serverMu.Lock()
	c.serverInit = &result
	c.serverMu.Unlock()

	c.notify(protocol.MethodInitialized, nil)

	return &result, nil
}

// ServerInfo returns the handshake result, or nil before Initialize.
func (c *Client) ServerInfo() *protocol.InitializeResult {
	c.serverMu.RLock()
	defer c.serverMu.RUnlock()
	return c.serverInit
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, protocol.MethodPing, nil, nil)
}

// ListTools fetches the tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var result protocol.ListToolsResult
	if err := c.call(ctx, protocol.MethodListTools, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallOption configures one tool call.
type CallOption func(*callOptions)

type callOptions struct {
	progressToken interface{}
	onProgress    ProgressFunc
}

// WithProgress registers a callback for this call's progress stream.
func WithProgress(fn ProgressFunc) CallOption {
	return func(o *callOptions) {
		o.onProgress = fn
	}
}

// WithProgressToken sets an explicit progress token for the call.
func WithProgressToken(token interface{}) CallOption {
	return func(o *callOptions) {
		o.progressToken = token
	}
}

// CallTool invokes one tool.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}, opts ...CallOption) (*protocol.CallToolResult, error) {
	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}

	params := protocol.CallToolParams{Name: name, Arguments: args}

	if options.onProgress != nil {
		token := options.progressToken
		if token == nil {
			// An explicit token keeps the callback keyed independently of
			// request id assignment, which concurrent calls race for.
			token = uuid.New().String()
		}
		params.Meta = &protocol.RequestMeta{ProgressToken: token}

		key := fmt.Sprintf("%v", token)
		c.progressMu.Lock()
		c.progress[key] = options.onProgress
		c.progressMu.Unlock()
		defer func() {
			c.progressMu.Lock()
			delete(c.progress, key)
			c.progressMu.Unlock()
		}()
	}

	var result protocol.CallToolResult
	if err := c.call(ctx, protocol.MethodCallTool, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources fetches the direct resource catalog.
func (c *Client) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var result protocol.ListResourcesResult
	if err := c.call(ctx, protocol.MethodListResources, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ListResourceTemplates fetches the templated resource catalog.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	var result protocol.ListResourceTemplatesResult
	if err := c.call(ctx, protocol.MethodListResourceTemplates, nil, &result); err != nil {
		return nil, err
	}
	return result.ResourceTemplates, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	var result protocol.ReadResourceResult
	if err := c.call(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// ListPrompts fetches the prompt catalog.
func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	var result protocol.ListPromptsResult
	if err := c.call(ctx, protocol.MethodListPrompts, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt renders one prompt.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	var result protocol.GetPromptResult
	if err := c.call(ctx, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Complete fetches suggestions for one capability parameter.
func (c *Client) Complete(ctx context.Context, ref protocol.CompleteRef, arg protocol.CompleteArgument) (*protocol.Completion, error) {
	var result protocol.CompleteResult
	if err := c.call(ctx, protocol.MethodComplete, protocol.CompleteParams{Ref: ref, Argument: arg}, &result); err != nil {
		return nil, err
	}
	return &result.Completion, nil
}

// SetLogLevel sets the server's notification threshold.
func (c *Client) SetLogLevel(ctx context.Context, level protocol.LogLevel) error {
	return c.call(ctx, protocol.MethodSetLogLevel, protocol.SetLogLevelParams{Level: level}, nil)
}

// ListRoots fetches the root set the server currently holds for this
// session.
func (c *Client) ListRoots(ctx context.Context) ([]protocol.Root, error) {
	var result protocol.ListRootsResult
	if err := c.call(ctx, protocol.MethodListRoots, nil, &result); err != nil {
		return nil, err
	}
	return result.Roots, nil
}

// DeclareRoots replaces the declared root set and notifies the server
// with the new list inline.
func (c *Client) DeclareRoots(roots []protocol.Root) {
	copied := make([]protocol.Root, len(roots))
	copy(copied, roots)

	c.rootsMu.Lock()
	c.roots = copied
	c.rootsMu.Unlock()

	c.notify(protocol.MethodRootsListChanged, protocol.RootsListChangedParams{Roots: copied})
}
