package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelctx/mcpserve/pkg/logging"
	"github.com/modelctx/mcpserve/pkg/mcperrors"
	"github.com/modelctx/mcpserve/pkg/observability"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/transport"
)

// SessionState is the lifecycle phase of one connection.
type SessionState int32

const (
	// StateHandshaking is the phase before notifications/initialized.
	// Only initialize and ping are routed.
	StateHandshaking SessionState = iota
	// StateActive is the normal serving phase.
	StateActive
	// StateClosing means shutdown started; in-flight requests drain.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// serverRequestTimeout bounds server-to-client requests (roots/list).
const serverRequestTimeout = 30 * time.Second

// Session is the per-connection protocol state machine. All outbound
// traffic goes through send, so responses and notifications never
// interleave mid-frame regardless of how many handlers are running.
type Session struct {
	server  *Server
	channel transport.Channel
	logger  logging.Logger

	state atomic.Int32

	clientInfo protocol.Implementation
	clientCaps protocol.ClientCapabilities
	clientMu   sync.RWMutex

	// pending tracks in-flight client requests by id for cancellation.
	pendingMu sync.Mutex
	pending   map[string]context.CancelFunc

	// outbound tracks server-to-client requests awaiting a response.
	outboundMu sync.Mutex
	outbound   map[string]chan *protocol.Response
	nextID     atomic.Int64

	// roots is replaced wholesale on update; readers get a stable slice.
	// rootsGen orders async refreshes against inline updates: a fetch
	// result is discarded when a newer update landed while it was out.
	roots    atomic.Pointer[[]protocol.Root]
	rootsGen atomic.Int64

	// logThreshold gates notifications/message by severity rank.
	logThreshold atomic.Int32

	wg sync.WaitGroup
}

func newSession(server *Server, ch transport.Channel) *Session {
	s := &Session{
		server:   server,
		channel:  ch,
		logger:   server.logger.WithFields(logging.String("component", "session")),
		pending:  make(map[string]context.CancelFunc),
		outbound: make(map[string]chan *protocol.Response),
	}
	empty := make([]protocol.Root, 0)
	s.roots.Store(&empty)
	// Until the client opts in with logging/setLevel, only error and
	// above reach it.
	s.logThreshold.Store(int32(protocol.LogError.Rank()))
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Roots returns the client-declared roots. The slice is never mutated
// after being stored; callers may hold it without copying.
func (s *Session) Roots() []protocol.Root {
	return *s.roots.Load()
}

// run pumps inbound frames until disconnect or ctx cancellation, then
// drains in-flight handlers.
func (s *Session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		s.state.Store(int32(StateClosing))
		cancel()
		s.wg.Wait()
		s.state.Store(int32(StateClosed))
		s.channel.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-s.channel.Receive():
			if !ok {
				s.logger.Info("peer disconnected")
				return nil
			}
			s.server.metrics.RecordFrame("in")
			s.handleFrame(ctx, frame)
		}
	}
}

// handleFrame decodes one frame and routes it by kind. Malformed frames
// are answered with a parse error when a request id was recoverable,
// otherwise logged and dropped; they never terminate the session.
func (s *Session) handleFrame(ctx context.Context, frame []byte) {
	msg, err := protocol.DecodeMessage(frame)
	if err != nil {
		var id interface{}
		if decErr, ok := err.(*protocol.DecodeError); ok {
			id = decErr.ID
		}
		if id == nil {
			// No id means no response to correlate an error with.
			s.logger.Warn("dropping malformed frame", logging.ErrorField(err))
			return
		}
		s.logger.Warn("malformed frame", logging.ErrorField(err))
		s.sendError(id, mcperrors.MalformedFrame(err.Error()))
		return
	}

	switch msg.Kind {
	case protocol.KindRequest:
		s.handleRequest(ctx, msg.Request)
	case protocol.KindNotification:
		s.handleNotification(ctx, msg.Notification)
	case protocol.KindResponse:
		s.handleResponse(msg.Response)
	}
}

// handleRequest enforces the lifecycle gate and runs the method handler
// on its own goroutine so slow invocations never block the pump.
func (s *Session) handleRequest(ctx context.Context, req *protocol.Request) {
	state := s.State()

	// Only the handshake and liveness checks are routed before the
	// client confirms initialization. The session stays open: the
	// client can still complete the handshake after the error.
	if state == StateHandshaking && req.Method != protocol.MethodInitialize && req.Method != protocol.MethodPing {
		err := mcperrors.OutOfOrder(req.Method)
		s.logger.Warn("request before initialization",
			logging.String("method", req.Method))
		s.sendError(req.ID, err)
		return
	}
	if state == StateActive && req.Method == protocol.MethodInitialize {
		s.sendError(req.ID, mcperrors.Newf(mcperrors.CodeInvalidRequest, mcperrors.CategoryProtocol,
			"session already initialized"))
		return
	}
	if state == StateClosing || state == StateClosed {
		s.sendError(req.ID, mcperrors.Newf(mcperrors.CodeInvalidRequest, mcperrors.CategoryProtocol,
			"session is shutting down"))
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	reqCtx = logging.ContextWithRequestID(reqCtx, fmt.Sprintf("%v", req.ID))
	s.trackRequest(req.ID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrackRequest(req.ID)
		defer cancel()

		start := time.Now()
		spanCtx, span := s.server.tracer.StartMethodSpan(reqCtx, req.Method)

		resp, err := s.dispatch(spanCtx, req)

		status := "success"
		switch {
		case reqCtx.Err() != nil && s.State() != StateClosed:
			// The invocation was cancelled; answer in-band so the id is
			// released on both sides.
			status = "cancelled"
			cancelErr := mcperrors.Cancelled(req.ID)
			observability.EndSpan(span, cancelErr)
			s.sendError(req.ID, cancelErr)
		case err != nil:
			status = "error"
			// Handler failures are server-side problems worth a log line;
			// validation and lookup errors are the client's.
			if mcperrors.IsCategory(err, mcperrors.CategoryHandler) {
				s.logger.Error("handler failed",
					logging.String("method", req.Method),
					logging.ErrorField(err))
			}
			observability.EndSpan(span, err)
			s.sendError(req.ID, err)
		default:
			observability.EndSpan(span, nil)
			s.sendResponse(resp)
		}

		s.server.metrics.RecordRequest(req.Method, status, time.Since(start))
	}()
}

// dispatch routes one request to its method handler.
func (s *Session) dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(req)
	case protocol.MethodPing:
		return protocol.NewResponse(req.ID, struct{}{})
	case protocol.MethodListTools:
		return protocol.NewResponse(req.ID, protocol.ListToolsResult{Tools: s.server.registry.ListTools()})
	case protocol.MethodCallTool:
		return s.handleCallTool(ctx, req)
	case protocol.MethodListResources:
		return protocol.NewResponse(req.ID, protocol.ListResourcesResult{Resources: s.server.registry.ListResources()})
	case protocol.MethodListResourceTemplates:
		return protocol.NewResponse(req.ID, protocol.ListResourceTemplatesResult{
			ResourceTemplates: s.server.registry.ListResourceTemplates(),
		})
	case protocol.MethodReadResource:
		return s.handleReadResource(ctx, req)
	case protocol.MethodListPrompts:
		return protocol.NewResponse(req.ID, protocol.ListPromptsResult{Prompts: s.server.registry.ListPrompts()})
	case protocol.MethodGetPrompt:
		return s.handleGetPrompt(ctx, req)
	case protocol.MethodComplete:
		return s.handleComplete(ctx, req)
	case protocol.MethodSetLogLevel:
		return s.handleSetLogLevel(req)
	case protocol.MethodListRoots:
		return protocol.NewResponse(req.ID, protocol.ListRootsResult{Roots: s.Roots()})
	default:
		return nil, mcperrors.UnknownMethod(req.Method)
	}
}

// handleInitialize answers the handshake. The session moves to Active
// only when the client confirms with notifications/initialized.
func (s *Session) handleInitialize(req *protocol.Request) (*protocol.Response, error) {
	var params protocol.InitializeParams
	if err := protocol.ParseParams(req.Params, &params); err != nil {
		return nil, mcperrors.InvalidParameter("params", err.Error())
	}

	s.clientMu.Lock()
	s.clientInfo = params.ClientInfo
	s.clientCaps = params.Capabilities
	s.clientMu.Unlock()

	s.logger.Info("handshake received",
		logging.String("client", params.ClientInfo.Name),
		logging.String("client_version", params.ClientInfo.Version),
		logging.String("protocol_version", params.ProtocolVersion))

	result := protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    s.server.registry.Capabilities(),
		ServerInfo:      s.server.info,
		Instructions:    s.server.instructions,
	}
	return protocol.NewResponse(req.ID, result)
}

// handleNotification routes one notification. Unknown notifications are
// logged and dropped; notifications never produce responses.
func (s *Session) handleNotification(ctx context.Context, notif *protocol.Notification) {
	switch notif.Method {
	case protocol.MethodInitialized:
		if !s.state.CompareAndSwap(int32(StateHandshaking), int32(StateActive)) {
			s.logger.Warn("initialized notification in state " + s.State().String())
			return
		}
		s.logger.Info("session active")

		// Clients that declared the roots capability get their root set
		// fetched up front.
		s.clientMu.Lock()
		hasRoots := s.clientCaps.Roots != nil
		s.clientMu.Unlock()
		if hasRoots {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.refreshRoots(ctx)
			}()
		}

	case protocol.MethodCancelled:
		var params protocol.CancelledParams
		if err := protocol.ParseParams(notif.Params, &params); err != nil {
			s.logger.Warn("malformed cancellation", logging.ErrorField(err))
			return
		}
		s.cancelRequest(params.RequestID, params.Reason)

	case protocol.MethodRootsListChanged:
		var params protocol.RootsListChangedParams
		if err := protocol.ParseParams(notif.Params, &params); err != nil {
			s.logger.Warn("malformed roots notification", logging.ErrorField(err))
			return
		}
		if params.Roots != nil {
			s.storeRoots(params.Roots)
			return
		}
		// No inline payload; fetch the new set from the client.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.refreshRoots(ctx)
		}()

	default:
		s.logger.Debug("ignoring notification", logging.String("method", notif.Method))
	}
}

// handleResponse correlates a client response with an outstanding
// server-to-client request.
func (s *Session) handleResponse(resp *protocol.Response) {
	key := fmt.Sprintf("%v", resp.ID)

	s.outboundMu.Lock()
	ch, ok := s.outbound[key]
	if ok {
		delete(s.outbound, key)
	}
	s.outboundMu.Unlock()

	if !ok {
		s.logger.Warn("response for unknown request", logging.String("id", key))
		return
	}
	ch <- resp
}

// request issues a server-to-client request and waits for the response.
func (s *Session) request(ctx context.Context, method string, params interface{}) (*protocol.Response, error) {
	id := fmt.Sprintf("srv-%d", s.nextID.Add(1))

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.Response, 1)
	s.outboundMu.Lock()
	s.outbound[id] = ch
	s.outboundMu.Unlock()

	cleanup := func() {
		s.outboundMu.Lock()
		delete(s.outbound, id)
		s.outboundMu.Unlock()
	}

	if err := s.send(protocol.RequestMessage(req)); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(serverRequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		cleanup()
		return nil, fmt.Errorf("request %s timed out", method)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// refreshRoots re-fetches the root set after initialized or after a
// list_changed without an inline payload.
func (s *Session) refreshRoots(ctx context.Context) {
	gen := s.rootsGen.Load()

	resp, err := s.request(ctx, protocol.MethodListRoots, nil)
	if err != nil {
		s.logger.Warn("roots refresh failed", logging.ErrorField(err))
		return
	}
	if resp.Error != nil {
		s.logger.Warn("roots refresh rejected", logging.ErrorField(resp.Error))
		return
	}

	var result protocol.ListRootsResult
	if err := protocol.ParseParams(resp.Result, &result); err != nil {
		s.logger.Warn("malformed roots result", logging.ErrorField(err))
		return
	}

	if !s.rootsGen.CompareAndSwap(gen, gen+1) {
		s.logger.Debug("discarding stale roots fetch")
		return
	}
	copied := make([]protocol.Root, len(result.Roots))
	copy(copied, result.Roots)
	s.roots.Store(&copied)
	s.logger.Info("roots updated", logging.Int("count", len(copied)))
}

func (s *Session) storeRoots(roots []protocol.Root) {
	copied := make([]protocol.Root, len(roots))
	copy(copied, roots)
	s.rootsGen.Add(1)
	s.roots.Store(&copied)
	s.logger.Info("roots updated", logging.Int("count", len(copied)))
}

// cancelRequest honors a cancellation notification. Unknown ids are
// ignored: the request may have completed while the notification was in
// flight.
func (s *Session) cancelRequest(id interface{}, reason string) {
	key := fmt.Sprintf("%v", id)

	s.pendingMu.Lock()
	cancel, ok := s.pending[key]
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug("cancellation for unknown request", logging.String("id", key))
		return
	}

	s.logger.Info("cancelling request",
		logging.String("id", key),
		logging.String("reason", reason))
	cancel()
}

func (s *Session) trackRequest(id interface{}, cancel context.CancelFunc) {
	s.pendingMu.Lock()
	s.pending[fmt.Sprintf("%v", id)] = cancel
	s.pendingMu.Unlock()
}

func (s *Session) untrackRequest(id interface{}) {
	s.pendingMu.Lock()
	delete(s.pending, fmt.Sprintf("%v", id))
	s.pendingMu.Unlock()
}

// notifyProgress emits a notifications/progress tied to a request.
func (s *Session) notifyProgress(params protocol.ProgressParams) error {
	notif, err := protocol.NewNotification(protocol.MethodProgress, params)
	if err != nil {
		return err
	}
	s.server.metrics.RecordNotificationSent(protocol.MethodProgress)
	return s.send(protocol.NotificationMessage(notif))
}

// notifyLog emits a notifications/message when the level clears the
// session's threshold.
func (s *Session) notifyLog(params protocol.LogMessageParams) error {
	rank := params.Level.Rank()
	if rank < 0 || rank < int(s.logThreshold.Load()) {
		return nil
	}
	notif, err := protocol.NewNotification(protocol.MethodLogMessage, params)
	if err != nil {
		return err
	}
	s.server.metrics.RecordNotificationSent(protocol.MethodLogMessage)
	return s.send(protocol.NotificationMessage(notif))
}

func (s *Session) handleSetLogLevel(req *protocol.Request) (*protocol.Response, error) {
	var params protocol.SetLogLevelParams
	if err := protocol.ParseParams(req.Params, &params); err != nil {
		return nil, mcperrors.InvalidParameter("params", err.Error())
	}

	rank := params.Level.Rank()
	if rank < 0 {
		return nil, mcperrors.InvalidParameter("level", fmt.Sprintf("unknown level %q", params.Level))
	}
	s.logThreshold.Store(int32(rank))

	return protocol.NewResponse(req.ID, struct{}{})
}

// send serializes one outbound message onto the channel.
func (s *Session) send(msg *protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return mcperrors.TransportError("encode", err)
	}
	if err := s.channel.Send(data); err != nil {
		return mcperrors.TransportError("send", err)
	}
	s.server.metrics.RecordFrame("out")
	return nil
}

func (s *Session) sendResponse(resp *protocol.Response) {
	if err := s.send(protocol.ResponseMessage(resp)); err != nil {
		s.logger.Error("failed to send response", logging.ErrorField(err))
	}
}

func (s *Session) sendError(id interface{}, err error) {
	protoErr := mcperrors.ToProtocolError(err)
	resp := protocol.NewErrorResponse(id, protoErr.Code, protoErr.Message, protoErr.Data)
	s.sendResponse(resp)
}
