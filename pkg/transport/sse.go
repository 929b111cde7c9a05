package transport

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/modelctx/mcpserve/pkg/logging"
)

const (
	// EventEndpoint is the first event on a subscribe stream; its data is
	// the publish URL paired to this connection.
	EventEndpoint = "endpoint"
	// EventMessage carries one protocol frame.
	EventMessage = "message"
	// EventPing keeps an idle stream alive.
	EventPing = "ping"

	defaultPingInterval = 15 * time.Second
)

// SSEHandler pairs a long-lived subscribe stream (server to client) with
// a per-message publish endpoint (client to server) under one opaque
// connection id. The id is generated at subscribe time unless the relay
// fabric already assigned one in the request path.
type SSEHandler struct {
	pubPath      string
	pingInterval time.Duration
	logger       logging.Logger
	connect      func(Channel)

	mu       sync.RWMutex
	channels map[string]*sseChannel
}

// SSEOption configures an SSEHandler.
type SSEOption func(*SSEHandler)

// WithPublishPath sets the path prefix advertised in endpoint events.
func WithPublishPath(path string) SSEOption {
	return func(h *SSEHandler) {
		h.pubPath = strings.TrimSuffix(path, "/")
	}
}

// WithPingInterval sets how often an idle stream is pinged.
func WithPingInterval(d time.Duration) SSEOption {
	return func(h *SSEHandler) {
		h.pingInterval = d
	}
}

// WithSSELogger sets the handler's logger.
func WithSSELogger(logger logging.Logger) SSEOption {
	return func(h *SSEHandler) {
		h.logger = logger
	}
}

// NewSSEHandler creates an SSE transport handler. connect is invoked
// once per new subscriber with the connection's Channel; it must not
// block (start the session on its own goroutine).
func NewSSEHandler(connect func(Channel), opts ...SSEOption) *SSEHandler {
	h := &SSEHandler{
		pubPath:      "/pub",
		pingInterval: defaultPingInterval,
		logger:       logging.New(nil, nil).WithFields(logging.String("component", "sse")),
		connect:      connect,
		channels:     make(map[string]*sseChannel),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeSubscribe handles GET on the subscribe endpoint. The connection
// id is taken from the trailing path segment when the relay supplied
// one, otherwise generated. The first event on the stream is an
// `endpoint` event carrying the paired publish URL; every protocol frame
// after that is a `message` event.
func (h *SSEHandler) ServeSubscribe(w http.ResponseWriter, r *http.Request) {
	connID := trailingSegment(r.URL.Path, "sub")
	if connID == "" {
		connID = uuid.New().String()
	}

	ch := newSSEChannel(connID)

	// Claim the id before upgrading: Upgrade commits response headers.
	h.mu.Lock()
	if _, exists := h.channels[connID]; exists {
		h.mu.Unlock()
		h.logger.Warn("duplicate connection id on subscribe", logging.String("conn_id", connID))
		http.Error(w, "connection id already in use", http.StatusConflict)
		return
	}
	h.channels[connID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.channels, connID)
		h.mu.Unlock()
		ch.Close()
	}()

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		h.logger.Error("failed to upgrade to SSE", logging.ErrorField(err))
		http.Error(w, "SSE upgrade failed", http.StatusInternalServerError)
		return
	}

	if err := sendEvent(sess, EventEndpoint, h.pubPath+"/"+connID); err != nil {
		h.logger.Error("failed to send endpoint event", logging.ErrorField(err))
		return
	}

	h.logger.Info("client subscribed", logging.String("conn_id", connID))
	h.connect(ch)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-ch.outgoing:
			err := sendEvent(sess, EventMessage, string(out.data))
			select {
			case out.errs <- err:
			default:
			}
			if err != nil {
				h.logger.Warn("failed to push frame", logging.String("conn_id", connID), logging.ErrorField(err))
				return
			}
			ticker.Reset(h.pingInterval)

		case <-ticker.C:
			if err := sendEvent(sess, EventPing, ""); err != nil {
				return
			}

		case <-ch.done:
			return

		case <-r.Context().Done():
			h.logger.Info("client disconnected", logging.String("conn_id", connID))
			return
		}
	}
}

// ServePublish handles POST on the publish endpoint: one protocol frame
// per request, routed to the subscriber paired to the connection id.
func (h *SSEHandler) ServePublish(w http.ResponseWriter, r *http.Request) {
	connID := trailingSegment(r.URL.Path, "pub")
	if connID == "" {
		http.Error(w, "missing connection id", http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	ch, ok := h.channels[connID]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown connection id", http.StatusNotFound)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read published frame", logging.String("conn_id", connID), logging.ErrorField(err))
		http.Error(w, "failed to read frame", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty frame", http.StatusBadRequest)
		return
	}

	if !ch.deliver(data) {
		http.Error(w, "connection closed", http.StatusGone)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func sendEvent(sess *sse.Session, eventType, data string) error {
	msg := &sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(data)
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

// trailingSegment extracts the path segment after the given marker, or
// the last segment when the marker is the final one ("/sub/abc" -> "abc",
// "/sub" -> "").
func trailingSegment(path, marker string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == marker && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	if len(parts) > 0 && parts[len(parts)-1] != marker {
		return parts[len(parts)-1]
	}
	return ""
}

type sseSend struct {
	data []byte
	errs chan error
}

// sseChannel is the server end of one SSE connection pair.
type sseChannel struct {
	id       string
	frames   chan []byte
	outgoing chan sseSend

	deliverMu sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func newSSEChannel(id string) *sseChannel {
	return &sseChannel{
		id:       id,
		frames:   make(chan []byte, 16),
		outgoing: make(chan sseSend),
		done:     make(chan struct{}),
	}
}

// ID returns the opaque connection id.
func (c *sseChannel) ID() string { return c.id }

func (c *sseChannel) Send(data []byte) error {
	req := sseSend{data: data, errs: make(chan error, 1)}

	select {
	case c.outgoing <- req:
	case <-c.done:
		return ErrChannelClosed
	}

	select {
	case err := <-req.errs:
		return err
	case <-c.done:
		return ErrChannelClosed
	}
}

func (c *sseChannel) Receive() <-chan []byte {
	return c.frames
}

// deliver feeds one inbound frame from the publish endpoint. Returns
// false if the channel already closed.
func (c *sseChannel) deliver(data []byte) bool {
	c.deliverMu.RLock()
	defer c.deliverMu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.frames <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *sseChannel) Close() error {
	c.closeOnce.Do(func() {
		// done first: unblocks any deliver stuck on a full buffer, so the
		// write lock below cannot deadlock against a deliverer.
		close(c.done)

		c.deliverMu.Lock()
		c.closed = true
		close(c.frames)
		c.deliverMu.Unlock()
	})
	return nil
}
