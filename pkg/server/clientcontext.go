package server

import (
	"context"

	"github.com/modelctx/mcpserve/pkg/protocol"
)

// ClientContext is the handler's window back to the calling client:
// progress updates, protocol-level log messages and the declared roots.
// Handlers obtain it with ClientFromContext.
type ClientContext struct {
	session       *Session
	progressToken interface{}
}

type clientContextKey struct{}

// withClientContext attaches a ClientContext to a handler's ctx. The
// progress token defaults to the request id when the client did not
// supply one, so progress is always correlatable.
func (s *Session) withClientContext(ctx context.Context, requestID interface{}, meta *protocol.RequestMeta) context.Context {
	token := requestID
	if meta != nil && meta.ProgressToken != nil {
		token = meta.ProgressToken
	}
	return context.WithValue(ctx, clientContextKey{}, &ClientContext{
		session:       s,
		progressToken: token,
	})
}

// ClientFromContext returns the invocation's ClientContext. The second
// return is false outside a handler invocation.
func ClientFromContext(ctx context.Context) (*ClientContext, bool) {
	cc, ok := ctx.Value(clientContextKey{}).(*ClientContext)
	return cc, ok
}

// Progress sends a notifications/progress for this invocation. total
// may be nil when the amount of work is unknown.
func (c *ClientContext) Progress(ctx context.Context, progress float64, total *float64, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.session.notifyProgress(protocol.ProgressParams{
		ProgressToken: c.progressToken,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// Log sends a notifications/message, subject to the session's threshold
// set via logging/setLevel.
func (c *ClientContext) Log(ctx context.Context, level protocol.LogLevel, logger string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.session.notifyLog(protocol.LogMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

// Roots returns the roots the client has declared for this session.
func (c *ClientContext) Roots() []protocol.Root {
	return c.session.Roots()
}
