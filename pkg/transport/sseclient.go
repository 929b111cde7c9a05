package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/tmaxmax/go-sse"

	"github.com/modelctx/mcpserve/pkg/logging"
)

// SSEClientChannel is the client end of an SSE connection pair: frames
// from the server arrive on the subscribe stream, frames to the server
// go out as one POST each to the publish endpoint advertised in the
// stream's initial endpoint event.
type SSEClientChannel struct {
	httpClient *http.Client
	endpoint   string
	logger     logging.Logger

	frames chan []byte

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// DialSSE subscribes to the given URL and blocks until the server
// advertises the paired publish endpoint. The returned channel is ready
// for Send and Receive.
func DialSSE(ctx context.Context, subscribeURL string, httpClient *http.Client, logger logging.Logger) (*SSEClientChannel, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.New(nil, nil)
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	c := &SSEClientChannel{
		httpClient: httpClient,
		logger:     logger.WithFields(logging.String("component", "sse-client")),
		frames:     make(chan []byte, 16),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create subscribe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected subscribe status: %d", resp.StatusCode)
	}

	ready := make(chan error, 1)
	go c.readStream(resp, subscribeURL, ready)

	select {
	case err := <-ready:
		if err != nil {
			c.Close()
			return nil, err
		}
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}

	return c, nil
}

// readStream consumes the subscribe stream until disconnect. The first
// endpoint event resolves the publish URL and unblocks DialSSE.
func (c *SSEClientChannel) readStream(resp *http.Response, subscribeURL string, ready chan<- error) {
	defer func() {
		resp.Body.Close()
		close(c.frames)
	}()

	endpointSeen := false

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Error("subscribe stream failed", logging.ErrorField(err))
			}
			if !endpointSeen {
				ready <- fmt.Errorf("stream ended before endpoint event: %w", err)
			}
			return
		}

		switch ev.Type {
		case EventEndpoint:
			pub, err := resolveEndpoint(subscribeURL, ev.Data)
			if err != nil {
				ready <- err
				return
			}
			c.endpoint = pub
			endpointSeen = true
			ready <- nil

		case EventMessage:
			if !endpointSeen {
				c.logger.Warn("frame received before endpoint event, dropping")
				continue
			}
			select {
			case c.frames <- []byte(ev.Data):
			case <-c.done:
				return
			}

		case EventPing:
			// keep-alive, nothing to do

		default:
			c.logger.Warn("unknown event type", logging.String("type", ev.Type))
		}
	}
}

// resolveEndpoint turns the advertised publish path into an absolute URL
// relative to the subscribe URL.
func resolveEndpoint(subscribeURL, advertised string) (string, error) {
	base, err := url.Parse(subscribeURL)
	if err != nil {
		return "", fmt.Errorf("invalid subscribe URL: %w", err)
	}
	ref, err := url.Parse(advertised)
	if err != nil || advertised == "" {
		return "", fmt.Errorf("invalid endpoint event data %q", advertised)
	}
	return base.ResolveReference(ref).String(), nil
}

// Send publishes one frame as a POST to the paired endpoint.
func (c *SSEClientChannel) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected publish status: %d", resp.StatusCode)
	}
	return nil
}

// Receive returns the inbound frame stream.
func (c *SSEClientChannel) Receive() <-chan []byte {
	return c.frames
}

// Close cancels the subscribe stream.
func (c *SSEClientChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
	return nil
}
