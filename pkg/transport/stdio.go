package transport

import (
	"bufio"
	"io"
	"os"
	"sync"
)

// StdioChannel implements Channel over a single duplex byte stream, one
// newline-terminated frame per message. It is strictly serialized: a
// frame is fully written before the next begins, and nothing but
// protocol frames is ever written to the stream (diagnostics go to the
// logger's side channel, never here).
type StdioChannel struct {
	reader io.Reader
	writer *bufio.Writer

	frames chan []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewStdioChannel creates a channel over the given reader and writer and
// starts its read loop. Nil arguments default to os.Stdin and os.Stdout.
func NewStdioChannel(r io.Reader, w io.Writer) *StdioChannel {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}

	c := &StdioChannel{
		reader: r,
		writer: bufio.NewWriter(w),
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// readLoop scans newline-delimited frames until EOF or Close, then
// closes the receive channel to signal disconnect.
func (c *StdioChannel) readLoop() {
	defer close(c.frames)

	scanner := bufio.NewScanner(c.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Copy: the scanner reuses its buffer on the next Scan.
		data := make([]byte, len(line))
		copy(data, line)

		select {
		case c.frames <- data:
		case <-c.done:
			return
		}
	}
}

// Send writes one frame followed by a newline and flushes.
func (c *StdioChannel) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Receive returns the inbound frame stream.
func (c *StdioChannel) Receive() <-chan []byte {
	return c.frames
}

// Close stops the channel. The underlying reader is closed when it
// supports io.Closer, which unblocks the read loop.
func (c *StdioChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if closer, ok := c.reader.(io.Closer); ok {
			_ = closer.Close()
		}
	})
	return nil
}
