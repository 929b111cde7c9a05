package transport

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrame(t *testing.T, ch Channel) []byte {
	t.Helper()
	select {
	case frame, ok := <-ch.Receive():
		require.True(t, ok, "receive channel closed")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestStdioChannelReceive(t *testing.T) {
	input := strings.NewReader("{\"a\":1}\n{\"b\":2}\n")
	ch := NewStdioChannel(input, io.Discard)
	defer ch.Close()

	assert.Equal(t, `{"a":1}`, string(readFrame(t, ch)))
	assert.Equal(t, `{"b":2}`, string(readFrame(t, ch)))

	// EOF closes the receive stream.
	select {
	case _, ok := <-ch.Receive():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("receive channel never closed")
	}
}

func TestStdioChannelSkipsBlankLines(t *testing.T) {
	input := strings.NewReader("\n\n{\"a\":1}\n\n")
	ch := NewStdioChannel(input, io.Discard)
	defer ch.Close()

	assert.Equal(t, `{"a":1}`, string(readFrame(t, ch)))
}

func TestStdioChannelSend(t *testing.T) {
	var out bytes.Buffer
	ch := NewStdioChannel(strings.NewReader(""), &out)
	defer ch.Close()

	require.NoError(t, ch.Send([]byte(`{"jsonrpc":"2.0"}`)))
	require.NoError(t, ch.Send([]byte(`{"second":true}`)))

	assert.Equal(t, "{\"jsonrpc\":\"2.0\"}\n{\"second\":true}\n", out.String())
}

func TestStdioChannelSendAfterClose(t *testing.T) {
	ch := NewStdioChannel(strings.NewReader(""), io.Discard)
	require.NoError(t, ch.Close())

	err := ch.Send([]byte("late"))
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestStdioChannelCloseIdempotent(t *testing.T) {
	ch := NewStdioChannel(strings.NewReader(""), io.Discard)
	assert.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())
}
