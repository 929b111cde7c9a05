package server

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelctx/mcpserve/pkg/mcperrors"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/registry"
)

func TestBindToolArgs(t *testing.T) {
	tool := &registry.Tool{
		Name: "convert",
		Params: []registry.ParamSpec{
			{Name: "value", Type: "number", Required: true},
			{Name: "unit", Type: "string", Default: "celsius"},
			{Name: "round", Type: "boolean"},
		},
	}

	bound, err := bindToolArgs(tool, map[string]interface{}{"value": 21.5, "round": true})
	require.NoError(t, err)
	assert.Equal(t, 21.5, bound["value"])
	assert.Equal(t, "celsius", bound["unit"])
	assert.Equal(t, true, bound["round"])
}

func TestBindToolArgsMissingRequired(t *testing.T) {
	tool := &registry.Tool{
		Name:   "convert",
		Params: []registry.ParamSpec{{Name: "value", Type: "number", Required: true}},
	}

	_, err := bindToolArgs(tool, map[string]interface{}{})
	require.Error(t, err)

	mcpErr, ok := mcperrors.AsMCPError(err)
	require.True(t, ok)
	assert.Equal(t, mcperrors.CodeInvalidParams, mcpErr.Code())
}

func TestBindToolArgsTypeMismatch(t *testing.T) {
	tool := &registry.Tool{
		Name:   "convert",
		Params: []registry.ParamSpec{{Name: "value", Type: "number", Required: true}},
	}

	_, err := bindToolArgs(tool, map[string]interface{}{"value": "hot"})
	require.Error(t, err)
}

func TestBindToolArgsIntegerRejectsFraction(t *testing.T) {
	tool := &registry.Tool{
		Name:   "paginate",
		Params: []registry.ParamSpec{{Name: "page", Type: "integer", Required: true}},
	}

	_, err := bindToolArgs(tool, map[string]interface{}{"page": 2.5})
	require.Error(t, err)

	bound, err := bindToolArgs(tool, map[string]interface{}{"page": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, bound["page"])
}

func TestBindToolArgsExtrasIgnored(t *testing.T) {
	tool := &registry.Tool{
		Name:   "echo",
		Params: []registry.ParamSpec{{Name: "text", Type: "string"}},
	}

	bound, err := bindToolArgs(tool, map[string]interface{}{"text": "hi", "debug": true})
	require.NoError(t, err)
	assert.Equal(t, "hi", bound["text"])
	_, present := bound["debug"]
	assert.False(t, present)
}

func TestNormalizeContentString(t *testing.T) {
	blocks, err := normalizeContent("hello")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "hello", blocks[0].Text)
}

func TestNormalizeContentNumber(t *testing.T) {
	blocks, err := normalizeContent(float64(30))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "30", blocks[0].Text)
}

func TestNormalizeContentNil(t *testing.T) {
	blocks, err := normalizeContent(nil)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestNormalizeContentPNG(t *testing.T) {
	// Minimal PNG signature; enough for content sniffing.
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)

	blocks, err := normalizeContent(png)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "image", blocks[0].Type)
	assert.Equal(t, "image/png", blocks[0].MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), blocks[0].Data)
}

func TestNormalizeContentUTF8Bytes(t *testing.T) {
	blocks, err := normalizeContent([]byte("plain bytes"))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "plain bytes", blocks[0].Text)
}

func TestNormalizeContentReader(t *testing.T) {
	blocks, err := normalizeContent(bytes.NewReader([]byte("streamed")))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "streamed", blocks[0].Text)
}

func TestNormalizeContentEmptyReader(t *testing.T) {
	blocks, err := normalizeContent(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestNormalizeContentBlockPassthrough(t *testing.T) {
	in := protocol.ImageContent("abc", "image/jpeg")

	blocks, err := normalizeContent(in)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, in, blocks[0])

	multi, err := normalizeContent([]protocol.ContentBlock{in, protocol.TextContent("x")})
	require.NoError(t, err)
	assert.Len(t, multi, 2)
}

func TestNormalizeResourceContentsText(t *testing.T) {
	contents, err := normalizeResourceContents("config://app", "", "hello")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "config://app", contents[0].URI)
	assert.Equal(t, "text/plain", contents[0].MimeType)
	assert.Equal(t, "hello", contents[0].Text)
	assert.Empty(t, contents[0].Blob)
}

func TestNormalizeResourceContentsDeclaredMimeWins(t *testing.T) {
	contents, err := normalizeResourceContents("config://app", "application/json", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contents[0].MimeType)
}

func TestNormalizeResourceContentsBlob(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x02, 0xff}

	contents, err := normalizeResourceContents("file://bin", "", raw)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Empty(t, contents[0].Text)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), contents[0].Blob)
	assert.NotEmpty(t, contents[0].MimeType)
}

func TestNormalizeResourceContentsFillsURI(t *testing.T) {
	contents, err := normalizeResourceContents("doc://x", "", protocol.ResourceContents{Text: "body"})
	require.NoError(t, err)
	assert.Equal(t, "doc://x", contents[0].URI)
}

func TestNormalizePromptResultString(t *testing.T) {
	result, err := normalizePromptResult("say hi")
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "user", result.Messages[0].Role)
	assert.Equal(t, "say hi", result.Messages[0].Content.Text)
}

func TestNormalizePromptResultMessages(t *testing.T) {
	msgs := []protocol.PromptMessage{
		{Role: "user", Content: protocol.TextContent("question")},
		{Role: "assistant", Content: protocol.TextContent("answer")},
	}

	result, err := normalizePromptResult(msgs)
	require.NoError(t, err)
	assert.Equal(t, msgs, result.Messages)
}
