package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClassifiesRequest(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)

	assert.Equal(t, KindRequest, msg.Kind)
	require.NotNil(t, msg.Request)
	assert.Equal(t, float64(1), msg.Request.ID)
	assert.Equal(t, MethodPing, msg.Request.Method)
}

func TestDecodeClassifiesResponse(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":"a","result":{}}`))
	require.NoError(t, err)

	assert.Equal(t, KindResponse, msg.Kind)
	require.NotNil(t, msg.Response)
	assert.Equal(t, "a", msg.Response.ID)
	assert.Nil(t, msg.Response.Error)
}

func TestDecodeClassifiesErrorResponse(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"no such method"}}`))
	require.NoError(t, err)

	assert.Equal(t, KindResponse, msg.Kind)
	require.NotNil(t, msg.Response.Error)
	assert.Equal(t, MethodNotFound, msg.Response.Error.Code)
}

func TestDecodeClassifiesNotification(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)

	assert.Equal(t, KindNotification, msg.Kind)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, MethodInitialized, msg.Notification.Method)
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"jsonrpc":`))
	require.Error(t, err)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Nil(t, decodeErr.ID)
}

func TestDecodeRecoversIDFromUnclassifiableFrame(t *testing.T) {
	// Valid JSON, has an id, but neither a method nor a result.
	_, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":7}`))
	require.Error(t, err)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, float64(7), decodeErr.ID)
}

func TestDecodeEmptyFrame(t *testing.T) {
	_, err := DecodeMessage(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestEncodeRequestRoundTrip(t *testing.T) {
	req, err := NewRequest("r-1", MethodCallTool, CallToolParams{Name: "echo"})
	require.NoError(t, err)

	data, err := EncodeMessage(RequestMessage(req))
	require.NoError(t, err)

	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, KindRequest, msg.Kind)
	assert.Equal(t, "r-1", msg.Request.ID)

	var params CallToolParams
	require.NoError(t, json.Unmarshal(msg.Request.Params, &params))
	assert.Equal(t, "echo", params.Name)
}

func TestEncodeResponseOmitsNilError(t *testing.T) {
	resp, err := NewResponse(3, map[string]string{"ok": "yes"})
	require.NoError(t, err)

	data, err := EncodeMessage(ResponseMessage(resp))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)
}

func TestErrorResponseCarriesData(t *testing.T) {
	resp := NewErrorResponse(4, InvalidParams, "missing parameter", map[string]string{"param": "text"})

	data, err := EncodeMessage(ResponseMessage(resp))
	require.NoError(t, err)

	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	require.NotNil(t, msg.Response.Error)
	assert.Equal(t, InvalidParams, msg.Response.Error.Code)
	assert.Equal(t, "missing parameter", msg.Response.Error.Message)
}

func TestProtocolErrorImplementsError(t *testing.T) {
	e := &Error{Code: RequestCancelled, Message: "cancelled"}
	assert.Contains(t, e.Error(), "-32800")
}

func TestNotificationHasNoID(t *testing.T) {
	notif, err := NewNotification(MethodProgress, ProgressParams{ProgressToken: "t", Progress: 1})
	require.NoError(t, err)

	data, err := EncodeMessage(NotificationMessage(notif))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"id"`)
}

func TestLogLevelRank(t *testing.T) {
	assert.Less(t, LogDebug.Rank(), LogError.Rank())
	assert.Less(t, LogError.Rank(), LogEmergency.Rank())

	// Unknown levels rank below debug so they never pass a threshold.
	assert.Less(t, LogLevel("bogus").Rank(), LogDebug.Rank())
}
