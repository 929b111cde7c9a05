package mcperrors

import (
	"fmt"

	"github.com/modelctx/mcpserve/pkg/protocol"
)

// Error codes. The JSON-RPC range is shared with pkg/protocol.
const (
	CodeParseError     = int(protocol.ParseError)
	CodeInvalidRequest = int(protocol.InvalidRequest)
	CodeMethodNotFound = int(protocol.MethodNotFound)
	CodeInvalidParams  = int(protocol.InvalidParams)
	CodeInternalError  = int(protocol.InternalError)

	CodeResourceNotFound = int(protocol.ResourceNotFound)
	CodeCancelled        = int(protocol.RequestCancelled)

	CodeTransportError = -32500
)

// UnknownMethod reports a request for a method the session does not route.
func UnknownMethod(method string) MCPError {
	return Newf(CodeMethodNotFound, CategoryProtocol, "method not found: %s", method)
}

// OutOfOrder reports a non-handshake message received before initialize.
func OutOfOrder(method string) MCPError {
	return Newf(CodeInvalidRequest, CategoryProtocol, "received %s before initialization completed", method)
}

// MalformedFrame reports a frame the codec could not decode.
func MalformedFrame(reason string) MCPError {
	return Newf(CodeParseError, CategoryProtocol, "parse error: %s", reason)
}

// MissingParameter reports a required parameter absent from the request.
func MissingParameter(name string) MCPError {
	return Newf(CodeInvalidParams, CategoryValidation, "missing required parameter: %s", name)
}

// InvalidParameter reports a parameter that could not be bound.
func InvalidParameter(name string, reason string) MCPError {
	return Newf(CodeInvalidParams, CategoryValidation, "invalid parameter %s: %s", name, reason)
}

// ToolNotFound reports an unknown tool name. Answered with
// InvalidParams; there is no dedicated code for it.
func ToolNotFound(name string) MCPError {
	return Newf(CodeInvalidParams, CategoryNotFound, "tool not found: %s", name)
}

// PromptNotFound reports an unknown prompt name.
func PromptNotFound(name string) MCPError {
	return Newf(CodeInvalidParams, CategoryNotFound, "prompt not found: %s", name)
}

// ResourceNotFound reports a URI matching neither a direct entry nor any
// registered template.
func ResourceNotFound(uri string) MCPError {
	return Newf(CodeResourceNotFound, CategoryNotFound, "resource not found: %s", uri)
}

// ResourceError wraps a handler failure while reading a resource.
func ResourceError(uri string, err error) MCPError {
	return Wrap(err, CodeInternalError, fmt.Sprintf("failed to read resource %s: %v", uri, err), CategoryHandler)
}

// HandlerError wraps a prompt or completion handler failure.
func HandlerError(name string, err error) MCPError {
	return Wrap(err, CodeInternalError, fmt.Sprintf("handler %s failed: %v", name, err), CategoryHandler)
}

// Cancelled reports an invocation that honored a cancellation notification.
func Cancelled(requestID interface{}) MCPError {
	return Newf(CodeCancelled, CategoryCancelled, "request %v cancelled", requestID)
}

// TransportError wraps a send or connection failure.
func TransportError(op string, err error) MCPError {
	return Wrap(err, CodeTransportError, fmt.Sprintf("transport %s failed: %v", op, err), CategoryTransport)
}

// ToProtocolError converts any error into a protocol.Error suitable for
// an error response. Internal details of non-coded errors are passed
// through as the message only; no stack or server state is attached.
func ToProtocolError(err error) *protocol.Error {
	if mcpErr, ok := AsMCPError(err); ok {
		return &protocol.Error{
			Code:    protocol.ErrorCode(mcpErr.Code()),
			Message: mcpErr.Message(),
		}
	}
	if protoErr, ok := err.(*protocol.Error); ok {
		return protoErr
	}
	return &protocol.Error{
		Code:    protocol.InternalError,
		Message: err.Error(),
	}
}
