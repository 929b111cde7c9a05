package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageKind classifies a decoded frame.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindResponse
	KindNotification
)

// Message is the decoded form of one wire frame. Exactly one of Request,
// Response or Notification is non-nil, matching Kind.
type Message struct {
	Kind         MessageKind
	Request      *Request
	Response     *Response
	Notification *Notification
}

// DecodeError reports a frame that could not be decoded. ID carries the
// request id when one was recoverable from the malformed frame, so the
// session can still answer with a protocol-level error response.
type DecodeError struct {
	ID     interface{}
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s", e.Reason)
}

// ErrEmptyFrame is returned for frames with no content.
var ErrEmptyFrame = errors.New("empty frame")

// EncodeMessage serializes a message into a single wire frame.
func EncodeMessage(msg *Message) ([]byte, error) {
	switch msg.Kind {
	case KindRequest:
		return json.Marshal(msg.Request)
	case KindResponse:
		return json.Marshal(msg.Response)
	case KindNotification:
		return json.Marshal(msg.Notification)
	default:
		return nil, fmt.Errorf("unknown message kind: %d", msg.Kind)
	}
}

// DecodeMessage parses one wire frame and classifies it as a request,
// response or notification. Classification follows JSON-RPC 2.0: a frame
// with an id and a method is a request, a frame with an id and a result
// or error is a response, and a frame with a method but no id is a
// notification. Anything else yields a *DecodeError carrying whatever id
// could be recovered.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("malformed frame: %v", err)}
	}

	hasID := probe.ID != nil
	hasResult := len(probe.Result) > 0 || len(probe.Error) > 0

	switch {
	case hasID && probe.Method != "":
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &DecodeError{ID: probe.ID, Reason: err.Error()}
		}
		return &Message{Kind: KindRequest, Request: &req}, nil

	case hasID && hasResult:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, &DecodeError{ID: probe.ID, Reason: err.Error()}
		}
		return &Message{Kind: KindResponse, Response: &resp}, nil

	case !hasID && probe.Method != "":
		var notif Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return nil, &DecodeError{Reason: err.Error()}
		}
		return &Message{Kind: KindNotification, Notification: &notif}, nil

	default:
		return nil, &DecodeError{ID: probe.ID, Reason: "frame is not a request, response or notification"}
	}
}

// RequestMessage wraps a request as a Message.
func RequestMessage(req *Request) *Message {
	return &Message{Kind: KindRequest, Request: req}
}

// ResponseMessage wraps a response as a Message.
func ResponseMessage(resp *Response) *Message {
	return &Message{Kind: KindResponse, Response: resp}
}

// NotificationMessage wraps a notification as a Message.
func NotificationMessage(notif *Notification) *Message {
	return &Message{Kind: KindNotification, Notification: notif}
}
