package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/modelctx/mcpserve/pkg/mcperrors"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/registry"
)

// maxCompletionValues caps a completion/complete response.
const maxCompletionValues = 100

func (s *Session) handleCallTool(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var params protocol.CallToolParams
	if err := protocol.ParseParams(req.Params, &params); err != nil {
		return nil, mcperrors.InvalidParameter("params", err.Error())
	}
	if params.Name == "" {
		return nil, mcperrors.MissingParameter("name")
	}

	tool, ok := s.server.registry.Tool(params.Name)
	if !ok {
		return nil, mcperrors.ToolNotFound(params.Name)
	}

	bound, err := bindToolArgs(tool, params.Arguments)
	if err != nil {
		return nil, err
	}

	ctx = s.withClientContext(ctx, req.ID, params.Meta)

	start := time.Now()
	result, err := tool.Handler(ctx, bound)

	if ctx.Err() != nil {
		s.server.metrics.RecordToolCall(tool.Name, "cancelled", time.Since(start))
		return nil, ctx.Err()
	}

	// Handler failures travel in-band: the call itself succeeded at the
	// protocol level, so the client sees isError, not a JSON-RPC error.
	if err != nil {
		s.server.metrics.RecordToolCall(tool.Name, "error", time.Since(start))
		return protocol.NewResponse(req.ID, protocol.CallToolResult{
			Content: []protocol.ContentBlock{protocol.TextContent(err.Error())},
			IsError: true,
		})
	}

	if callResult, ok := result.(*protocol.CallToolResult); ok {
		s.server.metrics.RecordToolCall(tool.Name, "success", time.Since(start))
		return protocol.NewResponse(req.ID, callResult)
	}

	blocks, err := normalizeContent(result)
	if err != nil {
		s.server.metrics.RecordToolCall(tool.Name, "error", time.Since(start))
		return nil, mcperrors.HandlerError(tool.Name, err)
	}

	s.server.metrics.RecordToolCall(tool.Name, "success", time.Since(start))
	return protocol.NewResponse(req.ID, protocol.CallToolResult{Content: blocks})
}

func (s *Session) handleReadResource(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var params protocol.ReadResourceParams
	if err := protocol.ParseParams(req.Params, &params); err != nil {
		return nil, mcperrors.InvalidParameter("params", err.Error())
	}
	if params.URI == "" {
		return nil, mcperrors.MissingParameter("uri")
	}

	match, ok := s.server.registry.ResolveResource(params.URI)
	if !ok {
		s.server.metrics.RecordResourceRead("not_found")
		return nil, mcperrors.ResourceNotFound(params.URI)
	}

	ctx = s.withClientContext(ctx, req.ID, params.Meta)

	result, err := match.Handler()(ctx, match.Params)
	if ctx.Err() != nil {
		s.server.metrics.RecordResourceRead("cancelled")
		return nil, ctx.Err()
	}
	if err != nil {
		s.server.metrics.RecordResourceRead("error")
		return nil, mcperrors.ResourceError(params.URI, err)
	}

	contents, err := normalizeResourceContents(params.URI, match.MimeType(), result)
	if err != nil {
		s.server.metrics.RecordResourceRead("error")
		return nil, mcperrors.ResourceError(params.URI, err)
	}

	s.server.metrics.RecordResourceRead("success")
	return protocol.NewResponse(req.ID, protocol.ReadResourceResult{Contents: contents})
}

func (s *Session) handleGetPrompt(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var params protocol.GetPromptParams
	if err := protocol.ParseParams(req.Params, &params); err != nil {
		return nil, mcperrors.InvalidParameter("params", err.Error())
	}
	if params.Name == "" {
		return nil, mcperrors.MissingParameter("name")
	}

	prompt, ok := s.server.registry.Prompt(params.Name)
	if !ok {
		return nil, mcperrors.PromptNotFound(params.Name)
	}

	args, err := bindPromptArgs(prompt, params.Arguments)
	if err != nil {
		return nil, err
	}

	ctx = s.withClientContext(ctx, req.ID, params.Meta)

	result, err := prompt.Handler(ctx, args)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, mcperrors.HandlerError(prompt.Name, err)
	}

	promptResult, err := normalizePromptResult(result)
	if err != nil {
		return nil, mcperrors.HandlerError(prompt.Name, err)
	}
	if promptResult.Description == "" {
		promptResult.Description = prompt.Description
	}

	return protocol.NewResponse(req.ID, promptResult)
}

func (s *Session) handleComplete(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var params protocol.CompleteParams
	if err := protocol.ParseParams(req.Params, &params); err != nil {
		return nil, mcperrors.InvalidParameter("params", err.Error())
	}

	fn, ok := s.server.registry.CompleteFor(params.Ref, params.Argument.Name)
	if !ok {
		return nil, mcperrors.InvalidParameter("ref",
			fmt.Sprintf("unknown completion target %s %s%s", params.Ref.Type, params.Ref.Name, params.Ref.URI))
	}

	// A registered capability with no provider for this parameter is
	// answered with an empty list, never an error.
	values := []string{}
	if fn != nil {
		suggested, err := fn(ctx, params.Argument.Value)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, mcperrors.HandlerError("completion", err)
		}
		if suggested != nil {
			values = suggested
		}
	}

	total := len(values)
	hasMore := false
	if len(values) > maxCompletionValues {
		values = values[:maxCompletionValues]
		hasMore = true
	}

	return protocol.NewResponse(req.ID, protocol.CompleteResult{
		Completion: protocol.Completion{
			Values:  values,
			Total:   total,
			HasMore: hasMore,
		},
	})
}

// bindToolArgs validates and coerces the caller's arguments against the
// tool's parameter specs. Extra arguments are ignored; missing required
// ones are an invalid-params error before the handler runs.
func bindToolArgs(tool *registry.Tool, args map[string]interface{}) (map[string]interface{}, error) {
	bound := make(map[string]interface{}, len(tool.Params))

	for _, spec := range tool.Params {
		value, present := args[spec.Name]
		if !present {
			if spec.Required {
				return nil, mcperrors.MissingParameter(spec.Name)
			}
			if spec.Default != nil {
				bound[spec.Name] = spec.Default
			}
			continue
		}

		coerced, err := coerceValue(spec, value)
		if err != nil {
			return nil, err
		}
		bound[spec.Name] = coerced
	}

	return bound, nil
}

// coerceValue checks one argument against its declared JSON Schema type.
// JSON numbers arrive as float64; integers are accepted when integral.
func coerceValue(spec registry.ParamSpec, value interface{}) (interface{}, error) {
	switch spec.Type {
	case "", "string":
		if spec.Type == "" {
			return value, nil
		}
		str, ok := value.(string)
		if !ok {
			return nil, mcperrors.InvalidParameter(spec.Name, fmt.Sprintf("expected string, got %T", value))
		}
		return str, nil

	case "number":
		num, ok := value.(float64)
		if !ok {
			return nil, mcperrors.InvalidParameter(spec.Name, fmt.Sprintf("expected number, got %T", value))
		}
		return num, nil

	case "integer":
		num, ok := value.(float64)
		if !ok || num != float64(int64(num)) {
			return nil, mcperrors.InvalidParameter(spec.Name, fmt.Sprintf("expected integer, got %v", value))
		}
		return num, nil

	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, mcperrors.InvalidParameter(spec.Name, fmt.Sprintf("expected boolean, got %T", value))
		}
		return b, nil

	default:
		return value, nil
	}
}

// bindPromptArgs enforces required prompt arguments and applies string
// defaults.
func bindPromptArgs(prompt *registry.Prompt, args map[string]string) (map[string]string, error) {
	bound := make(map[string]string, len(prompt.Params))

	for _, spec := range prompt.Params {
		value, present := args[spec.Name]
		if !present {
			if spec.Required {
				return nil, mcperrors.MissingParameter(spec.Name)
			}
			if spec.Default != nil {
				bound[spec.Name] = fmt.Sprintf("%v", spec.Default)
			}
			continue
		}
		bound[spec.Name] = value
	}

	return bound, nil
}

// normalizeContent converts a handler's return value into content
// blocks. Strings become text, binary data becomes a sniffed image
// block or UTF-8 text, readers are drained, and anything else is
// rendered with fmt. A nil result is an empty block list, not an error.
func normalizeContent(result interface{}) ([]protocol.ContentBlock, error) {
	switch v := result.(type) {
	case nil:
		return []protocol.ContentBlock{}, nil

	case string:
		return []protocol.ContentBlock{protocol.TextContent(v)}, nil

	case []byte:
		if len(v) == 0 {
			return []protocol.ContentBlock{}, nil
		}
		return []protocol.ContentBlock{binaryBlock(v)}, nil

	case protocol.ContentBlock:
		return []protocol.ContentBlock{v}, nil

	case []protocol.ContentBlock:
		return v, nil

	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("failed to read streamed result: %w", err)
		}
		return normalizeContent(data)

	default:
		return []protocol.ContentBlock{protocol.TextContent(fmt.Sprintf("%v", v))}, nil
	}
}

// binaryBlock sniffs the MIME type of raw bytes: recognizable images
// become image blocks, valid UTF-8 becomes text, anything else is
// base64 with the sniffed type.
func binaryBlock(data []byte) protocol.ContentBlock {
	mimeType := http.DetectContentType(data)
	if strings.HasPrefix(mimeType, "image/") {
		return protocol.ImageContent(base64.StdEncoding.EncodeToString(data), mimeType)
	}
	if utf8.Valid(data) {
		return protocol.TextContent(string(data))
	}
	return protocol.ImageContent(base64.StdEncoding.EncodeToString(data), mimeType)
}

// normalizeResourceContents converts a resource handler's return value
// into read contents for the requested URI. declaredMime, when set on
// the registration, wins over sniffing.
func normalizeResourceContents(uri, declaredMime string, result interface{}) ([]protocol.ResourceContents, error) {
	switch v := result.(type) {
	case nil:
		return []protocol.ResourceContents{}, nil

	case string:
		mimeType := declaredMime
		if mimeType == "" {
			mimeType = "text/plain"
		}
		return []protocol.ResourceContents{{URI: uri, MimeType: mimeType, Text: v}}, nil

	case []byte:
		// An exhausted stream is an empty sequence, not an empty blob.
		if len(v) == 0 {
			return []protocol.ResourceContents{}, nil
		}
		mimeType := declaredMime
		if mimeType == "" {
			mimeType = http.DetectContentType(v)
		}
		return []protocol.ResourceContents{{
			URI:      uri,
			MimeType: mimeType,
			Blob:     base64.StdEncoding.EncodeToString(v),
		}}, nil

	case protocol.ResourceContents:
		if v.URI == "" {
			v.URI = uri
		}
		return []protocol.ResourceContents{v}, nil

	case []protocol.ResourceContents:
		for i := range v {
			if v[i].URI == "" {
				v[i].URI = uri
			}
		}
		return v, nil

	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("failed to read streamed resource: %w", err)
		}
		return normalizeResourceContents(uri, declaredMime, data)

	default:
		return normalizeResourceContents(uri, declaredMime, fmt.Sprintf("%v", v))
	}
}

// normalizePromptResult converts a prompt handler's return value into a
// rendered prompt. Bare strings and blocks become single user messages.
func normalizePromptResult(result interface{}) (*protocol.GetPromptResult, error) {
	switch v := result.(type) {
	case *protocol.GetPromptResult:
		return v, nil

	case protocol.GetPromptResult:
		return &v, nil

	case protocol.PromptMessage:
		return &protocol.GetPromptResult{Messages: []protocol.PromptMessage{v}}, nil

	case []protocol.PromptMessage:
		return &protocol.GetPromptResult{Messages: v}, nil

	case protocol.ContentBlock:
		return &protocol.GetPromptResult{
			Messages: []protocol.PromptMessage{{Role: "user", Content: v}},
		}, nil

	case string:
		return &protocol.GetPromptResult{
			Messages: []protocol.PromptMessage{{Role: "user", Content: protocol.TextContent(v)}},
		}, nil

	default:
		return &protocol.GetPromptResult{
			Messages: []protocol.PromptMessage{{Role: "user", Content: protocol.TextContent(fmt.Sprintf("%v", v))}},
		}, nil
	}
}
