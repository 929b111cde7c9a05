package protocol

import "encoding/json"

const (
	// ProtocolVersion is the protocol revision implemented by this module.
	ProtocolVersion = "2024-11-05"

	// Lifecycle
	MethodInitialize = "initialize"
	MethodPing       = "ping"

	// Server features
	MethodListTools             = "tools/list"
	MethodCallTool              = "tools/call"
	MethodListResources         = "resources/list"
	MethodListResourceTemplates = "resources/templates/list"
	MethodReadResource          = "resources/read"
	MethodListPrompts           = "prompts/list"
	MethodGetPrompt             = "prompts/get"
	MethodComplete              = "completion/complete"
	MethodListRoots             = "roots/list"
	MethodSetLogLevel           = "logging/setLevel"

	// Notifications
	MethodInitialized      = "notifications/initialized"
	MethodProgress         = "notifications/progress"
	MethodLogMessage       = "notifications/message"
	MethodRootsListChanged = "notifications/roots/list_changed"
	MethodCancelled        = "notifications/cancelled"
)

// RequestMeta carries the optional _meta object of a request's params.
type RequestMeta struct {
	ProgressToken interface{} `json:"progressToken,omitempty"`
}

// InitializeParams is the client's half of the handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// ClientCapabilities declares the notification kinds and features the
// client supports. A nil member means the feature was not declared.
type ClientCapabilities struct {
	Roots    *RootsCapability       `json:"roots,omitempty"`
	Sampling map[string]interface{} `json:"sampling,omitempty"`
}

// RootsCapability declares the client's roots support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeResult is the server's half of the handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ServerCapabilities summarizes which capability namespaces the server
// exposes. Empty (non-nil) objects mean "supported, no sub-features".
type ServerCapabilities struct {
	Tools      *ListChangedCapability `json:"tools,omitempty"`
	Resources  *ResourcesCapability   `json:"resources,omitempty"`
	Prompts    *ListChangedCapability `json:"prompts,omitempty"`
	Roots      map[string]interface{} `json:"roots,omitempty"`
	Completion map[string]interface{} `json:"completion,omitempty"`
	Logging    map[string]interface{} `json:"logging,omitempty"`
}

// ListChangedCapability is the common {listChanged} capability object.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesCapability describes the resources namespace.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

// Implementation identifies one protocol peer.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Tool describes one callable capability for discovery.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the JSON-Schema-shaped parameter description of a tool.
type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema describes a single named parameter.
type PropertySchema struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	// Completable flags per-parameter completion availability for
	// discovery; values are fetched on demand via completion/complete.
	Completable bool `json:"completable,omitempty"`
}

// ListToolsResult is the tools/list payload.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams is the tools/call payload.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Meta      *RequestMeta           `json:"_meta,omitempty"`
}

// CallToolResult is the tools/call response payload. Handler-level
// failures are reported in-band with IsError set, never as a protocol
// error.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// ContentBlock is one normalized unit of an invocation result.
type ContentBlock struct {
	Type     string            `json:"type"` // "text", "image" or "resource"
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"` // base64 for binary blocks
	MimeType string            `json:"mimeType,omitempty"`
	Resource *ResourceContents `json:"resource,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageContent builds a binary content block with the given MIME type.
func ImageContent(data, mimeType string) ContentBlock {
	return ContentBlock{Type: "image", Data: data, MimeType: mimeType}
}

// Resource describes one direct (fixed-URI) resource for discovery.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes one templated resource for discovery.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the resources/list payload.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ListResourceTemplatesResult is the resources/templates/list payload.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// ReadResourceParams is the resources/read payload.
type ReadResourceParams struct {
	URI  string       `json:"uri"`
	Meta *RequestMeta `json:"_meta,omitempty"`
}

// ReadResourceResult is the resources/read response payload.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ResourceContents is one content part of a read resource. Text carries
// textual content; Blob carries base64-encoded binary content. Exactly
// one of the two is set.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// Prompt describes one parameterized text template for discovery.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// ListPromptsResult is the prompts/list payload.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// GetPromptParams is the prompts/get payload.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Meta      *RequestMeta      `json:"_meta,omitempty"`
}

// GetPromptResult is the prompts/get response payload.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// PromptMessage is one turn of a rendered prompt.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// Root is a client-declared scoping hint. The server stores roots but
// never validates or dereferences them.
type Root struct {
	Name string `json:"name,omitempty"`
	URI  string `json:"uri"`
}

// ListRootsResult is the roots/list response payload.
type ListRootsResult struct {
	Roots []Root `json:"roots"`
}

// RootsListChangedParams is the optional payload of
// notifications/roots/list_changed. When Roots is non-nil the session's
// root set is replaced in place; otherwise the server re-fetches via a
// roots/list request.
type RootsListChangedParams struct {
	Roots []Root `json:"roots,omitempty"`
}

// CompleteParams is the completion/complete payload.
type CompleteParams struct {
	Ref      CompleteRef      `json:"ref"`
	Argument CompleteArgument `json:"argument"`
}

// CompleteRef points at the capability whose parameter is being completed.
type CompleteRef struct {
	Type string `json:"type"` // "ref/prompt", "ref/resource" or "ref/tool"
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// CompleteArgument is the parameter name and partial value to complete.
type CompleteArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompleteResult is the completion/complete response payload.
type CompleteResult struct {
	Completion Completion `json:"completion"`
}

// Completion is an ordered suggestion list.
type Completion struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore"`
}

// ProgressParams is the notifications/progress payload. ProgressToken
// ties the notification back to the originating request.
type ProgressParams struct {
	ProgressToken interface{} `json:"progressToken"`
	Progress      float64     `json:"progress"`
	Total         *float64    `json:"total,omitempty"`
	Message       string      `json:"message,omitempty"`
}

// LogLevel is one of the protocol's eight logging severities.
type LogLevel string

const (
	LogDebug     LogLevel = "debug"
	LogInfo      LogLevel = "info"
	LogNotice    LogLevel = "notice"
	LogWarning   LogLevel = "warning"
	LogError     LogLevel = "error"
	LogCritical  LogLevel = "critical"
	LogAlert     LogLevel = "alert"
	LogEmergency LogLevel = "emergency"
)

// logLevelRanks orders levels for threshold filtering.
var logLevelRanks = map[LogLevel]int{
	LogDebug: 0, LogInfo: 1, LogNotice: 2, LogWarning: 3,
	LogError: 4, LogCritical: 5, LogAlert: 6, LogEmergency: 7,
}

// Rank returns the level's position in the severity order, or -1 for an
// unknown level.
func (l LogLevel) Rank() int {
	if r, ok := logLevelRanks[l]; ok {
		return r
	}
	return -1
}

// LogMessageParams is the notifications/message payload.
type LogMessageParams struct {
	Level  LogLevel    `json:"level"`
	Logger string      `json:"logger,omitempty"`
	Data   interface{} `json:"data"`
}

// SetLogLevelParams is the logging/setLevel payload.
type SetLogLevelParams struct {
	Level LogLevel `json:"level"`
}

// CancelledParams is the notifications/cancelled payload.
type CancelledParams struct {
	RequestID interface{} `json:"requestId"`
	Reason    string      `json:"reason,omitempty"`
}

// ParseParams decodes a raw params payload into target. A nil/empty
// payload leaves target at its zero value.
func ParseParams(params json.RawMessage, target interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, target)
}
