// Package registry holds the server's capability catalog: tools, direct
// and templated resources, and prompts, with per-parameter completion
// providers. Registration happens before serving; lookups are safe for
// concurrent use.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/yosida95/uritemplate/v3"

	"github.com/modelctx/mcpserve/pkg/protocol"
)

// ToolHandler executes one tool invocation with the bound arguments.
// The returned value is normalized into content blocks by the caller.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ResourceHandler produces the content of one resource. For templated
// resources params carries the variables extracted from the URI.
type ResourceHandler func(ctx context.Context, params map[string]string) (interface{}, error)

// PromptHandler renders one prompt with the given arguments. It may
// return a string, a protocol.PromptMessage, a []protocol.PromptMessage
// or a *protocol.GetPromptResult.
type PromptHandler func(ctx context.Context, args map[string]string) (interface{}, error)

// CompleteFunc suggests values for one parameter given a partial input.
type CompleteFunc func(ctx context.Context, partial string) ([]string, error)

// ParamSpec declares one named parameter of a tool, prompt or resource
// template.
type ParamSpec struct {
	Name        string
	Type        string // JSON Schema type; defaults to "string"
	Description string
	Required    bool
	Default     interface{}

	// Complete, when set, makes the parameter completable via
	// completion/complete.
	Complete CompleteFunc
}

// Tool is one registered callable capability.
type Tool struct {
	Name        string
	Description string
	Params      []ParamSpec
	Handler     ToolHandler
}

// Resource is one registered fixed-URI resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

// ResourceTemplate is one registered templated resource. The URI
// template follows RFC 6570.
type ResourceTemplate struct {
	URITemplate string
	Name        string
	Description string
	MimeType    string
	Params      []ParamSpec
	Handler     ResourceHandler

	compiled *uritemplate.Template
}

// Prompt is one registered parameterized prompt.
type Prompt struct {
	Name        string
	Description string
	Params      []ParamSpec
	Handler     PromptHandler
}

// ResourceMatch is the outcome of resolving a resources/read URI.
// Exactly one of Direct and Template is set; Params carries the
// template variables when Template matched.
type ResourceMatch struct {
	Direct   *Resource
	Template *ResourceTemplate
	Params   map[string]string
}

// MimeType returns the declared MIME type of the matched capability.
func (m *ResourceMatch) MimeType() string {
	if m.Direct != nil {
		return m.Direct.MimeType
	}
	return m.Template.MimeType
}

// Handler returns the matched capability's handler.
func (m *ResourceMatch) Handler() ResourceHandler {
	if m.Direct != nil {
		return m.Direct.Handler
	}
	return m.Template.Handler
}

// Registry is the capability catalog for one server.
type Registry struct {
	mu sync.RWMutex

	tools     map[string]*Tool
	toolOrder []string

	resources     map[string]*Resource
	resourceOrder []string

	// templates keep registration order: the first registered template
	// matching a URI wins.
	templates []*ResourceTemplate

	prompts     map[string]*Prompt
	promptOrder []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tools:     make(map[string]*Tool),
		resources: make(map[string]*Resource),
		prompts:   make(map[string]*Prompt),
	}
}

// RegisterTool adds a tool. The name must be unique.
func (r *Registry) RegisterTool(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = &t
	r.toolOrder = append(r.toolOrder, t.Name)
	return nil
}

// RegisterResource adds a fixed-URI resource. The URI must be unique
// among direct resources.
func (r *Registry) RegisterResource(res Resource) error {
	if res.URI == "" {
		return fmt.Errorf("resource URI must not be empty")
	}
	if res.Handler == nil {
		return fmt.Errorf("resource %q has no handler", res.URI)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[res.URI]; exists {
		return fmt.Errorf("resource %q already registered", res.URI)
	}
	r.resources[res.URI] = &res
	r.resourceOrder = append(r.resourceOrder, res.URI)
	return nil
}

// RegisterResourceTemplate adds a templated resource. The template is
// compiled at registration; a malformed template is rejected here, not
// at read time.
func (r *Registry) RegisterResourceTemplate(tmpl ResourceTemplate) error {
	if tmpl.URITemplate == "" {
		return fmt.Errorf("resource template must not be empty")
	}
	if tmpl.Handler == nil {
		return fmt.Errorf("resource template %q has no handler", tmpl.URITemplate)
	}

	compiled, err := uritemplate.New(tmpl.URITemplate)
	if err != nil {
		return fmt.Errorf("invalid resource template %q: %w", tmpl.URITemplate, err)
	}
	tmpl.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.templates {
		if existing.URITemplate == tmpl.URITemplate {
			return fmt.Errorf("resource template %q already registered", tmpl.URITemplate)
		}
	}
	r.templates = append(r.templates, &tmpl)
	return nil
}

// RegisterPrompt adds a prompt. The name must be unique.
func (r *Registry) RegisterPrompt(p Prompt) error {
	if p.Name == "" {
		return fmt.Errorf("prompt name must not be empty")
	}
	if p.Handler == nil {
		return fmt.Errorf("prompt %q has no handler", p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.prompts[p.Name]; exists {
		return fmt.Errorf("prompt %q already registered", p.Name)
	}
	r.prompts[p.Name] = &p
	r.promptOrder = append(r.promptOrder, p.Name)
	return nil
}

// Tool looks up a tool by name.
func (r *Registry) Tool(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Prompt looks up a prompt by name.
func (r *Registry) Prompt(name string) (*Prompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[name]
	return p, ok
}

// ResolveResource resolves a concrete URI: direct resources take
// precedence over templates, and templates match in registration order.
func (r *Registry) ResolveResource(uri string) (*ResourceMatch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.resources[uri]; ok {
		return &ResourceMatch{Direct: res}, true
	}

	for _, tmpl := range r.templates {
		values := tmpl.compiled.Match(uri)
		if values == nil {
			continue
		}
		params := make(map[string]string, len(values))
		for name, value := range values {
			params[name] = value.String()
		}
		return &ResourceMatch{Template: tmpl, Params: params}, true
	}

	return nil, false
}

// ListTools returns discovery descriptors in registration order.
func (r *Registry) ListTools() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		t := r.tools[name]
		out = append(out, protocol.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaFromParams(t.Params),
		})
	}
	return out
}

// ListResources returns direct resource descriptors in registration
// order. Templates are not included; they have their own listing.
func (r *Registry) ListResources() []protocol.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Resource, 0, len(r.resourceOrder))
	for _, uri := range r.resourceOrder {
		res := r.resources[uri]
		out = append(out, protocol.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MimeType:    res.MimeType,
		})
	}
	return out
}

// ListResourceTemplates returns template descriptors in registration
// order.
func (r *Registry) ListResourceTemplates() []protocol.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.ResourceTemplate, 0, len(r.templates))
	for _, tmpl := range r.templates {
		out = append(out, protocol.ResourceTemplate{
			URITemplate: tmpl.URITemplate,
			Name:        tmpl.Name,
			Description: tmpl.Description,
			MimeType:    tmpl.MimeType,
		})
	}
	return out
}

// ListPrompts returns prompt descriptors in registration order.
func (r *Registry) ListPrompts() []protocol.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Prompt, 0, len(r.promptOrder))
	for _, name := range r.promptOrder {
		p := r.prompts[name]
		args := make([]protocol.PromptArgument, 0, len(p.Params))
		for _, param := range p.Params {
			args = append(args, protocol.PromptArgument{
				Name:        param.Name,
				Description: param.Description,
				Required:    param.Required,
			})
		}
		out = append(out, protocol.Prompt{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   args,
		})
	}
	return out
}

// Capabilities summarizes the registered namespaces for the handshake.
func (r *Registry) Capabilities() protocol.ServerCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := protocol.ServerCapabilities{
		Roots:   map[string]interface{}{},
		Logging: map[string]interface{}{},
	}
	if len(r.tools) > 0 {
		caps.Tools = &protocol.ListChangedCapability{}
	}
	if len(r.resources) > 0 || len(r.templates) > 0 {
		caps.Resources = &protocol.ResourcesCapability{}
	}
	if len(r.prompts) > 0 {
		caps.Prompts = &protocol.ListChangedCapability{}
	}
	if r.hasCompletions() {
		caps.Completion = map[string]interface{}{}
	}
	return caps
}

func (r *Registry) hasCompletions() bool {
	for _, t := range r.tools {
		if anyCompletable(t.Params) {
			return true
		}
	}
	for _, p := range r.prompts {
		if anyCompletable(p.Params) {
			return true
		}
	}
	for _, tmpl := range r.templates {
		if anyCompletable(tmpl.Params) {
			return true
		}
	}
	return false
}

func anyCompletable(params []ParamSpec) bool {
	for _, p := range params {
		if p.Complete != nil {
			return true
		}
	}
	return false
}

// CompleteFor resolves the completion provider for a reference and
// parameter name. A registered capability with no provider for the
// parameter yields (nil, true): completion is supported but empty.
// Unknown capabilities yield (nil, false).
func (r *Registry) CompleteFor(ref protocol.CompleteRef, argName string) (CompleteFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var params []ParamSpec
	switch ref.Type {
	case "ref/tool":
		t, ok := r.tools[ref.Name]
		if !ok {
			return nil, false
		}
		params = t.Params
	case "ref/prompt":
		p, ok := r.prompts[ref.Name]
		if !ok {
			return nil, false
		}
		params = p.Params
	case "ref/resource":
		var tmpl *ResourceTemplate
		for _, candidate := range r.templates {
			if candidate.URITemplate == ref.URI {
				tmpl = candidate
				break
			}
		}
		if tmpl == nil {
			return nil, false
		}
		params = tmpl.Params
	default:
		return nil, false
	}

	for _, param := range params {
		if param.Name == argName {
			return param.Complete, true
		}
	}
	return nil, true
}

// schemaFromParams builds the discovery schema for a parameter list.
func schemaFromParams(params []ParamSpec) protocol.InputSchema {
	schema := protocol.InputSchema{Type: "object"}
	if len(params) == 0 {
		return schema
	}

	schema.Properties = make(map[string]protocol.PropertySchema, len(params))
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		schema.Properties[p.Name] = protocol.PropertySchema{
			Type:        typ,
			Description: p.Description,
			Default:     p.Default,
			Completable: p.Complete != nil,
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
