package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelctx/mcpserve/pkg/protocol"
)

func textResource(text string) ResourceHandler {
	return func(ctx context.Context, params map[string]string) (interface{}, error) {
		return text, nil
	}
}

func TestRegisterToolDuplicate(t *testing.T) {
	r := New()

	handler := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "ok", nil
	}

	require.NoError(t, r.RegisterTool(Tool{Name: "echo", Handler: handler}))

	err := r.RegisterTool(Tool{Name: "echo", Handler: handler})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterToolValidation(t *testing.T) {
	r := New()

	assert.Error(t, r.RegisterTool(Tool{Name: "", Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, nil
	}}))
	assert.Error(t, r.RegisterTool(Tool{Name: "no-handler"}))
}

func TestRegisterResourceTemplateInvalid(t *testing.T) {
	r := New()

	err := r.RegisterResourceTemplate(ResourceTemplate{
		URITemplate: "weather://{city/current",
		Handler:     textResource("x"),
	})
	require.Error(t, err)
}

func TestResolveResourceDirectBeforeTemplate(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterResourceTemplate(ResourceTemplate{
		URITemplate: "config://{name}",
		Handler:     textResource("from template"),
	}))
	require.NoError(t, r.RegisterResource(Resource{
		URI:     "config://app",
		Handler: textResource("from direct"),
	}))

	match, ok := r.ResolveResource("config://app")
	require.True(t, ok)
	require.NotNil(t, match.Direct)
	assert.Nil(t, match.Template)

	match, ok = r.ResolveResource("config://other")
	require.True(t, ok)
	require.NotNil(t, match.Template)
	assert.Equal(t, "other", match.Params["name"])
}

func TestResolveResourceTemplateOrder(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterResourceTemplate(ResourceTemplate{
		URITemplate: "weather://{city}/current",
		Handler:     textResource("first"),
	}))
	require.NoError(t, r.RegisterResourceTemplate(ResourceTemplate{
		URITemplate: "weather://{city}/{kind}",
		Handler:     textResource("second"),
	}))

	// Both templates match; the first registered one wins.
	match, ok := r.ResolveResource("weather://berlin/current")
	require.True(t, ok)
	require.NotNil(t, match.Template)
	assert.Equal(t, "weather://{city}/current", match.Template.URITemplate)
	assert.Equal(t, map[string]string{"city": "berlin"}, match.Params)

	match, ok = r.ResolveResource("weather://berlin/forecast")
	require.True(t, ok)
	assert.Equal(t, "weather://{city}/{kind}", match.Template.URITemplate)
	assert.Equal(t, "forecast", match.Params["kind"])
}

func TestResolveResourceUnknown(t *testing.T) {
	r := New()

	_, ok := r.ResolveResource("nope://missing")
	assert.False(t, ok)
}

func TestListToolsSchema(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterTool(Tool{
		Name:        "add",
		Description: "Adds two numbers",
		Params: []ParamSpec{
			{Name: "a", Type: "number", Required: true},
			{Name: "b", Type: "number", Required: true},
			{Name: "precision", Type: "integer", Default: 0},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, nil
		},
	}))

	tools := r.ListTools()
	require.Len(t, tools, 1)

	schema := tools[0].InputSchema
	assert.Equal(t, "object", schema.Type)
	assert.ElementsMatch(t, []string{"a", "b"}, schema.Required)
	assert.Equal(t, "number", schema.Properties["a"].Type)
	assert.Equal(t, 0, schema.Properties["precision"].Default)
}

func TestListOrderIsRegistrationOrder(t *testing.T) {
	r := New()

	handler := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, nil
	}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.RegisterTool(Tool{Name: name, Handler: handler}))
	}

	tools := r.ListTools()
	require.Len(t, tools, 3)
	assert.Equal(t, "zeta", tools[0].Name)
	assert.Equal(t, "alpha", tools[1].Name)
	assert.Equal(t, "mid", tools[2].Name)
}

func TestCapabilities(t *testing.T) {
	r := New()

	caps := r.Capabilities()
	assert.Nil(t, caps.Tools)
	assert.Nil(t, caps.Resources)
	assert.Nil(t, caps.Prompts)
	assert.Nil(t, caps.Completion)
	assert.NotNil(t, caps.Roots)
	assert.NotNil(t, caps.Logging)

	require.NoError(t, r.RegisterTool(Tool{Name: "echo", Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, nil
	}}))
	require.NoError(t, r.RegisterResource(Resource{URI: "config://app", Handler: textResource("x")}))

	caps = r.Capabilities()
	assert.NotNil(t, caps.Tools)
	assert.NotNil(t, caps.Resources)
	assert.Nil(t, caps.Completion)
}

func TestCompleteFor(t *testing.T) {
	r := New()

	cities := func(ctx context.Context, partial string) ([]string, error) {
		return []string{"berlin", "boston"}, nil
	}

	require.NoError(t, r.RegisterPrompt(Prompt{
		Name: "travel",
		Params: []ParamSpec{
			{Name: "city", Complete: cities},
			{Name: "style"},
		},
		Handler: func(ctx context.Context, args map[string]string) (interface{}, error) {
			return "ok", nil
		},
	}))
	require.NoError(t, r.RegisterResourceTemplate(ResourceTemplate{
		URITemplate: "weather://{city}/current",
		Params:      []ParamSpec{{Name: "city", Complete: cities}},
		Handler:     textResource("x"),
	}))

	fn, ok := r.CompleteFor(protocol.CompleteRef{Type: "ref/prompt", Name: "travel"}, "city")
	require.True(t, ok)
	require.NotNil(t, fn)

	// Known prompt, parameter without a provider: supported but empty.
	fn, ok = r.CompleteFor(protocol.CompleteRef{Type: "ref/prompt", Name: "travel"}, "style")
	require.True(t, ok)
	assert.Nil(t, fn)

	fn, ok = r.CompleteFor(protocol.CompleteRef{Type: "ref/resource", URI: "weather://{city}/current"}, "city")
	require.True(t, ok)
	require.NotNil(t, fn)

	_, ok = r.CompleteFor(protocol.CompleteRef{Type: "ref/prompt", Name: "missing"}, "city")
	assert.False(t, ok)

	caps := r.Capabilities()
	assert.NotNil(t, caps.Completion)
}
