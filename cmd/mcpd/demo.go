package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/registry"
	"github.com/modelctx/mcpserve/pkg/server"
)

var demoCities = []string{"amsterdam", "berlin", "lisbon", "oslo", "tokyo"}

// demoRegistry builds the capability set served out of the box.
func demoRegistry() *registry.Registry {
	reg := registry.New()

	mustRegister := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	mustRegister(reg.RegisterTool(registry.Tool{
		Name:        "echo",
		Description: "Echoes the given text back to the caller",
		Params: []registry.ParamSpec{
			{Name: "text", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	}))

	mustRegister(reg.RegisterTool(registry.Tool{
		Name:        "add",
		Description: "Adds two numbers",
		Params: []registry.ParamSpec{
			{Name: "a", Type: "number", Required: true},
			{Name: "b", Type: "number", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	}))

	mustRegister(reg.RegisterTool(registry.Tool{
		Name:        "slow",
		Description: "Counts to the given number, reporting progress once per step",
		Params: []registry.ParamSpec{
			{Name: "steps", Type: "integer", Default: float64(5)},
			{Name: "delay_ms", Type: "integer", Default: float64(100)},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			steps := int(args["steps"].(float64))
			delay := time.Duration(args["delay_ms"].(float64)) * time.Millisecond

			cc, _ := server.ClientFromContext(ctx)
			total := float64(steps)
			for i := 1; i <= steps; i++ {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
				if cc != nil {
					_ = cc.Progress(ctx, float64(i), &total, fmt.Sprintf("step %d of %d", i, steps))
				}
			}
			return fmt.Sprintf("counted to %d", steps), nil
		},
	}))

	mustRegister(reg.RegisterResource(registry.Resource{
		URI:         "config://app",
		Name:        "Application configuration",
		Description: "Static configuration document",
		MimeType:    "application/json",
		Handler: func(ctx context.Context, params map[string]string) (interface{}, error) {
			return fmt.Sprintf(`{"name":%q,"version":%q}`, serverName, serverVersion), nil
		},
	}))

	mustRegister(reg.RegisterResourceTemplate(registry.ResourceTemplate{
		URITemplate: "weather://{city}/current",
		Name:        "Current weather",
		Description: "Fictional current conditions for a city",
		MimeType:    "text/plain",
		Params: []registry.ParamSpec{
			{
				Name:        "city",
				Description: "City name, lowercase",
				Complete:    completeCity,
			},
		},
		Handler: func(ctx context.Context, params map[string]string) (interface{}, error) {
			return fmt.Sprintf("Weather in %s: 21C, partly cloudy", params["city"]), nil
		},
	}))

	mustRegister(reg.RegisterPrompt(registry.Prompt{
		Name:        "greet",
		Description: "Builds a greeting for someone",
		Params: []registry.ParamSpec{
			{Name: "name", Description: "Who to greet", Required: true},
			{Name: "style", Description: "formal or casual", Default: "casual", Complete: completeStyle},
		},
		Handler: func(ctx context.Context, args map[string]string) (interface{}, error) {
			if args["style"] == "formal" {
				return "Good day, " + args["name"] + ".", nil
			}
			return protocol.PromptMessage{
				Role:    "user",
				Content: protocol.ContentBlock{Type: "text", Text: "Hey " + args["name"] + "!"},
			}, nil
		},
	}))

	return reg
}

func completeCity(ctx context.Context, partial string) ([]string, error) {
	var matches []string
	for _, city := range demoCities {
		if strings.HasPrefix(city, strings.ToLower(partial)) {
			matches = append(matches, city)
		}
	}
	return matches, nil
}

func completeStyle(ctx context.Context, partial string) ([]string, error) {
	var matches []string
	for _, style := range []string{"casual", "formal"} {
		if strings.HasPrefix(style, partial) {
			matches = append(matches, style)
		}
	}
	return matches, nil
}
