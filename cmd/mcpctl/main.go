// Command mcpctl is an admin client for capability servers. It connects
// over the SSE pair (or a spawned stdio subprocess), performs the
// handshake, runs one operation and prints the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/modelctx/mcpserve/pkg/client"
	"github.com/modelctx/mcpserve/pkg/logging"
	"github.com/modelctx/mcpserve/pkg/protocol"
	"github.com/modelctx/mcpserve/pkg/transport"
)

func main() {
	cmd := &cli.Command{
		Name:    "mcpctl",
		Usage:   "Inspect and invoke capabilities on a running server.",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Value:   "http://localhost:8080/sub",
				Usage:   "Subscribe URL of the server's SSE endpoint",
			},
			&cli.StringFlag{
				Name:  "exec",
				Usage: "Spawn this command and talk to it over stdin/stdout instead of SSE",
			},
			&cli.StringSliceFlag{
				Name:  "root",
				Usage: "Declare a root as name=uri (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Overall operation timeout",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log protocol traffic to stderr",
			},
		},
		Commands: []*cli.Command{
			infoCommand(),
			toolsCommand(),
			resourcesCommand(),
			promptsCommand(),
			completeCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mcpctl: "+err.Error())
		os.Exit(1)
	}
}

var paramFlag = &cli.StringSliceFlag{
	Name:    "param",
	Aliases: []string{"p"},
	Usage:   "Argument as key=value (repeatable); values parse as JSON where possible",
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show server identity, capabilities and instructions.",
		Action: withSession(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
			init := c.ServerInfo()
			fmt.Printf("%s %s (protocol %s)\n", init.ServerInfo.Name, init.ServerInfo.Version, init.ProtocolVersion)
			if init.Instructions != "" {
				fmt.Println(init.Instructions)
			}
			return printJSON(init.Capabilities)
		}),
	}
}

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List or call tools.",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the server's tools.",
				Action: withSession(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					tools, err := c.ListTools(ctx)
					if err != nil {
						return err
					}
					for _, t := range tools {
						fmt.Printf("%-20s %s\n", t.Name, t.Description)
					}
					return nil
				}),
			},
			{
				Name:      "call",
				Usage:     "Call a tool by name.",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{paramFlag, indexFlag()},
				Action: withSession(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					name := cmd.Args().First()
					if name == "" {
						return fmt.Errorf("tool name required")
					}

					args, err := parseToolParams(cmd.StringSlice("param"))
					if err != nil {
						return err
					}

					result, err := c.CallTool(ctx, name, args, client.WithProgress(func(p protocol.ProgressParams) {
						if p.Total != nil {
							fmt.Fprintf(os.Stderr, "progress: %.0f/%.0f %s\n", p.Progress, *p.Total, p.Message)
						} else {
							fmt.Fprintf(os.Stderr, "progress: %.0f %s\n", p.Progress, p.Message)
						}
					}))
					if err != nil {
						return err
					}
					if err := printContent(result.Content, cmd.Int("index")); err != nil {
						return err
					}
					if result.IsError {
						return fmt.Errorf("tool reported an error")
					}
					return nil
				}),
			},
		},
	}
}

func resourcesCommand() *cli.Command {
	return &cli.Command{
		Name:  "resources",
		Usage: "List or read resources.",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List direct resources and templates.",
				Action: withSession(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					resources, err := c.ListResources(ctx)
					if err != nil {
						return err
					}
					for _, r := range resources {
						fmt.Printf("%-40s %s\n", r.URI, r.Name)
					}

					templates, err := c.ListResourceTemplates(ctx)
					if err != nil {
						return err
					}
					for _, t := range templates {
						fmt.Printf("%-40s %s (template)\n", t.URITemplate, t.Name)
					}
					return nil
				}),
			},
			{
				Name:      "read",
				Usage:     "Read a resource by URI.",
				ArgsUsage: "<uri>",
				Flags:     []cli.Flag{indexFlag()},
				Action: withSession(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					uri := cmd.Args().First()
					if uri == "" {
						return fmt.Errorf("resource URI required")
					}

					contents, err := c.ReadResource(ctx, uri)
					if err != nil {
						return err
					}
					return printResourceContents(contents, cmd.Int("index"))
				}),
			},
		},
	}
}

func promptsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prompts",
		Usage: "List or render prompts.",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the server's prompts.",
				Action: withSession(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					prompts, err := c.ListPrompts(ctx)
					if err != nil {
						return err
					}
					for _, p := range prompts {
						fmt.Printf("%-20s %s\n", p.Name, p.Description)
					}
					return nil
				}),
			},
			{
				Name:      "get",
				Usage:     "Render a prompt by name.",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{paramFlag},
				Action: withSession(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
					name := cmd.Args().First()
					if name == "" {
						return fmt.Errorf("prompt name required")
					}

					args, err := parseStringParams(cmd.StringSlice("param"))
					if err != nil {
						return err
					}

					result, err := c.GetPrompt(ctx, name, args)
					if err != nil {
						return err
					}
					for _, msg := range result.Messages {
						fmt.Printf("[%s] %s\n", msg.Role, msg.Content.Text)
					}
					return nil
				}),
			},
		},
	}
}

func completeCommand() *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "Complete a partial argument value.",
		ArgsUsage: "<prompt-name|template-uri> <arg> <partial>",
		Action: withSession(func(ctx context.Context, cmd *cli.Command, c *client.Client) error {
			args := cmd.Args()
			if args.Len() < 2 {
				return fmt.Errorf("usage: complete <prompt-name|template-uri> <arg> [partial]")
			}

			ref := protocol.CompleteRef{Type: "ref/prompt", Name: args.Get(0)}
			if strings.Contains(args.Get(0), "://") {
				ref = protocol.CompleteRef{Type: "ref/resource", URI: args.Get(0)}
			}

			completion, err := c.Complete(ctx, ref, protocol.CompleteArgument{
				Name:  args.Get(1),
				Value: args.Get(2),
			})
			if err != nil {
				return err
			}
			for _, v := range completion.Values {
				fmt.Println(v)
			}
			return nil
		}),
	}
}

func indexFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "index",
		Aliases: []string{"n"},
		Value:   -1,
		Usage:   "Print only the content block at this index",
	}
}

// withSession dials the server, completes the handshake and hands the
// connected client to fn.
func withSession(fn func(ctx context.Context, cmd *cli.Command, c *client.Client) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
		defer cancel()

		logger := logging.Nop()
		if cmd.Bool("verbose") {
			logger = logging.New(os.Stderr, nil)
			logger.SetLevel(logging.DebugLevel)
		}

		ch, cleanup, err := dial(ctx, cmd, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		roots, err := parseRoots(cmd.StringSlice("root"))
		if err != nil {
			return err
		}

		opts := []client.Option{
			client.WithLogger(logger),
			client.WithClientInfo("mcpctl", cmd.Root().Version),
			client.WithLogHandler(func(p protocol.LogMessageParams) {
				fmt.Fprintf(os.Stderr, "server %s: %v\n", p.Level, p.Data)
			}),
		}
		if len(roots) > 0 {
			opts = append(opts, client.WithRoots(roots))
		}

		c := client.New(ch, opts...)
		defer c.Close()

		if _, err := c.Initialize(ctx); err != nil {
			return fmt.Errorf("handshake failed: %w", err)
		}

		return fn(ctx, cmd, c)
	}
}

// dial connects over SSE, or over the stdio of a spawned subprocess
// when --exec is given.
func dial(ctx context.Context, cmd *cli.Command, logger logging.Logger) (transport.Channel, func(), error) {
	if command := cmd.String("exec"); command != "" {
		parts := strings.Fields(command)
		proc := exec.CommandContext(ctx, parts[0], parts[1:]...)
		proc.Stderr = os.Stderr

		stdin, err := proc.StdinPipe()
		if err != nil {
			return nil, nil, err
		}
		stdout, err := proc.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
		if err := proc.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to spawn %q: %w", command, err)
		}

		ch := transport.NewStdioChannel(stdout, stdin)
		cleanup := func() {
			ch.Close()
			stdin.Close()
			_ = proc.Wait()
		}
		return ch, cleanup, nil
	}

	ch, err := transport.DialSSE(ctx, cmd.String("url"), nil, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", cmd.String("url"), err)
	}
	return ch, func() { ch.Close() }, nil
}

// parseToolParams parses repeated key=value pairs. Values that parse as
// JSON keep their type so numeric and boolean tool arguments work from
// the command line; everything else stays a string.
func parseToolParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", pair)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		args[key] = value
	}
	return args, nil
}

func parseStringParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}

func parseRoots(pairs []string) ([]protocol.Root, error) {
	var roots []protocol.Root
	for _, pair := range pairs {
		name, uri, ok := strings.Cut(pair, "=")
		if !ok || uri == "" {
			return nil, fmt.Errorf("invalid root %q, want name=uri", pair)
		}
		roots = append(roots, protocol.Root{Name: name, URI: uri})
	}
	return roots, nil
}

func printContent(blocks []protocol.ContentBlock, index int) error {
	if index >= 0 {
		if index >= len(blocks) {
			return fmt.Errorf("content index %d out of range (%d blocks)", index, len(blocks))
		}
		blocks = blocks[index : index+1]
	}
	for _, block := range blocks {
		switch block.Type {
		case "text":
			fmt.Println(block.Text)
		case "image":
			fmt.Printf("[image %s, %d bytes base64]\n", block.MimeType, len(block.Data))
		default:
			if err := printJSON(block); err != nil {
				return err
			}
		}
	}
	return nil
}

func printResourceContents(contents []protocol.ResourceContents, index int) error {
	if index >= 0 {
		if index >= len(contents) {
			return fmt.Errorf("content index %d out of range (%d entries)", index, len(contents))
		}
		contents = contents[index : index+1]
	}
	for _, entry := range contents {
		if entry.Blob != "" {
			fmt.Printf("[%s %s, %d bytes base64]\n", entry.URI, entry.MimeType, len(entry.Blob))
			continue
		}
		fmt.Println(entry.Text)
	}
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
