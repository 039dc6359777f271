package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/guestbridge/internal/client"
)

const defaultAddr = "http://localhost:8000"

var errUsage = errors.New("usage")

const usage = `usage: bridgectl [-addr URL] <command> [flags] [args]

commands:
  create  [-name N] [-script FILE] [-inject-after D] [-skip-inject]
  list
  get     <id>
  inject  <id> [-wait D]
  send    <id> <envelope-json>
  exec    <id> [-timeout D] <script | @file>
  watch   <id>
  close   <id>
`

// run dispatches one bridgectl invocation
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("bridgectl", flag.ContinueOnError)
	global.SetOutput(stderr)
	addr := global.String("addr", envOr("BRIDGECTL_ADDR", defaultAddr), "controller base URL")
	rps := global.Float64("rate", 0, "client-side request rate limit, 0 for none")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errUsage
	}

	c := client.New(*addr)
	c.SetRateLimit(*rps)

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "create":
		return runCreate(ctx, c, cmdArgs, stdout, stderr)
	case "list":
		return runList(ctx, c, stdout)
	case "get":
		return withID(cmdArgs, func(sessionID string, _ []string) error {
			info, err := c.GetSession(ctx, sessionID)
			if err != nil {
				return err
			}
			return printJSON(stdout, info)
		})
	case "inject":
		return runInject(ctx, c, cmdArgs, stdout, stderr)
	case "send":
		return withID(cmdArgs, func(sessionID string, rest []string) error {
			if len(rest) != 1 {
				return fmt.Errorf("%w: send <id> <envelope-json>", errUsage)
			}
			var env map[string]any
			if err := sonic.UnmarshalString(rest[0], &env); err != nil {
				return fmt.Errorf("envelope must be a JSON object: %w", err)
			}
			return c.Send(ctx, sessionID, env)
		})
	case "exec":
		return runExec(ctx, c, cmdArgs, stdout, stderr)
	case "watch":
		return withID(cmdArgs, func(sessionID string, _ []string) error {
			return watch(ctx, c, sessionID, stdout)
		})
	case "close":
		return withID(cmdArgs, func(sessionID string, _ []string) error {
			if err := c.CloseSession(ctx, sessionID); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "closed %s\n", sessionID)
			return nil
		})
	default:
		global.Usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func runCreate(ctx context.Context, c *client.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "display name")
	script := fs.String("script", "", "bootstrap script file")
	injectAfter := fs.Duration("inject-after", 0, "delay before the host primitive appears")
	skipInject := fs.Bool("skip-inject", false, "leave injection to 'bridgectl inject'")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := client.CreateRequest{
		Name:          *name,
		InjectAfterMs: injectAfter.Milliseconds(),
		SkipInject:    *skipInject,
	}
	if *script != "" {
		src, err := os.ReadFile(*script)
		if err != nil {
			return err
		}
		req.Script = string(src)
	}

	info, err := c.CreateSession(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(stdout, info)
}

func runList(ctx context.Context, c *client.Client, stdout io.Writer) error {
	list, err := c.ListSessions(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBINDING\tPENDING\tIN\tOUT\tDROPPED")
	for _, s := range list.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			s.ID, s.Name, s.Binding, s.Pending, s.EnvelopesIn, s.EnvelopesOut, s.Dropped)
	}
	return tw.Flush()
}

func runInject(ctx context.Context, c *client.Client, args []string, stdout, stderr io.Writer) error {
	return withID(args, func(sessionID string, rest []string) error {
		fs := flag.NewFlagSet("inject", flag.ContinueOnError)
		fs.SetOutput(stderr)
		wait := fs.Duration("wait", 0, "wait this long for the binding to attach")
		if err := fs.Parse(rest); err != nil {
			return err
		}

		info, err := c.Inject(ctx, sessionID)
		if err != nil {
			return err
		}
		if *wait > 0 {
			ready, err := c.WaitReady(ctx, sessionID, *wait)
			if err != nil {
				return err
			}
			if !ready {
				return fmt.Errorf("binding did not attach within %s", *wait)
			}
			if info, err = c.GetSession(ctx, sessionID); err != nil {
				return err
			}
		}
		return printJSON(stdout, info)
	})
}

func runExec(ctx context.Context, c *client.Client, args []string, stdout, stderr io.Writer) error {
	return withID(args, func(sessionID string, rest []string) error {
		fs := flag.NewFlagSet("exec", flag.ContinueOnError)
		fs.SetOutput(stderr)
		timeout := fs.Duration("timeout", 0, "execution timeout, 0 for the controller default")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: exec <id> [-timeout D] <script | @file>", errUsage)
		}

		script := fs.Arg(0)
		if path, ok := strings.CutPrefix(script, "@"); ok {
			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			script = string(src)
		}

		res, err := c.Execute(ctx, sessionID, script, *timeout)
		if err != nil {
			return err
		}
		for _, entry := range res.Console {
			fmt.Fprintf(stderr, "[%s] %s\n", entry.Level, entry.Message)
		}
		return printJSON(stdout, res.Value)
	})
}

// watch prints outbound envelopes until the stream or ctx ends
func watch(ctx context.Context, c *client.Client, sessionID string, stdout io.Writer) error {
	conn, err := c.Stream(ctx, sessionID)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fmt.Fprintln(stdout, string(frame))
	}
}

func withID(args []string, fn func(sessionID string, rest []string) error) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("%w: missing session id", errUsage)
	}
	return fn(args[0], args[1:])
}

func printJSON(w io.Writer, v any) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
