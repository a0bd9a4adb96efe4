package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fellowship/internal/resolver"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	For time.Duration // stop after this long; zero waits for an interrupt
}

// renderedMessage is the JSON form of one timeline row.
type renderedMessage struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Body   string `json:"body"`
	Author string `json:"author"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live data",
	}

	group := &cobra.Command{
		Use:   "group <group-id>",
		Short: "Print a group's timeline every time it changes",
		Long: `Subscribe to a group and its messages and print the merged timeline
on every change. Membership seen on the group document is cached, so
"group send" from this process needs no extra lookup.

With --format json each render is one JSON line.

Examples:
  fellowship watch group g-1 --remote ws://localhost:8787/ws
  fellowship watch group g-1 --for 30s --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchGroup(opts, args[0], cmd)
		},
	}
	group.Flags().DurationVar(&opts.For, "for", 0, "stop after this long (0 = until interrupted)")

	cmd.AddCommand(group)
	return cmd
}

func runWatchGroup(opts *WatchOptions, groupID string, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.For > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.For)
		defer cancel()
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	stopMetrics, err := serveMetrics(a.cfg.Metrics.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "metrics listener", err)
	}
	defer stopMetrics()

	f := opts.formatter(cmd)
	var mu sync.Mutex
	render := func(messages []resolver.RenderMessage, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			f.Error(toCLIError(err))
			return
		}
		if printErr := printTimeline(f, messages); printErr != nil {
			slog.Warn("render failed", "error", printErr)
		}
	}

	consumer := "cli-watch-" + groupID
	scope, err := a.svc.WatchGroup(consumer, groupID, render)
	if err != nil {
		return f.Fail("watch group", err)
	}
	defer scope.Close()

	f.VerboseLog("watching group %s (%d subscriptions)", groupID, scope.Held())
	<-ctx.Done()
	return nil
}

// printTimeline prints one render of a group timeline.
func printTimeline(f *OutputFormatter, messages []resolver.RenderMessage) error {
	rows := make([]renderedMessage, len(messages))
	for i, m := range messages {
		rows[i] = renderedMessage{Key: m.Key(), Status: string(m.Status()), Body: m.Body(), Author: m.Author()}
	}
	if f.Format == "json" {
		return f.Success("", map[string]any{"messages": rows})
	}
	if len(rows) == 0 {
		return f.Success("(no messages)", nil)
	}
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s: %s", r.Status, r.Author, r.Body)
	}
	return f.Success(b.String(), nil)
}
