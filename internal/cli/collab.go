package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fellowship/internal/commands"
	"github.com/roach88/fellowship/internal/remote"
)

// NewGroupCommand creates the group command group.
func NewGroupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Create, join and message groups",
		Long: `Group commands write to the shared realtime store.

Set --remote (or remote.url in the settings file) to a hub started with
"fellowship serve"; without one, groups exist only for the duration of
the command.`,
	}

	var name, description string
	create := &cobra.Command{
		Use:           "create",
		Short:         "Create a group; the creator is its first member",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteCommand(rootOpts, cmd, "group create", func(ctx context.Context, svc *commands.Service) (commands.Result, error) {
				return svc.CreateGroup(ctx, rootOpts.User(), name, description)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "group name")
	create.Flags().StringVar(&description, "description", "", "group description")

	join := &cobra.Command{
		Use:           "join <group-id>",
		Short:         "Join a group",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteCommand(rootOpts, cmd, "group join", func(ctx context.Context, svc *commands.Service) (commands.Result, error) {
				return svc.JoinGroup(ctx, rootOpts.User(), args[0])
			})
		},
	}

	var correlationID string
	send := &cobra.Command{
		Use:   "send <group-id> <text>",
		Short: "Send a message to a group",
		Long: `Send a message to a group you have joined.

Sending again with the same --correlation-id retries the message without
duplicating it.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return runRemoteCommand(rootOpts, cmd, "group send", func(ctx context.Context, svc *commands.Service) (commands.Result, error) {
				return svc.SendGroupMessage(ctx, rootOpts.User(), args[0], text, correlationID)
			})
		},
	}
	send.Flags().StringVar(&correlationID, "correlation-id", "", "idempotency key (generated when empty)")

	messages := &cobra.Command{
		Use:           "messages <group-id>",
		Short:         "Print a group's messages in order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupMessages(rootOpts, args[0], cmd)
		},
	}

	cmd.AddCommand(create, join, send, messages)
	return cmd
}

// NewDiscussionCommand creates the discussion command group.
func NewDiscussionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discussion",
		Short: "Start discussions and comment on them",
	}

	var title, topic string
	create := &cobra.Command{
		Use:           "create",
		Short:         "Start a discussion",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteCommand(rootOpts, cmd, "discussion create", func(ctx context.Context, svc *commands.Service) (commands.Result, error) {
				return svc.CreateDiscussion(ctx, rootOpts.User(), title, topic)
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "discussion title")
	create.Flags().StringVar(&topic, "topic", "", "discussion topic")

	var correlationID string
	comment := &cobra.Command{
		Use:           "comment <discussion-id> <text>",
		Short:         "Comment on a discussion",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return runRemoteCommand(rootOpts, cmd, "discussion comment", func(ctx context.Context, svc *commands.Service) (commands.Result, error) {
				return svc.SendComment(ctx, rootOpts.User(), args[0], text, correlationID)
			})
		},
	}
	comment.Flags().StringVar(&correlationID, "correlation-id", "", "idempotency key (generated when empty)")

	recount := &cobra.Command{
		Use:   "recount <discussion-id>",
		Short: "Recompute a discussion's comment count from its comments",
		Long: `Recompute a discussion's commentCount from its comment collection.

Comments written while the recount runs are included. Safe to run
repeatedly.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecount(rootOpts, args[0], cmd)
		},
	}

	cmd.AddCommand(create, comment, recount)
	return cmd
}

func runRecount(opts *RootOptions, discussionID string, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	f := opts.formatter(cmd)
	res, err := a.svc.RecountComments(cmd.Context(), discussionID)
	if err != nil {
		return f.Fail("discussion recount", err)
	}
	return f.Success(fmt.Sprintf("✓ recounted discussion/%s: comment count %d", res.ID, res.Count), res)
}

func runRemoteCommand(opts *RootOptions, cmd *cobra.Command, op string, fn func(context.Context, *commands.Service) (commands.Result, error)) error {
	a, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return report(opts, cmd, op, func(ctx context.Context) (commands.Result, error) {
		return fn(ctx, a.svc)
	})
}

// runGroupMessages reads the message collection once and prints the
// merged timeline.
func runGroupMessages(opts *RootOptions, groupID string, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	f := opts.formatter(cmd)
	q := remote.Collection(remote.MessagesCollection(groupID)).OrderedBy("createdAt", remote.Asc)
	snap, err := a.remote.Query(cmd.Context(), q)
	if err != nil {
		return f.Fail("group messages", err)
	}
	timeline := a.svc.Timeline(groupID)
	if err := timeline.ApplyRemote(snap); err != nil {
		return f.Fail("group messages", err)
	}
	return printTimeline(f, timeline.Render())
}
