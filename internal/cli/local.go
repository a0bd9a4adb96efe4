package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fellowship/internal/commands"
	"github.com/roach88/fellowship/internal/domain"
)

// NewEventCommand creates the event command group.
func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Create and list events",
	}

	var in commands.EventInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Long: `Create an event in the local store.

A public event also appears on the announcement feed. Passing the same
--correlation-id twice creates the event once.

Examples:
  fellowship event create --title "Potluck" --date 2024-03-10 --public
  fellowship event create --title "Elders" --correlation-id form-7 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalCommand(rootOpts, cmd, "event create", func(ctx context.Context, a *app) (commands.Result, error) {
				return a.svc.CreateEvent(ctx, rootOpts.User(), in)
			})
		},
	}
	create.Flags().StringVar(&in.Title, "title", "", "event title")
	create.Flags().StringVar(&in.Description, "description", "", "event description")
	create.Flags().StringVar(&in.Location, "location", "", "where the event takes place")
	create.Flags().StringVar(&in.Date, "date", "", "event date")
	create.Flags().StringVar(&in.Time, "time", "", "event time")
	create.Flags().StringVar(&in.ImageURL, "image", "", "image URL")
	create.Flags().BoolVar(&in.Public, "public", false, "show on the announcement feed")
	create.Flags().StringVar(&in.CorrelationID, "correlation-id", "", "idempotency key")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListCommand(rootOpts, cmd, func(ctx context.Context, svc *commands.Service) commands.ListResult[*domain.Event] {
				return svc.Events(ctx)
			}, func(e *domain.Event) string {
				return fmt.Sprintf("%s  %s  %s %s%s", e.ID, e.Title, e.Date, e.Time, publicMarker(e.Public))
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

// NewAnnouncementCommand creates the announcement command group.
func NewAnnouncementCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "announcement",
		Short: "Create announcements and read the feed",
	}

	var in commands.AnnouncementInput
	create := &cobra.Command{
		Use:           "create",
		Short:         "Post a plain announcement",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalCommand(rootOpts, cmd, "announcement create", func(ctx context.Context, a *app) (commands.Result, error) {
				return a.svc.CreateAnnouncement(ctx, rootOpts.User(), in)
			})
		},
	}
	create.Flags().StringVar(&in.Title, "title", "", "announcement title")
	create.Flags().StringVar(&in.Description, "description", "", "announcement body")
	create.Flags().StringVar(&in.ImageURL, "image", "", "image URL")
	create.Flags().StringVar(&in.CorrelationID, "correlation-id", "", "idempotency key")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List the announcement feed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListCommand(rootOpts, cmd, func(ctx context.Context, svc *commands.Service) commands.ListResult[*domain.Announcement] {
				return svc.Announcements(ctx)
			}, func(a *domain.Announcement) string {
				line := fmt.Sprintf("%s  [%s]  %s", a.ID, a.Type, a.Title)
				if a.SourceID != "" {
					line += "  <- " + a.SourceID
				}
				return line
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

// NewMinistryCommand creates the ministry command group.
func NewMinistryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ministry",
		Short: "Create and list ministries",
	}

	var in commands.MinistryInput
	create := &cobra.Command{
		Use:           "create",
		Short:         "Create a ministry",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalCommand(rootOpts, cmd, "ministry create", func(ctx context.Context, a *app) (commands.Result, error) {
				return a.svc.CreateMinistry(ctx, rootOpts.User(), in)
			})
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "ministry name")
	create.Flags().StringVar(&in.Description, "description", "", "ministry description")
	create.Flags().StringVar(&in.MeetingTime, "meeting-time", "", "when the ministry meets")
	create.Flags().StringVar(&in.Location, "location", "", "where the ministry meets")
	create.Flags().StringVar(&in.ImageURL, "image", "", "image URL")
	create.Flags().BoolVar(&in.Public, "public", false, "show on the announcement feed")
	create.Flags().StringVar(&in.CorrelationID, "correlation-id", "", "idempotency key")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List ministries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListCommand(rootOpts, cmd, func(ctx context.Context, svc *commands.Service) commands.ListResult[*domain.Ministry] {
				return svc.Ministries(ctx)
			}, func(m *domain.Ministry) string {
				return fmt.Sprintf("%s  %s  %s%s", m.ID, m.Name, m.MeetingTime, publicMarker(m.Public))
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

// NewPrayerCommand creates the prayer command group.
func NewPrayerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prayer",
		Short: "Submit and tend prayer requests",
	}

	var correlationID string
	submit := &cobra.Command{
		Use:           "submit <text>",
		Short:         "Submit a prayer request",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return runLocalCommand(rootOpts, cmd, "prayer submit", func(ctx context.Context, a *app) (commands.Result, error) {
				return a.svc.SubmitPrayer(ctx, text, correlationID)
			})
		},
	}
	submit.Flags().StringVar(&correlationID, "correlation-id", "", "idempotency key")

	toggle := &cobra.Command{
		Use:           "toggle <prayer-id>",
		Short:         "Flip a prayer between answered and open",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalCommand(rootOpts, cmd, "prayer toggle", func(ctx context.Context, a *app) (commands.Result, error) {
				return a.svc.ToggleAnswered(ctx, args[0])
			})
		},
	}

	pray := &cobra.Command{
		Use:           "pray <prayer-id>",
		Short:         "Count one more person praying",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalCommand(rootOpts, cmd, "prayer pray", func(ctx context.Context, a *app) (commands.Result, error) {
				return a.svc.PrayFor(ctx, args[0])
			})
		},
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List prayer requests",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListCommand(rootOpts, cmd, func(ctx context.Context, svc *commands.Service) commands.ListResult[*domain.Prayer] {
				return svc.Prayers(ctx)
			}, func(p *domain.Prayer) string {
				state := "open"
				if p.IsAnswered {
					state = "answered"
				}
				return fmt.Sprintf("%s  %s  (%s, %d praying)", p.ID, p.Text, state, p.PrayedFor)
			})
		},
	}

	cmd.AddCommand(submit, toggle, pray, list)
	return cmd
}

// runLocalCommand runs one write against the local store. A write whose
// source committed but whose follow-up failed prints the result before
// the error.
func runLocalCommand(opts *RootOptions, cmd *cobra.Command, op string, fn func(context.Context, *app) (commands.Result, error)) error {
	a, err := openLocal(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return report(opts, cmd, op, func(ctx context.Context) (commands.Result, error) {
		return fn(ctx, a)
	})
}

// report runs fn and prints its Result or error.
func report(opts *RootOptions, cmd *cobra.Command, op string, fn func(context.Context) (commands.Result, error)) error {
	f := opts.formatter(cmd)
	res, err := fn(cmd.Context())
	if err != nil {
		if res.ID != "" {
			f.VerboseLog("%s committed %s before failing", op, describe(res))
		}
		return f.Fail(op, err)
	}
	verb := "✓"
	if res.Replayed {
		verb = "✓ (replayed)"
	}
	return f.Success(fmt.Sprintf("%s %s %s", verb, op, describe(res)), res)
}

func describe(res commands.Result) string {
	var b strings.Builder
	if res.Kind != "" {
		b.WriteString(string(res.Kind))
		b.WriteString("/")
	}
	b.WriteString(res.ID)
	if res.Revision > 0 {
		fmt.Fprintf(&b, " (revision %d)", res.Revision)
	}
	if res.CorrelationID != "" {
		fmt.Fprintf(&b, " [%s]", res.CorrelationID)
	}
	return b.String()
}

// runListCommand prints a collection read. A load failure is reported as
// an error rather than an empty list.
func runListCommand[T any](opts *RootOptions, cmd *cobra.Command, read func(context.Context, *commands.Service) commands.ListResult[T], line func(T) string) error {
	a, err := openLocal(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	f := opts.formatter(cmd)
	res := read(cmd.Context(), a.svc)
	if res.LoadError != nil {
		return f.Fail("list", res.LoadError)
	}
	if opts.Format == "json" {
		return f.Success("", res.Items)
	}
	if len(res.Items) == 0 {
		return f.Success("Nothing here yet.", nil)
	}
	lines := make([]string, len(res.Items))
	for i, item := range res.Items {
		lines[i] = line(item)
	}
	return f.Success(strings.Join(lines, "\n"), nil)
}

func publicMarker(public bool) string {
	if public {
		return "  (public)"
	}
	return ""
}
