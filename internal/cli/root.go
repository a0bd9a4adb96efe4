package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/fellowship/internal/config"
	"github.com/roach88/fellowship/internal/domain"
)

// RootOptions holds global flags for all commands. Flags that are set
// override the matching settings-file value.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // settings file (.cue, .yaml)
	DB       string
	Remote   string
	Token    string
	UserID   string
	UserName string

	settings *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fellowship CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fellowship",
		Short: "Fellowship - community data sync",
		Long: `Local-first storage and group collaboration for a community app.

Events, announcements, ministries and prayers live in a local SQLite
store; public entities are projected onto the announcement feed. Groups,
messages, discussions and comments live in a shared realtime store,
reached through a hub started with "fellowship serve".`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := opts.Settings()
			if err != nil {
				return WrapExitError(ExitCommandError, "load settings", err)
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log, opts.Verbose))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.Config, "config", "c", "", "settings file (.cue, .yaml)")
	flags.StringVar(&opts.DB, "db", "", "local database path")
	flags.StringVar(&opts.Remote, "remote", "", "realtime hub URL")
	flags.StringVar(&opts.Token, "token", "", "realtime hub bearer token")
	flags.StringVar(&opts.UserID, "user", "", "signed-in user id")
	flags.StringVar(&opts.UserName, "user-name", "", "signed-in user display name")

	cmd.AddCommand(NewEventCommand(opts))
	cmd.AddCommand(NewAnnouncementCommand(opts))
	cmd.AddCommand(NewMinistryCommand(opts))
	cmd.AddCommand(NewPrayerCommand(opts))
	cmd.AddCommand(NewGroupCommand(opts))
	cmd.AddCommand(NewDiscussionCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Settings loads the settings file on first use and applies flag
// overrides.
func (o *RootOptions) Settings() (*config.Config, error) {
	if o.settings != nil {
		return o.settings, nil
	}
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, err
	}
	if o.DB != "" {
		cfg.Store.Path = o.DB
	}
	if o.Remote != "" {
		cfg.Remote.URL = o.Remote
	}
	if o.Token != "" {
		cfg.Remote.Token = o.Token
	}
	if o.UserID != "" {
		cfg.User.ID = o.UserID
	}
	if o.UserName != "" {
		cfg.User.Name = o.UserName
	}
	o.settings = cfg
	return cfg, nil
}

// User returns the signed-in user. The zero User is signed out.
func (o *RootOptions) User() domain.User {
	cfg, err := o.Settings()
	if err != nil {
		return domain.User{}
	}
	return domain.User{ID: cfg.User.ID, Name: cfg.User.Name}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
