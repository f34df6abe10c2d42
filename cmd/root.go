// Package cmd provides the command-line interface of mongoinit.
package cmd

import (
	"context"
	"fmt"
	"time"

	"mongoinit/bootstrap"
	"mongoinit/config"
	"mongoinit/metrics"
	"mongoinit/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Output formats
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// Seams replaced in tests
var (
	newDialer = func(cfg *config.Config, sugar *zap.SugaredLogger) storage.Dialer {
		return bootstrap.InitDialer(cfg, sugar)
	}
	newSecretManager = config.NewSecretManager
)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configFile     string
	output         string
	outputJSON     bool
	noColor        bool
	quiet          bool
	conflictPolicy string
}

func (o *rootOptions) format() string {
	if o.outputJSON {
		return formatJSON
	}
	return o.output
}

func (o *rootOptions) overrides() map[string]interface{} {
	overrides := map[string]interface{}{}
	if o.conflictPolicy != "" {
		overrides["app.conflict_policy"] = o.conflictPolicy
	}
	return overrides
}

// NewRootCmd builds the mongoinit command tree. Without a subcommand it behaves like "run".
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "mongoinit",
		Short: "Bootstrap a MongoDB database, collection and application user",
		Long: `mongoinit prepares a MongoDB instance for an application in one shot.

It authenticates as the administrator, creates the target collection when it is missing,
creates an application user with the dbOwner role on the target database only, and then
logs in as that user to prove the credential works. Running it again is safe.

Identifiers come from MONGO_INITDB_ROOT_USERNAME, MONGO_INITDB_DATABASE,
MONGO_INITDB_COLLECTION and MONGO_NON_ROOT_USERNAME. Passwords come from the secret files
mongodb_root_password and mongodb_user_password under /run/secrets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			switch opts.format() {
			case formatText, formatJSON, formatYAML:
				return nil
			default:
				return fmt.Errorf("%w: --output must be one of text, json, yaml", bootstrap.ErrConfig)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./mongoinit.yaml or /etc/mongoinit/mongoinit.yaml when present)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", formatText, "Output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format (same as --output json)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&opts.conflictPolicy, "conflict-policy", "", "What to do when the application user exists: skip, update or fail")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
	})

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newPlanCmd(opts))
	rootCmd.AddCommand(newVerifyCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command under ctx
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// session is everything a subcommand needs after inputs are resolved
type session struct {
	cfg     *config.Config
	sugar   *zap.SugaredLogger
	boot    *bootstrap.Bootstrapper
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup func()
}

func (s *session) close() {
	s.cancel()
	s.cleanup()
}

// prepare loads configuration and secrets, in that order, before anything touches the network.
// adminNeeded selects whether the administrative password is resolved.
func prepare(cmd *cobra.Command, opts *rootOptions, adminNeeded bool) (*session, error) {
	cfg, err := bootstrap.InitConfig(opts.configFile, opts.overrides())
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.quiet && (level == "debug" || level == "info") {
		level = "warn"
	}
	logger, sugar, err := bootstrap.InitLogger(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	cleanup := func() { _ = logger.Sync() }

	bootstrap.LogConfig(cfg, sugar)

	secrets, err := newSecretManager(cfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
	}

	var in bootstrap.Inputs
	if adminNeeded {
		in, err = bootstrap.LoadInputs(cfg, secrets, sugar)
	} else {
		in, err = bootstrap.LoadAppInputs(cfg, secrets, sugar)
	}
	if err != nil {
		cleanup()
		return nil, err
	}

	boot := bootstrap.New(newDialer(cfg, sugar), in, bootstrap.Options{
		ConnectRetries: cfg.MongoDB.ConnectRetries,
		RetryDelays:    bootstrap.DefaultRetryDelays,
		Target:         storage.RedactURI(storage.BuildURI(bootstrap.StorageOptions(cfg))),
		Stderr:         cmd.ErrOrStderr(),
	}, sugar)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, cfg.Timeout)

	return &session{
		cfg:     cfg,
		sugar:   sugar,
		boot:    boot,
		ctx:     ctx,
		cancel:  cancel,
		cleanup: cleanup,
	}, nil
}

// writeMetrics exports the run's metrics when a textfile path is configured
func writeMetrics(s *session) {
	path := s.cfg.Metrics.TextfilePath
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		s.sugar.Warnw("Failed to write metrics textfile", "path", path, "error", err)
		return
	}
	s.sugar.Debugw("Metrics textfile written", "path", path)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
