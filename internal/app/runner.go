package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/semi-cli/internal/cache"
	"github.com/ggonzalez94/semi-cli/internal/config"
	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/execution"
	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/metrics"
	"github.com/ggonzalez94/semi-cli/internal/policy"
	"github.com/ggonzalez94/semi-cli/internal/schema"
	"github.com/ggonzalez94/semi-cli/internal/telemetry"
	"github.com/ggonzalez94/semi-cli/internal/version"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const tracerShutdownTimeout = 5 * time.Second

// Runner executes one CLI invocation and maps its outcome to an exit code.
type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr, now: time.Now}
}

// runtimeState is everything a command needs once flags and config are resolved.
type runtimeState struct {
	runner   *Runner
	root     *cobra.Command
	flags    config.GlobalFlags
	settings config.Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics
	services *services
	cache    cache.Backend
	journal  *execution.Journal

	shutdownTracing func(context.Context) error

	command string
	last    diagnostics
}

func (r *Runner) Run(args []string) int {
	s := &runtimeState{runner: r, logger: logging.Discard()}
	s.root = s.newRootCommand()
	s.root.SetArgs(args)
	s.root.SetOut(r.stdout)
	s.root.SetErr(r.stderr)
	s.root.SilenceUsage = true
	s.root.SilenceErrors = true

	err := classifyRunError(s.root.ExecuteContext(context.Background()))
	if err != nil {
		s.renderError(s.command, err, s.last)
	}
	s.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.services != nil {
		s.services.close()
	}
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer cancel()
		_ = s.shutdownTracing(ctx)
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   version.CLIName,
		Short: "Smart account wallet CLI: history, fees, balances, NFTs and transfers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return s.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := root.PersistentFlags()
	pf.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain key=value lines")
	pf.StringVar(&s.flags.Select, "select", "", "Comma-separated data fields to keep (dotted paths reach nested lists)")
	pf.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Print only the data payload")
	pf.StringVar(&s.flags.EnableCommands, "enable-commands", "", "Comma-separated allowlist of command paths")
	pf.BoolVar(&s.flags.Strict, "strict", false, "Fail instead of returning partial results")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "Upstream request timeout")
	pf.IntVar(&s.flags.Retries, "retries", -1, "Retries for idempotent upstream reads")
	pf.StringVar(&s.flags.MaxStale, "max-stale", "", "How long past its TTL a cached response may be served on upstream failure")
	pf.BoolVar(&s.flags.NoStale, "no-stale", false, "Never serve stale cached responses")
	pf.BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the response cache")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")

	root.AddCommand(
		s.newSchemaCommand(),
		s.newProvidersCommand(),
		s.newChainsCommand(),
		s.newHistoryCommand(),
		s.newFeeCommand(),
		s.newAccountCommand(),
		s.newBalancesCommand(),
		s.newNFTsCommand(),
		s.newTransferCommand(),
		s.newTransfersCommand(),
		s.newServeCommand(),
		newVersionCommand(),
	)
	return root
}

// setup resolves settings and opens only what the selected command uses.
func (s *runtimeState) setup(cmd *cobra.Command) error {
	settings, err := config.Load(s.flags)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
	}
	s.settings = settings
	s.logger = logging.New(logging.Options{Level: settings.LogLevel, Format: settings.LogFormat, Writer: s.runner.stderr})
	s.metrics = metrics.Init()

	s.command = trimRootPath(cmd.CommandPath())
	if err := policy.CheckCommandAllowed(settings.EnableCommands, s.command); err != nil {
		return err
	}

	shutdown, err := telemetry.InitTracer(cmd.Context(), settings.ServiceName, settings.OTLPEndpoint)
	if err != nil {
		s.logger.Warn("tracing disabled", "endpoint", settings.OTLPEndpoint, "error", err)
	}
	s.shutdownTracing = shutdown
	s.services = newServices(settings, s.logger, s.metrics)

	if settings.CacheEnabled && usesCache(s.command) {
		store, err := cache.Open(settings.CachePath, settings.CacheLockPath)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		s.cache = store
	}
	if usesJournal(s.command) {
		journal, err := openJournal(settings)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "open transfer journal", err)
		}
		s.journal = journal
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			v := version.CLIVersion
			if long {
				v = version.Long()
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emit(cmd, data)
		},
	}
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Upstream provider commands"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List upstream providers and their key requirements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emit(cmd, s.services.providerInfos())
		},
	})
	return root
}

// classifyRunError gives cobra's untyped errors an exit code.
func classifyRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range cobraUsageHints {
		if strings.Contains(msg, hint) {
			return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
		}
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

var cobraUsageHints = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"required flag(s)",
	"flag needs an argument",
	"requires at least",
	"requires exactly",
	"accepts ",
	"invalid argument",
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeCommandPath(path string) string {
	return strings.Join(strings.Fields(strings.ToLower(path)), " ")
}

// Only balances and nfts are cached; history and fees are always fetched fresh.
func usesCache(path string) bool {
	switch normalizeCommandPath(path) {
	case "balances", "nfts":
		return true
	}
	return false
}

func usesJournal(path string) bool {
	switch normalizeCommandPath(path) {
	case "transfer", "transfers list", "transfers show":
		return true
	}
	return false
}
