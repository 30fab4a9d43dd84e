package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/lgc202/stripe-go-kit/config"
	"github.com/lgc202/stripe-go-kit/httpx"
	"github.com/lgc202/stripe-go-kit/telemetry"
)

// AppOption customizes App dependencies.
type AppOption func(*App)

// WithIO injects process output streams.
func WithIO(stdout, stderr io.Writer) AppOption {
	return func(a *App) {
		if stdout != nil {
			a.stdout = stdout
		}
		if stderr != nil {
			a.stderr = stderr
		}
	}
}

// WithClientOptions appends options used when building the API client.
func WithClientOptions(opts ...httpx.Option) AppOption {
	return func(a *App) { a.clientOpts = append(a.clientOpts, opts...) }
}

// App holds CLI state and runtime dependencies.
type App struct {
	root *cobra.Command

	stdout     io.Writer
	stderr     io.Writer
	isTerminal func(w io.Writer) bool
	clientOpts []httpx.Option

	cfgFile    string
	apiBase    string
	apiKey     string
	proxy      string
	telemetry  bool
	maxRetries int
	jsonOutput bool
	verbose    bool
	rateLimit  float64

	store  *config.Store
	client *httpx.Client

	// key scopes telemetry to this process's sequence of calls.
	key telemetry.Key
}

// NewApp creates a new CLI app with default dependencies.
func NewApp(opts ...AppOption) *App {
	a := &App{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		isTerminal: isTerminal,
		key:        telemetry.NewKey(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.root = a.newRootCommand()
	return a
}

func (a *App) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "stripekit",
		Short: "stripekit - command-line client for the Stripe API",
		Long: `stripekit reads and updates API resources.

Settings are read from --config (YAML or JSON), then STRIPE_* environment
variables (e.g. STRIPE_API_KEY), then flags.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initSettings(cmd)
		},
		SilenceUsage: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file")
	pf.StringVar(&a.apiBase, "api-base", "", "API base URL (default "+config.DefaultAPIBase+")")
	pf.StringVar(&a.apiKey, "api-key", "", "secret API key")
	pf.StringVar(&a.proxy, "proxy", "", "HTTP proxy URL")
	pf.BoolVar(&a.telemetry, "telemetry", true, "send client telemetry")
	pf.IntVar(&a.maxRetries, "max-retries", config.DefaultMaxNetworkRetries, "maximum number of network retries")
	pf.BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	pf.BoolVar(&a.verbose, "verbose", false, "enable debug logging")
	pf.Float64Var(&a.rateLimit, "rate-limit", 0, "maximum requests per second (0 = unlimited)")

	root.AddCommand(a.newBalanceCommand())
	root.AddCommand(a.newCustomerCommand())
	root.AddCommand(a.newConfigCommand())
	root.AddCommand(a.newVersionCommand())
	return root
}

// Execute runs the root command.
func (a *App) Execute() error {
	return a.root.Execute()
}

// ExecuteContext runs the root command with ctx.
func (a *App) ExecuteContext(ctx context.Context) error {
	return a.root.ExecuteContext(ctx)
}

// SetArgs overrides the command-line arguments, mainly for tests.
func (a *App) SetArgs(args ...string) {
	a.root.SetArgs(args)
}

// initSettings loads settings and applies the flags the user set explicitly.
func (a *App) initSettings(cmd *cobra.Command) error {
	store, err := config.LoadSettings(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	store.Update(func(s *config.Settings) {
		if flags.Changed("api-base") {
			s.APIBase = a.apiBase
		}
		if flags.Changed("api-key") {
			s.APIKey = a.apiKey
		}
		if flags.Changed("proxy") {
			s.Proxy = a.proxy
		}
		if flags.Changed("telemetry") {
			s.EnableTelemetry = a.telemetry
		}
		if flags.Changed("max-retries") {
			s.MaxNetworkRetries = a.maxRetries
		}
	})
	if err := store.Get().Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	a.store = store
	return nil
}

// apiClient builds the API client on first use.
func (a *App) apiClient() (*httpx.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if a.store.Get().APIKey == "" {
		return nil, fmt.Errorf("no API key: set --api-key, STRIPE_API_KEY or api_key in the config file")
	}
	opts := []httpx.Option{httpx.WithLogger(a.logger())}
	if a.rateLimit > 0 {
		opts = append(opts, httpx.WithRateLimit(rate.Limit(a.rateLimit), 1))
	}
	opts = append(opts, a.clientOpts...)
	c, err := httpx.New(a.store, opts...)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// callContext returns the context for API calls made by cmd.
func (a *App) callContext(cmd *cobra.Command) context.Context {
	return telemetry.WithKey(cmd.Context(), a.key)
}

func (a *App) logger() *slog.Logger {
	if !a.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
