package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/kafkadeck/internal/config"
	"github.com/ppiankov/kafkadeck/internal/connector"
	"github.com/ppiankov/kafkadeck/internal/kafka"
	"github.com/ppiankov/kafkadeck/internal/logging"
	"github.com/ppiankov/kafkadeck/internal/registry"
	"github.com/ppiankov/kafkadeck/internal/reporter"
	"github.com/ppiankov/kafkadeck/internal/session"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const defaultRequestTimeout = 30 * time.Second

func main() {
	_ = logging.Init(false, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("command failed", "error", err)
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_, _ = fmt.Fprintf(os.Stderr, "Tip: Use 'kafkadeck --help' for usage information.\n")
		os.Exit(classifyError(err))
	}
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	verbose        bool
	logFormat      string
	configPath     string
	stateDir       string
	output         string
	connectTimeout time.Duration
	requestTimeout time.Duration
	authMechanism  string
	username       string
	password       string
	tlsEnabled     bool
	tlsCert        string
	tlsKey         string
	tlsCA          string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "kafkadeck",
		Short:         "kafkadeck tracks and inspects many Kafka clusters at once",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Init(opts.verbose, opts.logFormat); err != nil {
				return usageErr(err)
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErr(err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format (text|json)")
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default: auto-discover .kafkadeck.yaml)")
	flags.StringVar(&opts.stateDir, "state-dir", "", "Directory holding clusters.json")
	flags.StringVarP(&opts.output, "output", "o", "text", "Output format (text|json)")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", connector.DefaultTimeout, "Bound on each connect attempt")
	flags.DurationVar(&opts.requestTimeout, "request-timeout", defaultRequestTimeout, "Bound on topic and message requests")
	flags.StringVar(&opts.authMechanism, "auth-mechanism", "", "SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)")
	flags.StringVar(&opts.username, "username", "", "SASL username")
	flags.StringVar(&opts.password, "password", "", "SASL password")
	flags.BoolVar(&opts.tlsEnabled, "tls", false, "Enable TLS")
	flags.StringVar(&opts.tlsCert, "tls-cert", "", "Path to TLS client certificate")
	flags.StringVar(&opts.tlsKey, "tls-key", "", "Path to TLS client private key")
	flags.StringVar(&opts.tlsCA, "tls-ca", "", "Path to TLS CA certificate")

	cmd.AddCommand(newClusterCmd(opts))
	cmd.AddCommand(newConnectCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newTopicsCmd(opts))
	cmd.AddCommand(newPartitionsCmd(opts))
	cmd.AddCommand(newMessagesCmd(opts))
	cmd.AddCommand(newProduceCmd(opts))
	cmd.AddCommand(newTopicCmd(opts))
	cmd.AddCommand(newGroupsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "version: %s\n", Version); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "commit:  %s\n", GitCommit); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "date:    %s\n", BuildDate); err != nil {
				return err
			}
			return nil
		},
	}
}

// resolveOptions fills unset flags from the config file and validates the
// result. Flags win over config; config wins over built-in defaults.
func resolveOptions(cmd *cobra.Command, opts rootOptions) (rootOptions, error) {
	var (
		cfg     *config.Config
		cfgPath string
		err     error
	)
	if strings.TrimSpace(opts.configPath) != "" {
		cfgPath = opts.configPath
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, cfgPath, err = config.Load()
	}
	if err != nil {
		return opts, usageErr(err)
	}
	if cfg != nil {
		if cfgPath != "" {
			slog.Debug("loaded defaults from config", "path", cfgPath)
		}
		opts = applyConfigDefaults(cmd, opts, cfg)
	}

	if strings.TrimSpace(opts.stateDir) == "" {
		dir, err := config.DefaultStateDir()
		if err != nil {
			return opts, err
		}
		opts.stateDir = dir
	}

	opts.output = strings.ToLower(strings.TrimSpace(opts.output))
	if opts.output == "" {
		opts.output = "text"
	}
	if opts.output != "json" && opts.output != "text" {
		return opts, usageErr(fmt.Errorf("invalid output format %q (expected json or text)", opts.output))
	}
	if opts.authMechanism != "" && (opts.username == "" || opts.password == "") {
		return opts, usageErr(errors.New("auth-mechanism requires both --username and --password"))
	}
	if (opts.tlsCert == "") != (opts.tlsKey == "") {
		return opts, usageErr(errors.New("--tls-cert and --tls-key must be provided together"))
	}
	if opts.connectTimeout <= 0 || opts.requestTimeout <= 0 {
		return opts, usageErr(errors.New("timeouts must be greater than zero"))
	}

	return opts, nil
}

func applyConfigDefaults(cmd *cobra.Command, opts rootOptions, cfg *config.Config) rootOptions {
	if !flagChanged(cmd, "state-dir") && cfg.Has(config.KeyStateDir) {
		opts.stateDir = cfg.StateDir
	}
	if !flagChanged(cmd, "output") && cfg.Has(config.KeyOutput) {
		opts.output = cfg.Output
	}
	if !flagChanged(cmd, "connect-timeout") && cfg.Has(config.KeyConnectTimeout) {
		opts.connectTimeout = cfg.ConnectTimeout
	}
	if !flagChanged(cmd, "request-timeout") && cfg.Has(config.KeyRequestTimeout) {
		opts.requestTimeout = cfg.RequestTimeout
	}
	if !flagChanged(cmd, "auth-mechanism") && cfg.Has(config.KeyAuthMechanism) {
		opts.authMechanism = cfg.AuthMechanism
	}
	if !flagChanged(cmd, "username") && cfg.Has(config.KeyUsername) {
		opts.username = cfg.Username
	}
	if !flagChanged(cmd, "password") && cfg.Has(config.KeyPassword) {
		opts.password = cfg.Password
	}
	if !flagChanged(cmd, "tls") && cfg.Has(config.KeyTLS) {
		opts.tlsEnabled = cfg.TLS
	}
	if !flagChanged(cmd, "tls-cert") && cfg.Has(config.KeyTLSCert) {
		opts.tlsCert = cfg.TLSCert
	}
	if !flagChanged(cmd, "tls-key") && cfg.Has(config.KeyTLSKey) {
		opts.tlsKey = cfg.TLSKey
	}
	if !flagChanged(cmd, "tls-ca") && cfg.Has(config.KeyTLSCA) {
		opts.tlsCA = cfg.TLSCA
	}

	return opts
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}

	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		flag = cmd.InheritedFlags().Lookup(name)
	}
	if flag == nil {
		flag = cmd.PersistentFlags().Lookup(name)
	}
	if flag == nil {
		return false
	}

	return flag.Changed
}

// app is everything a subcommand needs once options are resolved.
type app struct {
	opts   rootOptions
	reg    *registry.Registry
	coord  *session.Coordinator
	report reporter.Reporter
}

func openApp(cmd *cobra.Command, raw *rootOptions) (*app, error) {
	opts, err := resolveOptions(cmd, *raw)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(opts.stateDir)
	if err != nil {
		return nil, err
	}

	dialer, err := kafka.NewDialer(kafka.Config{
		AuthMechanism:  opts.authMechanism,
		Username:       opts.username,
		Password:       opts.password,
		TLSEnabled:     opts.tlsEnabled,
		TLSCertFile:    opts.tlsCert,
		TLSKeyFile:     opts.tlsKey,
		TLSCAFile:      opts.tlsCA,
		DialTimeout:    opts.connectTimeout,
		RequestTimeout: opts.requestTimeout,
	})
	if err != nil {
		return nil, usageErr(err)
	}

	report, err := reporter.New(opts.output, cmd.OutOrStdout())
	if err != nil {
		return nil, usageErr(err)
	}

	return &app{
		opts:   opts,
		reg:    reg,
		coord:  session.New(reg, connector.New(dialer, opts.connectTimeout)),
		report: report,
	}, nil
}

func (a *app) Close() {
	a.coord.Close()
}

// requestContext bounds topic and message requests.
func (a *app) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.opts.requestTimeout)
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
