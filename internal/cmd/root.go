package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/ailink/driver"
	"github.com/admitcraft/admitcraft/internal/config"
	"github.com/admitcraft/admitcraft/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	// traceCleanup closes the upstream trace file on shutdown
	traceCleanup func()

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Rate-limited chat completion proxy for the Anthropic Messages API",
	Long: fmt.Sprintf(`%s - rate-limited chat completion proxy for the Anthropic Messages API

Browser clients POST a conversation to /generate; the proxy validates it,
enforces a per-client sliding-window limit and relays the upstream reply.
The API key stays on the server.

Use the subcommands to perform specific operations.`, config.AppName),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so nothing emits before serve installs
	// the Prometheus-backed system.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml or ./config/config.yaml)", config.AppName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace upstream requests/responses to NDJSON file")
}

// initConfig prepares the CLI logger and optional upstream tracing. The
// configuration itself is loaded per command so reload reads fresh values.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	if traceFile != "" {
		cleanup, err := driver.EnableTracing(traceFile)
		if err != nil {
			observability.CLILogger.Warn("Failed to enable tracing", zap.Error(err))
		} else {
			observability.CLILogger.Debug("Upstream tracing enabled", zap.String("file", traceFile))
			traceCleanup = cleanup
		}
	}
}

// loadConfig loads configuration honouring --config and any flags the user
// set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Context(), cfgFile, flagOverrides(cmd))
}

// flagOverrides maps explicitly set command flags onto config paths.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	server := map[string]any{}

	flags := cmd.Flags()
	if flags.Changed("host") {
		if v, err := flags.GetString("host"); err == nil {
			server["host"] = v
		}
	}
	if flags.Changed("port") {
		if v, err := flags.GetInt("port"); err == nil {
			server["port"] = v
		}
	}
	if flags.Changed("trust-proxy") {
		if v, err := flags.GetBool("trust-proxy"); err == nil {
			server["trust_proxy_headers"] = v
		}
	}
	if len(server) > 0 {
		overrides["server"] = server
	}

	if verbose {
		overrides["logging"] = map[string]any{"level": "debug"}
	}

	return overrides
}
