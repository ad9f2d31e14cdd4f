package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/admitcraft/admitcraft/internal/errors"
	"github.com/admitcraft/admitcraft/internal/observability"
)

var (
	healthURL     string
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check.

Without --url the command verifies the binary can start: version information,
logger and configuration. With --url it probes a running proxy's /health
endpoint, which makes it usable as a container health check.`,
	Run: func(cmd *cobra.Command, args []string) {
		observability.CLILogger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		cfg, err := loadConfig(cmd)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration failed to load", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration failed to load"))
			return
		}
		observability.CLILogger.Info("✅ Configuration loaded")

		if err := cfg.Validate(); err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		observability.CLILogger.Info("✅ Configuration valid")

		if healthURL != "" {
			if err := probeHealth(cmd.Context(), healthURL, healthTimeout); err != nil {
				ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Proxy health probe failed", err)
				return
			}
			observability.CLILogger.Info("✅ Proxy responding", zap.String("url", healthURL))
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

// probeHealth issues GET url and requires a 200 response.
func probeHealth(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errwrap.WrapInternal(ctx, err, "invalid health url")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errwrap.WrapInternal(ctx, err, "health request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return errwrap.NewServiceUnavailableError(fmt.Sprintf("health endpoint returned %d", resp.StatusCode))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthURL, "url", "", "probe a running proxy, e.g. http://127.0.0.1:3000/health")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "probe timeout")
}
