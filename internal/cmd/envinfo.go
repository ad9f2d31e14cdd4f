package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/config"
	"github.com/admitcraft/admitcraft/internal/observability"
	"github.com/admitcraft/admitcraft/internal/output"
)

var envInfoFormat string

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, version and effective configuration. Secrets are redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(envInfoFormat)
		if err != nil {
			return err
		}

		version := crucible.GetVersion()

		observability.CLILogger.Info("=== AdmitCraft Environment Information ===")
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + config.AppName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := loadConfig(cmd)
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return nil
		}

		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("  API Key:        " + envStatus(config.APIKeyEnv))

		rendered, err := output.FormatValue(format, cfg.Redacted())
		if err != nil {
			return fmt.Errorf("render configuration: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)

		observability.CLILogger.Info("=== End Environment Information ===")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
	envInfoCmd.Flags().StringVarP(&envInfoFormat, "format", "f", "yaml", "configuration output format (yaml, json)")
}
