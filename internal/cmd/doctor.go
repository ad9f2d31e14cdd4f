package cmd

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/config"
	"github.com/admitcraft/admitcraft/internal/observability"
	"github.com/admitcraft/admitcraft/internal/output"
)

var (
	doctorFormat       string
	doctorConnectivity bool
	doctorInitForce    bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and configuration and suggest fixes for common issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(doctorFormat)
		if err != nil {
			return err
		}

		report := runDoctor(cmd.Context(), cmd, doctorConnectivity)

		rendered, err := output.NewFormatter(format).FormatReport(report)
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)

		if !report.Healthy() {
			observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
			return fmt.Errorf("doctor found problems")
		}
		observability.CLILogger.Info("✅ All checks passed")
		return nil
	},
}

// runDoctor collects every diagnostic into a report.
func runDoctor(ctx context.Context, cmd *cobra.Command, connectivity bool) *output.Report {
	report := &output.Report{Title: config.AppName + " doctor"}

	goVersion := runtime.Version()
	report.Add("go runtime", output.StatusInfo, fmt.Sprintf("%s %s/%s", goVersion, runtime.GOOS, runtime.GOARCH))

	version := crucible.GetVersion()
	if version.Crucible != "" && version.Gofulmen != "" {
		report.Add("gofulmen", output.StatusOK, fmt.Sprintf("gofulmen %s, crucible %s", version.Gofulmen, version.Crucible))
	} else {
		report.Add("gofulmen", output.StatusWarn, "version metadata unavailable")
	}

	configPath := config.DefaultConfigPath()
	switch {
	case configPath == "":
		report.Add("config file", output.StatusWarn, "config directory not resolved")
	case fileExists(configPath):
		report.Add("config file", output.StatusOK, configPath)
	default:
		report.Add("config file", output.StatusInfo, configPath+" (missing; defaults and environment apply)")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		report.Add("config load", output.StatusFail, err.Error())
		return report
	}
	report.Add("config load", output.StatusOK, "defaults, file and environment merged")

	if err := cfg.Validate(); err != nil {
		report.Add("config valid", output.StatusFail, err.Error())
	} else {
		report.Add("config valid", output.StatusOK, "")
	}

	if strings.TrimSpace(cfg.Upstream.APIKey) == "" {
		report.Add("api key", output.StatusFail, config.APIKeyEnv+" is not set")
	} else {
		report.Add("api key", output.StatusOK, "set")
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	if err := checkPortFree(addr); err != nil {
		report.Add("listen address", output.StatusWarn, fmt.Sprintf("%s unavailable: %v", addr, err))
	} else {
		report.Add("listen address", output.StatusOK, addr)
	}

	report.Add("rate limit", output.StatusInfo, fmt.Sprintf("%d requests per %s per client", cfg.RateLimit.Requests, cfg.RateLimit.Window))
	if cfg.Server.TrustProxyHeaders {
		report.Add("proxy headers", output.StatusWarn, "trusted; only safe behind a proxy that overwrites X-Forwarded-For")
	}

	if cfg.Metrics.Enabled {
		report.Add("metrics", output.StatusInfo, fmt.Sprintf("exporter on :%d, scraped via /metrics", cfg.Metrics.Port))
	} else {
		report.Add("metrics", output.StatusInfo, "disabled")
	}

	if connectivity {
		if err := checkUpstreamReachable(ctx, cfg.Upstream.BaseURL); err != nil {
			report.Add("upstream", output.StatusFail, err.Error())
		} else {
			report.Add("upstream", output.StatusOK, cfg.Upstream.BaseURL+" reachable")
		}
	}

	return report
}

// checkPortFree binds and releases addr.
func checkPortFree(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

// checkUpstreamReachable dials the upstream host without sending a request,
// so no credential leaves the machine.
func checkUpstreamReachable(ctx context.Context, baseURL string) error {
	host, err := hostPort(baseURL)
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", host, err)
	}
	return conn.Close()
}

func hostPort(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse upstream base url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("upstream base url has no host: %q", baseURL)
	}

	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		return writeInitConfig(configPath, doctorInitForce)
	},
}

func writeInitConfig(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(buildInitConfig()), 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
	return nil
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorCmd.Flags().StringVarP(&doctorFormat, "format", "f", "table", "report format (table, json, yaml, markdown)")
	doctorCmd.Flags().BoolVar(&doctorConnectivity, "connectivity", false, "also dial the upstream API host")
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}

func buildInitConfig() string {
	lines := []string{
		"# admitcraft config - created by 'admitcraft doctor init'",
		"# The API key is read from ANTHROPIC_API_KEY; keep it out of this file.",
		"server:",
		"  host: 0.0.0.0",
		"  port: 3000",
		"  max_body_bytes: 10485760",
		"  trust_proxy_headers: false",
		"rate_limit:",
		"  requests: 20",
		"  window: 1h",
		"  sweep_interval: 10m",
		"generate:",
		"  max_content_length: 50000",
		"  default_max_tokens: 4000",
		"upstream:",
		"  model: claude-sonnet-4-20250514",
		"logging:",
		"  level: info",
		"metrics:",
		"  enabled: false",
		"  port: 9090",
	}
	return strings.Join(lines, "\n") + "\n"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
