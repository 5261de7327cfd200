// Package main is the entrypoint for the streamarr server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nickelsh1ts/streamarr/internal/platform/config"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Environment variables that provide flag defaults.
const (
	envConfig   = "STREAMARR_CONFIG"
	envMode     = "STREAMARR_MODE"
	envLogLevel = "STREAMARR_LOG_LEVEL"
	envListen   = "STREAMARR_LISTEN"
)

// globalFlags are the persistent flags shared by every command. Empty
// values leave the config file or preset in charge.
type globalFlags struct {
	configPath    string
	mode          string
	listenAddr    string
	publicOrigin  string
	dataDir       string
	tlsMode       string
	storeDriver   string
	cacheDriver   string
	adminEmail    string
	adminPassword string
	logLevel      string
	logFormat     string
	jobs          string
}

var flags globalFlags

// overrides turns the set flags into loader overrides.
func (f *globalFlags) overrides() config.FlagOverrides {
	opt := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	return config.FlagOverrides{
		ListenAddr:    opt(f.listenAddr),
		PublicOrigin:  opt(f.publicOrigin),
		DataDir:       opt(f.dataDir),
		TLSMode:       opt(f.tlsMode),
		StoreDriver:   opt(f.storeDriver),
		CacheDriver:   opt(f.cacheDriver),
		AdminEmail:    opt(f.adminEmail),
		AdminPassword: opt(f.adminPassword),
		LoggingLevel:  opt(f.logLevel),
		LoggingFormat: opt(f.logFormat),
		JobsEnabled:   opt(f.jobs),
	}
}

var rootCmd = &cobra.Command{
	Use:           "streamarr",
	Short:         "Streamarr invite and notification server",
	Long:          `Streamarr manages invite codes with per-user quotas and delivers notifications by email, web push and in-app.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", os.Getenv(envConfig), "Path to TOML config file (optional) [$"+envConfig+"]")
	pf.StringVar(&flags.mode, "mode", os.Getenv(envMode), "Operating mode: prod or dev (overrides config) [$"+envMode+"]")
	pf.StringVar(&flags.listenAddr, "listen", os.Getenv(envListen), "Listen address (overrides config) [$"+envListen+"]")
	pf.StringVar(&flags.publicOrigin, "public-origin", "", "Public origin (overrides config)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Data directory (overrides config)")
	pf.StringVar(&flags.tlsMode, "tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	pf.StringVar(&flags.storeDriver, "store", "", "Store driver: memory or sqlite (overrides config)")
	pf.StringVar(&flags.cacheDriver, "cache", "", "Cache driver: memory or redis (overrides config)")
	pf.StringVar(&flags.adminEmail, "admin-email", "", "Bootstrap owner email (overrides config)")
	pf.StringVar(&flags.adminPassword, "admin-password", "", "Bootstrap owner password (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", os.Getenv(envLogLevel), "Log level: trace, debug, info, warn, error (overrides config) [$"+envLogLevel+"]")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: json or text (overrides config)")
	pf.StringVar(&flags.jobs, "jobs", "", "Run scheduled jobs with the server: true or false (overrides config)")

	rootCmd.AddCommand(serveCmd, jobsCmd, vapidCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "streamarr %s\n", Version)
		if GitCommit != "unknown" {
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
