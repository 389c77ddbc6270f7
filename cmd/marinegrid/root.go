package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time via -ldflags, matching the
// teacher's single-binary versioning convention.
var buildVersion = "dev"

// flagSet bundles every persistent flag bound into config.Load, so a
// single *pflag.FlagSet can be passed straight through to viper.
type flagSet struct {
	configPath  string
	logLevel    string
	logPretty   bool
	httpAddr    string
	sqliteDSN   string
	redisAddr   string
	uploadURL   string
	snapshotDir string
}

func newRootCmd() *cobra.Command {
	flags := &flagSet{}

	root := &cobra.Command{
		Use:   "marinegrid",
		Short: "On-device marine weather intelligence and emergency alerting",
		Long: "marinegrid ingests live sensor telemetry, compares it against a\n" +
			"locally cached forecast seed, and raises emergency alerts when\n" +
			"observation and prediction diverge, entirely offline-capable.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to a YAML config file overlaying the built-in defaults")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.logPretty, "log-pretty", false, "use human-readable console logging instead of JSON lines")
	pf.StringVar(&flags.httpAddr, "http-addr", ":8080", "address the operational HTTP surface listens on")
	pf.StringVar(&flags.sqliteDSN, "sqlite-dsn", "file:marinegrid.db?cache=shared&_pragma=busy_timeout(5000)", "SQLite DSN shared by the pattern catalog and upload outbox")
	pf.StringVar(&flags.redisAddr, "redis-addr", "", "optional Redis address accelerating pattern geo-search")
	pf.StringVar(&flags.uploadURL, "upload-url", "", "grid fleet-learning endpoint divergence snapshots upload to")
	pf.StringVar(&flags.snapshotDir, "snapshot-dir", "./snapshots", "directory divergence snapshots are persisted to before upload")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), buildVersion)
			return err
		},
	}
}
