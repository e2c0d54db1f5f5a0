package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	// registers the kafka and nats sinks
	_ "github.com/maxpert/tablescan/export/sink"
)

const (
	Version = "0.3.0"
)

var (
	metricsServer *telemetry.Server
	reporter      *telemetry.ProgressReporter

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "tablescan",
		Short: "paginated, fault-tolerant table scanner",
		Long: fmt.Sprintf(`tablescan (v%s)

Walks a table of an embedded key-value store page by page, decodes and
transforms every record in parallel, and folds the results into an
aggregate. Transient page failures are retried a bounded number of times.`, Version),
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tablescan",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tablescan v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(txSizesCmd)
	RootCmd.AddCommand(trieDepthCmd)
	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(seedCmd)

	f := RootCmd.PersistentFlags()
	f.String("config", "tablescan.toml", "path to the TOML configuration file")
	f.String("data-dir", "", "store path (pebble directory or sqlite file)")
	f.String("backend", "", "store backend (pebble, sqlite, mysql, memory)")
	f.Int("page-size", 0, "records per page, 0 uses the store native page size")
	f.String("mode", "", "pagination mode (indexed, cursor)")
	f.Bool("reverse", false, "scan in descending key order")
	f.Int("max-retries", 0, "retries per page before the scan aborts")
	f.Int("workers", 0, "parallel decode/transform workers per page")
	f.Bool("verify", false, "check that no key is processed twice")
	f.Bool("export", false, "write derived tuples of every page to the configured sink")
	f.BoolP("verbose", "v", false, "debug logging")
}

// setup loads the environment and configuration, then logging and telemetry
func setup(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}
	_ = teardown(cmd, nil)

	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	path, _ := cmd.Flags().GetString("config")
	if err := cfg.Load(path); err != nil {
		return err
	}
	applyFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging()

	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()
	if cfg.Config.Prometheus.Enabled {
		srv, err := telemetry.StartServer(cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port, telemetry.Progress)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		metricsServer = srv
	}

	reporter = telemetry.NewProgressReporter(telemetry.Progress, 30*time.Second)
	reporter.Start()
	return nil
}

func teardown(*cobra.Command, []string) error {
	if reporter != nil {
		reporter.Stop()
		reporter = nil
	}
	if metricsServer != nil {
		metricsServer.Stop()
		metricsServer = nil
	}
	return nil
}

// applyFlags overrides configuration with flags set on the command line
func applyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	c := cfg.Config

	if f.Changed("data-dir") {
		c.Store.Path, _ = f.GetString("data-dir")
	}
	if f.Changed("backend") {
		v, _ := f.GetString("backend")
		c.Store.Backend = cfg.StoreBackend(v)
	}
	if f.Changed("page-size") {
		c.Scan.PageSize, _ = f.GetInt("page-size")
	}
	if f.Changed("mode") {
		v, _ := f.GetString("mode")
		c.Scan.Mode = cfg.ScanMode(v)
	}
	if f.Changed("reverse") {
		if reverse, _ := f.GetBool("reverse"); reverse {
			c.Scan.Direction = cfg.DirectionReverse
		} else {
			c.Scan.Direction = cfg.DirectionForward
		}
	}
	if f.Changed("max-retries") {
		c.Scan.MaxRetries, _ = f.GetInt("max-retries")
	}
	if f.Changed("workers") {
		c.Scan.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("verify") {
		c.Scan.VerifyExactlyOnce, _ = f.GetBool("verify")
	}
	if f.Changed("export") {
		c.Export.Enabled, _ = f.GetBool("export")
	}
	if f.Changed("verbose") {
		c.Logging.Verbose, _ = f.GetBool("verbose")
	}
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("tablescan failed")
		os.Exit(1)
	}
}
