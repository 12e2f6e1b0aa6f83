package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hcharvest/internal/apiclient"
	"hcharvest/internal/config"
	"hcharvest/internal/harvest"
	"hcharvest/internal/logger"
)

// options holds every flag. Flags only override the configuration when set.
type options struct {
	configFile    string
	envFile       string
	output        string
	converter     string
	state         string
	logLevel      string
	logFormat     string
	concurrency   int
	limit         int
	noFrontmatter bool
	verify        bool
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Export a help center to Markdown",
		Long:          "Walks every collection, section and article of a help center, converts article bodies to Markdown, downloads their images and writes an index.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Path to YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	flags.StringVarP(&opts.output, "output", "o", "", "Output directory (overrides config)")
	flags.StringVar(&opts.converter, "converter", "", "HTML converter: native or library (overrides config)")
	flags.StringVar(&opts.state, "state", "", "Only harvest articles in this state, e.g. published")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", 0, "Articles processed in parallel (overrides config)")
	flags.IntVar(&opts.limit, "limit", 0, "Stop after this many articles (0 = all)")
	flags.BoolVar(&opts.noFrontmatter, "no-frontmatter", false, "Write plain Markdown without a frontmatter block")
	flags.BoolVar(&opts.verify, "verify", false, "Verify the output tree after the run")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest the help center (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts)
		},
	}

	root.AddCommand(runCmd, newVerifyCmd(opts), newFormatCmd(opts))

	return root
}

// loadConfig layers defaults, the YAML file, the environment and flags, in that order.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(opts.envFile); err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed

	if changed("output") {
		cfg.Output.BasePath = opts.output
	}

	if changed("converter") {
		cfg.Harvest.Converter = opts.converter
	}

	if changed("state") {
		cfg.Harvest.State = opts.state
	}

	if changed("concurrency") {
		cfg.Harvest.Concurrency = opts.concurrency
	}

	if changed("limit") {
		cfg.Harvest.Limit = opts.limit
	}

	if changed("no-frontmatter") {
		cfg.Output.Frontmatter = !opts.noFrontmatter
	}

	if changed("verify") {
		cfg.Harvest.VerifyOutput = opts.verify
	}

	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}

	if changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}

	return cfg, nil
}

func runHarvest(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := apiclient.NewClient(cfg.API, cfg.Retry, log)
	if err != nil {
		return err
	}

	h, err := harvest.New(cfg, client, log)
	if err != nil {
		return err
	}

	summary, runErr := h.Run(ctx)

	printSummary(cmd.OutOrStdout(), summary)

	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Output written to %s\n", cfg.Output.BasePath)

	return nil
}
