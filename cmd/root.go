package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/sift/internal/config"
	"github.com/agentic-research/sift/internal/engine"
	"github.com/agentic-research/sift/internal/events"
	"github.com/agentic-research/sift/internal/logging"
	"github.com/agentic-research/sift/internal/store"
	"github.com/agentic-research/sift/internal/tokens"
	"github.com/agentic-research/sift/internal/vcs"
	"github.com/agentic-research/sift/internal/walk"
)

var version = "dev"

var (
	configPath   string
	logLevel     string
	storePath    string
	storeBackend string

	cfg *config.Config
	eng *engine.Engine
	bus *events.Broadcaster
	// rec keeps this invocation's events so one-shot commands can report
	// counts the background workers produced.
	rec *events.Recorder
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to sift.hcl (default ~/.config/sift/sift.hcl)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Path to the token cache store")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store-backend", "", "Store backend: sqlite, json or memory")
}

var rootCmd = &cobra.Command{
	Use:           "sift",
	Short:         "sift: tree search, tri-state selection and token counts for prompt assembly",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		if storePath != "" {
			c.Store.Path = storePath
		}
		if storeBackend != "" {
			c.Store.Backend = storeBackend
		}
		if cmd.Flags().Changed("metrics-addr") {
			c.MetricsAddr = metricsAddr
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logging.Init(logging.Config{Level: c.LogLevel, Format: c.LogFormat}); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}

		st, err := store.Open(c.Store.Backend, c.StorePath())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		bus = events.NewBroadcaster()
		sinks := events.Multi{bus}
		if cmd != serveCmd {
			rec = &events.Recorder{}
			sinks = append(sinks, rec)
		}
		if streamEvents {
			sinks = append(sinks, events.NewWriterSink(cmd.OutOrStdout()))
		}

		cfg = c
		eng = engine.New(engine.Options{
			Lister:         walk.NewLister(),
			VCS:            vcs.New(c.Git.MaxChanges),
			Store:          st,
			Counter:        tokens.NewCounter(c.Tokens.Encoding),
			Sink:           sinks,
			Workers:        c.Tokens.Workers,
			BatchSize:      c.Tokens.BatchSize,
			IndexCacheSize: c.Index.CacheSize,
			Debounce:       c.Watch.Debounce,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		defer logging.Sync() //nolint:errcheck
		if eng == nil {
			return nil
		}
		return eng.Close()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
