package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/util"
)

type globalFlags struct {
	storeURI string
	database string
	logLevel string
	output   string
	timeout  time.Duration
}

// opener connects to the backend the commands operate on.
type opener func(ctx context.Context, flags *globalFlags, logger *zap.Logger) (store.Backend, error)

func openMongo(ctx context.Context, flags *globalFlags, logger *zap.Logger) (store.Backend, error) {
	return store.NewMongoStore(ctx, store.MongoConfig{
		URI:      flags.storeURI,
		Database: flags.database,
		Timeout:  flags.timeout,
	}, logger)
}

type cli struct {
	flags  globalFlags
	open   opener
	out    io.Writer
	logger *zap.Logger
}

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	c := &cli{open: open, out: out}

	root := &cobra.Command{
		Use:   "packrat-cli",
		Short: "Inspect healthcheck collector state",
		Long: `packrat-cli reads and repairs the state the collector keeps in the record store:
partition cursors, per-topic namespaces and persisted healthcheck sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := util.NewLogger(util.ParseLogLevel(c.flags.logLevel))
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.storeURI, "store-uri", "mongodb://localhost:27017", "Record store connection URI")
	pf.StringVar(&c.flags.database, "database", "packrat", "Record store database")
	pf.StringVar(&c.flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVarP(&c.flags.output, "output", "o", "text", "Output format: text, json, yaml")
	pf.DurationVar(&c.flags.timeout, "timeout", 10*time.Second, "Store operation timeout")

	root.AddCommand(c.offsetsCmd(), c.namespacesCmd(), c.recordsCmd())
	return root
}

// withStore opens the backend for the duration of one command.
func (c *cli) withStore(cmd *cobra.Command, fn func(ctx context.Context, b store.Backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.flags.timeout)
	defer cancel()

	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backend, err := c.open(ctx, &c.flags, logger)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer backend.Close(context.Background())

	return fn(ctx, backend)
}

// print writes v in the selected output format; text uses the given line.
func (c *cli) print(v any, text string) error {
	switch c.flags.output {
	case "json":
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(c.out)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		_, err := fmt.Fprintln(c.out, text)
		return err
	default:
		return fmt.Errorf("unknown output format %q", c.flags.output)
	}
}
