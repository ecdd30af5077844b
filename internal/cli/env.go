package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/docstore/internal/config"
	"github.com/roach88/docstore/internal/metrics"
	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
	"github.com/roach88/docstore/internal/storage/memory"
	pebblestore "github.com/roach88/docstore/internal/storage/pebble"
	"github.com/roach88/docstore/internal/storage/sqlite"
)

// collectionOptions names the collection a command works on.
type collectionOptions struct {
	Collection string
	SchemaPath string
}

func (o *collectionOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Collection, "collection", "", "collection name (required)")
	cmd.Flags().StringVar(&o.SchemaPath, "schema", "", "collection schema file: .json, .yaml or .cue (required)")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("schema")
}

// environment is the storage stack one command runs against.
type environment struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    storage.Storage
	registry *prometheus.Registry
	observer storage.Observer

	metricsFile string
	closeStore  func() error
	instances   []storage.Instance
}

// loadConfig reads the config file, if any, and applies the flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadConfig(opts.ConfigPath); err != nil {
			return nil, err
		}
	}
	if opts.Backend != "" {
		cfg.Storage.Backend = opts.Backend
	}
	if opts.DataDir != "" {
		cfg.Storage.DataDir = opts.DataDir
	}
	if opts.Database != "" {
		cfg.Storage.Database = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openEnvironment(opts *RootOptions) (*environment, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger(opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	env := &environment{cfg: cfg, logger: logger, metricsFile: opts.MetricsFile}
	if cfg.Metrics.Enabled || opts.MetricsFile != "" {
		env.registry = prometheus.NewRegistry()
		env.observer = metrics.NewMetrics(cfg.Metrics.Namespace, env.registry)
	}

	if err := env.openStorage(); err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return env, nil
}

func (e *environment) openStorage() error {
	sc := e.cfg.Storage
	switch sc.Backend {
	case config.BackendMemory:
		e.store = memory.NewNamed(sc.Database)
		return nil
	case config.BackendSQLite, config.BackendPebble:
	default:
		return fmt.Errorf("unknown backend %q", sc.Backend)
	}

	if err := os.MkdirAll(sc.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if sc.Backend == config.BackendSQLite {
		s, err := sqlite.Open(filepath.Join(sc.DataDir, sc.Database+".db"))
		if err != nil {
			return err
		}
		e.store, e.closeStore = s, s.Close
		return nil
	}

	s, err := pebblestore.Open(filepath.Join(sc.DataDir, sc.Database+".pebble"))
	if err != nil {
		return err
	}
	if e.registry != nil {
		if err := e.registry.Register(s.Collector()); err != nil {
			_ = s.Close()
			return fmt.Errorf("failed to register pebble collector: %w", err)
		}
	}
	e.store, e.closeStore = s, s.Close
	return nil
}

// openCollection loads the schema file and creates the instance. The
// returned schema is normalized.
func (e *environment) openCollection(ctx context.Context, co collectionOptions) (storage.Instance, *schema.Schema, error) {
	s, err := schema.LoadFile(co.SchemaPath)
	if err != nil {
		return nil, nil, err
	}
	s = schema.Normalize(s)

	inst, err := e.store.CreateInstance(ctx, storage.Params{
		Database:         e.cfg.Storage.Database,
		Collection:       co.Collection,
		Schema:           s,
		Logger:           e.logger,
		Metrics:          e.observer,
		CleanupBatchSize: e.cfg.Storage.CleanupBatchSize,
	})
	if err != nil {
		return nil, nil, err
	}
	e.instances = append(e.instances, inst)
	return inst, s, nil
}

// Close closes the instances, writes the metrics file and closes the store.
func (e *environment) Close() error {
	var errs []error
	for _, inst := range e.instances {
		errs = append(errs, inst.Close())
	}
	// The pebble collector reads from the open database.
	if e.metricsFile != "" {
		if err := prometheus.WriteToTextfile(e.metricsFile, e.registry); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	if e.closeStore != nil {
		errs = append(errs, e.closeStore())
	}
	_ = e.logger.Sync()
	return errors.Join(errs...)
}

// collection is an open instance together with its normalized schema.
type collection struct {
	storage.Instance
	Store  storage.Storage
	Schema *schema.Schema
	Config *config.Config
	Logger *zap.Logger
}

// withCollection opens the environment and the collection, runs fn and
// closes everything again.
func withCollection(opts *RootOptions, co collectionOptions, cmd *cobra.Command, f *OutputFormatter,
	fn func(ctx context.Context, c *collection) error) error {
	env, err := openEnvironment(opts)
	if err != nil {
		return f.Fail(ErrCodeStorage, "failed to open storage", err)
	}
	f.VerboseLog("Backend %s, database %s", env.cfg.Storage.Backend, env.cfg.Storage.Database)

	ctx := cmd.Context()
	inst, s, err := env.openCollection(ctx, co)
	if err != nil {
		_ = env.Close()
		code := ErrCodeSchema
		var se *storage.Error
		if errors.As(err, &se) {
			code = ErrCodeStorage
		}
		return f.Fail(code, fmt.Sprintf("failed to open collection %q", co.Collection), err)
	}

	runErr := fn(ctx, &collection{Instance: inst, Store: env.store, Schema: s, Config: env.cfg, Logger: env.logger})
	if err := env.Close(); err != nil && runErr == nil {
		return f.Fail(ErrCodeStorage, "failed to close storage", err)
	}
	return runErr
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// readInput resolves a command argument: "-" reads stdin, "@path" reads a
// file and anything else is taken literally.
func readInput(arg string, stdin io.Reader) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		return os.ReadFile(arg[1:])
	default:
		return []byte(arg), nil
	}
}
