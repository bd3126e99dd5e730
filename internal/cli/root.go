// Package cli implements the csv2iceberg command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/BrobridgeOrg/csv2iceberg"
	"github.com/BrobridgeOrg/csv2iceberg/internal/metrics"
	"github.com/BrobridgeOrg/csv2iceberg/internal/tracing"
)

// Version is set at build time via ldflags:
//
//	go build -ldflags "-X github.com/BrobridgeOrg/csv2iceberg/internal/cli.Version=v1.0.0"
var Version = "dev"

const envPrefix = "CSV2ICEBERG"

// app carries the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string

	shutdownTracing func()
}

// NewRootCmd builds the command tree. Every call gets its own viper
// instance so commands can be executed more than once in a process.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "csv2iceberg",
		Short: "Load CSV files into Iceberg tables on S3-compatible storage",
		Long: `csv2iceberg uploads a CSV file to an S3-compatible bucket, infers its
schema, appends it to an Iceberg table kept by a hadoop catalog in the same
bucket, and reads the table back by location.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(); err != nil {
				return err
			}
			return a.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default: ./csv2iceberg.yaml)")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "console", "log format: console, json")
	f.String("metrics-file", "", "write metrics in the Prometheus text format to this file on exit")
	f.String("trace", "none", "trace exporter: none, stdout, otlp")
	f.String("trace-endpoint", "", "OTLP endpoint for --trace otlp")

	// Storage and catalog.
	f.String("storage", string(csv2iceberg.StorageS3), "storage backend: s3, local")
	f.String("endpoint", csv2iceberg.DefaultEndpoint, "S3 endpoint (host:port or URL)")
	f.String("region", "", "S3 region")
	f.String("access-key", csv2iceberg.DefaultAccessKey, "S3 access key id")
	f.String("secret-key", csv2iceberg.DefaultSecretKey, "S3 secret access key")
	f.Bool("secure", false, "use https when the endpoint has no scheme")
	f.Bool("path-style", true, "use path-style bucket addressing")
	f.String("local-path", "./warehouse", "root directory for --storage local")
	f.String("bucket", csv2iceberg.DefaultBucket, "bucket holding the upload and the warehouse")
	f.String("warehouse", "", "catalog warehouse (default: s3a://<bucket>/iceberg_data)")
	f.String("namespace", csv2iceberg.DefaultNamespace, "namespace of unqualified table names")
	f.String("app-name", csv2iceberg.DefaultAppName, "application name recorded in snapshots")

	for _, name := range []string{
		"log-level", "log-format", "metrics-file", "trace", "trace-endpoint",
		"storage", "endpoint", "region", "access-key", "secret-key", "secure",
		"path-style", "local-path", "bucket", "warehouse", "namespace", "app-name",
	} {
		a.mustBindPFlag(flagKey(name), f.Lookup(name))
	}

	root.AddCommand(
		a.newRunCmd(),
		a.newShowCmd(),
		a.newSnapshotsCmd(),
		a.newDropCmd(),
		a.newVersionCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx := context.Background()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.SetConfigName("csv2iceberg")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if a.cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// setup installs the logger and the tracer provider in the command context.
func (a *app) setup(cmd *cobra.Command) error {
	logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log_level"), a.v.GetString("log_format"))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.WithContext(ctx)

	_, shutdown, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       a.v.GetString("trace"),
		Endpoint:       a.v.GetString("trace_endpoint"),
		ServiceName:    "csv2iceberg",
		ServiceVersion: Version,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown

	cmd.SetContext(ctx)
	return nil
}

// command wraps fn so the tracer is flushed and the metrics file written
// whether or not fn fails.
func (a *app) command(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if terr := a.teardown(); err == nil {
				err = terr
			}
		}()
		return fn(cmd, args)
	}
}

func (a *app) teardown() error {
	if a.shutdownTracing != nil {
		a.shutdownTracing()
		a.shutdownTracing = nil
	}
	if path := a.v.GetString("metrics_file"); path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.Nop(), fmt.Errorf("unknown log level: %q (expected debug, info, warn, error)", level)
	}

	switch strings.ToLower(format) {
	case "console", "text":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format: %q (expected console, json)", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// sessionOptions turns the storage flags into session options.
func (a *app) sessionOptions() ([]csv2iceberg.Option, error) {
	v := a.v
	opts := []csv2iceberg.Option{
		csv2iceberg.WithBucket(v.GetString("bucket")),
		csv2iceberg.WithNamespace(v.GetString("namespace")),
		csv2iceberg.WithAppName(v.GetString("app_name")),
	}
	if wh := v.GetString("warehouse"); wh != "" {
		opts = append(opts, csv2iceberg.WithWarehouse(wh))
	}

	switch storage := csv2iceberg.StorageType(strings.ToLower(v.GetString("storage"))); storage {
	case csv2iceberg.StorageS3:
		opts = append(opts, csv2iceberg.WithS3(&csv2iceberg.S3Config{
			Region:          v.GetString("region"),
			AccessKeyID:     v.GetString("access_key"),
			SecretAccessKey: v.GetString("secret_key"),
			Endpoint:        v.GetString("endpoint"),
			Secure:          v.GetBool("secure"),
			ForcePathStyle:  v.GetBool("path_style"),
		}))
	case csv2iceberg.StorageLocal:
		opts = append(opts, csv2iceberg.WithLocalStorage(v.GetString("local_path")))
	default:
		return nil, fmt.Errorf("unknown storage: %q (expected s3, local)", storage)
	}
	return opts, nil
}

func (a *app) newSession(ctx context.Context, extra ...csv2iceberg.Option) (*csv2iceberg.Session, error) {
	opts, err := a.sessionOptions()
	if err != nil {
		return nil, err
	}
	return csv2iceberg.NewSession(ctx, append(opts, extra...)...)
}

func (a *app) mustBindPFlag(key string, flag *pflag.Flag) {
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("viper.BindPFlag(%q): %v", key, err))
	}
}

func (a *app) bindFlags(fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		a.mustBindPFlag(flagKey(name), fs.Lookup(name))
	}
}

// flagKey maps a flag name to its viper key; "access-key" is read from
// access_key in the config file and CSV2ICEBERG_ACCESS_KEY in the
// environment.
func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the csv2iceberg version",
		Args:  cobra.NoArgs,
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "csv2iceberg "+Version)
			return err
		}),
	}
}
