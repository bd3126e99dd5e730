package cli

import (
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/BrobridgeOrg/csv2iceberg"
	"github.com/BrobridgeOrg/csv2iceberg/dataset"
	"github.com/BrobridgeOrg/csv2iceberg/display"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Upload a CSV file, append it to a table and print the table",
		Long: `Ensures the bucket exists, uploads the source file, reads it with schema
inference, appends it to the table, then loads the table by its location and
prints its schema and first rows.`,
		Args: cobra.NoArgs,
		RunE: a.command(a.runPipeline),
	}

	f := cmd.Flags()
	f.String("source", csv2iceberg.DefaultSourceFile, "local CSV file to upload")
	f.String("key", csv2iceberg.DefaultObjectKey, "object key of the upload")
	f.String("table", csv2iceberg.DefaultTableName, "table name, optionally namespace qualified")
	f.String("mode", string(csv2iceberg.SaveModeAppend), "save mode: append, overwrite, errorifexists, ignore")
	f.Int("writers", 1, "concurrent writers appending the file")
	f.Bool("read-local", false, "read the local source instead of the uploaded object")
	f.Int("rows", display.DefaultRows, "rows to print")
	f.Int("truncate", display.DefaultTruncate, "cut cells longer than this; 0 prints them whole")
	f.Int("max-retries", 4, "commit retries on conflict")
	f.Duration("retry-backoff", 0, "base commit retry backoff (default 100ms)")
	f.Int64("target-file-size", 0, "target data file size in bytes (default: table property)")
	addCSVFlags(f)

	a.bindFlags(f,
		"source", "key", "table", "mode", "writers", "read-local", "rows", "truncate",
		"max-retries", "retry-backoff", "target-file-size",
		"delimiter", "null-value", "encoding", "sample-size", "header", "infer-schema",
	)
	return cmd
}

func (a *app) runPipeline(cmd *cobra.Command, args []string) error {
	v := a.v
	ctx := cmd.Context()

	mode, err := csv2iceberg.ParseSaveMode(v.GetString("mode"))
	if err != nil {
		return err
	}
	csvOpts, err := a.csvOptions()
	if err != nil {
		return err
	}
	sessionOpts, err := a.sessionOptions()
	if err != nil {
		return err
	}
	sessionOpts = append(sessionOpts, csv2iceberg.WithMaxRetries(v.GetInt("max_retries")))
	if d := v.GetDuration("retry_backoff"); d > 0 {
		sessionOpts = append(sessionOpts, csv2iceberg.WithRetryBackoff(d))
	}
	if n := v.GetInt64("target_file_size"); n > 0 {
		sessionOpts = append(sessionOpts, csv2iceberg.WithTargetFileSize(n))
	}

	p := csv2iceberg.NewPipeline(
		csv2iceberg.WithSessionOptions(sessionOpts...),
		csv2iceberg.WithSourceFile(v.GetString("source")),
		csv2iceberg.WithObjectKey(v.GetString("key")),
		csv2iceberg.WithTable(v.GetString("table")),
		csv2iceberg.WithSaveMode(mode),
		csv2iceberg.WithWriters(v.GetInt("writers")),
		csv2iceberg.WithReadLocal(v.GetBool("read_local")),
		csv2iceberg.WithCSVOptions(csvOpts...),
		csv2iceberg.WithShow(v.GetInt("rows"), v.GetInt("truncate")),
		csv2iceberg.WithOutput(cmd.OutOrStdout()),
	)
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	ev := zerolog.Ctx(ctx).Info().
		Bool("bucket_created", res.BucketCreated).
		Str("upload", res.Upload.Location).
		Str("table", res.TableLocation).
		Int64("rows_written", res.RowsWritten).
		Int64("rows_read", res.RowsRead)
	for _, s := range res.Stages {
		ev = ev.Dur(string(s.Stage), s.Duration)
	}
	ev.Msg("pipeline finished")
	return nil
}

func addCSVFlags(f *pflag.FlagSet) {
	f.String("delimiter", ",", "CSV field delimiter")
	f.String("null-value", "", "CSV cell text read as null")
	f.String("encoding", "", "source text encoding, e.g. iso-8859-1 (default utf-8)")
	f.Int("sample-size", 0, "rows sampled for schema inference; 0 reads all")
	f.Bool("header", true, "the first line holds column names")
	f.Bool("infer-schema", true, "infer column types; false reads every column as string")
}

func (a *app) csvOptions() ([]dataset.Option, error) {
	v := a.v
	opts := []dataset.Option{
		dataset.WithHeader(v.GetBool("header")),
		dataset.WithInferSchema(v.GetBool("infer_schema")),
		dataset.WithNullValue(v.GetString("null_value")),
	}

	delim := v.GetString("delimiter")
	if delim == `\t` {
		delim = "\t"
	}
	r, size := utf8.DecodeRuneInString(delim)
	if r == utf8.RuneError || size != len(delim) {
		return nil, fmt.Errorf("delimiter must be a single character, got %q", delim)
	}
	opts = append(opts, dataset.WithDelimiter(r))

	if name := v.GetString("encoding"); name != "" {
		enc, err := dataset.LookupEncoding(name)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dataset.WithEncoding(enc))
	}
	if n := v.GetInt("sample_size"); n > 0 {
		opts = append(opts, dataset.WithSampleSize(n))
	}
	return opts, nil
}
