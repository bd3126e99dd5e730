package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/BrobridgeOrg/csv2iceberg"
	"github.com/BrobridgeOrg/csv2iceberg/display"
	"github.com/BrobridgeOrg/csv2iceberg/table"
)

func (a *app) newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [LOCATION]",
		Short: "Print the schema and rows of a table",
		Long: `Loads a table by its location, or by name from the catalog with --table,
and prints its schema followed by the first rows.`,
		Example: `  csv2iceberg show s3a://my-first-bucket/iceberg_data/default/iceberg_table_name
  csv2iceberg show --table iceberg_table_name --where "score > 8" --select id,score`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.command(a.runShow),
	}

	f := cmd.Flags()
	f.String("table", csv2iceberg.DefaultTableName, "table name when no location is given")
	f.String("where", "", `row filter, e.g. "score > 8 and name is not null"`)
	f.StringSlice("select", nil, "columns to print (repeatable or comma separated)")
	f.Int64("limit", 0, "read at most this many rows; 0 reads all")
	f.Int64("snapshot", 0, "snapshot id to read instead of the current one")
	f.String("as-of", "", "read the snapshot current at this RFC 3339 time")
	f.String("format", "table", "output format: table, csv")
	f.Int("rows", display.DefaultRows, "rows to print in table format")
	f.Int("truncate", display.DefaultTruncate, "cut cells longer than this; 0 prints them whole")
	f.Bool("no-schema", false, "do not print the schema")
	return cmd
}

func (a *app) runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()

	format, _ := f.GetString("format")
	format = strings.ToLower(format)
	if format != "table" && format != "csv" {
		return fmt.Errorf("unknown format: %q (expected table, csv)", format)
	}

	tbl, err := a.openTable(ctx, cmd, args)
	if err != nil {
		return err
	}

	scan := tbl.Scan()
	if where, _ := f.GetString("where"); where != "" {
		expr, err := table.ParseExpression(where)
		if err != nil {
			return err
		}
		scan = scan.Filter(expr)
	}
	if cols, _ := f.GetStringSlice("select"); len(cols) > 0 {
		scan = scan.Select(cols...)
	}
	if n, _ := f.GetInt64("limit"); n > 0 {
		scan = scan.Limit(n)
	}
	if id, _ := f.GetInt64("snapshot"); id != 0 {
		scan = scan.WithSnapshot(id)
	}
	if asOf, _ := f.GetString("as-of"); asOf != "" {
		ts, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
		scan = scan.AsOf(ts)
	}

	out, err := scan.ToArrowTable(ctx)
	if err != nil {
		return err
	}
	defer out.Release()

	zerolog.Ctx(ctx).Debug().
		Str("table", tbl.Location()).
		Int64("rows", out.NumRows()).
		Msg("table read")

	w := cmd.OutOrStdout()
	if format == "csv" {
		return display.WriteCSV(w, out)
	}
	if noSchema, _ := f.GetBool("no-schema"); !noSchema {
		if err := display.PrintSchema(w, out.Schema()); err != nil {
			return err
		}
	}
	rows, _ := f.GetInt("rows")
	truncate, _ := f.GetInt("truncate")
	return display.Show(w, out, rows, truncate)
}

// openTable loads the table at the location given as the only argument,
// or the table named by --table.
func (a *app) openTable(ctx context.Context, cmd *cobra.Command, args []string) (*table.Table, error) {
	s, err := a.newSession(ctx)
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return s.LoadTable(ctx, args[0])
	}
	name, _ := cmd.Flags().GetString("table")
	return s.Table(ctx, name)
}
