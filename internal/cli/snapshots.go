package cli

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"

	"github.com/BrobridgeOrg/csv2iceberg"
	"github.com/BrobridgeOrg/csv2iceberg/display"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
	"github.com/BrobridgeOrg/csv2iceberg/table"
)

var snapshotSchema = arrow.NewSchema([]arrow.Field{
	{Name: "snapshot_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "parent_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "committed_at", Type: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}},
	{Name: "operation", Type: arrow.BinaryTypes.String},
	{Name: "added_records", Type: arrow.PrimitiveTypes.Int64},
	{Name: "total_records", Type: arrow.PrimitiveTypes.Int64},
	{Name: "is_current", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

func (a *app) newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots [LOCATION]",
		Short: "List the snapshots of a table",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			tbl, err := a.openTable(cmd.Context(), cmd, args)
			if err != nil {
				return err
			}
			history := snapshotHistory(tbl)
			defer history.Release()
			return display.Show(cmd.OutOrStdout(), history, int(history.NumRows()), 0)
		}),
	}
	cmd.Flags().String("table", csv2iceberg.DefaultTableName, "table name when no location is given")
	return cmd
}

// snapshotHistory returns one row per snapshot in commit order.
func snapshotHistory(tbl *table.Table) arrow.Table {
	b := array.NewRecordBuilder(memory.DefaultAllocator, snapshotSchema)
	defer b.Release()

	var current int64 = -1
	if snap := tbl.CurrentSnapshot(); snap != nil {
		current = snap.SnapshotID
	}

	for _, snap := range tbl.Snapshots() {
		b.Field(0).(*array.Int64Builder).Append(snap.SnapshotID)
		if snap.ParentSnapshotID != nil {
			b.Field(1).(*array.Int64Builder).Append(*snap.ParentSnapshotID)
		} else {
			b.Field(1).AppendNull()
		}
		b.Field(2).(*array.TimestampBuilder).Append(arrow.Timestamp(snap.TimestampMs * 1000))
		op := ""
		if snap.Summary != nil {
			op = string(snap.Summary.Operation)
		}
		b.Field(3).(*array.StringBuilder).Append(op)
		b.Field(4).(*array.Int64Builder).Append(snap.Summary.Int(spec.SummaryAddedRecords))
		b.Field(5).(*array.Int64Builder).Append(snap.Summary.Int(spec.SummaryTotalRecords))
		b.Field(6).(*array.BooleanBuilder).Append(snap.SnapshotID == current)
	}

	rec := b.NewRecord()
	defer rec.Release()
	return array.NewTableFromRecords(snapshotSchema, []arrow.Record{rec})
}
