package table

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BrobridgeOrg/csv2iceberg/catalog"
	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/internal/backoff"
	"github.com/BrobridgeOrg/csv2iceberg/internal/metrics"
	"github.com/BrobridgeOrg/csv2iceberg/internal/tracing"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

// DefaultMaxRetries is used when commit.retry.num-retries is not set.
const DefaultMaxRetries = 4

// WriteOption configures Append and Overwrite.
type WriteOption func(*writeConfig)

type writeConfig struct {
	maxRetries     int
	policy         backoff.Policy
	targetFileSize int64
	taskID         int
	properties     map[string]string
}

// WithMaxRetries sets how many times a conflicting commit is retried.
func WithMaxRetries(n int) WriteOption {
	return func(c *writeConfig) {
		c.maxRetries = n
	}
}

// WithRetryPolicy sets the backoff between commit retries.
func WithRetryPolicy(p backoff.Policy) WriteOption {
	return func(c *writeConfig) {
		c.policy = p
	}
}

// WithTargetFileSize overrides write.target-file-size-bytes.
func WithTargetFileSize(size int64) WriteOption {
	return func(c *writeConfig) {
		c.targetFileSize = size
	}
}

// WithTaskID sets the task number used in data file names.
func WithTaskID(id int) WriteOption {
	return func(c *writeConfig) {
		c.taskID = id
	}
}

// WithSnapshotProperty adds a property to the snapshot summary.
func WithSnapshotProperty(key, value string) WriteOption {
	return func(c *writeConfig) {
		if c.properties == nil {
			c.properties = make(map[string]string)
		}
		c.properties[key] = value
	}
}

// Append writes rec as new data files and commits them in an append
// snapshot. Existing data is kept.
func (t *Table) Append(ctx context.Context, rec arrow.Record, opts ...WriteOption) (*spec.Snapshot, error) {
	return t.write(ctx, spec.OpAppend, rec, opts)
}

// Overwrite writes rec as new data files and commits a snapshot that
// replaces all existing data.
func (t *Table) Overwrite(ctx context.Context, rec arrow.Record, opts ...WriteOption) (*spec.Snapshot, error) {
	return t.write(ctx, spec.OpOverwrite, rec, opts)
}

func (t *Table) write(ctx context.Context, op spec.Operation, rec arrow.Record, opts []WriteOption) (snap *spec.Snapshot, err error) {
	cfg := writeConfig{
		maxRetries: int(t.metadata.IntProperty(spec.PropertyCommitNumRetries, DefaultMaxRetries)),
		policy:     backoff.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := tracing.Start(ctx, "table."+string(op),
		attribute.String("table", t.identifier.String()),
		attribute.Int64("rows", rec.NumRows()))
	defer func() { tracing.End(span, err) }()

	recSchema, err := ArrowToSchema(rec.Schema())
	if err != nil {
		return nil, err
	}
	if err := t.Schema().CheckWriteCompatible(recSchema); err != nil {
		return nil, err
	}

	w, err := NewDataWriter(t)
	if err != nil {
		return nil, err
	}
	w.WithTargetFileSize(cfg.targetFileSize).WithTaskID(cfg.taskID)

	files, err := w.Write(ctx, rec)
	if err != nil {
		t.deleteFiles(ctx, dataFilePaths(files))
		return nil, err
	}

	snap, err = t.commitFiles(ctx, op, files, cfg)
	if err != nil {
		if isUncommitted(err) {
			t.deleteFiles(ctx, dataFilePaths(files))
		}
		return nil, err
	}

	metrics.RowsWritten.WithLabelValues(t.identifier.String()).Add(float64(rec.NumRows()))
	return snap, nil
}

func dataFilePaths(files []spec.DataFile) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.FilePath
	}
	return paths
}

// isCommitRetryable reports whether another writer got in first, in which
// case the snapshot can be rebuilt on the new metadata.
func isCommitRetryable(err error) bool {
	if errors.Is(err, icebergerr.ErrCommitConflict) || icebergerr.IsRetryable(err) {
		return true
	}
	var reqErr *icebergerr.RequirementError
	return errors.As(err, &reqErr) && reqErr.Requirement == "assert-ref-snapshot-id"
}

// isUncommitted reports whether err guarantees that nothing was committed.
func isUncommitted(err error) bool {
	return isCommitRetryable(err) || errors.Is(err, icebergerr.ErrRequirementFailed)
}

// commitFiles commits files in a new snapshot, rebuilding the snapshot on
// fresh metadata after each conflict.
func (t *Table) commitFiles(ctx context.Context, op spec.Operation, files []spec.DataFile, cfg writeConfig) (*spec.Snapshot, error) {
	logger := zerolog.Ctx(ctx)
	var committed *spec.Snapshot
	var stale []string

	err := backoff.Retry(ctx, cfg.policy, cfg.maxRetries, isCommitRetryable,
		func(attempt int, delay time.Duration, err error) {
			metrics.CommitAttempts.WithLabelValues("conflict").Inc()
			logger.Warn().Err(err).
				Str("component", "table").
				Str("table", t.identifier.String()).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("commit conflict, retrying")
		},
		func(attempt int) error {
			if attempt > 0 {
				if err := t.Refresh(ctx); err != nil {
					return err
				}
			}
			snap, written, err := t.commitSnapshot(ctx, op, files, cfg, attempt)
			if err != nil {
				if isUncommitted(err) {
					stale = append(stale, written...)
				}
				return err
			}
			committed = snap
			return nil
		})

	t.deleteFiles(ctx, stale)
	if err != nil {
		metrics.CommitAttempts.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to commit %s to %s: %w", op, t.identifier, err)
	}

	metrics.CommitAttempts.WithLabelValues("committed").Inc()
	logger.Info().
		Str("component", "table").
		Str("table", t.identifier.String()).
		Str("operation", string(op)).
		Int64("snapshot_id", committed.SnapshotID).
		Int64("sequence_number", committed.SequenceNumber).
		Int("version", t.version).
		Msg("snapshot committed")
	return committed, nil
}

// commitSnapshot writes the manifests and manifest list of one snapshot
// built on the current metadata and commits it. It returns the files it
// wrote so that a losing attempt can clean up.
func (t *Table) commitSnapshot(ctx context.Context, op spec.Operation, files []spec.DataFile, cfg writeConfig, attempt int) (*spec.Snapshot, []string, error) {
	base := t.metadata
	parent := base.CurrentSnapshot()
	snapshotID := newSnapshotID(base)
	seq := base.LastSequenceNumber + 1
	commitUUID := uuid.NewString()

	var written []string
	var manifests []spec.ManifestFile
	summary := spec.NewSummary(op)

	if len(files) > 0 {
		entries := make([]spec.ManifestEntry, len(files))
		var rows, size int64
		for i, f := range files {
			entries[i] = spec.ManifestEntry{Status: spec.EntryStatusAdded, SnapshotID: &snapshotID, DataFile: f}
			rows += f.RecordCount
			size += f.FileSizeInBytes
		}
		mf, err := t.writeManifest(ctx, commitUUID, len(manifests), snapshotID, seq, entries)
		if mf.ManifestPath != "" {
			written = append(written, mf.ManifestPath)
		}
		if err != nil {
			return nil, written, err
		}
		manifests = append(manifests, mf)
		summary.SetInt(spec.SummaryAddedDataFiles, int64(len(files)))
		summary.SetInt(spec.SummaryAddedRecords, rows)
		summary.SetInt(spec.SummaryAddedFilesSize, size)
	}

	var parentID *int64
	var parentSummary *spec.Summary
	if parent != nil {
		id := parent.SnapshotID
		parentID = &id
		parentSummary = parent.Summary

		parentManifests, err := t.readManifestList(ctx, parent)
		if err != nil {
			return nil, written, err
		}

		switch op {
		case spec.OpAppend:
			manifests = append(manifests, parentManifests...)
		case spec.OpOverwrite:
			mf, ok, err := t.writeDeleteAll(ctx, commitUUID, len(manifests), snapshotID, seq, parentManifests, summary)
			if mf.ManifestPath != "" {
				written = append(written, mf.ManifestPath)
			}
			if err != nil {
				return nil, written, err
			}
			if ok {
				manifests = append(manifests, mf)
			}
		}
	}

	summary.UpdateTotals(parentSummary)
	for k, v := range cfg.properties {
		summary.Set(k, v)
	}

	listPath := io.JoinPath(base.Location, "metadata",
		fmt.Sprintf("snap-%d-%d-%s.avro", snapshotID, attempt+1, commitUUID))
	listData, err := spec.EncodeManifestList(spec.ManifestListInfo{
		SnapshotID:       snapshotID,
		ParentSnapshotID: parentID,
		SequenceNumber:   seq,
	}, manifests)
	if err != nil {
		return nil, written, err
	}
	if err := io.WriteFile(ctx, t.fileIO, listPath, listData, true); err != nil {
		return nil, written, fmt.Errorf("failed to write manifest list: %w", err)
	}
	written = append(written, listPath)

	schemaID := base.CurrentSchemaID
	snap := spec.Snapshot{
		SnapshotID:       snapshotID,
		ParentSnapshotID: parentID,
		SequenceNumber:   seq,
		TimestampMs:      max(time.Now().UnixMilli(), base.LastUpdatedMs),
		ManifestList:     listPath,
		Summary:          summary,
		SchemaID:         &schemaID,
	}

	requirements := []catalog.TableRequirement{
		catalog.RequireAssertTableUUID(base.TableUUID),
		catalog.RequireAssertRefSnapshotID(spec.MainBranch, parentID),
	}
	updates := []catalog.TableUpdate{
		catalog.UpdateAddSnapshot(&snap),
		catalog.UpdateSetSnapshotRef(spec.MainBranch, snapshotID, "branch"),
	}

	commitCtx, span := tracing.Start(ctx, "table.commit",
		attribute.String("table", t.identifier.String()),
		attribute.Int("attempt", attempt),
		attribute.Int64("snapshot_id", snapshotID))
	result, err := t.ops.Commit(commitCtx, requirements, updates)
	tracing.End(span, err)
	if err != nil {
		return nil, written, err
	}

	t.update(result)
	return result.Metadata.SnapshotByID(snapshotID), written, nil
}

// writeDeleteAll writes a manifest that marks every live file of the
// parent snapshot deleted. ok is false when there was nothing to delete.
func (t *Table) writeDeleteAll(ctx context.Context, commitUUID string, index int, snapshotID, seq int64, parents []spec.ManifestFile, summary *spec.Summary) (spec.ManifestFile, bool, error) {
	var entries []spec.ManifestEntry
	var rows, size int64
	for _, mf := range parents {
		if mf.Content != spec.ManifestContentData || mf.LiveFilesCount() == 0 {
			continue
		}
		m, err := t.readManifest(ctx, mf)
		if err != nil {
			return spec.ManifestFile{}, false, err
		}
		for _, e := range m.LiveEntries() {
			entries = append(entries, spec.ManifestEntry{
				Status:             spec.EntryStatusDeleted,
				SnapshotID:         &snapshotID,
				SequenceNumber:     e.SequenceNumber,
				FileSequenceNumber: e.FileSequenceNumber,
				DataFile:           e.DataFile,
			})
			rows += e.DataFile.RecordCount
			size += e.DataFile.FileSizeInBytes
		}
	}
	if len(entries) == 0 {
		return spec.ManifestFile{}, false, nil
	}

	mf, err := t.writeManifest(ctx, commitUUID, index, snapshotID, seq, entries)
	if err != nil {
		return mf, false, err
	}
	summary.SetInt(spec.SummaryDeletedDataFiles, int64(len(entries)))
	summary.SetInt(spec.SummaryDeletedRecords, rows)
	summary.SetInt(spec.SummaryRemovedFilesSize, size)
	return mf, true, nil
}

// writeManifest writes entries to a new manifest and returns its manifest
// list row. The returned path is set once the file may exist.
func (t *Table) writeManifest(ctx context.Context, commitUUID string, index int, snapshotID, seq int64, entries []spec.ManifestEntry) (spec.ManifestFile, error) {
	data, err := spec.EncodeManifest(spec.ManifestInfo{
		Schema:  t.Schema(),
		Spec:    t.metadata.DefaultPartitionSpec(),
		Content: spec.ManifestContentData,
	}, entries)
	if err != nil {
		return spec.ManifestFile{}, fmt.Errorf("failed to encode manifest: %w", err)
	}

	mf := spec.ManifestFile{
		ManifestPath:      io.JoinPath(t.Location(), "metadata", fmt.Sprintf("%s-m%d.avro", commitUUID, index)),
		ManifestLength:    int64(len(data)),
		PartitionSpecID:   t.metadata.DefaultSpecID,
		Content:           spec.ManifestContentData,
		SequenceNumber:    seq,
		MinSequenceNumber: seq,
		AddedSnapshotID:   snapshotID,
	}
	for _, e := range entries {
		switch e.Status {
		case spec.EntryStatusAdded:
			mf.AddedFilesCount++
			mf.AddedRowsCount += e.DataFile.RecordCount
		case spec.EntryStatusExisting:
			mf.ExistingFilesCount++
			mf.ExistingRowsCount += e.DataFile.RecordCount
		case spec.EntryStatusDeleted:
			mf.DeletedFilesCount++
			mf.DeletedRowsCount += e.DataFile.RecordCount
		}
		if e.SequenceNumber != nil {
			mf.MinSequenceNumber = min(mf.MinSequenceNumber, *e.SequenceNumber)
		}
	}

	if err := io.WriteFile(ctx, t.fileIO, mf.ManifestPath, data, true); err != nil {
		return mf, fmt.Errorf("failed to write manifest: %w", err)
	}
	return mf, nil
}

func (t *Table) readManifestList(ctx context.Context, snap *spec.Snapshot) ([]spec.ManifestFile, error) {
	if snap.ManifestList == "" {
		return nil, nil
	}
	data, err := io.ReadAll(ctx, t.fileIO, snap.ManifestList)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest list: %w", err)
	}

	manifests, err := spec.ReadManifestList(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest list %s: %w", snap.ManifestList, err)
	}
	return manifests, nil
}

func (t *Table) readManifest(ctx context.Context, mf spec.ManifestFile) (*spec.Manifest, error) {
	data, err := io.ReadAll(ctx, t.fileIO, mf.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	m, err := spec.ReadManifest(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", mf.ManifestPath, err)
	}
	m.InheritSequenceNumbers(mf)
	return m, nil
}

// deleteFiles removes files written by an attempt that did not commit.
func (t *Table) deleteFiles(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := t.fileIO.Delete(ctx, p); err != nil && !errors.Is(err, icebergerr.ErrFileNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("component", "table").
				Str("file", p).
				Msg("failed to clean up uncommitted file")
		}
	}
}

// newSnapshotID returns a positive random ID not used by meta.
func newSnapshotID(meta *spec.TableMetadata) int64 {
	for {
		u := uuid.New()
		var hi, lo uint64
		for i := 0; i < 8; i++ {
			hi = hi<<8 | uint64(u[i])
			lo = lo<<8 | uint64(u[i+8])
		}
		id := int64((hi ^ lo) & (1<<63 - 1))
		if id != 0 && meta.SnapshotByID(id) == nil {
			return id
		}
	}
}
