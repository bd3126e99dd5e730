package catalog

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

const (
	metadataDirName = "metadata"
	versionHintName = "version-hint.text"
)

var metadataFileRE = regexp.MustCompile(`^v(\d+)\.metadata\.json$`)

// HadoopCatalog keeps tables as directories under a warehouse location.
// The current metadata of a table is the highest vN.metadata.json in its
// metadata directory; version-hint.text records N.
type HadoopCatalog struct {
	name      string
	warehouse string
	fileIO    io.BulkFileIO
}

// NewHadoopCatalog creates a catalog rooted at warehouse.
func NewHadoopCatalog(name, warehouse string, fileIO io.BulkFileIO) *HadoopCatalog {
	return &HadoopCatalog{
		name:      name,
		warehouse: strings.TrimSuffix(warehouse, "/"),
		fileIO:    fileIO,
	}
}

// Name returns the catalog name.
func (c *HadoopCatalog) Name() string {
	return c.name
}

// Warehouse returns the warehouse location.
func (c *HadoopCatalog) Warehouse() string {
	return c.warehouse
}

// FileIO returns the FileIO used by the catalog.
func (c *HadoopCatalog) FileIO() io.BulkFileIO {
	return c.fileIO
}

// TableLocation returns {warehouse}/{namespace...}/{table}.
func (c *HadoopCatalog) TableLocation(identifier TableIdentifier) string {
	elems := append(slices.Clone(identifier.Namespace), identifier.Name)
	return io.JoinPath(c.warehouse, elems...)
}

// Operations returns the metadata operations of a table in this catalog.
func (c *HadoopCatalog) Operations(identifier TableIdentifier) TableOperations {
	return c.opsAt(identifier, c.TableLocation(identifier))
}

// OperationsAt returns the metadata operations of the table stored at
// location, which does not have to be inside the warehouse.
func (c *HadoopCatalog) OperationsAt(location string) TableOperations {
	location = strings.TrimSuffix(location, "/")
	return c.opsAt(c.identifierFor(location), location)
}

func (c *HadoopCatalog) opsAt(identifier TableIdentifier, location string) *hadoopTableOperations {
	return &hadoopTableOperations{
		identifier: identifier,
		location:   location,
		fileIO:     c.fileIO,
	}
}

// identifierFor derives an identifier from a location inside the
// warehouse. Locations elsewhere are named by their last path element.
func (c *HadoopCatalog) identifierFor(location string) TableIdentifier {
	rel, ok := strings.CutPrefix(location, c.warehouse+"/")
	if !ok {
		return TableIdentifier{Name: path.Base(location)}
	}
	parts := strings.Split(rel, "/")
	return TableIdentifier{Namespace: parts[:len(parts)-1], Name: parts[len(parts)-1]}
}

// ListTables lists tables directly under the namespace directory.
func (c *HadoopCatalog) ListTables(ctx context.Context, namespace Namespace) ([]TableIdentifier, error) {
	nsDir := io.JoinPath(c.warehouse, namespace...)
	files, err := c.fileIO.ListFiles(ctx, nsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace %s: %w", namespace, err)
	}

	seen := make(map[string]bool)
	var tables []TableIdentifier
	for _, f := range files {
		rel, ok := strings.CutPrefix(f, nsDir+"/")
		if !ok {
			continue
		}
		parts := strings.Split(rel, "/")
		if len(parts) != 3 || parts[1] != metadataDirName || !metadataFileRE.MatchString(parts[2]) {
			continue
		}
		if !seen[parts[0]] {
			seen[parts[0]] = true
			tables = append(tables, TableIdentifier{Namespace: slices.Clone(namespace), Name: parts[0]})
		}
	}

	slices.SortFunc(tables, func(a, b TableIdentifier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return tables, nil
}

// CreateTable writes v1.metadata.json for a new table. Field IDs of schema
// are reassigned.
func (c *HadoopCatalog) CreateTable(ctx context.Context, identifier TableIdentifier, schema *spec.Schema, opts ...CreateTableOption) (*TableResult, error) {
	cfg := &CreateTableConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := schema.Validate(); err != nil {
		return nil, err
	}

	location := c.TableLocation(identifier)
	if cfg.Location != "" {
		location = strings.TrimSuffix(cfg.Location, "/")
	}

	ops := c.opsAt(identifier, location)
	version, err := ops.currentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version > 0 {
		return nil, fmt.Errorf("%w: %s", icebergerr.ErrTableAlreadyExists, identifier)
	}

	meta := spec.NewTableMetadataV2(uuid.NewString(), location, schema, cfg.Properties)
	result, err := ops.write(ctx, meta, 1)
	if err != nil {
		if errors.Is(err, icebergerr.ErrCommitConflict) {
			return nil, fmt.Errorf("%w: %s", icebergerr.ErrTableAlreadyExists, identifier)
		}
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("component", "catalog").
		Str("table", identifier.String()).
		Str("location", location).
		Msg("table created")
	return result, nil
}

// LoadTable loads a table's current metadata.
func (c *HadoopCatalog) LoadTable(ctx context.Context, identifier TableIdentifier) (*TableResult, error) {
	return c.Operations(identifier).Current(ctx)
}

// LoadTableFromLocation loads the table stored at location.
func (c *HadoopCatalog) LoadTableFromLocation(ctx context.Context, location string) (*TableResult, error) {
	return c.OperationsAt(location).Current(ctx)
}

// TableExists checks if a table exists.
func (c *HadoopCatalog) TableExists(ctx context.Context, identifier TableIdentifier) (bool, error) {
	version, err := c.opsAt(identifier, c.TableLocation(identifier)).currentVersion(ctx)
	if err != nil {
		return false, err
	}
	return version > 0, nil
}

// DropTable removes the table's metadata directory. With purge every file
// under the table location is removed as well.
func (c *HadoopCatalog) DropTable(ctx context.Context, identifier TableIdentifier, purge bool) error {
	exists, err := c.TableExists(ctx, identifier)
	if err != nil {
		return err
	}
	if !exists {
		return &icebergerr.TableNotFoundError{Namespace: identifier.Namespace.String(), TableName: identifier.Name}
	}

	location := c.TableLocation(identifier)
	prefix := io.JoinPath(location, metadataDirName)
	if purge {
		prefix = location
	}

	files, err := c.fileIO.ListFiles(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list table files: %w", err)
	}
	if err := c.fileIO.DeleteFiles(ctx, files); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", identifier, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("component", "catalog").
		Str("table", identifier.String()).
		Bool("purge", purge).
		Int("files", len(files)).
		Msg("table dropped")
	return nil
}

// CommitTable commits updates to a table in this catalog.
func (c *HadoopCatalog) CommitTable(ctx context.Context, identifier TableIdentifier, requirements []TableRequirement, updates []TableUpdate) (*TableResult, error) {
	return c.Operations(identifier).Commit(ctx, requirements, updates)
}

// hadoopTableOperations implements TableOperations on vN.metadata.json
// files. Exclusive creation of the next version file is the commit point.
type hadoopTableOperations struct {
	identifier TableIdentifier
	location   string
	fileIO     io.BulkFileIO
}

func (o *hadoopTableOperations) Location() string {
	return o.location
}

func (o *hadoopTableOperations) FileIO() io.FileIO {
	return o.fileIO
}

func (o *hadoopTableOperations) metadataFile(version int) string {
	return io.JoinPath(o.location, metadataDirName, fmt.Sprintf("v%d.metadata.json", version))
}

func (o *hadoopTableOperations) hintFile() string {
	return io.JoinPath(o.location, metadataDirName, versionHintName)
}

// currentVersion returns the latest committed version, or 0 when the table
// does not exist.
func (o *hadoopTableOperations) currentVersion(ctx context.Context) (int, error) {
	version, err := o.readHint(ctx)
	if err != nil {
		return 0, err
	}
	if version == 0 {
		if version, err = o.listVersions(ctx); err != nil {
			return 0, err
		}
		if version == 0 {
			return 0, nil
		}
	}

	// the hint is written after the commit and may lag behind
	for {
		exists, err := o.fileIO.Exists(ctx, o.metadataFile(version+1))
		if err != nil {
			return 0, err
		}
		if !exists {
			return version, nil
		}
		version++
	}
}

func (o *hadoopTableOperations) readHint(ctx context.Context) (int, error) {
	data, err := io.ReadAll(ctx, o.fileIO, o.hintFile())
	if err != nil {
		if errors.Is(err, icebergerr.ErrFileNotFound) {
			return 0, nil
		}
		return 0, err
	}

	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || version < 1 {
		zerolog.Ctx(ctx).Warn().
			Str("component", "catalog").
			Str("hint", o.hintFile()).
			Msg("ignoring invalid version hint")
		return 0, nil
	}

	exists, err := o.fileIO.Exists(ctx, o.metadataFile(version))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	return version, nil
}

func (o *hadoopTableOperations) listVersions(ctx context.Context) (int, error) {
	files, err := o.fileIO.ListFiles(ctx, io.JoinPath(o.location, metadataDirName))
	if err != nil {
		return 0, fmt.Errorf("failed to list metadata: %w", err)
	}

	highest := 0
	for _, f := range files {
		m := metadataFileRE.FindStringSubmatch(path.Base(f))
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v > highest {
			highest = v
		}
	}
	return highest, nil
}

func (o *hadoopTableOperations) read(ctx context.Context, version int) (*TableResult, error) {
	location := o.metadataFile(version)
	data, err := io.ReadAll(ctx, o.fileIO, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}

	meta, err := spec.ParseTableMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", location, err)
	}

	return &TableResult{
		Identifier:       o.identifier,
		Metadata:         meta,
		MetadataLocation: location,
		Version:          version,
	}, nil
}

// Current reads the latest committed metadata.
func (o *hadoopTableOperations) Current(ctx context.Context) (*TableResult, error) {
	version, err := o.currentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, &icebergerr.TableNotFoundError{
			Namespace: o.identifier.Namespace.String(),
			TableName: o.identifier.Name,
		}
	}
	return o.read(ctx, version)
}

// Commit validates requirements against the latest metadata, applies the
// updates and writes the next version.
func (o *hadoopTableOperations) Commit(ctx context.Context, requirements []TableRequirement, updates []TableUpdate) (*TableResult, error) {
	version, err := o.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	var base *TableResult
	var baseMeta *spec.TableMetadata
	if version > 0 {
		if base, err = o.read(ctx, version); err != nil {
			return nil, err
		}
		baseMeta = base.Metadata
	}

	for _, req := range requirements {
		if err := req.Validate(baseMeta); err != nil {
			return nil, err
		}
	}
	if base == nil {
		return nil, &icebergerr.TableNotFoundError{
			Namespace: o.identifier.Namespace.String(),
			TableName: o.identifier.Name,
		}
	}
	if len(updates) == 0 {
		return nil, icebergerr.ErrNoChangesToCommit
	}

	meta, err := ApplyUpdates(baseMeta, base.MetadataLocation, updates)
	if err != nil {
		return nil, err
	}

	result, err := o.write(ctx, meta, version+1)
	if err != nil {
		return nil, err
	}

	o.expireMetadataFiles(ctx, baseMeta, meta)
	return result, nil
}

// write installs meta as the given version. Losing the exclusive create
// to another writer is reported as a CommitConflictError.
func (o *hadoopTableOperations) write(ctx context.Context, meta *spec.TableMetadata, version int) (*TableResult, error) {
	data, err := meta.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize metadata: %w", err)
	}

	location := o.metadataFile(version)
	start := time.Now()
	if err := io.WriteFile(ctx, o.fileIO, location, data, true); err != nil {
		if errors.Is(err, icebergerr.ErrFileExists) {
			return nil, &icebergerr.CommitConflictError{
				TableIdentifier: o.identifier.String(),
				ExpectedVersion: int64(version - 1),
				ActualVersion:   int64(version),
				Cause:           err,
			}
		}
		return nil, fmt.Errorf("failed to write %s: %w", location, err)
	}

	logger := zerolog.Ctx(ctx)
	if err := io.WriteFile(ctx, o.fileIO, o.hintFile(), []byte(strconv.Itoa(version)), false); err != nil {
		logger.Warn().Err(err).
			Str("component", "catalog").
			Str("table", o.identifier.String()).
			Msg("failed to update version hint")
	}

	logger.Debug().
		Str("component", "catalog").
		Str("table", o.identifier.String()).
		Int("version", version).
		Dur("elapsed", time.Since(start)).
		Msg("metadata committed")

	return &TableResult{
		Identifier:       o.identifier,
		Metadata:         meta,
		MetadataLocation: location,
		Version:          version,
	}, nil
}

// expireMetadataFiles deletes metadata files that dropped out of the
// metadata log when write.metadata.delete-after-commit.enabled is set.
func (o *hadoopTableOperations) expireMetadataFiles(ctx context.Context, base, meta *spec.TableMetadata) {
	if meta.Property(spec.PropertyMetadataDeleteAfterCommit, "false") != "true" {
		return
	}

	kept := make(map[string]bool, len(meta.MetadataLog))
	for _, e := range meta.MetadataLog {
		kept[e.MetadataFile] = true
	}
	var expired []string
	for _, e := range base.MetadataLog {
		if !kept[e.MetadataFile] {
			expired = append(expired, e.MetadataFile)
		}
	}
	if len(expired) == 0 {
		return
	}

	if err := o.fileIO.DeleteFiles(ctx, expired); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("component", "catalog").
			Strs("files", expired).
			Msg("failed to delete old metadata files")
	}
}
