package csv2iceberg

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrobridgeOrg/csv2iceberg/catalog"
	"github.com/BrobridgeOrg/csv2iceberg/dataset"
	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/internal/backoff"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
	"github.com/BrobridgeOrg/csv2iceberg/table"
)

// SaveMode decides what SaveAsTable does when the table already exists.
type SaveMode string

const (
	// SaveModeAppend adds the rows to the table.
	SaveModeAppend SaveMode = "append"
	// SaveModeOverwrite replaces the table contents.
	SaveModeOverwrite SaveMode = "overwrite"
	// SaveModeErrorIfExists fails when the table exists.
	SaveModeErrorIfExists SaveMode = "errorifexists"
	// SaveModeIgnore leaves an existing table untouched.
	SaveModeIgnore SaveMode = "ignore"
)

// ParseSaveMode parses a save mode name. "error" and "default" are
// accepted for errorifexists.
func ParseSaveMode(s string) (SaveMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "append":
		return SaveModeAppend, nil
	case "overwrite":
		return SaveModeOverwrite, nil
	case "errorifexists", "error", "default":
		return SaveModeErrorIfExists, nil
	case "ignore":
		return SaveModeIgnore, nil
	}
	return "", &icebergerr.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown save mode %q", s)}
}

const maskedSecret = "*********(redacted)"

// Session connects an object store with a hadoop catalog whose warehouse
// lives in that store.
type Session struct {
	config  *Config
	store   io.ObjectStore
	catalog *catalog.HadoopCatalog
	conf    map[string]string
}

// NewSession creates a session with the given configuration.
func NewSession(ctx context.Context, opts ...Option) (*Session, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return newSession(ctx, config)
}

func newSession(ctx context.Context, config *Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", icebergerr.ErrInvalidConfig, err)
	}

	store, err := createObjectStore(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	warehouse := config.warehouse(store)
	s := &Session{
		config:  config,
		store:   store,
		catalog: catalog.NewHadoopCatalog(config.CatalogName, warehouse, store),
	}
	s.conf = s.buildConf(warehouse)

	zerolog.Ctx(ctx).Info().
		Str("component", "session").
		Str("app", config.AppName).
		Str("catalog", config.CatalogName).
		Str("warehouse", warehouse).
		Msg("session created")
	return s, nil
}

// createObjectStore creates the object store based on the configuration.
func createObjectStore(ctx context.Context, config *Config) (io.ObjectStore, error) {
	if config.store != nil {
		return config.store, nil
	}

	switch config.StorageType {
	case StorageS3:
		c := config.S3Config
		return io.NewS3FileIO(ctx, &io.S3Config{
			Region:          c.Region,
			Endpoint:        c.Endpoint,
			Secure:          c.Secure,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			SessionToken:    c.SessionToken,
			ForcePathStyle:  c.ForcePathStyle,
		})
	default:
		return io.NewLocalFileIO(config.LocalConfig.BasePath), nil
	}
}

func (s *Session) buildConf(warehouse string) map[string]string {
	prefix := "catalog." + s.config.CatalogName
	conf := map[string]string{
		"app.name":                 s.config.AppName,
		prefix + ".type":           "hadoop",
		prefix + ".warehouse":      warehouse,
		"catalog.namespace":        s.config.Namespace,
		"storage.type":             string(s.config.StorageType),
		"commit.retry.num-retries": fmt.Sprint(s.config.MaxRetries),
	}
	if c := s.config.S3Config; s.config.StorageType == StorageS3 && c != nil {
		conf["fs.s3a.endpoint"] = (&io.S3Config{Endpoint: c.Endpoint, Secure: c.Secure}).EndpointURL()
		conf["fs.s3a.path.style.access"] = fmt.Sprint(c.ForcePathStyle)
		if c.AccessKeyID != "" {
			conf["fs.s3a.access.key"] = c.AccessKeyID
			conf["fs.s3a.secret.key"] = maskedSecret
		}
	}
	for k, v := range s.config.Conf {
		if isSecretKey(k) {
			v = maskedSecret
		}
		conf[k] = v
	}
	return conf
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "secret") || strings.Contains(key, "password") || strings.Contains(key, "token")
}

// Config returns the session configuration.
func (s *Session) Config() *Config {
	return s.config
}

// AppName returns the application name.
func (s *Session) AppName() string {
	return s.config.AppName
}

// Conf returns the session settings. Secrets are masked.
func (s *Session) Conf() map[string]string {
	return maps.Clone(s.conf)
}

// Store returns the object store.
func (s *Session) Store() io.ObjectStore {
	return s.store
}

// Catalog returns the hadoop catalog.
func (s *Session) Catalog() *catalog.HadoopCatalog {
	return s.catalog
}

// Warehouse returns the catalog warehouse location.
func (s *Session) Warehouse() string {
	return s.catalog.Warehouse()
}

// Identifier resolves name against the session namespace.
func (s *Session) Identifier(name string) (catalog.TableIdentifier, error) {
	return catalog.ParseIdentifier(name, s.config.Namespace)
}

// TableLocation returns where the catalog keeps the named table.
func (s *Session) TableLocation(name string) (string, error) {
	id, err := s.Identifier(name)
	if err != nil {
		return "", err
	}
	return s.catalog.TableLocation(id), nil
}

// ReadCSV loads the CSV object at location in the session's store.
func (s *Session) ReadCSV(ctx context.Context, location string, opts ...dataset.Option) (*dataset.Dataset, error) {
	in, err := s.store.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	r, err := in.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", location, err)
	}
	defer r.Close()

	ds, err := dataset.ReadCSV(ctx, r, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return ds, nil
}

// SaveAsTable writes ds to the named table, creating it with the dataset's
// schema when missing. Columns are matched by name; table columns absent
// from ds are written as nulls. The snapshot is nil when mode is ignore
// and the table exists.
func (s *Session) SaveAsTable(ctx context.Context, ds *dataset.Dataset, name string, mode SaveMode, opts ...table.WriteOption) (*spec.Snapshot, error) {
	id, err := s.Identifier(name)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = SaveModeErrorIfExists
	}
	if mode, err = ParseSaveMode(string(mode)); err != nil {
		return nil, err
	}

	log := zerolog.Ctx(ctx).With().
		Str("component", "session").
		Str("table", id.String()).
		Str("mode", string(mode)).
		Logger()

	tbl, created, err := s.openOrCreate(ctx, id, ds, mode)
	if err != nil {
		return nil, err
	}
	if tbl == nil {
		log.Info().Msg("table exists, nothing written")
		return nil, nil
	}

	writeOpts := []table.WriteOption{
		table.WithMaxRetries(s.config.MaxRetries),
		table.WithRetryPolicy(retryPolicy(s.config.RetryBackoff)),
		table.WithTargetFileSize(s.config.TargetFileSize),
		table.WithSnapshotProperty("app-name", s.config.AppName),
	}
	writeOpts = append(writeOpts, opts...)

	var snap *spec.Snapshot
	if mode == SaveModeOverwrite {
		snap, err = tbl.Overwrite(ctx, ds.Record(), writeOpts...)
	} else {
		snap, err = tbl.Append(ctx, ds.Record(), writeOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", id, err)
	}

	log.Info().
		Bool("created", created).
		Int64("snapshot_id", snap.SnapshotID).
		Int64("rows", ds.NumRows()).
		Msg("table written")
	return snap, nil
}

// openOrCreate returns the table to write to, or nil when mode says to
// leave an existing table alone.
func (s *Session) openOrCreate(ctx context.Context, id catalog.TableIdentifier, ds *dataset.Dataset, mode SaveMode) (*table.Table, bool, error) {
	exists, err := s.catalog.TableExists(ctx, id)
	if err != nil {
		return nil, false, err
	}

	created := false
	if !exists {
		schema, err := table.ArrowToSchema(ds.Schema())
		if err != nil {
			return nil, false, err
		}
		_, err = s.catalog.CreateTable(ctx, id, schema)
		switch {
		case err == nil:
			created = true
		case errors.Is(err, icebergerr.ErrTableAlreadyExists):
			// created concurrently by another writer
			exists = true
		default:
			return nil, false, err
		}
	}

	if exists {
		switch mode {
		case SaveModeErrorIfExists:
			return nil, false, fmt.Errorf("%w: %s", icebergerr.ErrTableAlreadyExists, id)
		case SaveModeIgnore:
			return nil, false, nil
		}
	}

	result, err := s.catalog.LoadTable(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return table.New(result, s.catalog.Operations(id)), created, nil
}

// retryPolicy backs off exponentially from base. A zero base retries
// without waiting.
func retryPolicy(base time.Duration) backoff.Policy {
	if base <= 0 {
		return backoff.Policy{}
	}
	return backoff.Policy{
		Base: base,
		Cap:  max(backoff.DefaultPolicy.Cap, base),
		Min:  min(base, backoff.DefaultPolicy.Min),
	}
}

// Table opens the named table of the catalog.
func (s *Session) Table(ctx context.Context, name string) (*table.Table, error) {
	id, err := s.Identifier(name)
	if err != nil {
		return nil, err
	}
	result, err := s.catalog.LoadTable(ctx, id)
	if err != nil {
		return nil, err
	}
	return table.New(result, s.catalog.Operations(id)), nil
}

// LoadTable opens the table stored at location, which may lie outside
// the warehouse.
func (s *Session) LoadTable(ctx context.Context, location string) (*table.Table, error) {
	result, err := s.catalog.LoadTableFromLocation(ctx, location)
	if err != nil {
		return nil, err
	}
	return table.New(result, s.catalog.OperationsAt(location)), nil
}

// DropTable drops the named table. With purge its data files are deleted
// as well.
func (s *Session) DropTable(ctx context.Context, name string, purge bool) error {
	id, err := s.Identifier(name)
	if err != nil {
		return err
	}
	return s.catalog.DropTable(ctx, id, purge)
}

// ListTables lists the tables of the session namespace.
func (s *Session) ListTables(ctx context.Context) ([]catalog.TableIdentifier, error) {
	return s.catalog.ListTables(ctx, catalog.Namespace(strings.Split(s.config.Namespace, ".")))
}
