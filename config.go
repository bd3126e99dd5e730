package csv2iceberg

import (
	"fmt"
	"strings"
	"time"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/io"
)

// StorageType represents supported storage backends.
type StorageType string

const (
	// StorageLocal keeps buckets as directories on the local filesystem.
	StorageLocal StorageType = "local"
	// StorageS3 talks to S3 or an S3-compatible service such as MinIO.
	StorageS3 StorageType = "s3"
)

// Defaults of a session.
const (
	DefaultAppName     = "iceberg-concurrent-write-isolation-test"
	DefaultBucket      = "my-first-bucket"
	DefaultEndpoint    = "127.0.0.1:9000"
	DefaultAccessKey   = "minioadmin"
	DefaultSecretKey   = "minioadmin"
	DefaultCatalogName = "spark_catalog"
	DefaultNamespace   = "default"

	warehouseDir = "iceberg_data"
)

// Config holds the session configuration.
type Config struct {
	AppName string

	// Storage configuration
	StorageType StorageType
	S3Config    *S3Config
	LocalConfig *LocalConfig
	Bucket      string

	// Catalog configuration. An empty Warehouse means iceberg_data/ in
	// Bucket.
	CatalogName string
	Warehouse   string
	Namespace   string

	// Write configuration
	TargetFileSize int64 // 0 uses the table property

	// Retry configuration
	MaxRetries   int
	RetryBackoff time.Duration

	// Conf holds extra session settings reported by Session.Conf.
	Conf map[string]string

	store io.ObjectStore
}

// S3Config holds S3-specific configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string // For MinIO, LocalStack, etc.
	Secure          bool
	ForcePathStyle  bool
}

// LocalConfig holds local filesystem configuration.
type LocalConfig struct {
	BasePath string
}

// DefaultConfig returns a Config for a local MinIO with its default
// credentials.
func DefaultConfig() *Config {
	return &Config{
		AppName:     DefaultAppName,
		StorageType: StorageS3,
		S3Config: &S3Config{
			Endpoint:        DefaultEndpoint,
			AccessKeyID:     DefaultAccessKey,
			SecretAccessKey: DefaultSecretKey,
			ForcePathStyle:  true,
		},
		Bucket:       DefaultBucket,
		CatalogName:  DefaultCatalogName,
		Namespace:    DefaultNamespace,
		MaxRetries:   4,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Option is a functional option for session configuration.
type Option func(*Config)

// WithS3 configures S3 storage backend.
func WithS3(cfg *S3Config) Option {
	return func(c *Config) {
		c.StorageType = StorageS3
		c.S3Config = cfg
	}
}

// WithLocalStorage configures local filesystem storage.
func WithLocalStorage(basePath string) Option {
	return func(c *Config) {
		c.StorageType = StorageLocal
		c.LocalConfig = &LocalConfig{BasePath: basePath}
	}
}

// WithObjectStore uses store instead of building one from the storage
// settings.
func WithObjectStore(store io.ObjectStore) Option {
	return func(c *Config) {
		c.store = store
	}
}

// WithBucket sets the bucket for uploads and the default warehouse.
func WithBucket(bucket string) Option {
	return func(c *Config) {
		c.Bucket = bucket
	}
}

// WithWarehouse sets the warehouse location.
func WithWarehouse(warehouse string) Option {
	return func(c *Config) {
		c.Warehouse = warehouse
	}
}

// WithNamespace sets the namespace of unqualified table names.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithAppName sets the application name.
func WithAppName(name string) Option {
	return func(c *Config) {
		c.AppName = name
	}
}

// WithTargetFileSize sets the target file size for data files.
func WithTargetFileSize(size int64) Option {
	return func(c *Config) {
		c.TargetFileSize = size
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithRetryBackoff sets the initial backoff duration for retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.RetryBackoff = d
	}
}

// WithConf adds a session setting.
func WithConf(key, value string) Option {
	return func(c *Config) {
		if c.Conf == nil {
			c.Conf = make(map[string]string)
		}
		c.Conf[key] = value
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &icebergerr.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if c.Bucket == "" {
		return invalid("bucket", "must not be empty")
	}
	if c.Namespace == "" {
		return invalid("namespace", "must not be empty")
	}
	if c.MaxRetries < 0 {
		return invalid("max-retries", "must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryBackoff < 0 {
		return invalid("retry-backoff", "must not be negative, got %s", c.RetryBackoff)
	}
	if c.TargetFileSize < 0 {
		return invalid("target-file-size", "must not be negative, got %d", c.TargetFileSize)
	}
	if c.store != nil {
		return nil
	}

	switch c.StorageType {
	case StorageS3:
		if c.S3Config == nil {
			return invalid("s3", "storage type s3 requires an S3 configuration")
		}
		if (c.S3Config.AccessKeyID == "") != (c.S3Config.SecretAccessKey == "") {
			return invalid("s3", "access key and secret key must be set together")
		}
		if c.Warehouse != "" && !strings.HasPrefix(c.Warehouse, "s3://") && !strings.HasPrefix(c.Warehouse, "s3a://") {
			return invalid("warehouse", "%q is not an s3:// or s3a:// location", c.Warehouse)
		}
	case StorageLocal:
		if c.LocalConfig == nil {
			return invalid("local", "storage type local requires a base path")
		}
	default:
		return invalid("storage", "unsupported storage type %q", c.StorageType)
	}
	return nil
}

// warehouse returns the configured warehouse or iceberg_data/ in the
// bucket of store.
func (c *Config) warehouse(store io.ObjectStore) string {
	if c.Warehouse != "" {
		return strings.TrimSuffix(c.Warehouse, "/")
	}
	return store.URI(c.Bucket, warehouseDir)
}
