package io

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

const defaultRegion = "us-east-1"

// S3Config holds S3 configuration.
type S3Config struct {
	Region          string
	Endpoint        string // host:port or URL, for MinIO or other S3-compatible services
	Secure          bool   // scheme used when Endpoint has none
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool // Required for MinIO
}

// EndpointURL returns the endpoint with a scheme, or "" when no custom
// endpoint is configured.
func (c *S3Config) EndpointURL() string {
	if c.Endpoint == "" {
		return ""
	}
	if strings.Contains(c.Endpoint, "://") {
		return c.Endpoint
	}
	if c.Secure {
		return "https://" + c.Endpoint
	}
	return "http://" + c.Endpoint
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3FileIO implements ObjectStore for S3 and S3-compatible stores.
type S3FileIO struct {
	client     s3API
	region     string
	properties map[string]string
}

// NewS3FileIO creates a new S3 file I/O handler.
func NewS3FileIO(ctx context.Context, cfg *S3Config) (*S3FileIO, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.EndpointURL()
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// S3-compatible stores do not all accept the SDK's default
			// trailing checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	fio := newS3FileIO(client, region)
	fio.properties["s3.region"] = region
	fio.properties["s3.path-style-access"] = fmt.Sprintf("%t", cfg.ForcePathStyle)
	if endpoint != "" {
		fio.properties["s3.endpoint"] = endpoint
	}
	if cfg.AccessKeyID != "" {
		fio.properties["s3.access-key-id"] = cfg.AccessKeyID
	}
	return fio, nil
}

func newS3FileIO(client s3API, region string) *S3FileIO {
	return &S3FileIO{
		client: client,
		region: region,
		properties: map[string]string{
			"io-impl": "s3",
		},
	}
}

// parseS3URI parses an s3:// or s3a:// URI into bucket and key.
func parseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3a://")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "s3://")
	}
	if !ok {
		return "", "", fmt.Errorf("%w: not an S3 URI: %s", icebergerr.ErrInvalidPath, uri)
	}

	u, err := url.Parse("s3://" + rest)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", icebergerr.ErrInvalidPath, err)
	}

	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")

	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket in S3 URI %s", icebergerr.ErrInvalidPath, uri)
	}

	return bucket, key, nil
}

// isNotFound reports whether err is a missing object or bucket response.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

// isPreconditionFailed reports whether a conditional write lost.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// Open opens a file for reading.
func (s *S3FileIO) Open(ctx context.Context, path string) (InputFile, error) {
	bucket, key, err := parseS3URI(path)
	if err != nil {
		return nil, err
	}
	return &s3InputFile{client: s.client, bucket: bucket, key: key, path: path}, nil
}

// Create creates a new file for writing.
func (s *S3FileIO) Create(ctx context.Context, path string) (OutputFile, error) {
	bucket, key, err := parseS3URI(path)
	if err != nil {
		return nil, err
	}
	return &s3OutputFile{client: s.client, bucket: bucket, key: key, path: path}, nil
}

// Delete deletes a file.
func (s *S3FileIO) Delete(ctx context.Context, path string) error {
	bucket, key, err := parseS3URI(path)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

// Exists checks if a file exists.
func (s *S3FileIO) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := parseS3URI(path)
	if err != nil {
		return false, err
	}
	return headObject(ctx, s.client, bucket, key)
}

// Properties returns the properties of this FileIO.
func (s *S3FileIO) Properties() map[string]string {
	return s.properties
}

// DeleteFiles deletes multiple files, a few at a time.
func (s *S3FileIO) DeleteFiles(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, path := range paths {
		bucket, key, err := parseS3URI(path)
		if err != nil {
			return err
		}
		g.Go(func() error {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// ListFiles lists files under a prefix. The returned locations use the
// scheme of the prefix.
func (s *S3FileIO) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := parseS3URI(prefix)
	if err != nil {
		return nil, err
	}
	scheme := prefix[:strings.Index(prefix, "://")+3]

	var files []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			files = append(files, scheme+bucket+"/"+aws.ToString(obj.Key))
		}
	}

	return files, nil
}

// BucketExists reports whether the bucket is present.
func (s *S3FileIO) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return true, nil
}

// CreateBucket creates the bucket in the configured region.
func (s *S3FileIO) CreateBucket(ctx context.Context, bucket string) error {
	if err := validateBucketName(bucket); err != nil {
		return err
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != defaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	_, err := s.client.CreateBucket(ctx, in)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// URI returns the s3a:// location of key in bucket.
func (s *S3FileIO) URI(bucket, key string) string {
	return "s3a://" + bucket + "/" + strings.TrimPrefix(key, "/")
}

func headObject(ctx context.Context, client s3API, bucket, key string) (bool, error) {
	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type s3InputFile struct {
	client s3API
	bucket string
	key    string
	path   string
}

func (f *s3InputFile) Location() string {
	return f.path
}

func (f *s3InputFile) Exists(ctx context.Context) (bool, error) {
	return headObject(ctx, f.client, f.bucket, f.key)
}

func (f *s3InputFile) Length(ctx context.Context) (int64, error) {
	resp, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%s: %w", f.path, icebergerr.ErrFileNotFound)
		}
		return 0, err
	}
	return aws.ToInt64(resp.ContentLength), nil
}

func (f *s3InputFile) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", f.path, icebergerr.ErrFileNotFound)
		}
		return nil, err
	}
	return resp.Body, nil
}

// OpenRange reads length bytes from offset. An empty range is served
// without a request since the Range header cannot express it.
func (f *s3InputFile) OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: %s: negative offset %d", icebergerr.ErrIOFailed, f.path, offset)
	}
	if length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type s3OutputFile struct {
	client s3API
	bucket string
	key    string
	path   string
}

func (f *s3OutputFile) Location() string {
	return f.path
}

// Create uploads with If-None-Match so that the existence check and the
// write are one atomic step on the server. The conflict surfaces on Close.
func (f *s3OutputFile) Create(ctx context.Context) (io.WriteCloser, error) {
	return f.writer(ctx, true), nil
}

func (f *s3OutputFile) CreateOverwrite(ctx context.Context) (io.WriteCloser, error) {
	return f.writer(ctx, false), nil
}

func (f *s3OutputFile) writer(ctx context.Context, exclusive bool) *s3Writer {
	return &s3Writer{
		client:    f.client,
		bucket:    f.bucket,
		key:       f.key,
		path:      f.path,
		exclusive: exclusive,
		buffer:    new(bytes.Buffer),
		ctx:       ctx,
	}
}

func (f *s3OutputFile) ToInputFile() InputFile {
	return &s3InputFile{client: f.client, bucket: f.bucket, key: f.key, path: f.path}
}

// s3Writer buffers writes and uploads on close.
type s3Writer struct {
	client    s3API
	bucket    string
	key       string
	path      string
	exclusive bool
	buffer    *bytes.Buffer
	ctx       context.Context
	closed    bool
}

func (w *s3Writer) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed object writer %s", w.path)
	}
	return w.buffer.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	in := &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(w.buffer.Bytes()),
		ContentLength: aws.Int64(int64(w.buffer.Len())),
	}
	if w.exclusive {
		in.IfNoneMatch = aws.String("*")
	}

	_, err := w.client.PutObject(w.ctx, in)
	if err != nil {
		if w.exclusive && isPreconditionFailed(err) {
			return fmt.Errorf("%s: %w", w.path, icebergerr.ErrFileExists)
		}
		return &icebergerr.IOError{Operation: "put", Path: w.path, Cause: err}
	}

	zerolog.Ctx(w.ctx).Debug().
		Str("bucket", w.bucket).
		Str("key", w.key).
		Int("bytes", w.buffer.Len()).
		Msg("object written")
	return nil
}
