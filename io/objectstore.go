package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

var bucketNameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func validateBucketName(bucket string) error {
	if !bucketNameRE.MatchString(bucket) {
		return &icebergerr.ValidationError{
			Field:   "bucket",
			Message: fmt.Sprintf("%q is not a valid bucket name", bucket),
		}
	}
	return nil
}

// EnsureBucket creates bucket when it does not exist yet. It reports
// whether the bucket was created by this call.
func EnsureBucket(ctx context.Context, store ObjectStore, bucket string) (bool, error) {
	if err := validateBucketName(bucket); err != nil {
		return false, err
	}

	log := zerolog.Ctx(ctx).With().Str("bucket", bucket).Logger()

	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return false, err
	}
	if exists {
		log.Info().Msg("bucket already exists")
		return false, nil
	}

	if err := store.CreateBucket(ctx, bucket); err != nil {
		return false, err
	}
	log.Info().Msg("bucket created")
	return true, nil
}

// UploadInfo describes an uploaded object.
type UploadInfo struct {
	Bucket   string
	Key      string
	Location string
	Size     int64
}

// UploadFile copies the local file at localPath to key in bucket,
// replacing any previous object. The bucket must exist.
func UploadFile(ctx context.Context, store ObjectStore, localPath, bucket, key string) (UploadInfo, error) {
	src, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return UploadInfo{}, fmt.Errorf("%s: %w", localPath, icebergerr.ErrFileNotFound)
		}
		return UploadInfo{}, err
	}
	defer src.Close()

	ok, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return UploadInfo{}, err
	}
	if !ok {
		return UploadInfo{}, fmt.Errorf("%s: %w", bucket, icebergerr.ErrBucketNotFound)
	}

	location := store.URI(bucket, key)
	out, err := store.Create(ctx, location)
	if err != nil {
		return UploadInfo{}, err
	}
	w, err := out.CreateOverwrite(ctx)
	if err != nil {
		return UploadInfo{}, err
	}

	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return UploadInfo{}, &icebergerr.IOError{Operation: "upload", Path: location, Cause: err}
	}
	if err := w.Close(); err != nil {
		return UploadInfo{}, err
	}

	zerolog.Ctx(ctx).Info().
		Str("source", localPath).
		Str("location", location).
		Int64("bytes", n).
		Msg("file uploaded")

	return UploadInfo{Bucket: bucket, Key: key, Location: location, Size: n}, nil
}
