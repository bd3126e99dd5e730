// Package io provides the file and object storage layer used by the catalog,
// the table writers and the ingestion stages.
package io

import (
	"context"
	"io"
	"path"
	"strings"
)

// FileIO is the interface for file operations.
type FileIO interface {
	// Open opens a file for reading.
	Open(ctx context.Context, path string) (InputFile, error)

	// Create creates a new file for writing.
	Create(ctx context.Context, path string) (OutputFile, error)

	// Delete deletes a file.
	Delete(ctx context.Context, path string) error

	// Exists checks if a file exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Properties returns the properties of this FileIO.
	Properties() map[string]string
}

// InputFile represents a readable file.
type InputFile interface {
	Location() string
	Exists(ctx context.Context) (bool, error)
	Length(ctx context.Context) (int64, error)
	Open(ctx context.Context) (io.ReadCloser, error)
	OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// OutputFile represents a writable file.
type OutputFile interface {
	Location() string

	// Create returns a writer that fails with icebergerr.ErrFileExists if
	// the file is already present. Depending on the backend the failure is
	// reported by Create itself or by Close on the returned writer.
	Create(ctx context.Context) (io.WriteCloser, error)

	// CreateOverwrite creates or overwrites the file.
	CreateOverwrite(ctx context.Context) (io.WriteCloser, error)

	ToInputFile() InputFile
}

// BulkFileIO extends FileIO with bulk operations.
type BulkFileIO interface {
	FileIO

	// DeleteFiles deletes multiple files.
	DeleteFiles(ctx context.Context, paths []string) error

	// ListFiles lists files under a prefix.
	ListFiles(ctx context.Context, prefix string) ([]string, error)
}

// ObjectStore is a BulkFileIO that also manages buckets.
type ObjectStore interface {
	BulkFileIO

	// BucketExists reports whether the bucket is present.
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// CreateBucket creates the bucket.
	CreateBucket(ctx context.Context, bucket string) error

	// URI returns the location of key inside bucket in the form accepted
	// by Open and Create.
	URI(bucket, key string) string
}

// JoinPath joins path elements onto a base location. Unlike path.Join it
// keeps the "//" of a scheme such as s3:// intact.
func JoinPath(base string, elem ...string) string {
	scheme := ""
	if i := strings.Index(base, "://"); i >= 0 {
		scheme, base = base[:i+3], base[i+3:]
	}
	joined := path.Join(append([]string{base}, elem...)...)
	return scheme + joined
}

// ReadAll reads a whole file.
func ReadAll(ctx context.Context, fio FileIO, location string) ([]byte, error) {
	in, err := fio.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	r, err := in.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile writes data to location. With exclusive set the write fails
// with icebergerr.ErrFileExists when the file already exists.
func WriteFile(ctx context.Context, fio FileIO, location string, data []byte, exclusive bool) error {
	out, err := fio.Create(ctx, location)
	if err != nil {
		return err
	}

	var w io.WriteCloser
	if exclusive {
		w, err = out.Create(ctx)
	} else {
		w, err = out.CreateOverwrite(ctx)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
