package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

// LocalFileIO implements ObjectStore on the local filesystem. Buckets are
// directories directly below root.
type LocalFileIO struct {
	root       string
	properties map[string]string
}

// NewLocalFileIO creates a local file I/O handler whose buckets live under
// root. An empty root means the current directory.
func NewLocalFileIO(root string) *LocalFileIO {
	return &LocalFileIO{
		root: root,
		properties: map[string]string{
			"io-impl":    "local",
			"local.root": root,
		},
	}
}

// Root returns the directory that holds the buckets.
func (l *LocalFileIO) Root() string {
	return l.root
}

// Open opens a file for reading.
func (l *LocalFileIO) Open(ctx context.Context, path string) (InputFile, error) {
	return &localInputFile{path: normalizePath(path)}, nil
}

// Create creates a new file for writing.
func (l *LocalFileIO) Create(ctx context.Context, path string) (OutputFile, error) {
	return &localOutputFile{path: normalizePath(path)}, nil
}

// Delete deletes a file.
func (l *LocalFileIO) Delete(ctx context.Context, path string) error {
	err := os.Remove(normalizePath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, icebergerr.ErrFileNotFound)
	}
	return err
}

// Exists checks if a file exists.
func (l *LocalFileIO) Exists(ctx context.Context, path string) (bool, error) {
	return statExists(normalizePath(path))
}

// Properties returns the properties of this FileIO.
func (l *LocalFileIO) Properties() map[string]string {
	return l.properties
}

// DeleteFiles deletes multiple files.
func (l *LocalFileIO) DeleteFiles(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := l.Delete(ctx, path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	return nil
}

// ListFiles lists regular files under a directory prefix. A missing prefix
// yields an empty list.
func (l *LocalFileIO) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	prefix = normalizePath(prefix)
	var files []string

	err := filepath.WalkDir(prefix, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// BucketExists reports whether the bucket directory exists.
func (l *LocalFileIO) BucketExists(ctx context.Context, bucket string) (bool, error) {
	info, err := os.Stat(filepath.Join(l.root, bucket))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// CreateBucket creates the bucket directory.
func (l *LocalFileIO) CreateBucket(ctx context.Context, bucket string) error {
	if err := validateBucketName(bucket); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(l.root, bucket), 0o755)
}

// URI returns the filesystem path of key in bucket.
func (l *LocalFileIO) URI(bucket, key string) string {
	return filepath.Join(l.root, bucket, filepath.FromSlash(key))
}

// normalizePath removes the file:// prefix if present.
func normalizePath(path string) string {
	return strings.TrimPrefix(path, "file://")
}

func statExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

type localInputFile struct {
	path string
}

func (f *localInputFile) Location() string {
	return f.path
}

func (f *localInputFile) Exists(ctx context.Context) (bool, error) {
	return statExists(f.path)
}

func (f *localInputFile) Length(ctx context.Context) (int64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", f.path, icebergerr.ErrFileNotFound)
		}
		return 0, err
	}
	return info.Size(), nil
}

func (f *localInputFile) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", f.path, icebergerr.ErrFileNotFound)
		}
		return nil, err
	}
	return file, nil
}

func (f *localInputFile) OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: %s: negative offset %d", icebergerr.ErrIOFailed, f.path, offset)
	}
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", f.path, icebergerr.ErrFileNotFound)
		}
		return nil, err
	}

	return &limitedReadCloser{
		Reader: io.NewSectionReader(file, offset, length),
		Closer: file,
	}, nil
}

type localOutputFile struct {
	path string
}

func (f *localOutputFile) Location() string {
	return f.path
}

func (f *localOutputFile) Create(ctx context.Context) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if exists, err := statExists(f.path); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%s: %w", f.path, icebergerr.ErrFileExists)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return nil, err
	}
	return &exclusiveFile{File: tmp, path: f.path}, nil
}

// exclusiveFile is written under a temporary name and published on Close
// with a hard link, so readers never see a partial file and only one of
// several concurrent writers wins.
type exclusiveFile struct {
	*os.File
	path string
}

func (f *exclusiveFile) Close() error {
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := f.File.Close(); err != nil {
		return err
	}
	if err := os.Link(tmp, f.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", f.path, icebergerr.ErrFileExists)
		}
		return err
	}
	return nil
}

func (f *localOutputFile) CreateOverwrite(ctx context.Context) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return os.Create(f.path)
}

func (f *localOutputFile) ToInputFile() InputFile {
	return &localInputFile{path: f.path}
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}
