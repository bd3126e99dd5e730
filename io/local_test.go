package io

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

func TestLocalFileIO_CreateAndOpen(t *testing.T) {
	ctx := context.Background()
	fileIO := NewLocalFileIO(t.TempDir())
	testPath := fileIO.URI("bucket", "dir/test.txt")
	testContent := []byte("Hello, Iceberg!")

	if err := WriteFile(ctx, fileIO, testPath, testContent, true); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	inputFile, err := fileIO.Open(ctx, testPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	length, err := inputFile.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != int64(len(testContent)) {
		t.Errorf("Length = %d, want %d", length, len(testContent))
	}

	data, err := ReadAll(ctx, fileIO, testPath)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(data, testContent) {
		t.Errorf("Content = %s, want %s", data, testContent)
	}

	r, err := inputFile.OpenRange(ctx, 7, 7)
	if err != nil {
		t.Fatalf("OpenRange failed: %v", err)
	}
	defer r.Close()
	part := make([]byte, 7)
	if _, err := r.Read(part); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(part) != "Iceberg" {
		t.Errorf("OpenRange content = %q, want %q", part, "Iceberg")
	}

	if _, err := inputFile.OpenRange(ctx, -1, 7); !errors.Is(err, icebergerr.ErrIOFailed) {
		t.Errorf("OpenRange(-1) error = %v, want ErrIOFailed", err)
	}
}

func TestLocalFileIO_ExclusiveCreate(t *testing.T) {
	ctx := context.Background()
	fileIO := NewLocalFileIO(t.TempDir())
	testPath := fileIO.URI("bucket", "v1.metadata.json")

	if err := WriteFile(ctx, fileIO, testPath, []byte("first"), true); err != nil {
		t.Fatalf("first write failed: %v", err)
	}

	err := WriteFile(ctx, fileIO, testPath, []byte("second"), true)
	if !errors.Is(err, icebergerr.ErrFileExists) {
		t.Fatalf("second exclusive write error = %v, want ErrFileExists", err)
	}

	if err := WriteFile(ctx, fileIO, testPath, []byte("third"), false); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	data, _ := os.ReadFile(testPath)
	if string(data) != "third" {
		t.Errorf("Content = %s, want third", data)
	}
}

func TestLocalFileIO_Delete(t *testing.T) {
	ctx := context.Background()
	fileIO := NewLocalFileIO(t.TempDir())
	testPath := fileIO.URI("bucket", "delete_test.txt")

	if err := WriteFile(ctx, fileIO, testPath, []byte("test"), false); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := fileIO.Delete(ctx, testPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(testPath); !os.IsNotExist(err) {
		t.Error("File should be deleted")
	}

	err := fileIO.Delete(ctx, testPath)
	if !errors.Is(err, icebergerr.ErrFileNotFound) {
		t.Errorf("Delete of missing file error = %v, want ErrFileNotFound", err)
	}
}

func TestLocalFileIO_OpenMissing(t *testing.T) {
	ctx := context.Background()
	fileIO := NewLocalFileIO(t.TempDir())

	in, err := fileIO.Open(ctx, fileIO.URI("bucket", "nope"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	exists, err := in.Exists(ctx)
	if err != nil || exists {
		t.Errorf("Exists() = %v, %v, want false, nil", exists, err)
	}
	if _, err := in.Open(ctx); !errors.Is(err, icebergerr.ErrFileNotFound) {
		t.Errorf("Open() error = %v, want ErrFileNotFound", err)
	}
}

func TestLocalFileIO_ListFiles(t *testing.T) {
	ctx := context.Background()
	fileIO := NewLocalFileIO(t.TempDir())

	for _, key := range []string{"t/metadata/v1.metadata.json", "t/metadata/v2.metadata.json", "t/data/a.parquet"} {
		if err := WriteFile(ctx, fileIO, fileIO.URI("bucket", key), []byte("x"), false); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
	}

	files, err := fileIO.ListFiles(ctx, fileIO.URI("bucket", "t/metadata"))
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	sort.Strings(files)
	want := []string{
		fileIO.URI("bucket", "t/metadata/v1.metadata.json"),
		fileIO.URI("bucket", "t/metadata/v2.metadata.json"),
	}
	if len(files) != len(want) {
		t.Fatalf("ListFiles = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}

	missing, err := fileIO.ListFiles(ctx, fileIO.URI("bucket", "absent"))
	if err != nil {
		t.Fatalf("ListFiles on missing prefix failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("ListFiles on missing prefix = %v, want empty", missing)
	}
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fileIO := NewLocalFileIO(root)

	created, err := EnsureBucket(ctx, fileIO, "my-first-bucket")
	if err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}
	if !created {
		t.Error("first EnsureBucket should create the bucket")
	}
	if info, err := os.Stat(filepath.Join(root, "my-first-bucket")); err != nil || !info.IsDir() {
		t.Errorf("bucket directory missing: %v", err)
	}

	created, err = EnsureBucket(ctx, fileIO, "my-first-bucket")
	if err != nil {
		t.Fatalf("second EnsureBucket failed: %v", err)
	}
	if created {
		t.Error("second EnsureBucket should not create the bucket again")
	}

	if _, err := EnsureBucket(ctx, fileIO, "Bad_Bucket"); !errors.Is(err, icebergerr.ErrInvalidConfig) {
		t.Errorf("EnsureBucket(Bad_Bucket) error = %v, want ErrInvalidConfig", err)
	}
}

func TestUploadFile(t *testing.T) {
	ctx := context.Background()
	fileIO := NewLocalFileIO(t.TempDir())

	src := filepath.Join(t.TempDir(), "data.csv")
	content := []byte("id,name\n1,a\n2,b\n")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if _, err := UploadFile(ctx, fileIO, src, "bucket", "data.csv"); !errors.Is(err, icebergerr.ErrBucketNotFound) {
		t.Errorf("UploadFile before EnsureBucket error = %v, want ErrBucketNotFound", err)
	}
	if _, err := EnsureBucket(ctx, fileIO, "bucket"); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}

	info, err := UploadFile(ctx, fileIO, src, "bucket", "data.csv")
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", info.Size, len(content))
	}
	if info.Location != fileIO.URI("bucket", "data.csv") {
		t.Errorf("Location = %s", info.Location)
	}

	// uploading twice replaces the object
	if _, err := UploadFile(ctx, fileIO, src, "bucket", "data.csv"); err != nil {
		t.Fatalf("second UploadFile failed: %v", err)
	}

	_, err = UploadFile(ctx, fileIO, filepath.Join(t.TempDir(), "missing.csv"), "bucket", "data.csv")
	if !errors.Is(err, icebergerr.ErrFileNotFound) {
		t.Errorf("UploadFile of missing source error = %v, want ErrFileNotFound", err)
	}
}

func TestLocalFileIO_ExclusiveCreateRace(t *testing.T) {
	ctx := context.Background()
	fileIO := NewLocalFileIO(t.TempDir())
	target := fileIO.URI("bucket", "metadata/v2.metadata.json")

	const writers = 8
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = WriteFile(ctx, fileIO, target, bytes.Repeat([]byte{byte('a' + i)}, 4096), true)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case !errors.Is(err, icebergerr.ErrFileExists):
			t.Errorf("WriteFile() error = %v, want nil or ErrFileExists", err)
		}
	}
	if winners != 1 {
		t.Errorf("%d writers won, want 1", winners)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 4096 || bytes.Count(data, data[:1]) != 4096 {
		t.Errorf("published file is not one writer's complete content")
	}

	files, err := fileIO.ListFiles(ctx, fileIO.URI("bucket", "metadata"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("ListFiles() = %v, want only the published file", files)
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		base string
		elem []string
		want string
	}{
		{"s3a://bucket/iceberg_data/", []string{"default", "t"}, "s3a://bucket/iceberg_data/default/t"},
		{"s3://bucket", []string{"a/b", "c.json"}, "s3://bucket/a/b/c.json"},
		{"/tmp/wh", []string{"default", "t", "metadata"}, "/tmp/wh/default/t/metadata"},
		{"file:///tmp/wh", []string{"x"}, "file:///tmp/wh/x"},
	}

	for _, tt := range tests {
		if got := JoinPath(tt.base, tt.elem...); got != tt.want {
			t.Errorf("JoinPath(%q, %v) = %q, want %q", tt.base, tt.elem, got, tt.want)
		}
	}
}
