package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/linkedin/goavro/v2"
)

// The manifest schemas carry Iceberg field IDs. Maps keyed by field ID are
// stored as arrays of key/value records with logicalType "map", since Avro
// maps only allow string keys.

const manifestListSchemaV2 = `{
  "type": "record",
  "name": "manifest_file",
  "fields": [
    {"name": "manifest_path", "type": "string", "field-id": 500},
    {"name": "manifest_length", "type": "long", "field-id": 501},
    {"name": "partition_spec_id", "type": "int", "field-id": 502},
    {"name": "content", "type": "int", "field-id": 517},
    {"name": "sequence_number", "type": "long", "field-id": 515},
    {"name": "min_sequence_number", "type": "long", "field-id": 516},
    {"name": "added_snapshot_id", "type": "long", "field-id": 503},
    {"name": "added_files_count", "type": "int", "field-id": 504},
    {"name": "existing_files_count", "type": "int", "field-id": 505},
    {"name": "deleted_files_count", "type": "int", "field-id": 506},
    {"name": "added_rows_count", "type": "long", "field-id": 512},
    {"name": "existing_rows_count", "type": "long", "field-id": 513},
    {"name": "deleted_rows_count", "type": "long", "field-id": 514},
    {"name": "partitions", "type": ["null", {
      "type": "array",
      "element-id": 508,
      "items": {
        "type": "record",
        "name": "r508",
        "fields": [
          {"name": "contains_null", "type": "boolean", "field-id": 509},
          {"name": "contains_nan", "type": ["null", "boolean"], "default": null, "field-id": 518},
          {"name": "lower_bound", "type": ["null", "bytes"], "default": null, "field-id": 510},
          {"name": "upper_bound", "type": ["null", "bytes"], "default": null, "field-id": 511}
        ]
      }
    }], "default": null, "field-id": 507},
    {"name": "key_metadata", "type": ["null", "bytes"], "default": null, "field-id": 519}
  ]
}`

const manifestEntrySchemaV2 = `{
  "type": "record",
  "name": "manifest_entry",
  "fields": [
    {"name": "status", "type": "int", "field-id": 0},
    {"name": "snapshot_id", "type": ["null", "long"], "default": null, "field-id": 1},
    {"name": "sequence_number", "type": ["null", "long"], "default": null, "field-id": 3},
    {"name": "file_sequence_number", "type": ["null", "long"], "default": null, "field-id": 4},
    {"name": "data_file", "field-id": 2, "type": {
      "type": "record",
      "name": "r2",
      "fields": [
        {"name": "content", "type": "int", "field-id": 134},
        {"name": "file_path", "type": "string", "field-id": 100},
        {"name": "file_format", "type": "string", "field-id": 101},
        {"name": "partition", "type": {"type": "record", "name": "r102", "fields": []}, "field-id": 102},
        {"name": "record_count", "type": "long", "field-id": 103},
        {"name": "file_size_in_bytes", "type": "long", "field-id": 104},
        {"name": "column_sizes", "type": ["null", ` + longMapSchema117 + `], "default": null, "field-id": 108},
        {"name": "value_counts", "type": ["null", ` + longMapSchema119 + `], "default": null, "field-id": 109},
        {"name": "null_value_counts", "type": ["null", ` + longMapSchema121 + `], "default": null, "field-id": 110},
        {"name": "nan_value_counts", "type": ["null", ` + longMapSchema138 + `], "default": null, "field-id": 137},
        {"name": "lower_bounds", "type": ["null", ` + bytesMapSchema126 + `], "default": null, "field-id": 125},
        {"name": "upper_bounds", "type": ["null", ` + bytesMapSchema129 + `], "default": null, "field-id": 128},
        {"name": "key_metadata", "type": ["null", "bytes"], "default": null, "field-id": 131},
        {"name": "split_offsets", "type": ["null", {"type": "array", "items": "long", "element-id": 133}], "default": null, "field-id": 132},
        {"name": "equality_ids", "type": ["null", {"type": "array", "items": "int", "element-id": 136}], "default": null, "field-id": 135},
        {"name": "sort_order_id", "type": ["null", "int"], "default": null, "field-id": 140}
      ]
    }}
  ]
}`

const (
	longMapSchema117  = `{"type": "array", "logicalType": "map", "items": {"type": "record", "name": "k117_v118", "fields": [{"name": "key", "type": "int", "field-id": 117}, {"name": "value", "type": "long", "field-id": 118}]}}`
	longMapSchema119  = `{"type": "array", "logicalType": "map", "items": {"type": "record", "name": "k119_v120", "fields": [{"name": "key", "type": "int", "field-id": 119}, {"name": "value", "type": "long", "field-id": 120}]}}`
	longMapSchema121  = `{"type": "array", "logicalType": "map", "items": {"type": "record", "name": "k121_v122", "fields": [{"name": "key", "type": "int", "field-id": 121}, {"name": "value", "type": "long", "field-id": 122}]}}`
	longMapSchema138  = `{"type": "array", "logicalType": "map", "items": {"type": "record", "name": "k138_v139", "fields": [{"name": "key", "type": "int", "field-id": 138}, {"name": "value", "type": "long", "field-id": 139}]}}`
	bytesMapSchema126 = `{"type": "array", "logicalType": "map", "items": {"type": "record", "name": "k126_v127", "fields": [{"name": "key", "type": "int", "field-id": 126}, {"name": "value", "type": "bytes", "field-id": 127}]}}`
	bytesMapSchema129 = `{"type": "array", "logicalType": "map", "items": {"type": "record", "name": "k129_v130", "fields": [{"name": "key", "type": "int", "field-id": 129}, {"name": "value", "type": "bytes", "field-id": 130}]}}`
)

var (
	manifestListCodec  = mustCodec(manifestListSchemaV2)
	manifestEntryCodec = mustCodec(manifestEntrySchemaV2)
)

func mustCodec(schema string) *goavro.Codec {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		panic(fmt.Sprintf("invalid manifest avro schema: %v", err))
	}
	return codec
}

// ManifestListInfo is written into the manifest list file header.
type ManifestListInfo struct {
	SnapshotID       int64
	ParentSnapshotID *int64
	SequenceNumber   int64
}

// WriteManifestList encodes a manifest list as an Avro container file.
func WriteManifestList(w io.Writer, info ManifestListInfo, manifests []ManifestFile) error {
	parent := "null"
	if info.ParentSnapshotID != nil {
		parent = strconv.FormatInt(*info.ParentSnapshotID, 10)
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           manifestListCodec,
		CompressionName: goavro.CompressionDeflateLabel,
		MetaData: map[string][]byte{
			"format-version":     []byte("2"),
			"snapshot-id":        []byte(strconv.FormatInt(info.SnapshotID, 10)),
			"parent-snapshot-id": []byte(parent),
			"sequence-number":    []byte(strconv.FormatInt(info.SequenceNumber, 10)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	records := make([]any, len(manifests))
	for i, mf := range manifests {
		records[i] = manifestFileRecord(mf)
	}
	if len(records) == 0 {
		return nil
	}
	return ocf.Append(records)
}

func manifestFileRecord(mf ManifestFile) map[string]any {
	record := map[string]any{
		"manifest_path":        mf.ManifestPath,
		"manifest_length":      mf.ManifestLength,
		"partition_spec_id":    int32(mf.PartitionSpecID),
		"content":              int32(mf.Content),
		"sequence_number":      mf.SequenceNumber,
		"min_sequence_number":  mf.MinSequenceNumber,
		"added_snapshot_id":    mf.AddedSnapshotID,
		"added_files_count":    int32(mf.AddedFilesCount),
		"existing_files_count": int32(mf.ExistingFilesCount),
		"deleted_files_count":  int32(mf.DeletedFilesCount),
		"added_rows_count":     mf.AddedRowsCount,
		"existing_rows_count":  mf.ExistingRowsCount,
		"deleted_rows_count":   mf.DeletedRowsCount,
		"partitions":           nil,
		"key_metadata":         optionalBytes(mf.KeyMetadata),
	}

	if mf.Partitions != nil {
		partitions := make([]any, len(mf.Partitions))
		for i, p := range mf.Partitions {
			var nan any
			if p.ContainsNaN != nil {
				nan = goavro.Union("boolean", *p.ContainsNaN)
			}
			partitions[i] = map[string]any{
				"contains_null": p.ContainsNull,
				"contains_nan":  nan,
				"lower_bound":   optionalBytes(p.LowerBound),
				"upper_bound":   optionalBytes(p.UpperBound),
			}
		}
		record["partitions"] = goavro.Union("array", partitions)
	}
	return record
}

// ReadManifestList decodes a manifest list.
func ReadManifestList(r io.Reader) ([]ManifestFile, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF reader: %w", err)
	}

	var manifests []ManifestFile
	for ocf.Scan() {
		record, err := ocf.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest list entry: %w", err)
		}
		m, ok := record.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected manifest list record type %T", record)
		}

		mf := ManifestFile{
			ManifestPath:       getString(m, "manifest_path"),
			ManifestLength:     getInt64(m, "manifest_length"),
			PartitionSpecID:    int(getInt64(m, "partition_spec_id")),
			Content:            ManifestContent(getInt64(m, "content")),
			SequenceNumber:     getInt64(m, "sequence_number"),
			MinSequenceNumber:  getInt64(m, "min_sequence_number"),
			AddedSnapshotID:    getInt64(m, "added_snapshot_id"),
			AddedFilesCount:    int(getInt64(m, "added_files_count")),
			ExistingFilesCount: int(getInt64(m, "existing_files_count")),
			DeletedFilesCount:  int(getInt64(m, "deleted_files_count")),
			AddedRowsCount:     getInt64(m, "added_rows_count"),
			ExistingRowsCount:  getInt64(m, "existing_rows_count"),
			DeletedRowsCount:   getInt64(m, "deleted_rows_count"),
			KeyMetadata:        getOptionalBytes(m, "key_metadata"),
		}

		for _, p := range getArray(m, "partitions") {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			summary := PartitionFieldSummary{
				ContainsNull: getBool(pm, "contains_null"),
				LowerBound:   getOptionalBytes(pm, "lower_bound"),
				UpperBound:   getOptionalBytes(pm, "upper_bound"),
			}
			if v, ok := unwrapUnion(pm["contains_nan"]).(bool); ok {
				summary.ContainsNaN = &v
			}
			mf.Partitions = append(mf.Partitions, summary)
		}

		manifests = append(manifests, mf)
	}
	if err := ocf.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest list: %w", err)
	}
	return manifests, nil
}

// ManifestInfo is written into the manifest file header.
type ManifestInfo struct {
	Schema  *Schema
	Spec    *PartitionSpec
	Content ManifestContent
}

// WriteManifest encodes manifest entries as an Avro container file.
func WriteManifest(w io.Writer, info ManifestInfo, entries []ManifestEntry) error {
	schemaJSON, err := json.Marshal(info.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	spec := info.Spec
	if spec == nil {
		spec = UnpartitionedSpec()
	}
	specJSON, err := json.Marshal(spec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode partition spec: %w", err)
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           manifestEntryCodec,
		CompressionName: goavro.CompressionDeflateLabel,
		MetaData: map[string][]byte{
			"schema":            schemaJSON,
			"schema-id":         []byte(strconv.Itoa(info.Schema.SchemaID)),
			"partition-spec":    specJSON,
			"partition-spec-id": []byte(strconv.Itoa(spec.SpecID)),
			"format-version":    []byte("2"),
			"content":           []byte(info.Content.String()),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	records := make([]any, len(entries))
	for i, e := range entries {
		records[i] = manifestEntryRecord(e)
	}
	if len(records) == 0 {
		return nil
	}
	return ocf.Append(records)
}

func manifestEntryRecord(e ManifestEntry) map[string]any {
	df := e.DataFile

	partition := df.PartitionData
	if partition == nil {
		partition = map[string]any{}
	}

	var sortOrderID any
	if df.SortOrderID != nil {
		sortOrderID = goavro.Union("int", int32(*df.SortOrderID))
	}

	var splitOffsets any
	if len(df.SplitOffsets) > 0 {
		offsets := make([]any, len(df.SplitOffsets))
		for i, o := range df.SplitOffsets {
			offsets[i] = o
		}
		splitOffsets = goavro.Union("array", offsets)
	}

	var equalityIDs any
	if len(df.EqualityIDs) > 0 {
		ids := make([]any, len(df.EqualityIDs))
		for i, id := range df.EqualityIDs {
			ids[i] = int32(id)
		}
		equalityIDs = goavro.Union("array", ids)
	}

	return map[string]any{
		"status":               int32(e.Status),
		"snapshot_id":          optionalLong(e.SnapshotID),
		"sequence_number":      optionalLong(e.SequenceNumber),
		"file_sequence_number": optionalLong(e.FileSequenceNumber),
		"data_file": map[string]any{
			"content":            int32(df.Content),
			"file_path":          df.FilePath,
			"file_format":        string(df.FileFormat),
			"partition":          partition,
			"record_count":       df.RecordCount,
			"file_size_in_bytes": df.FileSizeInBytes,
			"column_sizes":       intKeyedMap(df.ColumnSizes),
			"value_counts":       intKeyedMap(df.ValueCounts),
			"null_value_counts":  intKeyedMap(df.NullValueCounts),
			"nan_value_counts":   intKeyedMap(df.NaNValueCounts),
			"lower_bounds":       intKeyedMap(df.LowerBounds),
			"upper_bounds":       intKeyedMap(df.UpperBounds),
			"key_metadata":       optionalBytes(df.KeyMetadata),
			"split_offsets":      splitOffsets,
			"equality_ids":       equalityIDs,
			"sort_order_id":      sortOrderID,
		},
	}
}

// ReadManifest decodes a manifest file.
func ReadManifest(r io.Reader) (*Manifest, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF reader: %w", err)
	}

	meta := ocf.MetaData()
	manifest := &Manifest{Entries: []ManifestEntry{}}
	if v, err := strconv.Atoi(string(meta["schema-id"])); err == nil {
		manifest.SchemaID = v
	}
	if v, err := strconv.Atoi(string(meta["partition-spec-id"])); err == nil {
		manifest.PartitionSpecID = v
	}
	if string(meta["content"]) == ManifestContentDelete.String() {
		manifest.Content = ManifestContentDelete
	}

	for ocf.Scan() {
		record, err := ocf.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest entry: %w", err)
		}
		m, ok := record.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected manifest record type %T", record)
		}

		entry := ManifestEntry{
			Status:             EntryStatus(getInt64(m, "status")),
			SnapshotID:         getOptionalInt64(m, "snapshot_id"),
			SequenceNumber:     getOptionalInt64(m, "sequence_number"),
			FileSequenceNumber: getOptionalInt64(m, "file_sequence_number"),
		}

		if df, ok := m["data_file"].(map[string]any); ok {
			entry.DataFile = DataFile{
				Content:         FileContent(getInt64(df, "content")),
				FilePath:        getString(df, "file_path"),
				FileFormat:      FileFormat(getString(df, "file_format")),
				RecordCount:     getInt64(df, "record_count"),
				FileSizeInBytes: getInt64(df, "file_size_in_bytes"),
				ColumnSizes:     getIntKeyedMap[int64](df, "column_sizes"),
				ValueCounts:     getIntKeyedMap[int64](df, "value_counts"),
				NullValueCounts: getIntKeyedMap[int64](df, "null_value_counts"),
				NaNValueCounts:  getIntKeyedMap[int64](df, "nan_value_counts"),
				LowerBounds:     getIntKeyedMap[[]byte](df, "lower_bounds"),
				UpperBounds:     getIntKeyedMap[[]byte](df, "upper_bounds"),
				KeyMetadata:     getOptionalBytes(df, "key_metadata"),
				SortOrderID:     getOptionalInt(df, "sort_order_id"),
			}
			if partition, ok := df["partition"].(map[string]any); ok {
				entry.DataFile.PartitionData = partition
			}
			for _, v := range getArray(df, "split_offsets") {
				entry.DataFile.SplitOffsets = append(entry.DataFile.SplitOffsets, toInt64(v))
			}
			for _, v := range getArray(df, "equality_ids") {
				entry.DataFile.EqualityIDs = append(entry.DataFile.EqualityIDs, int(toInt64(v)))
			}
		}

		manifest.Entries = append(manifest.Entries, entry)
	}
	if err := ocf.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	return manifest, nil
}

// EncodeManifest is WriteManifest into a byte slice.
func EncodeManifest(info ManifestInfo, entries []ManifestEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteManifest(&buf, info, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeManifestList is WriteManifestList into a byte slice.
func EncodeManifestList(info ManifestListInfo, manifests []ManifestFile) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteManifestList(&buf, info, manifests); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optionalLong(v *int64) any {
	if v == nil {
		return nil
	}
	return goavro.Union("long", *v)
}

func optionalBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return goavro.Union("bytes", b)
}

func intKeyedMap[V int64 | []byte](m map[int]V) any {
	if len(m) == 0 {
		return nil
	}
	items := make([]any, 0, len(m))
	for k, v := range m {
		items = append(items, map[string]any{"key": int32(k), "value": v})
	}
	return goavro.Union("array", items)
}

// unwrapUnion returns the value of a decoded ["null", T] union.
func unwrapUnion(v any) any {
	if u, ok := v.(map[string]any); ok && len(u) == 1 {
		for _, inner := range u {
			return inner
		}
	}
	return v
}

func getString(m map[string]any, key string) string {
	s, _ := unwrapUnion(m[key]).(string)
	return s
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func getInt64(m map[string]any, key string) int64 {
	return toInt64(unwrapUnion(m[key]))
}

func getBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func getOptionalBytes(m map[string]any, key string) []byte {
	b, _ := unwrapUnion(m[key]).([]byte)
	return b
}

func getOptionalInt64(m map[string]any, key string) *int64 {
	v := unwrapUnion(m[key])
	if v == nil {
		return nil
	}
	n := toInt64(v)
	return &n
}

func getOptionalInt(m map[string]any, key string) *int {
	v := unwrapUnion(m[key])
	if v == nil {
		return nil
	}
	n := int(toInt64(v))
	return &n
}

func getArray(m map[string]any, key string) []any {
	arr, _ := unwrapUnion(m[key]).([]any)
	return arr
}

func getIntKeyedMap[V int64 | []byte](m map[string]any, key string) map[int]V {
	items := getArray(m, key)
	if items == nil {
		return nil
	}
	result := make(map[int]V, len(items))
	for _, item := range items {
		kv, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := kv["value"].(V); ok {
			result[int(toInt64(kv["key"]))] = v
		}
	}
	return result
}
