package spec

import (
	"fmt"
)

// ManifestContent is the kind of files a manifest tracks.
type ManifestContent int

const (
	ManifestContentData   ManifestContent = 0
	ManifestContentDelete ManifestContent = 1
)

func (c ManifestContent) String() string {
	switch c {
	case ManifestContentData:
		return "data"
	case ManifestContentDelete:
		return "deletes"
	default:
		return "unknown"
	}
}

// FileContent is the content type of a data file.
type FileContent int

const (
	FileContentData            FileContent = 0
	FileContentPositionDeletes FileContent = 1
	FileContentEqualityDeletes FileContent = 2
)

func (c FileContent) String() string {
	switch c {
	case FileContentData:
		return "data"
	case FileContentPositionDeletes:
		return "position-deletes"
	case FileContentEqualityDeletes:
		return "equality-deletes"
	default:
		return "unknown"
	}
}

// FileFormat is the format of a data file.
type FileFormat string

const (
	FileFormatParquet FileFormat = "PARQUET"
	FileFormatAvro    FileFormat = "AVRO"
	FileFormatORC     FileFormat = "ORC"
)

// EntryStatus tells whether a manifest entry was added, kept or deleted by
// the snapshot that wrote the manifest.
type EntryStatus int

const (
	EntryStatusExisting EntryStatus = 0
	EntryStatusAdded    EntryStatus = 1
	EntryStatusDeleted  EntryStatus = 2
)

func (s EntryStatus) String() string {
	switch s {
	case EntryStatusExisting:
		return "existing"
	case EntryStatusAdded:
		return "added"
	case EntryStatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ManifestEntry is a row of a manifest file.
type ManifestEntry struct {
	Status             EntryStatus
	SnapshotID         *int64
	SequenceNumber     *int64
	FileSequenceNumber *int64
	DataFile           DataFile
}

// DataFile describes one data file and its column statistics. Statistic
// maps are keyed by field ID.
type DataFile struct {
	Content         FileContent
	FilePath        string
	FileFormat      FileFormat
	PartitionData   map[string]any
	RecordCount     int64
	FileSizeInBytes int64
	ColumnSizes     map[int]int64
	ValueCounts     map[int]int64
	NullValueCounts map[int]int64
	NaNValueCounts  map[int]int64
	LowerBounds     map[int][]byte
	UpperBounds     map[int][]byte
	KeyMetadata     []byte
	SplitOffsets    []int64
	EqualityIDs     []int
	SortOrderID     *int
}

// Validate checks the required data file fields.
func (f *DataFile) Validate() error {
	if f.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if f.FileFormat == "" {
		return fmt.Errorf("file format is required")
	}
	if f.RecordCount < 0 {
		return fmt.Errorf("record count must be non-negative")
	}
	if f.FileSizeInBytes < 0 {
		return fmt.Errorf("file size must be non-negative")
	}
	if f.Content == FileContentEqualityDeletes && len(f.EqualityIDs) == 0 {
		return fmt.Errorf("equality delete file must have equality field IDs")
	}
	return nil
}

// ManifestFile is a row of a manifest list.
type ManifestFile struct {
	ManifestPath       string
	ManifestLength     int64
	PartitionSpecID    int
	Content            ManifestContent
	SequenceNumber     int64
	MinSequenceNumber  int64
	AddedSnapshotID    int64
	AddedFilesCount    int
	ExistingFilesCount int
	DeletedFilesCount  int
	AddedRowsCount     int64
	ExistingRowsCount  int64
	DeletedRowsCount   int64
	Partitions         []PartitionFieldSummary
	KeyMetadata        []byte
}

// PartitionFieldSummary summarizes one partition field across a manifest.
type PartitionFieldSummary struct {
	ContainsNull bool
	ContainsNaN  *bool
	LowerBound   []byte
	UpperBound   []byte
}

// HasAddedFiles reports whether the manifest adds files.
func (m *ManifestFile) HasAddedFiles() bool {
	return m.AddedFilesCount > 0
}

// HasExistingFiles reports whether the manifest carries existing files.
func (m *ManifestFile) HasExistingFiles() bool {
	return m.ExistingFilesCount > 0
}

// LiveFilesCount is the number of added and existing files.
func (m *ManifestFile) LiveFilesCount() int {
	return m.AddedFilesCount + m.ExistingFilesCount
}

// Manifest is a decoded manifest file.
type Manifest struct {
	SchemaID        int
	PartitionSpecID int
	Content         ManifestContent
	Entries         []ManifestEntry
}

// LiveEntries returns the entries that are not deleted.
func (m *Manifest) LiveEntries() []ManifestEntry {
	result := make([]ManifestEntry, 0, len(m.Entries))
	for _, entry := range m.Entries {
		if entry.Status != EntryStatusDeleted {
			result = append(result, entry)
		}
	}
	return result
}

// InheritSequenceNumbers fills entry sequence numbers that were left null
// at write time from the manifest list row, as readers are required to.
func (m *Manifest) InheritSequenceNumbers(mf ManifestFile) {
	for i := range m.Entries {
		e := &m.Entries[i]
		if e.SnapshotID == nil {
			id := mf.AddedSnapshotID
			e.SnapshotID = &id
		}
		if e.SequenceNumber == nil && (e.Status == EntryStatusAdded || mf.SequenceNumber == 0) {
			seq := mf.SequenceNumber
			e.SequenceNumber = &seq
		}
		if e.FileSequenceNumber == nil && (e.Status == EntryStatusAdded || mf.SequenceNumber == 0) {
			seq := mf.SequenceNumber
			e.FileSequenceNumber = &seq
		}
	}
}
