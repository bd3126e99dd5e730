package spec

// Transform is a partition transform name.
type Transform string

const (
	TransformIdentity Transform = "identity"
	TransformVoid     Transform = "void"
)

// unpartitionedLastFieldID is the last-partition-id of a table that never
// had a partition field. Partition field IDs start at 1000.
const unpartitionedLastFieldID = 999

// PartitionField is a field of a partition spec.
type PartitionField struct {
	SourceID  int       `json:"source-id"`
	FieldID   int       `json:"field-id"`
	Name      string    `json:"name"`
	Transform Transform `json:"transform"`
}

// PartitionSpec describes how rows map to partitions. Tables written by
// this module are unpartitioned; specs read from existing metadata are kept
// as they are.
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// UnpartitionedSpec returns the spec with no fields.
func UnpartitionedSpec() *PartitionSpec {
	return &PartitionSpec{SpecID: 0, Fields: []PartitionField{}}
}

// IsUnpartitioned reports whether the spec has no fields.
func (p *PartitionSpec) IsUnpartitioned() bool {
	return len(p.Fields) == 0
}

// LastFieldID returns the highest partition field ID.
func (p *PartitionSpec) LastFieldID() int {
	last := unpartitionedLastFieldID
	for _, f := range p.Fields {
		last = max(last, f.FieldID)
	}
	return last
}
