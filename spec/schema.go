package spec

import (
	"encoding/json"
	"fmt"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

// Schema is the column layout of a table: a struct with a schema ID.
type Schema struct {
	SchemaID        int
	IdentifierField []int
	Fields          []NestedField
}

// NewSchema creates a new schema with the given fields.
func NewSchema(schemaID int, fields []NestedField) *Schema {
	return &Schema{
		SchemaID: schemaID,
		Fields:   fields,
	}
}

// AsStruct returns the schema as a struct type.
func (s *Schema) AsStruct() StructType {
	return StructType{Fields: s.Fields}
}

// Field returns the top-level field with the given ID, or nil.
func (s *Schema) Field(id int) *NestedField {
	return s.AsStruct().Field(id)
}

// FieldByName returns the top-level field with the given name, or nil.
func (s *Schema) FieldByName(name string) *NestedField {
	return s.AsStruct().FieldByName(name)
}

// FieldByNameFold returns the top-level field whose name matches name
// ignoring case, or nil.
func (s *Schema) FieldByNameFold(name string) *NestedField {
	return s.AsStruct().FieldByNameFold(name)
}

// NumFields returns the number of top-level fields.
func (s *Schema) NumFields() int {
	return len(s.Fields)
}

// Names returns the top-level column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// HighestFieldID returns the highest field ID, nested fields included.
func (s *Schema) HighestFieldID() int {
	highest := 0
	walkFieldIDs(s.AsStruct(), func(id int) {
		highest = max(highest, id)
	})
	return highest
}

func walkFieldIDs(t Type, fn func(id int)) {
	switch v := t.(type) {
	case StructType:
		for _, f := range v.Fields {
			fn(f.ID)
			walkFieldIDs(f.Type, fn)
		}
	case ListType:
		fn(v.ElementID)
		walkFieldIDs(v.Element, fn)
	case MapType:
		fn(v.KeyID)
		fn(v.ValueID)
		walkFieldIDs(v.Key, fn)
		walkFieldIDs(v.Value, fn)
	}
}

// Equals reports whether both schemas have the same ID and fields.
func (s *Schema) Equals(other *Schema) bool {
	return s.SchemaID == other.SchemaID && s.SameFields(other)
}

// SameFields compares the fields and ignores the schema ID.
func (s *Schema) SameFields(other *Schema) bool {
	return s.AsStruct().Equals(other.AsStruct())
}

// Validate checks that the schema has at least one column, that top-level
// names are unique and non-empty, and that every field ID is positive and
// used once.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: schema has no columns", icebergerr.ErrInvalidSchema)
	}

	names := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field %d has an empty name", icebergerr.ErrInvalidSchema, f.ID)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("%w: duplicate column name %q", icebergerr.ErrInvalidSchema, f.Name)
		}
		names[f.Name] = struct{}{}
	}

	ids := make(map[int]struct{})
	var idErr error
	walkFieldIDs(s.AsStruct(), func(id int) {
		if idErr != nil {
			return
		}
		if id <= 0 {
			idErr = fmt.Errorf("%w: field id %d is not positive", icebergerr.ErrInvalidSchema, id)
			return
		}
		if _, dup := ids[id]; dup {
			idErr = fmt.Errorf("%w: duplicate field id %d", icebergerr.ErrInvalidSchema, id)
			return
		}
		ids[id] = struct{}{}
	})
	return idErr
}

// CheckWriteCompatible verifies that rows shaped like write can be stored in
// a table with this schema. Columns are matched by name ignoring case, as
// Spark does by default. Every write column must exist with a type that
// promotes to the table type, and every required table column must be
// written.
func (s *Schema) CheckWriteCompatible(write *Schema) error {
	seen := make(map[int]string, len(write.Fields))
	for _, wf := range write.Fields {
		tf := s.FieldByNameFold(wf.Name)
		if tf == nil {
			return fmt.Errorf("%w: %q is not a table column", icebergerr.ErrColumnNotFound, wf.Name)
		}
		if prev, dup := seen[tf.ID]; dup {
			return fmt.Errorf("%w: columns %q and %q both map to %q",
				icebergerr.ErrSchemaNotCompatible, prev, wf.Name, tf.Name)
		}
		seen[tf.ID] = wf.Name
		if !CanPromote(wf.Type, tf.Type) {
			return fmt.Errorf("%w: column %q has type %s, table expects %s",
				icebergerr.ErrSchemaNotCompatible, wf.Name, wf.Type, tf.Type)
		}
	}

	for _, tf := range s.Fields {
		if tf.Required && write.FieldByNameFold(tf.Name) == nil {
			return fmt.Errorf("%w: required column %q is missing", icebergerr.ErrSchemaNotCompatible, tf.Name)
		}
	}
	return nil
}

// AssignFreshIDs returns a copy of s whose field IDs are renumbered from 1.
// The fields of a struct are numbered before any of their children.
func AssignFreshIDs(schemaID int, s *Schema) *Schema {
	next := 0
	nextID := func() int {
		next++
		return next
	}
	st := reassign(s.AsStruct(), nextID).(StructType)
	return &Schema{SchemaID: schemaID, Fields: st.Fields}
}

func reassign(t Type, nextID func() int) Type {
	switch v := t.(type) {
	case StructType:
		fields := make([]NestedField, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = f
			fields[i].ID = nextID()
		}
		for i := range fields {
			fields[i].Type = reassign(fields[i].Type, nextID)
		}
		return StructType{Fields: fields}
	case ListType:
		v.ElementID = nextID()
		v.Element = reassign(v.Element, nextID)
		return v
	case MapType:
		v.KeyID = nextID()
		v.ValueID = nextID()
		v.Key = reassign(v.Key, nextID)
		v.Value = reassign(v.Value, nextID)
		return v
	}
	return t
}

// fieldJSON is the wire form of a NestedField.
type fieldJSON struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Required bool            `json:"required"`
	Type     json.RawMessage `json:"type"`
	Doc      string          `json:"doc,omitempty"`
}

// typeJSON is the wire form of the nested types.
type typeJSON struct {
	Type string `json:"type"`

	Fields []fieldJSON `json:"fields,omitempty"`

	ElementID       int             `json:"element-id,omitempty"`
	Element         json.RawMessage `json:"element,omitempty"`
	ElementRequired bool            `json:"element-required,omitempty"`

	KeyID         int             `json:"key-id,omitempty"`
	Key           json.RawMessage `json:"key,omitempty"`
	ValueID       int             `json:"value-id,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
	ValueRequired bool            `json:"value-required,omitempty"`
}

type schemaJSON struct {
	Type            string      `json:"type"`
	SchemaID        int         `json:"schema-id"`
	IdentifierField []int       `json:"identifier-field-ids,omitempty"`
	Fields          []fieldJSON `json:"fields"`
}

// MarshalJSON implements json.Marshaler.
func (s *Schema) MarshalJSON() ([]byte, error) {
	fields, err := marshalFields(s.Fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(schemaJSON{
		Type:            "struct",
		SchemaID:        s.SchemaID,
		IdentifierField: s.IdentifierField,
		Fields:          fields,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var sj schemaJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}
	fields, err := unmarshalFields(sj.Fields)
	if err != nil {
		return err
	}
	s.SchemaID = sj.SchemaID
	s.IdentifierField = sj.IdentifierField
	s.Fields = fields
	return nil
}

func marshalFields(fields []NestedField) ([]fieldJSON, error) {
	out := make([]fieldJSON, len(fields))
	for i, f := range fields {
		typ, err := marshalType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[i] = fieldJSON{ID: f.ID, Name: f.Name, Required: f.Required, Type: typ, Doc: f.Doc}
	}
	return out, nil
}

func unmarshalFields(fields []fieldJSON) ([]NestedField, error) {
	out := make([]NestedField, len(fields))
	for i, f := range fields {
		typ, err := unmarshalType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal field %s type: %w", f.Name, err)
		}
		out[i] = NestedField{ID: f.ID, Name: f.Name, Required: f.Required, Type: typ, Doc: f.Doc}
	}
	return out, nil
}

func marshalType(t Type) (json.RawMessage, error) {
	switch v := t.(type) {
	case PrimitiveType, FixedType, DecimalType:
		return json.Marshal(v.String())
	case StructType:
		fields, err := marshalFields(v.Fields)
		if err != nil {
			return nil, err
		}
		return json.Marshal(typeJSON{Type: "struct", Fields: fields})
	case ListType:
		elem, err := marshalType(v.Element)
		if err != nil {
			return nil, err
		}
		return json.Marshal(typeJSON{
			Type:            "list",
			ElementID:       v.ElementID,
			Element:         elem,
			ElementRequired: v.ElementRequired,
		})
	case MapType:
		key, err := marshalType(v.Key)
		if err != nil {
			return nil, err
		}
		value, err := marshalType(v.Value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(typeJSON{
			Type:          "map",
			KeyID:         v.KeyID,
			Key:           key,
			ValueID:       v.ValueID,
			Value:         value,
			ValueRequired: v.ValueRequired,
		})
	}
	return nil, fmt.Errorf("unknown type: %T", t)
}

func unmarshalType(data json.RawMessage) (Type, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return ParseType(name)
	}

	var tj typeJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("invalid type JSON: %s", string(data))
	}

	switch tj.Type {
	case "struct":
		fields, err := unmarshalFields(tj.Fields)
		if err != nil {
			return nil, err
		}
		return StructType{Fields: fields}, nil
	case "list":
		elem, err := unmarshalType(tj.Element)
		if err != nil {
			return nil, fmt.Errorf("invalid list element type: %w", err)
		}
		return ListType{ElementID: tj.ElementID, Element: elem, ElementRequired: tj.ElementRequired}, nil
	case "map":
		key, err := unmarshalType(tj.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid map key type: %w", err)
		}
		value, err := unmarshalType(tj.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid map value type: %w", err)
		}
		return MapType{
			KeyID:         tj.KeyID,
			Key:           key,
			ValueID:       tj.ValueID,
			Value:         value,
			ValueRequired: tj.ValueRequired,
		}, nil
	}
	return nil, fmt.Errorf("unknown type: %q", tj.Type)
}
