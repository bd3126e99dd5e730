package csv2iceberg

import "github.com/apache/arrow-go/v18/arrow"

func fieldTypes(schema *arrow.Schema) []string {
	types := make([]string, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		types = append(types, f.Type.String())
	}
	return types
}
