package table

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

// ExprOp represents an expression operator.
type ExprOp int

const (
	OpAnd ExprOp = iota
	OpOr
	OpNot
	OpEq
	OpNotEq
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
	OpIsNull
	OpNotNull
	OpStartsWith
)

// String returns the string representation of the operator.
func (op ExprOp) String() string {
	switch op {
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpNot:
		return "NOT"
	case OpEq:
		return "="
	case OpNotEq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpIn:
		return "IN"
	case OpIsNull:
		return "IS NULL"
	case OpNotNull:
		return "IS NOT NULL"
	case OpStartsWith:
		return "STARTS WITH"
	default:
		return "UNKNOWN"
	}
}

// Expression is a row filter over named columns.
type Expression struct {
	Op       ExprOp
	Column   string
	Value    any
	Values   []any
	Children []*Expression
}

// String returns a string representation of the expression.
func (e *Expression) String() string {
	if e == nil {
		return "true"
	}

	switch e.Op {
	case OpAnd, OpOr:
		parts := make([]string, len(e.Children))
		for i, c := range e.Children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+e.Op.String()+" ") + ")"
	case OpNot:
		return "NOT " + e.Children[0].String()
	case OpIn:
		return fmt.Sprintf("%s IN %v", e.Column, e.Values)
	case OpIsNull, OpNotNull:
		return e.Column + " " + e.Op.String()
	default:
		return fmt.Sprintf("%s %s %v", e.Column, e.Op, e.Value)
	}
}

func predicate(op ExprOp, column string, value any) *Expression {
	return &Expression{Op: op, Column: column, Value: value}
}

// Eq matches rows whose column equals value.
func Eq(column string, value any) *Expression { return predicate(OpEq, column, value) }

// NotEq matches rows whose column is not null and differs from value.
func NotEq(column string, value any) *Expression { return predicate(OpNotEq, column, value) }

// Lt matches rows whose column is less than value.
func Lt(column string, value any) *Expression { return predicate(OpLt, column, value) }

// Lte matches rows whose column is at most value.
func Lte(column string, value any) *Expression { return predicate(OpLte, column, value) }

// Gt matches rows whose column is greater than value.
func Gt(column string, value any) *Expression { return predicate(OpGt, column, value) }

// Gte matches rows whose column is at least value.
func Gte(column string, value any) *Expression { return predicate(OpGte, column, value) }

// StartsWith matches string columns beginning with prefix.
func StartsWith(column, prefix string) *Expression { return predicate(OpStartsWith, column, prefix) }

// In matches rows whose column equals one of values.
func In(column string, values ...any) *Expression {
	return &Expression{Op: OpIn, Column: column, Values: values}
}

// IsNull matches rows whose column is null.
func IsNull(column string) *Expression { return &Expression{Op: OpIsNull, Column: column} }

// IsNotNull matches rows whose column is not null.
func IsNotNull(column string) *Expression { return &Expression{Op: OpNotNull, Column: column} }

// And combines expressions with AND.
func And(exprs ...*Expression) *Expression {
	return &Expression{Op: OpAnd, Children: exprs}
}

// Or combines expressions with OR.
func Or(exprs ...*Expression) *Expression {
	return &Expression{Op: OpOr, Children: exprs}
}

// Not negates an expression.
func Not(expr *Expression) *Expression {
	return &Expression{Op: OpNot, Children: []*Expression{expr}}
}

// Columns returns the sorted names of the columns the expression uses.
func (e *Expression) Columns() []string {
	seen := make(map[string]bool)
	e.collectColumns(seen)

	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (e *Expression) collectColumns(columns map[string]bool) {
	if e == nil {
		return
	}
	if e.Column != "" {
		columns[e.Column] = true
	}
	for _, child := range e.Children {
		child.collectColumns(columns)
	}
}

// Validate checks that every referenced column exists in schema and that
// operators have the operands they need.
func (e *Expression) Validate(schema *spec.Schema) error {
	if e == nil {
		return nil
	}
	switch e.Op {
	case OpAnd, OpOr:
		if len(e.Children) == 0 {
			return fmt.Errorf("%w: %s without operands", icebergerr.ErrInvalidData, e.Op)
		}
	case OpNot:
		if len(e.Children) != 1 {
			return fmt.Errorf("%w: NOT takes one operand", icebergerr.ErrInvalidData)
		}
	default:
		f := schema.FieldByName(e.Column)
		if f == nil {
			return fmt.Errorf("%w: %s", icebergerr.ErrColumnNotFound, e.Column)
		}
		if !spec.IsPrimitive(f.Type) {
			return fmt.Errorf("%w: cannot filter on %s column %s", icebergerr.ErrTypeMismatch, f.Type, e.Column)
		}
	}
	for _, c := range e.Children {
		if err := c.Validate(schema); err != nil {
			return err
		}
	}
	return nil
}

// ParseExpression parses a conjunction of simple predicates such as
//
//	id >= 10 and name = 'alice' and score is not null
//
// Supported operators are = != <> < <= > >= and "is [not] null". String
// literals are single quoted; unquoted literals are read as integers,
// floats or booleans when they parse as such.
func ParseExpression(s string) (*Expression, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var preds []*Expression
	for _, part := range splitAnd(s) {
		p, err := parsePredicate(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return And(preds...), nil
}

// splitAnd splits on the keyword "and" outside of quotes.
func splitAnd(s string) []string {
	var parts []string
	inQuote := false
	start := 0
	lower := strings.ToLower(s)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case !inQuote && strings.HasPrefix(lower[i:], " and "):
			parts = append(parts, s[start:i])
			start = i + len(" and ")
			i = start - 1
		}
	}
	return append(parts, s[start:])
}

var comparisonOps = []struct {
	token string
	op    ExprOp
}{
	// longer tokens first
	{"<=", OpLte}, {">=", OpGte}, {"!=", OpNotEq}, {"<>", OpNotEq},
	{"=", OpEq}, {"<", OpLt}, {">", OpGt},
}

func parsePredicate(s string) (*Expression, error) {
	lower := strings.ToLower(s)
	if col, ok := strings.CutSuffix(lower, " is not null"); ok {
		return IsNotNull(strings.TrimSpace(s[:len(col)])), nil
	}
	if col, ok := strings.CutSuffix(lower, " is null"); ok {
		return IsNull(strings.TrimSpace(s[:len(col)])), nil
	}

	// operators are searched for left of any string literal
	head := s
	if q := strings.IndexByte(s, '\''); q >= 0 {
		head = s[:q]
	}
	for _, c := range comparisonOps {
		i := strings.Index(head, c.token)
		if i <= 0 {
			continue
		}
		column := strings.TrimSpace(s[:i])
		value, err := parseLiteral(strings.TrimSpace(s[i+len(c.token):]))
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", s, err)
		}
		return predicate(c.op, column, value), nil
	}
	return nil, fmt.Errorf("%w: invalid filter %q", icebergerr.ErrInvalidData, s)
}

func parseLiteral(s string) (any, error) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'"), nil
	}
	if s == "" {
		return nil, fmt.Errorf("%w: missing value", icebergerr.ErrInvalidData)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	return s, nil
}
