package backend

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Statement renders itself into SQL plus positional arguments.
type Statement interface {
	Build() (string, []any, error)
}

// Op is a filter operator.
type Op string

const (
	OpEq Op = "eq"
	OpIn Op = "in"
)

// Filter restricts a read to rows whose field matches Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq matches rows where field equals value.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// In matches rows where field is a member of values, which must be a slice.
func In(field string, values any) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// Order sorts a read by one field.
type Order struct {
	Field string
	Desc  bool
}

func Asc(field string) Order  { return Order{Field: field} }
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Select reads rows from a table or view.
type Select struct {
	Table   string
	Columns []string
	Filters []Filter
	Order   []Order
	Limit   int
}

// Build implements Statement.
func (s Select) Build() (string, []any, error) {
	if strings.TrimSpace(s.Table) == "" {
		return "", nil, fmt.Errorf("%w: table required", ErrInvalidStatement)
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(s.Columns) == 0 {
		b.WriteString("*")
	} else {
		cols, err := identList(s.Columns)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(cols)
	}
	b.WriteString(" FROM ")
	b.WriteString(ident(s.Table))

	args := make([]any, 0, len(s.Filters))
	for i, f := range s.Filters {
		if strings.TrimSpace(f.Field) == "" {
			return "", nil, fmt.Errorf("%w: filter field required", ErrInvalidStatement)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, f.Value)
		placeholder := "$" + strconv.Itoa(len(args))
		switch f.Op {
		case OpEq:
			b.WriteString(ident(f.Field) + " = " + placeholder)
		case OpIn:
			b.WriteString(ident(f.Field) + " = ANY(" + placeholder + ")")
		default:
			return "", nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidStatement, f.Op)
		}
	}

	for i, o := range s.Order {
		if strings.TrimSpace(o.Field) == "" {
			return "", nil, fmt.Errorf("%w: order field required", ErrInvalidStatement)
		}
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(ident(o.Field))
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	if s.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(s.Limit))
	}
	return b.String(), args, nil
}

// Insert adds one row.
type Insert struct {
	Table     string
	Values    map[string]any
	Returning []string
}

// Build implements Statement. Columns are emitted in name order.
func (s Insert) Build() (string, []any, error) {
	if strings.TrimSpace(s.Table) == "" {
		return "", nil, fmt.Errorf("%w: table required", ErrInvalidStatement)
	}
	if len(s.Values) == 0 {
		return "", nil, fmt.Errorf("%w: insert values required", ErrInvalidStatement)
	}
	names := sortedKeys(s.Values)
	cols, err := identList(names)
	if err != nil {
		return "", nil, err
	}
	args := make([]any, 0, len(names))
	placeholders := make([]string, 0, len(names))
	for _, name := range names {
		args = append(args, s.Values[name])
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}
	sql := "INSERT INTO " + ident(s.Table) + " (" + cols + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	returning, err := returningClause(s.Returning)
	if err != nil {
		return "", nil, err
	}
	return sql + returning, args, nil
}

// Update changes one row addressed by id.
type Update struct {
	Table     string
	IDColumn  string
	ID        any
	Set       map[string]any
	Returning []string
}

// Build implements Statement. IDColumn defaults to "id".
func (s Update) Build() (string, []any, error) {
	if strings.TrimSpace(s.Table) == "" {
		return "", nil, fmt.Errorf("%w: table required", ErrInvalidStatement)
	}
	if len(s.Set) == 0 {
		return "", nil, fmt.Errorf("%w: update values required", ErrInvalidStatement)
	}
	if s.ID == nil {
		return "", nil, fmt.Errorf("%w: id required", ErrInvalidStatement)
	}
	names := sortedKeys(s.Set)
	args := make([]any, 0, len(names)+1)
	assignments := make([]string, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return "", nil, fmt.Errorf("%w: column name required", ErrInvalidStatement)
		}
		args = append(args, s.Set[name])
		assignments = append(assignments, ident(name)+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, s.ID)
	sql := "UPDATE " + ident(s.Table) + " SET " + strings.Join(assignments, ", ") +
		" WHERE " + ident(idColumn(s.IDColumn)) + " = $" + strconv.Itoa(len(args))
	returning, err := returningClause(s.Returning)
	if err != nil {
		return "", nil, err
	}
	return sql + returning, args, nil
}

// Delete removes one row addressed by id.
type Delete struct {
	Table    string
	IDColumn string
	ID       any
}

// Build implements Statement.
func (s Delete) Build() (string, []any, error) {
	if strings.TrimSpace(s.Table) == "" {
		return "", nil, fmt.Errorf("%w: table required", ErrInvalidStatement)
	}
	if s.ID == nil {
		return "", nil, fmt.Errorf("%w: id required", ErrInvalidStatement)
	}
	return "DELETE FROM " + ident(s.Table) + " WHERE " + ident(idColumn(s.IDColumn)) + " = $1", []any{s.ID}, nil
}

// Arg is a named argument of a remote procedure.
type Arg struct {
	Name  string
	Value any
}

// Call invokes a named remote procedure with named arguments.
type Call struct {
	Function string
	Args     []Arg
}

// Build implements Statement.
func (s Call) Build() (string, []any, error) {
	if strings.TrimSpace(s.Function) == "" {
		return "", nil, fmt.Errorf("%w: function required", ErrInvalidStatement)
	}
	args := make([]any, 0, len(s.Args))
	named := make([]string, 0, len(s.Args))
	for _, a := range s.Args {
		if strings.TrimSpace(a.Name) == "" {
			return "", nil, fmt.Errorf("%w: argument name required", ErrInvalidStatement)
		}
		args = append(args, a.Value)
		named = append(named, ident(a.Name)+" => $"+strconv.Itoa(len(args)))
	}
	return "SELECT * FROM " + ident(s.Function) + "(" + strings.Join(named, ", ") + ")", args, nil
}

func ident(name string) string {
	return pgx.Identifier(strings.Split(strings.TrimSpace(name), ".")).Sanitize()
}

func identList(names []string) (string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return "", fmt.Errorf("%w: column name required", ErrInvalidStatement)
		}
		out = append(out, ident(n))
	}
	return strings.Join(out, ", "), nil
}

func returningClause(cols []string) (string, error) {
	if len(cols) == 0 {
		return "", nil
	}
	list, err := identList(cols)
	if err != nil {
		return "", err
	}
	return " RETURNING " + list, nil
}

func idColumn(name string) string {
	if strings.TrimSpace(name) == "" {
		return "id"
	}
	return name
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
