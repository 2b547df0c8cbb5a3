package entity

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNotRegistered is returned when no converter exists for a type or table
	ErrNotRegistered = errors.New("entity: type not registered")
	// ErrUnsupportedType is returned when a type cannot be mapped to a table
	ErrUnsupportedType = errors.New("entity: unsupported type")
)

// IDColumn is the identifier column every table carries
const IDColumn = "_id"

// Row is a column name to SQL value mapping
type Row map[string]any

// Column describes one stored field
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Converter maps entities of one type to rows of one table. Entities are
// passed as pointers so identifiers can be assigned in place.
type Converter interface {
	Type() reflect.Type
	Table() string
	// Columns lists every non-identifier column.
	Columns() []Column
	// ID returns the identifier and whether it is present.
	ID(e any) (int64, bool, error)
	SetID(e any, id int64) error
	// Values returns every non-identifier column value.
	Values(e any) (Row, error)
	// FromRow builds a new entity from a row that may include IDColumn.
	FromRow(row Row) (any, error)
	// New allocates an empty entity.
	New() any
}

// Registry holds converters by entity type and table name
type Registry struct {
	byType  *xsync.MapOf[reflect.Type, Converter]
	byTable *xsync.MapOf[string, Converter]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byType:  xsync.NewMapOf[reflect.Type, Converter](),
		byTable: xsync.NewMapOf[string, Converter](),
	}
}

// Register builds a tag-driven converter for T and installs it. T must be
// a pointer to a struct.
func Register[T any](r *Registry) (Converter, error) {
	conv, err := newStructConverter(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if err := r.RegisterConverter(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// MustRegister is Register that panics on error, for package init
func MustRegister[T any](r *Registry) Converter {
	conv, err := Register[T](r)
	if err != nil {
		panic(err)
	}
	return conv
}

// RegisterConverter installs conv for its type. Re-registering the same
// type replaces the previous converter; a table owned by another type is
// rejected.
func (r *Registry) RegisterConverter(conv Converter) error {
	if conv == nil || conv.Type() == nil {
		return fmt.Errorf("%w: nil converter", ErrUnsupportedType)
	}
	table := conv.Table()
	if table == "" {
		return fmt.Errorf("%w: %s has no table name", ErrUnsupportedType, conv.Type())
	}

	if owner, ok := r.byTable.Load(table); ok && owner.Type() != conv.Type() {
		return fmt.Errorf("table %q already registered for %s", table, owner.Type())
	}
	if prev, ok := r.byType.Load(conv.Type()); ok && prev.Table() != table {
		r.byTable.Delete(prev.Table())
	}

	r.byType.Store(conv.Type(), conv)
	r.byTable.Store(table, conv)
	return nil
}

// Lookup returns the converter for typ
func (r *Registry) Lookup(typ reflect.Type) (Converter, error) {
	conv, ok := r.byType.Load(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotRegistered, typ)
	}
	return conv, nil
}

// For returns the converter for the runtime type of e
func (r *Registry) For(e any) (Converter, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrNotRegistered)
	}
	return r.Lookup(reflect.TypeOf(e))
}

// ByTable returns the converter owning table
func (r *Registry) ByTable(table string) (Converter, error) {
	conv, ok := r.byTable.Load(table)
	if !ok {
		return nil, fmt.Errorf("%w: table %q", ErrNotRegistered, table)
	}
	return conv, nil
}

// Converters returns every registered converter ordered by table
func (r *Registry) Converters() []Converter {
	var out []Converter
	r.byTable.Range(func(_ string, conv Converter) bool {
		out = append(out, conv)
		return true
	})
	slices.SortFunc(out, func(a, b Converter) int {
		return strings.Compare(a.Table(), b.Table())
	})
	return out
}

// ConverterOf returns the converter registered for T
func ConverterOf[T any](r *Registry) (Converter, error) {
	return r.Lookup(reflect.TypeFor[T]())
}

// Decode converts row into a T using the registered converter
func Decode[T any](r *Registry, row Row) (T, error) {
	var zero T
	conv, err := ConverterOf[T](r)
	if err != nil {
		return zero, err
	}
	v, err := conv.FromRow(row)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("converter for %s produced %T", conv.Type(), v)
	}
	return typed, nil
}
