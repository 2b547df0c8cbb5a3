package entity

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode"
)

var (
	timeType  = reflect.TypeFor[time.Time]()
	bytesType = reflect.TypeFor[[]byte]()
)

// Tabler lets an entity choose its table name
type Tabler interface {
	TableName() string
}

type fieldKind uint8

const (
	kindInt fieldKind = iota
	kindUint
	kindFloat
	kindBool
	kindString
	kindBytes
	kindTime
)

type field struct {
	column   string
	index    []int
	kind     fieldKind
	nullable bool
	// base is the field type with any pointer removed
	base reflect.Type
}

type structConverter struct {
	typ     reflect.Type
	elem    reflect.Type
	table   string
	id      field
	fields  []field
	columns []Column
}

func newStructConverter(typ reflect.Type) (*structConverter, error) {
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v is not a pointer to struct", ErrUnsupportedType, typ)
	}
	elem := typ.Elem()

	c := &structConverter{
		typ:   typ,
		elem:  elem,
		table: elem.Name(),
	}
	if t, ok := reflect.New(elem).Interface().(Tabler); ok {
		c.table = t.TableName()
	}

	var idFound bool
	for _, sf := range reflect.VisibleFields(elem) {
		if !sf.IsExported() || sf.Anonymous || viaPointer(elem, sf.Index) {
			continue
		}

		name, opts, _ := strings.Cut(sf.Tag.Get("db"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = snakeCase(sf.Name)
		}

		f, err := describeField(sf, name)
		if err != nil {
			return nil, fmt.Errorf("%v.%s: %w", elem, sf.Name, err)
		}

		if opts == "pk" || name == IDColumn {
			if idFound {
				return nil, fmt.Errorf("%w: %v has more than one identifier", ErrUnsupportedType, elem)
			}
			if f.base.Kind() != reflect.Int64 {
				return nil, fmt.Errorf("%w: %v identifier must be int64 or *int64", ErrUnsupportedType, elem)
			}
			f.column = IDColumn
			c.id = f
			idFound = true
			continue
		}

		c.fields = append(c.fields, f)
		c.columns = append(c.columns, Column{Name: f.column, Type: sqlType(f.kind), Nullable: f.nullable})
	}

	if !idFound {
		// Fall back to a field named ID
		if sf, ok := elem.FieldByName("ID"); ok && sf.IsExported() && sf.Tag.Get("db") != "-" {
			f, err := describeField(sf, IDColumn)
			if err != nil || f.base.Kind() != reflect.Int64 {
				return nil, fmt.Errorf("%w: %v identifier must be int64 or *int64", ErrUnsupportedType, elem)
			}
			c.id = f
			idFound = true
			name, _, _ := strings.Cut(sf.Tag.Get("db"), ",")
			if name == "" {
				name = snakeCase(sf.Name)
			}
			c.dropColumn(name)
		}
	}
	if !idFound {
		return nil, fmt.Errorf("%w: %v has no identifier field", ErrUnsupportedType, elem)
	}
	return c, nil
}

func (c *structConverter) dropColumn(name string) {
	for i, f := range c.fields {
		if f.column == name {
			c.fields = append(c.fields[:i], c.fields[i+1:]...)
			c.columns = append(c.columns[:i], c.columns[i+1:]...)
			return
		}
	}
}

func viaPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		ft := t.Field(i).Type
		if ft.Kind() == reflect.Pointer {
			return true
		}
		t = ft
	}
	return false
}

func describeField(sf reflect.StructField, column string) (field, error) {
	f := field{column: column, index: sf.Index, base: sf.Type}
	if sf.Type.Kind() == reflect.Pointer {
		f.nullable = true
		f.base = sf.Type.Elem()
	}

	switch {
	case f.base == timeType:
		f.kind = kindTime
	case f.base == bytesType:
		// A nil slice stores NULL
		f.kind = kindBytes
		f.nullable = true
	default:
		switch f.base.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f.kind = kindInt
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f.kind = kindUint
		case reflect.Float32, reflect.Float64:
			f.kind = kindFloat
		case reflect.Bool:
			f.kind = kindBool
		case reflect.String:
			f.kind = kindString
		default:
			return field{}, fmt.Errorf("%w: field type %v", ErrUnsupportedType, sf.Type)
		}
	}
	return f, nil
}

func sqlType(k fieldKind) string {
	switch k {
	case kindFloat:
		return "REAL"
	case kindString:
		return "TEXT"
	case kindBytes:
		return "BLOB"
	default:
		return "INTEGER"
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *structConverter) Type() reflect.Type { return c.typ }
func (c *structConverter) Table() string      { return c.table }
func (c *structConverter) Columns() []Column  { return c.columns }
func (c *structConverter) New() any           { return reflect.New(c.elem).Interface() }

func (c *structConverter) value(e any) (reflect.Value, error) {
	v := reflect.ValueOf(e)
	if v.Type() != c.typ {
		return reflect.Value{}, fmt.Errorf("converter for %v got %T", c.typ, e)
	}
	if v.IsNil() {
		return reflect.Value{}, fmt.Errorf("converter for %v got nil entity", c.typ)
	}
	return v.Elem(), nil
}

func (c *structConverter) ID(e any) (int64, bool, error) {
	v, err := c.value(e)
	if err != nil {
		return 0, false, err
	}
	fv := v.FieldByIndex(c.id.index)
	if c.id.nullable {
		if fv.IsNil() {
			return 0, false, nil
		}
		return fv.Elem().Int(), true, nil
	}
	id := fv.Int()
	return id, id != 0, nil
}

func (c *structConverter) SetID(e any, id int64) error {
	v, err := c.value(e)
	if err != nil {
		return err
	}
	fv := v.FieldByIndex(c.id.index)
	if c.id.nullable {
		p := reflect.New(c.id.base)
		p.Elem().SetInt(id)
		fv.Set(p)
		return nil
	}
	fv.SetInt(id)
	return nil
}

func (c *structConverter) Values(e any) (Row, error) {
	v, err := c.value(e)
	if err != nil {
		return nil, err
	}

	row := make(Row, len(c.fields))
	for _, f := range c.fields {
		val, err := toSQL(f, v.FieldByIndex(f.index))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.table, f.column, err)
		}
		row[f.column] = val
	}
	return row, nil
}

func (c *structConverter) FromRow(row Row) (any, error) {
	ptr := reflect.New(c.elem)
	v := ptr.Elem()

	if raw, ok := row[IDColumn]; ok && raw != nil {
		if err := assign(c.id, v.FieldByIndex(c.id.index), raw); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.table, IDColumn, err)
		}
	}
	for _, f := range c.fields {
		raw, ok := row[f.column]
		if !ok {
			continue
		}
		if err := assign(f, v.FieldByIndex(f.index), raw); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.table, f.column, err)
		}
	}
	return ptr.Interface(), nil
}

func toSQL(f field, fv reflect.Value) (any, error) {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}

	switch f.kind {
	case kindInt:
		return fv.Int(), nil
	case kindUint:
		u := fv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", u)
		}
		return int64(u), nil
	case kindFloat:
		return fv.Float(), nil
	case kindBool:
		return fv.Bool(), nil
	case kindString:
		return fv.String(), nil
	case kindBytes:
		if fv.IsNil() {
			return nil, nil
		}
		return fv.Bytes(), nil
	case kindTime:
		return fv.Interface().(time.Time).UnixMilli(), nil
	}
	return nil, nil
}

// assign stores a driver value into fv, allocating pointer fields
func assign(f field, fv reflect.Value, raw any) error {
	if raw == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	target := fv
	if fv.Kind() == reflect.Pointer {
		target = reflect.New(f.base).Elem()
	}

	switch f.kind {
	case kindInt, kindUint, kindBool, kindTime:
		n, err := asInt64(raw)
		if err != nil {
			return err
		}
		switch f.kind {
		case kindInt:
			if target.OverflowInt(n) {
				return fmt.Errorf("value %d overflows %v", n, f.base)
			}
			target.SetInt(n)
		case kindUint:
			if n < 0 || target.OverflowUint(uint64(n)) {
				return fmt.Errorf("value %d overflows %v", n, f.base)
			}
			target.SetUint(uint64(n))
		case kindBool:
			target.SetBool(n != 0)
		case kindTime:
			target.Set(reflect.ValueOf(time.UnixMilli(n)))
		}
	case kindFloat:
		switch x := raw.(type) {
		case float64:
			target.SetFloat(x)
		case int64:
			target.SetFloat(float64(x))
		default:
			return fmt.Errorf("cannot store %T in %v", raw, f.base)
		}
	case kindString:
		switch x := raw.(type) {
		case string:
			target.SetString(x)
		case []byte:
			target.SetString(string(x))
		default:
			return fmt.Errorf("cannot store %T in %v", raw, f.base)
		}
	case kindBytes:
		switch x := raw.(type) {
		case []byte:
			target.SetBytes(append([]byte(nil), x...))
		case string:
			target.SetBytes([]byte(x))
		default:
			return fmt.Errorf("cannot store %T in %v", raw, f.base)
		}
	}

	if fv.Kind() == reflect.Pointer {
		fv.Set(target.Addr())
	}
	return nil
}

func asInt64(raw any) (int64, error) {
	switch x := raw.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		return int64(x), nil
	case time.Time:
		return x.UnixMilli(), nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", raw)
}
