package series

import "fmt"

// FieldKind tags the element type of an IrregBlock field vector.
type FieldKind uint8

const (
	FieldFloat64 FieldKind = iota + 1
	FieldInt64
)

func (k FieldKind) String() string {
	switch k {
	case FieldFloat64:
		return "float64"
	case FieldInt64:
		return "int64"
	default:
		return fmt.Sprintf("FieldKind(%d)", uint8(k))
	}
}

// Field is a 1-D vector with one concrete element type. A Field is
// immutable after construction; the constructors copy their input and the
// accessors return copies, so fields can be shared between blocks safely.
type Field struct {
	kind FieldKind
	f64  []float64
	i64  []int64
}

// Float64Field builds a float64-typed field from a copy of vals.
func Float64Field(vals []float64) Field {
	return Field{kind: FieldFloat64, f64: append([]float64(nil), vals...)}
}

// Int64Field builds an int64-typed field from a copy of vals.
func Int64Field(vals []int64) Field {
	return Field{kind: FieldInt64, i64: append([]int64(nil), vals...)}
}

// Kind reports the element type of the field.
func (f Field) Kind() FieldKind {
	return f.kind
}

// Len returns the number of elements.
func (f Field) Len() int {
	switch f.kind {
	case FieldFloat64:
		return len(f.f64)
	case FieldInt64:
		return len(f.i64)
	default:
		return 0
	}
}

// Float64s returns a copy of the values of a float64-typed field, or nil
// for any other kind.
func (f Field) Float64s() []float64 {
	if f.kind != FieldFloat64 {
		return nil
	}
	return append([]float64(nil), f.f64...)
}

// Int64s returns a copy of the values of an int64-typed field, or nil for
// any other kind.
func (f Field) Int64s() []int64 {
	if f.kind != FieldInt64 {
		return nil
	}
	return append([]int64(nil), f.i64...)
}

// concat returns a new field holding f's values followed by g's. Both
// operands must share the same kind; the caller checks that.
func (f Field) concat(g Field) Field {
	switch f.kind {
	case FieldFloat64:
		out := make([]float64, 0, len(f.f64)+len(g.f64))
		out = append(out, f.f64...)
		out = append(out, g.f64...)
		return Field{kind: FieldFloat64, f64: out}
	case FieldInt64:
		out := make([]int64, 0, len(f.i64)+len(g.i64))
		out = append(out, f.i64...)
		out = append(out, g.i64...)
		return Field{kind: FieldInt64, i64: out}
	default:
		return Field{}
	}
}

// IrregBlock is an irregularly-sampled, time-indexed block: a time axis
// plus named field vectors of per-field element type. Field assignment is
// not validated eagerly; call Check before trusting the shape. Field
// insertion order is preserved for a deterministic serialized layout.
//
// An IrregBlock is not safe for concurrent use.
type IrregBlock struct {
	times  []Time
	keys   []string
	fields map[string]Field
}

// NewIrregBlock returns an empty block.
func NewIrregBlock() *IrregBlock {
	return &IrregBlock{fields: make(map[string]Field)}
}

// SetTimes assigns the time axis. No validation is performed; existing
// fields are checked against the new axis only by Check.
func (b *IrregBlock) SetTimes(times []Time) {
	b.times = append([]Time(nil), times...)
}

// Times returns a copy of the time axis.
func (b *IrregBlock) Times() []Time {
	return append([]Time(nil), b.times...)
}

// Len returns the length of the time axis.
func (b *IrregBlock) Len() int {
	return len(b.times)
}

// SetField stores a field under name, keeping the original insertion
// position when the name is reassigned.
func (b *IrregBlock) SetField(name string, f Field) {
	if _, ok := b.fields[name]; !ok {
		b.keys = append(b.keys, name)
	}
	b.fields[name] = f
}

// Field returns the field stored under name.
func (b *IrregBlock) Field(name string) (Field, bool) {
	f, ok := b.fields[name]
	return f, ok
}

// Keys returns the field names in insertion order.
func (b *IrregBlock) Keys() []string {
	return append([]string(nil), b.keys...)
}

// Check validates that every field vector's length equals the time axis
// length, failing with a ShapeMismatch error otherwise.
func (b *IrregBlock) Check() error {
	return checkAlignedFields(len(b.times), b.keys, b.fields)
}

// Concatenate returns a new block whose times and every field are the
// ordered concatenation of b's and other's. The two blocks must declare
// exactly the same field names with the same element types
// (SchemaMismatch otherwise), and each operand's fields must agree with
// its own time axis even if Check was never called (ShapeMismatch
// otherwise). The result owns fresh storage.
func (b *IrregBlock) Concatenate(other *IrregBlock) (*IrregBlock, error) {
	if len(b.keys) != len(other.keys) {
		return nil, fmt.Errorf("%w: %d fields vs %d fields", ErrSchemaMismatch, len(b.keys), len(other.keys))
	}
	for _, k := range b.keys {
		g, ok := other.fields[k]
		if !ok {
			return nil, fmt.Errorf("%w: field %q missing from operand", ErrSchemaMismatch, k)
		}
		if f := b.fields[k]; f.Kind() != g.Kind() {
			return nil, fmt.Errorf("%w: field %q is %s vs %s", ErrSchemaMismatch, k, f.Kind(), g.Kind())
		}
	}
	if err := b.Check(); err != nil {
		return nil, err
	}
	if err := other.Check(); err != nil {
		return nil, err
	}

	out := NewIrregBlock()
	times := make([]Time, 0, len(b.times)+len(other.times))
	times = append(times, b.times...)
	times = append(times, other.times...)
	out.SetTimes(times)
	for _, k := range b.keys {
		out.SetField(k, b.fields[k].concat(other.fields[k]))
	}
	return out, nil
}
