package series

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tskisner/so3g/pkg/bitpack"
	"github.com/tskisner/so3g/pkg/frames"
)

// Frame type codes for the containers in this package.
const (
	TypeSuperTimestream frames.TypeCode = 0x10
	TypeIrregBlock      frames.TypeCode = 0x11
)

func init() {
	frames.Register(TypeSuperTimestream, func() frames.Value { return NewSuperTimestream() })
	frames.Register(TypeIrregBlock, func() frames.Value { return NewIrregBlock() })
}

// Wire flags recording which SuperTimestream fields have been assigned, so
// an empty-but-set axis survives a round trip.
const (
	wireHasTimes = 0x01
	wireHasNames = 0x02
	wireHasData  = 0x04
)

// superTimestreamWire is the serialized field layout of a SuperTimestream.
// The data matrix always travels in its compact packed form.
type superTimestreamWire struct {
	Flags  uint8    `msgpack:"f"`
	Times  []int64  `msgpack:"t"`
	Names  []string `msgpack:"n"`
	Packed []byte   `msgpack:"p"`
}

// FrameType implements frames.Value.
func (ts *SuperTimestream) FrameType() frames.TypeCode {
	return TypeSuperTimestream
}

// MarshalFrame implements frames.Value. An already-packed payload is
// written as-is; a plain payload is packed at effort 1 for the wire. The
// container itself is not modified.
func (ts *SuperTimestream) MarshalFrame() ([]byte, error) {
	var w superTimestreamWire
	if ts.hasTimes {
		w.Flags |= wireHasTimes
		w.Times = make([]int64, len(ts.times))
		for i, t := range ts.times {
			w.Times[i] = int64(t)
		}
	}
	if ts.hasNames {
		w.Flags |= wireHasNames
		w.Names = append([]string(nil), ts.names...)
	}
	switch {
	case ts.packed != nil:
		w.Flags |= wireHasData
		w.Packed = append([]byte(nil), ts.packed...)
	case ts.data != nil:
		w.Flags |= wireHasData
		packed, err := bitpack.Encode(ts.data, 1)
		if err != nil {
			return nil, fmt.Errorf("supertimestream: %w", err)
		}
		w.Packed = packed
	}
	return msgpack.Marshal(&w)
}

// UnmarshalFrame implements frames.Value. The data payload is kept in its
// packed form and decoded lazily on first access.
func (ts *SuperTimestream) UnmarshalFrame(data []byte) error {
	var w superTimestreamWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("supertimestream: %w", err)
	}

	*ts = SuperTimestream{}
	if w.Flags&wireHasTimes != 0 {
		ts.times = make([]Time, len(w.Times))
		for i, t := range w.Times {
			ts.times[i] = Time(t)
		}
		ts.hasTimes = true
	}
	if w.Flags&wireHasNames != 0 {
		ts.names = append([]string(nil), w.Names...)
		ts.hasNames = true
	}
	if w.Flags&wireHasData != 0 {
		rows, cols, err := bitpack.Dims(w.Packed)
		if err != nil {
			return fmt.Errorf("supertimestream: %w", err)
		}
		if ts.hasNames && rows != len(ts.names) {
			return mismatch("data rows", rows, "names", len(ts.names))
		}
		if rows == 0 {
			// A 0-row matrix carries no column count of its own.
			cols = len(ts.times)
		} else if ts.hasTimes && cols != len(ts.times) {
			return mismatch("data columns", cols, "times", len(ts.times))
		}
		ts.packed = append([]byte(nil), w.Packed...)
		ts.dataRows = rows
		ts.dataCols = cols
	}
	return nil
}

// irregFieldWire is one named, typed field vector on the wire.
type irregFieldWire struct {
	Name string    `msgpack:"n"`
	Kind uint8     `msgpack:"k"`
	F64  []float64 `msgpack:"f,omitempty"`
	I64  []int64   `msgpack:"i,omitempty"`
}

// irregBlockWire is the serialized field layout of an IrregBlock. Fields
// appear in insertion order.
type irregBlockWire struct {
	Times  []int64          `msgpack:"t"`
	Fields []irregFieldWire `msgpack:"v"`
}

// FrameType implements frames.Value.
func (b *IrregBlock) FrameType() frames.TypeCode {
	return TypeIrregBlock
}

// MarshalFrame implements frames.Value.
func (b *IrregBlock) MarshalFrame() ([]byte, error) {
	w := irregBlockWire{
		Times:  make([]int64, len(b.times)),
		Fields: make([]irregFieldWire, 0, len(b.keys)),
	}
	for i, t := range b.times {
		w.Times[i] = int64(t)
	}
	for _, k := range b.keys {
		f := b.fields[k]
		fw := irregFieldWire{Name: k, Kind: uint8(f.kind)}
		switch f.kind {
		case FieldFloat64:
			fw.F64 = append([]float64(nil), f.f64...)
		case FieldInt64:
			fw.I64 = append([]int64(nil), f.i64...)
		default:
			return nil, fmt.Errorf("irregblock: field %q has unsupported kind %s", k, f.kind)
		}
		w.Fields = append(w.Fields, fw)
	}
	return msgpack.Marshal(&w)
}

// UnmarshalFrame implements frames.Value.
func (b *IrregBlock) UnmarshalFrame(data []byte) error {
	var w irregBlockWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("irregblock: %w", err)
	}

	*b = IrregBlock{fields: make(map[string]Field)}
	b.times = make([]Time, len(w.Times))
	for i, t := range w.Times {
		b.times[i] = Time(t)
	}
	for _, fw := range w.Fields {
		switch FieldKind(fw.Kind) {
		case FieldFloat64:
			b.SetField(fw.Name, Float64Field(fw.F64))
		case FieldInt64:
			b.SetField(fw.Name, Int64Field(fw.I64))
		default:
			return fmt.Errorf("irregblock: field %q has unsupported kind %d", fw.Name, fw.Kind)
		}
	}
	return nil
}
