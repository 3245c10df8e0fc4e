// Package series provides aligned time-series containers: a fixed-rate
// multi-channel int32 timestream with a lossless packing codec, and an
// irregular block of heterogeneously-typed named vectors. Both validate
// their axes against each other and serialize through pkg/frames.
package series

import (
	"fmt"

	"github.com/tskisner/so3g/pkg/bitpack"
)

// DType identifies the element type of a SuperTimestream data matrix.
type DType uint8

// DTypeInt32 is the only supported element type: 32-bit signed integers.
const DTypeInt32 DType = 0x01

// Bits returns the element width in bits.
func (d DType) Bits() int {
	return 32
}

func (d DType) String() string {
	return "int32"
}

// SuperTimestream is a fixed-rate multi-channel timestream: a time axis of
// length T, a channel-name axis of length N, and an N×T int32 data matrix.
// Every assignment is validated against the fields already set, in any
// order; a rejected assignment leaves the previous state intact. The data
// payload may be held in a compact packed form (see Encode); reads decode
// transparently.
//
// Channel names are expected to be unique but uniqueness is not enforced;
// validation is purely dimensional.
//
// A SuperTimestream owns copies of everything assigned to it and is not
// safe for concurrent use.
type SuperTimestream struct {
	times    []Time
	hasTimes bool

	names    []string
	hasNames bool

	// Exactly one of data/packed is non-nil while a payload is present.
	data     [][]int32
	packed   []byte
	dataRows int
	dataCols int
}

// NewSuperTimestream returns an empty container.
func NewSuperTimestream() *SuperTimestream {
	return &SuperTimestream{}
}

// DType reports the element type of the data matrix.
func (ts *SuperTimestream) DType() DType {
	return DTypeInt32
}

func (ts *SuperTimestream) hasData() bool {
	return ts.data != nil || ts.packed != nil
}

// SetTimes assigns the time axis. If a data matrix is present, the new
// axis must match its column count.
func (ts *SuperTimestream) SetTimes(times []Time) error {
	if ts.hasData() && len(times) != ts.dataCols {
		return mismatch("times", len(times), "data columns", ts.dataCols)
	}
	ts.times = append([]Time(nil), times...)
	ts.hasTimes = true
	return nil
}

// SetNames assigns the channel-name axis. If a data matrix is present, the
// new axis must match its row count.
func (ts *SuperTimestream) SetNames(names []string) error {
	if ts.hasData() && len(names) != ts.dataRows {
		return mismatch("names", len(names), "data rows", ts.dataRows)
	}
	ts.names = append([]string(nil), names...)
	ts.hasNames = true
	return nil
}

// SetData assigns the N×T data matrix. Both label axes must already be
// set so the matrix can be validated: row count against names, column
// count against times. The container stores its own copy.
func (ts *SuperTimestream) SetData(m [][]int32) error {
	if !ts.hasNames || !ts.hasTimes {
		return fmt.Errorf("%w: data assigned before names and times", ErrShapeMismatch)
	}
	rows := len(m)
	cols := len(ts.times) // a 0-row matrix has no column count of its own
	if rows > 0 {
		cols = len(m[0])
	}
	for i, row := range m {
		if len(row) != cols {
			return mismatch(fmt.Sprintf("data row %d", i), len(row), "data row 0", cols)
		}
	}
	if err := checkMatrixShape(rows, cols, ts.names, ts.hasNames, len(ts.times), ts.hasTimes); err != nil {
		return err
	}

	ts.data = copyMatrix(m)
	ts.packed = nil
	ts.dataRows = rows
	ts.dataCols = cols
	return nil
}

// Times returns a copy of the time axis.
func (ts *SuperTimestream) Times() []Time {
	return append([]Time(nil), ts.times...)
}

// Names returns a copy of the channel-name axis.
func (ts *SuperTimestream) Names() []string {
	return append([]string(nil), ts.names...)
}

// NumChannels returns the number of channels (data rows).
func (ts *SuperTimestream) NumChannels() int {
	if ts.hasData() {
		return ts.dataRows
	}
	return len(ts.names)
}

// NumSamples returns the number of samples (data columns).
func (ts *SuperTimestream) NumSamples() int {
	if ts.hasData() {
		return ts.dataCols
	}
	return len(ts.times)
}

// Data returns the logical data matrix regardless of the internal storage
// form, decoding a packed payload transparently. The stored state is not
// mutated; repeated calls return identical values. The returned matrix is
// the caller's to mutate.
func (ts *SuperTimestream) Data() ([][]int32, error) {
	if ts.packed != nil {
		m, err := bitpack.Decode(ts.packed)
		if err != nil {
			return nil, fmt.Errorf("supertimestream: %w", err)
		}
		return m, nil
	}
	if ts.data == nil {
		return nil, nil
	}
	return copyMatrix(ts.data), nil
}

// Encode replaces the stored payload with the codec's compact
// representation at the given effort. The logical contents are unchanged:
// Data still returns the exact original matrix. Calling Encode on an
// already-packed container re-encodes at the new effort.
func (ts *SuperTimestream) Encode(effort int) error {
	m := ts.data
	if ts.packed != nil {
		var err error
		m, err = bitpack.Decode(ts.packed)
		if err != nil {
			return fmt.Errorf("supertimestream: %w", err)
		}
	}
	if m == nil {
		return nil
	}
	buf, err := bitpack.Encode(m, effort)
	if err != nil {
		return fmt.Errorf("supertimestream: %w", err)
	}
	ts.packed = buf
	ts.data = nil
	return nil
}

// Decode forces the plain matrix to be the stored payload. It is a no-op
// when the payload is already plain.
func (ts *SuperTimestream) Decode() error {
	if ts.packed == nil {
		return nil
	}
	m, err := bitpack.Decode(ts.packed)
	if err != nil {
		return fmt.Errorf("supertimestream: %w", err)
	}
	ts.data = m
	ts.packed = nil
	return nil
}

func copyMatrix(m [][]int32) [][]int32 {
	out := make([][]int32, len(m))
	for i, row := range m {
		out[i] = append([]int32(nil), row...)
	}
	return out
}
