// Package bitpack implements a lossless compact representation for
// rectangular int32 matrices. Each row is stored as an integer offset plus
// fixed-width bit-packed residuals; higher effort levels spend more CPU to
// shrink the output but never change the decoded values.
package bitpack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"runtime"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// Representation format constants
var (
	Magic   = []byte{'B', 'P', 'K', '1'} // Magic bytes
	Version = uint8(0x01)                // Version 1
)

const (
	headerSize = 6 // Magic(4) + Version(1) + Flags(1)

	flagZstd      = 0x01     // packed payload is zstd-compressed
	flagsKnown    = flagZstd
	maxWidth      = 32       // element type is int32
	parallelLimit = 1 << 16  // pack rows concurrently above this element count
)

// ErrCorruptEncoding indicates a compact representation that cannot be
// decoded: bad magic, impossible field values, or a truncated payload.
var ErrCorruptEncoding = errors.New("corrupt bitpack encoding")

var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	// EncodeAll/DecodeAll on shared instances are safe for concurrent use.
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDec, _ = zstd.NewReader(nil)
}

// rowPlan holds the per-row packing decision made during encoding.
type rowPlan struct {
	offset int64
	width  uint8
	packed []byte
}

// Encode produces a self-describing compact representation of m.
//
// Effort selects how hard the encoder works: 0 packs every row at the full
// 32-bit width (a lossless pass-through), 1 searches each row's min/max for
// the optimal offset and width, and 2 or higher additionally runs the packed
// payload through zstd, keeping the compressed form only when it is smaller.
// Decoding does not require knowledge of the effort used.
func Encode(m [][]int32, effort int) ([]byte, error) {
	if effort < 0 {
		return nil, fmt.Errorf("bitpack: negative effort %d", effort)
	}
	rows := len(m)
	cols := 0
	if rows > 0 {
		cols = len(m[0])
	}
	for i, row := range m {
		if len(row) != cols {
			return nil, fmt.Errorf("bitpack: ragged matrix: row %d has %d entries, row 0 has %d", i, len(row), cols)
		}
	}

	plans := make([]rowPlan, rows)
	if rows*cols >= parallelLimit {
		g := new(errgroup.Group)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i := range m {
			i := i
			g.Go(func() error {
				plans[i] = packRow(m[i], effort)
				return nil
			})
		}
		_ = g.Wait() // row packing never fails
	} else {
		for i := range m {
			plans[i] = packRow(m[i], effort)
		}
	}

	payloadLen := 0
	for i := range plans {
		payloadLen += len(plans[i].packed)
	}

	// Header + dims + per-row directory + payload.
	buf := make([]byte, 0, headerSize+2*binary.MaxVarintLen64+rows*(binary.MaxVarintLen64+1)+binary.MaxVarintLen64+payloadLen)
	buf = append(buf, Magic...)
	buf = append(buf, Version, 0) // flags patched below
	buf = binary.AppendUvarint(buf, uint64(rows))
	buf = binary.AppendUvarint(buf, uint64(cols))
	for i := range plans {
		buf = binary.AppendVarint(buf, plans[i].offset)
		buf = append(buf, plans[i].width)
	}

	payload := make([]byte, 0, payloadLen)
	for i := range plans {
		payload = append(payload, plans[i].packed...)
	}
	if effort >= 2 && len(payload) > 0 {
		compressed := zstdEnc.EncodeAll(payload, nil)
		if len(compressed) < len(payload) {
			buf[5] |= flagZstd
			payload = compressed
		}
	}
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return buf, nil
}

// packRow chooses an offset and width for one row and bit-packs it.
// Residuals are computed in int64 so large offsets never overflow the
// working arithmetic.
func packRow(row []int32, effort int) rowPlan {
	offset := int64(math.MinInt32)
	width := uint8(maxWidth)
	if effort >= 1 && len(row) > 0 {
		lo, hi := int64(row[0]), int64(row[0])
		for _, v := range row[1:] {
			if int64(v) < lo {
				lo = int64(v)
			}
			if int64(v) > hi {
				hi = int64(v)
			}
		}
		offset = lo
		width = uint8(bits.Len64(uint64(hi - lo)))
	}

	packed := make([]byte, (len(row)*int(width)+7)/8)
	var acc uint64
	var nbits uint
	pos := 0
	for _, v := range row {
		acc |= uint64(int64(v)-offset) << nbits
		nbits += uint(width)
		for nbits >= 8 {
			packed[pos] = byte(acc)
			acc >>= 8
			nbits -= 8
			pos++
		}
	}
	if nbits > 0 {
		packed[pos] = byte(acc)
	}
	return rowPlan{offset: offset, width: width, packed: packed}
}

// Dims reports the row and column counts of a compact representation
// without decoding the payload.
func Dims(buf []byte) (rows, cols int, err error) {
	if len(buf) < headerSize {
		return 0, 0, fmt.Errorf("%w: truncated header", ErrCorruptEncoding)
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return 0, 0, fmt.Errorf("%w: bad magic bytes", ErrCorruptEncoding)
	}
	if buf[4] != Version {
		return 0, 0, fmt.Errorf("%w: unsupported version 0x%02x", ErrCorruptEncoding, buf[4])
	}
	rest := buf[headerSize:]
	r, n := binary.Uvarint(rest)
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: bad row count", ErrCorruptEncoding)
	}
	rest = rest[n:]
	c, n := binary.Uvarint(rest)
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: bad column count", ErrCorruptEncoding)
	}
	if r > uint64(math.MaxInt32) || c > uint64(math.MaxInt32) {
		return 0, 0, fmt.Errorf("%w: implausible dimensions %dx%d", ErrCorruptEncoding, r, c)
	}
	return int(r), int(c), nil
}

// Decode reconstructs the exact original matrix from a compact
// representation produced by Encode at any effort.
func Decode(buf []byte) ([][]int32, error) {
	rows, cols, err := Dims(buf)
	if err != nil {
		return nil, err
	}
	flags := buf[5]
	if flags&^uint8(flagsKnown) != 0 {
		return nil, fmt.Errorf("%w: unknown flags 0x%02x", ErrCorruptEncoding, flags)
	}

	rest := buf[headerSize:]
	_, n := binary.Uvarint(rest)
	rest = rest[n:]
	_, n = binary.Uvarint(rest)
	rest = rest[n:]

	// Every directory entry takes at least two bytes; reject implausible
	// row counts before allocating for them.
	if uint64(rows)*2 > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: %d rows cannot fit in %d remaining bytes", ErrCorruptEncoding, rows, len(rest))
	}

	offsets := make([]int64, rows)
	widths := make([]uint8, rows)
	for i := 0; i < rows; i++ {
		off, n := binary.Varint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad offset for row %d", ErrCorruptEncoding, i)
		}
		rest = rest[n:]
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: missing width for row %d", ErrCorruptEncoding, i)
		}
		w := rest[0]
		rest = rest[1:]
		if w > maxWidth {
			return nil, fmt.Errorf("%w: row %d width %d exceeds %d bits", ErrCorruptEncoding, i, w, maxWidth)
		}
		offsets[i] = off
		widths[i] = w
	}

	stored, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad payload length", ErrCorruptEncoding)
	}
	rest = rest[n:]
	if uint64(len(rest)) != stored {
		return nil, fmt.Errorf("%w: payload length %d does not match stored %d", ErrCorruptEncoding, len(rest), stored)
	}

	payload := rest
	if flags&flagZstd != 0 {
		payload, err = zstdDec.DecodeAll(rest, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd payload: %v", ErrCorruptEncoding, err)
		}
	}

	want := 0
	for _, w := range widths {
		want += (cols*int(w) + 7) / 8
	}
	if len(payload) != want {
		return nil, fmt.Errorf("%w: packed payload is %d bytes, widths require %d", ErrCorruptEncoding, len(payload), want)
	}

	m := make([][]int32, rows)
	for i := 0; i < rows; i++ {
		rowBytes := (cols*int(widths[i]) + 7) / 8
		m[i] = unpackRow(payload[:rowBytes], cols, offsets[i], widths[i])
		payload = payload[rowBytes:]
	}
	return m, nil
}

// unpackRow reverses packRow for one row.
func unpackRow(src []byte, cols int, offset int64, width uint8) []int32 {
	row := make([]int32, cols)
	if width == 0 {
		for i := range row {
			row[i] = int32(offset)
		}
		return row
	}
	mask := uint64(1)<<width - 1
	var acc uint64
	var nbits uint
	pos := 0
	for i := 0; i < cols; i++ {
		for nbits < uint(width) {
			acc |= uint64(src[pos]) << nbits
			nbits += 8
			pos++
		}
		row[i] = int32(int64(acc&mask) + offset)
		acc >>= width
		nbits -= uint(width)
	}
	return row
}
