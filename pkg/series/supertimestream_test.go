package series

import (
	"errors"
	"math/rand"
	"reflect"
	"strconv"
	"testing"
	"time"
)

// bigOffset is a fractional multiple of 2^27; truncation to int64 must
// happen at runtime, the value is not an integer constant.
var bigOffset = 1.78 * float64(int64(1)<<27)

// makeTimestream builds a fully-populated container: nchans channels of
// nsamps samples at 5ms spacing, with int32 noise of the given sigma.
func makeTimestream(t *testing.T, rng *rand.Rand, nchans, nsamps int, sigma float64) *SuperTimestream {
	t.Helper()
	ts := NewSuperTimestream()

	times := make([]Time, nsamps)
	t0 := TimeFromStd(time.Date(2023, 3, 28, 0, 0, 0, 0, time.UTC))
	for i := range times {
		times[i] = t0.Add(time.Duration(i) * 5 * time.Millisecond)
	}
	names := make([]string, nchans)
	for i := range names {
		names[i] = "x" + strconv.Itoa(i)
	}
	data := make([][]int32, nchans)
	for i := range data {
		data[i] = make([]int32, nsamps)
		for j := range data[i] {
			data[i][j] = int32(rng.NormFloat64() * sigma)
		}
	}

	if err := ts.SetTimes(times); err != nil {
		t.Fatalf("SetTimes failed: %v", err)
	}
	if err := ts.SetNames(names); err != nil {
		t.Fatalf("SetNames failed: %v", err)
	}
	if err := ts.SetData(data); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	return ts
}

func addOffset(m [][]int32, offset int64) {
	for i := range m {
		for j := range m[i] {
			m[i][j] = int32(int64(m[i][j]) + offset)
		}
	}
}

func mustData(t *testing.T, ts *SuperTimestream) [][]int32 {
	t.Helper()
	m, err := ts.Data()
	if err != nil {
		t.Fatalf("Data failed: %v", err)
	}
	return m
}

func TestShapeValidation(t *testing.T) {
	times := make([]Time, 10000)
	for i := range times {
		times[i] = Time(1680000000_000000000 + int64(i)*1000000000)
	}
	names := []string{"a", "b", "c", "d", "e"}
	data := make([][]int32, len(names))
	for i := range data {
		data[i] = make([]int32, len(times))
	}

	ts := NewSuperTimestream()
	if err := ts.SetTimes(times); err != nil {
		t.Fatalf("SetTimes failed: %v", err)
	}
	if err := ts.SetNames(names); err != nil {
		t.Fatalf("SetNames failed: %v", err)
	}
	if err := ts.SetData(data); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	// Re-assigning an axis that disagrees with the data must fail.
	if err := ts.SetTimes(times[:len(times)-1]); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("short times: got %v, want ErrShapeMismatch", err)
	}
	if err := ts.SetNames(names[:len(names)-1]); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("short names: got %v, want ErrShapeMismatch", err)
	}

	// Data requires both label axes.
	ts = NewSuperTimestream()
	if err := ts.SetData(data); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("data on empty container: got %v, want ErrShapeMismatch", err)
	}

	ts = NewSuperTimestream()
	ts.SetNames(names)
	if err := ts.SetData(data); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("data with only names: got %v, want ErrShapeMismatch", err)
	}

	ts = NewSuperTimestream()
	ts.SetTimes(times)
	if err := ts.SetData(data); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("data with only times: got %v, want ErrShapeMismatch", err)
	}

	// Mismatched data against both axes set.
	ts = NewSuperTimestream()
	ts.SetNames(names)
	ts.SetTimes(times)
	if err := ts.SetData(data[1:]); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("short rows: got %v, want ErrShapeMismatch", err)
	}
	short := make([][]int32, len(names))
	for i := range short {
		short[i] = make([]int32, len(times)-1)
	}
	if err := ts.SetData(short); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("short columns: got %v, want ErrShapeMismatch", err)
	}
	if err := ts.SetData(data); err != nil {
		t.Fatalf("exact shape rejected: %v", err)
	}
}

func TestFailedSetLeavesStateIntact(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	ts := makeTimestream(t, rng, 4, 20, 100)
	want := mustData(t, ts)

	if err := ts.SetTimes(make([]Time, 3)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("got %v, want ErrShapeMismatch", err)
	}
	if got := ts.Times(); len(got) != 20 {
		t.Fatalf("times mutated by failed assignment: length %d", len(got))
	}
	if got := mustData(t, ts); !reflect.DeepEqual(want, got) {
		t.Fatal("data mutated by failed assignment")
	}
}

func TestDType(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ts := makeTimestream(t, rng, 10, 100, 256)
	if ts.DType() != DTypeInt32 {
		t.Fatalf("DType = %v, want int32", ts.DType())
	}
	if ts.DType().Bits() != 32 {
		t.Fatalf("DType bits = %d, want 32", ts.DType().Bits())
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(12))

	ts := makeTimestream(t, rng, 200, 10000, 256)
	want := mustData(t, ts)
	if err := ts.Encode(1); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if got := mustData(t, ts); !reflect.DeepEqual(want, got) {
		t.Fatal("encode changed the logical data")
	}

	// Large additive offsets on every element must survive encoding.
	offsets := []int64{1 << 25, (1 << 26) / 3, -int64(bigOffset)}
	for _, offset := range offsets {
		ts := makeTimestream(t, rng, 200, 10000, 256)
		shifted := mustData(t, ts)
		addOffset(shifted, offset)
		if err := ts.SetData(shifted); err != nil {
			t.Fatalf("SetData failed: %v", err)
		}
		want := mustData(t, ts)
		if err := ts.Encode(1); err != nil {
			t.Fatalf("Encode(offset=%d) failed: %v", offset, err)
		}
		if got := mustData(t, ts); !reflect.DeepEqual(want, got) {
			t.Fatalf("offset %d: decoded data differs from original", offset)
		}
	}
}

func TestEncodeMutationIsolation(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	ts := makeTimestream(t, rng, 5, 50, 100)

	before := mustData(t, ts)
	want := copyMatrix(before)
	if err := ts.Encode(1); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// The snapshot taken before encoding is the caller's; scribbling on
	// it must not leak into the container.
	addOffset(before, 12345)

	if got := mustData(t, ts); !reflect.DeepEqual(want, got) {
		t.Fatal("container data changed when a caller-held copy was mutated")
	}
}

func TestRepeatedReadsAndDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(14))
	ts := makeTimestream(t, rng, 8, 64, 200)
	want := mustData(t, ts)

	if err := ts.Encode(2); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	first := mustData(t, ts)
	second := mustData(t, ts)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated reads of an encoded container differ")
	}
	if !reflect.DeepEqual(want, first) {
		t.Fatal("encoded read differs from original")
	}

	// Decode materializes the plain form; a second call is a no-op.
	if err := ts.Decode(); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if err := ts.Decode(); err != nil {
		t.Fatalf("second Decode failed: %v", err)
	}
	if got := mustData(t, ts); !reflect.DeepEqual(want, got) {
		t.Fatal("decoded data differs from original")
	}
}

func TestReEncodeAtDifferentEfforts(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	ts := makeTimestream(t, rng, 10, 500, 300)
	want := mustData(t, ts)

	for _, effort := range []int{1, 0, 2, 1} {
		if err := ts.Encode(effort); err != nil {
			t.Fatalf("Encode(%d) failed: %v", effort, err)
		}
		if got := mustData(t, ts); !reflect.DeepEqual(want, got) {
			t.Fatalf("effort %d: logical data changed", effort)
		}
	}
}

func TestSetDataRejectsRagged(t *testing.T) {
	ts := NewSuperTimestream()
	ts.SetTimes(make([]Time, 3))
	ts.SetNames([]string{"a", "b"})
	err := ts.SetData([][]int32{{1, 2, 3}, {4, 5}})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("got %v, want ErrShapeMismatch", err)
	}
}
