package series

import "fmt"

// Shape validation shared by both container kinds. Each check is a pure
// length comparison; failed checks report both axes so the caller can see
// which assignment was rejected.

// mismatch builds a ShapeMismatch error naming the two disagreeing axes.
func mismatch(axisA string, lenA int, axisB string, lenB int) error {
	return fmt.Errorf("%w: %s has length %d, %s has length %d", ErrShapeMismatch, axisA, lenA, axisB, lenB)
}

// checkMatrixShape validates an N×T data matrix against whichever label
// axes are already set. Each dimension is checked independently so fields
// may be assigned in any order.
func checkMatrixShape(rows, cols int, names []string, hasNames bool, nTimes int, hasTimes bool) error {
	if hasNames {
		if rows != len(names) {
			return mismatch("data rows", rows, "names", len(names))
		}
	}
	if hasTimes {
		if cols != nTimes {
			return mismatch("data columns", cols, "times", nTimes)
		}
	}
	return nil
}

// checkAlignedFields validates that every named field vector agrees in
// length with the time axis.
func checkAlignedFields(nTimes int, keys []string, fields map[string]Field) error {
	for _, k := range keys {
		if n := fields[k].Len(); n != nTimes {
			return mismatch(fmt.Sprintf("field %q", k), n, "times", nTimes)
		}
	}
	return nil
}
