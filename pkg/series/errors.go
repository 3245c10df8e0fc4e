package series

import "errors"

var (
	// ErrShapeMismatch indicates a length or dimension disagreement between
	// the axes of a single container.
	ErrShapeMismatch = errors.New("shape mismatch between container axes")

	// ErrSchemaMismatch indicates a field-name-set or field-type
	// disagreement between two containers being combined.
	ErrSchemaMismatch = errors.New("schema mismatch between containers")
)
