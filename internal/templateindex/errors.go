package templateindex

import "errors"

// ErrDimensionMismatch indicates a query or template vector whose length
// differs from the index dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")
