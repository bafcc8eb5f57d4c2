// Package batch provides a rectangular, shape-tracked batch abstraction.
//
// Callers address the knowledge bank with multi-dimensional batches of keys
// and values. The wire protocol only understands flat sequences, so this
// package records the shape of a batch next to its flat backing slice and
// offers the flatten/reshape bookkeeping needed to translate between the two.
package batch

import "fmt"

// Batch is a rectangular batch of T with a recorded shape. The backing data
// is stored flat in row-major order.
type Batch[T any] struct {
	shape []int
	data  []T
}

// New creates a batch over data with the given shape. The flattened element
// count of shape must match len(data).
func New[T any](shape []int, data []T) (*Batch[T], error) {
	n, err := Volume(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	return &Batch[T]{shape: append([]int(nil), shape...), data: data}, nil
}

// Zeros creates a batch of the given shape filled with T's zero value.
func Zeros[T any](shape []int) (*Batch[T], error) {
	n, err := Volume(shape)
	if err != nil {
		return nil, err
	}
	return &Batch[T]{shape: append([]int(nil), shape...), data: make([]T, n)}, nil
}

// Of creates a rank-1 batch over the given elements.
func Of[T any](elems ...T) *Batch[T] {
	return &Batch[T]{shape: []int{len(elems)}, data: elems}
}

// Shape returns a copy of the batch shape.
func (b *Batch[T]) Shape() []int {
	return append([]int(nil), b.shape...)
}

// Rank returns the number of dimensions.
func (b *Batch[T]) Rank() int { return len(b.shape) }

// Dim returns the size of dimension i.
func (b *Batch[T]) Dim(i int) int { return b.shape[i] }

// Len returns the flattened element count.
func (b *Batch[T]) Len() int { return len(b.data) }

// Data returns the flat row-major backing slice. The slice is shared with
// the batch, not copied.
func (b *Batch[T]) Data() []T { return b.data }

// Empty reports whether the batch holds no elements. A nil batch is empty.
func (b *Batch[T]) Empty() bool {
	return b == nil || len(b.data) == 0
}

// Reshape returns a new batch sharing b's data under a different shape.
// The flattened element counts must agree.
func (b *Batch[T]) Reshape(shape []int) (*Batch[T], error) {
	n, err := Volume(shape)
	if err != nil {
		return nil, err
	}
	if n != len(b.data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", b.shape, shape)
	}
	return &Batch[T]{shape: append([]int(nil), shape...), data: b.data}, nil
}

// Volume returns the element count a rectangular shape spans. Every
// dimension must be non-negative; an empty shape denotes a scalar.
func Volume(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension in shape %v", shape)
		}
		n *= d
	}
	return n, nil
}
