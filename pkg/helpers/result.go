package helpers

// Result carries a value or the error that prevented producing it. It exists
// so that fallback policies read as combinators at the call site instead of
// being buried in error-handling branches.
type Result[T any] struct {
	value T
	err   error
}

func NewResult[T any](value T, err error) Result[T] {
	return Result[T]{value: value, err: err}
}

func NewValueResult[T any](value T) Result[T] {
	return Result[T]{value: value}
}

func NewErrorResult[T any](err error) Result[T] {
	return Result[T]{err: err}
}

func (r Result[T]) Value() (T, error) {
	return r.value, r.err
}

func (r Result[T]) Error() error {
	return r.err
}

func (r Result[T]) Ok() bool {
	return r.err == nil
}

// ValueOr returns the carried value, or v if the result is an error.
func (r Result[T]) ValueOr(v T) T {
	if r.err != nil {
		return v
	}
	return r.value
}

// OrElse returns the carried value, or the result of calling pick if the
// result is an error. Use this when the fallback is chosen lazily, e.g. a
// random pick from a fixed set of defaults.
func (r Result[T]) OrElse(pick func() T) T {
	if r.err != nil {
		return pick()
	}
	return r.value
}
