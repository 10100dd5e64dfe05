package reference

import "sync"

// lazy memoizes a fallible computation. The zero value is ready to use.
type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(compute func() (T, error)) (T, error) {
	l.once.Do(func() {
		l.val, l.err = compute()
	})
	return l.val, l.err
}

// must returns the memoized value of an infallible computation.
func (l *lazy[T]) must(compute func() T) T {
	v, _ := l.get(func() (T, error) { return compute(), nil })
	return v
}
