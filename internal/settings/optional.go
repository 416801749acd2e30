package settings

// Optional is a field that is either configured or absent. The zero value is
// absent.
type Optional[T any] struct {
	v  T
	ok bool
}

func Some[T any](v T) Optional[T] { return Optional[T]{v: v, ok: true} }

func None[T any]() Optional[T] { return Optional[T]{} }

func (o Optional[T]) Get() (T, bool) { return o.v, o.ok }

func (o Optional[T]) IsSet() bool { return o.ok }

// Or returns the stored value, or def when absent.
func (o Optional[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}
