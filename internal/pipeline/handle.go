package pipeline

// Handle lazily constructs a stage collaborator on first use, so a pass
// that finds nothing to do never pays for the client behind it.
type Handle[T any] struct {
	construct func() T
	value     T
	acquired  bool
}

func NewHandle[T any](construct func() T) *Handle[T] {
	return &Handle[T]{construct: construct}
}

// Get returns the value, constructing it on the first call.
func (h *Handle[T]) Get() T {
	if !h.acquired {
		h.value = h.construct()
		h.acquired = true
	}
	return h.value
}

// Acquired reports whether Get has been called since the last Release.
func (h *Handle[T]) Acquired() bool {
	return h.acquired
}

// Release drops the value, running release first if the value was ever
// constructed. A released handle reconstructs on the next Get.
func (h *Handle[T]) Release(release func(T)) {
	if !h.acquired {
		return
	}
	if release != nil {
		release(h.value)
	}
	var zero T
	h.value = zero
	h.acquired = false
}
