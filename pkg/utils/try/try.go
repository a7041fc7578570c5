package try

// Fataler is something which can stop the current flow with a message,
// like *testing.T or *log.Logger.
type Fataler interface {
	Fatal(...any)
}

// Result holds a (value, error) pair returned from a function call.
type Result[T any] struct {
	value T
	err   error
}

// To captures the return values of a call.
//
//	doc := try.To(configdoc.Load(path)).OrFatal(t)
func To[T any](value T, err error) Result[T] {
	return Result[T]{value: value, err: err}
}

func (r Result[T]) Get() (T, error) {
	return r.value, r.err
}

// OrFatal returns the value, or calls ftl.Fatal with the error.
//
// When ftl has Helper() (as *testing.T), it is called first.
func (r Result[T]) OrFatal(ftl Fataler) T {
	if r.err == nil {
		return r.value
	}
	if h, ok := ftl.(interface{ Helper() }); ok {
		h.Helper()
	}
	ftl.Fatal(r.err)
	return *new(T)
}

// OrDefault returns the value, or d when the call failed.
func (r Result[T]) OrDefault(d T) T {
	if r.err != nil {
		return d
	}
	return r.value
}
