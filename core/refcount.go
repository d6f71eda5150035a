package core

import "sync/atomic"

// refCounter implements rhi.Resource. The destroy callback runs on the
// goroutine that drops the last reference.
type refCounter struct {
	refs    atomic.Int32
	destroy func()
}

func (r *refCounter) init(destroy func()) {
	r.refs.Store(1)
	r.destroy = destroy
}

// AddRef adds a strong reference and returns the new count.
func (r *refCounter) AddRef() int32 {
	return r.refs.Add(1)
}

// Release drops a strong reference and returns the new count.
func (r *refCounter) Release() int32 {
	n := r.refs.Add(-1)
	if n == 0 && r.destroy != nil {
		r.destroy()
	}
	return n
}

// refCount returns the current count. Used in tests.
func (r *refCounter) refCount() int32 {
	return r.refs.Load()
}
