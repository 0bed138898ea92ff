package metrics

import "sync/atomic"

// AtomicSubSaturating atomically subtracts delta from *addr, saturating
// at 0. A plain Add followed by a corrective Store races with concurrent
// writers, so this uses a CAS loop.
func AtomicSubSaturating(addr *int64, delta int64) int64 {
	for {
		current := atomic.LoadInt64(addr)
		newVal := current - delta
		if newVal < 0 {
			newVal = 0
		}
		if atomic.CompareAndSwapInt64(addr, current, newVal) {
			return newVal
		}
	}
}

// AtomicMax atomically sets *addr to max(*addr, val) and returns the
// resulting value.
func AtomicMax(addr *int64, val int64) int64 {
	for {
		current := atomic.LoadInt64(addr)
		if val <= current {
			return current
		}
		if atomic.CompareAndSwapInt64(addr, current, val) {
			return val
		}
	}
}

// Counter is a signed atomic counter.
type Counter struct {
	value int64
}

// Add adds delta and returns the new value.
func (c *Counter) Add(delta int64) int64 {
	return atomic.AddInt64(&c.value, delta)
}

// Inc increments by 1.
func (c *Counter) Inc() int64 {
	return atomic.AddInt64(&c.value, 1)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return atomic.LoadInt64(&c.value)
}

// Store sets the value.
func (c *Counter) Store(val int64) {
	atomic.StoreInt64(&c.value, val)
}

// Reset sets the counter to 0.
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// SubSaturating subtracts delta, saturating at 0.
func (c *Counter) SubSaturating(delta int64) int64 {
	return AtomicSubSaturating(&c.value, delta)
}

// UCounter is an unsigned atomic counter.
type UCounter struct {
	value uint64
}

// Add adds delta to the counter.
func (c *UCounter) Add(delta uint64) uint64 {
	return atomic.AddUint64(&c.value, delta)
}

// Inc increments by 1.
func (c *UCounter) Inc() uint64 {
	return atomic.AddUint64(&c.value, 1)
}

// Load returns the current value.
func (c *UCounter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

// Reset sets to 0.
func (c *UCounter) Reset() {
	atomic.StoreUint64(&c.value, 0)
}
