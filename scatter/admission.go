package scatter

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/log"
)

// Resources is an amount of memory and CPU.
type Resources struct {
	MemoryBytes int64
	CPUs        int
}

func (r Resources) String() string {
	return fmt.Sprintf("{mem:%dMiB cpu:%d}", r.MemoryBytes>>20, r.CPUs)
}

// Fits tells whether r fits within avail.
func (r Resources) Fits(avail Resources) bool {
	return r.MemoryBytes <= avail.MemoryBytes && r.CPUs <= avail.CPUs
}

// ScaleMemory returns r with its memory multiplied by f.
func (r Resources) ScaleMemory(f float64) Resources {
	r.MemoryBytes = int64(float64(r.MemoryBytes) * f)
	return r
}

func (r Resources) sub(o Resources) Resources {
	return Resources{MemoryBytes: r.MemoryBytes - o.MemoryBytes, CPUs: r.CPUs - o.CPUs}
}

func (r Resources) add(o Resources) Resources {
	return Resources{MemoryBytes: r.MemoryBytes + o.MemoryBytes, CPUs: r.CPUs + o.CPUs}
}

// Admission hands out resources from a fixed capacity. A request that does
// not fit the free capacity waits until enough is released. Admission may be
// shared by the schedulers of many samples.
type Admission struct {
	mu    sync.Mutex
	total Resources
	free  Resources
	// changed is closed and replaced whenever resources are released.
	changed chan struct{}
}

// NewAdmission creates an Admission with the given total capacity.
func NewAdmission(total Resources) *Admission {
	return &Admission{total: total, free: total, changed: make(chan struct{})}
}

// Clamp returns r limited to at most max in each dimension.
func (r Resources) Clamp(max Resources) Resources {
	if r.MemoryBytes > max.MemoryBytes {
		r.MemoryBytes = max.MemoryBytes
	}
	if r.CPUs > max.CPUs {
		r.CPUs = max.CPUs
	}
	return r
}

// Acquire blocks until need fits the free capacity, takes it, and returns a
// function that gives it back. The release function is idempotent. A need
// larger than the total capacity is clamped to the total, so the request
// waits until it can run alone.
func (a *Admission) Acquire(ctx context.Context, need Resources) (release func(), err error) {
	if !need.Fits(a.total) {
		clamped := need.Clamp(a.total)
		log.Printf("admission: need %v exceeds total capacity %v, clamping to %v", need, a.total, clamped)
		need = clamped
	}
	for {
		a.mu.Lock()
		if need.Fits(a.free) {
			a.free = a.free.sub(need)
			a.mu.Unlock()
			var once sync.Once
			return func() { once.Do(func() { a.release(need) }) }, nil
		}
		changed := a.changed
		a.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (a *Admission) release(r Resources) {
	a.mu.Lock()
	a.free = a.free.add(r)
	close(a.changed)
	a.changed = make(chan struct{})
	a.mu.Unlock()
}

// Free returns the currently free capacity.
func (a *Admission) Free() Resources {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free
}

// Total returns the total capacity.
func (a *Admission) Total() Resources { return a.total }
