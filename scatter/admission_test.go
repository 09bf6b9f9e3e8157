package scatter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestAdmissionQueues(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := NewAdmission(Resources{MemoryBytes: 10, CPUs: 2})
	ctx := context.Background()
	r1, err := a.Acquire(ctx, Resources{MemoryBytes: 6, CPUs: 1})
	require.NoError(t, err)
	assert.Equal(t, Resources{MemoryBytes: 4, CPUs: 1}, a.Free())

	acquired := make(chan func())
	go func() {
		r2, err := a.Acquire(ctx, Resources{MemoryBytes: 6, CPUs: 1})
		assert.NoError(t, err)
		acquired <- r2
	}()
	select {
	case <-acquired:
		t.Fatal("second request must wait for memory")
	case <-time.After(20 * time.Millisecond):
	}
	r1()
	r1()
	r2 := <-acquired
	assert.Equal(t, Resources{MemoryBytes: 4, CPUs: 1}, a.Free())
	r2()
	assert.Equal(t, a.Total(), a.Free())
}

func TestAdmissionCanceled(t *testing.T) {
	a := NewAdmission(Resources{MemoryBytes: 1, CPUs: 1})
	release, err := a.Acquire(context.Background(), Resources{MemoryBytes: 1, CPUs: 1})
	require.NoError(t, err)
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx, Resources{CPUs: 1})
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestAdmissionWaitsForFreeCapacity(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := NewAdmission(Resources{MemoryBytes: 4 << 30, CPUs: 4})
	ctx := context.Background()
	r1, err := a.Acquire(ctx, Resources{MemoryBytes: 3 << 30, CPUs: 1})
	require.NoError(t, err)

	// 2GiB exceeds the 1GiB free but not the 4GiB total: the request queues.
	acquired := make(chan func())
	go func() {
		r2, err := a.Acquire(ctx, Resources{MemoryBytes: 2 << 30, CPUs: 1})
		assert.NoError(t, err)
		acquired <- r2
	}()
	select {
	case <-acquired:
		t.Fatal("request must wait until enough memory is free")
	case <-time.After(20 * time.Millisecond):
	}
	r1()
	r2 := <-acquired
	assert.Equal(t, Resources{MemoryBytes: 2 << 30, CPUs: 3}, a.Free())
	r2()
	assert.Equal(t, a.Total(), a.Free())
}

func TestAdmissionClampsOversizedNeed(t *testing.T) {
	a := NewAdmission(Resources{MemoryBytes: 1 << 30, CPUs: 2})
	release, err := a.Acquire(context.Background(), Resources{MemoryBytes: 2 << 30, CPUs: 4})
	require.NoError(t, err)
	assert.Equal(t, Resources{}, a.Free())
	release()
	assert.Equal(t, a.Total(), a.Free())
}

func TestResources(t *testing.T) {
	r := Resources{MemoryBytes: 3 << 20, CPUs: 2}
	assert.Equal(t, Resources{MemoryBytes: 6 << 20, CPUs: 2}, r.ScaleMemory(2))
	assert.Equal(t, "{mem:3MiB cpu:2}", r.String())
	assert.True(t, r.Fits(Resources{MemoryBytes: 3 << 20, CPUs: 2}))
	assert.False(t, r.Fits(Resources{MemoryBytes: 3 << 20, CPUs: 1}))
	c := DefaultCapacity()
	assert.True(t, c.CPUs > 0)
}
