package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/sim"
)

func clearList(t *testing.T, dev *Device, queue rhi.CommandQueue, buf rhi.Buffer) *CommandList {
	t.Helper()
	cl := newCommandListT(t, dev, queue)
	cl.Open()
	cl.ClearBufferUInt(buf, 7)
	cl.Close()
	return cl
}

func uavBuffer(t *testing.T, dev *Device, name string) rhi.Buffer {
	t.Helper()
	b, err := dev.CreateBuffer(rhi.BufferDesc{ByteSize: 256, CanHaveUAVs: true, DebugName: name, InitialState: rhi.ResourceStateCommon})
	require.NoError(t, err)
	t.Cleanup(func() { b.Release() })
	return b
}

func TestSubmissionIDsIncrease(t *testing.T) {
	dev, _, rec := newTestDevice(t)
	buf := uavBuffer(t, dev, "ids")

	cl := clearList(t, dev, rhi.QueueGraphics, buf)
	var last uint64
	for range 4 {
		id := execute(t, dev, rhi.QueueGraphics, cl)
		assert.Greater(t, id, last)
		last = id
		cl.Open()
		cl.ClearBufferUInt(buf, 1)
		cl.Close()
	}
	assert.Empty(t, rec.errors())
}

func TestExecuteRejectsListsInWrongState(t *testing.T) {
	dev, _, rec := newTestDevice(t)
	cl := newCommandListT(t, dev, rhi.QueueGraphics)

	_, err := dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
	assert.True(t, errors.Is(err, rhi.ErrCommandListState))

	buf := uavBuffer(t, dev, "q")
	compute := clearList(t, dev, rhi.QueueCompute, buf)
	_, err = dev.ExecuteCommandLists([]rhi.CommandList{compute}, rhi.QueueGraphics)
	assert.True(t, errors.Is(err, rhi.ErrInvalidArgument))

	_, err = dev.ExecuteCommandLists([]rhi.CommandList{compute, compute}, rhi.QueueCompute)
	assert.True(t, errors.Is(err, rhi.ErrInvalidArgument))
	assert.NotEmpty(t, rec.errors())
}

// A wait registered for the copy queue is carried by the next graphics
// submission only.
func TestQueueWaitForCommandList(t *testing.T) {
	dev, be, _ := newTestDevice(t)
	buf := uavBuffer(t, dev, "shared")

	up := newCommandListT(t, dev, rhi.QueueCopy)
	up.Open()
	up.WriteBuffer(buf, []byte("copy"), 0)
	up.Close()
	copyID := execute(t, dev, rhi.QueueCopy, up)
	require.EqualValues(t, 1, copyID)

	execute(t, dev, rhi.QueueGraphics, clearList(t, dev, rhi.QueueGraphics, buf))
	subs := be.Submissions()
	assert.Empty(t, subs[len(subs)-1].Waits)

	dev.QueueWaitForCommandList(rhi.QueueGraphics, rhi.QueueCopy, copyID)
	execute(t, dev, rhi.QueueGraphics, clearList(t, dev, rhi.QueueGraphics, buf))

	subs = be.Submissions()
	last := subs[len(subs)-1]
	assert.Equal(t, rhi.QueueGraphics, last.Queue)
	require.Len(t, last.Waits, 1)
	assert.Equal(t, dev.queues[rhi.QueueCopy].sem, last.Waits[0].Semaphore)
	assert.EqualValues(t, copyID, last.Waits[0].Value)
	require.Len(t, last.Signals, 1)
	assert.Equal(t, dev.queues[rhi.QueueGraphics].sem, last.Signals[0].Semaphore)

	// The wait is consumed.
	execute(t, dev, rhi.QueueGraphics, clearList(t, dev, rhi.QueueGraphics, buf))
	subs = be.Submissions()
	assert.Empty(t, subs[len(subs)-1].Waits)
}

func TestQueueWaitOnSameQueueIsIgnored(t *testing.T) {
	dev, be, _ := newTestDevice(t)
	buf := uavBuffer(t, dev, "self")
	dev.QueueWaitForCommandList(rhi.QueueGraphics, rhi.QueueGraphics, 1)
	execute(t, dev, rhi.QueueGraphics, clearList(t, dev, rhi.QueueGraphics, buf))
	assert.Empty(t, be.Submissions()[0].Waits)
}

func TestGarbageCollectionDropsReferences(t *testing.T) {
	dev, be, _ := newTestDevice(t, sim.WithManualCompletion())
	buf := uavBuffer(t, dev, "held")
	b := buf.(*buffer)
	require.EqualValues(t, 1, b.refCount())

	cl := clearList(t, dev, rhi.QueueGraphics, buf)
	execute(t, dev, rhi.QueueGraphics, cl)
	held := b.refCount()
	assert.Greater(t, held, int32(1))

	// Not completed yet: nothing is released.
	dev.RunGarbageCollection()
	assert.Equal(t, held, b.refCount())

	be.Complete()
	dev.RunGarbageCollection()
	assert.EqualValues(t, 1, b.refCount())
}

func TestDeviceRemovedIsFatal(t *testing.T) {
	dev, be, rec := newTestDevice(t)
	buf := uavBuffer(t, dev, "lost")
	cl := clearList(t, dev, rhi.QueueGraphics, buf)

	be.SetDeviceRemoved(true)
	t.Cleanup(func() { be.SetDeviceRemoved(false) })

	_, err := dev.ExecuteCommandLists([]rhi.CommandList{cl}, rhi.QueueGraphics)
	assert.True(t, errors.Is(err, rhi.ErrDeviceRemoved))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.msgs)
	assert.Equal(t, rhi.SeverityFatal, rec.msgs[len(rec.msgs)-1].severity)
}

func TestWaitForIdle(t *testing.T) {
	dev, be, _ := newTestDevice(t, sim.WithManualCompletion())
	buf := uavBuffer(t, dev, "idle")
	execute(t, dev, rhi.QueueGraphics, clearList(t, dev, rhi.QueueGraphics, buf))
	execute(t, dev, rhi.QueueCompute, clearList(t, dev, rhi.QueueCompute, buf))

	done := make(chan error, 1)
	go func() { done <- dev.WaitForIdle() }()

	select {
	case <-done:
		t.Fatal("WaitForIdle returned before the GPU finished")
	case <-time.After(20 * time.Millisecond):
	}
	be.Complete()
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, dev.queues[rhi.QueueGraphics].lastCompleted.Load())
}

func TestEventQuery(t *testing.T) {
	dev, be, _ := newTestDevice(t, sim.WithManualCompletion())
	q, err := dev.CreateEventQuery()
	require.NoError(t, err)
	defer q.Release()

	assert.False(t, dev.PollEventQuery(q), "an unset query never completes")

	buf := uavBuffer(t, dev, "event")
	execute(t, dev, rhi.QueueGraphics, clearList(t, dev, rhi.QueueGraphics, buf))
	dev.SetEventQuery(q, rhi.QueueGraphics)
	assert.False(t, dev.PollEventQuery(q))
	assert.False(t, dev.WaitEventQuery(q, 5*time.Millisecond))

	be.Complete()
	assert.True(t, dev.WaitEventQuery(q, time.Second))
	assert.True(t, dev.PollEventQuery(q))

	dev.ResetEventQuery(q)
	assert.False(t, dev.PollEventQuery(q))
}

// PollEventQuery may run on a different goroutine than SetEventQuery and
// ResetEventQuery.
func TestEventQueryPollWhileSetting(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	q, err := dev.CreateEventQuery()
	require.NoError(t, err)
	defer q.Release()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				dev.PollEventQuery(q)
			}
		}
	}()
	for range 100 {
		dev.SetEventQuery(q, rhi.QueueGraphics)
		dev.ResetEventQuery(q)
	}
	close(stop)
	wg.Wait()
	assert.False(t, dev.PollEventQuery(q))
}

func TestTimerQuery(t *testing.T) {
	dev, _, rec := newTestDevice(t)
	require.True(t, dev.QueryFeatureSupport(rhi.FeatureTimerQueries))
	q, err := dev.CreateTimerQuery()
	require.NoError(t, err)
	defer q.Release()

	_, err = dev.GetTimerQueryTime(q)
	assert.True(t, errors.Is(err, rhi.ErrInvalidArgument))
	rec.reset()

	cl := newCommandListT(t, dev, rhi.QueueGraphics)
	cl.Open()
	cl.BeginTimerQuery(q)
	cl.EndTimerQuery(q)
	cl.Close()
	execute(t, dev, rhi.QueueGraphics, cl)

	assert.True(t, dev.PollTimerQuery(q))
	d, err := dev.GetTimerQueryTime(q)
	require.NoError(t, err)
	// One simulated timestamp step at 1 GHz.
	assert.Equal(t, time.Microsecond, d)

	dev.ResetTimerQuery(q)
	assert.False(t, dev.PollTimerQuery(q))
	assert.Empty(t, rec.errors())
}

func TestCommandListOnMissingQueueIsReported(t *testing.T) {
	dev, _, rec := newTestDevice(t, sim.WithoutQueue(rhi.QueueCopy))

	_, err := dev.CreateCommandList(rhi.CommandListParameters{QueueType: rhi.QueueCopy})
	assert.ErrorIs(t, err, rhi.ErrNotSupported)
	assert.Len(t, rec.errors(), 1)
	assert.True(t, rec.contains("has no"))
}
