package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// commandBuffer wraps a native command buffer with everything that must
// outlive recording: strong references to the resources it uses and the
// CPU-visible objects whose last use it stamps at submit.
type commandBuffer struct {
	native       native.CommandBuffer
	submissionID uint64

	references []rhi.Resource
	lastUse    []*fenceValue
	timers     []*timerQuery
	// compactable lists BLAS builds that write a compacted size.
	compactable []*accelStruct
}

func (c *commandBuffer) reference(r rhi.Resource) {
	if r == nil {
		return
	}
	r.AddRef()
	c.references = append(c.references, r)
}

// retire releases everything the command buffer held.
func (c *commandBuffer) retire() {
	for _, r := range c.references {
		r.Release()
	}
	clear(c.references)
	c.references = c.references[:0]
	c.lastUse = c.lastUse[:0]
	c.timers = c.timers[:0]
	c.compactable = c.compactable[:0]
}

// queue owns a native queue, its timeline semaphore and the command
// buffers in flight on it.
type queue struct {
	dev  *Device
	kind rhi.CommandQueue
	nq   native.Queue
	sem  native.Semaphore

	// recordingInstance numbers command lists as they are opened.
	recordingInstance atomic.Uint64
	lastCompleted     atomic.Uint64

	mu            sync.Mutex
	lastSubmitted uint64
	inFlight      []*commandBuffer
	pool          []*commandBuffer
	abandoned     []*commandBuffer
	retiredChunks []*bufferChunk
	waits         []native.SemaphoreValue
}

func newQueue(dev *Device, kind rhi.CommandQueue, nq native.Queue) (*queue, error) {
	sem, err := dev.be.CreateTimelineSemaphore()
	if err != nil {
		return nil, fmt.Errorf("%w: create %s queue semaphore: %w", rhi.ErrNativeFailure, kind, err)
	}
	return &queue{dev: dev, kind: kind, nq: nq, sem: sem}, nil
}

// nextRecordingVersion returns a fresh unsubmitted version for a command
// list being opened.
func (q *queue) nextRecordingVersion() version {
	return makeVersion(q.recordingInstance.Add(1), q.kind, false)
}

func (q *queue) updateLastCompleted() uint64 {
	v := q.sem.CompletedValue()
	for {
		cur := q.lastCompleted.Load()
		if v <= cur || q.lastCompleted.CompareAndSwap(cur, v) {
			return max(v, cur)
		}
	}
}

func (q *queue) acquireCommandBuffer() (*commandBuffer, error) {
	q.mu.Lock()
	if n := len(q.pool); n > 0 {
		cb := q.pool[n-1]
		q.pool = q.pool[:n-1]
		q.mu.Unlock()
		return cb, nil
	}
	q.mu.Unlock()

	ncb, err := q.dev.be.CreateCommandBuffer(q.kind)
	if err != nil {
		return nil, fmt.Errorf("%w: create command buffer: %w", rhi.ErrNativeFailure, err)
	}
	return &commandBuffer{native: ncb}, nil
}

// abandon takes back a command buffer that will never be submitted. Its
// references are dropped on the next garbage collection.
func (q *queue) abandon(cb *commandBuffer) {
	cb.compactable = cb.compactable[:0]
	q.mu.Lock()
	q.abandoned = append(q.abandoned, cb)
	q.mu.Unlock()
}

// retireChunks hands over suballocator chunks of a destroyed command list.
func (q *queue) retireChunks(chunks []*bufferChunk) {
	if len(chunks) == 0 {
		return
	}
	q.mu.Lock()
	q.retiredChunks = append(q.retiredChunks, chunks...)
	q.mu.Unlock()
}

func (q *queue) addWait(sem native.Semaphore, value uint64) {
	q.mu.Lock()
	q.waits = append(q.waits, native.SemaphoreValue{Semaphore: sem, Value: value})
	q.mu.Unlock()
}

// submit executes the command lists in order and returns the new
// submission id.
func (q *queue) submit(lists []*CommandList) (uint64, error) {
	q.mu.Lock()

	cmds := make([]native.CommandBuffer, 0, len(lists))
	for _, cl := range lists {
		cmds = append(cmds, cl.cmd.native)
	}

	id := q.lastSubmitted + 1
	waits := q.waits
	q.waits = nil
	signals := []native.SemaphoreValue{{Semaphore: q.sem, Value: id}}

	if err := q.nq.Submit(cmds, waits, signals); err != nil {
		q.waits = append(waits, q.waits...)
		q.mu.Unlock()
		if errors.Is(err, rhi.ErrDeviceRemoved) {
			q.dev.msg.Fatalf("Device removed during submission to the %s queue: %v", q.kind, err)
			return 0, err
		}
		q.dev.msg.Errorf("Failed to submit command lists to the %s queue: %v", q.kind, err)
		return 0, fmt.Errorf("%w: submit: %w", rhi.ErrNativeFailure, err)
	}
	q.lastSubmitted = id

	for _, cl := range lists {
		cb := cl.cmd
		cb.submissionID = id
		for _, f := range cb.lastUse {
			f.set(q.sem, id)
		}
		for _, t := range cb.timers {
			t.fence.set(q.sem, id)
		}
		q.inFlight = append(q.inFlight, cb)
	}
	q.mu.Unlock()

	submitted := makeVersion(id, q.kind, true)
	for _, cl := range lists {
		cl.executed(submitted)
	}
	return id, nil
}

// collect retires command buffers whose submission has completed and
// frees what they held.
func (q *queue) collect() {
	completed := q.updateLastCompleted()

	q.mu.Lock()
	var done []*commandBuffer
	keep := q.inFlight[:0]
	for _, cb := range q.inFlight {
		if cb.submissionID <= completed {
			done = append(done, cb)
		} else {
			keep = append(keep, cb)
		}
	}
	clear(q.inFlight[len(keep):])
	q.inFlight = keep

	done = append(done, q.abandoned...)
	q.abandoned = nil

	var chunks []*bufferChunk
	keepChunks := q.retiredChunks[:0]
	for _, c := range q.retiredChunks {
		if !c.version.submitted() || c.version.completedBy(completed) {
			chunks = append(chunks, c)
		} else {
			keepChunks = append(keepChunks, c)
		}
	}
	clear(q.retiredChunks[len(keepChunks):])
	q.retiredChunks = keepChunks
	q.mu.Unlock()

	for _, c := range chunks {
		c.destroy()
	}

	for _, cb := range done {
		if len(cb.compactable) > 0 {
			q.dev.compaction.built(cb.compactable)
		}
		cb.retire()
	}

	if len(done) > 0 {
		q.mu.Lock()
		q.pool = append(q.pool, done...)
		q.mu.Unlock()
	}
}

func (q *queue) waitIdle() error {
	q.mu.Lock()
	target := q.lastSubmitted
	q.mu.Unlock()

	ok, err := q.sem.Wait(target, native.WaitForever)
	if err != nil {
		return fmt.Errorf("%w: wait for %s queue: %w", rhi.ErrNativeFailure, q.kind, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s queue did not reach %d", rhi.ErrTimeout, q.kind, target)
	}
	q.updateLastCompleted()
	return nil
}

func (q *queue) destroy() {
	q.mu.Lock()
	cbs := append(append(q.inFlight, q.pool...), q.abandoned...)
	chunks := q.retiredChunks
	q.inFlight, q.pool, q.abandoned, q.retiredChunks = nil, nil, nil, nil
	q.mu.Unlock()

	for _, cb := range cbs {
		cb.retire()
		cb.native.Destroy()
	}
	for _, c := range chunks {
		c.destroy()
	}
	q.sem.Destroy()
}
