package core

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// timerPool owns the timestamp query heap shared by all timer queries and
// the readback buffer timestamps are resolved into. Each timer query takes
// two consecutive entries.
type timerPool struct {
	heap     native.QueryHeap
	readback native.Buffer
	data     []byte
	freq     uint64

	mu        sync.Mutex
	allocated []bool
}

func newTimerPool(be native.Backend, maxQueries uint32) (*timerPool, error) {
	heap, err := be.CreateQueryHeap(maxQueries * 2)
	if err != nil {
		return nil, fmt.Errorf("%w: create timer query heap: %w", rhi.ErrNativeFailure, err)
	}
	rb, err := be.CreateBuffer(&rhi.BufferDesc{
		ByteSize:     uint64(maxQueries) * 2 * 8,
		DebugName:    "TimerQueryResolveBuffer",
		CPUAccess:    rhi.CPUAccessRead,
		InitialState: rhi.ResourceStateCopyDest,
	})
	if err != nil {
		heap.Destroy()
		return nil, fmt.Errorf("%w: create timer readback buffer: %w", rhi.ErrNativeFailure, err)
	}
	data, err := rb.Map()
	if err != nil {
		rb.Destroy()
		heap.Destroy()
		return nil, fmt.Errorf("%w: map timer readback buffer: %w", rhi.ErrNativeFailure, err)
	}
	return &timerPool{
		heap:      heap,
		readback:  rb,
		data:      data,
		freq:      be.Limits().TimestampFrequency,
		allocated: make([]bool, maxQueries),
	}, nil
}

func (p *timerPool) allocate() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, used := range p.allocated {
		if !used {
			p.allocated[i] = true
			return uint32(i), true
		}
	}
	return 0, false
}

func (p *timerPool) release(i uint32) {
	p.mu.Lock()
	p.allocated[i] = false
	p.mu.Unlock()
}

func (p *timerPool) timestamp(index uint32) uint64 {
	return binary.LittleEndian.Uint64(p.data[index*8:])
}

func (p *timerPool) destroy() {
	p.readback.Unmap()
	p.readback.Destroy()
	p.heap.Destroy()
}

func (q *timerQuery) destroy() {
	q.dev.timers.release(q.beginIndex / 2)
}

func (d *Device) CreateTimerQuery() (rhi.TimerQuery, error) {
	if d.timers == nil {
		return nil, d.msg.Error(fmt.Errorf("%w: timer queries", rhi.ErrNotSupported))
	}
	i, ok := d.timers.allocate()
	if !ok {
		return nil, d.msg.Error(fmt.Errorf("%w: all %d timer queries are in use", rhi.ErrReservationFailed, len(d.timers.allocated)))
	}
	q := &timerQuery{dev: d, beginIndex: i * 2, endIndex: i*2 + 1}
	q.init(q.destroy)
	return q, nil
}

func (d *Device) asTimerQuery(q rhi.TimerQuery) *timerQuery {
	tq, ok := q.(*timerQuery)
	if !ok || tq == nil {
		d.msg.Errorf("Timer query is nil or was not created by this device")
		return nil
	}
	return tq
}

// PollTimerQuery reports whether the query's timestamps are available.
func (d *Device) PollTimerQuery(q rhi.TimerQuery) bool {
	tq := d.asTimerQuery(q)
	if tq == nil {
		return false
	}
	tq.mu.Lock()
	started := tq.started
	tq.mu.Unlock()
	if !started {
		return false
	}
	sem, _ := tq.fence.get()
	return sem != nil && tq.fence.poll()
}

func (d *Device) GetTimerQueryTime(q rhi.TimerQuery) (time.Duration, error) {
	tq := d.asTimerQuery(q)
	if tq == nil {
		return 0, rhi.ErrNilHandle
	}
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.resolved {
		return tq.elapsed, nil
	}
	if sem, _ := tq.fence.get(); !tq.started || sem == nil {
		return 0, d.msg.Error(fmt.Errorf("%w: timer query was never submitted", rhi.ErrInvalidArgument))
	}
	ok, err := tq.fence.wait(native.WaitForever)
	if err != nil {
		return 0, d.msg.Error(fmt.Errorf("%w: wait for timer query: %w", rhi.ErrNativeFailure, err))
	}
	if !ok {
		return 0, rhi.ErrTimeout
	}

	begin, end := d.timers.timestamp(tq.beginIndex), d.timers.timestamp(tq.endIndex)
	if freq := d.timers.freq; freq > 0 && end >= begin {
		ticks := end - begin
		tq.elapsed = time.Duration(ticks/freq)*time.Second + time.Duration((ticks%freq)*uint64(time.Second)/freq)
	}
	tq.resolved = true
	return tq.elapsed, nil
}

func (d *Device) ResetTimerQuery(q rhi.TimerQuery) {
	tq := d.asTimerQuery(q)
	if tq == nil {
		return
	}
	tq.mu.Lock()
	tq.started, tq.resolved, tq.elapsed = false, false, 0
	tq.fence.reset()
	tq.mu.Unlock()
}

// BeginTimerQuery writes the start timestamp of q.
func (c *CommandList) BeginTimerQuery(q rhi.TimerQuery) {
	if !c.recording("BeginTimerQuery") {
		return
	}
	tq := c.dev.asTimerQuery(q)
	if tq == nil {
		return
	}
	c.cmd.reference(tq)
	c.cmd.native.WriteTimestamp(c.dev.timers.heap, tq.beginIndex)
}

// EndTimerQuery writes the end timestamp of q and resolves both into the
// readback buffer. The result is available once the list has executed.
func (c *CommandList) EndTimerQuery(q rhi.TimerQuery) {
	if !c.recording("EndTimerQuery") {
		return
	}
	tq := c.dev.asTimerQuery(q)
	if tq == nil {
		return
	}
	c.cmd.reference(tq)
	c.cmd.native.WriteTimestamp(c.dev.timers.heap, tq.endIndex)
	c.cmd.native.ResolveQueries(c.dev.timers.heap, tq.beginIndex, 2, c.dev.timers.readback, uint64(tq.beginIndex)*8)

	tq.mu.Lock()
	tq.started, tq.resolved = true, false
	tq.mu.Unlock()
	c.cmd.timers = append(c.cmd.timers, tq)
}

func (d *Device) CreateEventQuery() (rhi.EventQuery, error) {
	q := &eventQuery{}
	q.init(nil)
	return q, nil
}

func (d *Device) asEventQuery(q rhi.EventQuery) *eventQuery {
	eq, ok := q.(*eventQuery)
	if !ok || eq == nil {
		d.msg.Errorf("Event query is nil or was not created by this device")
		return nil
	}
	return eq
}

// SetEventQuery makes q complete when everything submitted to queue so
// far has completed.
func (d *Device) SetEventQuery(q rhi.EventQuery, queue rhi.CommandQueue) {
	eq := d.asEventQuery(q)
	qu := d.queue(queue)
	if eq == nil || qu == nil {
		return
	}
	qu.mu.Lock()
	last := qu.lastSubmitted
	qu.mu.Unlock()
	eq.fence.set(qu.sem, last)
	eq.started.Store(true)
}

func (d *Device) PollEventQuery(q rhi.EventQuery) bool {
	eq := d.asEventQuery(q)
	if eq == nil || !eq.started.Load() {
		return false
	}
	return eq.fence.poll()
}

func (d *Device) WaitEventQuery(q rhi.EventQuery, timeout time.Duration) bool {
	eq := d.asEventQuery(q)
	if eq == nil || !eq.started.Load() {
		return false
	}
	ok, err := eq.fence.wait(timeout)
	if err != nil {
		d.msg.Errorf("Failed to wait for an event query: %v", err)
		return false
	}
	return ok
}

func (d *Device) ResetEventQuery(q rhi.EventQuery) {
	if eq := d.asEventQuery(q); eq != nil {
		eq.started.Store(false)
		eq.fence.reset()
	}
}
