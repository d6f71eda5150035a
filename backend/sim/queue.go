package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/native"
)

// Semaphore is a timeline counter. Waiters are woken through a channel
// that is closed and replaced on every signal.
type Semaphore struct {
	be      *Backend
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

func newSemaphore(be *Backend) *Semaphore {
	return &Semaphore{be: be, changed: make(chan struct{})}
}

func (s *Semaphore) CompletedValue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *Semaphore) signal(value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value <= s.value {
		return
	}
	s.value = value
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Semaphore) Wait(value uint64, timeout time.Duration) (bool, error) {
	var expired <-chan time.Time
	if timeout != native.WaitForever {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		s.mu.Lock()
		reached, changed := s.value >= value, s.changed
		s.mu.Unlock()
		if reached {
			return true, nil
		}
		if s.be.removed.Load() {
			return false, fmt.Errorf("sim: wait: %w", rhi.ErrDeviceRemoved)
		}
		select {
		case <-changed:
		case <-expired:
			return false, nil
		}
	}
}

func (s *Semaphore) Destroy() { s.be.live.Add(-1) }

// Submission is one Queue.Submit call.
type Submission struct {
	Queue    rhi.CommandQueue
	Commands []Command
	Waits    []native.SemaphoreValue
	Signals  []native.SemaphoreValue
}

// Queue executes command buffers synchronously on the submitting
// goroutine.
type Queue struct {
	be   *Backend
	kind rhi.CommandQueue
	mu   sync.Mutex
}

func (q *Queue) Native() any { return q }

func (q *Queue) Submit(cmds []native.CommandBuffer, waits, signals []native.SemaphoreValue) error {
	if q.be.removed.Load() {
		return fmt.Errorf("sim: submit to %s queue: %w", q.kind, rhi.ErrDeviceRemoved)
	}
	for _, w := range waits {
		// Cross-queue waits are resolved in submission order; under manual
		// completion the wait is recorded but not enforced.
		if q.be.opts.manual {
			continue
		}
		if ok, err := w.Semaphore.Wait(w.Value, time.Second); err != nil || !ok {
			return fmt.Errorf("sim: %s queue wait for value %d was not satisfied", q.kind, w.Value)
		}
	}

	q.mu.Lock()
	sub := Submission{
		Queue:   q.kind,
		Waits:   append([]native.SemaphoreValue(nil), waits...),
		Signals: append([]native.SemaphoreValue(nil), signals...),
	}
	for _, c := range cmds {
		cb := c.(*CommandBuffer)
		if cb.recording {
			q.mu.Unlock()
			return fmt.Errorf("sim: command buffer submitted while recording")
		}
		if cb.queue != q.kind {
			q.mu.Unlock()
			return fmt.Errorf("sim: %s command buffer submitted to %s queue", cb.queue, q.kind)
		}
		cb.execute()
		sub.Commands = append(sub.Commands, cb.commands...)
	}
	q.mu.Unlock()

	q.be.mu.Lock()
	q.be.submissions = append(q.be.submissions, sub)
	if q.be.opts.manual {
		q.be.pending = append(q.be.pending, signals...)
		signals = nil
	}
	q.be.mu.Unlock()

	for _, s := range signals {
		s.Semaphore.(*Semaphore).signal(s.Value)
	}
	return nil
}
