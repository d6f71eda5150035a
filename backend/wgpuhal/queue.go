// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpuhal

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/native"
)

// pollInterval is how often Wait rechecks a value nothing has been
// scheduled to signal yet.
const pollInterval = time.Millisecond

// Queue submits to the single HAL queue of the device.
type Queue struct {
	be  *Backend
	raw hal.Queue

	mu            sync.Mutex
	lastSubmitted uint64
}

// Native returns the HAL queue.
func (q *Queue) Native() any { return q.raw }

// Submit hands the recorded command buffers to the HAL queue. Waits need no
// work: there is one queue and it executes in submission order. Signals
// complete when the HAL reports the submission index done.
func (q *Queue) Submit(cmds []native.CommandBuffer, waits, signals []native.SemaphoreValue) error {
	raw := make([]hal.CommandBuffer, 0, len(cmds))
	for i, c := range cmds {
		cb, ok := c.(*CommandBuffer)
		if !ok || cb.done == nil {
			return fmt.Errorf("wgpu: command buffer %d was not recorded by this backend", i)
		}
		raw = append(raw, cb.done)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	index, err := q.raw.Submit(raw)
	if err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	q.lastSubmitted = max(q.lastSubmitted, index)
	for _, s := range signals {
		if sem, ok := s.Semaphore.(*Semaphore); ok {
			sem.schedule(s.Value, index)
		}
	}
	return nil
}

func (q *Queue) submitted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSubmitted
}

type pendingSignal struct {
	value      uint64
	submission uint64
}

// Semaphore is a timeline over HAL submission indices: each signalled value
// completes when the submission that carried it does.
type Semaphore struct {
	be *Backend

	mu        sync.Mutex
	completed uint64
	pending   []pendingSignal
}

func (s *Semaphore) schedule(value, submission uint64) {
	s.mu.Lock()
	s.pending = append(s.pending, pendingSignal{value: value, submission: submission})
	s.mu.Unlock()
}

// retire completes every signal carried by a submission up to index.
func (s *Semaphore) retire(index uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := s.pending[:0]
	for _, p := range s.pending {
		if p.submission <= index {
			s.completed = max(s.completed, p.value)
		} else {
			keep = append(keep, p)
		}
	}
	s.pending = keep
	return s.completed
}

// scheduled reports whether a submission in flight signals value.
func (s *Semaphore) scheduled(value uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.value >= value {
			return true
		}
	}
	return false
}

func (s *Semaphore) CompletedValue() uint64 {
	return s.retire(s.be.queue.raw.PollCompleted())
}

// Wait blocks until value completes. A value already submitted is waited
// for by idling the device; one not yet submitted is polled for until the
// timeout.
func (s *Semaphore) Wait(value uint64, timeout time.Duration) (bool, error) {
	forever := timeout >= native.WaitForever
	var deadline time.Time
	if !forever {
		deadline = time.Now().Add(timeout)
	}
	for {
		if s.CompletedValue() >= value {
			return true, nil
		}
		if s.scheduled(value) {
			if err := s.be.device.WaitIdle(); err != nil {
				return false, fmt.Errorf("wgpu: wait idle: %w", err)
			}
			return s.retire(s.be.queue.submitted()) >= value, nil
		}
		switch {
		case forever:
			time.Sleep(pollInterval)
		case timeout <= 0 || time.Now().After(deadline):
			return false, nil
		default:
			time.Sleep(min(pollInterval, time.Until(deadline)))
		}
	}
}

func (s *Semaphore) Destroy() {}
