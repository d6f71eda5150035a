package core

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/sim"
	"github.com/gogpu/rhi/native"
)

type message struct {
	severity rhi.Severity
	text     string
}

// recorder collects device messages.
type recorder struct {
	mu   sync.Mutex
	msgs []message
}

func (r *recorder) Message(severity rhi.Severity, text string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, message{severity, text})
	r.mu.Unlock()
}

func (r *recorder) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.severity >= rhi.SeverityError {
			out = append(out, m.text)
		}
	}
	return out
}

func (r *recorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if strings.Contains(m.text, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

// newTestDevice opens a device on a fresh simulated back-end. The device is
// released when the test ends.
func newTestDevice(t *testing.T, opts ...sim.Option) (*Device, *sim.Backend, *recorder) {
	t.Helper()
	rec := &recorder{}
	be := sim.New(opts...)
	desc := rhi.DefaultDeviceDesc()
	desc.MessageCallback = rec
	desc.EnableAccelStructCompaction = true
	dev, err := NewDevice(desc, be)
	require.NoError(t, err)
	t.Cleanup(func() {
		be.Complete()
		dev.Release()
	})
	return dev, be, rec
}

func newCommandListT(t *testing.T, dev *Device, queue rhi.CommandQueue) *CommandList {
	t.Helper()
	cl, err := dev.CreateCommandList(rhi.CommandListParameters{QueueType: queue})
	require.NoError(t, err)
	t.Cleanup(func() { cl.Release() })
	return cl.(*CommandList)
}

func execute(t *testing.T, dev *Device, queue rhi.CommandQueue, lists ...rhi.CommandList) uint64 {
	t.Helper()
	id, err := dev.ExecuteCommandLists(lists, queue)
	require.NoError(t, err)
	return id
}

func texture2D(name string, w, h, mips, slices uint32, format rhi.Format) rhi.TextureDesc {
	dim := rhi.TextureDimension2D
	if slices > 1 {
		dim = rhi.TextureDimension2DArray
	}
	return rhi.TextureDesc{
		Width:     w,
		Height:    h,
		MipLevels: mips,
		ArraySize: slices,
		Format:    format,
		Dimension: dim,
		DebugName: name,
	}
}

// barrierCommands returns every barrier recorded in the newest submission.
func barrierCommands(be *sim.Backend) ([]native.TextureBarrier, []native.BufferBarrier) {
	var tb []native.TextureBarrier
	var bb []native.BufferBarrier
	for _, c := range be.LastSubmission() {
		if c.Op == sim.OpBarriers {
			tb = append(tb, c.TextureBarriers...)
			bb = append(bb, c.BufferBarriers...)
		}
	}
	return tb, bb
}
