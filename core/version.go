package core

import "github.com/gogpu/rhi"

// version tags a suballocator chunk with the command-list instance that
// last wrote into it: bits 0..59 hold the instance id, bits 60..62 the
// queue and bit 63 is set once the instance has been submitted.
//
// Versions are compared only through their accessors or for equality.
type version uint64

const (
	versionSubmittedFlag = uint64(1) << 63
	versionQueueShift    = 60
	versionQueueMask     = uint64(0x7)
	versionIDMask        = uint64(1)<<versionQueueShift - 1
)

// versionFree marks a chunk that no command list owns.
const versionFree version = 0

func makeVersion(instance uint64, queue rhi.CommandQueue, submitted bool) version {
	v := instance & versionIDMask
	v |= (uint64(queue) & versionQueueMask) << versionQueueShift
	if submitted {
		v |= versionSubmittedFlag
	}
	return version(v)
}

func (v version) instance() uint64 {
	return uint64(v) & versionIDMask
}

func (v version) queue() rhi.CommandQueue {
	return rhi.CommandQueue((uint64(v) >> versionQueueShift) & versionQueueMask)
}

func (v version) submitted() bool {
	return uint64(v)&versionSubmittedFlag != 0
}

// completedBy reports whether v was submitted and its instance is no
// newer than the last completed instance of its queue.
func (v version) completedBy(lastCompleted uint64) bool {
	return v.submitted() && v.instance() <= lastCompleted
}
