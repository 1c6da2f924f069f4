package gpu

import (
	"sync"

	"go.uber.org/zap"
)

// Handle refers to an object tracked by a DeletionQueue. It packs the arena
// index (low 32 bits) and the slot generation (high 32 bits).
type Handle uint64

func newHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) index() uint32      { return uint32(h) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }
func (h Handle) IsZero() bool       { return h == 0 }

type deletionState uint8

const (
	slotFree deletionState = iota
	slotLive
	slotRetired
)

type deletionSlot struct {
	obj        Object
	generation uint32
	created    uint64
	retired    uint64
	state      deletionState
}

// DeletionQueue owns GPU objects and destroys retired ones only once no
// frame in flight can still reference them. Every object is stamped with
// the frame it was created in and, once retired, the frame it was retired
// in; Advance reclaims entries retired at least FramesInFlight frames ago.
// Slots are reused with a bumped generation so stale handles never resolve.
type DeletionQueue struct {
	mu     sync.Mutex
	slots  []deletionSlot
	free   []uint32
	frame  uint64
	live   int
	queued int
	logger *zap.Logger
}

func NewDeletionQueue(logger *zap.Logger) *DeletionQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeletionQueue{logger: logger}
}

// Track takes ownership of obj and returns its handle.
func (q *DeletionQueue) Track(obj Object) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	var idx uint32
	if n := len(q.free); n > 0 {
		idx = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		idx = uint32(len(q.slots))
		q.slots = append(q.slots, deletionSlot{generation: 1})
	}
	s := &q.slots[idx]
	s.obj = obj
	s.created = q.frame
	s.retired = 0
	s.state = slotLive
	q.live++
	return newHandle(idx, s.generation)
}

func (q *DeletionQueue) slot(h Handle) *deletionSlot {
	idx := h.index()
	if h == 0 || int(idx) >= len(q.slots) {
		return nil
	}
	s := &q.slots[idx]
	if s.generation != h.generation() || s.state == slotFree {
		return nil
	}
	return s
}

// Get returns the live object behind h, or nil once it was retired or the
// handle is stale.
func (q *DeletionQueue) Get(h Handle) Object {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s := q.slot(h); s != nil && s.state == slotLive {
		return s.obj
	}
	return nil
}

// CreatedAt returns the frame h was tracked in.
func (q *DeletionQueue) CreatedAt(h Handle) (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s := q.slot(h); s != nil {
		return s.created, true
	}
	return 0, false
}

// Retire schedules the object behind h for destruction. It returns false
// for stale or already retired handles.
func (q *DeletionQueue) Retire(h Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.slot(h)
	if s == nil || s.state != slotLive {
		return false
	}
	s.state = slotRetired
	s.retired = q.frame
	q.live--
	q.queued++
	return true
}

// RetireObject tracks and retires obj in one step, for objects that were
// never handed to Track.
func (q *DeletionQueue) RetireObject(obj Object) {
	if obj == nil {
		return
	}
	q.Retire(q.Track(obj))
}

// Advance moves the queue to frame and destroys every object retired at or
// before frame-FramesInFlight. It returns the number of destroyed objects.
func (q *DeletionQueue) Advance(frame uint64) int {
	q.mu.Lock()
	if frame > q.frame {
		q.frame = frame
	}
	var doomed []Object
	for i := range q.slots {
		s := &q.slots[i]
		if s.state != slotRetired || s.retired+FramesInFlight > q.frame {
			continue
		}
		doomed = append(doomed, s.obj)
		q.release(uint32(i))
	}
	q.mu.Unlock()

	for _, obj := range doomed {
		obj.Destroy()
	}
	if len(doomed) > 0 {
		q.logger.Debug("deletion queue sweep", zap.Uint64("frame", frame), zap.Int("destroyed", len(doomed)))
	}
	return len(doomed)
}

func (q *DeletionQueue) release(idx uint32) {
	s := &q.slots[idx]
	if s.state == slotLive {
		q.live--
	} else if s.state == slotRetired {
		q.queued--
	}
	s.obj = nil
	s.state = slotFree
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	q.free = append(q.free, idx)
}

// Flush destroys every tracked object, live or retired. The caller must have
// waited for the device to go idle.
func (q *DeletionQueue) Flush() int {
	q.mu.Lock()
	var doomed []Object
	for i := range q.slots {
		if q.slots[i].state == slotFree {
			continue
		}
		doomed = append(doomed, q.slots[i].obj)
		q.release(uint32(i))
	}
	q.mu.Unlock()

	for _, obj := range doomed {
		obj.Destroy()
	}
	return len(doomed)
}

func (q *DeletionQueue) Frame() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frame
}

// Live is the number of tracked objects that are not retired.
func (q *DeletionQueue) Live() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.live
}

// Pending is the number of retired objects waiting to be destroyed.
func (q *DeletionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}
