package gpu_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/lumen/gpu"
)

type fakeObject struct {
	name      string
	destroyed atomic.Int32
}

func (o *fakeObject) Ready() bool { return o.destroyed.Load() == 0 }
func (o *fakeObject) Destroy()    { o.destroyed.Add(1) }

func TestResult(t *testing.T) {
	assert.False(t, gpu.Success.IsError())
	assert.False(t, gpu.Suboptimal.IsError())
	assert.False(t, gpu.Timeout.IsError())
	assert.True(t, gpu.ErrorOutOfDate.IsError())
	assert.True(t, gpu.ErrorDeviceLost.IsError())

	assert.NoError(t, gpu.Suboptimal.Err())
	err := gpu.ErrorDeviceLost.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrorDeviceLost))
	assert.Equal(t, "DEVICE LOST", err.Error())
	assert.Equal(t, "OUT OF DATE", gpu.ErrorOutOfDate.String())
	assert.Equal(t, "UNKNOWN RESULT", gpu.Result(12345).Error())
}

func TestFrameIndex(t *testing.T) {
	assert.Equal(t, 2, gpu.FramesInFlight)
	for frame := uint64(0); frame < 6; frame++ {
		assert.Equal(t, int(frame%2), gpu.FrameIndex(frame))
	}
}

func TestDrawIndexedIndirectCommand(t *testing.T) {
	cmd := gpu.DrawIndexedIndirectCommand{
		IndexCount:    36,
		InstanceCount: 1,
		FirstIndex:    120,
		VertexOffset:  -4,
		FirstInstance: 7,
	}
	raw := make([]byte, gpu.DrawIndexedIndirectCommandSize)
	cmd.Encode(raw)
	assert.Equal(t, []byte{36, 0, 0, 0}, raw[0:4])
	assert.Equal(t, []byte{0xfc, 0xff, 0xff, 0xff}, raw[12:16])

	back, err := gpu.DecodeDrawIndexedIndirect(raw)
	require.NoError(t, err)
	assert.Equal(t, cmd, back)

	_, err = gpu.DecodeDrawIndexedIndirect(raw[:10])
	assert.ErrorIs(t, err, gpu.ErrOutOfRange)

	packed := gpu.EncodeDrawIndexedIndirect([]gpu.DrawIndexedIndirectCommand{cmd, {IndexCount: 3, InstanceCount: 1}})
	require.Len(t, packed, 40)
	second, err := gpu.DecodeDrawIndexedIndirect(packed[20:])
	require.NoError(t, err)
	assert.Equal(t, uint32(3), second.IndexCount)
}

func TestDeletionQueueWaitsForFramesInFlight(t *testing.T) {
	q := gpu.NewDeletionQueue(nil)
	obj := &fakeObject{name: "target"}

	q.Advance(10)
	h := q.Track(obj)
	created, ok := q.CreatedAt(h)
	require.True(t, ok)
	assert.Equal(t, uint64(10), created)
	assert.Same(t, obj, q.Get(h))
	assert.Equal(t, 1, q.Live())

	require.True(t, q.Retire(h))
	assert.Nil(t, q.Get(h), "retired objects no longer resolve")
	assert.False(t, q.Retire(h), "double retire is refused")
	assert.Equal(t, 1, q.Pending())

	assert.Equal(t, 0, q.Advance(11))
	assert.Equal(t, int32(0), obj.destroyed.Load(), "frame 10 may still be in flight at frame 11")

	assert.Equal(t, 1, q.Advance(12))
	assert.Equal(t, int32(1), obj.destroyed.Load())
	assert.Equal(t, 0, q.Pending())

	assert.Equal(t, 0, q.Advance(20))
	assert.Equal(t, int32(1), obj.destroyed.Load(), "destroyed exactly once")
}

func TestDeletionQueueStaleHandles(t *testing.T) {
	q := gpu.NewDeletionQueue(nil)
	first := q.Track(&fakeObject{name: "first"})
	q.Retire(first)
	q.Advance(gpu.FramesInFlight)

	second := q.Track(&fakeObject{name: "second"})
	assert.NotEqual(t, first, second, "slot reuse bumps the generation")
	assert.Nil(t, q.Get(first))
	assert.False(t, q.Retire(first))
	assert.NotNil(t, q.Get(second))

	assert.Nil(t, q.Get(gpu.Handle(0)))
	assert.Nil(t, q.Get(gpu.Handle(1<<32|999)))
}

func TestDeletionQueueFlush(t *testing.T) {
	q := gpu.NewDeletionQueue(nil)
	live := &fakeObject{}
	retired := &fakeObject{}
	q.Track(live)
	q.RetireObject(retired)
	q.RetireObject(nil)

	assert.Equal(t, 2, q.Flush())
	assert.Equal(t, int32(1), live.destroyed.Load())
	assert.Equal(t, int32(1), retired.destroyed.Load())
	assert.Equal(t, 0, q.Live())
	assert.Equal(t, 0, q.Pending())
	assert.Equal(t, 0, q.Flush())
}

func TestDeletionQueueConcurrentUse(t *testing.T) {
	q := gpu.NewDeletionQueue(nil)
	var wg sync.WaitGroup
	objects := make([]*fakeObject, 200)
	for i := range objects {
		objects[i] = &fakeObject{}
	}

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(objects); i += 4 {
				q.Retire(q.Track(objects[i]))
			}
		}(w)
	}
	wg.Wait()

	q.Advance(gpu.FramesInFlight)
	for _, obj := range objects {
		assert.Equal(t, int32(1), obj.destroyed.Load())
	}
}
