// Package soft is an in-memory gpu.Device. Buffers are byte slices, the
// queue executes submissions on its own goroutine after a configurable
// latency, and every execution is recorded with fingerprints of the data it
// read. Writes to, or destruction of, objects still referenced by a pending
// submission are reported as hazards, which is what the renderer tests use
// to prove frame slots never overlap.
package soft

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/plus3/lumen/gpu"
)

// Kind names an object type for fault injection.
type Kind uint8

const (
	KindBuffer Kind = iota
	KindImage
	KindPipeline
	KindDescriptorSet
	KindFence
	KindSemaphore
	KindCommandBuffer
	KindSwapchain
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	case KindPipeline:
		return "pipeline"
	case KindDescriptorSet:
		return "descriptor set"
	case KindFence:
		return "fence"
	case KindSemaphore:
		return "semaphore"
	case KindCommandBuffer:
		return "command buffer"
	case KindSwapchain:
		return "swapchain"
	}
	return "unknown"
}

type Option func(*Device)

// WithLatency delays every submission by d before it executes.
func WithLatency(d time.Duration) Option {
	return func(dev *Device) { dev.latency.Store(int64(d)) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(dev *Device) {
		if logger != nil {
			dev.logger = logger
		}
	}
}

// Device implements gpu.Device in memory.
type Device struct {
	logger  *zap.Logger
	latency atomic.Int64
	queue   *Queue

	mu       sync.Mutex
	failures map[Kind]failure
	hazards  []string

	lost    atomic.Bool
	live    atomic.Int64
	created atomic.Int64
	closed  atomic.Bool
}

var _ gpu.Device = (*Device)(nil)

func NewDevice(opts ...Option) *Device {
	dev := &Device{
		logger:   zap.NewNop(),
		failures: make(map[Kind]failure),
	}
	for _, opt := range opts {
		opt(dev)
	}
	dev.queue = newQueue(dev)
	return dev
}

func (d *Device) Logger() *zap.Logger        { return d.logger }
func (d *Device) Queue() gpu.Queue           { return d.queue }
func (d *Device) SoftQueue() *Queue          { return d.queue }
func (d *Device) SetLatency(l time.Duration) { d.latency.Store(int64(l)) }
func (d *Device) Latency() time.Duration     { return time.Duration(d.latency.Load()) }
func (d *Device) LiveObjects() int           { return int(d.live.Load()) }
func (d *Device) CreatedObjects() int        { return int(d.created.Load()) }
func (d *Device) Lost() bool                 { return d.lost.Load() }

type failure struct {
	err  error
	skip int
}

// FailCreate makes the next creation of kind fail with err, or with
// gpu.ErrorInitializationFailed when err is nil.
func (d *Device) FailCreate(kind Kind, err error) {
	d.FailCreateAfter(kind, 0, err)
}

// FailCreateAfter lets n more creations of kind succeed, then fails the
// next one like FailCreate.
func (d *Device) FailCreateAfter(kind Kind, n int, err error) {
	if err == nil {
		err = gpu.ErrorInitializationFailed
	}
	d.mu.Lock()
	d.failures[kind] = failure{err: err, skip: n}
	d.mu.Unlock()
}

// LoseDevice makes every later submission, fence wait and acquire report
// gpu.ErrorDeviceLost.
func (d *Device) LoseDevice() {
	d.lost.Store(true)
	d.logger.Warn("soft device lost")
}

// Hazards lists every unsafe access observed so far.
func (d *Device) Hazards() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.hazards...)
}

func (d *Device) hazard(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.mu.Lock()
	d.hazards = append(d.hazards, msg)
	d.mu.Unlock()
	d.logger.Warn("gpu hazard", zap.String("hazard", msg))
}

func (d *Device) create(kind Kind, label string) (object, error) {
	d.mu.Lock()
	f, fail := d.failures[kind]
	if fail && f.skip > 0 {
		f.skip--
		d.failures[kind] = f
		fail = false
	} else {
		delete(d.failures, kind)
	}
	d.mu.Unlock()
	if fail {
		return object{}, fmt.Errorf("soft: create %s %q: %w", kind, label, f.err)
	}
	if d.lost.Load() {
		return object{}, fmt.Errorf("soft: create %s %q: %w", kind, label, gpu.ErrorDeviceLost)
	}
	d.live.Add(1)
	id := d.created.Add(1)
	if label == "" {
		label = fmt.Sprintf("%s#%d", kind, id)
	}
	return object{dev: d, kind: kind, label: label}, nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	obj, err := d.create(KindBuffer, desc.Label)
	if err != nil {
		return nil, err
	}
	return &Buffer{object: obj, usage: desc.Usage, data: make([]byte, desc.Size)}, nil
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	obj, err := d.create(KindImage, desc.Label)
	if err != nil {
		return nil, err
	}
	return &Image{object: obj, width: desc.Width, height: desc.Height, format: desc.Format, usage: desc.Usage}, nil
}

func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	obj, err := d.create(KindPipeline, desc.Label)
	if err != nil {
		return nil, err
	}
	return &Pipeline{object: obj, desc: desc}, nil
}

func (d *Device) CreateDescriptorSet(label string) (gpu.DescriptorSet, error) {
	obj, err := d.create(KindDescriptorSet, label)
	if err != nil {
		return nil, err
	}
	return &DescriptorSet{object: obj, buffers: make(map[uint32]gpu.Buffer), images: make(map[uint32]gpu.Image)}, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	obj, err := d.create(KindFence, "")
	if err != nil {
		return nil, err
	}
	f := &Fence{object: obj, ch: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	obj, err := d.create(KindSemaphore, "")
	if err != nil {
		return nil, err
	}
	return &Semaphore{object: obj}, nil
}

func (d *Device) CreateCommandBuffer() (gpu.CommandBuffer, error) {
	obj, err := d.create(KindCommandBuffer, "")
	if err != nil {
		return nil, err
	}
	return &CommandBuffer{object: obj}, nil
}

func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	obj, err := d.create(KindSwapchain, desc.Label)
	if err != nil {
		return nil, err
	}
	count := desc.ImageCount
	if count <= 0 {
		count = 3
	}
	sc := &Swapchain{object: obj, format: desc.Format, count: count}
	if err := sc.build(desc.Width, desc.Height); err != nil {
		return nil, err
	}
	return sc, nil
}

// WaitIdle blocks until every submission executed.
func (d *Device) WaitIdle() error {
	d.queue.waitIdle()
	if d.lost.Load() {
		return gpu.ErrorDeviceLost
	}
	return nil
}

// Close waits for the queue and stops its goroutine.
func (d *Device) Close() {
	if d.closed.Swap(true) {
		return
	}
	d.queue.waitIdle()
	d.queue.stop()
}
