package soft

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plus3/lumen/gpu"
)

type object struct {
	dev       *Device
	kind      Kind
	label     string
	destroyed atomic.Bool
	inFlight  atomic.Int32
}

func (o *object) Ready() bool   { return !o.destroyed.Load() }
func (o *object) Label() string { return o.label }

// InFlight is the number of pending submissions referencing the object.
func (o *object) InFlight() int { return int(o.inFlight.Load()) }

func (o *object) destroy() {
	if o.destroyed.Swap(true) {
		panic(fmt.Sprintf("soft: %s %q destroyed twice", o.kind, o.label))
	}
	if o.inFlight.Load() > 0 {
		o.dev.hazard("%s %q destroyed while in flight", o.kind, o.label)
	}
	o.dev.live.Add(-1)
}

func (o *object) base() *object { return o }

type tracked interface {
	base() *object
}

type Buffer struct {
	object
	usage  gpu.BufferUsage
	mu     sync.RWMutex
	data   []byte
	writes atomic.Int64
}

func (b *Buffer) Destroy()               { b.destroy() }
func (b *Buffer) Size() int              { return len(b.data) }
func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }
func (b *Buffer) Writes() int            { return int(b.writes.Load()) }

func (b *Buffer) Write(offset int, data []byte) error {
	if !b.Ready() {
		return fmt.Errorf("write %q: %w", b.label, gpu.ErrNotReady)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("write %q [%d:%d] of %d: %w", b.label, offset, offset+len(data), len(b.data), gpu.ErrOutOfRange)
	}
	if b.inFlight.Load() > 0 {
		b.dev.hazard("buffer %q written while in flight", b.label)
	}
	b.mu.Lock()
	copy(b.data[offset:], data)
	b.mu.Unlock()
	b.writes.Add(1)
	return nil
}

func (b *Buffer) Read(offset int, dst []byte) error {
	if !b.Ready() {
		return fmt.Errorf("read %q: %w", b.label, gpu.ErrNotReady)
	}
	if offset < 0 || offset+len(dst) > len(b.data) {
		return fmt.Errorf("read %q [%d:%d] of %d: %w", b.label, offset, offset+len(dst), len(b.data), gpu.ErrOutOfRange)
	}
	b.mu.RLock()
	copy(dst, b.data[offset:])
	b.mu.RUnlock()
	return nil
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.data...)
}

// Fingerprint hashes the buffer contents.
func (b *Buffer) Fingerprint() uint64 {
	h := fnv.New64a()
	b.mu.RLock()
	h.Write(b.data)
	b.mu.RUnlock()
	return h.Sum64()
}

type Image struct {
	object
	width    uint32
	height   uint32
	format   gpu.Format
	usage    gpu.ImageUsage
	contents atomic.Uint64
}

func (i *Image) Destroy()           { i.destroy() }
func (i *Image) Width() uint32      { return i.width }
func (i *Image) Height() uint32     { return i.height }
func (i *Image) Format() gpu.Format { return i.format }

// Contents is a hash of everything last rendered or blitted into the image.
func (i *Image) Contents() uint64 { return i.contents.Load() }

type Pipeline struct {
	object
	desc gpu.PipelineDesc
}

func (p *Pipeline) Destroy()               { p.destroy() }
func (p *Pipeline) Desc() gpu.PipelineDesc { return p.desc }

type DescriptorSet struct {
	object
	mu      sync.Mutex
	buffers map[uint32]gpu.Buffer
	images  map[uint32]gpu.Image
}

func (s *DescriptorSet) Destroy() { s.destroy() }

func (s *DescriptorSet) BindBuffer(binding uint32, buf gpu.Buffer) {
	s.mu.Lock()
	s.buffers[binding] = buf
	s.mu.Unlock()
}

func (s *DescriptorSet) BindImage(binding uint32, img gpu.Image) {
	s.mu.Lock()
	s.images[binding] = img
	s.mu.Unlock()
}

// Buffers returns the bound buffers ordered by binding.
func (s *DescriptorSet) Buffers() []gpu.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	bindings := make([]uint32, 0, len(s.buffers))
	for b := range s.buffers {
		bindings = append(bindings, b)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i] < bindings[j] })
	out := make([]gpu.Buffer, len(bindings))
	for i, b := range bindings {
		out[i] = s.buffers[b]
	}
	return out
}

func (s *DescriptorSet) Images() []gpu.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gpu.Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	return out
}

type Semaphore struct {
	object
	signaled atomic.Bool
}

func (s *Semaphore) Destroy()       { s.destroy() }
func (s *Semaphore) Signaled() bool { return s.signaled.Load() }
func (s *Semaphore) signal()        { s.signaled.Store(true) }
func (s *Semaphore) consume() bool  { return s.signaled.Swap(false) }

type Fence struct {
	object
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func (f *Fence) Destroy() { f.destroy() }

func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *Fence) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
}

func (f *Fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}

func (f *Fence) Wait(timeout time.Duration) gpu.Result {
	if f.dev.Lost() {
		return gpu.ErrorDeviceLost
	}
	f.mu.Lock()
	ch, signaled := f.ch, f.signaled
	f.mu.Unlock()
	if signaled {
		return gpu.Success
	}
	if timeout <= 0 {
		return gpu.Timeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return gpu.Success
	case <-timer.C:
		return gpu.Timeout
	}
}
