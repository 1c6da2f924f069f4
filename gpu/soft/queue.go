package soft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plus3/lumen/gpu"
)

// Execution describes one submission after the queue ran it.
type Execution struct {
	Seq            uint64
	CommandBuffers int
	Draws          int
	Instances      int
	// Corrupted lists buffers whose contents changed between Submit and
	// execution.
	Corrupted    []string
	MissingWaits int
	Submitted    time.Time
	Executed     time.Time
}

type job struct {
	seq       uint64
	cmds      []*CommandBuffer
	waits     []*Semaphore
	signals   []*Semaphore
	fence     *Fence
	refs      []tracked
	prints    map[*Buffer]uint64
	present   []presentRelease
	submitted time.Time
}

type presentRelease struct {
	swapchain *Swapchain
	index     uint32
}

// Queue runs submissions in order on a worker goroutine.
type Queue struct {
	dev     *Device
	jobs    chan *job
	pending sync.WaitGroup
	quit    chan struct{}
	stopped sync.WaitGroup

	mu         sync.Mutex
	seq        uint64
	executions []Execution
}

var _ gpu.Queue = (*Queue)(nil)

func newQueue(dev *Device) *Queue {
	q := &Queue{
		dev:  dev,
		jobs: make(chan *job, 64),
		quit: make(chan struct{}),
	}
	q.stopped.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.stopped.Done()
	for {
		select {
		case j := <-q.jobs:
			if l := q.dev.Latency(); l > 0 && len(j.cmds) > 0 {
				time.Sleep(l)
			}
			q.execute(j)
			q.pending.Done()
		case <-q.quit:
			return
		}
	}
}

func (q *Queue) stop() {
	close(q.quit)
	q.stopped.Wait()
}

func (q *Queue) waitIdle() { q.pending.Wait() }

func (q *Queue) nextSeq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

func (q *Queue) enqueue(j *job) {
	q.pending.Add(1)
	q.jobs <- j
}

// Submit validates the command buffers, marks everything they reference as
// in flight and queues them.
func (q *Queue) Submit(submits []gpu.SubmitInfo, fence gpu.Fence) error {
	if q.dev.Lost() {
		return gpu.ErrorDeviceLost
	}
	var f *Fence
	if fence != nil {
		var ok bool
		if f, ok = fence.(*Fence); !ok {
			return fmt.Errorf("submit: foreign fence %T", fence)
		}
	}

	jobs := make([]*job, 0, len(submits))
	for _, s := range submits {
		j := &job{prints: make(map[*Buffer]uint64), submitted: time.Now()}
		for _, c := range s.CommandBuffers {
			cb, ok := c.(*CommandBuffer)
			if !ok {
				return fmt.Errorf("submit: foreign command buffer %T", c)
			}
			if !cb.Ready() {
				return fmt.Errorf("submit %q: %w", cb.label, gpu.ErrNotReady)
			}
			j.cmds = append(j.cmds, cb)
		}
		var err error
		if j.waits, err = semaphores(s.WaitSemaphores); err != nil {
			return err
		}
		if j.signals, err = semaphores(s.SignalSemaphores); err != nil {
			return err
		}
		jobs = append(jobs, j)
	}

	for _, j := range jobs {
		for _, cb := range j.cmds {
			if err := cb.submit(); err != nil {
				return err
			}
			for _, ref := range cb.references() {
				j.refs = append(j.refs, ref)
				if b, ok := ref.(*Buffer); ok {
					j.prints[b] = b.Fingerprint()
				}
			}
		}
		for _, ref := range j.refs {
			ref.base().inFlight.Add(1)
		}
		j.seq = q.nextSeq()
	}

	if len(jobs) == 0 {
		jobs = append(jobs, &job{seq: q.nextSeq(), submitted: time.Now()})
	}
	jobs[len(jobs)-1].fence = f
	for _, j := range jobs {
		q.enqueue(j)
	}
	return nil
}

func semaphores(in []gpu.Semaphore) ([]*Semaphore, error) {
	out := make([]*Semaphore, 0, len(in))
	for _, s := range in {
		sem, ok := s.(*Semaphore)
		if !ok {
			return nil, fmt.Errorf("submit: foreign semaphore %T", s)
		}
		out = append(out, sem)
	}
	return out, nil
}

func (q *Queue) execute(j *job) {
	exec := Execution{Seq: j.seq, CommandBuffers: len(j.cmds), Submitted: j.submitted}
	for _, s := range j.waits {
		if !s.consume() {
			exec.MissingWaits++
		}
	}

	for _, cb := range j.cmds {
		q.interpret(cb, &exec)
	}

	for b, want := range j.prints {
		if b.Fingerprint() != want {
			exec.Corrupted = append(exec.Corrupted, b.label)
		}
	}
	for _, ref := range j.refs {
		ref.base().inFlight.Add(-1)
	}
	for _, cb := range j.cmds {
		cb.complete()
	}
	for _, p := range j.present {
		p.swapchain.release(p.index)
	}
	for _, s := range j.signals {
		s.signal()
	}

	exec.Executed = time.Now()
	if len(j.cmds) > 0 {
		q.mu.Lock()
		q.executions = append(q.executions, exec)
		q.mu.Unlock()
		if len(exec.Corrupted) > 0 {
			q.dev.logger.Warn("submission read modified buffers", zap.Uint64("seq", exec.Seq), zap.Strings("buffers", exec.Corrupted))
		}
	}
	if j.fence != nil {
		j.fence.signal()
	}
}

// interpret runs one command buffer: indirect draws are decoded from their
// buffers and render targets receive a hash of the data the pass read.
func (q *Queue) interpret(cb *CommandBuffer, exec *Execution) {
	var target *Image
	h := fnv.New64a()
	var word [8]byte

	for _, cmd := range cb.Commands() {
		switch cmd.Op {
		case OpBeginRenderPass:
			target, _ = cmd.Target.(*Image)
			h.Reset()
		case OpBindDescriptorSet:
			if set, ok := cmd.Set.(*DescriptorSet); ok {
				for _, b := range set.Buffers() {
					if sb, ok := b.(*Buffer); ok {
						binary.LittleEndian.PutUint64(word[:], sb.Fingerprint())
						h.Write(word[:])
					}
				}
			}
		case OpDrawIndexedIndirect:
			draws, instances, err := readIndirect(cmd)
			if err != nil {
				q.dev.hazard("seq %d: %v", exec.Seq, err)
				continue
			}
			exec.Draws += draws
			exec.Instances += instances
			binary.LittleEndian.PutUint64(word[:], uint64(instances))
			h.Write(word[:])
		case OpDraw:
			exec.Draws++
			exec.Instances += int(cmd.Stride)
		case OpBlit:
			src, _ := cmd.Src.(*Image)
			dst, _ := cmd.Target.(*Image)
			if src != nil && dst != nil {
				dst.contents.Store(src.contents.Load() ^ uint64(exec.Seq)<<1)
			}
		case OpEndRenderPass:
			if target != nil {
				target.contents.Store(h.Sum64())
			}
			target = nil
		}
	}
}

var errIndirectRange = errors.New("indirect draw reads past the buffer")

func readIndirect(cmd Command) (draws, instances int, err error) {
	buf, ok := cmd.Buffer.(*Buffer)
	if !ok {
		return 0, 0, fmt.Errorf("indirect draw from foreign buffer %T", cmd.Buffer)
	}
	stride := int(cmd.Stride)
	if stride == 0 {
		stride = gpu.DrawIndexedIndirectCommandSize
	}
	raw := make([]byte, gpu.DrawIndexedIndirectCommandSize)
	for i := 0; i < int(cmd.Count); i++ {
		if err := buf.Read(cmd.Offset+i*stride, raw); err != nil {
			return draws, instances, fmt.Errorf("%w: %v", errIndirectRange, err)
		}
		c, err := gpu.DecodeDrawIndexedIndirect(raw)
		if err != nil {
			return draws, instances, err
		}
		draws++
		instances += int(c.InstanceCount)
	}
	return draws, instances, nil
}

// Present resolves the scripted result of each swapchain immediately and
// releases the images once earlier submissions have executed.
func (q *Queue) Present(info gpu.PresentInfo) []gpu.Result {
	results := make([]gpu.Result, len(info.Swapchains))
	if q.dev.Lost() {
		for i := range results {
			results[i] = gpu.ErrorDeviceLost
		}
		return results
	}

	waits, err := semaphores(info.WaitSemaphores)
	if err != nil {
		for i := range results {
			results[i] = gpu.ErrorInitializationFailed
		}
		return results
	}

	j := &job{seq: q.nextSeq(), waits: waits, submitted: time.Now()}
	for i, s := range info.Swapchains {
		sc, ok := s.(*Swapchain)
		if !ok || i >= len(info.ImageIndices) {
			results[i] = gpu.ErrorSurfaceLost
			continue
		}
		results[i] = sc.present(info.ImageIndices[i])
		j.present = append(j.present, presentRelease{swapchain: sc, index: info.ImageIndices[i]})
	}
	q.enqueue(j)
	return results
}

// Executions returns a copy of every execution record so far.
func (q *Queue) Executions() []Execution {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Execution(nil), q.executions...)
}

// Submissions is the number of executed submissions that carried commands.
func (q *Queue) Submissions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.executions)
}
