package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/plus3/lumen/gpu"
)

// Swapchain rotates through its images. Acquire and present results can be
// scripted to exercise the out-of-date and suboptimal paths.
type Swapchain struct {
	object
	format gpu.Format
	count  int

	mu        sync.Mutex
	width     uint32
	height    uint32
	images    []*Image
	held      []bool
	next      uint32
	acquire   []gpu.Result
	presents  []gpu.Result
	recreates int
	acquired  int
	presented int
}

var _ gpu.Swapchain = (*Swapchain)(nil)

func (s *Swapchain) build(width, height uint32) error {
	images := make([]*Image, s.count)
	for i := range images {
		obj, err := s.dev.create(KindImage, fmt.Sprintf("%s/image%d", s.label, i))
		if err != nil {
			for _, img := range images[:i] {
				img.destroy()
			}
			return err
		}
		images[i] = &Image{object: obj, width: width, height: height, format: s.format, usage: gpu.ImagePresent | gpu.ImageColorTarget}
	}
	for _, img := range s.images {
		img.destroy()
	}
	s.images = images
	s.held = make([]bool, s.count)
	s.width, s.height = width, height
	s.next = 0
	return nil
}

func (s *Swapchain) Destroy() {
	s.mu.Lock()
	for _, img := range s.images {
		img.destroy()
	}
	s.images = nil
	s.mu.Unlock()
	s.destroy()
}

// ScriptAcquire queues results for the next AcquireNextImage calls.
func (s *Swapchain) ScriptAcquire(results ...gpu.Result) {
	s.mu.Lock()
	s.acquire = append(s.acquire, results...)
	s.mu.Unlock()
}

// ScriptPresent queues results for the next presents of this swapchain.
func (s *Swapchain) ScriptPresent(results ...gpu.Result) {
	s.mu.Lock()
	s.presents = append(s.presents, results...)
	s.mu.Unlock()
}

func (s *Swapchain) Recreates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recreates
}

func (s *Swapchain) Presented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

func (s *Swapchain) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, sem gpu.Semaphore, fence gpu.Fence) (uint32, gpu.Result) {
	if s.dev.Lost() {
		return 0, gpu.ErrorDeviceLost
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := gpu.Success
	if len(s.acquire) > 0 {
		result = s.acquire[0]
		s.acquire = s.acquire[1:]
	}
	if result != gpu.Success && result != gpu.Suboptimal {
		return 0, result
	}

	idx := s.next
	if s.held[idx] {
		// every image is still queued for presentation
		return 0, gpu.NotReady
	}
	s.held[idx] = true
	s.next = (s.next + 1) % uint32(len(s.images))
	s.acquired++

	if sem != nil {
		if ss, ok := sem.(*Semaphore); ok {
			ss.signal()
		}
	}
	if fence != nil {
		if f, ok := fence.(*Fence); ok {
			f.signal()
		}
	}
	return idx, result
}

func (s *Swapchain) present(index uint32) gpu.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(index) >= len(s.images) || !s.held[index] {
		s.dev.hazard("swapchain %q presented image %d it does not hold", s.label, index)
	}
	s.presented++
	if len(s.presents) > 0 {
		r := s.presents[0]
		s.presents = s.presents[1:]
		return r
	}
	return gpu.Success
}

func (s *Swapchain) release(index uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(index) < len(s.held) {
		s.held[index] = false
	}
}

// Recreate rebuilds the images at the new size.
func (s *Swapchain) Recreate(width, height uint32) error {
	if s.dev.Lost() {
		return gpu.ErrorDeviceLost
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.build(width, height); err != nil {
		return fmt.Errorf("recreate swapchain %q: %w", s.label, err)
	}
	s.recreates++
	return nil
}

func (s *Swapchain) Extent() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Swapchain) ImageCount() int { return s.count }

func (s *Swapchain) Image(index uint32) gpu.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(index) >= len(s.images) {
		return nil
	}
	return s.images[index]
}
