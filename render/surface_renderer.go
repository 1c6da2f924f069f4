package render

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/plus3/lumen/gpu"
)

// SurfaceRenderer presents the world renderers attached to it on one
// swapchain. It owns the per-slot image-available and render-finished
// semaphores and the composite command buffers that copy each world's
// target into the acquired image.
type SurfaceRenderer struct {
	dev       gpu.Device
	swapchain gpu.Swapchain
	deletion  *gpu.DeletionQueue
	logger    *zap.Logger
	opts      options

	imageAvailable [gpu.FramesInFlight]gpu.Semaphore
	renderFinished [gpu.FramesInFlight]gpu.Semaphore
	composite      [gpu.FramesInFlight]gpu.CommandBuffer
	handles        []gpu.Handle

	mu         sync.Mutex
	worlds     []*WorldRenderer
	imageIndex uint32
	acquired   bool
	recreate   bool
	newWidth   uint32
	newHeight  uint32
	recreates  int
}

func NewSurfaceRenderer(dev gpu.Device, swapchain gpu.Swapchain, deletion *gpu.DeletionQueue, opts ...Option) (*SurfaceRenderer, error) {
	o := buildOptions(opts)
	if o.label == "" {
		o.label = "surface"
	}
	s := &SurfaceRenderer{
		dev:       dev,
		swapchain: swapchain,
		deletion:  deletion,
		logger:    o.logger.With(zap.String("surface", o.label)),
		opts:      o,
	}
	for i := range gpu.FramesInFlight {
		var err error
		if s.imageAvailable[i], err = dev.CreateSemaphore(); err != nil {
			s.Destroy()
			return nil, fmt.Errorf("%s: create semaphore: %w", o.label, err)
		}
		s.handles = append(s.handles, deletion.Track(s.imageAvailable[i]))
		if s.renderFinished[i], err = dev.CreateSemaphore(); err != nil {
			s.Destroy()
			return nil, fmt.Errorf("%s: create semaphore: %w", o.label, err)
		}
		s.handles = append(s.handles, deletion.Track(s.renderFinished[i]))
		if s.composite[i], err = dev.CreateCommandBuffer(); err != nil {
			s.Destroy()
			return nil, fmt.Errorf("%s: create command buffer: %w", o.label, err)
		}
		s.handles = append(s.handles, deletion.Track(s.composite[i]))
	}
	s.handles = append(s.handles, deletion.Track(swapchain))
	return s, nil
}

func (s *SurfaceRenderer) Swapchain() gpu.Swapchain { return s.swapchain }
func (s *SurfaceRenderer) Label() string            { return s.opts.label }

// AddWorldRenderer composites w into this surface from the next frame on.
func (s *SurfaceRenderer) AddWorldRenderer(w *WorldRenderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.worlds, w) {
		s.worlds = append(s.worlds, w)
	}
}

func (s *SurfaceRenderer) RemoveWorldRenderer(w *WorldRenderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds = slices.DeleteFunc(s.worlds, func(x *WorldRenderer) bool { return x == w })
}

func (s *SurfaceRenderer) WorldRenderers() []*WorldRenderer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.worlds)
}

// OnWindowResized schedules a swapchain recreate at the next acquire and
// resizes the attached world renderers.
func (s *SurfaceRenderer) OnWindowResized(width, height uint32) {
	s.mu.Lock()
	s.recreate = true
	s.newWidth, s.newHeight = width, height
	worlds := slices.Clone(s.worlds)
	s.mu.Unlock()
	for _, w := range worlds {
		w.SetRenderResolution(width, height)
	}
}

func (s *SurfaceRenderer) requestRecreate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recreate {
		s.newWidth, s.newHeight = s.swapchain.Extent()
	}
	s.recreate = true
}

// RecreatePending reports whether the swapchain will be rebuilt at the next
// acquire.
func (s *SurfaceRenderer) RecreatePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recreate
}

func (s *SurfaceRenderer) Recreates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recreates
}

// AcquireImage acquires the swapchain image for frameIndex. It reports
// false when this surface must skip the frame: the swapchain was just
// recreated, is out of date, or no image became available in time.
func (s *SurfaceRenderer) AcquireImage(frameIndex int) (bool, error) {
	s.mu.Lock()
	s.acquired = false
	recreate, width, height := s.recreate, s.newWidth, s.newHeight
	s.mu.Unlock()

	if recreate {
		return false, s.recreateSwapchain(width, height)
	}

	idx, r := s.swapchain.AcquireNextImage(s.opts.acquireTimeout, s.imageAvailable[frameIndex], nil)
	switch r {
	case gpu.Success, gpu.Suboptimal:
		s.mu.Lock()
		s.imageIndex, s.acquired = idx, true
		s.mu.Unlock()
		return true, nil
	case gpu.ErrorOutOfDate:
		s.logger.Info("swapchain out of date on acquire")
		s.requestRecreate()
		return false, nil
	case gpu.Timeout, gpu.NotReady:
		s.logger.Debug("no swapchain image available", zap.Stringer("result", r))
		return false, nil
	}
	return false, resultErr(s.opts.label+": acquire image", r)
}

// recreateSwapchain waits for the device to go idle and rebuilds the
// swapchain. A zero size (minimized window) keeps the recreate pending.
func (s *SurfaceRenderer) recreateSwapchain(width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	if err := s.dev.WaitIdle(); err != nil {
		return fmt.Errorf("%s: wait idle before recreate: %w", s.opts.label, err)
	}
	if err := s.swapchain.Recreate(width, height); err != nil {
		if errors.Is(err, gpu.ErrorDeviceLost) {
			return fmt.Errorf("%s: recreate swapchain: %w: %w", s.opts.label, ErrDeviceLost, err)
		}
		return fmt.Errorf("%s: recreate swapchain: %w", s.opts.label, err)
	}
	s.mu.Lock()
	s.recreate = false
	s.recreates++
	s.mu.Unlock()
	s.logger.Info("swapchain recreated", zap.Uint32("width", width), zap.Uint32("height", height))
	return nil
}

// ImageIndex returns the acquired image and whether one is held.
func (s *SurfaceRenderer) ImageIndex() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageIndex, s.acquired
}

// Composite records the pass that copies each attached world's target into
// the acquired image. The world renderers must have been recorded for
// frameIndex already.
func (s *SurfaceRenderer) Composite(frameIndex int) (gpu.CommandBuffer, error) {
	s.mu.Lock()
	worlds := slices.Clone(s.worlds)
	idx, acquired := s.imageIndex, s.acquired
	s.mu.Unlock()
	if !acquired {
		return nil, fmt.Errorf("%s: render without an acquired image", s.opts.label)
	}

	image := s.swapchain.Image(idx)
	cmd := s.composite[frameIndex]
	if err := cmd.Begin(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.opts.label, err)
	}
	cmd.SetViewport(image.Width(), image.Height())
	cmd.BeginRenderPass(image, nil, s.opts.clearColor)
	cmd.EndRenderPass()
	for _, w := range worlds {
		if target := w.Target(frameIndex); target != nil {
			cmd.BlitImage(target, image)
		}
	}
	if err := cmd.End(); err != nil {
		cmd.Reset()
		return nil, fmt.Errorf("%s: %w", s.opts.label, err)
	}
	return cmd, nil
}

func (s *SurfaceRenderer) waitSemaphore(frameIndex int) gpu.Semaphore   { return s.imageAvailable[frameIndex] }
func (s *SurfaceRenderer) signalSemaphore(frameIndex int) gpu.Semaphore { return s.renderFinished[frameIndex] }

// OnPostPresent handles the result of presenting this surface's image.
func (s *SurfaceRenderer) OnPostPresent(r gpu.Result) error {
	s.mu.Lock()
	s.acquired = false
	s.mu.Unlock()

	switch r {
	case gpu.Success:
		return nil
	case gpu.Suboptimal:
		if s.opts.allowSuboptimalPresent {
			return nil
		}
		s.logger.Info("swapchain suboptimal on present")
		s.requestRecreate()
		return nil
	case gpu.ErrorOutOfDate:
		s.logger.Info("swapchain out of date on present")
		s.requestRecreate()
		return nil
	}
	return resultErr(s.opts.label+": present", r)
}

// Destroy retires the surface's semaphores, command buffers and swapchain.
// Attached world renderers are not destroyed.
func (s *SurfaceRenderer) Destroy() {
	for _, h := range s.handles {
		s.deletion.Retire(h)
	}
	s.handles = nil
}
