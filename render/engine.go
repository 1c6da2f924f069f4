package render

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/plus3/lumen/gpu"
)

// EngineStats counts frames since the engine was created.
type EngineStats struct {
	Frames    uint64
	Skipped   uint64
	Submitted uint64
	// Draw is the draw statistics of the last submitted frame.
	Draw DrawStats
}

// Engine drives frames in flight. Each frame slot has a fence; a slot's
// buffers and command buffers are only touched after its previous
// submission completed.
type Engine struct {
	dev      gpu.Device
	deletion *gpu.DeletionQueue
	logger   *zap.Logger
	opts     options

	fences  [gpu.FramesInFlight]gpu.Fence
	handles []gpu.Handle

	mu        sync.Mutex
	surfaces  []*SurfaceRenderer
	offscreen []*WorldRenderer
	frame     uint64
	stats     EngineStats
	shutdown  bool
}

func NewEngine(dev gpu.Device, deletion *gpu.DeletionQueue, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)
	e := &Engine{
		dev:      dev,
		deletion: deletion,
		logger:   o.logger,
		opts:     o,
	}
	for i := range e.fences {
		fence, err := dev.CreateFence(true)
		if err != nil {
			for _, h := range e.handles {
				deletion.Retire(h)
			}
			return nil, fmt.Errorf("create frame fence %d: %w", i, err)
		}
		e.fences[i] = fence
		e.handles = append(e.handles, deletion.Track(fence))
	}
	return e, nil
}

func (e *Engine) Device() gpu.Device                { return e.dev }
func (e *Engine) DeletionQueue() *gpu.DeletionQueue { return e.deletion }

// Frame is the number of submitted frames; its slot is the next one used.
func (e *Engine) Frame() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) AddSurfaceRenderer(s *SurfaceRenderer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !slices.Contains(e.surfaces, s) {
		e.surfaces = append(e.surfaces, s)
	}
}

func (e *Engine) RemoveSurfaceRenderer(s *SurfaceRenderer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.surfaces = slices.DeleteFunc(e.surfaces, func(x *SurfaceRenderer) bool { return x == s })
}

// AddWorldRenderer registers a world renderer that is not presented on any
// surface. Its targets are still rendered every frame.
func (e *Engine) AddWorldRenderer(w *WorldRenderer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !slices.Contains(e.offscreen, w) {
		e.offscreen = append(e.offscreen, w)
		w.beginFrame(gpu.FrameIndex(e.frame))
	}
}

func (e *Engine) RemoveWorldRenderer(w *WorldRenderer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offscreen = slices.DeleteFunc(e.offscreen, func(x *WorldRenderer) bool { return x == w })
}

// worldRenderers returns every world renderer once, offscreen ones first.
func (e *Engine) worldRenderers() []*WorldRenderer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := slices.Clone(e.offscreen)
	for _, s := range e.surfaces {
		for _, w := range s.WorldRenderers() {
			if !slices.Contains(out, w) {
				out = append(out, w)
			}
		}
	}
	return out
}

// Tick advances every world renderer. Called on the simulation side.
func (e *Engine) Tick(delta float64) {
	for _, w := range e.worldRenderers() {
		w.Tick(delta)
	}
}

// SyncData publishes a snapshot from every world renderer's world. It is the
// only point where render state is taken from the worlds.
func (e *Engine) SyncData(alpha float32) {
	for _, w := range e.worldRenderers() {
		w.SyncData(alpha)
	}
}

// Render runs one frame: it waits for the slot's previous submission,
// sweeps the deletion queue, acquires every surface, records all renderers
// in parallel, then submits once and presents once. It reports false when
// the frame was skipped. A world renderer attached to several surfaces is
// recorded once.
func (e *Engine) Render() (bool, error) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return false, errors.New("render after shutdown")
	}
	frame := e.frame
	surfaces := slices.Clone(e.surfaces)
	offscreen := slices.Clone(e.offscreen)
	e.mu.Unlock()

	slot := gpu.FrameIndex(frame)
	fence := e.fences[slot]
	switch r := fence.Wait(e.opts.fenceTimeout); r {
	case gpu.Success:
	case gpu.Timeout, gpu.NotReady:
		e.logger.Warn("frame fence wait timed out", zap.Uint64("frame", frame), zap.Int("slot", slot))
		e.skip()
		return false, nil
	default:
		return false, resultErr("wait frame fence", r)
	}

	e.deletion.Advance(frame)
	all := e.worldRenderers()
	for _, w := range all {
		w.frameDone(slot)
	}

	active := make([]*SurfaceRenderer, 0, len(surfaces))
	for _, s := range surfaces {
		ok, err := s.AcquireImage(slot)
		if err != nil {
			e.releaseImages(slot, active)
			return false, err
		}
		if ok {
			active = append(active, s)
		}
	}

	// offscreen renderers first, then those of the surfaces that acquired
	worlds := offscreen
	for _, s := range surfaces {
		attached := s.WorldRenderers()
		worlds = slices.DeleteFunc(worlds, func(w *WorldRenderer) bool { return slices.Contains(attached, w) })
	}
	for _, s := range active {
		for _, w := range s.WorldRenderers() {
			if !slices.Contains(worlds, w) {
				worlds = append(worlds, w)
			}
		}
	}
	if len(worlds) == 0 && len(active) == 0 {
		e.skip()
		return false, nil
	}

	worldCmds := make([]gpu.CommandBuffer, len(worlds))
	var g errgroup.Group
	for i, w := range worlds {
		g.Go(func() error {
			cmd, err := w.Render(slot)
			worldCmds[i] = cmd
			return err
		})
	}
	if err := g.Wait(); err != nil {
		e.releaseImages(slot, active)
		return false, err
	}
	compositeCmds := make([]gpu.CommandBuffer, len(active))
	var cg errgroup.Group
	for i, s := range active {
		cg.Go(func() error {
			cmd, err := s.Composite(slot)
			compositeCmds[i] = cmd
			return err
		})
	}
	if err := cg.Wait(); err != nil {
		e.releaseImages(slot, active)
		return false, err
	}

	submit := gpu.SubmitInfo{CommandBuffers: append(worldCmds, compositeCmds...)}
	present := gpu.PresentInfo{}
	for _, s := range active {
		idx, _ := s.ImageIndex()
		submit.WaitSemaphores = append(submit.WaitSemaphores, s.waitSemaphore(slot))
		submit.SignalSemaphores = append(submit.SignalSemaphores, s.signalSemaphore(slot))
		present.WaitSemaphores = append(present.WaitSemaphores, s.signalSemaphore(slot))
		present.Swapchains = append(present.Swapchains, s.Swapchain())
		present.ImageIndices = append(present.ImageIndices, idx)
	}

	fence.Reset()
	if err := e.dev.Queue().Submit([]gpu.SubmitInfo{submit}, fence); err != nil {
		e.releaseImages(slot, active)
		if errors.Is(err, gpu.ErrorDeviceLost) {
			return false, fmt.Errorf("submit frame %d: %w: %w", frame, ErrDeviceLost, err)
		}
		return false, fmt.Errorf("submit frame %d: %w", frame, err)
	}

	var errs []error
	if len(active) > 0 {
		results := e.dev.Queue().Present(present)
		for i, s := range active {
			r := gpu.Success
			if i < len(results) {
				r = results[i]
			}
			if err := s.OnPostPresent(r); err != nil {
				errs = append(errs, err)
			}
		}
	}

	var draw DrawStats
	for _, w := range worlds {
		draw.Add(w.Stats(slot))
	}

	e.mu.Lock()
	e.frame++
	next := gpu.FrameIndex(e.frame)
	e.stats.Frames++
	e.stats.Submitted++
	e.stats.Draw = draw
	e.mu.Unlock()
	for _, w := range all {
		w.beginFrame(next)
	}
	return true, errors.Join(errs...)
}

// releaseImages gives back the images acquired for an abandoned frame. An
// empty submission consumes each image-available semaphore and the images
// are presented unchanged.
func (e *Engine) releaseImages(slot int, surfaces []*SurfaceRenderer) {
	var present gpu.PresentInfo
	var submit gpu.SubmitInfo
	held := make([]*SurfaceRenderer, 0, len(surfaces))
	for _, s := range surfaces {
		idx, ok := s.ImageIndex()
		if !ok {
			continue
		}
		held = append(held, s)
		submit.WaitSemaphores = append(submit.WaitSemaphores, s.waitSemaphore(slot))
		submit.SignalSemaphores = append(submit.SignalSemaphores, s.signalSemaphore(slot))
		present.WaitSemaphores = append(present.WaitSemaphores, s.signalSemaphore(slot))
		present.Swapchains = append(present.Swapchains, s.Swapchain())
		present.ImageIndices = append(present.ImageIndices, idx)
	}
	if len(held) == 0 {
		return
	}
	if err := e.dev.Queue().Submit([]gpu.SubmitInfo{submit}, nil); err != nil {
		e.logger.Warn("release acquired images", zap.Int("surfaces", len(held)), zap.Error(err))
		return
	}
	results := e.dev.Queue().Present(present)
	for i, s := range held {
		r := gpu.Success
		if i < len(results) {
			r = results[i]
		}
		if err := s.OnPostPresent(r); err != nil {
			e.logger.Warn("present released image", zap.String("surface", s.Label()), zap.Error(err))
		}
	}
}

func (e *Engine) skip() {
	e.mu.Lock()
	e.stats.Frames++
	e.stats.Skipped++
	e.mu.Unlock()
}

// Join blocks until every submitted frame finished executing.
func (e *Engine) Join() error {
	for i, fence := range e.fences {
		r := fence.Wait(e.opts.fenceTimeout)
		if r.IsError() {
			return resultErr("join frame fences", r)
		}
		if r != gpu.Success {
			e.logger.Warn("frame fence not signaled at join", zap.Int("slot", i), zap.Stringer("result", r))
		}
	}
	if err := e.dev.WaitIdle(); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	return nil
}

// Shutdown joins, destroys every renderer and destroys every object left in
// the deletion queue.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	e.mu.Unlock()

	err := e.Join()
	for _, w := range e.worldRenderers() {
		w.Destroy()
	}

	e.mu.Lock()
	for _, s := range e.surfaces {
		s.Destroy()
	}
	e.surfaces, e.offscreen = nil, nil
	e.mu.Unlock()

	for _, h := range e.handles {
		e.deletion.Retire(h)
	}
	e.handles = nil
	n := e.deletion.Flush()
	e.logger.Info("render engine shut down", zap.Int("destroyed", n))
	return err
}
