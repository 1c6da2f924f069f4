// Package engine runs the application loop: the entity world ticks, physics
// steps inside it, the renderers sync an interpolated snapshot and the frame
// is rendered.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plus3/lumen/config"
	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/gpu"
	"github.com/plus3/lumen/physics"
	"github.com/plus3/lumen/render"
)

var ErrClosed = errors.New("engine: closed")

type Option func(*options)

type options struct {
	logger    *zap.Logger
	simulator physics.Simulator
	swapchain gpu.Swapchain
	headless  bool
	interval  time.Duration
	render    []render.Option
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSimulator replaces the kinematic simulator built from the physics config.
func WithSimulator(sim physics.Simulator) Option {
	return func(o *options) { o.simulator = sim }
}

// WithSwapchain presents on sc instead of a swapchain created from the
// render config. The engine owns sc afterwards.
func WithSwapchain(sc gpu.Swapchain) Option {
	return func(o *options) { o.swapchain = sc }
}

// WithHeadless renders offscreen only.
func WithHeadless(on bool) Option {
	return func(o *options) { o.headless = on }
}

// WithFrameInterval paces Run. Zero runs frames back to back.
func WithFrameInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithRenderOptions appends to the options built from the render config.
func WithRenderOptions(opts ...render.Option) Option {
	return func(o *options) { o.render = append(o.render, opts...) }
}

type Stats struct {
	Steps   uint64
	Clamped uint64
	// Update is the time the last Step spent ticking the world.
	Update time.Duration
	Render render.EngineStats
}

type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
	opts   options

	world     *ecs.World
	physics   *physics.World
	device    gpu.Device
	deletion  *gpu.DeletionQueue
	meshes    *render.MeshRegistry
	materials *render.MaterialRegistry

	renderer *render.Engine
	view     *render.WorldRenderer
	surface  *render.SurfaceRenderer

	mu     sync.Mutex
	stats  Stats
	closed bool
}

// New wires world to device as configured by cfg. A nil cfg means
// config.Default().
func New(cfg *config.Config, device gpu.Device, world *ecs.World, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   o.logger,
		opts:     o,
		world:    world,
		device:   device,
		deletion: gpu.NewDeletionQueue(o.logger),
	}
	e.meshes = render.NewMeshRegistry(device, e.deletion, o.logger)
	e.materials = render.NewMaterialRegistry(device, e.deletion)

	sim := o.simulator
	if sim == nil {
		g := cfg.Physics.Gravity
		sim = physics.NewKinematicSimulator(geom.V3(g[0], g[1], g[2]))
	}
	e.physics = physics.NewWorld(world, sim,
		physics.WithFixedStep(cfg.Engine.FixedStep()),
		physics.WithAccumulatorMode(physics.ParseAccumulatorMode(cfg.Engine.Accumulator)),
		physics.WithRayMaxDistance(cfg.Physics.RayMaxDistance),
		physics.WithLogger(o.logger),
	)

	ropts := append([]render.Option{
		render.WithLogger(o.logger),
		render.WithDrawDistance(cfg.Render.DrawDistance),
		render.WithObjectBufferMax(cfg.Render.ObjectBufferMax),
		render.WithAcquireTimeout(cfg.Render.AcquireTimeout),
		render.WithFenceTimeout(cfg.Render.FenceTimeout),
		render.WithAllowSuboptimalPresent(cfg.Render.AllowSuboptimalPresent),
		render.WithPassOptions(render.WithFrustumCulling(cfg.Render.FrustumCull)),
	}, o.render...)

	var err error
	if e.renderer, err = render.NewEngine(device, e.deletion, ropts...); err != nil {
		e.deletion.Flush()
		return nil, fmt.Errorf("create render engine: %w", err)
	}
	e.view, err = render.NewWorldRenderer(device, world, e.meshes, e.materials, e.deletion,
		append(ropts, render.WithResolution(cfg.Render.Width, cfg.Render.Height))...)
	if err != nil {
		e.abort()
		return nil, fmt.Errorf("create world renderer: %w", err)
	}
	e.renderer.AddWorldRenderer(e.view)

	if o.headless {
		return e, nil
	}
	sc := o.swapchain
	if sc == nil {
		sc, err = device.CreateSwapchain(gpu.SwapchainDesc{
			Label:      "main",
			Width:      cfg.Render.Width,
			Height:     cfg.Render.Height,
			Format:     gpu.FormatBGRA8,
			ImageCount: cfg.Render.SwapchainImages,
		})
		if err != nil {
			e.abort()
			return nil, fmt.Errorf("create swapchain: %w", err)
		}
	}
	if e.surface, err = render.NewSurfaceRenderer(device, sc, e.deletion, ropts...); err != nil {
		sc.Destroy()
		e.abort()
		return nil, fmt.Errorf("create surface renderer: %w", err)
	}
	e.surface.AddWorldRenderer(e.view)
	e.renderer.AddSurfaceRenderer(e.surface)
	return e, nil
}

func (e *Engine) abort() {
	if err := e.renderer.Shutdown(); err != nil {
		e.logger.Error("shut down partially built engine", zap.Error(err))
	}
}

func (e *Engine) Config() *config.Config               { return e.cfg }
func (e *Engine) World() *ecs.World                    { return e.world }
func (e *Engine) Physics() *physics.World              { return e.physics }
func (e *Engine) Device() gpu.Device                   { return e.device }
func (e *Engine) Meshes() *render.MeshRegistry         { return e.meshes }
func (e *Engine) Materials() *render.MaterialRegistry  { return e.materials }
func (e *Engine) Renderer() *render.Engine             { return e.renderer }
func (e *Engine) WorldRenderer() *render.WorldRenderer { return e.view }

// Surface is nil for a headless engine.
func (e *Engine) Surface() *render.SurfaceRenderer { return e.surface }

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Render = e.renderer.Stats()
	return s
}

// OnWindowResized forwards a window size change to the surface.
func (e *Engine) OnWindowResized(width, height uint32) {
	e.world.SetScreen(ecs.Screen{Width: width, Height: height, ContentScale: e.world.GetScreen().ContentScale})
	if e.surface != nil {
		e.surface.OnWindowResized(width, height)
	} else {
		e.view.SetRenderResolution(width, height)
	}
}

// Step runs one frame of delta seconds, clamped to the configured maximum.
// It reports whether a frame was submitted.
func (e *Engine) Step(delta float64) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	e.stats.Steps++
	if delta < 0 {
		delta = 0
	}
	if limit := e.cfg.Engine.MaxFrameDelta.Seconds(); limit > 0 && delta > limit {
		delta = limit
		e.stats.Clamped++
	}
	e.mu.Unlock()

	start := time.Now()
	e.world.Tick(delta)
	e.world.TickPlay(delta)
	update := time.Since(start)

	e.renderer.Tick(delta)
	e.renderer.SyncData(e.world.Alpha())
	ok, err := e.renderer.Render()

	e.mu.Lock()
	e.stats.Update = update
	e.mu.Unlock()
	return ok, err
}

// Run steps until ctx is cancelled or a frame fails.
func (e *Engine) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if e.opts.interval > 0 {
		ticker := time.NewTicker(e.opts.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	last := time.Now()
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		delta := now.Sub(last).Seconds()
		last = now
		if _, err := e.Step(delta); err != nil {
			return err
		}
	}
}

// Close ends a running play session, waits for the GPU and releases every
// object the engine created. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	steps := e.stats.Steps
	e.mu.Unlock()

	e.world.EndPlay()
	err := e.renderer.Join()
	e.meshes.Destroy()
	e.materials.Destroy()
	if serr := e.renderer.Shutdown(); serr != nil {
		err = errors.Join(err, serr)
	}
	e.logger.Info("engine closed", zap.Uint64("steps", steps))
	return err
}
