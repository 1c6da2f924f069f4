package render

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a WorldRenderer, SurfaceRenderer or Engine. Each
// constructor reads the settings that apply to it.
type Option func(*options)

type options struct {
	logger                 *zap.Logger
	label                  string
	width, height          uint32
	aspect                 float32
	drawDistance           float32
	objectBufferMax        int
	passOptions            []DrawPassOption
	clearColor             [4]float32
	acquireTimeout         time.Duration
	fenceTimeout           time.Duration
	allowSuboptimalPresent bool
	slotHook               func(frameIndex int, s SlotState)
}

func defaultOptions() options {
	return options{
		logger:          zap.NewNop(),
		drawDistance:    1000,
		objectBufferMax: 4096,
		clearColor:      [4]float32{0.05, 0.7, 0.5, 1},
		acquireTimeout:  time.Second,
		fenceTimeout:    time.Second,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLabel names the GPU objects a renderer creates.
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// WithResolution sets a world renderer's initial render target size. The
// world's screen size is used otherwise.
func WithResolution(width, height uint32) Option {
	return func(o *options) { o.width, o.height = width, height }
}

// WithAspectRatio overrides the aspect ratio derived from the resolution.
func WithAspectRatio(aspect float32) Option {
	return func(o *options) { o.aspect = aspect }
}

func WithDrawDistance(d float32) Option {
	return func(o *options) { o.drawDistance = d }
}

// WithObjectBufferMax caps the renderables one frame can draw. Extra
// renderables are dropped at SyncData.
func WithObjectBufferMax(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.objectBufferMax = n
		}
	}
}

// WithPassOptions is applied to every draw pass of a world renderer.
func WithPassOptions(opts ...DrawPassOption) Option {
	return func(o *options) { o.passOptions = append(o.passOptions, opts...) }
}

func WithClearColor(c [4]float32) Option {
	return func(o *options) { o.clearColor = c }
}

// WithAcquireTimeout bounds how long a surface waits for a swapchain image.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) { o.acquireTimeout = d }
}

// WithFenceTimeout bounds how long the engine waits for a frame slot.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) { o.fenceTimeout = d }
}

// WithAllowSuboptimalPresent keeps a surface's swapchain when a present
// reports Suboptimal instead of recreating it.
func WithAllowSuboptimalPresent(allow bool) Option {
	return func(o *options) { o.allowSuboptimalPresent = allow }
}

// WithSlotStateHook calls fn on every frame slot transition of a world
// renderer. fn runs with the renderer locked and may be called from the
// render goroutines; it must not call back into the renderer.
func WithSlotStateHook(fn func(frameIndex int, s SlotState)) Option {
	return func(o *options) { o.slotHook = fn }
}
