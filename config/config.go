// Package config loads the engine's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Render  RenderConfig  `toml:"render"`
	Physics PhysicsConfig `toml:"physics"`
	Logging LoggingConfig `toml:"logging"`
	Scene   SceneConfig   `toml:"scene"`
}

type EngineConfig struct {
	FixedRate     float64       `toml:"fixed_rate"`  // physics steps per second
	Accumulator   string        `toml:"accumulator"` // "reset" or "carry"
	MaxFrameDelta time.Duration `toml:"max_frame_delta"`
}

type RenderConfig struct {
	Width                  uint32        `toml:"width"`
	Height                 uint32        `toml:"height"`
	DrawDistance           float32       `toml:"draw_distance"`
	AcquireTimeout         time.Duration `toml:"acquire_timeout"`
	FenceTimeout           time.Duration `toml:"fence_timeout"`
	ObjectBufferMax        int           `toml:"object_buffer_max"`
	FrustumCull            bool          `toml:"frustum_cull"`
	AllowSuboptimalPresent bool          `toml:"allow_suboptimal_present"`
	SwapchainImages        int           `toml:"swapchain_images"`
	DeviceLatency          time.Duration `toml:"device_latency"` // soft device only
}

type PhysicsConfig struct {
	Gravity        [3]float32 `toml:"gravity"`
	RayMaxDistance float32    `toml:"ray_max_distance"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type SceneConfig struct {
	Path string `toml:"path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config { return defaults() }

func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			FixedRate:     60,
			Accumulator:   "reset",
			MaxFrameDelta: 250 * time.Millisecond,
		},
		Render: RenderConfig{
			Width:           1280,
			Height:          720,
			DrawDistance:    1000,
			AcquireTimeout:  time.Second,
			FenceTimeout:    time.Second,
			ObjectBufferMax: 4096,
			FrustumCull:     true,
			SwapchainImages: 3,
		},
		Physics: PhysicsConfig{
			Gravity:        [3]float32{0, -9.81, 0},
			RayMaxDistance: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate reports every out of range value at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.FixedRate <= 0 {
		errs = append(errs, fmt.Errorf("engine.fixed_rate must be positive, got %v", c.Engine.FixedRate))
	}
	switch c.Engine.Accumulator {
	case "reset", "carry":
	default:
		errs = append(errs, fmt.Errorf("engine.accumulator must be reset or carry, got %q", c.Engine.Accumulator))
	}
	if c.Engine.MaxFrameDelta < 0 {
		errs = append(errs, errors.New("engine.max_frame_delta must not be negative"))
	}
	if c.Render.Width == 0 || c.Render.Height == 0 {
		errs = append(errs, fmt.Errorf("render size must be non-zero, got %dx%d", c.Render.Width, c.Render.Height))
	}
	if c.Render.ObjectBufferMax <= 0 {
		errs = append(errs, fmt.Errorf("render.object_buffer_max must be positive, got %d", c.Render.ObjectBufferMax))
	}
	if c.Render.SwapchainImages < 2 {
		errs = append(errs, fmt.Errorf("render.swapchain_images must be at least 2, got %d", c.Render.SwapchainImages))
	}
	return errors.Join(errs...)
}

// FixedStep is the physics step length in seconds.
func (c EngineConfig) FixedStep() float64 { return 1 / c.FixedRate }
