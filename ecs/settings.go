package ecs

import "github.com/plus3/lumen/geom"

// PlayMode is the kind of session a world is running.
type PlayMode uint8

const (
	// PlayModeNone is edit time: the world ticks but is not playing.
	PlayModeNone PlayMode = iota
	// PlayModePlay runs gameplay and physics.
	PlayModePlay
	// PlayModePhysics is a physics-only session; play tickers see the mode and
	// decide what to run.
	PlayModePhysics
)

func (m PlayMode) String() string {
	switch m {
	case PlayModeNone:
		return "none"
	case PlayModePlay:
		return "play"
	case PlayModePhysics:
		return "physics"
	}
	return "unknown"
}

// PlayState is Stopped or Playing inside the current PlayMode.
type PlayState uint8

const (
	PlayStateStopped PlayState = iota
	PlayStatePlaying
)

func (s PlayState) String() string {
	if s == PlayStatePlaying {
		return "playing"
	}
	return "stopped"
}

// WorldFlags are persisted world-level switches.
type WorldFlags uint32

const (
	WorldFlagDisableRendering WorldFlags = 1 << iota
	WorldFlagDisablePhysics
)

// GfxSettings holds the world's rendering defaults.
type GfxSettings struct {
	SkyMaterial  ResourceID
	SkyModel     ResourceID
	AmbientColor geom.Vec3
}

// Screen describes the surface the world is presented on.
type Screen struct {
	Width        uint32
	Height       uint32
	ContentScale float32
}

// AspectRatio returns width/height, or 1 for an empty screen.
func (s Screen) AspectRatio() float32 {
	if s.Width == 0 || s.Height == 0 {
		return 1
	}
	return float32(s.Width) / float32(s.Height)
}

// Camera is the world's active viewpoint.
type Camera struct {
	Transform geom.Transform
	FOV       float32 // radians
	Near      float32
	Far       float32
}

// DefaultCamera looks down -Z from the origin.
var DefaultCamera = Camera{
	Transform: geom.IdentityTransform,
	FOV:       geom.Radians(60),
	Near:      0.1,
	Far:       1000,
}

// SimulationSettings controls the fixed physics step.
type SimulationSettings struct {
	FixedRate float64 // steps per second
}

// FixedStep returns the step length in seconds.
func (s SimulationSettings) FixedStep() float64 {
	if s.FixedRate <= 0 {
		return 1.0 / 60.0
	}
	return 1 / s.FixedRate
}

// Input is the read side of the windowing layer's input state.
type Input interface {
	IsKeyPressed(key int) bool
	IsMouseButtonPressed(button int) bool
	CursorPosition() (x, y int)
}
