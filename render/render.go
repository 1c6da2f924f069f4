// Package render turns world snapshots into GPU work. A WorldRenderer
// extracts the visible renderables of one world at SyncData, DrawPasses
// batch them per (mesh, material), and a SurfaceRenderer composites world
// renderers onto a swapchain. The Engine paces all of it across
// gpu.FramesInFlight slots so the CPU never writes a slot the GPU may still
// be reading.
package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/gpu"
)

var (
	ErrDeviceLost        = errors.New("render: device lost")
	ErrDuplicateResource = errors.New("render: resource id already registered")
	ErrIndirectOverflow  = errors.New("render: indirect buffer too small for draw list")
)

// PassMask selects the draw passes a renderable takes part in.
type PassMask uint8

const (
	PassOpaque PassMask = 1 << iota
	PassTransparent
	PassShadow
	PassOverlay

	PassNone PassMask = 0
	PassAll           = PassOpaque | PassTransparent | PassShadow | PassOverlay
)

func (m PassMask) String() string {
	if m == PassNone {
		return "none"
	}
	s := ""
	for _, p := range []struct {
		bit  PassMask
		name string
	}{
		{PassOpaque, "opaque"},
		{PassTransparent, "transparent"},
		{PassShadow, "shadow"},
		{PassOverlay, "overlay"},
	} {
		if m&p.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += p.name
		}
	}
	return s
}

// ParsePassMask accepts the names printed by String joined with '|'.
func ParsePassMask(s string) (PassMask, bool) {
	var m PassMask
	for _, name := range strings.Split(s, "|") {
		switch strings.TrimSpace(name) {
		case "opaque":
			m |= PassOpaque
		case "transparent":
			m |= PassTransparent
		case "shadow":
			m |= PassShadow
		case "overlay":
			m |= PassOverlay
		case "none", "":
		default:
			return PassNone, false
		}
	}
	return m, true
}

// RenderableData is the value snapshot of one drawable entity. It never
// points back into the world.
type RenderableData struct {
	Entity    ecs.EntityId
	GUID      uint64
	Transform geom.Transform
	Model     geom.Mat4
	Position  geom.Vec3
	Bounds    geom.AABB // world space
	Mesh      *Mesh
	Material  *Material
	Mask      PassMask
	// ObjectIndex is the renderable's row in the frame's object buffer.
	ObjectIndex uint32
	// Distance from the view, filled in by DrawPass.
	Distance float32
}

type LightKind uint8

const (
	LightPoint LightKind = iota
	LightDirectional
	LightSpot
)

func (k LightKind) String() string {
	switch k {
	case LightPoint:
		return "point"
	case LightDirectional:
		return "directional"
	case LightSpot:
		return "spot"
	}
	return "unknown"
}

// LightData is the snapshot of one light source.
type LightData struct {
	Entity    ecs.EntityId
	Kind      LightKind
	Position  geom.Vec3
	Direction geom.Vec3
	Color     geom.Vec3
	Intensity float32
	Range     float32
}

// View is a camera resolved for one aspect ratio.
type View struct {
	Position geom.Vec3
	Rotation geom.Quat
	Near     float32
	Far      float32
	Matrix   geom.Mat4
	Proj     geom.Mat4
	ViewProj geom.Mat4
	Frustum  geom.Frustum
}

func NewView(cam ecs.Camera, aspect float32) View {
	if aspect <= 0 {
		aspect = 1
	}
	rot := cam.Transform.Rotation
	if rot == (geom.Quat{}) {
		rot = geom.IdentityQuat
	}
	v := View{
		Position: cam.Transform.Position,
		Rotation: rot,
		Near:     cam.Near,
		Far:      cam.Far,
		Matrix:   geom.ViewMatrix(cam.Transform.Position, rot),
		Proj:     geom.Perspective(cam.FOV, aspect, cam.Near, cam.Far),
	}
	v.ViewProj = v.Proj.Mul(v.Matrix)
	v.Frustum = geom.FrustumFromMatrix(v.ViewProj)
	return v
}

func (v *View) Distance(p geom.Vec3) float32 { return v.Position.Distance(p) }
func (v *View) Visible(b geom.AABB) bool     { return v.Frustum.Intersects(b) }

// RenderWorldData is everything the render side needs from a world for one
// frame. A published snapshot is never modified.
type RenderWorldData struct {
	Sync        uint64
	Alpha       float32
	Elapsed     float64
	Renderables []RenderableData
	Lights      []LightData
	View        View
	Screen      ecs.Screen
	Width       uint32
	Height      uint32
	Ambient     geom.Vec3
	// Dropped counts renderables past the object buffer capacity.
	Dropped int
}

// SlotState is where a world renderer's frame slot is in its cycle.
type SlotState uint8

const (
	SlotIdle SlotState = iota
	SlotTicking
	SlotSyncingData
	SlotExtracting
	SlotUploading
	SlotRecording
	SlotSubmitted
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotTicking:
		return "ticking"
	case SlotSyncingData:
		return "syncing"
	case SlotExtracting:
		return "extracting"
	case SlotUploading:
		return "uploading"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	}
	return "unknown"
}

// resultErr wraps a failed gpu result, adding ErrDeviceLost when it is one.
func resultErr(op string, r gpu.Result) error {
	if r == gpu.ErrorDeviceLost {
		return fmt.Errorf("%s: %w: %w", op, ErrDeviceLost, r)
	}
	return fmt.Errorf("%s: %w", op, r)
}
