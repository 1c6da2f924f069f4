package render

import (
	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
)

// Renderable components are drawn by world renderers. The ids are resolved
// against the renderer's mesh and material registries; a zero mask means
// the material's mask.
type Renderable interface {
	Drawable() (mesh, material ecs.ResourceID, mask PassMask)
}

// LightSource components light the world they live in.
type LightSource interface {
	EmitLight(t geom.Transform) LightData
}

type MeshComponent struct {
	Mesh     ecs.ResourceID
	Material ecs.ResourceID
	Mask     PassMask
}

func (m *MeshComponent) Drawable() (ecs.ResourceID, ecs.ResourceID, PassMask) {
	return m.Mesh, m.Material, m.Mask
}

func (m *MeshComponent) CollectResources(set ecs.ResourceSet) {
	set.Add(m.Mesh)
	set.Add(m.Material)
}

type LightComponent struct {
	Kind      LightKind
	Color     geom.Vec3
	Intensity float32
	Range     float32
}

// EmitLight places the light at t. Directional and spot lights point down
// the transform's forward axis.
func (l *LightComponent) EmitLight(t geom.Transform) LightData {
	rot := t.Rotation
	if rot == (geom.Quat{}) {
		rot = geom.IdentityQuat
	}
	return LightData{
		Kind:      l.Kind,
		Position:  t.Position,
		Direction: rot.Rotate(geom.Forward),
		Color:     l.Color,
		Intensity: l.Intensity,
		Range:     l.Range,
	}
}

// RegisterComponents adds the render components to r under stable names.
func RegisterComponents(r *ecs.ComponentRegistry) {
	ecs.RegisterComponentAs[MeshComponent](r, "render.Mesh")
	ecs.RegisterComponentAs[LightComponent](r, "render.Light")
}
