package physics

import (
	"github.com/chewxy/math32"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
)

// Shape is a collision shape in body local space.
type Shape interface {
	Type() ecs.ShapeType
	// Support returns how far the shape reaches along the unit direction n
	// from its center, ignoring the body rotation.
	Support(n geom.Vec3) float32
	// HalfExtents bounds the shape with a local box.
	HalfExtents() geom.Vec3
}

type BoxShape struct {
	Extents geom.Vec3
}

type SphereShape struct {
	Radius float32
}

// CapsuleShape is a Y aligned capsule. HalfHeight excludes the caps.
type CapsuleShape struct {
	HalfHeight float32
	Radius     float32
}

// CylinderShape is a Y aligned cylinder.
type CylinderShape struct {
	HalfHeight float32
	Radius     float32
}

// PlaneShape is an infinite plane through the body position.
type PlaneShape struct {
	Normal geom.Vec3
}

func (BoxShape) Type() ecs.ShapeType      { return ecs.ShapeBox }
func (SphereShape) Type() ecs.ShapeType   { return ecs.ShapeSphere }
func (CapsuleShape) Type() ecs.ShapeType  { return ecs.ShapeCapsule }
func (CylinderShape) Type() ecs.ShapeType { return ecs.ShapeCylinder }
func (PlaneShape) Type() ecs.ShapeType    { return ecs.ShapePlane }

func (s BoxShape) Support(n geom.Vec3) float32 {
	return math32.Abs(n.X)*s.Extents.X + math32.Abs(n.Y)*s.Extents.Y + math32.Abs(n.Z)*s.Extents.Z
}

func (s SphereShape) Support(geom.Vec3) float32 { return s.Radius }

func (s CapsuleShape) Support(n geom.Vec3) float32 {
	return math32.Abs(n.Y)*s.HalfHeight + s.Radius
}

func (s CylinderShape) Support(n geom.Vec3) float32 {
	return math32.Abs(n.Y)*s.HalfHeight + math32.Sqrt(n.X*n.X+n.Z*n.Z)*s.Radius
}

func (PlaneShape) Support(geom.Vec3) float32 { return 0 }

func (s BoxShape) HalfExtents() geom.Vec3    { return s.Extents }
func (s SphereShape) HalfExtents() geom.Vec3 { return geom.V3(s.Radius, s.Radius, s.Radius) }

func (s CapsuleShape) HalfExtents() geom.Vec3 {
	return geom.V3(s.Radius, s.HalfHeight+s.Radius, s.Radius)
}

func (s CylinderShape) HalfExtents() geom.Vec3 {
	return geom.V3(s.Radius, s.HalfHeight, s.Radius)
}

func (PlaneShape) HalfExtents() geom.Vec3 {
	return geom.V3(math32.Inf(1), math32.Inf(1), math32.Inf(1))
}

// ShapeFor builds the collision shape described by settings at the given
// entity scale. It returns nil for an unrecognized shape type.
func ShapeFor(settings ecs.PhysicsSettings, scale geom.Vec3) Shape {
	switch settings.Shape {
	case ecs.ShapeBox:
		return BoxShape{Extents: settings.Extents.Mul(scale)}
	case ecs.ShapeSphere:
		return SphereShape{Radius: settings.Radius}
	case ecs.ShapeCapsule:
		return CapsuleShape{HalfHeight: settings.Height * 0.5, Radius: settings.Radius}
	case ecs.ShapeCylinder:
		return CylinderShape{HalfHeight: settings.Height * 0.5, Radius: settings.Radius}
	case ecs.ShapePlane:
		return PlaneShape{Normal: geom.Up}
	}
	return nil
}
