package ecs

import "github.com/plus3/lumen/geom"

// BodyType selects how the physics world treats an entity.
type BodyType uint8

const (
	BodyTypeNone BodyType = iota
	BodyTypeStatic
	BodyTypeKinematic
	BodyTypeDynamic
)

func (t BodyType) String() string {
	switch t {
	case BodyTypeNone:
		return "none"
	case BodyTypeStatic:
		return "static"
	case BodyTypeKinematic:
		return "kinematic"
	case BodyTypeDynamic:
		return "dynamic"
	}
	return "unknown"
}

// ShapeType is the collision shape of a body.
type ShapeType uint8

const (
	ShapeBox ShapeType = iota
	ShapeSphere
	ShapeCapsule
	ShapeCylinder
	ShapePlane
)

func (s ShapeType) String() string {
	switch s {
	case ShapeBox:
		return "box"
	case ShapeSphere:
		return "sphere"
	case ShapeCapsule:
		return "capsule"
	case ShapeCylinder:
		return "cylinder"
	case ShapePlane:
		return "plane"
	}
	return "unknown"
}

// PhysicsSettings is the per-entity body description.
type PhysicsSettings struct {
	BodyType    BodyType
	Shape       ShapeType
	Extents     geom.Vec3
	Radius      float32
	Height      float32
	Mass        float32
	Friction    float32
	Restitution float32
	Gravity     float32
}

// DefaultPhysicsSettings describes a unit box that does not take part in simulation.
var DefaultPhysicsSettings = PhysicsSettings{
	BodyType: BodyTypeNone,
	Shape:    ShapeBox,
	Extents:  geom.V3(0.5, 0.5, 0.5),
	Radius:   0.5,
	Height:   1,
	Mass:     1,
	Friction: 0.5,
	Gravity:  1,
}
