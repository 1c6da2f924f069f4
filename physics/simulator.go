package physics

import (
	"errors"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
)

// BodyID names a body inside a Simulator. Zero is never a valid body.
type BodyID uint64

// MotionType says how the simulator moves a body.
type MotionType uint8

const (
	MotionStatic MotionType = iota
	MotionKinematic
	MotionDynamic
)

func (m MotionType) String() string {
	switch m {
	case MotionStatic:
		return "static"
	case MotionKinematic:
		return "kinematic"
	case MotionDynamic:
		return "dynamic"
	}
	return "unknown"
}

// Layer is the broad phase layer a body lives on.
type Layer uint8

const (
	LayerMoving Layer = iota
	LayerNonMoving
)

// MotionFor maps an entity body type onto a simulator motion type.
func MotionFor(t ecs.BodyType) MotionType {
	switch t {
	case ecs.BodyTypeKinematic:
		return MotionKinematic
	case ecs.BodyTypeDynamic:
		return MotionDynamic
	}
	return MotionStatic
}

// BodyDesc is everything a simulator needs to create a body.
type BodyDesc struct {
	Shape         Shape
	Position      geom.Vec3
	Rotation      geom.Quat
	Motion        MotionType
	Layer         Layer
	Mass          float32
	Friction      float32
	Restitution   float32
	GravityFactor float32
	// UserData is the owning entity id.
	UserData uint64
}

// RayResult is a single simulator ray intersection.
type RayResult struct {
	Body     BodyID
	Point    geom.Vec3
	Normal   geom.Vec3
	Distance float32
}

var ErrNilShape = errors.New("physics: body has no shape")

// Simulator is the rigid body engine a World drives. Step may run on a
// different goroutine than the other calls but never concurrently with
// CreateBody, DestroyBody, AddBodies or RemoveBodies.
type Simulator interface {
	CreateBody(desc BodyDesc) (BodyID, error)
	DestroyBody(id BodyID)
	AddBodies(ids []BodyID)
	RemoveBodies(ids []BodyID)
	Step(dt float32)
	BodyTransform(id BodyID) (geom.Vec3, geom.Quat)
	SetBodyTransform(id BodyID, pos geom.Vec3, rot geom.Quat)
	CastRay(origin, dir geom.Vec3, maxDist float32) (RayResult, bool)
	CastRayAll(origin, dir geom.Vec3, maxDist float32) []RayResult
}
