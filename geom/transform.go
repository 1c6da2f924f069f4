package geom

// Transform is a position, rotation and scale triple.
type Transform struct {
	Position Vec3
	Rotation Quat
	Scale    Vec3
}

// IdentityTransform is the default transform of a new entity.
var IdentityTransform = Transform{Rotation: IdentityQuat, Scale: One3}

// Matrix returns the TRS matrix.
func (t Transform) Matrix() Mat4 {
	return Translation(t.Position).Mul(Rotation(t.Rotation)).Mul(Scaling(t.Scale))
}

// Lerp interpolates position and scale linearly and rotation spherically.
func (t Transform) Lerp(o Transform, alpha float32) Transform {
	return Transform{
		Position: t.Position.Lerp(o.Position, alpha),
		Rotation: t.Rotation.Slerp(o.Rotation, alpha),
		Scale:    t.Scale.Lerp(o.Scale, alpha),
	}
}

// AABB is an axis aligned bounding box.
type AABB struct {
	Min, Max Vec3
}

func (b AABB) Center() Vec3  { return b.Min.Add(b.Max).Scale(0.5) }
func (b AABB) Extents() Vec3 { return b.Max.Sub(b.Min).Scale(0.5) }

// Transform returns the box enclosing b after applying m.
func (b AABB) Transform(m Mat4) AABB {
	c := m.MulPoint(b.Center())
	e := b.Extents()
	abs := func(v float32) float32 {
		if v < 0 {
			return -v
		}
		return v
	}
	ext := Vec3{
		abs(m[0])*e.X + abs(m[4])*e.Y + abs(m[8])*e.Z,
		abs(m[1])*e.X + abs(m[5])*e.Y + abs(m[9])*e.Z,
		abs(m[2])*e.X + abs(m[6])*e.Y + abs(m[10])*e.Z,
	}
	return AABB{Min: c.Sub(ext), Max: c.Add(ext)}
}

// Frustum holds six planes (a, b, c, d) with normals pointing inward.
type Frustum [6]Vec4

// FrustumFromMatrix extracts the planes of a view-projection matrix with a
// [0, 1] depth range.
func FrustumFromMatrix(m Mat4) Frustum {
	r0, r1, r2, r3 := m.Row(0), m.Row(1), m.Row(2), m.Row(3)
	add := func(a, b Vec4) Vec4 { return Vec4{a.X + b.X, a.Y + b.Y, a.Z + b.Z, a.W + b.W} }
	sub := func(a, b Vec4) Vec4 { return Vec4{a.X - b.X, a.Y - b.Y, a.Z - b.Z, a.W - b.W} }
	return Frustum{
		add(r3, r0),
		sub(r3, r0),
		add(r3, r1),
		sub(r3, r1),
		r2,
		sub(r3, r2),
	}
}

// Intersects reports whether the box is at least partially inside.
func (f Frustum) Intersects(b AABB) bool {
	for _, p := range f {
		// farthest corner along the plane normal
		v := Vec3{b.Min.X, b.Min.Y, b.Min.Z}
		if p.X >= 0 {
			v.X = b.Max.X
		}
		if p.Y >= 0 {
			v.Y = b.Max.Y
		}
		if p.Z >= 0 {
			v.Z = b.Max.Z
		}
		if p.X*v.X+p.Y*v.Y+p.Z*v.Z+p.W < 0 {
			return false
		}
	}
	return true
}
