package scene

import (
	"errors"
	"fmt"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/render"
)

// Build registers the scene's meshes and materials and creates its entity
// tree in w. Child transforms are relative to their parent. Resources that
// are already registered under the same id and name are reused. On error
// every entity created so far is destroyed again.
//
// The returned slice holds the created entities depth first.
func (s *Scene) Build(w *ecs.World, meshes *render.MeshRegistry, materials *render.MaterialRegistry) ([]*ecs.Entity, error) {
	if err := s.registerMeshes(meshes); err != nil {
		return nil, err
	}
	if err := s.registerMaterials(materials); err != nil {
		return nil, err
	}

	if s.Ambient != nil {
		w.GfxSettings().AmbientColor = s.Ambient.geom()
	}
	if c := s.Camera; c != nil {
		cam := w.Camera()
		cam.Transform.Position = c.Position.geom()
		cam.Transform.Rotation = euler(c.Rotation)
		if c.FOV > 0 {
			cam.FOV = geom.Radians(c.FOV)
		}
		if c.Near > 0 {
			cam.Near = c.Near
		}
		if c.Far > 0 {
			cam.Far = c.Far
		}
	}

	b := builder{world: w, meshes: meshes, materials: materials}
	for i := range s.Entities {
		if _, err := b.entity(&s.Entities[i], nil); err != nil {
			for _, root := range b.roots {
				w.DestroyEntity(root)
			}
			return nil, err
		}
	}
	return b.created, nil
}

func (s *Scene) registerMeshes(meshes *render.MeshRegistry) error {
	for _, m := range s.Meshes {
		if existing := meshes.Get(m.ID); existing != nil && existing.Name == m.Name {
			continue
		}
		var vertices []render.Vertex
		var indices []uint32
		switch m.Kind {
		case "plane":
			vertices, indices = render.PlaneGeometry(m.Size)
		default:
			vertices, indices = render.CubeGeometry()
		}
		if _, err := meshes.Add(m.ID, m.Name, vertices, indices); err != nil {
			return fmt.Errorf("mesh %q: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Scene) registerMaterials(materials *render.MaterialRegistry) error {
	for _, m := range s.Materials {
		if existing := materials.Get(m.ID); existing != nil && existing.Name == m.Name {
			continue
		}
		mask, _ := render.ParsePassMask(m.Pass)
		if _, err := materials.Add(m.ID, m.Name, m.Shader, mask); err != nil {
			return fmt.Errorf("material %q: %w", m.Name, err)
		}
	}
	return nil
}

type builder struct {
	world     *ecs.World
	meshes    *render.MeshRegistry
	materials *render.MaterialRegistry
	roots     []*ecs.Entity
	created   []*ecs.Entity
}

func (b *builder) entity(desc *Entity, parent *ecs.Entity) (*ecs.Entity, error) {
	var mc *render.MeshComponent
	if desc.Mesh != "" {
		mesh := b.meshes.ByName(desc.Mesh)
		if mesh == nil {
			return nil, fmt.Errorf("entity %q: mesh %q: %w", desc.Name, desc.Mesh, ErrUnknownResource)
		}
		mat := b.materials.ByName(desc.Material)
		if mat == nil {
			return nil, fmt.Errorf("entity %q: material %q: %w", desc.Name, desc.Material, ErrUnknownResource)
		}
		mask, _ := render.ParsePassMask(desc.Pass)
		mc = &render.MeshComponent{Mesh: mesh.ID, Material: mat.ID, Mask: mask}
	}

	e := b.world.CreateEntity(desc.Name)
	b.created = append(b.created, e)
	if parent == nil {
		b.roots = append(b.roots, e)
	} else if !b.world.AddChild(parent, e) {
		return nil, errors.New("scene: could not parent " + desc.Name)
	}

	t := geom.Transform{Position: desc.Position.geom(), Rotation: euler(desc.Rotation), Scale: geom.One3}
	if desc.Scale != nil {
		t.Scale = desc.Scale.geom()
	}
	if parent != nil {
		t = compose(parent.Transform(), t)
	}
	e.SetTransform(t)
	if desc.Visible != nil {
		e.SetVisible(*desc.Visible)
	}

	if mc != nil {
		ecs.AddComponent(b.world, e, *mc)
	}
	if l := desc.Light; l != nil {
		ecs.AddComponent(b.world, e, render.LightComponent{
			Kind:      lightKinds[l.Kind],
			Color:     l.Color.geom(),
			Intensity: l.Intensity,
			Range:     l.Range,
		})
	}
	if desc.Body != nil {
		e.Physics = desc.Body.settings()
	}

	for i := range desc.Children {
		if _, err := b.entity(&desc.Children[i], e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// compose places the local transform child inside parent.
func compose(parent, child geom.Transform) geom.Transform {
	rot := parent.Rotation
	if rot == (geom.Quat{}) {
		rot = geom.IdentityQuat
	}
	return geom.Transform{
		Position: parent.Position.Add(rot.Rotate(child.Position.Mul(parent.Scale))),
		Rotation: rot.Mul(child.Rotation),
		Scale:    parent.Scale.Mul(child.Scale),
	}
}

func (b *Body) settings() ecs.PhysicsSettings {
	s := ecs.DefaultPhysicsSettings
	s.BodyType = bodyTypes[b.Type]
	s.Shape = shapes[b.Shape]
	if b.Extents != nil {
		s.Extents = b.Extents.geom()
	}
	if b.Radius > 0 {
		s.Radius = b.Radius
	}
	if b.Height > 0 {
		s.Height = b.Height
	}
	if b.Mass > 0 {
		s.Mass = b.Mass
	}
	if b.Friction != nil {
		s.Friction = *b.Friction
	}
	s.Restitution = b.Restitution
	if b.Gravity != nil {
		s.Gravity = *b.Gravity
	}
	return s
}
