// Package scene loads YAML scene descriptions and builds them into worlds.
//
// A scene lists the meshes and materials it needs and a tree of entities
// that reference them by name:
//
//	meshes:
//	  - {id: 1, name: cube, kind: cube}
//	  - {id: 2, name: floor, kind: plane, size: 40}
//	materials:
//	  - {id: 10, name: stone, shader: lit, pass: opaque|shadow}
//	entities:
//	  - name: ground
//	    mesh: floor
//	    material: stone
//	    body: {type: static, shape: plane}
//	  - name: crate
//	    position: [0, 4, -6]
//	    rotation: [0, 45, 0]
//	    mesh: cube
//	    material: stone
//	    body: {type: dynamic, shape: box, mass: 2}
//	    children:
//	      - {name: lamp, position: [0, 1, 0], light: {kind: point, color: [1, 0.9, 0.7], intensity: 4, range: 10}}
package scene

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/render"
)

var ErrUnknownResource = errors.New("scene: unknown resource")

// Vec3 is a YAML [x, y, z] sequence.
type Vec3 [3]float32

func (v Vec3) geom() geom.Vec3 { return geom.V3(v[0], v[1], v[2]) }

type Scene struct {
	Ambient   *Vec3      `yaml:"ambient"`
	Camera    *Camera    `yaml:"camera"`
	Meshes    []Mesh     `yaml:"meshes"`
	Materials []Material `yaml:"materials"`
	Entities  []Entity   `yaml:"entities"`
}

type Camera struct {
	Position Vec3    `yaml:"position"`
	Rotation Vec3    `yaml:"rotation"` // euler degrees: pitch, yaw, roll
	FOV      float32 `yaml:"fov"`      // degrees
	Near     float32 `yaml:"near"`
	Far      float32 `yaml:"far"`
}

type Mesh struct {
	ID   ecs.ResourceID `yaml:"id"`
	Name string         `yaml:"name"`
	Kind string         `yaml:"kind"` // "cube" or "plane"
	Size float32        `yaml:"size"` // plane edge length
}

type Material struct {
	ID     ecs.ResourceID `yaml:"id"`
	Name   string         `yaml:"name"`
	Shader string         `yaml:"shader"`
	Pass   string         `yaml:"pass"`
}

type Entity struct {
	Name     string   `yaml:"name"`
	Position Vec3     `yaml:"position"`
	Rotation Vec3     `yaml:"rotation"` // euler degrees: pitch, yaw, roll
	Scale    *Vec3    `yaml:"scale"`
	Visible  *bool    `yaml:"visible"`
	Mesh     string   `yaml:"mesh"`
	Material string   `yaml:"material"`
	Pass     string   `yaml:"pass"`
	Light    *Light   `yaml:"light"`
	Body     *Body    `yaml:"body"`
	Children []Entity `yaml:"children"`
}

type Light struct {
	Kind      string  `yaml:"kind"` // point, directional or spot
	Color     Vec3    `yaml:"color"`
	Intensity float32 `yaml:"intensity"`
	Range     float32 `yaml:"range"`
}

type Body struct {
	Type        string   `yaml:"type"`
	Shape       string   `yaml:"shape"`
	Extents     *Vec3    `yaml:"extents"`
	Radius      float32  `yaml:"radius"`
	Height      float32  `yaml:"height"`
	Mass        float32  `yaml:"mass"`
	Friction    *float32 `yaml:"friction"`
	Restitution float32  `yaml:"restitution"`
	Gravity     *float32 `yaml:"gravity"`
}

func Load(path string) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse scene %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a scene and checks everything that does not depend on the
// registries it will be built into.
func Parse(data []byte) (*Scene, error) {
	var s Scene
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scene) validate() error {
	var errs []error
	ids := make(map[ecs.ResourceID]string)
	names := make(map[string]bool)
	claim := func(kind string, id ecs.ResourceID, name string) {
		if id == 0 {
			errs = append(errs, fmt.Errorf("%s %q: id must be non-zero", kind, name))
		} else if prev, ok := ids[id]; ok {
			errs = append(errs, fmt.Errorf("%s %q: id %d already used by %q", kind, name, id, prev))
		}
		if name == "" {
			errs = append(errs, fmt.Errorf("%s %d: missing name", kind, id))
		} else if names[kind+"/"+name] {
			errs = append(errs, fmt.Errorf("%s %q declared twice", kind, name))
		}
		ids[id] = name
		names[kind+"/"+name] = true
	}

	for _, m := range s.Meshes {
		claim("mesh", m.ID, m.Name)
		switch m.Kind {
		case "cube":
		case "plane":
			if m.Size <= 0 {
				errs = append(errs, fmt.Errorf("mesh %q: plane size must be positive", m.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("mesh %q: unknown kind %q", m.Name, m.Kind))
		}
	}
	for _, m := range s.Materials {
		claim("material", m.ID, m.Name)
		if _, ok := render.ParsePassMask(m.Pass); !ok {
			errs = append(errs, fmt.Errorf("material %q: bad pass %q", m.Name, m.Pass))
		}
	}
	for i := range s.Entities {
		errs = append(errs, s.Entities[i].validate()...)
	}
	return errors.Join(errs...)
}

func (e *Entity) validate() []error {
	var errs []error
	if (e.Mesh == "") != (e.Material == "") {
		errs = append(errs, fmt.Errorf("entity %q: mesh and material go together", e.Name))
	}
	if _, ok := render.ParsePassMask(e.Pass); !ok {
		errs = append(errs, fmt.Errorf("entity %q: bad pass %q", e.Name, e.Pass))
	}
	if e.Light != nil {
		if _, ok := lightKinds[e.Light.Kind]; !ok {
			errs = append(errs, fmt.Errorf("entity %q: unknown light kind %q", e.Name, e.Light.Kind))
		}
	}
	if e.Body != nil {
		if _, ok := bodyTypes[e.Body.Type]; !ok {
			errs = append(errs, fmt.Errorf("entity %q: unknown body type %q", e.Name, e.Body.Type))
		}
		if _, ok := shapes[e.Body.Shape]; !ok {
			errs = append(errs, fmt.Errorf("entity %q: unknown shape %q", e.Name, e.Body.Shape))
		}
	}
	for i := range e.Children {
		errs = append(errs, e.Children[i].validate()...)
	}
	return errs
}

var lightKinds = map[string]render.LightKind{
	"":            render.LightPoint,
	"point":       render.LightPoint,
	"directional": render.LightDirectional,
	"spot":        render.LightSpot,
}

var bodyTypes = map[string]ecs.BodyType{
	"":          ecs.BodyTypeNone,
	"none":      ecs.BodyTypeNone,
	"static":    ecs.BodyTypeStatic,
	"kinematic": ecs.BodyTypeKinematic,
	"dynamic":   ecs.BodyTypeDynamic,
}

var shapes = map[string]ecs.ShapeType{
	"":         ecs.ShapeBox,
	"box":      ecs.ShapeBox,
	"sphere":   ecs.ShapeSphere,
	"capsule":  ecs.ShapeCapsule,
	"cylinder": ecs.ShapeCylinder,
	"plane":    ecs.ShapePlane,
}

func euler(deg Vec3) geom.Quat {
	if deg == (Vec3{}) {
		return geom.IdentityQuat
	}
	return geom.QuatFromEuler(geom.Radians(deg[0]), geom.Radians(deg[1]), geom.Radians(deg[2]))
}
