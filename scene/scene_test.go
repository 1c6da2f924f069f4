package scene_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/gpu"
	"github.com/plus3/lumen/gpu/soft"
	"github.com/plus3/lumen/render"
	"github.com/plus3/lumen/scene"
)

type registries struct {
	meshes    *render.MeshRegistry
	materials *render.MaterialRegistry
}

func newRegistries(t *testing.T) registries {
	t.Helper()
	dev := soft.NewDevice()
	t.Cleanup(dev.Close)
	deletion := gpu.NewDeletionQueue(zap.NewNop())
	return registries{
		meshes:    render.NewMeshRegistry(dev, deletion, zap.NewNop()),
		materials: render.NewMaterialRegistry(dev, deletion),
	}
}

func newWorld(t *testing.T) *ecs.World {
	t.Helper()
	r := ecs.NewComponentRegistry()
	render.RegisterComponents(r)
	w := ecs.NewWorld(r)
	t.Cleanup(w.Destroy)
	return w
}

func TestLoadAndBuild(t *testing.T) {
	s, err := scene.Load(filepath.Join("testdata", "courtyard.yaml"))
	require.NoError(t, err)
	require.Len(t, s.Meshes, 2)
	require.Len(t, s.Entities, 4)

	reg := newRegistries(t)
	w := newWorld(t)
	created, err := s.Build(w, reg.meshes, reg.materials)
	require.NoError(t, err)

	names := make([]string, len(created))
	for i, e := range created {
		names[i] = e.Name()
	}
	assert.Equal(t, []string{"ground", "tower", "window", "beacon", "crate", "marker"}, names)
	assert.Equal(t, 6, w.EntityCount())
	assert.Len(t, w.Roots(), 4)

	assert.Equal(t, 2, reg.meshes.Len())
	glass := reg.materials.ByName("glass")
	require.NotNil(t, glass)
	assert.Equal(t, render.PassTransparent, glass.Mask)
	assert.Equal(t, render.PassOpaque|render.PassShadow, reg.materials.ByName("stone").Mask)

	assert.Equal(t, geom.V3(0.1, 0.1, 0.12), w.GfxSettings().AmbientColor)
	assert.InDelta(t, geom.Radians(70), w.Camera().FOV, 1e-6)
	assert.Equal(t, geom.V3(0, 5, 12), w.Camera().Transform.Position)
}

func TestBuildComponentsAndTransforms(t *testing.T) {
	s, err := scene.Load(filepath.Join("testdata", "courtyard.yaml"))
	require.NoError(t, err)
	reg := newRegistries(t)
	w := newWorld(t)
	_, err = s.Build(w, reg.meshes, reg.materials)
	require.NoError(t, err)

	tower := w.FindEntity("tower")
	require.NotNil(t, tower)
	assert.Equal(t, ecs.BodyTypeStatic, tower.Physics.BodyType)
	assert.Equal(t, geom.V3(1, 1, 1), tower.Physics.Extents)
	assert.Equal(t, geom.V3(2, 2, 2), tower.Transform().Scale)

	// children sit in the parent's frame: up one unit at scale 2
	window := w.FindEntity("window")
	require.NotNil(t, window)
	assert.Equal(t, tower.ID(), window.Parent())
	assert.True(t, window.Position().ApproxEqual(geom.V3(4, 2, -6), 1e-5), "window at %v", window.Position())
	mc := ecs.GetComponent[render.MeshComponent](w, window)
	require.NotNil(t, mc)
	assert.Equal(t, ecs.ResourceID(1), mc.Mesh)
	assert.Equal(t, ecs.ResourceID(11), mc.Material)
	assert.Equal(t, render.PassTransparent|render.PassOverlay, mc.Mask)

	beacon := w.FindEntity("beacon")
	light := ecs.GetComponent[render.LightComponent](w, beacon)
	require.NotNil(t, light)
	assert.Equal(t, render.LightPoint, light.Kind)
	assert.Equal(t, float32(15), light.Range)
	assert.False(t, ecs.HasComponent[render.MeshComponent](w, beacon))

	crate := w.FindEntity("crate")
	assert.Equal(t, ecs.BodyTypeDynamic, crate.Physics.BodyType)
	assert.Equal(t, ecs.ShapeSphere, crate.Physics.Shape)
	assert.Equal(t, float32(3), crate.Physics.Mass)
	assert.Equal(t, float32(0.2), crate.Physics.Friction)
	assert.Equal(t, ecs.DefaultPhysicsSettings.Gravity, crate.Physics.Gravity)
	assert.True(t, crate.Visible())

	assert.False(t, w.FindEntity("marker").Visible())
	assert.Equal(t, ecs.BodyTypeNone, w.FindEntity("marker").Physics.BodyType)
}

func TestBuildTwiceReusesResources(t *testing.T) {
	s, err := scene.Load(filepath.Join("testdata", "courtyard.yaml"))
	require.NoError(t, err)
	reg := newRegistries(t)

	_, err = s.Build(newWorld(t), reg.meshes, reg.materials)
	require.NoError(t, err)
	_, err = s.Build(newWorld(t), reg.meshes, reg.materials)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.meshes.Len())
	assert.Equal(t, 2, reg.materials.Len())
}

func TestBuildUnknownResource(t *testing.T) {
	s, err := scene.Parse([]byte(`
meshes:
  - {id: 1, name: cube, kind: cube}
materials:
  - {id: 2, name: stone, shader: lit, pass: opaque}
entities:
  - name: ok
    mesh: cube
    material: stone
    children:
      - {name: fine, mesh: cube, material: stone}
  - name: broken
    mesh: sphere
    material: stone
`))
	require.NoError(t, err)

	w := newWorld(t)
	reg := newRegistries(t)
	_, err = s.Build(w, reg.meshes, reg.materials)
	require.Error(t, err)
	assert.ErrorIs(t, err, scene.ErrUnknownResource)
	assert.Contains(t, err.Error(), `"sphere"`)
	assert.Zero(t, w.EntityCount())
	assert.Zero(t, ecs.Cache[render.MeshComponent](w).Len())

	s.Entities[1].Mesh = "cube"
	s.Entities[1].Material = "marble"
	_, err = s.Build(w, reg.meshes, reg.materials)
	assert.ErrorIs(t, err, scene.ErrUnknownResource)
}

func TestBuildResourceConflict(t *testing.T) {
	reg := newRegistries(t)
	vertices, indices := render.CubeGeometry()
	_, err := reg.meshes.Add(1, "rock", vertices, indices)
	require.NoError(t, err)

	s, err := scene.Parse([]byte("meshes:\n  - {id: 1, name: cube, kind: cube}\n"))
	require.NoError(t, err)
	_, err = s.Build(newWorld(t), reg.meshes, reg.materials)
	assert.ErrorIs(t, err, render.ErrDuplicateResource)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero id", "meshes: [{name: a, kind: cube}]", "id must be non-zero"},
		{"shared id", "meshes: [{id: 1, name: a, kind: cube}]\nmaterials: [{id: 1, name: b, shader: lit}]", "already used"},
		{"duplicate name", "meshes: [{id: 1, name: a, kind: cube}, {id: 2, name: a, kind: cube}]", "declared twice"},
		{"mesh kind", "meshes: [{id: 1, name: a, kind: torus}]", "unknown kind"},
		{"plane size", "meshes: [{id: 1, name: a, kind: plane}]", "size must be positive"},
		{"pass", "materials: [{id: 1, name: a, shader: lit, pass: shiny}]", "bad pass"},
		{"mesh without material", "entities: [{name: e, mesh: a}]", "go together"},
		{"light kind", "entities: [{name: e, light: {kind: laser}}]", "unknown light kind"},
		{"body type", "entities: [{name: e, body: {type: ghost}}]", "unknown body type"},
		{"nested shape", "entities: [{name: e, children: [{name: c, body: {type: static, shape: cone}}]}]", "unknown shape"},
		{"vector length", "entities: [{name: e, position: [1, 2]}]", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scene.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := scene.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
