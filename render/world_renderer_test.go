package render_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/gpu"
	"github.com/plus3/lumen/gpu/soft"
	"github.com/plus3/lumen/render"
)

func (f *fixture) worldRenderer(t *testing.T, world *ecs.World, opts ...render.Option) *render.WorldRenderer {
	t.Helper()
	wr, err := render.NewWorldRenderer(f.dev, world, f.meshes, f.materials, f.deletion, opts...)
	require.NoError(t, err)
	return wr
}

func spawn(w *ecs.World, name string, pos geom.Vec3, c render.MeshComponent) *ecs.Entity {
	e := w.CreateEntity(name)
	e.SetPosition(pos)
	ecs.AddComponent(w, e, c)
	return e
}

func TestWorldRendererTracksComponents(t *testing.T) {
	f := newFixture(t)
	w := newRenderWorld(t)
	a := spawn(w, "a", geom.V3(0, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})

	wr := f.worldRenderer(t, w)
	n, lights := wr.Tracked()
	assert.Equal(t, 1, n)
	assert.Zero(t, lights)

	b := spawn(w, "b", geom.V3(0, 0, -6), render.MeshComponent{Mesh: 1, Material: 10})
	ecs.AddComponent(w, b, render.LightComponent{Kind: render.LightPoint, Intensity: 1})
	n, lights = wr.Tracked()
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, lights)

	require.True(t, ecs.RemoveComponent[render.MeshComponent](w, a))
	n, _ = wr.Tracked()
	assert.Equal(t, 1, n)

	w.DestroyEntity(b)
	n, lights = wr.Tracked()
	assert.Zero(t, n)
	assert.Zero(t, lights)

	spawn(w, "c", geom.V3(0, 0, -7), render.MeshComponent{Mesh: 1, Material: 10})
	w.Destroy()
	assert.Nil(t, wr.World())
	n, _ = wr.Tracked()
	assert.Zero(t, n)
}

func TestWorldRendererSyncData(t *testing.T) {
	f := newFixture(t)
	cube := f.cube(t, 1, "cube")
	solid := f.material(t, 10, "solid", "lit", render.PassOpaque)
	glass := f.material(t, 11, "glass", "glass", render.PassTransparent)

	w := newRenderWorld(t)
	w.GfxSettings().AmbientColor = geom.V3(0.1, 0.2, 0.3)
	a := spawn(w, "a", geom.V3(0, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})
	hidden := spawn(w, "hidden", geom.V3(0, 0, -6), render.MeshComponent{Mesh: 1, Material: 10})
	hidden.SetVisible(false)
	spawn(w, "unknown", geom.V3(0, 0, -7), render.MeshComponent{Mesh: 99, Material: 10})
	g := spawn(w, "glass", geom.V3(2, 0, -8), render.MeshComponent{Mesh: 1, Material: 11, Mask: render.PassTransparent | render.PassShadow})
	lamp := w.CreateEntity("lamp")
	lamp.SetPosition(geom.V3(0, 5, 0))
	ecs.AddComponent(w, lamp, render.LightComponent{Kind: render.LightPoint, Color: geom.One3, Intensity: 2, Range: 10})

	wr := f.worldRenderer(t, w)
	assert.Nil(t, wr.Snapshot())
	wr.Tick(0.016)
	wr.SyncData(1)

	snap := wr.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Sync)
	assert.Equal(t, geom.V3(0.1, 0.2, 0.3), snap.Ambient)
	assert.Equal(t, uint32(1280), snap.Width)
	assert.InDelta(t, 0.016, snap.Elapsed, 1e-9)

	require.Len(t, snap.Renderables, 2)
	byEntity := map[ecs.EntityId]render.RenderableData{}
	for i, r := range snap.Renderables {
		assert.Equal(t, uint32(i), r.ObjectIndex)
		byEntity[r.Entity] = r
	}

	ra := byEntity[a.ID()]
	assert.Same(t, cube, ra.Mesh)
	assert.Same(t, solid, ra.Material)
	assert.Equal(t, render.PassOpaque, ra.Mask)
	assert.Equal(t, a.GUID(), ra.GUID)
	assert.Equal(t, geom.V3(0, 0, -5), ra.Position)
	assert.Equal(t, geom.V3(-0.5, -0.5, -5.5), ra.Bounds.Min)
	assert.Equal(t, geom.V3(0.5, 0.5, -4.5), ra.Bounds.Max)

	rg := byEntity[g.ID()]
	assert.Same(t, glass, rg.Material)
	assert.Equal(t, render.PassTransparent|render.PassShadow, rg.Mask)

	require.Len(t, snap.Lights, 1)
	assert.Equal(t, lamp.ID(), snap.Lights[0].Entity)
	assert.Equal(t, geom.V3(0, 5, 0), snap.Lights[0].Position)
	assert.Equal(t, float32(2), snap.Lights[0].Intensity)

	// the published snapshot does not follow the world
	a.SetPosition(geom.V3(9, 9, 9))
	assert.Equal(t, geom.V3(0, 0, -5), wr.Snapshot().Renderables[ra.ObjectIndex].Position)
	wr.SyncData(1)
	assert.Equal(t, uint64(2), wr.Snapshot().Sync)
	assert.NotSame(t, snap, wr.Snapshot())
}

func TestWorldRendererInterpolatesTransforms(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 1, "cube")
	f.material(t, 10, "solid", "lit", render.PassOpaque)

	w := newRenderWorld(t)
	e := spawn(w, "mover", geom.V3(0, 0, -10), render.MeshComponent{Mesh: 1, Material: 10})
	next := e.Transform()
	next.Position = geom.V3(10, 0, -10)
	e.SetSimulatedTransform(next)

	wr := f.worldRenderer(t, w)
	for _, tc := range []struct {
		alpha float32
		x     float32
	}{{0, 0}, {0.25, 2.5}, {0.5, 5}, {1, 10}} {
		wr.SyncData(tc.alpha)
		snap := wr.Snapshot()
		require.Len(t, snap.Renderables, 1)
		assert.InDelta(t, tc.x, snap.Renderables[0].Position.X, 1e-5, "alpha %v", tc.alpha)
		assert.InDelta(t, tc.x, snap.Renderables[0].Model[12], 1e-5)
		assert.Equal(t, tc.alpha, snap.Alpha)
	}
}

func TestWorldRendererObjectBufferCap(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 1, "cube")
	f.material(t, 10, "solid", "lit", render.PassOpaque)

	core, logs := observer.New(zapcore.WarnLevel)
	w := newRenderWorld(t)
	for i := range 5 {
		spawn(w, "e", geom.V3(float32(i), 0, -5), render.MeshComponent{Mesh: 1, Material: 10})
	}
	wr := f.worldRenderer(t, w, render.WithObjectBufferMax(2), render.WithLogger(zap.New(core)))
	wr.SyncData(1)

	snap := wr.Snapshot()
	assert.Len(t, snap.Renderables, 2)
	assert.Equal(t, 3, snap.Dropped)
	entries := logs.FilterMessage("object buffer full, renderables dropped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["dropped"])
}

func TestWorldRendererDisableRendering(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 1, "cube")
	f.material(t, 10, "solid", "lit", render.PassOpaque)

	w := newRenderWorld(t)
	spawn(w, "e", geom.V3(0, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})
	w.SetFlags(ecs.WorldFlagDisableRendering)

	wr := f.worldRenderer(t, w)
	wr.SyncData(1)
	assert.Empty(t, wr.Snapshot().Renderables)

	w.SetFlags(0)
	wr.SyncData(1)
	assert.Len(t, wr.Snapshot().Renderables, 1)
}

func TestWorldRendererSyncedActions(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 1, "cube")
	f.material(t, 10, "solid", "lit", render.PassOpaque)

	w1 := newRenderWorld(t)
	spawn(w1, "one", geom.V3(0, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})
	w2 := newRenderWorld(t)
	spawn(w2, "two", geom.V3(0, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})
	spawn(w2, "three", geom.V3(1, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})

	wr := f.worldRenderer(t, w1, render.WithResolution(320, 200))
	old := wr.Target(0)
	require.NotNil(t, old)
	assert.Equal(t, uint32(320), old.Width())

	wr.SetWorld(w2)
	wr.SetRenderResolution(640, 480)
	wr.SetAspectRatio(2)
	assert.Same(t, w1, wr.World())
	w, h := wr.Resolution()
	assert.Equal(t, uint32(320), w)
	assert.Equal(t, uint32(200), h)

	pending := f.deletion.Pending()
	wr.SyncData(1)
	assert.Same(t, w2, wr.World())
	n, _ := wr.Tracked()
	assert.Equal(t, 2, n)
	assert.Len(t, wr.Snapshot().Renderables, 2)
	assert.Equal(t, uint32(640), wr.Snapshot().Width)
	assert.Equal(t, uint32(640), wr.Target(0).Width())
	assert.Equal(t, uint32(480), wr.Target(1).Height())

	// color and depth of both slots wait in the deletion queue
	assert.Equal(t, pending+4, f.deletion.Pending())
	assert.True(t, old.Ready())

	// w1 is no longer observed
	spawn(w1, "late", geom.V3(0, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})
	n, _ = wr.Tracked()
	assert.Equal(t, 2, n)
}

func TestWorldRendererResizeFailureKeepsTargets(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	w := newRenderWorld(t)
	wr := f.worldRenderer(t, w, render.WithResolution(320, 200), render.WithLogger(zap.New(core)))

	f.dev.FailCreate(soft.KindImage, nil)
	wr.SetRenderResolution(800, 600)
	wr.SyncData(1)

	width, _ := wr.Resolution()
	assert.Equal(t, uint32(320), width)
	assert.Equal(t, uint32(320), wr.Target(0).Width())
	assert.Equal(t, 1, logs.FilterMessage("resize render targets").Len())
}

func TestWorldRendererResizeIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	w := newRenderWorld(t)
	wr := f.worldRenderer(t, w, render.WithResolution(320, 200), render.WithLogger(zap.New(core)))
	live, pending := f.dev.LiveObjects(), f.deletion.Pending()
	old := wr.Target(0)

	// slot 0 gets both new images, slot 1 fails on its color target
	f.dev.FailCreateAfter(soft.KindImage, 2, nil)
	wr.SetRenderResolution(800, 600)
	wr.SyncData(1)

	width, height := wr.Resolution()
	assert.Equal(t, uint32(320), width)
	assert.Equal(t, uint32(200), height)
	for i := range gpu.FramesInFlight {
		assert.Equal(t, uint32(320), wr.Target(i).Width(), "slot %d", i)
		assert.Equal(t, uint32(200), wr.Target(i).Height(), "slot %d", i)
	}
	assert.Same(t, old, wr.Target(0))
	assert.Equal(t, live, f.dev.LiveObjects())
	assert.Equal(t, pending, f.deletion.Pending())
	assert.Equal(t, 1, logs.FilterMessage("resize render targets").Len())

	wr.SetRenderResolution(800, 600)
	wr.SyncData(1)
	for i := range gpu.FramesInFlight {
		assert.Equal(t, uint32(800), wr.Target(i).Width(), "slot %d", i)
	}
}

func TestWorldRendererRender(t *testing.T) {
	f := newFixture(t)
	f.cube(t, 1, "cube")
	f.material(t, 10, "solid", "lit", render.PassOpaque)
	f.material(t, 11, "glass", "glass", render.PassTransparent)

	w := newRenderWorld(t)
	spawn(w, "a", geom.V3(0, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})
	spawn(w, "b", geom.V3(1, 0, -5), render.MeshComponent{Mesh: 1, Material: 10})
	spawn(w, "c", geom.V3(2, 0, -5), render.MeshComponent{Mesh: 1, Material: 11})

	wr := f.worldRenderer(t, w)
	wr.Tick(0.016)
	assert.Equal(t, render.SlotTicking, wr.SlotState(0))
	wr.SyncData(1)
	assert.Equal(t, render.SlotSyncingData, wr.SlotState(0))

	cmd, err := wr.Render(0)
	require.NoError(t, err)
	assert.Equal(t, render.SlotSubmitted, wr.SlotState(0))
	assert.Equal(t, render.SlotIdle, wr.SlotState(1))

	stats := wr.Stats(0)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 3, stats.Instances)
	assert.Equal(t, 3, stats.Commands)
	assert.Equal(t, 1, f.meshes.Uploads())

	sc := cmd.(*soft.CommandBuffer)
	commands := sc.Commands()
	require.NotEmpty(t, commands)
	assert.Equal(t, soft.OpSetViewport, commands[0].Op)
	assert.Equal(t, soft.OpBeginRenderPass, commands[1].Op)
	assert.Equal(t, soft.OpBindDescriptorSet, commands[2].Op)
	assert.Equal(t, soft.OpEndRenderPass, commands[len(commands)-1].Op)
	assert.Equal(t, 2, sc.Count(soft.OpDrawIndexedIndirect))
	assert.Equal(t, 1, sc.Count(soft.OpBindVertexBuffer))

	buffers := commands[2].Set.(*soft.DescriptorSet).Buffers()
	require.Len(t, buffers, 4)
	scene := buffers[0].(*soft.Buffer).Bytes()
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(scene[28:]))
	objects := buffers[3].(*soft.Buffer).Bytes()
	snap := wr.Snapshot()
	for i, r := range snap.Renderables {
		tx := math.Float32frombits(binary.LittleEndian.Uint32(objects[i*render.ObjectDataSize+12*4:]))
		assert.Equal(t, r.Model[12], tx)
	}

	// the transparent pass continues after the opaque commands
	var offsets []int
	for _, c := range commands {
		if c.Op == soft.OpDrawIndexedIndirect {
			offsets = append(offsets, c.Offset)
		}
	}
	assert.Equal(t, []int{0, 2 * gpu.DrawIndexedIndirectCommandSize}, offsets)

	require.NoError(t, f.dev.Queue().Submit([]gpu.SubmitInfo{{CommandBuffers: []gpu.CommandBuffer{cmd}}}, nil))
	require.NoError(t, f.dev.WaitIdle())
	execs := f.dev.SoftQueue().Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, 3, execs[0].Draws)
	assert.Equal(t, 3, execs[0].Instances)
	assert.Empty(t, f.dev.Hazards())
}

func TestWorldRendererRenderBeforeSync(t *testing.T) {
	f := newFixture(t)
	wr := f.worldRenderer(t, nil, render.WithResolution(64, 64))
	cmd, err := wr.Render(1)
	require.NoError(t, err)
	assert.Zero(t, cmd.(*soft.CommandBuffer).Count(soft.OpDrawIndexedIndirect))
}

func TestWorldRendererDestroyRetiresSlots(t *testing.T) {
	f := newFixture(t)
	w := newRenderWorld(t)
	wr := f.worldRenderer(t, w)
	live := f.deletion.Live()
	require.NotZero(t, live)

	wr.Destroy()
	assert.Zero(t, f.deletion.Live())
	assert.Equal(t, live, f.deletion.Pending())
	assert.Nil(t, wr.World())
	assert.Nil(t, wr.Target(0))

	_, err := wr.Render(0)
	assert.ErrorIs(t, err, gpu.ErrNotReady)
}

func TestNewWorldRendererCreateFailure(t *testing.T) {
	f := newFixture(t)
	f.dev.FailCreate(soft.KindCommandBuffer, nil)
	_, err := render.NewWorldRenderer(f.dev, nil, f.meshes, f.materials, f.deletion)
	require.Error(t, err)
	assert.Zero(t, f.deletion.Live())
}
