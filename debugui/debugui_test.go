package debugui_test

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plus3/lumen/debugui"
	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/gpu"
	"github.com/plus3/lumen/gpu/soft"
	"github.com/plus3/lumen/render"
)

type Health struct {
	Current int32
	Max     uint16
	Regen   float32
	Alive   bool
	Label   string
	Tags    []string
	Offset  geom.Vec3
	Limit   *float64
	hidden  int
}

func newWorld(t *testing.T) *ecs.World {
	t.Helper()
	r := ecs.NewComponentRegistry()
	ecs.RegisterComponent[Health](r)
	render.RegisterComponents(r)
	debugui.RegisterComponents(r)
	w := ecs.NewWorld(r)
	t.Cleanup(w.Destroy)
	return w
}

func names(rows []debugui.EntityRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Name
	}
	return out
}

func TestWorldBrowserTreeOrder(t *testing.T) {
	w := newWorld(t)
	root := w.CreateEntity("root")
	a := w.CreateEntity("a")
	b := w.CreateEntity("b")
	w.AddChild(root, a)
	w.AddChild(a, b)
	other := w.CreateEntity("other")
	ecs.AddComponent(w, other, Health{Current: 3})

	wb := debugui.NewWorldBrowser(10)
	wb.Refresh(w)
	rows := wb.Filtered()
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"root", "a", "b", "other"}, names(rows))
	assert.Equal(t, []int{0, 1, 2, 0}, []int{rows[0].Depth, rows[1].Depth, rows[2].Depth, rows[3].Depth})
	assert.Equal(t, []string{"debugui_test.Health"}, rows[3].ComponentTypes)

	wb.SortBy(0, false)
	assert.Equal(t, []string{"root", "other", "b", "a"}, names(wb.Filtered()))
	wb.SortBy(-1, true)
	wb.Refresh(w)
	assert.Equal(t, []string{"root", "a", "b", "other"}, names(wb.Filtered()))
}

func TestWorldBrowserRefreshTracksChanges(t *testing.T) {
	w := newWorld(t)
	e := w.CreateEntity("one")

	wb := debugui.NewWorldBrowser(10)
	wb.Refresh(w)
	require.Len(t, wb.Filtered(), 1)

	ecs.AddComponent(w, e, Health{})
	wb.Refresh(w)
	assert.Len(t, wb.Filtered()[0].ComponentTypes, 1)

	w.CreateEntity("two")
	wb.Refresh(w)
	assert.Len(t, wb.Filtered(), 2)

	w.DestroyEntity(e)
	wb.Refresh(w)
	assert.Equal(t, []string{"two"}, names(wb.Filtered()))
}

func TestWorldBrowserFilterAndPaging(t *testing.T) {
	w := newWorld(t)
	for i := range 25 {
		e := w.CreateEntity(fmt.Sprintf("crate-%02d", i))
		if i%5 == 0 {
			ecs.AddComponent(w, e, render.MeshComponent{Mesh: 1, Material: 1})
		}
	}
	w.CreateEntity("Lamp")

	wb := debugui.NewWorldBrowser(10)
	wb.Refresh(w)
	assert.Equal(t, 3, wb.PageCount())
	assert.Len(t, wb.Page(), 10)

	wb.SetPage(2)
	assert.Len(t, wb.Page(), 6)
	wb.SetPage(99)
	assert.Len(t, wb.Page(), 6)

	wb.SetFilter("lamp")
	assert.Equal(t, []string{"Lamp"}, names(wb.Page()))
	assert.Equal(t, 1, wb.PageCount())

	wb.SetFilter("meshcomponent")
	assert.Len(t, wb.Filtered(), 5)

	wb.SetFilter("nothing matches")
	assert.Empty(t, wb.Page())
	assert.Zero(t, wb.PageCount())

	wb.Select(w.FindEntity("Lamp").ID())
	assert.Equal(t, w.FindEntity("Lamp").ID(), wb.Selected())
}

func TestCacheViewer(t *testing.T) {
	w := newWorld(t)
	for i := range 4 {
		e := w.CreateEntity("e")
		ecs.AddComponent(w, e, Health{})
		if i < 2 {
			ecs.AddComponent(w, e, render.LightComponent{})
		}
	}

	cv := debugui.NewCacheViewer()
	cv.SortBy(1, false)
	cv.Refresh(w)
	rows := cv.Rows()
	require.Len(t, rows, 4)
	assert.Equal(t, 4, rows[0].Count)
	assert.Equal(t, 2, rows[1].Count)
	assert.Equal(t, "render.Light", rows[1].Name)
	assert.Positive(t, rows[0].Capacity)
	assert.InDelta(t, float32(rows[0].Count)/float32(rows[0].Capacity), rows[0].Fill(), 1e-6)

	cv.SortBy(0, true)
	assert.Equal(t, "debugui.ImguiItem", cv.Rows()[0].Name)
	assert.Zero(t, debugui.CacheRow{}.Fill())
}

func TestPerformanceStatsAverage(t *testing.T) {
	ps := debugui.NewPerformanceStats(4)
	assert.Zero(t, ps.AverageFrameTime())

	ps.Record(0.010)
	ps.Record(0.020)
	assert.InDelta(t, 15, ps.AverageFrameTime(), 1e-4)

	// older frames fall out of the window
	for range 4 {
		ps.Record(0.004)
	}
	assert.InDelta(t, 4, ps.AverageFrameTime(), 1e-4)
}

func TestReflectionCache(t *testing.T) {
	rc := debugui.NewReflectionCache()
	fields := rc.GetFields(reflect.TypeFor[*Health]())
	require.Len(t, fields, 8)

	byName := map[string]debugui.FieldInfo{}
	for _, f := range fields {
		byName[f.Name] = f
	}
	assert.True(t, byName["Current"].Editable)
	assert.True(t, byName["Tags"].IsSlice)
	assert.False(t, byName["Tags"].Editable)
	assert.True(t, byName["Offset"].IsStruct)
	assert.True(t, byName["Limit"].IsPointer)
	assert.True(t, byName["Limit"].Editable)
	assert.NotContains(t, byName, "hidden")

	assert.Equal(t, fields, rc.GetFields(reflect.TypeFor[Health]()))
	assert.Empty(t, rc.GetFields(reflect.TypeFor[int]()))
}

func TestSetField(t *testing.T) {
	limit := 1.5
	h := &Health{Limit: &limit}

	assert.True(t, debugui.SetField(h, 0, int64(-7)))
	assert.True(t, debugui.SetField(h, 1, uint64(300)))
	assert.True(t, debugui.SetField(h, 2, float64(0.25)))
	assert.True(t, debugui.SetField(h, 3, true))
	assert.True(t, debugui.SetField(h, 4, "boss"))
	assert.True(t, debugui.SetField(h, 7, float64(9)))
	assert.Equal(t, Health{Current: -7, Max: 300, Regen: 0.25, Alive: true, Label: "boss", Limit: &limit}, *h)
	assert.Equal(t, 9.0, limit)

	assert.False(t, debugui.SetField(h, 1, uint64(1<<20)), "overflow")
	assert.False(t, debugui.SetField(h, 1, int64(-1)))
	assert.False(t, debugui.SetField(h, 3, "yes"))
	assert.False(t, debugui.SetField(h, 5, "tag"))
	assert.False(t, debugui.SetField(h, 8, int64(1)), "unexported")
	assert.False(t, debugui.SetField(h, 42, int64(1)))
	assert.False(t, debugui.SetField(*h, 0, int64(1)))
	assert.Equal(t, uint16(300), h.Max)
}

func TestBatchRows(t *testing.T) {
	dev := soft.NewDevice()
	t.Cleanup(dev.Close)
	deletion := gpu.NewDeletionQueue(zap.NewNop())
	meshes := render.NewMeshRegistry(dev, deletion, zap.NewNop())
	materials := render.NewMaterialRegistry(dev, deletion)
	vertices, indices := render.CubeGeometry()
	_, err := meshes.Add(1, "cube", vertices, indices)
	require.NoError(t, err)
	_, err = materials.Add(10, "solid", "lit", render.PassOpaque)
	require.NoError(t, err)
	_, err = materials.Add(11, "glass", "glass", render.PassTransparent)
	require.NoError(t, err)

	w := newWorld(t)
	for i, mat := range []ecs.ResourceID{10, 10, 11} {
		e := w.CreateEntity("box")
		e.SetPosition(geom.V3(float32(i), 0, -5))
		ecs.AddComponent(w, e, render.MeshComponent{Mesh: 1, Material: mat})
	}

	wr, err := render.NewWorldRenderer(dev, w, meshes, materials, deletion, render.WithResolution(64, 64))
	require.NoError(t, err)
	eng, err := render.NewEngine(dev, deletion)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Shutdown() })
	eng.AddWorldRenderer(wr)

	eng.SyncData(1)
	ok, err := eng.Render()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, eng.Join())

	rows := debugui.BatchRows(wr)
	require.Len(t, rows, 2)
	assert.Equal(t, debugui.BatchRow{Pass: render.PassOpaque, Mesh: "cube", Material: "solid", Shader: "lit", Instances: 2}, rows[0])
	assert.Equal(t, debugui.BatchRow{Pass: render.PassTransparent, Mesh: "cube", Material: "glass", Shader: "glass", Instances: 1}, rows[1])
}

func TestSpawnDebugUI(t *testing.T) {
	w := newWorld(t)
	spawned := debugui.SpawnDebugUI(w, nil)
	assert.Len(t, spawned, 4)
	for _, e := range spawned {
		assert.False(t, e.Visible())
		assert.True(t, ecs.HasComponent[debugui.ImguiItem](w, e))
	}
	assert.True(t, ecs.NewSingleton[debugui.ImguiInputState](w).Exists())
	assert.Equal(t, 1, w.Scheduler().GetStats().SystemCount)
}
