package debugui

import (
	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/engine"
)

// SpawnDebugUI creates one ImguiItem entity per debug window in w and
// registers ImguiSystem with its scheduler. eng may be nil for a world that
// is not driven by an engine. The entities are returned so callers can
// hide them from their own views.
func SpawnDebugUI(w *ecs.World, eng *engine.Engine) []*ecs.Entity {
	browser := NewWorldBrowser(100)
	inspector := NewComponentInspector()
	caches := NewCacheViewer()
	perf := NewPerformanceStats(120)
	passes := NewDrawPassViewer()
	timer := NewFrameTimer()

	windows := []func(){
		func() { browser.Render(w) },
		func() { inspector.Render(w, browser.Selected()) },
		func() { caches.Render(w) },
		func() { perf.Render(w, eng, timer.GetDeltaTime()) },
	}
	if eng != nil {
		windows = append(windows, func() { passes.Render(eng.WorldRenderer()) })
	}

	var spawned []*ecs.Entity
	for _, render := range windows {
		e := w.CreateEntity("debugui")
		e.SetVisible(false)
		ecs.AddComponent(w, e, ImguiItem{Render: render})
		spawned = append(spawned, e)
	}
	ecs.NewSingleton[ImguiInputState](w)
	w.Scheduler().Register(&ImguiSystem{})
	return spawned
}
