package debugui

import (
	"fmt"
	"time"

	"github.com/AllenDang/cimgui-go/imgui"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/engine"
)

func NewPerformanceStats(historyFrames int) *PerformanceStats {
	if historyFrames <= 0 {
		historyFrames = 120
	}
	return &PerformanceStats{
		historyFrames: historyFrames,
		frameHistory:  make([]float32, historyFrames),
	}
}

// Record adds one frame time in seconds to the history.
func (ps *PerformanceStats) Record(deltaTime float32) {
	ps.frameHistory[ps.frameIndex] = deltaTime * 1000.0
	ps.frameIndex = (ps.frameIndex + 1) % ps.historyFrames
	ps.filled = min(ps.filled+1, ps.historyFrames)
}

// AverageFrameTime is the mean of the recorded frames in milliseconds.
func (ps *PerformanceStats) AverageFrameTime() float32 {
	if ps.filled == 0 {
		return 0
	}
	var sum float32
	for _, ft := range ps.frameHistory[:ps.filled] {
		sum += ft
	}
	return sum / float32(ps.filled)
}

// Render draws the window. eng may be nil.
func (ps *PerformanceStats) Render(w *ecs.World, eng *engine.Engine, deltaTime float32) {
	if !imgui.BeginV("Performance Stats", nil, imgui.WindowFlagsNone) {
		imgui.End()
		return
	}

	ps.Record(deltaTime)
	stats := w.CollectStats()

	imgui.Text(fmt.Sprintf("Entities: %d (%d roots, %d free ids)", stats.EntityCount, stats.RootCount, stats.FreeEntityIds))
	imgui.Text(fmt.Sprintf("Components: %d in %d caches", stats.TotalComponents, stats.CacheCount))
	imgui.Text(fmt.Sprintf("Singletons: %d", stats.SingletonCount))
	imgui.Text(fmt.Sprintf("Play: %s / %s, elapsed %.1fs", stats.PlayMode, stats.PlayState, stats.Elapsed))

	avg := ps.AverageFrameTime()
	if avg > 0 {
		imgui.Text(fmt.Sprintf("Avg Frame Time: %.2f ms (%.0f FPS)", avg, 1000.0/avg))
	}

	imgui.Separator()
	imgui.Text("Frame Time Graph (ms)")
	imgui.PlotLinesFloatPtr("##frametime", &ps.frameHistory[0], int32(len(ps.frameHistory)))

	if eng != nil && imgui.TreeNodeStr("Engine") {
		es := eng.Stats()
		imgui.Text(fmt.Sprintf("Steps: %d (%d clamped)", es.Steps, es.Clamped))
		imgui.Text(fmt.Sprintf("Frames: %d submitted, %d skipped", es.Render.Submitted, es.Render.Skipped))
		imgui.Text(fmt.Sprintf("Last update: %s", es.Update.Round(time.Microsecond)))
		imgui.Text(fmt.Sprintf("Draws: %d batches, %d instances, %d commands", es.Render.Draw.Batches, es.Render.Draw.Instances, es.Render.Draw.Commands))
		imgui.Text(fmt.Sprintf("Physics bodies: %d, accumulator %.4f", eng.Physics().BodyCount(), eng.Physics().Accumulator()))
		imgui.TreePop()
	}

	if imgui.TreeNodeStr("Systems") {
		const tableFlags = imgui.TableFlagsBorders | imgui.TableFlagsRowBg
		if imgui.BeginTableV("SystemStatsTable", 4, tableFlags, imgui.NewVec2(0, 0), 0) {
			imgui.TableSetupColumn("System")
			imgui.TableSetupColumn("Runs")
			imgui.TableSetupColumn("Avg")
			imgui.TableSetupColumn("Max")
			imgui.TableHeadersRow()

			for _, s := range w.Scheduler().GetStats().Systems {
				imgui.TableNextRow()
				imgui.TableNextColumn()
				imgui.Text(s.Name)
				imgui.TableNextColumn()
				imgui.Text(fmt.Sprintf("%d", s.ExecutionCount))
				imgui.TableNextColumn()
				imgui.Text(s.AvgDuration.String())
				imgui.TableNextColumn()
				imgui.Text(s.MaxDuration.String())
			}

			imgui.EndTable()
		}
		imgui.TreePop()
	}

	if imgui.TreeNodeStr("Singleton Details") {
		for _, singletonType := range stats.SingletonTypes {
			imgui.BulletText(singletonType)
		}
		imgui.TreePop()
	}

	imgui.End()
}

// FrameTimer measures the time between calls to GetDeltaTime.
type FrameTimer struct {
	lastFrameTime time.Time
}

func NewFrameTimer() *FrameTimer {
	return &FrameTimer{
		lastFrameTime: time.Now(),
	}
}

func (ft *FrameTimer) GetDeltaTime() float32 {
	now := time.Now()
	delta := float32(now.Sub(ft.lastFrameTime).Seconds())
	ft.lastFrameTime = now
	return delta
}
