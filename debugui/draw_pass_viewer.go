package debugui

import (
	"fmt"

	"github.com/AllenDang/cimgui-go/imgui"

	"github.com/plus3/lumen/gpu"
	"github.com/plus3/lumen/render"
)

// BatchRow describes one instanced batch.
type BatchRow struct {
	Pass      render.PassMask
	Mesh      string
	Material  string
	Shader    string
	Instances uint32
}

func NewDrawPassViewer() *DrawPassViewer {
	return &DrawPassViewer{selectedPass: -1}
}

// BatchRows copies the batches of every pass of wr. Passes are cloned, so
// it may run while wr records a frame.
func BatchRows(wr *render.WorldRenderer) []BatchRow {
	var rows []BatchRow
	for _, pass := range wr.Passes() {
		snapshot := pass.Clone()
		for _, b := range snapshot.Batches() {
			row := BatchRow{Pass: snapshot.Mask(), Instances: b.Count}
			if b.Mesh != nil {
				row.Mesh = b.Mesh.Name
			}
			if b.Material != nil {
				row.Material = b.Material.Name
				row.Shader = b.Material.Shader
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func (dv *DrawPassViewer) Render(wr *render.WorldRenderer) {
	if !imgui.BeginV("Draw Passes", nil, imgui.WindowFlagsNone) {
		imgui.End()
		return
	}
	if wr == nil {
		imgui.Text("No world renderer")
		imgui.End()
		return
	}

	width, height := wr.Resolution()
	renderables, lights := wr.Tracked()
	imgui.Text(fmt.Sprintf("Resolution: %dx%d", width, height))
	imgui.Text(fmt.Sprintf("Tracked: %d renderables, %d lights", renderables, lights))
	if snap := wr.Snapshot(); snap != nil {
		imgui.Text(fmt.Sprintf("Snapshot %d: %d renderables, %d lights, %d dropped, alpha %.2f",
			snap.Sync, len(snap.Renderables), len(snap.Lights), snap.Dropped, snap.Alpha))
	}
	for i := range gpu.FramesInFlight {
		s := wr.Stats(i)
		imgui.BulletText(fmt.Sprintf("slot %d [%s]: %d batches, %d instances, %d pipeline binds, %d skipped",
			i, wr.SlotState(i), s.Batches, s.Instances, s.PipelineBinds, s.Skipped))
	}
	imgui.Separator()

	if imgui.Button("All passes") {
		dv.selectedPass = -1
	}
	for i, pass := range wr.Passes() {
		imgui.SameLine()
		if imgui.Button(fmt.Sprintf("%s##%d", pass.Mask(), i)) {
			dv.selectedPass = i
		}
	}

	const tableFlags = imgui.TableFlagsBorders | imgui.TableFlagsRowBg | imgui.TableFlagsScrollY
	if imgui.BeginTableV("BatchTable", 5, tableFlags, imgui.NewVec2(0, 0), 0) {
		imgui.TableSetupColumn("Pass")
		imgui.TableSetupColumn("Mesh")
		imgui.TableSetupColumn("Material")
		imgui.TableSetupColumn("Shader")
		imgui.TableSetupColumn("Instances")
		imgui.TableHeadersRow()

		passes := wr.Passes()
		for _, row := range BatchRows(wr) {
			if dv.selectedPass >= 0 && dv.selectedPass < len(passes) && passes[dv.selectedPass].Mask() != row.Pass {
				continue
			}
			imgui.TableNextRow()
			imgui.TableNextColumn()
			imgui.Text(row.Pass.String())
			imgui.TableNextColumn()
			imgui.Text(row.Mesh)
			imgui.TableNextColumn()
			imgui.Text(row.Material)
			imgui.TableNextColumn()
			imgui.Text(row.Shader)
			imgui.TableNextColumn()
			imgui.Text(fmt.Sprintf("%d", row.Instances))
		}

		imgui.EndTable()
	}

	imgui.End()
}
