package debugui

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/AllenDang/cimgui-go/imgui"

	"github.com/plus3/lumen/ecs"
)

type CacheRow struct {
	Name      string
	Count     int
	Capacity  int
	FreeSlots int
}

// Fill is the share of allocated slots in use.
func (r CacheRow) Fill() float32 {
	if r.Capacity == 0 {
		return 0
	}
	return float32(r.Count) / float32(r.Capacity)
}

func NewCacheViewer() *CacheViewer {
	return &CacheViewer{sortColumn: 1}
}

func (cv *CacheViewer) Render(w *ecs.World) {
	if !imgui.BeginV("Component Caches", nil, imgui.WindowFlagsNone) {
		imgui.End()
		return
	}

	cv.Refresh(w)

	maxCount := 0
	for _, row := range cv.rows {
		maxCount = max(maxCount, row.Count)
	}

	const tableFlags = imgui.TableFlagsBorders | imgui.TableFlagsRowBg | imgui.TableFlagsSortable | imgui.TableFlagsScrollY
	if imgui.BeginTableV("CacheTable", 4, tableFlags, imgui.NewVec2(0, 0), 0) {
		imgui.TableSetupColumn("Component")
		imgui.TableSetupColumn("Count")
		imgui.TableSetupColumn("Capacity")
		imgui.TableSetupColumn("Free Slots")
		imgui.TableHeadersRow()

		sortSpecs := imgui.TableGetSortSpecs()
		if sortSpecs.SpecsDirty() && sortSpecs.SpecsCount() > 0 {
			spec := sortSpecs.Specs()
			cv.SortBy(int(spec.ColumnIndex()), spec.SortDirection() == imgui.SortDirectionAscending)
			sortSpecs.SetSpecsDirty(false)
		}

		for _, row := range cv.rows {
			imgui.TableNextRow()

			imgui.TableNextColumn()
			imgui.Text(row.Name)

			imgui.TableNextColumn()
			imgui.Text(fmt.Sprintf("%d", row.Count))
			if maxCount > 0 {
				barWidth := float32(row.Count) / float32(maxCount) * 80.0
				imgui.SameLine()
				drawList := imgui.WindowDrawList()
				pos := imgui.CursorScreenPos()
				color := imgui.ColorU32Vec4(imgui.NewVec4(0.2, 0.6, 0.8, 0.6))
				drawList.AddRectFilled(pos, imgui.NewVec2(pos.X+barWidth, pos.Y+10), color)
			}

			imgui.TableNextColumn()
			imgui.Text(fmt.Sprintf("%d (%.0f%%)", row.Capacity, row.Fill()*100))

			imgui.TableNextColumn()
			imgui.Text(fmt.Sprintf("%d", row.FreeSlots))
		}

		imgui.EndTable()
	}

	imgui.End()
}

// Refresh reads the current cache counts and keeps the chosen order.
func (cv *CacheViewer) Refresh(w *ecs.World) {
	stats := w.CollectStats()
	cv.rows = cv.rows[:0]
	for _, c := range stats.Caches {
		cv.rows = append(cv.rows, CacheRow{Name: c.Name, Count: c.Count, Capacity: c.Capacity, FreeSlots: c.FreeSlots})
	}
	cv.sortRows()
}

// SortBy orders rows by column: 0 name, 1 count, 2 capacity, 3 free slots.
func (cv *CacheViewer) SortBy(column int, ascending bool) {
	cv.sortColumn = column
	cv.sortAscending = ascending
	cv.sortRows()
}

func (cv *CacheViewer) sortRows() {
	slices.SortStableFunc(cv.rows, func(a, b CacheRow) int {
		var c int
		switch cv.sortColumn {
		case 0:
			c = strings.Compare(a.Name, b.Name)
		case 2:
			c = cmp.Compare(a.Capacity, b.Capacity)
		case 3:
			c = cmp.Compare(a.FreeSlots, b.FreeSlots)
		default:
			c = cmp.Compare(a.Count, b.Count)
		}
		if !cv.sortAscending {
			return -c
		}
		return c
	})
}

func (cv *CacheViewer) Rows() []CacheRow { return cv.rows }
