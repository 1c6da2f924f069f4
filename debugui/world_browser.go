package debugui

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/AllenDang/cimgui-go/imgui"

	"github.com/plus3/lumen/ecs"
)

// EntityRow is one line of the world browser.
type EntityRow struct {
	ID             ecs.EntityId
	Name           string
	Depth          int
	Visible        bool
	ComponentTypes []string
}

type worldBrowserCache struct {
	rows          []EntityRow
	entities      int
	components    int
	sortColumn    int
	sortAscending bool
}

func NewWorldBrowser(maxEntitiesPerPage int) *WorldBrowser {
	if maxEntitiesPerPage <= 0 {
		maxEntitiesPerPage = 100
	}
	return &WorldBrowser{
		cache:              &worldBrowserCache{sortAscending: true, sortColumn: -1},
		maxEntitiesPerPage: maxEntitiesPerPage,
	}
}

func (wb *WorldBrowser) Render(w *ecs.World) {
	if !imgui.BeginV("World Browser", nil, imgui.WindowFlagsNone) {
		imgui.End()
		return
	}

	wb.Refresh(w)

	if imgui.InputTextWithHint("##search", "Search...", &wb.filterText, imgui.InputTextFlagsNone, nil) {
		wb.currentPage = 0
	}
	imgui.SameLine()
	if imgui.Button("Clear Filter") {
		wb.SetFilter("")
	}

	const tableFlags = imgui.TableFlagsBorders | imgui.TableFlagsRowBg | imgui.TableFlagsSortable | imgui.TableFlagsScrollY
	if imgui.BeginTableV("EntityTable", 4, tableFlags, imgui.NewVec2(0, -30), 0) {
		imgui.TableSetupColumn("Entity")
		imgui.TableSetupColumn("ID")
		imgui.TableSetupColumn("Components")
		imgui.TableSetupColumn("Visible")
		imgui.TableHeadersRow()

		sortSpecs := imgui.TableGetSortSpecs()
		if sortSpecs.SpecsDirty() && sortSpecs.SpecsCount() > 0 {
			spec := sortSpecs.Specs()
			wb.SortBy(int(spec.ColumnIndex()), spec.SortDirection() == imgui.SortDirectionAscending)
			sortSpecs.SetSpecsDirty(false)
		}

		for _, row := range wb.Page() {
			imgui.TableNextRow()

			imgui.TableNextColumn()
			label := strings.Repeat("  ", row.Depth) + row.Name + fmt.Sprintf("##%d", row.ID)
			if imgui.SelectableBoolV(label, wb.selectedEntityId == row.ID, imgui.SelectableFlagsSpanAllColumns, imgui.NewVec2(0, 0)) {
				wb.selectedEntityId = row.ID
			}

			imgui.TableNextColumn()
			imgui.Text(fmt.Sprintf("%d:%d", row.ID.Index(), row.ID.Generation()))

			imgui.TableNextColumn()
			imgui.Text(strings.Join(row.ComponentTypes, ", "))

			imgui.TableNextColumn()
			imgui.Text(fmt.Sprintf("%t", row.Visible))
		}

		imgui.EndTable()
	}

	total := len(wb.Filtered())
	if pages := wb.PageCount(); pages > 1 {
		imgui.Text(fmt.Sprintf("Page %d / %d (%d entities)", wb.currentPage+1, pages, total))
		imgui.SameLine()
		if imgui.Button("Prev") && wb.currentPage > 0 {
			wb.currentPage--
		}
		imgui.SameLine()
		if imgui.Button("Next") && wb.currentPage < pages-1 {
			wb.currentPage++
		}
	} else {
		imgui.Text(fmt.Sprintf("Total: %d entities", total))
	}

	imgui.End()
}

// Refresh rebuilds the rows when the world's entity or component count
// changed since the last call.
func (wb *WorldBrowser) Refresh(w *ecs.World) {
	stats := w.CollectStats()
	if wb.cache.rows != nil && stats.EntityCount == wb.cache.entities && stats.TotalComponents == wb.cache.components {
		return
	}
	wb.cache.entities = stats.EntityCount
	wb.cache.components = stats.TotalComponents

	wb.cache.rows = make([]EntityRow, 0, stats.EntityCount)
	var walk func(e *ecs.Entity, depth int)
	walk = func(e *ecs.Entity, depth int) {
		row := EntityRow{ID: e.ID(), Name: e.Name(), Depth: depth, Visible: e.Visible()}
		for _, c := range w.Components(e) {
			row.ComponentTypes = append(row.ComponentTypes, reflect.TypeOf(c).Elem().String())
		}
		wb.cache.rows = append(wb.cache.rows, row)
		for _, child := range w.Children(e) {
			walk(child, depth+1)
		}
	}
	for _, root := range w.Roots() {
		walk(root, 0)
	}
	wb.sortRows()

	if pages := wb.PageCount(); wb.currentPage >= pages {
		wb.currentPage = max(pages-1, 0)
	}
}

// SortBy orders rows by column: 0 name, 1 id, 2 component list, 3 visibility.
// A negative column restores tree order.
func (wb *WorldBrowser) SortBy(column int, ascending bool) {
	wb.cache.sortColumn = column
	wb.cache.sortAscending = ascending
	if column < 0 {
		wb.cache.rows = nil
		return
	}
	wb.sortRows()
}

func (wb *WorldBrowser) sortRows() {
	if wb.cache.sortColumn < 0 {
		return
	}
	slices.SortStableFunc(wb.cache.rows, func(a, b EntityRow) int {
		var c int
		switch wb.cache.sortColumn {
		case 0:
			c = strings.Compare(a.Name, b.Name)
		case 2:
			c = strings.Compare(strings.Join(a.ComponentTypes, ","), strings.Join(b.ComponentTypes, ","))
		case 3:
			c = cmp.Compare(boolInt(a.Visible), boolInt(b.Visible))
		default:
			c = cmp.Compare(a.ID, b.ID)
		}
		if !wb.cache.sortAscending {
			return -c
		}
		return c
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (wb *WorldBrowser) SetFilter(text string) {
	wb.filterText = text
	wb.currentPage = 0
}

// Filtered returns the rows whose name, id or component types contain the
// filter text, ignoring case.
func (wb *WorldBrowser) Filtered() []EntityRow {
	if wb.filterText == "" {
		return wb.cache.rows
	}

	filtered := make([]EntityRow, 0, len(wb.cache.rows))
	filterLower := strings.ToLower(wb.filterText)
	for _, row := range wb.cache.rows {
		idStr := fmt.Sprintf("%d", row.ID)
		componentsStr := strings.ToLower(strings.Join(row.ComponentTypes, " "))
		if !strings.Contains(strings.ToLower(row.Name), filterLower) &&
			!strings.Contains(idStr, filterLower) &&
			!strings.Contains(componentsStr, filterLower) {
			continue
		}
		filtered = append(filtered, row)
	}
	return filtered
}

func (wb *WorldBrowser) PageCount() int {
	n := len(wb.Filtered())
	return (n + wb.maxEntitiesPerPage - 1) / wb.maxEntitiesPerPage
}

// Page returns the filtered rows of the current page.
func (wb *WorldBrowser) Page() []EntityRow {
	rows := wb.Filtered()
	start := min(wb.currentPage*wb.maxEntitiesPerPage, len(rows))
	end := min(start+wb.maxEntitiesPerPage, len(rows))
	return rows[start:end]
}

func (wb *WorldBrowser) SetPage(page int) {
	wb.currentPage = max(0, min(page, wb.PageCount()-1))
}

func (wb *WorldBrowser) Selected() ecs.EntityId { return wb.selectedEntityId }
func (wb *WorldBrowser) Select(id ecs.EntityId) { wb.selectedEntityId = id }
