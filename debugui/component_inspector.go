package debugui

import (
	"fmt"
	"reflect"

	"github.com/AllenDang/cimgui-go/imgui"

	"github.com/plus3/lumen/ecs"
)

func NewComponentInspector() *ComponentInspector {
	return &ComponentInspector{}
}

func (ci *ComponentInspector) Render(w *ecs.World, selectedEntityId ecs.EntityId) {
	if !imgui.BeginV("Component Inspector", nil, imgui.WindowFlagsNone) {
		imgui.End()
		return
	}

	ci.selectedEntityId = selectedEntityId

	if ci.selectedEntityId == 0 {
		imgui.Text("No entity selected")
		imgui.End()
		return
	}

	e := w.Entity(ci.selectedEntityId)
	if e == nil {
		imgui.Text(fmt.Sprintf("Entity %d was destroyed", ci.selectedEntityId))
		imgui.End()
		return
	}

	imgui.Text(fmt.Sprintf("Entity: %s (%d)", e.Name(), e.ID()))
	imgui.Text(fmt.Sprintf("GUID: %016x", e.GUID()))
	visible := e.Visible()
	if imgui.Checkbox("Visible", &visible) {
		e.SetVisible(visible)
	}
	ci.renderTransform(e)
	imgui.Text(fmt.Sprintf("Body: %s, shape %s", e.Physics.BodyType, e.Physics.Shape))
	imgui.Separator()

	for _, component := range w.Components(e) {
		t := reflect.TypeOf(component).Elem()
		if imgui.TreeNodeStr(t.String()) {
			ci.renderComponent(component)
			imgui.TreePop()
		}
	}

	imgui.End()
}

func (ci *ComponentInspector) renderTransform(e *ecs.Entity) {
	if !imgui.TreeNodeStr("Transform") {
		return
	}
	t := e.Transform()
	p := [3]float32{t.Position.X, t.Position.Y, t.Position.Z}
	changed := false
	for i, axis := range []string{"X", "Y", "Z"} {
		imgui.SetNextItemWidth(150)
		if imgui.InputFloat("Position "+axis, &p[i]) {
			changed = true
		}
	}
	if changed {
		t.Position.X, t.Position.Y, t.Position.Z = p[0], p[1], p[2]
		e.SetTransform(t)
	}
	imgui.Text(fmt.Sprintf("Rotation: %.3f %.3f %.3f %.3f", t.Rotation.X, t.Rotation.Y, t.Rotation.Z, t.Rotation.W))
	imgui.Text(fmt.Sprintf("Scale: %.3f %.3f %.3f", t.Scale.X, t.Scale.Y, t.Scale.Z))
	imgui.TreePop()
}

func (ci *ComponentInspector) renderComponent(component any) {
	val := reflect.ValueOf(component).Elem()
	for _, field := range globalReflectionCache.GetFields(val.Type()) {
		fieldVal := val.Field(field.Index)
		if field.IsPointer && !fieldVal.IsNil() {
			fieldVal = fieldVal.Elem()
		}
		ci.renderField(field.Name, fieldVal, field, func(v any) { SetField(component, field.Index, v) })
	}
}

// renderField draws one field. set writes an edited scalar back; nested
// struct fields are shown read only.
func (ci *ComponentInspector) renderField(name string, val reflect.Value, field FieldInfo, set func(any)) {
	if !val.IsValid() {
		imgui.Text(fmt.Sprintf("%s: <invalid>", name))
		return
	}

	if field.IsPointer && val.Kind() == reflect.Pointer && val.IsNil() {
		imgui.Text(fmt.Sprintf("%s: nil", name))
		return
	}

	if set == nil && field.Editable {
		imgui.Text(fmt.Sprintf("%s: %v", name, val.Interface()))
		return
	}

	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := int32(val.Int())
		imgui.Text(fmt.Sprintf("%s:", name))
		imgui.SameLine()
		imgui.SetNextItemWidth(150)
		if imgui.InputInt(fmt.Sprintf("##%s", name), &v) {
			set(int64(v))
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v := int32(val.Uint())
		imgui.Text(fmt.Sprintf("%s:", name))
		imgui.SameLine()
		imgui.SetNextItemWidth(150)
		if imgui.InputInt(fmt.Sprintf("##%s", name), &v) && v >= 0 {
			set(uint64(v))
		}

	case reflect.Float32, reflect.Float64:
		v := float32(val.Float())
		imgui.Text(fmt.Sprintf("%s:", name))
		imgui.SameLine()
		imgui.SetNextItemWidth(150)
		if imgui.InputFloat(fmt.Sprintf("##%s", name), &v) {
			set(float64(v))
		}

	case reflect.Bool:
		v := val.Bool()
		if imgui.Checkbox(name, &v) {
			set(v)
		}

	case reflect.String:
		v := val.String()
		imgui.Text(fmt.Sprintf("%s:", name))
		imgui.SameLine()
		imgui.SetNextItemWidth(200)
		if imgui.InputTextWithHint(fmt.Sprintf("##%s", name), "", &v, imgui.InputTextFlagsNone, nil) {
			set(v)
		}

	case reflect.Struct:
		if imgui.TreeNodeStr(name) {
			for _, nf := range globalReflectionCache.GetFields(val.Type()) {
				nestedVal := val.Field(nf.Index)
				if nf.IsPointer && !nestedVal.IsNil() {
					nestedVal = nestedVal.Elem()
				}
				ci.renderField(nf.Name, nestedVal, nf, nil)
			}
			imgui.TreePop()
		}

	case reflect.Slice:
		imgui.Text(fmt.Sprintf("%s: [%d items]", name, val.Len()))

	case reflect.Map:
		imgui.Text(fmt.Sprintf("%s: map[%d items]", name, val.Len()))

	default:
		imgui.Text(fmt.Sprintf("%s: %v", name, val.Interface()))
	}
}
