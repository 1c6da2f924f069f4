// Package ebiten connects the debug UI to an Ebiten window: the Dear ImGui
// backend and an ecs.Input over Ebiten's input state.
package ebiten

import (
	ebitenbackend "github.com/AllenDang/cimgui-go/backend/ebiten-backend"
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/plus3/lumen/debugui"
	"github.com/plus3/lumen/ecs"
)

// ImguiBackend wraps the Ebiten-specific Dear ImGui backend implementation.
// Use this to integrate Dear ImGui rendering into Ebiten game loops.
type ImguiBackend struct {
	*ebitenbackend.EbitenBackend
}

// Input reports Ebiten key, mouse and cursor state to a world. While ImGui
// captures the keyboard or mouse the matching queries report nothing.
type Input struct {
	capture *debugui.ImguiInputState
}

var _ ecs.Input = (*Input)(nil)

func NewInput() *Input { return &Input{} }

// SetCaptureState makes the input respect ImGui's capture flags.
func (in *Input) SetCaptureState(state *debugui.ImguiInputState) { in.capture = state }

func (in *Input) IsKeyPressed(key int) bool {
	if in.capture != nil && in.capture.WantCaptureKeyboard {
		return false
	}
	return ebiten.IsKeyPressed(ebiten.Key(key))
}

func (in *Input) IsMouseButtonPressed(button int) bool {
	if in.capture != nil && in.capture.WantCaptureMouse {
		return false
	}
	return ebiten.IsMouseButtonPressed(ebiten.MouseButton(button))
}

func (in *Input) CursorPosition() (x, y int) {
	return ebiten.CursorPosition()
}
