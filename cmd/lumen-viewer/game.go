package main

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"go.uber.org/zap"

	"github.com/plus3/lumen/debugui"
	debugui_ebiten "github.com/plus3/lumen/debugui/ebiten"
	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/engine"
	"github.com/plus3/lumen/render"
)

const (
	panSpeed = 20.0 // world units per second at zoom 1
	minZoom  = 2.0
	maxZoom  = 200.0
)

// Game drives the engine from Ebiten's update loop and draws the latest
// synced snapshot as a top-down map: x to the right, z down the screen.
type Game struct {
	eng          *engine.Engine
	input        *debugui_ebiten.Input
	imguiBackend *ecs.Singleton[debugui_ebiten.ImguiBackend]
	capture      *debugui.ImguiInputState
	logger       *zap.Logger

	centerX, centerZ float32
	zoom             float32 // pixels per world unit
	width, height    int
}

func newGame(eng *engine.Engine, input *debugui_ebiten.Input, backend *ecs.Singleton[debugui_ebiten.ImguiBackend], capture *debugui.ImguiInputState, logger *zap.Logger) *Game {
	return &Game{
		eng:          eng,
		input:        input,
		imguiBackend: backend,
		capture:      capture,
		logger:       logger,
		zoom:         20,
	}
}

func (g *Game) Update() error {
	if g.input.IsKeyPressed(int(ebiten.KeyEscape)) {
		return ebiten.Termination
	}

	dt := 1.0 / float64(ebiten.TPS())
	g.handleInput(float32(dt))

	g.imguiBackend.Get().BeginFrame()
	_, err := g.eng.Step(dt)
	g.imguiBackend.Get().EndFrame()
	return err
}

func (g *Game) handleInput(dt float32) {
	w := g.eng.World()
	step := panSpeed * dt * 20 / g.zoom
	if g.input.IsKeyPressed(int(ebiten.KeyA)) || g.input.IsKeyPressed(int(ebiten.KeyArrowLeft)) {
		g.centerX -= step
	}
	if g.input.IsKeyPressed(int(ebiten.KeyD)) || g.input.IsKeyPressed(int(ebiten.KeyArrowRight)) {
		g.centerX += step
	}
	if g.input.IsKeyPressed(int(ebiten.KeyW)) || g.input.IsKeyPressed(int(ebiten.KeyArrowUp)) {
		g.centerZ -= step
	}
	if g.input.IsKeyPressed(int(ebiten.KeyS)) || g.input.IsKeyPressed(int(ebiten.KeyArrowDown)) {
		g.centerZ += step
	}

	if g.capture == nil || !g.capture.WantCaptureMouse {
		if _, dy := ebiten.Wheel(); dy != 0 {
			g.zoom = max(minZoom, min(maxZoom, g.zoom*(1+float32(dy)*0.1)))
		}
	}
	if (g.capture == nil || !g.capture.WantCaptureKeyboard) && inpututil.IsKeyJustPressed(ebiten.KeyP) {
		if w.PlayState() == ecs.PlayStatePlaying {
			w.EndPlay()
		} else {
			w.BeginPlay(ecs.PlayModePlay)
		}
		g.logger.Info("play state changed", zap.Stringer("state", w.PlayState()))
	}
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{24, 24, 28, 255})

	if snap := g.eng.WorldRenderer().Snapshot(); snap != nil {
		g.drawSnapshot(screen, snap)
	}
	stats := g.eng.Stats()
	ebitenutil.DebugPrint(screen, fmt.Sprintf("%s  frames %d  skipped %d  [P] play  [WASD] pan  [wheel] zoom",
		g.eng.World().PlayState(), stats.Render.Submitted, stats.Render.Skipped))

	g.imguiBackend.Get().Draw(screen)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	g.imguiBackend.Get().Layout(outsideWidth, outsideHeight)
	if outsideWidth != g.width || outsideHeight != g.height {
		g.width, g.height = outsideWidth, outsideHeight
		g.eng.OnWindowResized(uint32(outsideWidth), uint32(outsideHeight))
	}
	return outsideWidth, outsideHeight
}

func (g *Game) toScreen(x, z float32) (float32, float32) {
	return float32(g.width)/2 + (x-g.centerX)*g.zoom, float32(g.height)/2 + (z-g.centerZ)*g.zoom
}

func (g *Game) drawSnapshot(screen *ebiten.Image, snap *render.RenderWorldData) {
	for _, l := range snap.Lights {
		if l.Kind == render.LightDirectional {
			continue
		}
		x, y := g.toScreen(l.Position.X, l.Position.Z)
		c := colorOf(l.Color.X, l.Color.Y, l.Color.Z, 0.25)
		vector.StrokeCircle(screen, x, y, l.Range*g.zoom, 1, c, true)
		vector.DrawFilledCircle(screen, x, y, 4, colorOf(l.Color.X, l.Color.Y, l.Color.Z, 1), true)
	}

	for _, r := range snap.Renderables {
		x0, y0 := g.toScreen(r.Bounds.Min.X, r.Bounds.Min.Z)
		x1, y1 := g.toScreen(r.Bounds.Max.X, r.Bounds.Max.Z)
		fill := color.RGBA{150, 150, 140, 255}
		if r.Mask&render.PassTransparent != 0 {
			fill = color.RGBA{120, 180, 220, 120}
		}
		vector.DrawFilledRect(screen, x0, y0, x1-x0, y1-y0, fill, false)
		vector.StrokeRect(screen, x0, y0, x1-x0, y1-y0, 1, color.RGBA{230, 230, 220, 255}, false)
	}

	cam := snap.View.Position
	x, y := g.toScreen(cam.X, cam.Z)
	vector.DrawFilledCircle(screen, x, y, 5, color.RGBA{255, 220, 80, 255}, true)
}

func colorOf(r, g, b, a float32) color.RGBA {
	clamp := func(v float32) uint8 { return uint8(max(0, min(1, v)) * 255) }
	return color.RGBA{clamp(r * a), clamp(g * a), clamp(b * a), clamp(a)}
}
