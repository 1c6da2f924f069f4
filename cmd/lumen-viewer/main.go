package main

import (
	_ "embed"
	"flag"
	"fmt"
	"os"

	ebitenbackend "github.com/AllenDang/cimgui-go/backend/ebiten-backend"
	"github.com/AllenDang/cimgui-go/imgui"
	"github.com/hajimehoshi/ebiten/v2"
	"go.uber.org/zap"

	"github.com/plus3/lumen/config"
	"github.com/plus3/lumen/debugui"
	debugui_ebiten "github.com/plus3/lumen/debugui/ebiten"
	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/engine"
	"github.com/plus3/lumen/gpu/soft"
	"github.com/plus3/lumen/render"
	"github.com/plus3/lumen/scene"
)

//go:embed default.yaml
var defaultScene []byte

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file. Defaults are used when empty.")
	scenePath := flag.String("scene", "", "Scene file to load. Overrides scene.path from the config.")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *scenePath != "" {
		cfg.Scene.Path = *scenePath
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("viewer failed", zap.Error(err))
	}
}

func loadScene(cfg *config.Config) (*scene.Scene, error) {
	if cfg.Scene.Path == "" {
		return scene.Parse(defaultScene)
	}
	return scene.Load(cfg.Scene.Path)
}

func run(cfg *config.Config, logger *zap.Logger) error {
	sc, err := loadScene(cfg)
	if err != nil {
		return err
	}

	imguiBackend := ebitenbackend.NewEbitenBackend()
	imguiBackend.CreateWindow("lumen viewer", int(cfg.Render.Width), int(cfg.Render.Height))
	imgui.CurrentIO().SetIniFilename("")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	registry := ecs.NewComponentRegistry()
	render.RegisterComponents(registry)
	debugui.RegisterComponents(registry)

	input := debugui_ebiten.NewInput()
	world := ecs.NewWorld(registry,
		ecs.WithLogger(logger),
		ecs.WithInput(input),
		ecs.WithScreen(ecs.Screen{Width: cfg.Render.Width, Height: cfg.Render.Height, ContentScale: 1}),
	)
	defer world.Destroy()

	device := soft.NewDevice(soft.WithLatency(cfg.Render.DeviceLatency), soft.WithLogger(logger))
	defer device.Close()

	eng, err := engine.New(cfg, device, world, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer eng.Close()

	built, err := sc.Build(world, eng.Meshes(), eng.Materials())
	if err != nil {
		return err
	}
	logger.Info("scene loaded", zap.String("path", cfg.Scene.Path), zap.Int("entities", len(built)))

	ecs.NewSingleton(world, debugui_ebiten.ImguiBackend{EbitenBackend: imguiBackend})
	debugui.SpawnDebugUI(world, eng)
	capture := ecs.NewSingleton[debugui.ImguiInputState](world).Get()
	input.SetCaptureState(capture)

	game := newGame(eng, input, ecs.NewSingleton[debugui_ebiten.ImguiBackend](world), capture, logger)
	world.BeginPlay(ecs.PlayModePlay)
	return ebiten.RunGame(game)
}
