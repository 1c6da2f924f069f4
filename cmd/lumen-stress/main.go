package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/plus3/lumen/config"
	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/engine"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/gpu/soft"
	"github.com/plus3/lumen/render"
)

const (
	meshCube ecs.ResourceID = iota + 1
	meshPlane
)

const (
	materialSolid ecs.ResourceID = iota + 10
	materialGlass
	materialShadow
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file. Defaults are used when empty.")
	duration := flag.Duration("duration", 10*time.Second, "The total duration the test should run for.")
	entityCount := flag.Int("entities", 10000, "The initial number of entities to create.")
	depth := flag.Int("depth", 3, "The maximum depth of the generated entity hierarchy.")
	play := flag.Bool("play", true, "Begin play so physics bodies are simulated.")
	profileMode := flag.String("profile", "", "Write a cpu or mem profile to the working directory.")
	gcPauseMetrics := flag.Bool("gc-pause-metrics", false, "Enable detailed GC pause metrics in the report.")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		logger.Fatal("unknown profile mode", zap.String("mode", *profileMode))
	}

	report, err := run(cfg, logger, options{
		duration: *duration,
		entities: *entityCount,
		depth:    *depth,
		play:     *play,
	})
	if err != nil {
		logger.Fatal("stress test failed", zap.Error(err))
	}
	report.GCPauseMetrics = *gcPauseMetrics

	fmt.Println("\n\n--- Stress Test Report ---")
	if err := report.Generate(os.Stdout); err != nil {
		logger.Fatal("generate report", zap.Error(err))
	}
	fmt.Println("--- End of Report ---")
}

type options struct {
	duration time.Duration
	entities int
	depth    int
	play     bool
}

func run(cfg *config.Config, logger *zap.Logger, opts options) (*Report, error) {
	device := soft.NewDevice(soft.WithLatency(cfg.Render.DeviceLatency), soft.WithLogger(logger))
	defer device.Close()

	registry := ecs.NewComponentRegistry()
	render.RegisterComponents(registry)
	world := ecs.NewWorld(registry, ecs.WithLogger(logger))
	defer world.Destroy()

	eng, err := engine.New(cfg, device, world, engine.WithLogger(logger), engine.WithHeadless(true))
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	if err := registerResources(eng); err != nil {
		return nil, err
	}

	logger.Info("populating world", zap.Int("entities", opts.entities), zap.Int("depth", opts.depth))
	populate(world, opts.entities, opts.depth)
	if opts.play && !world.BeginPlay(ecs.PlayModePlay) {
		return nil, fmt.Errorf("begin play failed")
	}

	report := &Report{
		Duration: opts.duration,
		Entities: world.EntityCount(),
		Depth:    opts.depth,
		Bodies:   eng.Physics().BodyCount(),
		FixedHz:  cfg.Engine.FixedRate,
	}
	runtime.ReadMemStats(&report.MemStatsStart)

	logger.Info("running simulation", zap.Duration("duration", opts.duration))
	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	startTime := time.Now()
	lastFrameTime := startTime
	for ctx.Err() == nil {
		deltaTime := time.Since(lastFrameTime)
		lastFrameTime = time.Now()

		stepStart := time.Now()
		if _, err := eng.Step(deltaTime.Seconds()); err != nil {
			return nil, err
		}
		report.StepTime.Samples = append(report.StepTime.Samples, time.Since(stepStart))
		report.UpdateTime.Samples = append(report.UpdateTime.Samples, eng.Stats().Update)
	}
	if err := eng.Renderer().Join(); err != nil {
		return nil, err
	}

	report.TotalTime = time.Since(startTime)
	report.StepTime.Finalize()
	report.UpdateTime.Finalize()
	stats := eng.Stats()
	report.Steps = stats.Steps
	report.Clamped = stats.Clamped
	report.Render = stats.Render
	report.Hazards = len(device.Hazards())
	runtime.ReadMemStats(&report.MemStatsEnd)

	logger.Info("simulation finished", zap.Uint64("steps", stats.Steps))
	return report, nil
}

func registerResources(eng *engine.Engine) error {
	vertices, indices := render.CubeGeometry()
	if _, err := eng.Meshes().Add(meshCube, "cube", vertices, indices); err != nil {
		return err
	}
	vertices, indices = render.PlaneGeometry(4)
	if _, err := eng.Meshes().Add(meshPlane, "plane", vertices, indices); err != nil {
		return err
	}
	if _, err := eng.Materials().Add(materialSolid, "solid", "lit", render.PassOpaque|render.PassShadow); err != nil {
		return err
	}
	if _, err := eng.Materials().Add(materialGlass, "glass", "glass", render.PassTransparent); err != nil {
		return err
	}
	_, err := eng.Materials().Add(materialShadow, "caster", "depth", render.PassShadow)
	return err
}

// populate spawns count entities in random trees no deeper than depth. Most
// carry a mesh, some a light, and roots may get a physics body.
func populate(w *ecs.World, count, depth int) {
	var open []*ecs.Entity
	for i := range count {
		e := w.CreateEntity(fmt.Sprintf("e%d", i))

		var parent *ecs.Entity
		if len(open) > 0 && rand.IntN(3) > 0 {
			parent = open[rand.IntN(len(open))]
			w.AddChild(parent, e)
		}
		pos := geom.V3(rand.Float32()*200-100, rand.Float32()*20, rand.Float32()*-200)
		if parent != nil {
			pos = parent.Position().Add(geom.V3(rand.Float32()*2-1, 1, rand.Float32()*2-1))
		}
		e.SetPosition(pos)

		if levels(w, e) < depth-1 {
			open = append(open, e)
		}

		switch roll := rand.IntN(10); {
		case roll < 6:
			ecs.AddComponent(w, e, render.MeshComponent{Mesh: meshCube, Material: materialSolid})
		case roll < 8:
			ecs.AddComponent(w, e, render.MeshComponent{Mesh: meshPlane, Material: materialGlass})
		case roll < 9:
			ecs.AddComponent(w, e, render.MeshComponent{Mesh: meshCube, Material: materialShadow})
		default:
			ecs.AddComponent(w, e, render.LightComponent{
				Kind:      render.LightPoint,
				Color:     geom.V3(1, 1, 1),
				Intensity: 2,
				Range:     10,
			})
		}

		if parent == nil && rand.IntN(2) == 0 {
			e.Physics.BodyType = ecs.BodyTypeDynamic
			e.Physics.Shape = []ecs.ShapeType{ecs.ShapeBox, ecs.ShapeSphere, ecs.ShapeCapsule}[rand.IntN(3)]
		}
	}
}

func levels(w *ecs.World, e *ecs.Entity) int {
	n := 0
	for p := e.Parent(); !p.IsZero(); p = w.Entity(p).Parent() {
		n++
	}
	return n
}
