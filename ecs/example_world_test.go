package ecs_test

import (
	"bytes"
	"fmt"

	"github.com/plus3/lumen/ecs"
)

// ExampleWorld builds a small hierarchy, plays it for a few ticks and
// persists it.
func ExampleWorld() {
	registry := ecs.NewComponentRegistry()
	ecs.RegisterComponent[Spinner](registry)
	w := ecs.NewWorld(registry)

	rig := w.CreateEntity("rig")
	blade := w.CreateEntity("blade")
	w.AddChild(rig, blade)
	spinner := ecs.AddComponent(w, blade, Spinner{})

	w.BeginPlay(ecs.PlayModePlay)
	for i := 0; i < 3; i++ {
		w.Tick(0.5)
		w.TickPlay(0.5)
	}
	w.EndPlay()
	fmt.Printf("angle %.1f after %d play ticks\n", spinner.Angle, spinner.PlayTicks)

	var buf bytes.Buffer
	if err := w.SaveToStream(&buf); err != nil {
		panic(err)
	}

	loaded := ecs.NewWorld(registry)
	if err := loaded.LoadFromStream(&buf); err != nil {
		panic(err)
	}
	for _, root := range loaded.Roots() {
		for _, child := range loaded.Children(root) {
			fmt.Printf("%s/%s angle %.1f\n", root.Name(), child.Name(), ecs.GetComponent[Spinner](loaded, child).Angle)
		}
	}

	// Output:
	// angle 1.5 after 3 play ticks
	// rig/blade angle 1.5
}
