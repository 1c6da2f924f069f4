package ecs_test

import (
	"fmt"

	"github.com/plus3/lumen/ecs"
)

type GameConfig struct {
	MaxPlayers int
	Difficulty string
}

type GameScore struct {
	Points int
	Level  int
}

// ExampleNewSingleton demonstrates creating and accessing singleton values.
// Singletons are world-level values not attached to any entity.
func ExampleNewSingleton() {
	w := ecs.NewWorld(ecs.NewComponentRegistry())

	config := ecs.NewSingleton[GameConfig](w, GameConfig{
		MaxPlayers: 4,
		Difficulty: "Normal",
	})
	fmt.Printf("Config: %d players, %s difficulty\n", config.Get().MaxPlayers, config.Get().Difficulty)

	config.Get().Difficulty = "Hard"

	// A second accessor sees the same value
	sameConfig := ecs.NewSingleton[GameConfig](w)
	fmt.Printf("Same config: %s difficulty\n", sameConfig.Get().Difficulty)

	// Output:
	// Config: 4 players, Normal difficulty
	// Same config: Hard difficulty
}

// ExampleSingleton_Exists shows the accessor before and after the value exists.
func ExampleSingleton_Exists() {
	w := ecs.NewWorld(ecs.NewComponentRegistry())

	var score ecs.Singleton[GameScore]
	score.Init(w)
	fmt.Println("exists:", score.Exists())

	w.AddSingleton(GameScore{Points: 100, Level: 2})
	fmt.Println("exists:", score.Exists(), score.Get().Points)

	// Output:
	// exists: false
	// exists: true 100
}
