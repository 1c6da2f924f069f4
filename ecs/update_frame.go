package ecs

// UpdateFrame is what a System sees during one scheduler pass.
type UpdateFrame struct {
	DeltaTime float64
	Commands  *Commands
	World     *World
	Mode      PlayMode
}

func newUpdateFrame(dt float64, world *World) *UpdateFrame {
	return &UpdateFrame{
		DeltaTime: dt,
		Commands:  newCommands(),
		World:     world,
		Mode:      world.mode,
	}
}
