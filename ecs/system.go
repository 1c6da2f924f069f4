package ecs

// System represents a behavior that operates on entities with specific components.
// Systems can include Query and Singleton fields, which the Scheduler wires to
// the world on Register, as well as custom state that persists between frames.
// Structural changes should go through frame.Commands.
type System interface {
	Execute(frame *UpdateFrame)
}
