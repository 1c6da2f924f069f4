package ecs

// Listener observes component lifecycle events. Callbacks run synchronously
// inside AddComponent/RemoveComponent/DestroyEntity. Structural changes made
// from a callback to the cache being notified are deferred until the
// outermost notification returns.
type Listener interface {
	OnComponentAdded(e *Entity, component any)
	OnComponentRemoved(e *Entity, component any)
}

// PlayListener is implemented by listeners that follow play sessions.
type PlayListener interface {
	OnPlayBegin(mode PlayMode)
	OnPlayEnd()
}

// TickListener is implemented by listeners that want TickPlay notifications.
type TickListener interface {
	OnWorldTick(delta float64, mode PlayMode)
}

// DestroyListener is implemented by listeners that must release state before
// the world tears down its entities.
type DestroyListener interface {
	OnWorldDestroyed(w *World)
}

// Component capabilities. A component opts in by implementing the interface
// on its pointer type.

// Ticker components are ticked by World.Tick in every play state.
type Ticker interface {
	Tick(w *World, e *Entity, delta float64)
}

// PlayTicker components are ticked by World.TickPlay while playing.
type PlayTicker interface {
	TickPlay(w *World, e *Entity, delta float64, mode PlayMode)
}

// PlayHook components are told when a play session starts and stops.
type PlayHook interface {
	BeginPlay(w *World, e *Entity)
	EndPlay(w *World, e *Entity)
}

// AddedHook components run code right after being attached.
type AddedHook interface {
	OnAdded(w *World, e *Entity)
}

// RemovedHook components run code right before being detached.
type RemovedHook interface {
	OnRemoved(w *World, e *Entity)
}

// ResourceUser components report the resources they reference.
type ResourceUser interface {
	CollectResources(set ResourceSet)
}
