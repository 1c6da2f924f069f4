package ecs

import "go.uber.org/zap"

// BeginPlay starts a play session. Physics is started first, then PlayHook
// components and PlayListeners are told, in that order. Calling it while a
// session is running logs a warning and returns false.
func (w *World) BeginPlay(mode PlayMode) bool {
	if w.state == PlayStatePlaying {
		w.logger.Warn("BeginPlay called while already playing", zap.Stringer("mode", w.mode))
		return false
	}
	if mode == PlayModeNone {
		w.logger.Warn("BeginPlay called with play mode none")
		return false
	}

	w.mode = mode
	w.state = PlayStatePlaying
	w.logger.Info("play begin", zap.Stringer("mode", mode))

	if w.physics != nil && w.flags&WorldFlagDisablePhysics == 0 {
		w.physics.Begin()
	}

	w.notifyDepth++
	for e, hook := range Implementing[PlayHook](w) {
		hook.BeginPlay(w, e)
	}
	for _, l := range w.listeners {
		if pl, ok := l.(PlayListener); ok {
			pl.OnPlayBegin(mode)
		}
	}
	w.notifyDepth--
	w.pending.Flush(w)
	return true
}

// EndPlay stops the running session. It returns false when nothing is playing.
func (w *World) EndPlay() bool {
	if w.state != PlayStatePlaying {
		return false
	}

	if w.physics != nil && w.flags&WorldFlagDisablePhysics == 0 {
		w.physics.End()
	}
	w.state = PlayStateStopped
	w.mode = PlayModeNone
	w.logger.Info("play end", zap.Float64("elapsed", w.elapsed))

	w.notifyDepth++
	for e, hook := range Implementing[PlayHook](w) {
		hook.EndPlay(w, e)
	}
	for _, l := range w.listeners {
		if pl, ok := l.(PlayListener); ok {
			pl.OnPlayEnd()
		}
	}
	w.notifyDepth--
	w.pending.Flush(w)
	return true
}

// Tick advances the world by delta seconds. While playing, the physics step is
// started first and joined last so it overlaps the component and system work.
func (w *World) Tick(delta float64) {
	w.elapsed += delta

	playing := w.state == PlayStatePlaying && w.physics != nil && w.flags&WorldFlagDisablePhysics == 0
	if playing {
		w.physics.Tick(delta)
	}

	for e, ticker := range Implementing[Ticker](w) {
		ticker.Tick(w, e, delta)
	}
	w.scheduler.Once(delta)
	w.pending.Flush(w)

	if playing {
		w.physics.WaitForSimulation()
	}
}

// TickPlay runs gameplay ticks. It does nothing unless the world is playing.
func (w *World) TickPlay(delta float64) {
	if w.state != PlayStatePlaying {
		return
	}

	for e, ticker := range Implementing[PlayTicker](w) {
		ticker.TickPlay(w, e, delta, w.mode)
	}
	for _, l := range w.listeners {
		if tl, ok := l.(TickListener); ok {
			tl.OnWorldTick(delta, w.mode)
		}
	}
	w.pending.Flush(w)
}
