package ecs_test

import (
	"github.com/plus3/lumen/ecs"
)

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Name struct {
	Value string
}

type Health struct {
	Current int
	Max     int
}

type PlayerController struct{}

// Custom primitive types for testing non-struct components
type Score int32
type Tag string

type Inventory struct {
	Items []string
}

// Spinner counts the capability callbacks it receives.
type Spinner struct {
	Ticks     int
	PlayTicks int
	Begun     int
	Ended     int
	Angle     float32
}

func (s *Spinner) Tick(w *ecs.World, e *ecs.Entity, delta float64) { s.Ticks++ }

func (s *Spinner) TickPlay(w *ecs.World, e *ecs.Entity, delta float64, mode ecs.PlayMode) {
	s.PlayTicks++
	s.Angle += float32(delta)
}

func (s *Spinner) BeginPlay(w *ecs.World, e *ecs.Entity) { s.Begun++ }
func (s *Spinner) EndPlay(w *ecs.World, e *ecs.Entity)   { s.Ended++ }

// Model references resources and writes its own stream body.
type Model struct {
	Mesh     ecs.ResourceID
	Material ecs.ResourceID
	Tint     float32
}

func (m *Model) CollectResources(set ecs.ResourceSet) {
	set.Add(m.Mesh)
	set.Add(m.Material)
}

func (m *Model) SaveToStream(enc *ecs.Encoder) error {
	enc.Uint64(uint64(m.Mesh))
	enc.Uint64(uint64(m.Material))
	enc.Float32(m.Tint)
	return nil
}

func (m *Model) LoadFromStream(dec *ecs.Decoder) error {
	m.Mesh = ecs.ResourceID(dec.Uint64())
	m.Material = ecs.ResourceID(dec.Uint64())
	m.Tint = dec.Float32()
	return nil
}

func newTestRegistry() *ecs.ComponentRegistry {
	registry := ecs.NewComponentRegistry()
	ecs.RegisterComponent[Position](registry)
	ecs.RegisterComponent[Velocity](registry)
	ecs.RegisterComponent[Name](registry)
	ecs.RegisterComponent[Health](registry)
	ecs.RegisterComponent[PlayerController](registry)
	ecs.RegisterComponent[Score](registry)
	ecs.RegisterComponent[Tag](registry)
	ecs.RegisterComponent[Inventory](registry)
	ecs.RegisterComponent[Spinner](registry)
	ecs.RegisterComponent[Model](registry)
	return registry
}

func newTestWorld(opts ...ecs.WorldOption) *ecs.World {
	return ecs.NewWorld(newTestRegistry(), opts...)
}

// recordingListener logs every notification it receives.
type recordingListener struct {
	events   []string
	onAdd    func(e *ecs.Entity, component any)
	onRemove func(e *ecs.Entity, component any)
}

func (l *recordingListener) OnComponentAdded(e *ecs.Entity, component any) {
	l.events = append(l.events, "add:"+e.Name()+":"+componentName(component))
	if l.onAdd != nil {
		l.onAdd(e, component)
	}
}

func (l *recordingListener) OnComponentRemoved(e *ecs.Entity, component any) {
	l.events = append(l.events, "remove:"+e.Name()+":"+componentName(component))
	if l.onRemove != nil {
		l.onRemove(e, component)
	}
}

func (l *recordingListener) OnPlayBegin(mode ecs.PlayMode) {
	l.events = append(l.events, "begin:"+mode.String())
}

func (l *recordingListener) OnPlayEnd() {
	l.events = append(l.events, "end")
}

func (l *recordingListener) OnWorldTick(delta float64, mode ecs.PlayMode) {
	l.events = append(l.events, "tick:"+mode.String())
}

func componentName(component any) string {
	switch component.(type) {
	case *Position:
		return "Position"
	case *Velocity:
		return "Velocity"
	case *Name:
		return "Name"
	case *Health:
		return "Health"
	case *Spinner:
		return "Spinner"
	case *Model:
		return "Model"
	}
	return "other"
}

// fakePhysics records the calls a world makes into its physics runner.
type fakePhysics struct {
	calls     []string
	destroyed []string
}

func (p *fakePhysics) Begin()             { p.calls = append(p.calls, "begin") }
func (p *fakePhysics) End()               { p.calls = append(p.calls, "end") }
func (p *fakePhysics) Tick(delta float64) { p.calls = append(p.calls, "tick") }
func (p *fakePhysics) WaitForSimulation() { p.calls = append(p.calls, "wait") }
func (p *fakePhysics) Alpha() float32     { return 0.25 }
func (p *fakePhysics) DestroyBody(e *ecs.Entity) {
	p.destroyed = append(p.destroyed, e.Name())
	e.SetBody(0)
}

// fakeLoader pretends to load resources.
type fakeLoader struct {
	loaded map[ecs.ResourceID]bool
	calls  [][]ecs.ResourceID
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{loaded: make(map[ecs.ResourceID]bool)}
}

func (l *fakeLoader) IsLoaded(id ecs.ResourceID) bool { return l.loaded[id] }

func (l *fakeLoader) Load(ids []ecs.ResourceID) error {
	l.calls = append(l.calls, ids)
	for _, id := range ids {
		l.loaded[id] = true
	}
	return nil
}
