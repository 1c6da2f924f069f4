package ecs

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"

	"go.uber.org/zap"
)

// ErrUnregisteredComponent is returned or raised when a component type was not
// registered before the world was created.
var ErrUnregisteredComponent = errors.New("ecs: component type not registered")

// PhysicsRunner is the physics world as seen from an entity world.
type PhysicsRunner interface {
	Begin()
	End()
	Tick(delta float64)
	WaitForSimulation()
	Alpha() float32
	DestroyBody(e *Entity)
}

// World owns entities, one component cache per registered type, the play
// state machine, and the hooks into physics and resource loading. A world is
// owned by the simulation stage; renderers read it only through snapshots.
type World struct {
	registry    *ComponentRegistry
	caches      []componentCache
	cacheByType map[reflect.Type]componentCache
	cacheByName map[string]componentCache

	entities    entityArena
	roots       []EntityId
	guidCounter uint64

	listeners   []Listener
	scheduler   *Scheduler
	pending     *Commands
	notifyDepth int
	destroying  int
	singletons  map[reflect.Type]*singletonEntry
	caps        map[reflect.Type][]componentCache

	logger    *zap.Logger
	physics   PhysicsRunner
	resources ResourceLoader
	needed    []ResourceID
	input     Input

	screen Screen
	camera Camera
	gfx    GfxSettings
	sim    SimulationSettings
	flags  WorldFlags

	mode      PlayMode
	state     PlayState
	elapsed   float64
	destroyed bool
}

// WorldOption configures a World at construction.
type WorldOption func(*World)

func WithLogger(logger *zap.Logger) WorldOption {
	return func(w *World) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithResources(loader ResourceLoader) WorldOption {
	return func(w *World) { w.resources = loader }
}

func WithInput(input Input) WorldOption {
	return func(w *World) { w.input = input }
}

func WithScreen(screen Screen) WorldOption {
	return func(w *World) { w.screen = screen }
}

func WithSimulationSettings(s SimulationSettings) WorldOption {
	return func(w *World) { w.sim = s }
}

// NewWorld creates a world with one cache per type in registry.
func NewWorld(registry *ComponentRegistry, opts ...WorldOption) *World {
	w := &World{
		registry:    registry,
		cacheByType: make(map[reflect.Type]componentCache, len(registry.entries)),
		cacheByName: make(map[string]componentCache, len(registry.entries)),
		pending:     newCommands(),
		singletons:  make(map[reflect.Type]*singletonEntry),
		caps:        make(map[reflect.Type][]componentCache),
		logger:      zap.NewNop(),
		camera:      DefaultCamera,
		sim:         SimulationSettings{FixedRate: 60},
		screen:      Screen{Width: 1280, Height: 720, ContentScale: 1},
	}
	for _, entry := range registry.entries {
		cache := entry.factory()
		w.caches = append(w.caches, cache)
		w.cacheByType[entry.typ] = cache
		w.cacheByName[entry.name] = cache
	}
	for _, opt := range opts {
		opt(w)
	}
	w.scheduler = NewScheduler(w)
	return w
}

// Cache returns the typed cache for T. It panics if T is not registered.
func Cache[T any](w *World) *ComponentCache[T] {
	t := reflect.TypeFor[T]()
	cache, ok := w.cacheByType[t]
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrUnregisteredComponent, t))
	}
	return cache.(*ComponentCache[T])
}

func (w *World) cacheFor(t reflect.Type) componentCache {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	cache, ok := w.cacheByType[t]
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrUnregisteredComponent, t))
	}
	return cache
}

func (w *World) Logger() *zap.Logger                    { return w.logger }
func (w *World) Registry() *ComponentRegistry           { return w.registry }
func (w *World) Scheduler() *Scheduler                  { return w.scheduler }
func (w *World) GetInput() Input                        { return w.input }
func (w *World) GetScreen() Screen                      { return w.screen }
func (w *World) SetScreen(s Screen)                     { w.screen = s }
func (w *World) Camera() *Camera                        { return &w.camera }
func (w *World) GfxSettings() *GfxSettings              { return &w.gfx }
func (w *World) SimulationSettings() SimulationSettings { return w.sim }
func (w *World) Flags() WorldFlags                      { return w.flags }
func (w *World) SetFlags(f WorldFlags)                  { w.flags = f }
func (w *World) Elapsed() float64                       { return w.elapsed }
func (w *World) PlayMode() PlayMode                     { return w.mode }
func (w *World) PlayState() PlayState                   { return w.state }

// SetPhysics attaches the physics world that Begin/End/Tick drive.
func (w *World) SetPhysics(p PhysicsRunner) { w.physics = p }

func (w *World) Physics() PhysicsRunner { return w.physics }

// Alpha is the interpolation factor between the last two physics steps.
func (w *World) Alpha() float32 {
	if w.physics == nil || w.state != PlayStatePlaying {
		return 1
	}
	return w.physics.Alpha()
}

// AddListener registers l for component and play notifications.
func (w *World) AddListener(l Listener) {
	w.listeners = append(w.listeners, l)
}

func (w *World) RemoveListener(l Listener) {
	w.listeners = slices.DeleteFunc(w.listeners, func(x Listener) bool { return x == l })
}

// CreateEntity allocates an entity at the root of the tree.
func (w *World) CreateEntity(name string) *Entity {
	e := w.entities.alloc()
	w.guidCounter++
	e.guid = w.guidCounter
	e.name = name
	w.roots = append(w.roots, e.id)
	return e
}

// Entity resolves an id, returning nil for ids that are not alive.
func (w *World) Entity(id EntityId) *Entity {
	return w.entities.get(id)
}

// FindEntity returns the first live entity with the given name.
func (w *World) FindEntity(name string) *Entity {
	for e := range w.Entities() {
		if e.name == name {
			return e
		}
	}
	return nil
}

// FindEntityByGUID returns the live entity with the given GUID.
func (w *World) FindEntityByGUID(guid uint64) *Entity {
	for e := range w.Entities() {
		if e.guid == guid {
			return e
		}
	}
	return nil
}

func (w *World) EntityCount() int { return w.entities.count }

// Roots returns the entities without a parent in creation order.
func (w *World) Roots() []*Entity {
	roots := make([]*Entity, 0, len(w.roots))
	for _, id := range w.roots {
		roots = append(roots, w.entities.get(id))
	}
	return roots
}

// Children resolves the direct children of e.
func (w *World) Children(e *Entity) []*Entity {
	children := make([]*Entity, 0, len(e.children))
	for _, id := range e.children {
		children = append(children, w.entities.get(id))
	}
	return children
}

func (w *World) owns(e *Entity) bool {
	return e != nil && w.entities.get(e.id) == e
}

// AddChild moves child under parent. Self-parenting and cycles are refused.
func (w *World) AddChild(parent, child *Entity) bool {
	if !w.owns(parent) || !w.owns(child) {
		panic("ecs: AddChild with an entity that is not alive in this world")
	}
	if parent.dying || child.dying {
		w.logger.Warn("refusing to parent an entity that is being destroyed",
			zap.String("parent", parent.name), zap.String("child", child.name))
		return false
	}
	if parent == child || w.isAncestor(child.id, parent) {
		w.logger.Warn("refusing to create an entity cycle",
			zap.String("parent", parent.name), zap.String("child", child.name))
		return false
	}
	if child.parent == parent.id {
		return true
	}

	w.detach(child)
	child.parent = parent.id
	parent.children = append(parent.children, child.id)
	return true
}

// RemoveFromParent moves e back to the root of the tree.
func (w *World) RemoveFromParent(e *Entity) {
	if e.parent == 0 {
		return
	}
	w.detach(e)
	w.roots = append(w.roots, e.id)
}

// isAncestor reports whether id is e or one of e's ancestors.
func (w *World) isAncestor(id EntityId, e *Entity) bool {
	for cur := e; cur != nil; cur = w.entities.get(cur.parent) {
		if cur.id == id {
			return true
		}
		if cur.parent == 0 {
			break
		}
	}
	return false
}

func (w *World) detach(e *Entity) {
	if e.parent == 0 {
		w.roots = deleteId(w.roots, e.id)
		return
	}
	if parent := w.entities.get(e.parent); parent != nil {
		parent.children = deleteId(parent.children, e.id)
	}
	e.parent = 0
}

func deleteId(ids []EntityId, id EntityId) []EntityId {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

// DestroyEntity destroys e and its whole subtree: children first, then every
// component of the entity (listeners are notified), then the id is released.
// Destroying an entity that is not alive in this world panics; destroying one
// whose destruction is already under way does nothing.
//
// Commands queued by listeners while the subtree is torn down are applied
// once the outermost destroy returns.
func (w *World) DestroyEntity(e *Entity) {
	if !w.owns(e) {
		panic("ecs: DestroyEntity with an entity that is not alive in this world")
	}
	if e.dying {
		return
	}
	if w.anyCacheNotifying() {
		w.pending.DestroyEntity(e.id)
		return
	}
	w.detach(e)
	w.destroySubtree(e)
}

func (w *World) destroySubtree(e *Entity) {
	w.markDying(e)
	w.destroying++
	w.destroyData(e)
	w.destroying--
	if w.destroying == 0 && w.notifyDepth == 0 {
		w.pending.Flush(w)
	}
}

func (w *World) markDying(e *Entity) {
	e.dying = true
	for _, id := range e.children {
		if child := w.entities.get(id); child != nil {
			w.markDying(child)
		}
	}
}

func (w *World) destroyData(e *Entity) {
	for len(e.children) > 0 {
		last := e.children[len(e.children)-1]
		e.children = e.children[:len(e.children)-1]
		if child := w.entities.get(last); child != nil {
			w.destroyData(child)
		}
	}

	if e.body != 0 && w.physics != nil {
		w.physics.DestroyBody(e)
	}

	for _, cache := range w.caches {
		component := cache.getAny(e.id)
		if component == nil {
			continue
		}
		w.notifyRemoved(cache, e, component)
		cache.remove(e.id)
	}

	w.entities.release(e)
}

func (w *World) anyCacheNotifying() bool {
	if w.notifyDepth == 0 {
		return false
	}
	for _, cache := range w.caches {
		if cache.notifying() {
			return true
		}
	}
	return false
}

// AddComponent attaches a T to e, initialised from value if given. If e
// already has a T, a warning is logged and the existing component is returned.
// When T's cache is busy notifying listeners the add is deferred and nil is
// returned.
func AddComponent[T any](w *World, e *Entity, value ...T) *T {
	cache := Cache[T](w)
	var v T
	if len(value) > 0 {
		v = value[0]
	}
	if !w.owns(e) {
		panic("ecs: AddComponent on an entity that is not alive in this world")
	}
	if e.dying {
		w.refuseDyingAdd(cache.name, e)
		return nil
	}
	if cache.notifying() {
		w.pending.AddComponent(e.id, v)
		return nil
	}

	component, added := cache.Add(e.id, v)
	if !added {
		w.logger.Warn("component already exists on entity",
			zap.String("component", cache.name), zap.String("entity", e.name), zap.Uint64("id", uint64(e.id)))
		return component
	}
	w.notifyAdded(cache, e, component)
	return component
}

func (w *World) refuseDyingAdd(component string, e *Entity) {
	w.logger.Warn("refusing to add a component to an entity being destroyed",
		zap.String("component", component), zap.String("entity", e.name), zap.Uint64("id", uint64(e.id)))
}

// RemoveComponent detaches e's T. A missing component is logged as an error
// and reported with false.
func RemoveComponent[T any](w *World, e *Entity) bool {
	return w.RemoveComponentType(e, reflect.TypeFor[T]())
}

// GetComponent returns e's T or nil.
func GetComponent[T any](w *World, e *Entity) *T {
	return Cache[T](w).Get(e.id)
}

func HasComponent[T any](w *World, e *Entity) bool {
	return Cache[T](w).Has(e.id)
}

// AddComponentValue is the type-erased AddComponent. value may be a T or *T.
func (w *World) AddComponentValue(e *Entity, value any) any {
	cache := w.cacheFor(reflect.TypeOf(value))
	if !w.owns(e) {
		panic("ecs: AddComponentValue on an entity that is not alive in this world")
	}
	if e.dying {
		w.refuseDyingAdd(cache.Name(), e)
		return nil
	}
	if cache.notifying() {
		w.pending.AddComponent(e.id, value)
		return nil
	}

	component, added := cache.addAny(e.id, value)
	if !added {
		w.logger.Warn("component already exists on entity",
			zap.String("component", cache.Name()), zap.String("entity", e.name), zap.Uint64("id", uint64(e.id)))
		return component
	}
	w.notifyAdded(cache, e, component)
	return component
}

// RemoveComponentType is the type-erased RemoveComponent.
func (w *World) RemoveComponentType(e *Entity, t reflect.Type) bool {
	cache := w.cacheFor(t)
	if !w.owns(e) {
		panic("ecs: RemoveComponent on an entity that is not alive in this world")
	}
	component := cache.getAny(e.id)
	if component == nil {
		w.logger.Error("component to remove does not exist",
			zap.String("component", cache.Name()), zap.String("entity", e.name), zap.Uint64("id", uint64(e.id)))
		return false
	}
	if cache.notifying() {
		w.pending.RemoveComponent(e.id, cache.Type())
		return true
	}

	w.notifyRemoved(cache, e, component)
	cache.remove(e.id)
	return true
}

// ComponentOf returns e's component of type t as a pointer, or nil.
func (w *World) ComponentOf(e *Entity, t reflect.Type) any {
	return w.cacheFor(t).getAny(e.id)
}

// Components returns pointers to every component attached to e, in
// registration order.
func (w *World) Components(e *Entity) []any {
	var components []any
	for _, cache := range w.caches {
		if c := cache.getAny(e.id); c != nil {
			components = append(components, c)
		}
	}
	return components
}

func (w *World) notifyAdded(cache componentCache, e *Entity, component any) {
	cache.beginNotify()
	w.notifyDepth++

	if hook, ok := component.(AddedHook); ok {
		hook.OnAdded(w, e)
	}
	for _, l := range w.listeners {
		l.OnComponentAdded(e, component)
	}

	cache.endNotify()
	w.notifyDepth--
	if w.notifyDepth == 0 && w.destroying == 0 {
		w.pending.Flush(w)
	}
}

func (w *World) notifyRemoved(cache componentCache, e *Entity, component any) {
	cache.beginNotify()
	w.notifyDepth++

	if hook, ok := component.(RemovedHook); ok {
		hook.OnRemoved(w, e)
	}
	for _, l := range w.listeners {
		l.OnComponentRemoved(e, component)
	}

	cache.endNotify()
	w.notifyDepth--
	if w.notifyDepth == 0 && w.destroying == 0 {
		w.pending.Flush(w)
	}
}

// ViewEntities calls fn for every live entity until fn returns true.
// Returning true means stop; every callback site in this module follows that
// convention.
func (w *World) ViewEntities(fn func(e *Entity) (stop bool)) {
	for e := range w.entities.all() {
		if fn(e) {
			return
		}
	}
}

// Entities iterates every live entity in arena order.
func (w *World) Entities() iter.Seq[*Entity] {
	return w.entities.all()
}

// capable returns the caches whose pointer type implements iface. The answer
// is fixed by the registry, so it is computed once per interface.
func (w *World) capable(iface reflect.Type) []componentCache {
	if caches, ok := w.caps[iface]; ok {
		return caches
	}
	caches := make([]componentCache, 0)
	for _, cache := range w.caches {
		if reflect.PointerTo(cache.Type()).Implements(iface) {
			caches = append(caches, cache)
		}
	}
	w.caps[iface] = caches
	return caches
}

// Implementing iterates every component whose pointer type implements I,
// together with its entity.
func Implementing[I any](w *World) iter.Seq2[*Entity, I] {
	iface := reflect.TypeFor[I]()
	return func(yield func(*Entity, I) bool) {
		for _, cache := range w.capable(iface) {
			for id := range cache.IDs() {
				e := w.entities.get(id)
				if e == nil {
					continue
				}
				if !yield(e, cache.getAny(id).(I)) {
					return
				}
			}
		}
	}
}

// Destroy tears the world down: destroy listeners are notified, every entity
// is destroyed with component removal notifications, then caches are dropped.
func (w *World) Destroy() {
	if w.destroyed {
		return
	}
	if w.state == PlayStatePlaying {
		w.EndPlay()
	}
	for _, l := range slices.Clone(w.listeners) {
		if dl, ok := l.(DestroyListener); ok {
			dl.OnWorldDestroyed(w)
		}
	}

	w.clearEntities()
	for _, cache := range w.caches {
		cache.clear()
	}
	w.listeners = nil
	w.destroyed = true
}

func (w *World) clearEntities() {
	for len(w.roots) > 0 {
		e := w.entities.get(w.roots[len(w.roots)-1])
		w.roots = w.roots[:len(w.roots)-1]
		if e != nil && !e.dying {
			w.destroySubtree(e)
		}
	}
	w.pending.Flush(w)
}
