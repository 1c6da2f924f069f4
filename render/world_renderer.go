package render

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/kamstrup/intmap"
	"go.uber.org/zap"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/gpu"
)

// MaxLights is the capacity of a frame's light buffer.
const MaxLights = 64

// GPU layouts of the per-frame buffers, all little endian.
const (
	SceneDataSize  = 32
	ViewDataSize   = 3*64 + 32
	LightDataSize  = 64
	ObjectDataSize = 64
)

type gpuSceneData struct {
	Ambient geom.Vec4
	Time    float32
	Delta   float32
	Lights  uint32
	Objects uint32
}

type gpuViewData struct {
	View     geom.Mat4
	Proj     geom.Mat4
	ViewProj geom.Mat4
	Position geom.Vec4
	NearFar  geom.Vec4
}

type gpuLightData struct {
	Position  geom.Vec4
	Direction geom.Vec4
	Color     geom.Vec4 // w is intensity
	Params    geom.Vec4 // x range, y kind
}

// frameSlot is everything a world renderer writes for one frame in flight.
type frameSlot struct {
	index    int
	scene    gpu.Buffer
	view     gpu.Buffer
	lights   gpu.Buffer
	objects  gpu.Buffer
	indirect gpu.Buffer
	set      gpu.DescriptorSet
	cmd      gpu.CommandBuffer
	target   gpu.Image
	depth    gpu.Image

	handles       []gpu.Handle
	targetHandles [2]gpu.Handle

	state    SlotState
	// prepared is how far Tick and SyncData got while the slot was in flight.
	prepared SlotState
	stats    DrawStats
}

func (s *frameSlot) ready() bool {
	for _, obj := range []gpu.Object{s.scene, s.view, s.lights, s.objects, s.indirect, s.set, s.cmd, s.target, s.depth} {
		if obj == nil || !obj.Ready() {
			return false
		}
	}
	return true
}

type trackedComponent struct {
	id  ecs.EntityId
	typ reflect.Type
}

// WorldRenderer draws one world into its own per-slot render targets.
//
// Tick, SyncData and the listener callbacks run on the simulation side and
// are the only code that reads the world. Render only reads the snapshot the
// last SyncData published.
type WorldRenderer struct {
	dev       gpu.Device
	meshes    *MeshRegistry
	materials *MaterialRegistry
	deletion  *gpu.DeletionQueue
	logger    *zap.Logger
	opts      options

	world       *ecs.World
	renderables []trackedComponent
	lights      []trackedComponent
	tracked     *intmap.Map[ecs.EntityId, int]
	syncs       uint64
	elapsed     float64
	delta       float64
	width       uint32
	height      uint32
	aspect      float32

	actionsMu sync.Mutex
	actions   []func()

	snapshot atomic.Pointer[RenderWorldData]

	opaque      *DrawPass
	transparent *DrawPass

	mu    sync.Mutex
	slots [gpu.FramesInFlight]*frameSlot
	next  int
}

var (
	_ ecs.Listener        = (*WorldRenderer)(nil)
	_ ecs.DestroyListener = (*WorldRenderer)(nil)
)

// NewWorldRenderer creates the per-slot GPU objects and starts tracking the
// renderables and lights of world. world may be nil and set later with
// SetWorld.
func NewWorldRenderer(dev gpu.Device, world *ecs.World, meshes *MeshRegistry, materials *MaterialRegistry, deletion *gpu.DeletionQueue, opts ...Option) (*WorldRenderer, error) {
	o := buildOptions(opts)
	if o.label == "" {
		o.label = "world"
	}
	w := &WorldRenderer{
		dev:         dev,
		meshes:      meshes,
		materials:   materials,
		deletion:    deletion,
		logger:      o.logger.With(zap.String("renderer", o.label)),
		opts:        o,
		tracked:     intmap.New[ecs.EntityId, int](64),
		width:       o.width,
		height:      o.height,
		aspect:      o.aspect,
		opaque:      NewDrawPass(PassOpaque, o.drawDistance, o.passOptions...),
		transparent: NewDrawPass(PassTransparent, o.drawDistance, append(slices.Clone(o.passOptions), WithSort(SortBackToFront))...),
	}
	if (w.width == 0 || w.height == 0) && world != nil {
		screen := world.GetScreen()
		w.width, w.height = screen.Width, screen.Height
	}
	if w.width == 0 || w.height == 0 {
		w.width, w.height = 1280, 720
	}

	for i := range w.slots {
		slot, err := w.createSlot(i)
		if err != nil {
			w.retireSlots()
			return nil, err
		}
		w.slots[i] = slot
	}
	if world != nil {
		w.attach(world)
	}
	return w, nil
}

func (w *WorldRenderer) createSlot(i int) (*frameSlot, error) {
	slot := &frameSlot{index: i}
	label := fmt.Sprintf("%s/slot%d", w.opts.label, i)
	track := func(obj gpu.Object) { slot.handles = append(slot.handles, w.deletion.Track(obj)) }
	fail := func(what string, err error) (*frameSlot, error) {
		for _, h := range slot.handles {
			w.deletion.Retire(h)
		}
		return nil, fmt.Errorf("%s: create %s: %w", label, what, err)
	}

	buffers := []struct {
		dst   *gpu.Buffer
		name  string
		size  int
		usage gpu.BufferUsage
	}{
		{&slot.scene, "scene", SceneDataSize, gpu.BufferUniform},
		{&slot.view, "view", ViewDataSize, gpu.BufferUniform},
		{&slot.lights, "lights", MaxLights * LightDataSize, gpu.BufferStorage},
		{&slot.objects, "objects", w.opts.objectBufferMax * ObjectDataSize, gpu.BufferStorage},
		{&slot.indirect, "indirect", 2 * w.opts.objectBufferMax * gpu.DrawIndexedIndirectCommandSize, gpu.BufferIndirect | gpu.BufferStorage},
	}
	for _, b := range buffers {
		buf, err := w.dev.CreateBuffer(gpu.BufferDesc{Label: label + "/" + b.name, Size: b.size, Usage: b.usage})
		if err != nil {
			return fail(b.name+" buffer", err)
		}
		*b.dst = buf
		track(buf)
	}

	set, err := w.dev.CreateDescriptorSet(label)
	if err != nil {
		return fail("descriptor set", err)
	}
	track(set)
	set.BindBuffer(0, slot.scene)
	set.BindBuffer(1, slot.view)
	set.BindBuffer(2, slot.lights)
	set.BindBuffer(3, slot.objects)
	slot.set = set

	cmd, err := w.dev.CreateCommandBuffer()
	if err != nil {
		return fail("command buffer", err)
	}
	track(cmd)
	slot.cmd = cmd

	if err := w.createTargets(slot, w.width, w.height); err != nil {
		return fail("render targets", err)
	}
	return slot, nil
}

func (w *WorldRenderer) createTargets(slot *frameSlot, width, height uint32) error {
	color, depth, err := w.newTargets(slot.index, width, height)
	if err != nil {
		return err
	}
	w.swapTargets(slot, color, depth)
	return nil
}

func (w *WorldRenderer) newTargets(index int, width, height uint32) (color, depth gpu.Image, err error) {
	label := fmt.Sprintf("%s/slot%d", w.opts.label, index)
	color, err = w.dev.CreateImage(gpu.ImageDesc{
		Label:  label + "/color",
		Width:  width,
		Height: height,
		Format: gpu.FormatRGBA8,
		Usage:  gpu.ImageColorTarget | gpu.ImageSampled,
	})
	if err != nil {
		return nil, nil, err
	}
	depth, err = w.dev.CreateImage(gpu.ImageDesc{
		Label:  label + "/depth",
		Width:  width,
		Height: height,
		Format: gpu.FormatDepth32,
		Usage:  gpu.ImageDepthTarget,
	})
	if err != nil {
		color.Destroy()
		return nil, nil, err
	}
	return color, depth, nil
}

// swapTargets installs new targets and retires the old ones.
func (w *WorldRenderer) swapTargets(slot *frameSlot, color, depth gpu.Image) {
	for _, h := range slot.targetHandles {
		if !h.IsZero() {
			w.deletion.Retire(h)
		}
	}
	slot.target, slot.depth = color, depth
	slot.targetHandles = [2]gpu.Handle{w.deletion.Track(color), w.deletion.Track(depth)}
}

func (w *WorldRenderer) retireSlots() {
	for i, slot := range w.slots {
		if slot == nil {
			continue
		}
		for _, h := range slot.handles {
			w.deletion.Retire(h)
		}
		for _, h := range slot.targetHandles {
			if !h.IsZero() {
				w.deletion.Retire(h)
			}
		}
		w.slots[i] = nil
	}
}

func (w *WorldRenderer) attach(world *ecs.World) {
	w.world = world
	world.AddListener(w)
	for e, c := range ecs.Implementing[Renderable](world) {
		w.track(&w.renderables, e.ID(), reflect.TypeOf(c))
	}
	for e, c := range ecs.Implementing[LightSource](world) {
		w.track(&w.lights, e.ID(), reflect.TypeOf(c))
	}
}

func (w *WorldRenderer) detach() {
	if w.world == nil {
		return
	}
	w.world.RemoveListener(w)
	w.world = nil
	w.renderables = w.renderables[:0]
	w.lights = w.lights[:0]
	w.tracked = intmap.New[ecs.EntityId, int](64)
}

func (w *WorldRenderer) track(list *[]trackedComponent, id ecs.EntityId, typ reflect.Type) {
	*list = append(*list, trackedComponent{id: id, typ: typ})
	n, _ := w.tracked.Get(id)
	w.tracked.Put(id, n+1)
}

func (w *WorldRenderer) untrack(list *[]trackedComponent, id ecs.EntityId, typ reflect.Type) {
	n, ok := w.tracked.Get(id)
	if !ok {
		return
	}
	before := len(*list)
	*list = slices.DeleteFunc(*list, func(t trackedComponent) bool { return t.id == id && t.typ == typ })
	n -= before - len(*list)
	if n <= 0 {
		w.tracked.Del(id)
	} else {
		w.tracked.Put(id, n)
	}
}

func (w *WorldRenderer) OnComponentAdded(e *ecs.Entity, component any) {
	if _, ok := component.(Renderable); ok {
		w.track(&w.renderables, e.ID(), reflect.TypeOf(component))
	}
	if _, ok := component.(LightSource); ok {
		w.track(&w.lights, e.ID(), reflect.TypeOf(component))
	}
}

func (w *WorldRenderer) OnComponentRemoved(e *ecs.Entity, component any) {
	if _, ok := component.(Renderable); ok {
		w.untrack(&w.renderables, e.ID(), reflect.TypeOf(component))
	}
	if _, ok := component.(LightSource); ok {
		w.untrack(&w.lights, e.ID(), reflect.TypeOf(component))
	}
}

func (w *WorldRenderer) OnWorldDestroyed(world *ecs.World) {
	if world == w.world {
		w.detach()
	}
}

// World returns the world the renderer currently reads.
func (w *WorldRenderer) World() *ecs.World { return w.world }

// Tracked returns how many renderable and light components are tracked.
func (w *WorldRenderer) Tracked() (renderables, lights int) {
	return len(w.renderables), len(w.lights)
}

func (w *WorldRenderer) Resolution() (uint32, uint32) { return w.width, w.height }

// SetWorld switches to another world at the next SyncData.
func (w *WorldRenderer) SetWorld(world *ecs.World) {
	w.pushAction(func() {
		if world == w.world {
			return
		}
		w.detach()
		if world != nil {
			w.attach(world)
		}
	})
}

// SetRenderResolution resizes the render targets at the next SyncData. The
// old targets are retired through the deletion queue. If any new target
// cannot be created every slot keeps its current targets.
func (w *WorldRenderer) SetRenderResolution(width, height uint32) {
	w.pushAction(func() {
		if width == 0 || height == 0 || (width == w.width && height == w.height) {
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		var colors, depths [gpu.FramesInFlight]gpu.Image
		for i, slot := range w.slots {
			color, depth, err := w.newTargets(slot.index, width, height)
			if err != nil {
				for j := range i {
					colors[j].Destroy()
					depths[j].Destroy()
				}
				w.logger.Error("resize render targets", zap.Uint32("width", width), zap.Uint32("height", height), zap.Error(err))
				return
			}
			colors[i], depths[i] = color, depth
		}
		for i, slot := range w.slots {
			w.swapTargets(slot, colors[i], depths[i])
		}
		w.width, w.height = width, height
	})
}

// SetAspectRatio overrides the aspect ratio at the next SyncData. Zero goes
// back to the render resolution's ratio.
func (w *WorldRenderer) SetAspectRatio(aspect float32) {
	w.pushAction(func() { w.aspect = aspect })
}

func (w *WorldRenderer) pushAction(fn func()) {
	w.actionsMu.Lock()
	w.actions = append(w.actions, fn)
	w.actionsMu.Unlock()
}

func (w *WorldRenderer) applyActions() {
	w.actionsMu.Lock()
	actions := w.actions
	w.actions = nil
	w.actionsMu.Unlock()
	for _, fn := range actions {
		fn()
	}
}

func (w *WorldRenderer) aspectRatio() float32 {
	if w.aspect > 0 {
		return w.aspect
	}
	if w.height == 0 {
		return 1
	}
	return float32(w.width) / float32(w.height)
}

// Tick advances renderer-local time. It does not touch the world.
func (w *WorldRenderer) Tick(delta float64) {
	w.elapsed += delta
	w.delta = delta
	w.prepare(SlotTicking)
}

// SyncData applies queued actions and publishes a snapshot of the world
// with transforms blended by alpha between the last two physics steps.
func (w *WorldRenderer) SyncData(alpha float32) {
	w.applyActions()
	w.prepare(SlotSyncingData)
	w.syncs++

	data := &RenderWorldData{
		Sync:    w.syncs,
		Alpha:   alpha,
		Elapsed: w.elapsed,
		Width:   w.width,
		Height:  w.height,
		View:    NewView(ecs.DefaultCamera, w.aspectRatio()),
	}
	world := w.world
	if world != nil && world.Flags()&ecs.WorldFlagDisableRendering == 0 {
		data.Screen = world.GetScreen()
		data.Ambient = world.GfxSettings().AmbientColor
		data.View = NewView(*world.Camera(), w.aspectRatio())
		w.extractRenderables(world, data)
		w.extractLights(world, data)
	}
	if data.Dropped > 0 {
		w.logger.Warn("object buffer full, renderables dropped",
			zap.Int("capacity", w.opts.objectBufferMax),
			zap.Int("dropped", data.Dropped))
	}
	w.snapshot.Store(data)
}

func (w *WorldRenderer) extractRenderables(world *ecs.World, data *RenderWorldData) {
	data.Renderables = make([]RenderableData, 0, len(w.renderables))
	missing := 0
	for _, t := range w.renderables {
		e := world.Entity(t.id)
		if e == nil || !e.Visible() {
			continue
		}
		comp, ok := world.ComponentOf(e, t.typ).(Renderable)
		if !ok {
			continue
		}
		meshID, matID, mask := comp.Drawable()
		mesh, mat := w.meshes.Get(meshID), w.materials.Get(matID)
		if mesh == nil || mat == nil {
			missing++
			continue
		}
		if mask == PassNone {
			mask = mat.Mask
		}
		if len(data.Renderables) >= w.opts.objectBufferMax {
			data.Dropped++
			continue
		}

		tr := e.InterpolatedTransform(data.Alpha)
		model := tr.Matrix()
		data.Renderables = append(data.Renderables, RenderableData{
			Entity:      e.ID(),
			GUID:        e.GUID(),
			Transform:   tr,
			Model:       model,
			Position:    tr.Position,
			Bounds:      mesh.Bounds.Transform(model),
			Mesh:        mesh,
			Material:    mat,
			Mask:        mask,
			ObjectIndex: uint32(len(data.Renderables)),
		})
	}
	if missing > 0 {
		w.logger.Debug("renderables reference unknown meshes or materials", zap.Int("count", missing))
	}
}

func (w *WorldRenderer) extractLights(world *ecs.World, data *RenderWorldData) {
	for _, t := range w.lights {
		if len(data.Lights) == MaxLights {
			break
		}
		e := world.Entity(t.id)
		if e == nil || !e.Visible() {
			continue
		}
		src, ok := world.ComponentOf(e, t.typ).(LightSource)
		if !ok {
			continue
		}
		light := src.EmitLight(e.InterpolatedTransform(data.Alpha))
		light.Entity = e.ID()
		data.Lights = append(data.Lights, light)
	}
}

// Snapshot returns the last published RenderWorldData, or nil before the
// first SyncData. The result must not be modified.
func (w *WorldRenderer) Snapshot() *RenderWorldData { return w.snapshot.Load() }

// Render extracts the draw passes from the current snapshot, uploads the
// slot's buffers and records its command buffer. The returned command
// buffer is ready to submit. The caller must have waited for the slot's
// previous submission.
func (w *WorldRenderer) Render(frameIndex int) (gpu.CommandBuffer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot := w.slots[frameIndex]
	if slot == nil || !slot.ready() {
		return nil, fmt.Errorf("%s slot %d: %w", w.opts.label, frameIndex, gpu.ErrNotReady)
	}
	data := w.snapshot.Load()
	if data == nil {
		data = &RenderWorldData{Width: w.width, Height: w.height, View: NewView(ecs.DefaultCamera, w.aspectRatio())}
	}

	w.enter(slot, SlotExtracting)
	w.opaque.PrepareRenderData(data.Renderables, &data.View)
	w.transparent.PrepareRenderData(data.Renderables, &data.View)

	w.enter(slot, SlotUploading)
	if err := w.upload(slot, data); err != nil {
		return nil, fmt.Errorf("%s slot %d: %w", w.opts.label, frameIndex, err)
	}
	if err := w.meshes.Upload(); err != nil {
		return nil, err
	}

	w.enter(slot, SlotRecording)
	cmd := slot.cmd
	if err := cmd.Begin(); err != nil {
		return nil, fmt.Errorf("%s slot %d: %w", w.opts.label, frameIndex, err)
	}
	cmd.SetViewport(slot.target.Width(), slot.target.Height())
	cmd.BeginRenderPass(slot.target, slot.depth, w.opts.clearColor)
	cmd.BindDescriptorSet(slot.set)
	if vb, ib := w.meshes.Buffers(); vb != nil && ib != nil {
		cmd.BindVertexBuffer(vb)
		cmd.BindIndexBuffer(ib)
	}

	stats, err := w.opaque.RecordDrawCommands(cmd, slot.indirect, 0)
	if err != nil {
		cmd.Reset()
		return nil, err
	}
	more, err := w.transparent.RecordDrawCommands(cmd, slot.indirect, stats.Commands)
	if err != nil {
		cmd.Reset()
		return nil, err
	}
	stats.Add(more)

	cmd.EndRenderPass()
	if err := cmd.End(); err != nil {
		cmd.Reset()
		return nil, fmt.Errorf("%s slot %d: %w", w.opts.label, frameIndex, err)
	}
	slot.stats = stats
	w.enter(slot, SlotSubmitted)
	return cmd, nil
}

func (w *WorldRenderer) upload(slot *frameSlot, data *RenderWorldData) error {
	scene, _ := binary.Append(nil, binary.LittleEndian, gpuSceneData{
		Ambient: data.Ambient.Vec4(1),
		Time:    float32(data.Elapsed),
		Delta:   float32(w.delta),
		Lights:  uint32(len(data.Lights)),
		Objects: uint32(len(data.Renderables)),
	})
	if err := slot.scene.Write(0, scene); err != nil {
		return fmt.Errorf("write scene data: %w", err)
	}

	view, _ := binary.Append(nil, binary.LittleEndian, gpuViewData{
		View:     data.View.Matrix,
		Proj:     data.View.Proj,
		ViewProj: data.View.ViewProj,
		Position: data.View.Position.Vec4(1),
		NearFar:  geom.Vec4{X: data.View.Near, Y: data.View.Far},
	})
	if err := slot.view.Write(0, view); err != nil {
		return fmt.Errorf("write view data: %w", err)
	}

	if len(data.Lights) > 0 {
		raw := make([]byte, 0, len(data.Lights)*LightDataSize)
		for _, l := range data.Lights {
			raw, _ = binary.Append(raw, binary.LittleEndian, gpuLightData{
				Position:  l.Position.Vec4(1),
				Direction: l.Direction.Vec4(0),
				Color:     l.Color.Vec4(l.Intensity),
				Params:    geom.Vec4{X: l.Range, Y: float32(l.Kind)},
			})
		}
		if err := slot.lights.Write(0, raw); err != nil {
			return fmt.Errorf("write light data: %w", err)
		}
	}

	if len(data.Renderables) > 0 {
		raw := make([]byte, 0, len(data.Renderables)*ObjectDataSize)
		for _, r := range data.Renderables {
			raw, _ = binary.Append(raw, binary.LittleEndian, r.Model)
		}
		if err := slot.objects.Write(0, raw); err != nil {
			return fmt.Errorf("write object data: %w", err)
		}
	}
	return nil
}

// Target returns the color image frameIndex renders into.
func (w *WorldRenderer) Target(frameIndex int) gpu.Image {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot := w.slots[frameIndex]; slot != nil {
		return slot.target
	}
	return nil
}

// Passes returns the opaque and transparent draw passes.
func (w *WorldRenderer) Passes() []*DrawPass {
	return []*DrawPass{w.opaque, w.transparent}
}

// Stats returns the draw statistics of the slot's last recording.
func (w *WorldRenderer) Stats(frameIndex int) DrawStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot := w.slots[frameIndex]; slot != nil {
		return slot.stats
	}
	return DrawStats{}
}

func (w *WorldRenderer) SlotState(frameIndex int) SlotState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot := w.slots[frameIndex]; slot != nil {
		return slot.state
	}
	return SlotIdle
}

// enter moves slot to s. w.mu must be held.
func (w *WorldRenderer) enter(slot *frameSlot, s SlotState) {
	slot.state = s
	if w.opts.slotHook != nil {
		w.opts.slotHook(slot.index, s)
	}
}

// prepare moves the next slot to a pre-extraction state. A slot whose last
// submission is still in flight stays Submitted until frameDone.
func (w *WorldRenderer) prepare(s SlotState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	slot := w.slots[w.next]
	if slot == nil {
		return
	}
	if slot.state == SlotSubmitted {
		slot.prepared = max(slot.prepared, s)
		return
	}
	w.enter(slot, s)
}

// frameDone marks the slot idle once its fence signaled and replays the
// Tick and SyncData that ran while it was in flight.
func (w *WorldRenderer) frameDone(frameIndex int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	slot := w.slots[frameIndex]
	if slot == nil || slot.state != SlotSubmitted {
		return
	}
	w.enter(slot, SlotIdle)
	for _, s := range []SlotState{SlotTicking, SlotSyncingData} {
		if slot.prepared >= s {
			w.enter(slot, s)
		}
	}
	slot.prepared = SlotIdle
}

// beginFrame records which slot the next Tick and SyncData prepare.
func (w *WorldRenderer) beginFrame(frameIndex int) {
	w.mu.Lock()
	w.next = frameIndex
	w.mu.Unlock()
}

// Destroy stops tracking the world and retires every GPU object.
func (w *WorldRenderer) Destroy() {
	w.detach()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retireSlots()
}
