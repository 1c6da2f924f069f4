package render

import (
	"fmt"
	"slices"
	"sync"

	"github.com/plus3/lumen/gpu"
)

type SortMode uint8

const (
	SortNone SortMode = iota
	SortFrontToBack
	SortBackToFront
)

func (s SortMode) String() string {
	switch s {
	case SortNone:
		return "none"
	case SortFrontToBack:
		return "front-to-back"
	case SortBackToFront:
		return "back-to-front"
	}
	return "unknown"
}

// InstancedBatch is every renderable of a pass sharing one mesh and one
// material. Renderables holds indices into the pass's renderable list.
type InstancedBatch struct {
	Mesh        *Mesh
	Material    *Material
	Count       uint32
	Renderables []int
}

// MaterialBindFlag says which material state changes before a batch draws.
type MaterialBindFlag uint8

const (
	BindPipeline MaterialBindFlag = 1 << iota
	BindDescriptor
)

// DrawStats counts what one RecordDrawCommands call emitted.
type DrawStats struct {
	Batches         int
	DrawCalls       int
	Commands        int
	Instances       int
	PipelineBinds   int
	DescriptorBinds int
	Skipped         int
}

func (s *DrawStats) Add(o DrawStats) {
	s.Batches += o.Batches
	s.DrawCalls += o.DrawCalls
	s.Commands += o.Commands
	s.Instances += o.Instances
	s.PipelineBinds += o.PipelineBinds
	s.DescriptorBinds += o.DescriptorBinds
	s.Skipped += o.Skipped
}

type DrawPassOption func(*DrawPass)

// WithFrustumCulling drops renderables whose bounds are outside the view.
func WithFrustumCulling(on bool) DrawPassOption {
	return func(p *DrawPass) { p.cull = on }
}

func WithSort(mode SortMode) DrawPassOption {
	return func(p *DrawPass) { p.sort = mode }
}

// DrawPass holds the renderables of one pass mask for one view and their
// instanced batches. All access goes through the pass's mutex, copies
// included.
type DrawPass struct {
	mask         PassMask
	drawDistance float32
	cull         bool
	sort         SortMode

	mu          sync.Mutex
	renderables []RenderableData
	batches     []InstancedBatch
}

func NewDrawPass(mask PassMask, drawDistance float32, opts ...DrawPassOption) *DrawPass {
	p := &DrawPass{mask: mask, drawDistance: drawDistance}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *DrawPass) Mask() PassMask        { return p.mask }
func (p *DrawPass) DrawDistance() float32 { return p.drawDistance }
func (p *DrawPass) FrustumCulling() bool  { return p.cull }
func (p *DrawPass) SortMode() SortMode    { return p.sort }

// PrepareRenderData rebuilds the pass from drawList: renderables matching
// the pass mask within the draw distance (and inside the frustum when
// culling is on) are kept in drawList order, optionally sorted by distance,
// then batched.
func (p *DrawPass) PrepareRenderData(drawList []RenderableData, view *View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.renderables = p.renderables[:0]
	for _, r := range drawList {
		if r.Mask&p.mask == 0 || r.Mesh == nil || r.Material == nil {
			continue
		}
		r.Distance = view.Distance(r.Position)
		if r.Distance > p.drawDistance {
			continue
		}
		if p.cull && !view.Visible(r.Bounds) {
			continue
		}
		p.renderables = append(p.renderables, r)
	}

	switch p.sort {
	case SortFrontToBack:
		slices.SortStableFunc(p.renderables, func(a, b RenderableData) int {
			return compareDistance(a.Distance, b.Distance)
		})
	case SortBackToFront:
		slices.SortStableFunc(p.renderables, func(a, b RenderableData) int {
			return compareDistance(b.Distance, a.Distance)
		})
	}

	p.batchPassRenderables()
}

func compareDistance(a, b float32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// batchPassRenderables groups the extracted renderables by mesh and
// material identity. Batches keep first-seen order.
func (p *DrawPass) batchPassRenderables() {
	p.batches = p.batches[:0]
	for i := range p.renderables {
		r := &p.renderables[i]
		if idx := p.findInBatch(r.Mesh, r.Material); idx >= 0 {
			b := &p.batches[idx]
			b.Count++
			b.Renderables = append(b.Renderables, i)
			continue
		}
		p.batches = append(p.batches, InstancedBatch{
			Mesh:        r.Mesh,
			Material:    r.Material,
			Count:       1,
			Renderables: []int{i},
		})
	}
}

// findInBatch is a linear scan; batch counts stay small next to renderable
// counts.
func (p *DrawPass) findInBatch(mesh *Mesh, mat *Material) int {
	for i := range p.batches {
		if p.batches[i].Mesh == mesh && p.batches[i].Material == mat {
			return i
		}
	}
	return -1
}

// Renderables returns a copy of the extracted renderables.
func (p *DrawPass) Renderables() []RenderableData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.renderables)
}

// Batches returns a deep copy of the batches.
func (p *DrawPass) Batches() []InstancedBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneBatches(p.batches)
}

func cloneBatches(in []InstancedBatch) []InstancedBatch {
	out := make([]InstancedBatch, len(in))
	for i, b := range in {
		out[i] = b
		out[i].Renderables = slices.Clone(b.Renderables)
	}
	return out
}

// Clone returns an independent pass with the same settings and contents.
func (p *DrawPass) Clone() *DrawPass {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &DrawPass{
		mask:         p.mask,
		drawDistance: p.drawDistance,
		cull:         p.cull,
		sort:         p.sort,
		renderables:  slices.Clone(p.renderables),
		batches:      cloneBatches(p.batches),
	}
}

// CopyFrom replaces p's settings and contents with other's. The two locks
// are never held together.
func (p *DrawPass) CopyFrom(other *DrawPass) {
	if p == other {
		return
	}
	src := other.Clone()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mask = src.mask
	p.drawDistance = src.drawDistance
	p.cull = src.cull
	p.sort = src.sort
	p.renderables = src.renderables
	p.batches = src.batches
}

// RecordDrawCommands writes one indirect command per renderable, grouped by
// batch, starting at command index first of indirect, and records one
// indexed indirect draw per batch. The pipeline is bound only when it
// changes between batches and the descriptor set only when the material
// does. Batches whose material is not ready are skipped.
func (p *DrawPass) RecordDrawCommands(cmd gpu.CommandBuffer, indirect gpu.Buffer, first int) (DrawStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats DrawStats
	if len(p.batches) == 0 {
		return stats, nil
	}

	commands := make([]gpu.DrawIndexedIndirectCommand, 0, len(p.renderables))
	for _, b := range p.batches {
		for _, ri := range b.Renderables {
			commands = append(commands, gpu.DrawIndexedIndirectCommand{
				IndexCount:    b.Mesh.IndexCount,
				InstanceCount: 1,
				FirstIndex:    b.Mesh.FirstIndex,
				VertexOffset:  b.Mesh.VertexOffset,
				FirstInstance: p.renderables[ri].ObjectIndex,
			})
		}
	}

	offset := first * gpu.DrawIndexedIndirectCommandSize
	size := len(commands) * gpu.DrawIndexedIndirectCommandSize
	if offset+size > indirect.Size() {
		return stats, fmt.Errorf("%w: %d commands at %d, buffer holds %d",
			ErrIndirectOverflow, len(commands), first, indirect.Size()/gpu.DrawIndexedIndirectCommandSize)
	}
	if err := indirect.Write(offset, gpu.EncodeDrawIndexedIndirect(commands)); err != nil {
		return stats, fmt.Errorf("write indirect commands: %w", err)
	}
	stats.Commands = len(commands)

	var lastPipeline gpu.Pipeline
	var lastMaterial *Material
	at := offset
	for _, b := range p.batches {
		batchSize := int(b.Count) * gpu.DrawIndexedIndirectCommandSize
		mat := b.Material
		if !mat.Ready() {
			stats.Skipped++
			at += batchSize
			continue
		}

		var flags MaterialBindFlag
		if mat.Pipeline != lastPipeline {
			flags |= BindPipeline
		}
		if mat != lastMaterial {
			flags |= BindDescriptor
		}
		if flags&BindPipeline != 0 {
			cmd.BindPipeline(mat.Pipeline)
			lastPipeline = mat.Pipeline
			stats.PipelineBinds++
		}
		if flags&BindDescriptor != 0 {
			cmd.BindDescriptorSet(mat.Descriptor)
			lastMaterial = mat
			stats.DescriptorBinds++
		}

		cmd.DrawIndexedIndirect(indirect, at, b.Count, gpu.DrawIndexedIndirectCommandSize)
		at += batchSize
		stats.Batches++
		stats.DrawCalls++
		stats.Instances += int(b.Count)
	}
	return stats, nil
}
