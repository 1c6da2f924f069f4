package render

import (
	"fmt"
	"sync"

	"github.com/kamstrup/intmap"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/gpu"
)

// Material pairs a pipeline with the descriptor set holding its inputs.
// Materials built from the same shader share one Pipeline.
type Material struct {
	ID         ecs.ResourceID
	Name       string
	Shader     string
	Mask       PassMask
	Pipeline   gpu.Pipeline
	Descriptor gpu.DescriptorSet
}

// Ready reports whether the material's GPU objects may be bound.
func (m *Material) Ready() bool {
	return m.Pipeline != nil && m.Pipeline.Ready() && m.Descriptor != nil && m.Descriptor.Ready()
}

type MaterialRegistry struct {
	dev      gpu.Device
	deletion *gpu.DeletionQueue

	mu        sync.RWMutex
	materials []*Material
	byID      *intmap.Map[ecs.ResourceID, *Material]
	byName    map[string]*Material
	pipelines map[string]gpu.Pipeline
	handles   []gpu.Handle
}

func NewMaterialRegistry(dev gpu.Device, deletion *gpu.DeletionQueue) *MaterialRegistry {
	return &MaterialRegistry{
		dev:       dev,
		deletion:  deletion,
		byID:      intmap.New[ecs.ResourceID, *Material](16),
		byName:    make(map[string]*Material),
		pipelines: make(map[string]gpu.Pipeline),
	}
}

// Add creates a material. The pipeline for shader is created on first use
// and reused afterwards.
func (r *MaterialRegistry) Add(id ecs.ResourceID, name, shader string, mask PassMask) (*Material, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID.Get(id); ok {
		return nil, fmt.Errorf("material %q (%d): %w", name, id, ErrDuplicateResource)
	}
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("material %q: %w", name, ErrDuplicateResource)
	}

	pipeline, ok := r.pipelines[shader]
	if !ok {
		var err error
		pipeline, err = r.dev.CreatePipeline(gpu.PipelineDesc{
			Label:       shader,
			Shader:      shader,
			ColorFormat: gpu.FormatRGBA8,
			DepthTest:   mask&PassOverlay == 0,
			Blend:       mask&PassTransparent != 0,
		})
		if err != nil {
			return nil, fmt.Errorf("material %q: create pipeline: %w", name, err)
		}
		r.pipelines[shader] = pipeline
		r.handles = append(r.handles, r.deletion.Track(pipeline))
	}

	set, err := r.dev.CreateDescriptorSet("material/" + name)
	if err != nil {
		return nil, fmt.Errorf("material %q: create descriptor set: %w", name, err)
	}
	r.handles = append(r.handles, r.deletion.Track(set))

	m := &Material{
		ID:         id,
		Name:       name,
		Shader:     shader,
		Mask:       mask,
		Pipeline:   pipeline,
		Descriptor: set,
	}
	r.materials = append(r.materials, m)
	r.byID.Put(id, m)
	r.byName[name] = m
	return m, nil
}

func (r *MaterialRegistry) Get(id ecs.ResourceID) *Material {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, _ := r.byID.Get(id)
	return m
}

func (r *MaterialRegistry) ByName(name string) *Material {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

func (r *MaterialRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.materials)
}

// Pipelines is the number of distinct pipelines created.
func (r *MaterialRegistry) Pipelines() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}

func (r *MaterialRegistry) Materials() []*Material {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Material(nil), r.materials...)
}

// Destroy retires every pipeline and descriptor set and forgets all
// materials.
func (r *MaterialRegistry) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		r.deletion.Retire(h)
	}
	r.handles = nil
	r.materials = nil
	r.byID = intmap.New[ecs.ResourceID, *Material](16)
	r.byName = make(map[string]*Material)
	r.pipelines = make(map[string]gpu.Pipeline)
}
