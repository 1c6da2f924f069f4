package render

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/kamstrup/intmap"
	"go.uber.org/zap"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/gpu"
)

// Vertex is the merged vertex buffer layout.
type Vertex struct {
	Position geom.Vec3
	Normal   geom.Vec3
	UV       [2]float32
}

const vertexSize = 32

// Mesh is a range of the merged vertex and index buffers.
type Mesh struct {
	ID           ecs.ResourceID
	Name         string
	VertexOffset int32
	FirstIndex   uint32
	IndexCount   uint32
	Bounds       geom.AABB // local space
}

// MeshRegistry merges every registered mesh into one vertex and one index
// buffer. Meshes are append only, so offsets handed out stay valid; Upload
// replaces the GPU buffers when new meshes arrived and retires the old ones
// through the deletion queue.
type MeshRegistry struct {
	dev      gpu.Device
	deletion *gpu.DeletionQueue
	logger   *zap.Logger

	mu       sync.RWMutex
	meshes   []*Mesh
	byID     *intmap.Map[ecs.ResourceID, *Mesh]
	byName   map[string]*Mesh
	vertices []Vertex
	indices  []uint32

	vertexBuf gpu.Buffer
	indexBuf  gpu.Buffer
	handles   [2]gpu.Handle
	dirty     bool
	uploads   int
}

func NewMeshRegistry(dev gpu.Device, deletion *gpu.DeletionQueue, logger *zap.Logger) *MeshRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MeshRegistry{
		dev:      dev,
		deletion: deletion,
		logger:   logger,
		byID:     intmap.New[ecs.ResourceID, *Mesh](16),
		byName:   make(map[string]*Mesh),
	}
}

// Add appends the geometry and returns its mesh entry.
func (r *MeshRegistry) Add(id ecs.ResourceID, name string, vertices []Vertex, indices []uint32) (*Mesh, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, fmt.Errorf("mesh %q: empty geometry", name)
	}
	for _, i := range indices {
		if int(i) >= len(vertices) {
			return nil, fmt.Errorf("mesh %q: index %d out of %d vertices", name, i, len(vertices))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID.Get(id); ok {
		return nil, fmt.Errorf("mesh %q (%d): %w", name, id, ErrDuplicateResource)
	}
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("mesh %q: %w", name, ErrDuplicateResource)
	}

	bounds := geom.AABB{Min: vertices[0].Position, Max: vertices[0].Position}
	for _, v := range vertices[1:] {
		bounds.Min = bounds.Min.Min(v.Position)
		bounds.Max = bounds.Max.Max(v.Position)
	}
	m := &Mesh{
		ID:           id,
		Name:         name,
		VertexOffset: int32(len(r.vertices)),
		FirstIndex:   uint32(len(r.indices)),
		IndexCount:   uint32(len(indices)),
		Bounds:       bounds,
	}
	r.vertices = append(r.vertices, vertices...)
	r.indices = append(r.indices, indices...)
	r.meshes = append(r.meshes, m)
	r.byID.Put(id, m)
	r.byName[name] = m
	r.dirty = true
	return m, nil
}

func (r *MeshRegistry) Get(id ecs.ResourceID) *Mesh {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, _ := r.byID.Get(id)
	return m
}

func (r *MeshRegistry) ByName(name string) *Mesh {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

func (r *MeshRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.meshes)
}

// Meshes returns the entries in registration order.
func (r *MeshRegistry) Meshes() []*Mesh {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Mesh(nil), r.meshes...)
}

// Uploads is how many times the merged buffers were rebuilt.
func (r *MeshRegistry) Uploads() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uploads
}

// Upload rebuilds the merged GPU buffers if meshes were added since the last
// call. It is a no-op otherwise.
func (r *MeshRegistry) Upload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}

	vb, err := r.dev.CreateBuffer(gpu.BufferDesc{
		Label: "meshes/vertices",
		Size:  len(r.vertices) * vertexSize,
		Usage: gpu.BufferVertex | gpu.BufferTransfer,
	})
	if err != nil {
		return fmt.Errorf("create vertex buffer: %w", err)
	}
	ib, err := r.dev.CreateBuffer(gpu.BufferDesc{
		Label: "meshes/indices",
		Size:  len(r.indices) * 4,
		Usage: gpu.BufferIndex | gpu.BufferTransfer,
	})
	if err != nil {
		vb.Destroy()
		return fmt.Errorf("create index buffer: %w", err)
	}

	raw := make([]byte, 0, len(r.vertices)*vertexSize)
	for _, v := range r.vertices {
		raw, _ = binary.Append(raw, binary.LittleEndian, v)
	}
	if err := vb.Write(0, raw); err != nil {
		vb.Destroy()
		ib.Destroy()
		return fmt.Errorf("write vertices: %w", err)
	}
	raw = make([]byte, 0, len(r.indices)*4)
	for _, i := range r.indices {
		raw = binary.LittleEndian.AppendUint32(raw, i)
	}
	if err := ib.Write(0, raw); err != nil {
		vb.Destroy()
		ib.Destroy()
		return fmt.Errorf("write indices: %w", err)
	}

	r.retireBuffers()
	r.vertexBuf, r.indexBuf = vb, ib
	r.handles = [2]gpu.Handle{r.deletion.Track(vb), r.deletion.Track(ib)}
	r.dirty = false
	r.uploads++
	r.logger.Debug("uploaded merged meshes",
		zap.Int("meshes", len(r.meshes)),
		zap.Int("vertices", len(r.vertices)),
		zap.Int("indices", len(r.indices)))
	return nil
}

func (r *MeshRegistry) retireBuffers() {
	for _, h := range r.handles {
		if !h.IsZero() {
			r.deletion.Retire(h)
		}
	}
	r.handles = [2]gpu.Handle{}
	r.vertexBuf, r.indexBuf = nil, nil
}

// Buffers returns the merged buffers of the last Upload. Both are nil
// before the first upload.
func (r *MeshRegistry) Buffers() (vertices, indices gpu.Buffer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vertexBuf, r.indexBuf
}

// Destroy retires the merged buffers. Registered meshes stay known and the
// next Upload recreates them.
func (r *MeshRegistry) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retireBuffers()
	r.dirty = len(r.meshes) > 0
}

// CubeGeometry returns a unit cube centered on the origin.
func CubeGeometry() ([]Vertex, []uint32) {
	faces := []struct {
		normal, u, v geom.Vec3
	}{
		{geom.V3(0, 0, 1), geom.V3(1, 0, 0), geom.V3(0, 1, 0)},
		{geom.V3(0, 0, -1), geom.V3(-1, 0, 0), geom.V3(0, 1, 0)},
		{geom.V3(1, 0, 0), geom.V3(0, 0, -1), geom.V3(0, 1, 0)},
		{geom.V3(-1, 0, 0), geom.V3(0, 0, 1), geom.V3(0, 1, 0)},
		{geom.V3(0, 1, 0), geom.V3(1, 0, 0), geom.V3(0, 0, -1)},
		{geom.V3(0, -1, 0), geom.V3(1, 0, 0), geom.V3(0, 0, 1)},
	}
	vertices := make([]Vertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range faces {
		base := uint32(len(vertices))
		center := f.normal.Scale(0.5)
		for _, c := range [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
			p := center.Add(f.u.Scale(c[0] * 0.5)).Add(f.v.Scale(c[1] * 0.5))
			vertices = append(vertices, Vertex{Position: p, Normal: f.normal, UV: [2]float32{(c[0] + 1) / 2, (c[1] + 1) / 2}})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return vertices, indices
}

// PlaneGeometry returns a size x size quad in the XZ plane facing +Y.
func PlaneGeometry(size float32) ([]Vertex, []uint32) {
	h := size / 2
	vertices := []Vertex{
		{Position: geom.V3(-h, 0, h), Normal: geom.Up, UV: [2]float32{0, 0}},
		{Position: geom.V3(h, 0, h), Normal: geom.Up, UV: [2]float32{1, 0}},
		{Position: geom.V3(h, 0, -h), Normal: geom.Up, UV: [2]float32{1, 1}},
		{Position: geom.V3(-h, 0, -h), Normal: geom.Up, UV: [2]float32{0, 1}},
	}
	return vertices, []uint32{0, 1, 2, 0, 2, 3}
}
