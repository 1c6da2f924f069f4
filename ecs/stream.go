package ecs

import (
	"bufio"
	"bytes"
	"encoding"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sync"

	"github.com/plus3/lumen/geom"
	"go.uber.org/zap"
)

const (
	streamMagic   = "LWLD"
	StreamVersion = uint32(1)
)

// ErrUnknownVersion is returned for streams with a foreign magic or a version
// this build cannot read.
var ErrUnknownVersion = errors.New("ecs: unknown world stream version")

// ErrUnserializableComponent is returned by SaveToStream for a component
// type with unexported state that does not implement StreamSerializer.
var ErrUnserializableComponent = errors.New("ecs: component has unexported state and no StreamSerializer")

// StreamSerializer is implemented by components that write their own stream
// body. Components that don't are gob encoded, which only carries exported
// fields.
type StreamSerializer interface {
	SaveToStream(enc *Encoder) error
	LoadFromStream(dec *Decoder) error
}

// Encoder writes little-endian primitives. The first error sticks and later
// writes are dropped.
type Encoder struct {
	w   io.Writer
	buf [8]byte
	err error
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *Encoder) Uint8(v uint8) {
	e.buf[0] = v
	e.write(e.buf[:1])
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

func (e *Encoder) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

func (e *Encoder) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[:8], v)
	e.write(e.buf[:8])
}

func (e *Encoder) Float32(v float32) { e.Uint32(math.Float32bits(v)) }
func (e *Encoder) Float64(v float64) { e.Uint64(math.Float64bits(v)) }

// Bytes writes a uint32 length prefix followed by p.
func (e *Encoder) Bytes(p []byte) {
	e.Uint32(uint32(len(p)))
	e.write(p)
}

func (e *Encoder) Text(s string) { e.Bytes([]byte(s)) }

func (e *Encoder) Vec3(v geom.Vec3) {
	e.Float32(v.X)
	e.Float32(v.Y)
	e.Float32(v.Z)
}

func (e *Encoder) Quat(q geom.Quat) {
	e.Float32(q.X)
	e.Float32(q.Y)
	e.Float32(q.Z)
	e.Float32(q.W)
}

func (e *Encoder) Transform(t geom.Transform) {
	e.Vec3(t.Position)
	e.Quat(t.Rotation)
	e.Vec3(t.Scale)
}

// Decoder is the read side of Encoder.
type Decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) read(p []byte) bool {
	if d.err != nil {
		return false
	}
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
		return false
	}
	return true
}

func (d *Decoder) Uint8() uint8 {
	if !d.read(d.buf[:1]) {
		return 0
	}
	return d.buf[0]
}

func (d *Decoder) Bool() bool { return d.Uint8() != 0 }

func (d *Decoder) Uint32() uint32 {
	if !d.read(d.buf[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(d.buf[:4])
}

func (d *Decoder) Uint64() uint64 {
	if !d.read(d.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(d.buf[:8])
}

func (d *Decoder) Float32() float32 { return math.Float32frombits(d.Uint32()) }
func (d *Decoder) Float64() float64 { return math.Float64frombits(d.Uint64()) }

// maxStreamChunk bounds a single length-prefixed read.
const maxStreamChunk = 64 << 20

func (d *Decoder) Bytes() []byte {
	n := d.Uint32()
	if d.err != nil {
		return nil
	}
	if n > maxStreamChunk {
		d.err = fmt.Errorf("ecs: stream chunk of %d bytes exceeds limit", n)
		return nil
	}
	p := make([]byte, n)
	if !d.read(p) {
		return nil
	}
	return p
}

func (d *Decoder) Text() string { return string(d.Bytes()) }

func (d *Decoder) Vec3() geom.Vec3 {
	return geom.Vec3{X: d.Float32(), Y: d.Float32(), Z: d.Float32()}
}

func (d *Decoder) Quat() geom.Quat {
	return geom.Quat{X: d.Float32(), Y: d.Float32(), Z: d.Float32(), W: d.Float32()}
}

func (d *Decoder) Transform() geom.Transform {
	return geom.Transform{Position: d.Vec3(), Rotation: d.Quat(), Scale: d.Vec3()}
}

// encodeComponent writes a length-prefixed component body.
func encodeComponent[T any](enc *Encoder, value *T) error {
	var body bytes.Buffer
	if s, ok := any(value).(StreamSerializer); ok {
		sub := NewEncoder(&body)
		if err := s.SaveToStream(sub); err != nil {
			return err
		}
		if err := sub.Err(); err != nil {
			return err
		}
	} else if t := reflect.TypeFor[T](); hasHiddenState(t) {
		return fmt.Errorf("%w: %s", ErrUnserializableComponent, t)
	} else if hasExportedFields(t) {
		if err := gob.NewEncoder(&body).Encode(value); err != nil {
			return fmt.Errorf("gob encode %T: %w", value, err)
		}
	}
	enc.Bytes(body.Bytes())
	return enc.Err()
}

// decodeComponent reads a body written by encodeComponent into value.
func decodeComponent[T any](dec *Decoder, value *T) error {
	body := dec.Bytes()
	if err := dec.Err(); err != nil {
		return err
	}
	if s, ok := any(value).(StreamSerializer); ok {
		sub := NewDecoder(bytes.NewReader(body))
		if err := s.LoadFromStream(sub); err != nil {
			return err
		}
		return sub.Err()
	}
	if len(body) == 0 {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(value); err != nil {
		return fmt.Errorf("gob decode %T: %w", value, err)
	}
	return nil
}

// gob refuses structs without exported fields, so those get an empty body.
func hasExportedFields(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return true
	}
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			return true
		}
	}
	return false
}

var (
	gobEncoderType      = reflect.TypeFor[gob.GobEncoder]()
	binaryMarshalerType = reflect.TypeFor[encoding.BinaryMarshaler]()
	hiddenStateTypes    sync.Map // reflect.Type -> bool
)

// hasHiddenState reports whether gob would silently drop part of a t.
func hasHiddenState(t reflect.Type) bool {
	if v, ok := hiddenStateTypes.Load(t); ok {
		return v.(bool)
	}
	hidden := hiddenState(t, make(map[reflect.Type]bool))
	hiddenStateTypes.Store(t, hidden)
	return hidden
}

func hiddenState(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	for _, enc := range []reflect.Type{gobEncoderType, binaryMarshalerType} {
		if t.Implements(enc) || reflect.PointerTo(t).Implements(enc) {
			return false
		}
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return hiddenState(t.Elem(), seen)
	case reflect.Map:
		return hiddenState(t.Key(), seen) || hiddenState(t.Elem(), seen)
	case reflect.Struct:
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				if f.Type.Size() > 0 {
					return true
				}
				continue
			}
			if hiddenState(f.Type, seen) {
				return true
			}
		}
	}
	return false
}

// SaveToStream writes the world's settings and entity tree to w.
func (w *World) SaveToStream(out io.Writer) error {
	bw := bufio.NewWriter(out)
	enc := NewEncoder(bw)

	enc.write([]byte(streamMagic))
	enc.Uint32(StreamVersion)
	enc.Uint64(w.guidCounter)
	enc.Uint32(uint32(w.flags))

	enc.Uint64(uint64(w.gfx.SkyMaterial))
	enc.Uint64(uint64(w.gfx.SkyModel))
	enc.Vec3(w.gfx.AmbientColor)

	enc.Uint32(w.screen.Width)
	enc.Uint32(w.screen.Height)
	enc.Float32(w.screen.ContentScale)

	enc.Transform(w.camera.Transform)
	enc.Float32(w.camera.FOV)
	enc.Float32(w.camera.Near)
	enc.Float32(w.camera.Far)
	enc.Float64(w.sim.FixedRate)

	enc.Uint32(uint32(len(w.needed)))
	for _, id := range w.needed {
		enc.Uint64(uint64(id))
	}

	enc.Uint32(uint32(len(w.roots)))
	for _, id := range w.roots {
		if err := w.saveEntity(enc, w.entities.get(id)); err != nil {
			return err
		}
	}

	if err := enc.Err(); err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return bw.Flush()
}

func (w *World) saveEntity(enc *Encoder, e *Entity) error {
	enc.Uint64(e.guid)
	enc.Text(e.name)
	enc.Uint32(uint32(e.flags))
	enc.Transform(e.transform)
	savePhysicsSettings(enc, e.Physics)

	var owned []componentCache
	for _, cache := range w.caches {
		if cache.Has(e.id) {
			owned = append(owned, cache)
		}
	}
	enc.Uint32(uint32(len(owned)))
	for _, cache := range owned {
		enc.Text(cache.Name())
		if err := cache.encode(e.id, enc); err != nil {
			return fmt.Errorf("save component %s of %q: %w", cache.Name(), e.name, err)
		}
	}

	enc.Uint32(uint32(len(e.children)))
	for _, id := range e.children {
		if err := w.saveEntity(enc, w.entities.get(id)); err != nil {
			return err
		}
	}
	return enc.Err()
}

func savePhysicsSettings(enc *Encoder, p PhysicsSettings) {
	enc.Uint8(uint8(p.BodyType))
	enc.Uint8(uint8(p.Shape))
	enc.Vec3(p.Extents)
	enc.Float32(p.Radius)
	enc.Float32(p.Height)
	enc.Float32(p.Mass)
	enc.Float32(p.Friction)
	enc.Float32(p.Restitution)
	enc.Float32(p.Gravity)
}

func loadPhysicsSettings(dec *Decoder) PhysicsSettings {
	return PhysicsSettings{
		BodyType:    BodyType(dec.Uint8()),
		Shape:       ShapeType(dec.Uint8()),
		Extents:     dec.Vec3(),
		Radius:      dec.Float32(),
		Height:      dec.Float32(),
		Mass:        dec.Float32(),
		Friction:    dec.Float32(),
		Restitution: dec.Float32(),
		Gravity:     dec.Float32(),
	}
}

// LoadFromStream replaces the world's contents with a stream written by
// SaveToStream. The current entities are destroyed first, with the usual
// removal notifications. On error the world is left empty.
func (w *World) LoadFromStream(in io.Reader) error {
	if w.state == PlayStatePlaying {
		w.logger.Warn("loading a world stream while playing, ending play")
		w.EndPlay()
	}
	w.clearEntities()

	if err := w.loadStream(NewDecoder(bufio.NewReader(in))); err != nil {
		w.clearEntities()
		return fmt.Errorf("load world: %w", err)
	}
	w.logger.Debug("world loaded", zap.Int("entities", w.entities.count))
	return nil
}

func (w *World) loadStream(dec *Decoder) error {
	magic := make([]byte, len(streamMagic))
	if !dec.read(magic) {
		return dec.Err()
	}
	if string(magic) != streamMagic {
		return fmt.Errorf("%w: bad magic %q", ErrUnknownVersion, magic)
	}
	if version := dec.Uint32(); dec.Err() == nil && version != StreamVersion {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}

	guidCounter := dec.Uint64()
	flags := WorldFlags(dec.Uint32())

	gfx := GfxSettings{
		SkyMaterial:  ResourceID(dec.Uint64()),
		SkyModel:     ResourceID(dec.Uint64()),
		AmbientColor: dec.Vec3(),
	}
	screen := Screen{Width: dec.Uint32(), Height: dec.Uint32(), ContentScale: dec.Float32()}
	camera := Camera{Transform: dec.Transform(), FOV: dec.Float32(), Near: dec.Float32(), Far: dec.Float32()}
	sim := SimulationSettings{FixedRate: dec.Float64()}

	needed := make([]ResourceID, 0)
	for n := dec.Uint32(); dec.Err() == nil && n > 0; n-- {
		needed = append(needed, ResourceID(dec.Uint64()))
	}
	if err := dec.Err(); err != nil {
		return err
	}

	roots := dec.Uint32()
	for i := uint32(0); i < roots && dec.Err() == nil; i++ {
		if err := w.loadEntity(dec, nil); err != nil {
			return err
		}
	}
	if err := dec.Err(); err != nil {
		return err
	}

	w.guidCounter = guidCounter
	w.flags = flags
	w.gfx = gfx
	w.screen = screen
	w.camera = camera
	w.sim = sim
	w.needed = needed
	return nil
}

func (w *World) loadEntity(dec *Decoder, parent *Entity) error {
	guid := dec.Uint64()
	name := dec.Text()
	flags := EntityFlags(dec.Uint32())
	transform := dec.Transform()
	physics := loadPhysicsSettings(dec)
	if err := dec.Err(); err != nil {
		return err
	}

	e := w.CreateEntity(name)
	e.guid = guid
	e.flags = flags
	e.transform = transform
	e.prev = transform
	e.Physics = physics
	if parent != nil {
		w.AddChild(parent, e)
	}

	components := dec.Uint32()
	for i := uint32(0); i < components && dec.Err() == nil; i++ {
		typeName := dec.Text()
		cache, ok := w.cacheByName[typeName]
		if dec.Err() == nil && !ok {
			return fmt.Errorf("%w: %q", ErrUnregisteredComponent, typeName)
		}
		if dec.Err() != nil {
			break
		}
		value, err := cache.decode(e.id, dec)
		if err != nil {
			return fmt.Errorf("load component %s of %q: %w", typeName, name, err)
		}
		w.AddComponentValue(e, value)
	}

	children := dec.Uint32()
	for i := uint32(0); i < children && dec.Err() == nil; i++ {
		if err := w.loadEntity(dec, e); err != nil {
			return err
		}
	}
	return dec.Err()
}
