package soft

import (
	"fmt"
	"sync"

	"github.com/plus3/lumen/gpu"
)

type Op uint8

const (
	OpBeginRenderPass Op = iota
	OpEndRenderPass
	OpSetViewport
	OpBindPipeline
	OpBindDescriptorSet
	OpBindVertexBuffer
	OpBindIndexBuffer
	OpDrawIndexedIndirect
	OpDraw
	OpBlit
)

func (o Op) String() string {
	switch o {
	case OpBeginRenderPass:
		return "begin-render-pass"
	case OpEndRenderPass:
		return "end-render-pass"
	case OpSetViewport:
		return "set-viewport"
	case OpBindPipeline:
		return "bind-pipeline"
	case OpBindDescriptorSet:
		return "bind-descriptor-set"
	case OpBindVertexBuffer:
		return "bind-vertex-buffer"
	case OpBindIndexBuffer:
		return "bind-index-buffer"
	case OpDrawIndexedIndirect:
		return "draw-indexed-indirect"
	case OpDraw:
		return "draw"
	case OpBlit:
		return "blit"
	}
	return "unknown"
}

// Command is one recorded call. Only the fields the op uses are set.
type Command struct {
	Op       Op
	Pipeline gpu.Pipeline
	Set      gpu.DescriptorSet
	Buffer   gpu.Buffer
	Target   gpu.Image
	Depth    gpu.Image
	Src      gpu.Image
	Offset   int
	Count    uint32
	Stride   uint32
	Width    uint32
	Height   uint32
}

type cbState uint8

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbPending
)

// CommandBuffer records commands for later execution by the Queue.
type CommandBuffer struct {
	object
	mu       sync.Mutex
	state    cbState
	inPass   bool
	commands []Command
}

func (c *CommandBuffer) Destroy() { c.destroy() }

func (c *CommandBuffer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == cbPending {
		c.dev.hazard("command buffer %q reset while pending", c.label)
	}
	c.state = cbInitial
	c.inPass = false
	c.commands = c.commands[:0]
}

func (c *CommandBuffer) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case cbRecording:
		return fmt.Errorf("begin %q: already recording", c.label)
	case cbPending:
		c.dev.hazard("command buffer %q re-recorded while pending", c.label)
	}
	c.state = cbRecording
	c.inPass = false
	c.commands = c.commands[:0]
	return nil
}

func (c *CommandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbRecording {
		return fmt.Errorf("end %q: %w", c.label, gpu.ErrRecording)
	}
	if c.inPass {
		return fmt.Errorf("end %q: render pass still open", c.label)
	}
	c.state = cbExecutable
	return nil
}

func (c *CommandBuffer) record(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbRecording {
		panic(fmt.Sprintf("soft: %s recorded into %q outside Begin/End", cmd.Op, c.label))
	}
	switch cmd.Op {
	case OpBeginRenderPass:
		c.inPass = true
	case OpEndRenderPass:
		c.inPass = false
	}
	c.commands = append(c.commands, cmd)
}

func (c *CommandBuffer) BeginRenderPass(target gpu.Image, depth gpu.Image, clear [4]float32) {
	c.record(Command{Op: OpBeginRenderPass, Target: target, Depth: depth})
}

func (c *CommandBuffer) EndRenderPass() { c.record(Command{Op: OpEndRenderPass}) }

func (c *CommandBuffer) SetViewport(width, height uint32) {
	c.record(Command{Op: OpSetViewport, Width: width, Height: height})
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	c.record(Command{Op: OpBindPipeline, Pipeline: p})
}

func (c *CommandBuffer) BindDescriptorSet(set gpu.DescriptorSet) {
	c.record(Command{Op: OpBindDescriptorSet, Set: set})
}

func (c *CommandBuffer) BindVertexBuffer(buf gpu.Buffer) {
	c.record(Command{Op: OpBindVertexBuffer, Buffer: buf})
}

func (c *CommandBuffer) BindIndexBuffer(buf gpu.Buffer) {
	c.record(Command{Op: OpBindIndexBuffer, Buffer: buf})
}

func (c *CommandBuffer) DrawIndexedIndirect(indirect gpu.Buffer, offset int, drawCount uint32, stride uint32) {
	c.record(Command{Op: OpDrawIndexedIndirect, Buffer: indirect, Offset: offset, Count: drawCount, Stride: stride})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount uint32) {
	c.record(Command{Op: OpDraw, Count: vertexCount, Stride: instanceCount})
}

func (c *CommandBuffer) BlitImage(src, dst gpu.Image) {
	c.record(Command{Op: OpBlit, Src: src, Target: dst})
}

// Commands returns a copy of the recorded commands.
func (c *CommandBuffer) Commands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.commands...)
}

// Count returns how many recorded commands have op.
func (c *CommandBuffer) Count(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, cmd := range c.commands {
		if cmd.Op == op {
			n++
		}
	}
	return n
}

func (c *CommandBuffer) submit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbExecutable {
		return fmt.Errorf("submit %q: not executable", c.label)
	}
	c.state = cbPending
	return nil
}

func (c *CommandBuffer) complete() {
	c.mu.Lock()
	if c.state == cbPending {
		c.state = cbExecutable
	}
	c.mu.Unlock()
}

// references lists every object the recorded commands touch.
func (c *CommandBuffer) references() []tracked {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[*object]bool)
	var refs []tracked
	add := func(v any) {
		t, ok := v.(tracked)
		if !ok || t == nil || seen[t.base()] {
			return
		}
		seen[t.base()] = true
		refs = append(refs, t)
	}
	for _, cmd := range c.commands {
		if cmd.Pipeline != nil {
			add(cmd.Pipeline)
		}
		if cmd.Set != nil {
			add(cmd.Set)
			if set, ok := cmd.Set.(*DescriptorSet); ok {
				for _, b := range set.Buffers() {
					add(b)
				}
				for _, img := range set.Images() {
					add(img)
				}
			}
		}
		for _, v := range []any{cmd.Buffer, cmd.Target, cmd.Depth, cmd.Src} {
			if v != nil {
				add(v)
			}
		}
	}
	return refs
}
