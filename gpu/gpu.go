// Package gpu is the contract between the renderers and a graphics backend.
// It names the objects a frame needs (buffers, images, pipelines, descriptor
// sets, fences, semaphores, command buffers, swapchains and a queue) and
// provides the frame-tagged deletion queue used to retire them safely.
package gpu

import (
	"errors"
	"time"
)

// FramesInFlight is the number of frames the CPU may record ahead of the GPU.
const FramesInFlight = 2

// FrameIndex maps a frame counter onto its frame-in-flight slot.
func FrameIndex(frame uint64) int {
	return int(frame % FramesInFlight)
}

var (
	ErrOutOfRange = errors.New("gpu: access out of buffer range")
	ErrNotReady   = errors.New("gpu: object used before it was ready")
	ErrRecording  = errors.New("gpu: command buffer is not recording")
)

type Format uint8

const (
	FormatRGBA8 Format = iota
	FormatBGRA8
	FormatRGBA16F
	FormatDepth32
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "rgba8"
	case FormatBGRA8:
		return "bgra8"
	case FormatRGBA16F:
		return "rgba16f"
	case FormatDepth32:
		return "depth32"
	}
	return "unknown"
}

type BufferUsage uint32

const (
	BufferVertex BufferUsage = 1 << iota
	BufferIndex
	BufferUniform
	BufferStorage
	BufferIndirect
	BufferTransfer
)

type ImageUsage uint32

const (
	ImageColorTarget ImageUsage = 1 << iota
	ImageDepthTarget
	ImageSampled
	ImagePresent
)

type BufferDesc struct {
	Label string
	Size  int
	Usage BufferUsage
}

type ImageDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsage
}

type PipelineDesc struct {
	Label       string
	Shader      string
	ColorFormat Format
	DepthTest   bool
	Blend       bool
}

type SwapchainDesc struct {
	Label      string
	Width      uint32
	Height     uint32
	Format     Format
	ImageCount int
}

// Object is anything created by a Device. Objects must not be used until
// Ready reports true, and must not be destroyed while a submission that
// references them may still execute.
type Object interface {
	Ready() bool
	Destroy()
}

type Buffer interface {
	Object
	Size() int
	Usage() BufferUsage
	Write(offset int, data []byte) error
	Read(offset int, dst []byte) error
}

type Image interface {
	Object
	Width() uint32
	Height() uint32
	Format() Format
}

type Pipeline interface {
	Object
	Label() string
}

type DescriptorSet interface {
	Object
	BindBuffer(binding uint32, buf Buffer)
	BindImage(binding uint32, img Image)
}

type Fence interface {
	Object
	// Wait blocks until the fence is signaled or timeout passes. It returns
	// Success, Timeout, or an error result.
	Wait(timeout time.Duration) Result
	Reset()
	Signaled() bool
}

type Semaphore interface {
	Object
}

type Swapchain interface {
	Object
	// AcquireNextImage signals sem and fence once the returned image may be
	// rendered to. Timeout and NotReady return no image.
	AcquireNextImage(timeout time.Duration, sem Semaphore, fence Fence) (uint32, Result)
	Recreate(width, height uint32) error
	Extent() (width, height uint32)
	ImageCount() int
	Image(index uint32) Image
}

type CommandBuffer interface {
	Object
	Reset()
	Begin() error
	End() error
	BeginRenderPass(target Image, depth Image, clear [4]float32)
	EndRenderPass()
	SetViewport(width, height uint32)
	BindPipeline(p Pipeline)
	BindDescriptorSet(set DescriptorSet)
	BindVertexBuffer(buf Buffer)
	BindIndexBuffer(buf Buffer)
	DrawIndexedIndirect(indirect Buffer, offset int, drawCount uint32, stride uint32)
	Draw(vertexCount, instanceCount uint32)
	BlitImage(src, dst Image)
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchains     []Swapchain
	ImageIndices   []uint32
}

type Queue interface {
	// Submit hands command buffers to the GPU; fence is signaled when all of
	// them finished executing. fence may be nil.
	Submit(submits []SubmitInfo, fence Fence) error
	// Present returns one result per swapchain.
	Present(info PresentInfo) []Result
}

type Device interface {
	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	CreatePipeline(desc PipelineDesc) (Pipeline, error)
	CreateDescriptorSet(label string) (DescriptorSet, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandBuffer() (CommandBuffer, error)
	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)
	Queue() Queue
	WaitIdle() error
}
