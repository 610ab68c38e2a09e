package renderer

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/spritelayers/engine/config"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// Resource is a GPU buffer or texture owned by a backend.
type Resource interface {
	ID() uuid.UUID
	Desc() *metadata.ResourceDesc
	// Map returns the CPU-visible bytes of an upload resource.
	Map() ([]byte, error)
	Unmap()
	Release()
}

// Fence is a monotonically increasing counter the queue advances on completion.
type Fence interface {
	CompletedValue() uint64
	// Wait blocks until CompletedValue() >= value.
	Wait(value uint64) error
	Release()
}

type CommandQueue interface {
	// Submit executes a closed command list and signals fence to value once it retires.
	Submit(list CommandList, fence Fence, value uint64) error
	// Flush blocks until every submitted list has retired.
	Flush() error
}

type DescriptorHeap interface {
	Info() metadata.HeapInfo
	Release()
}

type RootSignature interface {
	Desc() *metadata.RootSignatureDesc
	Release()
}

type PipelineState interface {
	Name() string
	Release()
}

/**
 * @brief Records GPU work once; the list is replayed unchanged every time its slot is submitted.
 */
type CommandList interface {
	Reset() error
	Close() error

	SetDescriptorHeaps(heaps ...DescriptorHeap)
	SetComputeRootSignature(rs RootSignature)
	SetGraphicsRootSignature(rs RootSignature)
	SetComputeRootDescriptorTable(param uint32, base metadata.DescriptorHandle)
	SetGraphicsRootDescriptorTable(param uint32, base metadata.DescriptorHandle)
	SetPipelineState(ps PipelineState)

	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset uint64, size uint64)
	Dispatch(x, y, z uint32)
	ResourceBarrier(barriers ...metadata.Barrier)

	SetRenderTargets(rtvs ...metadata.DescriptorHandle)
	ClearRenderTargetView(rtv metadata.DescriptorHandle, color [4]float32)
	SetViewport(viewport metadata.Viewport)
	SetScissorRect(rect metadata.Rect)
	SetVertexBuffer(view metadata.VertexBufferView)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	Release()
}

type Swapchain interface {
	BufferCount() uint32
	Buffer(index uint32) Resource
	Format() metadata.Format
	Extent() (width, height uint32)
	// Acquire returns the index of the back buffer the next frame renders into.
	Acquire() (uint32, error)
	Present(syncInterval uint32) error
}

type RendererBackend interface {
	Initialize(appName string, cfg *config.Config) error
	Shutdown() error

	Queue() CommandQueue
	Swapchain() Swapchain

	CreateDescriptorHeap(kind metadata.HeapKind, capacity uint32) (DescriptorHeap, error)
	CreateResource(desc *metadata.ResourceDesc) (Resource, error)

	CreateRenderTargetView(res Resource, dst metadata.DescriptorHandle) error
	CreateShaderResourceView(res Resource, dst metadata.DescriptorHandle) error
	CreateUnorderedAccessView(res Resource, elements, stride uint32, dst metadata.DescriptorHandle) error
	CreateConstantBufferView(res Resource, dst metadata.DescriptorHandle) error
	CreateSampler(filter metadata.Filter, dst metadata.DescriptorHandle) error

	CreateRootSignature(desc *metadata.RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipeline(rs RootSignature, colorFormat, depthFormat metadata.Format, program *metadata.ShaderProgram) (PipelineState, error)
	CreateComputePipeline(rs RootSignature, program *metadata.ShaderProgram) (PipelineState, error)

	CreateCommandList() (CommandList, error)
	CreateFence(initial uint64) (Fence, error)

	// DeviceRemovedReason explains a lost device, nil while the device is healthy.
	DeviceRemovedReason() error
}
