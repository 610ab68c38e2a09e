package metadata

import (
	"fmt"
	"strings"
)

type HeapType uint8

const (
	/** @brief GPU-local memory, not CPU visible. */
	HeapTypeDefault HeapType = iota
	/** @brief CPU-writable memory read by the GPU. */
	HeapTypeUpload
)

func (h HeapType) String() string {
	if h == HeapTypeUpload {
		return "upload"
	}
	return "default"
}

type Dimension uint8

const (
	DimensionBuffer Dimension = iota
	DimensionTexture2D
)

type Format uint8

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatR32Float
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "rgba8unorm"
	case FormatBGRA8Unorm:
		return "bgra8unorm"
	case FormatR32Float:
		return "r32float"
	}
	return "unknown"
}

// BytesPerPixel returns 0 for FormatUnknown.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatR32Float:
		return 4
	}
	return 0
}

type Layout uint8

const (
	LayoutUnknown Layout = iota
	LayoutRowMajor
)

type UsageFlags uint32

const (
	UsageNone            UsageFlags = 0
	UsageRenderTarget    UsageFlags = 1 << 0
	UsageUnorderedAccess UsageFlags = 1 << 1
	UsageShaderResource  UsageFlags = 1 << 2
	UsageVertexBuffer    UsageFlags = 1 << 3
	UsageConstantBuffer  UsageFlags = 1 << 4
	UsageCopySource      UsageFlags = 1 << 5
	UsageCopyDest        UsageFlags = 1 << 6
)

func (u UsageFlags) Has(flag UsageFlags) bool {
	return u&flag == flag
}

func (u UsageFlags) String() string {
	if u == UsageNone {
		return "none"
	}
	names := []string{"render_target", "unordered_access", "shader_resource", "vertex", "constant", "copy_src", "copy_dst"}
	parts := []string{}
	for i, n := range names {
		if u&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// ResourceState mirrors the transition states a recorded barrier moves between.
type ResourceState uint8

const (
	ResourceStateCommon ResourceState = iota
	ResourceStateRenderTarget
	ResourceStateGenericRead
	ResourceStateCopySource
	ResourceStateCopyDest
	ResourceStateUnorderedAccess
	ResourceStateVertexAndConstantBuffer
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStateCommon:
		return "common"
	case ResourceStateRenderTarget:
		return "render_target"
	case ResourceStateGenericRead:
		return "generic_read"
	case ResourceStateCopySource:
		return "copy_source"
	case ResourceStateCopyDest:
		return "copy_dest"
	case ResourceStateUnorderedAccess:
		return "unordered_access"
	case ResourceStateVertexAndConstantBuffer:
		return "vertex_and_constant_buffer"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

/**
 * @brief Creation parameters for a GPU buffer or texture.
 */
type ResourceDesc struct {
	Name      string
	Width     uint64
	Height    uint32
	Format    Format
	Usage     UsageFlags
	Heap      HeapType
	Dimension Dimension
	Layout    Layout
}

// InitialState is GenericRead for upload heaps and Common otherwise.
func (d *ResourceDesc) InitialState() ResourceState {
	if d.Heap == HeapTypeUpload {
		return ResourceStateGenericRead
	}
	return ResourceStateCommon
}

// Size returns the byte size of the resource contents.
func (d *ResourceDesc) Size() uint64 {
	if d.Dimension == DimensionBuffer {
		return d.Width
	}
	return d.Width * uint64(d.Height) * uint64(d.Format.BytesPerPixel())
}

func (d *ResourceDesc) String() string {
	return fmt.Sprintf("%q w=%d h=%d format=%s flags=%s heap=%s", d.Name, d.Width, d.Height, d.Format, d.Usage, d.Heap)
}

func (d *ResourceDesc) Validate() error {
	if d.Width == 0 {
		return fmt.Errorf("resource %s: zero width", d)
	}
	if d.Dimension == DimensionTexture2D {
		if d.Height == 0 || d.Format == FormatUnknown {
			return fmt.Errorf("resource %s: textures need a height and a format", d)
		}
		if d.Heap == HeapTypeUpload {
			return fmt.Errorf("resource %s: textures cannot live in an upload heap", d)
		}
	}
	if d.Heap == HeapTypeUpload && d.Usage.Has(UsageUnorderedAccess) {
		return fmt.Errorf("resource %s: upload heap resources cannot be unordered access", d)
	}
	return nil
}

// Barrier is a recorded state transition of one resource.
type Barrier struct {
	Resource interface{}
	Before   ResourceState
	After    ResourceState
}
