package renderer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/math"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// BufferAlignment is the size granularity of every buffer the factory creates.
const BufferAlignment uint64 = 256

/**
 * @brief Creates GPU resources and keeps every live one in a registry keyed by its ID,
 * so anything still alive at shutdown is reported and released.
 */
type ResourceFactory struct {
	backend RendererBackend

	mutex sync.Mutex
	live  map[uuid.UUID]Resource
}

func NewResourceFactory(backend RendererBackend) *ResourceFactory {
	return &ResourceFactory{
		backend: backend,
		live:    make(map[uuid.UUID]Resource),
	}
}

// Create builds a resource from desc. Failures carry the description and the device
// removal reason and are fatal to the caller.
func (f *ResourceFactory) Create(desc *metadata.ResourceDesc) (Resource, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrResourceCreation, err)
	}
	res, err := f.backend.CreateResource(desc)
	if err != nil {
		reason := f.backend.DeviceRemovedReason()
		if reason == nil {
			reason = err
		}
		core.LogError("failed to create resource %s: %s", desc, reason)
		return nil, fmt.Errorf("%w: %s: %v (device: %v)", core.ErrResourceCreation, desc, err, reason)
	}

	f.mutex.Lock()
	f.live[res.ID()] = res
	f.mutex.Unlock()

	core.LogDebug("created resource %s id=%s", desc, res.ID())
	return res, nil
}

func (f *ResourceFactory) CreateRenderTarget(name string, width, height uint32, format metadata.Format) (Resource, error) {
	return f.Create(&metadata.ResourceDesc{
		Name:      name,
		Width:     uint64(width),
		Height:    height,
		Format:    format,
		Usage:     metadata.UsageRenderTarget | metadata.UsageShaderResource,
		Heap:      metadata.HeapTypeDefault,
		Dimension: metadata.DimensionTexture2D,
	})
}

// CreateUploadBuffer creates a CPU-writable buffer usable as a copy source, vertex or constant buffer.
func (f *ResourceFactory) CreateUploadBuffer(name string, size uint64) (Resource, error) {
	return f.Create(&metadata.ResourceDesc{
		Name:      name,
		Width:     math.AlignUp(size, BufferAlignment),
		Height:    1,
		Usage:     metadata.UsageCopySource | metadata.UsageVertexBuffer | metadata.UsageConstantBuffer,
		Heap:      metadata.HeapTypeUpload,
		Dimension: metadata.DimensionBuffer,
		Layout:    metadata.LayoutRowMajor,
	})
}

// CreateUAVBuffer creates a GPU-local buffer the update pass reads or writes.
func (f *ResourceFactory) CreateUAVBuffer(name string, size uint64) (Resource, error) {
	return f.Create(&metadata.ResourceDesc{
		Name:      name,
		Width:     math.AlignUp(size, BufferAlignment),
		Height:    1,
		Usage:     metadata.UsageUnorderedAccess | metadata.UsageCopyDest | metadata.UsageVertexBuffer,
		Heap:      metadata.HeapTypeDefault,
		Dimension: metadata.DimensionBuffer,
		Layout:    metadata.LayoutRowMajor,
	})
}

// UploadData copies data into the start of an upload resource inside one map/unmap scope.
func UploadData(res Resource, data []byte) error {
	dst, err := res.Map()
	if err != nil {
		core.LogError("failed to map %s: %s", res.Desc(), err)
		return fmt.Errorf("%w: %s: %v", core.ErrMapFailed, res.Desc(), err)
	}
	defer res.Unmap()

	if len(data) > len(dst) {
		return fmt.Errorf("%w: %s holds %d bytes, %d given", core.ErrUploadTooLarge, res.Desc(), len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

// Release destroys res once; releasing an unknown or already released resource is a no-op.
func (f *ResourceFactory) Release(res Resource) {
	if res == nil {
		return
	}
	f.mutex.Lock()
	_, ok := f.live[res.ID()]
	delete(f.live, res.ID())
	f.mutex.Unlock()
	if ok {
		res.Release()
	}
}

// Live returns how many resources have not been released.
func (f *ResourceFactory) Live() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.live)
}

// Shutdown releases every remaining resource and returns their names.
func (f *ResourceFactory) Shutdown() []string {
	f.mutex.Lock()
	leaked := make([]Resource, 0, len(f.live))
	for _, res := range f.live {
		leaked = append(leaked, res)
	}
	f.live = make(map[uuid.UUID]Resource)
	f.mutex.Unlock()

	names := make([]string, 0, len(leaked))
	for _, res := range leaked {
		names = append(names, res.Desc().Name)
		core.LogWarn("resource %s id=%s leaked, releasing", res.Desc(), res.ID())
		res.Release()
	}
	sort.Strings(names)
	return names
}
