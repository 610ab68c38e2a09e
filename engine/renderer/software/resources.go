package software

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

var errNotCPUVisible = errors.New("resource is not CPU visible")

// Resource is a buffer or texture backed by host memory.
type Resource struct {
	id   uuid.UUID
	desc metadata.ResourceDesc

	mutex    sync.Mutex
	data     []byte
	state    metadata.ResourceState
	mapped   int
	released bool
}

func newResource(desc *metadata.ResourceDesc) *Resource {
	return &Resource{
		id:    uuid.New(),
		desc:  *desc,
		data:  make([]byte, desc.Size()),
		state: desc.InitialState(),
	}
}

func (r *Resource) ID() uuid.UUID {
	return r.id
}

func (r *Resource) Desc() *metadata.ResourceDesc {
	return &r.desc
}

func (r *Resource) Map() ([]byte, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.released {
		return nil, fmt.Errorf("resource %s already released", &r.desc)
	}
	if r.desc.Heap != metadata.HeapTypeUpload {
		return nil, errNotCPUVisible
	}
	r.mapped++
	return r.data, nil
}

func (r *Resource) Unmap() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.mapped > 0 {
		r.mapped--
	}
}

// Mapped reports how many Map calls are still outstanding.
func (r *Resource) Mapped() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.mapped
}

func (r *Resource) Release() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.released = true
	r.data = nil
}

func (r *Resource) Released() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.released
}

// State is the resource state after the last executed barrier.
func (r *Resource) State() metadata.ResourceState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

// Contents returns a copy of the bytes of any resource, including GPU-local ones.
func Contents(res renderer.Resource) []byte {
	r, ok := res.(*Resource)
	if !ok {
		return nil
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

func asResource(res interface{}) *Resource {
	r, _ := res.(*Resource)
	return r
}

type viewKind uint8

const (
	viewNone viewKind = iota
	viewRTV
	viewSRV
	viewUAV
	viewCBV
	viewSampler
)

func (k viewKind) String() string {
	switch k {
	case viewRTV:
		return "rtv"
	case viewSRV:
		return "srv"
	case viewUAV:
		return "uav"
	case viewCBV:
		return "cbv"
	case viewSampler:
		return "sampler"
	}
	return "empty"
}

type view struct {
	kind     viewKind
	res      *Resource
	elements uint32
	stride   uint32
	filter   metadata.Filter
}

const descriptorStride uint64 = 32

// DescriptorHeap is a flat table of views addressed by CPU or GPU handle.
type DescriptorHeap struct {
	info metadata.HeapInfo

	mutex sync.RWMutex
	views []view
}

func newDescriptorHeap(kind metadata.HeapKind, capacity uint32) *DescriptorHeap {
	info := metadata.HeapInfo{
		Kind:     kind,
		Capacity: capacity,
		CPUStart: uint64(kind+1) << 32,
		Stride:   descriptorStride,
	}
	if kind.ShaderVisible() {
		info.GPUStart = uint64(kind+1) << 40
	}
	return &DescriptorHeap{
		info:  info,
		views: make([]view, capacity),
	}
}

func (h *DescriptorHeap) Info() metadata.HeapInfo {
	return h.info
}

func (h *DescriptorHeap) Release() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.views = nil
}

func (h *DescriptorHeap) cpuIndex(handle metadata.DescriptorHandle) (uint32, error) {
	if handle.Kind != h.info.Kind || handle.CPU < h.info.CPUStart {
		return 0, fmt.Errorf("handle %s does not belong to the %s heap", handle, h.info.Kind)
	}
	index := (handle.CPU - h.info.CPUStart) / h.info.Stride
	if index >= uint64(h.info.Capacity) {
		return 0, fmt.Errorf("handle %s outside the %s heap", handle, h.info.Kind)
	}
	return uint32(index), nil
}

func (h *DescriptorHeap) gpuIndex(gpu uint64) (uint32, error) {
	if !h.info.Kind.ShaderVisible() || gpu < h.info.GPUStart {
		return 0, fmt.Errorf("gpu handle %#x does not belong to the %s heap", gpu, h.info.Kind)
	}
	index := (gpu - h.info.GPUStart) / h.info.Stride
	if index >= uint64(h.info.Capacity) {
		return 0, fmt.Errorf("gpu handle %#x outside the %s heap", gpu, h.info.Kind)
	}
	return uint32(index), nil
}

func (h *DescriptorHeap) write(handle metadata.DescriptorHandle, v view) error {
	index, err := h.cpuIndex(handle)
	if err != nil {
		return err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.views[index] = v
	return nil
}

func (h *DescriptorHeap) at(index uint32) view {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if int(index) >= len(h.views) {
		return view{}
	}
	return h.views[index]
}
