package software

import (
	"sync"

	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// Swapchain rotates through its back buffers in order, one per Present.
type Swapchain struct {
	buffers []*Resource
	format  metadata.Format
	width   uint32
	height  uint32

	mutex    sync.Mutex
	current  uint32
	presents uint64
}

func newSwapchain(count, width, height uint32) *Swapchain {
	sc := &Swapchain{
		buffers: make([]*Resource, count),
		format:  metadata.FormatRGBA8Unorm,
		width:   width,
		height:  height,
	}
	for i := range sc.buffers {
		sc.buffers[i] = newResource(&metadata.ResourceDesc{
			Name:      "backbuffer",
			Width:     uint64(width),
			Height:    height,
			Format:    sc.format,
			Usage:     metadata.UsageRenderTarget,
			Heap:      metadata.HeapTypeDefault,
			Dimension: metadata.DimensionTexture2D,
		})
	}
	return sc
}

func (sc *Swapchain) BufferCount() uint32 {
	return uint32(len(sc.buffers))
}

func (sc *Swapchain) Buffer(index uint32) renderer.Resource {
	return sc.buffers[index]
}

func (sc *Swapchain) Format() metadata.Format {
	return sc.format
}

func (sc *Swapchain) Extent() (uint32, uint32) {
	return sc.width, sc.height
}

func (sc *Swapchain) Acquire() (uint32, error) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.current, nil
}

func (sc *Swapchain) Present(syncInterval uint32) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.current = (sc.current + 1) % uint32(len(sc.buffers))
	sc.presents++
	return nil
}

func (sc *Swapchain) Presents() uint64 {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.presents
}
