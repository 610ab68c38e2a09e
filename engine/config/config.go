package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/spritelayers/engine/core"
)

const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"
)

// SamplerCount is the number of static samplers created at startup (point and linear).
const SamplerCount uint32 = 2

type WindowConfig struct {
	Title  string `toml:"title"`
	PosX   uint32 `toml:"pos_x"`
	PosY   uint32 `toml:"pos_y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	// Present interval. 1 locks presentation to vertical sync.
	VSync uint32 `toml:"vsync"`
}

type RendererConfig struct {
	Backend            string     `toml:"backend"`
	Validation         bool       `toml:"validation"`
	FrameCount         uint32     `toml:"frame_count"`
	LayerMax           uint32     `toml:"layer_max"`
	ObjectMax          uint32     `toml:"object_max"`
	LayerWidth         uint32     `toml:"layer_width"`
	LayerHeight        uint32     `toml:"layer_height"`
	DescriptorCapacity uint32     `toml:"descriptor_capacity"`
	ComputeGroupSize   uint32     `toml:"compute_group_size"`
	ClearColor         [4]float32 `toml:"clear_color"`
}

type AnimationConfig struct {
	Seed     uint64  `toml:"seed"`
	TimeStep float64 `toml:"time_step"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// Frames between two metrics log lines. 0 disables them.
	MetricsInterval uint32 `toml:"metrics_interval"`
}

type Config struct {
	Window    WindowConfig    `toml:"window"`
	Renderer  RendererConfig  `toml:"renderer"`
	Animation AnimationConfig `toml:"animation"`
	Log       LogConfig       `toml:"log"`
}

func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "spritelayers",
			PosX:   100,
			PosY:   100,
			Width:  1024,
			Height: 1024,
			VSync:  1,
		},
		Renderer: RendererConfig{
			Backend:            BackendVulkan,
			Validation:         false,
			FrameCount:         2,
			LayerMax:           8,
			ObjectMax:          4096,
			LayerWidth:         512,
			LayerHeight:        512,
			DescriptorCapacity: 256,
			ComputeGroupSize:   256,
			ClearColor:         [4]float32{0, 0, 0, 1},
		},
		Animation: AnimationConfig{
			Seed:     0,
			TimeStep: 1.0 / 16.0,
		},
		Log: LogConfig{
			Level:           "info",
			MetricsInterval: 300,
		},
	}
}

// Load reads a TOML file on top of the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text on top of the defaults and validates the result, with the same
// strictness as Load.
func Parse(data []byte) (*Config, error) {
	return decode(bytes.NewReader(data))
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s", core.ErrInvalidConfig, strict.String())
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DispatchCount is the number of compute thread groups needed to expand one layer.
func (c *Config) DispatchCount() uint32 {
	return c.Renderer.ObjectMax / c.Renderer.ComputeGroupSize
}

// RTVBudget is the number of render-target descriptors needed for frameCount slots:
// one per layer plus the backbuffer.
func (c *Config) RTVBudget(frameCount uint32) uint64 {
	return uint64(frameCount) * (uint64(c.Renderer.LayerMax) + 1)
}

// ResourceBudget is the number of CBV/SRV/UAV descriptors needed for frameCount slots:
// per layer one SRV and a UAV pair, plus one CBV per slot.
func (c *Config) ResourceBudget(frameCount uint32) uint64 {
	return uint64(frameCount) * (3*uint64(c.Renderer.LayerMax) + 1)
}

// ValidateBudget checks the descriptor heaps can hold frameCount slots.
func (c *Config) ValidateBudget(frameCount uint32) error {
	capacity := uint64(c.Renderer.DescriptorCapacity)
	if n := c.RTVBudget(frameCount); n > capacity {
		return fmt.Errorf("%w: %d render target descriptors exceed heap capacity %d", core.ErrInvalidConfig, n, capacity)
	}
	if n := c.ResourceBudget(frameCount); n > capacity {
		return fmt.Errorf("%w: %d CBV/SRV/UAV descriptors exceed heap capacity %d", core.ErrInvalidConfig, n, capacity)
	}
	if uint64(SamplerCount) > capacity {
		return fmt.Errorf("%w: %d samplers exceed heap capacity %d", core.ErrInvalidConfig, SamplerCount, capacity)
	}
	return nil
}

func (c *Config) Validate() error {
	r := c.Renderer
	switch r.Backend {
	case BackendVulkan, BackendSoftware:
	default:
		return fmt.Errorf("%w: unknown renderer backend %q", core.ErrInvalidConfig, r.Backend)
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("%w: window size %dx%d", core.ErrInvalidConfig, c.Window.Width, c.Window.Height)
	}
	if r.LayerWidth == 0 || r.LayerHeight == 0 {
		return fmt.Errorf("%w: layer size %dx%d", core.ErrInvalidConfig, r.LayerWidth, r.LayerHeight)
	}
	if r.FrameCount < 2 {
		return fmt.Errorf("%w: frame_count must be at least 2, got %d", core.ErrInvalidConfig, r.FrameCount)
	}
	if r.LayerMax == 0 || r.ObjectMax == 0 {
		return fmt.Errorf("%w: layer_max=%d object_max=%d", core.ErrInvalidConfig, r.LayerMax, r.ObjectMax)
	}
	if r.ComputeGroupSize == 0 || r.ObjectMax%r.ComputeGroupSize != 0 {
		return fmt.Errorf("%w: object_max %d is not a multiple of compute_group_size %d", core.ErrInvalidConfig, r.ObjectMax, r.ComputeGroupSize)
	}
	if r.DescriptorCapacity == 0 {
		return fmt.Errorf("%w: descriptor_capacity must be positive", core.ErrInvalidConfig)
	}
	if c.Animation.TimeStep <= 0 {
		return fmt.Errorf("%w: time_step must be positive", core.ErrInvalidConfig)
	}
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %s", core.ErrInvalidConfig, err)
	}
	return c.ValidateBudget(r.FrameCount)
}
