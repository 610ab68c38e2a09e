package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/core"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(1024), cfg.Window.Width)
	assert.Equal(t, uint32(1024), cfg.Window.Height)
	assert.Equal(t, uint32(2), cfg.Renderer.FrameCount)
	assert.Equal(t, uint32(8), cfg.Renderer.LayerMax)
	assert.Equal(t, uint32(1), cfg.Window.VSync)
}

func TestDispatchCountDividesEvenly(t *testing.T) {
	cfg := Default()
	assert.Zero(t, cfg.Renderer.ObjectMax%cfg.Renderer.ComputeGroupSize)
	assert.Equal(t, uint32(16), cfg.DispatchCount())
	assert.Equal(t, cfg.Renderer.ObjectMax, cfg.DispatchCount()*cfg.Renderer.ComputeGroupSize)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"indivisible objects": func(c *Config) { c.Renderer.ObjectMax = 4000 },
		"single frame":        func(c *Config) { c.Renderer.FrameCount = 1 },
		"zero layers":         func(c *Config) { c.Renderer.LayerMax = 0 },
		"zero group":          func(c *Config) { c.Renderer.ComputeGroupSize = 0 },
		"unknown backend":     func(c *Config) { c.Renderer.Backend = "metal" },
		"bad log level":       func(c *Config) { c.Log.Level = "chatty" },
		"zero layer size":     func(c *Config) { c.Renderer.LayerWidth = 0 },
		"resource budget":     func(c *Config) { c.Renderer.LayerMax = 64 },
		"rtv budget": func(c *Config) {
			c.Renderer.DescriptorCapacity = 17
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestBudgets(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint64(18), cfg.RTVBudget(2))
	assert.Equal(t, uint64(50), cfg.ResourceBudget(2))
	assert.NoError(t, cfg.ValidateBudget(3))
	assert.ErrorIs(t, cfg.ValidateBudget(11), core.ErrInvalidConfig)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[renderer]
backend = "software"
layer_max = 4
object_max = 512

[log]
level = "debug"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSoftware, cfg.Renderer.Backend)
	assert.Equal(t, uint32(4), cfg.Renderer.LayerMax)
	assert.Equal(t, uint32(512), cfg.Renderer.ObjectMax)
	assert.Equal(t, uint32(2), cfg.DispatchCount())
	// untouched keys keep their defaults
	assert.Equal(t, uint32(1024), cfg.Window.Width)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nlayers = 3\n"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestParseValidates(t *testing.T) {
	_, err := Parse([]byte("[renderer]\nobject_max = 100\n"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestBudgetsDoNotWrap(t *testing.T) {
	cfg := Default()
	cfg.Renderer.LayerMax = 1
	assert.Equal(t, uint64(1)<<32, cfg.RTVBudget(1<<31))
	assert.Equal(t, uint64(1)<<33, cfg.ResourceBudget(1<<31))
	assert.ErrorIs(t, cfg.ValidateBudget(1<<31), core.ErrInvalidConfig)

	cfg.Renderer.LayerMax = 1 << 31
	assert.ErrorIs(t, cfg.ValidateBudget(2), core.ErrInvalidConfig)
}

func TestParseRejectsHugeSlotCounts(t *testing.T) {
	_, err := Parse([]byte("[renderer]\nframe_count = 2147483648\nlayer_max = 1\n"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = Parse([]byte("[renderer]\nlayer_max = 1431655765\n"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[renderer]\nlayers = 3\n"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg, err := Parse([]byte("[renderer]\nlayer_max = 4\n"))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), cfg.Renderer.LayerMax)
}
