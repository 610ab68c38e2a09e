package assets

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/assets/loaders"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

var testParams = loaders.ShaderParams{Capacity: 256, GroupSize: 256, LayerMax: 8}

func TestEmbeddedPrograms(t *testing.T) {
	am := NewAssetManager(nil)
	require.NoError(t, am.Initialize())

	assert.Equal(t, []string{
		metadata.ShaderClear,
		metadata.ShaderDrawRects,
		metadata.ShaderPresent,
		metadata.ShaderUpdate,
	}, am.Shaders())

	update, err := am.LoadShader(metadata.ShaderUpdate, testParams)
	require.NoError(t, err)
	assert.Equal(t, metadata.ShaderStageCompute, update.Stages)
	assert.Contains(t, update.Source, "@workgroup_size(256)")
	assert.Contains(t, update.Source, "DESCRIPTOR_CAPACITY: u32 = 256u")
	assert.NotContains(t, update.Source, "{{")

	for _, name := range []string{metadata.ShaderClear, metadata.ShaderDrawRects, metadata.ShaderPresent} {
		p, err := am.LoadShader(name, testParams)
		require.NoError(t, err, name)
		assert.True(t, p.HasStage(metadata.ShaderStageVertex), name)
		assert.True(t, p.HasStage(metadata.ShaderStageFragment), name)
		assert.False(t, p.HasStage(metadata.ShaderStageCompute), name)
	}
}

func TestMissingShader(t *testing.T) {
	am := NewAssetManager(nil)
	require.NoError(t, am.Initialize())

	_, err := am.LoadShader("bloom", testParams)
	assert.ErrorContains(t, err, "shader not found: bloom")
}

func TestShaderEntryPointNames(t *testing.T) {
	fsys := fstest.MapFS{
		"shaders/bad.wgsl":   {Data: []byte("@vertex\nfn main() {}\n")},
		"shaders/empty.wgsl": {Data: []byte("// nothing here\n")},
		"notes.txt":          {Data: []byte("ignored")},
	}
	am := NewAssetManager(fsys)
	require.NoError(t, am.Initialize())
	assert.Equal(t, []string{"bad", "empty"}, am.Shaders())

	_, err := am.LoadShader("bad", testParams)
	var shaderErr *metadata.ShaderError
	require.ErrorAs(t, err, &shaderErr)
	assert.Equal(t, "bad", shaderErr.Program)
	assert.Contains(t, shaderErr.Diagnostic, "VSMain")

	_, err = am.LoadShader("empty", testParams)
	require.ErrorAs(t, err, &shaderErr)
	assert.Equal(t, "no entry points", shaderErr.Diagnostic)
}

func TestShaderLoaderRejectsParams(t *testing.T) {
	sl := &loaders.ShaderLoader{}
	_, err := sl.Load("x", []byte("@compute @workgroup_size(1)\nfn CSMain() {}"), nil)
	assert.Error(t, err)
}
