package assets

import "github.com/spaghettifunk/spritelayers/engine/renderer/metadata"

// Loader turns the raw bytes of one asset into a shader program.
type Loader interface {
	Load(name string, data []byte, params interface{}) (*metadata.ShaderProgram, error)
}
