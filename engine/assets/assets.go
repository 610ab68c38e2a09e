package assets

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spaghettifunk/spritelayers/engine/assets/loaders"
	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

//go:embed shaders/*.wgsl
var embedded embed.FS

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
)

type AssetInfo struct {
	Path       string
	Type       AssetType
	LastLoaded time.Time
}

/**
 * @brief Indexes shader sources and hands out compiled-ready programs by logical name.
 */
type AssetManager struct {
	fsys    fs.FS
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex
}

// NewAssetManager indexes fsys. A nil fsys uses the programs built into the binary.
func NewAssetManager(fsys fs.FS) *AssetManager {
	if fsys == nil {
		fsys = embedded
	}
	return &AssetManager{
		fsys:    fsys,
		assets:  make(map[string]AssetInfo),
		loaders: make(map[AssetType]Loader),
	}
}

func (am *AssetManager) Initialize() error {
	am.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})

	err := fs.WalkDir(am.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		am.handleFile(p)
		return nil
	})
	if err != nil {
		return err
	}
	core.LogDebug("indexed %d assets", len(am.assets))
	return nil
}

func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// Shaders lists the logical names of every indexed shader program.
func (am *AssetManager) Shaders() []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	names := make([]string, 0, len(am.assets))
	for name, info := range am.assets {
		if info.Type == AssetTypeShader {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// LoadShader resolves a logical shader name ("update", "clear", ...) to its program.
func (am *AssetManager) LoadShader(name string, params loaders.ShaderParams) (*metadata.ShaderProgram, error) {
	am.mutex.Lock()
	asset, exists := am.assets[name]
	if exists {
		asset.LastLoaded = time.Now()
		am.assets[name] = asset
	}
	am.mutex.Unlock()
	if !exists || asset.Type != AssetTypeShader {
		return nil, fmt.Errorf("shader not found: %s", name)
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %d", asset.Type)
	}

	data, err := fs.ReadFile(am.fsys, asset.Path)
	if err != nil {
		return nil, err
	}
	return loader.Load(name, data, params)
}

func (am *AssetManager) handleFile(p string) {
	assetType := determineAssetType(p)
	if assetType == AssetTypeNone {
		return
	}
	name := strings.TrimSuffix(path.Base(p), path.Ext(p))

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[name] = AssetInfo{
		Path: p,
		Type: assetType,
	}
}

func determineAssetType(p string) AssetType {
	switch path.Ext(p) {
	case ".wgsl":
		return AssetTypeShader
	default:
		return AssetTypeNone
	}
}
