//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every package's tests with the race detector.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}

// Runs the renderer tests against the software backend.
func (Test) Renderer() error {
	_, err := executeCmd("go", withArgs("test", "./engine/renderer/..."), withDir("."), withStream())
	return err
}
