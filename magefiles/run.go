//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the engine in a window with the default configuration.
func (Run) Engine() error {
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "configs/default.toml"), withStream())
	return err
}

// Renders 600 frames on the software backend without a window.
func (Run) Headless() error {
	fmt.Println("Run headless engine...")
	_, err := executeCmd("go", withArgs("run", ".", "-headless", "-frames", "600"), withStream())
	return err
}
