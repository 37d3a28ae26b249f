//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the engine with the configuration in MESHBUF_CONFIG (config.toml by default).
func (Run) Engine() error {
	mg.Deps(Build.Binary)
	fmt.Println("Run engine...")
	if _, err := executeCmd("bin/meshbuf", withStream(), withEnv("MESHBUF_CONFIG", os.Getenv("MESHBUF_CONFIG"))); err != nil {
		return err
	}
	return nil
}

// Runs the engine on the host memory device, no GPU required.
func (Run) Memory() error {
	mg.Deps(Build.Binary)
	if _, err := executeCmd("bin/meshbuf", withStream(), withEnv("MESHBUF_CONFIG", "config.memory.toml")); err != nil {
		return err
	}
	return nil
}
