/*
meshbuf loads the meshes listed in its configuration onto the GPU and
keeps them in sync with their model files until interrupted.
*/
package main

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spaghettifunk/meshbuf/engine"
	"github.com/spaghettifunk/meshbuf/engine/core"
)

func init() {
	// glfw and the Vulkan loader must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	cfg, err := engine.LoadConfig()
	if err != nil {
		core.LogFatal("invalid configuration: %s", err)
	}

	e, err := engine.New(cfg)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(); err != nil {
		e.Close()
		core.LogFatal(err.Error())
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = e.Shutdown()
	}()

	// run engine
	if err := e.Run(); err != nil {
		core.LogFatal(err.Error())
	}
}
