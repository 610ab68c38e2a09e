/*
spritelayers animates sprite layers on the GPU and composites them to a window,
or to an offscreen software target with -headless.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/spaghettifunk/spritelayers/engine"
	"github.com/spaghettifunk/spritelayers/engine/config"
	"github.com/spaghettifunk/spritelayers/engine/core"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	headless := flag.Bool("headless", false, "render with the software backend, without a window")
	frames := flag.Uint64("frames", 0, "stop after this many frames (0 runs until quit)")
	profileMode := flag.String("profile", "", "write a cpu or mem profile to the working directory")
	flag.Parse()

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		core.LogFatal("unknown profile mode %q", *profileMode)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			core.LogFatal("%s", err)
		}
		cfg = loaded
	}

	e, err := engine.New(&engine.ApplicationConfig{
		Name:       cfg.Window.Title,
		Config:     cfg,
		Headless:   *headless,
		FrameLimit: *frames,
	})
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("%s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// the loop owns the device, so a signal only asks it to stop
	go func() {
		<-sigCh
		e.Quit()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%s", runErr)
	}
}
