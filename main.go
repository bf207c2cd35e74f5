/*
Runs the testbed: particles lit through a volumetric shadow over a
couple of shadowed props. The first argument names the TOML config,
ember.toml by default.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/ember/engine"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/testbed"
)

const defaultConfigPath = "ember.toml"

func main() {
	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	config, err := engine.LoadConfig(configPath)
	if err != nil {
		core.LogFatal("failed to load config: %s", err)
	}

	tb := testbed.NewTestGame(&config, configPath)

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("failed to create the engine: %s", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("failed to initialize the engine: %s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// stop the loop on a signal, shutdown happens on the main thread below
	go func() {
		<-sigCh
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("engine stopped: %s", runErr)
	}
}
