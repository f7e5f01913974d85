//go:build !windows

package config

import (
	"os"
	"os/signal"
	"syscall"
)

// registerSignalHandler reloads the client config when the process receives
// SIGHUP, the conventional nudge for long-running CLI sessions. The handler
// shares the stop channel with the file watcher.
func (r *Reloader) registerSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				r.logger.Info("reloading config on SIGHUP")
				r.Reload()
			case <-r.stopCh:
				return
			}
		}
	}()
}
