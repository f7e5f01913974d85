//go:build windows

package config

// registerSignalHandler does nothing on Windows, where SIGHUP does not
// exist; config changes still arrive through the file watcher.
func (r *Reloader) registerSignalHandler() {}
