// Package procutil provides thin process-lifecycle helpers. Detailed signal
// plumbing belongs to the surrounding host process, not the daemon's
// routing logic, so this stays a small wrapper around os/signal.
package procutil

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InstallShutdownHandler arranges for fn to be called exactly once when the
// process receives SIGINT or SIGTERM, and returns a function that cancels
// the handler (used by tests and by explicit shutdown paths).
func InstallShutdownHandler(fn func()) (cancel func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var once sync.Once
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			once.Do(fn)
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
