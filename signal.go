package podguard

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ListenForShutdownSignals binds SIGTERM and SIGINT to StartShutdown, as
// spec.md §4.5 requires ("also bound to the process termination signal").
// It returns a stop function that releases the signal binding; call it
// once the orchestrator's own shutdown has completed, or via defer in
// main, mirroring signal.NotifyContext's cleanup contract.
func (o *Orchestrator) ListenForShutdownSignals(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			o.StartShutdown(ctx)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
