package main

import (
	"context"
	"log"
	"os"
	"sync/atomic"
)

// watchShutdownSignals cancels the supervisor on the first signal. A second
// signal calls force, for a viewer or worker that will not die.
func watchShutdownSignals(logger *log.Logger, cancel context.CancelFunc, force func(), signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var shutdownStarted atomic.Bool

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				if shutdownStarted.CompareAndSwap(false, true) {
					if logger != nil {
						logger.Printf("[session] %v received, shutting down", sig)
					}
					cancel()
					continue
				}
				if logger != nil {
					logger.Printf("[session] %v received again, forcing exit", sig)
				}
				if force != nil {
					force()
				}
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}
