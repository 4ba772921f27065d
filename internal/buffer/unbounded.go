package buffer

import (
	"fmt"
	"os"
	"sync/atomic"
)

// Unbounded creates a channel buffer that grows as needed.
// It returns a write-only channel to feed data in, and a read-only channel to read data out.
//
// initialCap: The starting size of the backing slice.
// hardLimit: The maximum number of items to buffer before dropping the oldest.
// A hardLimit <= 0 never drops.
//
// Closing the input channel flushes everything still queued, in order,
// and then closes the output channel.
//
// Usage:
//
//	in, out := buffer.Unbounded[event.Message](16, 0)
//	in <- event.Update
//	msg := <-out
func Unbounded[T any](initialCap int, hardLimit int) (chan<- T, <-chan T) {
	in, out, _ := UnboundedWithLen[T](initialCap, hardLimit)
	return in, out
}

// UnboundedWithLen is Unbounded plus a function reporting how many items
// are currently queued (not counting the small channel buffers).
func UnboundedWithLen[T any](initialCap int, hardLimit int) (chan<- T, <-chan T, func() int) {
	in := make(chan T, 10)  // Small input buffer to reduce context switching
	out := make(chan T, 10) // Small output buffer
	var queued atomic.Int64

	go func() {
		defer close(out)

		queue := make([]T, 0, initialCap)

		for {
			var next T
			var downstream chan T

			// Enable the 'out' case only if we have data to send.
			if len(queue) > 0 {
				next = queue[0]
				downstream = out
			}

			select {
			case val, ok := <-in:
				if !ok {
					// Input channel closed. Flush remaining queue then exit.
					for _, item := range queue {
						out <- item
						queued.Add(-1)
					}
					return
				}

				if hardLimit > 0 && len(queue) >= hardLimit {
					fmt.Fprintf(os.Stderr, "[buffer] queue limit reached (%d), dropping oldest item\n", hardLimit)
					queue = queue[1:]
					queued.Add(-1)
				}

				queue = append(queue, val)
				queued.Add(1)

			case downstream <- next:
				queue = queue[1:]
				queued.Add(-1)
			}
		}
	}()

	return in, out, func() int { return int(queued.Load()) }
}
