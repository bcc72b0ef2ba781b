// ABOUTME: Server monotonic clock
// ABOUTME: Nanoseconds since process start, the timeline every server timestamp uses
package sync

import "time"

var clockStart = time.Now()

// ServerNanos returns the server monotonic clock in nanoseconds
func ServerNanos() int64 {
	return time.Since(clockStart).Nanoseconds()
}
