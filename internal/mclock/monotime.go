package mclock

import "time"

var processStart = time.Now()

// monotime returns monotonic time elapsed since process start.
func monotime() time.Duration {
	return time.Since(processStart)
}
