//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package regulator

import "time"

var base = time.Now()

type MonotonicClock struct{}

func (MonotonicClock) Now() int64 {
	return int64(time.Since(base))
}
