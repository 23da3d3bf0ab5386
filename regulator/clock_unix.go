//go:build linux || darwin || freebsd || netbsd || openbsd

package regulator

import "golang.org/x/sys/unix"

// MonotonicClock CLOCK_MONOTONIC，与驱动读取时间所用的时钟一致
type MonotonicClock struct{}

func (MonotonicClock) Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic(err)
	}
	return ts.Nano()
}
