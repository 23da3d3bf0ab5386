//go:build unix

package region

import (
	"errors"
	"os"

	"github.com/Trinoooo/vdshm/errs"
	"golang.org/x/sys/unix"
)

// tryLock 非阻塞地获取创建者排他锁，锁被其他打开的文件持有时返回 false。
// 进程退出时内核自动释放，崩溃的创建者不会留下锁。
func tryLock(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	if err != nil {
		return false, errs.NewFlockFileErr().WithErr(err)
	}
	return true, nil
}

func unlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return errs.NewFlockFileErr().WithErr(err)
	}
	return nil
}
