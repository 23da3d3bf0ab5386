package utils

import "sync"

// WrapLock 持锁执行 fn，fn 返回的错误原样透出
func WrapLock(lock sync.Locker, fn func() error) error {
	lock.Lock()
	defer lock.Unlock()

	return fn()
}
