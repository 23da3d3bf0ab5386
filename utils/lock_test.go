package utils

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapLock(t *testing.T) {
	var (
		mu        sync.Mutex
		globalVar int64
	)

	wg := sync.WaitGroup{}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = WrapLock(&mu, func() error {
				loop(10, func() {
					globalVar++
				})
				return nil
			})
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(30), globalVar)
}

func TestWrapLockError(t *testing.T) {
	var mu sync.Mutex
	e := errors.New("boom")
	assert.Equal(t, e, WrapLock(&mu, func() error { return e }))
	// 出错后锁已释放
	assert.True(t, mu.TryLock())
}

func loop(times int, fn func()) {
	for i := 0; i < times; i++ {
		fn()
	}
}
