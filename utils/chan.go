package utils

import "sync/atomic"

// UnboundChan 无界通知通道，In 永不阻塞（除非已关闭），Out 在没有待取通知时阻塞
type UnboundChan struct {
	in, out chan struct{}
	pending atomic.Int64
}

func NewUnboundChan() *UnboundChan {
	uc := &UnboundChan{
		in:  make(chan struct{}),
		out: make(chan struct{}),
	}

	go func() {
		var buffered int64
		in := uc.in
		for in != nil || buffered > 0 {
			var out chan struct{}
			if buffered > 0 {
				out = uc.out
			}

			select {
			case _, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				buffered++
			case out <- struct{}{}:
				buffered--
			}
		}

		close(uc.out)
	}()

	return uc
}

func (uc *UnboundChan) In() {
	uc.pending.Add(1)
	uc.in <- struct{}{}
}

// Out 取出一个通知，通道关闭且通知耗尽后返回 false
func (uc *UnboundChan) Out() bool {
	_, ok := <-uc.out
	if ok {
		uc.pending.Add(-1)
	}
	return ok
}

func (uc *UnboundChan) Len() int64 {
	return uc.pending.Load()
}

func (uc *UnboundChan) Close() {
	close(uc.in)
}
