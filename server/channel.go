package server

import (
	"sync"
	"unsafe"

	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/region"
	"github.com/Trinoooo/vdshm/utils"
	"github.com/bytedance/gopkg/collection/lscq"
)

type Result struct {
	State region.KeyboardState
	Seq   uint64
	Err   error
}

type Task struct {
	keys   []region.KeyStroke
	result chan *Result
}

// Channel 多生产者单消费者的发布队列，键盘槽位只允许一个写者
type Channel struct {
	mu       sync.RWMutex
	closed   bool
	notifier *utils.UnboundChan
	queue    *lscq.PointerQueue
}

func NewChannel() *Channel {
	return &Channel{
		notifier: utils.NewUnboundChan(),
		queue:    lscq.NewPointer(),
	}
}

// Produce 投递一次按键发布，结果从返回的通道读取
func (c *Channel) Produce(keys []region.KeyStroke) (chan *Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errs.NewServerClosedErr()
	}

	// 带缓冲，消费者回写结果时不依赖生产者仍在等待
	result := make(chan *Result, 1)
	c.queue.Enqueue(unsafe.Pointer(&Task{
		keys:   keys,
		result: result,
	}))
	c.notifier.In()
	return result, nil
}

// Consume 取出下一个任务，通道关闭且任务耗尽后返回 false
func (c *Channel) Consume() (*Task, bool) {
	if !c.notifier.Out() {
		return nil, false
	}
	data, _ := c.queue.Dequeue()
	return (*Task)(data), true
}

func (c *Channel) Len() int64 {
	return c.notifier.Len()
}

// Close 之后 Produce 失败，已投递的任务仍可被 Consume
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notifier.Close()
}
