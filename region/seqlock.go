package region

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Trinoooo/vdshm/errs"
)

// spinLimit 前几次重试只让出调度，之后按 backoff 睡眠
const spinLimit = 8

// SlotState 槽位状态
type SlotState int

const (
	Stable  SlotState = iota // 写入完成，可读
	Writing                  // 写者已开始写入，读者不可见
)

func (s SlotState) String() string {
	switch s {
	case Stable:
		return "stable"
	case Writing:
		return "writing"
	}
	return "unknown"
}

func stateOf(seq uint64) SlotState {
	if seq&1 == 1 {
		return Writing
	}
	return Stable
}

// seqlock 跨进程的代际计数器。
// 写者：CAS 把偶数 seq 改为奇数占住槽位 -> 写入 -> seq 置为下一个偶数。
// 读者：读 seq -> 拷贝 -> 确认 seq 未变，否则重试。
// 多个进程可以写同一槽位，同一时刻只有 CAS 成功的那个在写。
type seqlock struct {
	seq     *uint64
	retries int
	backoff time.Duration
	// onRetry 每次重试时回调，用于打点
	onRetry func()
}

func newSeqlock(seq *uint64, retries int, backoff time.Duration, onRetry func()) *seqlock {
	return &seqlock{
		seq:     seq,
		retries: retries,
		backoff: backoff,
		onRetry: onRetry,
	}
}

func (sl *seqlock) load() uint64 {
	return atomic.LoadUint64(sl.seq)
}

// write 占住槽位后执行 fn，返回写入完成后的 seq。
// 槽位一直被占用（另一写者未完成或已中途退出）时重试耗尽返回 Contended，fn 不会执行。
func (sl *seqlock) write(fn func()) (uint64, error) {
	for attempt := 0; attempt < sl.retries; attempt++ {
		begin := atomic.LoadUint64(sl.seq)
		if begin&1 == 0 && atomic.CompareAndSwapUint64(sl.seq, begin, begin+1) {
			fn()
			atomic.StoreUint64(sl.seq, begin+2)
			return begin + 2, nil
		}

		if sl.onRetry != nil {
			sl.onRetry()
		}
		sl.wait(attempt)
	}

	return 0, errs.NewContendedErr()
}

// read 在稳定状态下执行 fn，返回 fn 观察到的 seq。
// fn 可能执行多次，只有最后一次的结果是一致的。
func (sl *seqlock) read(fn func()) (uint64, error) {
	for attempt := 0; attempt < sl.retries; attempt++ {
		begin := atomic.LoadUint64(sl.seq)
		if begin&1 == 0 {
			fn()
			// CAS 兼作读屏障：fn 中的读取必须先于对 seq 的确认完成
			if atomic.CompareAndSwapUint64(sl.seq, begin, begin) {
				return begin, nil
			}
		}

		if sl.onRetry != nil {
			sl.onRetry()
		}
		sl.wait(attempt)
	}

	return 0, errs.NewContendedErr()
}

func (sl *seqlock) wait(attempt int) {
	if attempt < spinLimit || sl.backoff <= 0 {
		runtime.Gosched()
		return
	}
	time.Sleep(sl.backoff)
}
