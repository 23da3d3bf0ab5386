package region

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Trinoooo/vdshm/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(slices []VoxelSlice, b byte) {
	for i := range slices {
		slices[i].Index1 = uint8(i / 256)
		slices[i].Index2 = uint8(i % 256)
		for j := range slices[i].Data {
			slices[i].Data[j] = b
		}
	}
}

func TestPublishFrame(t *testing.T) {
	r, err := Create("vdshm", Size, testOptions(t))
	require.Nil(t, err)
	defer r.Destroy()

	slices := make([]VoxelSlice, 3)
	slices[0] = VoxelSlice{Index1: 0, Index2: 0}
	slices[1] = VoxelSlice{Index1: 0, Index2: 1}
	slices[2] = VoxelSlice{Index1: 1, Index2: 0}
	slices[2].Data[255] = 42

	seq, err := r.PublishFrame(slices, Timing{Start: 1000, Duration: 33})
	require.Nil(t, err)
	assert.Equal(t, uint64(2), seq)

	frame, err := r.ReadFrame()
	require.Nil(t, err)
	assert.Equal(t, seq, frame.Seq)
	assert.Equal(t, Timing{Start: 1000, Duration: 33}, frame.Timing)
	assert.Equal(t, slices, frame.Slices)

	timing, timingSeq, err := r.ReadTiming()
	require.Nil(t, err)
	assert.Equal(t, Timing{Start: 1000, Duration: 33}, timing)
	assert.Equal(t, seq, timingSeq)
}

// TestPublishFrameShrink 较小的帧覆盖较大的帧后，count 之后的槽位归零
func TestPublishFrameShrink(t *testing.T) {
	r, err := Create("vdshm", Size, testOptions(t))
	require.Nil(t, err)
	defer r.Destroy()

	big := make([]VoxelSlice, FrameCapacity)
	fill(big, 7)
	_, err = r.PublishFrame(big, Timing{Start: 1})
	require.Nil(t, err)

	small := make([]VoxelSlice, 2)
	fill(small, 9)
	_, err = r.PublishFrame(small, Timing{Start: 2})
	require.Nil(t, err)

	frame, err := r.ReadFrame()
	require.Nil(t, err)
	assert.Len(t, frame.Slices, 2)
	for _, b := range r.mem[sliceOffset(2):] {
		if b != 0 {
			t.Fatal("slot after slice count not cleared")
		}
	}

	// 空帧同样合法
	_, err = r.PublishFrame(nil, Timing{Start: 3})
	require.Nil(t, err)
	frame, err = r.ReadFrame()
	require.Nil(t, err)
	assert.Empty(t, frame.Slices)
	assert.Equal(t, int64(3), frame.Timing.Start)
}

// TestPublishFrameTooLarge 2001 个切片被拒绝，之前的帧完整可读
func TestPublishFrameTooLarge(t *testing.T) {
	r, err := Create("vdshm", Size, testOptions(t))
	require.Nil(t, err)
	defer r.Destroy()

	prev := make([]VoxelSlice, 10)
	fill(prev, 5)
	prevSeq, err := r.PublishFrame(prev, Timing{Start: 10, Duration: 20})
	require.Nil(t, err)

	tooLarge := make([]VoxelSlice, FrameCapacity+1)
	fill(tooLarge, 6)
	_, err = r.PublishFrame(tooLarge, Timing{Start: 11, Duration: 21})
	assert.Equal(t, int64(errs.FrameTooLargeErrCode), errs.GetCode(err))
	assert.True(t, errs.IsRecoverable(err))

	frame, err := r.ReadFrame()
	require.Nil(t, err)
	assert.Equal(t, prevSeq, frame.Seq)
	assert.Equal(t, Timing{Start: 10, Duration: 20}, frame.Timing)
	assert.Equal(t, prev, frame.Slices)
}

func TestPublishFrameDuplicate(t *testing.T) {
	r, err := Create("vdshm", Size, testOptions(t))
	require.Nil(t, err)
	defer r.Destroy()

	slices := []VoxelSlice{{Index1: 3, Index2: 4}, {Index1: 4, Index2: 3}, {Index1: 3, Index2: 4}}
	_, err = r.PublishFrame(slices, Timing{Start: 1})
	assert.Equal(t, int64(errs.DuplicateSliceErrCode), errs.GetCode(err))

	timing, seq, err := r.ReadTiming()
	require.Nil(t, err)
	assert.Equal(t, uint64(0), seq)
	assert.Equal(t, Timing{}, timing)
}

// TestPublishTiming 只更新时间，切片不变
func TestPublishTiming(t *testing.T) {
	r, err := Create("vdshm", Size, testOptions(t))
	require.Nil(t, err)
	defer r.Destroy()

	slices := make([]VoxelSlice, 4)
	fill(slices, 1)
	_, err = r.PublishFrame(slices, Timing{Start: 1, Duration: 1})
	require.Nil(t, err)

	seq, err := r.PublishTiming(Timing{Start: 100, Duration: 41666666})
	require.Nil(t, err)
	assert.Equal(t, uint64(4), seq)

	frame, err := r.ReadFrame()
	require.Nil(t, err)
	assert.Equal(t, Timing{Start: 100, Duration: 41666666}, frame.Timing)
	assert.Equal(t, slices, frame.Slices)
}

// TestReadFrameInto 复用调用方的切片数组
func TestReadFrameInto(t *testing.T) {
	r, err := Create("vdshm", Size, testOptions(t))
	require.Nil(t, err)
	defer r.Destroy()

	slices := make([]VoxelSlice, 8)
	fill(slices, 3)
	_, err = r.PublishFrame(slices, Timing{})
	require.Nil(t, err)

	frame := &Frame{Slices: make([]VoxelSlice, 0, FrameCapacity)}
	backing := &frame.Slices[:1][0]
	require.Nil(t, r.ReadFrameInto(frame))
	assert.Len(t, frame.Slices, 8)
	assert.Same(t, backing, &frame.Slices[0])
}

// TestReadFrameIntoContended 读取失败时不保留旧内容
func TestReadFrameIntoContended(t *testing.T) {
	r, err := Create("vdshm", Size, testOptions(t).SetReadRetries(4).SetRetryBackoff(0))
	require.Nil(t, err)
	defer r.Destroy()

	slices := make([]VoxelSlice, 3)
	fill(slices, 9)
	_, err = r.PublishFrame(slices, Timing{Start: 1000, Duration: 33})
	require.Nil(t, err)

	frame := &Frame{}
	require.Nil(t, r.ReadFrameInto(frame))
	require.Len(t, frame.Slices, 3)

	// 模拟写者停在写入中途
	atomic.StoreUint64(uint64At(r.mem, offsetToFrameSeq), 3)
	err = r.ReadFrameInto(frame)
	assert.Equal(t, int64(errs.ContendedErrCode), errs.GetCode(err))
	assert.Empty(t, frame.Slices)
	assert.Equal(t, Timing{}, frame.Timing)
	assert.Equal(t, uint64(0), frame.Seq)
	assert.Equal(t, FrameCapacity, cap(frame.Slices))
}

// TestFrameConcurrent 并发发布与读取下，读者看到的时间与切片总属于同一代
func TestFrameConcurrent(t *testing.T) {
	opts := testOptions(t).SetReadRetries(1 << 20)
	driver, err := Create("vdshm", Size, opts)
	require.Nil(t, err)
	defer driver.Destroy()

	regulator, err := Open("vdshm", Size, opts)
	require.Nil(t, err)
	defer regulator.Close()

	const generations = 300
	var stop atomic.Bool
	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop.Store(true)
		slices := make([]VoxelSlice, FrameCapacity)
		for gen := 1; gen <= generations; gen++ {
			// 每代的切片数与内容都由 gen 决定
			n := 1 + gen*7%FrameCapacity
			fill(slices[:n], byte(gen))
			_, err := driver.PublishFrame(slices[:n], Timing{Start: int64(gen), Duration: int64(n)})
			assert.Nil(t, err)
		}
	}()

	// 整帧读者
	wg.Add(1)
	go func() {
		defer wg.Done()
		frame := &Frame{}
		for !stop.Load() {
			if err := regulator.ReadFrameInto(frame); err != nil {
				t.Error(err)
				return
			}
			if frame.Timing.Start == 0 {
				continue
			}
			assert.Equal(t, frame.Timing.Duration, int64(len(frame.Slices)))
			b := byte(frame.Timing.Start)
			for i := range frame.Slices {
				if frame.Slices[i].Data[0] != b || frame.Slices[i].Data[SliceDataSize-1] != b {
					t.Errorf("torn frame: gen %d slice %d has %d", frame.Timing.Start, i, frame.Slices[i].Data[0])
					return
				}
			}
		}
	}()

	// 只读时间的读者，时间对总是一致的
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last int64
		for !stop.Load() {
			timing, _, err := regulator.ReadTiming()
			if err != nil {
				t.Error(err)
				return
			}
			if timing.Start == 0 {
				continue
			}
			assert.Equal(t, int64(1+timing.Start*7%FrameCapacity), timing.Duration)
			assert.GreaterOrEqual(t, timing.Start, last)
			last = timing.Start
		}
	}()

	wg.Wait()
}

// TestTimingObservedAtomically 轮询时间的读者只会看到旧的时间对或 (1000, 33)
func TestTimingObservedAtomically(t *testing.T) {
	opts := testOptions(t).SetReadRetries(1 << 20)
	driver, err := Create("vdshm", Size, opts)
	require.Nil(t, err)
	defer driver.Destroy()

	old := Timing{Start: 500, Duration: 17}
	_, err = driver.PublishTiming(old)
	require.Nil(t, err)

	regulator, err := Open("vdshm", Size, opts)
	require.Nil(t, err)
	defer regulator.Close()

	next := Timing{Start: 1000, Duration: 33}
	slices := []VoxelSlice{{Index1: 0, Index2: 0}, {Index1: 0, Index2: 1}, {Index1: 1, Index2: 0}}

	seen := make(chan Timing, 1)
	go func() {
		for {
			timing, _, err := regulator.ReadTiming()
			if err != nil {
				t.Error(err)
				close(seen)
				return
			}
			if timing != old && timing != next {
				t.Errorf("mixed timing observed: %+v", timing)
			}
			if timing == next {
				seen <- timing
				return
			}
		}
	}()

	_, err = driver.PublishFrame(slices, next)
	require.Nil(t, err)
	assert.Equal(t, next, <-seen)

	frame, err := regulator.ReadFrame()
	require.Nil(t, err)
	assert.Len(t, frame.Slices, 3)
}

// TestTwoWritersSameSlot 驱动发布整帧、节拍器只写时间，两个句柄同时写同一槽位，
// 读者看到的时间对总来自同一个写者
func TestTwoWritersSameSlot(t *testing.T) {
	opts := testOptions(t).SetReadRetries(1 << 20)
	driver, err := Create("vdshm", Size, opts)
	require.Nil(t, err)
	defer driver.Destroy()

	regulator, err := Open("vdshm", Size, opts)
	require.Nil(t, err)
	defer regulator.Close()

	reader, err := Open("vdshm", Size, opts)
	require.Nil(t, err)
	defer reader.Close()

	const rounds = 20000
	var stop atomic.Bool
	writers := sync.WaitGroup{}
	readers := sync.WaitGroup{}

	writers.Add(2)
	go func() {
		defer writers.Done()
		slices := []VoxelSlice{{}}
		for i := int64(1); i <= rounds; i++ {
			_, err := driver.PublishFrame(slices, Timing{Start: i, Duration: i})
			assert.Nil(t, err)
		}
	}()
	go func() {
		defer writers.Done()
		for i := int64(1); i <= rounds; i++ {
			_, err := regulator.PublishTiming(Timing{Start: -i, Duration: -i})
			assert.Nil(t, err)
		}
	}()

	readers.Add(1)
	go func() {
		defer readers.Done()
		for !stop.Load() {
			timing, seq, err := reader.ReadTiming()
			if err != nil {
				t.Error(err)
				return
			}
			if timing.Start != timing.Duration {
				t.Errorf("mixed timing at seq %d: %+v", seq, timing)
				return
			}
		}
	}()

	writers.Wait()
	stop.Store(true)
	readers.Wait()

	// 每次发布恰好推进两代，没有写者的自增被另一个写者吞掉
	timing, seq, err := reader.ReadTiming()
	require.Nil(t, err)
	assert.Equal(t, uint64(4*rounds), seq)
	assert.Equal(t, timing.Start, timing.Duration)
}
