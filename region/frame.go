package region

import (
	"sync/atomic"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/region/logs"
	"github.com/Trinoooo/vdshm/utils"
	"go.uber.org/zap"
)

// Timing 下一帧的起始时间与持续时长，单调时钟纳秒
type Timing struct {
	Start    int64 `json:"start"`
	Duration int64 `json:"duration"`
}

// Frame 一帧的快照，Seq 为读取时的代际
type Frame struct {
	Seq    uint64
	Timing Timing
	Slices []VoxelSlice
}

// validateSlices 切片数不超过容量，且帧内 (index1, index2) 不重复
func validateSlices(slices []VoxelSlice) error {
	if ls := len(slices); ls > FrameCapacity {
		e := errs.NewFrameTooLargeErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "len(slices)"), zap.Int(consts.LogFieldValue, ls))
		return e
	}

	var seen [1 << 16 / 64]uint64
	for i := range slices {
		id := slices[i].id()
		if seen[id/64]&(1<<(id%64)) != 0 {
			e := errs.NewDuplicateSliceErr()
			logs.Error(e.Error(), zap.Uint8("index1", slices[i].Index1), zap.Uint8("index2", slices[i].Index2))
			return e
		}
		seen[id/64] |= 1 << (id % 64)
	}
	return nil
}

// PublishFrame 发布一帧及其时间信息，切片与时间作为同一事务对读者可见。
// 校验失败时共享内存区不被修改，之前发布的帧保持完整可读。
func (r *Region) PublishFrame(slices []VoxelSlice, timing Timing) (uint64, error) {
	if err := validateSlices(slices); err != nil {
		r.metrics.rejectCounter.WithLabelValues(rejectReason(err)).Inc()
		return 0, err
	}

	var seq uint64
	err := r.guard(func() error {
		return utils.WrapLock(&r.frameMu, func() error {
			var err error
			seq, err = r.frame.write(func() {
				prev := int(atomic.LoadUint32(uint32At(r.mem, offsetToSliceCount)))
				for i := range slices {
					slices[i].marshal(r.mem[sliceOffset(i):])
				}
				// 清掉上一帧多出来的切片，保证 count 之后的槽位始终为 0
				if prev > len(slices) {
					clear(r.mem[sliceOffset(len(slices)):sliceOffset(prev)])
				}
				atomic.StoreUint32(uint32At(r.mem, offsetToSliceCount), uint32(len(slices)))
				storeTiming(r.mem, timing)
			})
			return err
		})
	})
	if err != nil {
		r.observeContended(slotFrame, err)
		return 0, err
	}

	r.metrics.publishCounter.WithLabelValues(slotFrame).Inc()
	return seq, nil
}

// PublishTiming 只更新时间信息，切片保持不变
func (r *Region) PublishTiming(timing Timing) (uint64, error) {
	var seq uint64
	err := r.guard(func() error {
		return utils.WrapLock(&r.frameMu, func() error {
			var err error
			seq, err = r.frame.write(func() {
				storeTiming(r.mem, timing)
			})
			return err
		})
	})
	if err != nil {
		r.observeContended(slotFrame, err)
		return 0, err
	}

	r.metrics.publishCounter.WithLabelValues(slotFrame).Inc()
	return seq, nil
}

// ReadTiming 只读时间信息，开销远小于读整帧，同样不会读到撕裂的值
func (r *Region) ReadTiming() (Timing, uint64, error) {
	var (
		timing Timing
		seq    uint64
	)
	err := r.guard(func() error {
		var err error
		seq, err = r.frame.read(func() {
			timing = loadTiming(r.mem)
		})
		return err
	})
	if err != nil {
		r.observeContended(slotFrame, err)
		return Timing{}, 0, err
	}
	return timing, seq, nil
}

// ReadFrameInto 读取一致的整帧到 frame，复用 frame.Slices 的底层数组。
// 出错时 frame 被清空。
func (r *Region) ReadFrameInto(frame *Frame) error {
	if frame.Slices == nil {
		frame.Slices = make([]VoxelSlice, 0, FrameCapacity)
	}

	err := r.guard(func() error {
		seq, err := r.frame.read(func() {
			count := int(atomic.LoadUint32(uint32At(r.mem, offsetToSliceCount)))
			// 写者中途退出可能留下任意值，拷贝前截断到容量内
			if count > FrameCapacity {
				count = FrameCapacity
			}
			frame.Slices = frame.Slices[:0]
			for i := 0; i < count; i++ {
				var vs VoxelSlice
				vs.unmarshal(r.mem[sliceOffset(i):])
				frame.Slices = append(frame.Slices, vs)
			}
			frame.Timing = loadTiming(r.mem)
		})
		frame.Seq = seq
		return err
	})
	if err != nil {
		// 不把最后一次可能撕裂的拷贝留给调用方
		frame.Seq = 0
		frame.Timing = Timing{}
		frame.Slices = frame.Slices[:0]
		r.observeContended(slotFrame, err)
		return err
	}
	return nil
}

// ReadFrame 读取一致的整帧
func (r *Region) ReadFrame() (*Frame, error) {
	frame := &Frame{}
	if err := r.ReadFrameInto(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (r *Region) observeContended(slot string, err error) {
	if errs.GetCode(err) == errs.ContendedErrCode {
		r.metrics.contendedCounter.WithLabelValues(slot).Inc()
		logs.Warn(err.Error(), zap.String("slot", slot))
	}
}

func rejectReason(err error) string {
	switch errs.GetCode(err) {
	case errs.FrameTooLargeErrCode:
		return "too_large"
	case errs.DuplicateSliceErrCode:
		return "duplicate_slice"
	}
	return "unknown"
}

func storeTiming(mem []byte, timing Timing) {
	atomic.StoreInt64(int64At(mem, offsetToNextFrameStart), timing.Start)
	atomic.StoreInt64(int64At(mem, offsetToNextFrameDuration), timing.Duration)
}

func loadTiming(mem []byte) Timing {
	return Timing{
		Start:    atomic.LoadInt64(int64At(mem, offsetToNextFrameStart)),
		Duration: atomic.LoadInt64(int64At(mem, offsetToNextFrameDuration)),
	}
}

func loadUint32(mem []byte, offset int) uint32 {
	return atomic.LoadUint32(uint32At(mem, offset))
}
