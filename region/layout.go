package region

import (
	"encoding/binary"
	"unsafe"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/region/logs"
	"go.uber.org/zap"
)

// 共享内存区布局（小端）：
// ---------------------------------------------------------------
// | signature 4字节 | version 2字节 | flags 2字节 |              |
// ---------------------------------------------------------------
// | keyboardSeq 8字节 | frameSeq 8字节                           |
// ---------------------------------------------------------------
// | sliceCount 4字节 | creatorPid 4字节 | createdAt 8字节        |
// ---------------------------------------------------------------
// | reserved 24字节                            （header 共 64 字节）|
// ---------------------------------------------------------------
// | nextFrameStart 8字节 | nextFrameDuration 8字节               |
// ---------------------------------------------------------------
// | keyboardState 8字节                                          |
// ---------------------------------------------------------------
// | frameBuffer 2000 * (index1 1字节 | index2 1字节 | data 256字节) |
// ---------------------------------------------------------------
// signature、version 只在创建时写一次，之后只读。
// keyboardSeq 守护 keyboardState；frameSeq 守护 sliceCount、timing 与 frameBuffer。
const (
	Signature = uint32(0x00000B0B)
	// Version 1 是没有序列计数器的旧布局，不兼容
	Version = uint16(2)

	KeyboardCapacity = 8
	FrameCapacity    = 2000
	SliceDataSize    = 256

	headerSize = 64
	sliceSize  = 2 + SliceDataSize

	offsetToSignature   = 0
	offsetToVersion     = 4
	offsetToFlags       = 6
	offsetToKeyboardSeq = 8
	offsetToFrameSeq    = 16
	offsetToSliceCount  = 24
	offsetToCreatorPid  = 28
	offsetToCreatedAt   = 32
	offsetToReserved    = 40

	offsetToNextFrameStart    = 64
	offsetToNextFrameDuration = 72
	offsetToKeyboardState     = 80
	offsetToFrameBuffer       = 88

	// Size 共享内存区总大小，所有进程编译期一致
	Size = offsetToFrameBuffer + FrameCapacity*sliceSize
)

// Header 共享内存区头部中可读写的字段
type Header struct {
	Signature  uint32
	Version    uint16
	CreatorPid uint32
	CreatedAt  int64 // unix 纳秒
}

func (h *Header) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[offsetToSignature:], h.Signature)
	binary.LittleEndian.PutUint16(buf[offsetToVersion:], h.Version)
	binary.LittleEndian.PutUint16(buf[offsetToFlags:], 0)
	binary.LittleEndian.PutUint32(buf[offsetToCreatorPid:], h.CreatorPid)
	binary.LittleEndian.PutUint64(buf[offsetToCreatedAt:], uint64(h.CreatedAt))
}

func (h *Header) unmarshal(buf []byte) error {
	if lobuf := len(buf); lobuf < headerSize {
		e := errs.NewInvalidParamErr()
		logs.Error(
			e.Error(),
			zap.String(consts.LogFieldParams, "len(buf)"),
			zap.Int(consts.LogFieldValue, lobuf),
		)
		return e
	}

	h.Signature = binary.LittleEndian.Uint32(buf[offsetToSignature:])
	h.Version = binary.LittleEndian.Uint16(buf[offsetToVersion:])
	h.CreatorPid = binary.LittleEndian.Uint32(buf[offsetToCreatorPid:])
	h.CreatedAt = int64(binary.LittleEndian.Uint64(buf[offsetToCreatedAt:]))
	return nil
}

// validate 校验签名与版本，任一不符都不允许继续解释后续布局
func (h *Header) validate() error {
	if h.Signature != Signature {
		e := errs.NewSignatureMismatchErr()
		logs.Error(e.Error(), zap.Uint32("expect", Signature), zap.Uint32("actual", h.Signature))
		return e
	}

	if h.Version != Version {
		e := errs.NewVersionMismatchErr()
		logs.Error(e.Error(), zap.Uint16("expect", Version), zap.Uint16("actual", h.Version))
		return e
	}

	return nil
}

// VoxelSlice 一帧中的一个体素切片，(Index1, Index2) 是切片在帧内的标识
type VoxelSlice struct {
	Index1 uint8
	Index2 uint8
	Data   [SliceDataSize]byte
}

func (vs *VoxelSlice) id() uint16 {
	return uint16(vs.Index1)<<8 | uint16(vs.Index2)
}

func (vs *VoxelSlice) marshal(buf []byte) {
	buf[0] = vs.Index1
	buf[1] = vs.Index2
	copy(buf[2:sliceSize], vs.Data[:])
}

func (vs *VoxelSlice) unmarshal(buf []byte) {
	vs.Index1 = buf[0]
	vs.Index2 = buf[1]
	copy(vs.Data[:], buf[2:sliceSize])
}

func sliceOffset(i int) int {
	return offsetToFrameBuffer + i*sliceSize
}

// 映射区起始地址按页对齐，以下字段偏移均为自身宽度的整数倍，可以原子访问

func uint64At(mem []byte, offset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&mem[offset]))
}

func int64At(mem []byte, offset int) *int64 {
	return (*int64)(unsafe.Pointer(&mem[offset]))
}

func uint32At(mem []byte, offset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[offset]))
}
