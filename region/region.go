// Package region 实现体素显示三个进程（控制面板、驱动、节拍器）之间共享的内存区：
// 固定布局、生命周期管理，以及保证读者不会看到半写状态的 seqlock 同步协议。
package region

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/region/logs"
	"github.com/Trinoooo/vdshm/utils"
	"github.com/edsrzf/mmap-go"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var DefaultOptions = Options{
	perm:         0660,
	readRetries:  64,
	retryBackoff: 20 * time.Microsecond,
}

// Options 共享内存区选项
type Options struct {
	// dir 共享内存文件所在目录，为空时优先使用 /dev/shm
	dir          string
	perm         os.FileMode
	readRetries  int           // readRetries 读者单次读取的最大尝试次数
	retryBackoff time.Duration // retryBackoff 自旋之后每次重试前的睡眠时长
	registerer   prometheus.Registerer
}

func NewOptions() *Options {
	opts := DefaultOptions
	return &opts
}

func (opts *Options) SetDir(dir string) *Options {
	opts.dir = dir
	return opts
}

func (opts *Options) SetPerm(perm os.FileMode) *Options {
	opts.perm = perm
	return opts
}

func (opts *Options) SetReadRetries(retries int) *Options {
	opts.readRetries = retries
	return opts
}

func (opts *Options) SetRetryBackoff(backoff time.Duration) *Options {
	opts.retryBackoff = backoff
	return opts
}

func (opts *Options) SetRegisterer(reg prometheus.Registerer) *Options {
	opts.registerer = reg
	return opts
}

func (opts *Options) check() error {
	if opts.perm == 0 || opts.perm > 0777 {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "perm"), zap.Uint32(consts.LogFieldValue, uint32(opts.perm)))
		return e
	}

	if opts.readRetries <= 0 {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "readRetries"), zap.Int(consts.LogFieldValue, opts.readRetries))
		return e
	}

	if opts.retryBackoff < 0 {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "retryBackoff"), zap.Duration(consts.LogFieldValue, opts.retryBackoff))
		return e
	}

	return nil
}

func (opts *Options) resolveDir() string {
	if opts.dir != "" {
		return opts.dir
	}
	if info, err := os.Stat(consts.DevShmDir); err == nil && info.IsDir() {
		return consts.DevShmDir
	}
	return os.TempDir()
}

// Region 一个进程对共享内存区的挂载句柄。
// 创建者（Create）独占 Destroy 权限；挂载者（Open）只能 Close。
type Region struct {
	// mu 保护映射本身：读写操作持读锁，Close 持写锁
	mu     sync.RWMutex
	name   string
	path   string
	opts   *Options
	fd     *os.File
	mem    mmap.MMap
	owner  bool // owner 是否是创建者
	stale  bool // stale 创建时是否清理过同名陈旧区
	closed bool

	// 同一进程内的写者互斥，跨进程由 seqlock 的 CAS 互斥
	keyboardMu, frameMu sync.Mutex
	keyboard, frame     *seqlock

	metrics *metricsHelper
}

// Create 创建名为 name、大小恰为 size 的共享内存区。
// 同名区已存在时：若其创建者仍持有锁则返回 RegionInUse；
// 否则视为陈旧区，删除后重建，并记录 StaleRegion 日志。
func Create(name string, size int64, opts *Options) (*Region, error) {
	if opts == nil {
		opts = NewOptions()
	}

	if err := prepare(name, size, opts); err != nil {
		return nil, err
	}

	r := newRegion(name, opts)
	r.owner = true

	fd, err := utils.CheckAndCreateFile(r.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, opts.perm)
	if errors.Is(err, os.ErrExist) {
		if err = wipeStale(r.path); err != nil {
			return nil, err
		}
		r.stale = true
		r.metrics.staleCounter.Inc()
		logs.Warn(errs.NewStaleRegionErr().Error(), zap.String(consts.LogFieldName, name), zap.String(consts.LogFieldPath, r.path))
		fd, err = recreate(r.path, opts.perm)
	}
	if err != nil {
		logs.Error(err.Error(), zap.String(consts.LogFieldPath, r.path))
		return nil, err
	}

	// 清理函数，出错时删除刚创建的文件
	cleanup := func() {
		_ = fd.Close()
		_ = os.Remove(r.path)
	}

	locked, err := tryLock(fd)
	if err != nil {
		cleanup()
		return nil, err
	}
	if !locked {
		// 另一个创建者抢先重建并加锁
		_ = fd.Close()
		return nil, errs.NewRegionInUseErr()
	}

	if err = fd.Truncate(size); err != nil {
		cleanup()
		e := errs.NewTruncateFileErr().WithErr(pkgerrors.Wrapf(err, "truncate %s", r.path))
		logs.Error(e.Error())
		return nil, e
	}

	mem, err := mapFile(fd, int(size))
	if err != nil {
		cleanup()
		return nil, err
	}

	r.fd = fd
	r.mem = mem
	header := &Header{
		Signature:  Signature,
		Version:    Version,
		CreatorPid: uint32(os.Getpid()),
		CreatedAt:  time.Now().UnixNano(),
	}
	header.marshal(r.mem)

	if err = r.validateHeader(); err != nil {
		_ = r.release()
		_ = os.Remove(r.path)
		return nil, err
	}

	r.attachSlots()
	logs.Info("region created", zap.String(consts.LogFieldName, name), zap.String(consts.LogFieldPath, r.path), zap.Bool("stale", r.stale))
	return r, nil
}

// recreate 清理陈旧区之后重新独占创建。
// 文件又已存在说明另一个创建者在清理之后抢先建好了区。
func recreate(path string, perm os.FileMode) (*os.File, error) {
	fd, err := utils.CheckAndCreateFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, perm)
	if errors.Is(err, os.ErrExist) {
		e := errs.NewRegionInUseErr().WithErr(err)
		logs.Warn(e.Error(), zap.String(consts.LogFieldPath, path))
		return nil, e
	}
	return fd, err
}

// Open 挂载已存在的共享内存区，不存在返回 NotFound，大小不符返回 SizeMismatch。
// 头部校验失败时不会返回可用句柄。
func Open(name string, size int64, opts *Options) (*Region, error) {
	if opts == nil {
		opts = NewOptions()
	}

	if err := prepare(name, size, opts); err != nil {
		return nil, err
	}

	r := newRegion(name, opts)
	fd, err := os.OpenFile(r.path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		e := errs.NewNotFoundErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, r.path))
		return nil, e
	}
	if err != nil {
		e := errs.NewOpenFileErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, r.path))
		return nil, e
	}

	stat, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		e := errs.NewFileStatErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, r.path))
		return nil, e
	}

	if stat.Size() != size {
		_ = fd.Close()
		e := errs.NewSizeMismatchErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, r.path), zap.Int64("expect", size), zap.Int64("actual", stat.Size()))
		return nil, e
	}

	mem, err := mapFile(fd, int(size))
	if err != nil {
		_ = fd.Close()
		return nil, err
	}

	r.fd = fd
	r.mem = mem
	if err = r.validateHeader(); err != nil {
		_ = r.release()
		return nil, err
	}

	r.attachSlots()
	logs.Info("region opened", zap.String(consts.LogFieldName, name), zap.String(consts.LogFieldPath, r.path))
	return r, nil
}

func prepare(name string, size int64, opts *Options) error {
	if err := opts.check(); err != nil {
		return err
	}

	if name == "" || strings.ContainsRune(name, '/') {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "name"), zap.String(consts.LogFieldValue, name))
		return e
	}

	// 布局在编译期固定，期望大小与本进程的布局不一致说明版本错配
	if size != Size {
		e := errs.NewSizeMismatchErr()
		logs.Error(e.Error(), zap.Int64("expect", Size), zap.Int64("actual", size))
		return e
	}

	return nil
}

func newRegion(name string, opts *Options) *Region {
	return &Region{
		name:    name,
		path:    filepath.Join(opts.resolveDir(), name),
		opts:    opts,
		metrics: newMetricsHelper(opts.registerer),
	}
}

func (r *Region) attachSlots() {
	r.keyboard = newSeqlock(uint64At(r.mem, offsetToKeyboardSeq), r.opts.readRetries, r.opts.retryBackoff, func() {
		r.metrics.retryCounter.WithLabelValues(slotKeyboard).Inc()
	})
	r.frame = newSeqlock(uint64At(r.mem, offsetToFrameSeq), r.opts.readRetries, r.opts.retryBackoff, func() {
		r.metrics.retryCounter.WithLabelValues(slotFrame).Inc()
	})
}

// wipeStale 删除没有存活创建者的同名区
func wipeStale(path string) error {
	fd, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		// 期间已被其他进程删除
		return nil
	}
	if err != nil {
		e := errs.NewOpenFileErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, path))
		return e
	}
	defer fd.Close()

	locked, err := tryLock(fd)
	if err != nil {
		return err
	}
	if !locked {
		e := errs.NewRegionInUseErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, path))
		return e
	}

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e := errs.NewRemoveFileErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, path))
		return e
	}
	return unlock(fd)
}

func mapFile(fd *os.File, size int) (mmap.MMap, error) {
	mem, err := mmap.MapRegion(fd, size, mmap.RDWR, 0, 0)
	if err != nil {
		e := errs.NewMmapErr().WithErr(pkgerrors.Wrapf(err, "mmap %s", fd.Name()))
		logs.Error(e.Error())
		return nil, e
	}
	return mem, nil
}

// ValidateHeader 校验签名与版本，Create/Open 返回前已调用过一次
func (r *Region) ValidateHeader() error {
	return r.guard(r.validateHeader)
}

func (r *Region) validateHeader() error {
	header := &Header{}
	if err := header.unmarshal(r.mem); err != nil {
		return err
	}
	return header.validate()
}

// Header 返回头部只读字段的拷贝
func (r *Region) Header() (Header, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return Header{}, errs.NewRegionClosedErr()
	}

	header := Header{}
	err := header.unmarshal(r.mem)
	return header, err
}

func (r *Region) Name() string {
	return r.name
}

func (r *Region) Path() string {
	return r.path
}

// Owner 是否是创建者
func (r *Region) Owner() bool {
	return r.owner
}

// Stale 创建时是否清理过同名陈旧区
func (r *Region) Stale() bool {
	return r.stale
}

// Close 释放本进程的挂载，不影响其他进程。重复关闭、未打开的句柄都是空操作。
func (r *Region) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.fd == nil {
		r.closed = true
		return nil
	}

	r.closed = true
	return r.release()
}

// Destroy 删除共享内存区，仅创建者可调用
func (r *Region) Destroy() error {
	if r == nil {
		return errs.NewRegionClosedErr()
	}

	if !r.owner {
		e := errs.NewNotOwnerErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, r.path))
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errs.NewRegionClosedErr()
	}

	// 先删除再释放锁，避免别的创建者在两步之间把新区当成陈旧区
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e := errs.NewRemoveFileErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, r.path))
		return e
	}

	r.closed = true
	if err := r.release(); err != nil {
		return err
	}
	logs.Info("region destroyed", zap.String(consts.LogFieldName, r.name), zap.String(consts.LogFieldPath, r.path))
	return nil
}

// Remove 不挂载直接删除名为 name 的区，用于清理创建者已退出的陈旧区。
// 创建者仍存活时返回 RegionInUse。
func Remove(name string, opts *Options) error {
	if opts == nil {
		opts = NewOptions()
	}
	if err := prepare(name, Size, opts); err != nil {
		return err
	}

	path := filepath.Join(opts.resolveDir(), name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		e := errs.NewNotFoundErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldPath, path))
		return e
	}
	if err := wipeStale(path); err != nil {
		return err
	}
	logs.Info("region removed", zap.String(consts.LogFieldName, name), zap.String(consts.LogFieldPath, path))
	return nil
}

// release 解除映射、释放锁并关闭文件，调用方持有 mu 或句柄尚未发布
func (r *Region) release() error {
	var first error
	if r.mem != nil {
		if err := r.mem.Unmap(); err != nil {
			first = errs.NewMunmapErr().WithErr(err)
			logs.Error(first.Error(), zap.String(consts.LogFieldPath, r.path))
		}
		r.mem = nil
	}

	if r.owner {
		if err := unlock(r.fd); err != nil && first == nil {
			first = err
		}
	}

	if err := r.fd.Close(); err != nil && first == nil {
		first = errs.NewCloseFileErr().WithErr(err)
		logs.Error(first.Error(), zap.String(consts.LogFieldPath, r.path))
	}
	return first
}

// Stats 共享内存区快照，用于诊断
type Stats struct {
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	Size          int64     `json:"size"`
	Signature     uint32    `json:"signature"`
	Version       uint16    `json:"version"`
	CreatorPid    uint32    `json:"creator_pid"`
	CreatedAt     time.Time `json:"created_at"`
	Owner         bool      `json:"owner"`
	Stale         bool      `json:"stale"`
	KeyboardSeq   uint64    `json:"keyboard_seq"`
	KeyboardState string    `json:"keyboard_state"`
	FrameSeq      uint64    `json:"frame_seq"`
	FrameState    string    `json:"frame_state"`
	SliceCount    uint32    `json:"slice_count"`
}

// Inspect 返回当前快照。槽位长期处于 writing 说明写者可能在写入途中退出，
// 该状态只能由创建者重建共享内存区清除。
func (r *Region) Inspect() (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errs.NewRegionClosedErr()
	}

	header := Header{}
	if err := header.unmarshal(r.mem); err != nil {
		return nil, err
	}

	stats := &Stats{
		Name:        r.name,
		Path:        r.path,
		Size:        int64(len(r.mem)),
		Signature:   header.Signature,
		Version:     header.Version,
		CreatorPid:  header.CreatorPid,
		CreatedAt:   time.Unix(0, header.CreatedAt),
		Owner:       r.owner,
		Stale:       r.stale,
		KeyboardSeq: r.keyboard.load(),
		FrameSeq:    r.frame.load(),
	}
	stats.KeyboardState = stateOf(stats.KeyboardSeq).String()
	stats.FrameState = stateOf(stats.FrameSeq).String()

	// sliceCount 受 frameSeq 保护，这里只做诊断，失败时保留 0
	_, _ = r.frame.read(func() {
		stats.SliceCount = loadUint32(r.mem, offsetToSliceCount)
	})
	return stats, nil
}

// guard 持读锁执行 fn，句柄已关闭时返回 RegionClosed
func (r *Region) guard(fn func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.mem == nil {
		return errs.NewRegionClosedErr()
	}
	return fn()
}
