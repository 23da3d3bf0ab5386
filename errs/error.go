package errs

import (
	"errors"
	"fmt"
)

type VdErr struct {
	msg  string
	code int64
	err  error
}

// Error 输出格式：
// [错误码] 错误类型描述 ( => 包含错误详细描述 )
// 解释：(xxx) 表示可选内容
func (ve *VdErr) Error() string {
	details := fmt.Sprintf("[%d] %s", ve.code, ve.msg)
	if ve.err != nil {
		details += fmt.Sprintf(" => %s", ve.err)
	}

	return details
}

func (ve *VdErr) Code() int64 {
	return ve.code
}

func (ve *VdErr) Unwrap() error {
	return ve.err
}

func (ve *VdErr) WithErr(err error) *VdErr {
	ve.err = err
	return ve
}

func GetCode(err error) int64 {
	var ve *VdErr
	if errors.As(err, &ve) {
		return ve.code
	}
	return UnknownErrCode
}

// IsRecoverable 发布/读取阶段的错误，调用方可在下一周期重试
func IsRecoverable(err error) bool {
	switch GetCode(err) {
	case FrameTooLargeErrCode, ContendedErrCode, DuplicateSliceErrCode:
		return true
	}
	return false
}

const (
	UnknownErrCode                 = 0
	InvalidParamErrCode            = 100001
	JsonMarshalErrCode             = 100002
	JsonUnmarshalErrCode           = 100003
	UnsupportedRouteErrCode        = 100004
	OpenFileErrCode                = 100005
	DirNotExistErrCode             = 100006
	FileNoPermissionErrCode        = 100007
	FileStatErrCode                = 100008
	MkdirErrCode                   = 100009
	TruncateFileErrCode            = 100010
	RemoveFileErrCode              = 100011
	FlockFileErrCode               = 100012
	CloseFileErrCode               = 100013
	MmapErrCode                    = 100014
	MunmapErrCode                  = 100015
	ReadSocketErrCode              = 100016
	ReadConfigErrCode              = 100017
	StartProcessErrCode            = 100018
	ServerClosedErrCode            = 100019
	ChildExitedErrCode             = 100020

	// region
	NotFoundErrCode          = 200001
	SizeMismatchErrCode      = 200002
	SignatureMismatchErrCode = 200003
	VersionMismatchErrCode   = 200004
	FrameTooLargeErrCode     = 200005
	ContendedErrCode         = 200006
	StaleRegionErrCode       = 200007
	RegionInUseErrCode       = 200008
	NotOwnerErrCode          = 200009
	RegionClosedErrCode      = 200010
	DuplicateSliceErrCode    = 200011
)

func NewUnknownErr() *VdErr {
	return &VdErr{msg: "unknown error", code: UnknownErrCode}
}

func NewInvalidParamErr() *VdErr {
	return &VdErr{msg: "invalid params", code: InvalidParamErrCode}
}

func NewJsonMarshalErr() *VdErr {
	return &VdErr{msg: "json marshal failed", code: JsonMarshalErrCode}
}

func NewJsonUnmarshalErr() *VdErr {
	return &VdErr{msg: "json unmarshal failed", code: JsonUnmarshalErrCode}
}

func NewUnsupportedRouteErr() *VdErr {
	return &VdErr{msg: "unsupported route", code: UnsupportedRouteErrCode}
}

func NewOpenFileErr() *VdErr {
	return &VdErr{msg: "open file failed", code: OpenFileErrCode}
}

func NewDirNotExistErr() *VdErr {
	return &VdErr{msg: "directory not exist", code: DirNotExistErrCode}
}

func NewFileNoPermissionErr() *VdErr {
	return &VdErr{msg: "file no permission", code: FileNoPermissionErrCode}
}

func NewFileStatErr() *VdErr {
	return &VdErr{msg: "file stat failed", code: FileStatErrCode}
}

func NewMkdirErr() *VdErr {
	return &VdErr{msg: "mkdir failed", code: MkdirErrCode}
}

func NewTruncateFileErr() *VdErr {
	return &VdErr{msg: "truncate file failed", code: TruncateFileErrCode}
}

func NewRemoveFileErr() *VdErr {
	return &VdErr{msg: "remove file failed", code: RemoveFileErrCode}
}

func NewFlockFileErr() *VdErr {
	return &VdErr{msg: "flock file failed", code: FlockFileErrCode}
}

func NewCloseFileErr() *VdErr {
	return &VdErr{msg: "close file failed", code: CloseFileErrCode}
}

func NewMmapErr() *VdErr {
	return &VdErr{msg: "mmap failed", code: MmapErrCode}
}

func NewMunmapErr() *VdErr {
	return &VdErr{msg: "munmap failed", code: MunmapErrCode}
}

func NewReadSocketErr() *VdErr {
	return &VdErr{msg: "read socket failed", code: ReadSocketErrCode}
}

func NewReadConfigErr() *VdErr {
	return &VdErr{msg: "read config failed", code: ReadConfigErrCode}
}

func NewStartProcessErr() *VdErr {
	return &VdErr{msg: "start process failed", code: StartProcessErrCode}
}

func NewServerClosedErr() *VdErr {
	return &VdErr{msg: "server closed", code: ServerClosedErrCode}
}

func NewChildExitedErr() *VdErr {
	return &VdErr{msg: "child process exited unexpectedly", code: ChildExitedErrCode}
}

func NewNotFoundErr() *VdErr {
	return &VdErr{msg: "region not found", code: NotFoundErrCode}
}

func NewSizeMismatchErr() *VdErr {
	return &VdErr{msg: "region size mismatch", code: SizeMismatchErrCode}
}

func NewSignatureMismatchErr() *VdErr {
	return &VdErr{msg: "region signature mismatch", code: SignatureMismatchErrCode}
}

func NewVersionMismatchErr() *VdErr {
	return &VdErr{msg: "region version mismatch", code: VersionMismatchErrCode}
}

func NewFrameTooLargeErr() *VdErr {
	return &VdErr{msg: "frame exceeds slice capacity", code: FrameTooLargeErrCode}
}

func NewContendedErr() *VdErr {
	return &VdErr{msg: "slot contended, read retry budget exhausted", code: ContendedErrCode}
}

func NewStaleRegionErr() *VdErr {
	return &VdErr{msg: "stale region wiped and recreated", code: StaleRegionErrCode}
}

func NewRegionInUseErr() *VdErr {
	return &VdErr{msg: "region held by a live creator", code: RegionInUseErrCode}
}

func NewNotOwnerErr() *VdErr {
	return &VdErr{msg: "only the creator may destroy the region", code: NotOwnerErrCode}
}

func NewRegionClosedErr() *VdErr {
	return &VdErr{msg: "region already closed", code: RegionClosedErrCode}
}

func NewDuplicateSliceErr() *VdErr {
	return &VdErr{msg: "duplicate slice index in frame", code: DuplicateSliceErrCode}
}
