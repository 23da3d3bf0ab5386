package errs

import (
	"errors"
	"os"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestVdErr_Error(t *testing.T) {
	e := NewNotFoundErr()
	assert.Equal(t, "[200001] region not found", e.Error())

	e = NewOpenFileErr().WithErr(os.ErrNotExist)
	assert.Equal(t, "[100005] open file failed => file does not exist", e.Error())
	assert.True(t, errors.Is(e, os.ErrNotExist))
}

// TestGetCode 包装后的错误仍能取到错误码
func TestGetCode(t *testing.T) {
	assert.Equal(t, int64(SizeMismatchErrCode), GetCode(NewSizeMismatchErr()))
	wrapped := pkgerrors.Wrap(NewContendedErr(), "read timing")
	assert.Equal(t, int64(ContendedErrCode), GetCode(wrapped))
	assert.Equal(t, int64(UnknownErrCode), GetCode(errors.New("plain")))
	assert.Equal(t, int64(UnknownErrCode), GetCode(nil))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(NewFrameTooLargeErr()))
	assert.True(t, IsRecoverable(NewContendedErr()))
	assert.True(t, IsRecoverable(NewDuplicateSliceErr()))
	assert.False(t, IsRecoverable(NewSignatureMismatchErr()))
	assert.False(t, IsRecoverable(NewVersionMismatchErr()))
	assert.False(t, IsRecoverable(nil))
}
