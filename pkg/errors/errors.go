package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，便于 errors.Is(err, errors.Kind(errors.ErrStoreConflict))
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Kind 返回只带错误码的哨兵值
func Kind(code string) *AppError {
	return &AppError{Code: code}
}

// HasCode 判断错误链中是否存在指定错误码
func HasCode(err error, code string) bool {
	return stderrors.Is(err, Kind(code))
}

// CodeOf 返回错误链中第一个 AppError 的错误码
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

var (
	ErrConfigLoad       = "CONFIG_LOAD_ERROR"
	ErrDatabaseConnect  = "DATABASE_CONNECT_ERROR"
	ErrChainUnavailable = "CHAIN_UNAVAILABLE"
	ErrInvalidIndex     = "INVALID_INDEX"
	ErrEventParse       = "EVENT_PARSE_ERROR"
	ErrStoreConflict    = "STORE_CONFLICT"
	ErrStore            = "STORE_ERROR"
	ErrInvalidInput     = "INVALID_INPUT"
	ErrBackfillRunning  = "BACKFILL_RUNNING"
)
