package models

import (
	"errors"
	"fmt"
)

// 引擎中使用的错误类别
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrBusy                 = errors.New("bot is busy processing another command")
	ErrUnsupportedStructure = errors.New("unsupported smart trade structure")
	ErrInvalidPayload       = errors.New("invalid smart trade payload")
	ErrExternal             = errors.New("external service failure")
)

// OpError 在错误上附加失败的操作以及涉及的实体
type OpError struct {
	Op     string
	Entity string
	ID     any
	Err    error
}

// Error 实现 error 接口
func (e *OpError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s %s %v: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap 返回被包装的错误，以支持 errors.Is/As
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError 创建一个新的 OpError
func NewOpError(op, entity string, id any, err error) *OpError {
	return &OpError{Op: op, Entity: entity, ID: id, Err: err}
}

// NotFound 返回包装 ErrNotFound 的 OpError
func NotFound(op, entity string, id any) error {
	return NewOpError(op, entity, id, ErrNotFound)
}
