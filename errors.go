package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrBackingStoreUnavailable 计数存储不可用（连接断开或读取失败）
	ErrBackingStoreUnavailable = errors.New("计数存储不可用")
	// ErrQuotaExceeded 配额超限
	ErrQuotaExceeded = errors.New("配额超限")
	// ErrUnknownAction 动作未注册
	ErrUnknownAction = errors.New("未知的动作")
)

// StoreError 存储错误，errors.Is(err, ErrBackingStoreUnavailable) 为 true
type StoreError struct {
	// Op 出错的操作（check / check_multiple）
	Op string
	// Err 底层错误，健康检查未通过时为空
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, ErrBackingStoreUnavailable)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrBackingStoreUnavailable, e.Err)
}

func (e *StoreError) Is(target error) bool {
	return target == ErrBackingStoreUnavailable
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// QuotaExceededError 某条规则超限，携带规则名和重置时间
type QuotaExceededError struct {
	Name           string
	Identifier     string
	Current        int64
	Limit          int64
	ResetInSeconds int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %s (%d/%d), %d秒后重置", ErrQuotaExceeded, e.Name, e.Current, e.Limit, e.ResetInSeconds)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// IsQuotaExceeded 是否为配额超限错误
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsStoreUnavailable 是否为存储不可用错误
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrBackingStoreUnavailable)
}

// AsQuotaExceeded 提取超限详情，不是超限错误时返回 nil
func AsQuotaExceeded(err error) *QuotaExceededError {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe
	}
	return nil
}
