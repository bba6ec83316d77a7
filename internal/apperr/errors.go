// Package apperr 定义编排引擎对外暴露的错误分类。
//
// 调用方需要区分两类失败:
//   - 什么都没有发生 (可以安全地重试整个流程)
//   - 交易已经交给账本，但结果未知 (不能盲目重试)
//
// OutcomeUnknown / SafeToRetry 用于做这个判断。
package apperr

import (
	"errors"
	"fmt"
)

// ErrEmptyGroup 交易组为空
var ErrEmptyGroup = errors.New("交易组不能为空")

// InvalidFieldError 输入字段不合法，本地校验失败，永远不应重试
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// InvalidField 构造 InvalidFieldError
func InvalidField(field, format string, args ...any) error {
	return &InvalidFieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AddressMismatchError 声明的地址与托管服务公钥推导出的地址不一致
type AddressMismatchError struct {
	Identity string
	Declared string
	Resolved string
}

func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("address mismatch for %s: declared %s, custody resolves %s", e.Identity, e.Declared, e.Resolved)
}

// SigningAuthorityMismatchError 找不到发送方对应的托管签名路径
type SigningAuthorityMismatchError struct {
	Sender string
	Role   string
}

func (e *SigningAuthorityMismatchError) Error() string {
	return fmt.Sprintf("no signing authority for sender %q with role %q", e.Sender, e.Role)
}

// SignatureMismatchError 托管服务返回的签名无法用发送方公钥验证
type SignatureMismatchError struct {
	Sender string
	TxID   string
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("signature for tx %s does not verify against sender %s", e.TxID, e.Sender)
}

// CustodyUnavailableError 托管服务传输层失败，Status 为上游 HTTP 状态码 (未知时为 0)
type CustodyUnavailableError struct {
	Op     string
	Status int
	Err    error
}

func (e *CustodyUnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("custody %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("custody %s failed: %v", e.Op, e.Err)
}

func (e *CustodyUnavailableError) Unwrap() error { return e.Err }

// LedgerUnavailableError 账本节点传输层失败，Status 为上游 HTTP 状态码 (未知时为 0)
type LedgerUnavailableError struct {
	Op     string
	Status int
	Err    error
}

func (e *LedgerUnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ledger %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// RejectedError 账本明确拒绝了交易 (终态)
type RejectedError struct {
	TxID   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected: %s", e.TxID, e.Reason)
}

// TimedOutError 在轮数预算内没有观察到确认，交易之后仍可能上链
type TimedOutError struct {
	TxID   string
	Rounds uint64
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed after %d rounds", e.TxID, e.Rounds)
}

// DuplicateRequestError 相同幂等键的请求正在处理或已经处理过
type DuplicateRequestError struct {
	Key string
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("duplicate request for idempotency key %q", e.Key)
}

// SubmittedError 包装交易已提交之后发生的错误
type SubmittedError struct {
	TxID string
	Err  error
}

func (e *SubmittedError) Error() string {
	return fmt.Sprintf("after submitting %s: %v", e.TxID, e.Err)
}

func (e *SubmittedError) Unwrap() error { return e.Err }

// AfterSubmit 标记 err 发生在交易交给账本之后
func AfterSubmit(txID string, err error) error {
	if err == nil {
		return nil
	}
	var s *SubmittedError
	if errors.As(err, &s) {
		return err
	}
	return &SubmittedError{TxID: txID, Err: err}
}

// OutcomeUnknown 报告 err 是否意味着交易可能已经 (或稍后会) 上链
func OutcomeUnknown(err error) bool {
	if err == nil {
		return false
	}
	var timedOut *TimedOutError
	if errors.As(err, &timedOut) {
		return true
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return false
	}
	var submitted *SubmittedError
	return errors.As(err, &submitted)
}

// SafeToRetry 报告整个流程是否可以原样重试: 账本上没有留下任何东西
func SafeToRetry(err error) bool {
	return err != nil && !OutcomeUnknown(err)
}
