package errno

import "errors"

// Errno 业务错误码。HTTP 状态码统一 200，客户端只看 Code
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Is 只比较错误码，WithMessage 产生的副本仍然 errors.Is 原错误
func (e Errno) Is(target error) bool {
	var t Errno
	return errors.As(target, &t) && t.Code == e.Code
}

// WithMessage 同一错误码，换一个更具体的描述
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: msg}
}

// Decode 取出错误码和描述，非 Errno 一律按 InternalServerError 处理但保留原描述
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}
	var e Errno
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return InternalServerError.Code, err.Error()
}

// 通用 (1xxxx)
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrNotFound         = Errno{Code: 10005, Message: "Record not found"}
	ErrUnhealthy        = Errno{Code: 10006, Message: "Dependency unavailable"}
)

// 转账 (3xxxx): 300xx 请求问题，301xx 外部依赖，302xx 提交结果
var (
	ErrInvalidField             = Errno{Code: 30001, Message: "Invalid field"}
	ErrAddressMismatch          = Errno{Code: 30002, Message: "Sender address does not match custody"}
	ErrSigningAuthorityMismatch = Errno{Code: 30003, Message: "No signing authority for sender"}
	ErrDuplicateRequest         = Errno{Code: 30004, Message: "Duplicate request"}
	ErrEmptyGroup               = Errno{Code: 30005, Message: "Transaction group is empty"}
	ErrCustodyUnavailable       = Errno{Code: 30101, Message: "Custody service unavailable"}
	ErrLedgerUnavailable        = Errno{Code: 30102, Message: "Ledger node unavailable"}
	ErrSignatureMismatch        = Errno{Code: 30103, Message: "Custody signature does not verify"}
	ErrRejected                 = Errno{Code: 30201, Message: "Transaction rejected by ledger"}
	ErrTimedOut                 = Errno{Code: 30202, Message: "Transaction confirmation timed out"}
	ErrOutcomeUnknown           = Errno{Code: 30203, Message: "Transaction submitted, outcome unknown"}
)
