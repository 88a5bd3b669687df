package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志分级与审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeIndexOutOfRange       Code = "INDEX_OUT_OF_RANGE"
	CodeUnsupportedAsset      Code = "UNSUPPORTED_ASSET"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeUnsupportedOperation  Code = "UNSUPPORTED_OPERATION"
	CodeCapabilityDenied      Code = "CAPABILITY_DENIED"
	CodeImportFailure         Code = "IMPORT_ERROR"
	CodeDeserialization       Code = "DESERIALIZATION_ERROR"
	CodePlanningUnavailable   Code = "PLANNING_UNAVAILABLE"
	CodeTimeout               Code = "TIMEOUT"
	CodeExternalOperation     Code = "EXTERNAL_OPERATION_FAILED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
)

// Attributes 为错误码提供默认行为。
//
// Recoverable 标记的错误属于能力执行层面的失败，调度器会把它们作为文本结果
// 交还给推理引擎，而不是中断对话。
type Attributes struct {
	Message     string
	Severity    Severity
	Status      int
	Recoverable bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Status: http.StatusInternalServerError},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Status: http.StatusBadRequest, Recoverable: true},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, Status: http.StatusNotFound},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning, Status: http.StatusConflict},
		CodeIndexOutOfRange:       {Message: "agent index out of range", Severity: SeverityInfo, Status: http.StatusNotFound},
		CodeUnsupportedAsset:      {Message: "asset not supported on this network", Severity: SeverityInfo, Status: http.StatusUnprocessableEntity, Recoverable: true},
		CodeInsufficientBalance:   {Message: "insufficient balance", Severity: SeverityInfo, Status: http.StatusUnprocessableEntity, Recoverable: true},
		CodeUnsupportedOperation:  {Message: "operation not available on this network", Severity: SeverityInfo, Status: http.StatusUnprocessableEntity, Recoverable: true},
		CodeCapabilityDenied:      {Message: "capability not granted to agent", Severity: SeverityWarning, Status: http.StatusForbidden, Recoverable: true},
		CodeImportFailure:         {Message: "identity import failed", Severity: SeverityWarning, Status: http.StatusUnprocessableEntity},
		CodeDeserialization:       {Message: "stored record is unreadable", Severity: SeverityCritical, Status: http.StatusInternalServerError},
		CodePlanningUnavailable:   {Message: "planning oracle unavailable", Severity: SeverityWarning, Status: http.StatusServiceUnavailable},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Status: http.StatusGatewayTimeout},
		CodeExternalOperation:     {Message: "external operation failed", Severity: SeverityWarning, Status: http.StatusBadGateway, Recoverable: true},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Status: http.StatusServiceUnavailable},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Status: http.StatusInternalServerError},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf 以格式化字符串创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中是否包含指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// StatusOf 返回错误对应的 HTTP 状态码。
func StatusOf(err error) int {
	return AttributesOf(CodeOf(err)).Status
}

// Recoverable 判断错误是否属于可以交还给推理引擎的能力执行失败。
func Recoverable(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Recoverable
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}
