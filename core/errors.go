package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），可穿透 fmt.Errorf("%w") 包装
//
// 使用场景：
//   - matrix：DATA_ERROR（评分越界、未知 ID）
//   - model：UNDEFINED_PREDICTION（协同过滤无法给出预测）
//   - service：UNKNOWN_MODEL、UNKNOWN_ENTITY
//   - evaluate：EVALUATION_FAILED
//   - store：NOT_FOUND、NOT_SUPPORTED
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "UNKNOWN_MODEL"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "matrix", "service"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is 按 Module + Code 匹配，而不是指针相等。
// 这样 errors.Is(err, ErrUnknownModel) 对任意携带上下文消息的同类错误都成立。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Module == t.Module
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建携带底层错误的领域错误
func WrapDomainError(module, code, message string, err error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 推荐引擎错误代码
	ErrorCodeDataError           = "DATA_ERROR"           // 评分数据非法（越界 / 未知 ID）
	ErrorCodeUnknownModel        = "UNKNOWN_MODEL"        // 模型未注册或未训练
	ErrorCodeUnknownEntity       = "UNKNOWN_ENTITY"       // 用户 / 物品不在训练快照中
	ErrorCodeUndefinedPrediction = "UNDEFINED_PREDICTION" // 无法给出预测（冷启动 / 无共同评分）
	ErrorCodeEvaluationFailed    = "EVALUATION_FAILED"    // 离线评估失败（如测试集为空）
)

// 模块名称常量
const (
	ModuleStore    = "store"    // 存储模块
	ModuleMatrix   = "matrix"   // 评分矩阵
	ModuleFeature  = "feature"  // 内容特征
	ModuleModel    = "model"    // 推荐模型
	ModuleEvaluate = "evaluate" // 离线评估
	ModuleService  = "service"  // 服务模块
)

// 哨兵错误，用于 errors.Is 匹配（匹配规则见 DomainError.Is）。
var (
	ErrDataError           = NewDomainError(ModuleMatrix, ErrorCodeDataError, "matrix: invalid rating data")
	ErrUnknownModel        = NewDomainError(ModuleService, ErrorCodeUnknownModel, "service: unknown model")
	ErrUndefinedPrediction = NewDomainError(ModuleModel, ErrorCodeUndefinedPrediction, "model: prediction undefined")
	ErrEvaluationFailed    = NewDomainError(ModuleEvaluate, ErrorCodeEvaluationFailed, "evaluate: evaluation failed")
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	return hasCode(err, ErrorCodeUnavailable)
}

// IsDataError 检查错误是否为 DATA_ERROR
func IsDataError(err error) bool {
	return hasCode(err, ErrorCodeDataError)
}

// IsUnknownModel 检查错误是否为 UNKNOWN_MODEL
func IsUnknownModel(err error) bool {
	return hasCode(err, ErrorCodeUnknownModel)
}

// IsUnknownEntity 检查错误是否为 UNKNOWN_ENTITY（任意模块）
func IsUnknownEntity(err error) bool {
	return hasCode(err, ErrorCodeUnknownEntity)
}

// IsUndefinedPrediction 检查错误是否为 UNDEFINED_PREDICTION
func IsUndefinedPrediction(err error) bool {
	return hasCode(err, ErrorCodeUndefinedPrediction)
}

// IsEvaluationFailed 检查错误是否为 EVALUATION_FAILED
func IsEvaluationFailed(err error) bool {
	return hasCode(err, ErrorCodeEvaluationFailed)
}

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrorCodeInvalidInput)
}
