package httpapi

import (
	"wisefido-admin/internal/domain"
)

// Result 与 owlFront 的 `types/axios.d.ts` 保持一致
// - code: ResultEnum.SUCCESS = 2000
// - type: 'success' | 'error' | 'warning'
// - message: string
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

// 引擎错误类别 → 前端错误码（前端按 code 渲染本地化文案）
var kindCodes = map[domain.ErrorKind]int{
	domain.ErrNotFound:                40401,
	domain.ErrDuplicateCode:           40901,
	domain.ErrInvalidOperation:        40001,
	domain.ErrCircularReference:       40002,
	domain.ErrMaxDepthExceeded:        40003,
	domain.ErrHasChildren:             40902,
	domain.ErrHasHolders:              40903,
	domain.ErrPermissionNotAssignable: 40301,
}

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// FailErr 引擎错误带 kind 映射的错误码，其余错误归为 -1
func FailErr(err error) Result[any] {
	if kind := domain.KindOf(err); kind != "" {
		if code, ok := kindCodes[kind]; ok {
			return Result[any]{Code: code, Type: "error", Message: err.Error(), Result: nil}
		}
	}
	return Fail(err.Error())
}
